package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/shaiso/nvent/internal/domain"
)

// cronParser — парсер cron-выражений (минута час день-месяца месяц день-недели).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// CalculateNextDue вычисляет следующее время срабатывания recurring job'а
// относительно from, учитывая его timezone.
func CalculateNextDue(job *domain.ScheduleJob, from time.Time) (time.Time, error) {
	loc, err := time.LoadLocation(job.Timezone)
	if err != nil {
		loc = time.UTC
	}
	fromInTz := from.In(loc)

	schedule, err := cronParser.Parse(job.CronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", job.CronExpr, err)
	}

	return schedule.Next(fromInTz).UTC(), nil
}

// ValidateCronExpr проверяет валидность cron-выражения.
func ValidateCronExpr(cronExpr string) error {
	if _, err := cronParser.Parse(cronExpr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", cronExpr, err)
	}
	return nil
}

// NextCronOccurrence вычисляет ближайшее время срабатывания cron-выражения
// cronExpr (в заданном timezone, UTC при пустом или невалидном значении)
// после from. Используется schedule-await'ами при регистрации, до того как
// job для них создан через Schedule.
func NextCronOccurrence(cronExpr, timezone string, from time.Time) (time.Time, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		loc = time.UTC
	}
	schedule, err := cronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from.In(loc)).UTC(), nil
}
