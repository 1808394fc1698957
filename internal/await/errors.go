package await

import "errors"

var (
	// ErrNilConfig — RegisterAwait вызван без конфигурации.
	ErrNilConfig = errors.New("await: nil config")

	// ErrUnknownKind — cfg.Type не входит в {webhook, event, schedule, time}.
	ErrUnknownKind = errors.New("await: unknown kind")

	// ErrNoCoordinator — Manager используется без SetCoordinator.
	ErrNoCoordinator = errors.New("await: no coordinator configured")

	// ErrMissingFilterKey — event-await с filterKey, но событие без этого поля.
	ErrMissingFilterKey = errors.New("await: filter key not present in event data")
)
