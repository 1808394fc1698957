package scheduler

import "errors"

var (
	// ErrJobNotFound — job с данным ID не зарегистрирован.
	ErrJobNotFound = errors.New("scheduler: job not found")

	// ErrHandlerNotRegistered — job ссылается на HandlerKey, для которого
	// в этом процессе не зарегистрирован обработчик. Job остаётся due и
	// будет подхвачен следующим тиком — полезно при скользящем деплое, когда
	// лидерство на мгновение перешло инстансу со старым набором обработчиков.
	ErrHandlerNotRegistered = errors.New("scheduler: handler not registered")
)
