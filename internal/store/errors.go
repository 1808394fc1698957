package store

import "errors"

var (
	// ErrNotFound — запись/индекс/ключ не найден.
	ErrNotFound = errors.New("store: not found")

	// ErrContendedWrite — версия записи разошлась с ожидаемой даже после
	// минимального числа попыток UpdateWithRetry.
	ErrContendedWrite = errors.New("store: contended write, version mismatch")

	// ErrNotSupported — операция не поддерживается текущим backend'ом.
	ErrNotSupported = errors.New("store: operation not supported")

	// ErrTransientStore — ошибка ввода-вывода на уровне backend'а (сеть, пул
	// соединений); вызывающий код может повторить операцию.
	ErrTransientStore = errors.New("store: transient backend error")
)
