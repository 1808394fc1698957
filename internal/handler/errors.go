package handler

import "errors"

var (
	// ErrWorkerNotFound — в реестре нет Handler'а с данным workerID.
	ErrWorkerNotFound = errors.New("handler: worker not found")

	// ErrInvalidConfig — входные данные шага не прошли валидацию конкретного
	// встроенного Handler'а.
	ErrInvalidConfig = errors.New("handler: invalid step config")

	// ErrHTTPRequest — HTTP-запрос builtin.http завершился ошибкой.
	ErrHTTPRequest = errors.New("handler: http request failed")
)
