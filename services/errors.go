package services

import (
	"errors"
	"fmt"
)

// Виды ошибок сервисного слоя. Конкретные ошибки оборачивают их через %w,
// контроллеры определяют HTTP-статус через errors.Is.
var (
	ErrValidation     = errors.New("validation failed")
	ErrAuthentication = errors.New("authentication failed")
	ErrAuthorization  = errors.New("not authorized")
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("conflict")
	ErrGateway        = errors.New("payment gateway error")
	ErrSideEffect     = errors.New("post-commit task failed")
	ErrUnavailable    = errors.New("service temporarily unavailable")

	// ErrGatewaySecretMissing означает ошибку конфигурации, а не неверную подпись
	ErrGatewaySecretMissing = errors.New("payment gateway key secret is not configured")
)

func validationError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func conflictError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

func notFoundError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}
