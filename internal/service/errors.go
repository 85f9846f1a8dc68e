package service

import (
	"errors"
	"fmt"
)

var ErrForbidden = errors.New("forbidden")

// ValidationError: отказ до записи в хранилище. Field, имя поля для клиента
// ("email", "password", "text", ...), Message, человекочитаемое пояснение.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("invalid %s", e.Field)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func invalid(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}

// FieldOf возвращает поле ошибки валидации или "".
func FieldOf(err error) string {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Field
	}
	return ""
}
