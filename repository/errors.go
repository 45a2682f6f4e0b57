package repository

import (
	"errors"

	"gorm.io/gorm"
)

var (
	// ErrNotFound возвращается, когда запись отсутствует
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate возвращается при нарушении уникального индекса
	ErrDuplicate = errors.New("duplicate record")
)

// translate приводит ошибки gorm к ошибкам пакета
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrDuplicate
	}
	return err
}
