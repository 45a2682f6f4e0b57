package services

import "societyapp/models"

// Requester описывает аутентифицированного пользователя, от имени которого выполняется операция
type Requester struct {
	UserID uint
	Role   models.Role
}

// SeesAll сообщает, что запросам не нужна фильтрация по владельцу
func (r Requester) SeesAll() bool {
	return r.Role.SeesAllPayments()
}

// HealthChecker сообщает о доступности хранилища
type HealthChecker interface {
	Healthy() bool
}

type alwaysHealthy struct{}

func (alwaysHealthy) Healthy() bool { return true }
