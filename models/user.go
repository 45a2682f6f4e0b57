package models

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"gorm.io/gorm"
)

// Role определяет уровень доступа пользователя
type Role string

const (
	RoleResident  Role = "resident"
	RoleCommittee Role = "committee"
	RoleAdmin     Role = "admin"
)

// Valid проверяет принадлежность закрытому перечню
func (r Role) Valid() bool {
	return r == RoleResident || r == RoleCommittee || r == RoleAdmin
}

// SeesAllPayments сообщает, что роль не ограничена своими платежами
func (r Role) SeesAllPayments() bool {
	return r == RoleCommittee || r == RoleAdmin
}

var phonePattern = regexp.MustCompile(`^[6-9]\d{9}$`)

// ValidPhone проверяет номер мобильного телефона (Индия, 10 цифр)
func ValidPhone(phone string) bool {
	return phonePattern.MatchString(phone)
}

type User struct {
	ID              uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	Name            string     `gorm:"column:name;not null;size:50" json:"name"`
	Email           string     `gorm:"column:email;uniqueIndex;not null;size:100" json:"email"`
	Password        string     `gorm:"column:password;not null;size:100" json:"-"`
	Phone           string     `gorm:"column:phone;not null;size:10" json:"phone"`
	FlatNumber      string     `gorm:"column:flat_number;not null;size:10;uniqueIndex:idx_users_flat" json:"flatNumber"`
	Wing            string     `gorm:"column:wing;size:5;uniqueIndex:idx_users_flat" json:"wing,omitempty"`
	Floor           *int       `gorm:"column:floor" json:"floor,omitempty"`
	Role            Role       `gorm:"column:role;type:varchar(20);not null;default:'resident'" json:"role"`
	IsActive        bool       `gorm:"column:is_active;not null;default:true" json:"isActive"`
	IsEmailVerified bool       `gorm:"column:is_email_verified;not null;default:false" json:"isEmailVerified"`
	ProfileImage    string     `gorm:"column:profile_image" json:"profileImage,omitempty"`
	LastLogin       *time.Time `gorm:"column:last_login" json:"lastLogin,omitempty"`
	CreatedAt       time.Time  `gorm:"column:created_at;default:CURRENT_TIMESTAMP" json:"createdAt"`
	UpdatedAt       time.Time  `gorm:"column:updated_at;default:CURRENT_TIMESTAMP" json:"updatedAt"`
}

func (User) TableName() string {
	return "users"
}

// BeforeCreate хук для валидации перед созданием
func (u *User) BeforeCreate(tx *gorm.DB) error {
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	if u.Role == "" {
		u.Role = RoleResident
	}

	if len(u.Name) < 2 || len(u.Name) > 50 {
		return errors.New("name must be between 2 and 50 characters")
	}
	if len(u.Email) < 3 || len(u.Email) > 100 {
		return errors.New("email must be between 3 and 100 characters")
	}
	if !ValidPhone(u.Phone) {
		return errors.New("phone must be a valid 10-digit mobile number")
	}
	if len(u.FlatNumber) < 1 || len(u.FlatNumber) > 10 {
		return errors.New("flat number must be between 1 and 10 characters")
	}
	if len(u.Wing) > 5 {
		return errors.New("wing cannot exceed 5 characters")
	}
	if !u.Role.Valid() {
		return errors.New("unknown role")
	}
	return nil
}
