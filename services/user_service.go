package services

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"societyapp/models"
	"societyapp/repository"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"
)

type UserService struct {
	users    repository.UserRepository
	health   HealthChecker
	validate *validator.Validate
	now      func() time.Time
}

type RegisterRequest struct {
	Name       string `json:"name" validate:"required,min=2,max=50"`
	Email      string `json:"email" validate:"required,email"`
	Password   string `json:"password" validate:"required,min=6"`
	Phone      string `json:"phone" validate:"required,phone"`
	FlatNumber string `json:"flatNumber" validate:"required,min=1,max=10"`
	Wing       string `json:"wing" validate:"max=5"`
	Floor      *int   `json:"floor" validate:"omitempty,min=0"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// NewValidator возвращает валидатор с правилами предметной области
func NewValidator() *validator.Validate {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = validate.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		return models.ValidPhone(fl.Field().String())
	})
	_ = validate.RegisterValidation("billing_period", func(fl validator.FieldLevel) bool {
		return models.ValidBillingPeriod(fl.Field().String())
	})
	return validate
}

func NewUserService(users repository.UserRepository, health HealthChecker) *UserService {
	if health == nil {
		health = alwaysHealthy{}
	}
	return &UserService{
		users:    users,
		health:   health,
		validate: NewValidator(),
		now:      time.Now,
	}
}

// Register создает учетную запись жителя
func (s *UserService) Register(ctx context.Context, req RegisterRequest) (*models.User, error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Wing = strings.TrimSpace(req.Wing)
	if err := s.validate.Struct(req); err != nil {
		return nil, validationError("%s", describeValidation(err))
	}
	if !s.health.Healthy() {
		return nil, ErrUnavailable
	}

	// Проверяем, существует ли пользователь с таким email
	if _, err := s.users.FindByEmail(ctx, req.Email); err == nil {
		return nil, conflictError("user already exists with this email")
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	// На одну квартиру допускается одна учетная запись
	exists, err := s.users.ExistsByFlat(ctx, req.FlatNumber, req.Wing)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, conflictError("flat number already registered")
	}

	// Хешируем пароль
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		Name:       strings.TrimSpace(req.Name),
		Email:      req.Email,
		Password:   string(hashedPassword),
		Phone:      req.Phone,
		FlatNumber: req.FlatNumber,
		Wing:       req.Wing,
		Floor:      req.Floor,
		Role:       models.RoleResident,
		IsActive:   true,
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, conflictError("user already exists")
		}
		return nil, err
	}
	return user, nil
}

// Authenticate проверяет email и пароль и обновляет время последнего входа
func (s *UserService) Authenticate(ctx context.Context, req LoginRequest) (*models.User, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, validationError("%s", describeValidation(err))
	}

	user, err := s.users.FindByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: invalid credentials", ErrAuthentication)
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		return nil, fmt.Errorf("%w: invalid credentials", ErrAuthentication)
	}
	if !user.IsActive {
		return nil, fmt.Errorf("%w: account is deactivated", ErrAuthentication)
	}

	now := s.now()
	if err := s.users.TouchLastLogin(ctx, user.ID, now); err != nil {
		return nil, err
	}
	user.LastLogin = &now
	return user, nil
}

// FindByID ищет пользователя по ID
func (s *UserService) FindByID(ctx context.Context, id uint) (*models.User, error) {
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, notFoundError("user %d", id)
		}
		return nil, err
	}
	return user, nil
}

// Touch отмечает активность пользователя (используется при выходе)
func (s *UserService) Touch(ctx context.Context, id uint) error {
	err := s.users.TouchLastLogin(ctx, id, s.now())
	if errors.Is(err, repository.ErrNotFound) {
		return notFoundError("user %d", id)
	}
	return err
}

// describeValidation превращает ошибки validator в читаемое сообщение
func describeValidation(err error) string {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err.Error()
	}

	messages := make([]string, 0, len(validationErrors))
	for _, e := range validationErrors {
		field := e.Field()
		switch e.Tag() {
		case "required":
			messages = append(messages, fmt.Sprintf("%s is required", field))
		case "email":
			messages = append(messages, fmt.Sprintf("%s must be a valid email", field))
		case "min":
			messages = append(messages, fmt.Sprintf("%s must be at least %s", field, e.Param()))
		case "max":
			messages = append(messages, fmt.Sprintf("%s must be at most %s", field, e.Param()))
		case "oneof":
			messages = append(messages, fmt.Sprintf("%s must be one of: %s", field, e.Param()))
		case "phone":
			messages = append(messages, fmt.Sprintf("%s must be a valid 10-digit mobile number", field))
		case "billing_period":
			messages = append(messages, fmt.Sprintf("%s must be in YYYY-MM format", field))
		default:
			messages = append(messages, fmt.Sprintf("%s is invalid", field))
		}
	}
	return strings.Join(messages, "; ")
}
