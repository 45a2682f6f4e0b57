package repository

import (
	"context"
	"strings"
	"time"

	"societyapp/models"

	"gorm.io/gorm"
)

// UserRepository хранит учетные записи жителей
type UserRepository interface {
	Create(ctx context.Context, u *models.User) error
	FindByID(ctx context.Context, id uint) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByIDs(ctx context.Context, ids []uint) ([]models.User, error)
	ExistsByFlat(ctx context.Context, flatNumber, wing string) (bool, error)
	TouchLastLogin(ctx context.Context, id uint, at time.Time) error
}

type gormUserRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a user repository backed by GORM.
func NewUserRepository(db *gorm.DB) UserRepository {
	return &gormUserRepository{db: db}
}

func (r *gormUserRepository) Create(ctx context.Context, u *models.User) error {
	return translate(r.db.WithContext(ctx).Create(u).Error)
}

func (r *gormUserRepository) FindByID(ctx context.Context, id uint) (*models.User, error) {
	var u models.User
	if err := r.db.WithContext(ctx).First(&u, id).Error; err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

// FindByEmail ищет пользователя по email (игнорируя регистр и пробелы)
func (r *gormUserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	err := r.db.WithContext(ctx).
		Where("email = ?", strings.ToLower(strings.TrimSpace(email))).
		First(&u).Error
	if err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (r *gormUserRepository) FindByIDs(ctx context.Context, ids []uint) ([]models.User, error) {
	var users []models.User
	if len(ids) == 0 {
		return users, nil
	}
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error
	return users, err
}

func (r *gormUserRepository) ExistsByFlat(ctx context.Context, flatNumber, wing string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.User{}).
		Where("flat_number = ? AND wing = ?", flatNumber, wing).
		Count(&count).Error
	return count > 0, err
}

func (r *gormUserRepository) TouchLastLogin(ctx context.Context, id uint, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Update("last_login", at)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
