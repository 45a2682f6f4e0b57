package services

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims содержимое токена доступа
type Claims struct {
	UserID uint `json:"user_id"`
	jwt.RegisteredClaims
}

// TokenService выпускает и проверяет JWT
type TokenService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenService создает новый экземпляр TokenService
func NewTokenService(secret string, ttl time.Duration) *TokenService {
	return &TokenService{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue создает подписанный токен для пользователя
func (s *TokenService) Issue(userID uint) (string, time.Time, error) {
	if len(s.secret) == 0 {
		return "", time.Time{}, errors.New("jwt secret is not configured")
	}

	issuedAt := s.now()
	expiresAt := issuedAt.Add(s.ttl)
	claims := &Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(uint64(userID), 10),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("ошибка подписи токена: %w", err)
	}
	return signed, expiresAt, nil
}

// Parse проверяет подпись и срок действия токена
func (s *TokenService) Parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid token", ErrAuthentication)
	}
	if !token.Valid || claims.UserID == 0 {
		return nil, fmt.Errorf("%w: invalid token claims", ErrAuthentication)
	}
	return claims, nil
}
