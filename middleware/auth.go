package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"societyapp/models"
	"societyapp/services"
	"societyapp/utils"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

type contextKey int

const userKey contextKey = iota

// UserLookup загружает пользователя по ID из токена
type UserLookup interface {
	FindByID(ctx context.Context, id uint) (*models.User, error)
}

// AuthMiddleware проверяет Bearer JWT и кладет пользователя в контекст запроса
func AuthMiddleware(tokens *services.TokenService, users UserLookup) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				utils.WriteError(w, http.StatusUnauthorized, "Not authorized, no token")
				return
			}

			claims, err := tokens.Parse(strings.TrimSpace(strings.TrimPrefix(header, "Bearer ")))
			if err != nil {
				utils.WriteError(w, http.StatusUnauthorized, "Not authorized, token failed")
				return
			}

			user, err := users.FindByID(r.Context(), claims.UserID)
			switch {
			case errors.Is(err, services.ErrNotFound):
				utils.WriteError(w, http.StatusUnauthorized, "User not found")
				return
			case err != nil:
				utils.LoggerFromContext(r.Context()).Error("user lookup failed", zap.Error(err))
				utils.WriteError(w, http.StatusInternalServerError, "Internal server error")
				return
			case !user.IsActive:
				utils.WriteError(w, http.StatusUnauthorized, "Account is deactivated. Please contact admin.")
				return
			}

			ctx := context.WithValue(r.Context(), userKey, user)
			logger := utils.LoggerFromContext(ctx).With(zap.Uint("user_id", user.ID))
			next.ServeHTTP(w, r.WithContext(utils.ContextWithLogger(ctx, logger)))
		})
	}
}

// RequireRoles пропускает только пользователей с одной из ролей
func RequireRoles(roles ...models.Role) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := UserFromContext(r.Context())
			if !ok {
				utils.WriteError(w, http.StatusUnauthorized, "Not authorized")
				return
			}
			for _, role := range roles {
				if user.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			utils.WriteError(w, http.StatusForbidden, "Access denied. Committee access required.")
		})
	}
}

// UserFromContext возвращает пользователя, установленного AuthMiddleware
func UserFromContext(ctx context.Context) (*models.User, bool) {
	user, ok := ctx.Value(userKey).(*models.User)
	return user, ok && user != nil
}

// RequesterFromContext возвращает идентичность запрашивающего для сервисов
func RequesterFromContext(ctx context.Context) (services.Requester, bool) {
	user, ok := UserFromContext(ctx)
	if !ok {
		return services.Requester{}, false
	}
	return services.Requester{UserID: user.ID, Role: user.Role}, true
}

// WithUser кладет пользователя в контекст; используется в тестах обработчиков
func WithUser(ctx context.Context, user *models.User) context.Context {
	return context.WithValue(ctx, userKey, user)
}
