package controllers

import (
	"net/http"
	"time"

	"societyapp/middleware"
	"societyapp/models"
	"societyapp/services"
	"societyapp/utils"

	"go.uber.org/zap"
)

// AuthController обрабатывает регистрацию, вход и выход жителей
type AuthController struct {
	users  *services.UserService
	tokens *services.TokenService
}

type authResponse struct {
	User      *models.User `json:"user"`
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
}

func NewAuthController(users *services.UserService, tokens *services.TokenService) *AuthController {
	return &AuthController{users: users, tokens: tokens}
}

// Register обрабатывает регистрацию жителя
func (c *AuthController) Register(w http.ResponseWriter, r *http.Request) {
	var req services.RegisterRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	user, err := c.users.Register(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	token, expiresAt, err := c.tokens.Issue(user.ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	utils.LoggerFromContext(r.Context()).Info("user registered", zap.Uint("user_id", user.ID))
	utils.WriteSuccess(w, http.StatusCreated, "User registered successfully", authResponse{
		User:      user,
		Token:     token,
		ExpiresAt: expiresAt,
	})
}

// Login обрабатывает вход пользователя
func (c *AuthController) Login(w http.ResponseWriter, r *http.Request) {
	var req services.LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	user, err := c.users.Authenticate(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	token, expiresAt, err := c.tokens.Issue(user.ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	utils.WriteSuccess(w, http.StatusOK, "Login successful", authResponse{
		User:      user,
		Token:     token,
		ExpiresAt: expiresAt,
	})
}

// Logout фиксирует время выхода. Токен остается действительным до истечения.
func (c *AuthController) Logout(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		utils.WriteError(w, http.StatusUnauthorized, "Not authorized")
		return
	}

	if err := c.users.Touch(r.Context(), user.ID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Logged out successfully", nil)
}
