package controllers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"societyapp/services"
	"societyapp/utils"

	"go.uber.org/zap"
)

// statusFor сопоставляет ошибку сервисного слоя с HTTP-статусом
func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrAuthentication):
		return http.StatusUnauthorized
	case errors.Is(err, services.ErrAuthorization):
		return http.StatusForbidden
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, services.ErrGateway):
		return http.StatusBadGateway
	case errors.Is(err, services.ErrUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeServiceError отвечает клиенту по виду ошибки. Тексты 5xx наружу не отдаются.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	message := publicMessage(err)

	switch status {
	case http.StatusInternalServerError:
		utils.LoggerFromContext(r.Context()).Error("request failed", zap.Error(err))
		message = "Server error"
	case http.StatusBadGateway:
		utils.LoggerFromContext(r.Context()).Warn("gateway failure", zap.Error(err))
		message = "Payment gateway is unavailable, please retry"
	case http.StatusServiceUnavailable:
		message = "Service temporarily unavailable"
	}
	utils.WriteError(w, status, message)
}

// publicMessage убирает префикс вида ошибки: "conflict: payment ..." -> "payment ..."
func publicMessage(err error) string {
	msg := err.Error()
	for _, kind := range []error{
		services.ErrValidation,
		services.ErrAuthentication,
		services.ErrAuthorization,
		services.ErrNotFound,
		services.ErrConflict,
	} {
		if prefix := kind.Error() + ": "; strings.HasPrefix(msg, prefix) {
			return capitalize(strings.TrimPrefix(msg, prefix))
		}
	}
	return capitalize(msg)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// decodeJSON читает тело запроса в dst
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}
