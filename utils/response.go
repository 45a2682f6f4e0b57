package utils

import (
	"encoding/json"
	"net/http"
)

// Response общий формат ответа API
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// WriteJSON сериализует ответ с заданным статусом
func WriteJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// WriteSuccess отправляет успешный ответ
func WriteSuccess(w http.ResponseWriter, status int, message string, data interface{}) {
	WriteJSON(w, status, Response{Success: true, Message: message, Data: data})
}

// WriteError отправляет ответ с ошибкой
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, Response{Success: false, Message: message})
}
