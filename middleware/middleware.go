package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"societyapp/utils"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const RequestIDHeader = "X-Request-ID"

// statusRecorder запоминает код ответа для журнала
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.written {
		r.statusCode = code
		r.written = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if !r.written {
		r.statusCode = http.StatusOK
		r.written = true
	}
	return r.ResponseWriter.Write(b)
}

// LoggingMiddleware присваивает запросу X-Request-ID, кладет логгер запроса
// в контекст и пишет строку журнала с кодом ответа и длительностью
func LoggingMiddleware(logger *zap.Logger, metrics *utils.Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := r.Header.Get(RequestIDHeader)
			if requestID == "" {
				requestID = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, requestID)

			reqLogger := logger.With(zap.String("request_id", requestID))
			r = r.WithContext(utils.ContextWithLogger(r.Context(), reqLogger))

			rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rec, r)

			duration := time.Since(start)
			metrics.RecordRequest(r.Method, rec.statusCode, duration)

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rec.statusCode),
				zap.Duration("duration", duration),
				zap.String("client_ip", ClientIP(r, false)),
				zap.String("forwarded_for", r.Header.Get("X-Forwarded-For")),
			}
			switch {
			case rec.statusCode >= http.StatusInternalServerError:
				reqLogger.Error("request", fields...)
			case rec.statusCode >= http.StatusBadRequest:
				reqLogger.Warn("request", fields...)
			default:
				reqLogger.Info("request", fields...)
			}
		})
	}
}

// RecoveryMiddleware превращает панику обработчика в ответ 500
func RecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				utils.LoggerFromContext(r.Context()).Error("panic recovered",
					zap.Any("panic", rec),
					zap.Stack("stack"),
				)
				utils.WriteError(w, http.StatusInternalServerError, "Internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// RateLimit ограничивает частоту запросов с одного IP.
// Заголовки прокси учитываются только при trustProxy.
func RateLimit(limiter *utils.RateLimiter, trustProxy bool) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			state := limiter.Take(ClientIP(r, trustProxy))

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(state.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(state.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(state.Reset.Unix(), 10))

			if !state.Allowed {
				retryAfter := int(time.Until(state.Reset).Seconds()) + 1
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				utils.WriteError(w, http.StatusTooManyRequests, "Too many requests, please try again later")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP возвращает адрес клиента. X-Forwarded-For и X-Real-IP читаются
// только за доверенным прокси, иначе их подставляет сам клиент.
func ClientIP(r *http.Request, trustProxy bool) string {
	if !trustProxy {
		return remoteHost(r)
	}
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first := strings.TrimSpace(strings.Split(forwarded, ",")[0])
		if first != "" {
			return first
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	return remoteHost(r)
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// CORSMiddleware разрешает запросы с фронтенда
func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Idempotency-Key, X-Request-ID")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Expose-Headers", "X-Request-ID, X-RateLimit-Limit, X-RateLimit-Remaining, X-RateLimit-Reset")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
