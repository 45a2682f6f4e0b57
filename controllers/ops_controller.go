package controllers

import (
	"net/http"
	"time"

	"societyapp/middleware"
	"societyapp/services"
	"societyapp/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// OpsController отдает служебные эндпоинты: проверку здоровья и метрики
type OpsController struct {
	health  services.HealthChecker
	metrics *utils.Metrics
	started time.Time
}

func NewOpsController(health services.HealthChecker, metrics *utils.Metrics) *OpsController {
	return &OpsController{health: health, metrics: metrics, started: time.Now()}
}

// Router собирает gin-движок служебного сервера
func (c *OpsController) Router(logger *zap.Logger) *gin.Engine {
	engine := gin.New()
	engine.Use(middleware.GinRecovery(logger), middleware.GinLogger(logger))

	engine.GET("/healthz", c.Health)
	engine.GET("/metrics", gin.WrapH(c.metrics.Handler()))
	return engine
}

// Health отвечает 200, пока база доступна, иначе 503
func (c *OpsController) Health(ctx *gin.Context) {
	body := gin.H{
		"uptime":   time.Since(c.started).Round(time.Second).String(),
		"database": "up",
	}
	if !c.health.Healthy() {
		body["status"] = "degraded"
		body["database"] = "down"
		ctx.JSON(http.StatusServiceUnavailable, body)
		return
	}
	body["status"] = "OK"
	ctx.JSON(http.StatusOK, body)
}
