package httpapi

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"classattend/internal/auth"
	"classattend/internal/httpmiddleware"
)

// RouterConfig carries the cross-cutting settings of the HTTP surface.
type RouterConfig struct {
	SigningKey  string
	Issuer      string
	CORSOrigins []string
	// Limiter is optional; scan and login routes are unthrottled without it.
	Limiter httpmiddleware.Limiter
	Logger  zerolog.Logger
}

// Router wires middleware and routes onto a gin engine.
func Router(h *Handler, cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger(cfg.Logger, "/healthz", "/metrics"))
	r.Use(httpmiddleware.SecurityHeaders())
	r.Use(httpmiddleware.CORS(cfg.CORSOrigins))

	r.GET("/healthz", h.Healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	throttle := func(c *gin.Context) { c.Next() }
	if cfg.Limiter != nil {
		throttle = httpmiddleware.RateLimit(cfg.Limiter)
	}

	v1 := r.Group("/v1")
	{
		a := v1.Group("/auth")
		a.POST("/register", throttle, h.Register)
		a.POST("/login", throttle, h.Login)
		a.POST("/refresh-token", throttle, h.Refresh)
		a.GET("/me", auth.RequireAuth(cfg.SigningKey, cfg.Issuer), h.Me)
	}

	teacher := v1.Group("/teacher", auth.RequireAuth(cfg.SigningKey, cfg.Issuer), auth.RequireRole(auth.RoleTeacher))
	{
		teacher.POST("/classes", h.CreateClass)
		teacher.GET("/classes", h.ListClasses)
		teacher.GET("/classes/:id", h.GetClass)
		teacher.PUT("/classes/:id/qr-duration", h.UpdateQRDuration)
		teacher.PUT("/classes/:id/active", h.SetActive)
		teacher.POST("/classes/:id/generate-qr", h.GenerateQR)
		teacher.POST("/classes/:id/upload-students", h.UploadStudents)
		teacher.POST("/classes/:id/students", h.AddStudent)
		teacher.DELETE("/classes/:id/students/:studentId", h.RemoveStudent)
		teacher.GET("/classes/:id/attendances", h.ListAttendances)
		teacher.POST("/classes/:id/attendances", h.MarkManual)
		teacher.GET("/classes/:id/export-attendances", h.ExportAttendances)
		teacher.GET("/classes/:id/live", h.LiveTally)
		teacher.PUT("/attendances/:attendanceId", h.UpdateAttendance)
	}

	student := v1.Group("/student", auth.RequireAuth(cfg.SigningKey, cfg.Issuer), auth.RequireRole(auth.RoleStudent))
	{
		student.GET("/profile", h.StudentProfile)
		student.POST("/device-session", h.StartDeviceSession)
		student.DELETE("/device-session", h.EndDeviceSession)
		student.POST("/scan-qr", throttle, h.ScanQR)
		student.GET("/active-classes", h.ActiveClasses)
	}
	return r
}
