package api

import (
	"github.com/datallboy/manifetch/internal/api/controllers"
	"github.com/datallboy/manifetch/internal/app"
	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
)

func RegisterRoutes(e *echo.Echo, app *app.Context) {

	// Middleware: Request Logger
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c *echo.Context, v middleware.RequestLoggerValues) error {
			app.Logger.Info("%s %s | %d | %s", v.Method, v.URI, v.Status, v.Latency)
			return nil
		},
	}))

	runCtrl := &controllers.RunController{App: app}
	historyCtrl := &controllers.HistoryController{App: app}
	auditCtrl := &controllers.AuditController{App: app}

	// Live run control
	e.GET("/api/run", runCtrl.Status)
	e.POST("/api/run", runCtrl.Start)
	e.POST("/api/run/pause", runCtrl.Pause)
	e.POST("/api/run/resume", runCtrl.Resume)
	e.POST("/api/run/stop", runCtrl.Stop)
	e.GET("/api/run/outcomes", runCtrl.Outcomes)

	// Recorded runs
	e.GET("/api/runs", historyCtrl.List)
	e.GET("/api/runs/:id", historyCtrl.Get)

	e.GET("/api/audit", auditCtrl.Audit)
}
