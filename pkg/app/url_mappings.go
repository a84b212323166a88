package app

import (
	"github.com/osvaldoandrade/netdemo/internal/controllers"
	"github.com/osvaldoandrade/netdemo/internal/middleware"
	"github.com/osvaldoandrade/netdemo/pkg/auth"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func SetupMappings(app *Application) {
	app.Engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := app.Engine.Group("/api")
	api.GET("/health", controllers.NewHealthController(app.Store, app.Registry, app.Executor.SandboxAvailable).Handle)
	api.GET("/demos", controllers.NewListDemosController(app.Registry).Handle)
	api.GET("/demos/:id", controllers.NewGetDemoController(app.Registry).Handle)

	authed := api.Group("", middleware.AuthMiddleware(app.Validator))
	{
		authed.POST("/jobs", middleware.RateLimitSubmit(app.RateLimiter, app.Config), controllers.NewSubmitJobController(app.Queue).Handle)
		authed.GET("/jobs/:id", controllers.NewGetJobController(app.Queue).Handle)

		admin := authed.Group("/admin", middleware.RequireScope(auth.ScopeAdmin))
		admin.POST("/jobs/cleanup", controllers.NewCleanupJobsController(app.Retention).Handle)
	}
}
