// routes.go - Route registration helpers
package api

import (
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/oses-stations/collector/internal/storage"
	"github.com/oses-stations/collector/internal/upload"
)

// Dependencies holds all handler dependencies
type Dependencies struct {
	StationLog storage.Appender
	Batches    *upload.Manager
	FormField  string
	Limits     upload.Limits
	Logger     *log.Logger
	Version    string
}

// Handlers holds all handler instances
type Handlers struct {
	Health HealthHandler
	Ingest IngestHandler
	Time   TimeHandler
	Status StatusHandler
}

// NewHandlers creates all handler instances
func NewHandlers(deps *Dependencies) *Handlers {
	field := deps.FormField
	if field == "" {
		field = "file"
	}
	return &Handlers{
		Health: NewHealthHandler(deps.Version),
		Ingest: NewIngestHandler(deps.StationLog, deps.Batches, field, deps.Limits, deps.Logger),
		Time:   NewTimeHandler(nil),
		Status: NewStatusHandler(deps.Batches),
	}
}

// RegisterRoutes registers all routes with the Echo instance
func RegisterRoutes(e *echo.Echo, handlers *Handlers) {
	e.GET("/health", handlers.Health.HandleHealth)

	// Station routes. The .php paths are what deployed firmware calls.
	e.POST("/upload", handlers.Ingest.HandleStationUpload)
	e.POST("/post.php", handlers.Ingest.HandleStationUpload)
	e.Any("/time", handlers.Time.HandleTime)
	e.Any("/time.php", handlers.Time.HandleTime)

	apiGroup := e.Group("/api")
	apiGroup.GET("/status", handlers.Status.HandleStatus)
	apiGroup.GET("/batches/recent", handlers.Status.HandleRecentBatches)
	apiGroup.GET("/batches/:id", handlers.Status.HandleGetBatch)
}

// MiddlewareOptions tunes SetupMiddleware
type MiddlewareOptions struct {
	RequestLogging bool
}

// SetupMiddleware configures common middleware
func SetupMiddleware(e *echo.Echo, opts MiddlewareOptions) {
	e.HTTPErrorHandler = ErrorHandler

	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: func() string {
			return uuid.New().String()
		},
	}))

	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Skipper: func(c echo.Context) bool {
			if !opts.RequestLogging {
				return true
			}
			path := c.Request().URL.Path
			return path == "/health" || strings.HasPrefix(path, "/api/")
		},
		Format: `{"time":"${time_rfc3339}","id":"${id}","remote_ip":"${remote_ip}",` +
			`"method":"${method}","uri":"${uri}","status":${status},` +
			`"latency_human":"${latency_human}","bytes_in":${bytes_in},"bytes_out":${bytes_out}}` + "\n",
	}))

	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize: 1024 * 4,
	}))
}
