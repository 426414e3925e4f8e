// interfaces.go - Handler interface definitions for clean separation of concerns
package api

import (
	"github.com/labstack/echo/v4"
)

// IngestHandler accepts station uploads and appends them to the Station Log
type IngestHandler interface {
	HandleStationUpload(c echo.Context) error
}

// TimeHandler serves the current UTC time for clock resync
type TimeHandler interface {
	HandleTime(c echo.Context) error
}

// StatusHandler exposes ingest counters and recent batches
type StatusHandler interface {
	HandleStatus(c echo.Context) error
	HandleRecentBatches(c echo.Context) error
	HandleGetBatch(c echo.Context) error
}

// HealthHandler handles health check operations
type HealthHandler interface {
	HandleHealth(c echo.Context) error
}
