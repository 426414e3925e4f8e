// handlers_time.go - UTC time for station clock resync
package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// timeLayout is YYYY-MM-DD HH:MM:SS.
const timeLayout = "2006-01-02 15:04:05"

// TimeHandlerImpl implements the TimeHandler interface
type TimeHandlerImpl struct {
	now func() time.Time
}

// NewTimeHandler creates a time handler. A nil clock uses time.Now.
func NewTimeHandler(now func() time.Time) TimeHandler {
	if now == nil {
		now = time.Now
	}
	return &TimeHandlerImpl{now: now}
}

// HandleTime returns "GMT : YYYY-MM-DD HH:MM:SS" for any method
func (h *TimeHandlerImpl) HandleTime(c echo.Context) error {
	return c.String(http.StatusOK, "GMT : "+h.now().UTC().Format(timeLayout))
}
