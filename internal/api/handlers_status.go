// handlers_status.go - Ingest counters and recent batches
package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/oses-stations/collector/internal/upload"
	"github.com/vmihailenco/msgpack/v5"
)

const mimeMsgpack = "application/msgpack"

// StatusHandlerImpl implements the StatusHandler interface
type StatusHandlerImpl struct {
	batches *upload.Manager
}

// NewStatusHandler creates a new status handler
func NewStatusHandler(batches *upload.Manager) StatusHandler {
	return &StatusHandlerImpl{batches: batches}
}

// HandleStatus returns the running ingest counters
func (h *StatusHandlerImpl) HandleStatus(c echo.Context) error {
	return respond(c, http.StatusOK, h.batches.Stats())
}

// HandleRecentBatches returns the most recent batches, newest first
func (h *StatusHandlerImpl) HandleRecentBatches(c echo.Context) error {
	limit := 20
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return NewBadRequestError("limit must be a positive integer", err)
		}
		limit = n
	}
	return respond(c, http.StatusOK, h.batches.Recent(limit))
}

// HandleGetBatch returns a single remembered batch
func (h *StatusHandlerImpl) HandleGetBatch(c echo.Context) error {
	id := c.Param("id")
	b, ok := h.batches.GetBatch(id)
	if !ok {
		return NewNotFoundError("batch", id)
	}
	return respond(c, http.StatusOK, b)
}

// respond encodes v as MessagePack when the client asks for it, JSON otherwise.
func respond(c echo.Context, status int, v interface{}) error {
	if !strings.Contains(c.Request().Header.Get(echo.HeaderAccept), mimeMsgpack) {
		return c.JSON(status, v)
	}

	data, err := msgpack.Marshal(v)
	if err != nil {
		return NewInternalError("failed to encode msgpack", err)
	}
	return c.Blob(status, mimeMsgpack, data)
}
