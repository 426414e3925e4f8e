// handlers_upload.go - Station upload ingestion
package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
	"github.com/oses-stations/collector/internal/storage"
	"github.com/oses-stations/collector/internal/upload"
)

const (
	ackOK        = "OK\n"
	ackLineError = "Error while logging the data !!!\n"
)

// IngestHandlerImpl implements the IngestHandler interface
type IngestHandlerImpl struct {
	stationLog storage.Appender
	batches    *upload.Manager
	field      string
	limits     upload.Limits
	logger     *log.Logger
}

// NewIngestHandler creates a new ingest handler instance
func NewIngestHandler(stationLog storage.Appender, batches *upload.Manager, field string, limits upload.Limits, logger *log.Logger) IngestHandler {
	if logger == nil {
		logger = log.New("ingest")
	}
	return &IngestHandlerImpl{
		stationLog: stationLog,
		batches:    batches,
		field:      field,
		limits:     limits,
		logger:     logger,
	}
}

// HandleStationUpload validates one multipart upload and appends its lines
// to the Station Log as a single batch.
//
// Validation failures answer 400 before anything is written. Otherwise the
// answer is 200 with "OK\n", or one error line per line that could not be
// logged.
func (h *IngestHandlerImpl) HandleStationUpload(c echo.Context) error {
	rid := c.Response().Header().Get(echo.HeaderXRequestID)
	batch := h.batches.Begin(rid, c.RealIP())

	payload, err := h.readUpload(c)
	if err != nil {
		h.track(h.batches.MarkRejected(batch, err))
		h.logger.Warnf("batch=%s rid=%s ip=%s rejected: %v", batch.ID, rid, batch.RemoteAddr, err)
		return NewUploadRejectedError(err)
	}

	h.track(h.batches.MarkValidated(batch, payload))
	h.track(h.batches.MarkProcessing(batch))

	res, err := h.stationLog.AppendBatch(c.Request().Context(), payload.Lines)
	h.track(h.batches.Complete(batch, res.Written, res.Failed, err))

	if err == nil && res.OK() {
		h.logger.Infof("batch=%s rid=%s ip=%s file=%q lines=%d offset=%d",
			batch.ID, rid, batch.RemoteAddr, payload.FileName, res.Written, res.Offset)
		return c.String(http.StatusOK, ackOK)
	}

	failed := res.Failed
	if failed == 0 {
		failed = 1
	}
	h.logger.Errorf("batch=%s rid=%s ip=%s file=%q written=%d failed=%d err=%v",
		batch.ID, rid, batch.RemoteAddr, payload.FileName, res.Written, res.Failed, err)
	return c.String(http.StatusOK, strings.Repeat(ackLineError, failed))
}

func (h *IngestHandlerImpl) readUpload(c echo.Context) (*upload.Payload, error) {
	fh, form, err := upload.FileFromRequest(c.Response(), c.Request(), h.field, h.limits)
	if err != nil {
		return nil, err
	}
	defer form.RemoveAll()

	return upload.ReadPayload(fh, h.limits)
}

// track logs state machine misuse; it never changes the response.
func (h *IngestHandlerImpl) track(err error) {
	if err != nil {
		h.logger.Warnf("batch tracking: %v", err)
	}
}
