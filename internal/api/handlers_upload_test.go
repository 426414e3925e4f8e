// handlers_upload_test.go - Tests for station upload handlers
package api

import (
	"bytes"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/oses-stations/collector/internal/models"
	"github.com/oses-stations/collector/internal/testutil"
	"github.com/oses-stations/collector/internal/upload"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newUploadRequest(t *testing.T, field, name string, data []byte) *http.Request {
	t.Helper()
	body := new(bytes.Buffer)
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile(field, name)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set(echo.HeaderContentType, writer.FormDataContentType())
	return req
}

func TestIngestHandler_HandleStationUpload(t *testing.T) {
	tests := []struct {
		name        string
		request     func(t *testing.T) *http.Request
		failLines   map[int]bool
		batchErr    error
		limits      upload.Limits
		wantErr     bool
		errCode     string
		wantBody    string
		wantRecords []string
		wantStatus  models.BatchStatus
	}{
		{
			name: "station sample",
			request: func(t *testing.T) *http.Request {
				return newUploadRequest(t, "file", "st42.txt", []byte("12:30,22.5,1013\n  12:31,22.6,1013  \n"))
			},
			wantBody:    "OK\n",
			wantRecords: []string{"12:30,22.5,1013", "12:31,22.6,1013"},
			wantStatus:  models.BatchStatusWritten,
		},
		{
			name: "empty lines are kept",
			request: func(t *testing.T) *http.Request {
				return newUploadRequest(t, "file", "st42.txt", []byte("  a  \nb\n\n"))
			},
			wantBody:    "OK\n",
			wantRecords: []string{"a", "b", ""},
			wantStatus:  models.BatchStatusWritten,
		},
		{
			name: "empty file",
			request: func(t *testing.T) *http.Request {
				return newUploadRequest(t, "file", "empty.txt", nil)
			},
			wantBody:   "OK\n",
			wantStatus: models.BatchStatusWritten,
		},
		{
			name: "one failing line",
			request: func(t *testing.T) *http.Request {
				return newUploadRequest(t, "file", "st42.txt", []byte("a\nb\nc\n"))
			},
			failLines:   map[int]bool{1: true},
			wantBody:    "Error while logging the data !!!\n",
			wantRecords: []string{"a", "c"},
			wantStatus:  models.BatchStatusPartial,
		},
		{
			name: "two failing lines",
			request: func(t *testing.T) *http.Request {
				return newUploadRequest(t, "file", "st42.txt", []byte("a\nb\nc\n"))
			},
			failLines:   map[int]bool{0: true, 2: true},
			wantBody:    strings.Repeat("Error while logging the data !!!\n", 2),
			wantRecords: []string{"b"},
			wantStatus:  models.BatchStatusPartial,
		},
		{
			name: "whole batch fails",
			request: func(t *testing.T) *http.Request {
				return newUploadRequest(t, "file", "st42.txt", []byte("a\nb\n"))
			},
			batchErr:   errors.New("permission denied"),
			wantBody:   strings.Repeat("Error while logging the data !!!\n", 2),
			wantStatus: models.BatchStatusPartial,
		},
		{
			name: "wrong field name",
			request: func(t *testing.T) *http.Request {
				return newUploadRequest(t, "data", "st42.txt", []byte("a\n"))
			},
			wantErr:    true,
			errCode:    "UPLOAD_REJECTED",
			wantStatus: models.BatchStatusRejected,
		},
		{
			name: "not a multipart body",
			request: func(t *testing.T) *http.Request {
				req := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader("a\n"))
				req.Header.Set(echo.HeaderContentType, echo.MIMETextPlain)
				return req
			},
			wantErr:    true,
			errCode:    "UPLOAD_REJECTED",
			wantStatus: models.BatchStatusRejected,
		},
		{
			name: "too many lines",
			request: func(t *testing.T) *http.Request {
				return newUploadRequest(t, "file", "st42.txt", []byte("a\nb\nc\n"))
			},
			limits:     upload.Limits{MaxLines: 2},
			wantErr:    true,
			errCode:    "UPLOAD_REJECTED",
			wantStatus: models.BatchStatusRejected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Setup
			stationLog := testutil.NewMockStationLog()
			for i := range tt.failLines {
				stationLog.FailLines[i] = true
			}
			stationLog.BatchErr = tt.batchErr
			batches := upload.NewManager(stationLog.Path(), 10)
			handler := NewIngestHandler(stationLog, batches, "file", tt.limits, nil)

			e := echo.New()
			rec := httptest.NewRecorder()
			c := e.NewContext(tt.request(t), rec)

			// Execute
			err := handler.HandleStationUpload(c)

			// Assert
			recent := batches.Recent(1)
			require.Len(t, recent, 1)
			assert.Equal(t, tt.wantStatus, recent[0].Status)

			if tt.wantErr {
				var apiErr *APIError
				require.ErrorAs(t, err, &apiErr)
				assert.Equal(t, http.StatusBadRequest, apiErr.Status)
				assert.Equal(t, tt.errCode, apiErr.Code)
				assert.True(t, apiErr.Plain)
				assert.Equal(t, 0, stationLog.BatchCount(), "nothing may be written on rejection")
				return
			}

			require.NoError(t, err)
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tt.wantBody, rec.Body.String())
			assert.Equal(t, tt.wantRecords, nilIfEmpty(stationLog.Records()))
		})
	}
}

func nilIfEmpty(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	return s
}
