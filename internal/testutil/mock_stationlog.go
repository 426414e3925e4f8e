// mock_stationlog.go - In-memory Station Log for handler tests
package testutil

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/oses-stations/collector/internal/storage"
)

// MockStationLog implements storage.Appender in memory. Lines whose index
// is listed in FailLines fail; BatchErr fails the whole batch.
type MockStationLog struct {
	mu        sync.Mutex
	records   []string
	batches   [][]string
	FailLines map[int]bool
	BatchErr  error
}

// NewMockStationLog creates an empty mock log
func NewMockStationLog() *MockStationLog {
	return &MockStationLog{FailLines: make(map[int]bool)}
}

func (m *MockStationLog) AppendBatch(ctx context.Context, lines []string) (storage.AppendResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	res := storage.AppendResult{Offset: int64(len(m.content()))}
	if m.BatchErr != nil {
		res.Failed = len(lines)
		return res, m.BatchErr
	}
	if len(lines) == 0 {
		return res, nil
	}

	var written []string
	for i, line := range lines {
		if m.FailLines[i] {
			res.Failed++
			res.Errors = append(res.Errors, storage.LineError{Index: i, Err: errInjected})
			continue
		}
		m.records = append(m.records, line)
		written = append(written, line)
		res.Written++
	}
	m.batches = append(m.batches, written)
	return res, nil
}

func (m *MockStationLog) Path() string {
	return "/mock/uploaded-stations-data.txt"
}

// Ensure MockStationLog implements storage.Appender
var _ storage.Appender = (*MockStationLog)(nil)

// Test Helper Methods

// Records returns every appended record in order
func (m *MockStationLog) Records() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.records...)
}

// Content returns the log as it would look on disk
func (m *MockStationLog) Content() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.content()
}

// BatchCount returns the number of non-empty batches appended
func (m *MockStationLog) BatchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.batches)
}

func (m *MockStationLog) content() string {
	if len(m.records) == 0 {
		return ""
	}
	return strings.Join(m.records, "\n") + "\n"
}

var errInjected = errors.New("injected write failure")
