// Package upload validates station uploads and tracks each batch through
// the ingest state machine.
package upload

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oses-stations/collector/internal/models"
)

// transitions lists the allowed moves of the per-request state machine.
var transitions = map[models.BatchStatus][]models.BatchStatus{
	models.BatchStatusReceived:   {models.BatchStatusValidated, models.BatchStatusRejected},
	models.BatchStatusValidated:  {models.BatchStatusProcessing},
	models.BatchStatusProcessing: {models.BatchStatusWritten, models.BatchStatusPartial},
}

// Manager keeps the most recent batches and running ingest counters.
type Manager struct {
	mu       sync.RWMutex
	batches  map[string]*models.Batch
	order    []string // oldest first
	capacity int
	stats    models.IngestStats
}

// NewManager creates a manager remembering up to capacity batches.
func NewManager(logPath string, capacity int) *Manager {
	if capacity <= 0 {
		capacity = 1
	}
	return &Manager{
		batches:  make(map[string]*models.Batch),
		capacity: capacity,
		stats: models.IngestStats{
			LogPath:   logPath,
			StartedAt: time.Now().UTC(),
		},
	}
}

// Begin registers a freshly received request.
func (m *Manager) Begin(requestID, remoteAddr string) *models.Batch {
	b := &models.Batch{
		ID:         uuid.New().String(),
		RequestID:  requestID,
		RemoteAddr: remoteAddr,
		Status:     models.BatchStatusReceived,
		ReceivedAt: time.Now().UTC(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.batches[b.ID] = b
	m.order = append(m.order, b.ID)
	for len(m.order) > m.capacity {
		delete(m.batches, m.order[0])
		m.order = m.order[1:]
	}
	return b
}

// MarkValidated records the accepted payload's shape.
func (m *Manager) MarkValidated(b *models.Batch, p *Payload) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.transition(b, models.BatchStatusValidated); err != nil {
		return err
	}
	b.FileName = p.FileName
	b.Size = p.Size
	b.Lines = len(p.Lines)
	return nil
}

// MarkRejected ends a batch that failed validation.
func (m *Manager) MarkRejected(b *models.Batch, cause error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.transition(b, models.BatchStatusRejected); err != nil {
		return err
	}
	if cause != nil {
		b.Error = cause.Error()
	}
	m.stats.UploadsRejected++
	m.finish(b)
	return nil
}

// MarkProcessing records that the batch is being appended.
func (m *Manager) MarkProcessing(b *models.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.transition(b, models.BatchStatusProcessing)
}

// Complete ends a processed batch as written or partial.
func (m *Manager) Complete(b *models.Batch, written, failed int, cause error) error {
	to := models.BatchStatusWritten
	if failed > 0 || cause != nil {
		to = models.BatchStatusPartial
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.transition(b, to); err != nil {
		return err
	}
	b.Written = written
	b.Failed = failed
	if cause != nil {
		b.Error = cause.Error()
	}

	m.stats.LinesWritten += int64(written)
	m.stats.LinesFailed += int64(failed)
	if to == models.BatchStatusWritten {
		m.stats.UploadsAccepted++
	} else {
		m.stats.UploadsPartial++
	}
	m.finish(b)
	return nil
}

// GetBatch returns a snapshot of a remembered batch.
func (m *Manager) GetBatch(id string) (models.Batch, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.batches[id]
	if !ok {
		return models.Batch{}, false
	}
	return *b, true
}

// Recent returns snapshots of up to limit batches, newest first.
func (m *Manager) Recent(limit int) []models.Batch {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > len(m.order) {
		limit = len(m.order)
	}
	out := make([]models.Batch, 0, limit)
	for i := len(m.order) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, *m.batches[m.order[i]])
	}
	return out
}

// Stats returns a snapshot of the running counters.
func (m *Manager) Stats() models.IngestStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := m.stats
	if s.LastBatch != nil {
		last := *s.LastBatch
		s.LastBatch = &last
	}
	return s
}

// transition moves b to the given status. Caller holds m.mu.
func (m *Manager) transition(b *models.Batch, to models.BatchStatus) error {
	for _, allowed := range transitions[b.Status] {
		if allowed == to {
			b.Status = to
			return nil
		}
	}
	return fmt.Errorf("batch %s: invalid transition %s -> %s", b.ID, b.Status, to)
}

// finish stamps a terminal batch. Caller holds m.mu.
func (m *Manager) finish(b *models.Batch) {
	now := time.Now().UTC()
	b.CompletedAt = &now
	last := *b
	m.stats.LastBatch = &last
}
