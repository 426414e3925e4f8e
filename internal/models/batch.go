// Package models contains domain types for the station collector.
package models

import "time"

// BatchStatus represents where an upload is in its lifecycle.
type BatchStatus string

const (
	BatchStatusReceived   BatchStatus = "received"
	BatchStatusValidated  BatchStatus = "validated"
	BatchStatusRejected   BatchStatus = "rejected"
	BatchStatusProcessing BatchStatus = "processing"
	BatchStatusWritten    BatchStatus = "written"
	BatchStatusPartial    BatchStatus = "partial"
)

// Terminal reports whether no further transition is possible.
func (s BatchStatus) Terminal() bool {
	switch s {
	case BatchStatusRejected, BatchStatusWritten, BatchStatusPartial:
		return true
	}
	return false
}

// Batch is one upload request's pass through the ingestor.
type Batch struct {
	ID          string      `json:"id" msgpack:"id"`
	RequestID   string      `json:"requestId,omitempty" msgpack:"requestId,omitempty"`
	RemoteAddr  string      `json:"remoteAddr" msgpack:"remoteAddr"`
	FileName    string      `json:"fileName,omitempty" msgpack:"fileName,omitempty"`
	Size        int64       `json:"size" msgpack:"size"`
	Lines       int         `json:"lines" msgpack:"lines"`
	Written     int         `json:"written" msgpack:"written"`
	Failed      int         `json:"failed" msgpack:"failed"`
	Status      BatchStatus `json:"status" msgpack:"status"`
	Error       string      `json:"error,omitempty" msgpack:"error,omitempty"`
	ReceivedAt  time.Time   `json:"receivedAt" msgpack:"receivedAt"`
	CompletedAt *time.Time  `json:"completedAt,omitempty" msgpack:"completedAt,omitempty"`
}

// IngestStats aggregates counters over all batches since start.
type IngestStats struct {
	LogPath         string    `json:"logPath" msgpack:"logPath"`
	UploadsAccepted int64     `json:"uploadsAccepted" msgpack:"uploadsAccepted"`
	UploadsRejected int64     `json:"uploadsRejected" msgpack:"uploadsRejected"`
	UploadsPartial  int64     `json:"uploadsPartial" msgpack:"uploadsPartial"`
	LinesWritten    int64     `json:"linesWritten" msgpack:"linesWritten"`
	LinesFailed     int64     `json:"linesFailed" msgpack:"linesFailed"`
	StartedAt       time.Time `json:"startedAt" msgpack:"startedAt"`
	LastBatch       *Batch    `json:"lastBatch,omitempty" msgpack:"lastBatch,omitempty"`
}
