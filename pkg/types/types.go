// Package types holds the data model shared across the upload engine.
package types

import (
	"time"
)

// SessionStatus tracks an upload session through its lifecycle.
type SessionStatus string

const (
	// StatusInitialized: session created, zero chunks received.
	StatusInitialized SessionStatus = "initialized"
	// StatusInProgress: at least one chunk stored.
	StatusInProgress SessionStatus = "in_progress"
	// StatusComplete: every expected chunk has been received.
	StatusComplete SessionStatus = "complete"
	// StatusFinalized: artifact produced. Terminal.
	StatusFinalized SessionStatus = "finalized"
	// StatusExpired: reclaimed after the upload window lapsed. Terminal.
	StatusExpired SessionStatus = "expired"
	// StatusFailed: unrecoverable storage or merge error. Terminal.
	StatusFailed SessionStatus = "failed"
)

// IsTerminal reports whether no further transitions are allowed.
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case StatusFinalized, StatusExpired, StatusFailed:
		return true
	}
	return false
}

// UploadSession is the bookkeeping record for one upload in progress.
// It is serialized as JSON when held in an external session store.
type UploadSession struct {
	ID            string        `json:"id"`
	FileID        string        `json:"file_id"`
	TotalChunks   int           `json:"total_chunks"`
	TotalSize     int64         `json:"total_size"`
	IV            []byte        `json:"iv"`
	Salt          []byte        `json:"salt"`
	IsArchive     bool          `json:"is_archive"`
	RetentionDays int           `json:"retention_days"`
	Received      map[int]bool  `json:"received"`
	CreatedAt     time.Time     `json:"created_at"`
	Status        SessionStatus `json:"status"`

	// StoragePath is set when the session is finalized so a retried
	// finalize can return the original result.
	StoragePath string `json:"storage_path,omitempty"`

	// Finalizing is the single-writer transition guard: set by the one
	// caller that claims the Complete session for merging, it keeps
	// concurrent finalizes and the expiration sweep out until the
	// session reaches a terminal status.
	Finalizing bool `json:"finalizing,omitempty"`
}

// ReceivedCount returns how many distinct chunk indices have arrived.
func (s *UploadSession) ReceivedCount() int {
	return len(s.Received)
}

// Clone returns a deep copy so store callers never share mutable state.
func (s *UploadSession) Clone() *UploadSession {
	out := *s
	out.IV = append([]byte(nil), s.IV...)
	out.Salt = append([]byte(nil), s.Salt...)
	out.Received = make(map[int]bool, len(s.Received))
	for idx := range s.Received {
		out.Received[idx] = true
	}
	return &out
}

// Artifact is the record of a finalized file.
type Artifact struct {
	FileID      string    `json:"file_id" gorm:"primaryKey;type:varchar(64)"`
	StoragePath string    `json:"storage_path" gorm:"not null"`
	Size        int64     `json:"size" gorm:"not null"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at" gorm:"index"`
}

// APIResponse is the envelope for all transport responses.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// InitUploadRequest is the transport payload for starting an upload.
type InitUploadRequest struct {
	TotalChunks   int    `json:"total_chunks"`
	TotalSize     int64  `json:"total_size"`
	RetentionDays int    `json:"retention_days"`
	IV            []byte `json:"iv"`
	Salt          []byte `json:"salt"`
	IsArchive     bool   `json:"is_archive"`
}

// InitUploadResponse returns the identifiers for a new session.
type InitUploadResponse struct {
	SessionID string `json:"session_id"`
	FileID    string `json:"file_id"`
}

// ChunkUploadResponse reports progress after a chunk is stored.
type ChunkUploadResponse struct {
	Received    int  `json:"received"`
	TotalChunks int  `json:"total_chunks"`
	Complete    bool `json:"complete"`
}

// FinalizeRequest is the transport payload for closing an upload.
type FinalizeRequest struct {
	FileID        string `json:"file_id"`
	RetentionDays int    `json:"retention_days"`
}

// FinalizeResponse describes the produced artifact.
type FinalizeResponse struct {
	FileID      string    `json:"file_id"`
	StoragePath string    `json:"storage_path"`
	Size        int64     `json:"size"`
	ExpiresAt   time.Time `json:"expires_at"`
}
