package progress

import (
	"slices"
	"time"
)

// CompletedFile is one item staged on the relay and ready to be pulled.
type CompletedFile struct {
	Filename string `json:"filename"`
	ByteSize int64  `json:"byteSize"`
	Ready    bool   `json:"ready"`
}

// Record is the observable state of one download session.
//
// downloadedCount+failedCount never exceeds total, and once IsComplete is
// set it equals total. CompletedFiles keeps processing order.
type Record struct {
	SessionID       string          `json:"sessionId"`
	Total           int             `json:"total"`
	DownloadedCount int             `json:"downloadedCount"`
	FailedCount     int             `json:"failedCount"`
	CurrentFile     string          `json:"currentFile"`
	IsComplete      bool            `json:"isComplete"`
	Errors          []string        `json:"errors"`
	CompletedFiles  []CompletedFile `json:"completedFiles"`
	StartedAt       time.Time       `json:"startedAt"`
	FinishedAt      *time.Time      `json:"finishedAt,omitempty"`
}

// Processed is the number of items with a recorded outcome.
func (r *Record) Processed() int {
	return r.DownloadedCount + r.FailedCount
}

// RecordSuccess appends a staged file and counts it.
func (r *Record) RecordSuccess(filename string, size int64) {
	r.DownloadedCount++
	r.CompletedFiles = append(r.CompletedFiles, CompletedFile{Filename: filename, ByteSize: size, Ready: true})
}

// RecordFailure counts a failed item and keeps its message.
func (r *Record) RecordFailure(message string) {
	r.FailedCount++
	r.Errors = append(r.Errors, message)
}

// Finish marks the session complete.
func (r *Record) Finish(at time.Time) {
	r.IsComplete = true
	r.CurrentFile = ""
	r.FinishedAt = &at
}

// HasFile reports whether filename was staged for this session.
func (r *Record) HasFile(filename string) bool {
	return slices.ContainsFunc(r.CompletedFiles, func(f CompletedFile) bool {
		return f.Filename == filename
	})
}

func (r *Record) clone() Record {
	c := *r
	c.Errors = slices.Clone(r.Errors)
	c.CompletedFiles = slices.Clone(r.CompletedFiles)

	if c.Errors == nil {
		c.Errors = []string{}
	}

	if c.CompletedFiles == nil {
		c.CompletedFiles = []CompletedFile{}
	}

	if r.FinishedAt != nil {
		at := *r.FinishedAt
		c.FinishedAt = &at
	}

	return c
}
