package common

import "time"

// JobStatus is the lifecycle state of an ingestion job.
type JobStatus string

const (
	JobQueued           JobStatus = "queued"
	JobRunning          JobStatus = "running"
	JobFailed           JobStatus = "failed"
	JobCompleted        JobStatus = "completed"
	JobCompletedPartial JobStatus = "completed_partial"
)

// Terminal reports whether no further transition will happen.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobFailed, JobCompleted, JobCompletedPartial:
		return true
	}
	return false
}

// JobFile is a file reference as submitted to an ingestion job. Path is an
// S3 key, a URL or a local path.
type JobFile struct {
	ID   string `json:"id"`
	Name string `json:"name" validate:"required"`
	Path string `json:"path" validate:"required"`
}

// JobFileResult is the outcome of one file of a finished job.
type JobFileResult struct {
	FileID string `json:"file_id"`
	Chunks int    `json:"chunks"`
	Error  string `json:"error,omitempty"`
}

// Job tracks one asynchronous ingestion run over a batch of files.
type Job struct {
	ID              string          `json:"id"`
	KnowledgeBaseID string          `json:"knowledge_base_id"`
	Files           []JobFile       `json:"files"`
	Status          JobStatus       `json:"status"`
	Error           string          `json:"error,omitempty"`
	FilesTotal      int             `json:"files_total"`
	FilesFailed     int             `json:"files_failed"`
	Results         []JobFileResult `json:"results,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}
