package model

import (
	"time"
)

// JobStatus represents the lifecycle state of an extraction job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether the status can no longer change.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// ExtractionJob tracks one uploaded document through the pipeline.
type ExtractionJob struct {
	ID           string     `json:"id"`
	Status       JobStatus  `json:"status"`
	Source       string     `json:"source,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	TotalItems   int        `json:"total_items"`
	MatchedItems int        `json:"matched_items"`
	Error        string     `json:"error,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// RunSummary holds the outcome of a single pipeline run.
type RunSummary struct {
	JobID         string         `json:"job_id"`
	Sheets        int            `json:"sheets"`
	ByMethod      map[string]int `json:"by_method"`
	Filtered      int            `json:"filtered"`
	TotalItems    int            `json:"total_items"`
	MatchedItems  int            `json:"matched_items"`
	Batches       int            `json:"batches"`
	Duration      int64          `json:"duration_ms"`
	TokenUsage    TokenUsage     `json:"token_usage"`
	EstimatedCost float64        `json:"estimated_cost_usd"`
}

// TokenUsage tracks LLM token consumption across a run.
type TokenUsage struct {
	InputTokens         int `json:"input_tokens"`
	OutputTokens        int `json:"output_tokens"`
	CacheCreationTokens int `json:"cache_creation_tokens"`
	CacheReadTokens     int `json:"cache_read_tokens"`
}

// Add accumulates another usage into this one.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CacheCreationTokens += other.CacheCreationTokens
	u.CacheReadTokens += other.CacheReadTokens
}
