package model

import "time"

// JobStatus represents the lifecycle state of an analysis job.
type JobStatus string

const (
	JobStatusQueued   JobStatus = "queued"
	JobStatusRunning  JobStatus = "running"
	JobStatusComplete JobStatus = "complete"
	JobStatusFailed   JobStatus = "failed"
)

// JobProgress names the pipeline phase a running job is in. Phases advance
// strictly in the order declared by ProgressOrder.
type JobProgress string

const (
	ProgressNone                  JobProgress = ""
	ProgressResolvingCompany      JobProgress = "resolving_company"
	ProgressDiscoveringSubreddits JobProgress = "discovering_subreddits"
	ProgressFetchingSources       JobProgress = "fetching_sources"
	ProgressLLMExtraction         JobProgress = "llm_extraction"
	ProgressPersisting            JobProgress = "persisting"
)

// ProgressOrder is the fixed phase sequence a job moves through.
var ProgressOrder = []JobProgress{
	ProgressResolvingCompany,
	ProgressDiscoveringSubreddits,
	ProgressFetchingSources,
	ProgressLLMExtraction,
	ProgressPersisting,
}

// Job tracks one analysis request from submission to a terminal state.
type Job struct {
	ID          string          `json:"job_id"`
	Domain      string          `json:"domain"`
	Competitors []string        `json:"competitors,omitempty"`
	Status      JobStatus       `json:"status"`
	Progress    JobProgress     `json:"progress,omitempty"`
	Error       string          `json:"error,omitempty"`
	Result      *AnalysisResult `json:"result,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	FinishedAt  *time.Time      `json:"finished_at,omitempty"`
}

// AnalysisResult is the summary payload returned for a completed job.
type AnalysisResult struct {
	CompanyName       string   `json:"company_name" yaml:"company_name"`
	CompanyAliases    []string `json:"company_aliases,omitempty" yaml:"company_aliases,omitempty"`
	Competitors       []string `json:"competitors,omitempty" yaml:"competitors,omitempty"`
	SubredditCount    int      `json:"subreddit_count" yaml:"subreddit_count"`
	SourceCount       int      `json:"source_count" yaml:"source_count"`
	EntityCount       int      `json:"entity_count" yaml:"entity_count"`
	RelationshipCount int      `json:"relationship_count" yaml:"relationship_count"`
}
