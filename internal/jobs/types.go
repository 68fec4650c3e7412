package jobs

import "time"

type Status string

const (
	StatusPending     Status = "pending"
	StatusDownloading Status = "downloading"
	StatusDone        Status = "done"
	StatusError       Status = "error"
	StatusCancelled   Status = "cancelled"
)

// Terminal reports whether no further transitions can leave this status.
func (s Status) Terminal() bool {
	switch s {
	case StatusDone, StatusError, StatusCancelled:
		return true
	default:
		return false
	}
}

type Kind string

const (
	KindVideo Kind = "video"
	KindSubs  Kind = "subs"
	KindBoth  Kind = "both"
)

func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindVideo, KindSubs, KindBoth:
		return Kind(s), nil
	case "":
		return KindVideo, nil
	default:
		return "", NewError(ErrInvalidInput, "kind must be video, subs or both")
	}
}

// Job is one submitted download attempt and its tracked lifecycle.
type Job struct {
	ID              string     `json:"id"`
	Owner           string     `json:"owner"`
	URL             string     `json:"url"`
	Kind            Kind       `json:"kind"`
	Status          Status     `json:"status"`
	Progress        int        `json:"progress"`
	Message         string     `json:"message"`
	Title           string     `json:"title,omitempty"`
	SiteTitle       string     `json:"site_title,omitempty"`
	SiteDescription string     `json:"site_description,omitempty"`
	ArtifactPath    string     `json:"-"`
	ArtifactName    string     `json:"artifact_name,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// DisplayTitle prefers the page-level title captured during the fetch.
func (j *Job) DisplayTitle() string {
	if j.SiteTitle != "" {
		return j.SiteTitle
	}
	return j.Title
}

// StatusView is the polling payload for one job.
type StatusView struct {
	JobID    string `json:"job_id"`
	Status   Status `json:"status"`
	Progress int    `json:"progress"`
	Message  string `json:"message"`
	Title    string `json:"title,omitempty"`
}

// HistoryItem is one row of an owner's download history.
type HistoryItem struct {
	JobID       string    `json:"job_id"`
	URL         string    `json:"url"`
	Title       string    `json:"title,omitempty"`
	Description string    `json:"description,omitempty"`
	Status      Status    `json:"status"`
	Progress    int       `json:"progress"`
	CreatedAt   time.Time `json:"created_at"`
}

// HistoryPage is a paginated, newest-first slice of an owner's history.
type HistoryPage struct {
	Items []HistoryItem `json:"items"`
	Total int           `json:"total"`
	Page  int           `json:"page"`
	Limit int           `json:"limit"`
}

// Artifact describes the finished file of a done job, ready for streaming.
type Artifact struct {
	Path    string
	Name    string
	Size    int64
	ModTime time.Time
}

func cloneJob(job *Job) *Job {
	if job == nil {
		return nil
	}
	tmp := *job
	if job.CompletedAt != nil {
		ts := *job.CompletedAt
		tmp.CompletedAt = &ts
	}
	return &tmp
}
