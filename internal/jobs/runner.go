package jobs

import "context"

// RunRequest carries the immutable inputs of one download attempt.
type RunRequest struct {
	JobID string
	URL   string
	Kind  Kind
}

// Sink receives executor callbacks. Implementations must tolerate calls
// from the executor goroutine at any point before Run returns.
type Sink interface {
	// Title reports the resolved source title; later calls overwrite.
	Title(title string)
	// SiteMeta reports page-level title/description metadata.
	SiteMeta(title, description string)
	// Progress reports a percent/message pair. Percent regressions are
	// dropped by the receiver, so emitters need not dedupe.
	Progress(percent int, message string)
}

// RunResult is the outcome of a successful run.
type RunResult struct {
	ArtifactPath string
	ArtifactName string
	Title        string
}

// Runner performs one job's actual media fetch. A Run must honor ctx
// cancellation promptly, remove any partial output, and never report an
// artifact for a cancelled or failed attempt.
type Runner interface {
	Run(ctx context.Context, req RunRequest, sink Sink) (RunResult, error)
}
