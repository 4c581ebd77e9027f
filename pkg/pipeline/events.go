package pipeline

import "time"

type Stage string

const (
	StageResolve   Stage = "resolve_url"
	StageFetch     Stage = "fetch"
	StageQueries   Stage = "generate_queries"
	StageSearch    Stage = "search_summarize"
	StageCompose   Stage = "compose"
	StageFinalize  Stage = "finalize"
	StageTranslate Stage = "translate"
	StageArchive   Stage = "archive"
)

type EventKind string

const (
	EventStarted  EventKind = "started"
	EventFinished EventKind = "finished"
	EventFailed   EventKind = "failed"
)

// Event reports progress of one stage of a run.
type Event struct {
	RunID   string
	Stage   Stage
	Kind    EventKind
	Err     error
	Elapsed time.Duration
}

// Observer receives events synchronously from the goroutine running the
// pipeline. It must not block.
type Observer func(Event)
