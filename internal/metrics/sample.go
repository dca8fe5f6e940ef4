package metrics

import "time"

// OpKind names the adapter operation a sample measured.
type OpKind string

const (
	OpAppend   OpKind = "append"
	OpRead     OpKind = "read"
	OpTagQuery OpKind = "tag_query"
	OpVerify   OpKind = "verify"
)

// Outcome classifies how an operation resolved. Conflicts and timeouts are
// data, not failures; only fatal categories abort a run.
type Outcome string

const (
	OutcomeOK          Outcome = "ok"
	OutcomeConflict    Outcome = "conflict"
	OutcomeError       Outcome = "error"
	OutcomeTimeout     Outcome = "timeout"
	OutcomeAbandoned   Outcome = "abandoned"
	OutcomeConsistency Outcome = "consistency_error"
)

// Sample is one measurement. Ownership passes to the collector on Record;
// workers must not retain a reference afterwards.
type Sample struct {
	Time      time.Time `json:"-"`
	TimeMS    int64     `json:"t_ms"`
	Op        OpKind    `json:"op"`
	LatencyMS float64   `json:"latency_ms"`
	Outcome   Outcome   `json:"outcome"`
}

// NewSample stamps a sample from an operation's wall-clock end time and
// latency.
func NewSample(at time.Time, op OpKind, latency time.Duration, outcome Outcome) Sample {
	return Sample{
		Time:      at,
		TimeMS:    at.UnixMilli(),
		Op:        op,
		LatencyMS: float64(latency) / float64(time.Millisecond),
		Outcome:   outcome,
	}
}
