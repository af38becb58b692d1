// Package schemas defines the shared data model exchanged between the realm
// backends, the probe suites, the detection engine, and downstream consumers
// (report flattening, persistence).
package schemas

import (
	"fmt"
	"time"
)

// -- Realms --

// RealmKind identifies the flavor of an isolated execution context.
type RealmKind string

const (
	RealmMain        RealmKind = "main"
	RealmSubDocument RealmKind = "sub-document"
	RealmWorker      RealmKind = "dedicated-worker"
)

// RealmLabel names one realm instance within a run. Main and sub-document
// realms are singletons and keep their kind as the label; worker realms are
// indexed in creation order because a run may hold several.
func RealmLabel(kind RealmKind, index int) string {
	if kind == RealmWorker {
		return fmt.Sprintf("%s-%d", kind, index)
	}
	return string(kind)
}

// RealmState tracks the lifecycle of a realm handle.
type RealmState int32

const (
	RealmCreating RealmState = iota
	RealmReady
	RealmFailed
	RealmTornDown
)

func (s RealmState) String() string {
	switch s {
	case RealmCreating:
		return "creating"
	case RealmReady:
		return "ready"
	case RealmFailed:
		return "failed"
	case RealmTornDown:
		return "torn-down"
	default:
		return "unknown"
	}
}

// -- Statuses --

// Status classifies the outcome of a single probe, field read, or realm
// operation. Failures are recorded in-slot; they never abort siblings.
type Status string

const (
	StatusOK Status = "ok"
	// StatusMissing means the API or field simply does not exist in the
	// realm. Not an anomaly; excluded from comparison denominators.
	StatusMissing Status = "missing"
	// StatusUnsupported means the operation cannot run in this realm kind
	// (e.g. animation frames in a worker).
	StatusUnsupported Status = "unsupported"
	StatusTimeout     Status = "timeout"
	StatusError       Status = "error"
)

// -- Risk --

// Risk is the severity scale attached to metrics and to the overall result.
type Risk string

const (
	RiskNA       Risk = "N/A"
	RiskLow      Risk = "Low"
	RiskMedium   Risk = "Medium"
	RiskHigh     Risk = "High"
	RiskCritical Risk = "Critical"
)

// -- Profiles --

// FieldValue is the outcome of reading one profile field inside a realm.
// A throwing read is recorded with StatusError, never omitted; omission
// would corrupt comparison accounting downstream.
type FieldValue struct {
	Status Status `json:"status"`
	Value  any    `json:"value,omitempty"`
}

// Profile is the fixed-schema set of environment fields collected once per
// realm. Immutable once produced.
type Profile struct {
	Realm   RealmKind             `json:"realm"`
	Version int                   `json:"version"`
	Fields  map[string]FieldValue `json:"fields"`
}

// ProfileVersion is bumped whenever the collected field list changes shape.
const ProfileVersion = 2

// ProfileFields is the versioned field list read from every realm, in
// collection order.
var ProfileFields = []string{
	"hardwareConcurrency",
	"deviceMemory",
	"timeZone",
	"locale",
	"languages",
	"platform",
	"userAgent",
	"screenWidth",
	"screenHeight",
	"availWidth",
	"availHeight",
	"colorDepth",
	"devicePixelRatio",
	"gpuVendor",
	"gpuRenderer",
	"canvasHash",
}

// -- Timing --

// Stats is the derived summary of a sample series. Recomputed, never mutated.
type Stats struct {
	Count     int       `json:"count"`
	Mean      float64   `json:"mean"`
	StdDev    float64   `json:"stddev"`
	Min       float64   `json:"min"`
	Max       float64   `json:"max"`
	Median    float64   `json:"median"`
	Histogram []HistBin `json:"histogram,omitempty"`
}

// HistBin is one bucket of a histogram over a sample series.
type HistBin struct {
	Lo    float64 `json:"lo"`
	Hi    float64 `json:"hi"`
	Count int     `json:"count"`
}

// SampleSeries is an ordered sequence of numeric observations from one
// timing experiment in one realm, with its derived Stats.
type SampleSeries struct {
	Status  Status    `json:"status"`
	Samples []float64 `json:"samples,omitempty"`
	Stats   Stats     `json:"stats"`
	// Detail carries the failure reason when Status != ok.
	Detail string `json:"detail,omitempty"`
}

// TimingResult groups the four timing experiments run in one realm.
type TimingResult struct {
	Realm            RealmKind    `json:"realm"`
	PerfNow          SampleSeries `json:"perfNow"`
	SchedulerLatency SampleSeries `json:"schedulerLatency"`
	AnimationCadence SampleSeries `json:"animationCadence"`
	RoundTrip        SampleSeries `json:"roundTrip"`
	// EstimatedFPS is derived from AnimationCadence when supported.
	EstimatedFPS float64 `json:"estimatedFps,omitempty"`
}

// -- Comparison --

// FieldComparison is the per-field outcome of comparing two realm profiles.
type FieldComparison struct {
	Field     string `json:"field"`
	Match     bool   `json:"match"`
	Reference any    `json:"reference"`
	Candidate any    `json:"candidate"`
}

// ComparisonResult aggregates field-by-field comparison between a reference
// realm profile and a candidate realm profile.
type ComparisonResult struct {
	Reference       RealmKind         `json:"reference"`
	Candidate       RealmKind         `json:"candidate"`
	Comparisons     []FieldComparison `json:"comparisons"`
	Mismatches      []string          `json:"mismatches"`
	Missing         []string          `json:"missing"`
	MatchedCount    int               `json:"matchedCount"`
	ComparableCount int               `json:"comparableCount"`
	// CoherenceScore is round(100*matched/comparable); 100 when there are
	// zero comparable fields (vacuous coherence).
	CoherenceScore int `json:"coherenceScore"`
}

// -- Lies --

// LieTag identifies which invariant a realm violated.
type LieTag string

const (
	LieFailedMath    LieTag = "failed-math-calculation"
	LieFailedUnshift LieTag = "failed-unshift-calculation"
	LieInconsistent  LieTag = "inconsistent-result"
)

// LieRecord is one detected invariant violation. Lies are cumulative
// findings within a run, never retracted.
type LieRecord struct {
	Tag    LieTag    `json:"tag"`
	Realm  RealmKind `json:"realm"`
	Detail string    `json:"detail"`
	Values []any     `json:"values,omitempty"`
}

// -- Stability --

// StabilityResult reports whether a deterministic draw produced
// byte-identical output across repeated iterations in one realm.
type StabilityResult struct {
	Realm        RealmKind `json:"realm"`
	Status       Status    `json:"status"`
	Stable       bool      `json:"stable"`
	Hash         string    `json:"hash,omitempty"`
	UniqueHashes int       `json:"uniqueHashes"`
	Iterations   int       `json:"iterations"`
}

// -- Terminal aggregate --

// RealmFailure records a secondary realm that could not be stood up.
// Failures here are "unsupported" to the rest of the run, not fatal.
type RealmFailure struct {
	Kind   RealmKind `json:"kind"`
	Reason string    `json:"reason"`
}

// DetectionResult is the terminal, immutable aggregate of a detection run.
// It is the only object the engine exposes to callers, and it is always
// produced, even under partial failure.
type DetectionResult struct {
	RunID     string        `json:"runId"`
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`

	// Timing and Profiles are keyed by realm label, not kind: several
	// worker realms may exist in one run and each keeps its own slot.
	Timing        map[string]TimingResult `json:"timing"`
	Profiles      map[string]Profile      `json:"profiles"`
	Comparisons   []ComparisonResult      `json:"comparisons"`
	Stability     []StabilityResult       `json:"stability"`
	Lies          []LieRecord             `json:"lies"`
	Lied          bool                    `json:"lied"`
	RealmFailures []RealmFailure          `json:"realmFailures,omitempty"`
	OverallRisk   Risk                    `json:"overallRisk"`
}

// MismatchCount sums mismatched fields across all realm comparisons.
func (r *DetectionResult) MismatchCount() int {
	n := 0
	for _, c := range r.Comparisons {
		n += len(c.Mismatches)
	}
	return n
}

// UnstableCount counts realms whose stability probe completed but observed
// divergent rendering output.
func (r *DetectionResult) UnstableCount() int {
	n := 0
	for _, s := range r.Stability {
		if s.Status == StatusOK && !s.Stable {
			n++
		}
	}
	return n
}

// MinCoherence returns the lowest coherence score across comparisons, or 100
// when no comparison was possible.
func (r *DetectionResult) MinCoherence() int {
	min := 100
	for _, c := range r.Comparisons {
		if c.CoherenceScore < min {
			min = c.CoherenceScore
		}
	}
	return min
}

// -- Report --

// Metric is one flat report entry in the shape downstream tooling consumes.
type Metric struct {
	Value       any    `json:"value"`
	Description string `json:"description"`
	Risk        Risk   `json:"risk"`
}

// Report is the flat metric mapping emitted to the reporting layer. The
// RawResults escape hatch carries the full DetectionResult for research
// tooling.
type Report struct {
	Metrics    map[string]Metric `json:"metrics"`
	RawResults *DetectionResult  `json:"_rawResults,omitempty"`
}
