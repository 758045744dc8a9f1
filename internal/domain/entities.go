package domain

import (
	"time"
)

// WindowsPerDay is the fixed number of time slots each day is divided into.
// Each window covers 24/12 = 2 hours.
const WindowsPerDay = 12

// WindowStatus is the lifecycle status of a window.
type WindowStatus string

const (
	WindowOpen   WindowStatus = "open"
	WindowClosed WindowStatus = "closed"
)

// Mode is the operating mode of a window's learned state.
type Mode string

const (
	ModeNormal  Mode = "normal"
	ModePaused  Mode = "paused"
	ModeObserve Mode = "observe"
)

// PatternCode identifies the active heuristic regime for a window.
type PatternCode string

const (
	PatternA       PatternCode = "A" // sequential
	PatternB       PatternCode = "B" // balanced
	PatternC       PatternCode = "C" // overdue-heavy
	PatternUnknown PatternCode = "unknown"
)

// PredictionSource tells which path produced a prediction.
type PredictionSource string

const (
	SourceLocal PredictionSource = "local"
	SourceAI    PredictionSource = "ai"
)

// Window is one fixed time slice of a day. Exactly one row exists per
// (day, index); lifecycle and learned state are independent per window.
type Window struct {
	ID             int64        `db:"id" json:"id"`
	Day            string       `db:"day" json:"day"` // YYYY-MM-DD in engine timezone
	Index          int          `db:"idx" json:"index"`
	StartAt        time.Time    `db:"start_at" json:"start_at"`
	EndAt          time.Time    `db:"end_at" json:"end_at"`
	FirstPredictAt time.Time    `db:"first_predict_at" json:"first_predict_at"`
	Status         WindowStatus `db:"status" json:"status"`
	Pattern        PatternCode  `db:"pattern" json:"pattern"`
	CreatedAt      time.Time    `db:"created_at" json:"created_at"`
}

// WindowPatternState is the 1:1 learned companion of a Window. Every
// evaluated prediction mutates it; it drives the pause/observe cycle.
type WindowPatternState struct {
	WindowID               int64       `db:"window_id" json:"window_id"`
	Pattern                PatternCode `db:"pattern" json:"pattern"`
	ConsecutiveCorrect     int         `db:"consecutive_correct" json:"consecutive_correct"`
	ConsecutiveWrong       int         `db:"consecutive_wrong" json:"consecutive_wrong"`
	PauseUntil             *time.Time  `db:"pause_until" json:"pause_until,omitempty"`
	Mode                   Mode        `db:"mode" json:"mode"`
	LastPredictionAt       *time.Time  `db:"last_prediction_at" json:"last_prediction_at,omitempty"`
	ReactivationActive     bool        `db:"reactivation_active" json:"reactivation_active"`
	ReactivationSnapshotID *int64      `db:"reactivation_snapshot_id" json:"reactivation_snapshot_id,omitempty"`
	ReactivationSimilarity float64     `db:"reactivation_similarity" json:"reactivation_similarity"`
	UpdatedAt              time.Time   `db:"updated_at" json:"updated_at"`
}

// SignalContext is the signal environment embedded into a prediction at
// creation time, kept for evaluation and reactivation learning.
type SignalContext struct {
	Deviation      bool    `json:"deviation"`
	ColorReversal  bool    `json:"color_reversal"`
	TrendReversal  bool    `json:"trend_reversal"`
	ReversalBias   bool    `json:"reversal_bias"` // historical per-window bias, not a live flip
	Reactivation   bool    `json:"reactivation"`
	SnapshotID     int64   `json:"snapshot_id,omitempty"`
	Similarity     float64 `json:"similarity,omitempty"`
	NextCluster    Cluster `json:"next_cluster,omitempty"` // predicted cluster on reversal
	NextSize       Size    `json:"next_size,omitempty"`    // predicted size on reversal
	TriggerReason  string  `json:"trigger_reason,omitempty"`
	FallbackReason string  `json:"fallback_reason,omitempty"`
}

// Prediction is one decision event. Hot holds ranks 1-5, Cold ranks 6-13.
// Evaluation fields are written exactly once.
type Prediction struct {
	ID          int64            `db:"id" json:"id"`
	WindowID    int64            `db:"window_id" json:"window_id"`
	Source      PredictionSource `db:"source" json:"source"`
	Pattern     PatternCode      `db:"pattern" json:"pattern"`
	Hot         []int            `db:"-" json:"hot"`
	Cold        []int            `db:"-" json:"cold"`
	Context     SignalContext    `db:"-" json:"context"`
	CreatedAt   time.Time        `db:"created_at" json:"created_at"`
	Evaluated   bool             `db:"evaluated" json:"evaluated"`
	Correct     *bool            `db:"correct" json:"correct,omitempty"`
	OutcomeID   *int64           `db:"outcome_id" json:"outcome_id,omitempty"`
	EvaluatedAt *time.Time       `db:"evaluated_at" json:"evaluated_at,omitempty"`
}

// Contains reports whether v is in the prediction's hot or cold set.
func (p *Prediction) Contains(v int) bool {
	for _, h := range p.Hot {
		if h == v {
			return true
		}
	}
	for _, c := range p.Cold {
		if c == v {
			return true
		}
	}
	return false
}

// Outcome is a recorded game result. Append-only.
type Outcome struct {
	ID         int64     `db:"id" json:"id"`
	Value      int       `db:"value" json:"value"`
	Color      Color     `db:"color" json:"color"`
	Parity     Parity    `db:"parity" json:"parity"`
	Size       Size      `db:"size" json:"size"`
	ObservedAt time.Time `db:"observed_at" json:"observed_at"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// NewOutcome derives the class columns for a raw value.
func NewOutcome(value int, observedAt time.Time) Outcome {
	return Outcome{
		Value:      value,
		Color:      ColorOf(value),
		Parity:     ParityOf(value),
		Size:       SizeOf(value),
		ObservedAt: observedAt,
	}
}

// TransitionCount is one (from, to) counter row from the Markov prior.
type TransitionCount struct {
	From  int   `db:"from_value" json:"from"`
	To    int   `db:"to_value" json:"to"`
	Count int64 `db:"cnt" json:"count"`
}

// PatternSnapshot is a compact 48h regime signature with a learned hit-rate.
type PatternSnapshot struct {
	ID          int64             `db:"id" json:"id"`
	StartAt     time.Time         `db:"start_at" json:"start_at"`
	EndAt       time.Time         `db:"end_at" json:"end_at"`
	ColorShares map[Color]float64 `db:"-" json:"color_shares"`
	OddPct      float64           `db:"odd_pct" json:"odd_pct"`
	SmallPct    float64           `db:"small_pct" json:"small_pct"`
	MaxRun      int               `db:"max_run" json:"max_run"`
	TopPool     []int             `db:"-" json:"top_pool"`
	HitRate     float64           `db:"hit_rate" json:"hit_rate"`
	SampleCount int               `db:"sample_count" json:"sample_count"`
	CreatedAt   time.Time         `db:"created_at" json:"created_at"`
}

// ScoredValue is one ranked pool entry with its class breakdown.
type ScoredValue struct {
	Value  int                `json:"value"`
	Score  float64            `json:"score"`
	Raw    float64            `json:"raw_score"`
	Parts  map[string]float64 `json:"parts,omitempty"`
	Color  Color              `json:"color"`
	Parity Parity             `json:"parity"`
	Size   Size               `json:"size"`
}
