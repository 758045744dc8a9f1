// Package storetest provides an in-memory Store for package tests. It
// mirrors the Postgres semantics that matter to callers: idempotent outcome
// inserts, exactly-once evaluation marking and ordered reads.
package storetest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/crunkdevs/predictor-sub000/internal/domain"
	"github.com/crunkdevs/predictor-sub000/internal/store"
)

// Mem is an in-memory store.Store. WithTx runs fn against the same state
// without transactional isolation; tests that need rollback behavior should
// exercise the Postgres store instead.
type Mem struct {
	mu sync.Mutex

	loc          *time.Location
	firstPredict time.Duration

	nextWindowID  int64
	windows       map[int64]*domain.Window
	windowsBySlot map[string]int64

	states map[int64]*domain.WindowPatternState

	nextPredictionID int64
	predictions      []*domain.Prediction

	nextOutcomeID int64
	outcomes      []*domain.Outcome

	transitions         map[[2]int]int64
	windowedTransitions map[[3]int]int64
	followUps           map[[2]int]int64

	nextSnapshotID int64
	snapshots      map[int64]*domain.PatternSnapshot
	snapshotLog    map[int64][]bool
}

func NewMem(loc *time.Location, firstPredict time.Duration) *Mem {
	return &Mem{
		loc:                 loc,
		firstPredict:        firstPredict,
		windows:             make(map[int64]*domain.Window),
		windowsBySlot:       make(map[string]int64),
		states:              make(map[int64]*domain.WindowPatternState),
		transitions:         make(map[[2]int]int64),
		windowedTransitions: make(map[[3]int]int64),
		followUps:           make(map[[2]int]int64),
		snapshots:           make(map[int64]*domain.PatternSnapshot),
		snapshotLog:         make(map[int64][]bool),
	}
}

var _ store.Store = (*Mem)(nil)

func (m *Mem) Windows() store.WindowRepo         { return (*memWindows)(m) }
func (m *Mem) States() store.StateRepo           { return (*memStates)(m) }
func (m *Mem) Predictions() store.PredictionRepo { return (*memPredictions)(m) }
func (m *Mem) Outcomes() store.OutcomeRepo       { return (*memOutcomes)(m) }
func (m *Mem) Transitions() store.TransitionRepo { return (*memTransitions)(m) }
func (m *Mem) Snapshots() store.SnapshotRepo     { return (*memSnapshots)(m) }

func (m *Mem) WithTx(ctx context.Context, fn func(store.Store) error) error {
	return fn(m)
}

func slotKey(day string, idx int) string {
	return fmt.Sprintf("%s#%d", day, idx)
}

type memWindows Mem

func (r *memWindows) EnsureDay(_ context.Context, day string) error {
	m := (*Mem)(r)
	m.mu.Lock()
	defer m.mu.Unlock()

	for idx := 0; idx < domain.WindowsPerDay; idx++ {
		key := slotKey(day, idx)
		if _, ok := m.windowsBySlot[key]; ok {
			continue
		}
		start, end := domain.WindowBounds(day, idx, m.loc)
		m.nextWindowID++
		w := &domain.Window{
			ID:             m.nextWindowID,
			Day:            day,
			Index:          idx,
			StartAt:        start,
			EndAt:          end,
			FirstPredictAt: start.Add(m.firstPredict),
			Status:         domain.WindowOpen,
			Pattern:        domain.PatternUnknown,
			CreatedAt:      start,
		}
		m.windows[w.ID] = w
		m.windowsBySlot[key] = w.ID
	}
	return nil
}

func (r *memWindows) CloseExpired(_ context.Context, now time.Time) (int64, error) {
	m := (*Mem)(r)
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, w := range m.windows {
		if w.Status == domain.WindowOpen && !w.EndAt.After(now) {
			w.Status = domain.WindowClosed
			n++
		}
	}
	return n, nil
}

func (r *memWindows) Get(_ context.Context, id int64) (*domain.Window, error) {
	m := (*Mem)(r)
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.windows[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *w
	return &cp, nil
}

func (r *memWindows) GetByDayIndex(_ context.Context, day string, idx int) (*domain.Window, error) {
	m := (*Mem)(r)
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.windowsBySlot[slotKey(day, idx)]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *m.windows[id]
	return &cp, nil
}

func (r *memWindows) Lock(_ context.Context, id int64) error {
	m := (*Mem)(r)
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.windows[id]; !ok {
		return store.ErrNotFound
	}
	return nil
}

func (r *memWindows) SetPattern(_ context.Context, id int64, p domain.PatternCode) error {
	m := (*Mem)(r)
	m.mu.Lock()
	defer m.mu.Unlock()

	if w, ok := m.windows[id]; ok {
		w.Pattern = p
	}
	return nil
}

type memStates Mem

func (r *memStates) Ensure(_ context.Context, windowID int64) error {
	m := (*Mem)(r)
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.states[windowID]; !ok {
		m.states[windowID] = &domain.WindowPatternState{
			WindowID: windowID,
			Pattern:  domain.PatternUnknown,
			Mode:     domain.ModeNormal,
		}
	}
	return nil
}

func (r *memStates) Get(_ context.Context, windowID int64) (*domain.WindowPatternState, error) {
	m := (*Mem)(r)
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.states[windowID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *st
	return &cp, nil
}

func (r *memStates) get(windowID int64) *domain.WindowPatternState {
	m := (*Mem)(r)
	st, ok := m.states[windowID]
	if !ok {
		st = &domain.WindowPatternState{WindowID: windowID, Pattern: domain.PatternUnknown, Mode: domain.ModeNormal}
		m.states[windowID] = st
	}
	return st
}

func (r *memStates) SetPattern(_ context.Context, windowID int64, p domain.PatternCode) error {
	m := (*Mem)(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	r.get(windowID).Pattern = p
	return nil
}

func (r *memStates) SetMode(_ context.Context, windowID int64, mode domain.Mode, pauseUntil *time.Time) error {
	m := (*Mem)(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	st := r.get(windowID)
	st.Mode = mode
	st.PauseUntil = pauseUntil
	return nil
}

func (r *memStates) RecordCorrect(_ context.Context, windowID int64) error {
	m := (*Mem)(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	st := r.get(windowID)
	st.ConsecutiveCorrect++
	st.ConsecutiveWrong = 0
	return nil
}

func (r *memStates) RecordWrong(_ context.Context, windowID int64) (int, error) {
	m := (*Mem)(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	st := r.get(windowID)
	st.ConsecutiveWrong++
	st.ConsecutiveCorrect = 0
	return st.ConsecutiveWrong, nil
}

func (r *memStates) SetLastPrediction(_ context.Context, windowID int64, t time.Time) error {
	m := (*Mem)(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	tt := t
	r.get(windowID).LastPredictionAt = &tt
	return nil
}

func (r *memStates) SetReactivation(_ context.Context, windowID int64, active bool, snapshotID *int64, similarity float64) error {
	m := (*Mem)(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	st := r.get(windowID)
	st.ReactivationActive = active
	st.ReactivationSnapshotID = snapshotID
	st.ReactivationSimilarity = similarity
	return nil
}

type memPredictions Mem

func (r *memPredictions) Insert(_ context.Context, p *domain.Prediction) error {
	m := (*Mem)(r)
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextPredictionID++
	p.ID = m.nextPredictionID
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	cp := *p
	m.predictions = append(m.predictions, &cp)
	return nil
}

func (r *memPredictions) LatestForWindow(_ context.Context, windowID int64) (*domain.Prediction, error) {
	return r.latest(func(p *domain.Prediction) bool { return p.WindowID == windowID })
}

func (r *memPredictions) LatestUnevaluatedBefore(_ context.Context, windowID int64, before time.Time) (*domain.Prediction, error) {
	return r.latest(func(p *domain.Prediction) bool {
		return p.WindowID == windowID && !p.Evaluated && p.CreatedAt.Before(before)
	})
}

func (r *memPredictions) latest(match func(*domain.Prediction) bool) (*domain.Prediction, error) {
	m := (*Mem)(r)
	m.mu.Lock()
	defer m.mu.Unlock()

	var best *domain.Prediction
	for _, p := range m.predictions {
		if match(p) && (best == nil || p.CreatedAt.After(best.CreatedAt)) {
			best = p
		}
	}
	if best == nil {
		return nil, store.ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func (r *memPredictions) MarkEvaluated(_ context.Context, id, outcomeID int64, correct bool, at time.Time) (bool, error) {
	m := (*Mem)(r)
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range m.predictions {
		if p.ID != id {
			continue
		}
		if p.Evaluated {
			return false, nil
		}
		p.Evaluated = true
		c := correct
		oid := outcomeID
		t := at
		p.Correct = &c
		p.OutcomeID = &oid
		p.EvaluatedAt = &t
		return true, nil
	}
	return false, nil
}

func (r *memPredictions) CountBySourceSince(_ context.Context, source domain.PredictionSource, since time.Time) (int, error) {
	m := (*Mem)(r)
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, p := range m.predictions {
		if p.Source == source && !p.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (r *memPredictions) CountBySourceForWindow(_ context.Context, source domain.PredictionSource, windowID int64) (int, error) {
	m := (*Mem)(r)
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, p := range m.predictions {
		if p.Source == source && p.WindowID == windowID {
			n++
		}
	}
	return n, nil
}

func (r *memPredictions) LastCreatedBySource(_ context.Context, source domain.PredictionSource) (*time.Time, error) {
	m := (*Mem)(r)
	m.mu.Lock()
	defer m.mu.Unlock()

	var last *time.Time
	for _, p := range m.predictions {
		if p.Source == source && (last == nil || p.CreatedAt.After(*last)) {
			t := p.CreatedAt
			last = &t
		}
	}
	return last, nil
}

func (r *memPredictions) ExistsSince(_ context.Context, windowID int64, since time.Time) (bool, error) {
	m := (*Mem)(r)
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range m.predictions {
		if p.WindowID == windowID && !p.CreatedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

type memOutcomes Mem

func (r *memOutcomes) Insert(_ context.Context, o *domain.Outcome) (bool, error) {
	m := (*Mem)(r)
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.outcomes {
		if existing.ObservedAt.Equal(o.ObservedAt) {
			o.ID = existing.ID
			return false, nil
		}
	}
	m.nextOutcomeID++
	o.ID = m.nextOutcomeID
	cp := *o
	m.outcomes = append(m.outcomes, &cp)
	sort.Slice(m.outcomes, func(i, j int) bool {
		return m.outcomes[i].ObservedAt.After(m.outcomes[j].ObservedAt)
	})
	return true, nil
}

func (r *memOutcomes) RecentOutcomes(_ context.Context, limit int) ([]domain.Outcome, error) {
	return r.collect(func(o *domain.Outcome) bool { return true }, limit), nil
}

func (r *memOutcomes) OutcomesSince(_ context.Context, since time.Time) ([]domain.Outcome, error) {
	return r.collect(func(o *domain.Outcome) bool { return !o.ObservedAt.Before(since) }, 0), nil
}

func (r *memOutcomes) Between(_ context.Context, from, to time.Time) ([]domain.Outcome, error) {
	return r.collect(func(o *domain.Outcome) bool {
		return !o.ObservedAt.Before(from) && o.ObservedAt.Before(to)
	}, 0), nil
}

func (r *memOutcomes) PreviousBefore(_ context.Context, t time.Time) (*domain.Outcome, error) {
	m := (*Mem)(r)
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, o := range m.outcomes {
		if o.ObservedAt.Before(t) {
			cp := *o
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memOutcomes) collect(match func(*domain.Outcome) bool, limit int) []domain.Outcome {
	m := (*Mem)(r)
	m.mu.Lock()
	defer m.mu.Unlock()

	var outs []domain.Outcome
	for _, o := range m.outcomes {
		if !match(o) {
			continue
		}
		outs = append(outs, *o)
		if limit > 0 && len(outs) == limit {
			break
		}
	}
	return outs
}

type memTransitions Mem

func (r *memTransitions) Increment(_ context.Context, from, to int) error {
	m := (*Mem)(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions[[2]int{from, to}]++
	return nil
}

func (r *memTransitions) IncrementWindowed(_ context.Context, from, to, windowIdx int) error {
	m := (*Mem)(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.windowedTransitions[[3]int{from, to, windowIdx}]++
	return nil
}

func (r *memTransitions) IncrementFollowUp(_ context.Context, windowIdx, value int) error {
	m := (*Mem)(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.followUps[[2]int{windowIdx, value}]++
	return nil
}

func (r *memTransitions) Targets(_ context.Context, from, limit int) ([]domain.TransitionCount, error) {
	m := (*Mem)(r)
	m.mu.Lock()
	defer m.mu.Unlock()

	var rows []domain.TransitionCount
	for key, cnt := range m.transitions {
		if key[0] == from {
			rows = append(rows, domain.TransitionCount{From: from, To: key[1], Count: cnt})
		}
	}
	return sortTargets(rows, limit), nil
}

func (r *memTransitions) WindowedTargets(_ context.Context, from, windowIdx, limit int) ([]domain.TransitionCount, error) {
	m := (*Mem)(r)
	m.mu.Lock()
	defer m.mu.Unlock()

	var rows []domain.TransitionCount
	for key, cnt := range m.windowedTransitions {
		if key[0] == from && key[2] == windowIdx {
			rows = append(rows, domain.TransitionCount{From: from, To: key[1], Count: cnt})
		}
	}
	return sortTargets(rows, limit), nil
}

func (r *memTransitions) WindowedDistinct(_ context.Context, from, windowIdx int) (int, error) {
	m := (*Mem)(r)
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for key := range m.windowedTransitions {
		if key[0] == from && key[2] == windowIdx {
			n++
		}
	}
	return n, nil
}

func sortTargets(rows []domain.TransitionCount, limit int) []domain.TransitionCount {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count != rows[j].Count {
			return rows[i].Count > rows[j].Count
		}
		return rows[i].To < rows[j].To
	})
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows
}

type memSnapshots Mem

func (r *memSnapshots) Upsert(_ context.Context, snap *domain.PatternSnapshot) error {
	m := (*Mem)(r)
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, existing := range m.snapshots {
		if existing.StartAt.Equal(snap.StartAt) && existing.EndAt.Equal(snap.EndAt) {
			hit := existing.HitRate
			cp := *snap
			cp.ID = id
			cp.HitRate = hit
			m.snapshots[id] = &cp
			snap.ID = id
			return nil
		}
	}
	m.nextSnapshotID++
	snap.ID = m.nextSnapshotID
	if snap.HitRate == 0 {
		snap.HitRate = 0.5
	}
	cp := *snap
	m.snapshots[snap.ID] = &cp
	return nil
}

func (r *memSnapshots) Get(_ context.Context, id int64) (*domain.PatternSnapshot, error) {
	m := (*Mem)(r)
	m.mu.Lock()
	defer m.mu.Unlock()

	snap, ok := m.snapshots[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *snap
	return &cp, nil
}

func (r *memSnapshots) LatestEndingAfter(_ context.Context, t time.Time) (*domain.PatternSnapshot, error) {
	m := (*Mem)(r)
	m.mu.Lock()
	defer m.mu.Unlock()

	var best *domain.PatternSnapshot
	for _, snap := range m.snapshots {
		if snap.EndAt.After(t) && (best == nil || snap.EndAt.After(best.EndAt)) {
			best = snap
		}
	}
	if best == nil {
		return nil, store.ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func (r *memSnapshots) Recent(_ context.Context, limit int) ([]domain.PatternSnapshot, error) {
	m := (*Mem)(r)
	m.mu.Lock()
	defer m.mu.Unlock()

	var snaps []domain.PatternSnapshot
	for _, snap := range m.snapshots {
		snaps = append(snaps, *snap)
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].EndAt.After(snaps[j].EndAt) })
	if limit > 0 && len(snaps) > limit {
		snaps = snaps[:limit]
	}
	return snaps, nil
}

func (r *memSnapshots) LogOutcome(_ context.Context, snapshotID int64, correct bool, _ time.Time) error {
	m := (*Mem)(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshotLog[snapshotID] = append(m.snapshotLog[snapshotID], correct)
	return nil
}

func (r *memSnapshots) SetHitRate(_ context.Context, snapshotID int64, rate float64) error {
	m := (*Mem)(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	if snap, ok := m.snapshots[snapshotID]; ok {
		snap.HitRate = rate
	}
	return nil
}
