// Package dashboard turns one view into date buckets and tracks which buckets
// are worth showing.
package dashboard

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/Joseda-hg/tasksync/internal/bucket"
	"github.com/Joseda-hg/tasksync/internal/model"
	"github.com/Joseda-hg/tasksync/internal/view"
)

// Source is the view a board reads from.
type Source interface {
	SetQuery(q model.Query) error
	State() view.State
	OnChange(fn func(view.State)) func()
	Disposed() bool
}

// Change is delivered to listeners whenever the partition is recomputed.
// Shown and Hidden list buckets whose visibility flipped. Seq increases with
// every change so consumers can drop ones that arrive late.
type Change struct {
	Seq       uint64
	Partition bucket.Partition
	Visible   []string
	Shown     []string
	Hidden    []string
	Status    view.Status
	Err       error
}

type Board struct {
	src              Source
	defs             []bucket.Def
	now              func() time.Time
	includeCompleted bool
	log              *slog.Logger

	stop func()

	mu          sync.Mutex
	today       time.Time
	lastVersion uint64
	seq         uint64
	partition   bucket.Partition
	visible     []string
	listeners   []func(Change)
	closed      bool
}

type Option func(*Board)

func WithClock(now func() time.Time) Option {
	return func(b *Board) {
		b.now = now
	}
}

// WithCompleted keeps completed tasks in the buckets.
func WithCompleted(include bool) Option {
	return func(b *Board) {
		b.includeCompleted = include
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(b *Board) {
		b.log = logger
	}
}

// New validates defs, attaches to src and issues the bucket query.
func New(src Source, defs []bucket.Def, opts ...Option) (*Board, error) {
	if err := bucket.ValidateDefs(defs); err != nil {
		return nil, err
	}
	b := &Board{
		src:  src,
		defs: slices.Clone(defs),
		now:  time.Now,
		log:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.today = b.now()
	b.partition = bucket.Assign(nil, b.defs, b.today)

	b.stop = src.OnChange(b.handle)
	if err := src.SetQuery(b.Query()); err != nil {
		b.stop()
		return nil, err
	}
	return b, nil
}

// Query is the fetch window covering every bucket for the current day.
func (b *Board) Query() model.Query {
	b.mu.Lock()
	today := b.today
	b.mu.Unlock()
	return QueryFor(b.defs, today, b.includeCompleted)
}

// QueryFor returns the query whose date range spans every def. The range has
// no lower bound when any def is open at the start.
func QueryFor(defs []bucket.Def, today time.Time, includeCompleted bool) model.Query {
	q := model.Query{IncludeCompleted: includeCompleted}
	if len(defs) == 0 {
		return q
	}

	minFrom, maxTo := defs[0].From, defs[0].To
	openStart := false
	for _, def := range defs {
		openStart = openStart || def.OpenStart
		minFrom = min(minFrom, def.From)
		maxTo = max(maxTo, def.To)
	}
	q.To = model.TimePtr(bucket.EndOfDay(today, maxTo))
	if !openStart {
		q.From = model.TimePtr(bucket.StartOfDay(today, minFrom))
	}
	return q
}

func (b *Board) handle(state view.State) {
	b.mu.Lock()
	if b.closed || state.Version <= b.lastVersion {
		b.mu.Unlock()
		return
	}
	b.lastVersion = state.Version
	change := b.repartitionLocked(state)
	listeners := slices.Clone(b.listeners)
	b.mu.Unlock()

	for _, fn := range listeners {
		fn(change)
	}
}

func (b *Board) repartitionLocked(state view.State) Change {
	tasks := state.Tasks
	if !b.includeCompleted {
		tasks = slices.DeleteFunc(slices.Clone(tasks), model.Task.Done)
	}

	partition := bucket.Assign(tasks, b.defs, b.today)
	visible := partition.NonEmpty()

	b.seq++
	change := Change{
		Seq:       b.seq,
		Partition: partition,
		Visible:   visible,
		Status:    state.Status,
		Err:       state.Err,
	}
	for _, label := range visible {
		if !slices.Contains(b.visible, label) {
			change.Shown = append(change.Shown, label)
		}
	}
	for _, label := range b.visible {
		if !slices.Contains(visible, label) {
			change.Hidden = append(change.Hidden, label)
		}
	}
	if len(change.Shown) > 0 || len(change.Hidden) > 0 {
		b.log.Debug("bucket visibility changed", "shown", change.Shown, "hidden", change.Hidden)
	}

	b.partition = partition
	b.visible = visible
	return change
}

// OnChange registers fn for partition changes.
func (b *Board) OnChange(fn func(Change)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, fn)
}

func (b *Board) Partition() bucket.Partition {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.partition
}

// Current returns the latest change, with Shown and Hidden left empty.
func (b *Board) Current() Change {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Change{Seq: b.seq, Partition: b.partition, Visible: slices.Clone(b.visible)}
}

// Visible returns the labels of non-empty buckets in def order. These are the
// navigation entries.
func (b *Board) Visible() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.visible)
}

func (b *Board) NavCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.visible)
}

// ScrollTarget returns the position of label among the visible sections.
func (b *Board) ScrollTarget(label string) (int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	index := slices.Index(b.visible, label)
	return index, index >= 0
}

func (b *Board) Today() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.today
}

// Rollover moves the board to the current calendar day if it has changed,
// re-bucketing the tasks it holds and re-issuing the query. It reports
// whether the day changed. A board whose view has been disposed closes
// instead.
func (b *Board) Rollover() (bool, error) {
	if b.src.Disposed() {
		b.log.Debug("source disposed, closing board")
		b.Close()
		return false, nil
	}
	now := b.now()
	state := b.src.State()

	b.mu.Lock()
	if b.closed || bucket.DaysBetween(b.today, now) == 0 {
		b.mu.Unlock()
		return false, nil
	}
	b.today = now
	change := b.repartitionLocked(state)
	listeners := slices.Clone(b.listeners)
	b.mu.Unlock()

	b.log.Info("day rolled over", "today", now.Format(time.DateOnly))
	for _, fn := range listeners {
		fn(change)
	}
	return true, b.src.SetQuery(b.Query())
}

// Close detaches the board from its view.
func (b *Board) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.listeners = nil
	b.mu.Unlock()
	b.stop()
}
