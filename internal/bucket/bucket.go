// Package bucket groups tasks into relative-day windows such as "Today" or
// "Next 7 days". Windows may overlap; a task belongs to every window its due
// date falls into.
package bucket

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/Joseda-hg/tasksync/internal/model"
)

// Def is a window of calendar days relative to today, inclusive on both ends.
// OpenStart makes the window reach back without bound.
type Def struct {
	Label     string
	From      int
	To        int
	OpenStart bool
}

func (d Def) Validate() error {
	if strings.TrimSpace(d.Label) == "" {
		return &model.ValidationError{Field: "bucket label", Reason: "must not be empty"}
	}
	if !d.OpenStart && d.From > d.To {
		return &model.ValidationError{Field: "bucket " + d.Label, Reason: fmt.Sprintf("from %d is after to %d", d.From, d.To)}
	}
	return nil
}

// Contains reports whether a task due diff days from today falls in d.
func (d Def) Contains(diff int) bool {
	if diff > d.To {
		return false
	}
	return d.OpenStart || diff >= d.From
}

func DefaultDefs() []Def {
	return []Def{
		{Label: "Overdue", From: math.MinInt, To: -1, OpenStart: true},
		{Label: "Today", From: 0, To: 0},
		{Label: "Tomorrow", From: 1, To: 1},
		{Label: "Next 3 days", From: 0, To: 2},
		{Label: "Next 7 days", From: 0, To: 6},
		{Label: "Next 30 days", From: 0, To: 29},
	}
}

func ValidateDefs(defs []Def) error {
	seen := make(map[string]struct{}, len(defs))
	for _, def := range defs {
		if err := def.Validate(); err != nil {
			return err
		}
		if _, ok := seen[def.Label]; ok {
			return &model.ValidationError{Field: "bucket " + def.Label, Reason: "label is used twice"}
		}
		seen[def.Label] = struct{}{}
	}
	return nil
}

type Bucket struct {
	Def
	Tasks []model.Task
}

func (b Bucket) Empty() bool {
	return len(b.Tasks) == 0
}

// Partition holds one bucket per def, in def order, empty ones included.
type Partition struct {
	Buckets []Bucket
}

func (p Partition) Get(label string) (Bucket, bool) {
	for _, b := range p.Buckets {
		if b.Label == label {
			return b, true
		}
	}
	return Bucket{}, false
}

// NonEmpty returns the labels of buckets holding at least one task.
func (p Partition) NonEmpty() []string {
	var labels []string
	for _, b := range p.Buckets {
		if !b.Empty() {
			labels = append(labels, b.Label)
		}
	}
	return labels
}

// Assign partitions tasks by due date relative to today. Tasks without a due
// date are left out. Each bucket is ordered by Compare, ties keeping input
// order.
func Assign(tasks []model.Task, defs []Def, today time.Time) Partition {
	partition := Partition{Buckets: make([]Bucket, len(defs))}
	for i, def := range defs {
		partition.Buckets[i] = Bucket{Def: def, Tasks: []model.Task{}}
	}
	for _, task := range tasks {
		if task.DueDate == nil {
			continue
		}
		diff := DaysBetween(today, *task.DueDate)
		for i := range partition.Buckets {
			if partition.Buckets[i].Contains(diff) {
				partition.Buckets[i].Tasks = append(partition.Buckets[i].Tasks, task)
			}
		}
	}
	for i := range partition.Buckets {
		Sort(partition.Buckets[i].Tasks)
	}
	return partition
}

// DaysBetween returns the number of calendar days from today to due, both
// taken as dates in today's location. Time of day is ignored.
func DaysBetween(today, due time.Time) int {
	loc := today.Location()
	return int(dayNumber(due.In(loc)) - dayNumber(today.In(loc)))
}

// dayNumber counts days since the Unix epoch for t's calendar date.
func dayNumber(t time.Time) int64 {
	return dateOnly(t).Unix() / secondsPerDay
}

const secondsPerDay = 24 * 60 * 60

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// StartOfDay returns midnight of t's calendar day in t's location, shifted by
// days.
func StartOfDay(t time.Time, days int) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d+days, 0, 0, 0, 0, t.Location())
}

// EndOfDay returns the last representable instant of t's calendar day, shifted
// by days.
func EndOfDay(t time.Time, days int) time.Time {
	return StartOfDay(t, days+1).Add(-time.Nanosecond)
}

// Compare orders incomplete tasks first, then by ascending due date with
// undated tasks last.
func Compare(a, b model.Task) int {
	if a.Done() != b.Done() {
		if a.Done() {
			return 1
		}
		return -1
	}
	switch {
	case a.DueDate == nil && b.DueDate == nil:
		return 0
	case a.DueDate == nil:
		return 1
	case b.DueDate == nil:
		return -1
	}
	return cmp.Compare(a.DueDate.UnixNano(), b.DueDate.UnixNano())
}

// Sort orders tasks in place with Compare. Ties keep their input order.
func Sort(tasks []model.Task) {
	slices.SortStableFunc(tasks, Compare)
}

// DueLabel describes the due date relative to today, for example "due
// tomorrow" or "overdue 3 days". It returns "" for undated tasks.
func DueLabel(task model.Task, today time.Time) string {
	if task.DueDate == nil {
		return ""
	}
	diff := DaysBetween(today, *task.DueDate)
	switch {
	case diff == 0:
		return "due today"
	case diff == 1:
		return "due tomorrow"
	case diff > 1:
		return fmt.Sprintf("due in %d days", diff)
	case diff == -1:
		return "overdue since yesterday"
	default:
		return fmt.Sprintf("overdue %d days", -diff)
	}
}
