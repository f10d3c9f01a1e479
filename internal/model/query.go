package model

import (
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"
)

const MaxTitleLength = 200

// Query is the immutable filter a view fetches with. Category and tag ids are
// sets: order and duplicates do not matter for equality or encoding.
type Query struct {
	From             *time.Time
	To               *time.Time
	CategoryIDs      []int64
	TagIDs           []int64
	Title            string
	IgnoreCase       bool
	IncludeCompleted bool
}

func (q Query) Clone() Query {
	out := q
	if q.From != nil {
		from := *q.From
		out.From = &from
	}
	if q.To != nil {
		to := *q.To
		out.To = &to
	}
	out.CategoryIDs = normalizeIDs(q.CategoryIDs)
	out.TagIDs = normalizeIDs(q.TagIDs)
	return out
}

// Equal reports whether two queries would produce the same request.
// IgnoreCase only matters when a title is set.
func (q Query) Equal(other Query) bool {
	if !equalTime(q.From, other.From) || !equalTime(q.To, other.To) {
		return false
	}
	if !slices.Equal(normalizeIDs(q.CategoryIDs), normalizeIDs(other.CategoryIDs)) {
		return false
	}
	if !slices.Equal(normalizeIDs(q.TagIDs), normalizeIDs(other.TagIDs)) {
		return false
	}
	if q.Title != other.Title {
		return false
	}
	if q.Title != "" && q.IgnoreCase != other.IgnoreCase {
		return false
	}
	return q.IncludeCompleted == other.IncludeCompleted
}

func (q Query) Validate() error {
	if q.From != nil && q.To != nil && q.From.After(*q.To) {
		return &ValidationError{Field: "from", Reason: "is after to"}
	}
	for _, id := range q.CategoryIDs {
		if id <= 0 {
			return &ValidationError{Field: "category", Reason: "ids must be positive"}
		}
	}
	for _, id := range q.TagIDs {
		if id <= 0 {
			return &ValidationError{Field: "tag", Reason: "ids must be positive"}
		}
	}
	if len(q.Title) > MaxTitleLength {
		return &ValidationError{Field: "title", Reason: "exceeds " + strconv.Itoa(MaxTitleLength) + " characters"}
	}
	return nil
}

// Values encodes the query as the /todos query string.
func (q Query) Values() url.Values {
	values := url.Values{}
	if q.From != nil {
		values.Set("from", q.From.UTC().Format(time.RFC3339Nano))
	}
	if q.To != nil {
		values.Set("to", q.To.UTC().Format(time.RFC3339Nano))
	}
	for _, id := range normalizeIDs(q.CategoryIDs) {
		values.Add("category", strconv.FormatInt(id, 10))
	}
	for _, id := range normalizeIDs(q.TagIDs) {
		values.Add("tag", strconv.FormatInt(id, 10))
	}
	if q.Title != "" {
		values.Set("title", q.Title)
		values.Set("ignorecase", boolParam(q.IgnoreCase))
	}
	values.Set("notDone", boolParam(!q.IncludeCompleted))
	return values
}

// ParseQuery decodes a /todos query string. A missing ignorecase defaults to
// case-insensitive and a missing notDone includes completed tasks.
func ParseQuery(values url.Values) (Query, error) {
	query := Query{IgnoreCase: true, IncludeCompleted: true}

	var err error
	if query.From, err = parseInstant(values, "from"); err != nil {
		return Query{}, err
	}
	if query.To, err = parseInstant(values, "to"); err != nil {
		return Query{}, err
	}
	if query.CategoryIDs, err = parseIDs(values, "category"); err != nil {
		return Query{}, err
	}
	if query.TagIDs, err = parseIDs(values, "tag"); err != nil {
		return Query{}, err
	}

	query.Title = strings.TrimSpace(values.Get("title"))
	if value := values.Get("ignorecase"); value != "" {
		flag, err := parseFlag("ignorecase", value)
		if err != nil {
			return Query{}, err
		}
		query.IgnoreCase = flag
	}
	if value := values.Get("notDone"); value != "" {
		flag, err := parseFlag("notDone", value)
		if err != nil {
			return Query{}, err
		}
		query.IncludeCompleted = !flag
	}

	if err := query.Validate(); err != nil {
		return Query{}, err
	}
	return query, nil
}

func parseInstant(values url.Values, key string) (*time.Time, error) {
	value := strings.TrimSpace(values.Get(key))
	if value == "" {
		return nil, nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		if parsed, err = time.Parse("2006-01-02", value); err != nil {
			return nil, &ValidationError{Field: key, Reason: "is not an ISO-8601 instant"}
		}
	}
	return &parsed, nil
}

func parseIDs(values url.Values, key string) ([]int64, error) {
	var ids []int64
	for _, raw := range values[key] {
		for _, part := range strings.Split(raw, ",") {
			trimmed := strings.TrimSpace(part)
			if trimmed == "" {
				continue
			}
			id, err := strconv.ParseInt(trimmed, 10, 64)
			if err != nil {
				return nil, &ValidationError{Field: key, Reason: "is not an integer id"}
			}
			ids = append(ids, id)
		}
	}
	return normalizeIDs(ids), nil
}

func parseFlag(key, value string) (bool, error) {
	switch strings.TrimSpace(value) {
	case "1", "true":
		return true, nil
	case "0", "false":
		return false, nil
	default:
		return false, &ValidationError{Field: key, Reason: "must be 0 or 1"}
	}
}

func boolParam(value bool) string {
	if value {
		return "1"
	}
	return "0"
}

func normalizeIDs(ids []int64) []int64 {
	if len(ids) == 0 {
		return nil
	}
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}

func equalTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
