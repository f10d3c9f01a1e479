package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type Task struct {
	ID          int64      `json:"id"`
	UserID      int64      `json:"userId,omitempty"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	CompletedAt *time.Time `json:"completedAt"`
	CategoryID  int64      `json:"categoryId"`
	Category    *Category  `json:"category,omitempty"`
	Tags        []Tag      `json:"tags"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

type Tag struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type Category struct {
	ID     int64  `json:"id"`
	UserID int64  `json:"userId,omitempty"`
	Name   string `json:"name"`
}

// Done reports whether the task has been completed.
func (t Task) Done() bool {
	return t.CompletedAt != nil
}

// Validate checks the completion invariant: a completed task cannot have been
// completed before it was created.
func (t Task) Validate() error {
	if strings.TrimSpace(t.Title) == "" {
		return &ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if t.CompletedAt != nil && !t.CreatedAt.IsZero() && t.CompletedAt.Before(t.CreatedAt) {
		return &ValidationError{Field: "completedAt", Reason: "is before createdAt"}
	}
	return nil
}

// Clone returns a copy that shares no pointers or slices with t.
func (t Task) Clone() Task {
	out := t
	if t.DueDate != nil {
		due := *t.DueDate
		out.DueDate = &due
	}
	if t.CompletedAt != nil {
		completed := *t.CompletedAt
		out.CompletedAt = &completed
	}
	if t.Category != nil {
		category := *t.Category
		out.Category = &category
	}
	if t.Tags != nil {
		out.Tags = append([]Tag(nil), t.Tags...)
	}
	return out
}

// Apply returns the task with every field present in patch overwritten.
// Tags named in the patch keep their ids when t already carries them.
func (t Task) Apply(patch TaskPatch) Task {
	out := t.Clone()
	if patch.Title != nil {
		out.Title = *patch.Title
	}
	if patch.Description != nil {
		out.Description = *patch.Description
	}
	if patch.DueDate != nil {
		due := *patch.DueDate
		out.DueDate = &due
	}
	if patch.CategoryID != nil {
		out.CategoryID = *patch.CategoryID
		if out.Category != nil && out.Category.ID != *patch.CategoryID {
			out.Category = nil
		}
	}
	if patch.Tags != nil {
		known := make(map[string]int64, len(t.Tags))
		for _, tag := range t.Tags {
			known[strings.ToLower(tag.Name)] = tag.ID
		}
		out.Tags = make([]Tag, 0, len(*patch.Tags))
		for _, name := range *patch.Tags {
			out.Tags = append(out.Tags, Tag{ID: known[strings.ToLower(name)], Name: name})
		}
	}
	if patch.Completion != nil {
		if patch.Completion.At == nil {
			out.CompletedAt = nil
		} else {
			at := *patch.Completion.At
			out.CompletedAt = &at
		}
	}
	return out
}

// TagNames returns the tag names in task order.
func (t Task) TagNames() []string {
	names := make([]string, 0, len(t.Tags))
	for _, tag := range t.Tags {
		names = append(names, tag.Name)
	}
	return names
}

type TaskFields struct {
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	CategoryID  int64      `json:"categoryId"`
	Tags        []string   `json:"tags,omitempty"`
	CompletedAt *time.Time `json:"completedAt"`
}

func (f TaskFields) Validate() error {
	if strings.TrimSpace(f.Title) == "" {
		return &ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if f.CategoryID < 0 {
		return &ValidationError{Field: "categoryId", Reason: "must not be negative"}
	}
	return nil
}

// TaskPatch is a partial update. Nil fields are left untouched by the server.
type TaskPatch struct {
	Title       *string
	Description *string
	DueDate     *time.Time
	CategoryID  *int64
	Tags        *[]string
	Completion  *Completion
}

// Completion sets or clears completedAt. A nil At reopens the task and is
// sent as an explicit JSON null.
type Completion struct {
	At *time.Time
}

func (p TaskPatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.DueDate == nil &&
		p.CategoryID == nil && p.Tags == nil && p.Completion == nil
}

func (p TaskPatch) MarshalJSON() ([]byte, error) {
	body := make(map[string]any)
	if p.Title != nil {
		body["title"] = *p.Title
	}
	if p.Description != nil {
		body["description"] = *p.Description
	}
	if p.DueDate != nil {
		body["dueDate"] = p.DueDate.UTC().Format(time.RFC3339Nano)
	}
	if p.CategoryID != nil {
		body["categoryId"] = *p.CategoryID
	}
	if p.Tags != nil {
		tags := *p.Tags
		if tags == nil {
			tags = []string{}
		}
		body["tags"] = tags
	}
	if p.Completion != nil {
		if p.Completion.At == nil {
			body["completedAt"] = nil
		} else {
			body["completedAt"] = p.Completion.At.UTC().Format(time.RFC3339Nano)
		}
	}
	return json.Marshal(body)
}

func (p *TaskPatch) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*p = TaskPatch{}
	for key, value := range raw {
		switch key {
		case "title":
			var title string
			if err := json.Unmarshal(value, &title); err != nil {
				return fmt.Errorf("decode title: %w", err)
			}
			p.Title = &title
		case "description":
			var description string
			if err := json.Unmarshal(value, &description); err != nil {
				return fmt.Errorf("decode description: %w", err)
			}
			p.Description = &description
		case "dueDate":
			var due *time.Time
			if err := json.Unmarshal(value, &due); err != nil {
				return fmt.Errorf("decode dueDate: %w", err)
			}
			p.DueDate = due
		case "categoryId":
			var categoryID int64
			if err := json.Unmarshal(value, &categoryID); err != nil {
				return fmt.Errorf("decode categoryId: %w", err)
			}
			p.CategoryID = &categoryID
		case "tags":
			var tags []string
			if err := json.Unmarshal(value, &tags); err != nil {
				return fmt.Errorf("decode tags: %w", err)
			}
			if tags == nil {
				tags = []string{}
			}
			p.Tags = &tags
		case "completedAt":
			var at *time.Time
			if err := json.Unmarshal(value, &at); err != nil {
				return fmt.Errorf("decode completedAt: %w", err)
			}
			p.Completion = &Completion{At: at}
		}
	}
	return nil
}

func StringPtr(value string) *string {
	return &value
}

func TimePtr(value time.Time) *time.Time {
	return &value
}
