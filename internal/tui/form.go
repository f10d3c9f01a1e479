package tui

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/Joseda-hg/tasksync/internal/bucket"
	"github.com/Joseda-hg/tasksync/internal/model"
)

type formField struct {
	Label string
	Value string
}

const (
	fieldTitle = iota
	fieldDescription
	fieldDue
	fieldTags
	fieldCategory
)

func buildFormFields(task *model.Task) []formField {
	fields := []formField{
		{Label: "Title"},
		{Label: "Description"},
		{Label: "Due (YYYY-MM-DD)"},
		{Label: "Tags"},
		{Label: "Category"},
	}
	if task == nil {
		return fields
	}

	fields[fieldTitle].Value = task.Title
	fields[fieldDescription].Value = task.Description
	if task.DueDate != nil {
		fields[fieldDue].Value = task.DueDate.Format(time.DateOnly)
	}
	fields[fieldTags].Value = joinTags(task.Tags)
	if task.Category != nil {
		fields[fieldCategory].Value = task.Category.Name
	}
	return fields
}

func buildRenameFields(category model.Category) []formField {
	return []formField{{Label: "Name", Value: category.Name}}
}

func buildCategoryFields() []formField {
	return []formField{{Label: "Name"}}
}

func buildRangeFields(query model.Query) []formField {
	fields := []formField{{Label: "From (YYYY-MM-DD)"}, {Label: "To (YYYY-MM-DD)"}}
	if query.From != nil {
		fields[0].Value = query.From.Format(time.DateOnly)
	}
	if query.To != nil {
		fields[1].Value = query.To.Format(time.DateOnly)
	}
	return fields
}

func parseFormFields(fields []formField, loc *time.Location, categories []model.Category) (model.TaskFields, error) {
	due, err := parseDue(fields[fieldDue].Value, loc)
	if err != nil {
		return model.TaskFields{}, err
	}
	categoryID, err := resolveCategory(fields[fieldCategory].Value, categories)
	if err != nil {
		return model.TaskFields{}, err
	}

	out := model.TaskFields{
		Title:       strings.TrimSpace(fields[fieldTitle].Value),
		Description: strings.TrimSpace(fields[fieldDescription].Value),
		DueDate:     due,
		Tags:        parseTags(fields[fieldTags].Value),
		CategoryID:  categoryID,
	}
	if err := out.Validate(); err != nil {
		return model.TaskFields{}, err
	}
	return out, nil
}

// patchFromForm returns only the fields that differ from task.
func patchFromForm(task model.Task, fields []formField, loc *time.Location, categories []model.Category) (model.TaskPatch, error) {
	parsed, err := parseFormFields(fields, loc, categories)
	if err != nil {
		return model.TaskPatch{}, err
	}

	var patch model.TaskPatch
	if parsed.Title != task.Title {
		patch.Title = model.StringPtr(parsed.Title)
	}
	if parsed.Description != task.Description {
		patch.Description = model.StringPtr(parsed.Description)
	}
	if !sameDay(parsed.DueDate, task.DueDate) {
		// TaskPatch cannot clear a due date, so a blank field leaves it alone.
		if parsed.DueDate != nil {
			patch.DueDate = parsed.DueDate
		}
	}
	if tags := parsed.Tags; !slices.Equal(normalizedNames(tags), normalizedNames(task.TagNames())) {
		if tags == nil {
			tags = []string{}
		}
		patch.Tags = &tags
	}
	if parsed.CategoryID != task.CategoryID {
		patch.CategoryID = &parsed.CategoryID
	}
	return patch, nil
}

// resolveCategory maps a category name to its id. A blank name means no
// category.
func resolveCategory(name string, categories []model.Category) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, nil
	}
	for _, category := range categories {
		if strings.EqualFold(category.Name, name) {
			return category.ID, nil
		}
	}
	return 0, fmt.Errorf("unknown category %q", name)
}

// parseRange reads the from/to prompt into a day-aligned window. Either end
// may be left blank.
func parseRange(fields []formField, loc *time.Location) (from, to *time.Time, err error) {
	from, err = parseDue(fields[0].Value, loc)
	if err != nil {
		return nil, nil, err
	}
	to, err = parseDue(fields[1].Value, loc)
	if err != nil {
		return nil, nil, err
	}
	if to != nil {
		to = model.TimePtr(bucket.EndOfDay(*to, 0))
	}
	return from, to, nil
}

func parseDue(value string, loc *time.Location) (*time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	if loc == nil {
		loc = time.Local
	}
	parsed, err := time.ParseInLocation(time.DateOnly, trimmed, loc)
	if err != nil {
		return nil, errors.New("due date must be YYYY-MM-DD")
	}
	return &parsed, nil
}

func parseTags(value string) []string {
	var tags []string
	for _, part := range strings.Split(value, ",") {
		name := strings.TrimSpace(part)
		if name == "" || slices.Contains(tags, name) {
			continue
		}
		tags = append(tags, name)
	}
	return tags
}

func joinTags(tags []model.Tag) string {
	names := make([]string, 0, len(tags))
	for _, tag := range tags {
		names = append(names, tag.Name)
	}
	return strings.Join(names, ", ")
}

func normalizedNames(names []string) []string {
	out := slices.Clone(names)
	slices.Sort(out)
	return out
}

func sameDay(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
