package tui

import (
	"fmt"

	"github.com/Joseda-hg/tasksync/internal/bucket"
	"github.com/Joseda-hg/tasksync/internal/model"
)

// row is one line of the bucket pane: either a section header or a task.
type row struct {
	section string
	header  bool
	task    model.Task
}

func buildRows(partition bucket.Partition) []row {
	var rows []row
	for _, b := range partition.Buckets {
		if b.Empty() {
			continue
		}
		rows = append(rows, row{section: b.Label, header: true})
		for _, task := range b.Tasks {
			rows = append(rows, row{section: b.Label, task: task})
		}
	}
	return rows
}

func sectionHeader(b bucket.Bucket) string {
	return fmt.Sprintf("── %s (%d)", b.Label, len(b.Tasks))
}

func headerIndex(rows []row, section string) int {
	for i, r := range rows {
		if r.header && r.section == section {
			return i
		}
	}
	return -1
}

// nextTaskRow returns the first task row at or after from, moving by step.
func nextTaskRow(rows []row, from, step int) int {
	for i := from; i >= 0 && i < len(rows); i += step {
		if !rows[i].header {
			return i
		}
	}
	return -1
}

// rowForTask finds id under section, falling back to any section.
func rowForTask(rows []row, section string, id int64) int {
	fallback := -1
	for i, r := range rows {
		if r.header || r.task.ID != id {
			continue
		}
		if r.section == section {
			return i
		}
		if fallback < 0 {
			fallback = i
		}
	}
	return fallback
}

func formatTagEntry(tag model.Tag) string {
	return "#" + tag.Name
}

func formatCategoryEntry(category model.Category) string {
	return "@" + category.Name
}
