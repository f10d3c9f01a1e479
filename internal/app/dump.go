package app

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Joseda-hg/tasksync/internal/bucket"
	"github.com/Joseda-hg/tasksync/internal/model"
)

// Dump writes every non-empty bucket of partition as plain text.
func Dump(w io.Writer, partition bucket.Partition, today time.Time) error {
	wrote := false
	for _, b := range partition.Buckets {
		if b.Empty() {
			continue
		}
		if wrote {
			if _, err := fmt.Fprintln(w); err != nil {
				return err
			}
		}
		wrote = true
		if _, err := fmt.Fprintf(w, "%s (%d)\n", b.Label, len(b.Tasks)); err != nil {
			return err
		}
		for _, task := range b.Tasks {
			if _, err := fmt.Fprintln(w, "  "+FormatTask(task, today)); err != nil {
				return err
			}
		}
	}
	if !wrote {
		_, err := fmt.Fprintln(w, "Nothing due.")
		return err
	}
	return nil
}

// FormatTask renders one task line: checkbox, title, due label and tags.
func FormatTask(task model.Task, today time.Time) string {
	mark := "[ ]"
	if task.Done() {
		mark = "[x]"
	}
	parts := []string{mark, task.Title}
	if label := bucket.DueLabel(task, today); label != "" {
		parts = append(parts, "· "+label)
	}
	if task.Category != nil && task.Category.Name != "" {
		parts = append(parts, "@"+task.Category.Name)
	}
	for _, name := range task.TagNames() {
		parts = append(parts, "#"+name)
	}
	return strings.Join(parts, " ")
}
