package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Joseda-hg/tasksync/internal/model"
)

var ErrNotFound = errors.New("not found")

// Timestamps are stored as fixed-width UTC text so that string comparison in
// SQL orders them chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type Store struct {
	DB  *sql.DB
	Now func() time.Time
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func NewStore(db *sql.DB) *Store {
	return &Store{DB: db, Now: time.Now}
}

func (s *Store) now() time.Time {
	return s.Now().UTC()
}

func (s *Store) CreateTask(ctx context.Context, input model.TaskFields) (model.Task, error) {
	if err := input.Validate(); err != nil {
		return model.Task{}, err
	}
	now := s.now()

	var created model.Task
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := checkCategory(ctx, tx, input.CategoryID); err != nil {
			return err
		}
		// createdAt is assigned here, so an earlier completion moves up to it.
		completedAt := input.CompletedAt
		if completedAt != nil && completedAt.Before(now) {
			completedAt = &now
		}
		result, err := tx.ExecContext(ctx,
			`INSERT INTO todos (title, description, due_date, category_id, completed_at, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			strings.TrimSpace(input.Title), input.Description, formatNullTime(input.DueDate),
			nullID(input.CategoryID), formatNullTime(completedAt), formatTime(now), formatTime(now))
		if err != nil {
			return err
		}
		id, err := result.LastInsertId()
		if err != nil {
			return err
		}
		if err := setTaskTags(ctx, tx, id, input.Tags, now); err != nil {
			return err
		}
		created, err = getTask(ctx, tx, id)
		return err
	})
	if err != nil {
		return model.Task{}, err
	}
	return created, nil
}

// PatchTask applies the fields present in patch. A completion time before the
// task's creation is rejected with a *model.ValidationError.
func (s *Store) PatchTask(ctx context.Context, taskID int64, patch model.TaskPatch) (model.Task, error) {
	var updated model.Task
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		before, err := getTask(ctx, tx, taskID)
		if err != nil {
			return err
		}
		after := before.Apply(patch)
		if err := after.Validate(); err != nil {
			return err
		}
		if patch.CategoryID != nil {
			if err := checkCategory(ctx, tx, *patch.CategoryID); err != nil {
				return err
			}
		}

		now := s.now()
		if _, err := tx.ExecContext(ctx,
			`UPDATE todos SET title = ?, description = ?, due_date = ?, category_id = ?, completed_at = ?, updated_at = ?
			 WHERE id = ?`,
			strings.TrimSpace(after.Title), after.Description, formatNullTime(after.DueDate),
			nullID(after.CategoryID), formatNullTime(after.CompletedAt), formatTime(now), taskID); err != nil {
			return err
		}
		if patch.Tags != nil {
			if err := setTaskTags(ctx, tx, taskID, *patch.Tags, now); err != nil {
				return err
			}
		}
		updated, err = getTask(ctx, tx, taskID)
		return err
	})
	if err != nil {
		return model.Task{}, err
	}
	return updated, nil
}

func (s *Store) DeleteTask(ctx context.Context, taskID int64) error {
	result, err := s.DB.ExecContext(ctx, "DELETE FROM todos WHERE id = ?", taskID)
	if err != nil {
		return err
	}
	return expectAffected(result)
}

func (s *Store) GetTaskWithTags(ctx context.Context, taskID int64) (model.Task, error) {
	return getTask(ctx, s.DB, taskID)
}

const selectTasks = `SELECT t.id, t.user_id, t.title, t.description, t.due_date, t.category_id, t.completed_at,
	t.created_at, t.updated_at, c.id, c.user_id, c.name
	FROM todos t LEFT JOIN categories c ON c.id = t.category_id`

// ListTasks returns the tasks matching query in id order. Date bounds apply
// to the due date, so undated tasks never match a ranged query.
func (s *Store) ListTasks(ctx context.Context, query model.Query) ([]model.Task, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}

	var where []string
	var args []any
	if query.From != nil {
		where = append(where, "t.due_date IS NOT NULL AND t.due_date >= ?")
		args = append(args, formatTime(*query.From))
	}
	if query.To != nil {
		where = append(where, "t.due_date IS NOT NULL AND t.due_date <= ?")
		args = append(args, formatTime(*query.To))
	}
	if len(query.CategoryIDs) > 0 {
		where = append(where, "t.category_id IN ("+placeholders(len(query.CategoryIDs))+")")
		for _, id := range query.CategoryIDs {
			args = append(args, id)
		}
	}
	if len(query.TagIDs) > 0 {
		where = append(where, "EXISTS (SELECT 1 FROM todo_tags tt WHERE tt.todo_id = t.id AND tt.tag_id IN ("+placeholders(len(query.TagIDs))+"))")
		for _, id := range query.TagIDs {
			args = append(args, id)
		}
	}
	if title := strings.TrimSpace(query.Title); title != "" {
		if query.IgnoreCase {
			where = append(where, `lower(t.title) LIKE '%' || ? || '%' ESCAPE '\'`)
			args = append(args, escapeLike(strings.ToLower(title)))
		} else {
			where = append(where, "instr(t.title, ?) > 0")
			args = append(args, title)
		}
	}
	if !query.IncludeCompleted {
		where = append(where, "t.completed_at IS NULL")
	}

	stmt := selectTasks
	if len(where) > 0 {
		stmt += " WHERE " + strings.Join(where, " AND ")
	}
	stmt += " ORDER BY t.id"

	rows, err := s.DB.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	var tasks []model.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		tasks = append(tasks, task)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	result := make([]model.Task, 0, len(tasks))
	for _, task := range tasks {
		if task.Tags, err = listTagsForTask(ctx, s.DB, task.ID); err != nil {
			return nil, err
		}
		result = append(result, task)
	}
	return result, nil
}

func (s *Store) SetTaskTags(ctx context.Context, taskID int64, tagNames []string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := getTask(ctx, tx, taskID); err != nil {
			return err
		}
		return setTaskTags(ctx, tx, taskID, tagNames, s.now())
	})
}

func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func getTask(ctx context.Context, q querier, taskID int64) (model.Task, error) {
	row := q.QueryRowContext(ctx, selectTasks+" WHERE t.id = ?", taskID)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Task{}, fmt.Errorf("task %d: %w", taskID, ErrNotFound)
	}
	if err != nil {
		return model.Task{}, err
	}
	if task.Tags, err = listTagsForTask(ctx, q, taskID); err != nil {
		return model.Task{}, err
	}
	return task, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (model.Task, error) {
	var (
		task                      model.Task
		due, completed            sql.NullString
		created, updated          string
		categoryID, catID, catUID sql.NullInt64
		catName                   sql.NullString
	)
	if err := row.Scan(&task.ID, &task.UserID, &task.Title, &task.Description, &due, &categoryID, &completed,
		&created, &updated, &catID, &catUID, &catName); err != nil {
		return model.Task{}, err
	}

	var err error
	if task.DueDate, err = parseNullTime(due); err != nil {
		return model.Task{}, err
	}
	if task.CompletedAt, err = parseNullTime(completed); err != nil {
		return model.Task{}, err
	}
	if task.CreatedAt, err = parseTime(created); err != nil {
		return model.Task{}, err
	}
	if task.UpdatedAt, err = parseTime(updated); err != nil {
		return model.Task{}, err
	}
	if categoryID.Valid {
		task.CategoryID = categoryID.Int64
	}
	if catID.Valid {
		task.Category = &model.Category{ID: catID.Int64, UserID: catUID.Int64, Name: catName.String}
	}
	task.Tags = []model.Tag{}
	return task, nil
}

func listTagsForTask(ctx context.Context, q querier, taskID int64) ([]model.Tag, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT g.id, g.name FROM tags g JOIN todo_tags tt ON tt.tag_id = g.id
		 WHERE tt.todo_id = ? ORDER BY g.name COLLATE NOCASE`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tags := []model.Tag{}
	for rows.Next() {
		var tag model.Tag
		if err := rows.Scan(&tag.ID, &tag.Name); err != nil {
			return nil, err
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

func setTaskTags(ctx context.Context, q querier, taskID int64, tagNames []string, now time.Time) error {
	if _, err := q.ExecContext(ctx, "DELETE FROM todo_tags WHERE todo_id = ?", taskID); err != nil {
		return err
	}
	for _, name := range normalizeTags(tagNames) {
		if _, err := q.ExecContext(ctx, "INSERT OR IGNORE INTO tags (name, created_at) VALUES (?, ?)", name, formatTime(now)); err != nil {
			return err
		}
		var tagID int64
		if err := q.QueryRowContext(ctx, "SELECT id FROM tags WHERE name = ?", name).Scan(&tagID); err != nil {
			return err
		}
		if _, err := q.ExecContext(ctx, "INSERT OR IGNORE INTO todo_tags (todo_id, tag_id) VALUES (?, ?)", taskID, tagID); err != nil {
			return err
		}
	}
	return nil
}

func checkCategory(ctx context.Context, q querier, categoryID int64) error {
	if categoryID == 0 {
		return nil
	}
	var exists int
	err := q.QueryRowContext(ctx, "SELECT 1 FROM categories WHERE id = ?", categoryID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return &model.ValidationError{Field: "categoryId", Reason: fmt.Sprintf("category %d does not exist", categoryID)}
	}
	return err
}

func expectAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func normalizeTags(tags []string) []string {
	seen := make(map[string]struct{})
	result := make([]string, 0, len(tags))
	for _, tag := range tags {
		trimmed := strings.TrimSpace(tag)
		if trimmed == "" {
			continue
		}
		lower := strings.ToLower(trimmed)
		if _, ok := seen[lower]; ok {
			continue
		}
		seen[lower] = struct{}{}
		result = append(result, trimmed)
	}
	return result
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}

func nullID(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: id != 0}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatNullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(value string) (time.Time, error) {
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %q: %w", value, err)
	}
	return parsed.UTC(), nil
}

func parseNullTime(value sql.NullString) (*time.Time, error) {
	if !value.Valid || value.String == "" {
		return nil, nil
	}
	parsed, err := parseTime(value.String)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}
