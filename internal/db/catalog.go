package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/Joseda-hg/tasksync/internal/model"
)

func (s *Store) ListTags(ctx context.Context) ([]model.Tag, error) {
	rows, err := s.DB.QueryContext(ctx, "SELECT id, name FROM tags ORDER BY name COLLATE NOCASE")
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

// DeleteTag removes the tag and detaches it from every task.
func (s *Store) DeleteTag(ctx context.Context, tagID int64) error {
	result, err := s.DB.ExecContext(ctx, "DELETE FROM tags WHERE id = ?", tagID)
	if err != nil {
		return err
	}
	return expectAffected(result)
}

func (s *Store) ListCategories(ctx context.Context) ([]model.Category, error) {
	rows, err := s.DB.QueryContext(ctx, "SELECT id, user_id, name FROM categories ORDER BY name COLLATE NOCASE")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	categories := []model.Category{}
	for rows.Next() {
		var category model.Category
		if err := rows.Scan(&category.ID, &category.UserID, &category.Name); err != nil {
			return nil, err
		}
		categories = append(categories, category)
	}
	return categories, rows.Err()
}

func (s *Store) CreateCategory(ctx context.Context, name string) (model.Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.Category{}, &model.ValidationError{Field: "name", Reason: "must not be empty"}
	}
	result, err := s.DB.ExecContext(ctx, "INSERT INTO categories (name, created_at) VALUES (?, ?)", name, formatTime(s.now()))
	if err != nil {
		if isUniqueViolation(err) {
			return model.Category{}, &model.ValidationError{Field: "name", Reason: fmt.Sprintf("category %q already exists", name)}
		}
		return model.Category{}, err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return model.Category{}, err
	}
	return s.getCategory(ctx, id)
}

func (s *Store) RenameCategory(ctx context.Context, categoryID int64, name string) (model.Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.Category{}, &model.ValidationError{Field: "name", Reason: "must not be empty"}
	}
	result, err := s.DB.ExecContext(ctx, "UPDATE categories SET name = ? WHERE id = ?", name, categoryID)
	if err != nil {
		if isUniqueViolation(err) {
			return model.Category{}, &model.ValidationError{Field: "name", Reason: fmt.Sprintf("category %q already exists", name)}
		}
		return model.Category{}, err
	}
	if err := expectAffected(result); err != nil {
		return model.Category{}, err
	}
	return s.getCategory(ctx, categoryID)
}

// DeleteCategory removes the category. Its tasks become uncategorized.
func (s *Store) DeleteCategory(ctx context.Context, categoryID int64) error {
	result, err := s.DB.ExecContext(ctx, "DELETE FROM categories WHERE id = ?", categoryID)
	if err != nil {
		return err
	}
	return expectAffected(result)
}

func (s *Store) getCategory(ctx context.Context, categoryID int64) (model.Category, error) {
	var category model.Category
	err := s.DB.QueryRowContext(ctx, "SELECT id, user_id, name FROM categories WHERE id = ?", categoryID).
		Scan(&category.ID, &category.UserID, &category.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Category{}, fmt.Errorf("category %d: %w", categoryID, ErrNotFound)
	}
	return category, err
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
