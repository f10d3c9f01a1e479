package client

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/Joseda-hg/tasksync/internal/model"
)

func (c *Client) ListCategories(ctx context.Context) ([]model.Category, error) {
	var categories []model.Category
	if err := c.do(ctx, "list categories", http.MethodGet, c.baseURL+"/category", nil, &categories); err != nil {
		return nil, err
	}
	return categories, nil
}

func (c *Client) CreateCategory(ctx context.Context, name string) (model.Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.Category{}, &model.ValidationError{Field: "name", Reason: "must not be empty"}
	}
	var category model.Category
	body := map[string]string{"name": name}
	if err := c.do(ctx, "create category", http.MethodPost, c.baseURL+"/category", body, &category); err != nil {
		return model.Category{}, err
	}
	return category, nil
}

func (c *Client) RenameCategory(ctx context.Context, id int64, name string) (model.Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.Category{}, &model.ValidationError{Field: "name", Reason: "must not be empty"}
	}
	var category model.Category
	body := map[string]string{"name": name}
	endpoint := c.baseURL + "/category/" + strconv.FormatInt(id, 10)
	if err := c.do(ctx, "rename category", http.MethodPatch, endpoint, body, &category); err != nil {
		return model.Category{}, err
	}
	return category, nil
}

// DeleteCategory removes a category. Its tasks become uncategorized.
func (c *Client) DeleteCategory(ctx context.Context, id int64) error {
	endpoint := c.baseURL + "/category/" + strconv.FormatInt(id, 10)
	return c.do(ctx, "delete category", http.MethodDelete, endpoint, nil, nil)
}

func (c *Client) ListTags(ctx context.Context) ([]model.Tag, error) {
	var tags []model.Tag
	if err := c.do(ctx, "list tags", http.MethodGet, c.baseURL+"/tags", nil, &tags); err != nil {
		return nil, err
	}
	return tags, nil
}

func (c *Client) DeleteTag(ctx context.Context, id int64) error {
	endpoint := c.baseURL + "/tags/" + strconv.FormatInt(id, 10)
	return c.do(ctx, "delete tag", http.MethodDelete, endpoint, nil, nil)
}
