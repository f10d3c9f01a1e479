package web

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Joseda-hg/tasksync/internal/db"
	"github.com/Joseda-hg/tasksync/internal/model"
)

// Server serves the todo REST API over a Store.
type Server struct {
	store  *db.Store
	router *gin.Engine
	log    *slog.Logger
}

func NewServer(store *db.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	router := gin.New()
	s := &Server{store: store, router: router, log: logger}

	router.Use(gin.Recovery(), s.requestLogger())

	router.GET("/todos", s.handleListTasks)
	router.GET("/todos/search", s.handleListTasks)
	router.POST("/todos", s.handleCreateTask)
	router.PATCH("/todos/:id", s.handlePatchTask)
	router.DELETE("/todos/:id", s.handleDeleteTask)

	router.GET("/tags", s.handleListTags)
	router.DELETE("/tags/:id", s.handleDeleteTag)

	router.GET("/category", s.handleListCategories)
	router.POST("/category", s.handleCreateCategory)
	router.PATCH("/category/:id", s.handleRenameCategory)
	router.DELETE("/category/:id", s.handleDeleteCategory)

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		s.log.Debug("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"elapsed", time.Since(started))
	}
}

func (s *Server) handleListTasks(c *gin.Context) {
	query, err := model.ParseQuery(c.Request.URL.Query())
	if err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	tasks, err := s.store.ListTasks(c.Request.Context(), query)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, tasks)
}

func (s *Server) handleCreateTask(c *gin.Context) {
	var fields model.TaskFields
	if err := c.ShouldBindJSON(&fields); err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	task, err := s.store.CreateTask(c.Request.Context(), fields)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, task)
}

func (s *Server) handlePatchTask(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var patch model.TaskPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	task, err := s.store.PatchTask(c.Request.Context(), id, patch)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) handleDeleteTask(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := s.store.DeleteTask(c.Request.Context(), id); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleListTags(c *gin.Context) {
	tags, err := s.store.ListTags(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, tags)
}

func (s *Server) handleDeleteTag(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := s.store.DeleteTag(c.Request.Context(), id); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type categoryBody struct {
	Name string `json:"name"`
}

func (s *Server) handleListCategories(c *gin.Context) {
	categories, err := s.store.ListCategories(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, categories)
}

func (s *Server) handleCreateCategory(c *gin.Context) {
	var body categoryBody
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	category, err := s.store.CreateCategory(c.Request.Context(), body.Name)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, category)
}

func (s *Server) handleRenameCategory(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var body categoryBody
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	category, err := s.store.RenameCategory(c.Request.Context(), id, body.Name)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, category)
}

func (s *Server) handleDeleteCategory(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := s.store.DeleteCategory(c.Request.Context(), id); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// fail maps store errors to statuses: unknown ids are 404, rejected writes
// are 422, everything else is 500.
func (s *Server) fail(c *gin.Context, err error) {
	var validation *model.ValidationError
	switch {
	case errors.Is(err, db.ErrNotFound):
		writeError(c, http.StatusNotFound, err)
	case errors.As(err, &validation):
		writeError(c, http.StatusUnprocessableEntity, err)
	default:
		s.log.Error("request failed", "method", c.Request.Method, "path", c.Request.URL.Path, "error", err)
		writeError(c, http.StatusInternalServerError, err)
	}
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(c, http.StatusBadRequest, errors.New("invalid id"))
		return 0, false
	}
	return id, true
}

func writeError(c *gin.Context, status int, err error) {
	c.JSON(status, gin.H{"error": err.Error()})
}
