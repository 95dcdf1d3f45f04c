// Package todo holds the business rules: task ownership and account
// registration/login.
package todo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"todo-api/api"
	"todo-api/store"
)

// TaskStore is the persistence the Service needs. *store.DB and
// *store.CachedTasks both satisfy it.
type TaskStore interface {
	GetUserTodos(ctx context.Context, userID int64) ([]api.Todo, error)
	CreateUserTodo(ctx context.Context, t api.Todo) (api.Todo, error)
	GetTodo(ctx context.Context, id int64) (api.Todo, error)
	UpdateTodo(ctx context.Context, t api.Todo) error
	DeleteTodo(ctx context.Context, id int64) error
}

// Service enforces per-user ownership on every task operation. It is the
// only component that touches the task store.
type Service struct {
	tasks  TaskStore
	logger *slog.Logger
}

func NewService(tasks TaskStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{tasks: tasks, logger: logger}
}

func (s *Service) List(ctx context.Context, userID int64) ([]api.Todo, error) {
	todos, err := s.tasks.GetUserTodos(ctx, userID)
	if err != nil {
		return nil, err
	}
	if todos == nil {
		todos = []api.Todo{}
	}
	return todos, nil
}

func (s *Service) Add(ctx context.Context, userID int64, title, description string) (api.Todo, error) {
	if err := validateTitle(title); err != nil {
		return api.Todo{}, err
	}
	t, err := s.tasks.CreateUserTodo(ctx, api.Todo{
		UserID:      userID,
		Title:       title,
		Description: description,
		Completed:   false,
	})
	if err != nil {
		return api.Todo{}, err
	}
	s.logger.Debug("todo created", "todo_id", t.ID, "user_id", userID)
	return t, nil
}

// Update applies the supplied fields of patch to a todo owned by userID.
// A supplied title must be non-blank, as for Add.
func (s *Service) Update(ctx context.Context, userID, todoID int64, patch api.TodoPatch) (api.Todo, error) {
	if patch.Title != nil {
		if err := validateTitle(*patch.Title); err != nil {
			return api.Todo{}, err
		}
	}

	t, err := s.owned(ctx, userID, todoID)
	if err != nil {
		return api.Todo{}, err
	}

	if patch.Title != nil {
		t.Title = *patch.Title
	}
	if patch.Description != nil {
		t.Description = *patch.Description
	}
	if patch.Completed != nil {
		t.Completed = *patch.Completed
	}

	if err := s.tasks.UpdateTodo(ctx, t); err != nil {
		return api.Todo{}, mapStoreErr(err)
	}
	return t, nil
}

func (s *Service) Delete(ctx context.Context, userID, todoID int64) error {
	if _, err := s.owned(ctx, userID, todoID); err != nil {
		return err
	}
	if err := s.tasks.DeleteTodo(ctx, todoID); err != nil {
		return mapStoreErr(err)
	}
	s.logger.Debug("todo deleted", "todo_id", todoID, "user_id", userID)
	return nil
}

// owned loads a todo and checks that userID owns it.
func (s *Service) owned(ctx context.Context, userID, todoID int64) (api.Todo, error) {
	t, err := s.tasks.GetTodo(ctx, todoID)
	if err != nil {
		return api.Todo{}, mapStoreErr(err)
	}
	if t.UserID != userID {
		s.logger.Info("ownership mismatch", "todo_id", todoID, "user_id", userID)
		return api.Todo{}, fmt.Errorf("todo %d: %w", todoID, ErrForbidden)
	}
	return t, nil
}

func validateTitle(title string) error {
	if strings.TrimSpace(title) == "" {
		return fmt.Errorf("%w: title is required", ErrValidation)
	}
	return nil
}

func mapStoreErr(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}
