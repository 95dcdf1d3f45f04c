package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"todo-api/api"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
)

// DB is the durable credential and task store. Every method is a single
// statement, so per-record atomicity is whatever the engine provides.
type DB struct {
	db      *sql.DB
	dialect dialect
	logger  *slog.Logger
}

// Open connects to the database and verifies the connection with a ping.
func Open(ctx context.Context, driver, source string, logger *slog.Logger) (*DB, error) {
	if _, err := lookupDialect(driver); err != nil {
		return nil, err
	}
	source, err := prepareSource(driver, source)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, source)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	s, err := New(db, driver, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := s.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	s.logger.Info("Database connection successful", "driver", driver)
	return s, nil
}

// New wraps an existing connection pool.
func New(db *sql.DB, driver string, logger *slog.Logger) (*DB, error) {
	d, err := lookupDialect(driver)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if driver == DriverSQLite {
		// A :memory: database lives in a single connection.
		db.SetMaxOpenConns(1)
	}
	return &DB{db: db, dialect: d, logger: logger}, nil
}

func (s *DB) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *DB) Close() error {
	return s.db.Close()
}

// Migrate creates the users and todos tables if they do not exist.
func (s *DB) Migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create tables: %w", err)
		}
	}
	s.logger.Info("Database tables ready", "driver", s.dialect.name)
	return nil
}

// insert runs an INSERT and returns the new row id.
func (s *DB) insert(ctx context.Context, query string, args ...any) (int64, error) {
	if s.dialect.returning {
		var id int64
		err := s.db.QueryRowContext(ctx, s.dialect.rebind(query+" RETURNING id"), args...).Scan(&id)
		return id, err
	}
	res, err := s.db.ExecContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *DB) CreateUser(ctx context.Context, email, passwordHash string) (api.User, error) {
	id, err := s.insert(ctx, "INSERT INTO users (email, password_hash) VALUES (?, ?)", email, passwordHash)
	if err != nil {
		if isUniqueViolation(err) {
			return api.User{}, fmt.Errorf("create user %q: %w", email, ErrDuplicate)
		}
		return api.User{}, fmt.Errorf("create user: %w", err)
	}
	return api.User{ID: id, Email: email, PasswordHash: passwordHash}, nil
}

func (s *DB) GetUserByEmail(ctx context.Context, email string) (api.User, error) {
	var u api.User
	err := s.db.QueryRowContext(ctx,
		s.dialect.rebind("SELECT id, email, password_hash FROM users WHERE email = ?"),
		email,
	).Scan(&u.ID, &u.Email, &u.PasswordHash)
	if errors.Is(err, sql.ErrNoRows) {
		return api.User{}, fmt.Errorf("user %q: %w", email, ErrNotFound)
	}
	if err != nil {
		return api.User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// GetUserTodos returns every todo owned by userID in store order. The
// result is never nil.
func (s *DB) GetUserTodos(ctx context.Context, userID int64) ([]api.Todo, error) {
	rows, err := s.db.QueryContext(ctx,
		s.dialect.rebind("SELECT id, user_id, title, description, completed FROM todos WHERE user_id = ?"),
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list todos: %w", err)
	}
	defer rows.Close()

	todos := []api.Todo{}
	for rows.Next() {
		var t api.Todo
		if err := rows.Scan(&t.ID, &t.UserID, &t.Title, &t.Description, &t.Completed); err != nil {
			return nil, fmt.Errorf("scan todo: %w", err)
		}
		todos = append(todos, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list todos: %w", err)
	}
	return todos, nil
}

// CreateUserTodo stores t and returns it with the assigned id.
func (s *DB) CreateUserTodo(ctx context.Context, t api.Todo) (api.Todo, error) {
	id, err := s.insert(ctx,
		"INSERT INTO todos (title, description, completed, user_id) VALUES (?, ?, ?, ?)",
		t.Title, t.Description, t.Completed, t.UserID,
	)
	if err != nil {
		return api.Todo{}, fmt.Errorf("create todo: %w", err)
	}
	t.ID = id
	return t, nil
}

func (s *DB) GetTodo(ctx context.Context, id int64) (api.Todo, error) {
	var t api.Todo
	err := s.db.QueryRowContext(ctx,
		s.dialect.rebind("SELECT id, user_id, title, description, completed FROM todos WHERE id = ?"),
		id,
	).Scan(&t.ID, &t.UserID, &t.Title, &t.Description, &t.Completed)
	if errors.Is(err, sql.ErrNoRows) {
		return api.Todo{}, fmt.Errorf("todo %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return api.Todo{}, fmt.Errorf("get todo: %w", err)
	}
	return t, nil
}

// UpdateTodo overwrites title, description and completed. The owner column
// is never written.
func (s *DB) UpdateTodo(ctx context.Context, t api.Todo) error {
	res, err := s.db.ExecContext(ctx,
		s.dialect.rebind("UPDATE todos SET title = ?, description = ?, completed = ? WHERE id = ?"),
		t.Title, t.Description, t.Completed, t.ID,
	)
	if err != nil {
		return fmt.Errorf("update todo: %w", err)
	}
	return expectAffected(res, t.ID)
}

func (s *DB) DeleteTodo(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, s.dialect.rebind("DELETE FROM todos WHERE id = ?"), id)
	if err != nil {
		return fmt.Errorf("delete todo: %w", err)
	}
	return expectAffected(res, id)
}

func expectAffected(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("todo %d: %w", id, ErrNotFound)
	}
	return nil
}
