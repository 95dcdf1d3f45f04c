package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"todo-api/api"
	"todo-api/auth"
	"todo-api/metrics"
	"todo-api/todo"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
)

// maxBodyBytes caps every JSON request body.
const maxBodyBytes = 1 << 20

type pinger interface {
	Ping(ctx context.Context) error
}

// server holds the API dependencies. It is immutable once built and keeps
// no per-request state.
type server struct {
	todos    *todo.Service
	accounts *todo.Accounts
	gate     mux.MiddlewareFunc
	db       pinger
	metrics  *metrics.Metrics
	origins  []string
	logger   *slog.Logger
}

// routes builds the HTTP surface under prefix. Both the REST paths
// (/todos/{id}) and the legacy action paths (/add, /update/{id},
// /delete/{id}) are served. CORS preflights are answered before routing.
func (s *server) routes(prefix string) http.Handler {
	router := mux.NewRouter()
	router.Use(s.metrics.Middleware)
	router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)

	public := router.PathPrefix(prefix).Subrouter()
	public.HandleFunc("/healthz", s.healthHandler).Methods(http.MethodGet)
	public.HandleFunc("/auth/register", s.registerHandler).Methods(http.MethodPost)
	public.HandleFunc("/auth/login", s.loginHandler).Methods(http.MethodPost)

	protected := router.PathPrefix(prefix).Subrouter()
	protected.Use(s.gate)
	protected.HandleFunc("/todos", s.getTodos).Methods(http.MethodGet)
	protected.HandleFunc("/todos", s.createTodo).Methods(http.MethodPost)
	protected.HandleFunc("/add", s.createTodo).Methods(http.MethodPost)
	protected.HandleFunc("/todos/{id}", s.updateTodo).Methods(http.MethodPut)
	protected.HandleFunc("/update/{id}", s.updateTodo).Methods(http.MethodPut)
	protected.HandleFunc("/todos/{id}", s.deleteTodo).Methods(http.MethodDelete)
	protected.HandleFunc("/delete/{id}", s.deleteTodo).Methods(http.MethodDelete)

	cors := handlers.CORS(
		handlers.AllowedOrigins(s.origins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Authorization", "Content-Type"}),
	)
	return s.logRequests(cors(router))
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}

func respondWithError(w http.ResponseWriter, code int, msg string) {
	respondWithJSON(w, code, api.ErrorResponse{Error: msg})
}

// fail translates a service error into a status code. Missing and foreign
// todos share one response so a caller cannot probe for other users' ids.
// decodeJSON reads at most maxBodyBytes of r's body into v and answers the
// request itself when the body is unusable.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		respondWithError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return false
	}
	respondWithError(w, http.StatusBadRequest, "invalid request payload")
	return false
}

func (s *server) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, todo.ErrValidation):
		respondWithError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, todo.ErrConflict):
		respondWithError(w, http.StatusBadRequest, "a user with this email already exists")
	case errors.Is(err, todo.ErrInvalidCredentials):
		respondWithError(w, http.StatusBadRequest, "invalid credentials")
	case errors.Is(err, todo.ErrNotFound), errors.Is(err, todo.ErrForbidden):
		respondWithError(w, http.StatusNotFound, "todo not found or not yours")
	default:
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		respondWithError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (s *server) registerHandler(w http.ResponseWriter, r *http.Request) {
	var creds api.Credentials
	if !decodeJSON(w, r, &creds) {
		return
	}
	resp, err := s.accounts.Register(r.Context(), creds.Email, creds.Password)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, resp)
}

func (s *server) loginHandler(w http.ResponseWriter, r *http.Request) {
	var creds api.Credentials
	if !decodeJSON(w, r, &creds) {
		return
	}
	resp, err := s.accounts.Login(r.Context(), creds.Email, creds.Password)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, resp)
}

func (s *server) getTodos(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "authorization token required")
		return
	}
	todos, err := s.todos.List(r.Context(), userID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, todos)
}

func (s *server) createTodo(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "authorization token required")
		return
	}
	var input api.TodoInput
	if !decodeJSON(w, r, &input) {
		return
	}
	t, err := s.todos.Add(r.Context(), userID, input.Title, input.Description)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, t)
}

func (s *server) updateTodo(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "authorization token required")
		return
	}
	id, ok := todoID(r)
	if !ok {
		respondWithError(w, http.StatusBadRequest, "invalid todo id")
		return
	}
	var patch api.TodoPatch
	if !decodeJSON(w, r, &patch) {
		return
	}
	t, err := s.todos.Update(r.Context(), userID, id, patch)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, t)
}

func (s *server) deleteTodo(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "authorization token required")
		return
	}
	id, ok := todoID(r)
	if !ok {
		respondWithError(w, http.StatusBadRequest, "invalid todo id")
		return
	}
	if err := s.todos.Delete(r.Context(), userID, id); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(r.Context()); err != nil {
		s.logger.Warn("health check failed", "error", err)
		respondWithJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func todoID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
