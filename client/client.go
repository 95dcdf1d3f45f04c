// Package client is a Go client for the todo API. Login state lives in an
// explicit Session rather than in package globals.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"todo-api/api"
)

var ErrUnauthenticated = errors.New("client: not authenticated")

// APIError is a non-2xx response other than 401.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("todo api: %d %s", e.StatusCode, e.Message)
}

type Client struct {
	baseURL string
	http    *http.Client
	session *Session
}

// New returns a client for the API rooted at baseURL (including any path
// prefix such as /api). A nil session or httpClient gets a fresh default.
func New(baseURL string, session *Session, httpClient *http.Client) *Client {
	if session == nil {
		session = &Session{}
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    httpClient,
		session: session,
	}
}

func (c *Client) Session() *Session {
	return c.session
}

func (c *Client) Register(ctx context.Context, email, password string) (api.AuthResponse, error) {
	return c.authenticate(ctx, "/auth/register", http.StatusCreated, email, password)
}

func (c *Client) Login(ctx context.Context, email, password string) (api.AuthResponse, error) {
	return c.authenticate(ctx, "/auth/login", http.StatusOK, email, password)
}

// Logout forgets the token locally. The server is not contacted.
func (c *Client) Logout() {
	c.session.Clear()
}

func (c *Client) List(ctx context.Context) ([]api.Todo, error) {
	var todos []api.Todo
	err := c.protected(ctx, http.MethodGet, "/todos", nil, http.StatusOK, &todos)
	return todos, err
}

func (c *Client) Add(ctx context.Context, title, description string) (api.Todo, error) {
	var t api.Todo
	err := c.protected(ctx, http.MethodPost, "/todos", api.TodoInput{Title: title, Description: description}, http.StatusCreated, &t)
	return t, err
}

func (c *Client) Update(ctx context.Context, id int64, patch api.TodoPatch) (api.Todo, error) {
	var t api.Todo
	err := c.protected(ctx, http.MethodPut, fmt.Sprintf("/todos/%d", id), patch, http.StatusOK, &t)
	return t, err
}

func (c *Client) Delete(ctx context.Context, id int64) error {
	return c.protected(ctx, http.MethodDelete, fmt.Sprintf("/todos/%d", id), nil, http.StatusNoContent, nil)
}

func (c *Client) authenticate(ctx context.Context, path string, want int, email, password string) (api.AuthResponse, error) {
	var resp api.AuthResponse
	if _, err := c.do(ctx, http.MethodPost, path, "", api.Credentials{Email: email, Password: password}, want, &resp); err != nil {
		return api.AuthResponse{}, err
	}
	c.session.Set(resp)
	return resp, nil
}

// protected sends an authenticated request. A 401 clears the session.
func (c *Client) protected(ctx context.Context, method, path string, body any, want int, out any) error {
	token := c.session.Token()
	if token == "" {
		return ErrUnauthenticated
	}
	status, err := c.do(ctx, method, path, token, body, want, out)
	if status == http.StatusUnauthorized {
		c.session.Clear()
		return ErrUnauthenticated
	}
	return err
}

func (c *Client) do(ctx context.Context, method, path, token string, body any, want int, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		var apiErr api.ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return resp.StatusCode, &APIError{StatusCode: resp.StatusCode, Message: apiErr.Error}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}
