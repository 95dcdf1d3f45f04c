package api

import (
	"github.com/golang-jwt/jwt/v5"
)

type User struct {
	ID           int64  `json:"id"`
	Email        string `json:"email"`
	PasswordHash string `json:"-"`
}

// Todo is a task owned by exactly one user. UserID never changes after
// creation.
type Todo struct {
	ID          int64  `json:"id"`
	UserID      int64  `json:"userId"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Completed   bool   `json:"completed"`
}

// TodoPatch carries a partial update. Nil fields are left untouched.
type TodoPatch struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Completed   *bool   `json:"completed,omitempty"`
}

type TodoInput struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResponse is returned by register and login.
type AuthResponse struct {
	Token  string `json:"token"`
	UserID int64  `json:"userId"`
	Email  string `json:"email"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type Claims struct {
	UserID int64 `json:"userId"`
	jwt.RegisteredClaims
}
