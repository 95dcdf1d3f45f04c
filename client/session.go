package client

import (
	"sync"
	"todo-api/api"
)

// Session is the client-side login state. It is set by Register or Login
// and cleared by Logout or by any 401 from the server. The server keeps no
// session, so clearing it is the whole of logging out.
type Session struct {
	mu     sync.RWMutex
	token  string
	userID int64
	email  string
}

func (s *Session) Set(resp api.AuthResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = resp.Token
	s.userID = resp.UserID
	s.email = resp.Email
}

func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.userID = 0
	s.email = ""
}

func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *Session) UserID() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

func (s *Session) Email() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.email
}

func (s *Session) Authenticated() bool {
	return s.Token() != ""
}
