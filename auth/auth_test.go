package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"todo-api/api"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

var testSecret = []byte("test-secret")

func TestPasswordHasher(t *testing.T) {
	h := NewPasswordHasher(bcrypt.MinCost)

	digest, err := h.Hash("correct horse")
	require.NoError(t, err)
	assert.NotEqual(t, "correct horse", digest)
	assert.True(t, h.Verify("correct horse", digest))
	assert.False(t, h.Verify("wrong horse", digest))
	assert.False(t, h.Verify("correct horse", "not-a-bcrypt-digest"))
	assert.False(t, h.Verify("correct horse", ""))

	other, err := h.Hash("correct horse")
	require.NoError(t, err)
	assert.NotEqual(t, digest, other, "digests should be salted")
}

func TestNewPasswordHasherDefaultsCost(t *testing.T) {
	assert.Equal(t, bcrypt.DefaultCost, NewPasswordHasher(0).cost)
	assert.Equal(t, bcrypt.DefaultCost, NewPasswordHasher(99).cost)
	assert.Equal(t, 12, NewPasswordHasher(12).cost)
}

func TestTokenRoundTrip(t *testing.T) {
	m := NewTokenManager(testSecret, time.Hour)

	token, err := m.Issue(42)
	require.NoError(t, err)

	userID, err := m.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), userID)
}

func TestTokenExpiry(t *testing.T) {
	issued := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	m := NewTokenManager(testSecret, 0)
	m.now = func() time.Time { return issued }

	token, err := m.Issue(7)
	require.NoError(t, err)

	m.now = func() time.Time { return issued.Add(59 * time.Minute) }
	_, err = m.Verify(token)
	require.NoError(t, err, "token should still be valid inside the hour")

	m.now = func() time.Time { return issued.Add(61 * time.Minute) }
	_, err = m.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenRejected(t *testing.T) {
	m := NewTokenManager(testSecret, time.Hour)
	valid, err := m.Issue(1)
	require.NoError(t, err)

	wrongKey, err := NewTokenManager([]byte("another-secret"), time.Hour).Issue(1)
	require.NoError(t, err)

	exp := jwt.NewNumericDate(time.Now().Add(time.Hour))
	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, &api.Claims{
		UserID:           1,
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: exp},
	}).SignedString(testSecret)
	require.NoError(t, err)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, &api.Claims{
		UserID:           1,
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: exp},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &api.Claims{UserID: 1}).SignedString(testSecret)
	require.NoError(t, err)

	noUser, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &api.Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: exp},
	}).SignedString(testSecret)
	require.NoError(t, err)

	parts := strings.Split(valid, ".")
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]

	testCases := []struct {
		name  string
		token string
	}{
		{name: "wrong signing key", token: wrongKey},
		{name: "tampered payload", token: tampered},
		{name: "other algorithm", token: hs512},
		{name: "alg none", token: unsigned},
		{name: "missing expiry", token: noExpiry},
		{name: "missing user", token: noUser},
		{name: "garbage", token: "not.a.token"},
		{name: "empty", token: ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := m.Verify(tc.token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

// stubVerifier counts calls so tests can assert the gate short-circuits.
type stubVerifier struct {
	calls  int
	userID int64
	err    error
}

func (s *stubVerifier) Verify(string) (int64, error) {
	s.calls++
	return s.userID, s.err
}

func TestMiddleware(t *testing.T) {
	testCases := []struct {
		name               string
		header             string
		verifier           *stubVerifier
		expectedStatusCode int
		expectedCalls      int
	}{
		{
			name:               "Error - Missing header",
			header:             "",
			verifier:           &stubVerifier{userID: 5},
			expectedStatusCode: http.StatusUnauthorized,
			expectedCalls:      0,
		},
		{
			name:               "Error - Wrong scheme",
			header:             "Basic abc",
			verifier:           &stubVerifier{userID: 5},
			expectedStatusCode: http.StatusUnauthorized,
			expectedCalls:      0,
		},
		{
			name:               "Error - Lowercase prefix",
			header:             "bearer abc",
			verifier:           &stubVerifier{userID: 5},
			expectedStatusCode: http.StatusUnauthorized,
			expectedCalls:      0,
		},
		{
			name:               "Error - Empty token",
			header:             "Bearer ",
			verifier:           &stubVerifier{userID: 5},
			expectedStatusCode: http.StatusUnauthorized,
			expectedCalls:      0,
		},
		{
			name:               "Error - Invalid token",
			header:             "Bearer abc",
			verifier:           &stubVerifier{err: ErrInvalidToken},
			expectedStatusCode: http.StatusUnauthorized,
			expectedCalls:      1,
		},
		{
			name:               "Success - Valid token",
			header:             "Bearer abc",
			verifier:           &stubVerifier{userID: 5},
			expectedStatusCode: http.StatusOK,
			expectedCalls:      1,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var seen int64
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen, _ = UserIDFromContext(r.Context())
				w.WriteHeader(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodGet, "/todos", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rr := httptest.NewRecorder()

			Middleware(tc.verifier, nil)(next).ServeHTTP(rr, req)

			assert.Equal(t, tc.expectedStatusCode, rr.Code)
			assert.Equal(t, tc.expectedCalls, tc.verifier.calls)
			if rr.Code == http.StatusOK {
				assert.Equal(t, tc.verifier.userID, seen)
			} else {
				assert.Zero(t, seen)
				assert.Contains(t, rr.Body.String(), `"error"`)
			}
		})
	}
}

func TestUserIDFromContextMissing(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, ok := UserIDFromContext(req.Context())
	assert.False(t, ok)
}
