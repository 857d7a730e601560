package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baatchit/internal/auth"
	"github.com/baatchit/internal/model"
	"github.com/baatchit/internal/repository"
	"github.com/baatchit/internal/storage/memory"
)

type usersStub map[string]*model.User

func (u usersStub) GetByID(ctx context.Context, id string) (*model.User, error) {
	if user, ok := u[id]; ok {
		return user, nil
	}
	return nil, repository.ErrNotFound
}

func TestAuth(t *testing.T) {
	v := auth.NewVerifier("secret")
	users := usersStub{"u-1": {ID: "u-1", Username: "alice"}}
	good, err := v.Issue("u-1", time.Hour)
	require.NoError(t, err)
	ghost, err := v.Issue("u-404", time.Hour)
	require.NoError(t, err)

	var seen string
	h := Auth(v, users)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetUserID(r.Context())
		assert.Equal(t, "alice", GetUser(r.Context()).Username)
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		target string
		header string
		status int
	}{
		{"bearer", "/ws", "Bearer " + good, http.StatusNoContent},
		{"query", "/ws?token=" + good, "", http.StatusNoContent},
		{"missing", "/ws", "", http.StatusUnauthorized},
		{"bad scheme", "/ws?token=" + good, "Basic abc", http.StatusUnauthorized},
		{"unknown user", "/ws?token=" + ghost, "", http.StatusUnauthorized},
		{"garbage", "/ws?token=abc", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusNoContent {
				assert.Equal(t, "u-1", seen)
			} else {
				assert.Empty(t, seen)
			}
		})
	}
}

func TestRecoverJSON(t *testing.T) {
	h := RequestLog(RecoverJSON(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(errors.New("boom"))
	})))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())
}

func TestRateLimit(t *testing.T) {
	h := RateLimit(memory.New(2, time.Minute), "api")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/x", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{200, 200, 429}, codes)
}

func TestInternalOnly(t *testing.T) {
	h := InternalOnly(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))
	for addr, want := range map[string]int{
		"127.0.0.1:1234":   http.StatusOK,
		"10.1.2.3:1234":    http.StatusOK,
		"203.0.113.5:1234": http.StatusForbidden,
	} {
		req := httptest.NewRequest(http.MethodPost, "/api/notify", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, want, rec.Code, addr)
	}
}

func TestMaskToken(t *testing.T) {
	assert.Equal(t, "****", MaskToken("short"))
	assert.Equal(t, "eyJhbGci***", MaskToken("eyJhbGciOiJIUzI1NiJ9.payload"))
}
