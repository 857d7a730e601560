package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifierParse(t *testing.T) {
	v := NewVerifier("secret")
	good, err := v.Issue("u-1", time.Hour)
	require.NoError(t, err)
	expired, err := v.Issue("u-1", -time.Minute)
	require.NoError(t, err)
	foreign, err := NewVerifier("other").Issue("u-1", time.Hour)
	require.NoError(t, err)
	subOnly, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "u-2"}).SignedString([]byte("secret"))
	require.NoError(t, err)
	noUser, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{}).SignedString([]byte("secret"))
	require.NoError(t, err)

	tests := []struct {
		name    string
		token   string
		want    string
		wantErr bool
	}{
		{"valid", good, "u-1", false},
		{"sub fallback", subOnly, "u-2", false},
		{"expired", expired, "", true},
		{"wrong secret", foreign, "", true},
		{"no user", noUser, "", true},
		{"garbage", "not.a.jwt", "", true},
		{"empty", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := v.Parse(tt.token)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidToken)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestVerifierRejectsNone(t *testing.T) {
	tok, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: "u-1"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = NewVerifier("secret").Parse(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
