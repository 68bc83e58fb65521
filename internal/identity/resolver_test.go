// ABOUTME: Tests for identity resolution
// ABOUTME: Covers HTTP resolver failure collapsing and local JWT verification

package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPResolver_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.Write([]byte(`{"user_id": "u1"}`))
	}))
	defer srv.Close()

	resolver := NewHTTPResolver(srv.URL, 5*time.Second)
	userID, err := resolver.Resolve(context.Background(), Credentials{Token: "tok"})
	require.NoError(t, err)
	assert.Equal(t, "u1", userID)
}

func TestHTTPResolver_ForwardsCredentials(t *testing.T) {
	var got Credentials
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"user_id": "u1"}`))
	}))
	defer srv.Close()

	resolver := NewHTTPResolver(srv.URL, 5*time.Second)
	creds := Credentials{Token: "tok", APIKey: "key", ClientKey: "ck", DeviceID: "dev1"}
	_, err := resolver.Resolve(context.Background(), creds)
	require.NoError(t, err)
	assert.Equal(t, creds, got)
}

func TestHTTPResolver_Failures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
		},
		{
			name: "unauthorized",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
			},
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{not json`))
			},
		},
		{
			name: "missing user_id",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"other": "field"}`))
			},
		},
		{
			name: "empty user_id",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"user_id": ""}`))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			resolver := NewHTTPResolver(srv.URL, 5*time.Second)
			_, err := resolver.Resolve(context.Background(), Credentials{Token: "tok"})
			assert.ErrorIs(t, err, ErrNoIdentity)
		})
	}
}

func TestHTTPResolver_NetworkError(t *testing.T) {
	// Closed server: connection refused
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	resolver := NewHTTPResolver(srv.URL, 1*time.Second)
	_, err := resolver.Resolve(context.Background(), Credentials{Token: "tok"})
	assert.ErrorIs(t, err, ErrNoIdentity)
}

func TestJWTResolver_Success(t *testing.T) {
	secret := []byte("test-secret")
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u1",
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString(secret)
	require.NoError(t, err)

	resolver := NewJWTResolver(secret)
	userID, err := resolver.Resolve(context.Background(), Credentials{Token: signed})
	require.NoError(t, err)
	assert.Equal(t, "u1", userID)
}

func TestJWTResolver_Failures(t *testing.T) {
	secret := []byte("test-secret")

	validNoSub := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iat": time.Now().Unix(),
	})
	noSub, err := validNoSub.SignedString(secret)
	require.NoError(t, err)

	wrongKey := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "u1"})
	tampered, err := wrongKey.SignedString([]byte("other-secret"))
	require.NoError(t, err)

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u1",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	expiredStr, err := expired.SignedString(secret)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"empty token", ""},
		{"garbage token", "not-a-jwt"},
		{"wrong secret", tampered},
		{"missing sub", noSub},
		{"expired", expiredStr},
	}

	resolver := NewJWTResolver(secret)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := resolver.Resolve(context.Background(), Credentials{Token: tt.token})
			assert.ErrorIs(t, err, ErrNoIdentity)
		})
	}
}
