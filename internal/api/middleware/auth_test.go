package middleware

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

const testKeyID = "test-key"

func generateTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	return key
}

func generateTestToken(t *testing.T, key *rsa.PrivateKey, claims Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = testKeyID
	s, err := token.SignedString(key)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

// buildJWKSetJSON строит JWKS JSON из RSA публичного ключа.
func buildJWKSetJSON(pub *rsa.PublicKey, kid string) json.RawMessage {
	jwks := map[string]any{
		"keys": []map[string]any{{
			"kty": "RSA",
			"kid": kid,
			"use": "sig",
			"alg": "RS256",
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}},
	}
	data, _ := json.Marshal(jwks)
	return data
}

func newTestJWTAuth(t *testing.T, key *rsa.PrivateKey) *JWTAuth {
	t.Helper()
	kf, err := keyfunc.NewJWKSetJSON(buildJWKSetJSON(&key.PublicKey, testKeyID))
	if err != nil {
		t.Fatalf("не удалось создать keyfunc из JWKS JSON: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewJWTAuthWithKeyfunc(kf, 5*time.Second, logger)
}

func validClaims(scopes ...string) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "cron-job",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		ScopeArray: scopes,
	}
}

// protectedHandler — цепочка JWT + scope вокруг обработчика, отвечающего 200.
func protectedHandler(auth *JWTAuth, called *bool) http.Handler {
	return Chain(auth.Middleware(), RequireScope(ScopeCleanup))(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			*called = true
			if SubjectFromContext(r.Context()) != "cron-job" {
				w.WriteHeader(http.StatusTeapot)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))
}

func TestJWTAuth(t *testing.T) {
	key := generateTestKey(t)
	otherKey := generateTestKey(t)
	auth := newTestJWTAuth(t, key)

	expired := validClaims(ScopeCleanup)
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))

	noExp := validClaims(ScopeCleanup)
	noExp.ExpiresAt = nil

	noSub := validClaims(ScopeCleanup)
	noSub.Subject = ""

	stringScope := validClaims()
	stringScope.ScopeString = "openid " + ScopeCleanup

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{"валидный токен (scopes)", "Bearer " + generateTestToken(t, key, validClaims(ScopeCleanup)), http.StatusOK},
		{"валидный токен (scope)", "Bearer " + generateTestToken(t, key, stringScope), http.StatusOK},
		{"нет заголовка", "", http.StatusUnauthorized},
		{"не Bearer", "Basic abc", http.StatusUnauthorized},
		{"пустой токен", "Bearer ", http.StatusUnauthorized},
		{"мусор вместо токена", "Bearer not.a.jwt", http.StatusUnauthorized},
		{"чужой ключ", "Bearer " + generateTestToken(t, otherKey, validClaims(ScopeCleanup)), http.StatusUnauthorized},
		{"просроченный", "Bearer " + generateTestToken(t, key, expired), http.StatusUnauthorized},
		{"без exp", "Bearer " + generateTestToken(t, key, noExp), http.StatusUnauthorized},
		{"без sub", "Bearer " + generateTestToken(t, key, noSub), http.StatusUnauthorized},
		{"нет нужного scope", "Bearer " + generateTestToken(t, key, validClaims("content:read")), http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			req := httptest.NewRequest(http.MethodPost, "/api/cron/cleanup", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			protectedHandler(auth, &called).ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("статус = %d, ожидается %d, тело: %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if called != (tt.wantStatus == http.StatusOK) {
				t.Errorf("обработчик вызван = %v", called)
			}
		})
	}
}

func TestProtectPaths(t *testing.T) {
	deny := func(http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		})
	}
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	h := ProtectPaths(deny, "/api/cron/cleanup")(ok)

	for path, want := range map[string]int{
		"/api/cron/cleanup":  http.StatusUnauthorized,
		"/api/content/demo":  http.StatusOK,
		"/health/live":       http.StatusOK,
		"/api/cron/cleanup/": http.StatusOK,
	} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != want {
			t.Errorf("%s: статус = %d, ожидается %d", path, rec.Code, want)
		}
	}
}
