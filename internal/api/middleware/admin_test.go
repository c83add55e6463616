package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

func signAdminToken(t *testing.T, secret []byte, expiresAt time.Time) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		Issuer:    "gwregd",
		Subject:   "operator",
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}
	return signed
}

func TestRequireAdminAuthMissingHeader(t *testing.T) {
	h := RequireAdminAuth([]byte("secret"))(okHandler())
	req := httptest.NewRequest(http.MethodGet, "/v1/registrations", nil)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestRequireAdminAuthMalformedHeader(t *testing.T) {
	h := RequireAdminAuth([]byte("secret"))(okHandler())
	req := httptest.NewRequest(http.MethodGet, "/v1/registrations", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestRequireAdminAuthValidToken(t *testing.T) {
	secret := []byte("admin-secret")
	h := RequireAdminAuth(secret)(okHandler())

	token := signAdminToken(t, secret, time.Now().Add(time.Hour))
	req := httptest.NewRequest(http.MethodGet, "/v1/registrations", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d, body = %s", rec.Code, http.StatusOK, rec.Body.String())
	}
}

func TestRequireAdminAuthExpiredToken(t *testing.T) {
	secret := []byte("admin-secret")
	h := RequireAdminAuth(secret)(okHandler())

	token := signAdminToken(t, secret, time.Now().Add(-time.Hour))
	req := httptest.NewRequest(http.MethodGet, "/v1/registrations", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestRequireAdminAuthWrongSecret(t *testing.T) {
	h := RequireAdminAuth([]byte("admin-secret"))(okHandler())

	token := signAdminToken(t, []byte("other-secret"), time.Now().Add(time.Hour))
	req := httptest.NewRequest(http.MethodGet, "/v1/registrations", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}
