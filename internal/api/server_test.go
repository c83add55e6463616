package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/routrgw/gwreg/internal/registry"
)

type fakeSnapshotter struct {
	records  []registry.Record
	statuses []registry.Status
}

func (f *fakeSnapshotter) Snapshot() []registry.Record    { return f.records }
func (f *fakeSnapshotter) AllStatuses() []registry.Status { return f.statuses }
func (f *fakeSnapshotter) GetStatus(uri string) (registry.Status, bool) {
	for _, s := range f.statuses {
		if s.URI == uri {
			return s, true
		}
	}
	return registry.Status{}, false
}

func bearerToken(t *testing.T, secret []byte) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}
	return signed
}

func TestServerHealthzIsUnauthenticated(t *testing.T) {
	srv := NewServer(&fakeSnapshotter{}, []byte("secret"), time.Now())
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestServerRegistrationsRequiresAuth(t *testing.T) {
	srv := NewServer(&fakeSnapshotter{}, []byte("secret"), time.Now())
	req := httptest.NewRequest(http.MethodGet, "/v1/registrations", nil)
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestServerRegistrationsListsAll(t *testing.T) {
	secret := []byte("secret")
	snap := &fakeSnapshotter{statuses: []registry.Status{
		{GatewayRef: "gw-1", URI: "sip:trunk1@x.com", State: registry.StateRegistered},
		{GatewayRef: "gw-2", URI: "sip:trunk2@x.com", State: registry.StateFailed, LastError: "timeout"},
	}}
	srv := NewServer(snap, secret, time.Now())

	req := httptest.NewRequest(http.MethodGet, "/v1/registrations", nil)
	req.Header.Set("Authorization", "Bearer "+bearerToken(t, secret))
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body = %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	var body struct {
		Data []registrationView `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if len(body.Data) != 2 {
		t.Fatalf("len(data) = %d, want 2", len(body.Data))
	}
}

func TestServerRegistrationByURIFound(t *testing.T) {
	secret := []byte("secret")
	snap := &fakeSnapshotter{statuses: []registry.Status{
		{GatewayRef: "gw-1", URI: "sip:trunk1@x.com", State: registry.StateRegistered},
	}}
	srv := NewServer(snap, secret, time.Now())

	req := httptest.NewRequest(http.MethodGet, "/v1/registrations/sip:trunk1@x.com", nil)
	req.Header.Set("Authorization", "Bearer "+bearerToken(t, secret))
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body = %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	var body struct {
		Data registrationView `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if body.Data.URI != "sip:trunk1@x.com" {
		t.Errorf("data.URI = %q, want sip:trunk1@x.com", body.Data.URI)
	}
}

func TestServerRegistrationByURINotFound(t *testing.T) {
	secret := []byte("secret")
	srv := NewServer(&fakeSnapshotter{}, secret, time.Now())

	req := httptest.NewRequest(http.MethodGet, "/v1/registrations/sip:nobody@x.com", nil)
	req.Header.Set("Authorization", "Bearer "+bearerToken(t, secret))
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}
