package registry

import (
	"context"
	"testing"

	"github.com/emiago/sipgo/sip"
)

func TestAwaitResponseSuccess(t *testing.T) {
	tx := newFakeClientTransaction()
	req := sip.NewRequest(sip.REGISTER, sip.Uri{Scheme: "sip", Host: "registrar.example.com"})
	want := sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil)
	tx.responses <- want

	got, err := awaitResponse(context.Background(), tx)
	if err != nil {
		t.Fatalf("awaitResponse() error = %v", err)
	}
	if got != want {
		t.Errorf("awaitResponse() = %v, want %v", got, want)
	}
}

func TestAwaitResponseTransactionDied(t *testing.T) {
	tx := newFakeClientTransaction()
	close(tx.done)

	_, err := awaitResponse(context.Background(), tx)
	if err != ErrTransactionDied {
		t.Errorf("awaitResponse() error = %v, want ErrTransactionDied", err)
	}
}

func TestAwaitResponseContextCancelled(t *testing.T) {
	tx := newFakeClientTransaction()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := awaitResponse(ctx, tx)
	if err == nil {
		t.Error("awaitResponse() error = nil, want context.Canceled")
	}
}

func TestIsAuthChallenge(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{int(sip.StatusUnauthorized), true},
		{int(sip.StatusProxyAuthRequired), true},
		{int(sip.StatusOK), false},
		{int(sip.StatusNotFound), false},
	}
	for _, tt := range tests {
		if got := isAuthChallenge(tt.status); got != tt.want {
			t.Errorf("isAuthChallenge(%d) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestChallengeResponseMissingHeader(t *testing.T) {
	req := sip.NewRequest(sip.REGISTER, sip.Uri{Scheme: "sip", Host: "registrar.example.com"})
	res := sip.NewResponseFromRequest(req, sip.StatusUnauthorized, "Unauthorized", nil)

	_, err := challengeResponse(res, "REGISTER", "sip:registrar.example.com", "trunk1", "secret")
	if err == nil {
		t.Error("challengeResponse() error = nil, want error for missing WWW-Authenticate")
	}
}

func TestChallengeResponseComputesAuthorization(t *testing.T) {
	req := sip.NewRequest(sip.REGISTER, sip.Uri{Scheme: "sip", Host: "registrar.example.com"})
	res := sip.NewResponseFromRequest(req, sip.StatusUnauthorized, "Unauthorized", nil)
	res.AppendHeader(sip.NewHeader("WWW-Authenticate", `Digest realm="example.com", nonce="abc123", algorithm=MD5, qop="auth"`))

	header, err := challengeResponse(res, "REGISTER", "sip:registrar.example.com", "trunk1", "secret")
	if err != nil {
		t.Fatalf("challengeResponse() error = %v", err)
	}
	if header == "" {
		t.Fatal("challengeResponse() returned empty header")
	}
	if header[:len("Authorization: Digest")] != "Authorization: Digest" {
		t.Errorf("challengeResponse() = %q, want it to start with \"Authorization: Digest\"", header)
	}
}

func TestChallengeResponseProxyAuthenticate(t *testing.T) {
	req := sip.NewRequest(sip.REGISTER, sip.Uri{Scheme: "sip", Host: "registrar.example.com"})
	res := sip.NewResponseFromRequest(req, sip.StatusProxyAuthRequired, "Proxy Authentication Required", nil)
	res.AppendHeader(sip.NewHeader("Proxy-Authenticate", `Digest realm="example.com", nonce="xyz789"`))

	header, err := challengeResponse(res, "REGISTER", "sip:registrar.example.com", "trunk1", "secret")
	if err != nil {
		t.Fatalf("challengeResponse() error = %v", err)
	}
	if header[:len("Proxy-Authorization:")] != "Proxy-Authorization:" {
		t.Errorf("challengeResponse() = %q, want it to start with \"Proxy-Authorization:\"", header)
	}
}
