package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/emiago/sipgo/sip"

	"github.com/routrgw/gwreg/internal/sipprovider"
)

// fakeProvider is a hand-written fake implementing sipprovider.Provider for
// tests that exercise the registration subsystem without a real SIP stack.
type fakeProvider struct {
	points map[string]sipprovider.ListeningPoint

	sendFunc func(ctx context.Context, req *sip.Request) (sipprovider.ClientTransaction, error)
}

func (f *fakeProvider) ListeningPoint(transport string) (sipprovider.ListeningPoint, error) {
	lp, ok := f.points[transport]
	if !ok {
		return sipprovider.ListeningPoint{}, sipprovider.ErrTransportUnavailable
	}
	return lp, nil
}

func (f *fakeProvider) NewCallID() string { return "fake-call-id" }
func (f *fakeProvider) NewBranch() string { return sip.RFC3261BranchMagicCookie + "fake" }

func (f *fakeProvider) SendRegister(ctx context.Context, req *sip.Request) (sipprovider.ClientTransaction, error) {
	if f.sendFunc != nil {
		return f.sendFunc(ctx, req)
	}
	return nil, errors.New("sendFunc not set")
}

func TestResolverResolveDefaults(t *testing.T) {
	p := &fakeProvider{points: map[string]sipprovider.ListeningPoint{
		"UDP": {Transport: "UDP", Host: "10.0.0.5", Port: 5060},
	}}
	r := NewResolver(p, "")

	got, err := r.Resolve("UDP", "", 0)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	want := ResolvedAddress{Host: "10.0.0.5", Port: 5060}
	if got != want {
		t.Errorf("Resolve() = %+v, want %+v", got, want)
	}
}

func TestResolverResolveNATOverride(t *testing.T) {
	p := &fakeProvider{points: map[string]sipprovider.ListeningPoint{
		"UDP": {Transport: "UDP", Host: "10.0.0.5", Port: 5060},
	}}
	r := NewResolver(p, "")

	got, err := r.Resolve("UDP", "203.0.113.9", 34000)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	want := ResolvedAddress{Host: "203.0.113.9", Port: 34000}
	if got != want {
		t.Errorf("Resolve() = %+v, want %+v", got, want)
	}
}

func TestResolverResolveExternAddrOverride(t *testing.T) {
	p := &fakeProvider{points: map[string]sipprovider.ListeningPoint{
		"UDP": {Transport: "UDP", Host: "10.0.0.5", Port: 5060},
	}}
	r := NewResolver(p, "203.0.113.1")

	got, err := r.Resolve("UDP", "", 0)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got.Host != "203.0.113.1" {
		t.Errorf("Resolve().Host = %q, want 203.0.113.1", got.Host)
	}
}

func TestResolverResolveUnknownTransport(t *testing.T) {
	p := &fakeProvider{points: map[string]sipprovider.ListeningPoint{}}
	r := NewResolver(p, "")

	_, err := r.Resolve("TCP", "", 0)
	if !errors.Is(err, ErrTransportUnavailable) {
		t.Errorf("Resolve() error = %v, want ErrTransportUnavailable", err)
	}
}
