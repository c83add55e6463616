package registry

import (
	"testing"
	"time"
)

func TestCachePutAndGet(t *testing.T) {
	c := NewCache(time.Minute)
	r := Record{Username: "trunk1", Host: "sip.example.com", Expires: 3600, RegisteredOn: 1000}
	c.Put("sip:trunk1@sip.example.com", r)

	got := c.GetIfPresent("sip:trunk1@sip.example.com")
	if got == nil {
		t.Fatal("expected record, got nil")
	}
	if got.Username != "trunk1" || got.Host != "sip.example.com" {
		t.Errorf("got %+v, want username=trunk1 host=sip.example.com", got)
	}
}

func TestCacheGetIfPresentMissing(t *testing.T) {
	c := NewCache(time.Minute)
	if got := c.GetIfPresent("sip:nobody@nowhere"); got != nil {
		t.Errorf("expected nil for missing key, got %+v", got)
	}
}

func TestCacheInvalidate(t *testing.T) {
	c := NewCache(time.Minute)
	c.Put("sip:a@b", Record{Expires: 3600, RegisteredOn: 0})
	c.Invalidate("sip:a@b")
	if got := c.GetIfPresent("sip:a@b"); got != nil {
		t.Errorf("expected nil after invalidate, got %+v", got)
	}
}

func TestCacheSnapshotAndSize(t *testing.T) {
	c := NewCache(time.Minute)
	c.Put("sip:a@b", Record{Expires: 3600, RegisteredOn: 0})
	c.Put("sip:c@d", Record{Expires: 3600, RegisteredOn: 0})

	if c.Size() != 2 {
		t.Errorf("Size() = %d, want 2", c.Size())
	}
	snap := c.Snapshot()
	if len(snap) != 2 {
		t.Errorf("Snapshot() len = %d, want 2", len(snap))
	}
}

func TestCacheIsExpired(t *testing.T) {
	c := NewCache(time.Minute)

	tests := []struct {
		name string
		put  bool
		rec  Record
		now  int64
		want bool
	}{
		{name: "absent key is expired", put: false, now: 0, want: true},
		{
			name: "within logical lifetime",
			put:  true,
			rec:  Record{Expires: 3600, RegisteredOn: 0},
			now:  1000 * 1000, // 1000s elapsed
			want: false,
		},
		{
			name: "past logical lifetime",
			put:  true,
			rec:  Record{Expires: 3600, RegisteredOn: 0},
			now:  3601 * 1000,
			want: true,
		},
		{
			name: "exactly at boundary counts as expired",
			put:  true,
			rec:  Record{Expires: 3600, RegisteredOn: 0},
			now:  3600 * 1000,
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			uri := "sip:x@y-" + tt.name
			if tt.put {
				c.Put(uri, tt.rec)
			}
			got := c.IsExpired(uri, tt.now)
			if got != tt.want {
				t.Errorf("IsExpired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEffectiveExpires(t *testing.T) {
	tests := []struct {
		name                string
		serverExpires       int
		checkExpiresMinutes time.Duration
		want                int
	}{
		{"one minute tick", 3600, time.Minute, 3480},
		{"sixty minute tick", 3600, 60 * time.Minute, -3600},
		{"zero server expires", 0, time.Minute, -120},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EffectiveExpires(tt.serverExpires, tt.checkExpiresMinutes)
			if got != tt.want {
				t.Errorf("EffectiveExpires(%d, %v) = %d, want %d", tt.serverExpires, tt.checkExpiresMinutes, got, tt.want)
			}
		})
	}
}
