package registry

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Cache is the registration cache: a bounded, write-expiring mapping from
// gateway URI string to registration record.
//
// Two independent timers govern an entry's lifetime. Write-expiry is a
// hard eviction a fixed duration (checkExpiresTime) after the last write,
// implemented here by go-cache's own per-entry TTL (reset on every Set).
// Logical expiry is driven entirely by Record.Expires / Record.RegisteredOn
// and is evaluated by IsExpired; it is never unified with write-expiry even
// though both default to the same duration, because they answer different
// questions: write-expiry bounds memory retention of dead gateways, logical
// expiry drives whether the control loop re-registers.
type Cache struct {
	c *gocache.Cache
}

// NewCache creates a Cache whose write-expiry is writeExpiry. Entries are
// swept for expiration at writeExpiry/2 intervals, matching go-cache's
// recommended cleanup cadence.
func NewCache(writeExpiry time.Duration) *Cache {
	cleanup := writeExpiry / 2
	if cleanup <= 0 {
		cleanup = time.Second
	}
	return &Cache{c: gocache.New(writeExpiry, cleanup)}
}

// Put inserts or replaces the record for uri, resetting its write-expiry.
func (c *Cache) Put(uri string, r Record) {
	c.c.SetDefault(uri, r)
}

// GetIfPresent returns the current entry for uri, or nil if never written
// or evicted by write-expiry.
func (c *Cache) GetIfPresent(uri string) *Record {
	v, ok := c.c.Get(uri)
	if !ok {
		return nil
	}
	r := v.(Record)
	return &r
}

// Invalidate removes uri immediately.
func (c *Cache) Invalidate(uri string) {
	c.c.Delete(uri)
}

// Snapshot returns a materialized copy of all live records. Order is
// unspecified.
func (c *Cache) Snapshot() []Record {
	items := c.c.Items()
	out := make([]Record, 0, len(items))
	for _, item := range items {
		out = append(out, item.Object.(Record))
	}
	return out
}

// Size returns the number of live entries.
func (c *Cache) Size() int {
	return len(c.c.Items())
}

// IsExpired reports whether uri has no entry, or its entry's logical
// expiry (record age vs. record.Expires) has been reached.
func (c *Cache) IsExpired(uri string, nowMillis int64) bool {
	r := c.GetIfPresent(uri)
	if r == nil {
		return true
	}
	ageSeconds := (nowMillis - r.RegisteredOn) / 1000
	return ageSeconds >= int64(r.Expires)
}

// EffectiveExpires computes the local view of a server-granted lifetime E,
// per §4.2: E minus two tick-intervals, so the local view expires before
// the server's view even across one missed tick. Checking expires can be
// zero or negative when E is small (boundary case); callers must still
// store the record so it is visible via Snapshot, and IsExpired will then
// report true immediately.
func EffectiveExpires(serverExpires int, checkExpiresMinutes time.Duration) int {
	return serverExpires - 2*60*int(checkExpiresMinutes/time.Minute)
}
