package reading

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// Cache holds the latest Reading of one session.
// Readers never block; writers are serialized.
type Cache struct {
	mu      sync.Mutex
	updated chan struct{}

	snap atomic.Pointer[Reading]
	now  func() time.Time
}

// NewCache creates an empty cache
func NewCache() *Cache {
	c := &Cache{
		updated: make(chan struct{}),
		now:     time.Now,
	}
	c.snap.Store(&Reading{})
	return c
}

// Latest returns a snapshot of the current reading
func (c *Cache) Latest() Reading {
	return *c.snap.Load()
}

// Age returns the time since the last accepted frame; ok is false when nothing has arrived
func (c *Cache) Age() (time.Duration, bool) {
	r := c.snap.Load()
	if r.Arrival.IsZero() {
		return 0, false
	}
	return c.now().Sub(r.Arrival), true
}

// AgeMillis is Age in milliseconds, math.MaxInt64 when nothing has arrived
func (c *Cache) AgeMillis() int64 {
	age, ok := c.Age()
	if !ok {
		return math.MaxInt64
	}
	return age.Milliseconds()
}

// Reset clears the reading; the sequence number is kept so it stays monotonic
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap.Store(&Reading{Seq: c.snap.Load().Seq})
}

// Updated returns a channel that is closed by the next accepted frame
func (c *Cache) Updated() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.updated
}

// Apply decodes payload and stores it. A malformed payload leaves the cache unchanged.
func (c *Cache) Apply(payload []byte) (Reading, error) {
	f, err := Decode(payload)
	if err != nil {
		return Reading{}, err
	}
	return c.Store(f), nil
}

// Store merges f into the current reading and stamps its arrival.
// Absent channel B and transmit timing keep their previous values;
// absent detection timing resets to zero.
func (c *Cache) Store(f Frame) Reading {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.snap.Load()
	a := f.ChannelA
	next := &Reading{
		ChannelA:        &a,
		ChannelB:        prev.ChannelB,
		MsSinceTransmit: prev.MsSinceTransmit,
		Arrival:         c.now(),
		Seq:             prev.Seq + 1,
	}
	if f.ChannelB != nil {
		b := *f.ChannelB
		next.ChannelB = &b
	}
	if f.MsSinceTransmit != nil {
		tx := *f.MsSinceTransmit
		next.MsSinceTransmit = &tx
	}
	if f.MsSinceDetection != nil {
		next.MsSinceDetection = *f.MsSinceDetection
	}

	c.snap.Store(next)
	close(c.updated)
	c.updated = make(chan struct{})
	return *next
}
