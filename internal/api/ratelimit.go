package api

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/MikeSquared-Agency/debchat/internal/auth"
)

// bucketIdle is how long an unused bucket is kept. A bucket unused for a
// full minute has refilled, so dropping it loses nothing.
const bucketIdle = time.Minute

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// sendLimiter holds one token bucket per identity key. A burst of perMinute
// sends is allowed, refilled at perMinute per minute.
type sendLimiter struct {
	perMinute int
	now       func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

func newSendLimiter(perMinute int) *sendLimiter {
	return &sendLimiter{perMinute: perMinute, now: time.Now, buckets: make(map[string]*bucket)}
}

func (l *sendLimiter) Allow(key string) bool {
	if l.perMinute <= 0 {
		return true
	}
	now := l.now()
	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rate.Every(time.Minute/time.Duration(l.perMinute)), l.perMinute)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	l.mu.Unlock()
	return b.lim.AllowN(now, 1)
}

// cleanup drops buckets unused since before now-bucketIdle.
func (l *sendLimiter) cleanup(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > bucketIdle {
			delete(l.buckets, key)
			n++
		}
	}
	return n
}

func (l *sendLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Run prunes idle buckets until ctx is done.
func (l *sendLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(bucketIdle)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.cleanup(now)
		}
	}
}

// limiterKey buckets signed-in users by email and guests by remote address.
// Guest client cookies are minted on demand and cannot key a limit.
func limiterKey(id auth.Identity, r *http.Request) string {
	if id.IsAuthenticated() {
		return "user:" + id.Email
	}
	return "guest:" + remoteHost(r.RemoteAddr)
}

func remoteHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
