package channels

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// maxTrackedSenders caps the limiter map so unknown senders rotating
// ids cannot exhaust memory.
const maxTrackedSenders = 4096

// UnknownSenderLimiter throttles messages from senders we cannot map
// to a user. Safe for concurrent use.
type UnknownSenderLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	perMin   int
}

func NewUnknownSenderLimiter(perMinute int) *UnknownSenderLimiter {
	if perMinute <= 0 {
		perMinute = 20
	}
	return &UnknownSenderLimiter{
		limiters: make(map[string]*rate.Limiter),
		perMin:   perMinute,
	}
}

// Allow reports whether the sender is within its per-minute budget.
func (l *UnknownSenderLimiter) Allow(senderID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.limiters) >= maxTrackedSenders {
		for k := range l.limiters {
			delete(l.limiters, k)
			break
		}
	}

	lim, ok := l.limiters[senderID]
	if !ok {
		lim = rate.NewLimiter(rate.Every(time.Minute/time.Duration(l.perMin)), l.perMin)
		l.limiters[senderID] = lim
	}
	return lim.Allow()
}
