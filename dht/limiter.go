package dht

import (
	"net"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// limiterTable hands out one token bucket per remote host. The table is bounded; the
// least recently active hosts lose their bucket first.
type limiterTable struct {
	limit   rate.Limit
	burst   int
	buckets *lru.Cache[string, *rate.Limiter]
}

func newLimiterTable(perSecond float64, burst, size int) (*limiterTable, error) {
	cache, err := lru.New[string, *rate.Limiter](size)
	if err != nil {
		return nil, err
	}
	return &limiterTable{limit: rate.Limit(perSecond), burst: burst, buckets: cache}, nil
}

func (l *limiterTable) allow(remote string) bool {
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		host = remote
	}
	lim, ok := l.buckets.Get(host)
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		if prev, found, _ := l.buckets.PeekOrAdd(host, lim); found {
			lim = prev
		}
	}
	return lim.Allow()
}
