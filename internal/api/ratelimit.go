package api

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// maxLimitedClients bounds the number of client limiters held in memory; the
// least recently seen client is forgotten first.
const maxLimitedClients = 10000

// clientLimiter rate-limits requests per client IP with one token bucket
// each.
type clientLimiter struct {
	limit   rate.Limit
	burst   int
	now     func() time.Time
	clients *lru.Cache[string, *rate.Limiter]
}

func newClientLimiter(perSecond float64, burst int) *clientLimiter {
	clients, _ := lru.New[string, *rate.Limiter](maxLimitedClients)
	return &clientLimiter{
		limit:   rate.Limit(perSecond),
		burst:   max(burst, 1),
		now:     time.Now,
		clients: clients,
	}
}

func (l *clientLimiter) limiter(key string) *rate.Limiter {
	if lim, ok := l.clients.Get(key); ok {
		return lim
	}
	lim := rate.NewLimiter(l.limit, l.burst)
	if prev, ok, _ := l.clients.PeekOrAdd(key, lim); ok {
		return prev
	}
	return lim
}

// take consumes one token for key. When none is available it returns false
// and the time until one is.
func (l *clientLimiter) take(key string) (bool, time.Duration) {
	now := l.now()
	res := l.limiter(key).ReserveN(now, 1)
	if !res.OK() {
		return false, time.Second
	}
	if wait := res.DelayFrom(now); wait > 0 {
		res.CancelAt(now)
		return false, wait
	}
	return true, 0
}

// middleware answers 429 with Retry-After once a client's bucket is empty.
func (l *clientLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientIP(r)
		ok, wait := l.take(key)
		if !ok {
			secs := int(math.Ceil(wait.Seconds()))
			w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
			log.Debug().Str("client", key).Dur("retry_after", wait).Msg("api: rate limited")
			writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP is the request's remote host, already rewritten by RealIP when
// a proxy header is present.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
