package http

import (
	"math"
	"net/http"
	"strconv"
	"sync"

	"github.com/rs/zerolog"
	"github.com/wolfeidau/ausgabenzettel/internal/telemetry"
	"golang.org/x/time/rate"
)

// WriteRateLimit applies a token bucket per client certificate to requests
// with unsafe methods. Requests over the limit get 429. A non-positive
// perSecond disables limiting.
func WriteRateLimit(perSecond float64, burst int) func(http.Handler) http.Handler {
	if perSecond <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if burst < 1 {
		burst = 1
	}

	limiters := &limiterSet{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
	metrics := telemetry.GetMetrics()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isSafeMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			key := ClientIPFromContext(r.Context())
			if peer, ok := PeerFromContext(r.Context()); ok {
				key = peer.Fingerprint
			}

			reservation := limiters.get(key).Reserve()
			if delay := reservation.Delay(); delay > 0 {
				reservation.Cancel()
				metrics.RateLimitedTotal.Add(r.Context(), 1)
				zerolog.Ctx(r.Context()).Warn().Str("key", key).Dur("retry_after", delay).Msg("Write rate limited")

				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(delay.Seconds()))))
				http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

type limiterSet struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

// get returns the limiter for key. The set is bounded by the number of
// certificates the CA has issued, so entries are not evicted.
func (s *limiterSet) get(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.limiters[key]
	if !ok {
		l = rate.NewLimiter(s.limit, s.burst)
		s.limiters[key] = l
	}
	return l
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

