package mw

import (
	"net/http"
	"strconv"
	"time"

	"github.com/sitedesk/foreman/pkg/core"
	"github.com/sitedesk/foreman/pkg/gateway/auth"
	"github.com/sitedesk/foreman/pkg/gateway/ratelimit"
)

func RateLimit(limiter *ratelimit.Limiter, next http.Handler) http.Handler {
	if limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Health endpoints must remain cheap and reliable.
		if r.URL.Path == "/healthz" || r.URL.Path == "/readyz" {
			next.ServeHTTP(w, r)
			return
		}
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		dec := limiter.AcquireRequest(principalKey(r), time.Now())
		if !dec.Allowed {
			writeRateLimited(w, r, "rate limit exceeded", dec.RetryAfter)
			return
		}
		if dec.Permit != nil {
			defer dec.Permit.Release()
		}

		next.ServeHTTP(w, r)
	})
}

// StreamLimit caps concurrent streaming responses per principal. The permit
// is held for the full life of the stream, not just the handshake.
func StreamLimit(limiter *ratelimit.Limiter, next http.Handler) http.Handler {
	if limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dec := limiter.AcquireStream(principalKey(r), time.Now())
		if !dec.Allowed {
			writeRateLimited(w, r, "too many concurrent streams", dec.RetryAfter)
			return
		}
		defer dec.Permit.Release()

		next.ServeHTTP(w, r)
	})
}

func principalKey(r *http.Request) string {
	p, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		return "anonymous"
	}
	if p.UserID != "" {
		return ratelimit.PrincipalKeyFromUserID(p.UserID)
	}
	return ratelimit.PrincipalKeyFromAPIKey(p.APIKey)
}

func writeRateLimited(w http.ResponseWriter, r *http.Request, message string, retryAfter int) {
	reqID, _ := RequestIDFrom(r.Context())
	errBody := &core.Error{
		Type:      core.ErrRateLimit,
		Message:   message,
		RequestID: reqID,
	}
	if retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		errBody.RetryAfter = &retryAfter
	}
	writeJSONError(w, http.StatusTooManyRequests, errBody)
}
