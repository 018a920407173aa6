package rest

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/baechuer/notify-platform/internal/domain"
	"github.com/baechuer/notify-platform/internal/metrics"
	"github.com/baechuer/notify-platform/internal/security"
	"github.com/baechuer/notify-platform/internal/store"
)

const requestIDHeader = "X-Request-Id"

type ctxKey int

const (
	ctxKeyRequestID ctxKey = iota
	ctxKeyUserID
	ctxKeyServiceName
)

// RequestID injects a correlation id into context and response header.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := r.Header.Get(requestIDHeader)
		if rid == "" {
			rid = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, rid)

		ctx := context.WithValue(r.Context(), ctxKeyRequestID, rid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestIDFrom returns the correlation id, or "".
func RequestIDFrom(ctx context.Context) string {
	rid, _ := ctx.Value(ctxKeyRequestID).(string)
	return rid
}

// UserIDFrom returns the authenticated user id, or "".
func UserIDFrom(ctx context.Context) string {
	uid, _ := ctx.Value(ctxKeyUserID).(string)
	return uid
}

// ServiceNameFrom returns the authenticated worker identity, or "".
func ServiceNameFrom(ctx context.Context) string {
	name, _ := ctx.Value(ctxKeyServiceName).(string)
	return name
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(status int) {
	rec.status = status
	rec.ResponseWriter.WriteHeader(status)
}

// HTTPLogger writes one structured access log line per request.
func HTTPLogger(lg zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			lg.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", rec.status).
				Dur("took", time.Since(start)).
				Str("request_id", RequestIDFrom(r.Context())).
				Msg("http request")
		})
	}
}

// rateLimitExempt paths never count against the limiter.
func rateLimitExempt(path string) bool {
	return strings.HasPrefix(path, "/health") || path == "/metrics"
}

// RateLimit enforces a fixed per-minute budget per caller. Limiter backend
// errors fail open: rejecting all traffic when Redis blips is worse than
// briefly not limiting. Responses carry the draft RateLimit headers.
func RateLimit(limiter *store.FixedWindowLimiter, perMinute int, enabled bool, lg zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !enabled || rateLimitExempt(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			decision, err := limiter.Allow(r.Context(), limiterIdentifier(r), perMinute, time.Minute)
			if err != nil {
				lg.Warn().Err(err).Msg("rate limiter unavailable; allowing request")
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))

			if !decision.Allowed {
				metrics.RecordRateLimited()
				retryAfter := int(decision.RetryAfter.Seconds())
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				Fail(w, http.StatusTooManyRequests, string(domain.ErrCodeRateLimited),
					"rate limit exceeded", RequestIDFrom(r.Context()))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// limiterIdentifier buckets callers by credential, not identity: the limiter
// runs before Auth, so the quota key is a prefix of the presented API key or
// bearer token, falling back to the client IP for anonymous traffic.
func limiterIdentifier(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return "key:" + credentialPrefix(key)
	}
	if auth := r.Header.Get("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return "tok:" + credentialPrefix(strings.TrimSpace(token))
		}
	}
	return "ip:" + clientIP(r)
}

// credentialPrefix keeps enough of the credential to separate callers without
// storing whole secrets in limiter keys.
func credentialPrefix(secret string) string {
	const n = 16
	if len(secret) > n {
		return secret[:n]
	}
	return secret
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.IndexByte(fwd, ','); idx > 0 {
			return strings.TrimSpace(fwd[:idx])
		}
		return strings.TrimSpace(fwd)
	}
	host := r.RemoteAddr
	if idx := strings.LastIndexByte(host, ':'); idx > 0 {
		host = host[:idx]
	}
	return host
}

// Auth accepts either a bearer JWT or an X-API-Key header on client-facing
// endpoints.
func Auth(verifier *security.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rid := RequestIDFrom(r.Context())

			if auth := r.Header.Get("Authorization"); auth != "" {
				token, ok := strings.CutPrefix(auth, "Bearer ")
				if !ok {
					Fail(w, http.StatusUnauthorized, string(domain.ErrCodeUnauthorized),
						"malformed authorization header", rid)
					return
				}
				claims, err := verifier.VerifyJWT(strings.TrimSpace(token))
				if err != nil {
					FailErr(w, err, rid)
					return
				}
				ctx := context.WithValue(r.Context(), ctxKeyUserID, claims.UserID)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			if key := r.Header.Get("X-API-Key"); key != "" {
				if err := verifier.VerifyAPIKey(key); err != nil {
					FailErr(w, err, rid)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			Fail(w, http.StatusUnauthorized, string(domain.ErrCodeUnauthorized),
				"missing credentials", rid)
		})
	}
}

// ServiceAuth guards the internal status endpoints with worker tokens.
func ServiceAuth(verifier *security.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			name, err := verifier.VerifyServiceToken(r.Header.Get("X-Service-Token"))
			if err != nil {
				FailErr(w, err, RequestIDFrom(r.Context()))
				return
			}
			ctx := context.WithValue(r.Context(), ctxKeyServiceName, name)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
