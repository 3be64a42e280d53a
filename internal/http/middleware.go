package http

import (
	"bytes"
	"context"
	"crypto/rsa"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/robertarktes/rink-registrations/internal/domain"
	"github.com/robertarktes/rink-registrations/internal/idempotency"
	"github.com/robertarktes/rink-registrations/internal/observability"
	"github.com/robertarktes/rink-registrations/internal/rateLimit"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelhttp "go.opentelemetry.io/otel/propagation"
)

func RequestIDMiddleware(next http.Handler) http.Handler {
	return middleware.RequestID(next)
}

// LoggerMiddleware stores a request-scoped logger in the context and records
// the request count once the route pattern is known.
func LoggerMiddleware(logger observability.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqID := middleware.GetReqID(r.Context())
			entry := logger.WithField("request_id", reqID)
			ctx := observability.ContextWithLogger(r.Context(), entry)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			route := r.URL.Path
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			observability.RequestsTotal.WithLabelValues(route, strconv.Itoa(status), r.Method).Inc()
			entry.WithFields(map[string]interface{}{
				"method":      r.Method,
				"route":       route,
				"status":      status,
				"duration_ms": time.Since(start).Milliseconds(),
			}).Debug("request")
		})
	}
}

type AdminClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// JWTVerifier accepts RS256 tokens carrying role=admin.
type JWTVerifier struct {
	key    *rsa.PublicKey
	parser *jwt.Parser
}

func NewJWTVerifier(publicKeyPEM string) (*JWTVerifier, error) {
	key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(publicKeyPEM))
	if err != nil {
		return nil, errors.Wrap(err, "parse jwt public key")
	}
	return &JWTVerifier{
		key:    key,
		parser: jwt.NewParser(jwt.WithValidMethods([]string{"RS256"}), jwt.WithExpirationRequired()),
	}, nil
}

func (v *JWTVerifier) Verify(raw string) (*AdminClaims, error) {
	claims := &AdminClaims{}
	_, err := v.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return v.key, nil
	})
	if err != nil {
		return nil, errors.Wrapf(domain.ErrUnauthorized, "token: %v", err)
	}
	if claims.Role != "admin" {
		return nil, errors.Wrapf(domain.ErrUnauthorized, "role %q", claims.Role)
	}
	return claims, nil
}

func (v *JWTVerifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			writeError(w, r, errors.Wrap(domain.ErrUnauthorized, "missing bearer token"))
			return
		}
		claims, err := v.Verify(raw)
		if err != nil {
			writeError(w, r, err)
			return
		}
		logger := observability.LoggerFromContext(r.Context(), observability.NewNopLogger()).WithField("admin", claims.Subject)
		next.ServeHTTP(w, r.WithContext(observability.ContextWithLogger(r.Context(), logger)))
	})
}

type captureWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (c *captureWriter) WriteHeader(code int) {
	if c.status == 0 {
		c.status = code
	}
	c.ResponseWriter.WriteHeader(code)
}

func (c *captureWriter) Write(b []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}

// IdempotencyMiddleware requires an Idempotency-Key on POST and replays the
// first non-5xx response recorded for that key and path. A duplicate that
// arrives while the first request is still running gets 409.
func IdempotencyMiddleware(idemp *idempotency.Idempotency) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}
			key := r.Header.Get("Idempotency-Key")
			if key == "" {
				writeError(w, r, errors.Wrap(domain.ErrInvalidInput, "missing Idempotency-Key"))
				return
			}
			if len(key) < 16 || len(key) > 255 {
				writeError(w, r, errors.Wrap(domain.ErrInvalidInput, "invalid Idempotency-Key"))
				return
			}
			scope := r.Method + " " + r.URL.Path
			logger := observability.LoggerFromContext(r.Context(), observability.NewNopLogger())

			existing, err := idemp.Begin(r.Context(), scope, key)
			if err != nil {
				logger.WithError(err).Warn("idempotency claim failed")
				next.ServeHTTP(w, r)
				return
			}
			if existing != nil && existing.Pending {
				writeJSON(w, http.StatusConflict, errorBody{Error: "request_in_progress", Message: "a request with this Idempotency-Key is still in progress"})
				return
			}
			if existing != nil {
				if existing.ContentType != "" {
					w.Header().Set("Content-Type", existing.ContentType)
				}
				w.Header().Set("Idempotent-Replayed", "true")
				w.WriteHeader(existing.Status)
				w.Write(existing.Body)
				return
			}

			cw := &captureWriter{ResponseWriter: w}
			next.ServeHTTP(cw, r)
			ctx := context.WithoutCancel(r.Context())
			if cw.status == 0 || cw.status >= http.StatusInternalServerError {
				if err := idemp.Abandon(ctx, scope, key); err != nil {
					logger.WithError(err).Warn("idempotency release failed")
				}
				return
			}
			resp := idempotency.Response{
				Status:      cw.status,
				ContentType: w.Header().Get("Content-Type"),
				Body:        cw.body.Bytes(),
			}
			if err := idemp.Complete(ctx, scope, key, resp); err != nil {
				logger.WithError(err).Warn("idempotency store failed")
			}
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func RateLimitMiddleware(rl *rateLimit.RateLimiter) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.Allow(r.Context(), "ip:"+clientIP(r)) {
				writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate_limited", Message: "rate limit exceeded"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), otelhttp.HeaderCarrier(r.Header))
		tracer := otel.Tracer("http")
		ctx, span := tracer.Start(ctx, r.Method+" "+r.URL.Path)
		defer span.End()

		span.SetAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.url", r.URL.String()),
		)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
