package middleware

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"

	"commune/internal/auth"
	"commune/internal/config"
	"commune/pkg/logger"
)

type contextKey string

const (
	UserContextKey contextKey = "user"
	UserIDKey      contextKey = "user_id"
)

// CORS middleware with configuration
func CORS(cfg config.CORSConfig) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   cfg.AllowedMethods,
		AllowedHeaders:   cfg.AllowedHeaders,
		ExposedHeaders:   cfg.ExposedHeaders,
		AllowCredentials: cfg.AllowCredentials,
		MaxAge:           int(cfg.MaxAge.Seconds()),
	})
}

// Logger is the structured request logging middleware
func Logger(log *logger.Logger) func(http.Handler) http.Handler {
	return middleware.RequestLogger(&StructuredLogger{log})
}

type StructuredLogger struct {
	Logger *logger.Logger
}

func (l *StructuredLogger) NewLogEntry(r *http.Request) middleware.LogEntry {
	entry := &StructuredLoggerEntry{Logger: l.Logger}
	logFields := map[string]interface{}{
		"method":     r.Method,
		"url":        r.URL.Path,
		"proto":      r.Proto,
		"user_agent": r.Header.Get("User-Agent"),
		"remote_ip":  GetRealIP(r),
	}

	if reqID := middleware.GetReqID(r.Context()); reqID != "" {
		logFields["req_id"] = reqID
	}

	entry.Logger = l.Logger.WithFields(logFields)
	entry.Logger.Info("request started")
	return entry
}

type StructuredLoggerEntry struct {
	Logger *logger.Logger
}

func (l *StructuredLoggerEntry) Write(status, bytes int, header http.Header, elapsed time.Duration, extra interface{}) {
	l.Logger.With(
		"status", status,
		"bytes", bytes,
		"elapsed_ms", float64(elapsed.Nanoseconds())/1000000.0,
	).Info("request completed")
}

func (l *StructuredLoggerEntry) Panic(v interface{}, stack []byte) {
	l.Logger.With(
		"panic", fmt.Sprintf("%+v", v),
		"stack", string(stack),
	).Error("request panicked")
}

// RateLimit applies Redis sliding-window rate limiting per client IP
func RateLimit(rdb *redis.Client, cfg config.RateLimitConfig) func(http.Handler) http.Handler {
	if !cfg.Enabled {
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			key := fmt.Sprintf("rate_limit:%s", GetRealIP(r))

			now := time.Now().Unix()
			window := int64(60)

			pipe := rdb.Pipeline()
			pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", now-window))
			pipe.ZCard(ctx, key)
			pipe.ZAdd(ctx, key, redis.Z{Score: float64(now), Member: now})
			pipe.Expire(ctx, key, time.Duration(window)*time.Second)

			results, err := pipe.Exec(ctx)
			if err != nil {
				// Redis trouble must not take the API down.
				next.ServeHTTP(w, r)
				return
			}

			count := results[1].(*redis.IntCmd).Val()
			if count >= int64(cfg.RequestsPerMin) {
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.RequestsPerMin))
				w.Header().Set("X-RateLimit-Remaining", "0")
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(now+window, 10))
				http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.RequestsPerMin))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(int64(cfg.RequestsPerMin)-count-1, 10))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(now+window, 10))

			next.ServeHTTP(w, r)
		})
	}
}

// Auth requires a valid JWT bearer token
func Auth(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractToken(r)
			if token == "" {
				http.Error(w, "Missing authorization token", http.StatusUnauthorized)
				return
			}

			claims, err := auth.Verify(token, jwtSecret)
			if err != nil {
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), UserIDKey, claims.UserID)
			ctx = context.WithValue(ctx, UserContextKey, &claims)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OptionalAuth attaches claims when a valid token is present but never fails
func OptionalAuth(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token := extractToken(r); token != "" {
				if claims, err := auth.Verify(token, jwtSecret); err == nil {
					ctx := context.WithValue(r.Context(), UserIDKey, claims.UserID)
					ctx = context.WithValue(ctx, UserContextKey, &claims)
					r = r.WithContext(ctx)
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Recovery converts handler panics into 500 responses with structured logging
func Recovery(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.With(
						"error", err,
						"method", r.Method,
						"url", r.URL.Path,
						"remote_ip", GetRealIP(r),
					).Error("panic recovered")

					http.Error(w, "Internal server error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// Security sets baseline security headers
func Security() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

			if strings.HasPrefix(r.URL.Path, "/api") {
				w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			}

			next.ServeHTTP(w, r)
		})
	}
}

// GetRealIP extracts the client IP behind proxies and load balancers
func GetRealIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	return r.RemoteAddr
}

// extractToken pulls a bearer token from the Authorization header or cookie
func extractToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.ToLower(parts[0]) == "bearer" {
			return parts[1]
		}
	}

	if cookie, err := r.Cookie("auth_token"); err == nil {
		return cookie.Value
	}

	return ""
}

// ContentType rejects bodies that are not the expected media type
func ContentType(contentType string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
				ct := r.Header.Get("Content-Type")

				// Bodyless POSTs pass through.
				if (r.ContentLength == 0 || r.Body == nil) && ct == "" {
					next.ServeHTTP(w, r)
					return
				}

				mt, _, err := mime.ParseMediaType(ct)
				if err != nil || mt != contentType {
					http.Error(w, fmt.Sprintf("Content-Type must be %s", contentType), http.StatusUnsupportedMediaType)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// LimitRequestSize caps the request body size
func LimitRequestSize(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				http.Error(w, "Request too large", http.StatusRequestEntityTooLarge)
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// GetUserID extracts the authenticated user id from the request context
func GetUserID(ctx context.Context) string {
	if userID, ok := ctx.Value(UserIDKey).(string); ok {
		return userID
	}
	return ""
}

// GetUserClaims extracts the full JWT claims from the request context
func GetUserClaims(ctx context.Context) (*auth.Claims, bool) {
	if claims, ok := ctx.Value(UserContextKey).(*auth.Claims); ok {
		return claims, true
	}
	return nil, false
}
