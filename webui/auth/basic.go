package auth

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"photomaker/logging"

	"go.uber.org/zap"
)

const (
	DefaultRealm        = "PhotoMaker"
	DefaultMaxAttempts  = 5
	DefaultWindow       = time.Minute
	DefaultBlockTimeout = 5 * time.Minute
)

// Config tunes BasicAuth. Zero fields take the defaults.
type Config struct {
	Realm        string
	Cost         int
	MaxAttempts  int
	Window       time.Duration
	BlockTimeout time.Duration
}

// BasicAuth is middleware requiring the shared password over HTTP basic
// auth. The user name is ignored. The password is held only as a bcrypt
// hash; the last accepted password is remembered so image and API
// requests of a logged-in browser do not each pay for a bcrypt compare.
type BasicAuth struct {
	hash    string
	realm   string
	limiter *RateLimiter
	logger  *logging.Logger

	mu       sync.RWMutex
	accepted []byte
}

// NewBasicAuth hashes password, or uses it as is when it already is a
// bcrypt hash so WEBUI_PASSWORD need not hold plain text. An empty
// password is an error; callers skip the middleware entirely when no
// password is configured.
func NewBasicAuth(password string, cfg Config, logger *logging.Logger) (*BasicAuth, error) {
	if cfg.Realm == "" {
		cfg.Realm = DefaultRealm
	}
	if cfg.Cost == 0 {
		cfg.Cost = DefaultCost
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = DefaultBlockTimeout
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	hash := password
	if !IsValidHash(password) {
		var err error
		if hash, err = HashPasswordWithCost(password, cfg.Cost); err != nil {
			return nil, err
		}
	}
	return &BasicAuth{
		hash:    hash,
		realm:   cfg.Realm,
		limiter: NewRateLimiter(cfg.MaxAttempts, cfg.Window, cfg.BlockTimeout),
		logger:  logger.Named("auth"),
	}, nil
}

// Middleware rejects requests without the password with 401, and
// clients with too many recent failures with 429.
func (a *BasicAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := remoteIP(r)
		if ok, wait := a.limiter.Allow(ip); !ok {
			a.logger.Warn("Login blocked", zap.String("ip", ip), zap.Duration("remaining", wait))
			w.Header().Set("Retry-After", retryAfter(wait))
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}

		_, password, ok := r.BasicAuth()
		if !ok {
			a.challenge(w)
			return
		}
		if !a.check(password) {
			a.limiter.RecordFailure(ip)
			a.logger.Info("Rejected password", zap.String("ip", ip), zap.Int("failures", a.limiter.Failures(ip)))
			a.challenge(w)
			return
		}
		a.limiter.Reset(ip)
		next.ServeHTTP(w, r)
	})
}

// Limiter exposes the failure tracker for periodic cleanup.
func (a *BasicAuth) Limiter() *RateLimiter {
	return a.limiter
}

func (a *BasicAuth) check(password string) bool {
	if password == "" {
		return false
	}
	a.mu.RLock()
	accepted := a.accepted
	a.mu.RUnlock()
	if accepted != nil && subtle.ConstantTimeCompare(accepted, []byte(password)) == 1 {
		return true
	}

	if VerifyPassword(password, a.hash) != nil {
		return false
	}
	a.mu.Lock()
	a.accepted = []byte(password)
	a.mu.Unlock()
	return true
}

func (a *BasicAuth) challenge(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="`+a.realm+`", charset="UTF-8"`)
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
}

func remoteIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i >= 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func retryAfter(d time.Duration) string {
	seconds := int(d.Seconds())
	if seconds < 1 {
		seconds = 1
	}
	return strconv.Itoa(seconds)
}
