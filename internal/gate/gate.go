// Package gate turns a presented credential into an admit or reject
// decision. A request moves through resolve, state check and quota check in
// that order; the first failing step ends it with a Rejection.
package gate

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/keygate/keygate/internal/keyhash"
	"github.com/keygate/keygate/internal/metrics"
	"github.com/keygate/keygate/internal/model"
	"github.com/keygate/keygate/internal/ratelimit"
	"github.com/keygate/keygate/internal/storage"
)

var (
	ErrMissingCredential  = errors.New("missing credential")
	ErrInvalidCredential  = errors.New("invalid credential")
	ErrInactiveKey        = errors.New("inactive key")
	ErrExpiredKey         = errors.New("expired key")
	ErrQuotaExceeded      = errors.New("quota exceeded")
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// DefaultLookupTimeout bounds the key lookup and the limiter call.
const DefaultLookupTimeout = 2 * time.Second

// KeyLookup resolves a secret hash to its key.
type KeyLookup interface {
	GetAPIKeyByHash(ctx context.Context, hash string) (*model.APIKey, error)
}

// Recorder receives the outcome of every admitted request.
type Recorder interface {
	Record(entry model.UsageLogEntry) bool
}

// Options adjusts the gate per route.
type Options struct {
	// Optional admits requests without a credential as anonymous.
	Optional bool
	// BypassQuota skips the limiter; the request is still recorded.
	BypassQuota bool
}

// Rejection is returned by Admit when a request must not proceed. It
// unwraps to one of the package sentinels.
type Rejection struct {
	Err        error
	Status     int
	Code       string
	Message    string
	RetryAfter int64 // seconds, set for quota rejections
	Decision   ratelimit.Decision
}

func (r *Rejection) Error() string { return r.Message }

func (r *Rejection) Unwrap() error { return r.Err }

// Admission is an admitted request. Key is nil for an anonymous request on
// an optional route.
type Admission struct {
	Key      *model.APIKey
	Decision ratelimit.Decision
	// Metered reports whether Decision came from the limiter.
	Metered bool
	Start   time.Time
}

// Anonymous reports whether the request carried no credential.
func (a *Admission) Anonymous() bool { return a.Key == nil }

// Outcome describes how an admitted request finished.
type Outcome struct {
	Endpoint    string
	Method      string
	StatusCode  int
	Duration    time.Duration
	Origin      string
	ClientAgent string
}

// Config tunes a Gate.
type Config struct {
	LookupTimeout time.Duration
	// Now overrides the clock used for expiry and quota windows.
	Now func() time.Time
}

// Gate evaluates credentials against the key store and the limiter.
type Gate struct {
	keys          KeyLookup
	limiter       ratelimit.Limiter
	recorder      Recorder
	logger        *slog.Logger
	lookupTimeout time.Duration
	now           func() time.Time
}

// New creates a Gate. recorder may be nil, in which case outcomes are
// discarded.
func New(keys KeyLookup, limiter ratelimit.Limiter, recorder Recorder, logger *slog.Logger, cfg Config) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = DefaultLookupTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Gate{
		keys:          keys,
		limiter:       limiter,
		recorder:      recorder,
		logger:        logger,
		lookupTimeout: cfg.LookupTimeout,
		now:           cfg.Now,
	}
}

// Admit decides whether credential may proceed. It returns a *Rejection on
// every refusal.
func (g *Gate) Admit(ctx context.Context, credential string, opts Options) (*Admission, error) {
	start := g.now()
	defer func() {
		metrics.GateDurationSeconds.Observe(time.Since(start).Seconds())
	}()

	adm, rej := g.admit(ctx, credential, opts, start)
	if rej != nil {
		metrics.GateDecisionsTotal.WithLabelValues(rej.Code).Inc()
		return nil, rej
	}
	if adm.Anonymous() {
		metrics.GateDecisionsTotal.WithLabelValues("anonymous").Inc()
	} else {
		metrics.GateDecisionsTotal.WithLabelValues("admitted").Inc()
	}
	return adm, nil
}

func (g *Gate) admit(ctx context.Context, credential string, opts Options, start time.Time) (*Admission, *Rejection) {
	if credential == "" {
		if opts.Optional {
			return &Admission{Start: start}, nil
		}
		return nil, reject(ErrMissingCredential)
	}

	// Malformed secrets cannot match a stored hash.
	if !keyhash.WellFormed(credential) {
		return nil, reject(ErrInvalidCredential)
	}

	key, err := g.lookup(ctx, keyhash.Hash(credential))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, reject(ErrInvalidCredential)
		}
		g.logger.Error("api key lookup failed", "error", err)
		return nil, reject(ErrStorageUnavailable)
	}

	if !key.IsActive() {
		return nil, reject(ErrInactiveKey)
	}
	if key.IsExpired(start) {
		return nil, reject(ErrExpiredKey)
	}

	adm := &Admission{Key: key, Start: start}
	if opts.BypassQuota {
		return adm, nil
	}

	decision, err := g.consume(ctx, key, start)
	if err != nil {
		g.logger.Error("rate limiter unavailable", "key_id", key.ID, "error", err)
		return nil, reject(ErrStorageUnavailable)
	}
	adm.Decision = decision
	adm.Metered = true
	if !decision.Admitted {
		rej := reject(ErrQuotaExceeded)
		rej.Decision = decision
		rej.RetryAfter = decision.RetryAfter(start)
		return nil, rej
	}
	return adm, nil
}

func (g *Gate) lookup(ctx context.Context, hash string) (*model.APIKey, error) {
	ctx, cancel := context.WithTimeout(ctx, g.lookupTimeout)
	defer cancel()
	return g.keys.GetAPIKeyByHash(ctx, hash)
}

func (g *Gate) consume(ctx context.Context, key *model.APIKey, now time.Time) (ratelimit.Decision, error) {
	if g.limiter == nil {
		return ratelimit.Decision{Admitted: true, Unlimited: true}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, g.lookupTimeout)
	defer cancel()
	return g.limiter.CheckAndConsume(ctx, key, now)
}

// Complete hands the outcome of an admitted request to the recorder. It
// never blocks and is a no-op for anonymous admissions.
func (g *Gate) Complete(adm *Admission, out Outcome) {
	if adm == nil || adm.Anonymous() || g.recorder == nil {
		return
	}
	g.recorder.Record(model.UsageLogEntry{
		KeyID:          adm.Key.ID,
		Endpoint:       out.Endpoint,
		Method:         out.Method,
		StatusCode:     out.StatusCode,
		ResponseTimeMs: out.Duration.Milliseconds(),
		Origin:         out.Origin,
		ClientAgent:    out.ClientAgent,
		Timestamp:      adm.Start.Add(out.Duration).UTC(),
	})
}

func reject(err error) *Rejection {
	r := &Rejection{Err: err}
	switch err {
	case ErrMissingCredential:
		r.Status, r.Code, r.Message = http.StatusUnauthorized, model.CodeMissingAPIKey,
			"API key required. Provide it in the X-API-Key header."
	case ErrInvalidCredential:
		r.Status, r.Code, r.Message = http.StatusUnauthorized, model.CodeInvalidAPIKey, "Invalid API key"
	case ErrInactiveKey:
		r.Status, r.Code, r.Message = http.StatusForbidden, model.CodeInactiveAPIKey, "API key is inactive"
	case ErrExpiredKey:
		r.Status, r.Code, r.Message = http.StatusForbidden, model.CodeExpiredAPIKey, "API key has expired"
	case ErrQuotaExceeded:
		r.Status, r.Code, r.Message = http.StatusTooManyRequests, model.CodeRateLimitExceeded, "Rate limit exceeded"
	default:
		r.Status, r.Code, r.Message = http.StatusServiceUnavailable, model.CodeServiceUnavailable,
			"Authentication is temporarily unavailable"
	}
	return r
}

type contextKey struct{}

// WithAdmission returns a copy of ctx carrying adm.
func WithAdmission(ctx context.Context, adm *Admission) context.Context {
	return context.WithValue(ctx, contextKey{}, adm)
}

// AdmissionFromContext returns the admission stored by WithAdmission.
func AdmissionFromContext(ctx context.Context) *Admission {
	adm, _ := ctx.Value(contextKey{}).(*Admission)
	return adm
}

// KeyFromContext returns the admitted key, or nil for anonymous or
// unauthenticated requests.
func KeyFromContext(ctx context.Context) *model.APIKey {
	if adm := AdmissionFromContext(ctx); adm != nil {
		return adm.Key
	}
	return nil
}
