package tokenizer

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	errs "github.com/sweetpotato0/chai-tokenizer/errors"
	"github.com/sweetpotato0/chai-tokenizer/pkg/logging"
)

// Factory builds the tokenizer bound to one model of a family.
type Factory func(model string) (Tokenizer, error)

// DefaultMaxResolved bounds how many built tokenizers a registry keeps.
const DefaultMaxResolved = 256

// Registry maps model family prefixes to tokenizer factories and memoises
// the tokenizers its factories build, up to maxResolved model ids. Fallback
// and failed resolutions are never stored, so arbitrary model ids from
// clients cannot grow the registry.
type Registry struct {
	mu          sync.RWMutex
	families    map[string]Factory
	resolved    map[string]Tokenizer
	maxResolved int
	fallback    Tokenizer
	store       Store
	cacheOps    []CacheOption
	logger      *slog.Logger
}

var _ Provider = (*Registry)(nil)

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithFamily registers a factory for every model id starting with prefix.
func WithFamily(prefix string, f Factory) RegistryOption {
	return func(r *Registry) {
		if prefix != "" && f != nil {
			r.families[prefix] = f
		}
	}
}

// WithFallback replaces the degraded tokenizer used for unknown families.
func WithFallback(t Tokenizer) RegistryOption {
	return func(r *Registry) {
		if t != nil {
			r.fallback = t
		}
	}
}

// WithEncodeCache wraps every precise tokenizer with an encode cache.
func WithEncodeCache(store Store, opts ...CacheOption) RegistryOption {
	return func(r *Registry) {
		r.store = store
		r.cacheOps = opts
	}
}

// WithMaxResolved caps the number of memoised tokenizers. Past the cap,
// tokenizers are built per call and not stored.
func WithMaxResolved(n int) RegistryOption {
	return func(r *Registry) {
		if n > 0 {
			r.maxResolved = n
		}
	}
}

// WithRegistryLogger sets the logger used for resolution failures.
func WithRegistryLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRegistry creates a registry. Without any family every model is degraded.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		families:    make(map[string]Factory),
		resolved:    make(map[string]Tokenizer),
		maxResolved: DefaultMaxResolved,
		fallback:    Whitespace{},
		logger:      logging.WithComponent("tokenizer"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds or replaces a family factory and forgets memoised tokenizers of that family.
func (r *Registry) Register(prefix string, f Factory) {
	if prefix == "" || f == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.families[prefix] = f
	for model := range r.resolved {
		if strings.HasPrefix(model, prefix) {
			delete(r.resolved, model)
		}
	}
}

// Supports reports whether the model id belongs to a registered family.
func (r *Registry) Supports(model string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.familyOf(model)
	return ok
}

// Resolve returns the tokenizer for a model id. It never fails: unknown
// families get the degraded fallback, and a factory error yields a tokenizer
// that reports the error on every call.
func (r *Registry) Resolve(model string) Tokenizer {
	r.mu.RLock()
	if t, ok := r.resolved[model]; ok {
		r.mu.RUnlock()
		return t
	}
	_, known := r.familyOf(model)
	r.mu.RUnlock()
	if !known {
		return r.fallback
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.resolved[model]; ok {
		return t
	}
	// a family registered between the two locks may now win
	prefix, _ := r.familyOf(model)

	t, err := r.build(model, prefix, r.families[prefix])
	if err != nil {
		r.logger.Warn("tokenizer unavailable", "model", model, "family", prefix, "error", err)
		return unavailable{err: fmt.Errorf("%w: %s: %w", errs.ErrProviderFailure, model, err)}
	}
	if len(r.resolved) < r.maxResolved {
		r.resolved[model] = t
	}
	return t
}

func (r *Registry) build(model, prefix string, factory Factory) (Tokenizer, error) {
	t, err := factory(model)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("factory for %q returned no tokenizer", prefix)
	}
	if r.store != nil && t.Precise() {
		t = Cached(model, t, r.store, r.cacheOps...)
	}
	return t, nil
}

// Len returns the number of memoised tokenizers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.resolved)
}

// familyOf picks the longest registered prefix of model. Caller holds the lock.
func (r *Registry) familyOf(model string) (string, bool) {
	best := ""
	for prefix := range r.families {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	return best, best != ""
}

// unavailable stands in for a recognised model whose tokenizer could not be built.
type unavailable struct {
	err error
}

func (u unavailable) Encode(string) ([]int, error)  { return nil, u.err }
func (u unavailable) Decode([]int) (string, error) { return "", u.err }
func (u unavailable) Precise() bool                { return true }
