// Package registry resolves human-friendly model names to opaque per-provider
// deployment identifiers, refreshed in the background against every enabled
// provider's admin surface.
package registry

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nulpointcorp/aicore-gateway/internal/config"
)

// Binding is one (provider, deployment id) pair a canonical model resolves
// to.
type Binding struct {
	Provider     string
	DeploymentID string
}

// snapshot is the immutable, atomically-swapped resolved map.
type snapshot struct {
	resolved map[string][]Binding
}

// UpstreamClient is the subset of *upstream.Client the registry needs; an
// interface so refresh logic can be tested against fakes.
type UpstreamClient interface {
	BuildRunningModelMap(ctx context.Context, resourceGroup string) (map[string]string, error)
}

// defaultRefreshInterval applies when a Registry is built from a Config whose
// RefreshIntervalSecs was left unset (e.g. constructed directly rather than
// through config.Load, which would otherwise have defaulted it).
const defaultRefreshInterval = 300 * time.Second

// Registry holds the static model configuration and fallback table, plus the
// live resolved snapshot.
type Registry struct {
	models         []config.ModelEntry
	fallback       config.FallbackModels
	providers      []config.Provider
	clients        map[string]UpstreamClient
	refreshInterval time.Duration
	log            *slog.Logger

	snap    atomic.Pointer[snapshot]
	ready   atomic.Bool
	mu      sync.Mutex // serializes refresh iterations
}

// New builds a Registry. clientFor is called once per enabled provider to
// obtain its upstream admin client.
func New(cfg *config.Config, clientFor func(config.Provider) UpstreamClient, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	clients := make(map[string]UpstreamClient, len(cfg.Providers))
	enabled := make([]config.Provider, 0, len(cfg.Providers))
	for _, p := range cfg.Providers {
		if !p.Enabled {
			continue
		}
		enabled = append(enabled, p)
		clients[p.Name] = clientFor(p)
	}

	refreshInterval := cfg.RefreshInterval()
	if refreshInterval <= 0 {
		refreshInterval = defaultRefreshInterval
	}

	r := &Registry{
		models:          cfg.Models,
		fallback:        cfg.FallbackModels,
		providers:       enabled,
		clients:         clients,
		refreshInterval: refreshInterval,
		log:             log,
	}
	r.snap.Store(&snapshot{resolved: map[string][]Binding{}})
	return r
}

// canonicalNames returns the set of configured canonical model names, used
// at startup to validate the fallback table (warn, don't fail).
func (r *Registry) canonicalNames() map[string]bool {
	out := make(map[string]bool, len(r.models))
	for _, m := range r.models {
		out[m.Name] = true
	}
	return out
}

// ValidateFallbacks logs a warning for any fallback entry that does not name
// a configured canonical model. Does not fail.
func (r *Registry) ValidateFallbacks() {
	canonical := r.canonicalNames()
	for family, name := range map[string]string{
		"claude": r.fallback.Claude,
		"openai": r.fallback.OpenAI,
		"gemini": r.fallback.Gemini,
	} {
		if name != "" && !canonical[name] {
			r.log.Warn("fallback model does not name a canonical model",
				slog.String("family", family), slog.String("name", name))
		}
	}
}

// Start runs a synchronous first refresh (which must succeed — an empty
// result counts as success) and then spawns the periodic background loop.
// ctx cancellation stops the background loop.
func (r *Registry) Start(ctx context.Context) error {
	r.ValidateFallbacks()
	r.refresh(ctx)
	r.ready.Store(true)

	go func() {
		ticker := time.NewTicker(r.refreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.refresh(ctx)
			}
		}
	}()
	return nil
}

// Ready reports whether the first refresh has completed.
func (r *Registry) Ready() bool { return r.ready.Load() }

func (r *Registry) refresh(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := time.Now()
	prev := r.snap.Load()
	accumulator := make(map[string][]Binding, len(r.models))
	explicit := make(map[string]bool)

	for _, m := range r.models {
		if m.DeploymentID == "" {
			continue
		}
		explicit[m.Name] = true
		for _, p := range r.providers {
			accumulator[m.Name] = append(accumulator[m.Name], Binding{Provider: p.Name, DeploymentID: m.DeploymentID})
		}
	}

	for _, p := range r.providers {
		client, ok := r.clients[p.Name]
		if !ok {
			continue
		}
		runningMap, err := client.BuildRunningModelMap(ctx, p.ResourceGroup)
		if err != nil {
			r.log.Error("registry refresh: provider failed, keeping its previous bindings",
				slog.String("provider", p.Name), slog.String("error", err.Error()))
			for name, bindings := range prev.resolved {
				if explicit[name] {
					continue // already seeded above
				}
				for _, b := range bindings {
					if b.Provider == p.Name {
						accumulator[name] = append(accumulator[name], b)
					}
				}
			}
			continue
		}
		for _, m := range r.models {
			if m.DeploymentID != "" {
				continue // already seeded above, bound to every provider
			}
			key := m.AICoreModelName
			if key == "" {
				key = m.Name
			}
			deploymentID, ok := runningMap[key]
			if !ok {
				continue
			}
			accumulator[m.Name] = append(accumulator[m.Name], Binding{Provider: p.Name, DeploymentID: deploymentID})
		}
	}

	r.snap.Store(&snapshot{resolved: accumulator})
	r.log.Info("registry refresh complete",
		slog.Duration("elapsed", time.Since(start)),
		slog.Int("resolved_models", len(accumulator)))
}

// DeploymentFor returns the deployment id bound to model on provider, or
// ("", false) if unresolved. A model with an explicit deployment id in its
// config entry is bound to any provider.
func (r *Registry) DeploymentFor(model, provider string) (string, bool) {
	for _, m := range r.models {
		if m.Name == model && m.DeploymentID != "" {
			return m.DeploymentID, true
		}
	}
	snap := r.snap.Load()
	for _, b := range snap.resolved[model] {
		if b.Provider == provider {
			return b.DeploymentID, true
		}
	}
	return "", false
}

// ProvidersFor returns the (provider, deployment id) bindings for model;
// empty if unresolved.
func (r *Registry) ProvidersFor(model string) []Binding {
	snap := r.snap.Load()
	return snap.resolved[model]
}

// AvailableModels returns the sorted canonical model names with at least one
// resolved deployment.
func (r *Registry) AvailableModels() []string {
	snap := r.snap.Load()
	out := make([]string, 0, len(snap.resolved))
	for name, bindings := range snap.resolved {
		if len(bindings) > 0 {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// FindByAlias returns the canonical model whose alias glob best matches
// requested, and whether one was found. The highest specificity wins; at
// equal specificity an exact pattern beats a wildcard, and otherwise the
// first configured pattern is kept.
func (r *Registry) FindByAlias(requested string) (string, bool) {
	bestSpecificity := -1
	bestIndex := -1
	bestExact := false
	var bestName string

	for idx, m := range r.models {
		for _, pattern := range m.Aliases {
			spec, ok := matchGlob(pattern, requested)
			if !ok {
				continue
			}
			exact := !strings.HasSuffix(pattern, "*")
			if spec > bestSpecificity || (spec == bestSpecificity && exact && !bestExact) {
				bestSpecificity = spec
				bestIndex = idx
				bestExact = exact
				bestName = m.Name
			}
		}
	}
	if bestIndex == -1 {
		return "", false
	}
	return bestName, true
}

// matchGlob reports whether pattern (a literal, or a literal with a single
// trailing "*") matches input, and if so its specificity (the length of the
// literal portion).
func matchGlob(pattern, input string) (int, bool) {
	if !strings.HasSuffix(pattern, "*") {
		if pattern == input {
			return len(pattern), true
		}
		return 0, false
	}
	prefix := strings.TrimSuffix(pattern, "*")
	if strings.HasPrefix(input, prefix) {
		return len(prefix), true
	}
	return 0, false
}

// familyPrefix derives the fallback-table family key for a requested model
// name: claude, gemini, gpt, or text. Returns "" for a name that matches
// none of the four known prefixes, so Normalize leaves it unchanged instead
// of silently routing it to the OpenAI fallback.
func familyPrefix(m string) string {
	switch {
	case strings.HasPrefix(m, "claude"):
		return "claude"
	case strings.HasPrefix(m, "gemini"):
		return "gemini"
	case strings.HasPrefix(m, "gpt"):
		return "gpt"
	case strings.HasPrefix(m, "text"):
		return "text"
	default:
		return ""
	}
}

// Normalize implements the name-normalization algorithm used by the protocol
// adapter: canonical name, then alias match, then family fallback, else
// unchanged.
func (r *Registry) Normalize(requested string) string {
	canonical := r.canonicalNames()
	if canonical[requested] {
		return requested
	}
	if name, ok := r.FindByAlias(requested); ok {
		return name
	}

	family := familyPrefix(requested)
	var fallbackName string
	switch family {
	case "claude":
		fallbackName = r.fallback.Claude
	case "gemini":
		fallbackName = r.fallback.Gemini
	case "gpt", "text":
		fallbackName = r.fallback.OpenAI
	}
	if fallbackName != "" && canonical[fallbackName] {
		return fallbackName
	}
	return requested
}
