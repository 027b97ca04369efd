package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/nulpointcorp/aicore-gateway/internal/config"
)

type fakeUpstream struct {
	mapping map[string]string
	err     error
}

func (f *fakeUpstream) BuildRunningModelMap(ctx context.Context, resourceGroup string) (map[string]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.mapping, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Providers: []config.Provider{
			{Name: "a", Enabled: true},
			{Name: "b", Enabled: true},
		},
		Models: []config.ModelEntry{
			{Name: "claude-sonnet-4-5", AICoreModelName: "anthropic--claude-sonnet-4.5", Aliases: []string{"claude-sonnet-4-5-*"}},
			{Name: "gpt-4o"},
		},
		FallbackModels: config.FallbackModels{Claude: "claude-sonnet-4-5"},
	}
}

func TestRefreshResolvesAcrossProviders(t *testing.T) {
	cfg := testConfig()
	fakes := map[string]*fakeUpstream{
		"a": {mapping: map[string]string{"anthropic--claude-sonnet-4.5": "dep-a-1"}},
		"b": {mapping: map[string]string{"gpt-4o": "dep-b-1"}},
	}
	r := New(cfg, func(p config.Provider) UpstreamClient { return fakes[p.Name] }, nil)
	r.refresh(context.Background())

	if dep, ok := r.DeploymentFor("claude-sonnet-4-5", "a"); !ok || dep != "dep-a-1" {
		t.Fatalf("expected dep-a-1, got %q ok=%v", dep, ok)
	}
	if dep, ok := r.DeploymentFor("gpt-4o", "b"); !ok || dep != "dep-b-1" {
		t.Fatalf("expected dep-b-1, got %q ok=%v", dep, ok)
	}
	if _, ok := r.DeploymentFor("gpt-4o", "a"); ok {
		t.Fatal("expected gpt-4o unresolved on provider a")
	}
}

func TestFailingProviderDoesNotBlockOthers(t *testing.T) {
	cfg := testConfig()
	fakes := map[string]*fakeUpstream{
		"a": {err: errors.New("boom")},
		"b": {mapping: map[string]string{"gpt-4o": "dep-b-1"}},
	}
	r := New(cfg, func(p config.Provider) UpstreamClient { return fakes[p.Name] }, nil)
	r.refresh(context.Background())

	if dep, ok := r.DeploymentFor("gpt-4o", "b"); !ok || dep != "dep-b-1" {
		t.Fatalf("expected provider b to resolve despite provider a failing, got %q ok=%v", dep, ok)
	}
}

func TestRefreshFailureDoesNotShrinkAvailableModels(t *testing.T) {
	cfg := testConfig()
	fakes := map[string]*fakeUpstream{
		"a": {mapping: map[string]string{"anthropic--claude-sonnet-4.5": "dep-a-1"}},
		"b": {mapping: map[string]string{}},
	}
	r := New(cfg, func(p config.Provider) UpstreamClient { return fakes[p.Name] }, nil)
	r.refresh(context.Background())
	before := r.AvailableModels()
	if len(before) != 1 {
		t.Fatalf("expected 1 available model, got %v", before)
	}

	fakes["a"].err = errors.New("transient")
	fakes["a"].mapping = nil
	r.refresh(context.Background())
	after := r.AvailableModels()
	if len(after) < len(before) {
		t.Fatalf("expected available models to not shrink on refresh failure: before=%v after=%v", before, after)
	}
}

func TestFindByAliasLongestPrefixWins(t *testing.T) {
	cfg := &config.Config{
		Models: []config.ModelEntry{
			{Name: "claude-generic", Aliases: []string{"claude-*"}},
			{Name: "claude-sonnet-4-5", Aliases: []string{"claude-sonnet-4-5-*"}},
		},
	}
	r := New(cfg, func(config.Provider) UpstreamClient { return nil }, nil)

	name, ok := r.FindByAlias("claude-sonnet-4-5-20250929")
	if !ok || name != "claude-sonnet-4-5" {
		t.Fatalf("expected longest-prefix winner claude-sonnet-4-5, got %q ok=%v", name, ok)
	}
}

func TestFindByAliasExactBeatsWildcard(t *testing.T) {
	cfg := &config.Config{
		Models: []config.ModelEntry{
			{Name: "wildcard-match", Aliases: []string{"gpt-4o*"}},
			{Name: "exact-match", Aliases: []string{"gpt-4o"}},
		},
	}
	r := New(cfg, func(config.Provider) UpstreamClient { return nil }, nil)

	name, ok := r.FindByAlias("gpt-4o")
	if !ok || name != "exact-match" {
		t.Fatalf("expected exact match to win, got %q ok=%v", name, ok)
	}
}

func TestNormalizeFallsBackByFamily(t *testing.T) {
	cfg := testConfig()
	r := New(cfg, func(config.Provider) UpstreamClient { return nil }, nil)

	if got := r.Normalize("claude-unknown-variant"); got != "claude-sonnet-4-5" {
		t.Fatalf("expected fallback to claude-sonnet-4-5, got %q", got)
	}
}

func TestNormalizeUnresolvedReturnsUnchanged(t *testing.T) {
	cfg := testConfig()
	r := New(cfg, func(config.Provider) UpstreamClient { return nil }, nil)

	if got := r.Normalize("mistral-large"); got != "mistral-large" {
		t.Fatalf("expected unchanged passthrough, got %q", got)
	}
}

// A requested model outside the four known family prefixes must never be
// routed to the OpenAI fallback, even when one is configured: only gpt- and
// text-prefixed names are OpenAI family.
func TestNormalizeUnknownPrefixIgnoresOpenAIFallback(t *testing.T) {
	cfg := testConfig()
	cfg.FallbackModels.OpenAI = "gpt-4o"
	r := New(cfg, func(config.Provider) UpstreamClient { return nil }, nil)

	if got := r.Normalize("mistral-large"); got != "mistral-large" {
		t.Fatalf("expected unchanged passthrough, got %q", got)
	}
	if got := r.Normalize("o1-preview"); got != "o1-preview" {
		t.Fatalf("expected unchanged passthrough, got %q", got)
	}
}

func TestExplicitDeploymentModelAppearsInAvailableModels(t *testing.T) {
	cfg := &config.Config{
		Providers: []config.Provider{
			{Name: "a", Enabled: true},
			{Name: "b", Enabled: true},
		},
		Models: []config.ModelEntry{
			{Name: "pinned-model", DeploymentID: "dep-fixed-1"},
		},
	}
	fakes := map[string]*fakeUpstream{
		"a": {mapping: map[string]string{}},
		"b": {mapping: map[string]string{}},
	}
	r := New(cfg, func(p config.Provider) UpstreamClient { return fakes[p.Name] }, nil)
	r.refresh(context.Background())

	available := r.AvailableModels()
	if len(available) != 1 || available[0] != "pinned-model" {
		t.Fatalf("expected [pinned-model], got %v", available)
	}
	if dep, ok := r.DeploymentFor("pinned-model", "a"); !ok || dep != "dep-fixed-1" {
		t.Fatalf("expected dep-fixed-1 on provider a, got %q ok=%v", dep, ok)
	}
	if bindings := r.ProvidersFor("pinned-model"); len(bindings) != 2 {
		t.Fatalf("expected a binding per enabled provider, got %v", bindings)
	}
}

func TestAvailableModelsSorted(t *testing.T) {
	cfg := &config.Config{
		Providers: []config.Provider{{Name: "a", Enabled: true}},
		Models: []config.ModelEntry{
			{Name: "zeta"},
			{Name: "alpha"},
		},
	}
	fakes := map[string]*fakeUpstream{
		"a": {mapping: map[string]string{"zeta": "d1", "alpha": "d2"}},
	}
	r := New(cfg, func(p config.Provider) UpstreamClient { return fakes[p.Name] }, nil)
	r.refresh(context.Background())

	got := r.AvailableModels()
	if len(got) != 2 || got[0] != "alpha" || got[1] != "zeta" {
		t.Fatalf("expected sorted [alpha zeta], got %v", got)
	}
}
