// Package config loads the gateway's runtime configuration from a YAML file
// with an environment-variable overlay, the same way the rest of this
// codebase's ancestry has always done it: viper for the file, gotenv for an
// optional .env, AutomaticEnv for the overlay.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// Provider is one upstream backend account: its own OAuth credentials,
// inference base URL, and resource group. Immutable after Load returns.
type Provider struct {
	Name          string `mapstructure:"name"`
	UAATokenURL   string `mapstructure:"uaa_token_url"`
	UAAClientID   string `mapstructure:"uaa_client_id"`
	UAAClientSecret string `mapstructure:"uaa_client_secret"`
	GenAIAPIURL   string `mapstructure:"genai_api_url"`
	ResourceGroup string `mapstructure:"resource_group"`
	Weight        int    `mapstructure:"weight"`
	Enabled       bool   `mapstructure:"enabled"`
}

// ModelEntry is one configured model: its canonical name, optional explicit
// deployment id, optional upstream model name, and alias glob patterns.
type ModelEntry struct {
	Name            string   `mapstructure:"name"`
	DeploymentID    string   `mapstructure:"deployment_id"`
	AICoreModelName string   `mapstructure:"aicore_model_name"`
	Aliases         []string `mapstructure:"aliases"`
}

// FallbackModels maps family name to the canonical model substituted when
// normalization cannot otherwise resolve a requested model.
type FallbackModels struct {
	Claude string `mapstructure:"claude"`
	OpenAI string `mapstructure:"openai"`
	Gemini string `mapstructure:"gemini"`
}

// Credentials synthesizes a single default Provider when no explicit
// providers block is configured.
type Credentials struct {
	UAATokenURL     string `mapstructure:"uaa_token_url"`
	UAAClientID     string `mapstructure:"uaa_client_id"`
	UAAClientSecret string `mapstructure:"uaa_client_secret"`
	AICoreAPIURL    string `mapstructure:"aicore_api_url"`
	APIKey          string `mapstructure:"api_key"`
}

// Config is the typed view of the runtime configuration consumed by every
// other component.
type Config struct {
	LogLevel              string         `mapstructure:"log_level"`
	Port                  uint16         `mapstructure:"port"`
	Credentials           Credentials    `mapstructure:"credentials"`
	Providers             []Provider     `mapstructure:"providers"`
	LoadBalancingStrategy string         `mapstructure:"load_balancing_strategy"`
	APIKeys               []string       `mapstructure:"api_keys"`
	Models                []ModelEntry   `mapstructure:"models"`
	FallbackModels        FallbackModels `mapstructure:"fallback_models"`
	ResourceGroup         string         `mapstructure:"resource_group"`
	RefreshIntervalSecs   uint64         `mapstructure:"refresh_interval_secs"`
}

// RefreshInterval returns RefreshIntervalSecs as a time.Duration.
func (c *Config) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshIntervalSecs) * time.Second
}

const (
	defaultLogLevel       = "info"
	defaultPort           = 8900
	defaultStrategy       = "round_robin"
	defaultRefreshSecs    = 300
	defaultResourceGroup  = "default"
)

// Load reads the configuration from path (or "config.yaml" in the working
// directory if path is empty), applies the environment-variable overlay, and
// returns a validated Config.
func Load(path string) (*Config, error) {
	_ = gotenv.Load() // optional .env, silently ignored if absent

	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
	}

	v.SetDefault("log_level", defaultLogLevel)
	v.SetDefault("port", defaultPort)
	v.SetDefault("load_balancing_strategy", defaultStrategy)
	v.SetDefault("refresh_interval_secs", defaultRefreshSecs)
	v.SetDefault("resource_group", defaultResourceGroup)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	applyEnvOverlay(&cfg, v)

	if len(cfg.Providers) == 0 {
		if p, ok := synthesizeProvider(cfg.Credentials); ok {
			cfg.Providers = []Provider{p}
			if cfg.Credentials.APIKey != "" {
				cfg.APIKeys = append(cfg.APIKeys, cfg.Credentials.APIKey)
			}
		}
	}

	for i := range cfg.Providers {
		cfg.Providers[i].UAATokenURL = NormalizeTokenURL(cfg.Providers[i].UAATokenURL)
		if cfg.Providers[i].ResourceGroup == "" {
			cfg.Providers[i].ResourceGroup = cfg.ResourceGroup
		}
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// synthesizeProvider builds a single default Provider from a credentials
// block, per spec.md's "credentials" convenience. ok is false when neither
// an inference URL nor a token URL is configured.
func synthesizeProvider(c Credentials) (Provider, bool) {
	if c.AICoreAPIURL == "" && c.UAATokenURL == "" {
		return Provider{}, false
	}
	return Provider{
		Name:          "default",
		UAATokenURL:   c.UAATokenURL,
		UAAClientID:   c.UAAClientID,
		UAAClientSecret: c.UAAClientSecret,
		GenAIAPIURL:   c.AICoreAPIURL,
		Enabled:       true,
		Weight:        1,
	}, true
}

// NormalizeTokenURL appends "oauth/token" to url unless it already contains
// "/oauth/token".
func NormalizeTokenURL(url string) string {
	if url == "" {
		return url
	}
	if strings.Contains(url, "/oauth/token") {
		return url
	}
	if strings.HasSuffix(url, "/") {
		return url + "oauth/token"
	}
	return url + "/oauth/token"
}

// applyEnvOverlay applies the documented single-provider environment
// overrides on top of the file-derived config. These only make sense for a
// single-provider deployment (index 0); multi-provider setups configure the
// providers list directly.
func applyEnvOverlay(cfg *Config, v *viper.Viper) {
	if v.IsSet("UAA_TOKEN_URL") || v.IsSet("UAA_CLIENT_ID") || v.IsSet("UAA_CLIENT_SECRET") || v.IsSet("GENAI_API_URL") {
		if len(cfg.Providers) == 0 {
			cfg.Providers = append(cfg.Providers, Provider{Name: "default", Enabled: true, Weight: 1})
		}
		if u := v.GetString("UAA_TOKEN_URL"); u != "" {
			cfg.Providers[0].UAATokenURL = u
		}
		if id := v.GetString("UAA_CLIENT_ID"); id != "" {
			cfg.Providers[0].UAAClientID = id
		}
		if s := v.GetString("UAA_CLIENT_SECRET"); s != "" {
			cfg.Providers[0].UAAClientSecret = s
		}
		if g := v.GetString("GENAI_API_URL"); g != "" {
			cfg.Providers[0].GenAIAPIURL = g
		}
	}
	if k := v.GetString("API_KEY"); k != "" {
		cfg.APIKeys = append(cfg.APIKeys, k)
	}
	if p := v.GetUint("PORT"); p != 0 {
		cfg.Port = uint16(p)
	}
	if l := v.GetString("LOG_LEVEL"); l != "" {
		cfg.LogLevel = l
	}
	if rg := v.GetString("RESOURCE_GROUP"); rg != "" {
		cfg.ResourceGroup = rg
	}
	if r := v.GetUint64("REFRESH_INTERVAL_SECS"); r != 0 {
		cfg.RefreshIntervalSecs = r
	}
}

// validate checks structural invariants and warns (without failing) on
// fallback names that don't resolve to a canonical model.
func validate(cfg *Config) error {
	seen := make(map[string]bool, len(cfg.Providers))
	for _, p := range cfg.Providers {
		if p.Name == "" {
			return fmt.Errorf("config: provider with empty name")
		}
		if seen[p.Name] {
			return fmt.Errorf("config: duplicate provider name %q", p.Name)
		}
		seen[p.Name] = true
	}

	switch cfg.LoadBalancingStrategy {
	case "round_robin", "fallback":
	case "":
		cfg.LoadBalancingStrategy = defaultStrategy
	default:
		return fmt.Errorf("config: unknown load_balancing_strategy %q", cfg.LoadBalancingStrategy)
	}

	canonical := make(map[string]bool, len(cfg.Models))
	for _, m := range cfg.Models {
		canonical[m.Name] = true
	}
	for family, name := range map[string]string{
		"claude": cfg.FallbackModels.Claude,
		"openai": cfg.FallbackModels.OpenAI,
		"gemini": cfg.FallbackModels.Gemini,
	} {
		if name != "" && !canonical[name] {
			// Warn, don't fail: the registry will simply never resolve this
			// fallback and normalization falls through unchanged.
			slog.Warn("fallback model is not a configured canonical model",
				slog.String("family", family), slog.String("name", name))
		}
	}

	if cfg.RefreshIntervalSecs == 0 {
		cfg.RefreshIntervalSecs = defaultRefreshSecs
	}
	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}

	return nil
}
