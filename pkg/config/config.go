package config

import (
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"fpchat/pkg/matchkey"
)

// RuntimeConfig holds derived runtime values that other packages may
// query at runtime (populated during startup after merging env+file).
type RuntimeConfig struct {
	FrontendKeys map[string]struct{}
	AllowUnauth  bool
}

var (
	runtimeMu  sync.RWMutex
	runtimeCfg *RuntimeConfig
)

// SetRuntime sets the canonical runtime config used by the running gateway.
func SetRuntime(rc *RuntimeConfig) {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()
	runtimeCfg = rc
}

// GetFrontendKeys returns a copy of configured frontend API keys.
func GetFrontendKeys() map[string]struct{} {
	runtimeMu.RLock()
	defer runtimeMu.RUnlock()
	out := map[string]struct{}{}
	if runtimeCfg == nil || runtimeCfg.FrontendKeys == nil {
		return out
	}
	for k := range runtimeCfg.FrontendKeys {
		out[k] = struct{}{}
	}
	return out
}

// AllowUnauth reports whether unauthenticated gateway access is permitted.
func AllowUnauth() bool {
	runtimeMu.RLock()
	defer runtimeMu.RUnlock()
	return runtimeCfg != nil && runtimeCfg.AllowUnauth
}

// Addr returns host:port for the HTTP server.
func (c *Config) Addr() string {
	addr := c.Server.Address
	if addr == "" {
		addr = "0.0.0.0"
	}
	p := c.Server.Port
	if p == 0 {
		p = 8080
	}
	return fmt.Sprintf("%s:%d", addr, p)
}

// Windows returns the configured match windows, falling back to the
// defaults for any window left unset.
func (c *Config) Windows() matchkey.Windows {
	w := matchkey.Windows{
		Call:   c.Merge.CallWindow.Duration(),
		Media:  c.Merge.MediaWindow.Duration(),
		System: c.Merge.SystemWindow.Duration(),
		Text:   c.Merge.TextWindow.Duration(),
	}
	d := matchkey.Default()
	if w.Call <= 0 {
		w.Call = d.Call
	}
	if w.Media <= 0 {
		w.Media = d.Media
	}
	if w.System <= 0 {
		w.System = d.System
	}
	if w.Text <= 0 {
		w.Text = d.Text
	}
	return w
}

// Skew returns the configured pairing skew tolerance or its default.
func (c *Config) Skew() time.Duration {
	if s := c.Merge.Skew.Duration(); s > 0 {
		return s
	}
	return 5 * time.Second
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Flags holds parsed command-line flag values and which were set.
type Flags struct {
	Addr   string
	Cache  string
	Config string
	Set    map[string]bool
}

// ParseConfigFlags parses command-line flags and returns them as a Flags struct.
func ParseConfigFlags() Flags {
	addrPtr := flag.String("addr", ":8080", "HTTP listen address")
	cachePtr := flag.String("cache", "./.cache", "Pebble timeline cache path")
	cfgPtr := flag.String("config", "./config.yaml", "Path to config file")
	flag.Parse()
	setFlags := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })
	return Flags{Addr: *addrPtr, Cache: *cachePtr, Config: *cfgPtr, Set: setFlags}
}

// ResolveConfigPath decides the config file path using the flag-provided
// value and FPCHAT_CONFIG when the flag was not set.
func ResolveConfigPath(flagPath string, flagSet bool) string {
	if flagSet {
		return flagPath
	}
	if p := os.Getenv("FPCHAT_CONFIG"); p != "" {
		return p
	}
	return flagPath
}

// LoadEnvOverrides applies environment overrides onto the provided cfg
// and reports whether any env vars were used.
func LoadEnvOverrides(cfg *Config) bool {
	envUsed := false
	parseList := func(v string) []string {
		if v == "" {
			return nil
		}
		parts := []string{}
		for _, p := range strings.Split(v, ",") {
			if s := strings.TrimSpace(p); s != "" {
				parts = append(parts, s)
			}
		}
		return parts
	}

	if v := os.Getenv("FPCHAT_ADDR"); v != "" {
		envUsed = true
		if h, p, err := net.SplitHostPort(v); err == nil {
			cfg.Server.Address = h
			if pi, err := strconv.Atoi(p); err == nil {
				cfg.Server.Port = pi
			}
		} else {
			cfg.Server.Address = v
		}
	}
	if v := os.Getenv("FPCHAT_CACHE_PATH"); v != "" {
		envUsed = true
		cfg.Storage.CachePath = v
	}
	if v := os.Getenv("FPCHAT_USER_ID"); v != "" {
		envUsed = true
		cfg.Chat.UserID = v
	}
	if v := os.Getenv("FPCHAT_TOKEN"); v != "" {
		envUsed = true
		cfg.Chat.Token = v
	}
	if v := os.Getenv("FPCHAT_HISTORY_URL"); v != "" {
		envUsed = true
		cfg.Chat.HistoryURL = v
	}
	if v := os.Getenv("FPCHAT_LIVE_URL"); v != "" {
		envUsed = true
		cfg.Chat.LiveURL = v
	}
	if v := os.Getenv("FPCHAT_SEND_URL"); v != "" {
		envUsed = true
		cfg.Chat.SendURL = v
	}
	if v := os.Getenv("FPCHAT_PAGE_SIZE"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			envUsed = true
			cfg.Chat.PageSize = n
		}
	}
	if v := os.Getenv("FPCHAT_CORS_ORIGINS"); v != "" {
		envUsed = true
		cfg.Security.CORS.AllowedOrigins = parseList(v)
	}
	if v := os.Getenv("FPCHAT_RATE_RPS"); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			envUsed = true
			cfg.Security.RateLimit.RPS = f
		}
	}
	if v := os.Getenv("FPCHAT_RATE_BURST"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			envUsed = true
			cfg.Security.RateLimit.Burst = n
		}
	}
	if v := os.Getenv("FPCHAT_IP_WHITELIST"); v != "" {
		envUsed = true
		cfg.Security.IPWhitelist = parseList(v)
	}
	if v := os.Getenv("FPCHAT_API_FRONTEND_KEYS"); v != "" {
		envUsed = true
		cfg.Security.APIKeys.Frontend = parseList(v)
	}
	if v := os.Getenv("FPCHAT_API_ALLOW_UNAUTH"); v != "" {
		envUsed = true
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes":
			cfg.Security.APIKeys.AllowUnauth = true
		default:
			cfg.Security.APIKeys.AllowUnauth = false
		}
	}
	if c := os.Getenv("FPCHAT_TLS_CERT"); c != "" {
		envUsed = true
		cfg.Server.TLS.CertFile = c
	}
	if k := os.Getenv("FPCHAT_TLS_KEY"); k != "" {
		envUsed = true
		cfg.Server.TLS.KeyFile = k
	}
	return envUsed
}

// LoadEffective loads config from the given path and applies environment
// overrides. A missing file is not fatal; env and defaults still apply.
func LoadEffective(path string) (*Config, bool, error) {
	cfg, err := Load(path)
	if err != nil {
		cfg = &Config{}
	}
	envUsed := LoadEnvOverrides(cfg)
	return cfg, envUsed, nil
}

// FrontendKeySet derives the runtime key set from cfg.
func FrontendKeySet(cfg *Config) map[string]struct{} {
	out := map[string]struct{}{}
	for _, k := range cfg.Security.APIKeys.Frontend {
		out[k] = struct{}{}
	}
	return out
}
