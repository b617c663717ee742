package app

import (
	"fmt"
	"os"

	"fpchat/pkg/config"
)

// validateConfig performs quick, fail-fast validation of the effective
// configuration before starting long-running services. Keep checks light
// and focused so callers can surface user-friendly errors.
func validateConfig(cfg *config.Config, cachePath string) error {
	if cachePath == "" {
		return fmt.Errorf("cache path is empty: set --cache flag, FPCHAT_CACHE_PATH env, or storage.cache_path in config")
	}

	if cfg.Chat.UserID == "" {
		return fmt.Errorf("chat.user_id is empty: set FPCHAT_USER_ID env or chat.user_id in config")
	}
	if cfg.Chat.HistoryURL == "" {
		return fmt.Errorf("chat.history_url is empty: history fetches have no endpoint")
	}

	cert := cfg.Server.TLS.CertFile
	key := cfg.Server.TLS.KeyFile
	if (cert != "" && key == "") || (cert == "" && key != "") {
		return fmt.Errorf("incomplete TLS configuration: both server.tls.cert_file and server.tls.key_file must be set")
	}
	if cert != "" {
		if _, err := os.Stat(cert); err != nil {
			return fmt.Errorf("tls cert file not accessible: %w", err)
		}
		if _, err := os.Stat(key); err != nil {
			return fmt.Errorf("tls key file not accessible: %w", err)
		}
	}
	return nil
}
