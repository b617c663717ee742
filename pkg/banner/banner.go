package banner

import (
	"fmt"

	"fpchat/pkg/config"
)

const banner = `
███████╗██████╗  ██████╗██╗  ██╗ █████╗ ████████╗
██╔════╝██╔══██╗██╔════╝██║  ██║██╔══██╗╚══██╔══╝
█████╗  ██████╔╝██║     ███████║███████║   ██║
██╔══╝  ██╔═══╝ ██║     ██╔══██║██╔══██║   ██║
██║     ██║     ╚██████╗██║  ██║██║  ██║   ██║
╚═╝     ╚═╝      ╚═════╝╚═╝  ╚═╝╚═╝  ╚═╝   ╚═╝
`

// Print shows the startup banner with the effective runtime info.
func Print(cfg *config.Config, addr, cachePath, version string) {
	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:     %s\n", addr)
	fmt.Printf("Cache Path: %s\n", cachePath)
	if version != "" {
		fmt.Printf("Version:    %s\n", version)
	}
	if cfg != nil {
		fmt.Printf("User:       %s\n", cfg.Chat.UserID)
	}

	fmt.Println("\n== Endpoints ==================================================")
	fmt.Println("GET  /v1/conversations - List conversations")
	fmt.Println("POST /v1/conversations/{id}/select - Select and fetch timeline")
	fmt.Println("POST /v1/conversations/{id}/timeline/more - Load older history")
	fmt.Println("POST /v1/conversations/{id}/messages - Send a message")

	fmt.Println("\n== Production? =================================================")
	if cfg == nil {
		return
	}
	if n := len(cfg.Security.APIKeys.Frontend); n > 0 {
		fmt.Printf("- Frontend API keys: OK (%d)\n", n)
	} else if cfg.Security.APIKeys.AllowUnauth {
		fmt.Println("- Frontend API keys: NONE (unauthenticated access allowed)")
	} else {
		fmt.Println("- Frontend API keys: MISSING (required for client access)")
	}
	if cfg.Server.TLS.CertFile != "" && cfg.Server.TLS.KeyFile != "" {
		fmt.Println("- TLS: configured")
	} else {
		fmt.Println("- TLS: unconfigured")
	}
	if cfg.Chat.LiveURL != "" {
		fmt.Println("- Live stream: configured")
	} else {
		fmt.Println("- Live stream: DISABLED (no live_url; timelines update on fetch only)")
	}
	if cfg.Retention.Enabled {
		cron := cfg.Retention.Cron
		if cron == "" {
			cron = "0 2 * * *"
		}
		fmt.Printf("- Retention: enabled (cron=%s)\n", cron)
	} else {
		fmt.Println("- Retention: disabled")
	}

	fmt.Println("\n== Logs: =================================================")
}
