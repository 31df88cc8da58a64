package banner

import (
	"fmt"

	"beaconbond/pkg/config"
)

const banner = `
██████╗ ███████╗ █████╗  ██████╗ ██████╗ ███╗   ██╗██████╗  ██████╗ ███╗   ██╗██████╗
██╔══██╗██╔════╝██╔══██╗██╔════╝██╔═══██╗████╗  ██║██╔══██╗██╔═══██╗████╗  ██║██╔══██╗
██████╔╝█████╗  ███████║██║     ██║   ██║██╔██╗ ██║██████╔╝██║   ██║██╔██╗ ██║██║  ██║
██╔══██╗██╔══╝  ██╔══██║██║     ██║   ██║██║╚██╗██║██╔══██╗██║   ██║██║╚██╗██║██║  ██║
██████╔╝███████╗██║  ██║╚██████╗╚██████╔╝██║ ╚████║██████╔╝╚██████╔╝██║ ╚████║██████╔╝
╚═════╝ ╚══════╝╚═╝  ╚═╝ ╚═════╝ ╚═════╝ ╚═╝  ╚═══╝╚═════╝  ╚═════╝ ╚═╝  ╚═══╝╚═════╝
`

// Print prints the startup banner with the effective runtime settings.
func Print(eff config.EffectiveConfigResult, version string) {
	addr := eff.Addr
	if addr == "" && eff.Config != nil {
		addr = eff.Config.Addr()
	}
	dbPath := eff.DBPath
	if dbPath == "" && eff.Config != nil {
		dbPath = eff.Config.Server.DBPath
	}
	src := eff.Source
	if src == "" {
		src = "flags"
	}

	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:   %s\n", addr)
	fmt.Printf("DB Path:  %s\n", dbPath)
	if version != "" {
		fmt.Printf("Version:  %s\n", version)
	}
	fmt.Printf("Config:   %s\n", src)

	fmt.Println("\n== Endpoints ==================================================")
	fmt.Println("POST /v1/messages                                   - Send a direct message")
	fmt.Println("GET  /v1/conversations                              - List your conversations")
	fmt.Println("GET  /v1/conversations/{conv}/messages              - List messages")
	fmt.Println("POST /v1/conversations/{conv}/messages/{msg}/read   - Mark a message read")
	fmt.Println("GET  /v1/notifications                              - Unread snapshot")
	fmt.Println("GET  /v1/notifications/ws                           - Live popup stream")
	fmt.Println("POST /v1/viewing                                    - Set the open conversation")

	fmt.Println("\n== Examples ===================================================")
	fmt.Printf("curl -X POST 'http://localhost%s/v1/messages' -H 'X-User-ID: alice' -d '{\"recipient\":\"bob\",\"text\":\"hello\"}'\n", addr)
	fmt.Printf("curl 'http://localhost%s/v1/notifications' -H 'X-User-ID: bob'\n", addr)

	fmt.Println("\n== Production? =================================================")
	if eff.Config != nil && eff.Config.Identity.TokenSecret != "" {
		fmt.Println("- Auth: bearer tokens enabled")
	} else {
		fmt.Println("- Auth: X-User-ID header (set identity.token_secret for production)")
	}
	if eff.Config != nil && eff.Config.Identity.Valkey.Addr != "" {
		fmt.Printf("- Name cache: valkey @ %s\n", eff.Config.Identity.Valkey.Addr)
	} else {
		fmt.Println("- Name cache: disabled")
	}
	if eff.Config != nil && eff.Config.Retention.Enabled {
		info := ""
		if eff.Config.Retention.Cron != "" {
			info = "cron=" + eff.Config.Retention.Cron
		} else if eff.Config.Retention.Period > 0 {
			info = "period=" + eff.Config.Retention.Period.Duration().String()
		}
		if info != "" {
			fmt.Printf("- Retention: enabled (%s)\n", info)
		} else {
			fmt.Println("- Retention: enabled")
		}
	} else {
		fmt.Println("- Retention: disabled")
	}

	fmt.Println("\n== Logs: =================================================")
}
