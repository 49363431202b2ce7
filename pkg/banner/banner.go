package banner

import (
	"fmt"
	"strings"

	"chatspace/pkg/config"
)

const banner = `
 ██████╗██╗  ██╗ █████╗ ████████╗███████╗██████╗  █████╗  ██████╗███████╗
██╔════╝██║  ██║██╔══██╗╚══██╔══╝██╔════╝██╔══██╗██╔══██╗██╔════╝██╔════╝
██║     ███████║███████║   ██║   ███████╗██████╔╝███████║██║     █████╗
██║     ██╔══██║██╔══██║   ██║   ╚════██║██╔═══╝ ██╔══██║██║     ██╔══╝
╚██████╗██║  ██║██║  ██║   ██║   ███████║██║     ██║  ██║╚██████╗███████╗
 ╚═════╝╚═╝  ╚═╝╚═╝  ╚═╝   ╚═╝   ╚══════╝╚═╝     ╚═╝  ╚═╝ ╚═════╝╚══════╝
`

// Print writes the startup banner with the effective listen address, DB
// path and advertised backends.
func Print(cfg *config.Config, version string) {
	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:    %s\n", cfg.Addr())
	fmt.Printf("DB Path:   %s\n", cfg.Storage.DBPath)
	if len(cfg.Chat.Backends) > 0 {
		fmt.Printf("Backends:  %s\n", strings.Join(cfg.Chat.Backends, ", "))
	}
	if version != "" {
		fmt.Printf("Version:   %s\n", version)
	}
	fmt.Println("\n== Endpoints ==================================================")
	fmt.Println("POST /v1/workspaces                      - Create a workspace")
	fmt.Println("GET  /v1/workspaces/{ws}                 - Snapshot (SSE with Accept: text/event-stream)")
	fmt.Println("GET  /v1/workspaces/{ws}/chats/{chat}    - Chat snapshot (SSE with Accept: text/event-stream)")
	fmt.Println("POST /v1/workspaces/{ws}/chats/{chat}/messages - Append a message")
	fmt.Println("Full API reference under /docs/")
}
