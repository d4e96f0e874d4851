package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/danmuck/deskwire/internal/bridge"
	"github.com/danmuck/deskwire/internal/observability"
)

func main() {
	configPath := flag.String("config", "", "bridge config toml (defaults apply when unset)")
	flag.Parse()

	observability.InitLogger("bridgectl")

	cfg := bridge.DefaultServiceConfig()
	if *configPath != "" {
		loaded, err := loadServiceConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "bridgectl: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	svc := bridge.NewServiceWithConfig(cfg)
	if err := svc.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "bridgectl: %v\n", err)
		os.Exit(1)
	}
}
