package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/deskwire/internal/config"
	"github.com/danmuck/deskwire/internal/observability"
	"github.com/danmuck/deskwire/internal/viewer"
)

func main() {
	configPath := flag.String("config", "", "viewer config toml; endpoint flags are ignored when set")
	addr := flag.String("addr", "", "bridge TCP address")
	url := flag.String("url", "", "bridge websocket url")
	username := flag.String("username", "", "username offered in the handshake")
	width := flag.Uint("width", 1280, "desktop width")
	height := flag.Uint("height", 720, "desktop height")
	token := flag.String("token", "", "bearer token for the websocket listener")
	attempts := flag.Int("max-attempts", 5, "consecutive failed dials before giving up")
	flag.Parse()

	observability.InitLogger("viewctl")

	cfg := viewer.DefaultConfig()
	if *configPath != "" {
		loaded, err := config.LoadViewerConfig(*configPath)
		if err != nil {
			fatal(err)
		}
		cfg, err = config.ViewerClient(loaded)
		if err != nil {
			fatal(err)
		}
	} else {
		cfg.Addr = *addr
		cfg.URL = *url
		cfg.Username = *username
		cfg.Width = uint32(*width)
		cfg.Height = uint32(*height)
		cfg.AuthToken = *token
		cfg.MaxAttempts = *attempts
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := viewer.New(cfg).Run(ctx); err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "viewctl: %v\n", err)
	os.Exit(1)
}
