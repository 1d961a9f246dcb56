package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jeongseonghan/audio-modem/internal/audio"
	"github.com/jeongseonghan/audio-modem/internal/config"
	"github.com/jeongseonghan/audio-modem/internal/metrics"
	"github.com/jeongseonghan/audio-modem/internal/server"
)

func main() {
	configFile := flag.String("config", "", "YAML config file (overrides flag defaults below)")
	addr := flag.String("addr", "0.0.0.0:8080", "Server address")
	uploadDir := flag.String("upload-dir", "./uploads", "Upload directory")
	receiveDir := flag.String("receive-dir", "./received", "Receive directory")
	listDevices := flag.Bool("list-devices", false, "List audio devices and exit")
	flag.Parse()

	cfg := config.Default()
	if *configFile != "" {
		loaded, err := config.Load(*configFile)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
	}
	// flag.Visit only walks flags the user actually set, so an
	// untouched -addr/-upload-dir/-receive-dir never clobbers a value
	// the config file set.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			cfg.Server.Addr = *addr
		case "upload-dir":
			cfg.Server.UploadDir = *uploadDir
		case "receive-dir":
			cfg.Server.ReceiveDir = *receiveDir
		}
	})

	// Initialize PortAudio
	if err := audio.Init(); err != nil {
		log.Fatalf("Failed to initialize PortAudio: %v", err)
	}
	defer audio.Terminate()

	if *listDevices {
		scheme, err := cfg.Scheme()
		if err != nil {
			log.Fatalf("Failed to resolve scheme: %v", err)
		}
		if err := audio.PrintDevices(scheme.Profile); err != nil {
			log.Fatalf("Failed to list devices: %v", err)
		}
		return
	}

	// Create directories
	os.MkdirAll(cfg.Server.UploadDir, 0755)
	os.MkdirAll(cfg.Server.ReceiveDir, 0755)

	// Create handlers and server
	var m *metrics.Modem
	if cfg.Metrics.Enabled {
		m = metrics.NewModem()
	}
	handlers := server.NewHandlersWithConfig(cfg, m)
	srv := server.NewServer(cfg.Server.Addr, handlers, cfg.Server.StaticDir)

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Println("\nShutting down...")
		audio.Terminate()
		os.Exit(0)
	}()

	// Start server
	if err := srv.Start(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
