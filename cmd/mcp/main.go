package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/AnishMulay/sectorfs/internal/config"
	locallog "github.com/AnishMulay/sectorfs/internal/log_service/localdisc"
	"github.com/AnishMulay/sectorfs/internal/volume"
	"github.com/mark3labs/mcp-go/server"
)

func main() {
	configPath := flag.String("config", "./sectorfs.yaml", "Path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	ls := locallog.NewLocalDiscLogService(cfg.LogDir(), cfg.NodeID+"-mcp", cfg.LogLevel)
	defer ls.Close()

	dev, err := cfg.OpenDevice(context.Background(), ls)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open device: %v\n", err)
		os.Exit(1)
	}

	vol, err := volume.Mount(dev, cfg.Cache.Capacity, ls)
	if err != nil {
		dev.Close()
		fmt.Fprintf(os.Stderr, "Failed to mount volume: %v\n", err)
		os.Exit(1)
	}

	s := server.NewMCPServer(
		"sectorfs",
		"1.0.0",
		server.WithToolCapabilities(false),
	)
	addTools(s, &volumeTools{vol: vol})

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
	}

	if err := vol.Unmount(); err != nil {
		fmt.Fprintf(os.Stderr, "Unmount failed: %v\n", err)
	}
}
