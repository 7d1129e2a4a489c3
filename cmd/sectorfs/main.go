package main

import (
	"flag"
	"log"

	"github.com/AnishMulay/sectorfs/internal/config"
	"github.com/AnishMulay/sectorfs/servers/device"
)

func main() {
	var (
		configPath = flag.String("config", "./sectorfs.yaml", "Path to the YAML config file")
		serverType = flag.String("server", "device", "Server type (device)")
		nodeID     = flag.String("node-id", "", "Node ID, overrides config")
		listen     = flag.String("listen", "", "Listen address, overrides config")
		dataDir    = flag.String("data-dir", "", "Data directory, overrides config")
		image      = flag.String("image", "", "Disk image path, overrides config")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *nodeID != "" {
		cfg.NodeID = *nodeID
	}
	if *listen != "" {
		cfg.Server.ListenAddr = *listen
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *image != "" {
		cfg.Device.Image = *image
	}

	switch *serverType {
	case "device":
		opts := device.Options{
			NodeID:     cfg.NodeID,
			ListenAddr: cfg.Server.ListenAddr,
			DataDir:    cfg.DataDir,
			LogLevel:   cfg.LogLevel,
			Image:      cfg.Device.Image,
			Sectors:    cfg.Device.Sectors,
		}
		server, err := device.Build(opts)
		if err != nil {
			log.Fatalf("Failed to build server: %v", err)
		}
		if err := server.Run(); err != nil {
			log.Fatalf("Server failed: %v", err)
		}
	default:
		log.Fatalf("Unknown server type: %s", *serverType)
	}
}
