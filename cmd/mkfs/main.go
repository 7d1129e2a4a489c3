package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/AnishMulay/sectorfs/internal/config"
	locallog "github.com/AnishMulay/sectorfs/internal/log_service/localdisc"
	"github.com/AnishMulay/sectorfs/internal/volume"
)

func main() {
	var (
		image   = flag.String("image", "./data/disk.img", "Disk image to format")
		sectors = flag.Uint("sectors", 16384, "Size of a new image in sectors")
		remote  = flag.String("remote", "", "Format a remote device at this address instead of an image")
		logDir  = flag.String("log-dir", "./data/logs", "Log directory")
	)
	flag.Parse()

	cfg := config.Default()
	cfg.NodeID = "mkfs"
	cfg.Device.Image = *image
	cfg.Device.Sectors = uint32(*sectors)
	if *remote != "" {
		cfg.Device.Type = config.DeviceRemote
		cfg.Device.Address = *remote
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid options: %v", err)
	}

	ls := locallog.NewLocalDiscLogService(*logDir, cfg.NodeID, cfg.LogLevel)
	defer ls.Close()

	dev, err := cfg.OpenDevice(context.Background(), ls)
	if err != nil {
		log.Fatalf("Failed to open device: %v", err)
	}

	id, err := volume.Format(dev, ls)
	if err != nil {
		dev.Close()
		log.Fatalf("Format failed: %v", err)
	}
	if err := dev.Close(); err != nil {
		log.Fatalf("Failed to close device: %v", err)
	}

	fmt.Fprintf(os.Stdout, "formatted %d sectors, volume %s\n", dev.SectorCount(), id)
}
