package device

import (
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/AnishMulay/sectorfs/internal/block_device/localdisc"
	logservice "github.com/AnishMulay/sectorfs/internal/log_service"
	locallog "github.com/AnishMulay/sectorfs/internal/log_service/localdisc"
	"github.com/AnishMulay/sectorfs/internal/server"
	grpcserver "github.com/AnishMulay/sectorfs/internal/server/grpc"
)

type Options struct {
	NodeID     string
	ListenAddr string
	DataDir    string
	LogLevel   string
	Image      string
	Sectors    uint32
}

type runnable interface {
	Run() error
}

type deviceNode struct {
	server server.Server
	ls     *locallog.LocalDiscLogService
}

func (n *deviceNode) Run() error {
	defer n.ls.Close()

	if err := n.server.Start(); err != nil {
		return err
	}

	// Wait for termination signal
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c

	return n.server.Stop()
}

// Build opens the disk image and prepares a gRPC server exporting it.
func Build(opts Options) (runnable, error) {
	if opts.LogLevel == "" {
		opts.LogLevel = logservice.InfoLevel
	}
	if opts.Image == "" {
		opts.Image = filepath.Join(opts.DataDir, "disk.img")
	}

	ls := locallog.NewLocalDiscLogService(filepath.Join(opts.DataDir, "logs"), opts.NodeID, opts.LogLevel)

	dev, err := localdisc.NewLocalDiscBlockDevice(opts.Image, opts.Sectors, ls)
	if err != nil {
		ls.Error(logservice.LogEvent{
			Message:  "Failed to open disk image",
			Metadata: map[string]any{"image": opts.Image, "error": err.Error()},
		})
		ls.Close()
		return nil, err
	}

	srv := grpcserver.NewGRPCDeviceServer(opts.ListenAddr, dev, ls)
	return &deviceNode{server: srv, ls: ls}, nil
}
