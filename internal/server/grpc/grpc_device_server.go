package grpcserver

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/AnishMulay/sectorfs/internal/block_device"
	"github.com/AnishMulay/sectorfs/internal/block_device/grpcdisk"
	"github.com/AnishMulay/sectorfs/internal/log_service"
	"github.com/AnishMulay/sectorfs/internal/server"
	"google.golang.org/grpc"
)

// GRPCDeviceServer serves one block device to remote volumes.
type GRPCDeviceServer struct {
	listenAddress string
	dev           block_device.Device
	ls            log_service.LogService

	grpcServer *grpc.Server
	listener   net.Listener
	stopped    bool
	stopMutex  sync.Mutex
}

func NewGRPCDeviceServer(addr string, dev block_device.Device, ls log_service.LogService) *GRPCDeviceServer {
	return &GRPCDeviceServer{
		listenAddress: addr,
		dev:           dev,
		ls:            ls,
	}
}

// Address returns the bound address once started, the configured one
// before that.
func (s *GRPCDeviceServer) Address() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.listenAddress
}

func (s *GRPCDeviceServer) Start() error {
	s.ls.Info(log_service.LogEvent{
		Message:  "Starting device server",
		Metadata: map[string]any{"address": s.listenAddress, "sectors": s.dev.SectorCount()},
	})

	lis, err := net.Listen("tcp", s.listenAddress)
	if err != nil {
		s.ls.Error(log_service.LogEvent{
			Message:  "Failed to listen on address",
			Metadata: map[string]any{"address": s.listenAddress, "error": err.Error()},
		})
		return fmt.Errorf("%w: %w", server.ErrListenFailed, err)
	}
	s.listener = lis

	s.grpcServer = grpc.NewServer()
	grpcdisk.RegisterBlockDeviceServer(s.grpcServer, grpcdisk.NewDeviceService(s.dev, s.ls))

	go func() {
		if err := s.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			s.ls.Error(log_service.LogEvent{
				Message:  "Device server error",
				Metadata: map[string]any{"address": s.Address(), "error": err.Error()},
			})
		}
	}()

	s.ls.Info(log_service.LogEvent{
		Message:  "Device server started",
		Metadata: map[string]any{"address": s.Address()},
	})
	return nil
}

// Stop drains in-flight requests and closes the device.
func (s *GRPCDeviceServer) Stop() error {
	s.stopMutex.Lock()
	defer s.stopMutex.Unlock()

	if s.stopped {
		s.ls.Debug(log_service.LogEvent{
			Message:  "Device server already stopped, skipping",
			Metadata: map[string]any{"address": s.Address()},
		})
		return nil
	}

	if s.grpcServer != nil {
		s.grpcServer.GracefulStop()
	}
	s.stopped = true

	if err := s.dev.Close(); err != nil {
		s.ls.Error(log_service.LogEvent{
			Message:  "Failed to close device",
			Metadata: map[string]any{"error": err.Error()},
		})
		return fmt.Errorf("%w: %w", server.ErrServerStopFailed, err)
	}

	s.ls.Info(log_service.LogEvent{
		Message:  "Device server stopped",
		Metadata: map[string]any{"address": s.Address()},
	})
	return nil
}

var _ server.Server = (*GRPCDeviceServer)(nil)
