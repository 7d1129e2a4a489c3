package grpcdisk

import (
	"context"
	"errors"

	"github.com/AnishMulay/sectorfs/internal/block_device"
	"github.com/AnishMulay/sectorfs/internal/log_service"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// DeviceService exports a local Device over gRPC.
type DeviceService struct {
	dev block_device.Device
	ls  log_service.LogService
}

func NewDeviceService(dev block_device.Device, ls log_service.LogService) *DeviceService {
	return &DeviceService{dev: dev, ls: ls}
}

func (s *DeviceService) ReadSector(ctx context.Context, in *wrapperspb.UInt32Value) (*wrapperspb.BytesValue, error) {
	buf := make([]byte, block_device.SectorSize)
	if err := s.dev.ReadSector(block_device.Sector(in.GetValue()), buf); err != nil {
		s.ls.Error(log_service.LogEvent{
			Message:  "Remote sector read failed",
			Metadata: map[string]any{"sector": in.GetValue(), "error": err.Error()},
		})
		return nil, toStatus(err)
	}
	return wrapperspb.Bytes(buf), nil
}

func (s *DeviceService) WriteSector(ctx context.Context, in *wrapperspb.BytesValue) (*emptypb.Empty, error) {
	sector, data, ok := decodeWrite(in.GetValue())
	if !ok {
		return nil, status.Error(codes.InvalidArgument, "write payload missing sector address")
	}
	if err := s.dev.WriteSector(block_device.Sector(sector), data); err != nil {
		s.ls.Error(log_service.LogEvent{
			Message:  "Remote sector write failed",
			Metadata: map[string]any{"sector": sector, "error": err.Error()},
		})
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

func (s *DeviceService) SectorCount(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.UInt32Value, error) {
	return wrapperspb.UInt32(s.dev.SectorCount()), nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, block_device.ErrSectorOutOfRange):
		return status.Error(codes.OutOfRange, err.Error())
	case errors.Is(err, block_device.ErrShortBuffer):
		return status.Error(codes.InvalidArgument, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

var _ BlockDeviceServer = (*DeviceService)(nil)
