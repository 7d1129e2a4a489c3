package grpcdisk

import (
	"context"
	"fmt"

	"github.com/AnishMulay/sectorfs/internal/block_device"
	"github.com/AnishMulay/sectorfs/internal/log_service"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// RemoteDevice is a Device whose sectors live behind a DeviceService.
type RemoteDevice struct {
	address string
	conn    *grpc.ClientConn
	sectors uint32
	ls      log_service.LogService
}

// Dial connects to a device service and fetches its geometry. Extra options
// are appended after the default insecure transport credentials.
func Dial(ctx context.Context, address string, ls log_service.LogService, opts ...grpc.DialOption) (*RemoteDevice, error) {
	dialOpts := append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(address, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("create client for %s: %w", address, err)
	}

	count := new(wrapperspb.UInt32Value)
	if err := conn.Invoke(ctx, sectorCountMethod, &emptypb.Empty{}, count); err != nil {
		conn.Close()
		return nil, fmt.Errorf("query sector count from %s: %w", address, err)
	}

	ls.Info(log_service.LogEvent{
		Message:  "Connected to remote device",
		Metadata: map[string]any{"address": address, "sectors": count.GetValue()},
	})

	return &RemoteDevice{
		address: address,
		conn:    conn,
		sectors: count.GetValue(),
		ls:      ls,
	}, nil
}

func (d *RemoteDevice) ReadSector(sector block_device.Sector, buf []byte) error {
	if err := block_device.CheckAccess(sector, buf, d.sectors); err != nil {
		return err
	}

	out := new(wrapperspb.BytesValue)
	if err := d.conn.Invoke(context.Background(), readSectorMethod, wrapperspb.UInt32(uint32(sector)), out); err != nil {
		return fromStatus(err)
	}
	if len(out.GetValue()) != block_device.SectorSize {
		return fmt.Errorf("remote read of sector %d returned %d bytes", sector, len(out.GetValue()))
	}
	copy(buf, out.GetValue())
	return nil
}

func (d *RemoteDevice) WriteSector(sector block_device.Sector, buf []byte) error {
	if err := block_device.CheckAccess(sector, buf, d.sectors); err != nil {
		return err
	}

	in := wrapperspb.Bytes(encodeWrite(uint32(sector), buf[:block_device.SectorSize]))
	if err := d.conn.Invoke(context.Background(), writeSectorMethod, in, new(emptypb.Empty)); err != nil {
		return fromStatus(err)
	}
	return nil
}

func (d *RemoteDevice) SectorCount() uint32 {
	return d.sectors
}

func (d *RemoteDevice) Close() error {
	d.ls.Info(log_service.LogEvent{
		Message:  "Closing remote device",
		Metadata: map[string]any{"address": d.address},
	})
	return d.conn.Close()
}

func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.OutOfRange:
		return fmt.Errorf("%s: %w", st.Message(), block_device.ErrSectorOutOfRange)
	case codes.InvalidArgument:
		return fmt.Errorf("%s: %w", st.Message(), block_device.ErrShortBuffer)
	default:
		return err
	}
}

var _ block_device.Device = (*RemoteDevice)(nil)
