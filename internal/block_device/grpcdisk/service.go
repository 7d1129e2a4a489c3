package grpcdisk

import (
	"context"
	"encoding/binary"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// The device service is described by hand. Its messages are the protobuf
// well-known wrapper types, so no generated stubs are needed. A WriteSector
// payload is a 4-byte little-endian sector address followed by the sector.

const (
	serviceName       = "sectorfs.BlockDevice"
	readSectorMethod  = "/" + serviceName + "/ReadSector"
	writeSectorMethod = "/" + serviceName + "/WriteSector"
	sectorCountMethod = "/" + serviceName + "/SectorCount"

	addrHeaderSize = 4
)

type BlockDeviceServer interface {
	ReadSector(context.Context, *wrapperspb.UInt32Value) (*wrapperspb.BytesValue, error)
	WriteSector(context.Context, *wrapperspb.BytesValue) (*emptypb.Empty, error)
	SectorCount(context.Context, *emptypb.Empty) (*wrapperspb.UInt32Value, error)
}

func RegisterBlockDeviceServer(s grpc.ServiceRegistrar, srv BlockDeviceServer) {
	s.RegisterService(&blockDeviceServiceDesc, srv)
}

var blockDeviceServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*BlockDeviceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ReadSector", Handler: readSectorHandler},
		{MethodName: "WriteSector", Handler: writeSectorHandler},
		{MethodName: "SectorCount", Handler: sectorCountHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "sectorfs/block_device.proto",
}

func readSectorHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.UInt32Value)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BlockDeviceServer).ReadSector(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: readSectorMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(BlockDeviceServer).ReadSector(ctx, req.(*wrapperspb.UInt32Value))
	}
	return interceptor(ctx, in, info, handler)
}

func writeSectorHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BlockDeviceServer).WriteSector(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: writeSectorMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(BlockDeviceServer).WriteSector(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func sectorCountHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BlockDeviceServer).SectorCount(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: sectorCountMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(BlockDeviceServer).SectorCount(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func encodeWrite(sector uint32, data []byte) []byte {
	payload := make([]byte, addrHeaderSize+len(data))
	binary.LittleEndian.PutUint32(payload, sector)
	copy(payload[addrHeaderSize:], data)
	return payload
}

func decodeWrite(payload []byte) (uint32, []byte, bool) {
	if len(payload) < addrHeaderSize {
		return 0, nil, false
	}
	return binary.LittleEndian.Uint32(payload), payload[addrHeaderSize:], true
}
