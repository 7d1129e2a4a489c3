package volume

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/AnishMulay/sectorfs/internal/block_device"
	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

const (
	HeaderSector block_device.Sector = 0
	BitmapStart  block_device.Sector = 1

	FormatVersion uint32 = 1
)

var headerMagic = [4]byte{'S', 'F', 'S', 'V'}

// header is the volume record kept in sector 0.
type header struct {
	Magic         [4]byte
	Version       uint32
	ID            uuid.UUID
	Sectors       uint32
	BitmapStart   uint32
	BitmapSectors uint32
	FormattedAt   int64
	Checksum      [blake2b.Size256]byte
}

func newHeader(sectors, bitmapSectors uint32) *header {
	return &header{
		Magic:         headerMagic,
		Version:       FormatVersion,
		ID:            uuid.New(),
		Sectors:       sectors,
		BitmapStart:   uint32(BitmapStart),
		BitmapSectors: bitmapSectors,
		FormattedAt:   time.Now().Unix(),
	}
}

// sum hashes every field except the checksum itself.
func (h *header) sum() [blake2b.Size256]byte {
	c := *h
	c.Checksum = [blake2b.Size256]byte{}
	return blake2b.Sum256(c.raw())
}

func (h *header) encode() []byte {
	h.Checksum = h.sum()
	out := make([]byte, block_device.SectorSize)
	copy(out, h.raw())
	return out
}

func (h *header) raw() []byte {
	var buf bytes.Buffer
	buf.Grow(block_device.SectorSize)
	if err := binary.Write(&buf, binary.LittleEndian, h); err != nil {
		panic(fmt.Sprintf("encode volume header: %v", err))
	}
	return buf.Bytes()
}

func decodeHeader(b []byte) (*header, error) {
	h := &header{}
	if err := binary.Read(bytes.NewReader(b), binary.LittleEndian, h); err != nil {
		return nil, err
	}
	if h.Magic != headerMagic {
		return nil, ErrNotFormatted
	}
	if h.Checksum != h.sum() {
		return nil, ErrCorruptHeader
	}
	if h.Version != FormatVersion {
		return nil, fmt.Errorf("version %d: %w", h.Version, ErrUnsupportedVersion)
	}
	return h, nil
}

// reserved is the number of leading sectors the header and bitmap occupy.
func (h *header) reserved() uint32 {
	return h.BitmapStart + h.BitmapSectors
}
