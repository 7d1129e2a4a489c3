package indexed

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/AnishMulay/sectorfs/internal/block_cache"
	"github.com/AnishMulay/sectorfs/internal/block_device"
	"github.com/AnishMulay/sectorfs/internal/free_map"
	"github.com/AnishMulay/sectorfs/internal/inode_store"
	"github.com/AnishMulay/sectorfs/internal/log_service"
)

// IndexedInodeStore keeps inode records in single sectors and addresses
// file data through direct, single-indirect and double-indirect pointers.
type IndexedInodeStore struct {
	mu    sync.Mutex
	open  map[block_device.Sector]*indexedInode
	tree  *pointerTree
	cache block_cache.BlockCache
	fm    free_map.FreeMap
	ls    log_service.LogService
}

func NewIndexedInodeStore(cache block_cache.BlockCache, fm free_map.FreeMap, ls log_service.LogService) *IndexedInodeStore {
	return &IndexedInodeStore{
		open:  make(map[block_device.Sector]*indexedInode),
		tree:  &pointerTree{cache: cache, fm: fm},
		cache: cache,
		fm:    fm,
		ls:    ls,
	}
}

func (s *IndexedInodeStore) Create(sector block_device.Sector, length int64) error {
	if length < 0 || length > inode_store.MaxLength {
		return fmt.Errorf("create inode %d with length %d: %w", sector, length, inode_store.ErrInvalidLength)
	}

	d := &diskInode{Length: int32(length), Magic: inode_store.InodeMagic}
	taken, err := s.tree.allocate(d)
	if err != nil {
		s.ls.Error(log_service.LogEvent{
			Message:  "Failed to allocate inode sectors",
			Metadata: map[string]any{"sector": sector, "length": length, "error": err.Error()},
		})
		return fmt.Errorf("create inode %d: %w", sector, err)
	}

	if err := s.cache.Write(sector, d.encode()); err != nil {
		for _, t := range taken {
			s.fm.Release(t)
		}
		return fmt.Errorf("write inode %d: %w", sector, err)
	}

	s.ls.Debug(log_service.LogEvent{
		Message:  "Created inode",
		Metadata: map[string]any{"sector": sector, "length": length, "sectors": len(taken)},
	})
	return nil
}

func (s *IndexedInodeStore) Open(sector block_device.Sector) (inode_store.Inode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if in, ok := s.open[sector]; ok {
		in.openCount++
		return in, nil
	}

	buf := make([]byte, block_device.SectorSize)
	if err := s.cache.Read(sector, buf); err != nil {
		return nil, fmt.Errorf("open inode %d: %w", sector, err)
	}

	in := &indexedInode{store: s, sector: sector, openCount: 1}
	if err := in.data.decode(buf); err != nil {
		s.ls.Warn(log_service.LogEvent{
			Message:  "Refused to open sector without inode magic",
			Metadata: map[string]any{"sector": sector, "error": err.Error()},
		})
		return nil, fmt.Errorf("open inode %d: %w", sector, err)
	}
	if in.data.Length < 0 || int64(in.data.Length) > inode_store.MaxLength {
		return nil, fmt.Errorf("open inode %d with length %d: %w", sector, in.data.Length, inode_store.ErrCorruptInode)
	}

	s.open[sector] = in
	return in, nil
}

func (s *IndexedInodeStore) OpenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.open)
}

// release frees the storage of a removed inode. Only the closer that drops
// the open count to zero calls it.
func (s *IndexedInodeStore) release(in *indexedInode) error {
	err := s.tree.deallocate(&in.data)
	if rerr := s.fm.Release(in.sector); rerr != nil {
		err = errors.Join(err, rerr)
	}
	if err != nil {
		s.ls.Error(log_service.LogEvent{
			Message:  "Failed to release inode storage",
			Metadata: map[string]any{"sector": in.sector, "error": err.Error()},
		})
		return fmt.Errorf("release inode %d: %w", in.sector, err)
	}

	s.ls.Debug(log_service.LogEvent{
		Message:  "Released inode",
		Metadata: map[string]any{"sector": in.sector, "length": in.data.Length},
	})
	return nil
}

type indexedInode struct {
	store  *IndexedInodeStore
	sector block_device.Sector
	data   diskInode

	// guarded by store.mu
	openCount      int
	removed        bool
	denyWriteCount int
}

func (in *indexedInode) Sector() block_device.Sector { return in.sector }

func (in *indexedInode) Length() int64 { return int64(in.data.Length) }

// byteToSector returns the sector holding byte pos, or NoSector when pos is
// outside the file.
func (in *indexedInode) byteToSector(pos int64) (block_device.Sector, error) {
	if pos < 0 || pos >= in.Length() {
		return block_device.NoSector, nil
	}
	return in.store.tree.resolve(&in.data, uint32(pos/block_device.SectorSize))
}

func (in *indexedInode) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, inode_store.ErrInvalidOffset
	}

	var bounce []byte
	n := 0
	for n < len(p) {
		pos := off + int64(n)
		sector, err := in.byteToSector(pos)
		if err != nil {
			return n, fmt.Errorf("read inode %d at %d: %w", in.sector, pos, err)
		}
		if sector == block_device.NoSector {
			break
		}

		sectorOfs := int(pos % block_device.SectorSize)
		chunk := int(min(int64(len(p)-n), int64(block_device.SectorSize-sectorOfs), in.Length()-pos))

		if sectorOfs == 0 && chunk == block_device.SectorSize {
			if err := in.store.cache.Read(sector, p[n:n+chunk]); err != nil {
				return n, fmt.Errorf("read inode %d at %d: %w", in.sector, pos, err)
			}
		} else {
			if bounce == nil {
				bounce = make([]byte, block_device.SectorSize)
			}
			if err := in.store.cache.Read(sector, bounce); err != nil {
				return n, fmt.Errorf("read inode %d at %d: %w", in.sector, pos, err)
			}
			copy(p[n:n+chunk], bounce[sectorOfs:])
		}
		n += chunk
	}

	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (in *indexedInode) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, inode_store.ErrInvalidOffset
	}
	if len(p) == 0 {
		return 0, nil
	}

	in.store.mu.Lock()
	denied := in.denyWriteCount > 0
	in.store.mu.Unlock()
	if denied {
		return 0, inode_store.ErrWriteDenied
	}

	end := off + int64(len(p)) - 1
	last, err := in.byteToSector(end)
	if err != nil {
		return 0, fmt.Errorf("write inode %d at %d: %w", in.sector, end, err)
	}
	if last == block_device.NoSector {
		panic(fmt.Sprintf("inode %d: write of %d bytes at offset %d ends past length %d; files do not grow",
			in.sector, len(p), off, in.Length()))
	}

	var bounce []byte
	n := 0
	for n < len(p) {
		pos := off + int64(n)
		sector, err := in.byteToSector(pos)
		if err != nil {
			return n, fmt.Errorf("write inode %d at %d: %w", in.sector, pos, err)
		}

		sectorOfs := int(pos % block_device.SectorSize)
		sectorLeft := block_device.SectorSize - sectorOfs
		chunk := int(min(int64(len(p)-n), int64(sectorLeft), in.Length()-pos))

		if sectorOfs == 0 && chunk == block_device.SectorSize {
			if err := in.store.cache.Write(sector, p[n:n+chunk]); err != nil {
				return n, fmt.Errorf("write inode %d at %d: %w", in.sector, pos, err)
			}
		} else {
			if bounce == nil {
				bounce = make([]byte, block_device.SectorSize)
			}
			if sectorOfs > 0 || chunk < sectorLeft {
				if err := in.store.cache.Read(sector, bounce); err != nil {
					return n, fmt.Errorf("write inode %d at %d: %w", in.sector, pos, err)
				}
			} else {
				clear(bounce)
			}
			copy(bounce[sectorOfs:], p[n:n+chunk])
			if err := in.store.cache.Write(sector, bounce); err != nil {
				return n, fmt.Errorf("write inode %d at %d: %w", in.sector, pos, err)
			}
		}
		n += chunk
	}
	return n, nil
}

func (in *indexedInode) Reopen() inode_store.Inode {
	in.store.mu.Lock()
	defer in.store.mu.Unlock()
	if in.openCount == 0 {
		panic(fmt.Sprintf("reopen of closed inode %d", in.sector))
	}
	in.openCount++
	return in
}

// Close drops one reference. The last close of a removed inode frees its
// record and data sectors.
func (in *indexedInode) Close() error {
	in.store.mu.Lock()
	if in.openCount == 0 {
		in.store.mu.Unlock()
		return fmt.Errorf("close inode %d: %w", in.sector, inode_store.ErrInodeClosed)
	}
	in.openCount--
	if in.denyWriteCount > in.openCount {
		in.denyWriteCount = in.openCount
	}
	last := in.openCount == 0
	if last {
		delete(in.store.open, in.sector)
	}
	removed := in.removed
	in.store.mu.Unlock()

	if last && removed {
		return in.store.release(in)
	}
	return nil
}

func (in *indexedInode) Remove() {
	in.store.mu.Lock()
	defer in.store.mu.Unlock()
	in.removed = true
}

func (in *indexedInode) IsRemoved() bool {
	in.store.mu.Lock()
	defer in.store.mu.Unlock()
	return in.removed
}

// DenyWrite blocks writes through every opener until a matching AllowWrite.
// Each opener may hold at most one denial.
func (in *indexedInode) DenyWrite() error {
	in.store.mu.Lock()
	defer in.store.mu.Unlock()
	if in.denyWriteCount >= in.openCount {
		return fmt.Errorf("deny write on inode %d: %w", in.sector, inode_store.ErrDenyWriteImbalance)
	}
	in.denyWriteCount++
	return nil
}

func (in *indexedInode) AllowWrite() error {
	in.store.mu.Lock()
	defer in.store.mu.Unlock()
	if in.denyWriteCount == 0 {
		return fmt.Errorf("allow write on inode %d: %w", in.sector, inode_store.ErrDenyWriteImbalance)
	}
	in.denyWriteCount--
	return nil
}

var (
	_ inode_store.InodeStore = (*IndexedInodeStore)(nil)
	_ inode_store.Inode      = (*indexedInode)(nil)
)
