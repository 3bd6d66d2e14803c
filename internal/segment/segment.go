// Package segment implements the byte-addressable storage region backing
// the authoritative tier: a manually sized arena with a first-fit free-list
// allocator, a key-hash index with generation-tagged slots, and an optional
// file mirror for restart durability.
package segment

import (
	"encoding/binary"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/tierstore/tierstore/internal/buffer"
	"github.com/tierstore/tierstore/pkg/errors"
	"github.com/tierstore/tierstore/pkg/logging"
)

const (
	liveMagic uint32 = 0x6c697665 // "live"
	freeMagic uint32 = 0x66726565 // "free"

	// record header: magic u32 | keyLen u32 | valLen u32 | reserved u32 |
	// checksum u64 (xxhash over key then value)
	headerSize = 24

	// free chunk header: magic u32 | chunkLen u32
	freeHeaderSize = 8

	alignment = 8
)

// SlotRef locates a stored record inside the region. A ref is valid only
// while its generation matches the slot's current allocation; after a
// reclaim the generation mismatch reports "entry no longer present" instead
// of dereferencing reused bytes.
type SlotRef struct {
	Offset     int64
	Length     int64 // total aligned record length including header
	Generation uint64
}

// RecoveredEntry is one record found intact during a file-backed reopen.
type RecoveredEntry struct {
	Key string
	Ref SlotRef
}

// Config describes a segment store region.
type Config struct {
	// Capacity is the region size in bytes.
	Capacity int64

	// Path, when non-empty, mirrors the region to a file for restart
	// durability.
	Path string

	// SyncOnWrite forces an fsync after every mirrored write.
	SyncOnWrite bool
}

type span struct {
	off    int64
	length int64
}

// Store manages the region, its free list, and its key index. Only the
// owning authoritative tier mutates it; the internal lock is narrow and
// key-independent by design, so it must never be held across user code.
type Store struct {
	mu          sync.Mutex
	region      []byte
	capacity    int64
	used        int64
	free        []span // sorted by offset, coalesced
	index       map[uint64][]SlotRef
	allocGen    map[int64]uint64
	nextGen     uint64
	file        *os.File
	syncOnWrite bool
	pool        *buffer.Pool
	log         *logging.Logger
	closed      bool
	recovered   []RecoveredEntry
}

// Open creates the region and, when file-backed, rebuilds the index from
// the recorded entries. Records that fail their integrity check are dropped
// and logged; recovery is best effort, not transactional.
func Open(cfg Config, pool *buffer.Pool, log *logging.Logger) (*Store, error) {
	if cfg.Capacity <= 0 {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig,
			fmt.Sprintf("segment capacity must be positive, got %d", cfg.Capacity)).
			WithComponent("segment")
	}
	if pool == nil {
		pool = buffer.NewPool()
	}
	if log == nil {
		log = logging.Nop()
	}

	s := &Store{
		region:      make([]byte, cfg.Capacity),
		capacity:    cfg.Capacity,
		index:       make(map[uint64][]SlotRef),
		allocGen:    make(map[int64]uint64),
		syncOnWrite: cfg.SyncOnWrite,
		pool:        pool,
		log:         log.WithComponent("segment"),
	}

	if cfg.Path != "" {
		file, err := os.OpenFile(cfg.Path, os.O_RDWR|os.O_CREATE, 0600) // #nosec G304 -- path supplied by the persistence context
		if err != nil {
			return nil, errors.NewError(errors.ErrCodePersistenceFailure, "failed to open segment file").
				WithComponent("segment").WithOperation("open").WithCause(err)
		}

		info, err := file.Stat()
		if err != nil {
			_ = file.Close()
			return nil, errors.NewError(errors.ErrCodePersistenceFailure, "failed to stat segment file").
				WithComponent("segment").WithOperation("open").WithCause(err)
		}

		existing := info.Size()
		if existing > 0 {
			n := existing
			if n > cfg.Capacity {
				n = cfg.Capacity
			}
			if _, err := file.ReadAt(s.region[:n], 0); err != nil {
				_ = file.Close()
				return nil, errors.NewError(errors.ErrCodePersistenceFailure, "failed to read segment file").
					WithComponent("segment").WithOperation("open").WithCause(err)
			}
		}
		if err := file.Truncate(cfg.Capacity); err != nil {
			_ = file.Close()
			return nil, errors.NewError(errors.ErrCodePersistenceFailure, "failed to size segment file").
				WithComponent("segment").WithOperation("open").WithCause(err)
		}
		s.file = file

		if existing > 0 {
			s.recover()
			return s, nil
		}
	}

	s.resetFreeList()
	return s, nil
}

// resetFreeList makes the whole region one free chunk. Caller holds no
// state worth keeping.
func (s *Store) resetFreeList() {
	s.free = []span{{off: 0, length: s.capacity}}
	s.used = 0
	s.writeFreeHeader(0, s.capacity)
}

// Recovered returns the entries rebuilt during a file-backed reopen. The
// owning tier consumes this once at start to repopulate its metadata.
func (s *Store) Recovered() []RecoveredEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.recovered
	s.recovered = nil
	return out
}

// Capacity returns the region size in bytes.
func (s *Store) Capacity() int64 { return s.capacity }

// Used returns the bytes currently allocated, headers included.
func (s *Store) Used() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.used
}

// Allocate reserves space for a record with the given payload size and
// returns a generation-tagged slot. It fails with ResourceExhausted when no
// contiguous chunk fits; the owning tier is expected to evict and retry.
func (s *Store) Allocate(payload int) (SlotRef, error) {
	total := alignUp(int64(headerSize + payload))

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return SlotRef{}, errors.NewError(errors.ErrCodeStoreClosed, "segment store is closed").
			WithComponent("segment").WithOperation("allocate")
	}

	for i, f := range s.free {
		if f.length < total {
			continue
		}

		// first fit; split the remainder back onto the free list
		remainder := f.length - total
		if remainder > 0 {
			s.free[i] = span{off: f.off + total, length: remainder}
			s.writeFreeHeader(f.off+total, remainder)
		} else {
			s.free = append(s.free[:i], s.free[i+1:]...)
		}

		s.nextGen++
		ref := SlotRef{Offset: f.off, Length: total, Generation: s.nextGen}
		s.allocGen[f.off] = s.nextGen
		s.used += total
		return ref, nil
	}

	return SlotRef{}, errors.NewError(errors.ErrCodeResourceExhausted,
		fmt.Sprintf("no contiguous chunk of %d bytes (used %d of %d)", total, s.used, s.capacity)).
		WithComponent("segment").WithOperation("allocate")
}

// Write serializes a record into the allocated slot and mirrors it to the
// backing file when present.
func (s *Store) Write(ref SlotRef, key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.NewError(errors.ErrCodeStoreClosed, "segment store is closed").
			WithComponent("segment").WithOperation("write")
	}
	if gen, ok := s.allocGen[ref.Offset]; !ok || gen != ref.Generation {
		return errors.NewError(errors.ErrCodeSlotReclaimed, "slot was reclaimed before write").
			WithComponent("segment").WithOperation("write")
	}
	if int64(headerSize+len(key)+len(value)) > ref.Length {
		return errors.NewError(errors.ErrCodeInternalError, "record does not fit its slot").
			WithComponent("segment").WithOperation("write")
	}

	buf := s.pool.Get(int(ref.Length))
	defer s.pool.Put(buf)

	binary.LittleEndian.PutUint32(buf[0:], liveMagic)
	binary.LittleEndian.PutUint32(buf[4:], uint32(len(key)))
	binary.LittleEndian.PutUint32(buf[8:], uint32(len(value)))
	binary.LittleEndian.PutUint32(buf[12:], 0)
	binary.LittleEndian.PutUint64(buf[16:], recordChecksum(key, value))
	copy(buf[headerSize:], key)
	copy(buf[headerSize+len(key):], value)
	for i := headerSize + len(key) + len(value); i < int(ref.Length); i++ {
		buf[i] = 0
	}

	copy(s.region[ref.Offset:ref.Offset+ref.Length], buf)

	return s.mirror(ref.Offset, buf)
}

// Read returns copies of the stored key and value. A generation mismatch
// reports the slot as reclaimed; the caller treats that as absence.
func (s *Store) Read(ref SlotRef) (key, value []byte, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, nil, errors.NewError(errors.ErrCodeStoreClosed, "segment store is closed").
			WithComponent("segment").WithOperation("read")
	}
	if gen, ok := s.allocGen[ref.Offset]; !ok || gen != ref.Generation {
		return nil, nil, errors.NewError(errors.ErrCodeSlotReclaimed, "slot was reclaimed").
			WithComponent("segment").WithOperation("read")
	}

	record := s.region[ref.Offset : ref.Offset+ref.Length]
	if binary.LittleEndian.Uint32(record[0:]) != liveMagic {
		return nil, nil, errors.NewError(errors.ErrCodePersistenceFailure, "record header corrupted").
			WithComponent("segment").WithOperation("read")
	}

	keyLen := int(binary.LittleEndian.Uint32(record[4:]))
	valLen := int(binary.LittleEndian.Uint32(record[8:]))
	if int64(headerSize+keyLen+valLen) > ref.Length {
		return nil, nil, errors.NewError(errors.ErrCodePersistenceFailure, "record lengths corrupted").
			WithComponent("segment").WithOperation("read")
	}

	k := record[headerSize : headerSize+keyLen]
	v := record[headerSize+keyLen : headerSize+keyLen+valLen]
	if recordChecksum(k, v) != binary.LittleEndian.Uint64(record[16:]) {
		return nil, nil, errors.NewError(errors.ErrCodePersistenceFailure, "record checksum mismatch").
			WithComponent("segment").WithOperation("read")
	}

	key = append([]byte(nil), k...)
	value = append([]byte(nil), v...)
	return key, value, nil
}

// Reclaim frees the slot and invalidates its generation so stale refs can
// never dereference reused bytes. Reclaiming an already-stale ref is a
// no-op.
func (s *Store) Reclaim(ref SlotRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	if gen, ok := s.allocGen[ref.Offset]; !ok || gen != ref.Generation {
		return nil
	}

	delete(s.allocGen, ref.Offset)
	s.used -= ref.Length
	s.insertFree(span{off: ref.Offset, length: ref.Length})
	return nil
}

// insertFree adds the span to the free list, coalescing with neighbors, and
// stamps the merged chunk with a free header. Caller holds s.mu.
func (s *Store) insertFree(f span) {
	i := sort.Search(len(s.free), func(i int) bool { return s.free[i].off > f.off })
	s.free = append(s.free, span{})
	copy(s.free[i+1:], s.free[i:])
	s.free[i] = f

	// merge with successor
	if i+1 < len(s.free) && s.free[i].off+s.free[i].length == s.free[i+1].off {
		s.free[i].length += s.free[i+1].length
		s.free = append(s.free[:i+1], s.free[i+2:]...)
	}
	// merge with predecessor
	if i > 0 && s.free[i-1].off+s.free[i-1].length == s.free[i].off {
		s.free[i-1].length += s.free[i].length
		s.free = append(s.free[:i], s.free[i+1:]...)
		i--
	}

	s.writeFreeHeader(s.free[i].off, s.free[i].length)
}

// writeFreeHeader stamps a free chunk in the region and mirrors the stamp.
// Mirror failures here are logged, not returned: the chunk is already free
// in memory and the next successful write re-stamps the file. Caller holds
// s.mu.
func (s *Store) writeFreeHeader(off, length int64) {
	var hdr [freeHeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[0:], freeMagic)
	binary.LittleEndian.PutUint32(hdr[4:], uint32(length))
	copy(s.region[off:off+freeHeaderSize], hdr[:])

	if err := s.mirror(off, hdr[:]); err != nil {
		s.log.Warn("failed to mirror free header", map[string]interface{}{
			"offset": off,
			"error":  err.Error(),
		})
	}
}

// mirror writes bytes through to the backing file. Caller holds s.mu.
func (s *Store) mirror(off int64, data []byte) error {
	if s.file == nil {
		return nil
	}
	if _, err := s.file.WriteAt(data, off); err != nil {
		return errors.NewError(errors.ErrCodePersistenceFailure, "failed to write segment file").
			WithComponent("segment").WithOperation("mirror").WithCause(err)
	}
	if s.syncOnWrite {
		if err := s.file.Sync(); err != nil {
			return errors.NewError(errors.ErrCodePersistenceFailure, "failed to sync segment file").
				WithComponent("segment").WithOperation("mirror").WithCause(err)
		}
	}
	return nil
}

// Clear discards every record and resets the region to one free chunk.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.NewError(errors.ErrCodeStoreClosed, "segment store is closed").
			WithComponent("segment").WithOperation("clear")
	}

	s.index = make(map[uint64][]SlotRef)
	s.allocGen = make(map[int64]uint64)
	s.resetFreeList()
	return nil
}

// Close flushes the file mirror and releases it. The region itself is left
// to the garbage collector.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.file != nil {
		if err := s.file.Sync(); err != nil {
			_ = s.file.Close()
			return errors.NewError(errors.ErrCodePersistenceFailure, "failed to sync segment file on close").
				WithComponent("segment").WithOperation("close").WithCause(err)
		}
		if err := s.file.Close(); err != nil {
			return errors.NewError(errors.ErrCodePersistenceFailure, "failed to close segment file").
				WithComponent("segment").WithOperation("close").WithCause(err)
		}
		s.file = nil
	}
	return nil
}

func alignUp(n int64) int64 {
	return (n + alignment - 1) &^ (alignment - 1)
}

func recordChecksum(key, value []byte) uint64 {
	d := xxhash.New()
	_, _ = d.Write(key)
	_, _ = d.Write(value)
	return d.Sum64()
}
