package segment

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// recover scans the region loaded from the backing file and rebuilds the
// index from records that pass their integrity check. Records that fail are
// dropped and their space returned to the free list; a torn write costs one
// entry, never the whole region. Called from Open before the store is
// shared, so no locking.
func (s *Store) recover() {
	var live []span
	dropped := 0

	off := int64(0)
	for off+freeHeaderSize <= s.capacity {
		magic := binary.LittleEndian.Uint32(s.region[off:])

		switch magic {
		case freeMagic:
			length := int64(binary.LittleEndian.Uint32(s.region[off+4:]))
			if length < freeHeaderSize || length%alignment != 0 || off+length > s.capacity {
				off += alignment
				continue
			}
			off += length

		case liveMagic:
			ref, key, ok := s.verifyRecord(off)
			if !ok {
				dropped++
				off += alignment
				continue
			}
			s.nextGen++
			ref.Generation = s.nextGen
			s.allocGen[ref.Offset] = ref.Generation

			h := xxhash.Sum64(key)
			s.index[h] = append(s.index[h], ref)
			s.recovered = append(s.recovered, RecoveredEntry{Key: string(key), Ref: ref})

			live = append(live, span{off: ref.Offset, length: ref.Length})
			s.used += ref.Length
			off += ref.Length

		default:
			off += alignment
		}
	}

	// free chunks are the gaps between surviving records
	prev := int64(0)
	for _, l := range live {
		if l.off > prev {
			s.insertFree(span{off: prev, length: l.off - prev})
		}
		prev = l.off + l.length
	}
	if prev < s.capacity {
		s.insertFree(span{off: prev, length: s.capacity - prev})
	}

	s.log.Info("segment recovery complete", map[string]interface{}{
		"recovered": len(s.recovered),
		"dropped":   dropped,
		"used":      s.used,
	})
}

// verifyRecord validates the record header and checksum at off. Returns the
// slot and key bytes when the record is intact.
func (s *Store) verifyRecord(off int64) (SlotRef, []byte, bool) {
	if off+headerSize > s.capacity {
		return SlotRef{}, nil, false
	}

	record := s.region[off:]
	keyLen := int64(binary.LittleEndian.Uint32(record[4:]))
	valLen := int64(binary.LittleEndian.Uint32(record[8:]))
	total := alignUp(headerSize + keyLen + valLen)
	if keyLen == 0 || off+total > s.capacity {
		return SlotRef{}, nil, false
	}

	key := s.region[off+headerSize : off+headerSize+keyLen]
	value := s.region[off+headerSize+keyLen : off+headerSize+keyLen+valLen]
	if recordChecksum(key, value) != binary.LittleEndian.Uint64(record[16:]) {
		return SlotRef{}, nil, false
	}

	return SlotRef{Offset: off, Length: total}, key, true
}
