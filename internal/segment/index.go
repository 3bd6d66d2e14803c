package segment

import (
	"bytes"
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// Insert records a key to slot mapping. Hash collisions chain within the
// bucket and are disambiguated on lookup by comparing stored key bytes.
func (s *Store) Insert(key []byte, ref SlotRef) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := xxhash.Sum64(key)
	s.index[h] = append(s.index[h], ref)
}

// Lookup resolves a key to its current slot. Refs whose generation went
// stale are skipped, so a lookup racing a reclaim observes absence.
func (s *Store) Lookup(key []byte) (SlotRef, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := xxhash.Sum64(key)
	for _, ref := range s.index[h] {
		if gen, ok := s.allocGen[ref.Offset]; !ok || gen != ref.Generation {
			continue
		}
		if s.slotMatchesKey(ref, key) {
			return ref, true
		}
	}
	return SlotRef{}, false
}

// Delete removes the key to slot mapping for the given ref.
func (s *Store) Delete(key []byte, ref SlotRef) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := xxhash.Sum64(key)
	refs := s.index[h]
	for i, candidate := range refs {
		if candidate == ref {
			s.index[h] = append(refs[:i], refs[i+1:]...)
			if len(s.index[h]) == 0 {
				delete(s.index, h)
			}
			return
		}
	}
}

// slotMatchesKey compares the key bytes stored in the slot against the
// probe key. Caller holds s.mu and has already validated the generation.
func (s *Store) slotMatchesKey(ref SlotRef, key []byte) bool {
	record := s.region[ref.Offset : ref.Offset+ref.Length]
	if binary.LittleEndian.Uint32(record[0:]) != liveMagic {
		return false
	}
	keyLen := int(binary.LittleEndian.Uint32(record[4:]))
	if keyLen != len(key) || int64(headerSize+keyLen) > ref.Length {
		return false
	}
	return bytes.Equal(record[headerSize:headerSize+keyLen], key)
}
