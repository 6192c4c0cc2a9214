package detectorstate

import (
	"sync"

	"github.com/moolen/tailwatch/internal/spot"
)

// Store maps fingerprints to detectors. Implementations serialize all access
// to one fingerprint's detector; different fingerprints do not contend
// beyond the map lookup.
type Store interface {
	// Get returns the detector stored under fp.
	Get(fp Fingerprint) (*spot.Detector, bool)
	// PutIfAbsent stores d under fp unless a detector is already stored and
	// returns the stored detector. The first writer wins.
	PutIfAbsent(fp Fingerprint, d *spot.Detector) (stored *spot.Detector, loaded bool)
	// WithLock runs fn with exclusive access to fp's slot. fn receives the
	// stored detector, or nil, and returns the detector to keep; returning
	// nil leaves the slot empty. An error from fn is returned unchanged and
	// the slot keeps its previous content.
	WithLock(fp Fingerprint, fn func(current *spot.Detector) (*spot.Detector, error)) error
	// Len returns the number of stored detectors.
	Len() int
}

type slot struct {
	mu       sync.Mutex
	detector *spot.Detector
}

// MemoryStore is an in-process Store with one lock per fingerprint.
type MemoryStore struct {
	mu    sync.Mutex
	slots map[Fingerprint]*slot
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{slots: make(map[Fingerprint]*slot)}
}

func (s *MemoryStore) slot(fp Fingerprint) *slot {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.slots[fp]
	if !ok {
		sl = &slot{}
		s.slots[fp] = sl
	}
	return sl
}

// Get implements Store.
func (s *MemoryStore) Get(fp Fingerprint) (*spot.Detector, bool) {
	s.mu.Lock()
	sl, ok := s.slots[fp]
	s.mu.Unlock()
	if !ok {
		return nil, false
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return sl.detector, sl.detector != nil
}

// PutIfAbsent implements Store.
func (s *MemoryStore) PutIfAbsent(fp Fingerprint, d *spot.Detector) (*spot.Detector, bool) {
	sl := s.slot(fp)
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.detector != nil {
		return sl.detector, true
	}
	sl.detector = d
	return d, false
}

// WithLock implements Store.
func (s *MemoryStore) WithLock(fp Fingerprint, fn func(*spot.Detector) (*spot.Detector, error)) error {
	sl := s.slot(fp)
	sl.mu.Lock()
	defer sl.mu.Unlock()

	next, err := fn(sl.detector)
	if err != nil {
		return err
	}
	sl.detector = next
	return nil
}

// Len implements Store.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	slots := make([]*slot, 0, len(s.slots))
	for _, sl := range s.slots {
		slots = append(slots, sl)
	}
	s.mu.Unlock()

	n := 0
	for _, sl := range slots {
		sl.mu.Lock()
		if sl.detector != nil {
			n++
		}
		sl.mu.Unlock()
	}
	return n
}
