package state

import (
	"sync"
	"time"
)

// maxLevel is the top of the normalized brightness range.
const maxLevel = 100

// defaultOnLevel is published for a device that is on but has never
// reported a usable level.
const defaultOnLevel = 100

// DeviceState is the tracked raw state of one device plus the memory
// needed to restore brightness after an off/on cycle.
type DeviceState struct {
	// Value is the last raw observation from the hub.
	Value Value

	// Level is the last explicit level observation. LevelSet distinguishes
	// a real zero from never-observed.
	Level    int
	LevelSet bool

	// LastOnLevel is the most recent positive brightness. It is only ever
	// overwritten by another positive observation; turning a device off
	// leaves it intact so the next on can restore it.
	LastOnLevel int

	// UpdatedAt is when the state last changed in any way.
	UpdatedAt time.Time
}

// Derived is the normalized outward form of a device state.
type Derived struct {
	// Known is false until at least one interpretable observation arrives.
	Known bool `json:"known"`

	// On is the normalized power state.
	On bool `json:"on"`

	// Level is the normalized brightness, 0-100. Zero when off.
	Level int `json:"level"`
}

// Derive computes the normalized form from the raw state.
func (s DeviceState) Derive() Derived {
	on, interpretable := s.Value.Truthy()

	d := Derived{Known: interpretable}

	// An explicit level with an uninterpretable value still tells us
	// something: positive means on.
	if !interpretable && s.LevelSet {
		d.Known = true
		on = s.Level > 0
	}

	if !d.Known {
		return d
	}

	d.On = on
	if !on {
		return d
	}

	// Brightness: a numeric value IS the level (dimmer convention). A
	// non-numeric value leaves the stored level untouched; full
	// brightness is the fallback only when no level was ever observed.
	if n, ok := s.Value.Num(); ok {
		d.Level = clampLevel(int(n))
	} else if s.LevelSet {
		d.Level = clampLevel(s.Level)
	} else {
		d.Level = defaultOnLevel
	}
	return d
}

func clampLevel(level int) int {
	if level < 0 {
		return 0
	}
	if level > maxLevel {
		return maxLevel
	}
	return level
}

// Store tracks device state by key and reports whether each mutation
// changed the derived form, so publication stays edge-triggered.
//
// All methods are safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	states map[string]*DeviceState
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		states: make(map[string]*DeviceState),
	}
}

// Track registers a key so Get succeeds before the first observation.
func (s *Store) Track(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.states[key]; !ok {
		s.states[key] = &DeviceState{}
	}
}

// ApplySnapshot applies a full device document (initial or sweep fetch).
// The value is always present in a snapshot; level accompanies dimmers.
// A snapshot without a level still settles one: the numeric value when
// there is one, zero otherwise, so switches land with a concrete level.
// Returns the derived form and whether it changed.
func (s *Store) ApplySnapshot(key string, value Value, level *int) (Derived, bool) {
	if level == nil {
		def := 0
		if n, ok := value.Num(); ok {
			def = clampLevel(int(n))
		}
		level = &def
	}
	return s.apply(key, value, level)
}

// ApplyChange applies a refresh delta. Either field may be missing:
// value arrives as Absent, level as nil.
// Returns the derived form and whether it changed.
func (s *Store) ApplyChange(key string, value Value, level *int) (Derived, bool) {
	return s.apply(key, value, level)
}

func (s *Store) apply(key string, value Value, level *int) (Derived, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.ensureLocked(key)
	before := st.Derive()

	if !value.IsAbsent() {
		st.Value = value
		// A numeric value mirrors into the level; positive means a
		// brightness observation worth remembering.
		if n, ok := value.Num(); ok {
			st.Level = clampLevel(int(n))
			st.LevelSet = true
			if n > 0 {
				st.LastOnLevel = st.Level
			}
		}
	}

	// Applied after value, so an explicit level wins when both arrive.
	if level != nil {
		st.Level = clampLevel(*level)
		st.LevelSet = true
		if *level > 0 {
			st.LastOnLevel = st.Level
		}
	}

	st.UpdatedAt = time.Now().UTC()

	after := st.Derive()
	return after, after != before
}

// SetOn records an optimistic power observation at command-issue time.
// Turning on restores the remembered brightness when one exists; turning
// off banks the current level in LastOnLevel before zeroing it.
func (s *Store) SetOn(key string, on bool) (Derived, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.ensureLocked(key)
	before := st.Derive()

	if on {
		if st.LastOnLevel > 0 {
			st.Value = Number(float64(st.LastOnLevel))
			st.Level = st.LastOnLevel
			st.LevelSet = true
		} else {
			st.Value = Bool(true)
		}
	} else {
		if st.Level > 0 {
			st.LastOnLevel = clampLevel(st.Level)
		}
		st.Value = Number(0)
		st.Level = 0
		st.LevelSet = true
	}

	st.UpdatedAt = time.Now().UTC()

	after := st.Derive()
	return after, after != before
}

// SetLevel records an optimistic brightness observation at command-issue time.
func (s *Store) SetLevel(key string, level int) (Derived, bool) {
	level = clampLevel(level)
	return s.apply(key, Number(float64(level)), &level)
}

// Get returns the derived form for a key.
func (s *Store) Get(key string) (Derived, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[key]
	if !ok {
		return Derived{}, false
	}
	return st.Derive(), true
}

// Raw returns the tracked raw state for a key, for diagnostics.
func (s *Store) Raw(key string) (DeviceState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[key]
	if !ok {
		return DeviceState{}, false
	}
	return *st, true
}

// All returns the derived form for every tracked key.
func (s *Store) All() map[string]Derived {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Derived, len(s.states))
	for key, st := range s.states {
		out[key] = st.Derive()
	}
	return out
}

func (s *Store) ensureLocked(key string) *DeviceState {
	st, ok := s.states[key]
	if !ok {
		st = &DeviceState{}
		s.states[key] = st
	}
	return st
}
