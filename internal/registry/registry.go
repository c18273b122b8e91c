package registry

import (
	"fmt"
	"sort"

	"github.com/nerrad567/fibaro-bridge/internal/infrastructure/config"
)

// Kind distinguishes the two entity classes the hub exposes to the bridge.
type Kind string

const (
	// KindLight is a controllable device (switch or dimmer).
	KindLight Kind = "light"

	// KindScene is a hub-side scene, activated fire-and-forget.
	KindScene Kind = "scene"
)

// Entry binds one room/slot position to a hub entity.
type Entry struct {
	// Key is the stable external identifier, e.g. "Room3_Light2".
	Key string

	// Kind is light or scene.
	Kind Kind

	// HubID is the entity's numeric ID on the Home Center.
	HubID int

	// Room and Slot are the 1-based positions the key was built from.
	Room int
	Slot int

	// Name is the display name from configuration (may be empty).
	Name string

	// RoomName is the configured room name (may be empty).
	RoomName string

	// Dimmer marks lights presented as dimmable. Advisory for API
	// consumers; the hub decides what setValue does.
	Dimmer bool
}

// Registry is the immutable key map built from configuration at startup.
//
// It is built once by Build and never mutated afterwards, so lookups need
// no locking.
type Registry struct {
	byKey      map[string]Entry
	deviceByID map[int]Entry
	devices    []Entry
	scenes     []Entry
}

// LightKey returns the canonical key for a light position.
func LightKey(room, slot int) string {
	return fmt.Sprintf("Room%d_Light%d", room, slot)
}

// SceneKey returns the canonical key for a scene position.
func SceneKey(room, slot int) string {
	return fmt.Sprintf("Room%d_Scene%d", room, slot)
}

// Build constructs the registry from configuration.
//
// Every configured room is scanned within the configured bounds. A slot
// participates only when it is enabled and its hub ID is non-zero; anything
// else is skipped silently, matching how sparse layouts are expressed in
// the config file. Positions outside the bounds are rejected.
func Build(cfg config.RegistryConfig) (*Registry, error) {
	r := &Registry{
		byKey:      make(map[string]Entry),
		deviceByID: make(map[int]Entry),
	}

	for _, room := range cfg.Rooms {
		if room.Room < 1 || room.Room > cfg.MaxRooms {
			return nil, fmt.Errorf("%w: room %d (max %d)", ErrPositionOutOfRange, room.Room, cfg.MaxRooms)
		}

		for _, slot := range room.Lights {
			if slot.Slot < 1 || slot.Slot > cfg.MaxLightsPerRoom {
				return nil, fmt.Errorf("%w: room %d light %d (max %d)",
					ErrPositionOutOfRange, room.Room, slot.Slot, cfg.MaxLightsPerRoom)
			}
			if !slot.Enabled || slot.ID == 0 {
				continue
			}
			entry := Entry{
				Key:      LightKey(room.Room, slot.Slot),
				Kind:     KindLight,
				HubID:    slot.ID,
				Room:     room.Room,
				Slot:     slot.Slot,
				Name:     slot.Name,
				RoomName: room.Name,
				Dimmer:   slot.Dimmer,
			}
			if err := r.add(entry); err != nil {
				return nil, err
			}
		}

		for _, slot := range room.Scenes {
			if slot.Slot < 1 || slot.Slot > cfg.MaxScenesPerRoom {
				return nil, fmt.Errorf("%w: room %d scene %d (max %d)",
					ErrPositionOutOfRange, room.Room, slot.Slot, cfg.MaxScenesPerRoom)
			}
			if !slot.Enabled || slot.ID == 0 {
				continue
			}
			entry := Entry{
				Key:      SceneKey(room.Room, slot.Slot),
				Kind:     KindScene,
				HubID:    slot.ID,
				Room:     room.Room,
				Slot:     slot.Slot,
				Name:     slot.Name,
				RoomName: room.Name,
			}
			if err := r.add(entry); err != nil {
				return nil, err
			}
		}
	}

	// Stable enumeration order for sweeps and API listings.
	sortEntries(r.devices)
	sortEntries(r.scenes)

	return r, nil
}

func (r *Registry) add(entry Entry) error {
	if _, exists := r.byKey[entry.Key]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateSlot, entry.Key)
	}
	r.byKey[entry.Key] = entry

	switch entry.Kind {
	case KindLight:
		// First registration wins the reverse mapping; a hub device wired
		// to two slots still resolves refresh changes to one key.
		if _, exists := r.deviceByID[entry.HubID]; !exists {
			r.deviceByID[entry.HubID] = entry
		}
		r.devices = append(r.devices, entry)
	case KindScene:
		// Scenes are not reverse-mapped; the hub never pushes scene state.
		r.scenes = append(r.scenes, entry)
	}
	return nil
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Room != entries[j].Room {
			return entries[i].Room < entries[j].Room
		}
		return entries[i].Slot < entries[j].Slot
	})
}

// Lookup returns the entry for a key.
func (r *Registry) Lookup(key string) (Entry, bool) {
	entry, ok := r.byKey[key]
	return entry, ok
}

// DeviceByID resolves a hub device ID to its registered entry.
// Only lights are reverse-mapped.
func (r *Registry) DeviceByID(id int) (Entry, bool) {
	entry, ok := r.deviceByID[id]
	return entry, ok
}

// Devices returns all registered lights in room/slot order.
// The returned slice is shared; callers must not modify it.
func (r *Registry) Devices() []Entry {
	return r.devices
}

// Scenes returns all registered scenes in room/slot order.
// The returned slice is shared; callers must not modify it.
func (r *Registry) Scenes() []Entry {
	return r.scenes
}

// DeviceCount returns the number of registered lights.
func (r *Registry) DeviceCount() int {
	return len(r.devices)
}

// SceneCount returns the number of registered scenes.
func (r *Registry) SceneCount() int {
	return len(r.scenes)
}
