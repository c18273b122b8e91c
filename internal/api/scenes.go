package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/fibaro-bridge/internal/bridges/fibaro"
	"github.com/nerrad567/fibaro-bridge/internal/registry"
)

// sceneResponse describes one registered scene.
type sceneResponse struct {
	Key      string `json:"key"`
	HubID    int    `json:"hub_id"`
	Room     int    `json:"room"`
	Slot     int    `json:"slot"`
	Name     string `json:"name,omitempty"`
	RoomName string `json:"room_name,omitempty"`
}

// handleListScenes returns all registered scenes.
func (s *Server) handleListScenes(w http.ResponseWriter, _ *http.Request) {
	entries := s.registry.Scenes()
	scenes := make([]sceneResponse, 0, len(entries))
	for _, entry := range entries {
		scenes = append(scenes, sceneResponse{
			Key:      entry.Key,
			HubID:    entry.HubID,
			Room:     entry.Room,
			Slot:     entry.Slot,
			Name:     entry.Name,
			RoomName: entry.RoomName,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"scenes": scenes,
		"count":  len(scenes),
	})
}

// handleActivateScene triggers a scene on the hub. Fire-and-forget: a
// 202 means the execute request was queued, not that the scene ran.
func (s *Server) handleActivateScene(w http.ResponseWriter, r *http.Request) {
	if s.bridge == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeInternal, "bridge not available")
		return
	}

	key := chi.URLParam(r, "key")

	if err := s.bridge.ActivateScene(key); err != nil {
		switch {
		case errors.Is(err, registry.ErrNotRegistered):
			writeNotFound(w, "not registered: "+key)
		case errors.Is(err, fibaro.ErrNotConnected), errors.Is(err, fibaro.ErrClosed):
			writeError(w, http.StatusServiceUnavailable, ErrCodeInternal, err.Error())
		default:
			s.logger.Error("scene activation failed", "key", key, "error", err)
			writeInternalError(w, "scene activation failed")
		}
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"key":    key,
		"status": "accepted",
	})
}
