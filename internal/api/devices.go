package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/fibaro-bridge/internal/bridges/fibaro"
	"github.com/nerrad567/fibaro-bridge/internal/registry"
)

// deviceResponse is a registry entry joined with its live state.
type deviceResponse struct {
	Key      string `json:"key"`
	HubID    int    `json:"hub_id"`
	Room     int    `json:"room"`
	Slot     int    `json:"slot"`
	Name     string `json:"name,omitempty"`
	RoomName string `json:"room_name,omitempty"`
	Dimmer   bool   `json:"dimmer"`
	Known    bool   `json:"known"`
	On       bool   `json:"on"`
	Level    int    `json:"level"`
}

func (s *Server) deviceResponse(entry registry.Entry) deviceResponse {
	derived, _ := s.states.Get(entry.Key)
	return deviceResponse{
		Key:      entry.Key,
		HubID:    entry.HubID,
		Room:     entry.Room,
		Slot:     entry.Slot,
		Name:     entry.Name,
		RoomName: entry.RoomName,
		Dimmer:   entry.Dimmer,
		Known:    derived.Known,
		On:       derived.On,
		Level:    derived.Level,
	}
}

// handleListDevices returns all registered devices with their current state.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	entries := s.registry.Devices()
	devices := make([]deviceResponse, 0, len(entries))
	for _, entry := range entries {
		devices = append(devices, s.deviceResponse(entry))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}

// handleGetDevice returns one device by key.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	entry, ok := s.registry.Lookup(key)
	if !ok || entry.Kind != registry.KindLight {
		writeNotFound(w, "device not found: "+key)
		return
	}

	writeJSON(w, http.StatusOK, s.deviceResponse(entry))
}

// handleGetDeviceState returns only the derived state for one device.
func (s *Server) handleGetDeviceState(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	entry, ok := s.registry.Lookup(key)
	if !ok || entry.Kind != registry.KindLight {
		writeNotFound(w, "device not found: "+key)
		return
	}

	derived, _ := s.states.Get(key)
	writeJSON(w, http.StatusOK, map[string]any{
		"key":   key,
		"state": derived,
	})
}

// commandRequest is the body for POST /devices/{key}/command.
type commandRequest struct {
	Action string `json:"action"`
	Level  int    `json:"level,omitempty"`
}

// handleDeviceCommand dispatches an action to the hub. It mirrors the
// MQTT command topic: the same actions, the same optimistic behaviour.
func (s *Server) handleDeviceCommand(w http.ResponseWriter, r *http.Request) {
	if s.bridge == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeInternal, "bridge not available")
		return
	}

	key := chi.URLParam(r, "key")

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	action, err := fibaro.ParseAction(req.Action)
	if err != nil {
		writeBadRequest(w, "unknown action: "+req.Action)
		return
	}

	if err := s.bridge.Control(key, action, req.Level); err != nil {
		s.writeCommandError(w, key, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"key":    key,
		"action": req.Action,
		"status": "accepted",
	})
}

// writeCommandError maps bridge errors onto HTTP statuses.
func (s *Server) writeCommandError(w http.ResponseWriter, key string, err error) {
	switch {
	case errors.Is(err, registry.ErrNotRegistered):
		writeNotFound(w, "not registered: "+key)
	case errors.Is(err, fibaro.ErrUnknownAction):
		writeBadRequest(w, err.Error())
	case errors.Is(err, fibaro.ErrNotConnected), errors.Is(err, fibaro.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, ErrCodeInternal, err.Error())
	default:
		s.logger.Error("command dispatch failed", "key", key, "error", err)
		writeInternalError(w, "command dispatch failed")
	}
}
