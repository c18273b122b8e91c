package api

import (
	"net/http"

	"github.com/nerrad567/fibaro-bridge/internal/bridges/fibaro"
)

// statusResponse is the bridge diagnostics document.
type statusResponse struct {
	Version    string       `json:"version"`
	Connected  bool         `json:"connected"`
	Command    string       `json:"command_channel"`
	Refresh    string       `json:"refresh_channel"`
	Devices    int          `json:"devices"`
	Scenes     int          `json:"scenes"`
	WSClients  int          `json:"ws_clients"`
	Statistics fibaro.Stats `json:"statistics"`
}

// handleStatus returns bridge diagnostics: channel states, registry
// counts, and operational statistics.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{
		Version:   s.version,
		Command:   fibaro.StateDisconnected.String(),
		Refresh:   fibaro.StateDisconnected.String(),
		Devices:   s.registry.DeviceCount(),
		Scenes:    s.registry.SceneCount(),
		WSClients: s.hub.ClientCount(),
	}

	if s.bridge != nil {
		command, refresh := s.bridge.ChannelStates()
		resp.Connected = s.bridge.IsConnected()
		resp.Command = command.String()
		resp.Refresh = refresh.String()
		resp.Statistics = s.bridge.GetStats()
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleRefresh forces a full state sweep and republication.
func (s *Server) handleRefresh(w http.ResponseWriter, _ *http.Request) {
	if s.bridge == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeInternal, "bridge not available")
		return
	}

	if err := s.bridge.RefreshAll(); err != nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeInternal, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"status": "accepted"})
}
