package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/fibaro-bridge/internal/history"
)

// historyEntry is one transition row with the payload inlined as JSON.
type historyEntry struct {
	ID        int64           `json:"id"`
	Key       string          `json:"key"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

func toHistoryEntries(entries []history.Entry) []historyEntry {
	out := make([]historyEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, historyEntry{
			ID:        e.ID,
			Key:       e.Key,
			Kind:      e.Kind,
			Payload:   json.RawMessage(e.Payload),
			CreatedAt: e.CreatedAt,
		})
	}
	return out
}

// parseLimit reads the optional ?limit= query parameter. Zero means
// "repository default".
func parseLimit(r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, false
	}
	return limit, true
}

// handleRecentHistory returns the most recent transitions across all keys.
func (s *Server) handleRecentHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeNotFound(w, "history not enabled")
		return
	}

	limit, ok := parseLimit(r)
	if !ok {
		writeBadRequest(w, "invalid limit")
		return
	}

	entries, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("history query failed", "error", err)
		writeInternalError(w, "history query failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entries": toHistoryEntries(entries),
		"count":   len(entries),
	})
}

// handleKeyHistory returns recent transitions for one key.
func (s *Server) handleKeyHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeNotFound(w, "history not enabled")
		return
	}

	key := chi.URLParam(r, "key")

	limit, ok := parseLimit(r)
	if !ok {
		writeBadRequest(w, "invalid limit")
		return
	}

	entries, err := s.history.ForKey(r.Context(), key, limit)
	if err != nil {
		s.logger.Error("history query failed", "key", key, "error", err)
		writeInternalError(w, "history query failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"key":     key,
		"entries": toHistoryEntries(entries),
		"count":   len(entries),
	})
}
