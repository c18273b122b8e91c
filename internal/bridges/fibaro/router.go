package fibaro

import (
	"encoding/json"
	"time"

	"github.com/nerrad567/fibaro-bridge/internal/state"
)

// Response routing. The command channel correlates responses against its
// FIFO of in-flight requests; the refresh channel has exactly one shape
// of response. Unparseable bodies are tolerated on both: the cycle keeps
// going and the next observation corrects the state.

// handleCommandResponse pops the head of the pending queue and treats
// the response according to the request that earned it.
func (b *Bridge) handleCommandResponse(gen uint64, resp *wireResponse) {
	b.responsesRx.Add(1)
	b.lastActivity.Store(time.Now().Unix())

	b.mu.Lock()
	if b.closed || gen != b.cmdGen {
		b.mu.Unlock()
		return
	}
	if len(b.cmdPending) == 0 {
		b.errorsTotal.Add(1)
		b.mu.Unlock()
		b.logger.Warn("unsolicited response on command channel", "status", resp.StatusLine)
		return
	}
	p := b.cmdPending[0]
	b.cmdPending = b.cmdPending[1:]
	b.mu.Unlock()

	switch p.kind {
	case pendingSnapshot:
		b.routeSnapshot(p, resp)
	case pendingAction:
		if !resp.OK() {
			b.errorsTotal.Add(1)
			// State was written optimistically at dispatch; the next
			// refresh observation corrects it.
			b.logger.Warn("hub rejected device action",
				"key", p.key, "action", p.action.String(), "status", resp.StatusLine)
		}
	case pendingScene:
		if resp.OK() {
			b.publishScene(p.key, SceneReady)
		} else {
			b.errorsTotal.Add(1)
			b.logger.Warn("hub rejected scene execution", "key", p.key, "status", resp.StatusLine)
		}
	}
}

// routeSnapshot applies a device document to the store.
func (b *Bridge) routeSnapshot(p pendingRequest, resp *wireResponse) {
	if !resp.OK() {
		b.errorsTotal.Add(1)
		b.logger.Warn("device fetch failed", "key", p.key, "status", resp.StatusLine)
		return
	}

	var doc DeviceDocument
	if err := json.Unmarshal(resp.Body, &doc); err != nil {
		b.errorsTotal.Add(1)
		b.logger.Warn("unparseable device document", "key", p.key, "error", err)
		return
	}

	// The document identifies its own device; a body for some other
	// device must not be attributed to the pending key.
	if doc.ID != p.hubID {
		b.errorsTotal.Add(1)
		b.logger.Warn("device document id mismatch",
			"key", p.key, "want", p.hubID, "got", doc.ID)
		return
	}

	d, changed := b.opts.States.ApplySnapshot(p.key, doc.Properties.Value, doc.Properties.LevelInt())
	b.changesApplied.Add(1)
	if changed || p.force {
		b.publishState(p.key, d)
	}
	b.logger.Debug("device snapshot applied",
		"key", p.key, "value", doc.Properties.Value.String(), "changed", changed)
}

// handleRefreshResponse applies a refresh document: cursor first, then
// each change, then the re-arm timer for the next poll.
func (b *Bridge) handleRefreshResponse(gen uint64, resp *wireResponse) {
	b.responsesRx.Add(1)
	b.lastActivity.Store(time.Now().Unix())

	type publication struct {
		key string
		d   state.Derived
	}
	var pubs []publication

	b.mu.Lock()
	if b.closed || gen != b.refGen {
		b.mu.Unlock()
		return
	}
	b.timers.stop(timerPollTimeout)
	b.pollInFlight = false

	if !resp.OK() {
		b.errorsTotal.Add(1)
		b.logger.Warn("refresh poll failed", "status", resp.StatusLine)
	} else {
		var doc RefreshDocument
		if err := json.Unmarshal(resp.Body, &doc); err != nil {
			b.errorsTotal.Add(1)
			b.logger.Warn("unparseable refresh document", "error", err)
		} else {
			b.applyRefreshLocked(doc, func(key string, d state.Derived) {
				pubs = append(pubs, publication{key: key, d: d})
			})
		}
	}

	// The hub gets a breather between polls.
	b.timers.arm(timerPollRearm, b.timing.PollRearmDelay, func() { b.sendPoll(gen) })
	b.mu.Unlock()

	for _, p := range pubs {
		b.publishState(p.key, p.d)
	}
}

// applyRefreshLocked advances the cursor and applies each change.
// Caller holds b.mu.
//
// The cursor only ever moves forward: a poll that comes back with a
// non-increasing cursor (a hub restart, or an overdue response from a
// timed-out poll) is ignored so replayed changes cannot rewind state
// attribution.
func (b *Bridge) applyRefreshLocked(doc RefreshDocument, emit func(string, state.Derived)) {
	switch {
	case doc.Last <= 0:
		// Absent or zero sequence marker: the document carries no usable
		// cursor. The changes still apply; the next poll keeps whatever
		// cursor state it had.
	case !b.haveCursor:
		b.cursor = doc.Last
		b.haveCursor = true
	case doc.Last > b.cursor:
		b.cursor = doc.Last
	case doc.Last < b.cursor:
		b.cursorRegressions.Add(1)
		b.logger.Debug("ignoring non-increasing refresh cursor",
			"got", doc.Last, "have", b.cursor)
		return
	default:
		// Equal cursor: an empty poll round, nothing to apply.
		if len(doc.Changes) == 0 {
			return
		}
	}

	for _, change := range doc.Changes {
		entry, ok := b.opts.Registry.DeviceByID(change.ID)
		if !ok {
			// Hub devices outside the registry are none of our business.
			continue
		}
		d, changed := b.opts.States.ApplyChange(entry.Key, change.Value, change.LevelInt())
		b.changesApplied.Add(1)
		if changed {
			emit(entry.Key, d)
		}
	}
}
