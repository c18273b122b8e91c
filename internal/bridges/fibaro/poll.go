package fibaro

// The long-poll cycle. One poll is in flight at a time; a response
// re-arms the next poll after a short settle delay, a timeout re-polls
// with the same cursor, and any socket error tears the channel down for
// a fixed-delay restart, provided the command channel is still up. The
// refresh channel never outlives the command channel.

// dialRefresh drives the refresh channel towards connected.
// It refuses to run while the command channel is down.
func (b *Bridge) dialRefresh() {
	b.mu.Lock()
	if b.closed || b.cmdState != StateConnected || b.refState != StateDisconnected {
		b.mu.Unlock()
		return
	}
	b.refState = StateConnecting
	b.mu.Unlock()
	b.publishConnection("refresh", StateConnecting.String())

	conn, err := dialHub(b.opts.Address)

	b.mu.Lock()
	if b.closed || b.cmdState != StateConnected {
		// The command channel went away mid-dial; the refresh channel
		// follows it down and waits for the next refresh_start.
		b.refState = StateDisconnected
		b.mu.Unlock()
		if conn != nil {
			conn.close()
		}
		b.publishConnection("refresh", StateDisconnected.String())
		return
	}
	if err != nil {
		b.refState = StateDisconnected
		b.errorsTotal.Add(1)
		b.timers.arm(timerRefreshRedial, b.timing.RefreshDialRetryDelay, b.dialRefresh)
		b.mu.Unlock()
		b.publishConnection("refresh", StateDisconnected.String())
		b.logger.Warn("refresh channel dial failed",
			"retry_in", b.timing.RefreshDialRetryDelay.String(), "error", err)
		return
	}

	b.refConn = conn
	b.refGen++
	gen := b.refGen
	b.refState = StateConnected
	b.pollInFlight = false
	b.refReconnects.Add(1)
	b.wg.Add(1)
	b.mu.Unlock()

	b.publishConnection("refresh", StateConnected.String())
	b.logger.Info("refresh channel connected")

	go b.refreshReceiveLoop(conn, gen)
	b.sendPoll(gen)
}

// refreshReceiveLoop reads poll responses. Unlike the command channel,
// silence here is suspect: polls go out at least every PollTimeout, so a
// read deadline expiring means the socket is dead.
func (b *Bridge) refreshReceiveLoop(conn *hubConn, gen uint64) {
	defer b.wg.Done()

	for {
		resp, err := conn.read()
		if err != nil {
			b.handleRefreshError(gen, err)
			return
		}
		b.handleRefreshResponse(gen, resp)
	}
}

// sendPoll issues the next long poll, single-flight.
func (b *Bridge) sendPoll(gen uint64) {
	b.mu.Lock()
	if b.closed || gen != b.refGen || b.refState != StateConnected || b.pollInFlight {
		b.mu.Unlock()
		return
	}
	b.pollInFlight = true
	conn := b.refConn
	path := refreshPath(b.cursor, b.haveCursor)
	b.timers.arm(timerPollTimeout, b.timing.PollTimeout, func() { b.pollTimedOut(gen) })
	b.mu.Unlock()

	req := buildRequest("GET", path, b.host, b.auth, nil)
	if err := conn.send(req); err != nil {
		b.handleRefreshError(gen, err)
		return
	}
	b.requestsTx.Add(1)
	b.pollCycles.Add(1)
}

// pollTimedOut re-polls with the same cursor. The overdue response, if
// it ever arrives, still flows through the router; cursor monotonicity
// makes replaying it harmless.
func (b *Bridge) pollTimedOut(gen uint64) {
	b.mu.Lock()
	if b.closed || gen != b.refGen || b.refState != StateConnected || !b.pollInFlight {
		b.mu.Unlock()
		return
	}
	b.pollInFlight = false
	b.pollTimeouts.Add(1)
	b.mu.Unlock()

	b.logger.Debug("poll timed out, re-polling with same cursor")
	b.sendPoll(gen)
}

// handleRefreshError runs the refresh channel's error transition.
// Restart is only armed while the command channel is still up; otherwise
// the command channel's own recovery will bring the refresh channel back.
func (b *Bridge) handleRefreshError(gen uint64, err error) {
	b.mu.Lock()
	if b.closed || gen != b.refGen {
		b.mu.Unlock()
		return
	}
	if b.refConn != nil {
		b.refConn.close()
		b.refConn = nil
	}
	b.refGen++
	b.refState = StateDisconnected
	b.pollInFlight = false
	b.errorsTotal.Add(1)
	b.timers.stop(timerPollTimeout)
	b.timers.stop(timerPollRearm)

	commandUp := b.cmdState == StateConnected
	if commandUp {
		b.timers.arm(timerRefreshRestart, b.timing.RefreshRestartDelay, b.dialRefresh)
	}
	b.mu.Unlock()

	b.publishConnection("refresh", StateDisconnected.String())
	if commandUp {
		b.logger.Warn("refresh channel error",
			"restart_in", b.timing.RefreshRestartDelay.String(), "error", err)
	} else {
		b.logger.Warn("refresh channel error, command channel down", "error", err)
	}
}
