package queue

import "tremolo/internal/notify"

// Play starts playback of the current track, resumes from pause, or does
// nothing when already playing. With no cursor it starts at the head of the
// queue. A snapshot is always published, even for the no-op cases.
func (q *Queue) Play() {
	q.mu.Lock()
	switch q.status {
	case notify.StatusStopped:
		if len(q.tracks) > 0 {
			if q.cur < 0 {
				q.cur = 0
			} else if q.cur >= len(q.tracks) {
				q.cur = len(q.tracks) - 1
			}
			if q.shuffle {
				q.pinCurrentLocked()
			}
			q.startCurrentLocked()
		} else {
			q.logger.Debug("play requested on empty queue")
		}
	case notify.StatusPaused:
		q.player.Resume()
		q.status = notify.StatusPlaying
	case notify.StatusPlaying:
		// Nothing to do.
	}
	snap := q.snapshotLocked()
	q.mu.Unlock()
	q.bus.Publish(snap)
}

// Stop halts playback and clears the cursor. Stopping a stopped transport is
// a no-op that still publishes.
func (q *Queue) Stop() {
	q.mu.Lock()
	q.stopLocked()
	snap := q.snapshotLocked()
	q.mu.Unlock()
	q.bus.Publish(snap)
}

// Toggle pauses playback, resumes from pause, or starts playing when
// stopped.
func (q *Queue) Toggle() {
	q.mu.Lock()
	switch q.status {
	case notify.StatusPlaying:
		q.player.Pause()
		q.status = notify.StatusPaused
	case notify.StatusPaused:
		q.player.Resume()
		q.status = notify.StatusPlaying
	case notify.StatusStopped:
		q.mu.Unlock()
		q.Play()
		return
	}
	snap := q.snapshotLocked()
	q.mu.Unlock()
	q.bus.Publish(snap)
}

// Seek moves the playback position within the current track. Seeking while
// stopped, or outside [0, duration], is a warned no-op.
func (q *Queue) Seek(ms int) {
	q.mu.Lock()
	if q.status == notify.StatusStopped {
		q.mu.Unlock()
		q.logger.Warn("seek while stopped ignored")
		return
	}
	dur := q.tracks[q.cur].DurationMS()
	if ms < 0 || ms > dur {
		q.mu.Unlock()
		q.logger.Warn("seek out of range ignored", "ms", ms, "duration_ms", dur)
		return
	}
	q.player.Seek(ms)
	snap := q.snapshotLocked()
	q.mu.Unlock()
	q.bus.Publish(snap)
}

// EndOfTrack advances past the just-finished track. Called from the session
// event pump when the catalog reports the stream is done. Outside PLAYING it
// is ignored (a stale event from a track that was stopped meanwhile).
func (q *Queue) EndOfTrack() {
	q.mu.Lock()
	if q.status != notify.StatusPlaying {
		q.mu.Unlock()
		q.logger.Debug("stale end-of-track ignored", "status", q.status)
		return
	}
	q.player.Unload()
	q.status = notify.StatusStopped
	q.advanceLocked(1)
	if q.cur >= 0 {
		q.startCurrentLocked()
	}
	snap := q.snapshotLocked()
	q.mu.Unlock()
	q.bus.Publish(snap)
}

// PauseFromTokenLoss drops PLAYING to PAUSED when the catalog revokes the
// play token (playback started somewhere else).
func (q *Queue) PauseFromTokenLoss() {
	q.mu.Lock()
	if q.status != notify.StatusPlaying {
		q.mu.Unlock()
		return
	}
	q.player.Pause()
	q.status = notify.StatusPaused
	snap := q.snapshotLocked()
	q.mu.Unlock()
	q.logger.Info("play token lost, pausing")
	q.bus.Publish(snap)
}

// SetRepeat sets the repeat flag.
func (q *Queue) SetRepeat(on bool) {
	q.mu.Lock()
	q.repeat = on
	snap := q.snapshotLocked()
	q.mu.Unlock()
	q.bus.Publish(snap)
}

// Repeat reports the repeat flag.
func (q *Queue) Repeat() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.repeat
}

// Shuffle reports the shuffle flag.
func (q *Queue) Shuffle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.shuffle
}

// stopLocked performs a full stop: unload the session player and reset the
// cursor. The queue contents are untouched.
func (q *Queue) stopLocked() {
	q.stopTransportLocked()
	q.cur = -1
}

// stopTransportLocked halts playback but leaves the cursor alone, for
// callers that are about to move it.
func (q *Queue) stopTransportLocked() {
	if q.status != notify.StatusStopped {
		q.player.Unload()
		q.status = notify.StatusStopped
	}
}

// startCurrentLocked loads and plays the track under the cursor.
func (q *Queue) startCurrentLocked() {
	t := q.tracks[q.cur]
	if err := q.player.Load(t); err != nil {
		q.logger.Error("loading track failed", "uri", t.URI(), "err", err)
		q.status = notify.StatusStopped
		q.cur = -1
		return
	}
	q.player.Play()
	q.status = notify.StatusPlaying
}

// advanceLocked moves the cursor one logical step, honoring shuffle and
// repeat. It leaves cur at -1 (stopped) when the queue runs out.
func (q *Queue) advanceLocked(step int) {
	n := len(q.tracks)
	if n == 0 {
		q.cur = -1
		return
	}

	if q.shuffle {
		q.advanceShuffleLocked(step)
		return
	}

	next := q.cur + step
	if q.repeat {
		next = ((next % n) + n) % n
	} else if next < 0 || next >= n {
		q.cur = -1
		return
	}
	q.cur = next
}
