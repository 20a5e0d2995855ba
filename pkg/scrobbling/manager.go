// Package scrobbling submits play notifications to Last.fm and ListenBrainz.
package scrobbling

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

const (
	maxRetries    = 3
	retryInterval = 5 * time.Minute
)

// Manager fans submissions out to every configured service and retries
// failures in the background.
type Manager struct {
	services []Service
	logger   *log.Logger

	mu     sync.Mutex
	queued []queuedScrobble

	done chan struct{}
	once sync.Once
}

// NewManager creates a manager over the given services and starts the retry
// worker.
func NewManager(logger *log.Logger, services ...Service) *Manager {
	m := &Manager{
		services: services,
		logger:   logger,
		done:     make(chan struct{}),
	}
	go m.retryWorker()
	return m
}

// Close stops the retry worker.
func (m *Manager) Close() {
	m.once.Do(func() { close(m.done) })
}

// Enabled reports whether any service is configured.
func (m *Manager) Enabled() bool { return len(m.services) > 0 }

// Scrobble submits a completed play to every service, queueing failures for
// retry. Runs the submissions concurrently and returns when all are done.
func (m *Manager) Scrobble(track Track) {
	var wg sync.WaitGroup
	for _, svc := range m.services {
		wg.Add(1)
		go func(svc Service) {
			defer wg.Done()
			if err := svc.Scrobble(track); err != nil {
				m.logger.Warn("scrobble failed", "service", svc.Name(), "err", err)
				m.queueForRetry(track, svc.Name())
				return
			}
			m.logger.Debug("scrobbled", "service", svc.Name(), "title", track.Title)
		}(svc)
	}
	wg.Wait()
}

// UpdateNowPlaying updates the now-playing status on every service. Failures
// are logged but not retried; the information goes stale anyway.
func (m *Manager) UpdateNowPlaying(track Track) {
	for _, svc := range m.services {
		go func(svc Service) {
			if err := svc.UpdateNowPlaying(track); err != nil {
				m.logger.Debug("now-playing update failed", "service", svc.Name(), "err", err)
			}
		}(svc)
	}
}

func (m *Manager) queueForRetry(track Track, service string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queued = append(m.queued, queuedScrobble{track: track, service: service})
}

func (m *Manager) retryWorker() {
	ticker := time.NewTicker(retryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.retryQueued()
		case <-m.done:
			return
		}
	}
}

func (m *Manager) retryQueued() {
	m.mu.Lock()
	pending := m.queued
	m.queued = nil
	m.mu.Unlock()

	for _, q := range pending {
		svc := m.service(q.service)
		if svc == nil {
			continue
		}
		if err := svc.Scrobble(q.track); err != nil {
			q.attempts++
			if q.attempts < maxRetries {
				m.mu.Lock()
				m.queued = append(m.queued, q)
				m.mu.Unlock()
			} else {
				m.logger.Warn("dropping scrobble after retries", "service", q.service, "title", q.track.Title)
			}
		}
	}
}

func (m *Manager) service(name string) Service {
	for _, svc := range m.services {
		if svc.Name() == name {
			return svc
		}
	}
	return nil
}
