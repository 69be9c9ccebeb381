package mcp

import (
	"context"
	"time"
)

// startHealthLoop launches the background liveness loop. The loop runs
// until the given context is cancelled or Shutdown is called.
func (m *Manager) startHealthLoop(ctx context.Context) {
	hctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	m.mu.Lock()
	m.healthCancel = cancel
	m.healthDone = done
	m.mu.Unlock()

	go m.healthLoop(hctx, done)
}

// healthLoop probes every Running client on a fixed interval. The
// probe is ListTools: it round-trips through the transport and
// revalidates the tool cache in one call.
func (m *Manager) healthLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.checkServices(ctx)
		}
	}
}

// checkServices runs one health-check pass. A failed probe marks the
// client Error; if the descriptor opts into restart-on-failure and the
// client's lifetime retry budget is not exhausted, the retry count is
// incremented and the service restarted. Once max_retries is spent the
// service stays Error until a manual start or restart — there is no
// silent infinite retry loop.
func (m *Manager) checkServices(ctx context.Context) {
	m.mu.RLock()
	clients := make(map[string]*Client, len(m.clients))
	for id, c := range m.clients {
		clients[id] = c
	}
	m.mu.RUnlock()

	for id, client := range clients {
		if client.Status() != StatusRunning {
			continue
		}

		_, err := client.ListTools(ctx)
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return
		}

		m.logger.Warn("health check failed", "service", id, "error", err)
		client.markUnhealthy(err)

		m.mu.Lock()
		m.stats.running--
		m.stats.tools -= m.catalog.RemoveService(id)
		m.mu.Unlock()

		d := client.Descriptor()
		if !d.RestartOnFailure || client.RetryCount() >= d.MaxRetries {
			m.logger.Error("service left in error state, manual restart required",
				"service", id,
				"retries_used", client.RetryCount(),
				"max_retries", d.MaxRetries,
			)
			continue
		}

		retry := client.bumpRetry()
		m.logger.Info("restarting unhealthy service", "service", id, "retry", retry)

		if err := m.RestartService(ctx, id); err != nil {
			m.logger.Warn("automatic restart failed", "service", id, "error", err)
		}
	}
}
