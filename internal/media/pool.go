// Package media is the WebRTC forwarding layer: a pool of single-port
// workers, routers allocated onto them, and the transport, producer and
// consumer objects a voice channel is built from.
package media

import (
	"log/slog"
	"sync"

	"github.com/pion/logging"

	"github.com/zlingapp/server-sub000/internal/config"
	"github.com/zlingapp/server-sub000/internal/metrics"
)

// Pool manages workers over the configured RTC port range. Workers are
// created lazily, one per allocation, until the range is exhausted; after
// that routers are assigned round-robin over the live workers.
type Pool struct {
	cfg        config.VoiceConfig
	logFactory logging.LoggerFactory
	log        *slog.Logger
	metrics    *metrics.Metrics

	mu      sync.Mutex
	workers []*Worker
	next    int
	closed  bool
}

func NewPool(cfg config.VoiceConfig, m *metrics.Metrics) *Pool {
	return &Pool{
		cfg:        cfg,
		logFactory: newLoggerFactory(),
		log:        slog.With("component", "media"),
		metrics:    m,
	}
}

// AllocateRouter returns a fresh router, growing the worker set if the
// port range still has room.
func (p *Pool) AllocateRouter() (*Router, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrPoolClosed
	}

	capacity := int(p.cfg.PortMax-p.cfg.PortMin) + 1
	if len(p.workers) < capacity {
		port := p.cfg.PortMin + uint16(len(p.workers))
		w, err := newWorker(p.cfg, port, p.logFactory)
		if err != nil {
			return nil, err
		}
		p.workers = append(p.workers, w)
		p.metrics.MediaWorkers.Inc()
		p.log.Info("media worker started", "port", port, "workers", len(p.workers))
		return w.newRouter(), nil
	}

	w := p.workers[p.next%len(p.workers)]
	p.next++
	return w.newRouter(), nil
}

// NumWorkers reports how many workers currently hold a port.
func (p *Pool) NumWorkers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// Close shuts every worker down. Outstanding routers become unusable.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true
	for _, w := range p.workers {
		w.Close()
	}
	p.metrics.MediaWorkers.Set(0)
	p.workers = nil
}
