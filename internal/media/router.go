package media

import (
	"strings"
	"sync"
)

// Router is one voice channel's forwarding domain: the producers published
// into it and the factories for transports and the audio level observer.
// All of its transports share the owning worker's port.
type Router struct {
	id     string
	worker *Worker

	mu        sync.RWMutex
	producers map[string]*Producer
	observer  *AudioLevelObserver
	closed    bool
}

func (r *Router) ID() string { return r.id }

// Capabilities is the negotiation surface clients receive on join.
func (r *Router) Capabilities() RTPCapabilities {
	return r.worker.caps
}

// CreateTransport builds a fresh ICE+DTLS bundle on the router's worker.
func (r *Router) CreateTransport(direction Direction) (*Transport, error) {
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return nil, ErrRouterClosed
	}
	if !direction.Valid() {
		return nil, ErrWrongDirection
	}
	return newTransport(r.worker, direction)
}

// CreateAudioLevelObserver attaches the router's single observer. The
// callback fires with a producer id when the dominant speaker changes and
// with the empty string when the channel goes silent.
func (r *Router) CreateAudioLevelObserver(onDominant func(producerID string)) *AudioLevelObserver {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.observer == nil {
		r.observer = newAudioLevelObserver(onDominant)
	}
	return r.observer
}

// CanConsume says whether a client advertising caps could receive the
// producer's stream: its codec must appear in the client's capability set.
func (r *Router) CanConsume(producerID string, caps RTPCapabilities) bool {
	r.mu.RLock()
	p, ok := r.producers[producerID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	mime := p.track.Codec().MimeType
	for _, c := range caps.Codecs {
		if strings.EqualFold(c.MimeType, mime) {
			return true
		}
	}
	return false
}

// Producer looks a producer up by id.
func (r *Router) Producer(id string) (*Producer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.producers[id]
	return p, ok
}

func (r *Router) addProducer(p *Producer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRouterClosed
	}
	r.producers[p.id] = p
	if r.observer != nil && p.kind == KindAudio {
		p.setObserver(r.observer)
	}
	return nil
}

func (r *Router) removeProducer(id string) {
	r.mu.Lock()
	delete(r.producers, id)
	obs := r.observer
	r.mu.Unlock()
	if obs != nil {
		obs.removeProducer(id)
	}
}

// Close stops the observer and every remaining producer. Transports are
// owned by the clients that created them and are closed there.
func (r *Router) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	producers := make([]*Producer, 0, len(r.producers))
	for _, p := range r.producers {
		producers = append(producers, p)
	}
	obs := r.observer
	r.mu.Unlock()

	for _, p := range producers {
		p.Close()
	}
	if obs != nil {
		obs.close()
	}
}
