package media

import (
	"sync"
	"time"
)

const (
	// silenceThreshold is the loudness floor in -dBov: levels quieter
	// than 70 dB below overload are treated as silence.
	silenceThreshold = 70

	// observerInterval is how often the dominant speaker is re-evaluated.
	observerInterval = time.Second
)

// AudioLevelObserver watches the audio levels reported by producers and
// tracks the single dominant speaker. It keeps one entry: only the loudest
// producer above the threshold is reported, by producer id, with the
// empty string standing for silence.
type AudioLevelObserver struct {
	onDominant func(producerID string)

	mu       sync.Mutex
	levels   map[string]uint8
	dominant string

	stop     chan struct{}
	stopOnce sync.Once
}

func newAudioLevelObserver(onDominant func(string)) *AudioLevelObserver {
	o := &AudioLevelObserver{
		onDominant: onDominant,
		levels:     make(map[string]uint8),
		stop:       make(chan struct{}),
	}
	go o.run()
	return o
}

// observe records a producer's level for the current window. level is in
// -dBov, so smaller means louder.
func (o *AudioLevelObserver) observe(producerID string, level uint8) {
	if level >= silenceThreshold {
		return
	}
	o.mu.Lock()
	if cur, ok := o.levels[producerID]; !ok || level < cur {
		o.levels[producerID] = level
	}
	o.mu.Unlock()
}

func (o *AudioLevelObserver) removeProducer(producerID string) {
	o.mu.Lock()
	delete(o.levels, producerID)
	if o.dominant == producerID {
		o.dominant = ""
	}
	o.mu.Unlock()
}

func (o *AudioLevelObserver) run() {
	ticker := time.NewTicker(observerInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			o.evaluate()
		case <-o.stop:
			return
		}
	}
}

// evaluate picks the loudest producer of the elapsed window and fires the
// callback when the dominant speaker changed.
func (o *AudioLevelObserver) evaluate() {
	o.mu.Lock()
	loudest := ""
	best := uint8(silenceThreshold)
	for id, level := range o.levels {
		if level < best {
			best = level
			loudest = id
		}
	}
	changed := loudest != o.dominant
	o.dominant = loudest
	o.levels = make(map[string]uint8)
	cb := o.onDominant
	o.mu.Unlock()

	if changed && cb != nil {
		cb(loudest)
	}
}

func (o *AudioLevelObserver) close() {
	o.stopOnce.Do(func() { close(o.stop) })
}
