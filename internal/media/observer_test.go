package media

import "testing"

// collectDominant returns an observer whose callback appends into the
// returned slice. The ticker goroutine is stopped immediately; tests
// drive evaluation directly for determinism.
func collectDominant(t *testing.T) (*AudioLevelObserver, *[]string) {
	t.Helper()
	var seen []string
	o := newAudioLevelObserver(func(id string) { seen = append(seen, id) })
	o.close()
	return o, &seen
}

func TestObserverPicksLoudestSpeaker(t *testing.T) {
	o, seen := collectDominant(t)

	o.observe("p1", 40)
	o.observe("p2", 20) // louder: smaller -dBov
	o.observe("p3", 60)
	o.evaluate()

	if len(*seen) != 1 || (*seen)[0] != "p2" {
		t.Fatalf("dominant = %v, want [p2]", *seen)
	}
}

func TestObserverIgnoresLevelsBelowThreshold(t *testing.T) {
	o, seen := collectDominant(t)

	o.observe("p1", 70)
	o.observe("p2", 127)
	o.evaluate()

	if len(*seen) != 0 {
		t.Fatalf("callback fired %v for silent producers", *seen)
	}
}

func TestObserverReportsSilenceAfterSpeakerStops(t *testing.T) {
	o, seen := collectDominant(t)

	o.observe("p1", 30)
	o.evaluate()
	// Window with no samples: channel went quiet.
	o.evaluate()

	want := []string{"p1", ""}
	if len(*seen) != len(want) {
		t.Fatalf("callbacks = %v, want %v", *seen, want)
	}
	for i := range want {
		if (*seen)[i] != want[i] {
			t.Fatalf("callbacks = %v, want %v", *seen, want)
		}
	}
}

func TestObserverSteadySpeakerFiresOnce(t *testing.T) {
	o, seen := collectDominant(t)

	o.observe("p1", 30)
	o.evaluate()
	o.observe("p1", 25)
	o.evaluate()

	if len(*seen) != 1 {
		t.Fatalf("callbacks = %v, want exactly one for an unchanged speaker", *seen)
	}
}

func TestObserverKeepsLoudestSampleOfWindow(t *testing.T) {
	o, _ := collectDominant(t)

	o.observe("p1", 50)
	o.observe("p1", 20)
	o.observe("p1", 45)

	o.mu.Lock()
	level := o.levels["p1"]
	o.mu.Unlock()
	if level != 20 {
		t.Fatalf("retained level = %d, want the loudest (20)", level)
	}
}

func TestObserverRemoveProducerClearsDominant(t *testing.T) {
	o, seen := collectDominant(t)

	o.observe("p1", 30)
	o.evaluate()
	o.removeProducer("p1")
	o.evaluate()

	if len(*seen) != 1 {
		// Removing the dominant producer resets state without a callback;
		// the next window already reports silence via dominant == "".
		t.Fatalf("callbacks = %v, want just the initial one", *seen)
	}
	o.mu.Lock()
	dominant := o.dominant
	o.mu.Unlock()
	if dominant != "" {
		t.Fatalf("dominant = %q after removal, want empty", dominant)
	}
}
