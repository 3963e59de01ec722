package capability

import (
	"testing"

	"github.com/joshp123/thermosync/internal/thermostat"
)

func TestFanoutForwardsToAllListeners(t *testing.T) {
	a := &Recorder{}
	b := &Recorder{}
	f := NewFanout(a, nil)
	f.Add(b)

	f.OnStateChanged("dev1", thermostat.FieldTargetTemperature, 21.5)
	f.OnPausedTransition("dev1", true)
	f.OnAvailabilityChanged("dev1", false, "timeout")

	for name, r := range map[string]*Recorder{"a": a, "b": b} {
		events := r.Events()
		if len(events) != 3 {
			t.Fatalf("%s: expected 3 events, got %d", name, len(events))
		}
		if events[0].Field != thermostat.FieldTargetTemperature || events[0].Value != 21.5 {
			t.Fatalf("%s: unexpected state change %+v", name, events[0])
		}
		if !events[1].Paused {
			t.Fatalf("%s: expected paused transition", name)
		}
		if events[2].Available || events[2].Reason != "timeout" {
			t.Fatalf("%s: unexpected availability %+v", name, events[2])
		}
	}
}

func TestRecorderCountAndReset(t *testing.T) {
	r := &Recorder{}
	r.OnPausedTransition("dev1", true)
	r.OnPausedTransition("dev1", false)
	r.OnStateChanged("dev1", thermostat.FieldPaused, false)

	if got := r.Count(KindPausedTransition); got != 2 {
		t.Fatalf("expected 2 transitions, got %d", got)
	}
	r.Reset()
	if len(r.Events()) != 0 {
		t.Fatalf("expected empty recorder after reset")
	}
}
