package dispatch

import (
	"encoding/json"
	"testing"
)

func TestDispatchInvokesRegisteredHandler(t *testing.T) {
	r := New()

	var got json.RawMessage
	r.Register("StarSelected", func(payload json.RawMessage) { got = payload })

	payload := json.RawMessage(`{"X":320.5,"Y":240.25}`)
	if !r.Dispatch("StarSelected", payload) {
		t.Fatal("Dispatch reported no handler for a registered name")
	}
	if string(got) != string(payload) {
		t.Errorf("handler payload = %s, want %s", got, payload)
	}
}

func TestDispatchUnknownName(t *testing.T) {
	r := New()
	r.Register("Alert", func(json.RawMessage) { t.Error("wrong handler invoked") })

	if r.Dispatch("NoSuchEvent", nil) {
		t.Error("Dispatch reported a handler for an unregistered name")
	}
	if r.Has("NoSuchEvent") {
		t.Error("Has reported an unregistered name")
	}
}

// TestRegisterOverride checks the idempotent-override law: the second
// registration under a name fully replaces the first.
func TestRegisterOverride(t *testing.T) {
	r := New()

	first, second := 0, 0
	r.Register("GuideStep", func(json.RawMessage) { first++ })
	r.Register("GuideStep", func(json.RawMessage) { second++ })

	if !r.Has("GuideStep") {
		t.Fatal("Has = false after re-registration")
	}
	r.Dispatch("GuideStep", nil)

	if first != 0 {
		t.Errorf("replaced handler invoked %d times, want 0", first)
	}
	if second != 1 {
		t.Errorf("current handler invoked %d times, want 1", second)
	}
}

// TestDistinctNamesNeverAlias guards the collision concern behind keying
// the registry: similar names must resolve to their own handlers.
func TestDistinctNamesNeverAlias(t *testing.T) {
	r := New()

	calls := make(map[string]int)
	names := []string{
		"LoopingExposures", "LoopingExposuresStopped",
		"LockPositionSet", "LockPositionLost", "LockPositionShiftLimitReached",
	}
	for _, name := range names {
		name := name
		r.Register(name, func(json.RawMessage) { calls[name]++ })
	}

	for _, name := range names {
		r.Dispatch(name, nil)
	}
	for _, name := range names {
		if calls[name] != 1 {
			t.Errorf("handler for %q invoked %d times, want 1", name, calls[name])
		}
	}
}
