package phd2

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// feed runs one raw protocol line through the client's classifier, exactly
// as the receive goroutine would.
func feed(t *testing.T, c *Client, line string) {
	t.Helper()
	if !json.Valid([]byte(line)) {
		t.Fatalf("test line is not valid JSON: %s", line)
	}
	c.handleMessage(json.RawMessage(line))
}

func TestVersionEvent(t *testing.T) {
	c := New(testLogger())
	feed(t, c, `{"Event":"Version","PHDVersion":"2.6.11","PHDSubver":"","OverlapVersion":1}`)

	st := c.State()
	want := VersionInfo{PHDVersion: "2.6.11", PHDSubver: "", OverlapVersion: 1}
	if diff := cmp.Diff(want, st.Versions); diff != "" {
		t.Errorf("Versions mismatch (-want +got):\n%s", diff)
	}
	if !st.Connection.Connected {
		t.Error("Connection.Connected = false after Version event")
	}
}

// TestStarLostTouchesOnlyItsGroup is the event-isolation check: a StarLost
// event updates the star-lost group and nothing else, field for field.
func TestStarLostTouchesOnlyItsGroup(t *testing.T) {
	c := New(testLogger())
	feed(t, c, `{"Event":"StartGuiding"}`)
	before := c.State()

	feed(t, c, `{"Event":"StarLost","Status":{"SNR":2.1},"Msg":"no star"}`)
	after := c.State()

	if diff := cmp.Diff(map[string]any{"SNR": 2.1}, after.StarLost.Status); diff != "" {
		t.Errorf("StarLost.Status mismatch (-want +got):\n%s", diff)
	}
	if after.StarLost.LastError != "no star" {
		t.Errorf("StarLost.LastError = %q, want %q", after.StarLost.LastError, "no star")
	}
	if !after.Guiding.Active {
		t.Error("Guiding.Active changed by StarLost event")
	}

	// With the star-lost group factored out, the rest of the record must be
	// untouched.
	after.StarLost = before.StarLost
	if diff := cmp.Diff(before, after); diff != "" {
		t.Errorf("StarLost mutated fields outside its group (-before +after):\n%s", diff)
	}
}

// TestGuideStepRoundTrip checks that a guide-step payload is reflected
// verbatim in the guiding-status field.
func TestGuideStepRoundTrip(t *testing.T) {
	c := New(testLogger())
	line := `{"Event":"GuideStep","Frame":42,"Mount":"EQ6","dx":0.12,"dy":-0.08,"RADistanceRaw":0.1,"SNR":31.2,"StarMass":1523}`
	feed(t, c, line)

	var want map[string]any
	if err := json.Unmarshal([]byte(line), &want); err != nil {
		t.Fatalf("unmarshal reference payload: %v", err)
	}
	if diff := cmp.Diff(want, c.State().Guiding.LastStatus); diff != "" {
		t.Errorf("Guiding.LastStatus mismatch (-want +got):\n%s", diff)
	}
}

func TestEventStateTransitions(t *testing.T) {
	tests := []struct {
		name  string
		lines []string
		check func(t *testing.T, st GuidingState)
	}{
		{
			name:  "calibration lifecycle",
			lines: []string{`{"Event":"StartCalibration","Mount":"EQ6"}`, `{"Event":"Calibrating","dir":"West","step":3}`, `{"Event":"CalibrationCompleted","Mount":"EQ6"}`},
			check: func(t *testing.T, st GuidingState) {
				if st.Calibration.InProgress {
					t.Error("Calibration.InProgress = true after completion")
				}
				if !st.Calibration.Calibrated {
					t.Error("Calibration.Calibrated = false after completion")
				}
			},
		},
		{
			name:  "calibration failure",
			lines: []string{`{"Event":"StartCalibration"}`, `{"Event":"CalibrationFailed","Reason":"star lost during calibration"}`},
			check: func(t *testing.T, st GuidingState) {
				if st.Calibration.InProgress || st.Calibration.Calibrated {
					t.Error("calibration flags not cleared after failure")
				}
				if st.Calibration.LastError != "star lost during calibration" {
					t.Errorf("Calibration.LastError = %q", st.Calibration.LastError)
				}
			},
		},
		{
			name:  "guiding pause and resume",
			lines: []string{`{"Event":"StartGuiding"}`, `{"Event":"Paused"}`, `{"Event":"Resumed"}`},
			check: func(t *testing.T, st GuidingState) {
				if !st.Guiding.Active || st.Guiding.Paused {
					t.Errorf("Guiding = %+v after resume", st.Guiding)
				}
			},
		},
		{
			name:  "settle cycle",
			lines: []string{`{"Event":"SettleBegin"}`, `{"Event":"Settling","Distance":2.4,"Time":3,"SettleTime":10,"StarLocked":true}`, `{"Event":"SettleDone","Status":0}`},
			check: func(t *testing.T, st GuidingState) {
				if st.Settling.InProgress || !st.Settling.Settled {
					t.Errorf("Settling = %+v after SettleDone", st.Settling)
				}
			},
		},
		{
			name:  "settle failure carries error text",
			lines: []string{`{"Event":"SettleBegin"}`, `{"Event":"SettleDone","Status":1,"Error":"timed-out waiting for guider to settle"}`},
			check: func(t *testing.T, st GuidingState) {
				if st.Settling.Settled {
					t.Error("Settling.Settled = true after failed settle")
				}
				if st.Settling.LastError != "timed-out waiting for guider to settle" {
					t.Errorf("Settling.LastError = %q", st.Settling.LastError)
				}
			},
		},
		{
			name:  "looping exposures",
			lines: []string{`{"Event":"LoopingExposures","Frame":7}`, `{"Event":"LoopingExposuresStopped"}`},
			check: func(t *testing.T, st GuidingState) {
				if st.Guiding.Looping {
					t.Error("Guiding.Looping = true after LoopingExposuresStopped")
				}
			},
		},
		{
			name:  "lock position set then lost",
			lines: []string{`{"Event":"LockPositionSet","X":311.2,"Y":204.8}`, `{"Event":"LockPositionLost"}`},
			check: func(t *testing.T, st GuidingState) {
				if st.StarLock.Locked {
					t.Error("StarLock.Locked = true after LockPositionLost")
				}
				if st.StarLock.Position == nil || st.StarLock.Position.X != 311.2 {
					t.Errorf("StarLock.Position = %+v, want X=311.2", st.StarLock.Position)
				}
			},
		},
		{
			name:  "dither recorded",
			lines: []string{`{"Event":"GuidingDithered","dx":1.2,"dy":-0.7}`},
			check: func(t *testing.T, st GuidingState) {
				want := DitherOffset{DX: 1.2, DY: -0.7}
				if st.Guiding.LastDither != want {
					t.Errorf("Guiding.LastDither = %+v, want %+v", st.Guiding.LastDither, want)
				}
			},
		},
		{
			name:  "alert surfaced as data",
			lines: []string{`{"Event":"Alert","Msg":"camera disconnected","Type":"error"}`},
			check: func(t *testing.T, st GuidingState) {
				want := AlertInfo{Msg: "camera disconnected", Type: "error"}
				if st.LastAlert != want {
					t.Errorf("LastAlert = %+v, want %+v", st.LastAlert, want)
				}
			},
		},
		{
			name:  "guide param changes accumulate",
			lines: []string{`{"Event":"GuideParamChange","Name":"MinMove","Value":0.2}`, `{"Event":"GuideParamChange","Name":"Aggressiveness","Value":70}`},
			check: func(t *testing.T, st GuidingState) {
				if len(st.GuideParams) != 2 {
					t.Fatalf("GuideParams has %d entries, want 2", len(st.GuideParams))
				}
				if st.GuideParams["MinMove"] != 0.2 {
					t.Errorf("GuideParams[MinMove] = %v", st.GuideParams["MinMove"])
				}
			},
		},
		{
			name:  "configuration changes counted",
			lines: []string{`{"Event":"ConfigurationChange"}`, `{"Event":"ConfigurationChange"}`},
			check: func(t *testing.T, st GuidingState) {
				if st.ConfigRevision != 2 {
					t.Errorf("ConfigRevision = %d, want 2", st.ConfigRevision)
				}
			},
		},
		{
			name:  "app state mirrored",
			lines: []string{`{"Event":"AppState","State":"Stopped"}`, `{"Event":"AppState","State":"Guiding"}`},
			check: func(t *testing.T, st GuidingState) {
				if st.AppState != "Guiding" {
					t.Errorf("AppState = %q, want %q", st.AppState, "Guiding")
				}
			},
		},
		{
			name:  "calibration data flip and shift limit",
			lines: []string{`{"Event":"CalibrationDataFlipped","Mount":"EQ6"}`, `{"Event":"LockPositionShiftLimitReached"}`},
			check: func(t *testing.T, st GuidingState) {
				if !st.Calibration.Flipped {
					t.Error("Calibration.Flipped = false")
				}
				if !st.StarLock.ShiftLimitReached {
					t.Error("StarLock.ShiftLimitReached = false")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(testLogger())
			for _, line := range tt.lines {
				feed(t, c, line)
			}
			tt.check(t, c.State())
		})
	}
}

// TestOrderingLastEventWins feeds an ordered sequence and checks the final
// state reflects the last event, not any earlier one.
func TestOrderingLastEventWins(t *testing.T) {
	c := New(testLogger())
	const n = 50
	for i := 0; i < n; i++ {
		feed(t, c, fmt.Sprintf(`{"Event":"AppState","State":"state-%d"}`, i))
	}
	if got := c.State().AppState; got != fmt.Sprintf("state-%d", n-1) {
		t.Errorf("AppState = %q, want %q", got, fmt.Sprintf("state-%d", n-1))
	}
}

// TestNonEventNeverDispatched verifies the classifier keeps RPC results and
// junk away from the event registry.
func TestNonEventNeverDispatched(t *testing.T) {
	c := New(testLogger())

	dispatched := 0
	for _, name := range []string{EventVersion, EventGuideStep, EventAlert} {
		c.Registry().Register(name, func(json.RawMessage) { dispatched++ })
	}

	feed(t, c, `{"id":7,"result":0}`)
	feed(t, c, `{"id":8,"error":{"code":1,"message":"nope"}}`)
	feed(t, c, `{"jsonrpc":"2.0"}`)

	if dispatched != 0 {
		t.Errorf("registry invoked %d times for non-event messages, want 0", dispatched)
	}
}

// TestUnknownEventRecovered checks an unregistered event name is skipped
// without disturbing state or later processing.
func TestUnknownEventRecovered(t *testing.T) {
	c := New(testLogger())
	before := c.State()

	feed(t, c, `{"Event":"SomeFutureEvent","Data":1}`)
	if diff := cmp.Diff(before, c.State()); diff != "" {
		t.Errorf("unknown event mutated state:\n%s", diff)
	}

	// The stream keeps flowing afterwards.
	feed(t, c, `{"Event":"AppState","State":"Looping"}`)
	if got := c.State().AppState; got != "Looping" {
		t.Errorf("AppState = %q after unknown event, want %q", got, "Looping")
	}
}

// TestSnapshotIsolation verifies State returns a copy that later events and
// caller mutation cannot corrupt.
func TestSnapshotIsolation(t *testing.T) {
	c := New(testLogger())
	feed(t, c, `{"Event":"GuideStep","SNR":20.0}`)

	snap := c.State()
	snap.Guiding.LastStatus["SNR"] = -1.0

	if got := c.State().Guiding.LastStatus["SNR"]; got != 20.0 {
		t.Errorf("caller mutation leaked into client state: SNR = %v", got)
	}
}
