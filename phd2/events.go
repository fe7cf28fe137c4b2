package phd2

import (
	"encoding/json"

	"github.com/astrotools/phd2go/dispatch"
)

// Event names pushed by the daemon. Each has exactly one registered handler
// that updates only the state group the name implies.
const (
	EventVersion                       = "Version"
	EventLockPositionSet               = "LockPositionSet"
	EventCalibrating                   = "Calibrating"
	EventCalibrationCompleted          = "CalibrationCompleted"
	EventStarSelected                  = "StarSelected"
	EventStartGuiding                  = "StartGuiding"
	EventPaused                        = "Paused"
	EventStartCalibration              = "StartCalibration"
	EventAppState                      = "AppState"
	EventCalibrationFailed             = "CalibrationFailed"
	EventCalibrationDataFlipped        = "CalibrationDataFlipped"
	EventLockPositionShiftLimitReached = "LockPositionShiftLimitReached"
	EventLoopingExposures              = "LoopingExposures"
	EventLoopingExposuresStopped       = "LoopingExposuresStopped"
	EventSettleBegin                   = "SettleBegin"
	EventSettling                      = "Settling"
	EventSettleDone                    = "SettleDone"
	EventStarLost                      = "StarLost"
	EventGuidingStopped                = "GuidingStopped"
	EventResumed                       = "Resumed"
	EventGuideStep                     = "GuideStep"
	EventGuidingDithered               = "GuidingDithered"
	EventLockPositionLost              = "LockPositionLost"
	EventAlert                         = "Alert"
	EventGuideParamChange              = "GuideParamChange"
	EventConfigurationChange           = "ConfigurationChange"
)

// Event payload shapes. Only the fields the handlers consume are declared;
// unknown fields are ignored by the decoder.

type versionEvent struct {
	PHDVersion     string `json:"PHDVersion"`
	PHDSubver      string `json:"PHDSubver"`
	OverlapVersion int    `json:"OverlapVersion"`
}

type lockPositionSetEvent struct {
	X float64 `json:"X"`
	Y float64 `json:"Y"`
}

type starSelectedEvent struct {
	X float64 `json:"X"`
	Y float64 `json:"Y"`
}

type appStateEvent struct {
	State string `json:"State"`
}

type calibrationFailedEvent struct {
	Reason string `json:"Reason"`
}

type settlingEvent struct {
	Distance   float64 `json:"Distance"`
	Time       float64 `json:"Time"`
	SettleTime float64 `json:"SettleTime"`
	StarLocked bool    `json:"StarLocked"`
}

type settleDoneEvent struct {
	Status int    `json:"Status"`
	Error  string `json:"Error"`
}

type starLostEvent struct {
	Status map[string]any `json:"Status"`
	Msg    string         `json:"Msg"`
}

type guidingDitheredEvent struct {
	DX float64 `json:"dx"`
	DY float64 `json:"dy"`
}

type alertEvent struct {
	Msg  string `json:"Msg"`
	Type string `json:"Type"`
}

type guideParamChangeEvent struct {
	Name  string `json:"Name"`
	Value any    `json:"Value"`
}

// registerEventHandlers binds every known event name to its handler closure.
// Adding a new event kind is a matter of adding one entry here plus its
// handler; no classification code changes.
func (c *Client) registerEventHandlers(reg *dispatch.Registry) {
	handlers := map[string]dispatch.HandlerFunc{
		EventVersion:                       c.onVersion,
		EventLockPositionSet:               c.onLockPositionSet,
		EventCalibrating:                   c.onCalibrating,
		EventCalibrationCompleted:          c.onCalibrationCompleted,
		EventStarSelected:                  c.onStarSelected,
		EventStartGuiding:                  c.onStartGuiding,
		EventPaused:                        c.onPaused,
		EventStartCalibration:              c.onStartCalibration,
		EventAppState:                      c.onAppState,
		EventCalibrationFailed:             c.onCalibrationFailed,
		EventCalibrationDataFlipped:        c.onCalibrationDataFlipped,
		EventLockPositionShiftLimitReached: c.onLockPositionShiftLimitReached,
		EventLoopingExposures:              c.onLoopingExposures,
		EventLoopingExposuresStopped:       c.onLoopingExposuresStopped,
		EventSettleBegin:                   c.onSettleBegin,
		EventSettling:                      c.onSettling,
		EventSettleDone:                    c.onSettleDone,
		EventStarLost:                      c.onStarLost,
		EventGuidingStopped:                c.onGuidingStopped,
		EventResumed:                       c.onResumed,
		EventGuideStep:                     c.onGuideStep,
		EventGuidingDithered:               c.onGuidingDithered,
		EventLockPositionLost:              c.onLockPositionLost,
		EventAlert:                         c.onAlert,
		EventGuideParamChange:              c.onGuideParamChange,
		EventConfigurationChange:           c.onConfigurationChange,
	}
	for name, fn := range handlers {
		reg.Register(name, fn)
	}
}

// decodeEvent unmarshals an event payload, logging and rejecting payloads
// whose declared fields have the wrong shape. A decode failure here leaves
// state untouched; it never stops the receive loop.
func (c *Client) decodeEvent(name string, payload json.RawMessage, v any) bool {
	if err := json.Unmarshal(payload, v); err != nil {
		c.log.Warn("phd2: bad event payload", "event", name, "err", err)
		return false
	}
	return true
}

func (c *Client) onVersion(payload json.RawMessage) {
	var ev versionEvent
	if !c.decodeEvent(EventVersion, payload, &ev) {
		return
	}
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.state.Versions = VersionInfo{
		PHDVersion:     ev.PHDVersion,
		PHDSubver:      ev.PHDSubver,
		OverlapVersion: ev.OverlapVersion,
	}
	// A Version event is the daemon's hello; only now is the link usable.
	c.state.Connection.Connected = true
}

func (c *Client) onLockPositionSet(payload json.RawMessage) {
	var ev lockPositionSetEvent
	if !c.decodeEvent(EventLockPositionSet, payload, &ev) {
		return
	}
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.state.StarLock.Locked = true
	c.state.StarLock.Position = &Point{X: ev.X, Y: ev.Y}
}

func (c *Client) onCalibrating(payload json.RawMessage) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.state.Calibration.InProgress = true
}

func (c *Client) onCalibrationCompleted(payload json.RawMessage) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.state.Calibration.InProgress = false
	c.state.Calibration.Calibrated = true
	c.state.Calibration.LastError = ""
}

func (c *Client) onStarSelected(payload json.RawMessage) {
	var ev starSelectedEvent
	if !c.decodeEvent(EventStarSelected, payload, &ev) {
		return
	}
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.state.StarLock.Selected = true
	c.state.StarLock.Position = &Point{X: ev.X, Y: ev.Y}
}

func (c *Client) onStartGuiding(payload json.RawMessage) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.state.Guiding.Active = true
	c.state.Guiding.Paused = false
}

func (c *Client) onPaused(payload json.RawMessage) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.state.Guiding.Paused = true
	c.state.Guiding.Active = false
}

func (c *Client) onStartCalibration(payload json.RawMessage) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.state.Calibration.InProgress = true
	c.state.Calibration.Calibrated = false
}

func (c *Client) onAppState(payload json.RawMessage) {
	var ev appStateEvent
	if !c.decodeEvent(EventAppState, payload, &ev) {
		return
	}
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.state.AppState = ev.State
}

func (c *Client) onCalibrationFailed(payload json.RawMessage) {
	var ev calibrationFailedEvent
	if !c.decodeEvent(EventCalibrationFailed, payload, &ev) {
		return
	}
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.state.Calibration.InProgress = false
	c.state.Calibration.Calibrated = false
	c.state.Calibration.LastError = ev.Reason
}

func (c *Client) onCalibrationDataFlipped(payload json.RawMessage) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.state.Calibration.Flipped = true
}

func (c *Client) onLockPositionShiftLimitReached(payload json.RawMessage) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.state.StarLock.ShiftLimitReached = true
}

func (c *Client) onLoopingExposures(payload json.RawMessage) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.state.Guiding.Looping = true
}

func (c *Client) onLoopingExposuresStopped(payload json.RawMessage) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.state.Guiding.Looping = false
}

func (c *Client) onSettleBegin(payload json.RawMessage) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.state.Settling.InProgress = true
	c.state.Settling.Settled = false
	c.state.Settling.LastError = ""
}

func (c *Client) onSettling(payload json.RawMessage) {
	var ev settlingEvent
	if !c.decodeEvent(EventSettling, payload, &ev) {
		return
	}
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.state.Settling.InProgress = true
	c.state.Settling.Distance = ev.Distance
	c.state.Settling.Time = ev.Time
	c.state.Settling.SettleTime = ev.SettleTime
	c.state.Settling.StarLocked = ev.StarLocked
}

func (c *Client) onSettleDone(payload json.RawMessage) {
	var ev settleDoneEvent
	if !c.decodeEvent(EventSettleDone, payload, &ev) {
		return
	}
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.state.Settling.InProgress = false
	c.state.Settling.Settled = ev.Status == 0
	c.state.Settling.LastError = ev.Error
}

func (c *Client) onStarLost(payload json.RawMessage) {
	var ev starLostEvent
	if !c.decodeEvent(EventStarLost, payload, &ev) {
		return
	}
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.state.StarLost.Status = ev.Status
	c.state.StarLost.LastError = ev.Msg
}

func (c *Client) onGuidingStopped(payload json.RawMessage) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.state.Guiding.Active = false
}

func (c *Client) onResumed(payload json.RawMessage) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.state.Guiding.Paused = false
	c.state.Guiding.Active = true
}

// onGuideStep stores the full guide-step report verbatim so callers can read
// whatever fields their daemon version emits (RA/Dec distances, star mass,
// SNR, ...) without this package chasing the schema.
func (c *Client) onGuideStep(payload json.RawMessage) {
	var status map[string]any
	if !c.decodeEvent(EventGuideStep, payload, &status) {
		return
	}
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.state.Guiding.LastStatus = status
	if code, ok := status["ErrorCode"].(float64); ok {
		c.state.Guiding.LastErrorCode = int(code)
	}
}

func (c *Client) onGuidingDithered(payload json.RawMessage) {
	var ev guidingDitheredEvent
	if !c.decodeEvent(EventGuidingDithered, payload, &ev) {
		return
	}
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.state.Guiding.LastDither = DitherOffset{DX: ev.DX, DY: ev.DY}
}

func (c *Client) onLockPositionLost(payload json.RawMessage) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.state.StarLock.Locked = false
}

func (c *Client) onAlert(payload json.RawMessage) {
	var ev alertEvent
	if !c.decodeEvent(EventAlert, payload, &ev) {
		return
	}
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.state.LastAlert = AlertInfo{Msg: ev.Msg, Type: ev.Type}
}

func (c *Client) onGuideParamChange(payload json.RawMessage) {
	var ev guideParamChangeEvent
	if !c.decodeEvent(EventGuideParamChange, payload, &ev) {
		return
	}
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if c.state.GuideParams == nil {
		c.state.GuideParams = make(map[string]any)
	}
	c.state.GuideParams[ev.Name] = ev.Value
}

func (c *Client) onConfigurationChange(payload json.RawMessage) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.state.ConfigRevision++
}
