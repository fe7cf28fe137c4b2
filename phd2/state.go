package phd2

// Point is a pixel position on the guide camera sensor.
type Point struct {
	X float64
	Y float64
}

// ConnectionStatus is the daemon-reported connection flag. The Version
// handshake and set_connected/get_connected reports set it; losing the
// transport forces it false until a fresh Version event arrives.
type ConnectionStatus struct {
	Connected bool
}

// VersionInfo is set once per connection from the Version event.
type VersionInfo struct {
	PHDVersion     string
	PHDSubver      string
	OverlapVersion int
}

// StarLockStatus tracks the daemon's selected guide star and lock position.
type StarLockStatus struct {
	Locked            bool
	Selected          bool
	Position          *Point
	ShiftLimitReached bool
}

// CalibrationStatus tracks mount calibration progress and outcome.
type CalibrationStatus struct {
	InProgress bool
	Calibrated bool
	Flipped    bool
	LastError  string
}

// DitherOffset is the most recent dither displacement in pixels.
type DitherOffset struct {
	DX float64
	DY float64
}

// GuidingStatus tracks the active guiding session.
type GuidingStatus struct {
	Active        bool
	Paused        bool
	Looping       bool
	LastErrorCode int
	LastStatus    map[string]any
	LastDither    DitherOffset
}

// SettleStatus tracks post-disturbance settling progress.
type SettleStatus struct {
	InProgress bool
	Settled    bool
	Distance   float64
	Time       float64
	SettleTime float64
	StarLocked bool
	LastError  string
}

// StarLostStatus holds the most recent star-lost report.
type StarLostStatus struct {
	Status    map[string]any
	LastError string
}

// AlertInfo holds the most recent daemon alert. Alerts are operational
// data, not faults; callers inspect them here.
type AlertInfo struct {
	Msg  string
	Type string
}

// GuidingState is the device-state record mirrored from the daemon's event
// stream. It is mutated only by event handlers on the receive goroutine;
// Client.State returns a deep-copied snapshot for callers.
//
// The daemon guarantees that at most one of calibrating, guiding, and
// settling is active at a time; this record mirrors rather than enforces
// that, so out-of-order or missing transitions are applied as received.
type GuidingState struct {
	Connection  ConnectionStatus
	Versions    VersionInfo
	StarLock    StarLockStatus
	Calibration CalibrationStatus
	Guiding     GuidingStatus
	Settling    SettleStatus
	StarLost    StarLostStatus

	// AppState is the daemon's own coarse state word (e.g. "Stopped",
	// "Guiding"), from the AppState event.
	AppState string

	// Profile is the current equipment profile name, when known.
	Profile string

	LastAlert AlertInfo

	// GuideParams accumulates GuideParamChange notifications by name.
	GuideParams map[string]any

	// ConfigRevision counts ConfigurationChange events since connect.
	ConfigRevision int
}

// clone returns a deep copy safe to hand to callers while the receive
// goroutine keeps mutating the original.
func (s *GuidingState) clone() GuidingState {
	out := *s
	if s.StarLock.Position != nil {
		p := *s.StarLock.Position
		out.StarLock.Position = &p
	}
	out.Guiding.LastStatus = cloneMap(s.Guiding.LastStatus)
	out.StarLost.Status = cloneMap(s.StarLost.Status)
	out.GuideParams = cloneMap(s.GuideParams)
	return out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
