package phd2

import (
	"context"
	"encoding/json"
	"fmt"
)

// RPC method names understood by the daemon.
const (
	methodGuide          = "guide"
	methodStopCapture    = "stop_capture"
	methodLoop           = "loop"
	methodDither         = "dither"
	methodSetPaused      = "set_paused"
	methodSetConnected   = "set_connected"
	methodGetConnected   = "get_connected"
	methodGetProfiles    = "get_profiles"
	methodGetProfile     = "get_profile"
	methodSetProfile     = "set_profile"
	methodGenProfile     = "generate_profile"
	methodExportSettings = "export_config_settings"
)

// SettleParams are the thresholds the daemon applies before declaring a
// guiding session (or a dither) settled.
type SettleParams struct {
	// Pixels is the maximum guide error, in pixels, considered settled.
	Pixels float64 `json:"pixels"`
	// Time is how long, in seconds, the error must stay below Pixels.
	Time float64 `json:"time"`
	// Timeout is the maximum seconds to wait before settling fails.
	Timeout float64 `json:"timeout"`
}

// Profile identifies one equipment profile on the daemon.
type Profile struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// ProfileSpec describes the equipment for a generated profile.
type ProfileSpec struct {
	Name        string  `json:"name" yaml:"name"`
	Camera      string  `json:"camera" yaml:"camera"`
	Mount       string  `json:"mount" yaml:"mount"`
	FocalLength float64 `json:"focal_length" yaml:"focal_length"`
	PixelSize   float64 `json:"pixel_size" yaml:"pixel_size"`
}

// StartGuiding asks the daemon to start a guiding session with the given
/// settling thresholds. It is fire-and-forget: a nil return means the
// command was sent, not that guiding began. Watch the StartGuiding event
// or State().Guiding.Active for the actual transition.
func (c *Client) StartGuiding(settle SettleParams, recalibrate bool) error {
	return c.Send(methodGuide, map[string]any{
		"settle":      settle,
		"recalibrate": recalibrate,
	})
}

// StopCapture stops guiding and looping, waiting for the daemon's
// acknowledgement.
func (c *Client) StopCapture(ctx context.Context) error {
	_, err := c.Call(ctx, methodStopCapture, nil)
	return err
}

// Loop starts looping exposures without guiding.
func (c *Client) Loop(ctx context.Context) error {
	_, err := c.Call(ctx, methodLoop, nil)
	return err
}

// Dither offsets the lock position by up to amount pixels and settles with
// the given thresholds.
func (c *Client) Dither(ctx context.Context, amount float64, raOnly bool, settle SettleParams) error {
	_, err := c.Call(ctx, methodDither, map[string]any{
		"amount": amount,
		"raOnly": raOnly,
		"settle": settle,
	})
	return err
}

// SetPaused pauses or resumes guiding. With full set, looping exposures
// pause as well.
func (c *Client) SetPaused(ctx context.Context, paused, full bool) error {
	params := []any{paused}
	if paused && full {
		params = append(params, "full")
	}
	_, err := c.Call(ctx, methodSetPaused, params)
	return err
}

// ConnectDevice connects the daemon's configured equipment.
func (c *Client) ConnectDevice(ctx context.Context) error {
	return c.setConnected(ctx, true)
}

// DisconnectDevice disconnects the daemon's configured equipment.
func (c *Client) DisconnectDevice(ctx context.Context) error {
	return c.setConnected(ctx, false)
}

// ReconnectDevice disconnects and reconnects the configured equipment.
func (c *Client) ReconnectDevice(ctx context.Context) error {
	if err := c.setConnected(ctx, false); err != nil {
		return err
	}
	return c.setConnected(ctx, true)
}

func (c *Client) setConnected(ctx context.Context, connected bool) error {
	if _, err := c.Call(ctx, methodSetConnected, []any{connected}); err != nil {
		return err
	}
	c.stateMu.Lock()
	c.state.Connection.Connected = connected
	c.connKnown = true
	c.stateMu.Unlock()
	return nil
}

// CheckConnected reports whether the daemon's equipment is connected. Once
// the status has been learned it answers from the cached state; before any
// report has arrived it issues a live get_connected query.
func (c *Client) CheckConnected(ctx context.Context) (bool, error) {
	c.stateMu.Lock()
	known := c.connKnown
	cached := c.state.Connection.Connected
	c.stateMu.Unlock()
	if known {
		return cached, nil
	}

	result, err := c.Call(ctx, methodGetConnected, nil)
	if err != nil {
		return false, err
	}
	var connected bool
	if err := json.Unmarshal(result, &connected); err != nil {
		return false, fmt.Errorf("phd2: get_connected result: %w", err)
	}

	c.stateMu.Lock()
	c.state.Connection.Connected = connected
	c.connKnown = true
	c.stateMu.Unlock()
	return connected, nil
}

// Profiles lists the equipment profiles configured on the daemon.
func (c *Client) Profiles(ctx context.Context) ([]Profile, error) {
	result, err := c.Call(ctx, methodGetProfiles, nil)
	if err != nil {
		return nil, err
	}
	var profiles []Profile
	if err := json.Unmarshal(result, &profiles); err != nil {
		return nil, fmt.Errorf("phd2: get_profiles result: %w", err)
	}
	return profiles, nil
}

// CurrentProfile returns the daemon's selected equipment profile and
// records its name in GuidingState.
func (c *Client) CurrentProfile(ctx context.Context) (Profile, error) {
	result, err := c.Call(ctx, methodGetProfile, nil)
	if err != nil {
		return Profile{}, err
	}
	var p Profile
	if err := json.Unmarshal(result, &p); err != nil {
		return Profile{}, fmt.Errorf("phd2: get_profile result: %w", err)
	}

	c.stateMu.Lock()
	c.state.Profile = p.Name
	c.stateMu.Unlock()
	return p, nil
}

// SetProfile selects the equipment profile with the given id. Equipment
// must be disconnected for the daemon to accept the change.
func (c *Client) SetProfile(ctx context.Context, id int) error {
	_, err := c.Call(ctx, methodSetProfile, []any{id})
	return err
}

// GenerateProfile creates a new equipment profile from spec.
func (c *Client) GenerateProfile(ctx context.Context, spec ProfileSpec) error {
	_, err := c.Call(ctx, methodGenProfile, spec)
	return err
}

// ExportProfile asks the daemon to write its current settings out and
// returns the path of the exported file.
func (c *Client) ExportProfile(ctx context.Context) (string, error) {
	result, err := c.Call(ctx, methodExportSettings, nil)
	if err != nil {
		return "", err
	}
	var filename string
	if err := json.Unmarshal(result, &filename); err != nil {
		return "", fmt.Errorf("phd2: export_config_settings result: %w", err)
	}
	return filename, nil
}
