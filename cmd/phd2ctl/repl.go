package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fatih/color"
	"github.com/goccy/go-yaml"

	"github.com/astrotools/phd2go/phd2"
)

// app holds the REPL's session state around one protocol client.
type app struct {
	client  *phd2.Client
	timeout time.Duration
	out     io.Writer

	// showGuideSteps toggles per-exposure GuideStep lines, which are far
	// too chatty to print by default. Atomic: the REPL goroutine writes it
	// while the event observer reads it on the receive goroutine.
	showGuideSteps atomic.Bool
}

func (a *app) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), a.timeout)
}

// runREPL reads and executes commands until EOF or quit.
func (a *app) runREPL() {
	le := newLineEditor()
	defer le.close()
	a.out = le.writer()
	a.installEventPrinter()

	for {
		line, err := le.getLine("phd2> ")
		if err != nil {
			if !errors.Is(err, io.EOF) {
				fmt.Fprintf(os.Stderr, "phd2ctl: %v\n", err)
			}
			fmt.Fprintln(a.out)
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			return
		}
		if err := a.execute(line); err != nil {
			fmt.Fprintf(a.out, "error: %v\n", err)
		}
	}
}

// execute runs one REPL command line.
func (a *app) execute(line string) error {
	args := strings.Fields(line)
	cmd, args := args[0], args[1:]

	switch cmd {
	case "help":
		a.printHelp()
		return nil
	case "connect":
		return a.cmdConnect(args)
	case "disconnect":
		a.client.Disconnect()
		fmt.Fprintln(a.out, "disconnected")
		return nil
	case "reconnect":
		if err := a.client.Reconnect(); err != nil {
			return err
		}
		fmt.Fprintln(a.out, "reconnected")
		return nil
	case "status":
		return a.cmdStatus()
	case "state":
		return a.cmdState()
	case "guide":
		return a.cmdGuide(args)
	case "stop":
		ctx, cancel := a.ctx()
		defer cancel()
		return a.client.StopCapture(ctx)
	case "loop":
		ctx, cancel := a.ctx()
		defer cancel()
		return a.client.Loop(ctx)
	case "dither":
		return a.cmdDither(args)
	case "pause":
		ctx, cancel := a.ctx()
		defer cancel()
		return a.client.SetPaused(ctx, true, false)
	case "resume":
		ctx, cancel := a.ctx()
		defer cancel()
		return a.client.SetPaused(ctx, false, false)
	case "equip":
		return a.cmdEquip(args)
	case "profiles":
		return a.cmdProfiles()
	case "profile":
		return a.cmdProfile(args)
	case "send":
		return a.cmdSend(args)
	case "events":
		return a.cmdEvents(args)
	default:
		return fmt.Errorf("unknown command %q (try \"help\")", cmd)
	}
}

func (a *app) cmdConnect(args []string) error {
	host := ""
	port := 0
	if len(args) > 0 {
		host = args[0]
	}
	if len(args) > 1 {
		p, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid port %q", args[1])
		}
		port = p
	}
	if err := a.client.Connect(host, port); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "connected")
	return nil
}

func (a *app) cmdStatus() error {
	st := a.client.State()
	fmt.Fprintf(a.out, "transport:   %s\n", onOff(a.client.IsConnected(), "connected", "disconnected"))
	fmt.Fprintf(a.out, "daemon:      %s", onOff(st.Connection.Connected, "connected", "not reported"))
	if st.Versions.PHDVersion != "" {
		fmt.Fprintf(a.out, " (PHD %s%s)", st.Versions.PHDVersion, st.Versions.PHDSubver)
	}
	fmt.Fprintln(a.out)
	if st.AppState != "" {
		fmt.Fprintf(a.out, "app state:   %s\n", st.AppState)
	}
	if st.Profile != "" {
		fmt.Fprintf(a.out, "profile:     %s\n", st.Profile)
	}
	return nil
}

func (a *app) cmdState() error {
	st := a.client.State()
	bold := color.New(color.Bold)

	bold.Fprintln(a.out, "guiding")
	fmt.Fprintf(a.out, "  active=%v paused=%v looping=%v errorCode=%d\n",
		st.Guiding.Active, st.Guiding.Paused, st.Guiding.Looping, st.Guiding.LastErrorCode)
	if st.Guiding.LastDither != (phd2.DitherOffset{}) {
		fmt.Fprintf(a.out, "  last dither dx=%.2f dy=%.2f\n", st.Guiding.LastDither.DX, st.Guiding.LastDither.DY)
	}

	bold.Fprintln(a.out, "calibration")
	fmt.Fprintf(a.out, "  inProgress=%v calibrated=%v flipped=%v",
		st.Calibration.InProgress, st.Calibration.Calibrated, st.Calibration.Flipped)
	if st.Calibration.LastError != "" {
		fmt.Fprintf(a.out, " lastError=%q", st.Calibration.LastError)
	}
	fmt.Fprintln(a.out)

	bold.Fprintln(a.out, "star lock")
	fmt.Fprintf(a.out, "  locked=%v selected=%v", st.StarLock.Locked, st.StarLock.Selected)
	if st.StarLock.Position != nil {
		fmt.Fprintf(a.out, " position=(%.2f, %.2f)", st.StarLock.Position.X, st.StarLock.Position.Y)
	}
	fmt.Fprintln(a.out)

	bold.Fprintln(a.out, "settling")
	fmt.Fprintf(a.out, "  inProgress=%v settled=%v distance=%.2f",
		st.Settling.InProgress, st.Settling.Settled, st.Settling.Distance)
	if st.Settling.LastError != "" {
		fmt.Fprintf(a.out, " lastError=%q", st.Settling.LastError)
	}
	fmt.Fprintln(a.out)

	if st.StarLost.LastError != "" || st.StarLost.Status != nil {
		bold.Fprintln(a.out, "star lost")
		fmt.Fprintf(a.out, "  msg=%q status=%v\n", st.StarLost.LastError, st.StarLost.Status)
	}
	if st.LastAlert != (phd2.AlertInfo{}) {
		bold.Fprintln(a.out, "last alert")
		fmt.Fprintf(a.out, "  [%s] %s\n", st.LastAlert.Type, st.LastAlert.Msg)
	}
	return nil
}

func (a *app) cmdGuide(args []string) error {
	// Defaults match a typical settle tolerance; override: guide 1.5 8 40
	settle := phd2.SettleParams{Pixels: 1.5, Time: 8, Timeout: 40}
	recalibrate := false

	floats := make([]float64, 0, 3)
	for _, arg := range args {
		if arg == "recal" {
			recalibrate = true
			continue
		}
		f, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return fmt.Errorf("invalid guide argument %q", arg)
		}
		floats = append(floats, f)
	}
	if len(floats) > 0 {
		settle.Pixels = floats[0]
	}
	if len(floats) > 1 {
		settle.Time = floats[1]
	}
	if len(floats) > 2 {
		settle.Timeout = floats[2]
	}

	if err := a.client.StartGuiding(settle, recalibrate); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "guide command sent; waiting on StartGuiding event")
	return nil
}

func (a *app) cmdDither(args []string) error {
	if len(args) < 1 {
		return errors.New("usage: dither <amount-px> [ra]")
	}
	amount, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return fmt.Errorf("invalid dither amount %q", args[0])
	}
	raOnly := len(args) > 1 && args[1] == "ra"

	ctx, cancel := a.ctx()
	defer cancel()
	return a.client.Dither(ctx, amount, raOnly, phd2.SettleParams{Pixels: 1.5, Time: 8, Timeout: 40})
}

func (a *app) cmdEquip(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: equip connect|disconnect|reconnect|check")
	}
	ctx, cancel := a.ctx()
	defer cancel()

	switch args[0] {
	case "connect":
		return a.client.ConnectDevice(ctx)
	case "disconnect":
		return a.client.DisconnectDevice(ctx)
	case "reconnect":
		return a.client.ReconnectDevice(ctx)
	case "check":
		connected, err := a.client.CheckConnected(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "equipment %s\n", onOff(connected, "connected", "disconnected"))
		return nil
	default:
		return fmt.Errorf("unknown equip action %q", args[0])
	}
}

func (a *app) cmdProfiles() error {
	ctx, cancel := a.ctx()
	defer cancel()
	profiles, err := a.client.Profiles(ctx)
	if err != nil {
		return err
	}
	for _, p := range profiles {
		fmt.Fprintf(a.out, "%4d  %s\n", p.ID, p.Name)
	}
	return nil
}

func (a *app) cmdProfile(args []string) error {
	ctx, cancel := a.ctx()
	defer cancel()

	if len(args) == 0 || args[0] == "show" {
		p, err := a.client.CurrentProfile(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "%d  %s\n", p.ID, p.Name)
		return nil
	}

	switch args[0] {
	case "set":
		if len(args) != 2 {
			return errors.New("usage: profile set <id>")
		}
		id, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid profile id %q", args[1])
		}
		return a.client.SetProfile(ctx, id)
	case "generate":
		if len(args) != 2 {
			return errors.New("usage: profile generate <spec.yaml>")
		}
		return a.generateProfile(ctx, args[1])
	case "export":
		path, err := a.client.ExportProfile(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "exported to %s\n", path)
		return nil
	default:
		return fmt.Errorf("unknown profile action %q", args[0])
	}
}

// generateProfile reads an equipment spec file and asks the daemon to
// create a profile from it. Example spec:
//
//	name: ED80 + ASI120
//	camera: ZWO ASI120MM
//	mount: EQ6-R
//	focal_length: 600
//	pixel_size: 3.75
func (a *app) generateProfile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var spec phd2.ProfileSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	if spec.Name == "" {
		return fmt.Errorf("%s: profile spec needs a name", path)
	}
	if err := a.client.GenerateProfile(ctx, spec); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "profile %q created\n", spec.Name)
	return nil
}

func (a *app) cmdSend(args []string) error {
	if len(args) < 1 {
		return errors.New("usage: send <method> [params-json]")
	}
	var params any
	if len(args) > 1 {
		raw := strings.Join(args[1:], " ")
		if err := json.Unmarshal([]byte(raw), &params); err != nil {
			return fmt.Errorf("params are not valid JSON: %w", err)
		}
	}

	ctx, cancel := a.ctx()
	defer cancel()
	result, err := a.client.Call(ctx, args[0], params)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s\n", result)
	return nil
}

func (a *app) cmdEvents(args []string) error {
	if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
		return errors.New("usage: events on|off")
	}
	a.showGuideSteps.Store(args[0] == "on")
	return nil
}

func (a *app) printHelp() {
	fmt.Fprint(a.out, `Session
  connect [host [port]]    open the daemon connection
  disconnect | reconnect
  status                   connection, daemon version, app state
  state                    full mirrored guiding state
  events on|off            show per-exposure GuideStep events

Guiding
  guide [px time timeout] [recal]   start guiding (fire-and-forget)
  stop | loop | pause | resume
  dither <amount-px> [ra]

Equipment
  equip connect|disconnect|reconnect|check

Profiles
  profiles                 list configured profiles
  profile [show]           show the selected profile
  profile set <id>
  profile generate <spec.yaml>
  profile export

Other
  send <method> [params-json]       raw RPC call
  help | quit
`)
}

func onOff(b bool, yes, no string) string {
	if b {
		return yes
	}
	return no
}
