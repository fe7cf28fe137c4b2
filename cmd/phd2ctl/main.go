// Command phd2ctl is an interactive client for a PHD2 guiding daemon's
// event-monitoring port. It maintains one connection, mirrors the daemon's
// state as events arrive, and exposes the command surface as a small REPL.
//
// Usage:
//
//	phd2ctl [-host 127.0.0.1] [-port 4400] [-timeout 10s] [-no-color]
//	phd2ctl -e "profiles"            # one-shot command, then exit
//	echo "status" | phd2ctl          # non-interactive (piped) mode
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/astrotools/phd2go/phd2"
)

func main() {
	host := flag.String("host", phd2.DefaultHost, "daemon host")
	port := flag.Int("port", phd2.DefaultPort, "daemon event-monitoring port")
	timeout := flag.Duration("timeout", 10*time.Second, "per-command timeout")
	noColor := flag.Bool("no-color", false, "disable colored output")
	verbose := flag.Bool("v", false, "log protocol diagnostics to stderr")
	oneShot := flag.String("e", "", "execute one command and exit")
	flag.Parse()

	if *noColor || !term.IsTerminal(int(os.Stdout.Fd())) {
		color.NoColor = true
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if *verbose {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
	}

	client := phd2.New(logger)
	defer client.Disconnect()

	a := &app{
		client:  client,
		timeout: *timeout,
		out:     os.Stdout,
	}

	if err := client.Connect(*host, *port); err != nil {
		if *oneShot != "" {
			fmt.Fprintf(os.Stderr, "phd2ctl: %v\n", err)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "phd2ctl: %v (use \"connect\" to retry)\n", err)
	} else {
		fmt.Printf("Connected to %s:%d\n", *host, *port)
	}

	if *oneShot != "" {
		if err := a.execute(*oneShot); err != nil {
			fmt.Fprintf(os.Stderr, "phd2ctl: %v\n", err)
			os.Exit(1)
		}
		return
	}

	a.runREPL()
}

// installEventPrinter mirrors the daemon's event stream onto the REPL
// output. Alerts stand out; routine guide steps are kept quiet unless
// verbose event display is toggled on.
func (a *app) installEventPrinter() {
	eventColor := color.New(color.FgCyan)
	alertColor := color.New(color.FgRed, color.Bold)

	a.client.SetEventObserver(func(name string, payload json.RawMessage) {
		switch name {
		case phd2.EventAlert:
			var ev struct {
				Msg  string `json:"Msg"`
				Type string `json:"Type"`
			}
			json.Unmarshal(payload, &ev)
			alertColor.Fprintf(a.out, "! alert (%s): %s\n", ev.Type, ev.Msg)
		case phd2.EventGuideStep:
			if !a.showGuideSteps.Load() {
				return
			}
			eventColor.Fprintf(a.out, "* %s %s\n", name, payload)
		default:
			eventColor.Fprintf(a.out, "* %s\n", name)
		}
	})
}
