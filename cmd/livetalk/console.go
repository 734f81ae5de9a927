package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/MrWong99/livetalk/internal/live"
)

const consoleHelp = "enter: talk/send (manual gate)  s: start  x: stop  h: help"

// controller is the part of the session the console drives.
type controller interface {
	Start(ctx context.Context) error
	Stop() error
	GateToggle() error
	Subscribe() (<-chan live.Status, func())
}

type consoleStyles struct {
	state map[live.State]lipgloss.Style
	label lipgloss.Style
	user  lipgloss.Style
	model lipgloss.Style
	err   lipgloss.Style
	help  lipgloss.Style
}

func newConsoleStyles() consoleStyles {
	badge := func(c string) lipgloss.Style {
		return lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#000000")).Background(lipgloss.Color(c)).Padding(0, 1)
	}
	return consoleStyles{
		state: map[live.State]lipgloss.Style{
			live.StateIdle:             badge("#6e7681"),
			live.StateConnecting:       badge("#d29922"),
			live.StateReady:            badge("#3fb950"),
			live.StateCapturing:        badge("#f85149"),
			live.StateAwaitingResponse: badge("#a371f7"),
			live.StateSpeaking:         badge("#00a6ed"),
			live.StateError:            badge("#f85149"),
			live.StateStopped:          badge("#6e7681"),
		},
		label: lipgloss.NewStyle().Foreground(lipgloss.Color("#6e7681")),
		user:  lipgloss.NewStyle().Foreground(lipgloss.Color("#e6edf3")),
		model: lipgloss.NewStyle().Foreground(lipgloss.Color("#00a6ed")),
		err:   lipgloss.NewStyle().Foreground(lipgloss.Color("#f85149")),
		help:  lipgloss.NewStyle().Foreground(lipgloss.Color("#6e7681")).Italic(true),
	}
}

// console prints a status block whenever it changes and maps key presses
// (one line of input each) to session commands.
type console struct {
	ctrl   controller
	in     io.Reader
	out    io.Writer
	styles consoleStyles
}

func newConsole(ctrl controller, in io.Reader, out io.Writer) *console {
	return &console{ctrl: ctrl, in: in, out: out, styles: newConsoleStyles()}
}

// Run renders until ctx is cancelled or the session closes. It always
// returns nil.
func (c *console) Run(ctx context.Context) error {
	updates, unsubscribe := c.ctrl.Subscribe()
	defer unsubscribe()

	keys := make(chan string)
	go c.readKeys(ctx, keys)

	fmt.Fprintln(c.out, c.styles.help.Render(consoleHelp))
	var last string
	for {
		select {
		case <-ctx.Done():
			return nil
		case st, ok := <-updates:
			if !ok {
				return nil
			}
			if block := c.render(st); block != last {
				fmt.Fprintln(c.out, block)
				last = block
			}
		case k, ok := <-keys:
			if !ok {
				keys = nil
				continue
			}
			c.handleKey(ctx, k)
		}
	}
}

// readKeys forwards input lines until EOF. The blocking read cannot be
// interrupted, so the goroutine may outlive Run until the next line arrives.
func (c *console) readKeys(ctx context.Context, keys chan<- string) {
	defer close(keys)
	sc := bufio.NewScanner(c.in)
	for sc.Scan() {
		select {
		case keys <- sc.Text():
		case <-ctx.Done():
			return
		}
	}
}

func (c *console) handleKey(ctx context.Context, line string) {
	var err error
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "":
		err = c.ctrl.GateToggle()
	case "s":
		err = c.ctrl.Start(ctx)
	case "x":
		err = c.ctrl.Stop()
	default:
		fmt.Fprintln(c.out, c.styles.help.Render(consoleHelp))
		return
	}

	switch {
	case err == nil:
	case errors.Is(err, live.ErrManualGateOnly):
		fmt.Fprintln(c.out, c.styles.help.Render("the gate is automatic; just speak"))
	case errors.Is(err, live.ErrNotReady):
		fmt.Fprintln(c.out, c.styles.help.Render("not connected yet"))
	default:
		fmt.Fprintln(c.out, c.styles.err.Render(err.Error()))
	}
}

// render formats one status snapshot.
func (c *console) render(st live.Status) string {
	s := c.styles
	badge, ok := s.state[st.State]
	if !ok {
		badge = s.state[live.StateIdle]
	}

	head := []string{badge.Render(strings.ToUpper(st.State.String()))}
	switch {
	case st.GateMode != "manual":
		head = append(head, s.label.Render("gate auto"))
	case st.GateOpen:
		head = append(head, s.label.Render("gate ")+s.err.Render("● open"))
	default:
		head = append(head, s.label.Render("gate ○ closed"))
	}
	if st.LatencyPending {
		head = append(head, s.label.Render("latency …"))
	} else if st.Latency > 0 {
		head = append(head, s.label.Render("latency "+st.Latency.Round(time.Millisecond).String()))
	}
	head = append(head, s.label.Render(fmt.Sprintf("turns %d", st.Utterances)))

	lines := []string{strings.Join(head, "  ")}
	if you := strings.TrimSpace(st.UserText + " " + st.Partial); you != "" {
		lines = append(lines, s.label.Render("you   › ")+s.user.Render(you))
	}
	if st.ModelText != "" {
		lines = append(lines, s.label.Render("model › ")+s.model.Render(st.ModelText))
	}
	if st.LastError != "" {
		lines = append(lines, s.label.Render("error › ")+s.err.Render(st.LastError))
	}
	return strings.Join(lines, "\n")
}
