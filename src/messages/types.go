package messages

import (
	"fmt"
	"strings"
)

// Command is a control request for the resident process. The same values
// travel over the loopback socket, come from the GUI and from the hotkey.
type Command string

const (
	CmdStart  Command = "START"
	CmdStop   Command = "STOP"
	CmdToggle Command = "TOGGLE"
	CmdStatus Command = "STATUS"
	// CmdOnce runs the capture, reply, send pipeline a single time.
	CmdOnce Command = "ONCE"
)

var commands = []Command{CmdStart, CmdStop, CmdToggle, CmdStatus, CmdOnce}

func (c Command) String() string { return string(c) }

// ParseCommand accepts a command name in any case, with surrounding whitespace.
func ParseCommand(s string) (Command, error) {
	c := Command(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range commands {
		if c == known {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown command %q", strings.TrimSpace(s))
}

// Source identifies where a command came from.
type Source string

const (
	SourceGUI      Source = "gui"
	SourceHotkey   Source = "hotkey"
	SourceResident Source = "resident"
	SourceTray     Source = "tray"
)

// Status describes the resident state shown in the tray, the GUI status bar
// and the STATUS response.
type Status struct {
	Running bool
	// Modes lists the running loops, e.g. "auto_copy".
	Modes []string
	Busy  bool
	Text  string
}

func (s Status) String() string {
	state := "stopped"
	if s.Running {
		state = "running"
	}
	if len(s.Modes) > 0 {
		state += " (" + strings.Join(s.Modes, ", ") + ")"
	}
	if s.Busy {
		state += ", busy"
	}
	if s.Text != "" {
		state += ": " + s.Text
	}
	return state
}
