package messages

import "testing"

func TestParseCommand(t *testing.T) {
	tests := []struct {
		in      string
		want    Command
		wantErr bool
	}{
		{"START", CmdStart, false},
		{" stop\n", CmdStop, false},
		{"Toggle", CmdToggle, false},
		{"status", CmdStatus, false},
		{"ONCE", CmdOnce, false},
		{"PING", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseCommand(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseCommand(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseCommand(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestStatusString(t *testing.T) {
	tests := []struct {
		name string
		in   Status
		want string
	}{
		{"stopped", Status{}, "stopped"},
		{"running", Status{Running: true, Modes: []string{"auto_copy", "screen_monitor"}}, "running (auto_copy, screen_monitor)"},
		{"busy with text", Status{Running: true, Busy: true, Text: "replying"}, "running, busy: replying"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.in.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}
