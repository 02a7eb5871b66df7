package approval

import "testing"

func TestNeedsApproval(t *testing.T) {
	tests := []struct {
		name  string
		p     Proposal
		count int
		cfg   Config
		want  bool
	}{
		{
			name: "auto-approved tool skips always_ask",
			p:    Proposal{ToolName: "current_time", AutoApprove: true},
			cfg:  Config{Mode: ModeAlwaysAsk, MaxToolCallsPerRun: 10},
			want: false,
		},
		{
			name:  "auto-approved tool skips even the ceiling",
			p:     Proposal{ToolName: "current_time", AutoApprove: true},
			count: 10,
			cfg:   Config{Mode: ModeAlwaysAsk, MaxToolCallsPerRun: 10},
			want:  false,
		},
		{
			name:  "ceiling forces checkpoint in auto_approve mode",
			p:     Proposal{ToolName: "recall"},
			count: 10,
			cfg:   Config{Mode: ModeAutoApprove, MaxToolCallsPerRun: 10},
			want:  true,
		},
		{
			name:  "under the ceiling auto_approve passes",
			p:     Proposal{ToolName: "recall"},
			count: 9,
			cfg:   Config{Mode: ModeAutoApprove, MaxToolCallsPerRun: 10},
			want:  false,
		},
		{
			name: "always_ask asks",
			p:    Proposal{ToolName: "recall"},
			cfg:  Config{Mode: ModeAlwaysAsk, MaxToolCallsPerRun: 10},
			want: true,
		},
		{
			name: "per_thread asks before any grant",
			p:    Proposal{ToolName: "recall"},
			cfg:  Config{Mode: ModePerThread, MaxToolCallsPerRun: 10},
			want: true,
		},
		{
			name:  "per_thread blanket grant covers later calls",
			p:     Proposal{ToolName: "recall"},
			count: 3,
			cfg:   Config{Mode: ModePerThread, MaxToolCallsPerRun: 10, BlanketGranted: true},
			want:  false,
		},
		{
			name:  "per_thread blanket grant does not beat the ceiling",
			p:     Proposal{ToolName: "recall"},
			count: 10,
			cfg:   Config{Mode: ModePerThread, MaxToolCallsPerRun: 10, BlanketGranted: true},
			want:  true,
		},
		{
			name:  "zero ceiling disables the checkpoint",
			p:     Proposal{ToolName: "recall"},
			count: 500,
			cfg:   Config{Mode: ModeAutoApprove},
			want:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NeedsApproval(tt.p, tt.count, tt.cfg); got != tt.want {
				t.Errorf("NeedsApproval(%+v, %d, %+v) = %v, want %v",
					tt.p, tt.count, tt.cfg, got, tt.want)
			}
		})
	}
}

// The decision must be a pure function: same inputs, same output, no
// matter how many times or in what order it is asked.
func TestNeedsApproval_Pure(t *testing.T) {
	p := Proposal{ToolName: "recall"}
	cfg := Config{Mode: ModePerThread, MaxToolCallsPerRun: 5}

	first := NeedsApproval(p, 2, cfg)
	for i := 0; i < 100; i++ {
		if got := NeedsApproval(p, 2, cfg); got != first {
			t.Fatalf("call %d: result changed from %v to %v", i, first, got)
		}
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"", ModeAlwaysAsk, false},
		{"always_ask", ModeAlwaysAsk, false},
		{"AUTO_APPROVE", ModeAutoApprove, false},
		{"per_thread", ModePerThread, false},
		{"yolo", ModeAlwaysAsk, true},
	}

	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseMode(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseMode(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
