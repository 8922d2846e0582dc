package tools

import "testing"

func TestExtract(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		wantName string
		wantOK   bool
	}{
		{
			name:     "bare tool call",
			text:     `{"tool_call":{"name":"get_time","args":{}}}`,
			wantName: "get_time",
			wantOK:   true,
		},
		{
			name:     "embedded in prose",
			text:     `Sure. {"tool_call":{"name":"get_time","args":{}}} please hold on`,
			wantName: "get_time",
			wantOK:   true,
		},
		{
			name:     "with arguments",
			text:     `{"tool_call":{"name":"remember_fact","args":{"fact":"the cat is orange"}}}`,
			wantName: "remember_fact",
			wantOK:   true,
		},
		{
			name:   "plain prose",
			text:   "The current time is half past nine.",
			wantOK: false,
		},
		{
			name:   "json without tool_call key",
			text:   `{"answer": 42}`,
			wantOK: false,
		},
		{
			name:   "tool_call with empty name",
			text:   `{"tool_call":{"name":"","args":{}}}`,
			wantOK: false,
		},
		{
			name:   "malformed json",
			text:   `{"tool_call":{"name":"get_time"`,
			wantOK: false,
		},
		{
			name:   "empty input",
			text:   "",
			wantOK: false,
		},
		{
			name:     "braces inside a string literal",
			text:     `{"tool_call":{"name":"tell_joke","args":{"style":"knock {knock}"}}}`,
			wantName: "tell_joke",
			wantOK:   true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			call, ok := Extract(tc.text)
			if ok != tc.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tc.wantOK)
			}
			if !ok {
				return
			}
			if call.Name != tc.wantName {
				t.Errorf("name = %q, want %q", call.Name, tc.wantName)
			}
			if call.Args == nil {
				t.Error("args is nil, want non-nil map")
			}
		})
	}
}

func TestExtract_NilArgsBecomeEmptyMap(t *testing.T) {
	call, ok := Extract(`{"tool_call":{"name":"get_date"}}`)
	if !ok {
		t.Fatal("extraction failed")
	}
	if call.Args == nil {
		t.Error("args is nil, want empty map")
	}
	if len(call.Args) != 0 {
		t.Errorf("args = %v, want empty", call.Args)
	}
}
