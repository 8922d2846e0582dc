package tools

import (
	"context"
	"errors"
	"testing"
)

func echoTool(name string) Tool {
	return Tool{
		Name:        name,
		Description: "echoes",
		Fn: func(_ context.Context, _ map[string]any) (string, error) {
			return "echo from " + name, nil
		},
	}
}

func TestRegister_RejectsCollisions(t *testing.T) {
	tests := []struct {
		name    string
		first   Tool
		second  Tool
		wantErr bool
	}{
		{
			name:    "distinct names",
			first:   echoTool("alpha"),
			second:  echoTool("beta"),
			wantErr: false,
		},
		{
			name:    "duplicate canonical",
			first:   echoTool("alpha"),
			second:  echoTool("alpha"),
			wantErr: true,
		},
		{
			name:    "alias shadows canonical",
			first:   echoTool("alpha"),
			second:  Tool{Name: "beta", Aliases: []string{"alpha"}, Fn: echoTool("beta").Fn},
			wantErr: true,
		},
		{
			name:    "canonical shadows alias",
			first:   Tool{Name: "alpha", Aliases: []string{"beta"}, Fn: echoTool("alpha").Fn},
			second:  echoTool("beta"),
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := NewRouter()
			if err := r.Register(tc.first); err != nil {
				t.Fatalf("first Register: %v", err)
			}
			err := r.Register(tc.second)
			if (err != nil) != tc.wantErr {
				t.Errorf("second Register error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestRegister_RequiresNameAndFn(t *testing.T) {
	r := NewRouter()
	if err := r.Register(Tool{Fn: echoTool("x").Fn}); err == nil {
		t.Error("Register without name succeeded")
	}
	if err := r.Register(Tool{Name: "x"}); err == nil {
		t.Error("Register without implementation succeeded")
	}
}

func TestExecute_UnknownToolErrorString(t *testing.T) {
	r := NewRouter()

	got := r.Execute(context.Background(), "nonexistent", nil)
	want := "Error: Unknown tool 'nonexistent'"
	if got != want {
		t.Errorf("Execute = %q, want %q", got, want)
	}
}

func TestExecute_ToolErrorString(t *testing.T) {
	r := NewRouter()
	r.Register(Tool{
		Name: "broken",
		Fn: func(_ context.Context, _ map[string]any) (string, error) {
			return "", errors.New("disk on fire")
		},
	})

	got := r.Execute(context.Background(), "broken", nil)
	want := "Error executing tool 'broken': disk on fire"
	if got != want {
		t.Errorf("Execute = %q, want %q", got, want)
	}
}

func TestExecute_RecoversPanic(t *testing.T) {
	r := NewRouter()
	r.Register(Tool{
		Name: "panics",
		Fn: func(_ context.Context, _ map[string]any) (string, error) {
			panic("boom")
		},
	})

	got := r.Execute(context.Background(), "panics", nil)
	want := "Error executing tool 'panics': boom"
	if got != want {
		t.Errorf("Execute = %q, want %q", got, want)
	}
}

func TestExecute_AliasAndCanonicalAreEquivalent(t *testing.T) {
	r := NewRouter()
	r.Register(Tool{
		Name:    "list_tools",
		Aliases: []string{"help"},
		Fn: func(_ context.Context, _ map[string]any) (string, error) {
			return "the tool list", nil
		},
	})

	byName := r.Execute(context.Background(), "list_tools", nil)
	byAlias := r.Execute(context.Background(), "help", nil)
	if byName != byAlias {
		t.Errorf("canonical result %q != alias result %q", byName, byAlias)
	}
}

func TestKnownAndNames(t *testing.T) {
	r := NewRouter()
	r.Register(Tool{Name: "zeta", Aliases: []string{"z"}, Fn: echoTool("zeta").Fn})
	r.Register(echoTool("alpha"))

	if !r.Known("zeta") || !r.Known("z") || !r.Known("alpha") {
		t.Error("Known returned false for a registered name")
	}
	if r.Known("omega") {
		t.Error("Known returned true for an unregistered name")
	}

	names := r.Names()
	if len(names) != 2 || names[0] != "alpha" || names[1] != "zeta" {
		t.Errorf("Names = %v, want [alpha zeta]", names)
	}
}

func TestSuggest_FindsNearMiss(t *testing.T) {
	r := NewRouter()
	r.Register(echoTool("get_time"))
	r.Register(echoTool("get_date"))

	if got := r.Suggest("get_tiem"); got != "get_time" {
		t.Errorf("Suggest(get_tiem) = %q, want get_time", got)
	}
	if got := r.Suggest("completely_unrelated_name"); got != "" {
		t.Errorf("Suggest(far name) = %q, want empty", got)
	}
}
