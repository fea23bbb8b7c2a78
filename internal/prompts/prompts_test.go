package prompts

import (
	"context"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
)

func promptText(t *testing.T, res *mcp.GetPromptResult) string {
	t.Helper()
	if len(res.Messages) != 1 {
		t.Fatalf("messages = %d", len(res.Messages))
	}
	tc, ok := res.Messages[0].Content.(mcp.TextContent)
	if !ok {
		t.Fatalf("content = %T", res.Messages[0].Content)
	}
	return tc.Text
}

func TestStartPrompt(t *testing.T) {
	tests := []struct {
		name string
		args map[string]string
		want []string
	}{
		{
			name: "goal only",
			args: map[string]string{"goal": "a billing dashboard"},
			want: []string{"work on: a billing dashboard", "Ask me whether there is an existing repository"},
		},
		{
			name: "with repository",
			args: map[string]string{"goal": "a billing dashboard", "repository_path": "/src/app"},
			want: []string{"architecture_analysis", `"/src/app"`},
		},
		{
			name: "no arguments",
			args: nil,
			want: []string{"the project I will describe"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := mcp.GetPromptRequest{}
			req.Params.Arguments = tt.args
			res, err := NewStartPrompt().Handle(context.Background(), req)
			if err != nil {
				t.Fatal(err)
			}
			text := promptText(t, res)
			for _, w := range tt.want {
				if !strings.Contains(text, w) {
					t.Errorf("missing %q in:\n%s", w, text)
				}
			}
		})
	}
}

func TestStatusPrompt(t *testing.T) {
	res, err := NewStatusPrompt().Handle(context.Background(), mcp.GetPromptRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if text := promptText(t, res); !strings.Contains(text, "team_phase_status") {
		t.Errorf("text = %s", text)
	}
	if NewStatusPrompt().Definition().Name != "team-status" {
		t.Error("wrong prompt name")
	}
}
