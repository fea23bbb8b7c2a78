package contextmgr

import "testing"

func TestLRU_EvictsOldest(t *testing.T) {
	c := newLRU[int](2)
	c.put("a", 1)
	c.put("b", 2)
	c.get("a")
	c.put("c", 3)

	if _, ok := c.get("b"); ok {
		t.Error("b should have been evicted")
	}
	if v, ok := c.get("a"); !ok || v != 1 {
		t.Errorf("get(a) = %d, %v", v, ok)
	}
	if c.len() != 2 {
		t.Errorf("len = %d, want 2", c.len())
	}
}

func TestLRU_RemoveFunc(t *testing.T) {
	c := newLRU[int](10)
	for i, k := range []string{"a", "b", "c", "d"} {
		c.put(k, i)
	}
	c.removeFunc(func(v int) bool { return v%2 == 0 })
	if c.len() != 2 {
		t.Errorf("len = %d, want 2", c.len())
	}
	if _, ok := c.get("a"); ok {
		t.Error("a should be removed")
	}
}

func TestSplitFrontMatter(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		wantMeta bool
		wantBody string
		wantErr  bool
	}{
		{"none", "# Title\nbody", false, "# Title\nbody", false},
		{"with meta", "---\nversion: 1.0.0\n---\n\nbody\n", true, "body\n", false},
		{"crlf", "---\r\nversion: 1\r\n---\r\nbody", true, "body", false},
		{"empty block", "---\n---\nbody", true, "body", false},
		{"meta at eof", "---\nversion: 1\n---", true, "", false},
		{"unterminated", "---\nversion: 1\nbody", false, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			meta, body, err := splitFrontMatter([]byte(tt.in))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if (meta != nil) != tt.wantMeta {
				t.Errorf("meta = %v, wantMeta %v", meta, tt.wantMeta)
			}
			if string(body) != tt.wantBody {
				t.Errorf("body = %q, want %q", body, tt.wantBody)
			}
		})
	}
}

func TestParsePromptFilename(t *testing.T) {
	tests := []struct {
		in, agent, task string
		ok              bool
	}{
		{"research.md", "research", "", true},
		{"research.market.md", "research", "market", true},
		{"notes.txt", "", "", false},
		{".md", "", "", false},
	}
	for _, tt := range tests {
		a, tk, ok := parsePromptFilename(tt.in)
		if a != tt.agent || tk != tt.task || ok != tt.ok {
			t.Errorf("parsePromptFilename(%q) = %q, %q, %v", tt.in, a, tk, ok)
		}
	}
}
