package agents

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/HendryAvila/devteam/internal/mcpclient"
	"github.com/HendryAvila/devteam/internal/sdkerr"
)

func perplexityResponse(sources ...any) map[string]any {
	return map[string]any{
		"results": map[string]any{
			"summary": "market is growing",
			"sources": sources,
		},
	}
}

func TestResearch_CompetitiveUsesPerplexity(t *testing.T) {
	p := &fakeProvider{}
	mcp := &fakeMCP{
		servers: map[string]bool{mcpclient.ServerPerplexity: true},
		responses: map[string]map[string]any{
			mcpclient.ServerPerplexity: perplexityResponse(
				"https://a.example.org",
				map[string]any{"url": "https://b.example.org", "title": "B"},
				map[string]any{"title": "Only a title"},
			),
		},
	}
	a := onlineAgent(t, NewResearch, p, mcp)

	spec := newSpec(TypeResearch, "competitive_research")
	spec.Complexity = 8
	res, err := a.Execute(context.Background(), spec, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.ConfidenceScore != 0.85 {
		t.Errorf("confidence = %v", res.ConfidenceScore)
	}
	if res.Metadata["research_method"] != "perplexity_mcp" {
		t.Errorf("method = %v", res.Metadata["research_method"])
	}
	want := []string{"https://a.example.org", "https://b.example.org", "Only a title"}
	if !slices.Equal(res.Sources, want) {
		t.Errorf("sources = %v", res.Sources)
	}
	if res.Metadata["sources_count"] != 3 {
		t.Errorf("sources_count = %v", res.Metadata["sources_count"])
	}

	call := mcp.calls[0]
	if call.method != "research" || call.params["complexity_level"] != "high" || call.params["research_mode"] != "competitive" {
		t.Errorf("call = %+v", call)
	}
	if call.params["max_sources"] != 20 {
		t.Errorf("max_sources = %v", call.params["max_sources"])
	}
	if !strings.Contains(p.last().Messages[0].Content, "market is growing") {
		t.Error("synthesis prompt does not carry the research data")
	}
}

func TestResearch_TechnologyConfidence(t *testing.T) {
	mcp := &fakeMCP{
		servers:   map[string]bool{mcpclient.ServerPerplexity: true},
		responses: map[string]map[string]any{mcpclient.ServerPerplexity: perplexityResponse()},
	}
	a := onlineAgent(t, NewResearch, &fakeProvider{}, mcp)
	res, err := a.Execute(context.Background(), newSpec(TypeResearch, "technology_research"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.ConfidenceScore != 0.87 || res.Metadata["analysis_type"] != "technology" {
		t.Errorf("result = %v %v", res.ConfidenceScore, res.Metadata["analysis_type"])
	}
}

func TestResearch_FallsBackWithoutPerplexity(t *testing.T) {
	a := onlineAgent(t, NewResearch, &fakeProvider{}, nil)
	res, err := a.Execute(context.Background(), newSpec(TypeResearch, "competitive_research"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.ConfidenceScore != 0.75 || res.Metadata["fallback_used"] != true {
		t.Errorf("result = %v %v", res.ConfidenceScore, res.Metadata)
	}
	if len(res.Sources) != 0 {
		t.Errorf("fallback produced sources %v", res.Sources)
	}
}

func TestResearch_FallsBackOnServerError(t *testing.T) {
	mcp := &fakeMCP{
		servers: map[string]bool{mcpclient.ServerPerplexity: true},
		err:     sdkerr.MCPServer("server crashed"),
	}
	a := onlineAgent(t, NewResearch, &fakeProvider{}, mcp)
	res, err := a.Execute(context.Background(), newSpec(TypeResearch, "market_analysis"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Metadata["research_method"] != "llm_only" {
		t.Errorf("method = %v", res.Metadata["research_method"])
	}
}

func TestResearch_SynthesisDeduplicatesSources(t *testing.T) {
	mcp := &fakeMCP{
		servers: map[string]bool{mcpclient.ServerPerplexity: true},
		responses: map[string]map[string]any{
			mcpclient.ServerPerplexity: perplexityResponse("https://a.example.org", "https://b.example.org"),
		},
	}
	a := onlineAgent(t, NewResearch, &fakeProvider{}, mcp)
	res, err := a.Execute(context.Background(), newSpec(TypeResearch, "knowledge_synthesis"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(mcp.calls) != 3 {
		t.Errorf("calls = %d, want 3", len(mcp.calls))
	}
	if len(res.Sources) != 2 {
		t.Errorf("sources = %v, want 2 unique", res.Sources)
	}
	if res.ConfidenceScore != 0.90 || res.Metadata["queries_answered"] != 3 {
		t.Errorf("result = %v %v", res.ConfidenceScore, res.Metadata)
	}
}

func TestResearch_NonMCPErrorFails(t *testing.T) {
	mcp := &fakeMCP{
		servers: map[string]bool{mcpclient.ServerPerplexity: true},
		responses: map[string]map[string]any{
			mcpclient.ServerPerplexity: perplexityResponse(),
		},
	}
	a := onlineAgent(t, NewResearch, &fakeProvider{err: errors.New("model down")}, mcp)
	if _, err := a.Execute(context.Background(), newSpec(TypeResearch, "competitive_research"), nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestComplexityLevel(t *testing.T) {
	tests := []struct {
		in   int
		want string
	}{
		{1, "low"}, {3, "low"}, {4, "medium"}, {7, "medium"}, {8, "high"}, {10, "high"},
	}
	for _, tt := range tests {
		if got := ComplexityLevel(tt.in); got != tt.want {
			t.Errorf("ComplexityLevel(%d) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestPerplexitySources_Malformed(t *testing.T) {
	for _, data := range []map[string]any{
		nil,
		{"results": "nope"},
		{"results": map[string]any{"sources": "nope"}},
		{"results": map[string]any{"sources": []any{42, map[string]any{}}}},
	} {
		if got := PerplexitySources(data); len(got) != 0 {
			t.Errorf("PerplexitySources(%v) = %v", data, got)
		}
	}
}
