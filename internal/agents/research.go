package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/HendryAvila/devteam/internal/config"
	"github.com/HendryAvila/devteam/internal/mcpclient"
	"github.com/HendryAvila/devteam/internal/sdkerr"
	"github.com/HendryAvila/devteam/internal/task"
)

// TypeResearch is the research agent type.
const TypeResearch = "research"

type research struct {
	maxSources int
}

// NewResearch creates a research agent. Competitive and technology
// research go through the Perplexity MCP server when it is connected.
func NewResearch(cfg config.AgentConfig, opts ...Option) *Agent {
	r := &research{maxSources: cfg.MaxSources}
	if r.maxSources <= 0 {
		r.maxSources = 20
	}
	return newAgent(TypeResearch, cfg, r, opts...)
}

func (r *research) capabilities() []Capability {
	return []Capability{
		{
			Name:        "web_research",
			Description: "Comprehensive web research using search engines",
			TaskTypes:   []string{"market_research", "competitive_analysis", "technology_research"},
		},
		{
			Name:        "knowledge_synthesis",
			Description: "Synthesize information from multiple sources",
			TaskTypes:   []string{"research_synthesis", "knowledge_compilation"},
		},
		{
			Name:        "competitive_analysis",
			Description: "Analyze competitive landscape and market position",
			RequiresMCP: true,
			MCPServer:   mcpclient.ServerPerplexity,
			TaskTypes:   []string{"competitive_research", "market_analysis"},
		},
		{
			Name:        "source_verification",
			Description: "Verify and validate source credibility",
			TaskTypes:   []string{"fact_checking", "source_validation"},
		},
	}
}

func (r *research) taskTypes() []string {
	return []string{
		"market_research", "competitive_research", "technology_research",
		"academic_research", "industry_analysis", "trend_analysis",
		"knowledge_synthesis", "source_verification", "research",
	}
}

func (r *research) defaultPrompt() string { return researchSystemPrompt }

func (r *research) execute(ctx context.Context, a *Agent, spec task.Spec, actx *task.Context) (*task.Result, error) {
	var (
		res *task.Result
		err error
	)
	switch spec.TaskType {
	case "competitive_research", "market_analysis":
		res, err = r.perplexityResearch(ctx, a, spec, actx, "competitive")
	case "technology_research", "academic_research":
		res, err = r.perplexityResearch(ctx, a, spec, actx, "technical")
	case "knowledge_synthesis", "research_synthesis":
		res, err = r.synthesize(ctx, a, spec, actx)
	default:
		res, err = r.general(ctx, a, spec, actx)
	}
	if err != nil {
		return nil, sdkerr.Wrap(sdkerr.KindTaskExecution, err, "research task execution failed")
	}

	if _, ok := res.Metadata["research_method"]; !ok {
		res.Metadata["research_method"] = "general"
	}
	res.Metadata["sources_count"] = len(res.Sources)
	return res, nil
}

// perplexityResearch runs a Perplexity query and has the model synthesize
// it. mode is "competitive" or "technical". Without Perplexity it falls
// back to general research.
func (r *research) perplexityResearch(ctx context.Context, a *Agent, spec task.Spec, actx *task.Context, mode string) (*task.Result, error) {
	data, err := r.callPerplexity(ctx, a, spec.Task, ComplexityLevel(spec.Complexity), mode)
	if err != nil {
		if sdkerr.KindOf(err) != sdkerr.KindMCPServer {
			return nil, err
		}
		a.logger.Info("Perplexity unavailable, using fallback research", zap.Error(err))
		return r.general(ctx, a, spec, actx)
	}

	var (
		prompt, method, analysis string
		confidence               float64
	)
	if mode == "competitive" {
		prompt = competitiveSynthesisPrompt(spec.Task, data)
		method, analysis, confidence = "perplexity_mcp", "competitive", 0.85
	} else {
		prompt = technologySynthesisPrompt(spec.Task, data)
		method, analysis, confidence = "perplexity_technical", "technology", 0.87
	}

	content, err := a.callLLM(ctx, actx, prompt)
	if err != nil {
		return nil, err
	}
	return a.result(spec, content, confidence, PerplexitySources(data), map[string]any{
		"research_method": method,
		"perplexity_data": data,
		"analysis_type":   analysis,
	}), nil
}

func (r *research) synthesize(ctx context.Context, a *Agent, spec task.Spec, actx *task.Context) (*task.Result, error) {
	queries := researchQueries(spec.Task)

	var (
		sources []string
		data    []map[string]any
	)
	for _, q := range queries {
		res, err := r.callPerplexity(ctx, a, q, "medium", "comprehensive")
		if err != nil {
			if sdkerr.KindOf(err) == sdkerr.KindMCPServer {
				continue
			}
			return nil, err
		}
		data = append(data, res)
		for _, s := range PerplexitySources(res) {
			if !slices.Contains(sources, s) {
				sources = append(sources, s)
			}
		}
	}

	content, err := a.callLLM(ctx, actx, knowledgeSynthesisPrompt(spec.Task, data))
	if err != nil {
		return nil, err
	}
	return a.result(spec, content, 0.90, sources, map[string]any{
		"research_method":  "knowledge_synthesis",
		"queries_executed": len(queries),
		"queries_answered": len(data),
		"analysis_type":    "synthesis",
	}), nil
}

func (r *research) general(ctx context.Context, a *Agent, spec task.Spec, actx *task.Context) (*task.Result, error) {
	content, err := a.callLLM(ctx, actx, generalResearchPrompt(spec.Task))
	if err != nil {
		return nil, err
	}
	return a.result(spec, content, 0.75, nil, map[string]any{
		"research_method": "llm_only",
		"analysis_type":   "general",
		"fallback_used":   true,
	}), nil
}

func (r *research) callPerplexity(ctx context.Context, a *Agent, query, level, mode string) (map[string]any, error) {
	return a.callMCP(ctx, mcpclient.ServerPerplexity, "research", map[string]any{
		"query":            query,
		"complexity_level": level,
		"research_mode":    mode,
		"max_sources":      r.maxSources,
		"include_analysis": true,
	})
}

// ComplexityLevel maps a 1..10 complexity onto low, medium or high.
func ComplexityLevel(complexity int) string {
	switch {
	case complexity <= 3:
		return "low"
	case complexity <= 7:
		return "medium"
	default:
		return "high"
	}
}

func researchQueries(topic string) []string {
	return []string{
		topic + " overview and current state",
		topic + " challenges and opportunities",
		topic + " future trends and predictions",
	}
}

// PerplexitySources pulls source URLs (or titles) out of a Perplexity
// response: results.sources entries may be strings or objects.
func PerplexitySources(data map[string]any) []string {
	results, _ := data["results"].(map[string]any)
	if results == nil {
		return nil
	}
	raw, _ := results["sources"].([]any)
	var out []string
	for _, s := range raw {
		switch v := s.(type) {
		case string:
			out = append(out, v)
		case map[string]any:
			if u, ok := v["url"].(string); ok {
				out = append(out, u)
			} else if t, ok := v["title"].(string); ok {
				out = append(out, t)
			}
		}
	}
	return out
}

func indentJSON(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
