package agents

import (
	"context"

	"github.com/HendryAvila/devteam/internal/config"
	"github.com/HendryAvila/devteam/internal/sdkerr"
	"github.com/HendryAvila/devteam/internal/task"
)

// TypeFrontend is the frontend coder agent type.
const TypeFrontend = "frontend"

const frontendVersion = "1.0.0"

var frameworkDependencies = map[string][]string{
	"react":   {"react", "prop-types"},
	"vue":     {"vue", "vue-router"},
	"angular": {"@angular/core", "@angular/common"},
	"svelte":  {"svelte"},
}

type frontend struct {
	framework        string
	componentLibrary string
}

// NewFrontend creates a frontend coder. The framework defaults to react
// and the component library to material-ui.
func NewFrontend(cfg config.AgentConfig, opts ...Option) *Agent {
	f := &frontend{framework: cfg.Framework, componentLibrary: cfg.ComponentLibrary}
	if f.framework == "" {
		f.framework = "react"
	}
	if f.componentLibrary == "" {
		f.componentLibrary = "material-ui"
	}
	return newAgent(TypeFrontend, cfg, f, opts...)
}

func (f *frontend) capabilities() []Capability {
	return []Capability{
		{
			Name:        "ui_development",
			Description: "Modern UI component development with React/Vue/Angular",
			TaskTypes:   []string{"component_development", "ui_implementation", "responsive_design"},
		},
		{
			Name:        "responsive_design",
			Description: "Mobile-first responsive design implementation",
			TaskTypes:   []string{"mobile_design", "responsive_layout", "cross_browser_compatibility"},
		},
		{
			Name:        "component_architecture",
			Description: "Reusable component architecture and design systems",
			TaskTypes:   []string{"component_system", "design_system", "component_library"},
		},
		{
			Name:        "user_experience",
			Description: "UX optimization and accessibility implementation",
			TaskTypes:   []string{"ux_optimization", "accessibility", "user_interface"},
		},
	}
}

func (f *frontend) taskTypes() []string {
	return []string{
		"form_validation", "data_visualization", "state_management",
		"development", "implementation", "coding",
	}
}

func (f *frontend) defaultPrompt() string { return frontendSystemPrompt }

func (f *frontend) execute(ctx context.Context, a *Agent, spec task.Spec, actx *task.Context) (*task.Result, error) {
	componentSpec := metadataMap(spec, "component_spec")
	design := metadataMap(spec, "design_requirements")
	framework := spec.MetadataString("framework")
	if framework == "" {
		framework = f.framework
	}
	start := timeNow()

	var (
		prompt     string
		confidence float64
		meta       map[string]any
	)
	switch spec.TaskType {
	case "component_development", "component_system":
		prompt, confidence = componentPrompt(spec.Task, framework, componentSpec), 0.85
		meta = map[string]any{
			"development_method": "component",
			"task_type":          "component_development",
			"component_metadata": map[string]any{
				"component_name": stringOr(componentSpec, "name", "Component"),
				"framework":      framework,
				"props":          valueOr(componentSpec, "props", map[string]any{}),
				"styling":        stringOr(componentSpec, "styling", "css"),
				"dependencies":   f.dependencies(framework),
			},
		}
	case "responsive_design", "mobile_design":
		prompt, confidence = responsivePrompt(spec.Task, design), 0.83
		meta = map[string]any{
			"development_method": "responsive",
			"task_type":          "responsive_design",
			"responsive_metadata": map[string]any{
				"breakpoints":   []string{"320px", "768px", "1024px", "1200px"},
				"approach":      "mobile_first",
				"technologies":  []string{"flexbox", "grid", "media_queries"},
				"compatibility": []string{"modern_browsers"},
			},
		}
	case "ux_optimization", "accessibility":
		prompt, confidence = uxPrompt(spec.Task, design), 0.82
		meta = map[string]any{
			"development_method": "ux",
			"task_type":          "ux_optimization",
			"ux_metadata": map[string]any{
				"accessibility_standard": "WCAG 2.1 AA",
				"ux_principles":          []string{"usability", "accessibility", "performance", "visual_hierarchy"},
				"optimization_areas":     []string{"navigation", "forms", "content", "interactions"},
			},
		}
	case "form_validation", "data_visualization":
		prompt, confidence = featurePrompt(spec.TaskType, spec.Task, componentSpec), 0.80
		meta = map[string]any{
			"development_method": "feature",
			"task_type":          spec.TaskType,
			"feature_metadata": map[string]any{
				"feature_type": spec.TaskType,
				"complexity":   spec.Complexity,
				"interactions": valueOr(componentSpec, "interactions", []any{}),
			},
		}
	default:
		prompt, confidence = generalFrontendPrompt(spec.Task, framework), 0.78
		meta = map[string]any{
			"development_method": "general",
			"task_type":          "general_frontend",
		}
	}

	content, err := a.callLLM(ctx, actx, prompt)
	if err != nil {
		return nil, sdkerr.Wrap(sdkerr.KindTaskExecution, err, "frontend development task failed")
	}
	meta["framework"] = framework
	meta["component_complexity"] = spec.Complexity
	meta["development_duration"] = timeNow().Sub(start).Seconds()
	meta["frontend_version"] = frontendVersion
	return a.result(spec, content, confidence, nil, meta), nil
}

// dependencies lists the packages a generated component needs.
func (f *frontend) dependencies(framework string) []string {
	deps := append([]string{}, frameworkDependencies[framework]...)
	if f.componentLibrary == "styled-components" {
		deps = append(deps, "styled-components")
	}
	return deps
}

// metadataMap returns spec.Metadata[key] as a map, or an empty map.
func metadataMap(spec task.Spec, key string) map[string]any {
	if spec.Metadata != nil {
		if m, ok := spec.Metadata[key].(map[string]any); ok {
			return m
		}
	}
	return map[string]any{}
}

func valueOr(m map[string]any, key string, def any) any {
	if v, ok := m[key]; ok && v != nil {
		return v
	}
	return def
}

func stringOr(m map[string]any, key, def string) string {
	if v, ok := m[key].(string); ok && v != "" {
		return v
	}
	return def
}
