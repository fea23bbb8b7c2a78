package agents

import (
	"context"
	"slices"
	"strings"
	"testing"

	"github.com/HendryAvila/devteam/internal/config"
)

func TestFrontend_Routing(t *testing.T) {
	tests := []struct {
		taskType   string
		confidence float64
		method     string
		promptHas  string
	}{
		{"component_development", 0.85, "component", "production-ready react component"},
		{"component_system", 0.85, "component", "production-ready react component"},
		{"responsive_design", 0.83, "responsive", "mobile-first"},
		{"mobile_design", 0.83, "responsive", "mobile-first"},
		{"ux_optimization", 0.82, "ux", "accessibility"},
		{"accessibility", 0.82, "ux", "accessibility"},
		{"form_validation", 0.80, "feature", "field-level validation"},
		{"data_visualization", 0.80, "feature", "Chart component"},
		{"design_system", 0.78, "general", "frontend development task"},
	}
	for _, tt := range tests {
		t.Run(tt.taskType, func(t *testing.T) {
			p := &fakeProvider{}
			a := onlineAgent(t, NewFrontend, p, nil)
			res, err := a.Execute(context.Background(), newSpec(TypeFrontend, tt.taskType), nil)
			if err != nil {
				t.Fatal(err)
			}
			if res.ConfidenceScore != tt.confidence || res.Metadata["development_method"] != tt.method {
				t.Errorf("result = %v %v", res.ConfidenceScore, res.Metadata["development_method"])
			}
			if res.Metadata["framework"] != "react" || res.Metadata["frontend_version"] != frontendVersion {
				t.Errorf("metadata = %v", res.Metadata)
			}
			if !strings.Contains(p.last().Messages[0].Content, tt.promptHas) {
				t.Errorf("prompt missing %q:\n%s", tt.promptHas, p.last().Messages[0].Content)
			}
		})
	}
}

func TestFrontend_ComponentMetadata(t *testing.T) {
	a := NewFrontend(config.AgentConfig{ComponentLibrary: "styled-components"}, WithProvider(&fakeProvider{}))
	if err := a.Initialize(context.Background(), nil, nil); err != nil {
		t.Fatal(err)
	}
	spec := newSpec(TypeFrontend, "component_development")
	spec.Metadata["framework"] = "vue"
	spec.Metadata["component_spec"] = map[string]any{"name": "DatePicker"}

	res, err := a.Execute(context.Background(), spec, nil)
	if err != nil {
		t.Fatal(err)
	}
	cm := res.Metadata["component_metadata"].(map[string]any)
	if cm["component_name"] != "DatePicker" || cm["styling"] != "css" || cm["framework"] != "vue" {
		t.Errorf("component metadata = %v", cm)
	}
	deps := cm["dependencies"].([]string)
	if !slices.Equal(deps, []string{"vue", "vue-router", "styled-components"}) {
		t.Errorf("dependencies = %v", deps)
	}
}

func TestFrontend_DependenciesDoNotAlias(t *testing.T) {
	f := &frontend{componentLibrary: "styled-components"}
	_ = f.dependencies("react")
	if got := frameworkDependencies["react"]; len(got) != 2 {
		t.Fatalf("framework table mutated: %v", got)
	}
	if got := f.dependencies("unknown"); !slices.Equal(got, []string{"styled-components"}) {
		t.Errorf("unknown framework deps = %v", got)
	}
}

func TestBackend_Routing(t *testing.T) {
	tests := []struct {
		taskType   string
		confidence float64
		method     string
	}{
		{"api_development", 0.87, "api"},
		{"endpoint_design", 0.87, "api"},
		{"api_integration", 0.87, "api"},
		{"database_design", 0.85, "database"},
		{"schema_migration", 0.85, "database"},
		{"query_optimization", 0.85, "database"},
		{"authentication", 0.90, "security"},
		{"authorization", 0.90, "security"},
		{"security_audit", 0.90, "security"},
		{"microservices_design", 0.83, "microservices"},
		{"service_integration", 0.83, "microservices"},
		{"api_gateway", 0.83, "microservices"},
		{"caching_strategy", 0.80, "general"},
	}
	for _, tt := range tests {
		t.Run(tt.taskType, func(t *testing.T) {
			a := onlineAgent(t, NewBackend, &fakeProvider{}, nil)
			res, err := a.Execute(context.Background(), newSpec(TypeBackend, tt.taskType), nil)
			if err != nil {
				t.Fatal(err)
			}
			if res.ConfidenceScore != tt.confidence || res.Metadata["development_method"] != tt.method {
				t.Errorf("result = %v %v", res.ConfidenceScore, res.Metadata["development_method"])
			}
			if res.Metadata["framework"] != "fastapi" || res.Metadata["database"] != "postgresql" {
				t.Errorf("defaults = %v %v", res.Metadata["framework"], res.Metadata["database"])
			}
		})
	}
}

func TestBackend_SpecOverrides(t *testing.T) {
	p := &fakeProvider{}
	a := onlineAgent(t, NewBackend, p, nil)
	spec := newSpec(TypeBackend, "authentication")
	spec.Metadata["framework"] = "gin"
	spec.Metadata["security_spec"] = map[string]any{"authorization": "abac"}

	res, err := a.Execute(context.Background(), spec, nil)
	if err != nil {
		t.Fatal(err)
	}
	sm := res.Metadata["security_metadata"].(map[string]any)
	if sm["authorization_model"] != "abac" || sm["authentication_method"] != "jwt" {
		t.Errorf("security metadata = %v", sm)
	}
	if !strings.Contains(p.last().Messages[0].Content, "using gin") {
		t.Errorf("prompt does not name the framework")
	}
}
