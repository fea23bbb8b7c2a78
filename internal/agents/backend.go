package agents

import (
	"context"

	"github.com/HendryAvila/devteam/internal/config"
	"github.com/HendryAvila/devteam/internal/sdkerr"
	"github.com/HendryAvila/devteam/internal/task"
)

// TypeBackend is the backend coder agent type.
const TypeBackend = "backend"

const backendVersion = "1.0.0"

type backend struct {
	framework string
	database  string
}

// NewBackend creates a backend coder. The framework defaults to fastapi
// and the database to postgresql.
func NewBackend(cfg config.AgentConfig, opts ...Option) *Agent {
	b := &backend{framework: cfg.Framework, database: cfg.Database}
	if b.framework == "" {
		b.framework = "fastapi"
	}
	if b.database == "" {
		b.database = "postgresql"
	}
	return newAgent(TypeBackend, cfg, b, opts...)
}

func (b *backend) capabilities() []Capability {
	return []Capability{
		{
			Name:        "api_development",
			Description: "RESTful API design and implementation",
			TaskTypes:   []string{"api_development", "endpoint_design", "api_integration"},
		},
		{
			Name:        "database_design",
			Description: "Database schema design and optimization",
			TaskTypes:   []string{"database_design", "schema_migration", "query_optimization"},
		},
		{
			Name:        "security_implementation",
			Description: "Authentication, authorization, and data protection",
			TaskTypes:   []string{"authentication", "authorization", "security_audit"},
		},
		{
			Name:        "microservices",
			Description: "Microservices architecture and integration",
			TaskTypes:   []string{"microservices_design", "service_integration", "api_gateway"},
		},
	}
}

func (b *backend) taskTypes() []string {
	return []string{
		"data_validation", "error_handling", "logging_monitoring",
		"caching_strategy", "performance_optimization",
		"development", "implementation", "coding",
	}
}

func (b *backend) defaultPrompt() string { return backendSystemPrompt }

func (b *backend) execute(ctx context.Context, a *Agent, spec task.Spec, actx *task.Context) (*task.Result, error) {
	apiSpec := metadataMap(spec, "api_spec")
	dbSpec := metadataMap(spec, "database_spec")
	secSpec := metadataMap(spec, "security_spec")
	framework := spec.MetadataString("framework")
	if framework == "" {
		framework = b.framework
	}
	database := spec.MetadataString("database")
	if database == "" {
		database = b.database
	}
	start := timeNow()

	var (
		prompt     string
		confidence float64
		meta       map[string]any
	)
	switch spec.TaskType {
	case "api_development", "endpoint_design", "api_integration":
		prompt, confidence = apiPrompt(spec.Task, framework, apiSpec), 0.87
		meta = map[string]any{
			"development_method": "api",
			"task_type":          "api_development",
			"api_metadata": map[string]any{
				"framework":      framework,
				"endpoints":      valueOr(apiSpec, "endpoints", []any{}),
				"authentication": stringOr(apiSpec, "authentication", "jwt"),
				"validation":     valueOr(apiSpec, "validation", true),
				"documentation":  "openapi_3_0",
			},
		}
	case "database_design", "schema_migration", "query_optimization":
		prompt, confidence = databasePrompt(spec.Task, database, dbSpec), 0.85
		meta = map[string]any{
			"development_method": "database",
			"task_type":          "database_development",
			"database_metadata": map[string]any{
				"database_type": database,
				"tables":        valueOr(dbSpec, "tables", []any{}),
				"relationships": valueOr(dbSpec, "relationships", []any{}),
				"indexes":       valueOr(dbSpec, "indexes", []any{}),
				"migrations":    true,
			},
		}
	case "authentication", "authorization", "security_audit":
		prompt, confidence = securityImplPrompt(spec.Task, framework, secSpec), 0.90
		meta = map[string]any{
			"development_method": "security",
			"task_type":          "security_implementation",
			"security_metadata": map[string]any{
				"authentication_method": stringOr(secSpec, "authentication", "jwt"),
				"authorization_model":   stringOr(secSpec, "authorization", "rbac"),
				"encryption":            stringOr(secSpec, "encryption", "aes256"),
				"compliance":            valueOr(secSpec, "compliance", []string{"gdpr", "ccpa"}),
			},
		}
	case "microservices_design", "service_integration", "api_gateway":
		prompt, confidence = microservicesPrompt(spec.Task, framework, apiSpec), 0.83
		meta = map[string]any{
			"development_method": "microservices",
			"task_type":          "microservices_development",
			"microservices_metadata": map[string]any{
				"architecture_pattern": stringOr(apiSpec, "pattern", "api_gateway"),
				"services":             valueOr(apiSpec, "services", []any{}),
				"communication":        stringOr(apiSpec, "communication", "rest_api"),
				"discovery":            stringOr(apiSpec, "discovery", "service_registry"),
			},
		}
	default:
		prompt, confidence = generalBackendPrompt(spec.Task, framework), 0.80
		meta = map[string]any{
			"development_method": "general",
			"task_type":          "general_backend",
		}
	}

	content, err := a.callLLM(ctx, actx, prompt)
	if err != nil {
		return nil, sdkerr.Wrap(sdkerr.KindTaskExecution, err, "backend development task failed")
	}
	meta["framework"] = framework
	meta["database"] = database
	meta["complexity_level"] = spec.Complexity
	meta["development_duration"] = timeNow().Sub(start).Seconds()
	meta["backend_version"] = backendVersion
	return a.result(spec, content, confidence, nil, meta), nil
}
