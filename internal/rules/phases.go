package rules

import (
	"slices"
	"strings"
	"time"

	"github.com/HendryAvila/devteam/internal/config"
	"github.com/HendryAvila/devteam/internal/sdkerr"
)

// Phase is one step of the development process.
type Phase string

const (
	PhaseInitialization      Phase = "initialization"
	PhaseResearch            Phase = "research"
	PhasePlanning            Phase = "planning"
	PhaseContextPreparation  Phase = "context_preparation"
	PhaseValidation          Phase = "validation"
	PhaseImplementation      Phase = "implementation"
	PhaseVerification        Phase = "verification"
	PhaseTesting             Phase = "testing"
	PhaseUserValueValidation Phase = "user_value_validation"
	PhaseDocumentation       Phase = "documentation"
	PhasePreparation         Phase = "preparation"
)

// PhaseOrder is the only sequence in which phases may be entered.
var PhaseOrder = []Phase{
	PhaseInitialization,
	PhaseResearch,
	PhasePlanning,
	PhaseContextPreparation,
	PhaseValidation,
	PhaseImplementation,
	PhaseVerification,
	PhaseTesting,
	PhaseUserValueValidation,
	PhaseDocumentation,
	PhasePreparation,
}

// ParsePhase resolves a phase name case-insensitively.
func ParsePhase(s string) (Phase, error) {
	p := Phase(strings.ToLower(strings.TrimSpace(s)))
	if phaseIndex(p) < 0 {
		return "", sdkerr.Validation("unknown phase %q", s)
	}
	return p, nil
}

// NextPhase returns the phase after p, or false at the end of the order.
func NextPhase(p Phase) (Phase, bool) {
	idx := phaseIndex(p)
	if idx < 0 || idx >= len(PhaseOrder)-1 {
		return "", false
	}
	return PhaseOrder[idx+1], true
}

func phaseIndex(p Phase) int {
	return slices.Index(PhaseOrder, p)
}

// PhaseConfig defines what a phase allows and what finishes it.
type PhaseConfig struct {
	Name               string        `json:"name"`
	AllowedTasks       []string      `json:"allowed_tasks"`
	CompletionCriteria []string      `json:"completion_criteria"`
	MaxComplexity      int           `json:"max_complexity"`
	Timeout            time.Duration `json:"timeout"`
}

// Allows reports whether category may run during the phase.
func (pc PhaseConfig) Allows(category string) bool {
	return slices.Contains(pc.AllowedTasks, category)
}

// HasCriterion reports whether name is one of the completion criteria.
func (pc PhaseConfig) HasCriterion(name string) bool {
	return slices.Contains(pc.CompletionCriteria, name)
}

func phase(name string, allowed, criteria []string, maxComplexity, timeoutSeconds int) PhaseConfig {
	return PhaseConfig{
		Name:               name,
		AllowedTasks:       allowed,
		CompletionCriteria: criteria,
		MaxComplexity:      maxComplexity,
		Timeout:            time.Duration(timeoutSeconds) * time.Second,
	}
}

// DefaultPhaseConfigs returns the built-in phase table.
func DefaultPhaseConfigs() map[Phase]PhaseConfig {
	return map[Phase]PhaseConfig{
		PhaseInitialization: phase("Initialization",
			[]string{"system_setup", "configuration", "validation"},
			[]string{"team_leader_operational", "subsystems_initialized"}, 3, 300),
		PhaseResearch: phase("Research Collection & Synthesis",
			[]string{"research", "analysis", "knowledge_synthesis"},
			[]string{"research_completed", "findings_synthesized"}, 8, 1800),
		PhasePlanning: phase("Plan",
			[]string{"architecture", "design", "planning"},
			[]string{"implementation_plan_created", "architecture_approved"}, 7, 1200),
		PhaseContextPreparation: phase("Context Preparation",
			[]string{"context_assembly", "validation", "documentation"},
			[]string{"context_prepared", "validation_passed"}, 5, 600),
		PhaseValidation: phase("Validate",
			[]string{"validation", "risk_assessment", "scope_check"},
			[]string{"mock_risk_assessed", "scope_validated"}, 6, 900),
		PhaseImplementation: phase("Implement",
			[]string{"development", "coding", "implementation"},
			[]string{"functional_implementation", "no_mocks"}, 10, 3600),
		PhaseVerification: phase("Verify",
			[]string{"verification", "testing", "quality_check"},
			[]string{"independent_verification", "features_match_plan"}, 8, 1800),
		PhaseTesting: phase("Test",
			[]string{"testing", "qa", "integration_testing"},
			[]string{"comprehensive_testing", "no_mocks_detected"}, 9, 2400),
		PhaseUserValueValidation: phase("User Value Validation",
			[]string{"validation", "user_testing", "compliance_check"},
			[]string{"value_delivered", "technical_compliance"}, 7, 1200),
		PhaseDocumentation: phase("Document",
			[]string{"documentation", "guides", "api_docs"},
			[]string{"documentation_created", "approved_features_only"}, 5, 900),
		PhasePreparation: phase("Prepare",
			[]string{"preparation", "setup", "configuration"},
			[]string{"next_part_ready", "cleanup_completed"}, 3, 300),
	}
}

// loadPhaseConfigs applies overrides on top of the defaults. An override
// replaces the whole phase; omitted fields take the override defaults
// (name = phase key, max complexity 5, timeout 600s).
func loadPhaseConfigs(overrides map[string]config.PhaseOverride) (map[Phase]PhaseConfig, error) {
	configs := DefaultPhaseConfigs()
	for key, o := range overrides {
		p, err := ParsePhase(key)
		if err != nil {
			return nil, sdkerr.Configuration("invalid phase name: %s", key)
		}
		name := o.Name
		if name == "" {
			name = key
		}
		maxComplexity := o.MaxComplexity
		if maxComplexity == 0 {
			maxComplexity = 5
		}
		timeout := o.TimeoutSeconds
		if timeout == 0 {
			timeout = 600
		}
		configs[p] = phase(name, slices.Clone(o.AllowedTasks), slices.Clone(o.CompletionCriteria), maxComplexity, timeout)
	}
	return configs, nil
}
