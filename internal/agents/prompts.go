package agents

import (
	"fmt"
	"strings"
)

// numbered renders items as a 1-based list.
func numbered(items ...string) string {
	var b strings.Builder
	for i, it := range items {
		fmt.Fprintf(&b, "%d. %s\n", i+1, it)
	}
	return b.String()
}

func bullets(items ...string) string {
	var b strings.Builder
	for _, it := range items {
		fmt.Fprintf(&b, "- %s\n", it)
	}
	return b.String()
}

// ─── Research ───────────────────────────────────────────────────────────────

func competitiveSynthesisPrompt(query string, data map[string]any) string {
	return fmt.Sprintf(`Based on the following research data, provide a comprehensive competitive analysis for the query: %q

Research Data:
%s

Synthesize this information into:
%s
Keep the response well structured and data-driven with specific, actionable insights.
`, query, indentJSON(data), numbered(
		"Key findings and insights",
		"Actionable recommendations",
		"Important trends and patterns",
		"Risk factors and considerations",
		"Next steps for further investigation",
	))
}

func technologySynthesisPrompt(query string, data map[string]any) string {
	return fmt.Sprintf(`Analyze the following technology research data for the query: %q

Research Data:
%s

Provide a technology analysis including:
%s
Focus on technical accuracy and practical recommendations.
`, query, indentJSON(data), numbered(
		"Technology landscape overview",
		"Key players and solutions",
		"Technical trends and innovations",
		"Implementation considerations",
		"Competitive advantages and disadvantages",
		"Recommendations for adoption or further investigation",
	))
}

func knowledgeSynthesisPrompt(query string, data []map[string]any) string {
	if data == nil {
		data = []map[string]any{}
	}
	combined := map[string]any{"query": query, "research_results": data}
	return fmt.Sprintf(`Synthesize the following research sources into a single analysis of: %q

Research Data:
%s

The analysis should:
%s
Attribute claims to sources where possible.
`, query, indentJSON(combined), numbered(
		"Integrate findings from all sources",
		"Identify consensus and conflicting information",
		"Highlight key themes and patterns",
		"Provide a cohesive narrative",
		"Offer evidence-based conclusions",
		"Suggest areas for further research",
	))
}

func generalResearchPrompt(query string) string {
	return fmt.Sprintf(`Research the following topic: %q

Provide:
%s
Keep the information accurate and well structured, with attribution where available.
`, query, numbered(
		"Overview and background information",
		"Key findings and current state",
		"Important trends and developments",
		"Challenges and opportunities",
		"Relevant data and statistics",
		"Sources and references",
	))
}

const researchSystemPrompt = `You are a research agent focused on research and knowledge synthesis.

## Core Capabilities
- Market research and competitive intelligence
- Multi-source information gathering and verification
- Knowledge synthesis and trend analysis
- Source attribution and confidence scoring

## Quality Standards
- Attribute sources and state your confidence in each finding
- Highlight assumptions and limitations
- Keep recommendations evidence-based
`

// ─── Codebase analysis ──────────────────────────────────────────────────────

func serenaSynthesisPrompt(focus, analysisType, repo string, data map[string]any, asks []string) string {
	return fmt.Sprintf(`Based on the following %s analysis data from Serena, provide a %s for repository: %s

%s Analysis Data:
%s

Include:
%s
Every recommendation must be specific and implementable.
`, focus, analysisType, repo, strings.ToUpper(focus[:1])+focus[1:], indentJSON(data), numbered(asks...))
}

var (
	securityAsks = []string{
		"Executive summary of security posture",
		"Critical and high-severity vulnerabilities",
		"Medium and low-priority security issues",
		"Remediation actions prioritized by risk",
		"Security best practices to adopt",
		"Compliance considerations",
		"Security monitoring recommendations",
	}
	performanceAsks = []string{
		"Performance bottlenecks and hotspots",
		"Resource usage patterns and inefficiencies",
		"Algorithmic complexity issues",
		"Database and I/O optimization opportunities",
		"Memory usage optimization",
		"Concurrency considerations",
		"Scalability recommendations",
	}
	architectureAsks = []string{
		"System architecture overview and patterns",
		"Design pattern identification and assessment",
		"Module coupling and cohesion",
		"Layer separation and responsibility boundaries",
		"Extensibility and maintainability",
		"Architectural debt and technical risks",
		"Refactoring recommendations",
	}
)

func fallbackAnalysisPrompt(focus, repo string, scan *RepoScan, asks []string) string {
	return fmt.Sprintf(`Perform a %s assessment for the repository: %s

Repository scan:
%s

Static analysis tooling is unavailable. Based on the scan, provide:
%s`, focus, repo, indentJSON(scan), numbered(asks...))
}

func codeQualityPrompt(repo, analysisType string, scan *RepoScan) string {
	return fmt.Sprintf(`Perform a %s for the repository at: %s

Repository scan:
%s

Analyze and provide:
%s`, analysisType, repo, indentJSON(scan), numbered(
		"Overall code quality assessment",
		"Maintainability and readability",
		"Code complexity",
		"Duplication and redundancy",
		"Testing coverage and quality",
		"Documentation adequacy",
		"Best practices adherence",
		"Specific improvement recommendations",
	))
}

const analyzerSystemPrompt = `You are a codebase analyzer.

## Role
Analyze repositories for security, performance, architecture and quality.

## Core Capabilities
- Security vulnerability assessment
- Performance analysis and bottleneck identification
- Architecture review and pattern recognition
- Dependency mapping and impact analysis

## Quality Standards
- Rank findings by severity
- Back findings with concrete code references
`

// ─── Frontend ───────────────────────────────────────────────────────────────

func componentPrompt(taskText, framework string, componentSpec map[string]any) string {
	return fmt.Sprintf(`Create a production-ready %s component for the following requirements:

Task Description: %s

Component Specification:
%s

Provide:
%s
Requirements:
%s`, framework, taskText, indentJSON(componentSpec), numbered(
		"Complete component code",
		"Prop types or TypeScript interfaces",
		"Styling implementation",
		"Usage documentation",
		"Accessibility (ARIA labels, keyboard navigation)",
		"State management where needed",
		"Error handling and edge cases",
		"Unit tests",
		"Responsive behaviour",
	), bullets(
		"Follow current "+framework+" conventions",
		"Meet WCAG 2.1 AA",
		"Keep the component reusable",
	))
}

func responsivePrompt(taskText string, design map[string]any) string {
	return fmt.Sprintf(`Implement a responsive, mobile-first design for:

Task Description: %s

Design Requirements:
%s

Provide:
%s`, taskText, indentJSON(design), numbered(
		"Layout using flexbox and grid",
		"Breakpoints at 320px, 768px, 1024px and 1200px",
		"Media queries and fluid typography",
		"Touch-friendly interaction targets",
		"Image and asset optimization",
		"Cross-browser compatibility notes",
		"Visual regression test approach",
	))
}

func uxPrompt(taskText string, design map[string]any) string {
	return fmt.Sprintf(`Optimize the user experience and accessibility for:

Task Description: %s

Design Requirements:
%s

Provide:
%s`, taskText, indentJSON(design), numbered(
		"Usability improvements with rationale",
		"WCAG 2.1 AA compliance fixes",
		"Keyboard and screen reader support",
		"Visual hierarchy and navigation changes",
		"Form and interaction improvements",
		"Perceived performance improvements",
		"How to measure the improvements",
	))
}

func featurePrompt(taskType, taskText string, componentSpec map[string]any) string {
	var asks []string
	switch taskType {
	case "form_validation":
		asks = []string{
			"Form component with field-level validation",
			"Validation rules and error messages",
			"Async validation where needed",
			"Accessible error announcements",
			"Submission handling and loading states",
			"Tests for validation rules",
		}
	case "data_visualization":
		asks = []string{
			"Chart component implementation",
			"Data transformation layer",
			"Interactive features (tooltips, zoom, filtering)",
			"Accessible data tables as alternatives",
			"Responsive chart sizing",
			"Performance with large datasets",
		}
	default:
		asks = []string{
			"Feature implementation",
			"State management",
			"Error handling",
			"Tests",
		}
	}
	return fmt.Sprintf(`Implement the following %s feature:

Task Description: %s

Component Specification:
%s

Provide:
%s`, strings.ReplaceAll(taskType, "_", " "), taskText, indentJSON(componentSpec), numbered(asks...))
}

func generalFrontendPrompt(taskText, framework string) string {
	return fmt.Sprintf(`Complete the following frontend development task using %s:

%s

Provide:
%s`, framework, taskText, numbered(
		"Implementation plan",
		"Complete code",
		"Styling and responsive behaviour",
		"Accessibility considerations",
		"Tests",
	))
}

const frontendSystemPrompt = `You are a frontend development agent.

## Role
Build accessible, responsive user interfaces.

## Core Capabilities
- Component development with modern frameworks
- Responsive, mobile-first layouts
- Accessibility and UX optimization
- Design systems and component libraries
`

// ─── Backend ────────────────────────────────────────────────────────────────

func apiPrompt(taskText, framework string, apiSpec map[string]any) string {
	return fmt.Sprintf(`Develop a RESTful API using %s for the following requirements:

Task Description: %s

API Specification:
%s

Provide:
%s`, framework, taskText, indentJSON(apiSpec), numbered(
		"Routing and handlers",
		"Request and response models with validation",
		"Error handling and status codes",
		"Authentication and authorization middleware",
		"OpenAPI documentation",
		"Rate limiting",
		"Logging and monitoring",
		"Unit and integration tests",
		"Deployment configuration",
	))
}

func databasePrompt(taskText, database string, dbSpec map[string]any) string {
	return fmt.Sprintf(`Design and implement the %s database work for:

Task Description: %s

Database Specification:
%s

Provide:
%s`, database, taskText, indentJSON(dbSpec), numbered(
		"Schema with tables, keys and constraints",
		"Indexes for the expected query patterns",
		"Migration scripts with rollback",
		"Query implementations",
		"Connection pooling and transaction handling",
		"Backup and recovery considerations",
		"Tests against a real database",
	))
}

func securityImplPrompt(taskText, framework string, secSpec map[string]any) string {
	return fmt.Sprintf(`Implement the following security feature using %s:

Task Description: %s

Security Specification:
%s

Provide:
%s`, framework, taskText, indentJSON(secSpec), numbered(
		"Authentication flow",
		"Authorization model and enforcement",
		"Password and secret handling",
		"Session or token management",
		"Input validation and injection defenses",
		"Audit logging",
		"Security tests",
	))
}

func microservicesPrompt(taskText, framework string, apiSpec map[string]any) string {
	return fmt.Sprintf(`Design the microservices work using %s for:

Task Description: %s

Service Specification:
%s

Provide:
%s`, framework, taskText, indentJSON(apiSpec), numbered(
		"Service boundaries and responsibilities",
		"Inter-service communication",
		"API gateway configuration",
		"Service discovery and configuration",
		"Failure handling (timeouts, retries, circuit breaking)",
		"Distributed tracing and logging",
		"Deployment and scaling",
	))
}

func generalBackendPrompt(taskText, framework string) string {
	return fmt.Sprintf(`Complete the following backend development task using %s:

%s

Provide:
%s`, framework, taskText, numbered(
		"Implementation plan",
		"Complete code",
		"Error handling and logging",
		"Tests",
		"Operational considerations",
	))
}

const backendSystemPrompt = `You are a backend development agent.

## Role
Build secure, scalable server-side systems.

## Core Capabilities
- API design and implementation
- Database design and optimization
- Authentication, authorization and data protection
- Microservices architecture and integration
`
