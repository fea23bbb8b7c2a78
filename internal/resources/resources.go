// Package resources implements MCP resource handlers for the development
// team.
//
// Resources provide read-only data the host can consume for context. They
// use URI-based addressing (devteam://...) following MCP conventions.
package resources

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/devteam/internal/agents"
	"github.com/HendryAvila/devteam/internal/rules"
	"github.com/HendryAvila/devteam/internal/teamleader"
)

// Resource URIs.
const (
	StatusURI = "devteam://team/status"
	PhaseURI  = "devteam://team/phase"
	AgentsURI = "devteam://team/agents"
)

// Source supplies the data behind the resources.
type Source interface {
	Status() teamleader.Status
	PhaseStatus() rules.PhaseStatus
	AvailableAgents() []agents.Snapshot
}

// Handler manages the team resource endpoints.
type Handler struct {
	source Source
}

// NewHandler creates a resource Handler.
func NewHandler(source Source) *Handler {
	return &Handler{source: source}
}

// StatusResource returns the MCP resource definition for team status.
func (h *Handler) StatusResource() mcp.Resource {
	return mcp.NewResource(StatusURI, "Team Status",
		mcp.WithResourceDescription("Team leader health, phase, budget and task metrics"),
		mcp.WithMIMEType("application/json"),
	)
}

// PhaseResource returns the MCP resource definition for the phase status.
func (h *Handler) PhaseResource() mcp.Resource {
	return mcp.NewResource(PhaseURI, "Development Phase",
		mcp.WithResourceDescription("Current phase, pending criteria, budget use and transition history"),
		mcp.WithMIMEType("application/json"),
	)
}

// AgentsResource returns the MCP resource definition for the agent list.
func (h *Handler) AgentsResource() mcp.Resource {
	return mcp.NewResource(AgentsURI, "Agents",
		mcp.WithResourceDescription("Every agent with its status, load and capabilities"),
		mcp.WithMIMEType("application/json"),
	)
}

// HandleStatus returns the team status as JSON.
func (h *Handler) HandleStatus(_ context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return jsonContents(req.Params.URI, h.source.Status())
}

// HandlePhase returns the phase status as JSON.
func (h *Handler) HandlePhase(_ context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return jsonContents(req.Params.URI, h.source.PhaseStatus())
}

// HandleAgents returns the agent snapshots as JSON.
func (h *Handler) HandleAgents(_ context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return jsonContents(req.Params.URI, h.source.AvailableAgents())
}

func jsonContents(uri string, v any) ([]mcp.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling %s: %w", uri, err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
