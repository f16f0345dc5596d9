package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/keelframe/keel/internal/config"
	"github.com/keelframe/keel/internal/debug"
	"github.com/keelframe/keel/internal/service"
	"github.com/keelframe/keel/internal/version"
)

// Server is the MCP surface over the infrastructure facade. Analysis
// tools live elsewhere; this server exposes the pieces every one of them
// leans on: fetching stored full results, workspace observability and
// lifecycle control.
type Server struct {
	cfg    *config.Config
	svc    *service.Service
	server *mcp.Server
}

// NewServer wires an MCP server over a service facade.
func NewServer(cfg *config.Config, svc *service.Service) *Server {
	s := &Server{
		cfg: cfg,
		svc: svc,
		server: mcp.NewServer(&mcp.Implementation{
			Name:    "keel",
			Version: version.Version,
		}, nil),
	}
	s.registerTools()
	return s
}

// Run serves MCP over stdio until ctx is cancelled. Debug output to
// stdio is suppressed for the duration.
func (s *Server) Run(ctx context.Context) error {
	debug.SetMCPMode(true)
	if err := s.svc.Start(); err != nil {
		return err
	}
	defer s.svc.Stop()

	return s.server.Run(ctx, &mcp.StdioTransport{})
}

func (s *Server) registerTools() {
	s.server.AddTool(&mcp.Tool{
		Name:        "fetch_resource",
		Description: "Fetch the full, untruncated result set stored when a previous response was reduced to fit the token budget. Pass the resource_uri from that response.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"uri": {
					Type:        "string",
					Description: "Opaque resource URI (keel://resource/...) from a reduced response",
				},
			},
			Required: []string{"uri"},
		},
	}, s.handleFetchResource)

	s.server.AddTool(&mcp.Tool{
		Name:        "workspace_status",
		Description: "List live project handles with load time, generation, open documents and in-flight operations, plus resource store statistics.",
		InputSchema: &jsonschema.Schema{
			Type:       "object",
			Properties: map[string]*jsonschema.Schema{},
		},
	}, s.handleWorkspaceStatus)

	s.server.AddTool(&mcp.Tool{
		Name:        "invalidate_project",
		Description: "Force full reconstruction of a project model after out-of-band changes the watcher missed. Discards all cached document state.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"root": {
					Type:        "string",
					Description: "Absolute path to the project root or solution descriptor",
				},
			},
			Required: []string{"root"},
		},
	}, s.handleInvalidateProject)

	s.server.AddTool(&mcp.Tool{
		Name:        "close_project",
		Description: "Tear down a project model and release its resources. Idempotent.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"root": {
					Type:        "string",
					Description: "Absolute path to the project root or solution descriptor",
				},
			},
			Required: []string{"root"},
		},
	}, s.handleCloseProject)
}

// FetchResourceParams are the arguments for fetch_resource.
type FetchResourceParams struct {
	URI string `json:"uri"`
}

func (s *Server) handleFetchResource(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var params FetchResourceParams
	if err := json.Unmarshal(req.Params.Arguments, &params); err != nil {
		return createErrorResponse("fetch_resource", fmt.Errorf("invalid parameters: %w", err))
	}
	if params.URI == "" {
		return createErrorResponse("fetch_resource", fmt.Errorf("uri is required"))
	}

	payload, err := s.svc.FetchResource(params.URI)
	if err != nil {
		return createErrorResponse("fetch_resource", err)
	}

	return createJSONResponse(map[string]any{
		"uri":     params.URI,
		"payload": payload,
	})
}

type rootParams struct {
	Root string `json:"root"`
}

func (s *Server) handleWorkspaceStatus(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return createJSONResponse(map[string]any{
		"projects":  s.svc.ListProjects(),
		"resources": s.svc.ResourceStats(),
	})
}

func (s *Server) handleInvalidateProject(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var params rootParams
	if err := json.Unmarshal(req.Params.Arguments, &params); err != nil {
		return createErrorResponse("invalidate_project", fmt.Errorf("invalid parameters: %w", err))
	}
	if params.Root == "" {
		return createErrorResponse("invalidate_project", fmt.Errorf("root is required"))
	}

	reloaded, err := s.svc.InvalidateProject(ctx, params.Root)
	if err != nil {
		return createErrorResponse("invalidate_project", err)
	}

	return createJSONResponse(map[string]any{
		"root":     params.Root,
		"reloaded": reloaded,
	})
}

func (s *Server) handleCloseProject(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var params rootParams
	if err := json.Unmarshal(req.Params.Arguments, &params); err != nil {
		return createErrorResponse("close_project", fmt.Errorf("invalid parameters: %w", err))
	}
	if params.Root == "" {
		return createErrorResponse("close_project", fmt.Errorf("root is required"))
	}

	return createJSONResponse(map[string]any{
		"root":   params.Root,
		"closed": s.svc.CloseProject(params.Root),
	})
}
