package mcp

import (
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	keelerrors "github.com/keelframe/keel/internal/errors"
)

// createJSONResponse creates a standardized JSON response for MCP tools
func createJSONResponse(data any) (*mcp.CallToolResult, error) {
	content, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response data: %v", err)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(content)},
		},
	}, nil
}

// createErrorResponse creates a standardized error response for MCP tools.
// Errors are reported inside the result with IsError set, not as
// protocol-level failures, so the consumer can see what went wrong and
// self-correct.
func createErrorResponse(operation string, err error) (*mcp.CallToolResult, error) {
	errorData := map[string]any{
		"success":   false,
		"error":     err.Error(),
		"operation": operation,
	}

	if hint := errorHint(err); hint != "" {
		errorData["hint"] = hint
	}

	response, marshalErr := createJSONResponse(errorData)
	if marshalErr != nil {
		return nil, marshalErr
	}
	response.IsError = true

	return response, nil
}

// errorHint maps the error taxonomy to a recovery suggestion the
// consumer can act on.
func errorHint(err error) string {
	switch {
	case keelerrors.IsResourceExpired(err):
		return "The stored result expired. Re-run the original operation instead of retrying the fetch."
	case keelerrors.IsResourceUnknown(err):
		return "No resource exists under this URI. Use the resource_uri from a reduced response."
	case keelerrors.IsProjectNotLoaded(err):
		return "Acquire the project first, or pass force_refresh to load it."
	case keelerrors.IsHandleClosed(err):
		return "The project handle was closed. Acquire the project again."
	case keelerrors.IsStaleHandle(err):
		return "The project model reloaded mid-operation and the automatic retry failed. Re-run the operation."
	}
	return ""
}
