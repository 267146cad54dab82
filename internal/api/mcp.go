package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/promoai/internal/engine"
	"github.com/kalambet/promoai/internal/modelgen"
	"github.com/kalambet/promoai/internal/repair"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Service *modelgen.Service
	Budget  repair.Budget
	// RecentLimit bounds the sessions listed by promoai://sessions/recent.
	RecentLimit int
}

// NewMCPServer creates an MCP server with all promoai tools and resources registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"promoai",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("promoai turns process descriptions into validated process trees using a local or cloud LLM."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("generate_process_model",
			mcp.WithDescription("Generate a process tree from a natural-language process description. The model is retried until the tree validates."),
			mcp.WithString("description", mcp.Description("The process description"), mcp.Required()),
			mcp.WithString("provider", mcp.Description("Ollama or Together (default from configuration)")),
			mcp.WithString("model", mcp.Description("Model name for the provider")),
			mcp.WithNumber("max_iterations", mcp.Description("Primary attempt budget")),
			mcp.WithNumber("additional_iterations", mcp.Description("Additional tolerant attempts")),
		),
		mcpGenerate(deps),
	)

	s.AddTool(
		mcp.NewTool("refine_process_model",
			mcp.WithDescription("Apply feedback to an existing process model session."),
			mcp.WithString("session_id", mcp.Description("Session to refine"), mcp.Required()),
			mcp.WithString("feedback", mcp.Description("What should change in the model"), mcp.Required()),
			mcp.WithString("provider", mcp.Description("Ollama or Together (default: the session's provider)")),
			mcp.WithString("model", mcp.Description("Model name for the provider")),
		),
		mcpRefine(deps),
	)

	s.AddTool(
		mcp.NewTool("get_process_model",
			mcp.WithDescription("Return a stored process model session as JSON."),
			mcp.WithString("session_id", mcp.Description("Session ID"), mcp.Required()),
		),
		mcpGet(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"promoai://sessions/recent",
			"Recent Sessions",
			mcp.WithResourceDescription("Most recently updated process model sessions"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecent(deps),
	)

	return s
}

func mcpOptions(req mcp.CallToolRequest) ModelOptions {
	opts := ModelOptions{
		Provider: req.GetString("provider", ""),
		Model:    req.GetString("model", ""),
	}
	args := req.GetArguments()
	if _, ok := args["max_iterations"]; ok {
		n := req.GetInt("max_iterations", 0)
		opts.MaxIterations = &n
	}
	if _, ok := args["additional_iterations"]; ok {
		n := req.GetInt("additional_iterations", 0)
		opts.AdditionalIterations = &n
	}
	return opts
}

func mcpGenerate(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		description, err := req.RequireString("description")
		if err != nil {
			return mcpError("description is required"), nil
		}

		set, err := mcpOptions(req).Settings(deps.Budget)
		if err != nil {
			return mcpError(err.Error()), nil
		}

		sess, err := deps.Service.Generate(ctx, description, set)
		if err != nil {
			return mcpRunError(sess, err), nil
		}
		return mcpSession(sess)
	}
}

func mcpRefine(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("session_id")
		if err != nil {
			return mcpError("session_id is required"), nil
		}
		feedback, err := req.RequireString("feedback")
		if err != nil {
			return mcpError("feedback is required"), nil
		}

		set, err := mcpOptions(req).Settings(deps.Budget)
		if err != nil {
			return mcpError(err.Error()), nil
		}

		sess, err := deps.Service.Refine(ctx, id, feedback, set)
		if err != nil {
			return mcpRunError(sess, err), nil
		}
		return mcpSession(sess)
	}
}

func mcpGet(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("session_id")
		if err != nil {
			return mcpError("session_id is required"), nil
		}
		sess, err := deps.Service.Get(id)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to get session: %v", err)), nil
		}
		return mcpSession(sess)
	}
}

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		limit := deps.RecentLimit
		if limit <= 0 {
			limit = 10
		}
		sessions, err := deps.Service.List(limit)
		if err != nil {
			return nil, fmt.Errorf("failed to list sessions: %w", err)
		}

		type sessionSummary struct {
			ID        string `json:"id"`
			UpdatedAt string `json:"updated_at"`
			Title     string `json:"title"`
			Status    string `json:"status"`
			Provider  string `json:"provider,omitempty"`
			Model     string `json:"model,omitempty"`
		}

		summaries := make([]sessionSummary, len(sessions))
		for i, sess := range sessions {
			summaries[i] = sessionSummary{
				ID:        sess.ID,
				UpdatedAt: sess.UpdatedAt.Format(time.RFC3339),
				Title:     sess.Title,
				Status:    sess.Status,
				Provider:  sess.Provider,
				Model:     sess.ModelName,
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal sessions: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpSession(sess *modelgen.Session) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(sess)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal session: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

// mcpRunError reports a failed generation or refinement. The session ID is
// appended when the run was stored.
func mcpRunError(sess *modelgen.Session, err error) *mcp.CallToolResult {
	msg := err.Error()
	var transportErr *engine.TransportError
	if errors.As(err, &transportErr) {
		msg = "model provider unavailable: " + msg
	}
	if sess != nil {
		msg += fmt.Sprintf("\n\nsession: %s", sess.ID)
	}
	return mcpError(msg)
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
