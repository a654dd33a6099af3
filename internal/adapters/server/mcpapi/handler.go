// Package mcpapi provides a stateless MCP streamable-HTTP adapter.
package mcpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/hylla/convivencia/internal/adapters/server/common"
)

// Tool names exposed by the adapter.
const (
	ToolListCases      = "convivencia.list_cases"
	ToolCaseBoard      = "convivencia.case_board"
	ToolRecordFollowUp = "convivencia.record_followup"
)

// Config captures MCP transport configuration.
type Config struct {
	ServerName    string
	ServerVersion string
	EndpointPath  string
}

// Handler wraps one stateless MCP streamable HTTP handler.
type Handler struct {
	httpHandler http.Handler
}

// NewHandler builds one stateless MCP adapter exposing case tools.
func NewHandler(cfg Config, cases common.CaseService) (*Handler, error) {
	if cases == nil {
		return nil, fmt.Errorf("case service is required")
	}
	cfg = normalizeConfig(cfg)

	mcpSrv := mcpserver.NewMCPServer(
		cfg.ServerName,
		cfg.ServerVersion,
		mcpserver.WithToolCapabilities(false),
	)
	registerCaseTools(mcpSrv, cases)

	streamable := mcpserver.NewStreamableHTTPServer(
		mcpSrv,
		mcpserver.WithEndpointPath(cfg.EndpointPath),
		mcpserver.WithStateLess(true),
	)
	return &Handler{httpHandler: streamable}, nil
}

// ServeHTTP handles one MCP streamable HTTP request.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.httpHandler == nil {
		http.Error(w, "mcp handler unavailable", http.StatusServiceUnavailable)
		return
	}
	h.httpHandler.ServeHTTP(w, r)
}

// normalizeConfig applies deterministic defaults to MCP adapter config.
func normalizeConfig(cfg Config) Config {
	cfg.ServerName = strings.TrimSpace(cfg.ServerName)
	if cfg.ServerName == "" {
		cfg.ServerName = "convivencia"
	}
	cfg.ServerVersion = strings.TrimSpace(cfg.ServerVersion)
	if cfg.ServerVersion == "" {
		cfg.ServerVersion = "dev"
	}
	cfg.EndpointPath = strings.TrimSpace(cfg.EndpointPath)
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = "/mcp"
	}
	if !strings.HasPrefix(cfg.EndpointPath, "/") {
		cfg.EndpointPath = "/" + cfg.EndpointPath
	}
	cfg.EndpointPath = "/" + strings.Trim(cfg.EndpointPath, "/")
	return cfg
}

// registerCaseTools registers the list, board and follow-up tools.
func registerCaseTools(srv *mcpserver.MCPServer, cases common.CaseService) {
	srv.AddTool(
		mcp.NewTool(
			ToolListCases,
			mcp.WithDescription("List conduct cases with their current-stage deadline alert, most urgent first."),
			mcp.WithBoolean("include_closed", mcp.Description("Include closed cases")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			list, err := cases.ListCases(ctx, req.GetBool("include_closed", false))
			if err != nil {
				return toolResultFromError(err), nil
			}
			result, err := mcp.NewToolResultJSON(list)
			if err != nil {
				return nil, fmt.Errorf("encode list_cases result: %w", err)
			}
			return result, nil
		},
	)

	srv.AddTool(
		mcp.NewTool(
			ToolCaseBoard,
			mcp.WithDescription("Return the due-process board of one case: follow-ups grouped by stage, progress and deadline."),
			mcp.WithString("case_id", mcp.Required(), mcp.Description("Case identifier")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			caseID, err := req.RequireString("case_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			board, err := cases.CaseBoard(ctx, caseID)
			if err != nil {
				return toolResultFromError(err), nil
			}
			result, err := mcp.NewToolResultJSON(board)
			if err != nil {
				return nil, fmt.Errorf("encode case_board result: %w", err)
			}
			return result, nil
		},
	)

	srv.AddTool(
		mcp.NewTool(
			ToolRecordFollowUp,
			mcp.WithDescription("Record one follow-up action on an open case."),
			mcp.WithString("case_id", mcp.Required(), mcp.Description("Case identifier")),
			mcp.WithString("etapa_debido_proceso", mcp.Description("Due-process stage; empty files the action under 'Sin etapa'")),
			mcp.WithString("fecha", mcp.Description("Action date, YYYY-MM-DD")),
			mcp.WithString("detalle", mcp.Description("Detail")),
			mcp.WithString("descripcion", mcp.Description("Description")),
			mcp.WithString("acciones", mcp.Description("Actions taken")),
			mcp.WithString("observaciones", mcp.Description("Observations")),
			mcp.WithString("responsable", mcp.Description("Responsible staff member")),
			mcp.WithString("estado_etapa", mcp.Description("Stage status note")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			caseID, err := req.RequireString("case_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			row, err := cases.RecordFollowUp(ctx, common.RecordFollowUpRequest{
				CaseID:       caseID,
				Stage:        req.GetString("etapa_debido_proceso", ""),
				Date:         req.GetString("fecha", ""),
				Detail:       req.GetString("detalle", ""),
				Description:  req.GetString("descripcion", ""),
				Actions:      req.GetString("acciones", ""),
				Observations: req.GetString("observaciones", ""),
				Responsible:  req.GetString("responsable", ""),
				StageStatus:  req.GetString("estado_etapa", ""),
			})
			if err != nil {
				return toolResultFromError(err), nil
			}
			result, err := mcp.NewToolResultJSON(row)
			if err != nil {
				return nil, fmt.Errorf("encode record_followup result: %w", err)
			}
			return result, nil
		},
	)
}

// toolResultFromError maps service errors into MCP-visible tool errors.
func toolResultFromError(err error) *mcp.CallToolResult {
	switch {
	case err == nil:
		return mcp.NewToolResultError("unknown error")
	case errors.Is(err, common.ErrInvalidRequest):
		return mcp.NewToolResultError("invalid_request: " + err.Error())
	case errors.Is(err, common.ErrNotFound):
		return mcp.NewToolResultError("not_found: " + err.Error())
	case errors.Is(err, common.ErrConflict):
		return mcp.NewToolResultError("case_closed: " + err.Error())
	case errors.Is(err, common.ErrUnavailable):
		return mcp.NewToolResultError("service_unavailable: " + err.Error())
	default:
		return mcp.NewToolResultError("internal_error: " + err.Error())
	}
}
