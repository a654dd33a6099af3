package mcpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hylla/convivencia/internal/adapters/server/common"
	"github.com/hylla/convivencia/internal/app"
	"github.com/hylla/convivencia/internal/domain"
	"github.com/hylla/convivencia/internal/process"
)

// stubCaseService provides deterministic case responses for MCP tool tests.
type stubCaseService struct {
	list         common.CaseList
	board        app.CaseBoard
	recorded     domain.FollowUp
	err          error
	lastInclude  bool
	lastCaseID   string
	lastFollowUp common.RecordFollowUpRequest
}

func (s *stubCaseService) ListCases(_ context.Context, includeClosed bool) (common.CaseList, error) {
	s.lastInclude = includeClosed
	if s.err != nil {
		return common.CaseList{}, s.err
	}
	return s.list, nil
}

func (s *stubCaseService) GetCase(_ context.Context, caseID string) (domain.Case, error) {
	s.lastCaseID = caseID
	return domain.Case{ID: caseID}, s.err
}

func (s *stubCaseService) CreateCase(context.Context, common.CreateCaseRequest) (domain.Case, error) {
	return domain.Case{}, s.err
}

func (s *stubCaseService) CaseBoard(_ context.Context, caseID string) (app.CaseBoard, error) {
	s.lastCaseID = caseID
	if s.err != nil {
		return app.CaseBoard{}, s.err
	}
	return s.board, nil
}

func (s *stubCaseService) ListFollowUps(context.Context, string) ([]domain.FollowUp, error) {
	return nil, s.err
}

func (s *stubCaseService) RecordFollowUp(_ context.Context, req common.RecordFollowUpRequest) (domain.FollowUp, error) {
	s.lastFollowUp = req
	if s.err != nil {
		return domain.FollowUp{}, s.err
	}
	return s.recorded, nil
}

func (s *stubCaseService) AdvanceStage(context.Context, common.AdvanceStageRequest) (domain.Case, error) {
	return domain.Case{}, s.err
}

func (s *stubCaseService) CloseCase(context.Context, string) (domain.Case, error) {
	return domain.Case{}, s.err
}

// jsonRPCResponse models minimal JSON-RPC response fields used in MCP adapter tests.
type jsonRPCResponse struct {
	ID     float64        `json:"id"`
	Result map[string]any `json:"result"`
}

// callToolRequest constructs one deterministic tools/call JSON-RPC request payload.
func callToolRequest(id int, toolName string, arguments map[string]any) map[string]any {
	return map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  "tools/call",
		"params": map[string]any{
			"name":      toolName,
			"arguments": arguments,
		},
	}
}

// toolResultText decodes the first text entry from one tool-call result payload.
func toolResultText(t *testing.T, result map[string]any) string {
	t.Helper()

	contentRaw, ok := result["content"].([]any)
	if !ok || len(contentRaw) == 0 {
		t.Fatalf("content missing in tool result: %#v", result)
	}
	first, ok := contentRaw[0].(map[string]any)
	if !ok {
		t.Fatalf("first content entry has unexpected type: %#v", contentRaw[0])
	}
	text, ok := first["text"].(string)
	if !ok {
		t.Fatalf("content text missing in tool result: %#v", first)
	}
	return text
}

// toolResultStructured decodes structuredContent as one map for stable assertions.
func toolResultStructured(t *testing.T, result map[string]any) map[string]any {
	t.Helper()
	structured, ok := result["structuredContent"].(map[string]any)
	if !ok {
		t.Fatalf("structuredContent missing in tool result: %#v", result)
	}
	return structured
}

// postJSONRPC sends one JSON-RPC payload and decodes the response body.
func postJSONRPC(t *testing.T, client *http.Client, url string, payload any) (*http.Response, jsonRPCResponse) {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	var decoded jsonRPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if err := resp.Body.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	return resp, decoded
}

// initializeRequest builds a deterministic MCP initialize request payload.
func initializeRequest() map[string]any {
	return map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "initialize",
		"params": map[string]any{
			"protocolVersion": mcp.LATEST_PROTOCOL_VERSION,
			"clientInfo": map[string]any{
				"name":    "convivencia-test",
				"version": "1.0.0",
			},
		},
	}
}

// newTestServer starts one MCP handler over the stub service.
func newTestServer(t *testing.T, cases *stubCaseService) *httptest.Server {
	t.Helper()
	handler, err := NewHandler(Config{}, cases)
	if err != nil {
		t.Fatalf("NewHandler() error = %v", err)
	}
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	_, _ = postJSONRPC(t, server.Client(), server.URL, initializeRequest())
	return server
}

// TestNewHandlerRequiresService verifies nil services are rejected.
func TestNewHandlerRequiresService(t *testing.T) {
	if _, err := NewHandler(Config{}, nil); err == nil {
		t.Fatal("expected error for nil case service")
	}
}

// TestHandlerUsesStatelessTransport verifies MCP transport does not issue session ids.
func TestHandlerUsesStatelessTransport(t *testing.T) {
	handler, err := NewHandler(Config{}, &stubCaseService{})
	if err != nil {
		t.Fatalf("NewHandler() error = %v", err)
	}

	server := httptest.NewServer(handler)
	defer server.Close()

	resp, decoded := postJSONRPC(t, server.Client(), server.URL, initializeRequest())
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if decoded.ID != 1 {
		t.Fatalf("id = %v, want 1", decoded.ID)
	}
	if got := resp.Header.Get("Mcp-Session-Id"); got != "" {
		t.Fatalf("Mcp-Session-Id header = %q, want empty (stateless transport)", got)
	}
}

// TestHandlerRegistersCaseTools verifies MCP tool discovery lists every case tool.
func TestHandlerRegistersCaseTools(t *testing.T) {
	server := newTestServer(t, &stubCaseService{})
	_, toolsResp := postJSONRPC(t, server.Client(), server.URL, map[string]any{
		"jsonrpc": "2.0",
		"id":      2,
		"method":  "tools/list",
	})

	toolsRaw, ok := toolsResp.Result["tools"].([]any)
	if !ok {
		t.Fatalf("tools list payload missing tools: %#v", toolsResp.Result)
	}
	toolNames := make([]string, 0, len(toolsRaw))
	for _, toolRaw := range toolsRaw {
		toolMap, ok := toolRaw.(map[string]any)
		if !ok {
			continue
		}
		name, _ := toolMap["name"].(string)
		toolNames = append(toolNames, name)
	}
	for _, required := range []string{ToolListCases, ToolCaseBoard, ToolRecordFollowUp} {
		if !slices.Contains(toolNames, required) {
			t.Fatalf("tool list missing %s: %#v", required, toolNames)
		}
	}
}

// TestHandlerListCasesTool verifies list_cases passes include_closed and returns structured content.
func TestHandlerListCasesTool(t *testing.T) {
	cases := &stubCaseService{
		list: common.CaseList{
			Cases:  []app.CaseOverview{{Case: domain.Case{ID: "c1", Folio: "2026-0001"}}},
			Stages: []string{"1. Denuncia"},
		},
	}
	server := newTestServer(t, cases)

	_, callResp := postJSONRPC(t, server.Client(), server.URL, callToolRequest(3, ToolListCases, map[string]any{
		"include_closed": true,
	}))
	structured := toolResultStructured(t, callResp.Result)
	rows, ok := structured["cases"].([]any)
	if !ok || len(rows) != 1 {
		t.Fatalf("unexpected cases payload %#v", structured)
	}
	if !cases.lastInclude {
		t.Fatal("expected include_closed to reach the service")
	}
}

// TestHandlerCaseBoardTool verifies case_board argument handling and payload.
func TestHandlerCaseBoardTool(t *testing.T) {
	cases := &stubCaseService{
		board: app.CaseBoard{
			Case: domain.Case{ID: "c1"},
			Progress: []process.ProgressEntry{
				{Stage: "1. Denuncia", Label: "Denuncia", Index: 1, State: process.StateCurrent},
			},
		},
	}
	server := newTestServer(t, cases)

	_, callResp := postJSONRPC(t, server.Client(), server.URL, callToolRequest(4, ToolCaseBoard, map[string]any{
		"case_id": "c1",
	}))
	structured := toolResultStructured(t, callResp.Result)
	progress, ok := structured["progress"].([]any)
	if !ok || len(progress) != 1 {
		t.Fatalf("unexpected progress payload %#v", structured)
	}
	if cases.lastCaseID != "c1" {
		t.Fatalf("case_id = %q, want c1", cases.lastCaseID)
	}

	_, missingArgResp := postJSONRPC(t, server.Client(), server.URL, callToolRequest(5, ToolCaseBoard, map[string]any{}))
	if isError, _ := missingArgResp.Result["isError"].(bool); !isError {
		t.Fatalf("isError = %v, want true", missingArgResp.Result["isError"])
	}
	if got := toolResultText(t, missingArgResp.Result); !strings.Contains(got, `required argument "case_id" not found`) {
		t.Fatalf("unexpected missing-arg message %q", got)
	}
}

// TestHandlerRecordFollowUpTool verifies Spanish argument names map onto the request.
func TestHandlerRecordFollowUpTool(t *testing.T) {
	cases := &stubCaseService{recorded: domain.FollowUp{ID: "f1", CaseID: "c1", Stage: "1. Denuncia"}}
	server := newTestServer(t, cases)

	_, callResp := postJSONRPC(t, server.Client(), server.URL, callToolRequest(6, ToolRecordFollowUp, map[string]any{
		"case_id":              "c1",
		"etapa_debido_proceso": "1. Denuncia",
		"fecha":                "2026-03-01",
		"detalle":              "Entrevista",
		"responsable":          "Inspectoría",
	}))
	if isError, _ := callResp.Result["isError"].(bool); isError {
		t.Fatalf("unexpected tool error %q", toolResultText(t, callResp.Result))
	}
	if got := cases.lastFollowUp; got.CaseID != "c1" || got.Stage != "1. Denuncia" || got.Date != "2026-03-01" || got.Responsible != "Inspectoría" {
		t.Fatalf("unexpected follow-up request %#v", got)
	}
}

// TestHandlerToolErrorMapping verifies service errors become prefixed tool errors.
func TestHandlerToolErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		prefix string
	}{
		{err: errors.Join(common.ErrNotFound, errors.New("case")), prefix: "not_found:"},
		{err: errors.Join(common.ErrConflict, domain.ErrCaseClosed), prefix: "case_closed:"},
		{err: errors.Join(common.ErrInvalidRequest, domain.ErrInvalidDate), prefix: "invalid_request:"},
		{err: errors.New("boom"), prefix: "internal_error:"},
	}
	for i, tc := range cases {
		server := newTestServer(t, &stubCaseService{err: tc.err})
		_, callResp := postJSONRPC(t, server.Client(), server.URL, callToolRequest(10+i, ToolRecordFollowUp, map[string]any{
			"case_id": "c1",
		}))
		if isError, _ := callResp.Result["isError"].(bool); !isError {
			t.Fatalf("isError = %v, want true", callResp.Result["isError"])
		}
		if got := toolResultText(t, callResp.Result); !strings.HasPrefix(got, tc.prefix) {
			t.Fatalf("tool error = %q, want prefix %q", got, tc.prefix)
		}
	}
}
