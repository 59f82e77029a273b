package server

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/stellarlinkco/kbyg/internal/mcpserver"
	"github.com/stellarlinkco/kbyg/internal/tools"
	"github.com/stellarlinkco/kbyg/internal/upstream"
)

const maxBodyBytes = 4 << 20

var errEmptyBody = errors.New("empty body")

// JSON-RPC 2.0 error codes.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeInvalidParams  = -32602
)

func writeJSON(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(data)
}

func readJSON(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return errEmptyBody
	}
	return json.Unmarshal(body, v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"server":  mcpserver.ServerName,
		"version": s.opts.Version,
		"tools":   s.opts.Dispatcher.Registry().Len(),
	})
}

// callRequest accepts "params" as an alias of "arguments" for older
// clients.
type callRequest struct {
	Tool      string          `json:"tool"`
	Arguments json.RawMessage `json:"arguments"`
	Params    json.RawMessage `json:"params"`
}

func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	var req callRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, tools.Response{Error: "invalid request body: " + err.Error()})
		return
	}
	if strings.TrimSpace(req.Tool) == "" {
		writeJSON(w, http.StatusBadRequest, tools.Response{Error: "Tool name is required"})
		return
	}
	raw := req.Arguments
	if len(raw) == 0 {
		raw = req.Params
	}
	args, err := tools.ParseArgs(raw)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, tools.Response{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, s.opts.Dispatcher.Call(r.Context(), req.Tool, args))
}

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

func rpcReply(w http.ResponseWriter, id json.RawMessage, result any) {
	if len(id) == 0 {
		id = json.RawMessage("null")
	}
	writeJSON(w, http.StatusOK, rpcResponse{JSONRPC: "2.0", ID: id, Result: result})
}

func rpcFail(w http.ResponseWriter, id json.RawMessage, code int, msg string) {
	if len(id) == 0 {
		id = json.RawMessage("null")
	}
	writeJSON(w, http.StatusOK, rpcResponse{JSONRPC: "2.0", ID: id, Error: &rpcError{Code: code, Message: msg}})
}

type toolInfo struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

func (s *Server) handleToolsList(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := readJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		rpcFail(w, nil, codeParseError, "Parse error: "+err.Error())
		return
	}
	list := s.opts.Dispatcher.Registry().List()
	out := make([]toolInfo, 0, len(list))
	for _, t := range list {
		out = append(out, toolInfo{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
	}
	rpcReply(w, req.ID, map[string]any{"tools": out})
}

type toolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type textContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func (s *Server) handleToolsCall(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := readJSON(r, &req); err != nil {
		rpcFail(w, nil, codeParseError, "Parse error: "+err.Error())
		return
	}
	if req.Method != "" && req.Method != "tools/call" {
		rpcFail(w, req.ID, codeInvalidRequest, "Invalid request: unexpected method "+req.Method)
		return
	}
	var params toolCallParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			rpcFail(w, req.ID, codeInvalidParams, "Invalid params: "+err.Error())
			return
		}
	}
	if strings.TrimSpace(params.Name) == "" {
		rpcFail(w, req.ID, codeInvalidParams, "Invalid params: missing tool name")
		return
	}
	args, err := tools.ParseArgs(params.Arguments)
	if err != nil {
		rpcFail(w, req.ID, codeInvalidParams, "Invalid params: "+err.Error())
		return
	}

	text, isError := mcpserver.Text(s.opts.Dispatcher.Call(r.Context(), params.Name, args))
	rpcReply(w, req.ID, map[string]any{
		"content": []textContent{{Type: "text", Text: text}},
		"isError": isError,
	})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req upstream.Request
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "prompt is required"})
		return
	}
	resp, err := s.opts.Generator.Generate(r.Context(), req)
	if err != nil {
		log.Printf("[server] generate failed: %v", err)
		writeJSON(w, generateStatus(err), map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func generateStatus(err error) int {
	switch tools.Classify(err) {
	case tools.KindNotConfigured:
		return http.StatusServiceUnavailable
	case tools.KindUpstreamStatus, tools.KindConnectivity, tools.KindDecode:
		return http.StatusBadGateway
	case tools.KindCanceled:
		return http.StatusGatewayTimeout
	case tools.KindInvalidArguments:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
