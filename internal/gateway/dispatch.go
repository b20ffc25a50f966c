// Package gateway serves the JSON-RPC tool endpoint. Each inbound call
// walks a fixed pipeline: parse, authenticate, resolve, authorize the
// connection, invoke with a bounded timeout, audit, respond. The
// dispatcher holds no per-call state of its own; everything mutable
// lives in the store.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"mcphub/internal/audit"
	"mcphub/internal/connection"
	"mcphub/internal/hub"
	"mcphub/internal/provider"
	"mcphub/pkg/logging"
)

// JSON-RPC 2.0 protocol error codes.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603

	// codeApplicationError carries a hub error; the kind discriminator
	// rides in the error data.
	codeApplicationError = -32000
)

// Dispatcher executes JSON-RPC calls against the provider catalog.
type Dispatcher struct {
	providers   *provider.Registry
	connections *connection.Registry
	audit       *audit.Logger
	limiter     *RateLimiter

	serverName    string
	serverVersion string
	invokeTimeout time.Duration
}

// NewDispatcher wires the dispatcher pipeline.
func NewDispatcher(providers *provider.Registry, connections *connection.Registry, auditLog *audit.Logger, limiter *RateLimiter, serverName, serverVersion string, invokeTimeout time.Duration) *Dispatcher {
	if invokeTimeout <= 0 {
		invokeTimeout = 60 * time.Second
	}
	return &Dispatcher{
		providers:     providers,
		connections:   connections,
		audit:         auditLog,
		limiter:       limiter,
		serverName:    serverName,
		serverVersion: serverVersion,
		invokeTimeout: invokeTimeout,
	}
}

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type rpcError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type rpcErrorData struct {
	Kind hub.ErrorKind `json:"kind"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

func protocolError(id json.RawMessage, code int, message string) *rpcResponse {
	return &rpcResponse{JSONRPC: "2.0", ID: normalizeID(id), Error: &rpcError{Code: code, Message: message}}
}

// applicationError maps a hub error to the -32000 application code with
// its kind discriminator. Only the public message crosses the wire.
func applicationError(id json.RawMessage, err error) *rpcResponse {
	return &rpcResponse{JSONRPC: "2.0", ID: normalizeID(id), Error: &rpcError{
		Code:    codeApplicationError,
		Message: hub.PublicMessage(err),
		Data:    rpcErrorData{Kind: hub.KindOf(err)},
	}}
}

func result(id json.RawMessage, value interface{}) *rpcResponse {
	return &rpcResponse{JSONRPC: "2.0", ID: normalizeID(id), Result: value}
}

func normalizeID(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return json.RawMessage("null")
	}
	return id
}

type initializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    serverCapabilities `json:"capabilities"`
	ServerInfo      serverInfo         `json:"serverInfo"`
}

type serverCapabilities struct {
	Tools struct{} `json:"tools"`
}

type serverInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type callParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type listToolsResult struct {
	Tools []mcp.Tool `json:"tools"`
}

// IntegrationStatus is one row of hub.integrations.list.
type IntegrationStatus struct {
	Name        string       `json:"name"`
	DisplayName string       `json:"display_name"`
	Description string       `json:"description"`
	AuthType    hub.AuthType `json:"auth_type"`
	Connected   bool         `json:"connected"`
	Enabled     bool         `json:"enabled"`
}

// Handle executes one JSON-RPC envelope for an authenticated identity.
// providerFilter narrows the visible catalog to one provider; an empty
// filter exposes everything. A nil response means the envelope was a
// notification and gets no reply.
func (d *Dispatcher) Handle(ctx context.Context, identity *hub.Identity, providerFilter string, body []byte) *rpcResponse {
	var req rpcRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return protocolError(nil, codeParseError, "parse error")
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		return protocolError(req.ID, codeInvalidRequest, "invalid request")
	}

	if d.limiter != nil && !d.limiter.Allow(callerKey(identity)) {
		return applicationError(req.ID, hub.NewRateLimitError("too many requests, slow down"))
	}

	switch req.Method {
	case "initialize":
		return result(req.ID, initializeResult{
			ProtocolVersion: "2025-03-26",
			ServerInfo:      serverInfo{Name: d.serverName, Version: d.serverVersion},
		})
	case "notifications/initialized", "notifications/cancelled":
		return nil
	case "ping":
		return result(req.ID, struct{}{})
	case "tools/list":
		return result(req.ID, listToolsResult{Tools: d.visibleTools(providerFilter)})
	case "tools/call", "hub.tools.call":
		return d.dispatchCall(ctx, identity, providerFilter, req)
	case "hub.tools.list":
		return d.hubToolsList(req, providerFilter)
	case "hub.integrations.list":
		return d.hubIntegrationsList(ctx, identity, req)
	default:
		return protocolError(req.ID, codeMethodNotFound, fmt.Sprintf("method %q not found", req.Method))
	}
}

func callerKey(identity *hub.Identity) string {
	if identity.IsClient() {
		return "client:" + identity.ClientID
	}
	return "user:" + identity.UserID
}

func (d *Dispatcher) visibleTools(providerFilter string) []mcp.Tool {
	var tools []mcp.Tool
	for _, p := range d.providers.List() {
		if providerFilter != "" && p.Name() != providerFilter {
			continue
		}
		tools = append(tools, p.Tools()...)
	}
	if tools == nil {
		tools = []mcp.Tool{}
	}
	return tools
}

func (d *Dispatcher) hubToolsList(req rpcRequest, providerFilter string) *rpcResponse {
	var params struct {
		Provider string `json:"provider"`
	}
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return protocolError(req.ID, codeInvalidParams, "invalid params")
		}
	}
	filter := providerFilter
	if params.Provider != "" {
		if filter != "" && params.Provider != filter {
			return result(req.ID, listToolsResult{Tools: []mcp.Tool{}})
		}
		filter = params.Provider
	}
	return result(req.ID, listToolsResult{Tools: d.visibleTools(filter)})
}

func (d *Dispatcher) hubIntegrationsList(ctx context.Context, identity *hub.Identity, req rpcRequest) *rpcResponse {
	connected := map[string]bool{}
	enabled := map[string]bool{}
	if !identity.IsClient() {
		conns, err := d.connections.List(ctx, identity.UserID)
		if err != nil {
			logging.Error("Gateway", err, "Failed to list connections for user %s", identity.UserID)
			return applicationError(req.ID, hub.NewInternalError(err))
		}
		for _, c := range conns {
			connected[c.Provider] = true
			enabled[c.Provider] = c.IsEnabled
		}
	}

	statuses := []IntegrationStatus{}
	for _, p := range d.providers.List() {
		status := IntegrationStatus{
			Name:        p.Name(),
			DisplayName: p.DisplayName(),
			Description: p.Description(),
			AuthType:    p.AuthType(),
			Connected:   connected[p.Name()],
			Enabled:     enabled[p.Name()],
		}
		if p.AuthType() == hub.AuthTypeInternal && !identity.IsClient() {
			status.Connected = true
			status.Enabled = true
		}
		statuses = append(statuses, status)
	}
	return result(req.ID, map[string]interface{}{"integrations": statuses})
}

// dispatchCall runs the resolve, authorize, invoke, audit stages.
func (d *Dispatcher) dispatchCall(ctx context.Context, identity *hub.Identity, providerFilter string, req rpcRequest) *rpcResponse {
	var params callParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
		return protocolError(req.ID, codeInvalidParams, "invalid params: name is required")
	}
	if params.Arguments == nil {
		params.Arguments = map[string]any{}
	}

	payload, err := d.invoke(ctx, identity, providerFilter, params)
	if err != nil {
		return applicationError(req.ID, err)
	}
	return result(req.ID, mcp.NewToolResultText(payload))
}

func (d *Dispatcher) invoke(ctx context.Context, identity *hub.Identity, providerFilter string, params callParams) (string, error) {
	// Resolve before touching any connection so unknown tools never
	// trigger outbound calls.
	prov, tool, err := d.providers.ResolveTool(params.Name)
	if err != nil {
		d.recordAudit(identity, "", params, "", err)
		return "", err
	}
	if providerFilter != "" && prov.Name() != providerFilter {
		err := hub.NewValidationError(fmt.Sprintf("unknown tool %q", params.Name))
		d.recordAudit(identity, prov.Name(), params, "", err)
		return "", err
	}
	if err := provider.ValidateArguments(tool, params.Arguments); err != nil {
		d.recordAudit(identity, prov.Name(), params, "", err)
		return "", err
	}
	if identity.IsClient() {
		// Machine clients have no connections to act through.
		err := hub.NewAuthorizationError("client credentials cannot invoke user tools")
		d.recordAudit(identity, prov.Name(), params, "", err)
		return "", err
	}

	cred, err := d.connections.EnsureValid(ctx, identity.UserID, prov.Name())
	if err != nil {
		d.recordAudit(identity, prov.Name(), params, "", err)
		return "", err
	}

	invokeCtx, cancel := context.WithTimeout(ctx, d.invokeTimeout)
	defer cancel()
	payload, err := prov.Execute(invokeCtx, params.Name, params.Arguments, cred)
	if err != nil {
		if invokeCtx.Err() == context.DeadlineExceeded {
			err = hub.NewProviderError(prov.Name(), 0, invokeCtx.Err())
		}
		d.recordAudit(identity, prov.Name(), params, "", err)
		return "", err
	}

	d.recordAudit(identity, prov.Name(), params, payload, nil)
	return payload, nil
}

// recordAudit writes one row per attempt, success or failure. Redaction
// happens inside the audit logger; failures there never surface here.
func (d *Dispatcher) recordAudit(identity *hub.Identity, providerName string, params callParams, payload string, callErr error) {
	if d.audit == nil {
		return
	}
	reqJSON, err := json.Marshal(params.Arguments)
	if err != nil {
		reqJSON = []byte("{}")
	}
	entry := &hub.AuditEntry{
		UserID:      identity.UserID,
		Provider:    providerName,
		Action:      "tool.invoked",
		ToolName:    params.Name,
		RequestJSON: string(reqJSON),
		Status:      "success",
	}
	if identity.IsClient() {
		entry.UserID = identity.ClientID
	}
	if callErr != nil {
		entry.Status = "error"
		entry.ErrorText = hub.PublicMessage(callErr)
	} else if payload != "" {
		entry.ResponseJSON = payload
	}
	d.audit.Record(entry)
}
