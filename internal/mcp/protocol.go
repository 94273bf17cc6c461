package mcp

import "encoding/json"

const (
	jsonrpcVersion  = "2.0"
	protocolVersion = "2024-11-05"
	toolName        = "ssh"
)

// JSON-RPC and tool error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeSSHSpawn       = -32001
	CodeSSHTimeout     = -32002
	CodeSSHValidation  = -32003
	CodeSSHDirectory   = -32004
)

type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// isNotification reports whether the request carried no id member.
func (r *request) isNotification() bool {
	return r.ID == nil
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *rpcError) Error() string {
	return e.Message
}

var nullID = json.RawMessage("null")

type initializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ServerInfo      serverInfo     `json:"serverInfo"`
}

type serverInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

type toolsListResult struct {
	Tools []tool `json:"tools"`
}

type callParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type callResult struct {
	Content           []content `json:"content"`
	StructuredContent any       `json:"structuredContent,omitempty"`
	IsError           bool      `json:"isError"`
}

var sshTool = tool{
	Name:        toolName,
	Description: "Execute a non-interactive SSH command and return stdout/stderr/exit_code.",
	InputSchema: map[string]any{
		"type":     "object",
		"required": []string{"host", "command"},
		"properties": map[string]any{
			"host":    map[string]any{"type": "string", "description": "SSH host or alias"},
			"command": map[string]any{"type": "string", "description": "Non-interactive command to run"},
			"user":    map[string]any{"type": "string"},
			"port":    map[string]any{"type": "integer", "minimum": 1, "maximum": 65535},
			"ssh_dir": map[string]any{"type": "string", "description": "Path to an ssh directory (optional)"},
			"timeout": map[string]any{"type": "integer", "description": "Seconds; 0 or omitted uses the server default"},
			"strict_host_key_checking": map[string]any{
				"type": "string",
				"enum": []string{"yes", "no", "accept-new"},
			},
			"proxy_jump":   map[string]any{"type": "string", "description": "ProxyJump/-J host"},
			"allocate_tty": map[string]any{"type": "boolean"},
			"extra_opts": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Additional ssh(1) flags from the server's allow-list, one per item",
			},
		},
		"additionalProperties": false,
	},
}
