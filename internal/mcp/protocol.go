package mcp

import (
	"encoding/json"
	"fmt"
)

const (
	jsonrpcVersion  = "2.0"
	protocolVersion = "2024-11-05"

	methodInitialize = "initialize"
	methodToolsCall  = "tools/call"
	methodToolsList  = "tools/list"

	clientName    = "accountfetch"
	clientVersion = "1.0.0"
)

// request is one newline-delimited JSON-RPC 2.0 request line.
type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// response is one newline-delimited JSON-RPC 2.0 response line.
type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// serverError carries a server-returned error object out of the wire layer
// so callers can convert it to the right typed failure.
type serverError struct {
	code    int
	message string
}

func (e *serverError) Error() string { return e.message }

type callParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type initializeParams struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    clientCapabilities `json:"capabilities"`
	ClientInfo      implementation     `json:"clientInfo"`
}

type clientCapabilities struct {
	Roots *rootsCapability `json:"roots,omitempty"`
}

type rootsCapability struct {
	ListChanged bool `json:"listChanged"`
}

type implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type initializeResult struct {
	ServerInfo implementation `json:"serverInfo"`
}

// Tool describes one tool advertised by a server via tools/list.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

type listToolsResult struct {
	Tools []Tool `json:"tools"`
}

type toolContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type toolResult struct {
	Content []toolContent `json:"content"`
}

// TextContent extracts the stringified JSON payload embedded in a
// tools/call result. Tool payloads arrive as content blocks of type "text"
// whose text field holds the actual JSON document.
func TextContent(raw json.RawMessage) (string, error) {
	var result toolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", fmt.Errorf("failed to decode tool result: %w", err)
	}
	for _, content := range result.Content {
		if content.Type == "text" {
			return content.Text, nil
		}
	}
	return "", nil
}
