package jsonrpc

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ProtocolVersion is the supported JSON-RPC protocol version.
const ProtocolVersion = "2.0"

// Message is the raw JSON representation of a JSON-RPC message.
type Message []byte

// AnyMessage is a generic JSON-RPC message (request, notification, or response).
type AnyMessage struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Method         string          `json:"method,omitempty"`
	Params         json.RawMessage `json:"params,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          *Error          `json:"error,omitempty"`
	ID             *RequestID      `json:"id,omitempty"`
}

// Request represents a JSON-RPC request (with an ID) or notification (without ID).
type Request struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Method         string          `json:"method"`
	Params         json.RawMessage `json:"params,omitempty"`
	ID             *RequestID      `json:"id,omitempty"`
}

// Response represents a JSON-RPC response. The id is always serialized and is
// null when the request id could not be recovered.
type Response struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          *Error          `json:"error,omitempty"`
	ID             *RequestID      `json:"id"`
}

// NewRequest builds a request with marshaled params.
func NewRequest(id *RequestID, method string, params any) (*Request, error) {
	var raw json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal params: %w", err)
		}
		raw = b
	}
	return &Request{JSONRPCVersion: ProtocolVersion, Method: method, Params: raw, ID: id}, nil
}

// NewResultResponse builds a successful JSON-RPC response object.
func NewResultResponse(id *RequestID, result any) (*Response, error) {
	resultBytes, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}

	return NewRawResultResponse(id, resultBytes), nil
}

// NewRawResultResponse builds a successful response from an already encoded result.
func NewRawResultResponse(id *RequestID, result json.RawMessage) *Response {
	if len(result) == 0 {
		result = json.RawMessage("null")
	}
	return &Response{
		JSONRPCVersion: ProtocolVersion,
		Result:         result,
		ID:             id,
	}
}

// NewErrorResponse builds an error JSON-RPC response with the given code.
func NewErrorResponse(id *RequestID, code ErrorCode, message string, data any) *Response {
	return &Response{
		JSONRPCVersion: ProtocolVersion,
		Error: &Error{
			Code:    code,
			Message: message,
			Data:    data,
		},
		ID: id,
	}
}

var (
	errNoResultOrError   = errors.New("response message must have either result or error field")
	errResultAndError    = errors.New("response message cannot have both result and error fields")
	errRequestWithResult = errors.New("request message cannot have result or error fields")
)

// UnmarshalJSON implements custom JSON unmarshaling for AnyMessage
// It enforces JSON-RPC 2.0 semantics and validates message structure
func (m *AnyMessage) UnmarshalJSON(data []byte) error {
	type rawMessage struct {
		JSONRPCVersion string          `json:"jsonrpc"`
		Method         string          `json:"method,omitempty"`
		Params         json.RawMessage `json:"params,omitempty"`
		Result         json.RawMessage `json:"result,omitempty"`
		Error          *Error          `json:"error,omitempty"`
		ID             *RequestID      `json:"id,omitempty"`
	}

	var raw rawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	if raw.JSONRPCVersion != ProtocolVersion {
		return fmt.Errorf("invalid JSON-RPC version: expected %q, got %q", ProtocolVersion, raw.JSONRPCVersion)
	}

	hasMethod := raw.Method != ""
	hasResult := len(raw.Result) > 0
	hasError := raw.Error != nil

	if hasMethod {
		if hasResult || hasError {
			return errRequestWithResult
		}
	} else {
		if hasResult && hasError {
			return errResultAndError
		}
		if !hasResult && !hasError {
			return errNoResultOrError
		}
	}

	m.JSONRPCVersion = raw.JSONRPCVersion
	m.Method = raw.Method
	m.Params = raw.Params
	m.Result = raw.Result
	m.Error = raw.Error
	m.ID = raw.ID

	return nil
}

// Decode parses a single wire message. On failure it returns a protocol
// error suitable for sending back to the peer: ParseError when the payload is
// not JSON at all, InvalidRequest when it is JSON but not a valid JSON-RPC
// message. The returned id is populated whenever it could be recovered, so the
// error response can still be correlated.
func Decode(data []byte) (*AnyMessage, *RequestID, *Error) {
	if !json.Valid(data) {
		return nil, nil, &Error{Code: ErrorCodeParseError, Message: "Parse error: payload is not valid JSON"}
	}

	// Batches and scalars are valid JSON but not a message.
	var head struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, nil, &Error{Code: ErrorCodeInvalidRequest, Message: "Invalid request: message must be a JSON object"}
	}

	var id *RequestID
	if len(head.ID) > 0 && string(head.ID) != "null" {
		var rid RequestID
		if err := json.Unmarshal(head.ID, &rid); err == nil {
			id = &rid
		}
	}

	var msg AnyMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, id, &Error{Code: ErrorCodeInvalidRequest, Message: "Invalid request: " + err.Error()}
	}
	return &msg, id, nil
}

// Type returns "request" if the message is a request, "response" if it's a response, or "notification" if it's a notification
func (m *AnyMessage) Type() string {
	if m.Method != "" {
		if m.ID.IsNil() {
			return "notification"
		}
		return "request"
	}
	return "response"
}

// AsRequest returns the message as a Request if it is a request message, otherwise nil
func (m *AnyMessage) AsRequest() *Request {
	if m.Method == "" {
		return nil
	}

	return &Request{
		JSONRPCVersion: m.JSONRPCVersion,
		Method:         m.Method,
		Params:         m.Params,
		ID:             m.ID,
	}
}

// AsResponse returns the message as a Response if it is a response message, otherwise nil
func (m *AnyMessage) AsResponse() *Response {
	if m.Method != "" {
		return nil
	}

	return &Response{
		JSONRPCVersion: m.JSONRPCVersion,
		Result:         m.Result,
		Error:          m.Error,
		ID:             m.ID,
	}
}
