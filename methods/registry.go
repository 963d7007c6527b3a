// Package methods holds the static table that maps JSON-RPC method names to
// editor operation handlers. A Registry is built once at startup and is
// read-only afterwards, so lookups need no locking.
package methods

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"

	"github.com/ggoodman/unity-mcp-bridge/internal/jsonrpc"
	"github.com/invopop/jsonschema"
)

// DiscoverMethod is the reserved method returning the registry's descriptors.
const DiscoverMethod = "rpc.discover"

// Handler runs one editor operation. params is the raw JSON params object
// (possibly empty); the returned value is marshaled as the JSON-RPC result.
type Handler func(ctx context.Context, params json.RawMessage) (any, error)

// Method pairs a name with its handler and an optional params schema.
type Method struct {
	Name        string
	Description string
	Params      *jsonschema.Schema
	Handler     Handler
}

// Descriptor is the wire shape of a method advertised by rpc.discover.
type Descriptor struct {
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	Params      *jsonschema.Schema `json:"params,omitempty"`
}

// Registry is an immutable name -> Method table.
type Registry struct {
	methods map[string]Method
	names   []string
}

// New builds a Registry. It fails on empty or duplicate names and on methods
// without a handler.
func New(ms ...Method) (*Registry, error) {
	r := &Registry{methods: make(map[string]Method, len(ms)+1)}
	for _, m := range ms {
		if m.Name == "" {
			return nil, fmt.Errorf("method name is required")
		}
		if m.Handler == nil {
			return nil, fmt.Errorf("method %q has no handler", m.Name)
		}
		if _, dup := r.methods[m.Name]; dup {
			return nil, fmt.Errorf("duplicate method %q", m.Name)
		}
		r.methods[m.Name] = m
		r.names = append(r.names, m.Name)
	}
	sort.Strings(r.names)

	if _, taken := r.methods[DiscoverMethod]; !taken {
		r.methods[DiscoverMethod] = Method{
			Name:        DiscoverMethod,
			Description: "List the methods served by this editor.",
			Handler: func(ctx context.Context, _ json.RawMessage) (any, error) {
				return r.Descriptors(), nil
			},
		}
	}
	return r, nil
}

// MustNew is like New but panics on error. Intended for static tables.
func MustNew(ms ...Method) *Registry {
	r, err := New(ms...)
	if err != nil {
		panic(err)
	}
	return r
}

// Lookup returns the method registered under name.
func (r *Registry) Lookup(name string) (Method, bool) {
	m, ok := r.methods[name]
	return m, ok
}

// Names returns the registered method names in sorted order, excluding
// built-in methods.
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Descriptors describes every registered method in name order.
func (r *Registry) Descriptors() []Descriptor {
	out := make([]Descriptor, 0, len(r.names))
	for _, n := range r.names {
		m := r.methods[n]
		out = append(out, Descriptor{Name: m.Name, Description: m.Description, Params: m.Params})
	}
	return out
}

// Call runs the named method and converts every failure into a JSON-RPC
// error. A panicking handler is recovered here; it never escapes to the
// caller's goroutine.
func (r *Registry) Call(ctx context.Context, name string, params json.RawMessage) (result json.RawMessage, rpcErr *jsonrpc.Error) {
	m, ok := r.methods[name]
	if !ok {
		return nil, jsonrpc.NewError(jsonrpc.ErrorCodeMethodNotFound, "Method not found: %s", name)
	}

	defer func() {
		if p := recover(); p != nil {
			// The stack stays in the host log; peers may be remote.
			slog.ErrorContext(ctx, "methods.call.panic",
				slog.String("method", name),
				slog.Any("panic", p),
				slog.String("stack", string(debug.Stack())),
			)
			result = nil
			rpcErr = &jsonrpc.Error{
				Code:    jsonrpc.ErrorCodeInternalError,
				Message: fmt.Sprintf("Internal error: %v", p),
			}
		}
	}()

	v, err := m.Handler(ctx, params)
	if err != nil {
		var perr *ParamsError
		if errors.As(err, &perr) {
			return nil, &jsonrpc.Error{Code: jsonrpc.ErrorCodeInvalidParams, Message: perr.Error()}
		}
		return nil, jsonrpc.NewError(jsonrpc.ErrorCodeInternalError, "Internal error: %s", err.Error())
	}

	b, err := json.Marshal(v)
	if err != nil {
		return nil, jsonrpc.NewError(jsonrpc.ErrorCodeInternalError, "Internal error: marshal result: %s", err.Error())
	}
	return b, nil
}

// ParamsError reports params that could not be decoded into a method's
// parameter type. Call maps it to -32602.
type ParamsError struct {
	Method string
	Err    error
}

func (e *ParamsError) Error() string {
	return fmt.Sprintf("invalid params for %s: %v", e.Method, e.Err)
}

func (e *ParamsError) Unwrap() error { return e.Err }

// Typed builds a Method whose params are decoded strictly into P. Unknown
// fields are rejected and absent params decode to the zero value of P. The
// params schema is reflected from P.
func Typed[P any](name, description string, fn func(ctx context.Context, params P) (any, error)) Method {
	return Method{
		Name:        name,
		Description: description,
		Params:      reflectParams[P](),
		Handler: func(ctx context.Context, raw json.RawMessage) (any, error) {
			var p P
			if len(bytes.TrimSpace(raw)) > 0 && string(bytes.TrimSpace(raw)) != "null" {
				dec := json.NewDecoder(bytes.NewReader(raw))
				dec.DisallowUnknownFields()
				if err := dec.Decode(&p); err != nil {
					return nil, &ParamsError{Method: name, Err: err}
				}
			}
			return fn(ctx, p)
		},
	}
}

// reflectParams returns the inline schema of P. P may be anonymous or a
// non-struct type.
func reflectParams[P any]() *jsonschema.Schema {
	r := &jsonschema.Reflector{
		Anonymous:                 true,
		DoNotReference:            true,
		AllowAdditionalProperties: false,
	}
	s := r.Reflect(new(P))
	if s == nil {
		return nil
	}
	s.Version = ""
	s.Definitions = nil
	return s
}
