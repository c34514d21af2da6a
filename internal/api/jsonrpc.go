package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/pulseboard/pulse/pkg/logging"
	"github.com/pulseboard/pulse/pkg/telemetry"
)

// JSONRPCRequest represents a JSON-RPC 2.0 request
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response
type JSONRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      interface{}   `json:"id"`
	Result  interface{}   `json:"result,omitempty"`
	Error   *JSONRPCError `json:"error,omitempty"`
}

// JSONRPCError represents a JSON-RPC error
type JSONRPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// MethodHandler is a function that handles a JSON-RPC method
type MethodHandler func(ctx *gin.Context, params json.RawMessage) (interface{}, error)

// JSONRPCHandler handles JSON-RPC requests
type JSONRPCHandler struct {
	methods map[string]MethodHandler
	logger  *zap.Logger
}

// NewJSONRPCHandler creates a new JSON-RPC handler
func NewJSONRPCHandler() *JSONRPCHandler {
	return &JSONRPCHandler{
		methods: make(map[string]MethodHandler),
		logger:  logging.WithComponent("jsonrpc"),
	}
}

// RegisterMethod registers a method handler
func (h *JSONRPCHandler) RegisterMethod(method string, handler MethodHandler) {
	h.methods[method] = handler
}

// Methods returns the registered method names
func (h *JSONRPCHandler) Methods() []string {
	names := make([]string, 0, len(h.methods))
	for name := range h.methods {
		names = append(names, name)
	}
	return names
}

// Handle handles a JSON-RPC request
func (h *JSONRPCHandler) Handle(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "jsonrpc.handle")
	c.Request = c.Request.WithContext(ctx)

	var (
		req JSONRPCRequest
		err error
	)
	defer func() {
		telemetry.EndSpan(span, err, attribute.String("rpc.method", req.Method), attribute.String("request_id", RequestID(c)))
	}()

	if err = c.ShouldBindJSON(&req); err != nil {
		h.sendError(c, nil, "", ErrParseError, "Parse error", err)
		return
	}

	if req.JSONRPC != "2.0" {
		err = fmt.Errorf("invalid jsonrpc version")
		h.sendError(c, req.ID, req.Method, ErrInvalidRequest, "Invalid Request", err)
		return
	}

	handler, ok := h.methods[req.Method]
	if !ok {
		err = fmt.Errorf("method %s not found", req.Method)
		h.sendError(c, req.ID, req.Method, ErrMethodNotFound, "Method not found", err)
		return
	}

	result, err := handler(c, req.Params)
	if err != nil {
		code, message := classify(err)
		h.sendError(c, req.ID, req.Method, code, message, err)
		return
	}

	h.sendResponse(c, req.ID, result)
}

// sendResponse sends a successful JSON-RPC response
func (h *JSONRPCHandler) sendResponse(c *gin.Context, id interface{}, result interface{}) {
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result:  result,
	}
	c.JSON(http.StatusOK, resp)
}

// sendError sends an error JSON-RPC response. The underlying error message is
// passed through unchanged in data.
func (h *JSONRPCHandler) sendError(c *gin.Context, id interface{}, method string, code int, message string, err error) {
	fields := []zap.Field{
		zap.Int("code", code),
		zap.String("method", method),
		zap.String("request_id", RequestID(c)),
	}
	var data interface{}
	if err != nil {
		data = err.Error()
		fields = append(fields, zap.Error(err))
	}
	if code == ErrServerError || code == ErrInternalError {
		h.logger.Error("JSON-RPC error", fields...)
	} else {
		h.logger.Debug("JSON-RPC error", fields...)
	}

	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &JSONRPCError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
	c.JSON(http.StatusOK, resp)
}

// Standard JSON-RPC error codes plus the server-defined range
const (
	ErrParseError      = -32700
	ErrInvalidRequest  = -32600
	ErrMethodNotFound  = -32601
	ErrInvalidParams   = -32602
	ErrInternalError   = -32603
	ErrServerError     = -32000
	ErrUnauthenticated = -32001
)
