package rpc

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/onebridge/evm-bridge/pkg/admin"
	"github.com/onebridge/evm-bridge/pkg/auth"
	"github.com/onebridge/evm-bridge/pkg/bridge"
	"github.com/onebridge/evm-bridge/pkg/keys"
	"github.com/onebridge/evm-bridge/pkg/txbuilder"
)

// Server handles JSON-RPC requests for the bridge API
type Server struct {
	controller   *bridge.Controller
	admin        *admin.Service
	builder      *txbuilder.Builder
	signer       keys.Signer
	keyName      string
	clock        bridge.Clock
	jwtValidator *auth.JWTValidator
	logger       *zap.Logger
	handler      *MethodHandler
}

// NewServer creates a new RPC server
func NewServer(
	controller *bridge.Controller,
	adminSvc *admin.Service,
	builder *txbuilder.Builder,
	signer keys.Signer,
	keyName string,
	jwtValidator *auth.JWTValidator,
	logger *zap.Logger,
) *Server {
	s := &Server{
		controller:   controller,
		admin:        adminSvc,
		builder:      builder,
		signer:       signer,
		keyName:      keyName,
		clock:        bridge.RealClock,
		jwtValidator: jwtValidator,
		logger:       logger,
	}

	s.handler = NewMethodHandler(s)

	return s
}

// ServeHTTP handles HTTP requests
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1MB limit
	if err != nil {
		s.writeError(w, nil, NewError(ParseError, "failed to read request"))
		return
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, nil, NewError(ParseError, err.Error()))
		return
	}

	if err := req.Validate(); err != nil {
		s.writeError(w, req.ID, NewError(InvalidRequest, err.Error()))
		return
	}

	ctx := r.Context()

	if s.handler.RequiresAuth(req.Method) {
		authCtx, err := s.authenticate(ctx, r)
		if err != nil {
			s.logger.Warn("authentication failed",
				zap.String("method", req.Method),
				zap.Error(err))
			s.writeError(w, req.ID, NewError(CodeUnauthorized, err.Error()))
			return
		}
		ctx = authCtx
	}

	result, rpcErr := s.handler.Handle(ctx, req.Method, req.Params)
	if rpcErr != nil {
		s.writeError(w, req.ID, rpcErr)
		return
	}

	s.writeResponse(w, SuccessResponse(req.ID, result))
}

// authenticate resolves the caller principal: a bearer token's sub
// claim when JWT validation is configured, or the X-Principal header
// behind a trusted gateway otherwise.
func (s *Server) authenticate(ctx context.Context, r *http.Request) (context.Context, error) {
	if s.jwtValidator != nil && s.jwtValidator.IsConfigured() {
		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return nil, &AuthError{Message: "bearer token required"}
		}
		claims, err := s.jwtValidator.ValidateToken(strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			return nil, &AuthError{Message: "invalid token: " + err.Error()}
		}
		sub, _ := claims["sub"].(string)
		principal, err := auth.ParsePrincipal(sub)
		if err != nil {
			return nil, &AuthError{Message: "token missing sub claim"}
		}
		return auth.WithPrincipal(ctx, principal), nil
	}

	principal, err := auth.ParsePrincipal(r.Header.Get("X-Principal"))
	if err != nil {
		return nil, &AuthError{Message: "no valid authentication provided"}
	}
	return auth.WithPrincipal(ctx, principal), nil
}

// writeResponse writes a JSON-RPC response
func (s *Server) writeResponse(w http.ResponseWriter, resp *Response) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// writeError writes a JSON-RPC error response
func (s *Server) writeError(w http.ResponseWriter, id interface{}, err *Error) {
	s.writeResponse(w, ErrorResponse(id, err))
}

// AuthError represents an authentication error
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	return e.Message
}
