package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/danghamo/passport/internal/account"
	"github.com/danghamo/passport/internal/api/jsonrpcx"
	"github.com/danghamo/passport/internal/api/middleware"
	"github.com/danghamo/passport/internal/auth"
	"github.com/danghamo/passport/internal/domain/shared"
	"github.com/danghamo/passport/internal/domain/user"
	"github.com/danghamo/passport/pkg/logger"
)

// AccountHandler exposes the account service over JSON-RPC
type AccountHandler struct {
	service  *account.Service
	provider auth.Provider
	logger   *logger.Logger
}

// NewAccountHandler creates a new account handler
func NewAccountHandler(service *account.Service, provider auth.Provider, logger *logger.Logger) *AccountHandler {
	return &AccountHandler{
		service:  service,
		provider: provider,
		logger:   logger.WithComponent("account-handler"),
	}
}

// SignInRequest represents password sign-in params
type SignInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SessionResponse carries the session token and the current user snapshot
type SessionResponse struct {
	Token string    `json:"token"`
	User  user.User `json:"user"`
}

// LinkRequest represents account linking params
type LinkRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RecoverRequest represents password recovery params
type RecoverRequest struct {
	Email string `json:"email"`
}

// SaveRequest represents profile save params
type SaveRequest struct {
	User user.User `json:"user"`
}

// HandleSignIn handles POST /api/v1/account.SignIn
func (h *AccountHandler) HandleSignIn(w http.ResponseWriter, r *http.Request) {
	req, params, ok := h.parseParams(w, r, new(SignInRequest))
	if !ok {
		return
	}
	p := params.(*SignInRequest)

	if p.Email == "" || p.Password == "" {
		jsonrpcx.Error(w, req.ID, jsonrpcx.InvalidParams, "Email and password are required")
		return
	}

	if err := h.service.Authenticate(r.Context(), p.Email, p.Password); err != nil {
		h.writeDomainError(w, req.ID, "Sign-in failed", err)
		return
	}

	h.logger.Info("User signed in", zap.String("userId", h.service.CurrentUserID()))
	jsonrpcx.Success(w, req.ID, h.sessionResponse())
}

// HandleLink handles POST /api/v1/account.Link
func (h *AccountHandler) HandleLink(w http.ResponseWriter, r *http.Request) {
	req, params, ok := h.parseParams(w, r, new(LinkRequest))
	if !ok {
		return
	}
	p := params.(*LinkRequest)

	if p.Email == "" || p.Password == "" {
		jsonrpcx.Error(w, req.ID, jsonrpcx.InvalidParams, "Email and password are required")
		return
	}

	if err := h.service.LinkAccount(r.Context(), p.Email, p.Password); err != nil {
		h.writeDomainError(w, req.ID, "Account linking failed", err)
		return
	}

	h.logger.Info("Account linked",
		zap.String("userId", h.service.CurrentUserID()),
		zap.String("email", p.Email))
	jsonrpcx.Success(w, req.ID, h.sessionResponse())
}

// HandleRecover handles POST /api/v1/account.Recover
func (h *AccountHandler) HandleRecover(w http.ResponseWriter, r *http.Request) {
	req, params, ok := h.parseParams(w, r, new(RecoverRequest))
	if !ok {
		return
	}
	p := params.(*RecoverRequest)

	if p.Email == "" {
		jsonrpcx.Error(w, req.ID, jsonrpcx.InvalidParams, "Email is required")
		return
	}

	if err := h.service.SendRecoveryEmail(r.Context(), p.Email); err != nil {
		h.writeDomainError(w, req.ID, "Recovery email failed", err)
		return
	}

	jsonrpcx.Success(w, req.ID, map[string]interface{}{"sent": true})
}

// HandleGet handles POST /api/v1/account.Get
func (h *AccountHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	req, _, ok := h.parseParams(w, r, nil)
	if !ok {
		return
	}

	if !h.service.HasUser() {
		jsonrpcx.Error(w, req.ID, jsonrpcx.InvalidRequest, "No authenticated user")
		return
	}

	jsonrpcx.Success(w, req.ID, h.service.GetCurrentUserData())
}

// HandleSave handles POST /api/v1/account.Save
func (h *AccountHandler) HandleSave(w http.ResponseWriter, r *http.Request) {
	req, params, ok := h.parseParams(w, r, new(SaveRequest))
	if !ok {
		return
	}
	p := params.(*SaveRequest)

	if err := h.service.SaveCurrentUserData(r.Context(), p.User); err != nil {
		h.writeDomainError(w, req.ID, "Profile save failed", err)
		return
	}

	jsonrpcx.Success(w, req.ID, map[string]interface{}{"saved": true})
}

// HandleSignOut handles POST /api/v1/account.SignOut
func (h *AccountHandler) HandleSignOut(w http.ResponseWriter, r *http.Request) {
	req, _, ok := h.parseParams(w, r, nil)
	if !ok {
		return
	}

	userID, _ := middleware.GetUserID(r.Context())

	if err := h.service.SignOut(r.Context()); err != nil {
		h.writeDomainError(w, req.ID, "Sign-out failed", err)
		return
	}

	h.logger.Info("User signed out",
		zap.String("userId", userID),
		zap.Bool("anonymous", middleware.IsAnonymousUser(r.Context())))
	jsonrpcx.Success(w, req.ID, map[string]interface{}{"signed_out": true})
}

// HandleDelete handles POST /api/v1/account.Delete
func (h *AccountHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	req, _, ok := h.parseParams(w, r, nil)
	if !ok {
		return
	}

	userID, _ := middleware.GetUserID(r.Context())

	if err := h.service.DeleteAccount(r.Context()); err != nil {
		h.writeDomainError(w, req.ID, "Account deletion failed", err)
		return
	}

	h.logger.Info("Account deleted", zap.String("userId", userID))
	jsonrpcx.Success(w, req.ID, map[string]interface{}{"deleted": true})
}

// parseParams parses the JSON-RPC envelope and, when dst is non-nil, its params
func (h *AccountHandler) parseParams(w http.ResponseWriter, r *http.Request, dst interface{}) (*jsonrpcx.JSONRPCRequest, interface{}, bool) {
	if r.Method != http.MethodPost {
		jsonrpcx.Error(w, nil, jsonrpcx.MethodNotFound, "Method not allowed")
		return nil, nil, false
	}

	req, err := jsonrpcx.ParseRequest(r)
	if err != nil {
		jsonrpcx.Error(w, nil, jsonrpcx.ParseError, "Invalid JSON-RPC request")
		return nil, nil, false
	}

	if dst != nil && len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, dst); err != nil {
			jsonrpcx.Error(w, req.ID, jsonrpcx.InvalidParams, "Invalid params")
			return nil, nil, false
		}
	}

	return req, dst, true
}

// writeDomainError maps domain error codes onto JSON-RPC error responses
func (h *AccountHandler) writeDomainError(w http.ResponseWriter, id any, context string, err error) {
	h.logger.Warn(context, zap.Error(err))

	switch {
	case shared.HasCode(err, shared.ErrCodeInvalidCredentials):
		jsonrpcx.Error(w, id, jsonrpcx.InvalidParams, "Invalid credentials")
	case shared.HasCode(err, shared.ErrCodeInvalidInput):
		jsonrpcx.Error(w, id, jsonrpcx.InvalidParams, err.Error())
	case shared.IsNotFound(err):
		jsonrpcx.Error(w, id, jsonrpcx.InvalidParams, err.Error())
	case shared.IsPreconditionFailed(err):
		jsonrpcx.Error(w, id, jsonrpcx.InvalidRequest, err.Error())
	case shared.HasCode(err, shared.ErrCodeAlreadyExists):
		jsonrpcx.Error(w, id, jsonrpcx.InvalidRequest, err.Error())
	default:
		jsonrpcx.Error(w, id, jsonrpcx.InternalError, "Internal error")
	}
}

func (h *AccountHandler) sessionResponse() SessionResponse {
	resp := SessionResponse{User: h.service.GetCurrentUserData()}
	if session := h.provider.CurrentSession(); session != nil {
		resp.Token = session.Token
	}
	return resp
}
