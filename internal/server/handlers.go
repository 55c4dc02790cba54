package server

import (
	_ "embed"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"regexp"
	"time"

	"parley/internal/oauth"
	"parley/pkg/logging"
)

//go:embed assets/popup.js
var popupScript []byte

// Handlers carries the dependencies of the HTTP handlers. A nil manager
// means the connection store is not configured.
type Handlers struct {
	manager   *oauth.Manager
	appOrigin string
}

// errorBody is the uniform error response shape.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Error("Server", err, "Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: message}})
}

// writeUpstreamError maps the flow's typed errors to HTTP statuses.
func writeUpstreamError(w http.ResponseWriter, err error) {
	var regErr *oauth.RegistrationError
	if errors.As(err, &regErr) {
		writeError(w, http.StatusBadGateway, "registration_failed", regErr.Error())
		return
	}

	var exchErr *oauth.TokenExchangeError
	if errors.As(err, &exchErr) {
		writeError(w, http.StatusInternalServerError, "token_exchange_failed", exchErr.Error())
		return
	}

	writeError(w, http.StatusBadGateway, "upstream_error", err.Error())
}

// requireConfigured fails fast when no store backend is configured. The
// /mcp feature is all-or-nothing: without a backend, partial behavior would
// silently drop connections.
func (h *Handlers) requireConfigured(w http.ResponseWriter) bool {
	if h.manager == nil {
		writeError(w, http.StatusServiceUnavailable, "not_configured",
			"MCP connections are not configured on this deployment")
		return false
	}
	return true
}

// decodeRequest decodes a JSON body into req and writes a 400 on failure.
func decodeRequest(w http.ResponseWriter, r *http.Request, req interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "request body is not valid JSON")
		return false
	}
	return true
}

// sessionIDPattern restricts session IDs to the characters session tokens
// are actually made of. Anything else (glob metacharacters, the ':' key
// separator) could widen the store's key pattern beyond one session.
var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// validateSessionID returns a rejection message, or "" when the ID is usable.
func validateSessionID(sessionID string) string {
	if sessionID == "" {
		return "sessionId is required"
	}
	if !sessionIDPattern.MatchString(sessionID) {
		return "sessionId contains invalid characters"
	}
	return ""
}

type connectRequest struct {
	Endpoint  string `json:"endpoint"`
	Name      string `json:"name"`
	SessionID string `json:"sessionId"`
	APIKey    string `json:"apiKey"`
}

func (r *connectRequest) validate() string {
	if msg := validateSessionID(r.SessionID); msg != "" {
		return msg
	}
	if r.Endpoint == "" {
		return "endpoint is required"
	}
	u, err := url.Parse(r.Endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "endpoint must be an absolute URL"
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "endpoint must be an http or https URL"
	}
	return ""
}

// connectionView is the wire representation of a stored connection. Tokens
// never leave the server.
type connectionView struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Endpoint  string    `json:"endpoint"`
	HasAuth   bool      `json:"hasAuth"`
	CreatedAt time.Time `json:"createdAt"`
}

func viewOf(conn *oauth.Connection) connectionView {
	return connectionView{
		ID:        conn.ID,
		Name:      conn.Name,
		Endpoint:  conn.Endpoint,
		HasAuth:   conn.HasAuth(),
		CreatedAt: conn.CreatedAt,
	}
}

func (h *Handlers) handleConnect(w http.ResponseWriter, r *http.Request) {
	if !h.requireConfigured(w) {
		return
	}

	var req connectRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, "validation_failed", msg)
		return
	}

	result, err := h.manager.Connect(r.Context(), oauth.ConnectRequest{
		Endpoint:  req.Endpoint,
		Name:      req.Name,
		SessionID: req.SessionID,
		APIKey:    req.APIKey,
	})
	if err != nil {
		logging.Warn("Server", "Connect to %s failed for session=%s: %v",
			req.Endpoint, logging.TruncateSessionID(req.SessionID), err)
		writeUpstreamError(w, err)
		return
	}

	if result.RequiresAuth {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"requiresAuth": true,
			"authUrl":      result.Authorization.AuthURL,
			"connectionId": result.Authorization.ConnectionID,
			"sessionId":    result.Authorization.SessionID,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"connection": viewOf(result.Connection),
	})
}

type listRequest struct {
	SessionID string `json:"sessionId"`
}

func (h *Handlers) handleList(w http.ResponseWriter, r *http.Request) {
	if !h.requireConfigured(w) {
		return
	}

	var req listRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if msg := validateSessionID(req.SessionID); msg != "" {
		writeError(w, http.StatusBadRequest, "validation_failed", msg)
		return
	}

	conns, err := h.manager.List(r.Context(), req.SessionID)
	if err != nil {
		logging.Error("Server", err, "Listing connections failed for session=%s",
			logging.TruncateSessionID(req.SessionID))
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list connections")
		return
	}

	views := make([]connectionView, 0, len(conns))
	for _, conn := range conns {
		views = append(views, viewOf(conn))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"connections": views})
}

type disconnectRequest struct {
	ConnectionID string `json:"connectionId"`
	SessionID    string `json:"sessionId"`
}

func (h *Handlers) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if !h.requireConfigured(w) {
		return
	}

	var req disconnectRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if msg := validateSessionID(req.SessionID); msg != "" {
		writeError(w, http.StatusBadRequest, "validation_failed", msg)
		return
	}
	if req.ConnectionID == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "connectionId is required")
		return
	}

	if err := h.manager.Disconnect(r.Context(), req.SessionID, req.ConnectionID); err != nil {
		logging.Error("Server", err, "Disconnect failed for session=%s connection=%s",
			logging.TruncateSessionID(req.SessionID), req.ConnectionID)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to disconnect")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (h *Handlers) handlePopupScript(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=300")
	w.Write(popupScript)
}

func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
