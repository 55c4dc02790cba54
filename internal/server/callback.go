package server

import (
	_ "embed"
	"errors"
	"html/template"
	"net/http"

	"parley/internal/oauth"
	"parley/pkg/logging"
)

//go:embed templates/callback_success.html
var callbackSuccessHTML string

//go:embed templates/callback_error.html
var callbackErrorHTML string

var (
	callbackSuccessTmpl = template.Must(template.New("callback_success").Parse(callbackSuccessHTML))
	callbackErrorTmpl   = template.Must(template.New("callback_error").Parse(callbackErrorHTML))
)

// callbackCSP allows exactly the inline postMessage script and nothing else.
const callbackCSP = "default-src 'none'; script-src 'unsafe-inline'"

type callbackSuccessData struct {
	ConnectionID string
	SessionID    string
	AppOrigin    string
}

type callbackErrorData struct {
	Code      string
	Message   string
	AppOrigin string
}

// handleCallback terminates the authorization-code flow. The response is
// always a self-contained HTML page; the browser popup relays the outcome
// to the opener via postMessage and closes.
func (h *Handlers) handleCallback(w http.ResponseWriter, r *http.Request) {
	if !h.requireConfigured(w) {
		return
	}

	query := r.URL.Query()

	// The authorization server reported failure (user denied, etc.).
	// No state lookup happens on this path; the pending record is left to
	// expire so an attacker-supplied error cannot consume it.
	if errCode := query.Get("error"); errCode != "" {
		logging.Info("Server", "Authorization callback returned error=%s", errCode)
		h.renderCallbackError(w, http.StatusOK, errCode, callbackErrorMessage(errCode, query.Get("error_description")))
		return
	}

	state := query.Get("state")
	code := query.Get("code")
	if state == "" || code == "" {
		h.renderCallbackError(w, http.StatusBadRequest, "invalid_callback",
			"The callback is missing required parameters.")
		return
	}

	conn, err := h.manager.CompleteAuthorization(r.Context(), state, code)
	if err != nil {
		switch {
		case errors.Is(err, oauth.ErrStateNotFound):
			// Expected: expired flows, double-clicked links, replays.
			h.renderCallbackError(w, http.StatusBadRequest, "state_not_found",
				"This authorization link has expired or was already used. Please start over.")
		case errors.Is(err, oauth.ErrStateCorrupted):
			// Never expected. A present-but-undecodable record means the
			// store was tampered with or a deploy broke the format.
			logging.Error("Server", err, "Corrupted OAuth state record encountered")
			h.renderCallbackError(w, http.StatusInternalServerError, "state_corrupted",
				"Something went wrong on our side. Please start over.")
		default:
			logging.Error("Server", err, "Completing authorization failed")
			h.renderCallbackError(w, http.StatusInternalServerError, "token_exchange_failed",
				"The authorization server rejected the request. Please try again.")
		}
		return
	}

	h.setCallbackHeaders(w)
	w.WriteHeader(http.StatusOK)
	if err := callbackSuccessTmpl.Execute(w, callbackSuccessData{
		ConnectionID: conn.ID,
		SessionID:    conn.SessionID,
		AppOrigin:    h.appOrigin,
	}); err != nil {
		logging.Error("Server", err, "Failed to render callback page")
	}
}

func (h *Handlers) renderCallbackError(w http.ResponseWriter, status int, code, message string) {
	h.setCallbackHeaders(w)
	w.WriteHeader(status)
	if err := callbackErrorTmpl.Execute(w, callbackErrorData{
		Code:      code,
		Message:   message,
		AppOrigin: h.appOrigin,
	}); err != nil {
		logging.Error("Server", err, "Failed to render callback error page")
	}
}

func (h *Handlers) setCallbackHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Security-Policy", callbackCSP)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Referrer-Policy", "no-referrer")
	w.Header().Set("Cache-Control", "no-store")
}

func callbackErrorMessage(code, description string) string {
	if description != "" {
		return description
	}
	switch code {
	case "access_denied":
		return "You declined the authorization request."
	default:
		return "The authorization server reported an error."
	}
}
