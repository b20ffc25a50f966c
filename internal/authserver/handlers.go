package authserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"strings"

	"mcphub/internal/hub"
	"mcphub/pkg/logging"
)

// Handler exposes the authorization server over HTTP.
type Handler struct {
	svc *Service
}

// NewHandler creates the HTTP layer over the service.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Register mounts the discovery and OAuth routes on the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/.well-known/oauth-authorization-server", h.handleServerMetadata)
	mux.HandleFunc("/.well-known/openid-configuration", h.handleServerMetadata)
	mux.HandleFunc("/.well-known/oauth-protected-resource", h.handleResourceMetadata)
	mux.HandleFunc("/oauth/register", h.handleRegister)
	mux.HandleFunc("/oauth/authorize", h.handleAuthorize)
	mux.HandleFunc("/oauth/token", h.handleToken)
	mux.HandleFunc("/oauth/revoke", h.handleRevoke)
}

func (h *Handler) handleServerMetadata(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.svc.Metadata())
}

func (h *Handler) handleResourceMetadata(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.svc.ResourceMetadata())
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req RegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeOAuthError(w, fmt.Errorf("%w: malformed JSON body", ErrInvalidRequest))
		return
	}
	resp, err := h.svc.RegisterClient(r.Context(), req)
	if err != nil {
		writeOAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, fmt.Errorf("%w: malformed form body", ErrInvalidRequest))
		return
	}

	var (
		resp *TokenResponse
		err  error
	)
	switch grant := r.PostFormValue("grant_type"); grant {
	case "authorization_code":
		resp, err = h.svc.ExchangeCode(r.Context(),
			r.PostFormValue("client_id"),
			r.PostFormValue("code"),
			r.PostFormValue("code_verifier"),
			r.PostFormValue("redirect_uri"))
	case "refresh_token":
		resp, err = h.svc.RefreshGrant(r.Context(), r.PostFormValue("refresh_token"))
	case "client_credentials":
		resp, err = h.svc.ClientCredentialsGrant(r.Context(),
			r.PostFormValue("client_id"),
			r.PostFormValue("client_secret"),
			r.PostFormValue("scope"))
	default:
		err = fmt.Errorf("%w: grant_type %q is not supported", ErrUnsupportedGrantType, grant)
	}
	if err != nil {
		writeOAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleRevoke implements RFC 7009 revocation for refresh tokens. A
// revoked or unknown token still yields 200, so callers learn nothing
// about which tokens exist.
func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, fmt.Errorf("%w: malformed form body", ErrInvalidRequest))
		return
	}
	if err := h.svc.RevokeToken(r.Context(), r.PostFormValue("token")); err != nil {
		writeOAuthError(w, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.showLoginForm(w, r)
	case http.MethodPost:
		h.completeAuthorize(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func authorizeRequestFromForm(get func(string) string) (string, AuthorizeRequest) {
	return get("response_type"), AuthorizeRequest{
		ClientID:            get("client_id"),
		RedirectURI:         get("redirect_uri"),
		Scope:               get("scope"),
		State:               get("state"),
		CodeChallenge:       get("code_challenge"),
		CodeChallengeMethod: get("code_challenge_method"),
	}
}

func (h *Handler) showLoginForm(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	responseType, req := authorizeRequestFromForm(q.Get)
	if err := h.svc.ValidateAuthorizeRequest(r.Context(), responseType, req); err != nil {
		// The redirect URI is untrusted until validated, so errors are
		// rendered in place rather than bounced back to the client.
		h.renderErrorPage(w, publicOAuthMessage(err))
		return
	}
	session, err := h.svc.BeginAuthorizeSession(r.Context(), req)
	if err != nil {
		logging.Error("AuthServer", err, "Failed to create authorize session")
		h.renderErrorPage(w, "Something went wrong. Please try again.")
		return
	}
	h.renderLoginPage(w, responseType, req, session, "")
}

func (h *Handler) completeAuthorize(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.renderErrorPage(w, "Malformed form submission.")
		return
	}
	responseType, req := authorizeRequestFromForm(r.PostFormValue)
	if err := h.svc.ValidateAuthorizeRequest(r.Context(), responseType, req); err != nil {
		h.renderErrorPage(w, publicOAuthMessage(err))
		return
	}
	if err := h.svc.ConsumeAuthorizeSession(r.Context(), r.PostFormValue("session"), req); err != nil {
		h.renderErrorPage(w, hub.PublicMessage(err))
		return
	}

	user, err := h.svc.AuthenticateUser(r.Context(),
		r.PostFormValue("email"), r.PostFormValue("password"))
	if err != nil {
		logging.Audit(logging.AuditEvent{
			Action:   "oauth.login.failed",
			Outcome:  "failure",
			ClientID: req.ClientID,
		})
		// The session was consumed above, so the re-rendered form needs
		// a fresh one.
		session, sessErr := h.svc.BeginAuthorizeSession(r.Context(), req)
		if sessErr != nil {
			logging.Error("AuthServer", sessErr, "Failed to create authorize session")
			h.renderErrorPage(w, "Something went wrong. Please try again.")
			return
		}
		h.renderLoginPage(w, responseType, req, session, hub.PublicMessage(err))
		return
	}

	code, err := h.svc.IssueAuthorizationCode(r.Context(), user, req)
	if err != nil {
		logging.Error("AuthServer", err, "Failed to issue authorization code")
		h.renderErrorPage(w, "Something went wrong. Please try again.")
		return
	}

	logging.Audit(logging.AuditEvent{
		Action:   "oauth.login.succeeded",
		Outcome:  "success",
		UserID:   user.ID,
		ClientID: req.ClientID,
	})

	redirect, _ := url.Parse(req.RedirectURI)
	params := redirect.Query()
	params.Set("code", code)
	if req.State != "" {
		params.Set("state", req.State)
	}
	redirect.RawQuery = params.Encode()
	http.Redirect(w, r, redirect.String(), http.StatusFound)
}

// setSecurityHeaders sets recommended security headers for HTML responses.
// These headers help prevent XSS, clickjacking, and MIME sniffing attacks.
func setSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Content-Security-Policy", "default-src 'none'; style-src 'unsafe-inline'; form-action 'self'")
	w.Header().Set("Referrer-Policy", "no-referrer")
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
}

func (h *Handler) renderLoginPage(w http.ResponseWriter, responseType string, req AuthorizeRequest, session, errorMessage string) {
	setSecurityHeaders(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	status := http.StatusOK
	if errorMessage != "" {
		status = http.StatusUnauthorized
	}
	w.WriteHeader(status)

	errorBlock := ""
	if errorMessage != "" {
		errorBlock = fmt.Sprintf(`<p class="message">%s</p>`, html.EscapeString(errorMessage))
	}

	hidden := &strings.Builder{}
	for name, value := range map[string]string{
		"session":               session,
		"response_type":         responseType,
		"client_id":             req.ClientID,
		"redirect_uri":          req.RedirectURI,
		"scope":                 req.Scope,
		"state":                 req.State,
		"code_challenge":        req.CodeChallenge,
		"code_challenge_method": req.CodeChallengeMethod,
	} {
		fmt.Fprintf(hidden, `<input type="hidden" name="%s" value="%s">`,
			name, html.EscapeString(value))
	}

	htmlContent := fmt.Sprintf(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Sign In - MCP Hub</title>
    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, Oxygen, Ubuntu, sans-serif;
            background: linear-gradient(135deg, #1a1a2e 0%%, #16213e 50%%, #0f3460 100%%);
            min-height: 100vh;
            display: flex;
            align-items: center;
            justify-content: center;
            color: #e8e8e8;
        }
        .container {
            padding: 3rem;
            background: rgba(255, 255, 255, 0.05);
            border-radius: 16px;
            border: 1px solid rgba(255, 255, 255, 0.1);
            backdrop-filter: blur(10px);
            max-width: 420px;
            width: 100%%;
            margin: 1rem;
        }
        h1 {
            font-size: 1.5rem;
            font-weight: 600;
            margin-bottom: 0.5rem;
            color: #fff;
        }
        .client-name { color: #00d4aa; font-weight: 500; }
        p { color: #a0a0a0; line-height: 1.6; margin-top: 0.5rem; }
        .message { color: #ff6b6b; font-weight: 500; margin-top: 1rem; }
        label {
            display: block;
            margin-top: 1.25rem;
            margin-bottom: 0.375rem;
            font-size: 0.875rem;
            color: #a0a0a0;
        }
        input[type="email"], input[type="password"] {
            width: 100%%;
            padding: 0.625rem 0.75rem;
            border-radius: 8px;
            border: 1px solid rgba(255, 255, 255, 0.15);
            background: rgba(0, 0, 0, 0.25);
            color: #fff;
            font-size: 1rem;
        }
        button {
            width: 100%%;
            margin-top: 1.75rem;
            padding: 0.75rem;
            border: none;
            border-radius: 8px;
            background: linear-gradient(135deg, #00d4aa 0%%, #00a896 100%%);
            color: #06201c;
            font-size: 1rem;
            font-weight: 600;
            cursor: pointer;
        }
        .footer {
            margin-top: 2rem;
            padding-top: 1.5rem;
            border-top: 1px solid rgba(255, 255, 255, 0.1);
            font-size: 0.875rem;
            color: #666;
            text-align: center;
        }
    </style>
</head>
<body>
    <div class="container">
        <h1>Sign in to MCP Hub</h1>
        <p>An application is requesting access to your connected integrations.</p>
        %s
        <form method="POST" action="/oauth/authorize">
            %s
            <label for="email">Email</label>
            <input type="email" id="email" name="email" required autofocus>
            <label for="password">Password</label>
            <input type="password" id="password" name="password" required>
            <button type="submit">Sign In and Authorize</button>
        </form>
        <div class="footer">
            Powered by MCP Hub
        </div>
    </div>
</body>
</html>`, errorBlock, hidden.String())

	w.Write([]byte(htmlContent))
}

// renderErrorPage renders an HTML page indicating an authorization error.
func (h *Handler) renderErrorPage(w http.ResponseWriter, message string) {
	setSecurityHeaders(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusBadRequest)

	safeMessage := html.EscapeString(message)

	htmlContent := fmt.Sprintf(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Authorization Failed - MCP Hub</title>
    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, Oxygen, Ubuntu, sans-serif;
            background: linear-gradient(135deg, #1a1a2e 0%%, #16213e 50%%, #0f3460 100%%);
            min-height: 100vh;
            display: flex;
            align-items: center;
            justify-content: center;
            color: #e8e8e8;
        }
        .container {
            text-align: center;
            padding: 3rem;
            background: rgba(255, 255, 255, 0.05);
            border-radius: 16px;
            border: 1px solid rgba(255, 255, 255, 0.1);
            backdrop-filter: blur(10px);
            max-width: 500px;
            margin: 1rem;
        }
        .error-icon {
            width: 80px;
            height: 80px;
            margin: 0 auto 1.5rem;
            background: linear-gradient(135deg, #ff6b6b 0%%, #ee5a5a 100%%);
            border-radius: 50%%;
            display: flex;
            align-items: center;
            justify-content: center;
            font-size: 2.5rem;
        }
        h1 {
            font-size: 1.75rem;
            font-weight: 600;
            margin-bottom: 0.5rem;
            color: #fff;
        }
        .message { color: #ff6b6b; font-weight: 500; margin-top: 1rem; }
        p { color: #a0a0a0; line-height: 1.6; margin-top: 1rem; }
        .footer {
            margin-top: 2rem;
            padding-top: 1.5rem;
            border-top: 1px solid rgba(255, 255, 255, 0.1);
            font-size: 0.875rem;
            color: #666;
        }
    </style>
</head>
<body>
    <div class="container">
        <div class="error-icon">✕</div>
        <h1>Authorization Failed</h1>
        <p class="message">%s</p>
        <p>Check the request with the application that sent you here and try again.</p>
        <div class="footer">
            Powered by MCP Hub
        </div>
    </div>
</body>
</html>`, safeMessage)

	w.Write([]byte(htmlContent))
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Error("AuthServer", err, "Failed to encode response body")
	}
}

// oauthErrorBody is the RFC 6749 error response body.
type oauthErrorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// writeOAuthError maps a service error to the standard OAuth error body.
// Internal failures collapse to server_error with no detail.
func writeOAuthError(w http.ResponseWriter, err error) {
	code := "server_error"
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrInvalidRequest):
		code, status = "invalid_request", http.StatusBadRequest
	case errors.Is(err, ErrInvalidClient):
		code, status = "invalid_client", http.StatusUnauthorized
	case errors.Is(err, ErrInvalidGrant):
		code, status = "invalid_grant", http.StatusBadRequest
	case errors.Is(err, ErrUnsupportedGrantType):
		code, status = "unsupported_grant_type", http.StatusBadRequest
	}

	body := oauthErrorBody{Error: code}
	if status != http.StatusInternalServerError {
		body.ErrorDescription = publicOAuthMessage(err)
	} else {
		logging.Error("AuthServer", err, "Token endpoint internal error")
	}
	writeJSON(w, status, body)
}

// publicOAuthMessage strips the error-code prefix, leaving the
// human-readable description.
func publicOAuthMessage(err error) string {
	msg := err.Error()
	if _, rest, found := strings.Cut(msg, ": "); found {
		return rest
	}
	return msg
}
