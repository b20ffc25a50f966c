package gateway

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"mcphub/internal/authserver"
	"mcphub/internal/connection"
	"mcphub/internal/hub"
	"mcphub/internal/token"
	"mcphub/pkg/logging"
)

// maxBodyBytes bounds inbound request bodies.
const maxBodyBytes = 4 << 20

// Server is the hub's HTTP surface: the JSON-RPC endpoint, the OAuth
// authorization server, provider callbacks, and the account REST API.
type Server struct {
	dispatcher  *Dispatcher
	auth        *authserver.Service
	authHandler *authserver.Handler
	connections *connection.Registry
	issuerURL   string
}

// NewServer assembles the HTTP layer.
func NewServer(dispatcher *Dispatcher, auth *authserver.Service, connections *connection.Registry, issuerURL string) *Server {
	return &Server{
		dispatcher:  dispatcher,
		auth:        auth,
		authHandler: authserver.NewHandler(auth),
		connections: connections,
		issuerURL:   issuerURL,
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	s.authHandler.Register(mux)

	mux.HandleFunc("POST /mcp", s.handleMCP)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.HandleFunc("GET /integrations", s.withUser(s.handleListIntegrations))
	mux.HandleFunc("POST /integrations/{provider}/connect", s.withUser(s.handleConnect))
	mux.HandleFunc("GET /integrations/{provider}/callback", s.handleCallback)
	mux.HandleFunc("POST /integrations/{provider}/key", s.withUser(s.handleStoreKey))
	mux.HandleFunc("POST /integrations/{provider}/reconnect", s.withUser(s.handleReconnect))
	mux.HandleFunc("DELETE /integrations/{provider}", s.withUser(s.handleDisconnect))

	mux.HandleFunc("POST /account/tokens", s.withUser(s.handleCreatePAT))
	mux.HandleFunc("DELETE /account/tokens/{id}", s.withUser(s.handleRevokePAT))
	mux.HandleFunc("POST /account/password", s.withUser(s.handleChangePassword))
	mux.HandleFunc("DELETE /account", s.withUser(s.handleDeleteAccount))

	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSONBody(w, http.StatusOK, map[string]string{"status": "ok"})
}

// authenticate resolves the bearer credential: a PAT by hash, anything
// else as a signed access token.
func (s *Server) authenticate(r *http.Request) (*hub.Identity, error) {
	header := r.Header.Get("Authorization")
	scheme, credential, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || credential == "" {
		return nil, hub.NewAuthenticationError("missing bearer credential")
	}
	if strings.HasPrefix(credential, token.PATPrefix) {
		return s.auth.ValidatePAT(r.Context(), credential)
	}
	return s.auth.VerifyAccessToken(credential)
}

func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	identity, err := s.authenticate(r)
	if err != nil {
		w.Header().Set("WWW-Authenticate",
			fmt.Sprintf(`Bearer resource_metadata=%q`, s.issuerURL+"/.well-known/oauth-protected-resource"))
		writeJSONBody(w, http.StatusUnauthorized, map[string]string{"error": hub.PublicMessage(err)})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSONBody(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}

	resp := s.dispatcher.Handle(r.Context(), identity, r.Header.Get("X-MCP-Provider"), body)
	if resp == nil {
		// Notification, nothing to send back.
		w.WriteHeader(http.StatusAccepted)
		return
	}
	writeJSONBody(w, http.StatusOK, resp)
}

// withUser requires a user identity; machine clients are rejected since
// the account API acts on per-user state.
func (s *Server) withUser(next func(http.ResponseWriter, *http.Request, *hub.Identity)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, err := s.authenticate(r)
		if err != nil {
			writeHubError(w, err)
			return
		}
		if identity.IsClient() {
			writeHubError(w, hub.NewAuthorizationError("a user credential is required"))
			return
		}
		next(w, r, identity)
	}
}

func (s *Server) handleListIntegrations(w http.ResponseWriter, r *http.Request, identity *hub.Identity) {
	resp := s.dispatcher.hubIntegrationsList(r.Context(), identity, rpcRequest{})
	if resp.Error != nil {
		writeJSONBody(w, http.StatusInternalServerError, map[string]string{"error": resp.Error.Message})
		return
	}
	writeJSONBody(w, http.StatusOK, resp.Result)
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request, identity *hub.Identity) {
	redirect, err := s.connections.StartAuthorization(r.Context(), identity.UserID, r.PathValue("provider"))
	if err != nil {
		writeHubError(w, err)
		return
	}
	writeJSONBody(w, http.StatusOK, map[string]string{"redirect_url": redirect})
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if errParam := q.Get("error"); errParam != "" {
		logging.Warn("Gateway", "Provider callback returned error: %s", errParam)
		renderCallbackError(w, "The provider rejected the authorization. Please try connecting again.")
		return
	}
	code := q.Get("code")
	state := q.Get("state")
	if code == "" || state == "" {
		renderCallbackError(w, "Invalid callback: missing required parameters.")
		return
	}

	conn, err := s.connections.CompleteAuthorization(r.Context(), state, code)
	if err != nil {
		logging.Error("Gateway", err, "Provider authorization failed")
		renderCallbackError(w, hub.PublicMessage(err))
		return
	}
	renderCallbackSuccess(w, conn.Provider)
}

func (s *Server) handleStoreKey(w http.ResponseWriter, r *http.Request, identity *hub.Identity) {
	var body struct {
		Key string `json:"key"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&body); err != nil || body.Key == "" {
		writeHubError(w, hub.NewValidationError("key is required"))
		return
	}
	conn, err := s.connections.StoreAPIKey(r.Context(), identity.UserID, r.PathValue("provider"), body.Key)
	if err != nil {
		writeHubError(w, err)
		return
	}
	writeJSONBody(w, http.StatusOK, map[string]interface{}{
		"provider": conn.Provider,
		"enabled":  conn.IsEnabled,
	})
}

func (s *Server) handleReconnect(w http.ResponseWriter, r *http.Request, identity *hub.Identity) {
	if err := s.connections.Reconnect(r.Context(), identity.UserID, r.PathValue("provider")); err != nil {
		writeHubError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request, identity *hub.Identity) {
	hard := r.URL.Query().Get("hard") == "true"
	if err := s.connections.Disconnect(r.Context(), identity.UserID, r.PathValue("provider"), hard); err != nil {
		writeHubError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCreatePAT(w http.ResponseWriter, r *http.Request, identity *hub.Identity) {
	var body struct {
		Name         string `json:"name"`
		LifetimeDays int    `json:"lifetime_days"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&body); err != nil {
		writeHubError(w, hub.NewValidationError("malformed JSON body"))
		return
	}
	if body.LifetimeDays == 0 {
		body.LifetimeDays = 90
	}

	raw, pat, err := s.auth.CreatePAT(r.Context(), identity.UserID, body.Name, time.Duration(body.LifetimeDays)*24*time.Hour)
	if err != nil {
		writeHubError(w, err)
		return
	}
	// The plaintext token appears in this response and nowhere else.
	writeJSONBody(w, http.StatusCreated, map[string]interface{}{
		"id":         pat.ID,
		"name":       pat.Name,
		"token":      raw,
		"expires_at": pat.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleRevokePAT(w http.ResponseWriter, r *http.Request, identity *hub.Identity) {
	if err := s.auth.RevokePAT(r.Context(), identity.UserID, r.PathValue("id")); err != nil {
		writeHubError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request, identity *hub.Identity) {
	var body struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&body); err != nil {
		writeHubError(w, hub.NewValidationError("malformed JSON body"))
		return
	}
	if err := s.auth.ChangePassword(r.Context(), identity.UserID, body.CurrentPassword, body.NewPassword); err != nil {
		writeHubError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request, identity *hub.Identity) {
	if err := s.auth.DeleteAccount(r.Context(), identity.UserID); err != nil {
		writeHubError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSONBody(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Error("Gateway", err, "Failed to encode response body")
	}
}

// writeHubError maps hub error kinds onto HTTP statuses for the REST
// surface. Only public messages leave the process.
func writeHubError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch hub.KindOf(err) {
	case hub.KindAuthError:
		status = http.StatusUnauthorized
	case hub.KindNotConnected:
		status = http.StatusConflict
	case hub.KindValidationError:
		status = http.StatusBadRequest
	case hub.KindRateLimited:
		status = http.StatusTooManyRequests
	case hub.KindProviderError:
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError {
		logging.Error("Gateway", err, "Request failed")
	}
	message := hub.PublicMessage(err)
	if status == http.StatusInternalServerError {
		message = "internal error"
	}
	writeJSONBody(w, status, map[string]string{
		"error":   string(hub.KindOf(err)),
		"message": message,
	})
}
