package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"mcphub/internal/hub"
	"mcphub/pkg/logging"
)

// PutOAuthState persists an ephemeral state row (authorize session,
// authorization code, or provider-connect state).
func (s *Store) PutOAuthState(ctx context.Context, state *hub.OAuthState) error {
	if strings.TrimSpace(state.State) == "" {
		return fmt.Errorf("state value is required")
	}
	if state.Kind == "" {
		return fmt.Errorf("state kind is required")
	}
	if state.ExpiresAt.IsZero() {
		return fmt.Errorf("state expiry is required")
	}
	if state.CreatedAt.IsZero() {
		state.CreatedAt = time.Now()
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO oauth_states (
	state, kind, user_id, provider, client_id, redirect_uri, scope,
	code_challenge, code_challenge_method, created_at, expires_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		state.State,
		string(state.Kind),
		nullString(state.UserID),
		nullString(state.Provider),
		nullString(state.ClientID),
		nullString(state.RedirectURI),
		nullString(state.Scope),
		nullString(state.CodeChallenge),
		nullString(state.CodeChallengeMethod),
		toMillis(state.CreatedAt),
		toMillis(state.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("put oauth state: %w", err)
	}
	return nil
}

// ConsumeOAuthState atomically deletes and returns the state row of the
// given kind. The single DELETE ... RETURNING statement guarantees that two
// concurrent consumers cannot both succeed. Expired rows are treated as
// absent.
func (s *Store) ConsumeOAuthState(ctx context.Context, stateValue string, kind hub.OAuthStateKind) (*hub.OAuthState, error) {
	row := s.sqlDB.QueryRowContext(ctx, `
DELETE FROM oauth_states WHERE state = ? AND kind = ?
RETURNING state, kind, user_id, provider, client_id, redirect_uri, scope,
          code_challenge, code_challenge_method, created_at, expires_at
`, stateValue, string(kind))

	var (
		st                                    hub.OAuthState
		k                                     string
		userID, provider, clientID            sql.NullString
		redirectURI, scope, challenge, method sql.NullString
		createdAt, expiresAt                  int64
	)
	err := row.Scan(&st.State, &k, &userID, &provider, &clientID,
		&redirectURI, &scope, &challenge, &method, &createdAt, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("consume oauth state: %w", err)
	}

	st.Kind = hub.OAuthStateKind(k)
	st.UserID = userID.String
	st.Provider = provider.String
	st.ClientID = clientID.String
	st.RedirectURI = redirectURI.String
	st.Scope = scope.String
	st.CodeChallenge = challenge.String
	st.CodeChallengeMethod = method.String
	st.CreatedAt = fromMillis(createdAt)
	st.ExpiresAt = fromMillis(expiresAt)

	if time.Now().After(st.ExpiresAt) {
		// Consumed and discarded; a stale state is invalid either way.
		return nil, ErrNotFound
	}

	return &st, nil
}

// CleanupExpiredStates removes state rows past their TTL. Called from a
// background ticker.
func (s *Store) CleanupExpiredStates(ctx context.Context) (int64, error) {
	res, err := s.sqlDB.ExecContext(ctx,
		"DELETE FROM oauth_states WHERE expires_at < ?", toMillis(time.Now()))
	if err != nil {
		return 0, fmt.Errorf("cleanup oauth states: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		logging.Debug("Store", "cleaned up %d expired oauth states", n)
	}
	return n, nil
}
