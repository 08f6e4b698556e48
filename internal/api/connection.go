package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/nerrad567/hub-companion/internal/hub"
)

// ConnectionRequest carries the operator's own hub token, from which a
// long-lived token for the shared connection is minted. The token may also
// be passed as "Authorization: Bearer <token>".
type ConnectionRequest struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`

	// ClientID is required to refresh an expired access token.
	ClientID string `json:"client_id,omitempty"`
}

// handleGetGlobalConnection reports the shared connection.
func (s *Server) handleGetGlobalConnection(w http.ResponseWriter, r *http.Request) {
	status, err := s.connections.Status(r.Context())
	if err != nil {
		s.logger.Error("reading hub connection status failed", "error", err)
		writeInternalError(w, "failed to read connection status")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleSetGlobalConnection makes the operator's credentials the source of
// the shared connection.
func (s *Server) handleSetGlobalConnection(w http.ResponseWriter, r *http.Request) {
	req, err := decodeConnectionRequest(r)
	if err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.AccessToken == "" {
		writeUnauthorized(w, "an access token for the hub is required", s.hubURL)
		return
	}

	creds := s.userCredentials(r.Context(), req)
	if err := s.connections.SetGlobalConnection(r.Context(), creds); err != nil {
		switch {
		case errors.Is(err, hub.ErrInvalidAuth):
			writeUnauthorized(w, "the hub rejected the credentials", s.hubURL)
		case errors.Is(err, hub.ErrSupervised):
			writeBadRequest(w, err.Error())
		default:
			s.logger.Warn("setting global connection failed", "error", err)
			writeBadRequest(w, fmt.Sprintf("could not connect to the hub via %s", s.hubURL))
		}
		return
	}

	s.handleGetGlobalConnection(w, r)
}

// handleUnsetGlobalConnection drops the shared connection and its token.
func (s *Server) handleUnsetGlobalConnection(w http.ResponseWriter, r *http.Request) {
	if err := s.connections.UnsetGlobalConnection(r.Context()); err != nil {
		s.logger.Error("unsetting global connection failed", "error", err)
		writeInternalError(w, "failed to unset connection")
		return
	}
	writeJSON(w, http.StatusOK, hub.Status{Connected: false})
}

// decodeConnectionRequest reads the body, falling back to the bearer
// token when the body is empty.
func decodeConnectionRequest(r *http.Request) (ConnectionRequest, error) {
	var req ConnectionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			return ConnectionRequest{}, err
		}
	}
	if req.AccessToken == "" {
		if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
			req.AccessToken = strings.TrimSpace(token)
		}
	}
	return req, nil
}

// userCredentials turns a request into hub credentials. A refresh token
// with a client id yields credentials that refresh themselves through the
// hub's token endpoint.
func (s *Server) userCredentials(ctx context.Context, req ConnectionRequest) *hub.Credentials {
	token := &oauth2.Token{
		AccessToken:  req.AccessToken,
		RefreshToken: req.RefreshToken,
		TokenType:    "Bearer",
	}
	if req.ExpiresIn > 0 {
		token.Expiry = time.Now().Add(time.Duration(req.ExpiresIn) * time.Second)
	}

	var source oauth2.TokenSource
	if req.RefreshToken != "" && req.ClientID != "" {
		oc := &oauth2.Config{
			ClientID: req.ClientID,
			Endpoint: oauth2.Endpoint{
				TokenURL:  strings.TrimRight(s.hubURL, "/") + "/auth/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		}
		// The source outlives the request.
		source = oc.TokenSource(context.WithoutCancel(ctx), token)
	}
	return hub.NewCredentials(s.hubURL, token, source)
}
