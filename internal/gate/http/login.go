package http

import (
	"errors"
	"net/http"

	"github.com/aussiebroadwan/lockstep/internal/gate/service"
	"github.com/aussiebroadwan/lockstep/pkg/httpx"
	"github.com/aussiebroadwan/lockstep/pkg/slogx"
)

// LoginHandler accepts form credentials and returns an access token. The
// AuthService runs the normalizer before returning, so by the time a
// response is written here the failure path has already been padded to the
// learned baseline.
type LoginHandler struct {
	AuthService *service.AuthService
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

func (h *LoginHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := slogx.FromContext(r.Context())

	if err := r.ParseForm(); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "malformed form body")
		return
	}

	username := r.PostFormValue("username")
	password := r.PostFormValue("password")
	if username == "" || password == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "username and password are required")
		return
	}

	token, err := h.AuthService.Login(r.Context(), username, password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			httpx.WriteError(w, http.StatusUnauthorized, "invalid_credentials", "username or password is incorrect")
			return
		}
		log.Error("login failed", "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "unable to process login")
		return
	}

	httpx.WriteJSON(w, http.StatusOK, loginResponse{
		AccessToken: token,
		TokenType:   "Bearer",
	})
}
