package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/BathrobeBat/noise-sensor/pkg/api"
	"github.com/BathrobeBat/noise-sensor/pkg/database"
	"go.uber.org/zap"
)

func (rm *RouteManager) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req api.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, api.LoginResponse{
			Success: false,
			Message: "Invalid request body",
		})
		return
	}

	// Validate credentials
	user, err := rm.users.ValidateUser(r.Context(), req.Username, req.Password)
	if err != nil {
		if !errors.Is(err, database.ErrInvalidCredentials) {
			rm.logger.Error("Failed to validate user", zap.Error(err))
		}
		writeJSON(w, http.StatusUnauthorized, api.LoginResponse{
			Success: false,
			Message: "Invalid username or password",
		})
		return
	}

	token, expiresAt, err := rm.GenerateJWT(user)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, api.LoginResponse{
			Success: false,
			Message: "Failed to generate token",
		})
		return
	}

	writeJSON(w, http.StatusOK, api.LoginResponse{
		Success:   true,
		Token:     token,
		ExpiresAt: expiresAt,
		User: api.UserInfo{
			ID:       user.ID.String(),
			Username: user.Username,
		},
	})
}

func (rm *RouteManager) handleMe(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	writeJSON(w, http.StatusOK, api.UserInfo{
		ID:       user.ID.String(),
		Username: user.Username,
	})
}
