package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/neurocode/neurocode/internal/middleware"
	"github.com/neurocode/neurocode/internal/model"
)

func TestAccountHandler_RotateAPIKey_ReturnsNewKey(t *testing.T) {
	accounts := &mockAccountService{
		rotateCredentialFn: func(ctx context.Context, accountID string) (string, error) {
			if accountID != "acc-123" {
				t.Errorf("RotateCredential accountID = %q, want acc-123", accountID)
			}
			return "nc_live_rotated", nil
		},
	}
	h := NewAccountHandler(accounts)

	req := withAccountID(httptest.NewRequest(http.MethodPost, "/api/account/api-key", nil), "acc-123")
	w := httptest.NewRecorder()
	h.RotateAPIKey(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp apiKeyResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.APIKey != "nc_live_rotated" {
		t.Errorf("api_key = %q, want nc_live_rotated", resp.APIKey)
	}
}

func TestAccountHandler_RotateAPIKey_Errors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"account missing", model.ErrAccountNotFound, http.StatusNotFound},
		{"store down", fmt.Errorf("failed to update credential: %w", model.ErrStoreUnavailable), http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewAccountHandler(&mockAccountService{
				rotateCredentialFn: func(ctx context.Context, accountID string) (string, error) {
					return "", tt.err
				},
			})

			req := withAccountID(httptest.NewRequest(http.MethodPost, "/api/account/api-key", nil), "acc-123")
			w := httptest.NewRecorder()
			h.RotateAPIKey(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestAccountHandler_RotateAPIKey_NoAccountID_ReturnsUnauthorized(t *testing.T) {
	h := NewAccountHandler(&mockAccountService{})

	w := httptest.NewRecorder()
	h.RotateAPIKey(w, httptest.NewRequest(http.MethodPost, "/api/account/api-key", nil))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestAccountHandler_Usage_ReturnsCounters(t *testing.T) {
	h := NewAccountHandler(&mockAccountService{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/usage", nil)
	req = req.WithContext(middleware.ContextWithAccount(req.Context(), testAccount()))
	w := httptest.NewRecorder()
	h.Usage(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp usageResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	want := usageResponse{Plan: "free", RequestsToday: 3, DailyLimit: 1000, Remaining: 997, RequestsTotal: 42}
	if resp != want {
		t.Errorf("usage = %+v, want %+v", resp, want)
	}
}
