package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/liamcoop/automations/rules"
	"github.com/moogar0880/problems"
)

// TestHandleEngineError verifies engine errors become problem documents with the matching status
func TestHandleEngineError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		status   int
		wantType string
	}{
		{"conflict", fmt.Errorf("rule r1: %w", rules.ErrRuleExists), http.StatusConflict, "conflict"},
		{"not found", fmt.Errorf("rule r1: %w", rules.ErrRuleNotFound), http.StatusNotFound, "not_found"},
		{"validation", &rules.ValidationError{Problems: []string{"name is required"}}, http.StatusBadRequest, "validation_error"},
		{"internal", errors.New("disk full"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/v1/rules", nil)
			handleEngineError(rec, req, tt.err)

			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, rec.Code)
			}
			if ct := rec.Header().Get("Content-Type"); ct != problemContentType {
				t.Errorf("expected problem content type, got %q", ct)
			}
			var p problems.Problem
			if err := json.NewDecoder(rec.Body).Decode(&p); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if p.Status != tt.status || p.Type != tt.wantType || p.Instance != "/api/v1/rules" {
				t.Errorf("unexpected problem: %+v", p)
			}
		})
	}
}
