package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/liamcoop/automations/internal/logger"
	"github.com/liamcoop/automations/rules"
	"github.com/moogar0880/problems"
)

const problemContentType = "application/problem+json"

func writeProblem(w http.ResponseWriter, problem *problems.Problem) {
	w.Header().Set("Content-Type", problemContentType)
	w.WriteHeader(problem.Status)
	_ = json.NewEncoder(w).Encode(problem)
}

func badRequest(w http.ResponseWriter, r *http.Request, detail string) {
	writeProblem(w, problems.NewStatusProblem(http.StatusBadRequest).
		WithInstance(r.URL.Path).
		WithType("validation_error").
		WithDetail(detail))
}

func notFound(w http.ResponseWriter, r *http.Request, detail string) {
	writeProblem(w, problems.NewStatusProblem(http.StatusNotFound).
		WithInstance(r.URL.Path).
		WithType("not_found").
		WithDetail(detail))
}

func internalError(w http.ResponseWriter, r *http.Request, err error) {
	logger.Error(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	writeProblem(w, problems.NewStatusProblem(http.StatusInternalServerError).
		WithInstance(r.URL.Path).
		WithType("internal_error").
		WithError(err))
}

// handleEngineError maps engine and store errors to problem documents
func handleEngineError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *rules.ValidationError
	switch {
	case errors.As(err, &verr):
		badRequest(w, r, verr.Error())
	case rules.IsNotFound(err):
		notFound(w, r, "rule not found")
	case errors.Is(err, rules.ErrRuleExists):
		writeProblem(w, problems.NewStatusProblem(http.StatusConflict).
			WithInstance(r.URL.Path).
			WithType("conflict").
			WithDetail(err.Error()))
	default:
		internalError(w, r, err)
	}
}
