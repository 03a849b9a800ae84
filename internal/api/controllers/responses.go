package controllers

import (
	"github.com/datallboy/manifetch/internal/domain"
	"github.com/datallboy/manifetch/internal/engine"
)

type ErrorResponse struct {
	Error string `json:"error"`
	RunID string `json:"run_id,omitempty"`
}

// StartRequest is the body of POST /api/run. Empty fields fall back to the
// configured defaults.
type StartRequest struct {
	Manifest     string `json:"manifest"`
	OutDir       string `json:"out_dir"`
	Paused       bool   `json:"paused"`
	CreateOutDir bool   `json:"create_out_dir"`
}

type StartResponse struct {
	RunID string `json:"run_id"`
	Total int    `json:"total"`
}

type OutcomesResponse struct {
	RunID    string                 `json:"run_id"`
	Outcomes []domain.OutcomeRecord `json:"outcomes"`
}

type RunsResponse struct {
	Runs []domain.RunRecord `json:"runs"`
}

type AuditResponse struct {
	Results []engine.AuditResult `json:"results"`
}
