package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/datallboy/manifetch/internal/app"
	"github.com/datallboy/manifetch/internal/domain"
	"github.com/datallboy/manifetch/internal/engine"
	"github.com/labstack/echo/v5"
)

type RunController struct {
	App *app.Context
}

// Status returns the snapshot of the current (or last) run.
func (ctrl *RunController) Status(c *echo.Context) error {
	return c.JSON(http.StatusOK, ctrl.App.Controller.Snapshot())
}

// Start loads a manifest and launches a run over it
func (ctrl *RunController) Start(c *echo.Context) error {
	var req StartRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body: " + err.Error()})
	}
	if req.Manifest == "" {
		req.Manifest = ctrl.App.Config.Manifest.Source
	}
	if req.OutDir == "" {
		req.OutDir = ctrl.App.Config.Download.OutDir
	}

	// Refuse before loading: the manifest can be a large download
	if ctrl.App.Controller.Snapshot().Status == domain.StatusRunning {
		return c.JSON(http.StatusConflict, ErrorResponse{Error: domain.ErrRunActive.Error()})
	}

	m, err := ctrl.App.Loader.Load(c.Request().Context(), req.Manifest)
	if err != nil {
		ctrl.App.Logger.Error("Failed to load manifest %s: %v", req.Manifest, err)
		return c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error()})
	}

	id, err := ctrl.App.Controller.Start(context.Background(), m, req.OutDir, runOptions(req))
	switch {
	case errors.Is(err, domain.ErrRunActive):
		return c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error()})
	case err != nil:
		return c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error(), RunID: id})
	}

	return c.JSON(http.StatusAccepted, StartResponse{RunID: id, Total: m.Len()})
}

func runOptions(req StartRequest) engine.RunOptions {
	return engine.RunOptions{
		Source:       req.Manifest,
		StartPaused:  req.Paused,
		CreateOutDir: req.CreateOutDir,
	}
}

func (ctrl *RunController) Pause(c *echo.Context) error {
	ctrl.App.Controller.Pause()
	return c.JSON(http.StatusOK, ctrl.App.Controller.Snapshot())
}

func (ctrl *RunController) Resume(c *echo.Context) error {
	ctrl.App.Controller.Resume()
	return c.JSON(http.StatusOK, ctrl.App.Controller.Snapshot())
}

// Stop only latches the stop signal; poll Status to see the run wind down.
func (ctrl *RunController) Stop(c *echo.Context) error {
	ctrl.App.Controller.Stop()
	return c.JSON(http.StatusAccepted, ctrl.App.Controller.Snapshot())
}

// Outcomes lists the per-file results recorded so far, in manifest order.
func (ctrl *RunController) Outcomes(c *echo.Context) error {
	snap := ctrl.App.Controller.Snapshot()
	return c.JSON(http.StatusOK, OutcomesResponse{RunID: snap.RunID, Outcomes: ctrl.App.Controller.OutcomeRecords()})
}
