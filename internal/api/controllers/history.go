package controllers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/datallboy/manifetch/internal/app"
	"github.com/datallboy/manifetch/internal/domain"
	"github.com/datallboy/manifetch/internal/store"
	"github.com/labstack/echo/v5"
)

type HistoryController struct {
	App *app.Context
}

// List returns recorded runs, newest first. ?limit= caps the result.
func (ctrl *HistoryController) List(c *echo.Context) error {
	if ctrl.App.Store == nil {
		return c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "run history is disabled"})
	}

	limit := 0
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "limit must be a non-negative integer"})
		}
		limit = n
	}

	runs, err := ctrl.App.Store.ListRuns(c.Request().Context(), limit)
	if err != nil {
		ctrl.App.Logger.Error("Failed to list runs: %v", err)
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to list runs"})
	}
	if runs == nil {
		runs = []domain.RunRecord{}
	}
	return c.JSON(http.StatusOK, RunsResponse{Runs: runs})
}

func (ctrl *HistoryController) Get(c *echo.Context) error {
	if ctrl.App.Store == nil {
		return c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "run history is disabled"})
	}

	id := c.Param("id")
	run, err := ctrl.App.Store.GetRun(c.Request().Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: "run not found", RunID: id})
	}
	if err != nil {
		ctrl.App.Logger.Error("Failed to fetch run %s: %v", id, err)
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to fetch run"})
	}
	return c.JSON(http.StatusOK, run)
}
