package controllers

import (
	"net/http"

	"github.com/datallboy/manifetch/internal/app"
	"github.com/datallboy/manifetch/internal/engine"
	"github.com/labstack/echo/v5"
)

type AuditController struct {
	App *app.Context
}

// Audit checks the configured output tree against a manifest without
// downloading. ?manifest= and ?out_dir= override the configured values.
func (ctrl *AuditController) Audit(c *echo.Context) error {
	src := c.QueryParam("manifest")
	if src == "" {
		src = ctrl.App.Config.Manifest.Source
	}
	outDir := c.QueryParam("out_dir")
	if outDir == "" {
		outDir = ctrl.App.Config.Download.OutDir
	}

	m, err := ctrl.App.Loader.Load(c.Request().Context(), src)
	if err != nil {
		return c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error()})
	}

	v, err := engine.NewVerifier(ctrl.App.Config.Download.Digest)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
	}

	results, err := engine.Audit(c.Request().Context(), m, outDir, v, ctrl.App.Config.Download.Workers)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
	}
	return c.JSON(http.StatusOK, AuditResponse{Results: results})
}
