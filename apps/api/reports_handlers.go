package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const moderationAlertTimeout = 15 * time.Second

func (a *App) categoriesHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"categories": categoryCatalog(),
		"statuses":   statusCatalog(),
	})
}

func (a *App) filtersHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"filters": workspaceFromContext(c).ActiveFilters()})
}

func (a *App) toggleFilterHandler(c *gin.Context) {
	var payload filterTogglePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		writeAPIError(c, &apiError{Status: http.StatusBadRequest, Code: "invalid_payload", Message: "Invalid filter payload"})
		return
	}
	if err := validatePayload(payload); err != nil {
		writeAPIError(c, err)
		return
	}
	category, err := ParseCategory(payload.Category)
	if err != nil {
		writeAPIError(c, &apiError{Status: http.StatusBadRequest, Code: "invalid_category", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"filters": workspaceFromContext(c).ToggleFilter(category)})
}

func (a *App) reportsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"reports": workspaceFromContext(c).VisibleReports()})
}

func (a *App) myReportsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"reports": workspaceFromContext(c).MyReports()})
}

func (a *App) submitReportHandler(c *gin.Context) {
	var payload draftPayload
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&payload); err != nil {
			a.metrics.observeRejected("invalid_payload")
			writeAPIError(c, &apiError{Status: http.StatusBadRequest, Code: "invalid_payload", Message: "Invalid report payload"})
			return
		}
	}
	if err := validatePayload(payload); err != nil {
		a.metrics.observeRejected("invalid_payload")
		writeAPIError(c, err)
		return
	}

	if !a.reportLimiter.Allow("report:" + c.ClientIP()) {
		a.metrics.observeRejected(errReportRateLimited.Code)
		writeAPIError(c, errReportRateLimited)
		return
	}

	ws := workspaceFromContext(c)
	report, err := ws.Submit(payload.patch())
	if err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) {
			a.metrics.observeRejected(apiErr.Code)
		}
		writeAPIError(c, err)
		return
	}
	a.metrics.observeSubmitted()
	a.log.Info("report submitted", "session_id", ws.ID(), "report_id", report.ID, "category", report.Category.Code())

	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), moderationAlertTimeout)
		defer cancel()
		a.sendModerationAlert(ctx, report)
	}()

	c.JSON(http.StatusCreated, gin.H{
		"report":       report,
		"notification": ws.Notification(),
		"draft":        ws.Draft(),
	})
}

func (a *App) draftHandler(c *gin.Context) {
	c.JSON(http.StatusOK, workspaceFromContext(c).Draft())
}

func (a *App) updateDraftHandler(c *gin.Context) {
	var payload draftPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		writeAPIError(c, &apiError{Status: http.StatusBadRequest, Code: "invalid_payload", Message: "Invalid draft payload"})
		return
	}
	if err := validatePayload(payload); err != nil {
		writeAPIError(c, err)
		return
	}
	c.JSON(http.StatusOK, workspaceFromContext(c).UpdateDraft(payload.patch()))
}

func (a *App) typingHandler(c *gin.Context) {
	var payload typingPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		writeAPIError(c, &apiError{Status: http.StatusBadRequest, Code: "invalid_payload", Message: "Invalid typing payload"})
		return
	}
	if err := validatePayload(payload); err != nil {
		writeAPIError(c, err)
		return
	}
	ws := workspaceFromContext(c)
	ws.SetTyping(*payload.Typing)
	c.JSON(http.StatusOK, ws.Draft())
}

func (a *App) centerHandler(c *gin.Context) {
	var payload centerPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		writeAPIError(c, &apiError{Status: http.StatusBadRequest, Code: "invalid_payload", Message: "Invalid map center payload"})
		return
	}
	if err := validatePayload(payload); err != nil {
		writeAPIError(c, err)
		return
	}
	center := workspaceFromContext(c).CenterChanged(Coords{*payload.Lat, *payload.Lng})
	c.JSON(http.StatusOK, gin.H{"center": center})
}

func (a *App) dashboardHandler(c *gin.Context) {
	c.JSON(http.StatusOK, workspaceFromContext(c).Dashboard())
}
