package main

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

func (a *App) adminReportsHandler(c *gin.Context) {
	ws := workspaceFromContext(c)
	c.JSON(http.StatusOK, gin.H{
		"reports": ws.AllReports(),
		"stats":   ws.Dashboard(),
	})
}

func (a *App) adminUpdateStatusHandler(c *gin.Context) {
	reportID, ok := parseReportID(c)
	if !ok {
		writeAPIError(c, &apiError{Status: http.StatusBadRequest, Code: "invalid_id", Message: "Invalid report ID"})
		return
	}
	var payload statusPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		writeAPIError(c, &apiError{Status: http.StatusBadRequest, Code: "invalid_payload", Message: "Invalid payload"})
		return
	}
	if err := validatePayload(payload); err != nil {
		writeAPIError(c, err)
		return
	}
	status, err := ParseStatus(payload.Status)
	if err != nil {
		writeAPIError(c, &apiError{Status: http.StatusBadRequest, Code: "invalid_status", Message: err.Error()})
		return
	}

	ws := workspaceFromContext(c)
	report, changed := ws.SetStatus(reportID, status)
	if !changed {
		c.JSON(http.StatusOK, gin.H{"changed": false})
		return
	}

	a.metrics.observeModeration(moderationActionStatus)
	a.recordModeration(c.Request.Context(), ModerationEvent{
		SessionID:      ws.ID(),
		ReportID:       report.ID,
		Action:         moderationActionStatus,
		Status:         report.Status,
		ReportTitle:    report.Title,
		ReportCategory: report.Category,
		At:             a.clock.Now(),
	})
	c.JSON(http.StatusOK, gin.H{
		"changed":      true,
		"report":       report,
		"notification": ws.Notification(),
	})
}

func (a *App) adminDeleteReportHandler(c *gin.Context) {
	reportID, ok := parseReportID(c)
	if !ok {
		writeAPIError(c, &apiError{Status: http.StatusBadRequest, Code: "invalid_id", Message: "Invalid report ID"})
		return
	}

	ws := workspaceFromContext(c)
	report, changed := ws.Remove(reportID)
	if !changed {
		c.JSON(http.StatusOK, gin.H{"changed": false})
		return
	}

	a.metrics.observeModeration(moderationActionDelete)
	a.recordModeration(c.Request.Context(), ModerationEvent{
		SessionID:      ws.ID(),
		ReportID:       report.ID,
		Action:         moderationActionDelete,
		ReportTitle:    report.Title,
		ReportCategory: report.Category,
		At:             a.clock.Now(),
	})
	c.JSON(http.StatusOK, gin.H{
		"changed":      true,
		"notification": ws.Notification(),
	})
}

func parseReportID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
