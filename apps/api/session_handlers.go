package main

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

func (a *App) sessionHandler(c *gin.Context) {
	ws := workspaceFromContext(c)
	if ws == nil {
		c.JSON(http.StatusOK, anonymousState())
		return
	}
	c.JSON(http.StatusOK, ws.State())
}

func (a *App) loginHandler(c *gin.Context) {
	var payload loginPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		writeAPIError(c, &apiError{Status: http.StatusBadRequest, Code: "invalid_payload", Message: "Invalid login payload"})
		return
	}
	payload.Role = strings.TrimSpace(payload.Role)
	if err := validatePayload(payload); err != nil {
		writeAPIError(c, err)
		return
	}
	role, err := parseLoginRole(payload.Role)
	if err != nil {
		writeAPIError(c, &apiError{Status: http.StatusBadRequest, Code: "invalid_role", Message: err.Error()})
		return
	}
	if role == RoleAdmin {
		if err := a.checkAdminPassword(payload.Password); err != nil {
			a.log.Warn("admin login rejected", "ip", c.ClientIP())
			writeAPIError(c, err)
			return
		}
	}

	ws, err := a.ensureWorkspace(c)
	if err != nil {
		writeAPIError(c, err)
		return
	}
	ws.Login(role)
	a.log.Info("session signed in", "session_id", ws.ID(), "role", role)
	c.JSON(http.StatusOK, ws.State())
}

func (a *App) logoutHandler(c *gin.Context) {
	ws := workspaceFromContext(c)
	if ws == nil {
		c.JSON(http.StatusOK, anonymousState())
		return
	}
	ws.Logout()
	c.JSON(http.StatusOK, ws.State())
}

func (a *App) viewHandler(c *gin.Context) {
	var payload viewPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		writeAPIError(c, &apiError{Status: http.StatusBadRequest, Code: "invalid_payload", Message: "Invalid view payload"})
		return
	}
	if err := validatePayload(payload); err != nil {
		writeAPIError(c, err)
		return
	}

	ws := workspaceFromContext(c)
	if ws == nil {
		c.JSON(http.StatusOK, gin.H{"view": ViewLogin})
		return
	}
	view := ws.Navigate(View(strings.TrimSpace(payload.View)))
	c.JSON(http.StatusOK, gin.H{"view": view})
}

func (a *App) notificationHandler(c *gin.Context) {
	var notification *Notification
	if ws := workspaceFromContext(c); ws != nil {
		notification = ws.Notification()
	}
	c.JSON(http.StatusOK, gin.H{"notification": notification})
}
