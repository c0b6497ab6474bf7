package main

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const workspaceContextKey = "workspace"

func (a *App) createSessionToken(sessionID string) (string, error) {
	claims := jwt.MapClaims{
		"sid": sessionID,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(sessionCookieMaxAge).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(a.cfg.AppSigningSecret))
}

func (a *App) verifySessionToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return []byte(a.cfg.AppSigningSecret), nil
	})
	if err != nil || !token.Valid {
		return "", fmt.Errorf("invalid session token")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("invalid token claims")
	}
	sessionID, _ := claims["sid"].(string)
	if strings.TrimSpace(sessionID) == "" {
		return "", fmt.Errorf("missing sid")
	}
	return sessionID, nil
}

// attachWorkspace resolves the session cookie to a live workspace. Unknown,
// expired or tampered cookies leave the request anonymous; a workspace is
// only created by ensureWorkspace.
func (a *App) attachWorkspace() gin.HandlerFunc {
	return func(c *gin.Context) {
		if token, err := c.Cookie(sessionCookieName); err == nil {
			if sessionID, err := a.verifySessionToken(token); err == nil {
				if ws, ok := a.workspaces.Get(sessionID); ok {
					c.Set(workspaceContextKey, ws)
				}
			}
		}
		c.Next()
	}
}

// ensureWorkspace returns the request's workspace, creating one and issuing
// its cookie when the request is anonymous. Creation is limited per client IP.
func (a *App) ensureWorkspace(c *gin.Context) (*Workspace, error) {
	if ws := workspaceFromContext(c); ws != nil {
		return ws, nil
	}
	if !a.sessionLimiter.Allow("session:" + c.ClientIP()) {
		a.log.Warn("session creation rate limited", "ip", c.ClientIP())
		return nil, errSessionRateLimited
	}

	ws := a.workspaces.Create()
	token, err := a.createSessionToken(ws.ID())
	if err != nil {
		return nil, err
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(sessionCookieName, token, int(sessionCookieMaxAge.Seconds()), "/", "", a.isProduction(), true)
	c.Set(workspaceContextKey, ws)
	a.log.Debug("workspace created", "session_id", ws.ID())
	return ws, nil
}

// anonymousState is what a browser without a workspace sees: the login
// screen over the seeded district map.
func anonymousState() SessionState {
	return SessionState{
		Role:    RoleNone,
		View:    ViewLogin,
		Center:  districtCenter,
		Filters: newCategoryFilter().Active(),
		Draft:   newReportDraft(),
	}
}

func workspaceFromContext(c *gin.Context) *Workspace {
	value, ok := c.Get(workspaceContextKey)
	if !ok {
		return nil
	}
	ws, _ := value.(*Workspace)
	return ws
}

func (a *App) requireSignedIn() gin.HandlerFunc {
	return func(c *gin.Context) {
		ws := workspaceFromContext(c)
		if ws == nil || ws.Role() == RoleNone {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "Sign in required", "view": ViewLogin})
			c.Abort()
			return
		}
		c.Next()
	}
}

func (a *App) requireRole(role Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws := workspaceFromContext(c)
		if ws == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "Sign in required", "view": ViewLogin})
			c.Abort()
			return
		}
		if ws.Role() != role {
			c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": "Insufficient role"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// checkAdminPassword is a no-op unless ADMIN_PASSWORD_HASH is configured.
func (a *App) checkAdminPassword(password string) error {
	if a.cfg.AdminPasswordHash == "" {
		return nil
	}
	if bcrypt.CompareHashAndPassword([]byte(a.cfg.AdminPasswordHash), []byte(password)) != nil {
		return &apiError{Status: http.StatusUnauthorized, Code: "invalid_credentials", Message: "Invalid credentials"}
	}
	return nil
}

func (a *App) isProduction() bool {
	return strings.EqualFold(a.cfg.Env, "production")
}
