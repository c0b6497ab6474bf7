package main

import "fmt"

type Role string

const (
	RoleNone  Role = "none"
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

type View string

const (
	ViewMap       View = "map"
	ViewDashboard View = "dashboard"
	ViewMyReports View = "my-reports"
	ViewAdmin     View = "admin"
	ViewLogin     View = "login"
)

var knownViews = map[View]struct{}{
	ViewMap:       {},
	ViewDashboard: {},
	ViewMyReports: {},
	ViewAdmin:     {},
	ViewLogin:     {},
}

func parseLoginRole(raw string) (Role, error) {
	switch Role(raw) {
	case RoleAdmin, RoleUser:
		return Role(raw), nil
	default:
		return "", fmt.Errorf("unknown role %q", raw)
	}
}

// resolveView decides what a session may actually see. Signed-out sessions
// only ever get the login screen; admin content is never handed to a
// non-admin even if they ask for it directly.
func resolveView(role Role, requested View) View {
	if role != RoleAdmin && role != RoleUser {
		return ViewLogin
	}
	if _, ok := knownViews[requested]; !ok {
		return ViewMap
	}
	if requested == ViewAdmin && role != RoleAdmin {
		return ViewMap
	}
	if requested == ViewLogin {
		return landingView(role)
	}
	return requested
}

func landingView(role Role) View {
	switch role {
	case RoleAdmin:
		return ViewAdmin
	case RoleUser:
		return ViewMap
	default:
		return ViewLogin
	}
}

func loginGreeting(role Role) string {
	if role == RoleAdmin {
		return "Вход выполнен как администратор"
	}
	return "Добро пожаловать в Safe City Map"
}
