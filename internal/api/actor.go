package api

import (
	"net/http"
	"strings"

	"admissions-workers/internal/models"
)

// UserHeader names the operator performing a request.
const UserHeader = "X-Admin-User"

// actorFromRequest derives who is acting from the request headers. Empty
// fields are filled with defaults by the transition engine.
func actorFromRequest(r *http.Request) models.Actor {
	ua := r.UserAgent()
	return models.Actor{
		Username: strings.TrimSpace(r.Header.Get(UserHeader)),
		Device:   deviceType(ua),
		Browser:  browserName(ua),
		Platform: platformName(ua),
	}
}

func deviceType(ua string) string {
	switch {
	case ua == "":
		return ""
	case strings.Contains(ua, "iPad") || strings.Contains(ua, "Tablet"):
		return "Tablet"
	case strings.Contains(ua, "Mobile") || strings.Contains(ua, "Android"):
		return "Mobile"
	default:
		return "Desktop"
	}
}

func browserName(ua string) string {
	// Order matters: Edge and Chrome both claim Safari.
	switch {
	case strings.Contains(ua, "Edg/"):
		return "Edge"
	case strings.Contains(ua, "Firefox/"):
		return "Firefox"
	case strings.Contains(ua, "Chrome/"):
		return "Chrome"
	case strings.Contains(ua, "Safari/"):
		return "Safari"
	case ua != "":
		return "Unknown"
	}
	return ""
}

func platformName(ua string) string {
	switch {
	case strings.Contains(ua, "Android"):
		return "Android"
	case strings.Contains(ua, "iPhone") || strings.Contains(ua, "iPad"):
		return "iOS"
	case strings.Contains(ua, "Windows"):
		return "Windows"
	case strings.Contains(ua, "Mac OS"):
		return "macOS"
	case strings.Contains(ua, "Linux"):
		return "Linux"
	case ua != "":
		return "Unknown"
	}
	return ""
}
