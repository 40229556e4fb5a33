package device

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Fingerprint holds the stable client components a device identity is
// derived from. No timestamps or client-supplied random values belong
// here: the same hardware must always hash to the same id.
type Fingerprint struct {
	UserAgent        string `json:"user_agent" binding:"required"`
	ScreenResolution string `json:"screen_resolution"`
	Timezone         string `json:"timezone"`
	Language         string `json:"language"`
	Platform         string `json:"platform"`
}

// ComputeID derives the deterministic device identifier: a SHA-256 hash
// over the pipe-joined components, order-sensitive, hex-truncated.
func ComputeID(fp Fingerprint) string {
	combined := strings.Join([]string{
		fp.UserAgent,
		fp.ScreenResolution,
		fp.Timezone,
		fp.Language,
		fp.Platform,
	}, "|")
	sum := sha256.Sum256([]byte(combined))
	return "device_" + hex.EncodeToString(sum[:16])
}

// DeviceName derives a human-readable label like "Chrome on Windows PC".
func DeviceName(fp Fingerprint) string {
	ua := strings.ToLower(fp.UserAgent)

	device := "Unknown Device"
	switch {
	case strings.Contains(ua, "iphone"):
		device = "iPhone"
	case strings.Contains(ua, "ipad"):
		device = "iPad"
	case strings.Contains(ua, "android") && strings.Contains(ua, "mobile"):
		device = "Android Phone"
	case strings.Contains(ua, "android"):
		device = "Android Tablet"
	case strings.Contains(ua, "windows"):
		device = "Windows PC"
	case strings.Contains(ua, "macintosh"):
		device = "Mac"
	case strings.Contains(ua, "linux"):
		device = "Linux PC"
	}

	browser := "Unknown Browser"
	switch {
	case strings.Contains(ua, "edg"):
		browser = "Edge"
	case strings.Contains(ua, "chrome"):
		browser = "Chrome"
	case strings.Contains(ua, "firefox"):
		browser = "Firefox"
	case strings.Contains(ua, "safari"):
		browser = "Safari"
	}

	return browser + " on " + device
}
