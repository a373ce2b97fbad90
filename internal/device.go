package internal

import "strings"

// ParsedDevice is the coarse device fingerprint recorded on a session.
// It exists for session listings ("Chrome on macOS, Berlin"), not for device
// binding, so a token scan over the user agent is deliberate.
type ParsedDevice struct {
	Device  string
	Browser string
	OS      string
}

// ParseUserAgent extracts device class, browser, and OS from a raw user agent.
// Unknown agents degrade to "unknown" rather than failing.
func ParseUserAgent(userAgent string) ParsedDevice {
	ua := strings.ToLower(userAgent)
	parsed := ParsedDevice{Device: "desktop", Browser: "unknown", OS: "unknown"}
	if strings.TrimSpace(ua) == "" {
		parsed.Device = "unknown"
		return parsed
	}

	switch {
	case strings.Contains(ua, "ipad") || strings.Contains(ua, "tablet"):
		parsed.Device = "tablet"
	case strings.Contains(ua, "mobi") || strings.Contains(ua, "iphone") || strings.Contains(ua, "android"):
		parsed.Device = "mobile"
	}

	switch {
	case strings.Contains(ua, "edg/"):
		parsed.Browser = "Edge"
	case strings.Contains(ua, "opr/") || strings.Contains(ua, "opera"):
		parsed.Browser = "Opera"
	case strings.Contains(ua, "firefox/"):
		parsed.Browser = "Firefox"
	case strings.Contains(ua, "chrome/"):
		parsed.Browser = "Chrome"
	case strings.Contains(ua, "safari/"):
		parsed.Browser = "Safari"
	}

	switch {
	case strings.Contains(ua, "windows"):
		parsed.OS = "Windows"
	case strings.Contains(ua, "android"):
		parsed.OS = "Android"
	case strings.Contains(ua, "iphone") || strings.Contains(ua, "ipad") || strings.Contains(ua, "ios"):
		parsed.OS = "iOS"
	case strings.Contains(ua, "mac os") || strings.Contains(ua, "macintosh"):
		parsed.OS = "macOS"
	case strings.Contains(ua, "linux"):
		parsed.OS = "Linux"
	}

	return parsed
}
