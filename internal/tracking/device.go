package tracking

import (
	"regexp"
	"strings"

	"github.com/halotrack/halo-server/internal/models"
)

var (
	edgeVersionRe    = regexp.MustCompile(`(?i)edg/(\d+)`)
	chromeVersionRe  = regexp.MustCompile(`(?i)chrome/(\d+)`)
	safariVersionRe  = regexp.MustCompile(`(?i)version/(\d+)`)
	firefoxVersionRe = regexp.MustCompile(`(?i)firefox/(\d+)`)
	windowsVersionRe = regexp.MustCompile(`(?i)windows nt (\d+\.\d+)`)
	macVersionRe     = regexp.MustCompile(`(?i)mac os x (\d+[._]\d+)`)
	iosVersionRe     = regexp.MustCompile(`(?i)os (\d+[._]\d+)`)
	androidVersionRe = regexp.MustCompile(`(?i)android (\d+\.?\d*)`)
)

// ParseUserAgent extracts device type, browser and OS from a raw
// user-agent string. Unrecognized agents come back as desktop/Unknown
// rather than an error.
func ParseUserAgent(ua string) models.Device {
	d := models.Device{
		UserAgent: ua,
		Type:      "desktop",
		Browser:   "Unknown",
		OS:        "Unknown",
	}

	lower := strings.ToLower(ua)

	if strings.Contains(lower, "mobile") {
		d.Type = "mobile"
	} else if strings.Contains(lower, "tablet") || strings.Contains(lower, "ipad") {
		d.Type = "tablet"
	}

	switch {
	case strings.Contains(lower, "edg"):
		d.Browser = "Edge"
		d.BrowserVersion = firstMatch(edgeVersionRe, ua)
	case strings.Contains(lower, "chrome"):
		d.Browser = "Chrome"
		d.BrowserVersion = firstMatch(chromeVersionRe, ua)
	case strings.Contains(lower, "safari"):
		d.Browser = "Safari"
		d.BrowserVersion = firstMatch(safariVersionRe, ua)
	case strings.Contains(lower, "firefox"):
		d.Browser = "Firefox"
		d.BrowserVersion = firstMatch(firefoxVersionRe, ua)
	}

	switch {
	case strings.Contains(lower, "windows"):
		d.OS = "Windows"
		d.OSVersion = firstMatch(windowsVersionRe, ua)
	// iPhone and iPad agents contain "like Mac OS X", so check them
	// before the desktop macOS match.
	case strings.Contains(lower, "iphone"), strings.Contains(lower, "ipad"):
		d.OS = "iOS"
		d.OSVersion = strings.ReplaceAll(firstMatch(iosVersionRe, ua), "_", ".")
	case strings.Contains(lower, "mac os"):
		d.OS = "macOS"
		d.OSVersion = strings.ReplaceAll(firstMatch(macVersionRe, ua), "_", ".")
	case strings.Contains(lower, "android"):
		d.OS = "Android"
		d.OSVersion = firstMatch(androidVersionRe, ua)
	}

	return d
}

func firstMatch(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatch(s)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}
