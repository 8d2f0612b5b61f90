package model

import (
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
)

// TrackingParam is the query parameter that personalizes batch artifact names.
const TrackingParam = "fb_pixel_id"

const APKExt = ".apk"

var (
	nonAlnumRe    = regexp.MustCompile(`[^a-zA-Z0-9]`)
	pathSeparator = strings.NewReplacer("/", "_", "\\", "_")
)

// ParseTargetURL accepts absolute http(s) URLs with a host.
func ParseTargetURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("empty url")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("missing host")
	}
	return u, nil
}

// TrackingID returns explicit when set, else the tracking query parameter of rawURL.
func TrackingID(rawURL, explicit string) string {
	if explicit = strings.TrimSpace(explicit); explicit != "" {
		return explicit
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(u.Query().Get(TrackingParam))
}

func SanitizeHost(host string) string {
	return nonAlnumRe.ReplaceAllString(host, "_")
}

// PrefixedAPKName names an artifact in prefix mode:
// prefix + tracking id, or prefix + sanitized host when there is none.
func PrefixedAPKName(prefix, rawURL, explicitTracking string) string {
	if id := TrackingID(rawURL, explicitTracking); id != "" {
		return pathSeparator.Replace(prefix + id + APKExt)
	}
	host := ""
	if u, err := url.Parse(rawURL); err == nil {
		host = u.Hostname()
	}
	return pathSeparator.Replace(prefix + SanitizeHost(host) + APKExt)
}

// BuildArtifactName names an artifact in single-build mode.
func BuildArtifactName(buildID, original string) string {
	short := buildID
	if len(short) > 8 {
		short = short[:8]
	}
	return short + "-" + filepath.Base(original)
}

func DownloadURL(name string) string {
	return "/api/download/" + url.PathEscape(name)
}
