package rules

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/drblury/traceflow/internal/engine/trace"
)

// Caching math follows RFC 2616 guidance conservatively: a "month" is 30
// days, which errs on the short side for the freshness checks.
const (
	secondsInAMonth = 60 * 60 * 24 * 30
	msInAMonth      = 1000 * secondsInAMonth
)

// resourceType buckets a network resource the way browser inspectors do,
// driving which caching checks apply.
type resourceType int

const (
	resourceDocument resourceType = iota
	resourceStylesheet
	resourceScript
	resourceImage
	resourceFavicon
	resourceFont
	resourceMedia
	resourceOther
)

var maxAgePattern = regexp.MustCompile(`(?i)max-age\s*=\s*(\d+)`)

// classifyResource determines the resource type from the response MIME type,
// falling back to the URL extension when the agent reported none.
func classifyResource(res *trace.ResourceSnapshot) resourceType {
	mime := strings.ToLower(res.MimeType)
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}

	url := strings.ToLower(res.URL)
	if i := strings.IndexByte(url, '?'); i >= 0 {
		url = url[:i]
	}
	if strings.HasSuffix(url, "/favicon.ico") {
		return resourceFavicon
	}

	switch {
	case mime == "text/css":
		return resourceStylesheet
	case mime == "text/javascript", mime == "application/javascript",
		mime == "application/x-javascript", mime == "application/ecmascript":
		return resourceScript
	case mime == "image/x-icon", mime == "image/vnd.microsoft.icon":
		return resourceFavicon
	case strings.HasPrefix(mime, "image/"):
		return resourceImage
	case strings.HasPrefix(mime, "font/"),
		strings.HasPrefix(mime, "application/font-"),
		mime == "application/x-font-woff", mime == "application/vnd.ms-fontobject":
		return resourceFont
	case strings.HasPrefix(mime, "audio/"), strings.HasPrefix(mime, "video/"):
		return resourceMedia
	case mime == "text/html", mime == "application/xhtml+xml":
		return resourceDocument
	}

	switch {
	case strings.HasSuffix(url, ".css"):
		return resourceStylesheet
	case strings.HasSuffix(url, ".js"):
		return resourceScript
	case strings.HasSuffix(url, ".ico"):
		return resourceFavicon
	case hasAnySuffix(url, ".png", ".jpg", ".jpeg", ".gif", ".webp", ".svg"):
		return resourceImage
	case hasAnySuffix(url, ".woff", ".woff2", ".ttf", ".otf", ".eot"):
		return resourceFont
	case hasAnySuffix(url, ".mp3", ".mp4", ".webm", ".ogg", ".wav"):
		return resourceMedia
	case strings.HasSuffix(url, ".html"), strings.HasSuffix(url, ".htm"):
		return resourceDocument
	}

	return resourceOther
}

func hasAnySuffix(s string, suffixes ...string) bool {
	for _, suffix := range suffixes {
		if strings.HasSuffix(s, suffix) {
			return true
		}
	}
	return false
}

// isCacheableResourceType reports whether the caching checks apply to this
// kind of resource. Documents and API responses are excluded: caching those
// is a policy decision, not a defect.
func isCacheableResourceType(rt resourceType) bool {
	switch rt {
	case resourceStylesheet, resourceScript, resourceImage, resourceFavicon,
		resourceFont, resourceMedia:
		return true
	default:
		return false
	}
}

// isCacheableStatusCode reports whether the response status permits caching.
func isCacheableStatusCode(code int) bool {
	switch code {
	case 200, 203, 206, 300, 301, 410:
		return true
	default:
		return false
	}
}

// hasExplicitExpiration reports whether the response declares when it goes
// stale: either a Date+Expires pair or a Cache-Control max-age directive.
func hasExplicitExpiration(h trace.Headers) bool {
	if h == nil {
		return false
	}
	if h.Has("Date") && h.Has("Expires") {
		return true
	}
	return maxAgePattern.MatchString(h.Get("Cache-Control"))
}

// isExplicitlyNonCacheable reports whether the response opts out of caching:
// a no-cache/no-store/must-revalidate directive, a Pragma: no-cache, an
// expiration in the past, a query-string URL without explicit expiration, or
// a non-cacheable status code.
func isExplicitlyNonCacheable(h trace.Headers, url string, statusCode int) bool {
	if h == nil {
		return false
	}

	cacheControl := strings.ToLower(h.Get("Cache-Control"))
	if strings.Contains(cacheControl, "no-cache") ||
		strings.Contains(cacheControl, "no-store") ||
		strings.Contains(cacheControl, "must-revalidate") {
		return true
	}
	if strings.Contains(strings.ToLower(h.Get("Pragma")), "no-cache") {
		return true
	}

	explicit := hasExplicitExpiration(h)
	// An expiration in the past means "do not cache", on purpose.
	if explicit && !freshnessLifetimeGreaterThan(h, 0) {
		return true
	}
	// Proxies refuse to cache query-string URLs unless told otherwise.
	if strings.Contains(url, "?") && !explicit {
		return true
	}
	return !isCacheableStatusCode(statusCode)
}

// freshnessLifetimeGreaterThan reports whether the response stays fresh for
// more than the given number of milliseconds. A max-age directive wins over
// the Expires−Date difference; both paths require a parseable Date header.
func freshnessLifetimeGreaterThan(h trace.Headers, ms float64) bool {
	if h == nil {
		return false
	}

	date, err := http.ParseTime(h.Get("Date"))
	if err != nil {
		return false
	}

	if m := maxAgePattern.FindStringSubmatch(h.Get("Cache-Control")); m != nil {
		seconds, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return false
		}
		return seconds*1000 > ms
	}

	expires, err := http.ParseTime(h.Get("Expires"))
	if err != nil {
		return false
	}
	return float64(expires.Sub(date).Milliseconds()) > ms
}
