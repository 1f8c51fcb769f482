// Package rules contains the built-in analysis rules that inspect event
// records and flag likely performance problems as hints. Each rule is an
// ordered chain of early-exit guards over resource snapshots; guard order
// matters because later checks assume earlier guards already excluded
// non-applicable resources.
package rules

import (
	"regexp"

	"github.com/drblury/traceflow/internal/engine/trace"
)

// CacheControlName is the stable rule name stamped on caching hints.
const CacheControlName = "Resource Caching"

var (
	varyUserAgent      = regexp.MustCompile(`(?i)User-Agent`)
	varyAcceptEncoding = regexp.MustCompile(`(?i)Accept-Encoding`)
	varySeparators     = regexp.MustCompile(`[, ]*`)
)

// cacheCheck runs one independent caching policy check against a finished
// resource, emitting at most one hint.
type cacheCheck func(res *trace.ResourceSnapshot, timestamp float64, refSequence int64, emit trace.EmitFunc)

// CacheControl flags resources whose response headers defeat browser
// caching. The checks are lifted from the Page Speed caching lint: missing
// expirations, Vary headers that disable caching in Internet Explorer, and
// freshness lifetimes too short to be useful.
type CacheControl struct {
	provider trace.SnapshotProvider
	checks   []cacheCheck
}

// NewCacheControl builds the caching rule over the given snapshot provider.
func NewCacheControl(provider trace.SnapshotProvider) *CacheControl {
	if provider == nil {
		panic("traceflow: snapshot provider cannot be nil")
	}
	return &CacheControl{
		provider: provider,
		checks: []cacheCheck{
			checkMissingExpiration,
			checkVary,
			checkShortFreshness,
		},
	}
}

// Name returns the stable rule name used as HintRecord.Rule.
func (r *CacheControl) Name() string { return CacheControlName }

// OnEventRecord evaluates the caching checks against the snapshot referenced
// by a resource-finish record. Records of any other type are ignored. A
// missing snapshot or missing response headers is a soft no-op: the finish
// event may race ahead of header capture.
func (r *CacheControl) OnEventRecord(rec *trace.EventRecord, emit trace.EmitFunc) error {
	if rec.Type != trace.TypeResourceFinish {
		return nil
	}

	identifier, ok := rec.Data.GetString("identifier")
	if !ok {
		return nil
	}
	res, ok := r.provider.GetResourceData(identifier)
	if !ok || !res.HasResponseHeaders() {
		return nil
	}

	for _, check := range r.checks {
		check(res, rec.Time, rec.Sequence, emit)
	}
	return nil
}

// checkMissingExpiration fires when a cacheable resource carries no explicit
// expiration at all, leaving browsers to heuristic caching.
func checkMissingExpiration(res *trace.ResourceSnapshot, timestamp float64, refSequence int64, emit trace.EmitFunc) {
	if !isCacheableResourceType(classifyResource(res)) {
		return
	}
	headers := res.ResponseHeaders
	if headers.Has("Set-Cookie") {
		return
	}
	if isExplicitlyNonCacheable(headers, res.URL, res.StatusCode) {
		return
	}
	if hasExplicitExpiration(headers) {
		return
	}
	emit(timestamp,
		"The following resources are missing a cache expiration."+
			" Resources that do not specify an expiration may not be cached by"+
			" browsers. Specify an expiration at least one month in the future"+
			" for resources that should be cached, and an expiration in the past"+
			" for resources that should not be cached: "+res.URL,
		refSequence, trace.SeverityCritical)
}

// checkVary fires when a Vary header names anything beyond the tokens
// Internet Explorer tolerates. IE caches responses with Vary User-Agent or
// Accept-Encoding but refuses to cache anything else, so those tokens and
// separator characters are stripped and any remainder triggers the hint.
func checkVary(res *trace.ResourceSnapshot, timestamp float64, refSequence int64, emit trace.EmitFunc) {
	headers := res.ResponseHeaders
	if !headers.Has("Vary") {
		return
	}
	if !isCacheableResourceType(classifyResource(res)) {
		return
	}
	if !freshnessLifetimeGreaterThan(headers, 0) {
		return
	}

	vary := headers.Get("Vary")
	vary = varyUserAgent.ReplaceAllString(vary, "")
	vary = varyAcceptEncoding.ReplaceAllString(vary, "")
	vary = varySeparators.ReplaceAllString(vary, "")
	if len(vary) == 0 {
		return
	}
	emit(timestamp,
		"The following resources specify a 'Vary' header that"+
			" disables caching in most versions of Internet Explorer. Fix or remove"+
			" the 'Vary' header for the following resources: "+res.URL,
		refSequence, trace.SeverityCritical)
}

// checkShortFreshness fires when a resource is cached on purpose but goes
// stale in under a month, forcing needless revalidation traffic.
func checkShortFreshness(res *trace.ResourceSnapshot, timestamp float64, refSequence int64, emit trace.EmitFunc) {
	if !isCacheableResourceType(classifyResource(res)) {
		return
	}
	headers := res.ResponseHeaders
	if !hasExplicitExpiration(headers) {
		return
	}
	if !freshnessLifetimeGreaterThan(headers, 0) {
		return
	}
	if freshnessLifetimeGreaterThan(headers, msInAMonth) {
		return
	}
	emit(timestamp,
		"The following cacheable resources have a short"+
			" freshness lifetime. Specify an expiration at least one month in the"+
			" future for the following resources: "+res.URL,
		refSequence, trace.SeverityWarning)
}
