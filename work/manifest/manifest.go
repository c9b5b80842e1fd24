// Package manifest implements the playlist text transforms: rewriting
// upstream M3U8 references to route through the proxy, and summing declared
// segment durations. Both transforms are purely textual, never touch the
// network, and preserve line count and line order.
package manifest

import (
	"math"
	"strconv"
	"strings"

	"github.com/grafana/regexp"
)

// ContainerRoute is the local path prefix that container references are
// rewritten to. The container proxy handler is mounted here.
const ContainerRoute = "/proxy/container/"

const durationDirective = "#EXTINF:"

var uriAttrRe = regexp.MustCompile(`URI="([^"]*)"`)

// Rewriter rewrites playlist reference lines. Media segment references
// (SegmentExt) become absolute upstream URLs, fetched directly by the
// player; container references (ContainerExt) are routed through the local
// range-forwarding proxy, both as bare lines and inside URI="..." attributes.
type Rewriter struct {
	SegmentExt   string // e.g. ".ts"
	ContainerExt string // e.g. ".mp4"
}

// Rewrite transforms manifest text so its references play through the proxy.
// segmentBase is the absolute upstream URL directory the playlist was fetched
// from. Each line is classified independently: blank lines and plain
// directives pass through, directives carrying a URI="..." attribute have the
// quoted value rewritten, already-absolute and already-proxied references are
// left alone. The transform is idempotent and keeps the line count intact.
func (rw Rewriter) Rewrite(text, segmentBase string) string {
	segmentBase = strings.TrimSuffix(segmentBase, "/")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = rw.rewriteLine(line, segmentBase)
	}
	return strings.Join(lines, "\n")
}

func (rw Rewriter) rewriteLine(line, segmentBase string) string {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return line
	}

	if strings.HasPrefix(trimmed, "#") {
		if !strings.Contains(trimmed, `URI="`) {
			return line
		}
		return uriAttrRe.ReplaceAllStringFunc(line, func(match string) string {
			sub := uriAttrRe.FindStringSubmatch(match)
			if len(sub) < 2 {
				return match
			}
			ref := sub[1]
			if !rw.isContainerRef(ref) || isAbsolute(ref) || isProxied(ref) {
				return match
			}
			return `URI="` + proxiedPath(ref) + `"`
		})
	}

	if isAbsolute(trimmed) || isProxied(trimmed) {
		return line
	}

	if rw.isContainerRef(trimmed) {
		return proxiedPath(trimmed)
	}

	if rw.isSegmentRef(trimmed) {
		return segmentBase + "/" + strings.TrimPrefix(trimmed, "/")
	}

	return line
}

// Duration sums the floating-point values of every segment-duration
// directive and returns the total rounded to the nearest second. Rounding is
// math.Round, half away from zero: 4.0+4.0+2.5 = 10.5 rounds to 11.
// Malformed values are skipped; when no well-formed duration directive is
// found at all, ok is false ("could not determine"), which is distinct from
// a genuine zero-second total.
func Duration(text string) (seconds int, ok bool) {
	var total float64
	found := false

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, durationDirective) {
			continue
		}
		value := strings.TrimPrefix(trimmed, durationDirective)
		if i := strings.IndexByte(value, ','); i >= 0 {
			value = value[:i]
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			continue
		}
		total += f
		found = true
	}

	if !found {
		return 0, false
	}
	return int(math.Round(total)), true
}

// isContainerRef reports whether the reference's path, ignoring any query
// string, ends in the container extension.
func (rw Rewriter) isContainerRef(ref string) bool {
	return strings.HasSuffix(pathBeforeQuery(ref), rw.ContainerExt)
}

func (rw Rewriter) isSegmentRef(ref string) bool {
	return strings.HasSuffix(pathBeforeQuery(ref), rw.SegmentExt)
}

func pathBeforeQuery(ref string) string {
	if i := strings.IndexByte(ref, '?'); i >= 0 {
		return ref[:i]
	}
	return ref
}

func isAbsolute(ref string) bool {
	return strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
}

func isProxied(ref string) bool {
	return strings.HasPrefix(ref, ContainerRoute)
}

func proxiedPath(ref string) string {
	return ContainerRoute + strings.TrimPrefix(ref, "/")
}
