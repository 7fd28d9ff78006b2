// Package depinfo implements the dependency-info rewriter of spec.md §4.4:
// a textual transform on the driver's per-unit dependency manifest that
// strips lines (and right-hand-side entries) referring to per-workspace
// build directories, so a consumer workspace's copy of the manifest never
// points at another workspace's /build/ tree.
package depinfo

import (
	"bufio"
	"io"
	"strings"

	"github.com/orcaman/writerseeker"
)

// buildSegment is the path component that marks a per-workspace build
// directory; any path containing it is dropped.
const buildSegment = "/build/"

// Rewrite reads r line by line and writes the transformed manifest to w.
// Comment lines (#...) and empty lines are emitted verbatim. A data line
// of shape "<target>: <src1> <src2> ..." is dropped entirely if <target>
// contains buildSegment; otherwise it is re-emitted with every source path
// that contains buildSegment removed from the right-hand side.
//
// The transform is a pure, line-local function with no carried state, so
// applying it twice is identical to applying it once (spec.md §8 property
// 5) — verified in depinfo_test.go by round-tripping the rewriter's own
// output.
func Rewrite(r io.Reader, w io.Writer) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Text()
		out, keep := rewriteLine(line)
		if !keep {
			continue
		}
		if _, err := io.WriteString(w, out+"\n"); err != nil {
			return err
		}
	}
	return sc.Err()
}

// RewriteInPlace reads the full contents of path-shaped data from r,
// rewrites it, and returns the result bytes, seeking back over a scratch
// buffer rather than allocating a second bufio.Writer — the one place in
// this codebase where an in-memory seekable buffer earns its keep. The
// caller (the compilation wrapper's pull path) writes the returned bytes
// to out-dir and then stamps that file's mtime.
func RewriteInPlace(r io.Reader) ([]byte, error) {
	var ws writerseeker.WriterSeeker
	if err := Rewrite(r, &ws); err != nil {
		return nil, err
	}
	rs := ws.Reader()
	return io.ReadAll(rs)
}

func rewriteLine(line string) (out string, keep bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return line, true
	}
	target, rest, found := strings.Cut(line, ":")
	if !found {
		// Not a recognised data line; pass through verbatim rather than
		// silently dropping something we don't understand.
		return line, true
	}
	if strings.Contains(target, buildSegment) {
		return "", false
	}
	var kept []string
	for _, src := range strings.Fields(rest) {
		if strings.Contains(src, buildSegment) {
			continue
		}
		kept = append(kept, src)
	}
	if len(kept) == 0 {
		return target + ":", true
	}
	return target + ": " + strings.Join(kept, " "), true
}
