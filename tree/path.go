package tree

import (
	"errors"
	"fmt"
	"strings"
)

// Paths are built from fixed-width base-36 segments. Each segment is the
// rank of a node among its siblings, so sorting paths lexicographically
// yields a pre-order depth-first traversal.
const (
	PathStep     = 4
	pathAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

	// PathUpper sorts after every character of the alphabet. The range
	// (p, p+PathUpper) holds exactly the strict descendants of p.
	PathUpper = "~"
)

var maxSegment = pow(len(pathAlphabet), PathStep) - 1

var (
	// ErrPathOverflow is returned when a level has no free segment left.
	ErrPathOverflow = errors.New("path segment overflow")
	// ErrBadPath is returned for paths that are not a whole number of segments.
	ErrBadPath = errors.New("malformed path")
)

func pow(b, e int) int {
	n := 1
	for i := 0; i < e; i++ {
		n *= b
	}
	return n
}

// Segment encodes rank n (1-based) as a single path segment.
func Segment(n int) (string, error) {
	if n < 1 || n > maxSegment {
		return "", fmt.Errorf("%w: rank %d", ErrPathOverflow, n)
	}
	buf := make([]byte, PathStep)
	for i := PathStep - 1; i >= 0; i-- {
		buf[i] = pathAlphabet[n%len(pathAlphabet)]
		n /= len(pathAlphabet)
	}
	return string(buf), nil
}

// SegmentValue decodes a single path segment.
func SegmentValue(seg string) (int, error) {
	if len(seg) != PathStep {
		return 0, fmt.Errorf("%w: segment %q", ErrBadPath, seg)
	}
	n := 0
	for i := 0; i < len(seg); i++ {
		d := strings.IndexByte(pathAlphabet, seg[i])
		if d < 0 {
			return 0, fmt.Errorf("%w: segment %q", ErrBadPath, seg)
		}
		n = n*len(pathAlphabet) + d
	}
	return n, nil
}

// ChildPath returns the path of the rank-th child under parent ("" for roots).
func ChildPath(parent string, rank int) (string, error) {
	seg, err := Segment(rank)
	if err != nil {
		return "", err
	}
	return parent + seg, nil
}

// FirstChildPath returns the path of the first child under parent.
func FirstChildPath(parent string) string {
	return parent + strings.Repeat("0", PathStep-1) + "1"
}

// NextPath returns the path immediately after p among its siblings.
func NextPath(p string) (string, error) {
	if err := CheckPath(p); err != nil {
		return "", err
	}
	last := p[len(p)-PathStep:]
	n, err := SegmentValue(last)
	if err != nil {
		return "", err
	}
	return ChildPath(ParentPath(p), n+1)
}

// ParentPath strips the last segment. Roots have parent path "".
func ParentPath(p string) string {
	if len(p) <= PathStep {
		return ""
	}
	return p[:len(p)-PathStep]
}

// PathDepth returns the number of segments in p.
func PathDepth(p string) int {
	return len(p) / PathStep
}

// IsDescendantPath reports whether p lies strictly below ancestor.
func IsDescendantPath(p, ancestor string) bool {
	return len(p) > len(ancestor) && strings.HasPrefix(p, ancestor)
}

// AncestorPaths lists the strict ancestors of p from the root down.
func AncestorPaths(p string) []string {
	var out []string
	for end := PathStep; end < len(p); end += PathStep {
		out = append(out, p[:end])
	}
	return out
}

// RebasePath rewrites the oldPrefix of p to newPrefix.
func RebasePath(p, oldPrefix, newPrefix string) string {
	if !strings.HasPrefix(p, oldPrefix) {
		return p
	}
	return newPrefix + p[len(oldPrefix):]
}

// CheckPath reports whether p is a well-formed stored path.
func CheckPath(p string) error {
	if p == "" || len(p)%PathStep != 0 {
		return fmt.Errorf("%w: %q", ErrBadPath, p)
	}
	return nil
}
