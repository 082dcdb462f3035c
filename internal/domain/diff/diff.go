// Package diff turns raw unified-diff text into per-file change entries.
//
// The parser never fails: malformed or truncated input yields an empty or
// partial result. Parse and ExtractFileDiff share one section scan so the
// file list and the per-file view always agree on section boundaries.
package diff

import (
	"strconv"
	"strings"

	"github.com/Strob0t/repodeck/internal/domain/workcopy"
)

const (
	headerPrefix  = "diff --git "
	devNull       = "/dev/null"
	oldSidePrefix = "a/"
	newSidePrefix = "b/"
)

// Section locates one file block inside a raw diff.
// Raw[Start:End] spans from the header line up to the next header or end of text.
type Section struct {
	Start   int
	End     int
	OldPath string
	NewPath string
	Change  workcopy.FileChange
}

// Parse returns one FileChange per file section, in the order sections appear.
func Parse(raw string) []workcopy.FileChange {
	sections := Sections(raw)
	changes := make([]workcopy.FileChange, 0, len(sections))
	for i := range sections {
		changes = append(changes, sections[i].Change)
	}
	return changes
}

// ExtractFileDiff returns the section whose pre- or post-image path equals
// filePath, or "" when no section matches.
func ExtractFileDiff(raw, filePath string) string {
	if filePath == "" {
		return ""
	}
	for _, s := range Sections(raw) {
		if s.OldPath == filePath || s.NewPath == filePath {
			return raw[s.Start:s.End]
		}
	}
	return ""
}

// Sections scans raw line by line and indexes every file section.
// Sections whose path cannot be determined are skipped.
func Sections(raw string) []Section {
	var (
		out []Section
		cur *builder
	)
	flush := func(end int) {
		if cur == nil {
			return
		}
		if s, ok := cur.finish(end); ok {
			out = append(out, s)
		}
		cur = nil
	}

	for off := 0; off < len(raw); {
		next := len(raw)
		if i := strings.IndexByte(raw[off:], '\n'); i >= 0 {
			next = off + i + 1
		}
		line := strings.TrimSuffix(strings.TrimSuffix(raw[off:next], "\n"), "\r")

		if strings.HasPrefix(line, headerPrefix) {
			flush(off)
			cur = &builder{start: off}
			cur.oldPath, cur.newPath = splitHeaderPaths(strings.TrimPrefix(line, headerPrefix))
		} else if cur != nil {
			cur.consume(line)
		}
		off = next
	}
	flush(len(raw))
	return out
}

// builder accumulates the markers of the section being scanned.
type builder struct {
	start int

	oldPath, newPath     string
	minusPath, plusPath  string
	renameFrom, renameTo string
	newFile, deleted     bool
	renamed, inHunk      bool
	additions, deletions int
}

func (b *builder) consume(line string) {
	if b.inHunk {
		switch {
		case strings.HasPrefix(line, "@@"):
		case strings.HasPrefix(line, "+"):
			b.additions++
		case strings.HasPrefix(line, "-"):
			b.deletions++
		}
		return
	}

	switch {
	case strings.HasPrefix(line, "@@"):
		b.inHunk = true
	case strings.HasPrefix(line, "new file mode"):
		b.newFile = true
	case strings.HasPrefix(line, "deleted file mode"):
		b.deleted = true
	case strings.HasPrefix(line, "rename from "):
		b.renamed = true
		b.renameFrom = decodePath(strings.TrimPrefix(line, "rename from "))
	case strings.HasPrefix(line, "rename to "):
		b.renamed = true
		b.renameTo = decodePath(strings.TrimPrefix(line, "rename to "))
	case strings.HasPrefix(line, "--- "):
		b.minusPath = sidePath(strings.TrimPrefix(line, "--- "), oldSidePrefix)
	case strings.HasPrefix(line, "+++ "):
		b.plusPath = sidePath(strings.TrimPrefix(line, "+++ "), newSidePrefix)
	}
}

func (b *builder) finish(end int) (Section, bool) {
	oldPath := firstNonEmpty(b.renameFrom, b.oldPath, b.minusPath)
	newPath := firstNonEmpty(b.renameTo, b.newPath, b.plusPath)

	status := workcopy.StatusModified
	reported := firstNonEmpty(newPath, oldPath)
	switch {
	case b.newFile:
		status = workcopy.StatusAdded
	case b.deleted:
		status = workcopy.StatusDeleted
		reported = firstNonEmpty(oldPath, newPath)
	case b.renamed:
		status = workcopy.StatusRenamed
	}
	if reported == "" {
		return Section{}, false
	}

	return Section{
		Start:   b.start,
		End:     end,
		OldPath: oldPath,
		NewPath: newPath,
		Change: workcopy.FileChange{
			Path:      reported,
			Status:    status,
			Additions: b.additions,
			Deletions: b.deletions,
		},
	}, true
}

// splitHeaderPaths parses the "a/<old> b/<new>" tail of a diff --git header.
// Both sides may be C-quoted by git when they contain unusual characters.
func splitHeaderPaths(rest string) (oldPath, newPath string) {
	if strings.HasPrefix(rest, `"`) {
		left, remain, ok := readQuoted(rest)
		if !ok {
			return "", ""
		}
		return trimSide(left, oldSidePrefix), trimSide(decodePath(strings.TrimPrefix(remain, " ")), newSidePrefix)
	}
	if strings.HasSuffix(rest, `"`) {
		if i := strings.Index(rest, ` "`); i >= 0 {
			return trimSide(rest[:i], oldSidePrefix), trimSide(decodePath(rest[i+1:]), newSidePrefix)
		}
	}

	// Unchanged path on both sides: "a/X b/X" splits exactly in the middle,
	// which also handles paths that themselves contain " b/".
	if len(rest)%2 == 1 {
		half := len(rest) / 2
		left, right := rest[:half], rest[half+1:]
		if rest[half] == ' ' && strings.HasPrefix(left, oldSidePrefix) && strings.HasPrefix(right, newSidePrefix) &&
			left[len(oldSidePrefix):] == right[len(newSidePrefix):] {
			return left[len(oldSidePrefix):], right[len(newSidePrefix):]
		}
	}
	if i := strings.LastIndex(rest, " "+newSidePrefix); i >= 0 {
		return trimSide(rest[:i], oldSidePrefix), rest[i+1+len(newSidePrefix):]
	}
	// --no-prefix output.
	if i := strings.IndexByte(rest, ' '); i >= 0 {
		return rest[:i], rest[i+1:]
	}
	return "", ""
}

// sidePath decodes the path of a ---/+++ line. /dev/null yields "".
func sidePath(token, prefix string) string {
	if i := strings.IndexByte(token, '\t'); i >= 0 {
		token = token[:i]
	}
	p := decodePath(token)
	if p == devNull {
		return ""
	}
	return trimSide(p, prefix)
}

// readQuoted reads a leading C-quoted token and returns its decoded value
// plus the remaining text.
func readQuoted(s string) (value, remain string, ok bool) {
	for i := 1; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case '"':
			v, err := strconv.Unquote(s[:i+1])
			if err != nil {
				return "", "", false
			}
			return v, s[i+1:], true
		}
	}
	return "", "", false
}

func decodePath(token string) string {
	token = strings.TrimSpace(token)
	if strings.HasPrefix(token, `"`) {
		if v, _, ok := readQuoted(token); ok {
			return v
		}
	}
	return token
}

func trimSide(p, prefix string) string {
	return strings.TrimPrefix(p, prefix)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
