// Package diff produces and applies line-based unified diffs between two
// versions of a text document.
package diff

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// NoNewlineMarker follows a diff line whose content had no trailing newline.
// It is never a content line: content lines always carry a ' ', '-' or '+'
// prefix.
const NoNewlineMarker = "\\ No newline at end of file\n"

// DefaultContext is the number of unchanged lines shown around each change.
const DefaultContext = 3

// Compute returns a unified diff turning oldContent into newContent, with
// fromName/toName in the --- and +++ headers. Identical inputs give "".
func Compute(oldContent, newContent, fromName, toName string) string {
	a, b := splitRaw(oldContent), splitRaw(newContent)
	groups := difflib.NewMatcher(a, b).GetGroupedOpCodes(DefaultContext)
	if len(groups) == 0 {
		return ""
	}

	var buf strings.Builder
	fmt.Fprintf(&buf, "--- %s\n+++ %s\n", headerName(fromName), headerName(toName))
	for _, group := range groups {
		first, last := group[0], group[len(group)-1]
		fmt.Fprintf(&buf, "@@ -%s +%s @@\n", unifiedRange(first.I1, last.I2), unifiedRange(first.J1, last.J2))
		for _, op := range group {
			if op.Tag == 'e' {
				writeLines(&buf, ' ', a[op.I1:op.I2])
				continue
			}
			if op.Tag == 'r' || op.Tag == 'd' {
				writeLines(&buf, '-', a[op.I1:op.I2])
			}
			if op.Tag == 'r' || op.Tag == 'i' {
				writeLines(&buf, '+', b[op.J1:op.J2])
			}
		}
	}
	return buf.String()
}

// writeLines writes prefixed lines; a line without a trailing newline is
// terminated and followed by NoNewlineMarker.
func writeLines(buf *strings.Builder, prefix byte, lines []string) {
	for _, line := range lines {
		buf.WriteByte(prefix)
		buf.WriteString(line)
		if !strings.HasSuffix(line, "\n") {
			buf.WriteString("\n")
			buf.WriteString(NoNewlineMarker)
		}
	}
}

// unifiedRange formats a hunk range the way diff -u does: "start" for one
// line, "start,len" otherwise, with an empty range anchored before start.
func unifiedRange(start, stop int) string {
	beginning := start + 1
	length := stop - start
	if length == 1 {
		return strconv.Itoa(beginning)
	}
	if length == 0 {
		beginning--
	}
	return fmt.Sprintf("%d,%d", beginning, length)
}

// Apply reconstructs the new content from oldContent and a diff produced by
// Compute. It fails if any context or removed line does not match oldContent.
func Apply(oldContent, unified string) (string, error) {
	if unified == "" {
		return oldContent, nil
	}

	src := splitRaw(oldContent)
	lines := splitRaw(unified)

	// Skip --- / +++ headers
	i := 0
	for i < len(lines) && !strings.HasPrefix(lines[i], "@@") {
		i++
	}
	if i == len(lines) {
		return "", fmt.Errorf("diff has no hunks")
	}

	out := make([]string, 0, len(src))
	pos := 0
	for i < len(lines) {
		h, err := parseHunkHeader(lines[i])
		if err != nil {
			return "", err
		}
		i++

		start := h.oldStart - 1
		if h.oldLen == 0 {
			start = h.oldStart
		}
		if start < pos || start > len(src) {
			return "", fmt.Errorf("hunk at line %d out of range", h.oldStart)
		}
		out = append(out, src[pos:start]...)
		pos = start

		consumed, produced := 0, 0
		for i < len(lines) && !strings.HasPrefix(lines[i], "@@") {
			line := lines[i]
			i++
			if line == "" {
				return "", fmt.Errorf("empty line inside hunk")
			}
			body := line[1:]
			if i < len(lines) && strings.HasPrefix(lines[i], "\\") {
				body = strings.TrimSuffix(body, "\n")
				i++
			}
			switch line[0] {
			case ' ', '-':
				if pos >= len(src) || src[pos] != body {
					return "", fmt.Errorf("hunk does not match content at line %d", pos+1)
				}
				if line[0] == ' ' {
					out = append(out, body)
					produced++
				}
				pos++
				consumed++
			case '+':
				out = append(out, body)
				produced++
			default:
				return "", fmt.Errorf("unexpected line in hunk: %q", line)
			}
		}
		if consumed != h.oldLen || produced != h.newLen {
			return "", fmt.Errorf("hunk length mismatch at line %d", h.oldStart)
		}
	}
	out = append(out, src[pos:]...)

	return strings.Join(out, ""), nil
}

// Stats counts added and removed lines in a unified diff.
func Stats(unified string) (added, removed int) {
	inHunk := false
	for _, line := range splitRaw(unified) {
		if strings.HasPrefix(line, "@@") {
			inHunk = true
			continue
		}
		if !inHunk || line == "" {
			continue
		}
		switch line[0] {
		case '+':
			added++
		case '-':
			removed++
		}
	}
	return added, removed
}

type hunkHeader struct {
	oldStart, oldLen int
	newStart, newLen int
}

// parseHunkHeader parses "@@ -a,b +c,d @@" where ",b" and ",d" default to 1.
func parseHunkHeader(line string) (hunkHeader, error) {
	var h hunkHeader
	fields := strings.Fields(strings.TrimSpace(line))
	if len(fields) < 4 || fields[0] != "@@" || fields[3] != "@@" ||
		!strings.HasPrefix(fields[1], "-") || !strings.HasPrefix(fields[2], "+") {
		return h, fmt.Errorf("malformed hunk header: %q", strings.TrimSpace(line))
	}

	var err error
	if h.oldStart, h.oldLen, err = parseRange(fields[1][1:]); err != nil {
		return h, fmt.Errorf("malformed hunk header: %q", strings.TrimSpace(line))
	}
	if h.newStart, h.newLen, err = parseRange(fields[2][1:]); err != nil {
		return h, fmt.Errorf("malformed hunk header: %q", strings.TrimSpace(line))
	}
	return h, nil
}

func parseRange(s string) (start, length int, err error) {
	startStr, lenStr, hasLen := strings.Cut(s, ",")
	if start, err = strconv.Atoi(startStr); err != nil {
		return 0, 0, err
	}
	length = 1
	if hasLen {
		if length, err = strconv.Atoi(lenStr); err != nil {
			return 0, 0, err
		}
	}
	return start, length, nil
}

// splitRaw splits s into lines, each keeping its trailing newline. Only the
// last line may lack one.
func splitRaw(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.SplitAfter(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// headerName keeps diff headers on one line.
func headerName(name string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(name)
}
