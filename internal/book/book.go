// Package book reads extracted content files and locates the title line.
package book

import (
	"bufio"
	"fmt"
	"io"
	"regexp"

	apperrors "gutenfeed/pkg/errors"
)

// CompilePrefix compiles a line-start title pattern case-insensitively.
func CompilePrefix(pattern string) (*regexp.Regexp, error) {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, fmt.Errorf("compiling title pattern %q: %w", pattern, err)
	}
	return re, nil
}

// ReadLines splits r into lines, each keeping its trailing newline. A final
// unterminated line is returned as-is, so joining the result reproduces the
// input byte for byte.
func ReadLines(r io.Reader) ([]string, error) {
	br := bufio.NewReader(r)
	var lines []string
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			lines = append(lines, line)
		}
		if err == io.EOF {
			return lines, nil
		}
		if err != nil {
			return nil, fmt.Errorf("reading lines: %w", err)
		}
	}
}

// FindTitle scans the first window lines for prefix matches. Exactly one
// matching line yields the remainder after the matched text, untrimmed and
// including any trailing newline; zero matches or several are failures. Lines
// beyond the window never influence the result.
func FindTitle(lines []string, prefix *regexp.Regexp, window int) (string, error) {
	if window > len(lines) {
		window = len(lines)
	}

	var title string
	matches := 0
	for _, line := range lines[:window] {
		loc := prefix.FindStringIndex(line)
		if loc == nil {
			continue
		}
		title = line[loc[1]:]
		matches++
	}

	switch matches {
	case 1:
		return title, nil
	case 0:
		return "", apperrors.Newf(apperrors.ErrTitleNotFound, "no line matches in first %d lines", window)
	default:
		return "", apperrors.Newf(apperrors.ErrTitleAmbiguous, "%d lines match in first %d lines", matches, window)
	}
}

// CountNewlineOnly reports how many lines consist of a bare newline. These
// are the lines the per-line publishing mode skips.
func CountNewlineOnly(lines []string) int {
	n := 0
	for _, line := range lines {
		if line == "\n" {
			n++
		}
	}
	return n
}
