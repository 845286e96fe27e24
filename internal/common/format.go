package common

import (
	"fmt"
	"io"
	"strings"
)

const (
	DefaultWidth = 80
	WideWidth    = 100
)

// PrintHeader writes a title framed by separator lines
func PrintHeader(w io.Writer, title string, width int) {
	fmt.Fprintln(w, "\n"+strings.Repeat("=", width))
	fmt.Fprintln(w, title)
	fmt.Fprintln(w, strings.Repeat("=", width))
}

// PrintFooter writes a closing summary framed by separator lines
func PrintFooter(w io.Writer, message string, width int) {
	fmt.Fprintln(w, "\n"+strings.Repeat("=", width))
	fmt.Fprintln(w, message)
	fmt.Fprintln(w, strings.Repeat("=", width)+"\n")
}

// PrintBoxSeparator writes a box-drawing separator line (for sub-sections)
func PrintBoxSeparator(w io.Writer, width int) {
	fmt.Fprintln(w, "├"+strings.Repeat("─", width))
}

// BoxPrefix returns the box-drawing prefix for list items
func BoxPrefix(isLast bool) string {
	if isLast {
		return "└  "
	}
	return "│  "
}

// BoxDetailPrefix returns the prefix for detail lines under list items
func BoxDetailPrefix(isLast bool) string {
	if isLast {
		return "   "
	}
	return "│  "
}

// ShortHash abbreviates a transaction hash for tables
func ShortHash(hash string) string {
	if hash == "" {
		return "none"
	}
	if len(hash) > 12 {
		return hash[:12] + "..."
	}
	return hash
}
