package display

import (
	"os"

	"github.com/mattn/go-isatty"
)

// Icons are the symbols used in console output
type Icons struct {
	Success string
	Failure string
	Warning string
	Phase   string
	Bullet  string
	Rule    string
}

var (
	UnicodeIcons = Icons{Success: "✓", Failure: "✗", Warning: "⚠", Phase: "▶", Bullet: "•", Rule: "─"}
	ASCIIIcons   = Icons{Success: "OK", Failure: "X", Warning: "!", Phase: ">", Bullet: "*", Rule: "-"}
)

// DetectUnicodeSupport checks whether f can show Unicode symbols
func DetectUnicodeSupport(f *os.File) bool {
	if os.Getenv("FORCE_UNICODE") != "" {
		return true
	}
	if os.Getenv("NO_UNICODE") != "" {
		return false
	}
	if os.Getenv("LANG") == "C" || os.Getenv("LC_ALL") == "C" {
		return false
	}
	if term := os.Getenv("TERM"); term == "dumb" || term == "vt100" {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// IconsFor returns the icon set for the given Unicode support
func IconsFor(unicode bool) Icons {
	if unicode {
		return UnicodeIcons
	}
	return ASCIIIcons
}
