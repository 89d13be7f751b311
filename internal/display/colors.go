// Package display renders run progress and results on the console.
package display

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
)

// Color names a console style
type Color int

const (
	ColorReset Color = iota
	ColorRed
	ColorGreen
	ColorYellow
	ColorCyan
	ColorDim
	ColorBold
	ColorBoldRed
	ColorBoldGreen
	ColorBoldYellow
	ColorBoldCyan
)

// ColorSystem applies colors when enabled. Each system owns its fatih/color
// values, so enabling it does not depend on the global color.NoColor switch.
type ColorSystem struct {
	enabled  bool
	colorMap map[Color]*color.Color
}

// NewColorSystem creates a color system. Pass the result of DetectColorSupport
// combined with any user preference.
func NewColorSystem(enabled bool) *ColorSystem {
	cs := &ColorSystem{
		enabled: enabled,
		colorMap: map[Color]*color.Color{
			ColorReset:      color.New(color.Reset),
			ColorRed:        color.New(color.FgRed),
			ColorGreen:      color.New(color.FgGreen),
			ColorYellow:     color.New(color.FgYellow),
			ColorCyan:       color.New(color.FgCyan),
			ColorDim:        color.New(color.Faint),
			ColorBold:       color.New(color.Bold),
			ColorBoldRed:    color.New(color.Bold, color.FgRed),
			ColorBoldGreen:  color.New(color.Bold, color.FgGreen),
			ColorBoldYellow: color.New(color.Bold, color.FgYellow),
			ColorBoldCyan:   color.New(color.Bold, color.FgCyan),
		},
	}

	for _, c := range cs.colorMap {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return cs
}

// DetectColorSupport reports whether f is a terminal that should get colors
func DetectColorSupport(f *os.File) bool {
	if !isatty.IsTerminal(f.Fd()) && !isatty.IsCygwinTerminal(f.Fd()) {
		return false
	}
	if termenv.EnvNoColor() || os.Getenv("TERM") == "dumb" {
		return false
	}
	return termenv.NewOutput(f).EnvColorProfile() != termenv.Ascii
}

// Enabled reports whether colors are applied
func (cs *ColorSystem) Enabled() bool {
	return cs.enabled
}

// Colorize applies clr to text
func (cs *ColorSystem) Colorize(text string, clr Color) string {
	if !cs.enabled {
		return text
	}
	if c, ok := cs.colorMap[clr]; ok {
		return c.Sprint(text)
	}
	return text
}

// Sprintf formats and colors text
func (cs *ColorSystem) Sprintf(clr Color, format string, args ...interface{}) string {
	return cs.Colorize(fmt.Sprintf(format, args...), clr)
}
