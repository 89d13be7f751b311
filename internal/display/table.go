package display

import (
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/term"
)

// BorderStyle defines table border characters
type BorderStyle struct {
	TopLeft     string
	TopRight    string
	BottomLeft  string
	BottomRight string
	Horizontal  string
	Vertical    string
	Cross       string
	TopTee      string
	BottomTee   string
	LeftTee     string
	RightTee    string
}

var (
	ASCIIBorderStyle = BorderStyle{
		TopLeft: "+", TopRight: "+", BottomLeft: "+", BottomRight: "+",
		Horizontal: "-", Vertical: "|", Cross: "+",
		TopTee: "+", BottomTee: "+", LeftTee: "+", RightTee: "+",
	}

	UnicodeBorderStyle = BorderStyle{
		TopLeft: "┌", TopRight: "┐", BottomLeft: "└", BottomRight: "┘",
		Horizontal: "─", Vertical: "│", Cross: "┼",
		TopTee: "┬", BottomTee: "┴", LeftTee: "├", RightTee: "┤",
	}
)

// Cell is a table cell. Width is measured on Text, color is applied after padding.
type Cell struct {
	Text  string
	Color Color
}

// Table renders a bordered table
type Table struct {
	headers  []string
	rows     [][]Cell
	border   BorderStyle
	colors   *ColorSystem
	padding  int
	maxWidth int
}

// NewTable creates a table. maxWidth 0 disables truncation.
func NewTable(colors *ColorSystem, border BorderStyle, maxWidth int) *Table {
	if colors == nil {
		colors = NewColorSystem(false)
	}
	return &Table{border: border, colors: colors, padding: 1, maxWidth: maxWidth}
}

// SetHeaders sets the table headers
func (t *Table) SetHeaders(headers ...string) {
	t.headers = headers
}

// AddRow adds a row
func (t *Table) AddRow(cells ...Cell) {
	t.rows = append(t.rows, cells)
}

// Render returns the formatted table
func (t *Table) Render() string {
	if len(t.headers) == 0 && len(t.rows) == 0 {
		return ""
	}

	widths := t.fitWidths(t.columnWidths())
	var b strings.Builder

	b.WriteString(t.rule(widths, t.border.TopLeft, t.border.TopTee, t.border.TopRight))
	if len(t.headers) > 0 {
		header := make([]Cell, len(t.headers))
		for i, h := range t.headers {
			header[i] = Cell{Text: h, Color: ColorBold}
		}
		b.WriteString(t.row(header, widths))
		b.WriteString(t.rule(widths, t.border.LeftTee, t.border.Cross, t.border.RightTee))
	}
	for _, row := range t.rows {
		b.WriteString(t.row(row, widths))
	}
	b.WriteString(t.rule(widths, t.border.BottomLeft, t.border.BottomTee, t.border.BottomRight))

	return b.String()
}

// RenderTo writes the table to w
func (t *Table) RenderTo(w io.Writer) {
	fmt.Fprint(w, t.Render())
}

func (t *Table) columnWidths() []int {
	cols := len(t.headers)
	for _, row := range t.rows {
		if len(row) > cols {
			cols = len(row)
		}
	}

	widths := make([]int, cols)
	for i, h := range t.headers {
		widths[i] = utf8.RuneCountInString(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if w := utf8.RuneCountInString(cell.Text); w > widths[i] {
				widths[i] = w
			}
		}
	}
	return widths
}

// fitWidths shrinks the widest column until the table fits maxWidth
func (t *Table) fitWidths(widths []int) []int {
	if t.maxWidth <= 0 || len(widths) == 0 {
		return widths
	}

	total := func() int {
		sum := len(widths) + 1
		for _, w := range widths {
			sum += w + 2*t.padding
		}
		return sum
	}

	for total() > t.maxWidth {
		widest := 0
		for i, w := range widths {
			if w > widths[widest] {
				widest = i
			}
		}
		if widths[widest] <= 4 {
			break
		}
		widths[widest]--
	}
	return widths
}

func (t *Table) rule(widths []int, left, mid, right string) string {
	var b strings.Builder
	b.WriteString(left)
	for i, w := range widths {
		b.WriteString(strings.Repeat(t.border.Horizontal, w+2*t.padding))
		if i < len(widths)-1 {
			b.WriteString(mid)
		}
	}
	b.WriteString(right)
	b.WriteString("\n")
	return b.String()
}

func (t *Table) row(cells []Cell, widths []int) string {
	var b strings.Builder
	pad := strings.Repeat(" ", t.padding)

	b.WriteString(t.border.Vertical)
	for i, w := range widths {
		var cell Cell
		if i < len(cells) {
			cell = cells[i]
		}

		text := truncate(cell.Text, w)
		fill := strings.Repeat(" ", w-utf8.RuneCountInString(text))
		b.WriteString(pad + t.colors.Colorize(text, cell.Color) + fill + pad)
		b.WriteString(t.border.Vertical)
	}
	b.WriteString("\n")
	return b.String()
}

func truncate(s string, width int) string {
	if utf8.RuneCountInString(s) <= width {
		return s
	}
	runes := []rune(s)
	if width > 3 {
		return string(runes[:width-3]) + "..."
	}
	return string(runes[:width])
}

// TerminalWidth returns the width of f, or 0 when f is not a terminal
func TerminalWidth(f *os.File) int {
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil {
		return 0
	}
	return width
}
