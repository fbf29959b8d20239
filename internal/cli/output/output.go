// Package output renders command results for terminals and pipes.
//
// In auto mode a terminal gets styled text tables and anything else gets
// JSON, so scripts never have to strip colors.
package output

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// Mode selects how results are written.
type Mode string

// Output modes.
const (
	ModeAuto Mode = "auto"
	ModeText Mode = "text"
	ModeJSON Mode = "json"
	ModeCSV  Mode = "csv"
)

// Renderer writes results in one output mode.
type Renderer struct {
	out    io.Writer
	errOut io.Writer
	isTTY  bool
	mode   Mode
	Styles *Styles
}

// NewRenderer creates a renderer, detecting whether out is a terminal.
func NewRenderer(out, errOut io.Writer, mode Mode) *Renderer {
	return NewRendererWithTTY(out, errOut, IsTerminal(out), mode)
}

// NewRendererWithTTY creates a renderer with an explicit terminal state.
func NewRendererWithTTY(out, errOut io.Writer, isTTY bool, mode Mode) *Renderer {
	if mode == "" {
		mode = ModeAuto
	}
	return &Renderer{
		out:    out,
		errOut: errOut,
		isTTY:  isTTY,
		mode:   Mode(strings.ToLower(string(mode))),
		Styles: NewStyles(isTTY),
	}
}

// IsTerminal reports whether w is a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// ConfigureColor sets the process-wide color profile. Colors are disabled
// when noColor is set, NO_COLOR is present, or stdout is not a terminal.
func ConfigureColor(noColor bool) {
	if noColor || os.Getenv("NO_COLOR") != "" || !IsTerminal(os.Stdout) {
		lipgloss.SetColorProfile(termenv.Ascii)
		return
	}
	lipgloss.SetColorProfile(termenv.ColorProfile())
}

// IsTTY reports whether the renderer writes to a terminal.
func (r *Renderer) IsTTY() bool { return r.isTTY }

// Writer returns the result writer.
func (r *Renderer) Writer() io.Writer { return r.out }

// ErrWriter returns the diagnostics writer.
func (r *Renderer) ErrWriter() io.Writer { return r.errOut }

// EffectiveMode resolves auto to text on a terminal and JSON otherwise.
func (r *Renderer) EffectiveMode() Mode {
	if r.mode != ModeAuto {
		return r.mode
	}
	if r.isTTY {
		return ModeText
	}
	return ModeJSON
}

// Println writes a line to the result writer.
func (r *Renderer) Println(a ...any) {
	_, _ = fmt.Fprintln(r.out, a...)
}

// Header writes a section header.
func (r *Renderer) Header(text string) {
	_, _ = fmt.Fprintln(r.out, r.Styles.Header.Render(text))
}

// Success writes a success message to the diagnostics writer.
func (r *Renderer) Success(format string, a ...any) {
	_, _ = fmt.Fprintln(r.errOut, r.Styles.Success.Render("✓")+" "+fmt.Sprintf(format, a...))
}

// Warning writes a warning to the diagnostics writer.
func (r *Renderer) Warning(format string, a ...any) {
	_, _ = fmt.Fprintln(r.errOut, r.Styles.Warning.Render("!")+" "+fmt.Sprintf(format, a...))
}

// Error writes an error to the diagnostics writer.
func (r *Renderer) Error(format string, a ...any) {
	_, _ = fmt.Fprintln(r.errOut, r.Styles.Error.Render("✗")+" "+fmt.Sprintf(format, a...))
}

// Muted writes a de-emphasized line to the diagnostics writer.
func (r *Renderer) Muted(format string, a ...any) {
	_, _ = fmt.Fprintln(r.errOut, r.Styles.Muted.Render(fmt.Sprintf(format, a...)))
}

// JSON writes v as indented JSON.
func (r *Renderer) JSON(v any) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// CSV writes a header and records as CSV.
func (r *Renderer) CSV(headers []string, records [][]string) error {
	w := csv.NewWriter(r.out)
	if err := w.Write(headers); err != nil {
		return err
	}
	return w.WriteAll(records)
}

// Table writes headers and records as a text table followed by a row count.
func (r *Renderer) Table(headers []string, records [][]string) {
	if len(records) == 0 {
		r.Println("(0 rows)")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(r.out)
	if r.isTTY {
		t.SetStyle(table.StyleLight)
	} else {
		t.SetStyle(table.StyleDefault)
	}

	header := make(table.Row, len(headers))
	for i, h := range headers {
		header[i] = h
	}
	t.AppendHeader(header)
	for _, rec := range records {
		row := make(table.Row, len(rec))
		for i, v := range rec {
			row[i] = v
		}
		t.AppendRow(row)
	}
	t.Render()
	_, _ = fmt.Fprintf(r.out, "(%d rows)\n", len(records))
}

// FormatKeyValue formats a "key: value" line.
func FormatKeyValue(key, value string) string {
	return fmt.Sprintf("%s: %s", key, value)
}
