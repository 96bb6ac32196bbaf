// Package ui renders fmod output for a terminal. Messages go to stderr so
// stdout stays free for envelopes and diffs.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/sokinpui/fmod/model"
)

// Output receives every message written by this package.
var Output io.Writer = os.Stderr

var (
	HeaderStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	InfoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("45"))
	SuccessStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("78"))
	WarningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	ErrorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("197"))
	PathStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("221"))
	FaintStyle   = lipgloss.NewStyle().Faint(true)
)

func printf(style lipgloss.Style, indent, format string, a ...any) {
	fmt.Fprintln(Output, indent+style.Render(fmt.Sprintf(format, a...)))
}

func Header(format string, a ...any)  { printf(HeaderStyle, "", format, a...) }
func Info(format string, a ...any)    { printf(InfoStyle, "", format, a...) }
func Success(format string, a ...any) { printf(SuccessStyle, "", format, a...) }
func Warning(format string, a ...any) { printf(WarningStyle, "", format, a...) }
func Error(format string, a ...any)   { printf(ErrorStyle, "", format, a...) }
func Path(format string, a ...any)    { printf(PathStyle, "  ", format, a...) }

// --- Summaries ---

// RenderSummary formats the outcome of an apply, undo or redo.
func RenderSummary(s model.Summary) string {
	var b strings.Builder
	if s.Message != "" {
		b.WriteString(HeaderStyle.Render(s.Message))
		b.WriteString("\n\n")
	}
	writeStats(&b, "Created:", s.Created)
	writeStats(&b, "Modified:", s.Modified)
	if len(s.Dirs) > 0 {
		b.WriteString(InfoStyle.Render("New directories:"))
		b.WriteString("\n")
		for _, d := range s.Dirs {
			fmt.Fprintf(&b, "  %s\n", PathStyle.Render(d+"/"))
		}
	}
	if len(s.Failed) > 0 {
		b.WriteString(ErrorStyle.Render("Not published:"))
		b.WriteString("\n")
		for _, p := range s.Failed {
			fmt.Fprintf(&b, "  %s\n", PathStyle.Render(p))
		}
	}
	if s.Empty() && s.Message == "" {
		b.WriteString(FaintStyle.Render("Nothing to do."))
		b.WriteString("\n")
	}
	if s.Transaction != "" {
		added, removed := s.Totals()
		b.WriteString(FaintStyle.Render(fmt.Sprintf("transaction %s, +%d -%d", s.Transaction, added, removed)))
		b.WriteString("\n")
	}
	return b.String()
}

func writeStats(b *strings.Builder, title string, stats []model.FileStat) {
	if len(stats) == 0 {
		return
	}
	b.WriteString(SuccessStyle.Render(title))
	b.WriteString("\n")
	for _, f := range stats {
		fmt.Fprintf(b, "  %s %s %s\n",
			PathStyle.Render(f.Path),
			FaintStyle.Render("("+f.Kind+")"),
			SuccessStyle.Render(fmt.Sprintf("+%d", f.Added))+" "+ErrorStyle.Render(fmt.Sprintf("-%d", f.Removed)))
	}
}

// PrintSummary writes RenderSummary to Output.
func PrintSummary(s model.Summary) {
	fmt.Fprint(Output, RenderSummary(s))
}

// RenderStatus lists tracked files and the journal.
func RenderStatus(st model.Status) string {
	var b strings.Builder
	b.WriteString(HeaderStyle.Render(fmt.Sprintf("Tracked files (%d)", len(st.Files))))
	b.WriteString("\n")
	for _, f := range st.Files {
		mark := " "
		switch {
		case f.Missing:
			mark = ErrorStyle.Render("!")
		case f.Modified:
			mark = WarningStyle.Render("M")
		}
		fmt.Fprintf(&b, "  %s %s %s\n", mark, PathStyle.Render(f.Path), FaintStyle.Render(fmt.Sprintf("r%d", f.Revision)))
	}
	if len(st.History) == 0 {
		return b.String()
	}
	b.WriteString("\n")
	b.WriteString(HeaderStyle.Render(fmt.Sprintf("History (%d)", len(st.History))))
	b.WriteString("\n")
	for i := len(st.History) - 1; i >= 0; i-- {
		h := st.History[i]
		line := fmt.Sprintf("  %s %s %s", h.ID[:min(8, len(h.ID))], h.Time, strings.Join(h.Paths, ", "))
		if !h.Applied {
			line = FaintStyle.Render(line + " (undone)")
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

// ColorizeDiff styles a unified diff line by line.
func ColorizeDiff(text string) string {
	lines := strings.SplitAfter(text, "\n")
	var b strings.Builder
	for _, l := range lines {
		body, nl := strings.CutSuffix(l, "\n")
		switch {
		case strings.HasPrefix(body, "+++"), strings.HasPrefix(body, "---"):
			body = HeaderStyle.Render(body)
		case strings.HasPrefix(body, "@@"):
			body = InfoStyle.Render(body)
		case strings.HasPrefix(body, "+"):
			body = SuccessStyle.Render(body)
		case strings.HasPrefix(body, "-"):
			body = ErrorStyle.Render(body)
		}
		b.WriteString(body)
		if nl {
			b.WriteString("\n")
		}
	}
	return b.String()
}

// --- Progress Bar ---

// ProgressBar draws a single-line bar on Output.
type ProgressBar struct {
	total   int
	prefix  string
	current int
}

func NewProgressBar(total int, prefix string) *ProgressBar {
	return &ProgressBar{total: total, prefix: prefix}
}

func (p *ProgressBar) Start() {
	p.draw()
}

// Set moves the bar to done out of total.
func (p *ProgressBar) Set(done, total int) {
	p.current, p.total = done, total
	p.draw()
}

func (p *ProgressBar) Increment() {
	p.current++
	p.draw()
}

func (p *ProgressBar) Finish() {
	fmt.Fprintln(Output)
}

func (p *ProgressBar) draw() {
	if p.total == 0 {
		return
	}
	const barLength = 40
	percent := float64(p.current) / float64(p.total)
	filledLength := int(percent * barLength)
	bar := strings.Repeat("█", filledLength) + strings.Repeat("-", barLength-filledLength)

	percentStr := fmt.Sprintf("%.1f%%", percent*100)
	countStr := fmt.Sprintf("[%d/%d]", p.current, p.total)

	fmt.Fprintf(Output, "\r%s |%s| %s %s", p.prefix, bar, countStr, percentStr)
}
