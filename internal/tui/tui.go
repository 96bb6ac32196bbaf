// Package tui shows a spinner while an operation runs and its summary once
// it is done.
package tui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/sokinpui/fmod/internal/ui"
	"github.com/sokinpui/fmod/model"
)

// Task is the work run behind the spinner. report may be called from any
// goroutine.
type Task func(report func(done, total int)) (model.Summary, error)

// --- Messages ---
type summaryMsg struct {
	model.Summary
}

type errorMsg struct{ err error }

type progressMsg struct{ done, total int }

// --- Model ---
type Model struct {
	title    string
	task     Task
	report   func(done, total int)
	spinner  spinner.Model
	state    state
	progress progressMsg
	summary  model.Summary
	err      error
}

type state int

const (
	stateProcessing state = iota
	stateSummary
	stateError
)

// New returns a model running task. report forwards progress into the
// program; it may be nil.
func New(title string, task Task, report func(done, total int)) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	if report == nil {
		report = func(int, int) {}
	}
	return Model{
		title:   title,
		task:    task,
		report:  report,
		spinner: s,
		state:   stateProcessing,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.run)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case progressMsg:
		m.progress = msg
		return m, nil

	case summaryMsg:
		m.state = stateSummary
		m.summary = msg.Summary
		return m, tea.Quit

	case errorMsg:
		m.state = stateError
		m.err = msg.err
		return m, tea.Quit

	default:
		var cmd tea.Cmd
		if m.state == stateProcessing {
			m.spinner, cmd = m.spinner.Update(msg)
		}
		return m, cmd
	}
	return m, nil
}

func (m Model) View() string {
	switch m.state {
	case stateProcessing:
		if m.progress.total > 0 {
			return fmt.Sprintf("%s %s [%d/%d]", m.spinner.View(), m.title, m.progress.done, m.progress.total)
		}
		return fmt.Sprintf("%s %s", m.spinner.View(), m.title)
	case stateError:
		return ui.ErrorStyle.Render("Error: "+m.err.Error()) + "\n"
	case stateSummary:
		return ui.RenderSummary(m.summary)
	default:
		return ""
	}
}

// Result is the task outcome once the program has exited.
func (m Model) Result() (model.Summary, error) {
	return m.summary, m.err
}

func (m Model) run() tea.Msg {
	summary, err := m.task(m.report)
	if err != nil {
		return errorMsg{err}
	}
	return summaryMsg{Summary: summary}
}

// ShownError wraps a task error the program has already displayed.
type ShownError struct{ Err error }

func (e *ShownError) Error() string { return e.Err.Error() }
func (e *ShownError) Unwrap() error { return e.Err }

// Run executes task behind a spinner and returns its outcome. Task errors
// come back as *ShownError. A user quit before the task finishes returns
// tea.ErrProgramKilled.
func Run(title string, task Task) (model.Summary, error) {
	var p *tea.Program
	report := func(done, total int) {
		if p != nil {
			p.Send(progressMsg{done: done, total: total})
		}
	}
	p = tea.NewProgram(New(title, task, report), tea.WithOutput(ui.Output))
	final, err := p.Run()
	if err != nil {
		return model.Summary{}, err
	}
	m := final.(Model)
	if m.state == stateProcessing {
		return model.Summary{}, tea.ErrProgramKilled
	}
	summary, err := m.Result()
	if err != nil {
		return summary, &ShownError{Err: err}
	}
	return summary, nil
}
