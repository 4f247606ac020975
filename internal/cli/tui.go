package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/cwygoda/scouter/internal/domain"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
)

// errInterrupted is returned when the user quits the view mid-run.
var errInterrupted = errors.New("interrupted")

const logLines = 6

type progressMsg domain.ProgressEvent

type doneMsg struct {
	summary *scoutSummary
	err     error
}

type scoutModel struct {
	url     string
	bar     progress.Model
	percent float64
	detail  string
	log     []string
	failed  string

	done        bool
	interrupted bool
	summary     *scoutSummary
	err         error
}

func newScoutModel(url string) scoutModel {
	return scoutModel{
		url:    url,
		bar:    progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		detail: "Starting...",
	}
}

func (m scoutModel) Init() tea.Cmd {
	return nil
}

func (m scoutModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		if w := msg.Width - 4; w > 10 && w < 60 {
			m.bar.Width = w
		}
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			m.interrupted = true
			return m, tea.Quit
		}
		return m, nil
	case progressMsg:
		ev := domain.ProgressEvent(msg)
		if ev.Progress == domain.ProgressFailed {
			m.failed = ev.Detail
		} else if p := float64(ev.Progress) / 100; p >= m.percent {
			m.percent = p
		}
		m.detail = ev.Detail
		m.log = append(m.log, ev.Detail)
		if len(m.log) > logLines {
			m.log = m.log[len(m.log)-logLines:]
		}
		return m, nil
	case doneMsg:
		m.done = true
		m.summary = msg.summary
		m.err = msg.err
		if msg.err == nil {
			m.percent = 1
		}
		return m, tea.Quit
	}
	return m, nil
}

func (m scoutModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Scouting " + m.url))
	b.WriteString("\n\n")
	b.WriteString(m.bar.ViewAs(m.percent))
	b.WriteString("\n")

	switch {
	case m.failed != "":
		b.WriteString(errorStyle.Render("Failed: " + m.failed))
	case m.err != nil:
		b.WriteString(errorStyle.Render("Failed: " + m.err.Error()))
	default:
		b.WriteString(m.detail)
	}
	b.WriteString("\n\n")

	for _, line := range m.log {
		b.WriteString(mutedStyle.Render("  " + line))
		b.WriteString("\n")
	}
	if !m.done {
		b.WriteString(mutedStyle.Render("ctrl+c to stop"))
		b.WriteString("\n")
	}
	return b.String()
}

// runInteractive runs a scout behind a live progress view.
func runInteractive(ctx context.Context, svc scoutService, opts scoutOptions) (*scoutSummary, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(newScoutModel(opts.URL))
	result := make(chan doneMsg, 1)
	go func() {
		summary, err := runScout(ctx, svc, opts, func(ev domain.ProgressEvent) {
			p.Send(progressMsg(ev))
		})
		msg := doneMsg{summary: summary, err: err}
		result <- msg
		p.Send(msg)
	}()

	final, err := p.Run()
	if err != nil {
		cancel()
		<-result
		return nil, fmt.Errorf("progress view: %w", err)
	}
	if m, ok := final.(scoutModel); ok && m.interrupted && !m.done {
		cancel()
		<-result
		return nil, errInterrupted
	}
	res := <-result
	return res.summary, res.err
}
