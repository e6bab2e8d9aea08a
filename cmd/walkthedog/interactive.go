package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wippyai/wtd-bridge/bridge"
	"github.com/wippyai/wtd-bridge/config"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	runningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

// continueMsg carries a bridge continuation into the page's update loop.
type continueMsg struct {
	fn func()
}

type mountedMsg struct{}

// mountCounter tallies mount hook calls as the bridge judged them.
type mountCounter struct {
	accepted atomic.Int64
	ignored  atomic.Int64
}

func (c *mountCounter) Transition(bridge.Event) {}

func (c *mountCounter) Mounted(accepted bool) {
	if accepted {
		c.accepted.Add(1)
	} else {
		c.ignored.Add(1)
	}
}

// pageModel is the host view the engine is mounted into.
type pageModel struct {
	ctx     context.Context
	err     error
	h       *host
	logs    *lineBuffer
	counts  *mountCounter
	spinner spinner.Model
	mounts  int
	ignored int
	state   bridge.State
}

func newPageModel(ctx context.Context, logs *lineBuffer) *pageModel {
	return &pageModel{
		ctx:     ctx,
		logs:    logs,
		counts:  &mountCounter{},
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(mutedStyle)),
	}
}

func (m *pageModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.mount)
}

// mount fires the bridge mount hook, as the view does when it becomes active.
func (m *pageModel) mount() tea.Msg {
	m.h.bridge.OnMount(m.ctx)
	return mountedMsg{}
}

func (m *pageModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.err = m.h.bridge.OnDestroy(context.Background())
			m.refresh()
			return m, tea.Quit
		case "m":
			return m, m.mount
		}

	case continueMsg:
		msg.fn()

	case spinner.TickMsg:
		m.spinner, cmd = m.spinner.Update(msg)
	}

	m.refresh()
	return m, cmd
}

func (m *pageModel) refresh() {
	m.state = m.h.bridge.State()
	m.ignored = int(m.counts.ignored.Load())
	m.mounts = int(m.counts.accepted.Load()) + m.ignored
	if err := m.h.bridge.Err(); err != nil {
		m.err = err
	}
}

func (m *pageModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Walk the Dog"))
	b.WriteString(" ")
	b.WriteString(m.h.engine.Location())
	b.WriteString("\n\n")

	switch m.state {
	case bridge.StateUnloaded:
		b.WriteString(mutedStyle.Render("waiting for mount"))
	case bridge.StateLoading:
		b.WriteString(m.spinner.View())
		b.WriteString(" loading engine...")
	case bridge.StateRunning:
		b.WriteString(runningStyle.Render("engine running"))
	case bridge.StateFailed:
		b.WriteString(errorStyle.Render(fmt.Sprintf("engine failed: %v", m.err)))
	case bridge.StateDetached:
		b.WriteString(mutedStyle.Render("detached"))
	}
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "mount calls: %d (ignored %d)\n", m.mounts, m.ignored)

	if lines := m.logs.Lines(); len(lines) > 0 {
		b.WriteString("\n")
		for _, line := range lines {
			b.WriteString(helpStyle.Render(line))
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(helpStyle.Render("m mount again • q quit"))
	return b.String()
}

// lineBuffer keeps the last few log lines for display.
type lineBuffer struct {
	lines []string
	max   int
	mu    sync.Mutex
}

func newLineBuffer(n int) *lineBuffer {
	return &lineBuffer{max: n}
}

func (l *lineBuffer) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		l.lines = append(l.lines, line)
	}
	if over := len(l.lines) - l.max; over > 0 {
		l.lines = append(l.lines[:0], l.lines[over:]...)
	}
	return len(p), nil
}

func (l *lineBuffer) Lines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.lines...)
}

func pageLogger(cfg config.Config, logs *lineBuffer) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	enc := zap.NewDevelopmentEncoderConfig()
	enc.TimeKey = ""
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.Lock(zapcore.AddSync(logs)), level)
	return zap.New(core), nil
}

func runInteractive(ctx context.Context, cfg config.Config) error {
	logs := newLineBuffer(8)
	log, err := pageLogger(cfg, logs)
	if err != nil {
		return err
	}

	page := newPageModel(ctx, logs)
	p := tea.NewProgram(page, tea.WithAltScreen(), tea.WithContext(ctx))

	h, err := newHost(ctx, cfg, log,
		bridge.WithObserver(page.counts),
		bridge.WithDispatcher(func(fn func()) {
			p.Send(continueMsg{fn: fn})
		}),
	)
	if err != nil {
		return err
	}
	defer h.Close(context.Background())
	page.h = h

	if cfg.Listen != "" {
		stopServer := serve(ctx, cfg.Listen, newRouter(h), log)
		defer stopServer()
	}

	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	if page.state == bridge.StateFailed {
		return page.err
	}
	return nil
}
