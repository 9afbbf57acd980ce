// Package tui is the window front end: a bubbletea program that polls the
// notification queue on a fixed tick and refreshes remote state off-thread.
package tui

import (
	"context"
	"time"

	"github.com/pdai-labs/pdai/internal/session"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"
)

const Title = "Pneumonia-Detection-Ai-GUI"

type tab int

const (
	tabMain tab = iota
	tabModel
	tabSystem
	tabCount
)

var tabNames = [...]string{"Main", "Model", "System"}

func (t tab) String() string {
	return tabNames[t]
}

type tickMsg time.Time

type catalogMsg struct {
	names []string
}

type infoMsg struct {
	text string
}

type result struct {
	label      string
	confidence float64
	positive   bool
	low        bool
	heatmap    string
}

type Model struct {
	ctx    context.Context
	s      *session.Session
	logger *zap.Logger
	keys   keyMap
	help   help.Model
	input  textinput.Model

	tick        time.Duration
	infoRefresh time.Duration
	now         func() time.Time

	active   tab
	log      []string
	result   *result
	heatmap  bool
	metadata bool

	models      []string
	cursor      int
	catalogBusy bool

	info     string
	infoAt   time.Time
	infoBusy bool

	width  int
	height int
}

type OptionFunc func(m *Model)

func WithLogger(l *zap.Logger) OptionFunc {
	return func(m *Model) {
		m.logger = l
	}
}

func WithClock(now func() time.Time) OptionFunc {
	return func(m *Model) {
		m.now = now
	}
}

// New builds the window model. ctx bounds every background refresh and
// download started from it.
func New(ctx context.Context, s *session.Session, opts ...OptionFunc) Model {
	input := textinput.New()
	input.Placeholder = "path to a .png, .jpg or .dcm image"
	input.Prompt = "Image: "
	input.Focus()

	cfg := s.Config()
	m := Model{
		ctx:         ctx,
		s:           s,
		logger:      zap.NewNop(),
		keys:        newKeyMap(),
		help:        help.New(),
		input:       input,
		tick:        cfg.GUI.Tick,
		infoRefresh: cfg.GUI.ModelInfoRefresh,
		now:         time.Now,
		heatmap:     true,
		info:        "Loading model info...",
	}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.scheduleTick())
}

func (m Model) scheduleTick() tea.Cmd {
	return tea.Tick(m.tick, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) fetchCatalog() tea.Cmd {
	ctx, s := m.ctx, m.s
	return func() tea.Msg {
		return catalogMsg{names: s.AvailableModels(ctx)}
	}
}

func (m Model) fetchInfo() tea.Cmd {
	ctx, s := m.ctx, m.s
	return func() tea.Msg {
		return infoMsg{text: s.ModelInfo(ctx)}
	}
}

// Run starts the program and blocks until it quits.
func Run(ctx context.Context, s *session.Session, opts ...OptionFunc) error {
	p := tea.NewProgram(New(ctx, s, opts...), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}
