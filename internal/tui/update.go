package tui

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pdai-labs/pdai/internal/imageio"
	"github.com/pdai-labs/pdai/internal/model"
	"github.com/pdai-labs/pdai/internal/session"
	"github.com/pdai-labs/pdai/internal/utils/pathutil"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"
)

const selectModelHint = "Select a available model from the list."

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		return m.handleTick()
	case catalogMsg:
		m.catalogBusy = false
		m.models = msg.names
		if m.cursor >= len(m.models) {
			m.cursor = max(0, len(m.models)-1)
		}
		return m, nil
	case infoMsg:
		m.infoBusy = false
		m.info = msg.text
		m.infoAt = m.now()
		return m, nil
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		return m, nil
	case tea.KeyMsg:
		return m.safeHandleKey(msg)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleTick() (tea.Model, tea.Cmd) {
	cmds := []tea.Cmd{m.scheduleTick()}

	if !m.catalogBusy && m.s.CatalogStale() {
		m.catalogBusy = true
		cmds = append(cmds, m.fetchCatalog())
	}
	if !m.infoBusy && m.now().Sub(m.infoAt) >= m.infoRefresh {
		m.infoBusy = true
		cmds = append(cmds, m.fetchInfo())
	}
	m.syncLog()

	return m, tea.Batch(cmds...)
}

// syncLog replaces the log pane with the queue window when it changed.
func (m *Model) syncLog() {
	q := m.s.Queue()
	if q.IsDirty() {
		m.log = q.Drain(true)
	}
}

// safeHandleKey keeps the program alive when a key handler panics. The
// panic is reported like any other internal error and the model state from
// before the key press is kept.
func (m Model) safeHandleKey(msg tea.KeyMsg) (next tea.Model, cmd tea.Cmd) {
	defer func() {
		if p := recover(); p != nil {
			m.internal("Func[GUI>>key:"+msg.String()+"]", session.NewPanicError(p))
			m.syncLog()
			next, cmd = m, nil
		}
	}()
	return m.handleKey(msg)
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.NextTab):
		m.setTab((m.active + 1) % tabCount)
		return m, nil
	case key.Matches(msg, m.keys.PrevTab):
		m.setTab((m.active + tabCount - 1) % tabCount)
		return m, nil
	case key.Matches(msg, m.keys.Debug):
		if m.s.ToggleDebug() {
			m.s.Queue().Push("Debug mode enabled.")
		} else {
			m.s.Queue().Push("Debug mode disabled.")
		}
		m.syncLog()
		return m, nil
	}

	switch m.active {
	case tabMain:
		return m.handleMainKey(msg)
	case tabModel:
		return m.handleModelKey(msg)
	}
	return m, nil
}

func (m *Model) setTab(t tab) {
	m.active = t
	m.keys.tab = t
	if t == tabMain {
		m.input.Focus()
	} else {
		m.input.Blur()
	}
}

func (m Model) handleMainKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Analyse):
		m.analyse()
		m.syncLog()
		return m, nil
	case key.Matches(msg, m.keys.Heatmap):
		m.heatmap = !m.heatmap
		return m, nil
	case key.Matches(msg, m.keys.Metadata):
		m.metadata = !m.metadata
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleModelKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	q := m.s.Queue()

	switch {
	case key.Matches(msg, m.keys.UpDown):
		if len(m.models) == 0 {
			return m, nil
		}
		if msg.String() == "up" {
			m.cursor = max(0, m.cursor-1)
		} else {
			m.cursor = min(len(m.models)-1, m.cursor+1)
		}
	case key.Matches(msg, m.keys.Update):
		if m.cursor < 0 || m.cursor >= len(m.models) {
			q.Push("ERROR: " + selectModelHint)
			break
		}
		err := m.s.UpdateModelAsync(m.models[m.cursor])
		switch {
		case errors.Is(err, session.ErrDownloadBusy):
			q.Push("ERROR: A download is already running.")
		case errors.Is(err, session.ErrUpdateUnsupportedFormat):
			q.Push("ERROR: Cannot update a TF_dir model, switch model_format to h5.")
		case err != nil:
			m.internal("Func[GUI>>update]", err)
		}
		// Force the model info to be recomputed for the new file.
		m.infoAt = m.infoAt.AddDate(-1, 0, 0)
	case key.Matches(msg, m.keys.Reload):
		q.Push("Reloading the model...")
		if err := m.s.ReloadModel(m.ctx); err != nil {
			q.Push("ERROR: Failed to load the model. Try downloading a model first.")
		} else {
			q.Push("Model loaded.")
		}
	}

	m.syncLog()
	return m, nil
}

// analyse loads the image named in the input and classifies it.
func (m *Model) analyse() {
	q := m.s.Queue()
	path := pathutil.CleanInput(m.input.Value())
	if path == "" {
		q.Push("ERROR: Enter the image path.")
		return
	}

	m.result = nil
	_, err := m.s.LoadImage(path)
	switch {
	case errors.Is(err, imageio.ErrNotFound):
		q.Push("ERROR: Invalid file dir.")
		return
	case errors.Is(err, imageio.ErrUnsupportedFormat):
		q.Push("ERROR: Invalid file format. Supported formats: " + strings.Join(imageio.SupportedExtensions, ", ") + ".")
		return
	case err != nil:
		q.Push(fmt.Sprintf("ERROR: Failed to load the image: %v", err))
		return
	}

	q.Push("Analysing the image...")
	pred, err := m.s.Predict(m.ctx, m.heatmap)
	switch {
	case errors.Is(err, model.ErrModelUnavailable):
		q.Push("ERROR: Failed to load the model. Try downloading a model first.")
		return
	case err != nil:
		m.internal("Func[GUI>>analyse]", err)
		return
	}

	m.result = &result{
		label:      pred.Label,
		confidence: pred.Confidence,
		positive:   pred.Class == model.ClassPneumonia,
		low:        pred.LowConfidence,
	}
	if pred.Heatmap != nil {
		m.result.heatmap = pred.Heatmap.Path
	}
	if pred.HeatmapErr != nil {
		q.Push(fmt.Sprintf("ERROR: Failed to create the heatmap: %v", pred.HeatmapErr))
	}
	q.Push("Done.")
}

// internal reports an unexpected error. In debug mode the detail goes to
// the log file as well.
func (m *Model) internal(id string, err error) {
	ie := m.s.HandleInternal(id, err, false)
	if m.s.Debug() {
		m.logger.Debug("internal error detail", zap.String("id", ie.ID), zap.String("detail", ie.Detail()))
	}
}
