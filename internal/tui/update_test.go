package tui

import (
	"context"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pdai-labs/pdai/internal/classifier"
	"github.com/pdai-labs/pdai/internal/config"
	"github.com/pdai-labs/pdai/internal/dataset"
	"github.com/pdai-labs/pdai/internal/imageio"
	"github.com/pdai-labs/pdai/internal/model"
	"github.com/pdai-labs/pdai/internal/mq"
	"github.com/pdai-labs/pdai/internal/session"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func newTestModel(t *testing.T) (Model, *session.Session) {
	t.Helper()
	return newTestModelWithLoader(t, classifier.NewLoader())
}

func newTestModelWithLoader(t *testing.T, loader model.Loader) (Model, *session.Session) {
	t.Helper()

	dir := t.TempDir()
	v := viper.New()
	v.Set("data_dir", filepath.Join(dir, "data"))
	v.Set("model_dir", filepath.Join(dir, "models"))
	v.Set("temp_dir", filepath.Join(dir, "temp"))

	cfg, err := config.Load(v)
	require.NoError(t, err)

	q := mq.New(cfg.GUI.QueueCapacity)
	m := model.NewManager(cfg.ModelPath(), cfg.ModelExtensions, loader)
	s := session.New(cfg, q, m, dataset.NewStore(cfg.DatasetPath, nil))
	return New(context.Background(), s), s
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	nm, ok := next.(Model)
	require.True(t, ok)
	return nm, cmd
}

func keyMsg(k string) tea.KeyMsg {
	switch k {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	case "shift+tab":
		return tea.KeyMsg{Type: tea.KeyShiftTab}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "up":
		return tea.KeyMsg{Type: tea.KeyUp}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	case "ctrl+t":
		return tea.KeyMsg{Type: tea.KeyCtrlT}
	case "f2":
		return tea.KeyMsg{Type: tea.KeyF2}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)}
}

func writeImage(t *testing.T) string {
	t.Helper()

	img := image.NewGray(image.Rect(0, 0, 16, 16))
	path := filepath.Join(t.TempDir(), "xray.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
	return path
}

func TestTickDrainsDirtyQueue(t *testing.T) {
	m, s := newTestModel(t)

	s.Queue().Push("first")
	s.Queue().Push("second")

	m, cmd := update(t, m, tickMsg(time.Now()))
	require.NotNil(t, cmd)
	require.Equal(t, []string{"first", "second"}, m.log)
	require.False(t, s.Queue().IsDirty())
	require.Contains(t, m.View(), "> second")
}

func TestTickRefreshesModelInfoOnce(t *testing.T) {
	m, _ := newTestModel(t)

	m, _ = update(t, m, tickMsg(time.Now()))
	require.True(t, m.infoBusy)

	m, _ = update(t, m, infoMsg{text: "Model file exists: False"})
	require.False(t, m.infoBusy)
	require.Equal(t, "Model file exists: False", m.info)

	m, _ = update(t, m, tickMsg(time.Now()))
	require.False(t, m.infoBusy)
}

func TestTabsCycle(t *testing.T) {
	m, _ := newTestModel(t)
	require.Equal(t, tabMain, m.active)

	m, _ = update(t, m, keyMsg("tab"))
	require.Equal(t, tabModel, m.active)
	require.False(t, m.input.Focused())

	m, _ = update(t, m, keyMsg("tab"))
	require.Equal(t, tabSystem, m.active)
	require.Contains(t, m.View(), "Session:")

	m, _ = update(t, m, keyMsg("tab"))
	require.Equal(t, tabMain, m.active)
	require.True(t, m.input.Focused())

	m, _ = update(t, m, keyMsg("shift+tab"))
	require.Equal(t, tabSystem, m.active)
}

func TestUpdateNeedsSelection(t *testing.T) {
	m, _ := newTestModel(t)

	m, _ = update(t, m, keyMsg("tab"))
	m, _ = update(t, m, keyMsg("u"))
	require.Contains(t, m.log, "ERROR: "+selectModelHint)
}

func TestModelListCursor(t *testing.T) {
	m, _ := newTestModel(t)

	m, _ = update(t, m, catalogMsg{names: []string{"a.h5", "b.h5"}})
	m, _ = update(t, m, keyMsg("tab"))

	m, _ = update(t, m, keyMsg("down"))
	require.Equal(t, 1, m.cursor)
	m, _ = update(t, m, keyMsg("down"))
	require.Equal(t, 1, m.cursor)
	m, _ = update(t, m, keyMsg("up"))
	require.Equal(t, 0, m.cursor)

	m, _ = update(t, m, catalogMsg{names: nil})
	require.Equal(t, 0, m.cursor)
	require.Contains(t, m.View(), "none")
}

func TestReloadWithoutModel(t *testing.T) {
	m, _ := newTestModel(t)

	m, _ = update(t, m, keyMsg("tab"))
	m, _ = update(t, m, keyMsg("r"))
	require.Contains(t, m.log, "Reloading the model...")
	require.Contains(t, m.log, "ERROR: Failed to load the model. Try downloading a model first.")
}

func TestAnalyse(t *testing.T) {
	m, s := newTestModel(t)

	m, _ = update(t, m, keyMsg("enter"))
	require.Contains(t, m.log, "ERROR: Enter the image path.")

	m.input.SetValue("/missing/xray.png")
	m, _ = update(t, m, keyMsg("enter"))
	require.Contains(t, m.log, "ERROR: Invalid file dir.")

	m.input.SetValue(writeImage(t))
	m, _ = update(t, m, keyMsg("enter"))
	require.Contains(t, m.log, "ERROR: Failed to load the model. Try downloading a model first.")
	require.Nil(t, m.result)

	cfg := s.Config()
	c := classifier.New(imageio.TensorLen, model.DefaultClasses, cfg.ModelExtensions)
	require.NoError(t, c.Save(cfg.ModelPath()))
	_, err := s.Models().Reload(context.Background())
	require.NoError(t, err)

	m, _ = update(t, m, keyMsg("enter"))
	require.NotNil(t, m.result)
	require.Equal(t, model.DefaultClasses[model.ClassNormal], m.result.label)
	require.True(t, m.result.low)
	require.Contains(t, m.log, "Done.")
	require.Contains(t, m.View(), "Prediction: ")
}

func TestTogglesAndQuit(t *testing.T) {
	m, s := newTestModel(t)
	require.True(t, m.heatmap)

	m, _ = update(t, m, keyMsg("ctrl+t"))
	require.False(t, m.heatmap)

	m, _ = update(t, m, keyMsg("f2"))
	require.True(t, s.Debug())
	require.Contains(t, m.log, "Debug mode enabled.")
	m, _ = update(t, m, keyMsg("f2"))
	require.False(t, s.Debug())

	_, cmd := update(t, m, keyMsg("esc"))
	require.NotNil(t, cmd)
	require.IsType(t, tea.QuitMsg{}, cmd())
}

func TestTypingGoesToInput(t *testing.T) {
	m, _ := newTestModel(t)

	m, _ = update(t, m, keyMsg("u"))
	m, _ = update(t, m, keyMsg("r"))
	require.Equal(t, "ur", m.input.Value())
	require.Empty(t, m.log)
}

func TestAnalyseWithCorruptModelKeepsRunning(t *testing.T) {
	m, s := newTestModel(t)
	data, err := msgpack.Marshal(&classifier.Artifact{Kind: classifier.Kind, Classes: []string{}, Inputs: imageio.TensorLen})
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(s.Config().ModelPath()), 0o755))
	require.NoError(t, os.WriteFile(s.Config().ModelPath(), data, 0o644))

	m.input.SetValue(writeImage(t))
	m, _ = update(t, m, keyMsg("enter"))
	require.Contains(t, m.log, "ERROR: Failed to load the model. Try downloading a model first.")
	require.Nil(t, m.result)

	m, _ = update(t, m, keyMsg("tab"))
	require.Equal(t, tabModel, m.active)
}

type panickingClassifier struct{}

func (panickingClassifier) Infer(ctx context.Context, image []float32) ([]float32, error) {
	panic("index out of range [0] with length 0")
}

type staticLoader struct {
	handle model.Classifier
}

func (l staticLoader) Load(ctx context.Context, path string, extensions []string) (model.Classifier, error) {
	return l.handle, nil
}

func TestKeyHandlerPanicIsReported(t *testing.T) {
	m, _ := newTestModelWithLoader(t, staticLoader{handle: panickingClassifier{}})

	m.input.SetValue(writeImage(t))
	require.NotPanics(t, func() {
		m, _ = update(t, m, keyMsg("enter"))
	})
	require.Contains(t, m.log, "ERROR: Internal error info/id: Func[GUI>>key:enter]")
	require.Nil(t, m.result)

	m, _ = update(t, m, keyMsg("tab"))
	require.Equal(t, tabModel, m.active)
}

func TestSystemTabShowsDroppedNotifications(t *testing.T) {
	m, s := newTestModel(t)
	capacity := s.Queue().Capacity()
	for i := 0; i < capacity+3; i++ {
		s.Queue().Pushf("n%d", i)
	}

	m, _ = update(t, m, keyMsg("shift+tab"))
	require.Equal(t, tabSystem, m.active)
	require.Contains(t, m.View(), "Log dropped:  3")
}

func TestUpdateRejectsDirectoryModel(t *testing.T) {
	dir := t.TempDir()
	v := viper.New()
	v.Set("data_dir", filepath.Join(dir, "data"))
	v.Set("model_dir", filepath.Join(dir, "models"))
	v.Set("temp_dir", filepath.Join(dir, "temp"))
	v.Set("model_format", config.ModelFormatDir)
	cfg, err := config.Load(v)
	require.NoError(t, err)

	mgr := model.NewManager(cfg.ModelPath(), cfg.ModelExtensions, classifier.NewLoader())
	s := session.New(cfg, mq.New(cfg.GUI.QueueCapacity), mgr, dataset.NewStore(cfg.DatasetPath, nil))
	m := New(context.Background(), s)

	m, _ = update(t, m, catalogMsg{names: []string{"PAI_model_T.h5"}})
	m, _ = update(t, m, keyMsg("tab"))
	m, _ = update(t, m, keyMsg("u"))
	require.Contains(t, m.log, "ERROR: Cannot update a TF_dir model, switch model_format to h5.")
	require.NotContains(t, m.log, "Downloading PAI_model_T.h5...")
}
