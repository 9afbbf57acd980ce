package tui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Analyse  key.Binding
	Update   key.Binding
	Reload   key.Binding
	UpDown   key.Binding
	Heatmap  key.Binding
	Metadata key.Binding
	Debug    key.Binding
	NextTab  key.Binding
	PrevTab  key.Binding
	Quit     key.Binding
	tab      tab
}

func newKeyMap() keyMap {
	return keyMap{
		Analyse:  key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "analyse")),
		Update:   key.NewBinding(key.WithKeys("u"), key.WithHelp("u", "download model")),
		Reload:   key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "reload model")),
		UpDown:   key.NewBinding(key.WithKeys("up", "down"), key.WithHelp("↑/↓", "select")),
		Heatmap:  key.NewBinding(key.WithKeys("ctrl+t"), key.WithHelp("ctrl+t", "heatmap")),
		Metadata: key.NewBinding(key.WithKeys("ctrl+g"), key.WithHelp("ctrl+g", "dicom tags")),
		Debug:    key.NewBinding(key.WithKeys("f2"), key.WithHelp("f2", "debug")),
		NextTab:  key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "next tab")),
		PrevTab:  key.NewBinding(key.WithKeys("shift+tab"), key.WithHelp("shift+tab", "prev tab")),
		Quit:     key.NewBinding(key.WithKeys("esc", "ctrl+c"), key.WithHelp("esc", "quit")),
	}
}

// ShortHelp shows the bindings that act on the visible tab.
func (k keyMap) ShortHelp() []key.Binding {
	switch k.tab {
	case tabMain:
		return []key.Binding{k.Analyse, k.Heatmap, k.Metadata, k.NextTab, k.Quit}
	case tabModel:
		return []key.Binding{k.UpDown, k.Update, k.Reload, k.NextTab, k.Quit}
	default:
		return []key.Binding{k.Debug, k.NextTab, k.Quit}
	}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}
