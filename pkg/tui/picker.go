// Package tui provides the terminal choice picker used by the
// interactive host when a flow reaches a player_choice step.
package tui

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true)
	itemStyle     = lipgloss.NewStyle().PaddingLeft(2)
	selectedStyle = lipgloss.NewStyle().PaddingLeft(0).Foreground(lipgloss.Color("170"))
	pickedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	helpStyle     = lipgloss.NewStyle().Faint(true)
)

// Option is one selectable row.
type Option struct {
	ID    string
	Label string
}

type item struct {
	opt    Option
	picked bool
}

func (i item) FilterValue() string { return i.opt.Label }

type itemDelegate struct{}

func (itemDelegate) Height() int                         { return 1 }
func (itemDelegate) Spacing() int                        { return 0 }
func (itemDelegate) Update(tea.Msg, *list.Model) tea.Cmd { return nil }

func (itemDelegate) Render(w io.Writer, m list.Model, index int, li list.Item) {
	it, ok := li.(item)
	if !ok {
		return
	}
	label := runewidth.Truncate(it.opt.Label, 72, "…")
	mark := "  "
	if it.picked {
		mark = pickedStyle.Render("✓ ")
	}
	line := mark + label
	if index == m.Index() {
		fmt.Fprint(w, selectedStyle.Render("> "+line))
		return
	}
	fmt.Fprint(w, itemStyle.Render(line))
}

type model struct {
	list     list.Model
	count    int
	picked   []string
	aborted  bool
	multiple bool
}

func (m model) Init() tea.Cmd { return nil }

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			m.aborted = true
			return m, tea.Quit
		case " ":
			if m.multiple {
				m.toggle()
				return m, nil
			}
		case "enter":
			if !m.multiple {
				if it, ok := m.list.SelectedItem().(item); ok {
					m.picked = []string{it.opt.ID}
				}
				return m, tea.Quit
			}
			m.toggle()
			if len(m.picked) >= m.count {
				return m, tea.Quit
			}
			return m, nil
		}
	case tea.WindowSizeMsg:
		m.list.SetWidth(msg.Width)
		return m, nil
	}
	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m *model) toggle() {
	idx := m.list.Index()
	it, ok := m.list.SelectedItem().(item)
	if !ok || it.picked {
		return
	}
	it.picked = true
	m.list.SetItem(idx, it)
	m.picked = append(m.picked, it.opt.ID)
}

func (m model) View() string {
	var b strings.Builder
	b.WriteString(m.list.View())
	if m.multiple {
		b.WriteString(helpStyle.Render(fmt.Sprintf("\n  space/enter to pick (%d of %d), esc to cancel", len(m.picked), m.count)))
	} else {
		b.WriteString(helpStyle.Render("\n  enter to pick, esc to cancel"))
	}
	return b.String()
}

// Pick presents options and blocks until the player selects count of
// them. An aborted picker returns an error so the engine can surface
// Cancelled instead of fabricating an answer.
func Pick(prompt string, options []Option, count int) ([]string, error) {
	if count < 1 {
		count = 1
	}
	items := make([]list.Item, len(options))
	for i, o := range options {
		items[i] = item{opt: o}
	}
	height := len(options) + 4
	if height > 16 {
		height = 16
	}
	l := list.New(items, itemDelegate{}, 80, height)
	l.Title = titleStyle.Render(prompt)
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(false)
	l.SetShowHelp(false)

	m := model{list: l, count: count, multiple: count > 1}
	out, err := tea.NewProgram(m).Run()
	if err != nil {
		return nil, fmt.Errorf("choice picker: %w", err)
	}
	final := out.(model)
	if final.aborted {
		return nil, fmt.Errorf("choice cancelled")
	}
	if len(final.picked) < count {
		return nil, fmt.Errorf("choice cancelled before %d selections", count)
	}
	return final.picked, nil
}
