package main

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/spin-shim/app"
	"github.com/wippyai/spin-shim/config"
	"github.com/wippyai/spin-shim/engine"
	"github.com/wippyai/spin-shim/trigger"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	componentStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	triggerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type modelState int

const (
	stateSelectComponent modelState = iota
	stateInputStdin
	stateShowResult
)

type componentInfo struct {
	id       string
	triggers []string
	files    int
	source   string
}

type interactiveModel struct {
	err        error
	app        *app.App
	env        map[string]string
	engine     *engine.Engine
	components *trigger.ComponentLoader
	stdout     string
	stderr     string
	infos      []componentInfo
	input      textinput.Model
	selected   int
	state      modelState
	loaded     bool
}

func newInteractiveModel(a *app.App, env map[string]string) *interactiveModel {
	m := &interactiveModel{app: a, env: env, state: stateSelectComponent}
	for i := range a.Components {
		c := &a.Components[i]
		info := componentInfo{id: c.ID, files: len(c.Files), source: describeSource(c.Source.Content)}
		for _, t := range a.Triggers {
			if t.ComponentID() == c.ID {
				info.triggers = append(info.triggers, t.TriggerType)
			}
		}
		m.infos = append(m.infos, info)
	}
	return m
}

type loadedMsg struct {
	err        error
	engine     *engine.Engine
	components *trigger.ComponentLoader
}

type runResultMsg struct {
	err    error
	stdout string
	stderr string
}

func (m *interactiveModel) Init() tea.Cmd {
	return m.loadEngine
}

func (m *interactiveModel) loadEngine() tea.Msg {
	ctx := context.Background()

	vars, err := app.ResolveVariables(m.app, m.env, []string{config.DefaultVariablesPrefix})
	if err != nil {
		return loadedMsg{err: err}
	}

	eng, err := engine.New(ctx, engine.Config{})
	if err != nil {
		return loadedMsg{err: err}
	}
	return loadedMsg{engine: eng, components: trigger.NewComponentLoader(eng, m.app, vars, nil, nil)}
}

func (m *interactiveModel) close() {
	if m.components != nil {
		m.components.Close()
	}
	if m.engine != nil {
		m.engine.Close(context.Background())
	}
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			m.close()
			return m, tea.Quit

		case "q":
			if m.state != stateInputStdin {
				m.close()
				return m, tea.Quit
			}

		case "up", "k":
			if m.state == stateSelectComponent && m.selected > 0 {
				m.selected--
			}

		case "down", "j":
			if m.state == stateSelectComponent && m.selected < len(m.infos)-1 {
				m.selected++
			}

		case "enter":
			switch m.state {
			case stateSelectComponent:
				if !m.loaded || len(m.infos) == 0 {
					return m, nil
				}
				m.prepareInput()
				m.state = stateInputStdin
				return m, nil

			case stateInputStdin:
				return m, m.runComponent

			case stateShowResult:
				m.reset()
			}

		case "esc":
			if m.state != stateSelectComponent {
				m.reset()
			}
		}

	case loadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.engine = msg.engine
		m.components = msg.components
		m.loaded = true

	case runResultMsg:
		m.stdout = msg.stdout
		m.stderr = msg.stderr
		m.err = msg.err
		m.state = stateShowResult
	}

	if m.state == stateInputStdin {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *interactiveModel) reset() {
	m.state = stateSelectComponent
	m.stdout, m.stderr = "", ""
	m.err = nil
}

func (m *interactiveModel) prepareInput() {
	ti := textinput.New()
	ti.Placeholder = "stdin"
	ti.Prompt = "stdin: "
	ti.Width = 60
	ti.Focus()
	m.input = ti
}

// runComponent runs the selected component once as a command, with the
// input line as stdin.
func (m *interactiveModel) runComponent() tea.Msg {
	if m.components == nil {
		return runResultMsg{err: fmt.Errorf("engine not loaded")}
	}
	var stdout, stderr bytes.Buffer
	err := m.components.Run(context.Background(), trigger.Call{
		Component: m.infos[m.selected].id,
		Stdin:     strings.NewReader(m.input.Value()),
		Stdout:    &stdout,
		Stderr:    &stderr,
	})
	return runResultMsg{err: err, stdout: stdout.String(), stderr: stderr.String()}
}

func (m *interactiveModel) View() string {
	if m.err != nil && m.state != stateShowResult {
		return errorStyle.Render(fmt.Sprintf("Error: %v\n\nPress q to quit.", m.err))
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("Spin Application"))
	b.WriteString(" ")
	b.WriteString(m.app.Name())
	b.WriteString("\n\n")

	switch m.state {
	case stateSelectComponent:
		if len(m.infos) == 0 {
			b.WriteString("No components.\n")
		}
		for i, info := range m.infos {
			if i == m.selected {
				b.WriteString(selectedStyle.Render("> " + info.id))
			} else {
				b.WriteString("  " + componentStyle.Render(info.id))
			}
			b.WriteString(" ")
			b.WriteString(triggerStyle.Render(formatTriggers(info)))
			b.WriteString("\n")
		}
		if len(m.infos) > 0 {
			info := m.infos[m.selected]
			b.WriteString("\n")
			b.WriteString(fmt.Sprintf("source: %s\nfiles:  %d\n", info.source, info.files))
		}
		b.WriteString("\n")
		if !m.loaded {
			b.WriteString(helpStyle.Render("loading engine..."))
		} else {
			b.WriteString(helpStyle.Render("↑/↓ select • enter run • q quit"))
		}

	case stateInputStdin:
		b.WriteString(fmt.Sprintf("Running %s\n\n", componentStyle.Render(m.infos[m.selected].id)))
		b.WriteString(m.input.View())
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter run • esc back"))

	case stateShowResult:
		b.WriteString(fmt.Sprintf("Output of %s:\n\n", componentStyle.Render(m.infos[m.selected].id)))
		if m.stdout != "" {
			b.WriteString(resultStyle.Render(m.stdout))
			b.WriteString("\n")
		}
		if m.stderr != "" {
			b.WriteString(helpStyle.Render("stderr:\n" + m.stderr))
			b.WriteString("\n")
		}
		if m.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("enter continue • q quit"))
	}

	return b.String()
}

func formatTriggers(info componentInfo) string {
	if len(info.triggers) == 0 {
		return "[no triggers]"
	}
	return "[" + strings.Join(info.triggers, ", ") + "]"
}

func runInteractive(a *app.App, env map[string]string) error {
	p := tea.NewProgram(newInteractiveModel(a, env), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
