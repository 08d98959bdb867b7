// This file implements the interactive chat interface using bubbletea.
package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"konetutor/cmd/tutor/ui"
	"konetutor/internal/tutor"
)

// chatEntry is one rendered line group in the transcript. Unlike the
// controller's history mirror, the transcript is append-only display state.
type chatEntry struct {
	role    tutor.Role
	content string
	time    time.Time
}

// statusNote is the single-line status strip under the viewport.
type statusNote struct {
	text    string
	isError bool
	isBusy  bool
}

// eventSink collects controller notifications. All callbacks run on the
// bubbletea update goroutine, so no locking is needed; the model drains the
// sink after every controller interaction.
type eventSink struct {
	status   statusNote
	docs     []string
	appended []tutor.Message
}

func (s *eventSink) StatusChanged(message string, isError, isBusy bool) {
	s.status = statusNote{text: message, isError: isError, isBusy: isBusy}
}

func (s *eventSink) DocumentListChanged(basenames []string) {
	s.docs = basenames
}

func (s *eventSink) MessageAppended(role tutor.Role, text string) {
	s.appended = append(s.appended, tutor.Message{Role: role, Text: text})
}

// resultMsg delivers one coordinator completion into the update loop.
type resultMsg struct {
	res tutor.Result
}

// chatModel is the main model for the interactive chat interface
type chatModel struct {
	// UI Components
	textinput textinput.Model
	viewport  viewport.Model
	spinner   spinner.Model
	styles    ui.Styles
	renderer  *glamour.TermRenderer

	// State
	transcript  []chatEntry
	docs        []string
	status      statusNote
	isLoading   bool
	quitConfirm bool // armed by a Ctrl+C while busy, cleared on any other key
	width       int
	height      int
	ready       bool

	// Backend
	controller *tutor.Controller
	sink       *eventSink
}

// initChat initializes the interactive chat model
func initChat() (chatModel, error) {
	settings, path, err := loadSettings()
	if err != nil {
		return chatModel{}, err
	}

	styles := ui.DefaultStyles()

	ti := textinput.New()
	ti.Placeholder = "Ask the tutor... (/help for commands, Ctrl+C to exit)"
	ti.Focus()
	ti.Prompt = "│ "
	ti.CharLimit = 4096
	ti.Width = 80
	ti.PromptStyle = styles.Prompt
	ti.TextStyle = styles.UserInput

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = styles.Spinner

	vp := viewport.New(80, 20)
	vp.SetContent("")

	var renderer *glamour.TermRenderer
	if styles.Theme.IsDark {
		renderer, _ = glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(80),
		)
	} else {
		renderer, _ = glamour.NewTermRenderer(
			glamour.WithStylePath("light"),
			glamour.WithWordWrap(80),
		)
	}

	sink := &eventSink{}
	controller := tutor.NewController(tutor.ControllerOptions{
		Settings:     settings,
		SettingsPath: path,
		Notifier:     sink,
		Logger:       logger,
	})

	m := chatModel{
		textinput:  ti,
		viewport:   vp,
		spinner:    sp,
		styles:     styles,
		renderer:   renderer,
		controller: controller,
		sink:       sink,
	}
	m.drainSink()
	if m.status.text == "" {
		m.status = statusNote{text: "Stage documents with /add, then /upload."}
	}
	return m, nil
}

// runInteractiveChat launches the bubbletea program and tears the
// controller down when the user leaves.
func runInteractiveChat() error {
	m, err := initChat()
	if err != nil {
		return err
	}
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, runErr := p.Run()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := m.controller.Shutdown(ctx); err != nil {
		logger.Warn("shutdown", zap.Error(err))
	}
	return runErr
}

func (m chatModel) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		m.spinner.Tick,
		waitForResult(m.controller.Results()),
	)
}

// waitForResult blocks on the coordinator channel and re-arms after every
// delivery.
func waitForResult(ch <-chan tutor.Result) tea.Cmd {
	return func() tea.Msg {
		return resultMsg{res: <-ch}
	}
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		tiCmd tea.Cmd
		vpCmd tea.Cmd
		spCmd tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			// Exiting mid-upload or mid-turn abandons the work, so ask once.
			if m.controller.Busy() && !m.quitConfirm {
				m.quitConfirm = true
				m.status = statusNote{text: "A task is still running. Press Ctrl+C again to quit anyway.", isError: true, isBusy: true}
				return m, nil
			}
			return m, tea.Quit

		case tea.KeyEnter:
			if !m.isLoading {
				return m.handleSubmit()
			}
		}

		m.quitConfirm = false
		if !m.isLoading {
			m.textinput, tiCmd = m.textinput.Update(msg)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		headerHeight := 4
		footerHeight := 2
		inputHeight := 3
		statusHeight := 1

		if !m.ready {
			m.viewport = viewport.New(msg.Width-4, msg.Height-headerHeight-footerHeight-inputHeight-statusHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width - 4
			m.viewport.Height = msg.Height - headerHeight - footerHeight - inputHeight - statusHeight
		}
		m.textinput.Width = msg.Width - 4

		if m.renderer != nil {
			m.renderer, _ = glamour.NewTermRenderer(
				glamour.WithAutoStyle(),
				glamour.WithWordWrap(msg.Width-8),
			)
		}
		m.refreshViewport()

	case spinner.TickMsg:
		if m.isLoading {
			m.spinner, spCmd = m.spinner.Update(msg)
			return m, spCmd
		}

	case resultMsg:
		m.controller.HandleResult(msg.res)
		m.drainSink()
		m.isLoading = m.controller.Busy()
		m.refreshViewport()
		cmds := []tea.Cmd{waitForResult(m.controller.Results())}
		if m.isLoading {
			cmds = append(cmds, m.spinner.Tick)
		}
		return m, tea.Batch(cmds...)
	}

	m.viewport, vpCmd = m.viewport.Update(msg)

	return m, tea.Batch(tiCmd, vpCmd, spCmd)
}

func (m chatModel) handleSubmit() (tea.Model, tea.Cmd) {
	input := strings.TrimSpace(m.textinput.Value())
	if input == "" {
		return m, nil
	}

	if strings.HasPrefix(input, "/") {
		return m.handleCommand(input)
	}

	if err := m.controller.SendUserMessage(input); err != nil {
		m.status = statusNote{text: err.Error(), isError: true}
		return m, nil
	}
	m.textinput.Reset()
	m.drainSink()
	m.isLoading = m.controller.Busy()
	m.refreshViewport()
	return m, m.spinner.Tick
}

// drainSink folds queued controller notifications into the model.
func (m *chatModel) drainSink() {
	for _, msg := range m.sink.appended {
		m.transcript = append(m.transcript, chatEntry{role: msg.Role, content: msg.Text, time: time.Now()})
	}
	m.sink.appended = nil
	if m.sink.docs != nil {
		m.docs = m.sink.docs
		m.sink.docs = nil
	}
	if m.sink.status.text != "" {
		m.status = m.sink.status
		m.sink.status = statusNote{}
	}
}

// addNote appends a command response to the transcript.
func (m *chatModel) addNote(content string) {
	m.transcript = append(m.transcript, chatEntry{role: tutor.RoleSystem, content: content, time: time.Now()})
	m.textinput.Reset()
	m.refreshViewport()
}

func (m *chatModel) refreshViewport() {
	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoBottom()
}

func (m chatModel) renderTranscript() string {
	var sb strings.Builder

	for _, entry := range m.transcript {
		switch entry.role {
		case tutor.RoleUser:
			userStyle := m.styles.Bold.
				Foreground(m.styles.Theme.Primary).
				MarginTop(1)
			sb.WriteString(userStyle.Render("You") + "\n")
			sb.WriteString(m.styles.UserInput.Render(entry.content))
			sb.WriteString("\n\n")

		case tutor.RoleModel:
			tutorStyle := m.styles.Bold.
				Foreground(m.styles.Theme.Accent).
				MarginTop(1)
			sb.WriteString(tutorStyle.Render("📚 Tutor") + "\n")
			sb.WriteString(m.safeRenderMarkdown(entry.content))
			sb.WriteString("\n")

		default:
			sb.WriteString(m.styles.Muted.Render(entry.content))
			sb.WriteString("\n\n")
		}
	}

	return sb.String()
}

// safeRenderMarkdown renders markdown with panic recovery
func (m chatModel) safeRenderMarkdown(content string) (result string) {
	defer func() {
		if r := recover(); r != nil {
			result = content
		}
	}()

	if m.renderer != nil && content != "" {
		rendered, err := m.renderer.Render(content)
		if err == nil {
			return rendered
		}
	}
	return content
}

func (m chatModel) View() string {
	if !m.ready {
		return "Initializing..."
	}

	header := m.renderHeader()

	chatView := m.styles.Content.Render(m.viewport.View())
	if m.isLoading {
		chatView += "\n" + m.styles.Spinner.Render(m.spinner.View()) + " Working..."
	}

	statusLine := m.renderStatus()

	inputStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(m.styles.Theme.Accent).
		Padding(0, 1)
	inputArea := inputStyle.Render(m.textinput.View())

	footer := m.renderFooter()

	return lipgloss.JoinVertical(
		lipgloss.Left,
		header,
		chatView,
		statusLine,
		inputArea,
		footer,
	)
}

func (m chatModel) renderHeader() string {
	title := m.styles.Header.Render(" 📚 Konetutor ")
	model := m.styles.Badge.Render(m.controller.Settings().Model)

	doc := "no document selected"
	if active := m.controller.ActiveDocument(); active != "" {
		doc = active
	}
	docLine := m.styles.Muted.Render(fmt.Sprintf(" 📄 %s", doc))

	var status string
	if m.isLoading {
		status = m.styles.Warning.Render("● Working")
	} else {
		status = m.styles.Success.Render("● Ready")
	}

	headerLine := lipgloss.JoinHorizontal(
		lipgloss.Center,
		title,
		" ",
		model,
		"  ",
		status,
	)

	return lipgloss.JoinVertical(
		lipgloss.Left,
		headerLine,
		docLine,
		m.styles.RenderDivider(m.width),
	)
}

func (m chatModel) renderStatus() string {
	if m.status.text == "" {
		return ""
	}
	style := m.styles.Muted
	switch {
	case m.status.isError:
		style = m.styles.Error
	case m.status.isBusy:
		style = m.styles.Warning
	}
	return style.Render("  " + m.status.text)
}

func (m chatModel) renderFooter() string {
	help := m.styles.Muted.Render("Enter: send • /help: commands • Ctrl+C: exit")
	return lipgloss.NewStyle().
		MarginTop(1).
		Render(help)
}
