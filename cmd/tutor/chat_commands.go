// Slash command handling for the interactive chat.
package main

import (
	"fmt"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"konetutor/internal/config"
)

func (m chatModel) handleCommand(input string) (tea.Model, tea.Cmd) {
	parts := strings.Fields(input)
	cmd := parts[0]

	switch cmd {
	case "/quit", "/exit", "/q":
		return m, tea.Quit

	case "/help":
		m.addNote(`Available commands:

  /add <path> [path...]     Stage local course documents
  /remove <name> [name...]  Unstage documents (deletes uploaded copies)
  /clear-files              Unstage everything
  /files                    List staged documents and upload state
  /upload                   Upload staged documents to the tutor
  /doc <name>               Start (or switch) the chat to a document
  /set key <value>          Set the Gemini API key
  /set model <name>         Set the model
  /set language <lang>      Set the tutoring language (` + strings.Join(config.Languages, ", ") + `)
  /set temperature <0..2>   Set the sampling temperature
  /status                   Show session and settings summary
  /quit, /exit, /q          Exit

Enter sends a chat message. Ctrl+C exits.`)
		return m, nil

	case "/add":
		if len(parts) < 2 {
			m.status = statusNote{text: "Usage: /add <path> [path...]", isError: true}
			return m, nil
		}
		if err := m.controller.AddFiles(parts[1:]); err != nil {
			m.status = statusNote{text: err.Error(), isError: true}
			return m, nil
		}
		m.drainSink()
		m.textinput.Reset()
		return m, nil

	case "/remove":
		if len(parts) < 2 {
			m.status = statusNote{text: "Usage: /remove <name> [name...]", isError: true}
			return m, nil
		}
		if err := m.controller.RemoveFiles(parts[1:]); err != nil {
			m.status = statusNote{text: err.Error(), isError: true}
			return m, nil
		}
		m.drainSink()
		m.textinput.Reset()
		m.refreshViewport()
		return m, nil

	case "/clear-files":
		if err := m.controller.ClearFiles(); err != nil {
			m.status = statusNote{text: err.Error(), isError: true}
			return m, nil
		}
		m.drainSink()
		m.textinput.Reset()
		m.refreshViewport()
		return m, nil

	case "/files":
		staged := m.controller.StagedDocuments()
		if len(staged) == 0 {
			m.addNote("No documents staged. Use /add <path> to stage one.")
			return m, nil
		}
		var sb strings.Builder
		sb.WriteString("Staged documents:\n")
		for _, name := range staged {
			marker := "staged"
			if m.controller.IsUploaded(name) {
				marker = "uploaded"
			}
			if name == m.controller.ActiveDocument() {
				marker = "active"
			}
			sb.WriteString(fmt.Sprintf("  %-40s [%s]\n", name, marker))
		}
		m.addNote(sb.String())
		return m, nil

	case "/upload":
		if err := m.controller.StartUpload(); err != nil {
			m.status = statusNote{text: err.Error(), isError: true}
			return m, nil
		}
		m.drainSink()
		m.textinput.Reset()
		m.isLoading = m.controller.Busy()
		return m, m.spinner.Tick

	case "/doc":
		if len(parts) < 2 {
			m.status = statusNote{text: "Usage: /doc <name>", isError: true}
			return m, nil
		}
		if err := m.controller.SelectDocument(parts[1]); err != nil {
			m.status = statusNote{text: err.Error(), isError: true}
			return m, nil
		}
		m.drainSink()
		m.textinput.Reset()
		m.isLoading = m.controller.Busy()
		m.refreshViewport()
		return m, m.spinner.Tick

	case "/set":
		if len(parts) < 3 {
			m.status = statusNote{text: "Usage: /set <key|model|language|temperature> <value>", isError: true}
			return m, nil
		}
		settings := m.controller.Settings()
		value := strings.Join(parts[2:], " ")
		switch parts[1] {
		case "key":
			settings.APIKey = value
		case "model":
			settings.Model = value
		case "language":
			settings.Language = value
		case "temperature":
			temp, err := strconv.ParseFloat(value, 64)
			if err != nil || temp < 0 || temp > 2 {
				m.status = statusNote{text: "Temperature must be a number between 0 and 2.", isError: true}
				return m, nil
			}
			settings.Temperature = temp
		default:
			m.status = statusNote{text: fmt.Sprintf("Unknown setting %q. Use key, model, language, or temperature.", parts[1]), isError: true}
			return m, nil
		}
		if err := m.controller.ApplySettings(settings); err != nil {
			m.status = statusNote{text: err.Error(), isError: true}
			return m, nil
		}
		m.drainSink()
		m.textinput.Reset()
		m.refreshViewport()
		return m, nil

	case "/status":
		settings := m.controller.Settings()
		key := "not set"
		if settings.APIKey != "" {
			key = "set"
		}
		doc := m.controller.ActiveDocument()
		if doc == "" {
			doc = "none"
		}
		m.addNote(fmt.Sprintf(`Session status:

  Phase:       %s
  Document:    %s
  Model:       %s
  Language:    %s
  Temperature: %.2f
  API key:     %s
  Staged:      %d (uploaded: %d)`,
			m.controller.Phase(), doc, settings.Model, settings.Language,
			settings.Temperature, key,
			len(m.controller.StagedDocuments()), len(m.controller.UploadedDocuments())))
		return m, nil

	default:
		m.status = statusNote{text: fmt.Sprintf("Unknown command %s. Type /help for available commands.", cmd), isError: true}
		return m, nil
	}
}
