// Command ema-bridge-tui is a debug client for the persistent transport: it
// renders the wire-event stream and lets an operator answer approval
// requests from the keyboard.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/gorilla/websocket"
	"github.com/muesli/reflow/wordwrap"
)

var (
	styleEvent    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	styleText     = lipgloss.NewStyle().Foreground(lipgloss.Color("15"))
	styleTool     = lipgloss.NewStyle().Foreground(lipgloss.Color("33"))
	styleApproval = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	styleError    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

func main() {
	endpoint := flag.String("url", "ws://localhost:8080/v1/live", "bridge websocket endpoint")
	flag.Parse()

	conn, _, err := websocket.DefaultDialer.Dial(*endpoint, nil)
	if err != nil {
		log.Fatalf("Failed to connect to %s: %v", *endpoint, err)
	}
	defer conn.Close()

	program := tea.NewProgram(newModel(conn))

	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				program.Send(disconnectedMsg{err: err})
				return
			}
			program.Send(frameMsg(data))
		}
	}()

	if _, err := program.Run(); err != nil {
		log.Fatalf("TUI failed: %v", err)
	}
}

type frameMsg []byte

type disconnectedMsg struct{ err error }

type pendingApproval struct {
	approvalID string
	toolCallID string
}

type model struct {
	conn  *websocket.Conn
	input textinput.Model

	lines    []string
	width    int
	approval *pendingApproval
	done     bool
}

func newModel(conn *websocket.Conn) model {
	input := textinput.New()
	input.Placeholder = "Say something..."
	input.Focus()
	return model{conn: conn, input: input, width: 80}
}

func (m model) Init() tea.Cmd {
	return textinput.Blink
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width

	case disconnectedMsg:
		m.lines = append(m.lines, styleError.Render("disconnected: "+msg.err.Error()))
		m.done = true

	case frameMsg:
		m = m.handleFrame([]byte(msg))

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit

		case "y", "n":
			if m.approval != nil {
				approved := msg.String() == "y"
				m = m.sendApproval(approved)
				return m, nil
			}

		case "enter":
			text := strings.TrimSpace(m.input.Value())
			if text == "" {
				break
			}
			payload, _ := json.Marshal(map[string]any{"type": "message", "text": text})
			if err := m.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				m.lines = append(m.lines, styleError.Render("send failed: "+err.Error()))
			} else {
				m.lines = append(m.lines, styleText.Render("> "+text))
			}
			m.input.Reset()
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m model) handleFrame(data []byte) model {
	if string(data) == "[DONE]" {
		m.lines = append(m.lines, styleEvent.Render("── turn complete ──"))
		return m
	}

	var event struct {
		Type       string          `json:"type"`
		Delta      string          `json:"delta"`
		ToolName   string          `json:"toolName"`
		ToolCallID string          `json:"toolCallId"`
		ApprovalID string          `json:"approvalId"`
		Input      json.RawMessage `json:"input"`
		Output     json.RawMessage `json:"output"`
		ErrorText  string          `json:"errorText"`
	}
	if err := json.Unmarshal(data, &event); err != nil {
		m.lines = append(m.lines, styleEvent.Render(string(data)))
		return m
	}

	switch event.Type {
	case "text-delta":
		m = m.appendDelta(event.Delta)
	case "reasoning-delta":
		m = m.appendDelta(styleEvent.Render(event.Delta))
	case "tool-input-available":
		m.lines = append(m.lines, styleTool.Render(fmt.Sprintf("⚙ %s %s", event.ToolName, event.Input)))
	case "tool-output-available":
		m.lines = append(m.lines, styleTool.Render(fmt.Sprintf("✓ %s → %s", event.ToolCallID, event.Output)))
	case "tool-output-error":
		m.lines = append(m.lines, styleError.Render(fmt.Sprintf("✗ %s: %s", event.ToolCallID, event.ErrorText)))
	case "tool-approval-request":
		m.approval = &pendingApproval{approvalID: event.ApprovalID, toolCallID: event.ToolCallID}
		m.lines = append(m.lines, styleApproval.Render(
			fmt.Sprintf("Approve %s? [y/n]", event.ToolCallID)))
	case "error":
		m.lines = append(m.lines, styleError.Render(event.ErrorText))
	}
	return m
}

func (m model) appendDelta(delta string) model {
	if len(m.lines) == 0 || strings.HasPrefix(m.lines[len(m.lines)-1], "⚙") {
		m.lines = append(m.lines, "")
	}
	m.lines[len(m.lines)-1] += delta
	return m
}

func (m model) sendApproval(approved bool) model {
	payload, _ := json.Marshal(map[string]any{
		"type":       "approval",
		"approvalId": m.approval.approvalID,
		"approved":   approved,
	})
	if err := m.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		m.lines = append(m.lines, styleError.Render("send failed: "+err.Error()))
	} else {
		verdict := "denied"
		if approved {
			verdict = "approved"
		}
		m.lines = append(m.lines, styleApproval.Render(
			fmt.Sprintf("%s %s", m.approval.toolCallID, verdict)))
	}
	m.approval = nil
	return m
}

func (m model) View() string {
	var b strings.Builder
	start := 0
	if len(m.lines) > 30 {
		start = len(m.lines) - 30
	}
	for _, line := range m.lines[start:] {
		b.WriteString(wordwrap.String(line, m.width))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	if m.approval != nil {
		b.WriteString(styleApproval.Render("y = approve, n = deny") + "\n")
	}
	b.WriteString(m.input.View())
	return b.String()
}
