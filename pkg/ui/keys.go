package ui

import (
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	appevents "github.com/rescp17/signbridge/internal/app_events"
)

type KeyMap struct {
	Accept      key.Binding
	Reject      key.Binding
	Submit      key.Binding
	Hangup      key.Binding
	ToggleInput key.Binding
	Quit        key.Binding
}

// DefaultKeyMap provides sensible default keybindings.
var DefaultKeyMap = KeyMap{
	Accept:      key.NewBinding(key.WithKeys("y"), key.WithHelp("y", "Accept")),
	Reject:      key.NewBinding(key.WithKeys("n"), key.WithHelp("n", "Reject")),
	Submit:      key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "Send")),
	Hangup:      key.NewBinding(key.WithKeys("ctrl+e"), key.WithHelp("ctrl+e", "Hang up")),
	ToggleInput: key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "Speech/Gesture")),
	Quit:        key.NewBinding(key.WithKeys("ctrl+c"), key.WithHelp("ctrl+c", "Quit")),
}

// inputMode selects what the in-call text box sends. Gesture mode types
// classifier labels by hand.
type inputMode int

const (
	inputSpeech inputMode = iota
	inputGesture
)

func (m *model) setMode(mode inputMode) {
	m.mode = mode
	m.input.Reset()
	if mode == inputGesture {
		m.input.Placeholder = "gesture label, e.g. hello"
	} else {
		m.input.Placeholder = "message"
	}
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	// The fatal dialog has a single action.
	if m.fatal != nil {
		if key.Matches(msg, DefaultKeyMap.Submit) {
			m.fatal = nil
			m.send(appevents.AcknowledgeError{})
		}
		return m, nil
	}

	if m.incoming != nil {
		switch {
		case key.Matches(msg, DefaultKeyMap.Accept):
			m.send(appevents.AcceptCall{CallID: m.incoming.CallID})
			m.incoming = nil
		case key.Matches(msg, DefaultKeyMap.Reject):
			m.send(appevents.RejectCall{CallID: m.incoming.CallID})
			m.incoming = nil
		}
		return m, nil
	}

	switch m.screen {
	case screenFailed:
		if key.Matches(msg, DefaultKeyMap.Submit) {
			return m, tea.Quit
		}
		return m, nil
	case screenIdle:
		if key.Matches(msg, DefaultKeyMap.Submit) {
			peer := strings.TrimSpace(m.input.Value())
			if peer == "" {
				return m, nil
			}
			m.lastErr = nil
			m.send(appevents.StartCall{PeerUserID: peer})
			m.input.Reset()
			return m, nil
		}
	case screenCall:
		switch {
		case key.Matches(msg, DefaultKeyMap.Hangup):
			m.send(appevents.EndCall{})
			return m, nil
		case key.Matches(msg, DefaultKeyMap.ToggleInput):
			if m.mode == inputSpeech {
				m.setMode(inputGesture)
			} else {
				m.setMode(inputSpeech)
			}
			return m, nil
		case key.Matches(msg, DefaultKeyMap.Submit):
			text := strings.TrimSpace(m.input.Value())
			m.input.Reset()
			if text == "" {
				return m, nil
			}
			if m.mode == inputGesture {
				m.send(appevents.Classification{Label: text, Score: 1})
			} else {
				m.send(appevents.SendSpeech{Text: text})
			}
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}
