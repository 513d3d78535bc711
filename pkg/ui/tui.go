package ui

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	appevents "github.com/rescp17/signbridge/internal/app_events"
	"github.com/rescp17/signbridge/internal/style"
	"github.com/rescp17/signbridge/pkg/call"
	"github.com/rescp17/signbridge/pkg/gesture"
)

// AppController is the part of client.App the TUI drives.
type AppController interface {
	Run(ctx context.Context) error
	UIMessages() <-chan tea.Msg
	AppEvents() chan<- appevents.AppEvent
}

type screen int

const (
	screenConnecting screen = iota
	screenIdle
	screenCall
	screenFailed
)

const (
	gestureLimit = 8
	historyLimit = 20
	toastTimeout = 3 * time.Second
)

// appStoppedMsg is sent when App.Run returns.
type appStoppedMsg struct {
	err error
}

type clearToastMsg struct {
	id int
}

type speechLine struct {
	source gesture.Source
	text   string
}

type model struct {
	app    AppController
	ctx    context.Context
	cancel context.CancelFunc

	screen  screen
	spinner spinner.Model
	input   textinput.Model
	mode    inputMode
	width   int

	userID       string
	incoming     *call.IncomingCall
	session      call.Session
	elapsed      time.Duration
	reconnecting int
	gestures     map[gesture.Source][]string
	sentences    []gesture.Sentence
	speech       []speechLine
	fatal        error
	lastErr      error
	toast        string
	toastID      int
}

// NewModel builds the TUI around app. Init starts app.Run; quitting cancels it.
func NewModel(app AppController) model {
	ctx, cancel := context.WithCancel(context.Background())

	ti := textinput.New()
	ti.Placeholder = "user id to call"
	ti.CharLimit = 64
	ti.Focus()

	return model{
		app:      app,
		ctx:      ctx,
		cancel:   cancel,
		screen:   screenConnecting,
		spinner:  style.NewSpinner(),
		input:    ti,
		gestures: make(map[gesture.Source][]string),
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		textinput.Blink,
		m.runApp(),
		m.listenForAppMessages(),
	)
}

func (m model) runApp() tea.Cmd {
	return func() tea.Msg {
		return appStoppedMsg{err: m.app.Run(m.ctx)}
	}
}

// listenForAppMessages is a command that listens for messages from the app controller.
func (m model) listenForAppMessages() tea.Cmd {
	return func() tea.Msg {
		select {
		case msg := <-m.app.UIMessages():
			return msg
		case <-m.ctx.Done():
			return nil
		}
	}
}

func (m model) send(event appevents.AppEvent) {
	select {
	case m.app.AppEvents() <- event:
	case <-m.ctx.Done():
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.input.Width = max(msg.Width-20, 20)
		return m, nil
	case tea.KeyMsg:
		if key.Matches(msg, DefaultKeyMap.Quit) {
			m.cancel()
			return m, tea.Quit
		}
		return m.handleKey(msg)
	case appStoppedMsg:
		if msg.err != nil {
			m.lastErr = msg.err
			m.screen = screenFailed
			return m, nil
		}
		return m, tea.Quit
	case clearToastMsg:
		if msg.id == m.toastID {
			m.toast = ""
		}
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case appevents.AppUIMessage:
		cmd := m.handleAppMessage(msg)
		return m, tea.Batch(cmd, m.listenForAppMessages())
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *model) handleAppMessage(msg appevents.AppUIMessage) tea.Cmd {
	switch msg := msg.(type) {
	case appevents.ConnectedMsg:
		m.userID = msg.UserID
		if m.screen == screenConnecting {
			m.screen = screenIdle
		}
	case appevents.IncomingCallMsg:
		in := msg.Call
		m.incoming = &in
	case appevents.HidePromptMsg:
		m.incoming = nil
	case appevents.ToastMsg:
		return m.showToast(msg.Text)
	case appevents.NavigateMsg:
		m.enterCall(msg.Session)
	case appevents.CallStateMsg:
		m.updateSession(msg.Session)
	case appevents.DurationMsg:
		m.elapsed = msg.Elapsed
		m.reconnecting = 0
	case appevents.ReconnectingMsg:
		m.reconnecting = msg.Attempt
	case appevents.GestureMsg:
		words := append(m.gestures[msg.Source], msg.Word)
		if len(words) > gestureLimit {
			words = words[len(words)-gestureLimit:]
		}
		m.gestures[msg.Source] = words
	case appevents.SentenceMsg:
		m.addSentence(msg.Sentence, msg.Replaced)
	case appevents.SpeechMsg:
		m.speech = append(m.speech, speechLine{source: msg.Source, text: msg.Text})
		if len(m.speech) > historyLimit {
			m.speech = m.speech[len(m.speech)-historyLimit:]
		}
	case appevents.FatalErrorMsg:
		m.fatal = msg.Err
	case appevents.Error:
		m.lastErr = msg.Err
	}
	return nil
}

func (m *model) showToast(text string) tea.Cmd {
	m.toastID++
	m.toast = text
	id := m.toastID
	return tea.Tick(toastTimeout, func(time.Time) tea.Msg {
		return clearToastMsg{id: id}
	})
}

func (m *model) enterCall(session call.Session) {
	m.screen = screenCall
	m.session = session
	m.elapsed = 0
	m.reconnecting = 0
	m.gestures = make(map[gesture.Source][]string)
	m.sentences = nil
	m.speech = nil
	m.fatal = nil
	m.lastErr = nil
	m.setMode(inputSpeech)
}

func (m *model) leaveCall() {
	m.screen = screenIdle
	m.fatal = nil
	m.reconnecting = 0
	m.input.Reset()
	m.input.Placeholder = "user id to call"
}

func (m *model) updateSession(session call.Session) {
	if m.screen != screenCall || session.CallID != m.session.CallID {
		return
	}
	m.session = session
	if session.Terminal() {
		m.leaveCall()
	}
}

// addSentence appends s, or replaces the reconstruction it corrects.
func (m *model) addSentence(s gesture.Sentence, replaced bool) {
	if replaced {
		for i := range m.sentences {
			if m.sentences[i].Source == s.Source && m.sentences[i].Number == s.Number {
				m.sentences[i] = s
				return
			}
		}
	}
	m.sentences = append(m.sentences, s)
	if len(m.sentences) > historyLimit {
		m.sentences = m.sentences[len(m.sentences)-historyLimit:]
	}
	m.gestures[s.Source] = nil
}
