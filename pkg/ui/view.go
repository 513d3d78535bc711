package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/rescp17/signbridge/internal/style"
	"github.com/rescp17/signbridge/pkg/call"
	"github.com/rescp17/signbridge/pkg/gesture"
)

func (m model) View() string {
	var s string
	switch {
	case m.fatal != nil:
		s = m.fatalView()
	case m.incoming != nil:
		s = m.incomingView()
	default:
		switch m.screen {
		case screenConnecting:
			s = fmt.Sprintf("\n\n %s Connecting to signaling server...", m.spinner.View())
		case screenIdle:
			s = m.idleView()
		case screenCall:
			s = m.callView()
		case screenFailed:
			s = fmt.Sprintf("\nAn error occurred: %v\n\nPress Enter to exit.", style.ErrorStyle.Render(errorText(m.lastErr)))
		default:
			return "Internal error: unknown screen"
		}
	}
	if m.toast != "" {
		s += "\n\n" + style.ToastStyle.Render(m.truncate(m.toast))
	}
	s += "\n" + style.HelpStyle.Render("Press ctrl + c to quit")
	return style.DocStyle.Render(s)
}

func (m model) idleView() string {
	var b strings.Builder
	b.WriteString(style.TitleStyle.Render("signbridge"))
	if m.userID != "" {
		fmt.Fprintf(&b, "  signed in as %s", style.StatusStyle.Render(m.userID))
	}
	b.WriteString("\n\nWho do you want to call?\n\n")
	b.WriteString(m.input.View())
	if m.lastErr != nil {
		fmt.Fprintf(&b, "\n\n%s", style.ErrorStyle.Render(m.truncate(m.lastErr.Error())))
	}
	help := fmt.Sprintf("  %s/%s", DefaultKeyMap.Submit.Help().Key, "Call")
	b.WriteString("\n\n" + style.HelpStyle.Render(help))
	return b.String()
}

func (m model) incomingView() string {
	help := fmt.Sprintf("%s/%s  %s/%s",
		DefaultKeyMap.Accept.Help().Key, DefaultKeyMap.Accept.Help().Desc,
		DefaultKeyMap.Reject.Help().Key, DefaultKeyMap.Reject.Help().Desc,
	)
	body := fmt.Sprintf("%s\n\n%s is calling you\n\n%s",
		style.TitleStyle.Render("Incoming call"),
		style.StatusStyle.Render(m.incoming.Caller.DisplayName()),
		style.HelpStyle.Render(help),
	)
	return style.PromptStyle.Render(body)
}

func (m model) fatalView() string {
	body := fmt.Sprintf("%s\n\n%s\n\n%s",
		style.ErrorStyle.Render("Connection lost"),
		m.truncate(m.fatal.Error()),
		style.HelpStyle.Render("enter/OK, the call will end"),
	)
	return style.FatalStyle.Render(body)
}

func (m model) callView() string {
	var b strings.Builder
	b.WriteString(style.HeaderStyle.Render("Call with "+m.session.PeerUserID) + " " + m.statusLine())
	b.WriteString("\n\n")

	gestures := lipgloss.JoinVertical(lipgloss.Left,
		style.LocalStyle.Render("You:  ")+style.GestureStyle.Render(strings.Join(m.gestures[gesture.SourceLocal], " ")),
		style.RemoteStyle.Render("Peer: ")+style.GestureStyle.Render(strings.Join(m.gestures[gesture.SourceRemote], " ")),
	)
	b.WriteString(style.PanelStyle.Render(gestures))
	b.WriteString("\n")

	var lines []string
	for _, s := range m.sentences {
		lines = append(lines, m.sentenceLine(s))
	}
	for _, l := range m.speech {
		lines = append(lines, m.speechLine(l))
	}
	if len(lines) == 0 {
		lines = append(lines, style.HelpStyle.Render("No sentences yet"))
	}
	b.WriteString(style.PanelStyle.Render(strings.Join(lines, "\n")))
	b.WriteString("\n\n")

	label := "Say"
	if m.mode == inputGesture {
		label = "Sign"
	}
	fmt.Fprintf(&b, "%s %s", style.StatusStyle.Render(label+":"), m.input.View())
	if m.lastErr != nil {
		fmt.Fprintf(&b, "\n%s", style.ErrorStyle.Render(m.truncate(m.lastErr.Error())))
	}

	help := fmt.Sprintf("  %s/%s  %s/%s  %s/%s",
		DefaultKeyMap.Submit.Help().Key, DefaultKeyMap.Submit.Help().Desc,
		DefaultKeyMap.ToggleInput.Help().Key, DefaultKeyMap.ToggleInput.Help().Desc,
		DefaultKeyMap.Hangup.Help().Key, DefaultKeyMap.Hangup.Help().Desc,
	)
	b.WriteString("\n\n" + style.HelpStyle.Render(help))
	return b.String()
}

func (m model) statusLine() string {
	switch {
	case m.reconnecting > 0:
		return style.ErrorStyle.Render(fmt.Sprintf("reconnecting (attempt %d)", m.reconnecting))
	case m.session.State == call.StateConnected:
		return style.ConnectedStyle.Render(formatElapsed(m.elapsed))
	case m.session.State == call.StateCalling:
		return m.spinner.View() + " " + style.StatusStyle.Render("ringing")
	default:
		return m.spinner.View() + " " + style.StatusStyle.Render(m.session.State.String())
	}
}

func (m model) sentenceLine(s gesture.Sentence) string {
	who, st := "You", style.LocalStyle
	if s.Source == gesture.SourceRemote {
		who, st = "Peer", style.RemoteStyle
	}
	return st.Render(m.truncate(style.PadRight(who, speakerWidth) + s.String()))
}

func (m model) speechLine(l speechLine) string {
	who, st := "You said", style.LocalStyle
	if l.source == gesture.SourceRemote {
		who, st = "Peer said", style.RemoteStyle
	}
	return st.Render(m.truncate(fmt.Sprintf("%s: %s", who, l.text)))
}

const speakerWidth = 6

func (m model) truncate(s string) string {
	return style.Truncate(s, m.width-6)
}

func formatElapsed(d time.Duration) string {
	secs := int(d / time.Second)
	return fmt.Sprintf("%02d:%02d", secs/60, secs%60)
}

func errorText(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
