package webrtc

import (
	"encoding/json"
	"log/slog"

	"github.com/pion/webrtc/v4"
)

type keepaliveMessage struct {
	Type   string `json:"type"`
	SentAt int64  `json:"ts"`
}

const (
	keepalivePing = "ping"
	keepalivePong = "pong"
)

func (n *Negotiator) attachDataChannel(dc DataChannel) {
	dc.OnOpen(func() {
		slog.Debug("Keepalive channel open", "callId", n.callID)
		n.startKeepalive(dc)
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		n.handleKeepalive(dc, msg)
	})
}

func (n *Negotiator) startKeepalive(dc DataChannel) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed.Load() || n.stopKeepalive != nil {
		return
	}
	stop := make(chan struct{})
	n.stopKeepalive = stop
	ticker := n.clock.Ticker(n.timing.KeepaliveInterval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case now := <-ticker.C:
				if dc.ReadyState() != webrtc.DataChannelStateOpen {
					continue
				}
				n.sendKeepalive(dc, keepaliveMessage{Type: keepalivePing, SentAt: now.UnixMilli()})
			}
		}
	}()
}

func (n *Negotiator) handleKeepalive(dc DataChannel, msg webrtc.DataChannelMessage) {
	if !msg.IsString {
		return
	}
	var m keepaliveMessage
	if err := json.Unmarshal(msg.Data, &m); err != nil {
		slog.Debug("Ignoring malformed keepalive", "callId", n.callID, "error", err)
		return
	}
	switch m.Type {
	case keepalivePing:
		n.sendKeepalive(dc, keepaliveMessage{Type: keepalivePong, SentAt: m.SentAt})
	case keepalivePong:
		rtt := n.clock.Now().UnixMilli() - m.SentAt
		slog.Debug("Keepalive pong", "callId", n.callID, "rttMs", rtt)
	}
}

func (n *Negotiator) sendKeepalive(dc DataChannel, m keepaliveMessage) {
	if n.closed.Load() {
		return
	}
	data, err := json.Marshal(m)
	if err != nil {
		return
	}
	if err := dc.SendText(string(data)); err != nil {
		slog.Debug("Keepalive send failed", "callId", n.callID, "error", err)
	}
}
