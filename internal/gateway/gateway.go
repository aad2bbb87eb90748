// Package gateway connects chat platforms to conductor sessions.
package gateway

import (
	"context"
	"strings"
	"unicode/utf8"
)

// Message is one inbound chat message.
type Message struct {
	Gateway string
	ChatID  string
	User    string
	Text    string
}

// Handler is called for every inbound message.
type Handler func(ctx context.Context, m Messenger, msg Message)

// Messenger defines the interface for communication gateways (Telegram, Discord, etc.)
type Messenger interface {
	// Name identifies the gateway in logs and policy rules.
	Name() string
	// Start runs the message listening loop until ctx is done or Stop is called.
	Start(ctx context.Context, h Handler) error
	// Send sends a message to a specific chat
	Send(chatID string, text string) error
	// Stop gracefully shuts down the gateway
	Stop() error
}

// chunks splits text into pieces of at most limit bytes, preferring line breaks
// and never splitting a rune.
func chunks(text string, limit int) []string {
	if limit <= 0 || len(text) <= limit {
		return []string{text}
	}
	var out []string
	for len(text) > limit {
		cut := strings.LastIndexByte(text[:limit], '\n')
		if cut <= 0 {
			cut = limit
			for cut > 0 && !utf8.RuneStart(text[cut]) {
				cut--
			}
			if cut == 0 {
				cut = limit
			}
		}
		out = append(out, text[:cut])
		text = strings.TrimLeft(text[cut:], "\n")
	}
	if text != "" {
		out = append(out, text)
	}
	return out
}
