package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/rahul/conductor/internal/observability"
)

const discordLimit = 2000

type DiscordGateway struct {
	Session  *discordgo.Session
	stopOnce sync.Once
	stopErr  error
}

func NewDiscordGateway(token string) (*DiscordGateway, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentMessageContent
	return &DiscordGateway{Session: s}, nil
}

func (dg *DiscordGateway) Name() string { return "discord" }

// Start opens the websocket and dispatches messages until ctx is done.
func (dg *DiscordGateway) Start(ctx context.Context, h Handler) error {
	remove := dg.Session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || m.Author.Bot {
			return
		}
		if s.State != nil && s.State.User != nil && m.Author.ID == s.State.User.ID {
			return
		}
		if m.Content == "" {
			return
		}
		observability.Debug().
			Add(observability.Str("gateway", "discord")).
			Add(observability.Str("user", m.Author.Username)).
			Msg(m.Content)

		h(ctx, dg, Message{
			Gateway: dg.Name(),
			ChatID:  m.ChannelID,
			User:    m.Author.Username,
			Text:    m.Content,
		})
	})
	defer remove()

	if err := dg.Session.Open(); err != nil {
		return fmt.Errorf("discord open: %w", err)
	}
	if dg.Session.State != nil && dg.Session.State.User != nil {
		observability.Info().
			Add(observability.Str("gateway", "discord")).
			Add(observability.Str("account", dg.Session.State.User.Username)).
			Msg("authorized")
	}

	<-ctx.Done()
	return dg.Stop()
}

func (dg *DiscordGateway) Send(chatID string, text string) error {
	if chatID == "" {
		return fmt.Errorf("invalid chat ID: %s", chatID)
	}
	for _, part := range chunks(text, discordLimit) {
		if _, err := dg.Session.ChannelMessageSend(chatID, part); err != nil {
			return fmt.Errorf("discord send: %w", err)
		}
	}
	return nil
}

// Stop may be called more than once.
func (dg *DiscordGateway) Stop() error {
	dg.stopOnce.Do(func() { dg.stopErr = dg.Session.Close() })
	return dg.stopErr
}
