package twitch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	irc "github.com/gempir/go-twitch-irc/v4"

	"github.com/beltheas/scrollback/mirror"
	"github.com/beltheas/scrollback/store"
)

// Platform is the platform label stamped on every Twitch event.
const Platform = "twitch"

// RecorderConfig carries the IRC connection settings.
type RecorderConfig struct {
	// Username is the bot login; OAuthToken a user token ("oauth:..." form)
	// with chat:read scope.
	Username   string
	OAuthToken string
	// BotID identifies this connection as the events' SelfID. Defaults to
	// Username.
	BotID string
	// Channels are the channel logins to join.
	Channels []string
}

// Recorder bridges live Twitch chat into the sync registry.
type Recorder struct {
	client   *irc.Client
	registry *mirror.Registry
	botID    string
	channels []string
	log      *slog.Logger
}

// NewRecorder builds a recorder; Run connects it.
func NewRecorder(cfg RecorderConfig, reg *mirror.Registry) *Recorder {
	botID := cfg.BotID
	if botID == "" {
		botID = cfg.Username
	}
	return &Recorder{
		client:   irc.NewClient(cfg.Username, cfg.OAuthToken),
		registry: reg,
		botID:    botID,
		channels: cfg.Channels,
		log:      slog.Default().With(slog.String("component", "twitch")),
	}
}

// Run joins the configured channels and blocks until ctx is canceled or the
// connection fails fatally. A nil return means a clean shutdown.
func (r *Recorder) Run(ctx context.Context) error {
	r.client.OnPrivateMessage(func(msg irc.PrivateMessage) {
		r.registry.OnLiveEvent(ctx, liveEvent(msg, r.botID))
	})
	r.client.OnClearMessage(func(msg irc.ClearMessage) {
		r.handleClear(ctx, msg)
	})

	for _, ch := range r.channels {
		r.client.Join(ch)
	}

	go func() {
		<-ctx.Done()
		r.client.Disconnect()
	}()

	r.log.Info("joining twitch chat", slog.Int("channels", len(r.channels)))
	if err := r.client.Connect(); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("twitch chat connect: %w", err)
	}
	return nil
}

func (r *Recorder) handleClear(ctx context.Context, msg irc.ClearMessage) {
	if msg.TargetMsgID == "" {
		return
	}
	err := r.registry.OnDeleted(ctx, Platform, msg.TargetMsgID, time.Now().UTC())
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		r.log.Warn("apply chat deletion",
			slog.String("message_id", msg.TargetMsgID),
			slog.String("channel", msg.Channel),
			slog.Any("err", err))
	}
}

func liveEvent(msg irc.PrivateMessage, botID string) mirror.Event {
	return mirror.Event{
		Platform:    Platform,
		ChannelID:   msg.RoomID,
		ChannelName: msg.Channel,
		MessageID:   msg.ID,
		UserID:      msg.User.ID,
		Username:    msg.User.Name,
		Nickname:    msg.User.DisplayName,
		SelfID:      botID,
		Content:     msg.Message,
		QuoteID:     msg.ReplyParentMsgID,
		Timestamp:   msg.Time,
	}
}
