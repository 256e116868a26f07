package telegram

import (
	"context"
	"net/http"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"chainintel/internal/domain/notification"
	"chainintel/pkg/errors"
	"chainintel/pkg/logger"
)

// api is the subset of tgbotapi.BotAPI the sender needs
type api interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Bot delivers alert messages to Telegram chats
type Bot struct {
	api         api
	log         *logger.Logger
	rateLimiter *rate.Limiter // Rate limiter for Telegram API calls
}

var _ notification.Sender = (*Bot)(nil)

// Config contains Telegram bot configuration
type Config struct {
	Token          string
	HTTPTimeout    time.Duration
	RateLimitRate  float64 // messages per second (default: 20)
	RateLimitBurst int     // default: 30
}

// NewBot creates a new Telegram bot instance
func NewBot(cfg Config, log *logger.Logger) (*Bot, error) {
	if cfg.Token == "" {
		return nil, errors.Wrapf(errors.ErrInvalidInput, "telegram bot token is required")
	}

	if cfg.HTTPTimeout == 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}
	if cfg.RateLimitBurst == 0 {
		cfg.RateLimitBurst = 30
	}
	if cfg.RateLimitRate == 0 {
		cfg.RateLimitRate = 20 // Telegram limit is 30
	}

	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	botAPI, err := tgbotapi.NewBotAPIWithClient(cfg.Token, tgbotapi.APIEndpoint, httpClient)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create telegram bot")
	}

	log.Infow("Telegram bot authorized", "account", botAPI.Self.UserName)

	return newBot(botAPI, rate.NewLimiter(rate.Limit(cfg.RateLimitRate), cfg.RateLimitBurst), log), nil
}

func newBot(a api, limiter *rate.Limiter, log *logger.Logger) *Bot {
	return &Bot{
		api:         a,
		log:         log.With("component", "telegram_bot"),
		rateLimiter: limiter,
	}
}

// Channel implements notification.Sender
func (b *Bot) Channel() notification.Channel {
	return notification.ChannelTelegram
}

// Send posts msg to the chat id in target. Text is sent without parse mode
// so addresses and hashes need no escaping.
func (b *Bot) Send(ctx context.Context, target string, msg notification.Message) error {
	chatID, err := strconv.ParseInt(target, 10, 64)
	if err != nil {
		return errors.NewValidationError("chat_id", "telegram target must be a numeric chat id", target)
	}

	if err := b.rateLimiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "rate limiter wait failed")
	}

	start := time.Now()

	out := tgbotapi.NewMessage(chatID, msg.Body)
	out.DisableWebPagePreview = true
	out.DisableNotification = !msg.Emergency && msg.Bucket != notification.BucketHigh

	if _, err := b.api.Send(out); err != nil {
		b.log.Errorw("Failed to send message",
			"chat_id", chatID,
			"trace_id", msg.TraceID,
			"error", err,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return errors.Wrap(err, "failed to send message")
	}

	b.log.Debugw("Message sent",
		"chat_id", chatID,
		"trace_id", msg.TraceID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}
