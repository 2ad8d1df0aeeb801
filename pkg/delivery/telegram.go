package delivery

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"ctxkeep/pkg/config"
	"ctxkeep/pkg/logger"
)

// telegramMaxMessage is Telegram's per-message text limit.
const telegramMaxMessage = 4096

// Telegram delivers into Telegram chats. Session keys are chat IDs,
// optionally prefixed with "telegram:".
type Telegram struct {
	token    string
	endpoint string
	client   *http.Client
	log      *logger.Logger

	mu  sync.Mutex
	bot *tgbotapi.BotAPI
}

// NewTelegram creates a Telegram backend. The bot connects on first use.
func NewTelegram(cfg config.TelegramConfig, log *logger.Logger) (*Telegram, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram token: %w", ErrNotConfigured)
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}
	if cfg.Proxy != "" {
		proxyURL, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("parsing telegram proxy: %w", err)
		}
		httpClient.Transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
	}

	return &Telegram{
		token:    cfg.Token,
		endpoint: tgbotapi.APIEndpoint,
		client:   httpClient,
		log:      log,
	}, nil
}

// Name returns the backend name.
func (t *Telegram) Name() string { return "telegram" }

// Deliver sends msg.Content to the chat named by msg.Session, split into
// Telegram-sized parts.
func (t *Telegram) Deliver(ctx context.Context, msg Message) error {
	chatID, err := ChatID(msg.Session)
	if err != nil {
		return err
	}
	bot, err := t.connect()
	if err != nil {
		return err
	}

	for _, part := range splitMessage(msg.Content, telegramMaxMessage) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := bot.Send(tgbotapi.NewMessage(chatID, part)); err != nil {
			return fmt.Errorf("sending telegram message: %w", err)
		}
	}

	t.log.Info("Delivered message to Telegram", zap.Int64("chat_id", chatID), zap.String("kind", msg.Kind))
	return nil
}

func (t *Telegram) connect() (*tgbotapi.BotAPI, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bot != nil {
		return t.bot, nil
	}
	bot, err := tgbotapi.NewBotAPIWithClient(t.token, t.endpoint, t.client)
	if err != nil {
		return nil, fmt.Errorf("creating telegram bot: %w", err)
	}
	t.bot = bot
	return bot, nil
}

// Close implements Deliverer.
func (t *Telegram) Close() error { return nil }

// ChatID parses a session key of the form "123", "telegram:123" or
// "telegram:-100123".
func ChatID(session string) (int64, error) {
	raw := strings.TrimPrefix(strings.TrimSpace(session), "telegram:")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("session %q is not a telegram chat id", session)
	}
	return id, nil
}

// splitMessage cuts text into parts of at most limit bytes, preferring
// line breaks.
func splitMessage(text string, limit int) []string {
	var parts []string
	for len(text) > limit {
		cut := strings.LastIndex(text[:limit], "\n")
		if cut <= 0 {
			cut = limit
			for cut > 0 && !isRuneStart(text[cut]) {
				cut--
			}
		}
		parts = append(parts, text[:cut])
		text = strings.TrimLeft(text[cut:], "\n")
	}
	if text != "" {
		parts = append(parts, text)
	}
	return parts
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
