package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"toolagent/pkg/gateway"
	"toolagent/pkg/llm"
)

// TelegramConfig encapsulates the credentials required to authenticate with
// the Telegram Bot API.
type TelegramConfig struct {
	Token string `json:"token"` // The secret BOT API string provided by @BotFather
}

// TelegramChannel serves one conversation per Telegram chat. Telegram has no
// mid-message streaming, so replies are accumulated and sent when the
// exchange ends, split at the message limit.
type TelegramChannel struct {
	config       TelegramConfig
	bot          *tgbotapi.BotAPI
	messageLimit int
	showThinking bool
	stopCtx      context.Context    // aborts the long-polling request on Stop
	stopCancel   context.CancelFunc
}

func NewTelegramChannel(cfg TelegramConfig, msgLimit int, showThinking bool) (*TelegramChannel, error) {
	ctx, cancel := context.WithCancel(context.Background())

	// Tie every dial to stopCtx so Stop aborts an active long poll instead of
	// leaving it to collide (409 Conflict) with the next bot instance.
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	botHTTPClient := &http.Client{
		Timeout: 90 * time.Second,
		Transport: &http.Transport{
			DialContext: func(dialCtx context.Context, network, addr string) (net.Conn, error) {
				mergedCtx, mergedCancel := context.WithCancel(dialCtx)
				go func() {
					select {
					case <-ctx.Done():
						mergedCancel()
					case <-mergedCtx.Done():
					}
				}()
				return dialer.DialContext(mergedCtx, network, addr)
			},
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}

	bot, err := tgbotapi.NewBotAPIWithClient(cfg.Token, tgbotapi.APIEndpoint, botHTTPClient)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	slog.Info("Telegram bot authorized", "username", bot.Self.UserName)

	return &TelegramChannel{
		config:       cfg,
		bot:          bot,
		messageLimit: msgLimit,
		showThinking: showThinking,
		stopCtx:      ctx,
		stopCancel:   cancel,
	}, nil
}

// ID returns the unique platform identifier "telegram".
func (t *TelegramChannel) ID() string {
	return "telegram"
}

// Start runs the long-polling update loop in a background goroutine.
func (t *TelegramChannel) Start(ctx context.Context, h gateway.Handler) error {
	go t.poll(ctx, h)
	return nil
}

func (t *TelegramChannel) poll(ctx context.Context, h gateway.Handler) {
	offset := 0
	for {
		select {
		case <-t.stopCtx.Done():
			return
		case <-ctx.Done():
			return
		default:
		}

		reqConfig := tgbotapi.NewUpdate(offset)
		reqConfig.Timeout = 60

		// GetUpdates instead of GetUpdatesChan so the offset and shutdown stay ours.
		updates, err := t.bot.GetUpdates(reqConfig)
		if err != nil {
			select {
			case <-t.stopCtx.Done():
				return
			default:
				slog.Debug("Failed to get telegram updates", "error", err)
				time.Sleep(3 * time.Second)
				continue
			}
		}

		for _, update := range updates {
			if update.UpdateID < offset {
				continue
			}
			offset = update.UpdateID + 1

			msg := update.Message
			if msg == nil || msg.From == nil || strings.TrimSpace(msg.Text) == "" {
				continue
			}

			session := gateway.SessionContext{
				ChannelID: t.ID(),
				UserID:    strconv.FormatInt(msg.From.ID, 10),
				ChatID:    strconv.FormatInt(msg.Chat.ID, 10),
				Username:  msg.From.UserName,
			}

			// Exchanges of one chat queue on its agent; chats run in parallel.
			go t.handle(ctx, h, session, strings.TrimSpace(msg.Text))
		}
	}
}

func (t *TelegramChannel) handle(ctx context.Context, h gateway.Handler, session gateway.SessionContext, text string) {
	switch text {
	case "/reset", "/start":
		h.Reset(session)
		if err := t.Send(session, "Conversation reset."); err != nil {
			slog.Error("Telegram send failed", "error", err)
		}
		return
	case "/status":
		if err := t.Send(session, "Status: "+h.Status(session).String()); err != nil {
			slog.Error("Telegram send failed", "error", err)
		}
		return
	}

	if err := t.sendTyping(session); err != nil {
		slog.Debug("Telegram typing signal failed", "error", err)
	}

	var reasoning, content strings.Builder
	sink := func(delta, channel string) {
		if channel == llm.ChannelReasoning {
			reasoning.WriteString(delta)
			return
		}
		content.WriteString(delta)
	}

	res, err := h.Handle(ctx, session, text, sink)
	if err != nil {
		if sendErr := t.Send(session, "Error: "+err.Error()); sendErr != nil {
			slog.Error("Telegram send failed", "error", sendErr)
		}
		return
	}

	if t.showThinking && reasoning.Len() > 0 {
		if err := t.Send(session, "💭 Reasoning process:\n\n"+reasoning.String()); err != nil {
			slog.Error("Failed to send thinking", "error", err)
		}
	}
	reply := content.String()
	if reply == "" {
		reply = res.Output
	}
	if reply == "" {
		return
	}
	if err := t.Send(session, reply); err != nil {
		slog.Error("Telegram send failed", "error", err)
	}
}

func (t *TelegramChannel) sendTyping(session gateway.SessionContext) error {
	chatID, err := strconv.ParseInt(session.ChatID, 10, 64)
	if err != nil {
		return err
	}
	_, err = t.bot.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping))
	return err
}

func (t *TelegramChannel) Stop() error {
	t.stopCancel() // Cancel our custom long-polling loop immediately

	if httpClient, ok := t.bot.Client.(*http.Client); ok && httpClient != nil {
		if transport, ok := httpClient.Transport.(*http.Transport); ok {
			transport.CloseIdleConnections()
		}
	}
	return nil
}

// Send delivers message to the session's chat, split into chunks of at most
// messageLimit characters.
func (t *TelegramChannel) Send(session gateway.SessionContext, message string) error {
	// Telegram Chat ID must be int64
	chatID, err := strconv.ParseInt(session.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id for telegram: %s", session.ChatID)
	}

	for i, chunk := range SplitMessage(message, t.messageLimit) {
		if _, err := t.bot.Send(tgbotapi.NewMessage(chatID, chunk)); err != nil {
			return fmt.Errorf("telegram send chunk %d failed: %w", i, err)
		}
	}
	return nil
}

// SplitMessage cuts message into pieces of at most limit runes. A limit of
// zero or less returns the message whole.
func SplitMessage(message string, limit int) []string {
	runes := []rune(message)
	if limit <= 0 || len(runes) <= limit {
		return []string{message}
	}

	var chunks []string
	for i := 0; i < len(runes); i += limit {
		end := min(i+limit, len(runes))
		chunks = append(chunks, string(runes[i:end]))
	}
	return chunks
}
