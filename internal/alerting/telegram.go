package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"shelfwatch/internal/event"
)

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 告警器。
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Send 调用 sendMessage API 推送文本。
func (n *TelegramNotifier) Send(ctx context.Context, ev event.Event, localTime string) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    ChatText(ev, localTime),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram 返回 ok=false")
		}
	}

	n.logger.Info().
		Str("kind", string(ev.Kind())).
		Str("entity", ev.EntityName()).
		Msg("告警已发送 (Telegram)")
	return nil
}

var _ Notifier = (*TelegramNotifier)(nil)
