package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	xerrors "VaultGuard/internal/errors"
)

// WebhookNotifier 以纯文本 POST 投递事件，非 2xx 响应视为失败。
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhook 创建 WebhookNotifier，timeout 为 0 时使用 10 秒。
func NewWebhook(url string, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{url: strings.TrimSpace(url), client: &http.Client{Timeout: timeout}}
}

// Channel 实现 Notifier。
func (w *WebhookNotifier) Channel() Channel { return ChannelWebhook }

// Notify 实现 Notifier。
func (w *WebhookNotifier) Notify(ctx context.Context, event Event) error {
	if w == nil || w.url == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "webhook url not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, strings.NewReader(event.Text()))
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "build webhook request")
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")

	resp, err := w.client.Do(req)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeUnknown, err, "webhook request failed", xerrors.WithRetryable(true))
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// 4xx 表示接收方拒绝该事件，重投没有意义；429 与 5xx 可以重试。
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return xerrors.New(xerrors.CodeUnknown, fmt.Sprintf("webhook responded %d", resp.StatusCode),
			xerrors.WithRetryable(retryable),
			xerrors.WithSeverity(xerrors.SeverityWarning),
			xerrors.WithMetadata("url", w.url),
		)
	}
	return nil
}
