package messenger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"traffic-law-bot/internal/metrics"
	"traffic-law-bot/internal/resilience"
	"traffic-law-bot/pkg/logger"
)

type sendRequest struct {
	Recipient     Participant `json:"recipient"`
	MessagingType string      `json:"messaging_type"`
	Message       struct {
		Text string `json:"text"`
	} `json:"message"`
}

// Sender 调用 Graph API 发送消息
type Sender struct {
	endpoint string
	token    string
	client   *http.Client
	policy   *resilience.Policy
	metrics  *metrics.Metrics
	log      logger.Logger
}

// NewSender 创建 Sender，graphURL 形如 https://graph.facebook.com/v18.0
func NewSender(graphURL, token string, timeout time.Duration, policy *resilience.Policy, m *metrics.Metrics, log logger.Logger) *Sender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log == nil {
		log = logger.GetDefault()
	}
	return &Sender{
		endpoint: strings.TrimRight(graphURL, "/") + "/me/messages",
		token:    token,
		client:   &http.Client{Timeout: timeout},
		policy:   policy,
		metrics:  m,
		log:      log,
	}
}

// Send 向 PSID 发送文本。5xx、429 以及连接未建立的错误重试；
// 请求可能已送达的传输错误（超时、连接中断）不重试，避免用户收到重复回复。
// 访问令牌放在 Authorization 头中，不出现在 URL 和错误信息里。
func (s *Sender) Send(ctx context.Context, psid, text string) error {
	req := sendRequest{Recipient: Participant{ID: psid}, MessagingType: "RESPONSE"}
	req.Message.Text = text
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}

	err = s.policy.Do(ctx, func(ctx context.Context) error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
		if err != nil {
			return resilience.Permanent(err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+s.token)

		resp, err := s.client.Do(httpReq)
		if err != nil {
			return classifyTransportError(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusOK {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		err = fmt.Errorf("send api status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return err
		}
		return resilience.Permanent(err)
	})
	if err != nil {
		s.metrics.MessageSent("error")
		s.log.ErrorContext(ctx, "Messenger 消息发送失败", "psid", psid, "error", err)
		return fmt.Errorf("send message: %w", err)
	}

	s.metrics.MessageSent("ok")
	return nil
}

// classifyTransportError 去掉 *url.Error 中的 URL，只有拨号失败（请求未发出）才允许重试
func classifyTransportError(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		err = fmt.Errorf("post send api: %w", uerr.Err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return err
	}
	return resilience.Permanent(err)
}
