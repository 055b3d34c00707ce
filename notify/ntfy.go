package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const defaultPublishTimeout = 10 * time.Second

// ErrPublish wraps provider delivery failures.
var ErrPublish = errors.New("notify: publish failed")

type Message struct {
	Topic    string
	Title    string
	Body     string
	ClickURL string
}

type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// NtfyPublisher posts messages to an ntfy server.
type NtfyPublisher struct {
	baseURL string
	client  *http.Client
}

type PublisherOption func(*NtfyPublisher)

func WithHTTPClient(c *http.Client) PublisherOption {
	return func(p *NtfyPublisher) {
		if c != nil {
			p.client = c
		}
	}
}

func NewNtfyPublisher(baseURL string, opts ...PublisherOption) *NtfyPublisher {
	p := &NtfyPublisher{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout:   defaultPublishTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *NtfyPublisher) Publish(ctx context.Context, msg Message) error {
	url := fmt.Sprintf("%s/%s", p.baseURL, msg.Topic)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(msg.Body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPublish, err)
	}
	req.Header.Set("Title", msg.Title)
	req.Header.Set("Priority", "high")
	req.Header.Set("Tags", "warning,books")
	if msg.ClickURL != "" {
		req.Header.Set("Click", msg.ClickURL)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPublish, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: ntfy returned %s", ErrPublish, resp.Status)
	}
	return nil
}
