// Package transport sends sealed envelopes to the collector.
package transport

import (
	"context"
	"fmt"
	"time"

	"CapIot.occupancy/internal/models"
	"github.com/go-resty/resty/v2"
)

// Response is what the collector answered. Any status code counts as a
// completed request; callers decide what a non-2xx status means.
type Response struct {
	StatusCode int
	Body       string
	Latency    time.Duration
}

// Transport delivers one envelope. Implementations must honour ctx.
type Transport interface {
	Send(ctx context.Context, envelope models.EncryptedEnvelope) (Response, error)
}

// RestyTransport posts envelopes as JSON to a fixed URL.
type RestyTransport struct {
	client *resty.Client
	url    string
}

// NewRestyTransport creates a transport whose requests are bounded by timeout.
func NewRestyTransport(url string, timeout time.Duration) *RestyTransport {
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	return &RestyTransport{
		client: client,
		url:    url,
	}
}

// Send posts the envelope and returns the collector's response.
func (t *RestyTransport) Send(ctx context.Context, envelope models.EncryptedEnvelope) (Response, error) {
	resp, err := t.client.R().
		SetContext(ctx).
		SetBody(envelope).
		Post(t.url)
	if err != nil {
		return Response{}, fmt.Errorf("POST %s failed: %w", t.url, err)
	}

	return Response{
		StatusCode: resp.StatusCode(),
		Body:       resp.String(),
		Latency:    resp.Time(),
	}, nil
}
