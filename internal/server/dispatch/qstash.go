package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// QStashPublisher publishes through the QStash v2 HTTP API.
type QStashPublisher struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewQStashPublisher(baseURL, token string, client *http.Client) *QStashPublisher {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &QStashPublisher{baseURL: strings.TrimRight(baseURL, "/"), token: token, client: client}
}

type publishResponse struct {
	MessageID string `json:"messageId"`
}

// Publish POSTs the body to /v2/publish/<target>. Request headers are
// forwarded to the callback with the Upstash-Forward- prefix.
func (p *QStashPublisher) Publish(ctx context.Context, req PublishRequest) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/v2/publish/"+req.Target, bytes.NewReader(req.Body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.token)
	httpReq.Header.Set("Content-Type", "application/json")
	if req.Delay > 0 {
		httpReq.Header.Set("Upstash-Delay", strconv.Itoa(int(math.Ceil(req.Delay.Seconds())))+"s")
	}
	for k, v := range req.Headers {
		httpReq.Header.Set("Upstash-Forward-"+k, v)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("qstash request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("qstash response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("qstash status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out publishResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("qstash response: %w", err)
	}
	return out.MessageID, nil
}
