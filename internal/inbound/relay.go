package inbound

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/hackgods/clinic-assistant/pkg/logging"
)

// Relay forwards raw webhook bodies to sibling deployments, fire-and-forget.
type Relay struct {
	urls   []string
	client *http.Client
	logger *logging.Logger
	wg     sync.WaitGroup
}

func NewRelay(urls []string, client *http.Client, logger *logging.Logger) *Relay {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Relay{urls: urls, client: client, logger: logger}
}

// Forward posts body to every sibling in the background. Errors are logged.
func (r *Relay) Forward(ctx context.Context, body []byte) {
	payload := append([]byte(nil), body...)
	ctx = context.WithoutCancel(ctx)
	for _, url := range r.urls {
		r.wg.Add(1)
		go func(url string) {
			defer r.wg.Done()
			r.post(ctx, url, payload)
		}(url)
	}
}

// Wait blocks until in-flight forwards finish.
func (r *Relay) Wait() {
	r.wg.Wait()
}

func (r *Relay) post(ctx context.Context, url string, body []byte) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		r.logger.Error("relay request build failed", "error", err, "url", url)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Error("relay forward failed", "error", err, "url", url)
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= 300 {
		r.logger.Warn("relay target rejected webhook", "url", url, "status", resp.StatusCode)
	}
}
