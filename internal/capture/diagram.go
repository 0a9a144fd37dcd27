package capture

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DiagramRenderer turns diagram source (mermaid and friends) into SVG.
type DiagramRenderer interface {
	RenderSVG(ctx context.Context, lang, source string) (string, error)
}

// Kroki renders diagrams through a Kroki server.
type Kroki struct {
	BaseURL string
	Client  *http.Client
}

// NewKroki returns a renderer posting to baseURL.
func NewKroki(baseURL string) *Kroki {
	return &Kroki{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// RenderSVG posts source to {base}/{lang}/svg.
func (k *Kroki) RenderSVG(ctx context.Context, lang, source string) (string, error) {
	url := fmt.Sprintf("%s/%s/svg", strings.TrimRight(k.BaseURL, "/"), lang)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(source))
	if err != nil {
		return "", fmt.Errorf("kroki: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Accept", "image/svg+xml")

	client := k.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("kroki: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return "", fmt.Errorf("kroki: read: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("kroki: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return string(body), nil
}
