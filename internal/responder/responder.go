// Package responder delivers brain responses back to the originating
// contact with human-like pacing.
package responder

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sellkit/connector/internal/config"
	"github.com/sellkit/connector/internal/domain"
)

// Sender is the outbound subset of the chat-client capability.
type Sender interface {
	SendText(ctx context.Context, to, body string) error
	SendMedia(ctx context.Context, to string, data []byte, mimetype, caption string) error
	SendComposing(to string) error
	ClearComposing(to string) error
}

// DeliveryResult aggregates the outcome of one brain response so the
// pipeline can log a single structured record.
type DeliveryResult struct {
	TextDelivered bool
	Products      []ProductDelivery
}

// ProductDelivery is the outcome for one catalog product.
type ProductDelivery struct {
	TextDelivered  bool
	MediaSent      int
	MediaFallbacks int
	MediaFailed    int
}

type Responder struct {
	fetchClient       *http.Client
	interProductDelay time.Duration
	composeRefresh    time.Duration

	// sleep is swapped out in tests
	sleep func(ctx context.Context, d time.Duration)
}

func New() *Responder {
	return &Responder{
		fetchClient:       &http.Client{Timeout: config.MediaFetchTimeout},
		interProductDelay: config.InterProductDelay,
		composeRefresh:    config.ComposeRefreshInterval,
		sleep:             sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// Deliver sends the response text (if any) followed by each product in
// order. The brain's success flag was already checked upstream; resp is
// assumed to be a success shape with any subset of text and products
// populated.
func (r *Responder) Deliver(ctx context.Context, client Sender, to string, resp *domain.BrainResponse) (DeliveryResult, error) {
	result := DeliveryResult{}

	if resp.ResponseMessage != "" {
		if err := r.deliverText(ctx, client, to, resp); err != nil {
			return result, fmt.Errorf("deliver text: %w", err)
		}
		result.TextDelivered = true
	}

	for i, product := range resp.Products {
		if i > 0 {
			r.sleep(ctx, r.interProductDelay)
		}
		result.Products = append(result.Products, r.deliverProduct(ctx, client, to, product))
	}

	return result, nil
}

func (r *Responder) deliverText(ctx context.Context, client Sender, to string, resp *domain.BrainResponse) error {
	r.sleep(ctx, time.Duration(resp.WaitTimeSeconds*float64(time.Second)))

	typing := config.DefaultTypingDuration
	if resp.TypingDurationSeconds > 0 {
		typing = time.Duration(resp.TypingDurationSeconds * float64(time.Second))
	}
	r.holdComposing(ctx, client, to, typing)

	if err := client.SendText(ctx, to, resp.ResponseMessage); err != nil {
		// Fallback: one raw send without the composing simulation.
		slog.Warn("text send failed, retrying raw", "to", to, "error", err)
		if err := client.SendText(ctx, to, resp.ResponseMessage); err != nil {
			return fmt.Errorf("raw fallback send: %w", err)
		}
	}
	return nil
}

// holdComposing keeps the composing indicator visible for the whole typing
// duration, refreshing it periodically since most transports expire the
// state after a few seconds.
func (r *Responder) holdComposing(ctx context.Context, client Sender, to string, typing time.Duration) {
	if err := client.SendComposing(to); err != nil {
		slog.Warn("send composing indicator", "to", to, "error", err)
	}
	for remaining := typing; remaining > 0; remaining -= r.composeRefresh {
		step := remaining
		if step > r.composeRefresh {
			step = r.composeRefresh
		}
		r.sleep(ctx, step)
		if remaining > r.composeRefresh {
			if err := client.SendComposing(to); err != nil {
				slog.Warn("refresh composing indicator", "to", to, "error", err)
			}
		}
	}
	if err := client.ClearComposing(to); err != nil {
		slog.Debug("clear composing indicator", "to", to, "error", err)
	}
}

// deliverProduct sends one product's text and media. Failures within a
// product never abort its remaining media or the remaining catalog.
func (r *Responder) deliverProduct(ctx context.Context, client Sender, to string, product domain.Product) ProductDelivery {
	pd := ProductDelivery{}

	if product.FormattedMessage != "" {
		if err := client.SendText(ctx, to, product.FormattedMessage); err != nil {
			slog.Error("send product text", "to", to, "error", err)
		} else {
			pd.TextDelivered = true
		}
	}

	for _, url := range product.MediaURLs {
		if r.sendMediaURL(ctx, client, to, url) {
			pd.MediaSent++
			continue
		}
		// Degraded mode: deliver the bare link as text.
		if err := client.SendText(ctx, to, url); err != nil {
			slog.Error("media url text fallback failed", "to", to, "url", url, "error", err)
			pd.MediaFailed++
			continue
		}
		pd.MediaFallbacks++
	}
	return pd
}

func (r *Responder) sendMediaURL(ctx context.Context, client Sender, to, url string) bool {
	data, mimetype, err := r.fetchMedia(ctx, url)
	if err != nil {
		slog.Warn("fetch media", "url", url, "error", err)
		return false
	}
	if err := client.SendMedia(ctx, to, data, mimetype, ""); err != nil {
		slog.Warn("send media attachment", "to", to, "url", url, "error", err)
		return false
	}
	return true
}

func (r *Responder) fetchMedia(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("create download request: %w", err)
	}

	resp, err := r.fetchClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("download media: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read media data: %w", err)
	}

	mimetype := resp.Header.Get("Content-Type")
	if mimetype == "" {
		mimetype = "application/octet-stream"
	}
	return data, mimetype, nil
}
