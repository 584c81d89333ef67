package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"tandem/internal/logging"
)

// CloudGateway streams from an OpenAI-compatible chat completions endpoint
// using a bearer token.
type CloudGateway struct {
	endpoint string
	apiKey   string
	model    string
	limiter  *rate.Limiter
	client   *http.Client
}

// NewCloudGateway creates a cloud streaming gateway.
func NewCloudGateway(endpoint, apiKey, model string, timeout time.Duration, ratePerSec float64) *CloudGateway {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	limit := rate.Inf
	if ratePerSec > 0 {
		limit = rate.Limit(ratePerSec)
	}
	return &CloudGateway{
		endpoint: endpoint,
		apiKey:   apiKey,
		model:    model,
		limiter:  rate.NewLimiter(limit, 1),
		client:   &http.Client{Timeout: timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type cloudCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream"`
}

type cloudCompletionFrame struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

// Stream issues the chat completion request and forwards content deltas.
func (g *CloudGateway) Stream(ctx context.Context, req Request) (<-chan string, <-chan error) {
	out := make(chan string, 32)
	errc := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errc)

		if err := g.limiter.Wait(ctx); err != nil {
			errc <- err
			return
		}

		messages := []chatMessage{}
		if req.System != "" {
			messages = append(messages, chatMessage{Role: "system", Content: req.System})
		}
		messages = append(messages, chatMessage{Role: "user", Content: req.User})

		body, err := json.Marshal(cloudCompletionRequest{
			Model:       g.model,
			Messages:    messages,
			Temperature: req.Temperature,
			Stream:      true,
		})
		if err != nil {
			errc <- fmt.Errorf("failed to marshal completion request: %w", err)
			return
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint+"/v1/chat/completions", bytes.NewReader(body))
		if err != nil {
			errc <- fmt.Errorf("failed to create completion request: %w", err)
			return
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Accept", "text/event-stream")
		httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)

		resp, err := g.client.Do(httpReq)
		if err != nil {
			errc <- fmt.Errorf("completion request failed: %w", err)
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			raw, _ := io.ReadAll(resp.Body)
			errc <- fmt.Errorf("cloud provider returned status %d: %s", resp.StatusCode, string(raw))
			return
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		err = scanLines(scanner, func(payload string) bool {
			if payload == "[DONE]" {
				return false
			}
			var frame cloudCompletionFrame
			if err := json.Unmarshal([]byte(payload), &frame); err != nil {
				logging.LLMDebug("skipping malformed frame: %v", err)
				return true
			}
			for _, choice := range frame.Choices {
				if !emit(ctx, out, choice.Delta.Content) {
					return false
				}
				if choice.FinishReason != nil && *choice.FinishReason != "" {
					return false
				}
			}
			return true
		})
		if err != nil {
			errc <- fmt.Errorf("completion stream failed: %w", err)
		}
	}()
	return out, errc
}
