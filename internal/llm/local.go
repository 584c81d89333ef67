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

// LocalGateway streams from the local inference server's /completion
// endpoint (llama-server wire format).
type LocalGateway struct {
	endpoint string
	limiter  *rate.Limiter
	client   *http.Client
}

// NewLocalGateway creates a local streaming gateway. ratePerSec bounds
// request starts; zero or negative disables limiting.
func NewLocalGateway(endpoint string, timeout time.Duration, ratePerSec float64) *LocalGateway {
	if endpoint == "" {
		endpoint = "http://localhost:8080"
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	limit := rate.Inf
	if ratePerSec > 0 {
		limit = rate.Limit(ratePerSec)
	}
	return &LocalGateway{
		endpoint: endpoint,
		limiter:  rate.NewLimiter(limit, 1),
		client:   &http.Client{Timeout: timeout},
	}
}

type localCompletionRequest struct {
	Prompt      string  `json:"prompt"`
	Temperature float64 `json:"temperature"`
	Stream      bool    `json:"stream"`
}

type localCompletionFrame struct {
	Content string `json:"content"`
	Stop    bool   `json:"stop"`
	// Timings ride along in the frame; the gateway discards them.
	Timings json.RawMessage `json:"timings,omitempty"`
}

// Stream issues the completion request and forwards content deltas.
func (g *LocalGateway) Stream(ctx context.Context, req Request) (<-chan string, <-chan error) {
	out := make(chan string, 32)
	errc := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errc)

		if err := g.limiter.Wait(ctx); err != nil {
			errc <- err
			return
		}

		prompt := req.User
		if req.System != "" {
			prompt = req.System + "\n\n" + req.User
		}
		body, err := json.Marshal(localCompletionRequest{
			Prompt:      prompt,
			Temperature: req.Temperature,
			Stream:      true,
		})
		if err != nil {
			errc <- fmt.Errorf("failed to marshal completion request: %w", err)
			return
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint+"/completion", bytes.NewReader(body))
		if err != nil {
			errc <- fmt.Errorf("failed to create completion request: %w", err)
			return
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Accept", "text/event-stream")

		resp, err := g.client.Do(httpReq)
		if err != nil {
			errc <- fmt.Errorf("completion request failed: %w", err)
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			raw, _ := io.ReadAll(resp.Body)
			errc <- fmt.Errorf("inference server returned status %d: %s", resp.StatusCode, string(raw))
			return
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		err = scanLines(scanner, func(payload string) bool {
			var frame localCompletionFrame
			if err := json.Unmarshal([]byte(payload), &frame); err != nil {
				logging.LLMDebug("skipping malformed frame: %v", err)
				return true
			}
			if !emit(ctx, out, frame.Content) {
				return false
			}
			return !frame.Stop
		})
		if err != nil {
			errc <- fmt.Errorf("completion stream failed: %w", err)
		}
	}()
	return out, errc
}
