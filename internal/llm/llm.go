// Package llm streams completions from either the local inference server or
// a cloud provider. Both backends speak server-sent events; the gateway
// extracts each frame's content delta and forwards it on a channel.
package llm

import (
	"bufio"
	"context"
	"strings"
)

// Request is one completion request.
type Request struct {
	System      string
	User        string
	Temperature float64
}

// Gateway streams model output. The string channel carries content deltas
// and is closed when the stream ends; the error channel carries at most one
// terminal error and is closed afterwards. Already-streamed deltas are never
// rolled back on mid-stream failure.
type Gateway interface {
	Stream(ctx context.Context, req Request) (<-chan string, <-chan error)
}

const ssePrefix = "data: "

// sseData extracts the payload of an SSE data line, or "" for other lines.
func sseData(line string) string {
	if !strings.HasPrefix(line, ssePrefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(line, ssePrefix))
}

// scanLines reads SSE lines and hands each data payload to handle. handle
// returns false to stop the scan (end-of-stream marker).
func scanLines(r *bufio.Scanner, handle func(payload string) bool) error {
	for r.Scan() {
		payload := sseData(r.Text())
		if payload == "" {
			continue
		}
		if !handle(payload) {
			return nil
		}
	}
	return r.Err()
}

// emit forwards a delta unless the context is gone.
func emit(ctx context.Context, out chan<- string, delta string) bool {
	if delta == "" {
		return true
	}
	select {
	case out <- delta:
		return true
	case <-ctx.Done():
		return false
	}
}
