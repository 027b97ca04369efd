package proxy

import (
	"bufio"
	"encoding/json"
	"io"
	"log/slog"
	"time"
)

// Usage is the best-effort usage telemetry extracted from a streamed
// response. Zero values mean "not observed".
type Usage struct {
	InputTokens      int
	OutputTokens     int
	CacheReadTokens  int
	CacheWriteTokens int
}

// streamPump reads upstream's SSE byte stream line by line, re-emitting
// each "data: " line (with a Claude "event: <type>" line prepended when
// applicable) to write, and opportunistically extracts the latest usage
// telemetry. It returns the last usage observed and stops on read error or
// EOF.
func streamPump(upstreamBody io.Reader, family Family, write func([]byte) error) Usage {
	var latest Usage
	scanner := bufio.NewScanner(upstreamBody)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		const prefix = "data: "
		if len(line) < len(prefix) || line[:len(prefix)] != prefix {
			continue
		}
		payload := line[len(prefix):]
		if payload == "" {
			continue
		}

		if family == FamilyClaude {
			if evt, ok := claudeEventType(payload); ok {
				_ = write([]byte("event: " + evt + "\n"))
			}
		}
		_ = write([]byte("data: " + payload + "\n\n"))

		if u, ok := extractUsage(family, payload); ok {
			latest = u
		}
	}
	return latest
}

func claudeEventType(payload string) (string, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(payload), &obj); err != nil {
		return "", false
	}
	t, ok := obj["type"].(string)
	return t, ok
}

func extractUsage(family Family, payload string) (Usage, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(payload), &obj); err != nil {
		return Usage{}, false
	}

	switch family {
	case FamilyClaude:
		t, _ := obj["type"].(string)
		if t != "message_stop" {
			return Usage{}, false
		}
		metrics, ok := obj["amazon-bedrock-invocationMetrics"].(map[string]any)
		if !ok {
			return Usage{}, false
		}
		return Usage{
			InputTokens:      intOf(metrics["inputTokenCount"]),
			OutputTokens:     intOf(metrics["outputTokenCount"]),
			CacheReadTokens:  intOf(metrics["cacheReadInputTokenCount"]),
			CacheWriteTokens: intOf(metrics["cacheWriteInputTokenCount"]),
		}, true

	case FamilyGemini:
		meta, ok := obj["usageMetadata"].(map[string]any)
		if !ok {
			return Usage{}, false
		}
		prompt := intOf(meta["promptTokenCount"])
		total := intOf(meta["totalTokenCount"])
		output := total - prompt
		if output < 0 {
			output = 0
		}
		return Usage{
			InputTokens:     prompt,
			OutputTokens:    output,
			CacheReadTokens: intOf(meta["cachedContentTokenCount"]),
		}, true

	default: // OpenAI
		usage, ok := obj["usage"].(map[string]any)
		if !ok {
			return Usage{}, false
		}
		return Usage{
			InputTokens:  intOf(usage["prompt_tokens"]),
			OutputTokens: intOf(usage["completion_tokens"]),
		}, true
	}
}

func intOf(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return 0
	}
}

// logStreamEnd logs the end-of-stream usage summary.
func logStreamEnd(log *slog.Logger, start time.Time, requestedModel, resolvedModel, provider string, u Usage) {
	log.Info("stream complete",
		slog.Duration("elapsed", time.Since(start)),
		slog.String("requested_model", requestedModel),
		slog.String("resolved_model", resolvedModel),
		slog.String("provider", provider),
		slog.Int("input_tokens", u.InputTokens),
		slog.Int("output_tokens", u.OutputTokens),
		slog.Int("cache_read_tokens", u.CacheReadTokens),
		slog.Int("cache_write_tokens", u.CacheWriteTokens),
	)
}
