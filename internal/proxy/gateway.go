package proxy

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/aicore-gateway/internal/config"
	"github.com/nulpointcorp/aicore-gateway/internal/loadbalancer"
	"github.com/nulpointcorp/aicore-gateway/internal/logger"
	"github.com/nulpointcorp/aicore-gateway/internal/metrics"
	"github.com/nulpointcorp/aicore-gateway/internal/registry"
	"github.com/nulpointcorp/aicore-gateway/internal/tokenmanager"
	"github.com/nulpointcorp/aicore-gateway/pkg/apierr"
)

const outboundTimeout = 5 * time.Minute

// Gateway wires the Model Registry, Load Balancer, Token Manager, and
// provider fleet together to serve a single inbound proxy request with
// failover.
type Gateway struct {
	registry  *registry.Registry
	balancer  *loadbalancer.Balancer
	tokens    *tokenmanager.Manager
	providers map[string]config.Provider

	http    *http.Client
	metrics *metrics.Registry
	reqLog  *logger.Logger
	log     *slog.Logger
}

// Options configures a new Gateway.
type Options struct {
	Registry  *registry.Registry
	Balancer  *loadbalancer.Balancer
	Tokens    *tokenmanager.Manager
	Providers []config.Provider
	Metrics   *metrics.Registry
	ReqLog    *logger.Logger
	Log       *slog.Logger
}

// NewGateway builds a Gateway from Options.
func NewGateway(o Options) *Gateway {
	log := o.Log
	if log == nil {
		log = slog.Default()
	}
	byName := make(map[string]config.Provider, len(o.Providers))
	for _, p := range o.Providers {
		byName[p.Name] = p
	}
	return &Gateway{
		registry:  o.Registry,
		balancer:  o.Balancer,
		tokens:    o.Tokens,
		providers: byName,
		http:      &http.Client{Timeout: outboundTimeout},
		metrics:   o.Metrics,
		reqLog:    o.ReqLog,
		log:       log,
	}
}

// attemptOutcome classifies why a single provider attempt did not yield a
// final response.
type attemptOutcome int

const (
	outcomeNone attemptOutcome = iota
	outcomeModelNotAvailable
	outcomeRateLimited
	outcomeTransportError
)

type recordedFailure struct {
	outcome attemptOutcome
	status  int
	message string
}

// Handle runs the full failover loop for one inbound request and writes the
// terminal response (or error) into ctx. requestedModel is the raw,
// un-normalized model name as extracted from the request (for Azure-style
// path routes, the caller has already reconciled path vs. body model and
// reflected the result in both requestedModel and body); action is the
// Gemini path action (empty for other families).
func (g *Gateway) Handle(ctx *fasthttp.RequestCtx, apiKey, requestedModel, action string, body map[string]any) {
	start := time.Now()
	requestID, _ := ctx.UserValue("request_id").(string)

	if apiKey == "" {
		apierr.WriteMissingKey(ctx)
		return
	}
	if !g.tokens.IsAuthorized(apiKey) {
		apierr.WriteInvalidKey(ctx)
		return
	}

	order := g.balancer.GetOrderedProviders()
	if len(order) == 0 {
		apierr.WriteInternal(ctx, "no providers are enabled")
		return
	}
	if len(order) > 0 {
		g.metrics.RecordLoadBalancerSelection(order[0].Name)
	}

	var lastFailure recordedFailure
	allRateLimited := true
	attempted := 0

	for i, p := range order {
		normalized := g.registry.Normalize(requestedModel)
		family := DetectFamily(normalized)

		deploymentID, ok := g.registry.DeploymentFor(normalized, p.Name)
		if !ok {
			lastFailure = recordedFailure{
				outcome: outcomeModelNotAvailable,
				status:  fasthttp.StatusBadRequest,
				message: "model \"" + requestedModel + "\" is not available on provider \"" + p.Name + "\"",
			}
			g.metrics.RecordFailoverAttempt("model_not_available")
			allRateLimited = false
			continue
		}
		attempted++

		token, err := g.tokens.GetToken(ctx, apiKey, p)
		if err == tokenmanager.ErrUnauthorized {
			apierr.WriteInvalidKey(ctx)
			return
		}
		if err != nil {
			apierr.WriteInternal(ctx, "failed to obtain upstream credentials")
			return
		}

		reqBody := cloneBody(body)
		stream := StreamFlag(family, reqBody, action)
		RewriteBody(family, normalized, reqBody)

		url := BuildURL(p.GenAIAPIURL, family, normalized, deploymentID, action, stream)

		encoded, err := json.Marshal(reqBody)
		if err != nil {
			apierr.WriteInternal(ctx, "failed to encode upstream request")
			return
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
		if err != nil {
			apierr.WriteInternal(ctx, "failed to build upstream request")
			return
		}
		httpReq.Header.Set("Authorization", "Bearer "+token)
		httpReq.Header.Set("Content-Type", "application/json")
		if p.ResourceGroup != "" {
			httpReq.Header.Set("AI-Resource-Group", p.ResourceGroup)
		}

		attemptStart := time.Now()
		resp, err := g.http.Do(httpReq)
		if err != nil {
			g.log.Warn("upstream transport error",
				slog.String("provider", p.Name), slog.String("error", err.Error()))
			lastFailure = recordedFailure{outcome: outcomeTransportError, status: fasthttp.StatusInternalServerError, message: "upstream request failed"}
			g.metrics.RecordProxyRequest(familyName(family), p.Name, "transport_error", time.Since(attemptStart).Seconds())
			g.metrics.RecordFailoverAttempt("transport_error")
			allRateLimited = false
			continue
		}

		if isRetryableStatus(resp.StatusCode) {
			_ = resp.Body.Close()
			lastFailure = recordedFailure{outcome: outcomeRateLimited, status: fasthttp.StatusTooManyRequests, message: "rate limited"}
			g.metrics.RecordProxyRequest(familyName(family), p.Name, "rate_limited", time.Since(attemptStart).Seconds())
			g.metrics.RecordFailoverAttempt("rate_limited")
			continue
		}

		allRateLimited = false
		if i > 0 {
			g.log.Info("request succeeded after failover", slog.Int("fallback_index", i), slog.String("provider", p.Name))
		}

		responseStatus := resp.StatusCode
		finish := func(usage Usage) {
			g.metrics.RecordProxyRequest(familyName(family), p.Name, "success", time.Since(attemptStart).Seconds())
			g.metrics.RecordTokens(familyName(family), p.Name, usage.InputTokens, usage.OutputTokens)

			if g.reqLog == nil {
				return
			}
			idv, _ := uuid.Parse(requestID)
			g.reqLog.Log(logger.RequestLog{
				ID:             idv,
				Provider:       p.Name,
				DeploymentID:   deploymentID,
				RequestedModel: requestedModel,
				ResolvedModel:  normalized,
				InputTokens:    uint32(usage.InputTokens),
				OutputTokens:   uint32(usage.OutputTokens),
				LatencyMs:      uint32(time.Since(start).Milliseconds()),
				Status:         uint16(responseStatus),
				Streamed:       stream,
				FallbackIndex:  i,
				CreatedAt:      start,
			})
		}

		if stream {
			g.writeStreaming(ctx, resp, family, requestedModel, normalized, p.Name, finish)
		} else {
			finish(g.writeUnary(ctx, resp))
		}
		return
	}

	switch {
	case attempted == 0:
		apierr.WriteBadRequest(ctx, "model \""+requestedModel+"\" is not available on any enabled provider")
	case allRateLimited:
		apierr.WriteAllProvidersRateLimited(ctx)
	default:
		apierr.Write(ctx, lastFailure.status, lastFailure.message)
	}
}

func (g *Gateway) writeUnary(ctx *fasthttp.RequestCtx, resp *http.Response) Usage {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		apierr.WriteInternal(ctx, "failed to read upstream response")
		return Usage{}
	}
	ctx.SetStatusCode(resp.StatusCode)
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		ctx.SetContentType(ct)
	}
	ctx.SetBody(body)

	var u Usage
	var obj map[string]any
	if json.Unmarshal(body, &obj) == nil {
		if usageField, ok := obj["usage"].(map[string]any); ok {
			u.InputTokens = intOf(usageField["prompt_tokens"])
			u.OutputTokens = intOf(usageField["completion_tokens"])
		}
	}
	return u
}

// writeStreaming sets SSE headers and registers a body stream writer that
// pumps the upstream byte stream through. Because fasthttp invokes the
// stream writer after this method returns, usage telemetry and per-request
// bookkeeping are only known once the closure runs, so onDone is called from
// inside it rather than by the caller.
func (g *Gateway) writeStreaming(ctx *fasthttp.RequestCtx, resp *http.Response, family Family, requestedModel, resolvedModel, provider string, onDone func(Usage)) {
	ctx.SetStatusCode(resp.StatusCode)
	ctx.Response.Header.Set("Content-Type", "text/event-stream")
	ctx.Response.Header.Set("Cache-Control", "no-cache")
	ctx.Response.Header.Set("Connection", "keep-alive")

	start := time.Now()

	ctx.SetBodyStreamWriter(func(w *bufio.Writer) {
		defer resp.Body.Close()
		usage := streamPump(resp.Body, family, func(b []byte) error {
			if _, err := w.Write(b); err != nil {
				return err
			}
			return w.Flush()
		})
		logStreamEnd(g.log, start, requestedModel, resolvedModel, provider, usage)
		onDone(usage)
	})
}

func cloneBody(body map[string]any) map[string]any {
	out := make(map[string]any, len(body))
	for k, v := range body {
		out[k] = v
	}
	return out
}

func familyName(f Family) string {
	switch f {
	case FamilyClaude:
		return "claude"
	case FamilyGemini:
		return "gemini"
	default:
		return "openai"
	}
}
