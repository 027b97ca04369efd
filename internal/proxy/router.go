package proxy

import (
	"log/slog"
	"time"

	"github.com/fasthttp/router"
	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/aicore-gateway/internal/metrics"
	"github.com/nulpointcorp/aicore-gateway/internal/registry"
)

// Server owns the fasthttp route table and middleware chain for the gateway;
// the caller runs the listener with the handler returned by Handler.
type Server struct {
	gateway  *Gateway
	registry *registry.Registry
	metrics  *metrics.Registry
	log      *slog.Logger
	corsOrigins []string
}

// ServerOptions configures a new Server.
type ServerOptions struct {
	Gateway     *Gateway
	Registry    *registry.Registry
	Metrics     *metrics.Registry
	Log         *slog.Logger
	CORSOrigins []string
}

// NewServer builds a Server with all routes registered.
func NewServer(o ServerOptions) *Server {
	log := o.Log
	if log == nil {
		log = slog.Default()
	}
	return &Server{gateway: o.Gateway, registry: o.Registry, metrics: o.Metrics, log: log, corsOrigins: o.CORSOrigins}
}

// Handler returns the fully wired fasthttp.RequestHandler.
func (s *Server) Handler() fasthttp.RequestHandler {
	r := router.New()

	r.GET("/health", s.handleHealth)
	r.GET("/v1/models", s.instrumented("/v1/models", s.handleListModels))
	r.GET("/metrics", s.metrics.Handler())

	r.POST("/v1/chat/completions", s.instrumented("/v1/chat/completions", s.handleOpenAIBodyModel))
	r.POST("/openai/deployments/{model}/chat/completions", s.instrumented("/openai/deployments/{model}/chat/completions", s.handleOpenAIPathModel))
	r.POST("/openai/deployments/{model}/embedding", s.instrumented("/openai/deployments/{model}/embedding", s.handleOpenAIPathModel))
	r.POST("/v1/messages", s.instrumented("/v1/messages", s.handleClaude))
	r.POST("/gemini/models/{model}", s.instrumented("/gemini/models/{model}", s.handleGemini))
	r.POST("/gemini/v1beta/models/{model}", s.instrumented("/gemini/v1beta/models/{model}", s.handleGemini))
	r.POST("/v1beta/models/{model}", s.instrumented("/v1beta/models/{model}", s.handleGemini))

	return applyMiddleware(r.Handler, recovery, requestID, timing, securityHeaders, corsHandler(s.corsOrigins))
}

// instrumented wraps a route handler with request-count/duration metrics.
func (s *Server) instrumented(route string, h fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		start := time.Now()
		h(ctx)
		s.metrics.RecordHTTPRequest(route, statusLabel(ctx.Response.StatusCode()), time.Since(start).Seconds())
	}
}

func statusLabel(code int) string {
	switch {
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

func (s *Server) handleHealth(ctx *fasthttp.RequestCtx) {
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetBodyString("OK")
}

func (s *Server) handleListModels(ctx *fasthttp.RequestCtx) {
	models := s.registry.AvailableModels()
	type modelEntry struct {
		ID     string `json:"id"`
		Object string `json:"object"`
	}
	out := make([]modelEntry, len(models))
	for i, m := range models {
		out[i] = modelEntry{ID: m, Object: "model"}
	}
	writeJSON(ctx, map[string]any{"data": out})
}

func (s *Server) apiKey(ctx *fasthttp.RequestCtx) (string, bool) {
	return ExtractAPIKey(func(name string) string {
		return string(ctx.Request.Header.Peek(name))
	})
}

func (s *Server) handleOpenAIBodyModel(ctx *fasthttp.RequestCtx) {
	body, err := DecodeBody(ctx.PostBody())
	if err != nil {
		writeBadRequestErr(ctx, err)
		return
	}
	model, ok := BodyModel(body)
	if !ok {
		writeMissingModel(ctx)
		return
	}
	apiKey, _ := s.apiKey(ctx)
	s.gateway.Handle(ctx, apiKey, model, "", body)
}

func (s *Server) handleOpenAIPathModel(ctx *fasthttp.RequestCtx) {
	pathModel := ctx.UserValue("model").(string)
	body, err := DecodeBody(ctx.PostBody())
	if err != nil {
		writeBadRequestErr(ctx, err)
		return
	}
	// Azure-style routes inject the path model into the body when the body
	// doesn't already carry one, then route on whatever the body ends up
	// with — so an explicit body model takes precedence over the path.
	if _, has := BodyModel(body); !has {
		body["model"] = pathModel
	}
	model, _ := BodyModel(body)
	apiKey, _ := s.apiKey(ctx)
	s.gateway.Handle(ctx, apiKey, model, "", body)
}

func (s *Server) handleClaude(ctx *fasthttp.RequestCtx) {
	body, err := DecodeBody(ctx.PostBody())
	if err != nil {
		writeBadRequestErr(ctx, err)
		return
	}
	model, ok := BodyModel(body)
	if !ok {
		writeMissingModel(ctx)
		return
	}
	apiKey, _ := s.apiKey(ctx)
	s.gateway.Handle(ctx, apiKey, model, "", body)
}

func (s *Server) handleGemini(ctx *fasthttp.RequestCtx) {
	segment := ctx.UserValue("model").(string)
	model, action, ok := SplitGeminiPath(segment)
	if !ok {
		writeBadRequestErr(ctx, errMalformedGeminiPath)
		return
	}
	body, err := DecodeBody(ctx.PostBody())
	if err != nil {
		writeBadRequestErr(ctx, err)
		return
	}
	apiKey, _ := s.apiKey(ctx)
	s.gateway.Handle(ctx, apiKey, model, action, body)
}
