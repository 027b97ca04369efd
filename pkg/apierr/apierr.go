// Package apierr writes the gateway's wire error envelope: a flat JSON body
// {"error": "<message>"}, shared across all three wire protocols.
package apierr

import (
	"encoding/json"

	"github.com/valyala/fasthttp"
)

type envelope struct {
	Error string `json:"error"`
}

// Write sets status and writes {"error": message} as the response body.
func Write(ctx *fasthttp.RequestCtx, status int, message string) {
	ctx.ResetBody()
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	body, err := json.Marshal(envelope{Error: message})
	if err != nil {
		ctx.SetBodyString(`{"error":"internal server error"}`)
		return
	}
	ctx.SetBody(body)
}

func WriteBadRequest(ctx *fasthttp.RequestCtx, message string) {
	Write(ctx, fasthttp.StatusBadRequest, message)
}

func WriteMissingKey(ctx *fasthttp.RequestCtx) {
	Write(ctx, fasthttp.StatusUnauthorized, "Missing API key")
}

func WriteInvalidKey(ctx *fasthttp.RequestCtx) {
	Write(ctx, fasthttp.StatusUnauthorized, "Invalid API key")
}

func WriteRateLimited(ctx *fasthttp.RequestCtx, message string) {
	Write(ctx, fasthttp.StatusTooManyRequests, message)
}

func WriteAllProvidersRateLimited(ctx *fasthttp.RequestCtx) {
	Write(ctx, fasthttp.StatusTooManyRequests, "All providers are rate limited. Please try again later.")
}

func WriteInternal(ctx *fasthttp.RequestCtx, message string) {
	Write(ctx, fasthttp.StatusInternalServerError, message)
}
