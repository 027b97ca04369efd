package proxy

import (
	"encoding/json"
	"errors"

	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/aicore-gateway/pkg/apierr"
)

var errMalformedGeminiPath = errors.New("malformed gemini path segment, expected \"model:action\"")

func writeBadRequestErr(ctx *fasthttp.RequestCtx, err error) {
	apierr.WriteBadRequest(ctx, err.Error())
}

func writeMissingModel(ctx *fasthttp.RequestCtx) {
	apierr.WriteBadRequest(ctx, "request body is missing a \"model\" field")
}

func writeJSON(ctx *fasthttp.RequestCtx, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		apierr.WriteInternal(ctx, "failed to encode response")
		return
	}
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}
