package proxy

import "testing"

func TestDetectFamily(t *testing.T) {
	cases := map[string]Family{
		"claude-sonnet-4-5": FamilyClaude,
		"gemini-2.5-flash":  FamilyGemini,
		"gpt-4o":            FamilyOpenAI,
		"text-embedding-3":  FamilyOpenAI,
	}
	for model, want := range cases {
		if got := DetectFamily(model); got != want {
			t.Errorf("DetectFamily(%q) = %v, want %v", model, got, want)
		}
	}
}

func TestStreamFlagGemini(t *testing.T) {
	if !StreamFlag(FamilyGemini, nil, "streamGenerateContent") {
		t.Fatal("expected stream=true for streamGenerateContent action")
	}
	if StreamFlag(FamilyGemini, nil, "generateContent") {
		t.Fatal("expected stream=false for generateContent action")
	}
}

func TestStreamFlagBodyBoolean(t *testing.T) {
	if !StreamFlag(FamilyOpenAI, map[string]any{"stream": true}, "") {
		t.Fatal("expected stream=true")
	}
	if StreamFlag(FamilyOpenAI, map[string]any{}, "") {
		t.Fatal("expected default false")
	}
}

func TestRewriteBodyClaude(t *testing.T) {
	body := map[string]any{"model": "claude-sonnet-4-5", "stream": true, "thinking": map[string]any{}, "temperature": 0.5}
	RewriteBody(FamilyClaude, "claude-sonnet-4-5", body)

	if body["anthropic_version"] != "bedrock-2023-05-31" {
		t.Fatal("expected anthropic_version inserted")
	}
	if _, ok := body["stream"]; ok {
		t.Fatal("expected stream deleted")
	}
	if _, ok := body["model"]; ok {
		t.Fatal("expected model deleted")
	}
	if _, ok := body["temperature"]; ok {
		t.Fatal("expected temperature deleted when thinking present")
	}
}

func TestRewriteBodyClaudeKeepsTemperatureWithoutThinking(t *testing.T) {
	body := map[string]any{"temperature": 0.5}
	RewriteBody(FamilyClaude, "claude-sonnet-4-5", body)
	if _, ok := body["temperature"]; !ok {
		t.Fatal("expected temperature kept when no thinking field")
	}
}

func TestRewriteBodyGemini(t *testing.T) {
	body := map[string]any{"model": "gemini-2.5-flash", "stream": true}
	RewriteBody(FamilyGemini, "gemini-2.5-flash", body)
	if _, ok := body["model"]; ok {
		t.Fatal("expected model deleted")
	}
	if _, ok := body["stream"]; ok {
		t.Fatal("expected stream deleted")
	}
}

func TestRewriteBodyOpenAIGPT5(t *testing.T) {
	body := map[string]any{"max_tokens": float64(64), "temperature": 0.3, "stream": true}
	RewriteBody(FamilyOpenAI, "gpt-5-mini", body)

	if body["max_completion_tokens"] != float64(64) {
		t.Fatalf("expected max_completion_tokens=64, got %v", body["max_completion_tokens"])
	}
	if _, ok := body["max_tokens"]; ok {
		t.Fatal("expected max_tokens removed")
	}
	if _, ok := body["temperature"]; ok {
		t.Fatal("expected temperature removed")
	}
	opts, ok := body["stream_options"].(map[string]any)
	if !ok || opts["include_usage"] != true {
		t.Fatalf("expected stream_options.include_usage=true, got %v", body["stream_options"])
	}
}

func TestRewriteBodyOpenAINonGPT5Untouched(t *testing.T) {
	body := map[string]any{"max_tokens": float64(64), "temperature": 0.3}
	RewriteBody(FamilyOpenAI, "gpt-4o", body)
	if body["max_tokens"] != float64(64) {
		t.Fatal("expected max_tokens untouched for non-gpt-5 models")
	}
	if body["temperature"] != 0.3 {
		t.Fatal("expected temperature untouched for non-gpt-5 models")
	}
}

func TestRewriteBodyOpenAIMergesExistingStreamOptions(t *testing.T) {
	body := map[string]any{"stream": true, "stream_options": map[string]any{"other": "x"}}
	RewriteBody(FamilyOpenAI, "gpt-4o", body)
	opts := body["stream_options"].(map[string]any)
	if opts["include_usage"] != true || opts["other"] != "x" {
		t.Fatalf("expected merge into existing stream_options, got %v", opts)
	}
}

func TestBuildURLIdempotent(t *testing.T) {
	u1 := BuildURL("https://host/", FamilyClaude, "claude-x", "dep1", "", true)
	u2 := BuildURL("https://host/", FamilyClaude, "claude-x", "dep1", "", true)
	if u1 != u2 {
		t.Fatalf("expected idempotent URL construction, got %q vs %q", u1, u2)
	}
	want := "https://host/v2/inference/deployments/dep1/invoke-with-response-stream"
	if u1 != want {
		t.Fatalf("got %q, want %q", u1, want)
	}
}

func TestBuildURLClaudeUnary(t *testing.T) {
	got := BuildURL("https://host", FamilyClaude, "claude-x", "dep1", "", false)
	want := "https://host/v2/inference/deployments/dep1/invoke"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestBuildURLGemini(t *testing.T) {
	got := BuildURL("https://host", FamilyGemini, "gemini-2.5-flash", "dep1", "streamGenerateContent", true)
	want := "https://host/v2/inference/deployments/dep1/models/gemini-2.5-flash:streamGenerateContent"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestBuildURLOpenAIEmbeddings(t *testing.T) {
	got := BuildURL("https://host", FamilyOpenAI, "text-embedding-3", "dep1", "", false)
	want := "https://host/v2/inference/deployments/dep1/embeddings?api-version=2025-04-01-preview"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestBuildURLOpenAIChat(t *testing.T) {
	got := BuildURL("https://host", FamilyOpenAI, "gpt-4o", "dep1", "", false)
	want := "https://host/v2/inference/deployments/dep1/chat/completions?api-version=2025-04-01-preview"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestExtractAPIKeyOrder(t *testing.T) {
	headers := map[string]string{
		"x-api-key":     "x-key",
		"Authorization": "Bearer auth-key",
	}
	lookup := func(name string) string { return headers[name] }
	key, ok := ExtractAPIKey(lookup)
	if !ok || key != "x-key" {
		t.Fatalf("expected x-api-key to win over Authorization, got %q", key)
	}
}

func TestExtractAPIKeyBearerOnly(t *testing.T) {
	headers := map[string]string{"Authorization": "Bearer auth-key"}
	key, ok := ExtractAPIKey(func(n string) string { return headers[n] })
	if !ok || key != "auth-key" {
		t.Fatalf("expected bearer token extracted, got %q ok=%v", key, ok)
	}
}

func TestExtractAPIKeyNone(t *testing.T) {
	_, ok := ExtractAPIKey(func(string) string { return "" })
	if ok {
		t.Fatal("expected no api key found")
	}
}

func TestSplitGeminiPath(t *testing.T) {
	model, action, ok := SplitGeminiPath("gemini-2.5-flash:streamGenerateContent")
	if !ok || model != "gemini-2.5-flash" || action != "streamGenerateContent" {
		t.Fatalf("unexpected split: model=%q action=%q ok=%v", model, action, ok)
	}
}

func TestSplitGeminiPathMalformed(t *testing.T) {
	_, _, ok := SplitGeminiPath("gemini-2.5-flash")
	if ok {
		t.Fatal("expected malformed path to fail")
	}
}
