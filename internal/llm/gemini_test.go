package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"google.golang.org/genai"
)

func TestToGenAIContents(t *testing.T) {
	contents, system, err := toGenAIContents([]llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, "be terse"),
		llms.TextParts(llms.ChatMessageTypeHuman, "list ", "files"),
		llms.TextParts(llms.ChatMessageTypeAI, "ls"),
	})
	require.NoError(t, err)

	require.NotNil(t, system)
	assert.Equal(t, "be terse", system.Parts[0].Text)

	require.Len(t, contents, 2)
	assert.Equal(t, string(genai.RoleUser), contents[0].Role)
	assert.Equal(t, "list files", contents[0].Parts[0].Text)
	assert.Equal(t, string(genai.RoleModel), contents[1].Role)
}

func TestToGenAIContents_Errors(t *testing.T) {
	_, _, err := toGenAIContents(nil)
	assert.Error(t, err)

	_, _, err = toGenAIContents([]llms.MessageContent{{
		Role:  llms.ChatMessageTypeHuman,
		Parts: []llms.ContentPart{llms.ImageURLContent{URL: "http://example.invalid/cat.png"}},
	}})
	assert.Error(t, err)
}

func TestNewGemini_RequiresKey(t *testing.T) {
	_, err := NewGemini(context.Background(), "", "")
	assert.Error(t, err)
}

func TestGeminiModel_GenerateContent(t *testing.T) {
	var gotBody map[string]any
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":"  Get-ChildItem \n"}]},"finishReason":"STOP"}]}`)
	}))
	defer srv.Close()

	model, err := newGemini(context.Background(), &genai.ClientConfig{
		APIKey:      "test-key",
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: srv.URL + "/"},
	}, "gemini-1.5-flash")
	require.NoError(t, err)

	out, err := llms.GenerateFromSinglePrompt(context.Background(), model, BuildPrompt("list files"))
	require.NoError(t, err)

	assert.Equal(t, "  Get-ChildItem \n", out, "adapter does not trim; the service does")
	assert.True(t, strings.HasSuffix(gotPath, "models/gemini-1.5-flash:generateContent"), "path %s", gotPath)
	assert.Contains(t, gotBody, "contents")
}
