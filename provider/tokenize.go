package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/TeskaLabs/llm-microlink/conversation"
)

// TokenizeResult is the subset of a tokenize endpoint's response this
// adapter cares about.
type TokenizeResult struct {
	TokenCount int `json:"count"`
}

// MeasureTokens POSTs body to baseURL+"tokenize" and, on HTTP 200, returns
// the reported token count. Failure (network error, non-200, malformed
// body) is silent: the caller should log and proceed, never gating the
// chat call on this result, per spec §4.1's "failure of tokenize is
// silent and does not gate the chat call."
func MeasureTokens(ctx context.Context, httpClient *http.Client, baseURL string, headers map[string]string, body []byte) (TokenizeResult, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"tokenize", bytes.NewReader(body))
	if err != nil {
		return TokenizeResult{}, false
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return TokenizeResult{}, false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return TokenizeResult{}, false
	}
	var out TokenizeResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return TokenizeResult{}, false
	}
	return out, true
}

// ChatTokensEvent builds the chat.tokens event for a successful tokenize
// measurement. Callers broadcast it themselves; ok == false means
// measurement failed and no event should be sent.
func ChatTokensEvent(result TokenizeResult, tokenMax int) conversation.ChatTokens {
	return conversation.NewChatTokens(result.TokenCount, tokenMax)
}
