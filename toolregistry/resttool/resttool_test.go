package resttool

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/TeskaLabs/llm-microlink/conversation"
)

func TestFunctionCallThreadsTenantIntoPathAndResponseExpressions(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	cfg := Config{
		Name:    "lookup",
		BaseURL: srv.URL,
		Request: Request{
			Method: http.MethodGet,
			Path:   "$'/' + tenant + '/rest/api'",
		},
		Response: map[string]Response{
			"200": {Content: "$tenant + ':' + response"},
		},
	}

	descriptor := NewDescriptor(cfg, srv.Client())

	conv := conversation.NewConversation(nil, nil)
	conv.Tenant = "acme"
	fc := conversation.NewFunctionCall("c1", "lookup", `{}`, nil)
	progress := make(chan string, 8)
	go func() {
		for range progress {
		}
	}()

	err := descriptor.FunctionCall(context.Background(), conv, fc, progress)
	require.NoError(t, err)
	require.False(t, fc.Error)
	require.Equal(t, "/acme/rest/api", gotPath)
	require.Equal(t, "acme:ok", fc.Content)
}

func TestFunctionCallDefaultsTenantToEmptyStringWhenUnset(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := Config{
		Name:    "lookup",
		BaseURL: srv.URL,
		Request: Request{
			Method: http.MethodGet,
			Path:   "$'/' + tenant + '/rest/api'",
		},
		Response: map[string]Response{
			"200": {Content: "done"},
		},
	}

	descriptor := NewDescriptor(cfg, srv.Client())

	conv := conversation.NewConversation(nil, nil)
	fc := conversation.NewFunctionCall("c1", "lookup", `{}`, nil)
	progress := make(chan string, 8)
	go func() {
		for range progress {
		}
	}()

	err := descriptor.FunctionCall(context.Background(), conv, fc, progress)
	require.NoError(t, err)
	require.False(t, fc.Error)
	require.Equal(t, "//rest/api", gotPath)
}
