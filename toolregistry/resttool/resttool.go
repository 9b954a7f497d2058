// Package resttool builds a conversation.ToolDescriptor.FunctionCall that
// drives an outbound HTTP request from a declarative template, grounded on
// original_source's tool/provider/function_call/rest.py and
// rest_datamodel.py. Expressions use github.com/antonmedv/expr rather than
// the original's jsonata, per the pack's available dependency surface; the
// "$"-prefix convention marking a field as an expression (vs. a literal) is
// kept from the original.
package resttool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/antonmedv/expr"

	"github.com/TeskaLabs/llm-microlink/conversation"
)

// Request is the request half of a REST tool definition.
type Request struct {
	Method  string
	Path    string
	Headers map[string]string
	Query   map[string]string
	Body    string // empty means no body; "$"-prefixed means an expression
}

// Response is one status-keyed (or "_" default) response template.
type Response struct {
	Content string // "$"-prefixed means an expression over the evaluated response
	Error   bool
}

// Config fully describes one REST tool, as decoded from a tool definition.
type Config struct {
	Name        string
	Title       string
	Description string
	Parameters  map[string]any
	BaseURL     string
	Request     Request
	Response    map[string]Response
}

// NewDescriptor builds a conversation.ToolDescriptor from cfg. The
// FunctionCall closes over an *http.Client so tests can substitute one
// pointed at an httptest.Server.
func NewDescriptor(cfg Config, client *http.Client) *conversation.ToolDescriptor {
	if client == nil {
		client = http.DefaultClient
	}
	return &conversation.ToolDescriptor{
		Name:         cfg.Name,
		Title:        cfg.Title,
		Description:  cfg.Description,
		Parameters:   cfg.Parameters,
		FunctionCall: functionCall(cfg, client),
	}
}

func functionCall(cfg Config, client *http.Client) func(context.Context, *conversation.Conversation, *conversation.FunctionCall, chan<- string) error {
	return func(ctx context.Context, conv *conversation.Conversation, fc *conversation.FunctionCall, progress chan<- string) error {
		progress <- "validating"

		var args map[string]any
		if fc.Arguments != "" {
			if err := json.Unmarshal([]byte(fc.Arguments), &args); err != nil {
				fc.Content = "Exception occurred while parsing arguments."
				fc.Error = true
				return nil
			}
		}

		var tenant string
		if conv != nil {
			tenant = conv.Tenant
		}

		env := map[string]any{
			"tenant":     tenant,
			"parameters": args,
			"arguments":  args,
		}

		headers, err := evalStringDict(cfg.Request.Headers, env)
		if err != nil {
			fc.Content = "Exception occurred while evaluating request headers: " + err.Error()
			fc.Error = true
			return nil
		}
		query, err := evalStringDict(cfg.Request.Query, env)
		if err != nil {
			fc.Content = "Exception occurred while evaluating request query: " + err.Error()
			fc.Error = true
			return nil
		}

		path, err := evalString(cfg.Request.Path, env)
		if err != nil {
			fc.Content = "Exception occurred while evaluating request path: " + err.Error()
			fc.Error = true
			return nil
		}
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}

		var bodyReader io.Reader
		if cfg.Request.Body != "" {
			body, err := evalAny(cfg.Request.Body, env)
			if err != nil {
				fc.Content = "Exception occurred while evaluating request body: " + err.Error()
				fc.Error = true
				return nil
			}
			switch b := body.(type) {
			case string:
				bodyReader = strings.NewReader(b)
			default:
				enc, err := json.Marshal(b)
				if err != nil {
					fc.Content = "Exception occurred while encoding request body: " + err.Error()
					fc.Error = true
					return nil
				}
				bodyReader = bytes.NewReader(enc)
			}
		}

		progress <- "executing"

		reqURL := strings.TrimRight(cfg.BaseURL, "/") + path
		if len(query) > 0 {
			values := url.Values{}
			for k, v := range query {
				values.Set(k, v)
			}
			reqURL += "?" + values.Encode()
		}

		httpReq, err := http.NewRequestWithContext(ctx, cfg.Request.Method, reqURL, bodyReader)
		if err != nil {
			fc.Content = "Exception occurred while building the HTTP request: " + err.Error()
			fc.Error = true
			return nil
		}
		for k, v := range headers {
			httpReq.Header.Set(k, v)
		}

		resp, err := client.Do(httpReq)
		if err != nil {
			fc.Content = "Exception occurred while calling the REST endpoint: " + err.Error()
			fc.Error = true
			return nil
		}
		defer resp.Body.Close()

		tmpl, ok := cfg.Response[strconv.Itoa(resp.StatusCode)]
		if !ok {
			tmpl, ok = cfg.Response["_"]
		}
		if !ok {
			fc.Content = "Tool execution failed with the status code: " + strconv.Itoa(resp.StatusCode)
			fc.Error = true
			return nil
		}

		contentType := resp.Header.Get("Content-Type")
		bodyBytes, _ := io.ReadAll(resp.Body)
		if strings.HasPrefix(contentType, "application/json") {
			var decoded any
			if err := json.Unmarshal(bodyBytes, &decoded); err == nil {
				env["response"] = decoded
			} else {
				env["response"] = string(bodyBytes)
			}
		} else {
			env["response"] = string(bodyBytes)
		}

		content, err := evalString(tmpl.Content, env)
		if err != nil {
			fc.Content = "Exception occurred while evaluating the response template: " + err.Error()
			fc.Error = true
			return nil
		}
		fc.Content = content
		fc.Error = tmpl.Error

		progress <- "completed"
		return nil
	}
}

// evalAny returns s verbatim unless it starts with "$", in which case the
// remainder is compiled and run as an expr expression against env.
func evalAny(s string, env map[string]any) (any, error) {
	if !strings.HasPrefix(s, "$") {
		return s, nil
	}
	return expr.Eval(s[1:], env)
}

func evalString(s string, env map[string]any) (string, error) {
	v, err := evalAny(s, env)
	if err != nil {
		return "", err
	}
	return fmt.Sprint(v), nil
}

// evalStringDict evaluates each value in dict (skipping expressions that
// evaluate to nil, matching JsonataDictCompiler.evaluate's nil-filtering).
func evalStringDict(dict map[string]string, env map[string]any) (map[string]string, error) {
	out := make(map[string]string, len(dict))
	for k, v := range dict {
		val, err := evalAny(v, env)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		if val == nil {
			continue
		}
		if b, ok := val.(bool); ok {
			out[k] = strconv.FormatBool(b)
			continue
		}
		out[k] = fmt.Sprint(val)
	}
	return out, nil
}
