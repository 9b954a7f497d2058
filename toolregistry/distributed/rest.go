package distributed

import (
	"encoding/json"
	"fmt"

	"github.com/TeskaLabs/llm-microlink/toolregistry/resttool"
)

// restFunctionCall is the function_call block's rest-specific shape,
// mirroring rest.py's FunctionCallRest / rest_datamodel.py's
// RestRequest+RestResponse.
type restFunctionCall struct {
	Request struct {
		Method  string            `json:"method"`
		Path    string            `json:"path"`
		Headers map[string]string `json:"headers"`
		Query   map[string]string `json:"query"`
		Body    string            `json:"body"`
	} `json:"request"`
	Response map[string]struct {
		Content string `json:"content"`
		Error   bool   `json:"error"`
	} `json:"response"`
}

// restConfigFromDefinition decodes def's function_call block (a
// map[string]any produced by the YAML decoder) into a resttool.Config.
// The round-trip through encoding/json is safe here: yaml.v3 decodes
// mapping/sequence/scalar nodes into map[string]any/[]any/string/bool/
// float64, which is exactly the shape encoding/json itself produces.
func restConfigFromDefinition(def toolDefinition, baseURL string) (resttool.Config, error) {
	raw, err := json.Marshal(def.FunctionCall)
	if err != nil {
		return resttool.Config{}, fmt.Errorf("re-encode function_call: %w", err)
	}
	var fc restFunctionCall
	if err := json.Unmarshal(raw, &fc); err != nil {
		return resttool.Config{}, fmt.Errorf("decode rest function_call: %w", err)
	}

	response := make(map[string]resttool.Response, len(fc.Response))
	for status, tmpl := range fc.Response {
		response[status] = resttool.Response{Content: tmpl.Content, Error: tmpl.Error}
	}

	return resttool.Config{
		Name:        def.Define.Name,
		Title:       def.Title,
		Description: def.Description,
		Parameters:  def.Parameters,
		BaseURL:     baseURL,
		Request: resttool.Request{
			Method:  fc.Request.Method,
			Path:    fc.Request.Path,
			Headers: fc.Request.Headers,
			Query:   fc.Request.Query,
			Body:    fc.Request.Body,
		},
		Response: response,
	}, nil
}
