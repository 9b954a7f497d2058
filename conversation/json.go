package conversation

import "encoding/json"

// MarshalJSON encodes AssistantText per spec's message wire shape:
// {key, type:"message", created_at, status, role, content}.
func (i *AssistantText) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Key       string `json:"key"`
		Type      string `json:"type"`
		CreatedAt string `json:"created_at"`
		Status    string `json:"status"`
		Role      string `json:"role"`
		Content   string `json:"content"`
	}{
		Key:       i.KeyValue,
		Type:      i.Kind(),
		CreatedAt: i.CreatedAt.Format(timeLayout),
		Status:    i.Status,
		Role:      i.Role,
		Content:   i.Content,
	})
}

// MarshalJSON encodes AssistantReasoning per spec's reasoning wire shape:
// {key, type:"reasoning", created_at, content, status}.
func (i *AssistantReasoning) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Key       string `json:"key"`
		Type      string `json:"type"`
		CreatedAt string `json:"created_at"`
		Content   string `json:"content"`
		Status    string `json:"status"`
	}{
		Key:       i.KeyValue,
		Type:      i.Kind(),
		CreatedAt: i.CreatedAt.Format(timeLayout),
		Content:   i.Content,
		Status:    i.Status,
	})
}

// MarshalJSON encodes FunctionCall per spec's function_call wire shape:
// {key, type:"function_call", created_at, status, name, arguments, content, error}.
func (i *FunctionCall) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Key       string `json:"key"`
		Type      string `json:"type"`
		CreatedAt string `json:"created_at"`
		Status    string `json:"status"`
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
		Content   string `json:"content"`
		Error     bool   `json:"error"`
	}{
		Key:       i.KeyValue,
		Type:      i.Kind(),
		CreatedAt: i.CreatedAt.Format(timeLayout),
		Status:    i.Status,
		Name:      i.Name,
		Arguments: i.Arguments,
		Content:   i.Content,
		Error:     i.Error,
	})
}

// MarshalJSON encodes UserMessage. Not part of the monitor event wire
// contract (§6 only documents message/reasoning/function_call shapes for
// emitted items), but kept consistent for snapshot/debug serialization.
func (i *UserMessage) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Key       string `json:"key"`
		Type      string `json:"type"`
		CreatedAt string `json:"created_at"`
		Role      string `json:"role"`
		Content   string `json:"content"`
		Model     string `json:"model"`
	}{
		Key:       i.KeyValue,
		Type:      "message",
		CreatedAt: i.CreatedAt.Format(timeLayout),
		Role:      i.Role,
		Content:   i.Content,
		Model:     i.Model,
	})
}

const timeLayout = "2006-01-02T15:04:05.000Z07:00"
