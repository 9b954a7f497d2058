package conversation

// Exchange is one request/response cycle: the user (or tool-continuation)
// turn and everything the model produces in response. Items are append-only;
// only their own fields mutate per the transitions driven by the provider
// adapters and the tool registry.
type Exchange struct {
	Items     []Item
	Completed bool
}

// Append adds an item to the exchange. Items are never removed except by a
// full conversation restart truncating exchanges wholesale.
func (e *Exchange) Append(item Item) {
	e.Items = append(e.Items, item)
}

// GetLastItem scans items in reverse for the last one of the given kind,
// optionally filtered by status. status == "" matches any status.
// Grounded on original_source's Exchange.get_last_item reversed scan.
func (e *Exchange) GetLastItem(kind, status string) Item {
	for i := len(e.Items) - 1; i >= 0; i-- {
		item := e.Items[i]
		if item.Kind() != kind {
			continue
		}
		if status != "" && itemStatus(item) != status {
			continue
		}
		return item
	}
	return nil
}

// GetLastAssistantText returns the last AssistantText item with the given
// status (or any status if empty), scanning in reverse.
func (e *Exchange) GetLastAssistantText(status string) *AssistantText {
	for i := len(e.Items) - 1; i >= 0; i-- {
		at, ok := e.Items[i].(*AssistantText)
		if !ok {
			continue
		}
		if status != "" && at.Status != status {
			continue
		}
		return at
	}
	return nil
}

// GetLastReasoning returns the last AssistantReasoning item with the given
// status (or any status if empty), scanning in reverse.
func (e *Exchange) GetLastReasoning(status string) *AssistantReasoning {
	for i := len(e.Items) - 1; i >= 0; i-- {
		ar, ok := e.Items[i].(*AssistantReasoning)
		if !ok {
			continue
		}
		if status != "" && ar.Status != status {
			continue
		}
		return ar
	}
	return nil
}

// FunctionCallsByIndex returns every FunctionCall item whose Index matches
// the given index. More than one match signals caller-detectable corruption
// (spec §4.1.1: "finding more than one match for the same index is a fatal
// bug").
func (e *Exchange) FunctionCallsByIndex(index int) []*FunctionCall {
	var out []*FunctionCall
	for _, it := range e.Items {
		fc, ok := it.(*FunctionCall)
		if !ok || fc.Index == nil || *fc.Index != index {
			continue
		}
		out = append(out, fc)
	}
	return out
}

// FunctionCallByIndex returns the unique FunctionCall item at the given
// index, or nil if none exists.
func (e *Exchange) FunctionCallByIndex(index int) *FunctionCall {
	for _, it := range e.Items {
		fc, ok := it.(*FunctionCall)
		if ok && fc.Index != nil && *fc.Index == index {
			return fc
		}
	}
	return nil
}

// ItemByIndex returns the item carrying the given index, regardless of
// kind, scanning item-carried index fields (used by the messages adapter's
// content_block dispatch, which locates items purely by index).
func (e *Exchange) ItemByIndex(index int) Item {
	for _, it := range e.Items {
		switch v := it.(type) {
		case *AssistantText:
			if v.Index != nil && *v.Index == index {
				return v
			}
		case *AssistantReasoning:
			if v.Index != nil && *v.Index == index {
				return v
			}
		case *FunctionCall:
			if v.Index != nil && *v.Index == index {
				return v
			}
		}
	}
	return nil
}

func itemStatus(item Item) string {
	switch v := item.(type) {
	case *AssistantText:
		return v.Status
	case *AssistantReasoning:
		return v.Status
	case *FunctionCall:
		return v.Status
	default:
		return ""
	}
}
