package proxy

import (
	"encoding/json"
	"fmt"

	"github.com/veilproxy/veilproxy/pkg/mask"
)

// chatRequest is a chat-completions request body decoded just far enough to
// mask it. Every field other than messages and stream is preserved verbatim
// so the proxy stays transparent to API evolution.
type chatRequest struct {
	fields   map[string]json.RawMessage
	messages []*chatMessage
	stream   bool
}

// chatMessage keeps the original message object plus a parsed view of its
// content, which is either a plain string or an array of typed parts.
type chatMessage struct {
	fields    map[string]json.RawMessage
	parts     []contentPart
	wasString bool
}

// contentPart is one element of an array-valued content field. Non-text
// parts (images, audio, tool payloads) pass through opaque.
type contentPart struct {
	fields map[string]json.RawMessage
	text   string
	isText bool
}

func parseRequest(body []byte) (*chatRequest, error) {
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("proxy: invalid request body: %w", err)
	}

	req := &chatRequest{fields: fields}

	if raw, ok := fields["stream"]; ok {
		if err := json.Unmarshal(raw, &req.stream); err != nil {
			return nil, fmt.Errorf("proxy: invalid stream flag: %w", err)
		}
	}

	rawMessages, ok := fields["messages"]
	if !ok {
		return nil, fmt.Errorf("proxy: request has no messages")
	}
	var items []json.RawMessage
	if err := json.Unmarshal(rawMessages, &items); err != nil {
		return nil, fmt.Errorf("proxy: invalid messages array: %w", err)
	}

	for i, item := range items {
		msg, err := parseMessage(item)
		if err != nil {
			return nil, fmt.Errorf("proxy: message %d: %w", i, err)
		}
		req.messages = append(req.messages, msg)
	}
	return req, nil
}

func parseMessage(raw json.RawMessage) (*chatMessage, error) {
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	msg := &chatMessage{fields: fields}

	content, ok := fields["content"]
	if !ok || string(content) == "null" {
		return msg, nil
	}

	var text string
	if err := json.Unmarshal(content, &text); err == nil {
		msg.wasString = true
		msg.parts = []contentPart{{text: text, isText: true}}
		return msg, nil
	}

	var rawParts []json.RawMessage
	if err := json.Unmarshal(content, &rawParts); err != nil {
		return nil, fmt.Errorf("content is neither string nor array")
	}
	for _, rawPart := range rawParts {
		partFields := map[string]json.RawMessage{}
		if err := json.Unmarshal(rawPart, &partFields); err != nil {
			return nil, fmt.Errorf("invalid content part: %w", err)
		}
		part := contentPart{fields: partFields}
		var partType string
		if raw, ok := partFields["type"]; ok {
			_ = json.Unmarshal(raw, &partType)
		}
		if partType == "text" {
			if err := json.Unmarshal(partFields["text"], &part.text); err != nil {
				return nil, fmt.Errorf("text part without text field")
			}
			part.isText = true
		}
		msg.parts = append(msg.parts, part)
	}
	return msg, nil
}

// maskViews converts the messages to the engine's segment model.
func (r *chatRequest) maskViews() []mask.Message {
	views := make([]mask.Message, len(r.messages))
	for i, msg := range r.messages {
		parts := make([]mask.Part, len(msg.parts))
		for p, part := range msg.parts {
			parts[p] = mask.Part{Text: part.text, Opaque: !part.isText}
		}
		views[i] = mask.Message{Parts: parts}
	}
	return views
}

// applyMasked writes masked text back into the parsed messages. The slice
// must come from maskViews of this request.
func (r *chatRequest) applyMasked(masked []mask.Message) error {
	if len(masked) != len(r.messages) {
		return fmt.Errorf("proxy: masked %d messages, expected %d", len(masked), len(r.messages))
	}
	for i, msg := range r.messages {
		if len(masked[i].Parts) != len(msg.parts) {
			return fmt.Errorf("proxy: message %d part count changed", i)
		}
		for p := range msg.parts {
			if msg.parts[p].isText {
				msg.parts[p].text = masked[i].Parts[p].Text
			}
		}
	}
	return nil
}

// render reassembles the request body with masked content in place.
func (r *chatRequest) render() ([]byte, error) {
	items := make([]json.RawMessage, len(r.messages))
	for i, msg := range r.messages {
		rendered, err := msg.render()
		if err != nil {
			return nil, fmt.Errorf("proxy: render message %d: %w", i, err)
		}
		items[i] = rendered
	}
	rawMessages, err := json.Marshal(items)
	if err != nil {
		return nil, err
	}
	r.fields["messages"] = rawMessages
	return json.Marshal(r.fields)
}

func (m *chatMessage) render() (json.RawMessage, error) {
	if len(m.parts) == 0 {
		return json.Marshal(m.fields)
	}

	if m.wasString {
		content, err := json.Marshal(m.parts[0].text)
		if err != nil {
			return nil, err
		}
		m.fields["content"] = content
		return json.Marshal(m.fields)
	}

	rawParts := make([]json.RawMessage, len(m.parts))
	for i, part := range m.parts {
		if part.isText {
			text, err := json.Marshal(part.text)
			if err != nil {
				return nil, err
			}
			part.fields["text"] = text
		}
		rendered, err := json.Marshal(part.fields)
		if err != nil {
			return nil, err
		}
		rawParts[i] = rendered
	}
	content, err := json.Marshal(rawParts)
	if err != nil {
		return nil, err
	}
	m.fields["content"] = content
	return json.Marshal(m.fields)
}
