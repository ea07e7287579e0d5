package proxy

import (
	"encoding/json"
	"fmt"
)

// chatResponse is a non-streaming chat-completions response, decoded just
// far enough to rewrite choice message content.
type chatResponse struct {
	fields  map[string]json.RawMessage
	choices []*responseChoice
}

type responseChoice struct {
	fields  map[string]json.RawMessage
	message map[string]json.RawMessage
	content string
	hasText bool
}

func parseResponse(body []byte) (*chatResponse, error) {
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("proxy: invalid response body: %w", err)
	}
	resp := &chatResponse{fields: fields}

	rawChoices, ok := fields["choices"]
	if !ok {
		return resp, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(rawChoices, &items); err != nil {
		return nil, fmt.Errorf("proxy: invalid choices array: %w", err)
	}

	for i, item := range items {
		choice := &responseChoice{fields: map[string]json.RawMessage{}}
		if err := json.Unmarshal(item, &choice.fields); err != nil {
			return nil, fmt.Errorf("proxy: choice %d: %w", i, err)
		}
		if rawMessage, ok := choice.fields["message"]; ok {
			choice.message = map[string]json.RawMessage{}
			if err := json.Unmarshal(rawMessage, &choice.message); err != nil {
				return nil, fmt.Errorf("proxy: choice %d message: %w", i, err)
			}
			if rawContent, ok := choice.message["content"]; ok && string(rawContent) != "null" {
				if err := json.Unmarshal(rawContent, &choice.content); err == nil {
					choice.hasText = true
				}
			}
		}
		resp.choices = append(resp.choices, choice)
	}
	return resp, nil
}

// rewriteContent applies fn to every textual choice content.
func (r *chatResponse) rewriteContent(fn func(string) string) {
	for _, choice := range r.choices {
		if choice.hasText {
			choice.content = fn(choice.content)
		}
	}
}

func (r *chatResponse) render() ([]byte, error) {
	if len(r.choices) == 0 {
		return json.Marshal(r.fields)
	}
	items := make([]json.RawMessage, len(r.choices))
	for i, choice := range r.choices {
		if choice.hasText {
			content, err := json.Marshal(choice.content)
			if err != nil {
				return nil, err
			}
			choice.message["content"] = content
			rawMessage, err := json.Marshal(choice.message)
			if err != nil {
				return nil, err
			}
			choice.fields["message"] = rawMessage
		}
		rendered, err := json.Marshal(choice.fields)
		if err != nil {
			return nil, err
		}
		items[i] = rendered
	}
	rawChoices, err := json.Marshal(items)
	if err != nil {
		return nil, err
	}
	r.fields["choices"] = rawChoices
	return json.Marshal(r.fields)
}

// streamChunk is one streamed chat-completions delta event.
type streamChunk struct {
	fields  map[string]json.RawMessage
	choices []*streamChoice
}

type streamChoice struct {
	fields  map[string]json.RawMessage
	delta   map[string]json.RawMessage
	index   int
	content string
	hasText bool
}

func parseStreamChunk(data []byte) (*streamChunk, error) {
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("proxy: invalid stream chunk: %w", err)
	}
	chunk := &streamChunk{fields: fields}

	rawChoices, ok := fields["choices"]
	if !ok {
		return chunk, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(rawChoices, &items); err != nil {
		return nil, fmt.Errorf("proxy: invalid stream choices: %w", err)
	}

	for i, item := range items {
		choice := &streamChoice{fields: map[string]json.RawMessage{}, index: i}
		if err := json.Unmarshal(item, &choice.fields); err != nil {
			return nil, fmt.Errorf("proxy: stream choice %d: %w", i, err)
		}
		if rawIndex, ok := choice.fields["index"]; ok {
			_ = json.Unmarshal(rawIndex, &choice.index)
		}
		if rawDelta, ok := choice.fields["delta"]; ok {
			choice.delta = map[string]json.RawMessage{}
			if err := json.Unmarshal(rawDelta, &choice.delta); err != nil {
				return nil, fmt.Errorf("proxy: stream choice %d delta: %w", i, err)
			}
			if rawContent, ok := choice.delta["content"]; ok && string(rawContent) != "null" {
				if err := json.Unmarshal(rawContent, &choice.content); err == nil {
					choice.hasText = true
				}
			}
		}
		chunk.choices = append(chunk.choices, choice)
	}
	return chunk, nil
}

func (c *streamChunk) render() ([]byte, error) {
	if len(c.choices) == 0 {
		return json.Marshal(c.fields)
	}
	items := make([]json.RawMessage, len(c.choices))
	for i, choice := range c.choices {
		if choice.hasText {
			content, err := json.Marshal(choice.content)
			if err != nil {
				return nil, err
			}
			choice.delta["content"] = content
			rawDelta, err := json.Marshal(choice.delta)
			if err != nil {
				return nil, err
			}
			choice.fields["delta"] = rawDelta
		}
		rendered, err := json.Marshal(choice.fields)
		if err != nil {
			return nil, err
		}
		items[i] = rendered
	}
	rawChoices, err := json.Marshal(items)
	if err != nil {
		return nil, err
	}
	c.fields["choices"] = rawChoices
	return json.Marshal(c.fields)
}

// flushChunk builds a synthetic trailing delta that carries text still held
// in a stream buffer when the upstream stream ends. Envelope fields are
// copied from the last real chunk so clients see a consistent event shape.
func flushChunk(template map[string]json.RawMessage, index int, text string) ([]byte, error) {
	fields := map[string]json.RawMessage{}
	for k, v := range template {
		if k == "choices" {
			continue
		}
		fields[k] = v
	}
	content, err := json.Marshal(text)
	if err != nil {
		return nil, err
	}
	delta, err := json.Marshal(map[string]json.RawMessage{"content": content})
	if err != nil {
		return nil, err
	}
	choice, err := json.Marshal(map[string]json.RawMessage{
		"index": json.RawMessage(fmt.Sprintf("%d", index)),
		"delta": delta,
	})
	if err != nil {
		return nil, err
	}
	choices, err := json.Marshal([]json.RawMessage{choice})
	if err != nil {
		return nil, err
	}
	fields["choices"] = choices
	return json.Marshal(fields)
}
