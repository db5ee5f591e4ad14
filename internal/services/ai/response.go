package ai

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNoText means no known response shape carried any text
var ErrNoText = errors.New("ai: response carries no text")

// textShape is a response with a direct text field
type textShape struct {
	Text string `json:"text"`
}

// candidateShape is the generateContent layout: candidates[0].content.parts[0].text
type candidateShape struct {
	Candidates []struct {
		Content *struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// DecodeText extracts the reply text from a raw response, trying in order
// a direct text field, the typed candidate layout, and a loose key-value
// walk of the same paths. It never fails on malformed input; it returns
// ErrNoText instead.
func DecodeText(raw []byte) (string, error) {
	if text, ok := decodeDirect(raw); ok {
		return text, nil
	}
	if text, ok := decodeCandidates(raw); ok {
		return text, nil
	}
	if text, ok := decodeLoose(raw); ok {
		return text, nil
	}
	return "", ErrNoText
}

func decodeDirect(raw []byte) (string, bool) {
	var shape textShape
	if err := json.Unmarshal(raw, &shape); err != nil {
		return "", false
	}
	text := strings.TrimSpace(shape.Text)
	return text, text != ""
}

func decodeCandidates(raw []byte) (string, bool) {
	var shape candidateShape
	if err := json.Unmarshal(raw, &shape); err != nil {
		return "", false
	}
	if len(shape.Candidates) == 0 || shape.Candidates[0].Content == nil {
		return "", false
	}
	parts := shape.Candidates[0].Content.Parts
	if len(parts) == 0 {
		return "", false
	}
	text := strings.TrimSpace(parts[0].Text)
	return text, text != ""
}

// decodeLoose walks an untyped map, accepting any scalar where the typed
// shapes expect a string.
func decodeLoose(raw []byte) (string, bool) {
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return "", false
	}

	if v, ok := m["text"]; ok && v != nil {
		return scalarText(v)
	}

	candidates, ok := m["candidates"].([]interface{})
	if !ok || len(candidates) == 0 {
		return "", false
	}
	candidate, ok := candidates[0].(map[string]interface{})
	if !ok {
		return "", false
	}
	content, ok := candidate["content"].(map[string]interface{})
	if !ok {
		return "", false
	}
	parts, ok := content["parts"].([]interface{})
	if !ok || len(parts) == 0 {
		return "", false
	}
	part, ok := parts[0].(map[string]interface{})
	if !ok {
		return "", false
	}
	v, ok := part["text"]
	if !ok || v == nil {
		return "", false
	}
	return scalarText(v)
}

func scalarText(v interface{}) (string, bool) {
	switch v.(type) {
	case map[string]interface{}, []interface{}:
		return "", false
	}
	text := strings.TrimSpace(fmt.Sprint(v))
	return text, text != ""
}
