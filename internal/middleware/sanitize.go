package middleware

import (
	"regexp"
	"strings"
)

// TruncationMarker is appended to messages cut at the length cap
const TruncationMarker = " [сокращено]"

// Role markers that could be used to impersonate turns in the flat prompt.
var roleMarkerPattern = regexp.MustCompile(`(?i)(system|assistant|role|user):`)

var lineBreakReplacer = strings.NewReplacer("\r", " ", "\n", " ")

// Sanitizer cleans user text before it reaches the prompt.
// It is a denylist strip, not a parser.
type Sanitizer struct {
	maxLen int
}

// NewSanitizer creates a sanitizer with the given cap in runes
func NewSanitizer(maxLen int) *Sanitizer {
	return &Sanitizer{maxLen: maxLen}
}

// Sanitize flattens line breaks, strips role markers, enforces the length
// cap and trims surrounding whitespace. Whitespace-only input yields "".
func (s *Sanitizer) Sanitize(text string) string {
	if text == "" {
		return ""
	}

	text = lineBreakReplacer.Replace(text)

	// Stripping can join fragments into a new marker ("ususer:er:"), so repeat until stable.
	for {
		cleaned := roleMarkerPattern.ReplaceAllString(text, "")
		if cleaned == text {
			break
		}
		text = cleaned
	}

	if s.maxLen > 0 {
		runes := []rune(text)
		if len(runes) > s.maxLen {
			text = string(runes[:s.maxLen]) + TruncationMarker
		}
	}

	return strings.TrimSpace(text)
}
