package pattern

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	htmlTagPattern   = regexp.MustCompile(`<[^>]*>`)
	quotedPattern    = regexp.MustCompile(`(?m)^>.*$`)
	onWrotePattern   = regexp.MustCompile(`(?im)^on .* wrote:.*$`)
	sentFromPattern  = regexp.MustCompile(`(?im)^sent from my .*$`)
	blankRunPattern  = regexp.MustCompile(`\n{3,}`)
	inlineWsPattern  = regexp.MustCompile(`[ \t]+`)
	codeFencePattern = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*(.*?)\\s*```")
)

// CleanBody strips markup, quoted history and device signatures while keeping
// paragraph breaks intact for chunking.
func CleanBody(body string) string {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	body = htmlTagPattern.ReplaceAllString(body, "")
	body = quotedPattern.ReplaceAllString(body, "")
	body = onWrotePattern.ReplaceAllString(body, "")
	body = sentFromPattern.ReplaceAllString(body, "")
	body = inlineWsPattern.ReplaceAllString(body, " ")
	body = blankRunPattern.ReplaceAllString(body, "\n\n")
	return strings.TrimSpace(body)
}

const extractionSystemPrompt = `You analyse email exchanges and extract reusable reply patterns.

For every numbered item, return zero or more patterns. A pattern describes how the
user typically answers a kind of message.

pattern_type is one of: question-response, greeting-style, closing-style, scheduling, follow-up, acknowledgement.
context_category is one of: customer-inquiry, technical-support, general, sales, scheduling, internal.
response_template is the reply with specifics replaced by {placeholders}.
trigger_keywords are short lower-case words that signal the pattern applies.
confidence_score is between 0.0 and 1.0.

Respond only with JSON in this exact format:
{
  "patterns": [
    {
      "item": 1,
      "pattern_type": "question-response",
      "context_category": "customer-inquiry",
      "trigger_keywords": ["refund", "return"],
      "trigger_phrases": ["request a refund"],
      "response_template": "Hi {name}, your refund will be processed within {days} days.",
      "confidence_score": 0.8,
      "formality": "formal",
      "style_notes": "short, polite"
    }
  ]
}`

func buildExtractionPrompt(items []ExtractionItem, language string, bodyLimit int) string {
	var sb strings.Builder
	if language != "" && language != LangMixed {
		fmt.Fprintf(&sb, "Working language: %s. Write templates in this language.\n\n", language)
	}
	sb.WriteString("Items:\n\n")
	for i, item := range items {
		fmt.Fprintf(&sb, "[%d]\n", i+1)
		if item.Sender != "" {
			fmt.Fprintf(&sb, "From: %s\n", item.Sender)
		}
		fmt.Fprintf(&sb, "Subject: %s\n", item.Subject)
		if item.OwnReply {
			fmt.Fprintf(&sb, "Reply written by the user:\n%s\n\n", TruncateRunes(item.Body, bodyLimit))
			continue
		}
		fmt.Fprintf(&sb, "Received:\n%s\n", TruncateRunes(item.Body, bodyLimit))
		if item.Reply != "" {
			fmt.Fprintf(&sb, "User's reply:\n%s\n", TruncateRunes(item.Reply, bodyLimit))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// StripFences removes markdown code fences and any prose around a JSON payload.
func StripFences(text string) string {
	text = strings.TrimSpace(text)
	if m := codeFencePattern.FindStringSubmatch(text); m != nil {
		text = m[1]
	}
	text = strings.TrimSpace(text)

	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return text
	}
	closer := byte('}')
	if text[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(text, closer)
	if end < start {
		return text[start:]
	}
	return text[start : end+1]
}
