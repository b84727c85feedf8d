package draft

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"pattern_worker/core/domain"
	"pattern_worker/core/port/out"
	"pattern_worker/core/service/pattern"
	"pattern_worker/pkg/apperr"
)

const bodyPromptLimit = 2000

// GeneratorConfig tunes reply generation.
type GeneratorConfig struct {
	Temperature float64
	MaxTokens   int
}

func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{Temperature: 0.7, MaxTokens: 1024}
}

// Generator writes reply bodies through the oracle.
type Generator struct {
	oracle out.Oracle
	cfg    GeneratorConfig
}

func NewGenerator(oracle out.Oracle, cfg GeneratorConfig) *Generator {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	return &Generator{oracle: oracle, cfg: cfg}
}

var errEmptyReply = errors.New("oracle returned an empty reply")

// FromPattern writes a reply grounded on a matched pattern, on the low-cost tier.
func (g *Generator) FromPattern(ctx context.Context, email domain.Email, match domain.PatternMatch) (string, error) {
	p := match.Pattern

	var style strings.Builder
	style.WriteString("Base the reply on this response template the user has used before:\n")
	style.WriteString(p.ResponseTemplate)
	style.WriteString("\n\nFill {placeholders} from the email when possible; otherwise rephrase around them.")
	if len(p.ExamplePairs) > 0 {
		ex := p.ExamplePairs[len(p.ExamplePairs)-1]
		fmt.Fprintf(&style, "\n\nExample exchange:\nQ: %s\nA: %s",
			pattern.TruncateRunes(ex.Question, 300), pattern.TruncateRunes(ex.Answer, 300))
	}
	if p.Metadata.Formality != "" {
		fmt.Fprintf(&style, "\n\nFormality: %s", p.Metadata.Formality)
	}
	if p.Metadata.Language != "" && p.Metadata.Language != pattern.LangMixed {
		fmt.Fprintf(&style, "\nWrite in language: %s", p.Metadata.Language)
	}

	return g.generate(ctx, "generate pattern draft", out.TierMini, replySystemPrompt(style.String()), email)
}

// Fallback writes a reply with no pattern grounding, on the standard tier.
func (g *Generator) Fallback(ctx context.Context, email domain.Email) (string, error) {
	style := "No previous reply of the user matches this email. Write a short, polite, professional reply."
	return g.generate(ctx, "generate fallback draft", out.TierStandard, replySystemPrompt(style), email)
}

func (g *Generator) generate(ctx context.Context, op string, tier out.ModelTier, system string, email domain.Email) (string, error) {
	userPrompt := fmt.Sprintf("Original email from %s:\nSubject: %s\n\n%s\n\nGenerate a reply:",
		email.From, email.Subject, pattern.TruncateRunes(pattern.CleanBody(email.Body), bodyPromptLimit))

	resp, err := g.oracle.Generate(ctx, out.OracleRequest{
		SystemPrompt: system,
		UserPrompt:   userPrompt,
		Tier:         tier,
		Temperature:  g.cfg.Temperature,
		MaxTokens:    g.cfg.MaxTokens,
	})
	if err != nil {
		return "", apperr.OracleFailure(op, err)
	}

	body := cleanReply(resp.Text)
	if body == "" {
		return "", apperr.OracleFailure(op, errEmptyReply)
	}
	return body, nil
}

func replySystemPrompt(style string) string {
	return fmt.Sprintf(`You are an email reply assistant. Generate a reply that matches the user's writing style.

%s

Write a natural, contextually appropriate reply. Do not include subject line or email headers.
Only output the reply body.`, style)
}

// cleanReply trims whitespace and a surrounding markdown fence, if any.
func cleanReply(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if i := strings.IndexByte(text, '\n'); i >= 0 {
			text = text[i+1:]
		}
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}
	return strings.TrimSpace(text)
}

// AcknowledgementBody is the deterministic reply used when generation fails.
func AcknowledgementBody(email domain.Email) string {
	var b strings.Builder
	b.WriteString("Hello,\n\nThank you for your email")
	if s := strings.TrimSpace(email.Subject); s != "" {
		fmt.Fprintf(&b, " regarding %q", s)
	}
	b.WriteString(". I have received your message and will get back to you as soon as possible.\n\nBest regards")
	return b.String()
}

// ReplySubject prefixes "Re: " unless the subject already carries it.
func ReplySubject(subject string) string {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "Re:"
	}
	if strings.HasPrefix(strings.ToLower(subject), "re:") {
		return subject
	}
	return "Re: " + subject
}
