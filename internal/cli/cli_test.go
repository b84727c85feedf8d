package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"pattern_worker/core/domain"
	"pattern_worker/core/port/out"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

func writeFile(t *testing.T, dir, name string, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func refundPattern(keywords []string, template string) domain.Pattern {
	return domain.Pattern{
		ID:               uuid.New(),
		PatternType:      domain.PatternQuestionResponse,
		ContextCategory:  domain.CategoryCustomerInquiry,
		TriggerKeywords:  keywords,
		ResponseTemplate: template,
		ConfidenceScore:  0.9,
		SuccessRate:      0.8,
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"learn", "match", "similarity"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			if err != nil || sub == nil || sub.Name() != name {
				t.Fatalf("Find(%q) = %v, %v", name, sub, err)
			}
		})
	}
}

func TestInvalidFormat(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.json", refundPattern([]string{"refund"}, "ok"))
	if _, err := execute(t, "similarity", a, a, "--format", "yaml"); err == nil {
		t.Error("expected an error for an unknown format")
	}
}

func TestMatchCommand(t *testing.T) {
	dir := t.TempDir()
	email := writeFile(t, dir, "email.json", domain.Email{
		From:    "buyer@shop.example",
		Subject: "Refund",
		Body:    "I want to return my order and get a refund.",
	})
	strong := refundPattern([]string{"refund", "return"}, "Your refund is on its way.")
	weak := refundPattern([]string{"invoice"}, "Invoice attached.")
	weak.ConfidenceScore = 0.1
	weak.SuccessRate = 0
	patterns := writeFile(t, dir, "patterns.json", []domain.Pattern{weak, strong})

	got, err := execute(t, "match", "--email", email, "--patterns", patterns, "--format", "json")
	if err != nil {
		t.Fatalf("match error = %v, output %s", err, got)
	}

	var matches []domain.PatternMatch
	if err := json.Unmarshal([]byte(got), &matches); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, got)
	}
	if len(matches) != 1 {
		t.Fatalf("len(matches) = %d, want 1", len(matches))
	}
	if matches[0].Pattern.ID != strong.ID {
		t.Errorf("best match = %s, want %s", matches[0].Pattern.ID, strong.ID)
	}
}

func TestMatchRequiresFlags(t *testing.T) {
	if _, err := execute(t, "match"); err == nil {
		t.Error("expected an error without --email and --patterns")
	}
}

func TestSimilarityCommand(t *testing.T) {
	dir := t.TempDir()
	a := refundPattern([]string{"refund", "return"}, "Your refund is on its way.")
	b := refundPattern([]string{"Refund", "return"}, "Your refund is on its way.")
	other := refundPattern([]string{"refund", "return"}, "Your refund is on its way.")
	other.PatternType = domain.PatternClosingStyle

	tests := []struct {
		name          string
		b             domain.Pattern
		wantMergeable bool
		wantSameKind  bool
	}{
		{"identical content", b, true, true},
		{"different type", other, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pa := writeFile(t, dir, "a.json", a)
			pb := writeFile(t, dir, "b.json", tt.b)
			got, err := execute(t, "similarity", pa, pb, "--format", "json")
			if err != nil {
				t.Fatalf("similarity error = %v", err)
			}
			var res SimilarityResult
			if err := json.Unmarshal([]byte(got), &res); err != nil {
				t.Fatalf("output is not JSON: %v\n%s", err, got)
			}
			if res.Mergeable != tt.wantMergeable || res.SameKind != tt.wantSameKind {
				t.Errorf("result = %+v", res)
			}
		})
	}
}

func TestSimilarityTextOutput(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.json", refundPattern([]string{"refund"}, "Refund sent."))
	got, err := execute(t, "similarity", a, a)
	if err != nil {
		t.Fatalf("similarity error = %v", err)
	}
	if !strings.Contains(got, "similarity: 1.000") {
		t.Errorf("output = %q", got)
	}
}

type cannedOracle struct{ text string }

func (o cannedOracle) Generate(context.Context, out.OracleRequest) (*out.OracleResponse, error) {
	return &out.OracleResponse{Text: o.text, TokensUsed: 10}, nil
}

func TestLearnWithInMemoryStore(t *testing.T) {
	t.Setenv("LEARNING_PROFILE", "")
	dir := t.TempDir()
	userID := uuid.New()
	pairs := writeFile(t, dir, "pairs.json", []domain.EmailPair{{
		Received: domain.Email{
			ID:      "m1",
			From:    "buyer@shop.example",
			Subject: "Refund",
			Body:    "Hello, I would like to return the shoes I bought last week and get a refund please.",
		},
		Response: &domain.Email{
			ID:         "m2",
			IsFromUser: true,
			Body:       "Hi, your refund has been issued and should arrive within five business days.",
		},
	}})

	opts := &LearnOptions{
		RootOptions: &RootOptions{Format: "json"},
		Oracle: cannedOracle{text: `{"patterns":[{"item":1,"pattern_type":"question-response",` +
			`"context_category":"customer-inquiry","trigger_keywords":["refund","return"],` +
			`"response_template":"Hi {name}, your refund has been issued.","confidence_score":0.85}]}`},
	}
	cmd := newLearnCommand(opts)
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{"--pairs", pairs, "--user", userID.String()})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("learn error = %v", err)
	}

	var res LearnOutput
	if err := json.Unmarshal(buf.Bytes(), &res); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}
	if res.UserID != userID {
		t.Errorf("UserID = %s, want %s", res.UserID, userID)
	}
	if res.Report.Inserted != 1 || len(res.Patterns) != 1 {
		t.Fatalf("report = %+v, patterns = %d", res.Report, len(res.Patterns))
	}
	if res.Patterns[0].UserID != userID {
		t.Errorf("pattern user = %s", res.Patterns[0].UserID)
	}
}

func TestResolveUser(t *testing.T) {
	fromPairs := uuid.New()
	tests := []struct {
		name    string
		flag    string
		pairs   []domain.EmailPair
		want    uuid.UUID
		wantErr bool
	}{
		{"flag wins", fromPairs.String(), nil, fromPairs, false},
		{"invalid flag", "nope", nil, uuid.Nil, true},
		{"from pairs", "", []domain.EmailPair{{}, {Received: domain.Email{UserID: fromPairs}}}, fromPairs, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveUser(tt.flag, tt.pairs)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}
