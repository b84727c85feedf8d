package out

import "context"

// ModelTier selects a cost/quality class of language model.
type ModelTier string

const (
	// TierMini is the low-cost tier used for extraction and pattern-grounded drafts.
	TierMini ModelTier = "mini"
	// TierStandard is the higher-cost tier used for ungrounded fallback drafts.
	TierStandard ModelTier = "standard"
)

// OracleRequest is one text-generation call.
type OracleRequest struct {
	SystemPrompt string
	UserPrompt   string
	Tier         ModelTier
	Temperature  float64
	MaxTokens    int
	// JSON asks the model for a JSON object response.
	JSON bool
}

// OracleResponse carries the raw text; callers must strip fences before decoding.
type OracleResponse struct {
	Text       string
	TokensUsed int
	Model      string
}

// Oracle is the language-model capability. Implementations bound every call with a timeout.
type Oracle interface {
	Generate(ctx context.Context, req OracleRequest) (*OracleResponse, error)
}
