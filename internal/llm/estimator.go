package llm

import (
	"strings"
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// Estimator produces local token counts with tiktoken for responses
// that arrive without usage data. Counts are approximate: they ignore
// per-message chat framing overhead.
type Estimator struct {
	model string

	once  sync.Once
	codec tokenizer.Codec
}

func NewEstimator(model string) *Estimator {
	return &Estimator{model: model}
}

func (e *Estimator) init() {
	codec, err := tokenizer.ForModel(tokenizer.Model(strings.ToLower(e.model)))
	if err != nil {
		// Unknown model, use the encoding shared by the gpt-4 family.
		codec, err = tokenizer.Get(tokenizer.Cl100kBase)
		if err != nil {
			return
		}
	}
	e.codec = codec
}

// Count returns the token count for text, or a 4-chars-per-token
// estimate when no tokenizer is available.
func (e *Estimator) Count(text string) int {
	e.once.Do(e.init)
	if e.codec == nil {
		return (len(text) + 3) / 4
	}
	ids, _, err := e.codec.Encode(text)
	if err != nil {
		return (len(text) + 3) / 4
	}
	return len(ids)
}
