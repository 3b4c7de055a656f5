package adapter

import "llmbridge/internal/models"

// ModelPrice is the USD price per 1000 tokens for one model.
type ModelPrice struct {
	Prompt     float64
	Completion float64
}

// PriceTable maps model identifiers to their prices. Figures are
// illustrative estimates, not billing-grade.
type PriceTable map[string]ModelPrice

// Cost computes the estimated cost for the given usage. Models absent
// from the table cost exactly 0.
func (t PriceTable) Cost(usage models.Usage, model string) float64 {
	price, ok := t[model]
	if !ok {
		return 0
	}

	promptCost := float64(usage.PromptTokens) / 1000 * price.Prompt
	completionCost := float64(usage.CompletionTokens) / 1000 * price.Completion
	return promptCost + completionCost
}

// Models returns the table's model identifiers; adapters with static
// catalogues reuse their price table as the allow-list.
func (t PriceTable) Models() []string {
	ids := make([]string, 0, len(t))
	for id := range t {
		ids = append(ids, id)
	}
	return ids
}
