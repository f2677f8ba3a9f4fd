// AngelaMos | 2026
// dto.go

package quota

type CourtesyRequest struct {
	Action string `json:"action" validate:"required,oneof=accept decline"`
}

type DecisionResponse struct {
	Allowed                bool   `json:"allowed"`
	RequiresCourtesyPrompt bool   `json:"requires_courtesy_prompt"`
	Unlimited              bool   `json:"unlimited"`
	Tier                   string `json:"tier"`
	ExchangesUsed          int    `json:"exchanges_used"`
	Remaining              *int   `json:"remaining"`
}

func ToDecisionResponse(d Decision) DecisionResponse {
	return DecisionResponse{
		Allowed:                d.Allowed,
		RequiresCourtesyPrompt: d.RequiresCourtesyPrompt,
		Unlimited:              d.Unlimited,
		Tier:                   string(d.Tier),
		ExchangesUsed:          d.ExchangesUsed,
		Remaining:              d.Remaining,
	}
}
