// AngelaMos | 2026
// dto.go

package billing

type CheckoutRequest struct {
	Tier  string `json:"tier"  validate:"required,min=1,max=64"`
	UID   string `json:"uid"   validate:"required,min=1,max=128"`
	Email string `json:"email" validate:"omitempty,email,max=255"`
}

type PortalRequest struct {
	UID   string `json:"uid"   validate:"required,min=1,max=128"`
	Email string `json:"email" validate:"omitempty,email,max=255"`
}

type SessionResponse struct {
	URL string `json:"url"`
	ID  string `json:"id"`
}

type WebhookResponse struct {
	Received bool `json:"received"`
}
