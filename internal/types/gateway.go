package types

// GatewayProvider identifies the upstream SMS/messaging provider behind a gateway.
type GatewayProvider string

const (
	ProviderTwilio      GatewayProvider = "twilio"
	ProviderMessageBird GatewayProvider = "messagebird"
	ProviderWhatsApp    GatewayProvider = "whatsapp"
)

// Valid reports whether p is one of the supported providers.
func (p GatewayProvider) Valid() bool {
	switch p {
	case ProviderTwilio, ProviderMessageBird, ProviderWhatsApp:
		return true
	}
	return false
}

// Gateway is a configured provider endpoint with its credentials.
// Gateways are read-only to the dispatch pipeline.
type Gateway struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Provider    GatewayProvider `json:"provider"`
	APIEndpoint string          `json:"api_endpoint"`
	AccountID   string          `json:"account_id,omitempty"`
	APIKey      SecretString    `json:"api_key"`
	APISecret   SecretString    `json:"api_secret,omitempty"`
	Active      bool            `json:"is_active"`
}

// SendOutcome is the result of a provider call that reached the provider.
// Accepted is true only for a 2xx response. Rejections carry a Reason.
type SendOutcome struct {
	Accepted          bool
	ProviderMessageID string
	Reason            string
	StatusCode        int
}

// Accept builds an accepted outcome.
func Accept(providerMessageID string, statusCode int) SendOutcome {
	return SendOutcome{Accepted: true, ProviderMessageID: providerMessageID, StatusCode: statusCode}
}

// Reject builds a rejected outcome.
func Reject(reason string, statusCode int) SendOutcome {
	return SendOutcome{Reason: reason, StatusCode: statusCode}
}
