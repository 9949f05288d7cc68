package external

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"smsdispatch/internal/types"
)

// MessageBirdClient sends SMS through the MessageBird messages API.
type MessageBirdClient struct {
	base *BaseClient
}

// NewMessageBirdClient creates a MessageBirdClient on top of base.
func NewMessageBirdClient(base *BaseClient) *MessageBirdClient {
	return &MessageBirdClient{base: base}
}

type messageBirdRequest struct {
	Recipients []string `json:"recipients"`
	Originator string   `json:"originator"`
	Body       string   `json:"body"`
}

type messageBirdResponse struct {
	ID     string `json:"id"`
	Errors []struct {
		Code        int    `json:"code"`
		Description string `json:"description"`
	} `json:"errors"`
}

func (c *MessageBirdClient) Provider() types.GatewayProvider { return types.ProviderMessageBird }

// Send posts a JSON message to {endpoint}/messages using AccessKey auth.
func (c *MessageBirdClient) Send(ctx context.Context, gw *types.Gateway, msg types.OutboundSMS) (types.SendOutcome, error) {
	if err := requireConfig(gw,
		configField{"api_endpoint", gw.APIEndpoint},
		configField{"api_key", gw.APIKey.Unmask()},
	); err != nil {
		return types.SendOutcome{}, err
	}

	payload, err := json.Marshal(messageBirdRequest{
		Recipients: []string{msg.To},
		Originator: msg.From,
		Body:       msg.Body,
	})
	if err != nil {
		return types.SendOutcome{}, wrapRequestError(types.ProviderMessageBird, err)
	}

	endpoint := strings.TrimSuffix(gw.APIEndpoint, "/") + "/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return types.SendOutcome{}, wrapRequestError(types.ProviderMessageBird, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "AccessKey "+gw.APIKey.Unmask())

	resp, err := c.base.Do(req)
	if err != nil {
		return outcomeFromDoError(err, messageBirdReason)
	}
	defer resp.Body.Close()

	body := readBody(resp)
	if isSuccess(resp.StatusCode) {
		var parsed messageBirdResponse
		_ = json.Unmarshal(body, &parsed)
		return types.Accept(parsed.ID, resp.StatusCode), nil
	}
	if reason := messageBirdReason(body); reason != "" {
		return types.Reject(reason, resp.StatusCode), nil
	}
	return types.Reject(rawReason(body, resp.StatusCode), resp.StatusCode), nil
}

// messageBirdReason reads errors[0].description of a MessageBird error body.
func messageBirdReason(body []byte) string {
	var parsed messageBirdResponse
	if json.Unmarshal(body, &parsed) != nil || len(parsed.Errors) == 0 {
		return ""
	}
	return parsed.Errors[0].Description
}

var _ SMSProvider = (*MessageBirdClient)(nil)
