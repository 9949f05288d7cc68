package external

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"smsdispatch/internal/types"
)

// WhatsAppClient sends text messages through a WhatsApp Cloud API style
// endpoint. Gateway.AccountID holds the sending phone number id.
type WhatsAppClient struct {
	base *BaseClient
}

// NewWhatsAppClient creates a WhatsAppClient on top of base.
func NewWhatsAppClient(base *BaseClient) *WhatsAppClient {
	return &WhatsAppClient{base: base}
}

type whatsAppText struct {
	Body string `json:"body"`
}

type whatsAppRequest struct {
	MessagingProduct string       `json:"messaging_product"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Text             whatsAppText `json:"text"`
}

type whatsAppResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func (c *WhatsAppClient) Provider() types.GatewayProvider { return types.ProviderWhatsApp }

func (c *WhatsAppClient) Send(ctx context.Context, gw *types.Gateway, msg types.OutboundSMS) (types.SendOutcome, error) {
	if err := requireConfig(gw,
		configField{"api_endpoint", gw.APIEndpoint},
		configField{"account_id", gw.AccountID},
		configField{"api_key", gw.APIKey.Unmask()},
	); err != nil {
		return types.SendOutcome{}, err
	}

	payload, err := json.Marshal(whatsAppRequest{
		MessagingProduct: "whatsapp",
		To:               msg.To,
		Type:             "text",
		Text:             whatsAppText{Body: msg.Body},
	})
	if err != nil {
		return types.SendOutcome{}, wrapRequestError(types.ProviderWhatsApp, err)
	}

	endpoint := strings.TrimSuffix(gw.APIEndpoint, "/") + "/" + url.PathEscape(gw.AccountID) + "/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return types.SendOutcome{}, wrapRequestError(types.ProviderWhatsApp, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+gw.APIKey.Unmask())

	resp, err := c.base.Do(req)
	if err != nil {
		return outcomeFromDoError(err, whatsAppReason)
	}
	defer resp.Body.Close()

	body := readBody(resp)
	if isSuccess(resp.StatusCode) {
		var parsed whatsAppResponse
		_ = json.Unmarshal(body, &parsed)
		var id string
		if len(parsed.Messages) > 0 {
			id = parsed.Messages[0].ID
		}
		return types.Accept(id, resp.StatusCode), nil
	}
	if reason := whatsAppReason(body); reason != "" {
		return types.Reject(reason, resp.StatusCode), nil
	}
	return types.Reject(rawReason(body, resp.StatusCode), resp.StatusCode), nil
}

// whatsAppReason reads error.message of a Cloud API error body.
func whatsAppReason(body []byte) string {
	var parsed whatsAppResponse
	if json.Unmarshal(body, &parsed) != nil || parsed.Error == nil {
		return ""
	}
	return parsed.Error.Message
}

var _ SMSProvider = (*WhatsAppClient)(nil)
