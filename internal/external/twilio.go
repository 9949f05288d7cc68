package external

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"smsdispatch/internal/types"
)

// TwilioClient sends SMS through the Twilio Messages REST resource.
type TwilioClient struct {
	base *BaseClient
}

// NewTwilioClient creates a TwilioClient on top of base.
func NewTwilioClient(base *BaseClient) *TwilioClient {
	return &TwilioClient{base: base}
}

type twilioResponse struct {
	SID     string `json:"sid"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func (c *TwilioClient) Provider() types.GatewayProvider { return types.ProviderTwilio }

// Send posts To/From/Body as a form to
// {endpoint}/2010-04-01/Accounts/{AccountID}/Messages.json with Basic auth.
func (c *TwilioClient) Send(ctx context.Context, gw *types.Gateway, msg types.OutboundSMS) (types.SendOutcome, error) {
	if err := requireConfig(gw,
		configField{"api_endpoint", gw.APIEndpoint},
		configField{"account_id", gw.AccountID},
		configField{"api_secret", gw.APISecret.Unmask()},
	); err != nil {
		return types.SendOutcome{}, err
	}

	endpoint := strings.TrimSuffix(gw.APIEndpoint, "/") +
		"/2010-04-01/Accounts/" + url.PathEscape(gw.AccountID) + "/Messages.json"

	form := url.Values{}
	form.Set("To", msg.To)
	form.Set("From", msg.From)
	form.Set("Body", msg.Body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return types.SendOutcome{}, wrapRequestError(types.ProviderTwilio, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(gw.AccountID, gw.APISecret.Unmask())

	resp, err := c.base.Do(req)
	if err != nil {
		return outcomeFromDoError(err, twilioReason)
	}
	defer resp.Body.Close()

	body := readBody(resp)
	if isSuccess(resp.StatusCode) {
		var parsed twilioResponse
		_ = json.Unmarshal(body, &parsed)
		return types.Accept(parsed.SID, resp.StatusCode), nil
	}
	if reason := twilioReason(body); reason != "" {
		return types.Reject(reason, resp.StatusCode), nil
	}
	return types.Reject(rawReason(body, resp.StatusCode), resp.StatusCode), nil
}

// twilioReason reads the top-level "message" of a Twilio error body.
func twilioReason(body []byte) string {
	var parsed twilioResponse
	if json.Unmarshal(body, &parsed) != nil {
		return ""
	}
	return parsed.Message
}

var _ SMSProvider = (*TwilioClient)(nil)
