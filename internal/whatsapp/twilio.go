package whatsapp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

type TwilioClient struct {
	baseURL    string
	accountSID string
	authToken  string
	from       string
	client     *http.Client
}

func NewTwilioClient(baseURL, accountSID, authToken, from string, hc *http.Client) *TwilioClient {
	return &TwilioClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		accountSID: accountSID,
		authToken:  authToken,
		from:       from,
		client:     hc,
	}
}

type twilioResponse struct {
	SID string `json:"sid"`
}

func whatsappAddress(phone string) string {
	if strings.HasPrefix(phone, "whatsapp:") {
		return phone
	}
	return "whatsapp:" + phone
}

func (c *TwilioClient) Send(ctx context.Context, phone, message string) (string, error) {
	form := url.Values{}
	form.Set("To", whatsappAddress(phone))
	form.Set("From", whatsappAddress(c.from))
	form.Set("Body", message)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", c.baseURL, c.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.accountSID, c.authToken)

	body, err := do(c.client, req, http.StatusCreated)
	if err != nil {
		return "", fmt.Errorf("twilio: %w", err)
	}

	var tr twilioResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", fmt.Errorf("twilio: failed to decode json: %w body=%q", err, string(body))
	}
	if tr.SID == "" {
		return "", fmt.Errorf("twilio: missing sid in response body=%q", string(body))
	}
	return tr.SID, nil
}
