package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

type GreenAPIClient struct {
	baseURL    string
	instanceID string
	token      string
	client     *http.Client
}

func NewGreenAPIClient(baseURL, instanceID, token string, hc *http.Client) *GreenAPIClient {
	return &GreenAPIClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		instanceID: instanceID,
		token:      token,
		client:     hc,
	}
}

type greenRequest struct {
	ChatID  string `json:"chatId"`
	Message string `json:"message"`
}

type greenResponse struct {
	IDMessage string `json:"idMessage"`
}

// ChatID converts +972501234567 into 972501234567@c.us.
func ChatID(phone string) string {
	return strings.TrimPrefix(phone, "+") + "@c.us"
}

func (c *GreenAPIClient) Send(ctx context.Context, phone, message string) (string, error) {
	reqBody, err := json.Marshal(greenRequest{ChatID: ChatID(phone), Message: message})
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/waInstance%s/sendMessage/%s", c.baseURL, c.instanceID, c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := do(c.client, req, http.StatusOK)
	if err != nil {
		return "", fmt.Errorf("green api: %w", err)
	}

	var gr greenResponse
	if err := json.Unmarshal(body, &gr); err != nil {
		return "", fmt.Errorf("green api: failed to decode json: %w body=%q", err, string(body))
	}
	if gr.IDMessage == "" {
		return "", fmt.Errorf("green api: missing idMessage in response body=%q", string(body))
	}
	return gr.IDMessage, nil
}
