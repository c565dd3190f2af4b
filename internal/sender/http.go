package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// HTTPSender posts one message to a messaging gateway:
//
//	POST {BaseURL}/instances/{channelInstanceID}/messages
//	{"to": "...", "text": "..."}
//
// 2xx with {"id": "..."} is a delivery; 4xx is a per-message failure; 5xx and
// network faults are transport errors.
type HTTPSender struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func NewHTTPSender(baseURL, token string) *HTTPSender {
	return &HTTPSender{BaseURL: strings.TrimRight(baseURL, "/"), Token: token, Client: &http.Client{}}
}

type gatewayRequest struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

type gatewayResponse struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

func (h *HTTPSender) Send(ctx context.Context, channelInstanceID, address, message string) (Result, error) {
	body, err := json.Marshal(gatewayRequest{To: address, Text: message})
	if err != nil {
		return Result{}, err
	}

	endpoint := fmt.Sprintf("%s/instances/%s/messages", h.BaseURL, url.PathEscape(channelInstanceID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if h.Token != "" {
		req.Header.Set("Authorization", "Bearer "+h.Token)
	}

	resp, err := h.Client.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var gr gatewayResponse
	_ = json.Unmarshal(raw, &gr)

	switch {
	case resp.StatusCode >= 500:
		return Result{}, fmt.Errorf("gateway returned %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		msg := gr.Error
		if msg == "" {
			msg = fmt.Sprintf("gateway rejected message with status %d", resp.StatusCode)
		}
		return Result{ErrorMessage: msg}, nil
	}
	return Result{Success: true, ExternalMessageID: gr.ID}, nil
}
