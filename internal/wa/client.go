package wa

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultBaseURL = "https://graph.facebook.com/v19.0"

// maxMediaBytes bounds a single downloaded asset. The Cloud API caps image
// uploads at 5 MB; anything larger is not something we staged.
const maxMediaBytes = 10 << 20

// Client is the outbound side of the Cloud API: message sends and media
// retrieval. It implements pipeline.Notifier, session.Notifier, and
// media.Fetcher.
type Client struct {
	httpc         *http.Client
	baseURL       string
	accessToken   string
	phoneNumberID string
}

// NewClient creates a Cloud API client for the given business phone number.
func NewClient(accessToken, phoneNumberID string) *Client {
	return &Client{
		httpc:         &http.Client{Timeout: 30 * time.Second},
		baseURL:       defaultBaseURL,
		accessToken:   accessToken,
		phoneNumberID: phoneNumberID,
	}
}

// SendText sends a plain text message.
func (c *Client) SendText(ctx context.Context, to, body string) error {
	payload := outboundText{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "text",
		Text:             outboundBody{Body: body},
	}
	return c.postMessage(ctx, payload)
}

// SendConfirmation sends the interactive confirmation prompt with the fixed
// affirm / correct / cancel buttons.
func (c *Client) SendConfirmation(ctx context.Context, to, summary string) error {
	payload := outboundInteractive{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "interactive",
		Interactive: interactiveSend{
			Type: "button",
			Body: outboundBody{Body: summary},
			Action: interactiveAction{
				Buttons: []interactiveButton{
					{Type: "reply", Reply: buttonReply{ID: buttonConfirm, Title: "Confirm"}},
					{Type: "reply", Reply: buttonReply{ID: buttonPrice, Title: "Fix price"}},
					{Type: "reply", Reply: buttonReply{ID: buttonCancel, Title: "Cancel"}},
				},
			},
		},
	}
	return c.postMessage(ctx, payload)
}

func (c *Client) postMessage(ctx context.Context, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode message payload: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", c.baseURL, c.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build send request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("send message: status %d: %s", resp.StatusCode, detail)
	}
	return nil
}

// Fetch resolves a media id to its signed URL and downloads the asset.
func (c *Client) Fetch(ctx context.Context, mediaID string) ([]byte, string, error) {
	lookup, err := c.lookupMedia(ctx, mediaID)
	if err != nil {
		return nil, "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, lookup.URL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build media download request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download media %s: %w", mediaID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("download media %s: status %d", mediaID, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes))
	if err != nil {
		return nil, "", fmt.Errorf("read media %s: %w", mediaID, err)
	}

	mimeType := lookup.MimeType
	if mimeType == "" {
		mimeType = resp.Header.Get("Content-Type")
	}
	return data, mimeType, nil
}

func (c *Client) lookupMedia(ctx context.Context, mediaID string) (*mediaLookupResponse, error) {
	url := fmt.Sprintf("%s/%s", c.baseURL, mediaID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build media lookup request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("lookup media %s: %w", mediaID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("lookup media %s: status %d", mediaID, resp.StatusCode)
	}

	var lookup mediaLookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&lookup); err != nil {
		return nil, fmt.Errorf("decode media lookup: %w", err)
	}
	if lookup.URL == "" {
		return nil, fmt.Errorf("media lookup %s returned no URL", mediaID)
	}
	return &lookup, nil
}
