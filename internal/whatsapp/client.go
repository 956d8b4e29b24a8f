// Package whatsapp is the messaging gateway adapter: templated sends for the
// visit conversation and plain text for technician notices.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"sitevisit_backend/platform/config"
	"sitevisit_backend/platform/logger"
	"sitevisit_backend/platform/phone"
)

// ErrNotConfigured is returned by a nil Client.
var ErrNotConfigured = errors.New("whatsapp gateway not configured")

// TemplateMessage is one templated send. Params are positional template
// parameters; Correlation is echoed back by the gateway in status callbacks
// and is otherwise opaque to it.
type TemplateMessage struct {
	Phone       string
	Template    string
	Language    string
	Params      []string
	Buttons     []string
	Correlation string
}

type Client struct {
	baseURL  string
	apiKey   string
	deviceID string
	language string
	region   string
	http     *http.Client
	log      *logger.Logger
}

type templateRequest struct {
	Phone       string   `json:"phone"`
	Template    string   `json:"template"`
	Language    string   `json:"language"`
	Params      []string `json:"params"`
	Buttons     []string `json:"buttons,omitempty"`
	Correlation string   `json:"correlation_id,omitempty"`
}

type textRequest struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

type sendResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Results struct {
		MessageID string `json:"message_id"`
	} `json:"results"`
}

// NewClient returns nil when no gateway URL is configured.
func NewClient(cfg config.WhatsAppConfig, region string, log *logger.Logger) *Client {
	if cfg.GetWhatsAppURL() == "" {
		return nil
	}

	timeout := cfg.GetWhatsAppSendTimeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	language := cfg.GetWhatsAppLanguage()
	if language == "" {
		language = "en"
	}

	return &Client{
		baseURL:  strings.TrimRight(cfg.GetWhatsAppURL(), "/"),
		apiKey:   cfg.GetWhatsAppKey(),
		deviceID: cfg.GetWhatsAppDeviceID(),
		language: language,
		region:   region,
		http:     &http.Client{Timeout: timeout},
		log:      log,
	}
}

// SendTemplate delivers a template message and returns the gateway's message id.
func (c *Client) SendTemplate(ctx context.Context, msg TemplateMessage) (string, error) {
	if c == nil {
		return "", ErrNotConfigured
	}
	if strings.TrimSpace(msg.Template) == "" {
		return "", errors.New("template name is required")
	}

	language := msg.Language
	if language == "" {
		language = c.language
	}
	params := msg.Params
	if params == nil {
		params = []string{}
	}

	payload := templateRequest{
		Phone:       phone.GatewayDigits(msg.Phone, c.region),
		Template:    msg.Template,
		Language:    language,
		Params:      params,
		Buttons:     msg.Buttons,
		Correlation: msg.Correlation,
	}

	resp, err := c.post(ctx, "/send/template", payload)
	if err != nil {
		return "", err
	}

	c.log.Debug("whatsapp template sent", "template", msg.Template, "correlation", msg.Correlation, "messageId", resp.Results.MessageID)
	return resp.Results.MessageID, nil
}

// SendMessage delivers a free-text message.
func (c *Client) SendMessage(ctx context.Context, phoneNumber string, message string) error {
	if c == nil {
		return ErrNotConfigured
	}

	payload := textRequest{
		Phone:   phone.GatewayDigits(phoneNumber, c.region),
		Message: message,
	}

	if _, err := c.post(ctx, "/send/message", payload); err != nil {
		return err
	}

	c.log.Debug("whatsapp text sent", "phone", payload.Phone)
	return nil
}

func (c *Client) post(ctx context.Context, path string, payload any) (*sendResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal whatsapp payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", formatAuthHeader(c.apiKey))
	}
	if c.deviceID != "" {
		req.Header.Set("X-Device-Id", c.deviceID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("whatsapp request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("whatsapp service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var out sendResponse
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("decode whatsapp response: %w", err)
		}
	}
	return &out, nil
}

func formatAuthHeader(apiKey string) string {
	if strings.HasPrefix(strings.ToLower(apiKey), "basic ") {
		return apiKey
	}

	encoded := base64.StdEncoding.EncodeToString([]byte(apiKey))
	return "Basic " + encoded
}
