package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
)

const DefaultGraphURL = "https://graph.facebook.com/v17.0"

// TokenSource resolves the access token for a page. The page directory
// service implements it.
type TokenSource interface {
	PageAccessToken(ctx context.Context, pageID string) (string, error)
}

// Client performs outbound calls against the messaging platform's Graph-style
// HTTP API: sending messages and fetching customer profiles.
type Client struct {
	httpClient *http.Client
	baseURL    string
	tokens     TokenSource
	log        zerolog.Logger
}

func NewClient(baseURL string, tokens TokenSource, log zerolog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultGraphURL
	}
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    baseURL,
		tokens:     tokens,
		log:        log,
	}
}

type sendRequest struct {
	MessagingType string          `json:"messaging_type"`
	Tag           string          `json:"tag,omitempty"`
	Recipient     Participant     `json:"recipient"`
	Message       sendMessageBody `json:"message"`
}

type sendMessageBody struct {
	Text string `json:"text"`
}

type sendResponse struct {
	RecipientID string         `json:"recipient_id"`
	MessageID   string         `json:"message_id"`
	Error       *platformError `json:"error,omitempty"`
}

type platformError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
}

// SendText delivers a text message to the customer and returns the
// platform-assigned message id. A non-empty tag switches the messaging type
// to MESSAGE_TAG for sends outside the messaging window.
func (c *Client) SendText(ctx context.Context, pageID, customerID, text, tag string) (string, error) {
	token, err := c.tokens.PageAccessToken(ctx, pageID)
	if err != nil {
		return "", fmt.Errorf("resolve page token: %w", err)
	}

	payload := sendRequest{
		MessagingType: "RESPONSE",
		Recipient:     Participant{ID: customerID},
		Message:       sendMessageBody{Text: text},
	}
	if tag != "" {
		payload.MessagingType = "MESSAGE_TAG"
		payload.Tag = tag
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal send request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s/messages?access_token=%s", c.baseURL, pageID, url.QueryEscape(token))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read send response: %w", err)
	}

	var parsed sendResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decode send response (status %d): %w", res.StatusCode, err)
	}

	if res.StatusCode >= 400 || parsed.Error != nil {
		rejection := &RejectionError{StatusCode: res.StatusCode}
		if parsed.Error != nil {
			rejection.Code = parsed.Error.Code
			rejection.Type = parsed.Error.Type
			rejection.Reason = parsed.Error.Message
		}
		c.log.Warn().
			Str("pageId", pageID).
			Int("status", res.StatusCode).
			Str("reason", rejection.Reason).
			Msg("platform rejected outbound send")
		return "", rejection
	}

	return parsed.MessageID, nil
}

// Profile is the subset of the customer profile the inbox displays.
type Profile struct {
	Name      string
	AvatarURL string
}

type profileResponse struct {
	FirstName  string         `json:"first_name"`
	LastName   string         `json:"last_name"`
	ProfilePic string         `json:"profile_pic"`
	Error      *platformError `json:"error,omitempty"`
}

// FetchProfile looks up the customer's display name and avatar. Callers
// treat failures as non-fatal; the conversation simply keeps an empty name.
func (c *Client) FetchProfile(ctx context.Context, pageID, customerID string) (Profile, error) {
	token, err := c.tokens.PageAccessToken(ctx, pageID)
	if err != nil {
		return Profile{}, fmt.Errorf("resolve page token: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s?fields=first_name,last_name,profile_pic&access_token=%s",
		c.baseURL, customerID, url.QueryEscape(token))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Profile{}, fmt.Errorf("build profile request: %w", err)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return Profile{}, fmt.Errorf("fetch profile: %w", err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return Profile{}, fmt.Errorf("read profile response: %w", err)
	}

	var parsed profileResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Profile{}, fmt.Errorf("decode profile response: %w", err)
	}
	if res.StatusCode >= 400 || parsed.Error != nil {
		return Profile{}, fmt.Errorf("profile lookup failed with status %d", res.StatusCode)
	}

	name := parsed.FirstName
	if parsed.LastName != "" {
		if name != "" {
			name += " "
		}
		name += parsed.LastName
	}

	return Profile{Name: name, AvatarURL: parsed.ProfilePic}, nil
}
