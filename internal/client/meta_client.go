package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/LeventeLantos/message-oven/internal/apperr"
	"github.com/LeventeLantos/message-oven/internal/model"
	"github.com/LeventeLantos/message-oven/internal/template"
)

const DefaultBaseURL = "https://graph.facebook.com/v19.0"

// MetaClient talks to the Graph messaging API on behalf of any account; the
// credentials travel with each call.
type MetaClient struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

// NewMetaClient builds a client whose requests are bounded by timeout and
// throttled to ratePerSec across all accounts. ratePerSec <= 0 disables
// throttling.
func NewMetaClient(baseURL string, timeout time.Duration, ratePerSec int) *MetaClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if ratePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec)
	}
	return &MetaClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		limiter: limiter,
	}
}

// ProviderError is a non-2xx answer from the provider. Body holds the raw
// payload.
type ProviderError struct {
	StatusCode int
	Body       []byte
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("unexpected status code: %d body=%q", e.StatusCode, string(e.Body))
}

// SendTemplate posts form to the account's phone number and returns the raw
// provider response.
func (c *MetaClient) SendTemplate(ctx context.Context, creds model.Credentials, form template.WireForm) (json.RawMessage, error) {
	const op = "send template"

	reqBody, err := json.Marshal(form)
	if err != nil {
		return nil, apperr.E(apperr.Validation, op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(creds.PhoneID, "messages"), bytes.NewReader(reqBody))
	if err != nil {
		return nil, apperr.E(apperr.Transport, op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := c.do(op, creds, req)
	if err != nil {
		return nil, err
	}
	return asRawJSON(body), nil
}

type uploadResponse struct {
	ID string `json:"id"`
}

// UploadMedia stores a file with the provider and returns its media id, which
// can then be referenced by image parameters.
func (c *MetaClient) UploadMedia(ctx context.Context, creds model.Credentials, filename, mimeType string, file io.Reader) (string, error) {
	const op = "upload media"

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("messaging_product", template.MessagingProduct)
	_ = mw.WriteField("type", mimeType)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", apperr.E(apperr.Validation, op, err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return "", apperr.E(apperr.Validation, op, err)
	}
	if err := mw.Close(); err != nil {
		return "", apperr.E(apperr.Validation, op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(creds.PhoneID, "media"), &buf)
	if err != nil {
		return "", apperr.E(apperr.Transport, op, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	body, err := c.do(op, creds, req)
	if err != nil {
		return "", err
	}

	var ur uploadResponse
	if err := json.Unmarshal(body, &ur); err != nil {
		return "", apperr.E(apperr.ExternalAPI, op, fmt.Errorf("failed to decode json: %w body=%q", err, string(body)))
	}
	if ur.ID == "" {
		return "", apperr.E(apperr.ExternalAPI, op, fmt.Errorf("missing id in response body=%q", string(body)))
	}
	return ur.ID, nil
}

// BusinessInfo returns the business account with its phone numbers.
func (c *MetaClient) BusinessInfo(ctx context.Context, creds model.Credentials) (json.RawMessage, error) {
	const op = "business info"

	body, err := c.get(ctx, op, creds, "id,name,phone_numbers")
	if err != nil {
		return nil, err
	}
	return asRawJSON(body), nil
}

type templatesResponse struct {
	MessageTemplates struct {
		Data []model.TemplateDescriptor `json:"data"`
	} `json:"message_templates"`
}

// Templates lists the approved message templates of the business account.
func (c *MetaClient) Templates(ctx context.Context, creds model.Credentials) ([]model.TemplateDescriptor, error) {
	const op = "list templates"

	body, err := c.get(ctx, op, creds, "id,name,message_templates")
	if err != nil {
		return nil, err
	}

	var tr templatesResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, apperr.E(apperr.ExternalAPI, op, fmt.Errorf("failed to decode json: %w body=%q", err, string(body)))
	}
	return tr.MessageTemplates.Data, nil
}

func (c *MetaClient) get(ctx context.Context, op string, creds model.Credentials, fields string) ([]byte, error) {
	u := c.endpoint(creds.BusinessID, "") + "?fields=" + url.QueryEscape(fields)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, apperr.E(apperr.Transport, op, err)
	}
	return c.do(op, creds, req)
}

func (c *MetaClient) endpoint(id, edge string) string {
	u := c.baseURL + "/" + url.PathEscape(id)
	if edge != "" {
		u += "/" + edge
	}
	return u
}

func (c *MetaClient) do(op string, creds model.Credentials, req *http.Request) ([]byte, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, apperr.E(apperr.Transport, op, err)
	}
	req.Header.Set("Authorization", "Bearer "+creds.Token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, apperr.E(apperr.Transport, op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.E(apperr.Transport, op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apperr.E(apperr.ExternalAPI, op, &ProviderError{StatusCode: resp.StatusCode, Body: body})
	}
	return body, nil
}

// ErrorPayload renders err as the JSON stored in a failure record: the
// provider's own body when there is one, otherwise {"error": message}.
func ErrorPayload(err error) json.RawMessage {
	var pe *ProviderError
	if errors.As(err, &pe) && json.Valid(pe.Body) && len(bytes.TrimSpace(pe.Body)) > 0 {
		return json.RawMessage(pe.Body)
	}
	b, _ := json.Marshal(map[string]string{"error": err.Error()})
	return b
}

func asRawJSON(body []byte) json.RawMessage {
	if json.Valid(body) && len(bytes.TrimSpace(body)) > 0 {
		return json.RawMessage(body)
	}
	b, _ := json.Marshal(string(body))
	return b
}
