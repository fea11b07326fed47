package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/LeventeLantos/message-oven/internal/suppression"
)

// PendingMessage is one queued template send. Number is kept exactly as the
// caller supplied it; normalization happens at dispatch time.
type PendingMessage struct {
	Number     string      `json:"number"`
	Template   string      `json:"template"`
	Language   string      `json:"language"`
	Components []Component `json:"components"`
}

func (m PendingMessage) Validate() error {
	if suppression.Digits(m.Number) == "" {
		return errors.New("number must contain digits")
	}
	if m.Template == "" {
		return errors.New("template is required")
	}
	if m.Language == "" {
		return errors.New("language is required")
	}
	for _, c := range m.Components {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("component: %w", err)
		}
	}
	return nil
}

// DeliveryRecord is appended to the sent log with the raw provider response.
type DeliveryRecord struct {
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// FailureRecord is appended to the failed log with the raw provider error.
type FailureRecord struct {
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
	Number    string          `json:"number"`
}

type InboundMessage struct {
	ID        int64     `json:"id"`
	AccountID string    `json:"accountId"`
	Sender    string    `json:"sender"`
	Text      string    `json:"text"`
	Name      string    `json:"displayName"`
	Timestamp time.Time `json:"timestamp"`
}

// TemplateDescriptor is an approved template as listed by the provider.
type TemplateDescriptor struct {
	Name       string              `json:"name"`
	Language   string              `json:"language"`
	Components []TemplateComponent `json:"components"`
}

// TemplateComponent describes a template slot. Type is the provider's
// upper-case placement ("HEADER", "BODY", "FOOTER"); Format is set for
// headers ("TEXT", "IMAGE", ...).
type TemplateComponent struct {
	Type   string `json:"type"`
	Format string `json:"format,omitempty"`
	Text   string `json:"text,omitempty"`
}
