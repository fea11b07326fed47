// Package template turns queued messages into the provider's wire payload
// and expands campaign requests into per-recipient queue entries.
package template

import (
	"errors"
	"strings"

	"github.com/LeventeLantos/message-oven/internal/model"
	"github.com/LeventeLantos/message-oven/internal/suppression"
)

const (
	MessagingProduct = "whatsapp"
	TypeTemplate     = "template"
)

var ErrMissingMedia = errors.New("template has an image component but no media id was provided")

type Language struct {
	Code string `json:"code"`
}

type WireTemplate struct {
	Language   Language          `json:"language"`
	Name       string            `json:"name"`
	Components []model.Component `json:"components"`
}

// WireForm is the JSON body of a template send.
type WireForm struct {
	MessagingProduct string       `json:"messaging_product"`
	Type             string       `json:"type"`
	Template         WireTemplate `json:"template"`
	To               string       `json:"to"`
}

type Builder struct {
	countryPrefix string
}

func NewBuilder(countryPrefix string) *Builder {
	return &Builder{countryPrefix: countryPrefix}
}

// Build addresses the form to countryPrefix followed by the digits of the
// recipient number.
func (b *Builder) Build(m model.PendingMessage) WireForm {
	components := m.Components
	if components == nil {
		components = []model.Component{}
	}
	return WireForm{
		MessagingProduct: MessagingProduct,
		Type:             TypeTemplate,
		Template: WireTemplate{
			Language:   Language{Code: m.Language},
			Name:       m.Template,
			Components: components,
		},
		To: b.countryPrefix + suppression.Digits(m.Number),
	}
}

// BuildBatch emits one message per recipient. Only image-bearing template
// components are kept, each pointing at the shared mediaID so a campaign
// uploads its asset once.
func BuildBatch(desc model.TemplateDescriptor, recipients []string, mediaID string) ([]model.PendingMessage, error) {
	if desc.Name == "" {
		return nil, errors.New("template name is required")
	}
	if desc.Language == "" {
		return nil, errors.New("template language is required")
	}

	var components []model.Component
	for _, tc := range desc.Components {
		if !strings.EqualFold(tc.Format, "IMAGE") {
			continue
		}
		if mediaID == "" {
			return nil, ErrMissingMedia
		}
		components = append(components, model.Component{
			Placement:  model.Placement(strings.ToLower(tc.Type)),
			Parameters: []model.Parameter{model.ImageParameter{MediaID: mediaID}},
		})
	}

	out := make([]model.PendingMessage, 0, len(recipients))
	for _, number := range recipients {
		out = append(out, model.PendingMessage{
			Number:     number,
			Template:   desc.Name,
			Language:   desc.Language,
			Components: append([]model.Component(nil), components...),
		})
	}
	return out, nil
}
