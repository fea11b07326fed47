package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

type Placement string

const (
	Header Placement = "header"
	Body   Placement = "body"
	Footer Placement = "footer"
)

func (p Placement) Valid() bool {
	switch p {
	case Header, Body, Footer:
		return true
	}
	return false
}

// Parameter is a typed template parameter. The set of implementations is
// closed: TextParameter and ImageParameter.
type Parameter interface {
	parameterType() string
}

type TextParameter struct {
	Text string
}

// ImageParameter references an uploaded media id or a public link.
type ImageParameter struct {
	MediaID string
	Link    string
}

func (TextParameter) parameterType() string  { return "text" }
func (ImageParameter) parameterType() string { return "image" }

// Component is one placement of a template together with its parameters.
// Image parameters are only valid on the header.
type Component struct {
	Placement  Placement
	Parameters []Parameter
}

func (c Component) Validate() error {
	if !c.Placement.Valid() {
		return fmt.Errorf("invalid component placement %q", c.Placement)
	}
	for i, p := range c.Parameters {
		switch v := p.(type) {
		case TextParameter:
		case ImageParameter:
			if c.Placement != Header {
				return fmt.Errorf("%s parameter %d: image is only allowed in the header", c.Placement, i)
			}
			if v.MediaID == "" && v.Link == "" {
				return fmt.Errorf("%s parameter %d: image needs a media id or link", c.Placement, i)
			}
		default:
			return fmt.Errorf("%s parameter %d: unsupported parameter %T", c.Placement, i, p)
		}
	}
	return nil
}

// HasImage reports whether any parameter of c is an image.
func (c Component) HasImage() bool {
	for _, p := range c.Parameters {
		if _, ok := p.(ImageParameter); ok {
			return true
		}
	}
	return false
}

type wireImage struct {
	ID   string `json:"id,omitempty"`
	Link string `json:"link,omitempty"`
}

type wireParameter struct {
	Type  string     `json:"type"`
	Text  string     `json:"text,omitempty"`
	Image *wireImage `json:"image,omitempty"`
}

type wireComponent struct {
	Type       Placement       `json:"type"`
	Parameters []wireParameter `json:"parameters"`
}

// MarshalJSON encodes c in the provider's component shape, which is also the
// shape persisted in the queue.
func (c Component) MarshalJSON() ([]byte, error) {
	wc := wireComponent{Type: c.Placement, Parameters: make([]wireParameter, 0, len(c.Parameters))}
	for _, p := range c.Parameters {
		switch v := p.(type) {
		case TextParameter:
			wc.Parameters = append(wc.Parameters, wireParameter{Type: "text", Text: v.Text})
		case ImageParameter:
			wc.Parameters = append(wc.Parameters, wireParameter{Type: "image", Image: &wireImage{ID: v.MediaID, Link: v.Link}})
		default:
			return nil, fmt.Errorf("unsupported parameter %T", p)
		}
	}
	return json.Marshal(wc)
}

func (c *Component) UnmarshalJSON(b []byte) error {
	var wc wireComponent
	if err := json.Unmarshal(b, &wc); err != nil {
		return err
	}
	params := make([]Parameter, 0, len(wc.Parameters))
	for _, wp := range wc.Parameters {
		switch wp.Type {
		case "text":
			params = append(params, TextParameter{Text: wp.Text})
		case "image":
			if wp.Image == nil {
				return errors.New("image parameter without image object")
			}
			params = append(params, ImageParameter{MediaID: wp.Image.ID, Link: wp.Image.Link})
		default:
			return fmt.Errorf("unsupported parameter type %q", wp.Type)
		}
	}
	c.Placement = wc.Type
	c.Parameters = params
	return nil
}
