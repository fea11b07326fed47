package service

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/LeventeLantos/message-oven/internal/apperr"
	"github.com/LeventeLantos/message-oven/internal/model"
	"github.com/LeventeLantos/message-oven/internal/template"
)

type MediaUploader interface {
	UploadMedia(ctx context.Context, creds model.Credentials, filename, mimeType string, file io.Reader) (string, error)
}

// Media is a file to upload once and reference from every campaign message.
type Media struct {
	Filename string
	MimeType string
	Body     io.Reader
}

type Campaigns struct {
	uploader MediaUploader
	log      *slog.Logger
}

func NewCampaigns(u MediaUploader, log *slog.Logger) *Campaigns {
	if log == nil {
		log = slog.Default()
	}
	return &Campaigns{uploader: u, log: log}
}

// Prepare uploads media (if any), expands desc for every recipient and
// appends the result to acc's queue. It returns the new queue length.
func (c *Campaigns) Prepare(ctx context.Context, acc *Account, desc model.TemplateDescriptor, recipients []string, media *Media) (int, error) {
	const op = "prepare campaign"
	if len(recipients) == 0 {
		return 0, apperr.E(apperr.Validation, op, errors.New("at least one recipient is required"))
	}

	var mediaID string
	if media != nil {
		id, err := c.uploader.UploadMedia(ctx, acc.Credentials(), media.Filename, media.MimeType, media.Body)
		if err != nil {
			return 0, err
		}
		mediaID = id
		c.log.Info("campaign media uploaded", "account_id", acc.ID(), "media_id", id)
	}

	msgs, err := template.BuildBatch(desc, recipients, mediaID)
	if err != nil {
		return 0, apperr.E(apperr.Validation, op, err)
	}

	n, err := acc.EnqueueBatch(ctx, msgs)
	if err != nil {
		return 0, err
	}
	c.log.Info("campaign queued", "account_id", acc.ID(), "template", desc.Name, "recipients", len(recipients), "queue", n)
	return n, nil
}
