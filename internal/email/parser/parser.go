// Package parser decodes raw RFC 822 bytes into the flat ParsedEmail form the
// classification engine consumes.
package parser

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"

	"github.com/DusanKasan/parsemail"
	"github.com/jhillyerd/enmime"

	"github.com/recibo/invoicer/internal/models"
)

// Parse decodes a raw message. enmime handles the vast majority of mail in
// the wild, including broken encodings; for the few envelopes it rejects
// outright, parsemail is attempted before giving up.
func Parse(raw []byte, logger *slog.Logger) (*models.ParsedEmail, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		logger.Debug("enmime parse failed, trying parsemail", "error", err)
		return parseFallback(raw, err)
	}

	parsed := &models.ParsedEmail{
		Subject:   env.GetHeader("Subject"),
		From:      env.GetHeader("From"),
		To:        env.GetHeader("To"),
		Date:      env.GetHeader("Date"),
		MessageID: strings.Trim(env.GetHeader("Message-Id"), "<>"),
		BodyText:  env.Text,
		BodyHTML:  env.HTML,
	}

	for _, part := range env.Attachments {
		parsed.Attachments = append(parsed.Attachments, toAttachment(part))
	}
	// Inline parts that carry a filename are attachments in all but
	// disposition; invoices frequently arrive that way.
	for _, part := range env.Inlines {
		if part.FileName == "" {
			continue
		}
		parsed.Attachments = append(parsed.Attachments, toAttachment(part))
	}

	return parsed, nil
}

func toAttachment(part *enmime.Part) models.Attachment {
	contentType := part.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return models.Attachment{
		Filename:    part.FileName,
		ContentType: contentType,
		Data:        part.Content,
	}
}

func parseFallback(raw []byte, enmimeErr error) (*models.ParsedEmail, error) {
	msg, err := parsemail.Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", enmimeErr)
	}

	parsed := &models.ParsedEmail{
		Subject:   msg.Subject,
		MessageID: msg.MessageID,
		BodyText:  msg.TextBody,
		BodyHTML:  msg.HTMLBody,
	}
	if len(msg.From) > 0 {
		parsed.From = msg.From[0].String()
	}
	if len(msg.To) > 0 {
		parsed.To = msg.To[0].String()
	}
	if !msg.Date.IsZero() {
		parsed.Date = msg.Date.Format("Mon, 02 Jan 2006 15:04:05 -0700")
	}

	for _, a := range msg.Attachments {
		data := new(bytes.Buffer)
		if _, err := data.ReadFrom(a.Data); err != nil {
			continue
		}
		contentType := a.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		parsed.Attachments = append(parsed.Attachments, models.Attachment{
			Filename:    a.Filename,
			ContentType: contentType,
			Data:        data.Bytes(),
		})
	}

	return parsed, nil
}
