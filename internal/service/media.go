package service

import (
	"context"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/monsc/zouxianba-api/internal/dto"
	"github.com/monsc/zouxianba-api/internal/models"
)

// MediaResolver turns a stored asset reference into a delivery URL.
type MediaResolver interface {
	ResolveURL(ctx context.Context, publicID, resourceType string) (string, error)
}

func resourceTypeFor(mime string) string {
	switch {
	case strings.HasPrefix(mime, "image/"):
		return "image"
	case strings.HasPrefix(mime, "video/"), strings.HasPrefix(mime, "audio/"):
		return "video"
	default:
		return "raw"
	}
}

// resolveAttachments validates declared MIME types and fills in URLs for references.
func resolveAttachments(ctx context.Context, resolver MediaResolver, inputs []dto.AttachmentInput) ([]models.Attachment, error) {
	attachments := make([]models.Attachment, 0, len(inputs))
	for _, input := range inputs {
		mime := strings.ToLower(strings.TrimSpace(input.MimeType))
		known := mimetype.Lookup(mime)
		if known == nil {
			return nil, ErrUnsupportedAttachment
		}

		url := strings.TrimSpace(input.URL)
		publicID := strings.TrimSpace(input.PublicID)
		if url == "" {
			if publicID == "" || resolver == nil {
				return nil, ErrAttachmentURLRequired
			}
			resolved, err := resolver.ResolveURL(ctx, publicID, resourceTypeFor(mime))
			if err != nil || resolved == "" {
				return nil, ErrAttachmentURLRequired
			}
			url = resolved
		}

		attachments = append(attachments, models.Attachment{
			URL:       url,
			PublicID:  publicID,
			MimeType:  known.String(),
			Extension: known.Extension(),
			Name:      strings.TrimSpace(input.Name),
			Size:      input.Size,
		})
	}
	return attachments, nil
}

// resolveRecordingURL prefers an explicit URL and falls back to resolving the public id.
func resolveRecordingURL(ctx context.Context, resolver MediaResolver, url, publicID string) string {
	url = strings.TrimSpace(url)
	if url != "" || resolver == nil || strings.TrimSpace(publicID) == "" {
		return url
	}
	resolved, err := resolver.ResolveURL(ctx, strings.TrimSpace(publicID), "video")
	if err != nil {
		return ""
	}
	return resolved
}
