package cloudinary

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/asset"
	"github.com/rs/zerolog"
)

// Config contains credentials required to talk to Cloudinary.
type Config struct {
	CloudName string
	APIKey    string
	APISecret string
	Folder    string
}

// Service resolves stored media references into delivery URLs.
type Service struct {
	client *cloudinary.Cloudinary
	folder string
	logger zerolog.Logger
}

// New constructs a Cloudinary service instance.
func New(cfg Config, logger zerolog.Logger) (*Service, error) {
	if cfg.CloudName == "" || cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, fmt.Errorf("cloudinary credentials must be provided")
	}

	cld, err := cloudinary.NewFromParams(cfg.CloudName, cfg.APIKey, cfg.APISecret)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cloudinary: %w", err)
	}
	cld.Config.URL.Secure = true

	return &Service{
		client: cld,
		folder: strings.Trim(cfg.Folder, "/"),
		logger: logger.With().Str("component", "cloudinary").Logger(),
	}, nil
}

// ResolveURL builds the secure delivery URL of an uploaded asset. Public ids without a folder
// are looked up under the configured folder. resourceType is image, video or raw.
func (s *Service) ResolveURL(_ context.Context, publicID, resourceType string) (string, error) {
	publicID = strings.Trim(strings.TrimSpace(publicID), "/")
	if publicID == "" {
		return "", fmt.Errorf("public id required")
	}
	if s.folder != "" && !strings.Contains(publicID, "/") {
		publicID = s.folder + "/" + publicID
	}

	var (
		media *asset.Asset
		err   error
	)
	switch resourceType {
	case "image":
		media, err = s.client.Image(publicID)
	case "video":
		media, err = s.client.Video(publicID)
	default:
		media, err = s.client.File(publicID)
	}
	if err != nil {
		return "", fmt.Errorf("failed to build %s asset: %w", resourceType, err)
	}

	url, err := media.String()
	if err != nil {
		return "", fmt.Errorf("failed to render asset url: %w", err)
	}

	s.logger.Debug().Str("public_id", publicID).Str("resource_type", resourceType).Msg("resolved media url")
	return url, nil
}
