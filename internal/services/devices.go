package services

import (
	"context"
	"strings"

	"github.com/consentgrid/backend/internal/models"
	apperrors "github.com/consentgrid/backend/pkg/errors"
)

// DeviceStore persists push registrations.
type DeviceStore interface {
	Upsert(ctx context.Context, d *models.DeviceRegistration) error
}

// DeviceService registers devices for push delivery. The caller's handle
// comes from a verified session, so no further ownership check is done.
type DeviceService struct {
	store DeviceStore
}

// NewDeviceService creates a new device registration service
func NewDeviceService(store DeviceStore) *DeviceService {
	return &DeviceService{store: store}
}

// RegisterDeviceRequest represents a push registration
type RegisterDeviceRequest struct {
	DeviceID  string `json:"device_id" binding:"required"`
	PushToken string `json:"push_token" binding:"required"`
	Platform  string `json:"platform"`
}

// Register upserts the (handle, device) push token.
func (s *DeviceService) Register(ctx context.Context, handle string, req RegisterDeviceRequest) (*models.DeviceRegistration, error) {
	details := map[string]string{}
	if strings.TrimSpace(req.DeviceID) == "" {
		details["device_id"] = "is required"
	}
	if strings.TrimSpace(req.PushToken) == "" {
		details["push_token"] = "is required"
	}
	if len(details) > 0 {
		return nil, apperrors.Validation(details)
	}

	d := &models.DeviceRegistration{
		Handle:    CanonicalHandle(handle),
		DeviceID:  req.DeviceID,
		PushToken: req.PushToken,
		Platform:  req.Platform,
	}
	if err := s.store.Upsert(ctx, d); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "failed to register device", err)
	}
	return d, nil
}
