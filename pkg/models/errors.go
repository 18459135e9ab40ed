package models

import "errors"

// Domain errors returned by the store layer. HTTP handlers map these to
// status codes; see pkg/api/handlers.
var (
	ErrUserNotFound       = errors.New("user not found")
	ErrDuplicateEmail     = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrDeviceNotFound     = errors.New("device not found")
	ErrPlanNotFound       = errors.New("subscription plan not found")
	ErrFileNotFound       = errors.New("file not found")
	ErrChunkNotFound      = errors.New("chunk not found")
	ErrManifestNotFound   = errors.New("manifest not found")
	ErrStateNotFound      = errors.New("device state not found")
)
