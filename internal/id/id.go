package id

import "github.com/google/uuid"

// New returns a random (v4) identifier for jobs and uploads.
func New() string {
	return uuid.NewString()
}
