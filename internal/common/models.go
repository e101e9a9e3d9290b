package common

import (
	"path"
	"strings"
	"time"
)

// RemoteResource describes the remote bytes of one download attempt.
// It is produced by the probe and not modified afterwards.
type RemoteResource struct {
	URL                 string    `json:"url"`
	ExpectedSize        int64     `json:"expected_size"`
	SupportsRangedFetch bool      `json:"supports_ranged_fetch"`
	ExpectedDigest      string    `json:"expected_digest,omitempty"`
	ETag                string    `json:"etag,omitempty"`
	LastModified        time.Time `json:"last_modified,omitempty"`
	Filename            string    `json:"filename,omitempty"`
}

// Matches reports whether a persisted snapshot still describes the same remote bytes.
// Validators are only compared when both sides carry them.
func (r RemoteResource) Matches(other RemoteResource) bool {
	if r.ExpectedSize != other.ExpectedSize || r.SupportsRangedFetch != other.SupportsRangedFetch {
		return false
	}

	if r.ETag != "" && other.ETag != "" && r.ETag != other.ETag {
		return false
	}

	if !r.LastModified.IsZero() && !other.LastModified.IsZero() && !r.LastModified.Equal(other.LastModified) {
		return false
	}

	if r.ExpectedDigest != "" && other.ExpectedDigest != "" && !strings.EqualFold(r.ExpectedDigest, other.ExpectedDigest) {
		return false
	}

	return true
}

// Artifact is one file in scope of a run.
type Artifact struct {
	Module   string `json:"module"`
	Name     string `json:"name"`
	URL      string `json:"url"`
	Filename string `json:"filename"`
	SHA256   string `json:"sha256,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// ID returns module/name, or the filename for direct downloads.
func (a Artifact) ID() string {
	if a.Module == "" {
		if a.Name != "" {
			return a.Name
		}

		return path.Base(a.Filename)
	}

	return a.Module + "/" + a.Name
}
