package models

import "time"

// StoredAsset describes an object persisted by the storage collaborator.
type StoredAsset struct {
	Key         string
	URL         string
	Size        int64
	ContentType string
}

// GenerationResult is the record returned to callers once a video has been
// generated and persisted.
type GenerationResult struct {
	ID             string    `json:"id"`
	Prompt         string    `json:"prompt"`
	ReferenceImage *string   `json:"referenceImage"`
	Duration       int       `json:"duration"`
	Resolution     int       `json:"resolution"`
	Audio          bool      `json:"audio"`
	CreatedAt      time.Time `json:"createdAt"`
	ModelName      string    `json:"modelName"`
	SizeBytes      int64     `json:"sizeBytes"`
	Tags           []string  `json:"tags"`
	URL            string    `json:"url"`
	Downloaded     bool      `json:"downloaded"`
	Bookmarked     bool      `json:"bookmarked"`
	ProjectVideo   bool      `json:"projectVideo"`
	Verified       bool      `json:"verified"`
	Source         string    `json:"source"`
	CreatedBy      string    `json:"createdBy"`
	Edited         bool      `json:"edited"`
	Status         string    `json:"status"`
}

const (
	ResolutionSD = 720
	ResolutionHD = 1080

	StatusGenerated = "Generated"

	SourceFal       = "fal.ai"
	CreatedByServer = "server"
)

// Storage folders used when persisting assets.
const (
	FolderImages = "images"
	FolderVideos = "videos"
)
