package media

import (
	"encoding/json"
	"strings"
)

// Type is the kind of media item returned by the picker.
type Type string

const (
	TypePhoto Type = "PHOTO"
	TypeVideo Type = "VIDEO"
)

// Reference is one media item selected through the picker.
type Reference struct {
	ID         string `json:"id"`
	CreateTime string `json:"createTime,omitempty"`
	Type       Type   `json:"type"`
	Filename   string `json:"filename"`
	BaseURL    string `json:"baseUrl"`
	MimeType   string `json:"mimeType"`
}

// pickedMediaFile mirrors the nested "mediaFile" object of the picker API.
type pickedMediaFile struct {
	BaseURL  string `json:"baseUrl"`
	MimeType string `json:"mimeType"`
	Filename string `json:"filename"`
}

// UnmarshalJSON accepts both the flat shape and the picker's nested
// {id, createTime, type, mediaFile:{...}} shape. Flat fields win.
func (r *Reference) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID         string           `json:"id"`
		CreateTime string           `json:"createTime"`
		Type       Type             `json:"type"`
		Filename   string           `json:"filename"`
		BaseURL    string           `json:"baseUrl"`
		MimeType   string           `json:"mimeType"`
		MediaFile  *pickedMediaFile `json:"mediaFile"`
	}

	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*r = Reference{
		ID:         raw.ID,
		CreateTime: raw.CreateTime,
		Type:       raw.Type,
		Filename:   raw.Filename,
		BaseURL:    raw.BaseURL,
		MimeType:   raw.MimeType,
	}

	if raw.MediaFile != nil {
		if r.Filename == "" {
			r.Filename = raw.MediaFile.Filename
		}

		if r.BaseURL == "" {
			r.BaseURL = raw.MediaFile.BaseURL
		}

		if r.MimeType == "" {
			r.MimeType = raw.MediaFile.MimeType
		}
	}

	return nil
}

// IsVideo reports whether the item should follow the video locator rules.
// The picker type wins; the MIME type is a fallback for items without one.
func (r Reference) IsVideo() bool {
	switch r.Type {
	case TypeVideo:
		return true
	case TypePhoto:
		return false
	}

	return strings.HasPrefix(strings.ToLower(r.MimeType), "video/")
}

// IsDownloadable reports whether the item carries what a fetch needs.
func (r Reference) IsDownloadable() bool {
	return r.Filename != "" && r.BaseURL != ""
}

// ImageQuality selects the image variant to download.
type ImageQuality string

const (
	ImageOriginal ImageQuality = "original"
	ImageHigh     ImageQuality = "high"
	ImageMedium   ImageQuality = "medium"
	ImageLow      ImageQuality = "low"
)

// VideoQuality selects the video variant to download.
type VideoQuality string

const (
	VideoOriginal  VideoQuality = "original"
	VideoHigh      VideoQuality = "high"
	VideoThumbnail VideoQuality = "thumbnail"
)

// Options tunes which items are downloaded and which variant is requested.
// A nil *Options means "everything, original quality".
type Options struct {
	IncludePhotos      *bool        `json:"includePhotos,omitempty"`
	IncludeVideos      *bool        `json:"includeVideos,omitempty"`
	ImageQuality       ImageQuality `json:"imageQuality,omitempty"`
	VideoQuality       VideoQuality `json:"videoQuality,omitempty"`
	MaxWidth           int          `json:"maxWidth,omitempty"`
	MaxHeight          int          `json:"maxHeight,omitempty"`
	Crop               bool         `json:"crop,omitempty"`
	VideoRemoveOverlay bool         `json:"videoRemoveOverlay,omitempty"`
}

// Includes reports whether the item passes the include flags. Unset flags
// count as true.
func (o *Options) Includes(r Reference) bool {
	if o == nil {
		return true
	}

	if r.IsVideo() {
		return o.IncludeVideos == nil || *o.IncludeVideos
	}

	return o.IncludePhotos == nil || *o.IncludePhotos
}

// Filter returns the items that pass the include flags, preserving order.
func (o *Options) Filter(items []Reference) []Reference {
	if o == nil {
		return items
	}

	selected := make([]Reference, 0, len(items))

	for _, item := range items {
		if o.Includes(item) {
			selected = append(selected, item)
		}
	}

	return selected
}
