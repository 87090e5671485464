package media

import "fmt"

const (
	imageDownloadSuffix = "=d"
	videoDownloadSuffix = "=dv"

	cropModifier      = "-c"
	noOverlayModifier = "-no"

	videoThumbnailWidth  = 1280
	videoThumbnailHeight = 720
)

type dimensions struct {
	width  int
	height int
}

var imageQualityDimensions = map[ImageQuality]dimensions{
	ImageHigh:   {width: 2048, height: 2048},
	ImageMedium: {width: 1024, height: 1024},
	ImageLow:    {width: 512, height: 512},
}

// DeriveLocator builds the download URL for a reference from its base URL.
// It has no side effects and always returns the same result for the same
// input.
func DeriveLocator(ref Reference, opts *Options) string {
	base := ref.BaseURL

	if opts == nil {
		return base + fullDownloadSuffix(ref)
	}

	if ref.IsVideo() {
		if opts.VideoQuality != VideoThumbnail {
			return base + videoDownloadSuffix
		}

		locator := base + sizeSuffix(videoThumbnailWidth, videoThumbnailHeight)
		if opts.VideoRemoveOverlay {
			locator += noOverlayModifier
		}

		return locator
	}

	dims, ok := imageQualityDimensions[opts.ImageQuality]
	if !ok {
		// original, empty or unknown quality
		return base + imageDownloadSuffix
	}

	if opts.MaxWidth > 0 {
		dims.width = opts.MaxWidth
	}

	if opts.MaxHeight > 0 {
		dims.height = opts.MaxHeight
	}

	locator := base + sizeSuffix(dims.width, dims.height)
	if opts.Crop {
		locator += cropModifier
	}

	return locator
}

func fullDownloadSuffix(ref Reference) string {
	if ref.IsVideo() {
		return videoDownloadSuffix
	}

	return imageDownloadSuffix
}

func sizeSuffix(width, height int) string {
	return fmt.Sprintf("=w%d-h%d", width, height)
}
