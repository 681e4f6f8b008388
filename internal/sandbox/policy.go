package sandbox

import (
	"slices"
	"time"
)

// Policy bounds what a run may use. MaxMemory, Network and Images only
// apply to the docker runtime.
type Policy struct {
	MaxMemory  string        // docker --memory value, e.g. "256m"
	MaxTimeout time.Duration // zero means no limit
	Network    bool
	Images     []string // allowed docker images
}

// DefaultPolicy allows the image of every supported language, 256m of
// memory and 30s per run, without network access.
func DefaultPolicy() Policy {
	return Policy{
		MaxMemory:  "256m",
		MaxTimeout: 30 * time.Second,
		Images:     languageImages(),
	}
}

// IsImageAllowed checks if an image is on the allowlist.
func (p Policy) IsImageAllowed(image string) bool {
	return slices.Contains(p.Images, image)
}

// languageImages lists the images of the language table, sorted.
func languageImages() []string {
	var images []string
	for _, lang := range languages {
		if !slices.Contains(images, lang.Image) {
			images = append(images, lang.Image)
		}
	}
	slices.Sort(images)
	return images
}
