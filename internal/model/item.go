package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// GeneratedItem is one finished artifact. Several items may share a TaskID;
// ItemID alone identifies an item.
type GeneratedItem struct {
	ItemID           string    `json:"itemId"`
	TaskID           string    `json:"taskId"`
	Version          string    `json:"version"`
	Title            string    `json:"title"`
	MediaURL         string    `json:"mediaUrl"`
	ImageURL         string    `json:"imageUrl,omitempty"`
	DurationSeconds  float64   `json:"durationSeconds"`
	Tags             []string  `json:"tags,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	ArtifactAddress  string    `json:"artifactAddress,omitempty"`
	ArtifactDegraded bool      `json:"artifactDegraded,omitempty"`
}

// IsFullyFormed reports whether the item carries enough data to be persisted.
func (i *GeneratedItem) IsFullyFormed() bool {
	return i.ItemID != "" && i.TaskID != "" && i.MediaURL != ""
}

// VersionLabel returns the ordinal label for the n-th item of a task (0-based).
func VersionLabel(n int) string {
	return fmt.Sprintf("v%d", n+1)
}

// VersionOrdinal is the inverse of VersionLabel (1-based). Labels it did not
// produce yield 0.
func VersionOrdinal(label string) int {
	n, err := strconv.Atoi(strings.TrimPrefix(label, "v"))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// NormalizeTags splits comma separated tag strings, trims them and drops duplicates
// while keeping first-seen order.
func NormalizeTags(raw ...string) []string {
	seen := make(map[string]struct{})
	var tags []string
	for _, r := range raw {
		for _, t := range strings.Split(r, ",") {
			t = strings.TrimSpace(t)
			if t == "" {
				continue
			}
			key := strings.ToLower(t)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			tags = append(tags, t)
		}
	}
	return tags
}
