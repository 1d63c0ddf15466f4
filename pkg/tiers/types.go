package tiers

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrUnknownTier marks an operation naming a label outside the configured set.
	ErrUnknownTier = errors.New("unknown tier")
	// ErrInvalidSlot marks an operation on a negative, absent or empty slot.
	ErrInvalidSlot = errors.New("invalid slot")
	// ErrInvalidEntry is returned for entries that break the image reference rules.
	ErrInvalidEntry = errors.New("invalid entry")
)

// Label names a score bucket, e.g. "9.5".
type Label string

// Provenance tags for Entry.Source.
const (
	SourceSearch = "bangumi"
	SourceCustom = "custom"
	SourceImport = "import"
)

// Entry is one ranked item. Exactly one of ImageURL and ImageHash is set;
// ImageHash is a counted reference into the image store.
type Entry struct {
	ImageURL   string `json:"imageUrl,omitempty"`
	ImageHash  string `json:"imageHash,omitempty"`
	Title      string `json:"title"`
	ExternalID string `json:"externalId,omitempty"`
	Source     string `json:"source"`
}

func (e Entry) Validate() error {
	if strings.TrimSpace(e.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidEntry)
	}
	if (e.ImageURL == "") == (e.ImageHash == "") {
		return fmt.Errorf("%w: %q needs exactly one of image url or image hash", ErrInvalidEntry, e.Title)
	}
	return nil
}

// Slot is a non-empty position in a tier.
type Slot struct {
	Index int
	Entry Entry
}

// MoveResult reports what MoveEntry did.
type MoveResult struct {
	Moved bool
	// CrossTier is set when the entry changed buckets, so both need redrawing.
	CrossTier bool
	// Recover is set when the move was rejected and the caller should re-read state.
	Recover bool
}

// DefaultLabels returns 10, 9.5, 9 ... 1.
func DefaultLabels() []Label {
	var out []Label
	for v := 20; v >= 2; v-- {
		out = append(out, Label(strconv.FormatFloat(float64(v)/2, 'f', -1, 64)))
	}
	return out
}

// ParseLabels validates a configured label list.
func ParseLabels(raw []string) ([]Label, error) {
	if len(raw) == 0 {
		return nil, errors.New("at least one tier label is required")
	}
	seen := make(map[Label]bool, len(raw))
	out := make([]Label, 0, len(raw))
	for _, r := range raw {
		l := Label(strings.TrimSpace(r))
		if l == "" {
			return nil, errors.New("tier labels must not be empty")
		}
		if seen[l] {
			return nil, fmt.Errorf("duplicate tier label %q", l)
		}
		seen[l] = true
		out = append(out, l)
	}
	return out, nil
}
