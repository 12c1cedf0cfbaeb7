package models

import (
	"fmt"
	"strings"
	"time"
)

type MediaKind string

const (
	MediaKindImage        MediaKind = "image"
	MediaKindPendingVideo MediaKind = "pending_video"
)

// MediaReference is one media row attached to an item. Rows are created by
// the upload flow and owned by the main application; the conversion subsystem
// only ever rewrites the URL column (placeholder -> final GIF URL).
type MediaReference struct {
	ID        string    `json:"id"`
	ItemID    string    `json:"itemId"`
	URL       string    `json:"url"`
	Kind      MediaKind `json:"kind"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// PlaceholderPrefix is the wire prefix persisted in media_references rows
// while a conversion is in flight. The reconciler matches it byte-for-byte.
const PlaceholderPrefix = "video_processing:"

// MediaURL is the decoded form of a media_references URL column: either a
// directly resolvable URL or a pending-conversion placeholder.
type MediaURL interface {
	fmt.Stringer
	mediaURL()
}

type DirectURL string

func (u DirectURL) String() string { return string(u) }
func (DirectURL) mediaURL()        {}

// PendingConversion marks a row whose GIF has not been produced yet.
type PendingConversion struct {
	SourceName string
	TaskID     string
}

func (p PendingConversion) String() string {
	return PlaceholderPrefix + p.SourceName + ":" + p.TaskID
}
func (PendingConversion) mediaURL() {}

// ParseMediaURL decodes a stored URL column value. Malformed placeholder
// strings decode as DirectURL so a bad row never blocks reads; the reconciler
// simply skips them.
func ParseMediaURL(s string) MediaURL {
	rest, ok := strings.CutPrefix(s, PlaceholderPrefix)
	if !ok {
		return DirectURL(s)
	}
	// The task id is the segment after the last colon; source filenames may
	// themselves contain colons.
	i := strings.LastIndex(rest, ":")
	if i <= 0 || i == len(rest)-1 {
		return DirectURL(s)
	}
	return PendingConversion{SourceName: rest[:i], TaskID: rest[i+1:]}
}

// IsPlaceholder reports whether a stored URL is a pending-conversion
// placeholder.
func IsPlaceholder(s string) bool {
	return strings.HasPrefix(s, PlaceholderPrefix)
}
