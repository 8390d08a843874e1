package domain

import (
	"net/url"
	"path"
	"strings"
	"time"
)

// MediaKind is inferred from the media URL at render time, never stored.
type MediaKind int

const (
	MediaImage MediaKind = iota
	MediaVideo
)

// Story is one piece of ephemeral content authored by a platform user.
type Story struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	Username   string    `json:"username"`
	ProfilePic string    `json:"profilePic"`
	MediaURL   string    `json:"mediaUrl"`
	Caption    string    `json:"caption,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
	Viewers    []string  `json:"viewers"`
}

// Active reports whether the story has not yet expired at the given instant.
// Expiry is evaluated once at feed-assembly time and not re-checked during
// playback.
func (s Story) Active(now time.Time) bool {
	return s.ExpiresAt.After(now)
}

// Kind infers the media kind from the URL's file extension. CDN query
// parameters are ignored.
func (s Story) Kind() MediaKind {
	raw := s.MediaURL
	if u, err := url.Parse(raw); err == nil && u.Path != "" {
		raw = u.Path
	}
	switch strings.ToLower(path.Ext(raw)) {
	case ".mp4", ".mov", ".webm":
		return MediaVideo
	default:
		return MediaImage
	}
}

// ViewedBy reports whether the given user is in the viewers snapshot.
func (s Story) ViewedBy(userID string) bool {
	for _, v := range s.Viewers {
		if v == userID {
			return true
		}
	}
	return false
}

// StoryGroup is one author's ordered set of currently-active stories,
// newest-first. A group is never constructed empty; the feed assembler drops
// authors with no active stories.
type StoryGroup struct {
	UserID     string  `json:"userId"`
	Username   string  `json:"username"`
	ProfilePic string  `json:"profilePic"`
	Stories    []Story `json:"stories"`
}

// ViewRecord is the local record of a fired view event.
type ViewRecord struct {
	ID       int
	StoryID  string
	ViewerID string
	ViewedAt time.Time
}
