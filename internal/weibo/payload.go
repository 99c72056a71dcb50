// Package weibo decodes the source's feed and detail payloads and extracts
// media references from them.
package weibo

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Platform tags harvested rows with their source platform.
const Platform = "weibo"

// FlexInt decodes a dimension field that may arrive as a JSON number, a
// numeric string, or garbage. Malformed values decode to absent, never error.
type FlexInt struct {
	value *int
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexInt) UnmarshalJSON(b []byte) error {
	f.value = nil
	s := strings.TrimSpace(string(b))
	if s == "null" || s == `""` {
		return nil
	}
	s = strings.Trim(s, `"`)
	if n, err := strconv.Atoi(s); err == nil {
		f.value = &n
		return nil
	}
	if fl, err := strconv.ParseFloat(s, 64); err == nil {
		n := int(fl)
		f.value = &n
	}
	return nil
}

// Int returns the decoded value or nil when absent/unparseable.
func (f FlexInt) Int() *int { return f.value }

// IntOrZero returns the decoded value, defaulting to 0.
func (f FlexInt) IntOrZero() int {
	if f.value == nil {
		return 0
	}
	return *f.value
}

// FlexID decodes an identifier that may arrive as a string or a number.
type FlexID string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexID) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*f = ""
		return nil
	}
	*f = FlexID(strings.Trim(s, `"`))
	return nil
}

// String returns the identifier text.
func (f FlexID) String() string { return string(f) }

// Geo carries pixel dimensions of one media variant.
type Geo struct {
	Width  FlexInt `json:"width"`
	Height FlexInt `json:"height"`
}

// PicVariant is an alternate rendition of a picture (the "large" field).
type PicVariant struct {
	URL string `json:"url"`
	Geo Geo    `json:"geo"`
}

// Pic is one entry of a post's inline media list. Entries with Type "video"
// carry the stream URL in VideoSrc.
type Pic struct {
	PID      string      `json:"pid"`
	URL      string      `json:"url"`
	Geo      Geo         `json:"geo"`
	Large    *PicVariant `json:"large"`
	Type     string      `json:"type"`
	VideoSrc string      `json:"videoSrc"`
}

// MediaInfo holds the stream URLs of an attached video.
type MediaInfo struct {
	StreamURLHD string `json:"stream_url_hd"`
	StreamURL   string `json:"stream_url"`
}

// PagePic is the poster frame of an attached video. Its dimensions arrive as
// strings.
type PagePic struct {
	URL    string  `json:"url"`
	Width  FlexInt `json:"width"`
	Height FlexInt `json:"height"`
}

// PageInfo is the promoted/attached object block of a post. Type "video"
// means the post carries a video distinct from the inline picture list.
type PageInfo struct {
	Type      string          `json:"type"`
	PagePic   PagePic         `json:"page_pic"`
	MediaInfo *MediaInfo      `json:"media_info"`
	URLs      json.RawMessage `json:"urls"`
}

// User is the author block of a post.
type User struct {
	ID         FlexID `json:"id"`
	ScreenName string `json:"screen_name"`
}

// Post is the raw mblog payload of one post.
type Post struct {
	ID        FlexID    `json:"id"`
	MID       string    `json:"mid"`
	CreatedAt string    `json:"created_at"`
	Text      string    `json:"text"`
	PicIDs    []string  `json:"pic_ids"`
	Pics      []Pic     `json:"pics"`
	PageInfo  *PageInfo `json:"page_info"`
	User      *User     `json:"user"`
}

// UserID returns the author identifier, empty when the block is missing.
func (p *Post) UserID() string {
	if p.User == nil {
		return ""
	}
	return p.User.ID.String()
}

// Source post timestamps look like "Tue Feb 18 10:22:33 +0800 2025"; newer
// API surfaces also emit RFC3339.
var createdAtLayouts = []string{
	time.RubyDate,
	time.RFC3339,
	"2006-01-02 15:04:05",
}

// CreatedTime parses the post creation timestamp, returning the zero time on
// malformed input.
func (p *Post) CreatedTime() time.Time {
	for _, layout := range createdAtLayouts {
		if ts, err := time.Parse(layout, p.CreatedAt); err == nil {
			return ts
		}
	}
	return time.Time{}
}

// firstOrderedURL returns the first value of an alternate-format URL map in
// document order. encoding/json maps drop ordering, so the raw object is
// walked token by token.
func firstOrderedURL(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return ""
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return ""
	}
	for dec.More() {
		if _, err := dec.Token(); err != nil { // key
			return ""
		}
		var value string
		if err := dec.Decode(&value); err != nil {
			return ""
		}
		if value != "" {
			return value
		}
	}
	return ""
}
