package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Message is one channel message as delivered by the transport. Messages are
// totally ordered within a channel by TS.
type Message struct {
	AuthorID    string   `json:"author_id"`
	AuthorName  string   `json:"author_name"`
	TS          string   `json:"ts"`
	Text        string   `json:"text"`
	ThreadTS    string   `json:"thread_ts,omitempty"`
	Reactions   []string `json:"reactions,omitempty"`
	Attachments []string `json:"attachments,omitempty"`
	Files       []File   `json:"files,omitempty"`
}

// File is a file shared in a message. URL needs the bot token to download.
type File struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Title    string `json:"title,omitempty"`
	Mimetype string `json:"mimetype,omitempty"`
	Filetype string `json:"filetype,omitempty"`
	URL      string `json:"url,omitempty"`
	Size     int    `json:"size,omitempty"`
}

// IsImage reports whether f is a picture rather than a document.
func (f File) IsImage() bool {
	switch strings.ToLower(f.Filetype) {
	case "jpg", "jpeg", "png", "gif", "webp", "bmp", "heic":
		return true
	}
	return strings.HasPrefix(strings.ToLower(f.Mimetype), "image/")
}

// Ordinal is the message timestamp as integer microseconds.
func (m Message) Ordinal() int64 {
	o, _ := ParseOrdinal(m.TS)
	return o
}

// IsReply reports whether the message belongs to another message's thread.
func (m Message) IsReply() bool {
	return m.ThreadTS != "" && m.ThreadTS != m.TS
}

// Author returns the display name when known, the user id otherwise.
func (m Message) Author() string {
	if m.AuthorName != "" {
		return m.AuthorName
	}
	if m.AuthorID != "" {
		return m.AuthorID
	}
	return "unknown"
}

// ParseOrdinal converts a Slack timestamp ("1700000000.123456") into microseconds.
func ParseOrdinal(ts string) (int64, error) {
	if ts == "" {
		return 0, fmt.Errorf("empty timestamp")
	}
	secs, frac, _ := strings.Cut(ts, ".")
	s, err := strconv.ParseInt(secs, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing timestamp %q: %w", ts, err)
	}
	var micros int64
	if frac != "" {
		if len(frac) > 6 {
			frac = frac[:6]
		}
		frac += strings.Repeat("0", 6-len(frac))
		micros, err = strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parsing timestamp %q: %w", ts, err)
		}
	}
	return s*1_000_000 + micros, nil
}

// FormatOrdinal is the inverse of ParseOrdinal.
func FormatOrdinal(ordinal int64) string {
	return fmt.Sprintf("%d.%06d", ordinal/1_000_000, ordinal%1_000_000)
}

// OrdinalFromTime converts a wall-clock time into a message ordinal.
func OrdinalFromTime(t time.Time) int64 {
	return t.UnixMicro()
}

// OrdinalTime converts a message ordinal into wall-clock time.
func OrdinalTime(ordinal int64) time.Time {
	return time.UnixMicro(ordinal)
}
