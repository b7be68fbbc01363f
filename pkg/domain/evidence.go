package domain

import (
	"fmt"
	"path"
	"strings"
	"time"
)

// ForensicEvent is a single filesystem timeline entry extracted from a disk image.
// Timestamps are absolute instants; timezone normalization happens upstream.
type ForensicEvent struct {
	ID              string          `json:"id" yaml:"id"`
	InvestigationID InvestigationID `json:"investigation_id" yaml:"investigation_id"`
	Timestamp       *time.Time      `json:"timestamp,omitempty" yaml:"timestamp,omitempty"`
	FilePath        string          `json:"file_path" yaml:"file_path"`
	Type            EventType       `json:"event_type" yaml:"event_type"`
	Size            *int64          `json:"file_size,omitempty" yaml:"file_size,omitempty"`
	Description     string          `json:"description,omitempty" yaml:"description,omitempty"`
	FileType        string          `json:"file_type,omitempty" yaml:"file_type,omitempty"`
	Inode           *uint64         `json:"inode,omitempty" yaml:"inode,omitempty"`
	Location        *Coordinate     `json:"location,omitempty" yaml:"location,omitempty"`
}

// Validate checks the record invariants the engine relies on
func (e *ForensicEvent) Validate() error {
	if e.ID == "" {
		return ErrInvalidRecord("event", "", "id", "must not be empty")
	}
	if e.InvestigationID == "" {
		return ErrInvalidRecord("event", e.ID, "investigation_id", "must not be empty")
	}
	if e.Type != "" && !e.Type.Valid() {
		return ErrInvalidRecord("event", e.ID, "event_type", fmt.Sprintf("unknown event type %q", e.Type))
	}
	if e.Size != nil && *e.Size < 0 {
		return ErrInvalidRecord("event", e.ID, "file_size", "must not be negative")
	}
	if e.Location != nil {
		if err := e.Location.Validate(); err != nil {
			return ErrInvalidRecord("event", e.ID, "location", err.Error())
		}
	}
	return nil
}

// Text is the content used for similarity: path components plus description
func (e *ForensicEvent) Text() string {
	var b strings.Builder
	b.WriteString(strings.NewReplacer("/", " ", "\\", " ", "_", " ", "-", " ", ".", " ").Replace(e.FilePath))
	if e.Description != "" {
		b.WriteByte(' ')
		b.WriteString(e.Description)
	}
	return strings.TrimSpace(b.String())
}

// Extension returns the lowercased file extension without the dot, or "none"
func (e *ForensicEvent) Extension() string {
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(strings.ReplaceAll(e.FilePath, "\\", "/"))), ".")
	if ext == "" {
		return "none"
	}
	return ext
}

// Summary is a one-line rendering used in prompts and logs
func (e *ForensicEvent) Summary() string {
	ts := "unknown time"
	if e.Timestamp != nil {
		ts = e.Timestamp.UTC().Format(time.RFC3339)
	}
	s := fmt.Sprintf("%s %s at %s", e.FilePath, e.Type, ts)
	if e.Description != "" {
		s += ": " + e.Description
	}
	return s
}

// OSINTItem is a single publicly sourced intelligence record
type OSINTItem struct {
	ID              string          `json:"id" yaml:"id"`
	InvestigationID InvestigationID `json:"investigation_id" yaml:"investigation_id"`
	Source          OSINTSource     `json:"source" yaml:"source"`
	Timestamp       *time.Time      `json:"timestamp,omitempty" yaml:"timestamp,omitempty"`
	Location        *Coordinate     `json:"location,omitempty" yaml:"location,omitempty"`
	Title           string          `json:"title,omitempty" yaml:"title,omitempty"`
	Content         string          `json:"content,omitempty" yaml:"content,omitempty"`
	URL             string          `json:"url,omitempty" yaml:"url,omitempty"`
	Author          string          `json:"author,omitempty" yaml:"author,omitempty"`
}

// Validate checks the record invariants the engine relies on
func (o *OSINTItem) Validate() error {
	if o.ID == "" {
		return ErrInvalidRecord("item", "", "id", "must not be empty")
	}
	if o.InvestigationID == "" {
		return ErrInvalidRecord("item", o.ID, "investigation_id", "must not be empty")
	}
	if o.Source != "" && !o.Source.Valid() {
		return ErrInvalidRecord("item", o.ID, "source", fmt.Sprintf("unknown source %q", o.Source))
	}
	if o.Location != nil {
		if err := o.Location.Validate(); err != nil {
			return ErrInvalidRecord("item", o.ID, "location", err.Error())
		}
	}
	return nil
}

// Text is the content used for similarity: title plus body
func (o *OSINTItem) Text() string {
	return strings.TrimSpace(o.Title + " " + o.Content)
}

// Summary is a one-line rendering used in prompts and logs
func (o *OSINTItem) Summary() string {
	ts := "unknown time"
	if o.Timestamp != nil {
		ts = o.Timestamp.UTC().Format(time.RFC3339)
	}
	text := o.Text()
	if r := []rune(text); len(r) > 280 {
		text = string(r[:280]) + "..."
	}
	return fmt.Sprintf("[%s] %s: %s", o.Source, ts, text)
}

// InvestigationStatus tracks the lifecycle of an investigation
type InvestigationStatus string

const (
	StatusActive   InvestigationStatus = "active"
	StatusArchived InvestigationStatus = "archived"
)

// Investigation groups evidence and intelligence collected for one case
type Investigation struct {
	ID           InvestigationID     `json:"id"`
	Name         string              `json:"name"`
	Description  string              `json:"description,omitempty"`
	EvidencePath string              `json:"evidence_path,omitempty"`
	Location     *Coordinate         `json:"location,omitempty"`
	LocationName string              `json:"location_name,omitempty"`
	Timezone     string              `json:"timezone,omitempty"`
	Status       InvestigationStatus `json:"status"`
	CreatedAt    time.Time           `json:"created_at"`
}

// Validate checks the investigation can be stored
func (i *Investigation) Validate() error {
	if i.ID == "" {
		return ErrInvalidRecord("investigation", "", "id", "must not be empty")
	}
	if strings.TrimSpace(i.Name) == "" {
		return ErrInvalidRecord("investigation", string(i.ID), "name", "must not be empty")
	}
	if i.Location != nil {
		if err := i.Location.Validate(); err != nil {
			return ErrInvalidRecord("investigation", string(i.ID), "location", err.Error())
		}
	}
	return nil
}
