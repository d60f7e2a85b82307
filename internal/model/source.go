package model

import "time"

// SourceType classifies a calendar source.
type SourceType string

const (
	SourceTypeRegion     SourceType = "REGION"
	SourceTypePersonal   SourceType = "PERSONAL"
	SourceTypeWork       SourceType = "WORK"
	SourceTypeOperations SourceType = "OPERATIONS"
	SourceTypeExternal   SourceType = "EXTERNAL"
)

func (t SourceType) Valid() bool {
	switch t {
	case SourceTypeRegion, SourceTypePersonal, SourceTypeWork, SourceTypeOperations, SourceTypeExternal:
		return true
	}
	return false
}

// CalendarSource is a visibility and grouping channel for events.
type CalendarSource struct {
	ID        string     `gorm:"primaryKey" json:"id"`
	Name      string     `gorm:"uniqueIndex;not null" json:"name"`
	Color     string     `json:"color"`
	Type      SourceType `gorm:"not null" json:"type"`
	RegionID  *string    `gorm:"index" json:"region_id,omitempty"`
	IsVisible bool       `json:"is_visible"`
	IsDefault bool       `json:"is_default"`
	CreatedAt time.Time  `gorm:"autoCreateTime:false" json:"created_at"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime:false" json:"updated_at"`
}

// NewCalendarSource stamps a draft source with an id and creation time.
func NewCalendarSource(draft CalendarSource, now time.Time) CalendarSource {
	s := draft
	if s.ID == "" {
		s.ID = NewID()
	}
	s.CreatedAt = now
	s.UpdatedAt = now
	return s
}

func (s CalendarSource) Touch(now time.Time) CalendarSource {
	s.UpdatedAt = now
	return s
}

func (s CalendarSource) Validate() error {
	if blank(s.Name) {
		return invalid("name", "must not be blank")
	}
	if !s.Type.Valid() {
		return invalid("type", "unknown source type "+string(s.Type))
	}
	return nil
}
