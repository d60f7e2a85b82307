package model

import "time"

// Region is a life-area tag used on tasks, notes and calendar sources.
// Seed holds the configured name a region was seeded from; it survives
// renames so bootstrap does not seed that name again.
type Region struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"uniqueIndex;not null" json:"name"`
	Color     string    `json:"color"`
	IsDefault bool      `json:"is_default"`
	Seed      string    `gorm:"index" json:"seed,omitempty"`
	CreatedAt time.Time `gorm:"autoCreateTime:false" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime:false" json:"updated_at"`
}

// NewRegion stamps a draft region with an id and creation time.
func NewRegion(draft Region, now time.Time) Region {
	r := draft
	if r.ID == "" {
		r.ID = NewID()
	}
	r.CreatedAt = now
	r.UpdatedAt = now
	return r
}

// Touch returns a copy with UpdatedAt set to now.
func (r Region) Touch(now time.Time) Region {
	r.UpdatedAt = now
	return r
}

func (r Region) Validate() error {
	if blank(r.Name) {
		return invalid("name", "must not be blank")
	}
	return nil
}
