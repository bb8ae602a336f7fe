package store

import "time"

// Experiment is the metadata row for one bounded capture session. End
// stays NULL while the experiment is running; at most one row may be in
// that state at a time.
type Experiment struct {
	ID       uint       `gorm:"primaryKey" json:"id"`
	Name     string     `gorm:"size:64;index" json:"name"`
	Start    time.Time  `json:"start"`
	End      *time.Time `gorm:"index" json:"end"`
	Exported bool       `gorm:"default:false" json:"exported"`
}

// Reading is one scalar sample. The wall-clock timestamp is globally
// unique in the store and doubles as the natural ordering key, so it is
// the primary key, matching the on-disk layout the export and consumer
// paths expect.
type Reading struct {
	ExperimentID uint      `gorm:"not null;index"`
	Value        float64   `gorm:"not null"`
	TS           time.Time `gorm:"primaryKey"`
}

// Point is one reading as served to consumers: the timestamp is seconds
// relative to the owning experiment's start.
type Point struct {
	TS    float64 `json:"ts"`
	Value float64 `json:"value"`
}
