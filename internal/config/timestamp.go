package config

import "time"

// TimestampGenerator lets tests substitute a fixed clock, matching the
// teacher's config.TimestampGenerator.
type TimestampGenerator interface {
	GetTime() time.Time
}

type RealTimestampGenerator struct{}

func (RealTimestampGenerator) GetTime() time.Time { return time.Now() }

type FixedTimestampGenerator struct {
	Timestamp time.Time
}

func (t FixedTimestampGenerator) GetTime() time.Time { return t.Timestamp }
