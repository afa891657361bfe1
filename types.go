package main

import (
	"strings"
	"time"
)

// DatePrecision is the granularity of a catalog item's release date
type DatePrecision string

const (
	PrecisionYear  DatePrecision = "year"
	PrecisionMonth DatePrecision = "month"
	PrecisionDay   DatePrecision = "day"
)

// CatalogItem is a release unit (album or single) as returned by the catalog
type CatalogItem struct {
	ID                   string        `json:"id"`
	Name                 string        `json:"name"`
	AlbumType            string        `json:"album_type"`
	ReleaseDate          string        `json:"release_date"`
	ReleaseDatePrecision DatePrecision `json:"release_date_precision"`
}

// SubItem is an individually playable track; the unit published to the playlist
type SubItem struct {
	ID      string   `json:"id"`
	URI     string   `json:"uri"`
	Name    string   `json:"name"`
	Artists []string `json:"artists"`
}

// Release is a track selected for publishing along with the release it belongs to
type Release struct {
	Track       SubItem
	ProducerID  string
	ItemID      string
	ReleaseDate string
	ReleasedAt  time.Time
	DaysOld     int
}

// Notice converts a release into the record handed to notification sinks
func (r Release) Notice() ReleaseNotice {
	return ReleaseNotice{
		Name:        r.Track.Name,
		Artists:     strings.Join(r.Track.Artists, ", "),
		ReleaseDate: r.ReleaseDate,
		URI:         r.Track.URI,
		DaysOld:     r.DaysOld,
	}
}

// ReleaseNotice is one line of a new-release notification
type ReleaseNotice struct {
	Name        string `json:"name"`
	Artists     string `json:"artists"`
	ReleaseDate string `json:"release_date"`
	URI         string `json:"uri"`
	DaysOld     int    `json:"days_old"`
}

// ProcessingStatus represents the outcome of scanning a single producer
type ProcessingStatus string

const (
	StatusSuccess ProcessingStatus = "success"
	StatusSkipped ProcessingStatus = "skipped"
	StatusError   ProcessingStatus = "error"
)

// ProducerResult tracks the outcome of scanning each producer
type ProducerResult struct {
	ProducerID string
	Status     ProcessingStatus
	Tracks     int
	Error      error
}

// IDSet is an in-memory set of identifiers
type IDSet map[string]struct{}

// NewIDSet builds a set from the given identifiers
func NewIDSet(ids ...string) IDSet {
	s := make(IDSet, len(ids))
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

func (s IDSet) Add(id string) { s[id] = struct{}{} }

func (s IDSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Union returns a new set containing the members of both sets
func (s IDSet) Union(other IDSet) IDSet {
	out := make(IDSet, len(s)+len(other))
	for id := range s {
		out.Add(id)
	}
	for id := range other {
		out.Add(id)
	}
	return out
}
