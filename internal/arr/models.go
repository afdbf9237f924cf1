// Copyright (c) 2026, the arrbiter contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package arr

import (
	"fmt"
	"net/http"
	"strings"
)

// ManagerType selects the API dialect of a media manager instance.
type ManagerType string

const (
	ManagerTypeSonarr ManagerType = "sonarr"
	ManagerTypeRadarr ManagerType = "radarr"
)

// ParseManagerType normalizes a configured type string.
func ParseManagerType(s string) (ManagerType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sonarr":
		return ManagerTypeSonarr, nil
	case "radarr":
		return ManagerTypeRadarr, nil
	default:
		return "", fmt.Errorf("unknown manager type %q", s)
	}
}

// StatusError represents a non-2xx response from a manager API. It preserves
// the status code for transient-versus-permanent classification.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request to %s returned status %d", e.URL, e.StatusCode)
}

func (e *StatusError) Is(target error) bool {
	_, ok := target.(*StatusError)
	return ok
}

// IsTransient reports whether the failure is worth retrying: rate limiting,
// gateway trouble or plain server errors.
func (e *StatusError) IsTransient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// StatusMessage is one warning/error annotation the manager attaches to a
// queue item.
type StatusMessage struct {
	Title    string   `json:"title"`
	Messages []string `json:"messages"`
}

// QueueItem is one entry of a manager's download queue.
type QueueItem struct {
	ID                    int64           `json:"id"`
	SeriesID              int64           `json:"seriesId,omitempty"`
	MovieID               int64           `json:"movieId,omitempty"`
	Title                 string          `json:"title"`
	DownloadID            string          `json:"downloadId"`
	Status                string          `json:"status"`
	TrackedDownloadStatus string          `json:"trackedDownloadStatus"`
	TrackedDownloadState  string          `json:"trackedDownloadState"`
	OutputPath            string          `json:"outputPath"`
	StatusMessages        []StatusMessage `json:"statusMessages"`
}

// Recognized reports whether the manager has matched this queue item to
// content it tracks.
func (q QueueItem) Recognized() bool {
	return q.SeriesID > 0 || q.MovieID > 0
}

type queuePage struct {
	Page         int         `json:"page"`
	PageSize     int         `json:"pageSize"`
	TotalRecords int         `json:"totalRecords"`
	Records      []QueueItem `json:"records"`
}

// MediaItem is a series or movie as returned by lookup and library endpoints.
// TVDBID is populated for series, TMDBID for movies.
type MediaItem struct {
	ID        int64  `json:"id,omitempty"`
	Title     string `json:"title"`
	TitleSlug string `json:"titleSlug,omitempty"`
	Year      int    `json:"year,omitempty"`
	TVDBID    int64  `json:"tvdbId,omitempty"`
	TMDBID    int64  `json:"tmdbId,omitempty"`
	Path      string `json:"path,omitempty"`
}

// ExternalID returns the canonical metadata identifier for the item.
func (m MediaItem) ExternalID() int64 {
	if m.TVDBID > 0 {
		return m.TVDBID
	}
	return m.TMDBID
}

// QualityProfile is a manager quality profile reference.
type QualityProfile struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// RootFolder is a manager library root.
type RootFolder struct {
	ID   int64  `json:"id"`
	Path string `json:"path"`
}

// WantedItem is one missing (or cutoff-unmet) target the hunter can search
// for. For series managers the ID is an episode ID, for movie managers a
// movie ID.
type WantedItem struct {
	ID       int64  `json:"id"`
	SeriesID int64  `json:"seriesId,omitempty"`
	Title    string `json:"title"`
}

type wantedPage struct {
	Page         int          `json:"page"`
	PageSize     int          `json:"pageSize"`
	TotalRecords int          `json:"totalRecords"`
	Records      []WantedItem `json:"records"`
}

type addSeriesRequest struct {
	Title            string         `json:"title"`
	TitleSlug        string         `json:"titleSlug,omitempty"`
	TVDBID           int64          `json:"tvdbId"`
	QualityProfileID int64          `json:"qualityProfileId"`
	RootFolderPath   string         `json:"rootFolderPath"`
	Monitored        bool           `json:"monitored"`
	SeasonFolder     bool           `json:"seasonFolder"`
	AddOptions       seriesAddSpecs `json:"addOptions"`
}

type seriesAddSpecs struct {
	SearchForMissingEpisodes bool `json:"searchForMissingEpisodes"`
}

type addMovieRequest struct {
	Title            string        `json:"title"`
	TitleSlug        string        `json:"titleSlug,omitempty"`
	TMDBID           int64         `json:"tmdbId"`
	QualityProfileID int64         `json:"qualityProfileId"`
	RootFolderPath   string        `json:"rootFolderPath"`
	Monitored        bool          `json:"monitored"`
	AddOptions       movieAddSpecs `json:"addOptions"`
}

type movieAddSpecs struct {
	SearchForMovie bool `json:"searchForMovie"`
}

type commandRequest struct {
	Name       string  `json:"name"`
	SeriesID   int64   `json:"seriesId,omitempty"`
	EpisodeIDs []int64 `json:"episodeIds,omitempty"`
	MovieIDs   []int64 `json:"movieIds,omitempty"`
}
