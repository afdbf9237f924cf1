// Copyright (c) 2026, the arrbiter contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package arr is the HTTP adapter for arr-style media managers (Sonarr and
// Radarr API dialects): queue inspection, blocklisting, metadata lookup,
// library registration and search commands.
package arr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/avast/retry-go"
	"github.com/rs/zerolog/log"

	"github.com/arrbiter/arrbiter/internal/buildinfo"
	"github.com/arrbiter/arrbiter/internal/domain"
	"github.com/arrbiter/arrbiter/internal/pacer"
)

const (
	apiBase       = "/api/v3"
	queuePageSize = 250
	maxBodyBytes  = 32 << 20
)

// Client talks to one media manager instance.
type Client struct {
	name       string
	mtype      ManagerType
	baseURL    string
	apiKey     string
	httpClient *http.Client
	pacer      *pacer.Pacer
}

// NewClient builds a client from a manager config entry.
func NewClient(cfg domain.ManagerConfig) (*Client, error) {
	mtype, err := ParseManagerType(cfg.Type)
	if err != nil {
		return nil, err
	}
	parsed, err := url.Parse(cfg.URL)
	if err != nil || parsed.Host == "" {
		return nil, fmt.Errorf("invalid manager url %q", cfg.URL)
	}

	return &Client{
		name:       cfg.Name,
		mtype:      mtype,
		baseURL:    parsed.String(),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		pacer:      pacer.New(time.Duration(cfg.RequestDelaySecs) * time.Second),
	}, nil
}

// Name returns the configured instance name.
func (c *Client) Name() string { return c.name }

// Type returns the API dialect.
func (c *Client) Type() ManagerType { return c.mtype }

// ListQueue fetches the full download queue, following pagination. Items the
// manager could not match to tracked content are included.
func (c *Client) ListQueue(ctx context.Context) ([]QueueItem, error) {
	var items []QueueItem
	for page := 1; ; page++ {
		params := url.Values{}
		params.Set("page", strconv.Itoa(page))
		params.Set("pageSize", strconv.Itoa(queuePageSize))
		if c.mtype == ManagerTypeSonarr {
			params.Set("includeUnknownSeriesItems", "true")
		} else {
			params.Set("includeUnknownMovieItems", "true")
		}

		var pageResp queuePage
		if err := c.get(ctx, "/queue", params, &pageResp); err != nil {
			return nil, fmt.Errorf("list queue: %w", err)
		}
		items = append(items, pageResp.Records...)
		if len(items) >= pageResp.TotalRecords || len(pageResp.Records) == 0 {
			return items, nil
		}
	}
}

// RemoveFromQueue deletes a queue item. With blocklist true the manager
// blocklists the release and a replacement search is requested; the download
// itself is left in the client either way.
func (c *Client) RemoveFromQueue(ctx context.Context, id int64, blocklist bool) error {
	params := url.Values{}
	params.Set("removeFromClient", "false")
	params.Set("blocklist", strconv.FormatBool(blocklist))
	if blocklist {
		params.Set("skipRedownload", "false")
	}
	if err := c.do(ctx, http.MethodDelete, fmt.Sprintf("/queue/%d", id), params, nil, nil); err != nil {
		return fmt.Errorf("remove queue item %d: %w", id, err)
	}
	return nil
}

// Lookup searches the manager's metadata source for a title and returns the
// candidate matches.
func (c *Client) Lookup(ctx context.Context, term string) ([]MediaItem, error) {
	params := url.Values{}
	params.Set("term", term)

	path := "/series/lookup"
	if c.mtype == ManagerTypeRadarr {
		path = "/movie/lookup"
	}

	var results []MediaItem
	if err := c.get(ctx, path, params, &results); err != nil {
		return nil, fmt.Errorf("lookup %q: %w", term, err)
	}
	return results, nil
}

// Library returns every item the manager currently tracks.
func (c *Client) Library(ctx context.Context) ([]MediaItem, error) {
	path := "/series"
	if c.mtype == ManagerTypeRadarr {
		path = "/movie"
	}
	var items []MediaItem
	if err := c.get(ctx, path, nil, &items); err != nil {
		return nil, fmt.Errorf("list library: %w", err)
	}
	return items, nil
}

// QualityProfiles lists the manager's quality profiles.
func (c *Client) QualityProfiles(ctx context.Context) ([]QualityProfile, error) {
	var profiles []QualityProfile
	if err := c.get(ctx, "/qualityprofile", nil, &profiles); err != nil {
		return nil, fmt.Errorf("list quality profiles: %w", err)
	}
	return profiles, nil
}

// RootFolders lists the manager's library roots.
func (c *Client) RootFolders(ctx context.Context) ([]RootFolder, error) {
	var folders []RootFolder
	if err := c.get(ctx, "/rootfolder", nil, &folders); err != nil {
		return nil, fmt.Errorf("list root folders: %w", err)
	}
	return folders, nil
}

// Add registers a looked-up item in the manager's library with the given
// quality profile and root folder, monitored, with an immediate search.
// Returns the created item including its library ID.
func (c *Client) Add(ctx context.Context, item MediaItem, qualityProfileID int64, rootFolder string) (MediaItem, error) {
	var (
		path string
		body any
	)
	switch c.mtype {
	case ManagerTypeSonarr:
		path = "/series"
		body = addSeriesRequest{
			Title:            item.Title,
			TitleSlug:        item.TitleSlug,
			TVDBID:           item.TVDBID,
			QualityProfileID: qualityProfileID,
			RootFolderPath:   rootFolder,
			Monitored:        true,
			SeasonFolder:     true,
			AddOptions:       seriesAddSpecs{SearchForMissingEpisodes: true},
		}
	default:
		path = "/movie"
		body = addMovieRequest{
			Title:            item.Title,
			TitleSlug:        item.TitleSlug,
			TMDBID:           item.TMDBID,
			QualityProfileID: qualityProfileID,
			RootFolderPath:   rootFolder,
			Monitored:        true,
			AddOptions:       movieAddSpecs{SearchForMovie: true},
		}
	}

	var created MediaItem
	if err := c.do(ctx, http.MethodPost, path, nil, body, &created); err != nil {
		return MediaItem{}, fmt.Errorf("add %q: %w", item.Title, err)
	}

	log.Info().
		Str("manager", c.name).
		Str("title", item.Title).
		Int64("id", created.ID).
		Msg("Registered new library item")
	return created, nil
}

// Wanted fetches one page of missing (or cutoff-unmet) items sorted oldest
// first. Returns the records plus the total count the manager reports.
func (c *Client) Wanted(ctx context.Context, page, pageSize int, cutoffUnmet bool) ([]WantedItem, int, error) {
	endpoint := "/wanted/missing"
	if cutoffUnmet {
		endpoint = "/wanted/cutoff"
	}

	params := url.Values{}
	params.Set("page", strconv.Itoa(page))
	params.Set("pageSize", strconv.Itoa(pageSize))
	params.Set("sortDirection", "ascending")
	if c.mtype == ManagerTypeSonarr {
		params.Set("sortKey", "episodes.airDateUtc")
	} else {
		params.Set("sortKey", "movies.title")
	}

	var pageResp wantedPage
	if err := c.get(ctx, endpoint, params, &pageResp); err != nil {
		return nil, 0, fmt.Errorf("list wanted: %w", err)
	}
	return pageResp.Records, pageResp.TotalRecords, nil
}

// TriggerSearch asks the manager to search for the given wanted item IDs
// (episode IDs for series managers, movie IDs for movie managers).
func (c *Client) TriggerSearch(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	var body commandRequest
	if c.mtype == ManagerTypeSonarr {
		body = commandRequest{Name: "EpisodeSearch", EpisodeIDs: ids}
	} else {
		body = commandRequest{Name: "MoviesSearch", MovieIDs: ids}
	}

	if err := c.do(ctx, http.MethodPost, "/command", nil, body, nil); err != nil {
		return fmt.Errorf("trigger search: %w", err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, params, nil, out)
}

// do runs one paced request with transient retry, decoding a JSON response
// into out when out is non-nil.
func (c *Client) do(ctx context.Context, method, path string, params url.Values, body, out any) error {
	if err := c.pacer.Wait(ctx); err != nil {
		return err
	}

	endpoint, err := url.JoinPath(c.baseURL, apiBase, path)
	if err != nil {
		return fmt.Errorf("build url: %w", err)
	}

	var payload []byte
	if body != nil {
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
	}

	return retry.Do(func() error {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
		if err != nil {
			return retry.Unrecoverable(fmt.Errorf("build request: %w", err))
		}
		if params != nil {
			req.URL.RawQuery = params.Encode()
		}
		req.Header.Set("X-Api-Key", c.apiKey)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", buildinfo.UserAgent)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
			statusErr := &StatusError{StatusCode: resp.StatusCode, URL: req.URL.Redacted()}
			if statusErr.IsTransient() {
				return statusErr
			}
			return retry.Unrecoverable(statusErr)
		}

		if out == nil {
			return nil
		}
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		if err := json.Unmarshal(data, out); err != nil {
			return retry.Unrecoverable(fmt.Errorf("decode response: %w", err))
		}
		return nil
	}, retry.Attempts(3), retry.Delay(time.Second), retry.Context(ctx))
}

// IsNotFound reports whether err is a 404 from the manager.
func IsNotFound(err error) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound
}
