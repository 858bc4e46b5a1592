package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"github.com/blockcaptain/jackwatch/internal/models"
)

// TreeAlpha provides access to the Tree of Alpha news feed.
type TreeAlpha struct {
	baseURL    string
	apiKey     string
	limit      int
	httpClient *http.Client
}

// NewTreeAlpha creates a Tree of Alpha client fetching up to limit items.
func NewTreeAlpha(baseURL, apiKey string, limit int, timeout time.Duration) *TreeAlpha {
	if baseURL == "" {
		baseURL = "https://news.treeofalpha.com"
	}
	if limit <= 0 {
		limit = 10
	}
	return &TreeAlpha{
		baseURL:    baseURL,
		apiKey:     apiKey,
		limit:      limit,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// NewsItems observes the latest headlines, oldest first so delivery order
// follows publication order.
func (c *TreeAlpha) NewsItems(ctx context.Context) ([]models.Observation, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(c.limit))

	headers := map[string]string{}
	if c.apiKey != "" {
		headers["Authorization"] = c.apiKey
	}

	body, err := doRequest(ctx, c.httpClient, c.baseURL+"/api/news?"+q.Encode(), headers)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch news: %w", err)
	}

	now := time.Now()
	var observations []models.Observation

	for _, item := range gjson.ParseBytes(body).Array() {
		id := item.Get("_id").String()
		if id == "" {
			id = item.Get("id").String()
		}
		if id == "" {
			id = item.Get("url").String()
		}
		if id == "" {
			continue
		}

		source := item.Get("source").String()
		if source == "" {
			source = "Tree of Alpha"
		}

		observations = append(observations, models.Observation{
			Symbol: source,
			ID:     id,
			Fields: map[string]float64{
				"published_at": item.Get("time").Float(),
			},
			Text: map[string]string{
				"title":  item.Get("title").String(),
				"source": source,
				"url":    item.Get("url").String(),
			},
			FetchedAt: now,
		})
	}

	sort.SliceStable(observations, func(i, j int) bool {
		return observations[i].Fields["published_at"] < observations[j].Fields["published_at"]
	})
	return observations, nil
}
