// Package statistics summarizes the index per site and overall.
package statistics

import (
	"context"
	"fmt"

	"github.com/deidaraiorek/sitesearch/internal/storage"
)

type Total struct {
	Sites    int  `json:"sites"`
	Pages    int  `json:"pages"`
	Lemmas   int  `json:"lemmas"`
	Indexing bool `json:"indexing"`
}

type SiteDetail struct {
	URL        string `json:"url"`
	Name       string `json:"name"`
	Status     string `json:"status"`
	StatusTime int64  `json:"statusTime"`
	Error      string `json:"error,omitempty"`
	Pages      int    `json:"pages"`
	Lemmas     int    `json:"lemmas"`
}

type Statistics struct {
	Total    Total        `json:"total"`
	Detailed []SiteDetail `json:"detailed"`
}

// IndexingState reports whether a crawl session is running.
type IndexingState interface {
	Indexing() bool
}

type Service struct {
	store storage.Store
	state IndexingState
}

func New(store storage.Store, state IndexingState) *Service {
	return &Service{store: store, state: state}
}

func (s *Service) Collect(ctx context.Context) (*Statistics, error) {
	sites, err := s.store.ListSites(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sites: %w", err)
	}

	stats := &Statistics{
		Total:    Total{Sites: len(sites), Indexing: s.state.Indexing()},
		Detailed: make([]SiteDetail, 0, len(sites)),
	}

	for _, site := range sites {
		pages, err := s.store.CountPages(ctx, site.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to count pages of %s: %w", site.URL, err)
		}
		lemmas, err := s.store.CountLemmas(ctx, site.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to count lemmas of %s: %w", site.URL, err)
		}

		stats.Total.Pages += pages
		stats.Total.Lemmas += lemmas
		stats.Detailed = append(stats.Detailed, SiteDetail{
			URL:        site.URL,
			Name:       site.Name,
			Status:     string(site.Status),
			StatusTime: site.StatusTime.UnixMilli(),
			Error:      site.LastError,
			Pages:      pages,
			Lemmas:     lemmas,
		})
	}

	return stats, nil
}
