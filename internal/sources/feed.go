package sources

import (
	"bytes"
	"cmp"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"

	"github.com/aniketms/jobpulse/internal/scraper"
)

// FeedConfig declares one RSS/Atom job board.
type FeedConfig struct {
	Name        string
	BaseURL     string
	Keywords    []string
	Locations   []string
	MaxSearches int
	Filters     Filters
}

// FeedSource scrapes a job board through its RSS search feeds. The primary
// tier searches every keyword in every configured location; the secondary
// tier re-runs each keyword without a location constraint, casting a wider
// net when the targeted searches come up short.
type FeedSource struct {
	cfg    FeedConfig
	parser *gofeed.Parser
	logger *zap.Logger
}

// NewFeedSource constructs a FeedSource.
func NewFeedSource(cfg FeedConfig, logger *zap.Logger) *FeedSource {
	return &FeedSource{
		cfg:    cfg,
		parser: gofeed.NewParser(),
		logger: logger,
	}
}

// Name returns the configured source name.
func (s *FeedSource) Name() string { return s.cfg.Name }

// Targets builds the search URLs for the tier.
func (s *FeedSource) Targets(tier scraper.Tier) []scraper.FetchTarget {
	var targets []scraper.FetchTarget
	switch tier {
	case scraper.TierPrimary:
		for _, keyword := range s.cfg.Keywords {
			for _, location := range s.cfg.Locations {
				targets = append(targets, s.searchTarget(tier, keyword, location))
			}
		}
	case scraper.TierSecondary:
		for _, keyword := range s.cfg.Keywords {
			targets = append(targets, s.searchTarget(tier, keyword, ""))
		}
	}
	return capTargets(targets, s.cfg.MaxSearches)
}

func (s *FeedSource) searchTarget(tier scraper.Tier, keyword, location string) scraper.FetchTarget {
	params := url.Values{}
	params.Set("q", keyword)
	if location != "" {
		params.Set("l", location)
	}
	params.Set("sort", "date")
	params.Set("limit", "50")
	return scraper.FetchTarget{
		Source: s.cfg.Name,
		URL:    s.cfg.BaseURL + "?" + params.Encode(),
		Tier:   tier,
	}
}

// Normalize parses a feed payload into records. Entries failing the
// exclusion filters are dropped, not errors.
func (s *FeedSource) Normalize(payload []byte) ([]scraper.Record, error) {
	feed, err := s.parser.Parse(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	records := make([]scraper.Record, 0, len(feed.Items))
	for _, item := range feed.Items {
		rec, ok := s.entryRecord(item)
		if !ok {
			continue
		}
		if !s.cfg.Filters.Keep(rec.Title, rec.Company) {
			s.logger.Debug("filtered entry", zap.String("title", rec.Title))
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func (s *FeedSource) entryRecord(item *gofeed.Item) (scraper.Record, bool) {
	title, company, location := splitEntryTitle(item.Title)
	if company == "" && item.Author != nil {
		company = item.Author.Name
	}
	if title == "" || item.Link == "" {
		return scraper.Record{}, false
	}

	rec := scraper.Record{
		Source:    s.cfg.Name,
		SourceID:  cmp.Or(item.GUID, item.Link),
		Title:     title,
		Company:   company,
		Location:  location,
		URL:       item.Link,
		ScrapedAt: time.Now().UTC(),
	}
	if item.PublishedParsed != nil {
		rec.PostedAt = item.PublishedParsed.UTC()
	}
	return rec, true
}

// splitEntryTitle decomposes the "Title - Company - Location" convention
// job board feeds use. Missing segments stay empty.
func splitEntryTitle(raw string) (title, company, location string) {
	parts := strings.Split(raw, " - ")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	switch len(parts) {
	case 0:
		return "", "", ""
	case 1:
		return parts[0], "", ""
	case 2:
		return parts[0], parts[1], ""
	default:
		return strings.Join(parts[:len(parts)-2], " - "), parts[len(parts)-2], parts[len(parts)-1]
	}
}
