package sources

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aniketms/jobpulse/internal/scraper"
)

// APIConfig declares one JSON search API source.
type APIConfig struct {
	Name        string
	BaseURL     string
	Keywords    []string
	Locations   []string
	MaxSearches int
	Filters     Filters
}

// APISource scrapes a job board through its mobile search API. The primary
// tier fetches the first result page per keyword and location; the
// secondary tier fetches the second page of the same searches.
type APISource struct {
	cfg    APIConfig
	logger *zap.Logger
}

// NewAPISource constructs an APISource.
func NewAPISource(cfg APIConfig, logger *zap.Logger) *APISource {
	return &APISource{cfg: cfg, logger: logger}
}

// Name returns the configured source name.
func (s *APISource) Name() string { return s.cfg.Name }

// Targets builds the search URLs for the tier.
func (s *APISource) Targets(tier scraper.Tier) []scraper.FetchTarget {
	page := 1
	if tier == scraper.TierSecondary {
		page = 2
	}
	var targets []scraper.FetchTarget
	for _, keyword := range s.cfg.Keywords {
		for _, location := range s.cfg.Locations {
			params := url.Values{}
			params.Set("keyword", keyword)
			params.Set("location", location)
			params.Set("pageNo", strconv.Itoa(page))
			params.Set("noOfRecords", "50")
			targets = append(targets, scraper.FetchTarget{
				Source: s.cfg.Name,
				URL:    s.cfg.BaseURL + "?" + params.Encode(),
				Tier:   tier,
			})
		}
	}
	return capTargets(targets, s.cfg.MaxSearches)
}

type apiJob struct {
	JobID       string `json:"jobId"`
	Title       string `json:"title"`
	CompanyName string `json:"companyName"`
	Location    string `json:"location"`
	JDURL       string `json:"jdURL"`
	Experience  string `json:"experience"`
	Salary      string `json:"salary"`
	PostedDate  string `json:"postedDate"`
}

type apiResponse struct {
	JobDetails []apiJob `json:"jobDetails"`
}

// Normalize parses an API payload into records. Entries without a title,
// company, or detail URL are dropped, as are ones failing the exclusion
// filters.
func (s *APISource) Normalize(payload []byte) ([]scraper.Record, error) {
	var resp apiResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, fmt.Errorf("parse api response: %w", err)
	}

	host := baseHost(s.cfg.BaseURL)
	records := make([]scraper.Record, 0, len(resp.JobDetails))
	for _, job := range resp.JobDetails {
		if job.Title == "" || job.CompanyName == "" || job.JDURL == "" {
			continue
		}
		if !s.cfg.Filters.Keep(job.Title, job.CompanyName) {
			s.logger.Debug("filtered entry", zap.String("title", job.Title))
			continue
		}

		link := job.JDURL
		if !strings.HasPrefix(link, "http") {
			link = host + link
		}
		rec := scraper.Record{
			Source:     s.cfg.Name,
			SourceID:   job.JobID,
			Title:      job.Title,
			Company:    job.CompanyName,
			Location:   job.Location,
			URL:        link,
			Salary:     job.Salary,
			Experience: job.Experience,
			ScrapedAt:  time.Now().UTC(),
		}
		if ts, err := time.Parse(time.RFC3339, job.PostedDate); err == nil {
			rec.PostedAt = ts.UTC()
		}
		records = append(records, rec)
	}
	return records, nil
}

func baseHost(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
