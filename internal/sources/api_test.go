package sources

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aniketms/jobpulse/internal/config"
	"github.com/aniketms/jobpulse/internal/scraper"
)

const sampleAPIResponse = `{
	"jobDetails": [
		{
			"jobId": "990001",
			"title": "Golang Developer",
			"companyName": "Acme Corp",
			"location": "Pune",
			"jdURL": "/job-listings/golang-developer-990001",
			"experience": "2-5 Yrs",
			"salary": "12-18 LPA",
			"postedDate": "2025-06-01T08:30:00Z"
		},
		{
			"jobId": "990002",
			"title": "BPO Voice Process",
			"companyName": "CallCenter Staffing",
			"location": "Mumbai",
			"jdURL": "https://jobs.example/listings/990002"
		},
		{
			"jobId": "990003",
			"title": "Missing Company",
			"jdURL": "/x"
		}
	]
}`

func newAPISource(filters Filters) *APISource {
	return NewAPISource(APIConfig{
		Name:      "jobsapi",
		BaseURL:   "https://jobs.example/api/search",
		Keywords:  []string{"golang"},
		Locations: []string{"pune", "mumbai"},
		Filters:   filters,
	}, zap.NewNop())
}

func TestAPINormalizeParsesJobs(t *testing.T) {
	t.Parallel()

	s := newAPISource(Filters{})
	records, err := s.Normalize([]byte(sampleAPIResponse))
	require.NoError(t, err)

	// The entry without a company is dropped.
	require.Len(t, records, 2)

	first := records[0]
	require.Equal(t, "jobsapi", first.Source)
	require.Equal(t, "990001", first.SourceID)
	require.Equal(t, "Golang Developer", first.Title)
	require.Equal(t, "Acme Corp", first.Company)
	require.Equal(t, "12-18 LPA", first.Salary)
	require.Equal(t, "2-5 Yrs", first.Experience)
	require.False(t, first.PostedAt.IsZero())

	// Relative detail URLs are resolved against the API host; absolute
	// ones pass through.
	require.Equal(t, "https://jobs.example/job-listings/golang-developer-990001", first.URL)
	require.Equal(t, "https://jobs.example/listings/990002", records[1].URL)
}

func TestAPINormalizeAppliesFilters(t *testing.T) {
	t.Parallel()

	s := newAPISource(Filters{ExcludeTitles: []string{"bpo"}})
	records, err := s.Normalize([]byte(sampleAPIResponse))
	require.NoError(t, err)

	require.Len(t, records, 1)
	require.Equal(t, "Golang Developer", records[0].Title)
}

func TestAPINormalizeRejectsGarbage(t *testing.T) {
	t.Parallel()

	s := newAPISource(Filters{})
	_, err := s.Normalize([]byte("<html>captcha</html>"))
	require.Error(t, err)
}

func TestAPITargetsPageByTier(t *testing.T) {
	t.Parallel()

	s := newAPISource(Filters{})

	primary := s.Targets(scraper.TierPrimary)
	require.Len(t, primary, 2)
	require.Contains(t, primary[0].URL, "pageNo=1")
	require.Contains(t, primary[0].URL, "keyword=golang")
	require.Contains(t, primary[0].URL, "location=pune")

	secondary := s.Targets(scraper.TierSecondary)
	require.Len(t, secondary, 2)
	require.Contains(t, secondary[0].URL, "pageNo=2")
}

func TestFromConfigBuildsSources(t *testing.T) {
	t.Parallel()

	srcs, err := FromConfig([]config.SourceConfig{
		{Name: "boards", Kind: "feed", BaseURL: "https://boards.example/rss", Keywords: []string{"golang"}},
		{Name: "jobsapi", Kind: "api", BaseURL: "https://jobs.example/api/search", Keywords: []string{"golang"}},
	}, zap.NewNop())
	require.NoError(t, err)
	require.Len(t, srcs, 2)
	require.Equal(t, "boards", srcs[0].Name())
	require.IsType(t, &FeedSource{}, srcs[0])
	require.IsType(t, &APISource{}, srcs[1])

	_, err = FromConfig([]config.SourceConfig{{Name: "x", Kind: "headless"}}, zap.NewNop())
	require.Error(t, err)
}

func TestFiltersKeep(t *testing.T) {
	t.Parallel()

	f := Filters{ExcludeTitles: []string{"intern", "fresher"}, ExcludeFirms: []string{"staffing"}}

	require.True(t, f.Keep("Senior Backend Engineer", "Acme"))
	require.False(t, f.Keep("Engineering Intern", "Acme"))
	require.False(t, f.Keep("Backend Engineer", "Global Staffing Ltd"))
	require.True(t, Filters{}.Keep("Anything", "Anyone"))
}
