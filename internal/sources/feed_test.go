package sources

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aniketms/jobpulse/internal/scraper"
)

const sampleRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
	<title>boards.example jobs</title>
	<link>https://boards.example</link>
	<item>
		<guid>job-101</guid>
		<title>Backend Engineer - Acme Corp - Pune</title>
		<link>https://boards.example/jobs/101</link>
		<author>jobs@acme.example (Acme Corp)</author>
		<pubDate>Mon, 02 Jun 2025 09:00:00 +0000</pubDate>
	</item>
	<item>
		<guid>job-102</guid>
		<title>Sales Intern - MegaStaff Consulting - Mumbai</title>
		<link>https://boards.example/jobs/102</link>
	</item>
	<item>
		<title>Platform Engineer</title>
		<link>https://boards.example/jobs/103</link>
	</item>
	<item>
		<title>No Link Job - Nowhere Inc - Delhi</title>
	</item>
</channel>
</rss>`

func newFeedSource(filters Filters) *FeedSource {
	return NewFeedSource(FeedConfig{
		Name:      "boards",
		BaseURL:   "https://boards.example/rss",
		Keywords:  []string{"golang", "backend"},
		Locations: []string{"pune", "mumbai"},
		Filters:   filters,
	}, zap.NewNop())
}

func TestFeedNormalizeParsesEntries(t *testing.T) {
	t.Parallel()

	s := newFeedSource(Filters{})
	records, err := s.Normalize([]byte(sampleRSS))
	require.NoError(t, err)

	// The entry without a link is dropped.
	require.Len(t, records, 3)

	first := records[0]
	require.Equal(t, "boards", first.Source)
	require.Equal(t, "job-101", first.SourceID)
	require.Equal(t, "Backend Engineer", first.Title)
	require.Equal(t, "Acme Corp", first.Company)
	require.Equal(t, "Pune", first.Location)
	require.Equal(t, "https://boards.example/jobs/101", first.URL)
	require.False(t, first.PostedAt.IsZero())

	// Single-segment title keeps everything as the title.
	require.Equal(t, "Platform Engineer", records[2].Title)
	require.Empty(t, records[2].Company)
}

func TestFeedNormalizeAppliesFilters(t *testing.T) {
	t.Parallel()

	s := newFeedSource(Filters{
		ExcludeTitles: []string{"intern"},
		ExcludeFirms:  []string{"megastaff"},
	})
	records, err := s.Normalize([]byte(sampleRSS))
	require.NoError(t, err)

	for _, rec := range records {
		require.NotContains(t, rec.Title, "Intern")
		require.NotContains(t, rec.Company, "MegaStaff")
	}
}

func TestFeedNormalizeRejectsGarbage(t *testing.T) {
	t.Parallel()

	s := newFeedSource(Filters{})
	_, err := s.Normalize([]byte("<html>blocked</html>"))
	require.Error(t, err)
}

func TestFeedTargetsPrimaryIsKeywordCrossLocation(t *testing.T) {
	t.Parallel()

	s := newFeedSource(Filters{})
	targets := s.Targets(scraper.TierPrimary)

	require.Len(t, targets, 4)
	require.Contains(t, targets[0].URL, "q=golang")
	require.Contains(t, targets[0].URL, "l=pune")
	for _, target := range targets {
		require.Equal(t, scraper.TierPrimary, target.Tier)
		require.Equal(t, "boards", target.Source)
	}
}

func TestFeedTargetsSecondaryDropsLocation(t *testing.T) {
	t.Parallel()

	s := newFeedSource(Filters{})
	targets := s.Targets(scraper.TierSecondary)

	require.Len(t, targets, 2)
	for _, target := range targets {
		require.NotContains(t, target.URL, "l=")
		require.Equal(t, scraper.TierSecondary, target.Tier)
	}
}

func TestFeedTargetsCappedByMaxSearches(t *testing.T) {
	t.Parallel()

	s := NewFeedSource(FeedConfig{
		Name:        "boards",
		BaseURL:     "https://boards.example/rss",
		Keywords:    []string{"a", "b", "c"},
		Locations:   []string{"x", "y", "z"},
		MaxSearches: 4,
	}, zap.NewNop())

	require.Len(t, s.Targets(scraper.TierPrimary), 4)
}

func TestSplitEntryTitle(t *testing.T) {
	t.Parallel()

	cases := []struct {
		raw      string
		title    string
		company  string
		location string
	}{
		{"Backend Engineer - Acme - Pune", "Backend Engineer", "Acme", "Pune"},
		{"Backend Engineer - Acme", "Backend Engineer", "Acme", ""},
		{"Backend Engineer", "Backend Engineer", "", ""},
		{"SRE - On-Call - Acme - Remote", "SRE - On-Call", "Acme", "Remote"},
	}
	for i, tc := range cases {
		t.Run(fmt.Sprintf("case-%d", i), func(t *testing.T) {
			t.Parallel()
			title, company, location := splitEntryTitle(tc.raw)
			require.Equal(t, tc.title, title)
			require.Equal(t, tc.company, company)
			require.Equal(t, tc.location, location)
		})
	}
}
