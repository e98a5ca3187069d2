// Package scraper defines core types shared across subsystems.
package scraper

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrKind classifies a fetch or dispatch failure.
type ErrKind string

// Error kinds recorded in outcomes and run statistics.
const (
	ErrKindNone            ErrKind = ""
	ErrKindTransport       ErrKind = "transport"
	ErrKindRateLimited     ErrKind = "rate_limited"
	ErrKindBlockedIdentity ErrKind = "blocked_identity"
	ErrKindNonRecoverable  ErrKind = "non_recoverable"
	ErrKindPoolExhausted   ErrKind = "pool_exhausted"
	ErrKindSinkOutage      ErrKind = "sink_outage"
	ErrKindDeadline        ErrKind = "deadline"
)

// Tier is a priority grouping of fetch targets.
type Tier string

// Target tiers. Primary targets are tried first; secondary targets are
// fetched only when primary yield is insufficient.
const (
	TierPrimary   Tier = "primary"
	TierSecondary Tier = "secondary"
)

// Identity pairs an outbound network path with a request fingerprint so
// requests appear to come from diverse clients. Immutable once created.
type Identity struct {
	ID        string
	UserAgent string
	Headers   http.Header
	ProxyURL  string // empty means direct egress
	CreatedAt time.Time
}

// FetchTarget describes one URL to fetch. Immutable, supplied by a source.
type FetchTarget struct {
	Source  string
	URL     string
	Method  string
	Body    []byte
	Tier    Tier
	Timeout time.Duration
}

// Domain returns the target's hostname, or "unknown" if the URL is unparsable.
func (t FetchTarget) Domain() string {
	u, err := url.Parse(t.URL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return u.Hostname()
}

// FetchOutcome is the result of executing one fetch target, successful or
// not. Produced once per target and never mutated afterwards.
type FetchOutcome struct {
	Target     FetchTarget
	Success    bool
	Payload    []byte
	StatusCode int
	ErrKind    ErrKind
	ErrText    string
	Elapsed    time.Duration
	IdentityID string
	Attempts   int
}

// Record is a normalized job posting. Records are immutable value objects;
// the identity key is the sole deduplication criterion.
type Record struct {
	Source     string
	SourceID   string // source-native id, may be empty
	Title      string
	Company    string
	Location   string
	URL        string
	Salary     string
	Experience string
	PostedAt   time.Time
	ScrapedAt  time.Time
}

// Key returns the record's stable identity key: source plus source-native id
// when the source provides one, otherwise a digest of title, company and
// location.
func (r Record) Key() string {
	if r.SourceID != "" {
		return r.Source + ":" + r.SourceID
	}
	raw := strings.ToLower(strings.TrimSpace(r.Title)) + "|" +
		strings.ToLower(strings.TrimSpace(r.Company)) + "|" +
		strings.ToLower(strings.TrimSpace(r.Location))
	sum := sha256.Sum256([]byte(raw))
	return r.Source + ":" + hex.EncodeToString(sum[:8])
}

// CycleState is the lifecycle state of an orchestration cycle.
type CycleState string

// Cycle states. A cycle moves Idle -> Fetching -> Deduplicating ->
// Dispatching -> Complete; Failed is terminal and reachable only on a setup
// error before fetching starts.
const (
	CycleIdle          CycleState = "idle"
	CycleFetching      CycleState = "fetching"
	CycleDeduplicating CycleState = "deduplicating"
	CycleDispatching   CycleState = "dispatching"
	CycleComplete      CycleState = "complete"
	CycleFailed        CycleState = "failed"
)

// SourceStats counts per-source results within one cycle.
type SourceStats struct {
	Fetched    int `json:"fetched"`
	Errors     int `json:"errors"`
	Novel      int `json:"novel"`
	Duplicates int `json:"duplicates"`
}

// RunStats aggregates one orchestration cycle. Owned by the orchestrator
// while the cycle runs; read-only once the cycle completes.
type RunStats struct {
	RunID             string                 `json:"run_id"`
	State             CycleState             `json:"state"`
	Sources           map[string]SourceStats `json:"sources"`
	ErrorsByKind      map[ErrKind]int        `json:"errors_by_kind"`
	Fetched           int                    `json:"fetched"`
	Novel             int                    `json:"novel"`
	Duplicates        int                    `json:"duplicates"`
	Dispatched        int                    `json:"dispatched"`
	DispatchErrors    int                    `json:"dispatch_errors"`
	Deferred          int                    `json:"deferred"`
	FallbackTriggered bool                   `json:"fallback_triggered"`
	SetupError        string                 `json:"setup_error,omitempty"`
	Started           time.Time              `json:"started_at"`
	Duration          time.Duration          `json:"duration"`
}

// NewRunStats initializes an empty stats aggregate for a cycle.
func NewRunStats(runID string, started time.Time) *RunStats {
	return &RunStats{
		RunID:        runID,
		State:        CycleIdle,
		Sources:      make(map[string]SourceStats),
		ErrorsByKind: make(map[ErrKind]int),
		Started:      started,
	}
}

// CountError records a failure outcome under its source and kind.
func (s *RunStats) CountError(source string, kind ErrKind) {
	src := s.Sources[source]
	src.Errors++
	s.Sources[source] = src
	if kind != ErrKindNone {
		s.ErrorsByKind[kind]++
	}
}

// CountFetched records successfully derived records for a source.
func (s *RunStats) CountFetched(source string, n int) {
	src := s.Sources[source]
	src.Fetched += n
	s.Sources[source] = src
	s.Fetched += n
}

// Summary renders a one-line human summary of the cycle.
func (s *RunStats) Summary() string {
	return fmt.Sprintf("run %s: fetched=%d novel=%d duplicates=%d dispatched=%d errors=%d in %s",
		s.RunID, s.Fetched, s.Novel, s.Duplicates, s.Dispatched, s.totalErrors(), s.Duration.Round(time.Millisecond))
}

func (s *RunStats) totalErrors() int {
	n := 0
	for _, src := range s.Sources {
		n += src.Errors
	}
	return n + s.DispatchErrors
}
