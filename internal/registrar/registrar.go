// Package registrar fetches and parses the registrar's per-CRN detail page.
// The page is fragile, hand-authored HTML rather than well-formed XML, so
// extraction is two named regex constants rather than a DOM parser — see
// identityRowPattern and seatsRowPattern below, grounded on the original
// scraper's _NAME_RE / _SEATS_ROW_RE.
package registrar

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	"github.com/reapergt/poller/internal/model"
	"github.com/reapergt/poller/internal/telemetry"
)

// identityRowPattern matches the first <th class="ddlabel">...</th> cell,
// which carries "<course name> - <campus> - <course id> - <section>".
var identityRowPattern = regexp.MustCompile(`(?is)<th[^>]*class=["']ddlabel["'][^>]*>(.*?)</th>`)

// seatsRowPattern matches the Capacity/Actual/Remaining row, which the
// registrar renders as a <SPAN>Seats</SPAN> label cell followed by exactly
// three numeric <td> cells.
var seatsRowPattern = regexp.MustCompile(`(?is)<SPAN[^>]*>Seats</SPAN></th>\s*<td[^>]*>(\d+)</td>\s*<td[^>]*>(\d+)</td>\s*<td[^>]*>(\d+)</td>`)

var brPattern = regexp.MustCompile(`(?i)<br\s*/?>`)
var tagPattern = regexp.MustCompile(`<[^>]+>`)

// FetchErrorKind classifies why a fetch did not produce an Observation.
type FetchErrorKind string

const (
	// KindTransport is a network/IO failure reaching the registrar.
	KindTransport FetchErrorKind = "transport"
	// KindHTTPStatus is a non-200 response from the registrar.
	KindHTTPStatus FetchErrorKind = "http_status"
	// KindNotFound means the identity row is absent: the CRN does not
	// exist on the registrar site, distinct from a transport failure.
	KindNotFound FetchErrorKind = "not_found"
)

// FetchError is returned by Fetch when no Observation could be produced.
type FetchError struct {
	Kind   FetchErrorKind
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	switch e.Kind {
	case KindHTTPStatus:
		return fmt.Sprintf("registrar: http status %d", e.Status)
	case KindNotFound:
		return "registrar: crn not found"
	default:
		return fmt.Sprintf("registrar: transport: %v", e.Err)
	}
}

func (e *FetchError) Unwrap() error { return e.Err }

// Config configures a Client.
type Config struct {
	// BaseURL is the registrar endpoint template, e.g.
	// "https://oscar.gatech.edu/pls/bprod/bwckschd.p_disp_detail_sched".
	BaseURL string
	// Term is the registrar's fixed six-digit term code.
	Term string
	// RequestsPerSecond paces outbound fetches client-side so the poller
	// never hammers the registrar regardless of FETCH_CONCURRENCY.
	RequestsPerSecond float64
	// Burst is the token bucket burst size for the limiter above.
	Burst int
}

// Client fetches and parses the registrar detail page for a CRN.
type Client struct {
	httpClient *http.Client
	baseURL    string
	term       string
	limiter    *rate.Limiter
	logger     zerolog.Logger
}

// New constructs a Client with a 10s request timeout per spec.md §4.2.
func New(cfg Config, logger zerolog.Logger) *Client {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 20
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 10
	}
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    cfg.BaseURL,
		term:       cfg.Term,
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		logger:     logger,
	}
}

// Fetch retrieves and parses the detail page for crn.
func (c *Client) Fetch(ctx context.Context, crn string) (*model.Observation, error) {
	ctx, span := telemetry.Tracer("registrar").Start(ctx, "registrar.Fetch")
	span.SetAttributes(attribute.String("crn", crn))
	defer span.End()

	obs, err := c.fetch(ctx, crn)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return obs, err
}

func (c *Client) fetch(ctx context.Context, crn string) (*model.Observation, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &FetchError{Kind: KindTransport, Err: err}
	}

	url := fmt.Sprintf("%s?term_in=%s&crn_in=%s", c.baseURL, c.term, crn)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{Kind: KindTransport, Err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{Kind: KindTransport, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{Kind: KindHTTPStatus, Status: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{Kind: KindTransport, Err: err}
	}

	return parse(string(body), time.Now())
}

func parse(html string, observedAt time.Time) (*model.Observation, error) {
	identity := identityRowPattern.FindStringSubmatch(html)
	if identity == nil {
		return nil, &FetchError{Kind: KindNotFound}
	}

	name, id, section := parseIdentity(identity[1])

	obs := &model.Observation{
		CourseName:    name,
		CourseID:      id,
		CourseSection: section,
		ObservedAt:    observedAt,
	}

	seats := seatsRowPattern.FindStringSubmatch(html)
	if seats == nil {
		// Missing seats row is not a fetch failure: treat as closed and
		// still return a metadata-refresh observation (spec.md §4.2).
		obs.IsOpen = false
		obs.SeatsRemaining = 0
		obs.TotalSeats = 0
		return obs, nil
	}

	capacity, errCap := strconv.Atoi(seats[1])
	remaining, errRem := strconv.Atoi(seats[3])
	if errCap != nil || errRem != nil {
		obs.IsOpen = false
		obs.SeatsRemaining = 0
		obs.TotalSeats = 0
		return obs, nil
	}

	obs.TotalSeats = capacity
	obs.SeatsRemaining = remaining
	obs.IsOpen = remaining > 0
	return obs, nil
}

// parseIdentity splits the identity cell's inner text on " - " with <br/>
// stripped. Index 0 is course_name, index 2 is course_id, index 3 is
// course_section. Fewer than 4 parts falls back to (full text, "N/A", "N/A").
func parseIdentity(inner string) (name, courseID, section string) {
	text := brPattern.ReplaceAllString(inner, " ")
	text = tagPattern.ReplaceAllString(text, "")
	text = strings.TrimSpace(text)

	parts := strings.Split(text, " - ")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	if len(parts) < 4 {
		return text, "N/A", "N/A"
	}
	return parts[0], parts[2], parts[3]
}

// IsNotFound reports whether err is a FetchError of kind not_found.
func IsNotFound(err error) bool {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind == KindNotFound
	}
	return false
}
