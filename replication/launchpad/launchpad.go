package launchpad

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/byte4ever/mpbridge/replication"
	"github.com/byte4ever/mpbridge/replication/stamper"
)

const (
	// DefaultWebBase is the prefix of merge proposal links as users share
	// them.
	DefaultWebBase = "https://code.launchpad.net/"
	// DefaultAPIBase is the API prefix web links are rewritten to.
	DefaultAPIBase = "https://api.launchpad.net/devel/"
	// DefaultDiffSuffix is appended to preview_diff_link to download the
	// raw diff.
	DefaultDiffSuffix = "/+files/preview.diff"

	mergeMarker = "+merge/"
)

// Config holds the settings of a Fetcher. Zero fields take the defaults.
type Config struct {
	WebBase    string
	APIBase    string
	DiffSuffix string
	// RequestsPerSecond paces outbound requests. Zero or negative means
	// no limit.
	RequestsPerSecond float64
	// Timeout bounds each HTTP request.
	Timeout time.Duration
	// Client overrides the HTTP client, mainly for tests.
	Client *http.Client
}

// Fetcher downloads merge proposal diffs from Launchpad.
type Fetcher struct {
	webBase    string
	apiBase    string
	diffSuffix string
	limiter    *rate.Limiter
	client     *http.Client
}

type mergeProposal struct {
	PreviewDiffLink string `json:"preview_diff_link"`
}

// NewFetcher returns a Fetcher configured by cfg.
func NewFetcher(cfg Config) *Fetcher {
	fe := &Fetcher{
		webBase:    cfg.WebBase,
		apiBase:    cfg.APIBase,
		diffSuffix: cfg.DiffSuffix,
		limiter:    rate.NewLimiter(rate.Inf, 1),
		client:     cfg.Client,
	}

	if fe.webBase == "" {
		fe.webBase = DefaultWebBase
	}

	if fe.apiBase == "" {
		fe.apiBase = DefaultAPIBase
	}

	if fe.diffSuffix == "" {
		fe.diffSuffix = DefaultDiffSuffix
	}

	if cfg.RequestsPerSecond > 0 {
		fe.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	if fe.client == nil {
		fe.client = &http.Client{Timeout: cfg.Timeout}
	}

	return fe
}

// APILink rewrites a merge proposal web link into its API form. Links
// already on the API base are returned unchanged.
func (f *Fetcher) APILink(link string) (string, error) {
	switch {
	case strings.HasPrefix(link, f.apiBase):
		return link, nil
	case strings.HasPrefix(link, f.webBase):
		return f.apiBase + strings.TrimPrefix(link, f.webBase), nil
	default:
		return "", fmt.Errorf(
			"%w: %q", replication.ErrInvalidMergeProposal, link,
		)
	}
}

// Fetch returns the unified diff of the merge proposal at link, verbatim.
func (f *Fetcher) Fetch(ctx context.Context, link string) (string, error) {
	const errCtx = "fetching merge proposal diff"

	apiLink, err := f.APILink(link)
	if err != nil {
		return "", fmt.Errorf("%s: %w", errCtx, err)
	}

	body, err := f.get(ctx, apiLink, "application/json")
	if err != nil {
		return "", fmt.Errorf("%s: %w", errCtx, err)
	}

	var mp mergeProposal
	if err := json.Unmarshal(body, &mp); err != nil {
		return "", fmt.Errorf(
			"%s: %w", errCtx,
			&replication.MalformedResponseError{
				URL:    apiLink,
				Reason: "decoding merge proposal: " + err.Error(),
			},
		)
	}

	if mp.PreviewDiffLink == "" {
		return "", fmt.Errorf(
			"%s: %w", errCtx,
			&replication.MalformedResponseError{
				URL:    apiLink,
				Reason: "missing preview_diff_link",
			},
		)
	}

	replication.Heartbeat(ctx, "merge proposal resolved")

	diffLink := mp.PreviewDiffLink + f.diffSuffix

	diff, err := f.get(ctx, diffLink, "text/x-diff")
	if err != nil {
		return "", fmt.Errorf("%s: %w", errCtx, err)
	}

	if len(diff) == 0 {
		return "", fmt.Errorf(
			"%s: %w", errCtx,
			&replication.MalformedResponseError{
				URL:    diffLink,
				Reason: "empty diff",
			},
		)
	}

	log.Info().
		Str("link", link).
		Int("bytes", len(diff)).
		Msg("fetched merge proposal diff")

	return string(diff), nil
}

// get issues one paced GET and returns the body of a 2xx answer.
func (f *Fetcher) get(
	ctx context.Context,
	url string,
	accept string,
) ([]byte, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Accept", accept)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", url, err)
	}

	defer resp.Body.Close() //nolint:errcheck

	log.Debug().
		Str("url", url).
		Int("status", resp.StatusCode).
		Msg("launchpad response")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &replication.UpstreamFetchError{
			URL:        url,
			StatusCode: resp.StatusCode,
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}

	return body, nil
}

// MergeProposalID extracts the numeric merge proposal id following
// "+merge/" in link.
func MergeProposalID(link string) (string, error) {
	_, rest, ok := strings.Cut(link, mergeMarker)
	if !ok {
		return "", fmt.Errorf(
			"%w: no %q in %q",
			replication.ErrInvalidMergeProposal, mergeMarker, link,
		)
	}

	id, _, _ := strings.Cut(strings.TrimSuffix(rest, "/"), "/")
	if _, err := strconv.ParseUint(id, 10, 64); err != nil {
		return "", fmt.Errorf(
			"%w: non numeric id %q",
			replication.ErrInvalidMergeProposal, id,
		)
	}

	return id, nil
}

// Vars returns the template variables describing req: request_id, target,
// merge_proposal_link and merge_proposal_id.
func Vars(req replication.Request) stamper.Vars {
	vars := stamper.Vars{
		"request_id":          req.ID,
		"target":              string(req.Target),
		"merge_proposal_link": req.MergeProposalLink,
		"merge_proposal_id":   req.MergeProposalLink,
	}

	if id, err := MergeProposalID(req.MergeProposalLink); err == nil {
		vars["merge_proposal_id"] = id
	}

	return vars
}
