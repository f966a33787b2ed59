package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	gh "github.com/google/go-github/v68/github"
	"github.com/rs/zerolog/log"

	"github.com/byte4ever/mpbridge/replication"
	"github.com/byte4ever/mpbridge/replication/git"
)

// Config holds the settings needed to create a GitHub pull request
// provider.
type Config struct {
	// RepoOwner is the GitHub user or organisation that owns the
	// repository pull requests are opened against.
	RepoOwner string
	// Repo is the repository name (without owner).
	Repo string
	// AccessToken is a personal access token or GitHub App token sent
	// as a bearer token.
	AccessToken string
	// EnterpriseHost is an optional GitHub Enterprise hostname (e.g.
	// "git.corp.example.com"). Leave empty for github.com.
	EnterpriseHost string
	// APIBaseURL overrides the REST endpoint entirely. It must end
	// with a slash.
	APIBaseURL string
}

// Provider opens pull requests on GitHub.
//
// Pattern: Strategy -- implements git.Provider.
type Provider struct {
	client    *gh.Client
	repoOwner string
	repo      string
}

// NewProvider validates cfg and returns a Provider ready to open pull
// requests.
func NewProvider(cfg Config) (*Provider, error) {
	const errCtx = "creating github provider"

	if cfg.RepoOwner == "" {
		return nil, fmt.Errorf(
			"%s: repo owner must be set", errCtx,
		)
	}

	if cfg.Repo == "" {
		return nil, fmt.Errorf(
			"%s: repo must be set", errCtx,
		)
	}

	if cfg.AccessToken == "" {
		return nil, fmt.Errorf(
			"%s: access token must be set", errCtx,
		)
	}

	client := gh.NewClient(nil).
		WithAuthToken(cfg.AccessToken)

	if cfg.EnterpriseHost != "" {
		baseURL := "https://" +
			cfg.EnterpriseHost + "/api/v3/"
		uploadURL := "https://" +
			cfg.EnterpriseHost + "/api/uploads/"

		var err error

		client, err = client.WithEnterpriseURLs(
			baseURL, uploadURL,
		)
		if err != nil {
			return nil, fmt.Errorf(
				"%s: enterprise urls: %w",
				errCtx, err,
			)
		}
	}

	if cfg.APIBaseURL != "" {
		base, err := url.Parse(cfg.APIBaseURL)
		if err != nil {
			return nil, fmt.Errorf(
				"%s: api base url: %w", errCtx, err,
			)
		}

		client.BaseURL = base
	}

	return &Provider{
		client:    client,
		repoOwner: cfg.RepoOwner,
		repo:      cfg.Repo,
	}, nil
}

// FindPR returns the pull request, open or closed, whose head and base
// match. An unqualified head is qualified with the repository owner.
func (p *Provider) FindPR(
	ctx context.Context,
	head string,
	base string,
) (*git.PullRequest, error) {
	const errCtx = "finding github pull request"

	prs, resp, err := p.client.PullRequests.List(
		ctx, p.repoOwner, p.repo,
		&gh.PullRequestListOptions{
			State: "all",
			Head:  p.qualify(head),
			Base:  base,
		},
	)
	if err != nil {
		return nil, fmt.Errorf(
			"%s: %w", errCtx, classify(resp, err),
		)
	}

	if len(prs) == 0 {
		return nil, nil
	}

	return &git.PullRequest{
		URL:    prs[0].GetHTMLURL(),
		Number: prs[0].GetNumber(),
	}, nil
}

// CreatePR creates a pull request from pr.Head into pr.Base. A 422 whose
// message says the pull request already exists maps to
// git.ErrPullRequestExists.
func (p *Provider) CreatePR(
	ctx context.Context,
	pr git.NewPullRequest,
) (*git.PullRequest, error) {
	const errCtx = "creating github pull request"

	created, resp, err := p.client.PullRequests.Create(
		ctx, p.repoOwner, p.repo,
		&gh.NewPullRequest{
			Title: gh.Ptr(pr.Title),
			Head:  gh.Ptr(pr.Head),
			Base:  gh.Ptr(pr.Base),
			Body:  gh.Ptr(pr.Body),
		},
	)
	if err != nil {
		if isDuplicate(resp, err) {
			return nil, fmt.Errorf(
				"%s: %w", errCtx, git.ErrPullRequestExists,
			)
		}

		return nil, fmt.Errorf(
			"%s: %w", errCtx, classify(resp, err),
		)
	}

	return &git.PullRequest{
		URL:    created.GetHTMLURL(),
		Number: created.GetNumber(),
	}, nil
}

// qualify prefixes head with the repository owner unless it already names
// one; the list endpoint only filters on "owner:branch".
func (p *Provider) qualify(head string) string {
	if owner, _ := git.SplitHead(head); owner != "" {
		return head
	}

	return p.repoOwner + ":" + head
}

// isDuplicate recognises GitHub's "A pull request already exists for
// owner:branch." validation failure.
func isDuplicate(resp *gh.Response, err error) bool {
	if resp == nil ||
		resp.StatusCode != http.StatusUnprocessableEntity {
		return false
	}

	var ghErr *gh.ErrorResponse
	if !errors.As(err, &ghErr) {
		return false
	}

	if strings.Contains(ghErr.Message, "already exists") {
		return true
	}

	for _, e := range ghErr.Errors {
		if strings.Contains(e.Message, "already exists") {
			return true
		}
	}

	return false
}

// classify turns an HTTP level failure into a
// *replication.PullRequestCreationError; transport failures are returned
// unchanged so the orchestrator retries them.
func classify(resp *gh.Response, err error) error {
	if resp == nil {
		return err
	}

	var (
		rateErr  *gh.RateLimitError
		abuseErr *gh.AbuseRateLimitError
	)

	if errors.As(err, &rateErr) || errors.As(err, &abuseErr) {
		return err
	}

	log.Warn().
		Int("status", resp.StatusCode).
		Err(err).
		Msg("github response")

	return &replication.PullRequestCreationError{
		StatusCode: resp.StatusCode,
		Err:        err,
	}
}
