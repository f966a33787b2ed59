// Package bitbucket implements a git.Provider for Bitbucket Server pull
// requests over its REST API.
package bitbucket

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/byte4ever/mpbridge/replication"
	"github.com/byte4ever/mpbridge/replication/git"
)

// Config holds the settings needed to create a Bitbucket pull request
// provider.
type Config struct {
	// APIEndpoint is the full Bitbucket Server REST API URL for pull
	// requests, including project and repo path (e.g.
	// "https://bb.example.com/rest/api/1.0/
	// projects/PROJ/repos/repo/pull-requests").
	APIEndpoint string
	// ProjectKey and RepoSlug identify the repository in request
	// bodies.
	ProjectKey string
	RepoSlug   string
	// User is the Bitbucket API username.
	User string
	// Password is the Bitbucket API password (or personal access
	// token).
	Password string
}

// Provider opens pull requests on Bitbucket Server.
//
// Pattern: Strategy -- implements git.Provider.
type Provider struct {
	endpoint string
	user     string
	password string
	repo     repository
	client   *http.Client
}

type project struct {
	Key string `json:"key,omitempty"`
}

type repository struct {
	Slug    string  `json:"slug,omitempty"`
	Project project `json:"project"`
}

type pullrequestEndpoint struct {
	ID         string     `json:"id,omitempty"`
	Repository repository `json:"repository,omitempty"`
}

type pullrequest struct {
	ID          int                  `json:"id,omitempty"`
	Title       string               `json:"title,omitempty"`
	Description string               `json:"description,omitempty"`
	State       string               `json:"state,omitempty"`
	Open        bool                 `json:"open"`
	Closed      bool                 `json:"closed"`
	FromRef     *pullrequestEndpoint `json:"fromRef,omitempty"`
	ToRef       *pullrequestEndpoint `json:"toRef,omitempty"`
	Locked      bool                 `json:"locked"`
	Reviewers   []account            `json:"reviewers,omitempty"`
	Links       links                `json:"links,omitempty"`
}

type links struct {
	Self []link `json:"self,omitempty"`
}

type link struct {
	Href string `json:"href"`
}

type page struct {
	Values []pullrequest `json:"values"`
}

type account struct {
	User user `json:"user"`
}

type user struct {
	Name string `json:"name,omitempty"`
}

// NewProvider validates cfg and returns a Provider ready to open pull
// requests.
func NewProvider(cfg Config) (*Provider, error) {
	const errCtx = "creating bitbucket provider"

	if cfg.APIEndpoint == "" {
		return nil, fmt.Errorf(
			"%s: api endpoint must be set",
			errCtx,
		)
	}

	if cfg.ProjectKey == "" || cfg.RepoSlug == "" {
		return nil, fmt.Errorf(
			"%s: project key and repo slug must be set",
			errCtx,
		)
	}

	if cfg.User == "" {
		return nil, fmt.Errorf(
			"%s: user must be set", errCtx,
		)
	}

	if cfg.Password == "" {
		return nil, fmt.Errorf(
			"%s: password must be set", errCtx,
		)
	}

	return &Provider{
		endpoint: cfg.APIEndpoint,
		user:     cfg.User,
		password: cfg.Password,
		repo: repository{
			Slug:    cfg.RepoSlug,
			Project: project{Key: cfg.ProjectKey},
		},
		client: http.DefaultClient,
	}, nil
}

// FindPR lists outgoing pull requests of head's branch in every state and
// returns the one targeting base.
func (p *Provider) FindPR(
	ctx context.Context,
	head string,
	base string,
) (*git.PullRequest, error) {
	const errCtx = "finding bitbucket pull request"

	_, branch := git.SplitHead(head)

	q := url.Values{}
	q.Set("at", "refs/heads/"+branch)
	q.Set("direction", "OUTGOING")
	q.Set("state", "ALL")

	req, err := http.NewRequestWithContext(
		ctx, http.MethodGet, p.endpoint+"?"+q.Encode(), nil,
	)
	if err != nil {
		return nil, fmt.Errorf(
			"%s: build request: %w", errCtx, err,
		)
	}

	status, body, err := p.do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	if status != http.StatusOK {
		return nil, fmt.Errorf(
			"%s: %w", errCtx,
			&replication.PullRequestCreationError{
				StatusCode: status,
			},
		)
	}

	var pg page
	if err := json.Unmarshal(body, &pg); err != nil {
		return nil, fmt.Errorf(
			"%s: decode: %w", errCtx, err,
		)
	}

	for _, pr := range pg.Values {
		if pr.ToRef != nil && pr.ToRef.ID == "refs/heads/"+base {
			return toPullRequest(pr), nil
		}
	}

	return nil, nil
}

// CreatePR creates a pull request from head's branch into base. Returns
// git.ErrPullRequestExists on 409 (already exists).
func (p *Provider) CreatePR(
	ctx context.Context,
	npr git.NewPullRequest,
) (*git.PullRequest, error) {
	const errCtx = "creating bitbucket pull request"

	_, branch := git.SplitHead(npr.Head)

	pr := pullrequest{
		Title:       npr.Title,
		Description: npr.Body,
		State:       "OPEN",
		Open:        true,
		Closed:      false,
		FromRef: &pullrequestEndpoint{
			ID:         "refs/heads/" + branch,
			Repository: p.repo,
		},
		ToRef: &pullrequestEndpoint{
			ID:         "refs/heads/" + npr.Base,
			Repository: p.repo,
		},
		Locked:    false,
		Reviewers: []account{},
	}

	payload, err := json.Marshal(&pr)
	if err != nil {
		return nil, fmt.Errorf(
			"%s: marshal request: %w", errCtx, err,
		)
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		p.endpoint,
		bytes.NewBuffer(payload),
	)
	if err != nil {
		return nil, fmt.Errorf(
			"%s: build request: %w", errCtx, err,
		)
	}

	req.Header.Set(
		"Content-Type",
		"application/json; charset=utf-8",
	)

	status, body, err := p.do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	switch status {
	case http.StatusCreated:
		var created pullrequest
		if err := json.Unmarshal(body, &created); err != nil {
			return nil, fmt.Errorf(
				"%s: decode: %w", errCtx, err,
			)
		}

		return toPullRequest(created), nil
	case http.StatusConflict:
		return nil, fmt.Errorf(
			"%s: %w", errCtx, git.ErrPullRequestExists,
		)
	default:
		return nil, fmt.Errorf(
			"%s: %w", errCtx,
			&replication.PullRequestCreationError{
				StatusCode: status,
			},
		)
	}
}

// do sends req with basic auth and returns status and body.
func (p *Provider) do(req *http.Request) (int, []byte, error) {
	req.SetBasicAuth(p.user, p.password)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("send request: %w", err)
	}

	defer resp.Body.Close() //nolint:errcheck

	rb, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}

	log.Debug().
		Str("status", resp.Status).
		Str("body", string(rb)).
		Msg("bitbucket response")

	return resp.StatusCode, rb, nil
}

func toPullRequest(pr pullrequest) *git.PullRequest {
	out := &git.PullRequest{Number: pr.ID}
	if len(pr.Links.Self) > 0 {
		out.URL = pr.Links.Self[0].Href
	}

	return out
}
