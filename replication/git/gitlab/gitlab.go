// Package gitlab implements a git.Provider that opens merge requests on
// GitLab. Merge requests are always opened within the configured project;
// an owner prefix on the head branch is ignored.
package gitlab

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"
	gl "gitlab.com/gitlab-org/api/client-go"

	"github.com/byte4ever/mpbridge/replication"
	"github.com/byte4ever/mpbridge/replication/git"
)

// Config holds the settings needed to create a GitLab merge request
// provider.
type Config struct {
	// Host is the base URL of the GitLab instance
	// (e.g. "https://gitlab.com").
	Host string
	// Repo is the full project path
	// (e.g. "org/project").
	Repo string
	// AccessToken is a personal or project access
	// token used for authentication.
	AccessToken string
}

// Provider opens merge requests on GitLab.
//
// Pattern: Strategy -- implements git.Provider.
type Provider struct {
	client *gl.Client
	repo   string
}

// NewProvider validates cfg and returns a Provider ready to open merge
// requests.
func NewProvider(cfg Config) (*Provider, error) {
	const errCtx = "creating gitlab provider"

	if cfg.AccessToken == "" {
		return nil, fmt.Errorf(
			"%s: access token must be set", errCtx,
		)
	}

	if cfg.Repo == "" {
		return nil, fmt.Errorf(
			"%s: repo must be set", errCtx,
		)
	}

	host := cfg.Host
	if host == "" {
		host = "https://gitlab.com"
	}

	client, err := gl.NewClient(
		cfg.AccessToken,
		gl.WithBaseURL(host),
	)
	if err != nil {
		return nil, fmt.Errorf(
			"%s: new client: %w", errCtx, err,
		)
	}

	return &Provider{
		client: client,
		repo:   cfg.Repo,
	}, nil
}

// FindPR returns the merge request, in any state, from head's branch into
// base.
func (p *Provider) FindPR(
	ctx context.Context,
	head string,
	base string,
) (*git.PullRequest, error) {
	const errCtx = "finding gitlab merge request"

	_, branch := git.SplitHead(head)

	mrs, resp, err := p.client.MergeRequests.ListProjectMergeRequests(
		p.repo,
		&gl.ListProjectMergeRequestsOptions{
			SourceBranch: gl.Ptr(branch),
			TargetBranch: gl.Ptr(base),
		},
		gl.WithContext(ctx),
	)
	if err != nil {
		return nil, fmt.Errorf(
			"%s: %w", errCtx, classify(resp, err),
		)
	}

	if len(mrs) == 0 {
		return nil, nil
	}

	return &git.PullRequest{
		URL:    mrs[0].WebURL,
		Number: int(mrs[0].IID),
	}, nil
}

// CreatePR creates a merge request from head's branch into base. HTTP 409
// (one already exists for this source branch) maps to
// git.ErrPullRequestExists.
func (p *Provider) CreatePR(
	ctx context.Context,
	pr git.NewPullRequest,
) (*git.PullRequest, error) {
	const errCtx = "creating gitlab merge request"

	_, branch := git.SplitHead(pr.Head)

	opts := gl.CreateMergeRequestOptions{
		Title:        gl.Ptr(pr.Title),
		Description:  gl.Ptr(pr.Body),
		SourceBranch: gl.Ptr(branch),
		TargetBranch: gl.Ptr(pr.Base),
	}

	created, resp, err := p.client.MergeRequests.CreateMergeRequest(
		p.repo, &opts, gl.WithContext(ctx),
	)
	if err != nil {
		if resp != nil &&
			resp.StatusCode == http.StatusConflict {
			return nil, fmt.Errorf(
				"%s: %w", errCtx, git.ErrPullRequestExists,
			)
		}

		return nil, fmt.Errorf(
			"%s: %w", errCtx, classify(resp, err),
		)
	}

	return &git.PullRequest{
		URL:    created.WebURL,
		Number: int(created.IID),
	}, nil
}

func classify(resp *gl.Response, err error) error {
	if resp == nil {
		return err
	}

	log.Warn().
		Int("status", resp.StatusCode).
		Err(err).
		Msg("gitlab response")

	return &replication.PullRequestCreationError{
		StatusCode: resp.StatusCode,
		Err:        err,
	}
}
