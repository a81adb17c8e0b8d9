package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v68/github"
)

// GitHubBlobs is a BlobClient backed by the GitHub repository contents API.
// Blob SHAs returned by the API are the revisions.
type GitHubBlobs struct {
	client *github.Client
	owner  string
	repo   string
	branch string
}

var _ BlobClient = (*GitHubBlobs)(nil)

// NewGitHubClient builds an API client. baseURL may point at a GitHub
// Enterprise instance or a test server; empty means api.github.com.
func NewGitHubClient(token, baseURL string) (*github.Client, error) {
	client := github.NewClient(nil)
	if token != "" {
		client = client.WithAuthToken(token)
	}
	if baseURL != "" {
		if !strings.HasSuffix(baseURL, "/") {
			baseURL += "/"
		}
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("storage: github base url: %w", err)
		}
		client.BaseURL = u
	}
	return client, nil
}

func NewGitHubBlobs(client *github.Client, owner, repo, branch string) *GitHubBlobs {
	return &GitHubBlobs{client: client, owner: owner, repo: repo, branch: branch}
}

func (g *GitHubBlobs) getOptions() *github.RepositoryContentGetOptions {
	if g.branch == "" {
		return nil
	}
	return &github.RepositoryContentGetOptions{Ref: g.branch}
}

func (g *GitHubBlobs) fileOptions(message string, content []byte, sha string) *github.RepositoryContentFileOptions {
	opts := &github.RepositoryContentFileOptions{
		Message: github.Ptr(message),
		Content: content,
	}
	if sha != "" {
		opts.SHA = github.Ptr(sha)
	}
	if g.branch != "" {
		opts.Branch = github.Ptr(g.branch)
	}
	return opts
}

func (g *GitHubBlobs) ListDir(ctx context.Context, dir string) ([]BlobRef, error) {
	_, entries, _, err := g.client.Repositories.GetContents(ctx, g.owner, g.repo, dir, g.getOptions())
	if err != nil {
		if hasStatus(err, http.StatusNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("github: list %s: %w", dir, err)
	}
	refs := make([]BlobRef, 0, len(entries))
	for _, e := range entries {
		if e.GetType() != "file" {
			continue
		}
		refs = append(refs, BlobRef{Path: e.GetPath(), Name: e.GetName(), SHA: e.GetSHA()})
	}
	return refs, nil
}

func (g *GitHubBlobs) Get(ctx context.Context, path string) ([]byte, string, error) {
	file, _, _, err := g.client.Repositories.GetContents(ctx, g.owner, g.repo, path, g.getOptions())
	if err != nil {
		if hasStatus(err, http.StatusNotFound) {
			return nil, "", fmt.Errorf("github: get %s: %w", path, fs.ErrNotExist)
		}
		return nil, "", fmt.Errorf("github: get %s: %w", path, err)
	}
	if file == nil {
		return nil, "", fmt.Errorf("github: get %s: not a file", path)
	}
	// Files above 1 MB come back without inline content.
	if file.GetEncoding() == "none" {
		raw, _, err := g.client.Git.GetBlobRaw(ctx, g.owner, g.repo, file.GetSHA())
		if err != nil {
			return nil, "", fmt.Errorf("github: get blob %s: %w", path, err)
		}
		return raw, file.GetSHA(), nil
	}
	content, err := file.GetContent()
	if err != nil {
		return nil, "", fmt.Errorf("github: decode %s: %w", path, err)
	}
	return []byte(content), file.GetSHA(), nil
}

func (g *GitHubBlobs) Create(ctx context.Context, path string, content []byte, message string) (string, error) {
	resp, _, err := g.client.Repositories.CreateFile(ctx, g.owner, g.repo, path, g.fileOptions(message, content, ""))
	if err != nil {
		// The contents API answers 422 when a create omits the sha of an
		// existing file.
		if hasStatus(err, http.StatusUnprocessableEntity) {
			return "", fmt.Errorf("github: create %s: %w", path, fs.ErrExist)
		}
		return "", fmt.Errorf("github: create %s: %w", path, err)
	}
	return contentSHA(resp), nil
}

func (g *GitHubBlobs) Update(ctx context.Context, path string, content []byte, sha, message string) (string, error) {
	resp, _, err := g.client.Repositories.UpdateFile(ctx, g.owner, g.repo, path, g.fileOptions(message, content, sha))
	if err != nil {
		return "", fmt.Errorf("github: update %s: %w", path, mapWriteError(err))
	}
	return contentSHA(resp), nil
}

func (g *GitHubBlobs) Delete(ctx context.Context, path, sha, message string) error {
	_, _, err := g.client.Repositories.DeleteFile(ctx, g.owner, g.repo, path, g.fileOptions(message, nil, sha))
	if err != nil {
		return fmt.Errorf("github: delete %s: %w", path, mapWriteError(err))
	}
	return nil
}

func mapWriteError(err error) error {
	switch {
	case hasStatus(err, http.StatusConflict):
		return ErrStaleRevision
	case hasStatus(err, http.StatusNotFound):
		return fs.ErrNotExist
	default:
		return err
	}
}

func contentSHA(resp *github.RepositoryContentResponse) string {
	if resp == nil {
		return ""
	}
	return resp.Content.GetSHA()
}

func hasStatus(err error, code int) bool {
	var er *github.ErrorResponse
	return errors.As(err, &er) && er.Response != nil && er.Response.StatusCode == code
}
