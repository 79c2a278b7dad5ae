package registry

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
)

// githubScheme marks a manifest path fetched through the GitHub
// contents API instead of the local filesystem.
const githubScheme = "github://"

// GitHubTokenEnv names the environment variable holding an optional
// access token for private repositories.
const GitHubTokenEnv = "PODSHIP_GITHUB_TOKEN"

// parseGitHubPath splits github://owner/repo/path/to/file into its
// parts.
func parseGitHubPath(path string) (owner, repo, filePath string, err error) {
	trimmed := strings.TrimPrefix(path, githubScheme)
	parts := strings.SplitN(trimmed, "/", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", "", fmt.Errorf("invalid github manifest path %q, want github://owner/repo/path", path)
	}
	return parts[0], parts[1], parts[2], nil
}

func newGitHubClient() *github.Client {
	token := os.Getenv(GitHubTokenEnv)
	if token == "" {
		return github.NewClient(nil)
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	return github.NewClient(oauth2.NewClient(context.Background(), ts))
}

// fetchGitHubFile downloads one file from a repository's default
// branch.
func fetchGitHubFile(path string) ([]byte, error) {
	owner, repo, filePath, err := parseGitHubPath(path)
	if err != nil {
		return nil, err
	}

	client := newGitHubClient()
	ctx := context.Background()

	fileContent, _, _, err := client.Repositories.GetContents(ctx, owner, repo, filePath, nil)
	if err != nil {
		return nil, fmt.Errorf("fetching %s from %s/%s: %w", filePath, owner, repo, err)
	}
	if fileContent == nil {
		return nil, fmt.Errorf("%s in %s/%s is not a file", filePath, owner, repo)
	}

	raw, err := fileContent.GetContent()
	if err != nil {
		return nil, fmt.Errorf("decoding %s from %s/%s: %w", filePath, owner, repo, err)
	}
	return []byte(raw), nil
}
