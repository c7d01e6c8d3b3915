// Package report files and updates GitHub issues for benchmark
// regressions, using a GitHub App installation client exactly as
// apps/ReleaseParty's backend/internal/githubapp wires ghinstallation
// to go-github.
package report

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"github.com/google/go-github/v66/github"
)

// GitHubApp holds the App credentials needed to mint installation
// clients on demand.
type GitHubApp struct {
	AppID         int64
	InstallationID int64
	PrivateKeyPEM []byte
}

// NewGitHubApp validates the PEM is present and returns a GitHubApp.
func NewGitHubApp(appID, installationID int64, privateKeyPEM string) (*GitHubApp, error) {
	key := []byte(strings.TrimSpace(privateKeyPEM))
	if len(key) == 0 {
		return nil, fmt.Errorf("report: empty GitHub App private key")
	}
	return &GitHubApp{AppID: appID, InstallationID: installationID, PrivateKeyPEM: key}, nil
}

// Client mints an installation-scoped go-github client.
func (a *GitHubApp) Client() (*github.Client, error) {
	tr, err := ghinstallation.New(http.DefaultTransport, a.AppID, a.InstallationID, a.PrivateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("report: building installation transport: %w", err)
	}
	return github.NewClient(&http.Client{Transport: tr}), nil
}

// Regression describes a drop between a baseline and candidate
// benchmark run that crossed the "significant regression" threshold.
type Regression struct {
	Benchmark   string
	Metric      string
	BaselineCI  [2]float64
	CandidateCI [2]float64
}

const regressionLabel = "audit-benchmark-regression"

// FileRegressionIssue opens (or, if an open issue with the same title
// already exists, comments on) a GitHub issue describing a regression.
func FileRegressionIssue(ctx context.Context, client *github.Client, owner, repo string, reg Regression) (string, error) {
	title := fmt.Sprintf("Benchmark regression: %s (%s)", reg.Benchmark, reg.Metric)
	body := formatRegressionBody(reg)

	existing, err := findOpenIssueByTitle(ctx, client, owner, repo, title)
	if err != nil {
		return "", err
	}
	if existing != nil {
		comment := &github.IssueComment{Body: github.String(body)}
		_, _, err := client.Issues.CreateComment(ctx, owner, repo, existing.GetNumber(), comment)
		if err != nil {
			return "", fmt.Errorf("report: commenting on issue #%d: %w", existing.GetNumber(), err)
		}
		return existing.GetHTMLURL(), nil
	}

	issue := &github.IssueRequest{
		Title:  github.String(title),
		Body:   github.String(body),
		Labels: &[]string{regressionLabel},
	}
	created, _, err := client.Issues.Create(ctx, owner, repo, issue)
	if err != nil {
		return "", fmt.Errorf("report: creating issue: %w", err)
	}
	return created.GetHTMLURL(), nil
}

func findOpenIssueByTitle(ctx context.Context, client *github.Client, owner, repo, title string) (*github.Issue, error) {
	opts := &github.IssueListByRepoOptions{
		State:       "open",
		Labels:      []string{regressionLabel},
		ListOptions: github.ListOptions{PerPage: 100},
	}
	issues, _, err := client.Issues.ListByRepo(ctx, owner, repo, opts)
	if err != nil {
		return nil, fmt.Errorf("report: listing open issues: %w", err)
	}
	for _, i := range issues {
		if i.GetTitle() == title {
			return i, nil
		}
	}
	return nil, nil
}

func formatRegressionBody(r Regression) string {
	return fmt.Sprintf(
		"Benchmark `%s` regressed on metric `%s`.\n\nBaseline 95%% CI: [%.4f, %.4f]\nCandidate 95%% CI: [%.4f, %.4f]\n\nConfidence intervals do not overlap: this is a significant regression, not noise.",
		r.Benchmark, r.Metric, r.BaselineCI[0], r.BaselineCI[1], r.CandidateCI[0], r.CandidateCI[1],
	)
}
