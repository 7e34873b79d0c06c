package sentryapi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

const referrer = "sentry-mcp"

type ListReleasesParams struct {
	OrganizationSlug string
	ProjectSlug      string
	Query            string
}

func (c *Client) ListReleases(ctx context.Context, p ListReleasesParams, opts RequestOptions) ([]Release, error) {
	path := fmt.Sprintf("/organizations/%s/releases/", url.PathEscape(p.OrganizationSlug))
	if p.ProjectSlug != "" {
		path = fmt.Sprintf("/projects/%s/%s/releases/", url.PathEscape(p.OrganizationSlug), url.PathEscape(p.ProjectSlug))
	}
	if p.Query != "" {
		path += "?" + url.Values{"query": {p.Query}}.Encode()
	}
	var releases Releases
	if err := c.request(ctx, http.MethodGet, path, nil, opts, &releases); err != nil {
		return nil, err
	}
	return releases, nil
}

// Tag datasets accepted by ListTags.
const (
	DatasetErrors       = "errors"
	DatasetSearchIssues = "search_issues"
)

func (c *Client) ListTags(ctx context.Context, organizationSlug, dataset string, opts RequestOptions) ([]Tag, error) {
	path := fmt.Sprintf("/organizations/%s/tags/", url.PathEscape(organizationSlug))
	if dataset != "" {
		path += "?" + url.Values{"dataset": {dataset}}.Encode()
	}
	var tags Tags
	if err := c.request(ctx, http.MethodGet, path, nil, opts, &tags); err != nil {
		return nil, err
	}
	return tags, nil
}

type ListIssuesParams struct {
	OrganizationSlug string
	ProjectSlug      string
	Query            string
	// SortBy is one of "user", "freq", "date", "new".
	SortBy string
}

func (c *Client) ListIssues(ctx context.Context, p ListIssuesParams, opts RequestOptions) ([]Issue, error) {
	q := url.Values{}
	q.Set("per_page", "10")
	q.Set("referrer", referrer)
	if p.SortBy != "" {
		q.Set("sort", p.SortBy)
	}
	q.Set("statsPeriod", "24h")
	q.Set("query", p.Query)
	q.Add("collapse", "unhandled")

	path := fmt.Sprintf("/organizations/%s/issues/", url.PathEscape(p.OrganizationSlug))
	if p.ProjectSlug != "" {
		path = fmt.Sprintf("/projects/%s/%s/issues/", url.PathEscape(p.OrganizationSlug), url.PathEscape(p.ProjectSlug))
	}

	var issues Issues
	if err := c.request(ctx, http.MethodGet, path+"?"+q.Encode(), nil, opts, &issues); err != nil {
		return nil, err
	}
	return issues, nil
}

func issuePath(organizationSlug, issueID string) string {
	return fmt.Sprintf("/organizations/%s/issues/%s/", url.PathEscape(organizationSlug), url.PathEscape(issueID))
}

func (c *Client) GetIssue(ctx context.Context, organizationSlug, issueID string, opts RequestOptions) (*Issue, error) {
	var issue Issue
	if err := c.request(ctx, http.MethodGet, issuePath(organizationSlug, issueID), nil, opts, &issue); err != nil {
		return nil, err
	}
	return &issue, nil
}

func (c *Client) GetEventForIssue(ctx context.Context, organizationSlug, issueID, eventID string, opts RequestOptions) (*Event, error) {
	var event Event
	path := issuePath(organizationSlug, issueID) + "events/" + url.PathEscape(eventID) + "/"
	if err := c.request(ctx, http.MethodGet, path, nil, opts, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

func (c *Client) GetLatestEventForIssue(ctx context.Context, organizationSlug, issueID string, opts RequestOptions) (*Event, error) {
	return c.GetEventForIssue(ctx, organizationSlug, issueID, "latest", opts)
}

type UpdateIssueParams struct {
	OrganizationSlug string
	IssueID          string
	Status           string
	AssignedTo       string
}

func (c *Client) UpdateIssue(ctx context.Context, p UpdateIssueParams, opts RequestOptions) (*Issue, error) {
	body := map[string]string{}
	if p.Status != "" {
		body["status"] = p.Status
	}
	if p.AssignedTo != "" {
		body["assignedTo"] = p.AssignedTo
	}
	var issue Issue
	if err := c.request(ctx, http.MethodPut, issuePath(p.OrganizationSlug, p.IssueID), body, opts, &issue); err != nil {
		return nil, err
	}
	return &issue, nil
}

func quoteSearchValue(v string) string {
	return `"` + strings.ReplaceAll(v, `"`, `\"`) + `"`
}

type SearchErrorsParams struct {
	OrganizationSlug string
	ProjectSlug      string
	Filename         string
	Transaction      string
	Query            string
	// SortBy is "last_seen" (default) or "count".
	SortBy string
}

func (c *Client) SearchErrors(ctx context.Context, p SearchErrorsParams, opts RequestOptions) ([]ErrorSearchResult, error) {
	var terms []string
	if p.Filename != "" {
		terms = append(terms, "stack.filename:"+quoteSearchValue("*"+p.Filename))
	}
	if p.Transaction != "" {
		terms = append(terms, "transaction:"+quoteSearchValue(p.Transaction))
	}
	if p.Query != "" {
		terms = append(terms, p.Query)
	}
	if p.ProjectSlug != "" {
		terms = append(terms, "project:"+p.ProjectSlug)
	}

	sort := "-last_seen"
	if p.SortBy == "count" {
		sort = "-count"
	}

	q := url.Values{}
	q.Set("dataset", "errors")
	q.Set("per_page", "10")
	q.Set("referrer", referrer)
	q.Set("sort", sort)
	q.Set("statsPeriod", "24h")
	for _, f := range []string{"issue", "title", "project", "last_seen()", "count()"} {
		q.Add("field", f)
	}
	q.Set("query", strings.Join(terms, " "))

	var resp searchResponse[ErrorSearchResult]
	path := fmt.Sprintf("/organizations/%s/events/?%s", url.PathEscape(p.OrganizationSlug), q.Encode())
	if err := c.request(ctx, http.MethodGet, path, nil, opts, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

type SearchSpansParams struct {
	OrganizationSlug string
	ProjectSlug      string
	Transaction      string
	Query            string
	// SortBy is "timestamp" (default) or "duration".
	SortBy string
}

func (c *Client) SearchSpans(ctx context.Context, p SearchSpansParams, opts RequestOptions) ([]SpanSearchResult, error) {
	terms := []string{"is_transaction:true"}
	if p.Transaction != "" {
		terms = append(terms, "transaction:"+quoteSearchValue(p.Transaction))
	}
	if p.Query != "" {
		terms = append(terms, p.Query)
	}
	if p.ProjectSlug != "" {
		terms = append(terms, "project:"+p.ProjectSlug)
	}

	sort := "-timestamp"
	if p.SortBy == "duration" {
		sort = "-span.duration"
	}

	q := url.Values{}
	q.Set("dataset", "spans")
	q.Set("per_page", "10")
	q.Set("referrer", referrer)
	q.Set("sort", sort)
	q.Set("allowAggregateConditions", "0")
	q.Set("useRpc", "1")
	for _, f := range []string{"id", "trace", "span.op", "span.description", "span.duration", "transaction", "project", "timestamp"} {
		q.Add("field", f)
	}
	q.Set("query", strings.Join(terms, " "))

	var resp searchResponse[SpanSearchResult]
	path := fmt.Sprintf("/organizations/%s/events/?%s", url.PathEscape(p.OrganizationSlug), q.Encode())
	if err := c.request(ctx, http.MethodGet, path, nil, opts, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

type StartAutofixParams struct {
	OrganizationSlug string
	IssueID          string
	EventID          string
	Instruction      string
}

func (c *Client) StartAutofix(ctx context.Context, p StartAutofixParams, opts RequestOptions) (*AutofixRun, error) {
	body := map[string]string{"instruction": p.Instruction}
	if p.EventID != "" {
		body["event_id"] = p.EventID
	}
	var run AutofixRun
	if err := c.request(ctx, http.MethodPost, issuePath(p.OrganizationSlug, p.IssueID)+"autofix/", body, opts, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

func (c *Client) GetAutofixState(ctx context.Context, organizationSlug, issueID string, opts RequestOptions) (*AutofixRunState, error) {
	var state AutofixRunState
	if err := c.request(ctx, http.MethodGet, issuePath(organizationSlug, issueID)+"autofix/", nil, opts, &state); err != nil {
		return nil, err
	}
	return &state, nil
}
