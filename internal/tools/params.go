package tools

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dgellow/sentry-mcp/internal/apperr"
	"github.com/dgellow/sentry-mcp/internal/sentryapi"
)

// Call is a single tool invocation: the caller's context plus its arguments.
type Call struct {
	ServerContext
	args       map[string]any
	clientOpts []sentryapi.Option
}

// Arg returns the trimmed string argument name, or "" when absent.
func (c *Call) Arg(name string) string {
	v, ok := c.args[name]
	if !ok || v == nil {
		return ""
	}
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	default:
		return strings.TrimSpace(fmt.Sprint(s))
	}
}

// Client returns a gateway client for the caller, honoring regionUrl.
func (c *Call) Client() (*sentryapi.Client, error) {
	host := c.Host
	if regionURL := c.Arg("regionUrl"); regionURL != "" {
		h, err := sentryapi.HostFromURL(regionURL)
		if err != nil {
			return nil, apperr.NewUserInputError("Invalid regionUrl provided: %s. Must be a valid URL.", regionURL)
		}
		host = h
	}
	return sentryapi.NewClient(host, c.AccessToken, c.clientOpts...), nil
}

// OrganizationSlug returns the organizationSlug argument, falling back to
// the session's default organization.
func (c *Call) OrganizationSlug() (string, error) {
	if slug := c.Arg("organizationSlug"); slug != "" {
		return slug, nil
	}
	if c.ServerContext.OrganizationSlug != "" {
		return c.ServerContext.OrganizationSlug, nil
	}
	return "", apperr.NewUserInputError("Organization slug is required. Please provide an organizationSlug parameter.")
}

// Require returns the named argument or a UserInputError naming it.
func (c *Call) Require(name string) (string, error) {
	if v := c.Arg(name); v != "" {
		return v, nil
	}
	return "", apperr.NewUserInputError("`%s` is required.", name)
}

// Objects returns the named argument as a list of JSON objects. An absent
// argument yields nil so callers can tell it apart from an empty list.
func (c *Call) Objects(name string) ([]map[string]any, error) {
	v, ok := c.args[name]
	if !ok || v == nil {
		return nil, nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil, apperr.NewUserInputError("`%s` must be an array of objects.", name)
	}
	out := make([]map[string]any, 0, len(items))
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, apperr.NewUserInputError("`%s[%d]` must be an object.", name, i)
		}
		if id, _ := obj["id"].(string); strings.TrimSpace(id) == "" {
			return nil, apperr.NewUserInputError("`%s[%d].id` is required.", name, i)
		}
		out = append(out, obj)
	}
	return out, nil
}

// Int returns the named argument as a positive integer, or 0 when absent.
func (c *Call) Int(name string) (int, error) {
	raw := c.Arg(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, apperr.NewUserInputError("`%s` must be a positive whole number, got %s.", name, raw)
	}
	return n, nil
}

// IssueRef identifies one issue within an organization.
type IssueRef struct {
	OrganizationSlug string
	IssueID          string
}

// IssueRef resolves the issueUrl or the issueId/organizationSlug pair.
func (c *Call) IssueRef() (IssueRef, error) {
	if issueURL := c.Arg("issueUrl"); issueURL != "" {
		return ParseIssueURL(issueURL)
	}
	issueID := c.Arg("issueId")
	if issueID == "" {
		return IssueRef{}, apperr.NewUserInputError("Either `issueId` or `issueUrl` must be provided")
	}
	org := c.Arg("organizationSlug")
	if org == "" {
		org = c.ServerContext.OrganizationSlug
	}
	if org == "" {
		return IssueRef{}, apperr.NewUserInputError("`organizationSlug` is required when providing `issueId`")
	}
	return IssueRef{OrganizationSlug: org, IssueID: issueID}, nil
}

// ParseIssueURL extracts the organization and issue id from an issue link.
// Both https://acme.sentry.io/issues/123 and
// https://sentry.example.com/organizations/acme/issues/PROJ-1 are understood.
func ParseIssueURL(raw string) (IssueRef, error) {
	invalid := apperr.NewUserInputError(
		"Invalid Sentry issue URL: %s. Expected a URL such as https://my-organization.sentry.io/issues/PROJECT-1Z43", raw)

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return IssueRef{}, invalid
	}

	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	var ref IssueRef
	for i := 0; i < len(segments)-1; i++ {
		switch segments[i] {
		case "organizations":
			ref.OrganizationSlug = segments[i+1]
		case "issues":
			ref.IssueID = segments[i+1]
		}
	}
	if ref.OrganizationSlug == "" {
		host := u.Hostname()
		if labels := strings.Split(host, "."); len(labels) > 2 {
			ref.OrganizationSlug = labels[0]
		}
	}
	if ref.IssueID == "" || ref.OrganizationSlug == "" {
		return IssueRef{}, invalid
	}
	return ref, nil
}

func paramOrganizationSlug(required bool) mcp.ToolOption {
	opts := []mcp.PropertyOption{mcp.Description("The organization's slug. You can find a existing list of organizations you have access to using the `find_organizations()` tool.")}
	if required {
		opts = append(opts, mcp.Required())
	}
	return mcp.WithString("organizationSlug", opts...)
}

func paramRegionURL() mcp.ToolOption {
	return mcp.WithString("regionUrl",
		mcp.Description("The region URL for the organization you're querying, if known. For Sentry's Cloud Service (sentry.io), this is typically the region-specific URL like 'https://us.sentry.io'."))
}

func paramProjectSlug(required bool) mcp.ToolOption {
	opts := []mcp.PropertyOption{mcp.Description("The project's slug. You can find a list of existing projects in an organization using the `find_projects()` tool.")}
	if required {
		opts = append(opts, mcp.Required())
	}
	return mcp.WithString("projectSlug", opts...)
}

func paramQuery() mcp.ToolOption {
	return mcp.WithString("query",
		mcp.Description("The search query to apply. Use the `find_tags()` tool to get a list of available tags."))
}

func paramIssue() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithString("issueId", mcp.Description("The Issue ID. e.g. `PROJECT-1Z43`")),
		mcp.WithString("issueUrl", mcp.Description("The URL of the issue. e.g. https://my-organization.sentry.io/issues/PROJECT-1Z43")),
	}
}
