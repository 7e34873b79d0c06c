package tools

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/dgellow/sentry-mcp/internal/apperr"
	"github.com/dgellow/sentry-mcp/internal/sentryapi"
)

var issueSortBy = map[string]string{
	"last_seen":  "date",
	"first_seen": "new",
	"count":      "freq",
	"userCount":  "user",
}

var issueStatuses = []string{"resolved", "resolvedInNextRelease", "unresolved", "ignored"}

func init() {
	register(Tool{
		Name: "find_issues",
		Description: "Find issues in Sentry. Use `find_errors()` or `find_transactions()` when you need more " +
			"granular data than a summary of identified problems.",
		Params: []mcp.ToolOption{
			paramOrganizationSlug(false), paramRegionURL(), paramProjectSlug(false), paramQuery(),
			mcp.WithString("sortBy",
				mcp.Enum("last_seen", "first_seen", "count", "userCount"),
				mcp.Description("Sort the results either by the last time they occurred, the first time they occurred, the count of occurrences, or the number of users affected.")),
		},
		Handler: findIssues,
	})
	register(Tool{
		Name: "get_issue_details",
		Description: "Retrieve issue details from Sentry for a specific Issue ID, including the stacktrace and " +
			"error message if available. Either issueId or issueUrl MUST be provided.",
		Params: append([]mcp.ToolOption{
			paramOrganizationSlug(false), paramRegionURL(),
			mcp.WithString("eventId", mcp.Description("The ID of the event.")),
		}, paramIssue()...),
		Handler: getIssueDetails,
	})
	register(Tool{
		Name:        "update_issue",
		Description: "Update an issue's status or assignment in Sentry. This allows you to resolve, ignore, or reassign issues.",
		Params: append([]mcp.ToolOption{
			paramOrganizationSlug(false), paramRegionURL(),
			mcp.WithString("status", mcp.Enum(issueStatuses...),
				mcp.Description("The new status for the issue. Valid values are 'resolved', 'resolvedInNextRelease', 'unresolved', and 'ignored'.")),
			mcp.WithString("assignedTo",
				mcp.Description("The username or team slug to assign the issue to. Use 'me' to assign to yourself, or provide a username/team slug.")),
		}, paramIssue()...),
		Handler: updateIssue,
	})
	register(Tool{
		Name:        "find_errors",
		Description: "Find errors in Sentry using advanced search syntax. The filename parameter is a suffix match.",
		Params: []mcp.ToolOption{
			paramOrganizationSlug(false), paramRegionURL(), paramProjectSlug(false), paramQuery(),
			mcp.WithString("filename", mcp.Description("The filename to search for errors in.")),
			mcp.WithString("transaction", mcp.Description("The transaction name to filter by.")),
			mcp.WithString("sortBy", mcp.Enum("last_seen", "count"), mcp.DefaultString("last_seen"),
				mcp.Description("Sort the results either by the last time they occurred or the count of occurrences.")),
		},
		Handler: findErrors,
	})
	register(Tool{
		Name:        "find_transactions",
		Description: "Find transactions in Sentry using advanced search syntax. Transactions are segments of traces that are associated with a specific route or endpoint.",
		Params: []mcp.ToolOption{
			paramOrganizationSlug(false), paramRegionURL(), paramProjectSlug(false), paramQuery(),
			mcp.WithString("transaction", mcp.Description("The transaction name to filter by.")),
			mcp.WithString("sortBy", mcp.Enum("timestamp", "duration"), mcp.DefaultString("timestamp"),
				mcp.Description("Sort the results either by the timestamp of the request (most recent first) or the duration of the request (longest first).")),
		},
		Handler: findTransactions,
	})
}

func findIssues(ctx context.Context, c *Call) (string, error) {
	org, err := c.OrganizationSlug()
	if err != nil {
		return "", err
	}
	client, err := c.Client()
	if err != nil {
		return "", err
	}

	var sortBy string
	if s := c.Arg("sortBy"); s != "" {
		mapped, ok := issueSortBy[s]
		if !ok {
			return "", apperr.NewUserInputError("Invalid sortBy value: %s. Must be one of last_seen, first_seen, count, userCount.", s)
		}
		sortBy = mapped
	}

	project := c.Arg("projectSlug")
	issues, err := client.ListIssues(ctx, sentryapi.ListIssuesParams{
		OrganizationSlug: org,
		ProjectSlug:      project,
		Query:            c.Arg("query"),
		SortBy:           sortBy,
	}, sentryapi.RequestOptions{})
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Issues in **%s**\n\n", scoped(org, project))
	if len(issues) == 0 {
		b.WriteString("No issues found.\n")
		return b.String(), nil
	}
	entries := make([]string, 0, len(issues))
	for _, issue := range issues {
		entries = append(entries, strings.Join([]string{
			"## " + issue.ShortID,
			"",
			"**Description**: " + issue.Title,
			"**Culprit**: " + issue.Culprit,
			"**First Seen**: " + isoTime(issue.FirstSeen),
			"**Last Seen**: " + isoTime(issue.LastSeen),
			"**URL**: " + client.IssueURL(org, issue.ShortID),
		}, "\n"))
	}
	b.WriteString(strings.Join(entries, "\n\n"))
	b.WriteString("\n\n# Using this information\n\n")
	b.WriteString("- You can reference the Issue ID in commit messages (e.g. `Fixes <issueID>`) to automatically close the issue when the commit is merged.\n")
	fmt.Fprintf(&b, "- You can get more details about a specific issue by using the tool: `get_issue_details(organizationSlug=%q, issueId=<issueID>)`\n", org)
	return b.String(), nil
}

func getIssueDetails(ctx context.Context, c *Call) (string, error) {
	client, err := c.Client()
	if err != nil {
		return "", err
	}

	if eventID := c.Arg("eventId"); eventID != "" {
		org := c.Arg("organizationSlug")
		if org == "" {
			org = c.ServerContext.OrganizationSlug
		}
		if org == "" {
			return "", apperr.NewUserInputError("`organizationSlug` is required when providing `eventId`")
		}
		issues, err := client.ListIssues(ctx, sentryapi.ListIssuesParams{
			OrganizationSlug: org,
			Query:            eventID,
		}, sentryapi.RequestOptions{})
		if err != nil {
			return "", err
		}
		if len(issues) == 0 {
			return "# Event Not Found\n\nNo issue found for Event ID: " + eventID, nil
		}
		issue := issues[0]
		event, err := client.GetEventForIssue(ctx, org, issue.ShortID, eventID, sentryapi.RequestOptions{})
		if err != nil {
			return "", err
		}
		return formatIssue(client, org, &issue, event), nil
	}

	ref, err := c.IssueRef()
	if err != nil {
		return "", err
	}

	var (
		issue *sentryapi.Issue
		event *sentryapi.Event
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		issue, err = client.GetIssue(gctx, ref.OrganizationSlug, ref.IssueID, sentryapi.RequestOptions{})
		return err
	})
	g.Go(func() error {
		var err error
		event, err = client.GetLatestEventForIssue(gctx, ref.OrganizationSlug, ref.IssueID, sentryapi.RequestOptions{})
		return err
	})
	if err := g.Wait(); err != nil {
		return "", err
	}
	return formatIssue(client, ref.OrganizationSlug, issue, event), nil
}

func updateIssue(ctx context.Context, c *Call) (string, error) {
	ref, err := c.IssueRef()
	if err != nil {
		return "", err
	}
	status, assignedTo := c.Arg("status"), c.Arg("assignedTo")
	if status == "" && assignedTo == "" {
		return "", apperr.NewUserInputError("At least one of `status` or `assignedTo` must be provided to update the issue")
	}
	if status != "" && !slices.Contains(issueStatuses, status) {
		return "", apperr.NewUserInputError("Invalid status: %s. Must be one of %s.", status, strings.Join(issueStatuses, ", "))
	}
	client, err := c.Client()
	if err != nil {
		return "", err
	}

	current, err := client.GetIssue(ctx, ref.OrganizationSlug, ref.IssueID, sentryapi.RequestOptions{})
	if err != nil {
		return "", err
	}
	updated, err := client.UpdateIssue(ctx, sentryapi.UpdateIssueParams{
		OrganizationSlug: ref.OrganizationSlug,
		IssueID:          ref.IssueID,
		Status:           status,
		AssignedTo:       assignedTo,
	}, sentryapi.RequestOptions{})
	if err != nil {
		return "", err
	}

	org := ref.OrganizationSlug
	var b strings.Builder
	fmt.Fprintf(&b, "# Issue %s Updated in **%s**\n\n", updated.ShortID, org)
	fmt.Fprintf(&b, "**Issue**: %s\n", updated.Title)
	fmt.Fprintf(&b, "**URL**: %s\n\n", client.IssueURL(org, updated.ShortID))

	b.WriteString("## Changes Made\n\n")
	if status != "" && current.Status != status {
		fmt.Fprintf(&b, "**Status**: %s → **%s**\n", current.Status, status)
	}
	if assignedTo != "" {
		newAssignee := assignedTo
		if assignedTo == "me" {
			newAssignee = "You"
		}
		fmt.Fprintf(&b, "**Assigned To**: %s → **%s**\n", current.AssignedTo.Display(), newAssignee)
	}

	b.WriteString("\n## Current Status\n\n")
	fmt.Fprintf(&b, "**Status**: %s\n", updated.Status)
	fmt.Fprintf(&b, "**Assigned To**: %s\n", updated.AssignedTo.Display())

	b.WriteString("\n# Using this information\n\n")
	b.WriteString("- The issue has been successfully updated in Sentry\n")
	fmt.Fprintf(&b, "- You can view the issue details using: `get_issue_details(organizationSlug=%q, issueId=%q)`\n", org, updated.ShortID)
	switch status {
	case "resolved":
		b.WriteString("- The issue is now marked as resolved and will no longer generate alerts\n")
	case "ignored":
		b.WriteString("- The issue is now ignored and will not generate alerts until it escalates\n")
	}
	return b.String(), nil
}

func findErrors(ctx context.Context, c *Call) (string, error) {
	org, err := c.OrganizationSlug()
	if err != nil {
		return "", err
	}
	client, err := c.Client()
	if err != nil {
		return "", err
	}

	project, query, filename := c.Arg("projectSlug"), c.Arg("query"), c.Arg("filename")
	results, err := client.SearchErrors(ctx, sentryapi.SearchErrorsParams{
		OrganizationSlug: org,
		ProjectSlug:      project,
		Filename:         filename,
		Transaction:      c.Arg("transaction"),
		Query:            query,
		SortBy:           c.Arg("sortBy"),
	}, sentryapi.RequestOptions{})
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Errors in **%s**\n\n", scoped(org, project))
	if query != "" {
		fmt.Fprintf(&b, "These errors match the query `%s`\n", query)
	}
	if filename != "" {
		fmt.Fprintf(&b, "These errors are limited to the file suffix `%s`\n", filename)
	}
	b.WriteString("\n")
	if len(results) == 0 {
		fmt.Fprintf(&b, "No results found\n\nWe searched within the %s organization.\n\n", org)
		return b.String(), nil
	}
	for _, r := range results {
		fmt.Fprintf(&b, "## %s\n\n", r.Issue)
		fmt.Fprintf(&b, "**Description**: %s\n", r.Title)
		fmt.Fprintf(&b, "**Issue ID**: %s\n", r.Issue)
		fmt.Fprintf(&b, "**URL**: %s\n", client.IssueURL(org, r.Issue))
		fmt.Fprintf(&b, "**Project**: %s\n", r.Project)
		fmt.Fprintf(&b, "**Last Seen**: %s\n", r.LastSeen)
		fmt.Fprintf(&b, "**Occurrences**: %s\n\n", strconv.FormatFloat(r.Count, 'f', -1, 64))
	}
	b.WriteString("# Using this information\n\n")
	b.WriteString("- You can reference the Issue ID in commit messages (e.g. `Fixes <issueID>`) to automatically close the issue when the commit is merged.\n")
	fmt.Fprintf(&b, "- You can get more details about an error by using the tool: `get_issue_details(organizationSlug=%q, issueId=<issueID>)`\n", org)
	return b.String(), nil
}

func findTransactions(ctx context.Context, c *Call) (string, error) {
	org, err := c.OrganizationSlug()
	if err != nil {
		return "", err
	}
	client, err := c.Client()
	if err != nil {
		return "", err
	}

	project, query, transaction := c.Arg("projectSlug"), c.Arg("query"), c.Arg("transaction")
	results, err := client.SearchSpans(ctx, sentryapi.SearchSpansParams{
		OrganizationSlug: org,
		ProjectSlug:      project,
		Transaction:      transaction,
		Query:            query,
		SortBy:           c.Arg("sortBy"),
	}, sentryapi.RequestOptions{})
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Transactions in **%s**\n\n", scoped(org, project))
	if query != "" {
		fmt.Fprintf(&b, "These spans match the query `%s`\n", query)
	}
	if transaction != "" {
		fmt.Fprintf(&b, "These spans are limited to the transaction `%s`\n", transaction)
	}
	b.WriteString("\n")
	if len(results) == 0 {
		fmt.Fprintf(&b, "No results found\n\nWe searched within the %s organization.\n\n", org)
		return b.String(), nil
	}
	for _, r := range results {
		fmt.Fprintf(&b, "## `%s`\n\n", r.Transaction)
		fmt.Fprintf(&b, "**Span ID**: %s\n", r.ID)
		fmt.Fprintf(&b, "**Trace ID**: %s\n", r.Trace)
		fmt.Fprintf(&b, "**Span Operation**: %s\n", r.SpanOp)
		fmt.Fprintf(&b, "**Span Description**: %s\n", r.SpanDescription)
		fmt.Fprintf(&b, "**Duration**: %s\n", strconv.FormatFloat(r.SpanDuration, 'f', -1, 64))
		fmt.Fprintf(&b, "**Timestamp**: %s\n", r.Timestamp)
		fmt.Fprintf(&b, "**Project**: %s\n", r.Project)
		fmt.Fprintf(&b, "**URL**: %s\n\n", client.TraceURL(org, r.Trace))
	}
	return b.String(), nil
}
