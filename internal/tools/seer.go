package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dgellow/sentry-mcp/internal/sentryapi"
)

func init() {
	register(Tool{
		Name: "begin_seer_issue_fix",
		Description: "Start an issue fix session using Seer, Sentry's AI agent. The analysis runs in the " +
			"background; poll its progress with `get_seer_issue_fix_status()`.",
		Params: append([]mcp.ToolOption{
			paramOrganizationSlug(false), paramRegionURL(),
			mcp.WithString("instruction", mcp.Description("Optional custom instruction for the fix, e.g. which part of the code to focus on.")),
		}, paramIssue()...),
		Handler: beginSeerIssueFix,
	})
	register(Tool{
		Name:        "get_seer_issue_fix_status",
		Description: "Get the status of a Seer issue fix session started with `begin_seer_issue_fix()`.",
		Params: append([]mcp.ToolOption{
			paramOrganizationSlug(false), paramRegionURL(),
		}, paramIssue()...),
		Handler: getSeerIssueFixStatus,
	})
}

func beginSeerIssueFix(ctx context.Context, c *Call) (string, error) {
	ref, err := c.IssueRef()
	if err != nil {
		return "", err
	}
	client, err := c.Client()
	if err != nil {
		return "", err
	}
	run, err := client.StartAutofix(ctx, sentryapi.StartAutofixParams{
		OrganizationSlug: ref.OrganizationSlug,
		IssueID:          ref.IssueID,
		Instruction:      c.Arg("instruction"),
	}, sentryapi.RequestOptions{})
	if err != nil {
		return "", err
	}

	followUp := fmt.Sprintf("get_seer_issue_fix_status(organizationSlug=%q, issueId=%q)", ref.OrganizationSlug, ref.IssueID)
	if issueURL := c.Arg("issueUrl"); issueURL != "" {
		followUp = fmt.Sprintf("get_seer_issue_fix_status(issueUrl=%q)", issueURL)
	}
	return strings.Join([]string{
		"# Issue Fix Started for Issue " + ref.IssueID,
		"",
		"**Run ID:** " + run.RunID.String(),
		"",
		"This operation may take some time, so you should call `get_seer_issue_fix_status()` to check the status of the analysis, and repeat the process until its finished.",
		"",
		"You should also inform the user that the operation may take some time, and give them updates whenever you check the status of the operation.",
		"",
		"```",
		followUp,
		"```",
	}, "\n"), nil
}

func getSeerIssueFixStatus(ctx context.Context, c *Call) (string, error) {
	ref, err := c.IssueRef()
	if err != nil {
		return "", err
	}
	client, err := c.Client()
	if err != nil {
		return "", err
	}
	state, err := client.GetAutofixState(ctx, ref.OrganizationSlug, ref.IssueID, sentryapi.RequestOptions{})
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Issue Fix Status for Issue %s\n\n", ref.IssueID)
	if state.Autofix == nil {
		fmt.Fprintf(&b, "No issue fix process found for %s.\n\nYou can initiate a new issue fix execution using the `begin_seer_issue_fix` tool.", ref.IssueID)
		return b.String(), nil
	}
	for _, step := range state.Autofix.Steps {
		b.WriteString(formatAutofixStep(step))
		b.WriteString("\n")
	}
	return b.String(), nil
}
