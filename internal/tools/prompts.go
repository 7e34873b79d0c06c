package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/dgellow/sentry-mcp/internal/apperr"
)

// Prompt is a canned instruction an agent can request by name.
type Prompt struct {
	Prompt mcp.Prompt
	Render func(args map[string]string) (string, error)
}

var prompts = []Prompt{
	{
		Prompt: mcp.NewPrompt("find_errors_in_file",
			mcp.WithPromptDescription("Use this prompt when you need to find errors in Sentry reported in a specific file."),
			mcp.WithArgument("organizationSlug", mcp.RequiredArgument(),
				mcp.ArgumentDescription("The organization's slug. You can find a list of organizations you have access to using the `find_organizations()` tool.")),
			mcp.WithArgument("filename", mcp.RequiredArgument(),
				mcp.ArgumentDescription("The filename to search for errors in.")),
		),
		Render: renderFindErrorsInFile,
	},
	{
		Prompt: mcp.NewPrompt("fix_issue_with_seer",
			mcp.WithPromptDescription("Use this prompt when you need to fix an issue in Sentry with Seer, Sentry's AI debugging agent."),
			mcp.WithArgument("organizationSlug",
				mcp.ArgumentDescription("The organization's slug. Not needed when issueUrl is given.")),
			mcp.WithArgument("issueId", mcp.ArgumentDescription("The Issue ID. e.g. `PROJECT-1Z43`")),
			mcp.WithArgument("issueUrl", mcp.ArgumentDescription("The URL of the issue. e.g. https://my-organization.sentry.io/issues/PROJECT-1Z43")),
		),
		Render: renderFixIssueWithSeer,
	},
}

func requiredPromptArg(args map[string]string, name string) (string, error) {
	if v := strings.TrimSpace(args[name]); v != "" {
		return v, nil
	}
	return "", apperr.NewUserInputError("`%s` is required.", name)
}

func renderFindErrorsInFile(args map[string]string) (string, error) {
	org, err := requiredPromptArg(args, "organizationSlug")
	if err != nil {
		return "", err
	}
	filename, err := requiredPromptArg(args, "filename")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("I want to find errors in Sentry, within the organization %s, for the file %s\n\n", org, filename) +
		"You should use the tool `find_errors()` to find errors in Sentry.\n\n" +
		fmt.Sprintf("If the filename is ambiguous, such as something like `index.ts`, and in most cases, "+
			"you should pass it in with its direct parent. For example: if the file is `app/utils/index.ts`, "+
			"you should pass in `filename='utils/index.ts'` when searching for %s.", filename), nil
}

func renderFixIssueWithSeer(args map[string]string) (string, error) {
	var target string
	if issueURL := strings.TrimSpace(args["issueUrl"]); issueURL != "" {
		target = fmt.Sprintf("`issueUrl='%s'`", issueURL)
	} else {
		issueID, err := requiredPromptArg(args, "issueId")
		if err != nil {
			return "", apperr.NewUserInputError("Either `issueId` or `issueUrl` must be provided")
		}
		org, err := requiredPromptArg(args, "organizationSlug")
		if err != nil {
			return "", apperr.NewUserInputError("`organizationSlug` is required when providing `issueId`")
		}
		target = fmt.Sprintf("`organizationSlug='%s'` and `issueId='%s'`", org, issueID)
	}
	return fmt.Sprintf("I want to fix the Sentry issue identified by %s using Seer.\n\n", target) +
		fmt.Sprintf("1. Call `get_seer_issue_fix_status()` with %s to check whether Seer already ran.\n", target) +
		fmt.Sprintf("2. If no run exists, call `begin_seer_issue_fix()` with %s.\n", target) +
		"3. Poll `get_seer_issue_fix_status()` until Seer reports a root cause and solution.\n" +
		"4. Review the proposed changes with me before applying them to the code.", nil
}

// registerPrompts adds every prompt to s.
func registerPrompts(s *mcpserver.MCPServer) {
	for _, p := range prompts {
		s.AddPrompt(p.Prompt, promptHandler(p))
	}
}

func promptHandler(p Prompt) mcpserver.PromptHandlerFunc {
	return func(_ context.Context, request mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		text, err := p.Render(request.Params.Arguments)
		if err != nil {
			return nil, err
		}
		return mcp.NewGetPromptResult(p.Prompt.Description, []mcp.PromptMessage{
			mcp.NewPromptMessage(mcp.RoleUser, mcp.NewTextContent(text)),
		}), nil
	}
}
