package tools

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dgellow/sentry-mcp/internal/log"
	"github.com/dgellow/sentry-mcp/internal/sentryapi"
)

// isoTime normalizes an upstream timestamp to RFC 3339 in UTC with
// millisecond precision. Unparseable values pass through unchanged.
func isoTime(v string) string {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return v
	}
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

func scoped(org, project string) string {
	if project != "" {
		return org + "/" + project
	}
	return org
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func formatFrameHeader(frame sentryapi.Frame, platform string) string {
	if strings.HasPrefix(platform, "javascript") {
		var parts []string
		if f := deref(frame.Filename); f != "" {
			parts = append(parts, f)
		}
		if frame.LineNo != nil && *frame.LineNo != 0 {
			parts = append(parts, strconv.Itoa(*frame.LineNo))
		}
		if frame.ColNo != nil && *frame.ColNo != 0 {
			parts = append(parts, strconv.Itoa(*frame.ColNo))
		}
		header := strings.Join(parts, ":")
		if fn := deref(frame.Function); fn != "" {
			header += " (" + fn + ")"
		}
		return header
	}

	fn := "unknown function"
	if f := deref(frame.Function); f != "" {
		fn = strconv.Quote(f)
	}
	file := deref(frame.Filename)
	if file == "" {
		file = deref(frame.Module)
	}
	header := fmt.Sprintf("%s in %q", fn, file)
	if frame.LineNo != nil && *frame.LineNo != 0 {
		header += fmt.Sprintf(" at line %d", *frame.LineNo)
		if frame.ColNo != nil {
			header += fmt.Sprintf(":%d", *frame.ColNo)
		}
	}
	return header
}

func formatEvent(event *sentryapi.Event) string {
	var b strings.Builder
	platform := deref(event.Platform)
	for _, entry := range event.Entries {
		if entry.Type != "exception" {
			continue
		}
		data, err := entry.Exception()
		if err != nil {
			log.LogDebugWithFields("tools", "Skipping malformed exception entry", map[string]any{
				"event": event.ID,
				"error": err.Error(),
			})
			continue
		}
		first := data.First()
		if first == nil {
			continue
		}
		fmt.Fprintf(&b, "**Error:**\n```\n%s: %s\n```\n\n", deref(first.Type), deref(first.Value))
		if first.Stacktrace == nil || len(first.Stacktrace.Frames) == 0 {
			continue
		}
		b.WriteString("**Stacktrace:**\n```\n")
		for i, frame := range first.Stacktrace.Frames {
			if i > 0 {
				b.WriteString("\n")
			}
			b.WriteString(formatFrameHeader(frame, platform))
			for _, line := range frame.Context {
				if frame.LineNo != nil && line.LineNo == *frame.LineNo {
					b.WriteString("\n" + line.Code)
				}
			}
		}
		b.WriteString("\n```\n\n")
	}
	return b.String()
}

func formatIssue(client *sentryapi.Client, org string, issue *sentryapi.Issue, event *sentryapi.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Issue %s in **%s**\n\n", issue.ShortID, org)
	fmt.Fprintf(&b, "**Description**: %s\n", issue.Title)
	fmt.Fprintf(&b, "**Culprit**: %s\n", issue.Culprit)
	fmt.Fprintf(&b, "**First Seen**: %s\n", isoTime(issue.FirstSeen))
	fmt.Fprintf(&b, "**Last Seen**: %s\n", isoTime(issue.LastSeen))
	fmt.Fprintf(&b, "**Occurrences**: %s\n", issue.Count)
	fmt.Fprintf(&b, "**Users Impacted**: %s\n", issue.UserCount)
	fmt.Fprintf(&b, "**Status**: %s\n", issue.Status)
	fmt.Fprintf(&b, "**Assigned To**: %s\n", issue.AssignedTo.Display())
	fmt.Fprintf(&b, "**Platform**: %s\n", deref(issue.Platform))
	fmt.Fprintf(&b, "**Project**: %s\n", issue.Project.Name)
	fmt.Fprintf(&b, "**URL**: %s\n\n", client.IssueURL(org, issue.ShortID))

	if event != nil {
		b.WriteString("## Event Details\n\n")
		fmt.Fprintf(&b, "**Event ID**: %s\n", event.ID)
		if event.Type == "error" {
			fmt.Fprintf(&b, "**Occurred At**: %s\n", isoTime(event.DateCreated))
		}
		if event.Message != nil && *event.Message != "" {
			fmt.Fprintf(&b, "**Message**:\n%s\n", *event.Message)
		}
		b.WriteString("\n")
		b.WriteString(formatEvent(event))
	}

	b.WriteString("# Using this information\n\n")
	fmt.Fprintf(&b, "- You can reference the IssueID in commit messages (e.g. `Fixes %s`) to automatically close the issue when the commit is merged.\n", issue.ShortID)
	b.WriteString("- The stacktrace includes both first-party application code as well as third-party code, its important to triage to first-party code.\n")
	return b.String()
}

func formatAutofixStep(step sentryapi.AutofixStep) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## %s\n\n", step.Title)

	switch step.Status {
	case "FAILED":
		b.WriteString("**Sentry hit an error completing this step.**\n\n")
		return b.String()
	case "COMPLETED":
	default:
		b.WriteString("**Sentry is still working on this step. Please check back in a minute.**\n\n")
		return b.String()
	}

	switch step.Type {
	case "root_cause_analysis":
		for _, cause := range step.Causes {
			if cause.Description != "" {
				b.WriteString(cause.Description + "\n\n")
			}
			for _, entry := range cause.RootCauseReproduction {
				fmt.Fprintf(&b, "**%s**\n\n%s\n\n", entry.Title, entry.CodeSnippetAndAnalysis)
			}
		}
	case "solution":
		if step.Description != "" {
			b.WriteString(step.Description + "\n\n")
		}
		for _, entry := range step.Solution {
			fmt.Fprintf(&b, "**%s**\n%s\n\n", entry.Title, deref(entry.CodeSnippetAndAnalysis))
		}
	default:
		if len(step.Insights) > 0 {
			for _, entry := range step.Insights {
				fmt.Fprintf(&b, "**%s**\n%s\n\n", entry.Insight, entry.Justification)
			}
		} else if step.OutputStream != nil {
			b.WriteString(*step.OutputStream + "\n")
		}
	}
	return b.String()
}
