package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dgellow/sentry-mcp/internal/apperr"
	"github.com/dgellow/sentry-mcp/internal/sentryapi"
)

func init() {
	register(Tool{
		Name:        "find_issue_alert_rules",
		Description: "List the issue alert rules of a project in Sentry.",
		Params:      []mcp.ToolOption{paramOrganizationSlug(false), paramRegionURL(), paramProjectSlug(true)},
		Handler:     findIssueAlertRules,
	})
	register(Tool{
		Name:        "get_issue_alert_rule_details",
		Description: "Get the conditions, filters and actions of one issue alert rule in Sentry.",
		Params:      []mcp.ToolOption{paramOrganizationSlug(false), paramRegionURL(), paramProjectSlug(true), paramRuleID()},
		Handler:     getIssueAlertRuleDetails,
	})
	register(Tool{
		Name:        "create_issue_alert_rule",
		Description: "Create an issue alert rule for a project in Sentry. Be careful when using this tool!",
		Params: append([]mcp.ToolOption{
			paramOrganizationSlug(false), paramRegionURL(), paramProjectSlug(true),
			mcp.WithString("name", mcp.Required(), mcp.Description("The name of the alert rule.")),
		}, paramRuleBody(true)...),
		Handler: createIssueAlertRule,
	})
	register(Tool{
		Name:        "update_issue_alert_rule",
		Description: "Update an existing issue alert rule in Sentry. Only the provided fields change. Be careful when using this tool!",
		Params: append([]mcp.ToolOption{
			paramOrganizationSlug(false), paramRegionURL(), paramProjectSlug(true), paramRuleID(),
			mcp.WithString("name", mcp.Description("The new name of the alert rule.")),
		}, paramRuleBody(false)...),
		Handler: updateIssueAlertRule,
	})
	register(Tool{
		Name:        "delete_issue_alert_rule",
		Description: "Permanently delete an issue alert rule in Sentry. Be careful when using this tool!",
		Params:      []mcp.ToolOption{paramOrganizationSlug(false), paramRegionURL(), paramProjectSlug(true), paramRuleID()},
		Handler:     deleteIssueAlertRule,
	})
}

func paramRuleID() mcp.ToolOption {
	return mcp.WithString("ruleId", mcp.Required(),
		mcp.Description("The alert rule ID. You can find rule IDs using the `find_issue_alert_rules()` tool."))
}

func paramRuleBody(create bool) []mcp.ToolOption {
	ruleItem := func(what string) mcp.PropertyOption {
		return mcp.Items(map[string]any{
			"type":                 "object",
			"properties":           map[string]any{"id": map[string]any{"type": "string", "description": "The " + what + " handler id."}},
			"required":             []string{"id"},
			"additionalProperties": true,
		})
	}
	conditions := []mcp.PropertyOption{ruleItem("condition"),
		mcp.Description("Conditions that trigger the rule, e.g. `[{\"id\": \"sentry.rules.conditions.first_seen_event.FirstSeenEventCondition\"}]`.")}
	actions := []mcp.PropertyOption{ruleItem("action"),
		mcp.Description("Actions run when the rule fires, e.g. `[{\"id\": \"sentry.mail.actions.NotifyEmailAction\", \"targetType\": \"IssueOwners\"}]`.")}
	if create {
		conditions = append(conditions, mcp.Required())
		actions = append(actions, mcp.Required())
	}
	return []mcp.ToolOption{
		mcp.WithArray("conditions", conditions...),
		mcp.WithArray("filters", ruleItem("filter"),
			mcp.Description("Filters that narrow which events trigger the rule.")),
		mcp.WithArray("actions", actions...),
		mcp.WithString("actionMatch", mcp.Enum("all", "any", "none"),
			mcp.Description("How conditions combine. Defaults to `any` on creation.")),
		mcp.WithString("filterMatch", mcp.Enum("all", "any", "none"),
			mcp.Description("How filters combine. Defaults to `all` on creation.")),
		mcp.WithNumber("frequency", mcp.Min(1),
			mcp.Description("Minutes between repeated alerts for the same issue. Defaults to 1440 on creation.")),
		mcp.WithString("environment", mcp.Description("Only fire for events from this environment.")),
		mcp.WithString("owner", mcp.Description("The owning team or user, e.g. `team:123` or `user:456`.")),
	}
}

func requireProjectSlug(c *Call) (string, error) {
	if v := c.Arg("projectSlug"); v != "" {
		return v, nil
	}
	return "", apperr.NewUserInputError("Project slug is required. Please provide a projectSlug parameter.")
}

func requireRuleID(c *Call) (string, error) {
	if v := c.Arg("ruleId"); v != "" {
		return v, nil
	}
	return "", apperr.NewUserInputError("Rule ID is required. Please provide a ruleId parameter.")
}

// ruleTarget resolves the organization, project and gateway client every
// alert rule tool needs.
func ruleTarget(c *Call) (string, string, *sentryapi.Client, error) {
	org, err := c.OrganizationSlug()
	if err != nil {
		return "", "", nil, err
	}
	projectSlug, err := requireProjectSlug(c)
	if err != nil {
		return "", "", nil, err
	}
	client, err := c.Client()
	if err != nil {
		return "", "", nil, err
	}
	return org, projectSlug, client, nil
}

type ruleBody struct {
	conditions, filters, actions []map[string]any
	actionMatch, filterMatch     string
	frequency                    int
	environment, owner           string
}

func parseRuleBody(c *Call) (ruleBody, error) {
	var rb ruleBody
	var err error
	if rb.conditions, err = c.Objects("conditions"); err != nil {
		return rb, err
	}
	if rb.filters, err = c.Objects("filters"); err != nil {
		return rb, err
	}
	if rb.actions, err = c.Objects("actions"); err != nil {
		return rb, err
	}
	if rb.frequency, err = c.Int("frequency"); err != nil {
		return rb, err
	}
	rb.actionMatch, rb.filterMatch = c.Arg("actionMatch"), c.Arg("filterMatch")
	for name, v := range map[string]string{"actionMatch": rb.actionMatch, "filterMatch": rb.filterMatch} {
		if v != "" && v != "all" && v != "any" && v != "none" {
			return rb, apperr.NewUserInputError("`%s` must be one of all, any or none, got %s.", name, v)
		}
	}
	rb.environment, rb.owner = c.Arg("environment"), c.Arg("owner")
	return rb, nil
}

func findIssueAlertRules(ctx context.Context, c *Call) (string, error) {
	org, projectSlug, client, err := ruleTarget(c)
	if err != nil {
		return "", err
	}
	rules, err := client.ListIssueAlertRules(ctx, org, projectSlug, sentryapi.RequestOptions{})
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Issue Alert Rules in **%s/%s**\n\n", org, projectSlug)
	if len(rules) == 0 {
		b.WriteString("No issue alert rules found.\n")
		return b.String(), nil
	}
	for _, rule := range rules {
		fmt.Fprintf(&b, "## %s\n\n", rule.Name)
		fmt.Fprintf(&b, "**ID**: %s\n", rule.ID)
		fmt.Fprintf(&b, "**Status**: %s\n", rule.Status)
		fmt.Fprintf(&b, "**Frequency**: %d minutes\n", rule.Frequency)
		fmt.Fprintf(&b, "**Environment**: %s\n", orDefault(deref(rule.Environment), "All environments"))
		fmt.Fprintf(&b, "**Owner**: %s\n", orDefault(deref(rule.Owner), "None"))
		fmt.Fprintf(&b, "**Conditions**: %s\n", summarizeConditions(rule.Conditions))
		fmt.Fprintf(&b, "**Filters**: %s\n", summarizeFilters(rule.Filters))
		fmt.Fprintf(&b, "**Actions**: %s\n", summarizeActions(rule.Actions))
		fmt.Fprintf(&b, "**Action Match**: %s\n", rule.ActionMatch)
		fmt.Fprintf(&b, "**Filter Match**: %s\n", rule.FilterMatch)
		fmt.Fprintf(&b, "**Created**: %s\n", isoTime(rule.DateCreated))
		fmt.Fprintf(&b, "**Snooze**: %s\n\n", yesNo(rule.Snooze))
	}
	b.WriteString("# Using this information\n\n")
	b.WriteString("- Use `get_issue_alert_rule_details()` with a rule ID to see its full configuration.\n")
	b.WriteString("- Use `delete_issue_alert_rule()` with a rule ID to remove a rule.\n")
	return b.String(), nil
}

func getIssueAlertRuleDetails(ctx context.Context, c *Call) (string, error) {
	org, projectSlug, client, err := ruleTarget(c)
	if err != nil {
		return "", err
	}
	ruleID, err := requireRuleID(c)
	if err != nil {
		return "", err
	}
	rule, err := client.GetIssueAlertRule(ctx, org, projectSlug, ruleID, sentryapi.RequestOptions{})
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Issue Alert Rule: **%s**\n\n", rule.Name)
	fmt.Fprintf(&b, "**ID**: %s\n", rule.ID)
	fmt.Fprintf(&b, "**Project**: %s/%s\n", org, projectSlug)
	fmt.Fprintf(&b, "**Status**: %s\n", rule.Status)
	fmt.Fprintf(&b, "**Frequency**: %d minutes\n", rule.Frequency)
	fmt.Fprintf(&b, "**Environment**: %s\n", orDefault(deref(rule.Environment), "All environments"))
	fmt.Fprintf(&b, "**Owner**: %s\n", orDefault(deref(rule.Owner), "None"))
	fmt.Fprintf(&b, "**Action Match**: %s\n", rule.ActionMatch)
	fmt.Fprintf(&b, "**Filter Match**: %s\n", rule.FilterMatch)
	fmt.Fprintf(&b, "**Snooze**: %s\n\n", yesNo(rule.Snooze))

	b.WriteString("## Conditions\n\n")
	if len(rule.Conditions) == 0 {
		b.WriteString("None\n")
	}
	for i, cond := range rule.Conditions {
		fmt.Fprintf(&b, "%d. **%s**\n", i+1, handlerName(cond.Name, cond.ID))
		writeDetail(&b, "Interval", cond.Interval)
		writeDetail(&b, "Value", flex(cond.Value))
		writeDetail(&b, "Comparison", cond.ComparisonType)
	}

	b.WriteString("\n## Filters\n\n")
	if len(rule.Filters) == 0 {
		b.WriteString("None\n")
	}
	for i, f := range rule.Filters {
		fmt.Fprintf(&b, "%d. **%s**\n", i+1, handlerName(f.Name, f.ID))
		writeDetail(&b, "Value", flex(f.Value))
		writeDetail(&b, "Match", f.Match)
		writeDetail(&b, "Key", f.Key)
		writeDetail(&b, "Attribute", f.Attribute)
	}

	b.WriteString("\n## Actions\n\n")
	if len(rule.Actions) == 0 {
		b.WriteString("None\n")
	}
	for i, a := range rule.Actions {
		fmt.Fprintf(&b, "%d. **%s**\n", i+1, handlerName(a.Name, a.ID))
		writeDetail(&b, "Target Type", a.TargetType)
		writeDetail(&b, "Target", flex(a.TargetIdentifier))
		writeDetail(&b, "Fallthrough", a.FallthroughType)
		writeDetail(&b, "Workspace", flex(a.Workspace))
		writeDetail(&b, "Channel", a.Channel)
		writeDetail(&b, "Channel ID", flex(a.ChannelID))
	}

	b.WriteString("\n## Metadata\n\n")
	fmt.Fprintf(&b, "**Created**: %s\n", isoTime(rule.DateCreated))
	if rule.CreatedBy != nil {
		fmt.Fprintf(&b, "**Created By**: %s (%s)\n", rule.CreatedBy.Name, rule.CreatedBy.Email)
	}
	return b.String(), nil
}

func createIssueAlertRule(ctx context.Context, c *Call) (string, error) {
	org, projectSlug, client, err := ruleTarget(c)
	if err != nil {
		return "", err
	}
	name := c.Arg("name")
	if name == "" {
		return "", apperr.NewUserInputError("Rule name is required. Please provide a name parameter.")
	}
	rb, err := parseRuleBody(c)
	if err != nil {
		return "", err
	}
	if len(rb.conditions) == 0 {
		return "", apperr.NewUserInputError("At least one condition is required. Please provide conditions parameter.")
	}
	if len(rb.actions) == 0 {
		return "", apperr.NewUserInputError("At least one action is required. Please provide actions parameter.")
	}

	rule, err := client.CreateIssueAlertRule(ctx, sentryapi.CreateIssueAlertRuleParams{
		OrganizationSlug: org,
		ProjectSlug:      projectSlug,
		Name:             name,
		Conditions:       rb.conditions,
		Filters:          rb.filters,
		Actions:          rb.actions,
		ActionMatch:      rb.actionMatch,
		FilterMatch:      rb.filterMatch,
		Frequency:        rb.frequency,
		Environment:      rb.environment,
		Owner:            rb.owner,
	}, sentryapi.RequestOptions{})
	if err != nil {
		return "", fmt.Errorf("creating alert rule in %s/%s: %w", org, projectSlug, err)
	}

	var b strings.Builder
	b.WriteString("# Issue Alert Rule Created\n\n")
	writeRuleSummary(&b, rule, org, projectSlug)
	b.WriteString("\n# Using this information\n\n")
	fmt.Fprintf(&b, "- The rule is active and will alert on matching issues in **%s/%s**.\n", org, projectSlug)
	fmt.Fprintf(&b, "- Use `update_issue_alert_rule()` with rule ID **%s** to change it.\n", rule.ID)
	fmt.Fprintf(&b, "- Use `delete_issue_alert_rule()` with rule ID **%s** to remove it.\n", rule.ID)
	return b.String(), nil
}

func updateIssueAlertRule(ctx context.Context, c *Call) (string, error) {
	org, projectSlug, client, err := ruleTarget(c)
	if err != nil {
		return "", err
	}
	ruleID, err := requireRuleID(c)
	if err != nil {
		return "", err
	}
	rb, err := parseRuleBody(c)
	if err != nil {
		return "", err
	}
	params := sentryapi.UpdateIssueAlertRuleParams{
		OrganizationSlug: org,
		ProjectSlug:      projectSlug,
		RuleID:           ruleID,
		Name:             c.Arg("name"),
		Conditions:       rb.conditions,
		Filters:          rb.filters,
		Actions:          rb.actions,
		ActionMatch:      rb.actionMatch,
		FilterMatch:      rb.filterMatch,
		Frequency:        rb.frequency,
		Environment:      rb.environment,
		Owner:            rb.owner,
	}
	if params.Empty() {
		return "", apperr.NewUserInputError("At least one field must be provided to update the alert rule.")
	}

	rule, err := client.UpdateIssueAlertRule(ctx, params, sentryapi.RequestOptions{})
	if err != nil {
		return "", fmt.Errorf("updating alert rule %s: %w", ruleID, err)
	}

	var b strings.Builder
	b.WriteString("# Issue Alert Rule Updated\n\n")
	writeRuleSummary(&b, rule, org, projectSlug)
	return b.String(), nil
}

func deleteIssueAlertRule(ctx context.Context, c *Call) (string, error) {
	org, projectSlug, client, err := ruleTarget(c)
	if err != nil {
		return "", err
	}
	ruleID, err := requireRuleID(c)
	if err != nil {
		return "", err
	}
	if err := client.DeleteIssueAlertRule(ctx, org, projectSlug, ruleID, sentryapi.RequestOptions{}); err != nil {
		return "", fmt.Errorf("deleting alert rule %s: %w", ruleID, err)
	}
	return fmt.Sprintf("# Issue Alert Rule Deleted\n\n"+
		"Successfully deleted issue alert rule **%s** from project **%s/%s**.\n\n"+
		"The alert rule has been permanently removed and will no longer trigger alerts.", ruleID, org, projectSlug), nil
}

func writeRuleSummary(b *strings.Builder, rule *sentryapi.IssueAlertRule, org, projectSlug string) {
	fmt.Fprintf(b, "**ID**: %s\n", rule.ID)
	fmt.Fprintf(b, "**Name**: %s\n", rule.Name)
	fmt.Fprintf(b, "**Project**: %s/%s\n", org, projectSlug)
	fmt.Fprintf(b, "**Status**: %s\n", rule.Status)
	fmt.Fprintf(b, "**Frequency**: %d minutes\n", rule.Frequency)
	fmt.Fprintf(b, "**Environment**: %s\n", orDefault(deref(rule.Environment), "All environments"))
	fmt.Fprintf(b, "**Conditions**: %d\n", len(rule.Conditions))
	fmt.Fprintf(b, "**Filters**: %d\n", len(rule.Filters))
	fmt.Fprintf(b, "**Actions**: %d\n", len(rule.Actions))
}

// handlerName prefers the display name and falls back to the last
// segment of a dotted handler id.
func handlerName(name, id string) string {
	if name != "" {
		return name
	}
	if i := strings.LastIndex(id, "."); i >= 0 {
		return id[i+1:]
	}
	return id
}

func summarizeConditions(conds []sentryapi.IssueAlertCondition) string {
	names := make([]string, 0, len(conds))
	for _, cond := range conds {
		names = append(names, handlerName(cond.Name, cond.ID))
	}
	return orDefault(strings.Join(names, ", "), "None")
}

func summarizeFilters(filters []sentryapi.IssueAlertFilter) string {
	names := make([]string, 0, len(filters))
	for _, f := range filters {
		names = append(names, fmt.Sprintf("%s: %s", handlerName(f.Name, f.ID), flex(f.Value)))
	}
	return orDefault(strings.Join(names, ", "), "None")
}

func summarizeActions(actions []sentryapi.IssueAlertAction) string {
	names := make([]string, 0, len(actions))
	for _, a := range actions {
		names = append(names, handlerName(a.Name, a.ID))
	}
	return orDefault(strings.Join(names, ", "), "None")
}

func writeDetail(b *strings.Builder, label, value string) {
	if value != "" {
		fmt.Fprintf(b, "   - %s: %s\n", label, value)
	}
}

func flex(v *sentryapi.FlexString) string {
	if v == nil {
		return ""
	}
	return v.String()
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func yesNo(v bool) string {
	if v {
		return "Yes"
	}
	return "No"
}
