package sentryapi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

type IssueAlertCondition struct {
	ID             string      `json:"id"`
	Name           string      `json:"name,omitempty"`
	Interval       string      `json:"interval,omitempty"`
	Value          *FlexString `json:"value,omitempty"`
	ComparisonType string      `json:"comparisonType,omitempty"`
}

func (c IssueAlertCondition) Validate() error {
	var fe fieldErrors
	fe.required("id", c.ID)
	return fe.err()
}

type IssueAlertFilter struct {
	ID        string      `json:"id"`
	Name      string      `json:"name,omitempty"`
	Value     *FlexString `json:"value"`
	Match     string      `json:"match,omitempty"`
	Key       string      `json:"key,omitempty"`
	Attribute string      `json:"attribute,omitempty"`
}

func (f IssueAlertFilter) Validate() error {
	var fe fieldErrors
	fe.required("id", f.ID)
	return fe.err()
}

type IssueAlertAction struct {
	ID               string      `json:"id"`
	Name             string      `json:"name,omitempty"`
	TargetType       string      `json:"targetType,omitempty"`
	FallthroughType  string      `json:"fallthroughType,omitempty"`
	TargetIdentifier *FlexString `json:"targetIdentifier,omitempty"`
	Workspace        *FlexString `json:"workspace,omitempty"`
	Channel          string      `json:"channel,omitempty"`
	ChannelID        *FlexString `json:"channel_id,omitempty"`
	UUID             string      `json:"uuid,omitempty"`
	Tags             string      `json:"tags,omitempty"`
}

func (a IssueAlertAction) Validate() error {
	var fe fieldErrors
	fe.required("id", a.ID)
	return fe.err()
}

type IssueAlertRule struct {
	ID          FlexString            `json:"id"`
	Name        string                `json:"name"`
	Conditions  []IssueAlertCondition `json:"conditions"`
	Filters     []IssueAlertFilter    `json:"filters"`
	Actions     []IssueAlertAction    `json:"actions"`
	ActionMatch string                `json:"actionMatch"`
	FilterMatch string                `json:"filterMatch"`
	Frequency   int                   `json:"frequency"`
	DateCreated string                `json:"dateCreated"`
	Owner       *string               `json:"owner"`
	CreatedBy   *User                 `json:"createdBy"`
	Environment *string               `json:"environment"`
	Projects    []string              `json:"projects"`
	Status      string                `json:"status"`
	Snooze      bool                  `json:"snooze"`
}

func (r IssueAlertRule) Validate() error {
	var fe fieldErrors
	fe.required("id", string(r.ID))
	fe.required("name", r.Name)
	if r.Conditions == nil || r.Filters == nil || r.Actions == nil {
		fe.errs = append(fe.errs, fmt.Errorf("conditions, filters and actions are required"))
	}
	fe.nested("conditions", validateList(r.Conditions))
	fe.nested("filters", validateList(r.Filters))
	fe.nested("actions", validateList(r.Actions))
	if r.DateCreated != "" {
		fe.datetime("dateCreated", r.DateCreated)
	}
	return fe.err()
}

type IssueAlertRules []IssueAlertRule

func (l IssueAlertRules) Validate() error { return validateList(l) }

func rulesPath(organizationSlug, projectSlug string) string {
	return fmt.Sprintf("/projects/%s/%s/rules/", url.PathEscape(organizationSlug), url.PathEscape(projectSlug))
}

func rulePath(organizationSlug, projectSlug, ruleID string) string {
	return rulesPath(organizationSlug, projectSlug) + url.PathEscape(ruleID) + "/"
}

func (c *Client) ListIssueAlertRules(ctx context.Context, organizationSlug, projectSlug string, opts RequestOptions) ([]IssueAlertRule, error) {
	var rules IssueAlertRules
	if err := c.request(ctx, http.MethodGet, rulesPath(organizationSlug, projectSlug), nil, opts, &rules); err != nil {
		return nil, err
	}
	return rules, nil
}

func (c *Client) GetIssueAlertRule(ctx context.Context, organizationSlug, projectSlug, ruleID string, opts RequestOptions) (*IssueAlertRule, error) {
	var rule IssueAlertRule
	if err := c.request(ctx, http.MethodGet, rulePath(organizationSlug, projectSlug, ruleID), nil, opts, &rule); err != nil {
		return nil, err
	}
	return &rule, nil
}

type CreateIssueAlertRuleParams struct {
	OrganizationSlug string
	ProjectSlug      string
	Name             string
	Conditions       []map[string]any
	Filters          []map[string]any
	Actions          []map[string]any
	ActionMatch      string
	FilterMatch      string
	Frequency        int
	Environment      string
	Owner            string
}

// CreateIssueAlertRule creates a rule. Unset matchers default to "any"
// for actions and "all" for filters, and the frequency to one day.
func (c *Client) CreateIssueAlertRule(ctx context.Context, p CreateIssueAlertRuleParams, opts RequestOptions) (*IssueAlertRule, error) {
	body := map[string]any{
		"name":        p.Name,
		"conditions":  p.Conditions,
		"actions":     p.Actions,
		"actionMatch": defaultString(p.ActionMatch, "any"),
		"filterMatch": defaultString(p.FilterMatch, "all"),
		"frequency":   1440,
	}
	if p.Filters != nil {
		body["filters"] = p.Filters
	} else {
		body["filters"] = []map[string]any{}
	}
	if p.Frequency > 0 {
		body["frequency"] = p.Frequency
	}
	if p.Environment != "" {
		body["environment"] = p.Environment
	}
	if p.Owner != "" {
		body["owner"] = p.Owner
	}
	var rule IssueAlertRule
	if err := c.request(ctx, http.MethodPost, rulesPath(p.OrganizationSlug, p.ProjectSlug), body, opts, &rule); err != nil {
		return nil, err
	}
	return &rule, nil
}

// UpdateIssueAlertRuleParams carries a partial update. Nil slices and
// zero values are left out of the request. Conditions, filters and actions
// are sent as given since their fields depend on the handler id.
type UpdateIssueAlertRuleParams struct {
	OrganizationSlug string
	ProjectSlug      string
	RuleID           string
	Name             string
	Conditions       []map[string]any
	Filters          []map[string]any
	Actions          []map[string]any
	ActionMatch      string
	FilterMatch      string
	Frequency        int
	Environment      string
	Owner            string
}

func (p UpdateIssueAlertRuleParams) body() map[string]any {
	body := map[string]any{}
	if p.Name != "" {
		body["name"] = p.Name
	}
	if p.Conditions != nil {
		body["conditions"] = p.Conditions
	}
	if p.Filters != nil {
		body["filters"] = p.Filters
	}
	if p.Actions != nil {
		body["actions"] = p.Actions
	}
	if p.ActionMatch != "" {
		body["actionMatch"] = p.ActionMatch
	}
	if p.FilterMatch != "" {
		body["filterMatch"] = p.FilterMatch
	}
	if p.Frequency > 0 {
		body["frequency"] = p.Frequency
	}
	if p.Environment != "" {
		body["environment"] = p.Environment
	}
	if p.Owner != "" {
		body["owner"] = p.Owner
	}
	return body
}

// Empty reports whether the update would change nothing.
func (p UpdateIssueAlertRuleParams) Empty() bool {
	return len(p.body()) == 0
}

func (c *Client) UpdateIssueAlertRule(ctx context.Context, p UpdateIssueAlertRuleParams, opts RequestOptions) (*IssueAlertRule, error) {
	var rule IssueAlertRule
	if err := c.request(ctx, http.MethodPut, rulePath(p.OrganizationSlug, p.ProjectSlug, p.RuleID), p.body(), opts, &rule); err != nil {
		return nil, err
	}
	return &rule, nil
}

func (c *Client) DeleteIssueAlertRule(ctx context.Context, organizationSlug, projectSlug, ruleID string, opts RequestOptions) error {
	return c.request(ctx, http.MethodDelete, rulePath(organizationSlug, projectSlug, ruleID), nil, opts, nil)
}

func defaultString(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
