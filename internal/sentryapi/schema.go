package sentryapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/asaskevich/govalidator"
)

// FlexString accepts a JSON string or number. Sentry returns ids and counts
// in either form depending on endpoint age.
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil || n == "" {
		return fmt.Errorf("expected string or number, got %s", data)
	}
	*f = FlexString(n.String())
	return nil
}

func (f FlexString) String() string { return string(f) }

// Int returns the numeric value, or 0 when not numeric.
func (f FlexString) Int() int64 {
	n, _ := strconv.ParseInt(string(f), 10, 64)
	return n
}

type fieldErrors struct {
	errs []error
}

func (fe *fieldErrors) required(name, value string) {
	if value == "" {
		fe.errs = append(fe.errs, fmt.Errorf("%s is required", name))
	}
}

func (fe *fieldErrors) url(name, value string) {
	if !govalidator.IsURL(value) {
		fe.errs = append(fe.errs, fmt.Errorf("%s must be a URL, got %q", name, value))
	}
}

func (fe *fieldErrors) datetime(name, value string) {
	if !govalidator.IsRFC3339(value) {
		fe.errs = append(fe.errs, fmt.Errorf("%s must be an RFC 3339 datetime, got %q", name, value))
	}
}

func (fe *fieldErrors) optionalDatetime(name string, value *string) {
	if value != nil {
		fe.datetime(name, *value)
	}
}

func (fe *fieldErrors) oneOf(name, value string, allowed ...string) {
	if !govalidator.IsIn(value, allowed...) {
		fe.errs = append(fe.errs, fmt.Errorf("%s has unexpected value %q", name, value))
	}
}

func (fe *fieldErrors) nested(name string, err error) {
	if err != nil {
		fe.errs = append(fe.errs, fmt.Errorf("%s: %w", name, err))
	}
}

func (fe *fieldErrors) err() error {
	return errors.Join(fe.errs...)
}

func validateList[T validator](items []T) error {
	var fe fieldErrors
	for i, item := range items {
		fe.nested(fmt.Sprintf("[%d]", i), item.Validate())
	}
	return fe.err()
}

type User struct {
	ID    FlexString `json:"id"`
	Name  string     `json:"name"`
	Email string     `json:"email"`
}

func (u User) Validate() error {
	var fe fieldErrors
	fe.required("id", string(u.ID))
	return fe.err()
}

type Region struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type UserRegions struct {
	Regions []Region `json:"regions"`
}

func (r UserRegions) Validate() error {
	var fe fieldErrors
	if r.Regions == nil {
		fe.errs = append(fe.errs, fmt.Errorf("regions is required"))
	}
	for i, region := range r.Regions {
		fe.url(fmt.Sprintf("regions[%d].url", i), region.URL)
	}
	return fe.err()
}

type OrganizationLinks struct {
	RegionURL       string `json:"regionUrl"`
	OrganizationURL string `json:"organizationUrl"`
}

type Organization struct {
	ID    FlexString        `json:"id"`
	Slug  string            `json:"slug"`
	Name  string            `json:"name"`
	Links OrganizationLinks `json:"links"`
}

func (o Organization) Validate() error {
	var fe fieldErrors
	fe.required("id", string(o.ID))
	fe.required("slug", o.Slug)
	fe.url("links.regionUrl", o.Links.RegionURL)
	fe.url("links.organizationUrl", o.Links.OrganizationURL)
	return fe.err()
}

type Organizations []Organization

func (l Organizations) Validate() error { return validateList(l) }

type Team struct {
	ID   FlexString `json:"id"`
	Slug string     `json:"slug"`
	Name string     `json:"name"`
}

func (t Team) Validate() error {
	var fe fieldErrors
	fe.required("id", string(t.ID))
	fe.required("slug", t.Slug)
	return fe.err()
}

type Teams []Team

func (l Teams) Validate() error { return validateList(l) }

type Project struct {
	ID       FlexString `json:"id"`
	Slug     string     `json:"slug"`
	Name     string     `json:"name"`
	Platform *string    `json:"platform"`
}

func (p Project) Validate() error {
	var fe fieldErrors
	fe.required("id", string(p.ID))
	fe.required("slug", p.Slug)
	return fe.err()
}

type Projects []Project

func (l Projects) Validate() error { return validateList(l) }

type ClientKeyDSN struct {
	Public string `json:"public"`
}

type ClientKey struct {
	ID          FlexString   `json:"id"`
	Name        string       `json:"name"`
	DSN         ClientKeyDSN `json:"dsn"`
	IsActive    bool         `json:"isActive"`
	DateCreated string       `json:"dateCreated"`
}

func (k ClientKey) Validate() error {
	var fe fieldErrors
	fe.required("id", string(k.ID))
	fe.required("dsn.public", k.DSN.Public)
	fe.datetime("dateCreated", k.DateCreated)
	return fe.err()
}

type ClientKeys []ClientKey

func (l ClientKeys) Validate() error { return validateList(l) }

type CommitAuthor struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type Commit struct {
	ID          FlexString   `json:"id"`
	Message     string       `json:"message"`
	DateCreated string       `json:"dateCreated"`
	Author      CommitAuthor `json:"author"`
}

type Deploy struct {
	ID           FlexString `json:"id"`
	Environment  string     `json:"environment"`
	DateStarted  *string    `json:"dateStarted"`
	DateFinished *string    `json:"dateFinished"`
}

type Release struct {
	ID           FlexString `json:"id"`
	Version      string     `json:"version"`
	ShortVersion string     `json:"shortVersion"`
	DateCreated  string     `json:"dateCreated"`
	DateReleased *string    `json:"dateReleased"`
	FirstEvent   *string    `json:"firstEvent"`
	LastEvent    *string    `json:"lastEvent"`
	NewGroups    int        `json:"newGroups"`
	LastCommit   *Commit    `json:"lastCommit"`
	LastDeploy   *Deploy    `json:"lastDeploy"`
	Projects     []Project  `json:"projects"`
}

func (r Release) Validate() error {
	var fe fieldErrors
	fe.required("id", string(r.ID))
	fe.required("version", r.Version)
	fe.datetime("dateCreated", r.DateCreated)
	fe.optionalDatetime("dateReleased", r.DateReleased)
	fe.optionalDatetime("firstEvent", r.FirstEvent)
	fe.optionalDatetime("lastEvent", r.LastEvent)
	if r.LastCommit != nil {
		fe.datetime("lastCommit.dateCreated", r.LastCommit.DateCreated)
	}
	if r.LastDeploy != nil {
		fe.optionalDatetime("lastDeploy.dateStarted", r.LastDeploy.DateStarted)
		fe.optionalDatetime("lastDeploy.dateFinished", r.LastDeploy.DateFinished)
	}
	fe.nested("projects", validateList(r.Projects))
	return fe.err()
}

type Releases []Release

func (l Releases) Validate() error { return validateList(l) }

type Tag struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	TotalValues int64  `json:"totalValues"`
}

func (t Tag) Validate() error {
	var fe fieldErrors
	fe.required("key", t.Key)
	return fe.err()
}

type Tags []Tag

func (l Tags) Validate() error { return validateList(l) }

// AssignedTo is null, an actor string, or a user/team object.
type AssignedTo struct {
	Actor string
	Type  string     `json:"type"`
	ID    FlexString `json:"id"`
	Name  string     `json:"name"`
	Email string     `json:"email,omitempty"`
}

func (a *AssignedTo) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &a.Actor)
	}
	type plain AssignedTo
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*a = AssignedTo(p)
	return nil
}

// Display returns a human label for the assignee.
func (a *AssignedTo) Display() string {
	switch {
	case a == nil:
		return "Unassigned"
	case a.Actor != "":
		return a.Actor
	case a.Name != "":
		return a.Name
	default:
		return "Unknown"
	}
}

type Issue struct {
	ID         FlexString      `json:"id"`
	ShortID    string          `json:"shortId"`
	Title      string          `json:"title"`
	FirstSeen  string          `json:"firstSeen"`
	LastSeen   string          `json:"lastSeen"`
	Count      FlexString      `json:"count"`
	UserCount  FlexString      `json:"userCount"`
	Permalink  string          `json:"permalink"`
	Project    Project         `json:"project"`
	Platform   *string         `json:"platform"`
	Status     string          `json:"status"`
	Culprit    string          `json:"culprit"`
	Type       json.RawMessage `json:"type"`
	AssignedTo *AssignedTo     `json:"assignedTo"`
}

func (i Issue) Validate() error {
	var fe fieldErrors
	fe.required("id", string(i.ID))
	fe.required("shortId", i.ShortID)
	fe.datetime("firstSeen", i.FirstSeen)
	fe.datetime("lastSeen", i.LastSeen)
	fe.url("permalink", i.Permalink)
	fe.required("status", i.Status)
	fe.nested("project", i.Project.Validate())
	return fe.err()
}

type Issues []Issue

func (l Issues) Validate() error { return validateList(l) }

// ContextLine is one [lineNo, source] pair around a stack frame.
type ContextLine struct {
	LineNo int
	Code   string
}

func (c *ContextLine) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("context line must have 2 elements, got %d", len(pair))
	}
	if err := json.Unmarshal(pair[0], &c.LineNo); err != nil {
		return err
	}
	return json.Unmarshal(pair[1], &c.Code)
}

type Frame struct {
	Filename *string       `json:"filename"`
	Function *string       `json:"function"`
	LineNo   *int          `json:"lineNo"`
	ColNo    *int          `json:"colNo"`
	AbsPath  *string       `json:"absPath"`
	Module   *string       `json:"module"`
	Context  []ContextLine `json:"context"`
}

type Mechanism struct {
	Type    *string `json:"type"`
	Handled *bool   `json:"handled"`
}

type Stacktrace struct {
	Frames []Frame `json:"frames"`
}

type Exception struct {
	Mechanism  *Mechanism  `json:"mechanism"`
	Type       *string     `json:"type"`
	Value      *string     `json:"value"`
	Stacktrace *Stacktrace `json:"stacktrace"`
}

// ExceptionEntry is the data of an "exception" event entry. Sentry sends
// either a single value or a list of values.
type ExceptionEntry struct {
	Values []*Exception `json:"values"`
	Value  *Exception   `json:"value"`
}

// First returns the primary exception, if any.
func (e ExceptionEntry) First() *Exception {
	if e.Value != nil {
		return e.Value
	}
	for _, v := range e.Values {
		if v != nil {
			return v
		}
	}
	return nil
}

type EventEntry struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Exception decodes the entry data when Type is "exception".
func (e EventEntry) Exception() (*ExceptionEntry, error) {
	if e.Type != "exception" {
		return nil, fmt.Errorf("entry type is %q", e.Type)
	}
	var ex ExceptionEntry
	if err := json.Unmarshal(e.Data, &ex); err != nil {
		return nil, err
	}
	return &ex, nil
}

type Occurrence struct {
	IssueTitle string  `json:"issueTitle"`
	Culprit    *string `json:"culprit"`
}

type Event struct {
	ID          string                     `json:"id"`
	Title       string                     `json:"title"`
	Message     *string                    `json:"message"`
	Platform    *string                    `json:"platform"`
	Type        string                     `json:"type"`
	Culprit     *string                    `json:"culprit"`
	DateCreated string                     `json:"dateCreated"`
	Occurrence  *Occurrence                `json:"occurrence"`
	Entries     []EventEntry               `json:"entries"`
	Contexts    map[string]json.RawMessage `json:"contexts"`
}

func (e Event) Validate() error {
	var fe fieldErrors
	fe.required("id", e.ID)
	if e.Entries == nil {
		fe.errs = append(fe.errs, fmt.Errorf("entries is required"))
	}
	switch e.Type {
	case "error":
		fe.datetime("dateCreated", e.DateCreated)
	case "transaction":
		if e.Occurrence == nil {
			fe.errs = append(fe.errs, fmt.Errorf("occurrence is required for transaction events"))
		}
	}
	for i, entry := range e.Entries {
		if entry.Type != "exception" {
			continue
		}
		if _, err := entry.Exception(); err != nil {
			fe.nested(fmt.Sprintf("entries[%d]", i), err)
		}
	}
	return fe.err()
}

type EventsMeta struct {
	Fields map[string]string `json:"fields"`
}

type ErrorSearchResult struct {
	Issue    string     `json:"issue"`
	IssueID  FlexString `json:"issue.id"`
	Project  string     `json:"project"`
	Title    string     `json:"title"`
	Count    float64    `json:"count()"`
	LastSeen string     `json:"last_seen()"`
}

func (r ErrorSearchResult) Validate() error {
	var fe fieldErrors
	fe.required("issue", r.Issue)
	fe.required("issue.id", string(r.IssueID))
	return fe.err()
}

type SpanSearchResult struct {
	ID              string  `json:"id"`
	Trace           string  `json:"trace"`
	SpanOp          string  `json:"span.op"`
	SpanDescription string  `json:"span.description"`
	SpanDuration    float64 `json:"span.duration"`
	Transaction     string  `json:"transaction"`
	Project         string  `json:"project"`
	Timestamp       string  `json:"timestamp"`
}

func (r SpanSearchResult) Validate() error {
	var fe fieldErrors
	fe.required("id", r.ID)
	fe.required("trace", r.Trace)
	return fe.err()
}

type searchResponse[T validator] struct {
	Data []T         `json:"data"`
	Meta *EventsMeta `json:"meta"`
}

func (r searchResponse[T]) Validate() error {
	var fe fieldErrors
	if r.Data == nil {
		fe.errs = append(fe.errs, fmt.Errorf("data is required"))
	}
	if r.Meta == nil {
		fe.errs = append(fe.errs, fmt.Errorf("meta is required"))
	}
	fe.nested("data", validateList(r.Data))
	return fe.err()
}

type AutofixRun struct {
	RunID FlexString `json:"run_id"`
}

func (r AutofixRun) Validate() error {
	var fe fieldErrors
	fe.required("run_id", string(r.RunID))
	return fe.err()
}

var autofixStatuses = []string{
	"PENDING",
	"PROCESSING",
	"IN_PROGRESS",
	"NEED_MORE_INFORMATION",
	"COMPLETED",
	"FAILED",
	"ERROR",
	"CANCELLED",
	"WAITING_FOR_USER_RESPONSE",
}

type AutofixProgress struct {
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
}

type AutofixInsight struct {
	Insight       string `json:"insight"`
	Justification string `json:"justification"`
}

type RelevantCodeFile struct {
	FilePath string `json:"file_path"`
	RepoName string `json:"repo_name"`
}

type RootCauseReproduction struct {
	CodeSnippetAndAnalysis string            `json:"code_snippet_and_analysis"`
	IsMostImportantEvent   bool              `json:"is_most_important_event"`
	RelevantCodeFile       *RelevantCodeFile `json:"relevant_code_file"`
	TimelineItemType       string            `json:"timeline_item_type"`
	Title                  string            `json:"title"`
}

type AutofixCause struct {
	Description           string                  `json:"description"`
	ID                    int                     `json:"id"`
	RootCauseReproduction []RootCauseReproduction `json:"root_cause_reproduction"`
}

type AutofixSolutionItem struct {
	CodeSnippetAndAnalysis *string `json:"code_snippet_and_analysis"`
	IsActive               bool    `json:"is_active"`
	IsMostImportantEvent   bool    `json:"is_most_important_event"`
	TimelineItemType       string  `json:"timeline_item_type"`
	Title                  string  `json:"title"`
}

// AutofixStep covers every step kind; fields not used by a kind stay empty.
type AutofixStep struct {
	Type         string                `json:"type"`
	Key          string                `json:"key"`
	Index        int                   `json:"index"`
	Status       string                `json:"status"`
	Title        string                `json:"title"`
	Description  string                `json:"description"`
	OutputStream *string               `json:"output_stream"`
	Progress     []AutofixProgress     `json:"progress"`
	Insights     []AutofixInsight      `json:"insights"`
	Causes       []AutofixCause        `json:"causes"`
	Solution     []AutofixSolutionItem `json:"solution"`
}

type Autofix struct {
	RunID     int64         `json:"run_id"`
	UpdatedAt string        `json:"updated_at"`
	Status    string        `json:"status"`
	Steps     []AutofixStep `json:"steps"`
}

type AutofixRunState struct {
	Autofix *Autofix `json:"autofix"`
}

func (s AutofixRunState) Validate() error {
	if s.Autofix == nil {
		return nil
	}
	var fe fieldErrors
	fe.oneOf("autofix.status", s.Autofix.Status, autofixStatuses...)
	for i, step := range s.Autofix.Steps {
		fe.oneOf(fmt.Sprintf("autofix.steps[%d].status", i), step.Status, autofixStatuses...)
	}
	return fe.err()
}
