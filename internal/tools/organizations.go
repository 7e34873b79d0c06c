package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dgellow/sentry-mcp/internal/apperr"
	"github.com/dgellow/sentry-mcp/internal/log"
	"github.com/dgellow/sentry-mcp/internal/sentryapi"
)

func init() {
	register(Tool{
		Name:        "whoami",
		Description: "Identify the authenticated user in Sentry.",
		Params:      []mcp.ToolOption{paramRegionURL()},
		Handler:     whoami,
	})
	register(Tool{
		Name:        "find_organizations",
		Description: "Find organizations that the user has access to in Sentry.",
		Params:      []mcp.ToolOption{paramRegionURL()},
		Handler:     findOrganizations,
	})
	register(Tool{
		Name:        "find_teams",
		Description: "Find teams in an organization in Sentry.",
		Params:      []mcp.ToolOption{paramOrganizationSlug(false), paramRegionURL()},
		Handler:     findTeams,
	})
	register(Tool{
		Name:        "find_projects",
		Description: "Find projects in Sentry.",
		Params:      []mcp.ToolOption{paramOrganizationSlug(false), paramRegionURL()},
		Handler:     findProjects,
	})
	register(Tool{
		Name:        "find_releases",
		Description: "Find releases in Sentry.",
		Params: []mcp.ToolOption{
			paramOrganizationSlug(false), paramRegionURL(), paramProjectSlug(false),
			mcp.WithString("query", mcp.Description("Search for versions which contain the provided string.")),
		},
		Handler: findReleases,
	})
	register(Tool{
		Name:        "find_tags",
		Description: "Find tags in Sentry. Tags can be used in the query parameter of `find_issues()` and `find_errors()`.",
		Params:      []mcp.ToolOption{paramOrganizationSlug(false), paramRegionURL()},
		Handler:     findTags,
	})
	register(Tool{
		Name:        "create_team",
		Description: "Create a new team in Sentry. Be careful when using this tool!",
		Params: []mcp.ToolOption{
			paramOrganizationSlug(false), paramRegionURL(),
			mcp.WithString("name", mcp.Required(), mcp.Description("The name of the team to create.")),
		},
		Handler: createTeam,
	})
	register(Tool{
		Name:        "create_project",
		Description: "Create a new project in Sentry, giving you access to a new SENTRY_DSN. Be careful when using this tool!",
		Params: []mcp.ToolOption{
			paramOrganizationSlug(false), paramRegionURL(),
			mcp.WithString("teamSlug", mcp.Required(), mcp.Description("The team's slug. You can find a list of existing teams using the `find_teams()` tool.")),
			mcp.WithString("name", mcp.Required(), mcp.Description("The name of the project to create. It is only used as a visual label in Sentry.")),
			mcp.WithString("platform", mcp.Description("The platform for the project, e.g. python, javascript, react-native.")),
		},
		Handler: createProject,
	})
	register(Tool{
		Name:        "update_project",
		Description: "Update project settings in Sentry, such as its name, slug, platform or team assignment. Be careful when using this tool!",
		Params: []mcp.ToolOption{
			paramOrganizationSlug(false), paramRegionURL(), paramProjectSlug(true),
			mcp.WithString("name", mcp.Description("The new name for the project.")),
			mcp.WithString("slug", mcp.Description("The new slug for the project.")),
			mcp.WithString("platform", mcp.Description("The new platform for the project.")),
			mcp.WithString("teamSlug", mcp.Description("The team to assign this project to.")),
		},
		Handler: updateProject,
	})
	register(Tool{
		Name:        "create_dsn",
		Description: "Create a new Sentry DSN for a specific project. Be careful when using this tool!",
		Params: []mcp.ToolOption{
			paramOrganizationSlug(false), paramRegionURL(), paramProjectSlug(true),
			mcp.WithString("name", mcp.Required(), mcp.Description("The name of the DSN to create, for example 'Production'.")),
		},
		Handler: createDSN,
	})
	register(Tool{
		Name:        "find_dsns",
		Description: "List all Sentry DSNs for a specific project.",
		Params:      []mcp.ToolOption{paramOrganizationSlug(false), paramRegionURL(), paramProjectSlug(true)},
		Handler:     findDSNs,
	})
}

func whoami(ctx context.Context, c *Call) (string, error) {
	client, err := c.Client()
	if err != nil {
		return "", err
	}
	user, err := client.GetAuthenticatedUser(ctx, sentryapi.RequestOptions{})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("You are authenticated as %s (%s).\n\nYour Sentry User ID is %s.", user.Name, user.Email, user.ID), nil
}

func findOrganizations(ctx context.Context, c *Call) (string, error) {
	client, err := c.Client()
	if err != nil {
		return "", err
	}
	orgs, err := client.ListOrganizations(ctx, sentryapi.RequestOptions{})
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("# Organizations\n\n")
	if len(orgs) == 0 {
		b.WriteString("You don't appear to be a member of any organizations.\n")
		return b.String(), nil
	}
	entries := make([]string, 0, len(orgs))
	for _, org := range orgs {
		entries = append(entries, fmt.Sprintf("## **%s**\n\n**Web URL:** %s\n**Region URL:** %s",
			org.Slug, org.Links.OrganizationURL, org.Links.RegionURL))
	}
	b.WriteString(strings.Join(entries, "\n\n"))
	b.WriteString("\n\n# Using this information\n\n")
	b.WriteString("- The organization's name is the identifier for the organization, and is used in many tools for `organizationSlug`.\n")
	b.WriteString("- If a tool supports passing in the `regionUrl`, you MUST pass in the correct value there.\n")
	return b.String(), nil
}

func findTeams(ctx context.Context, c *Call) (string, error) {
	org, err := c.OrganizationSlug()
	if err != nil {
		return "", err
	}
	client, err := c.Client()
	if err != nil {
		return "", err
	}
	teams, err := client.ListTeams(ctx, org, sentryapi.RequestOptions{})
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Teams in **%s**\n\n", org)
	if len(teams) == 0 {
		b.WriteString("No teams found.\n")
		return b.String(), nil
	}
	for _, team := range teams {
		fmt.Fprintf(&b, "- %s\n", team.Slug)
	}
	return b.String(), nil
}

func findProjects(ctx context.Context, c *Call) (string, error) {
	org, err := c.OrganizationSlug()
	if err != nil {
		return "", err
	}
	client, err := c.Client()
	if err != nil {
		return "", err
	}
	projects, err := client.ListProjects(ctx, org, sentryapi.RequestOptions{})
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Projects in **%s**\n\n", org)
	if len(projects) == 0 {
		b.WriteString("No projects found.\n")
		return b.String(), nil
	}
	for _, project := range projects {
		fmt.Fprintf(&b, "- **%s**\n", project.Slug)
	}
	return b.String(), nil
}

func findReleases(ctx context.Context, c *Call) (string, error) {
	org, err := c.OrganizationSlug()
	if err != nil {
		return "", err
	}
	client, err := c.Client()
	if err != nil {
		return "", err
	}
	project := c.Arg("projectSlug")
	releases, err := client.ListReleases(ctx, sentryapi.ListReleasesParams{
		OrganizationSlug: org,
		ProjectSlug:      project,
		Query:            c.Arg("query"),
	}, sentryapi.RequestOptions{})
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Releases in **%s**\n\n", scoped(org, project))
	if len(releases) == 0 {
		b.WriteString("No releases found.\n")
		return b.String(), nil
	}

	entries := make([]string, 0, len(releases))
	for _, r := range releases {
		lines := []string{
			"## " + r.ShortVersion,
			"",
			"**Created**: " + isoTime(r.DateCreated),
		}
		if r.DateReleased != nil {
			lines = append(lines, "**Released**: "+isoTime(*r.DateReleased))
		}
		if r.FirstEvent != nil {
			lines = append(lines, "**First Event**: "+isoTime(*r.FirstEvent))
		}
		if r.LastEvent != nil {
			lines = append(lines, "**Last Event**: "+isoTime(*r.LastEvent))
		}
		lines = append(lines, fmt.Sprintf("**New Issues**: %d", r.NewGroups))
		if len(r.Projects) > 0 {
			names := make([]string, 0, len(r.Projects))
			for _, p := range r.Projects {
				names = append(names, p.Name)
			}
			lines = append(lines, "**Projects**: "+strings.Join(names, ", "))
		}
		if commit := r.LastCommit; commit != nil {
			lines = append(lines, "", "### Last Commit", "",
				"**Commit ID**: "+commit.ID.String(),
				"**Commit Message**: "+commit.Message,
				"**Commit Author**: "+commit.Author.Name,
				"**Commit Date**: "+isoTime(commit.DateCreated))
		}
		if deploy := r.LastDeploy; deploy != nil {
			lines = append(lines, "", "### Last Deploy", "",
				"**Deploy ID**: "+deploy.ID.String(),
				"**Environment**: "+deploy.Environment)
			if deploy.DateStarted != nil {
				lines = append(lines, "**Deploy Started**: "+isoTime(*deploy.DateStarted))
			}
			if deploy.DateFinished != nil {
				lines = append(lines, "**Deploy Finished**: "+isoTime(*deploy.DateFinished))
			}
		}
		entries = append(entries, strings.Join(lines, "\n"))
	}
	b.WriteString(strings.Join(entries, "\n\n"))
	b.WriteString("\n\n# Using this information\n\n")
	b.WriteString("- You can reference the Release version in commit messages or documentation.\n")
	fmt.Fprintf(&b, "- You can search for issues in a specific release using the `find_errors()` tool with the query `release:%s`.\n", releases[0].ShortVersion)
	return b.String(), nil
}

func findTags(ctx context.Context, c *Call) (string, error) {
	org, err := c.OrganizationSlug()
	if err != nil {
		return "", err
	}
	client, err := c.Client()
	if err != nil {
		return "", err
	}
	tags, err := client.ListTags(ctx, org, sentryapi.DatasetErrors, sentryapi.RequestOptions{})
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Tags in **%s**\n\n", org)
	if len(tags) == 0 {
		b.WriteString("No tags found.\n")
		return b.String(), nil
	}
	keys := make([]string, 0, len(tags))
	for _, tag := range tags {
		keys = append(keys, "- "+tag.Key)
	}
	b.WriteString(strings.Join(keys, "\n"))
	b.WriteString("\n\n# Using this information\n\n")
	b.WriteString("- You can reference tags in the `query` parameter of various tools: `tagName:tagValue`.\n")
	return b.String(), nil
}

func createTeam(ctx context.Context, c *Call) (string, error) {
	org, err := c.OrganizationSlug()
	if err != nil {
		return "", err
	}
	name, err := c.Require("name")
	if err != nil {
		return "", err
	}
	client, err := c.Client()
	if err != nil {
		return "", err
	}
	team, err := client.CreateTeam(ctx, org, name, sentryapi.RequestOptions{})
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# New Team in **%s**\n\n", org)
	fmt.Fprintf(&b, "**ID**: %s\n**Slug**: %s\n**Name**: %s\n", team.ID, team.Slug, team.Name)
	b.WriteString("# Using this information\n\n")
	b.WriteString("- You should always inform the user of the Team Slug value.\n")
	return b.String(), nil
}

func createProject(ctx context.Context, c *Call) (string, error) {
	org, err := c.OrganizationSlug()
	if err != nil {
		return "", err
	}
	teamSlug, err := c.Require("teamSlug")
	if err != nil {
		return "", err
	}
	name, err := c.Require("name")
	if err != nil {
		return "", err
	}
	client, err := c.Client()
	if err != nil {
		return "", err
	}
	project, err := client.CreateProject(ctx, sentryapi.CreateProjectParams{
		OrganizationSlug: org,
		TeamSlug:         teamSlug,
		Name:             name,
		Platform:         c.Arg("platform"),
	}, sentryapi.RequestOptions{})
	if err != nil {
		return "", err
	}

	// The project exists at this point; a failed key creation only loses the DSN line.
	key, keyErr := client.CreateClientKey(ctx, org, project.Slug, "Default", sentryapi.RequestOptions{})
	if keyErr != nil {
		log.LogWarnWithFields("tools", "Failed to create default client key", map[string]any{
			"organization": org,
			"project":      project.Slug,
			"error":        keyErr.Error(),
		})
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# New Project in **%s**\n\n", org)
	fmt.Fprintf(&b, "**ID**: %s\n**Slug**: %s\n**Name**: %s\n", project.ID, project.Slug, project.Name)
	if key != nil {
		fmt.Fprintf(&b, "**SENTRY_DSN**: %s\n\n", key.DSN.Public)
	} else {
		b.WriteString("**SENTRY_DSN**: There was an error fetching this value.\n\n")
	}
	b.WriteString("# Using this information\n\n")
	b.WriteString("- You can reference the **SENTRY_DSN** value to initialize Sentry's SDKs.\n")
	b.WriteString("- You should always inform the user of the **SENTRY_DSN** and Project Slug values.\n")
	return b.String(), nil
}

func updateProject(ctx context.Context, c *Call) (string, error) {
	org, err := c.OrganizationSlug()
	if err != nil {
		return "", err
	}
	projectSlug, err := c.Require("projectSlug")
	if err != nil {
		return "", err
	}
	client, err := c.Client()
	if err != nil {
		return "", err
	}

	name, slug, platform, teamSlug := c.Arg("name"), c.Arg("slug"), c.Arg("platform"), c.Arg("teamSlug")
	if name == "" && slug == "" && platform == "" && teamSlug == "" {
		return "", apperr.NewUserInputError("At least one of `name`, `slug`, `platform` or `teamSlug` must be provided to update the project")
	}

	if teamSlug != "" {
		if err := client.AddTeamToProject(ctx, org, projectSlug, teamSlug, sentryapi.RequestOptions{}); err != nil {
			return "", fmt.Errorf("assigning team %s to project %s: %w", teamSlug, projectSlug, err)
		}
	}

	var project *sentryapi.Project
	if name != "" || slug != "" || platform != "" {
		project, err = client.UpdateProject(ctx, sentryapi.UpdateProjectParams{
			OrganizationSlug: org,
			ProjectSlug:      projectSlug,
			Name:             name,
			Slug:             slug,
			Platform:         platform,
		}, sentryapi.RequestOptions{})
		if err != nil {
			return "", fmt.Errorf("updating project %s: %w", projectSlug, err)
		}
	} else {
		projects, err := client.ListProjects(ctx, org, sentryapi.RequestOptions{})
		if err != nil {
			return "", err
		}
		for i := range projects {
			if projects[i].Slug == projectSlug {
				project = &projects[i]
				break
			}
		}
		if project == nil {
			return "", apperr.NewUserInputError("Project %s not found", projectSlug)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Updated Project in **%s**\n\n", org)
	fmt.Fprintf(&b, "**ID**: %s\n**Slug**: %s\n**Name**: %s\n", project.ID, project.Slug, project.Name)
	if p := deref(project.Platform); p != "" {
		fmt.Fprintf(&b, "**Platform**: %s\n", p)
	}

	var updates []string
	if name != "" {
		updates = append(updates, fmt.Sprintf("- Updated name to %q", name))
	}
	if slug != "" {
		updates = append(updates, fmt.Sprintf("- Updated slug to %q", slug))
	}
	if platform != "" {
		updates = append(updates, fmt.Sprintf("- Updated platform to %q", platform))
	}
	if teamSlug != "" {
		updates = append(updates, fmt.Sprintf("- Updated team assignment to %q", teamSlug))
	}
	b.WriteString("\n## Updates Applied\n")
	b.WriteString(strings.Join(updates, "\n"))
	b.WriteString("\n")

	b.WriteString("\n# Using this information\n\n")
	fmt.Fprintf(&b, "- The project is now accessible at slug: `%s`\n", project.Slug)
	if teamSlug != "" {
		fmt.Fprintf(&b, "- The project is now assigned to the `%s` team\n", teamSlug)
	}
	return b.String(), nil
}

func createDSN(ctx context.Context, c *Call) (string, error) {
	org, err := c.OrganizationSlug()
	if err != nil {
		return "", err
	}
	projectSlug, err := c.Require("projectSlug")
	if err != nil {
		return "", err
	}
	name, err := c.Require("name")
	if err != nil {
		return "", err
	}
	client, err := c.Client()
	if err != nil {
		return "", err
	}
	key, err := client.CreateClientKey(ctx, org, projectSlug, name, sentryapi.RequestOptions{})
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# New DSN in **%s/%s**\n\n", org, projectSlug)
	fmt.Fprintf(&b, "**DSN**: %s\n**Name**: %s\n\n", key.DSN.Public, key.Name)
	b.WriteString("# Using this information\n\n")
	b.WriteString("- The `SENTRY_DSN` value is a URL that you can use to initialize Sentry's SDKs.\n")
	return b.String(), nil
}

func findDSNs(ctx context.Context, c *Call) (string, error) {
	org, err := c.OrganizationSlug()
	if err != nil {
		return "", err
	}
	projectSlug, err := c.Require("projectSlug")
	if err != nil {
		return "", err
	}
	client, err := c.Client()
	if err != nil {
		return "", err
	}
	keys, err := client.ListClientKeys(ctx, org, projectSlug, sentryapi.RequestOptions{})
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# DSNs in **%s/%s**\n\n", org, projectSlug)
	if len(keys) == 0 {
		b.WriteString("No DSNs were found.\n\nYou can create new one using the `create_dsn` tool.")
		return b.String(), nil
	}
	for _, key := range keys {
		fmt.Fprintf(&b, "## %s\n**ID**: %s\n**DSN**: %s\n\n", key.Name, key.ID, key.DSN.Public)
	}
	b.WriteString("# Using this information\n\n")
	b.WriteString("- The `SENTRY_DSN` value is a URL that you can use to initialize Sentry's SDKs.\n")
	return b.String(), nil
}
