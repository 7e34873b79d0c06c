package sentryapi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"golang.org/x/sync/errgroup"

	"github.com/dgellow/sentry-mcp/internal/apperr"
)

// GetAuthenticatedUser returns the user owning the access token.
func (c *Client) GetAuthenticatedUser(ctx context.Context, opts RequestOptions) (*User, error) {
	var user User
	if err := c.request(ctx, http.MethodGet, "/auth/", nil, opts, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// ListRegions returns the regions the user has data in.
func (c *Client) ListRegions(ctx context.Context, opts RequestOptions) ([]Region, error) {
	var regions UserRegions
	if err := c.request(ctx, http.MethodGet, "/users/me/regions/", nil, opts, &regions); err != nil {
		return nil, err
	}
	return regions.Regions, nil
}

// ListOrganizations lists organizations across every region the user has
// data in. One request is issued per region, concurrently, and the results
// are concatenated in region order. A failure in any region fails the whole
// listing.
func (c *Client) ListOrganizations(ctx context.Context, opts RequestOptions) ([]Organization, error) {
	regions, err := c.ListRegions(ctx, opts)
	if err != nil {
		return nil, err
	}

	hosts := make([]string, len(regions))
	for i, region := range regions {
		host, err := c.regionHost(region.URL)
		if err != nil {
			return nil, apperr.NewSystemError(err, "region %s has an invalid url", region.Name)
		}
		hosts[i] = host
	}

	perRegion := make([]Organizations, len(regions))
	g, gctx := errgroup.WithContext(ctx)
	for i, host := range hosts {
		regionOpts := opts
		regionOpts.Host = host
		g.Go(func() error {
			var orgs Organizations
			if err := c.request(gctx, http.MethodGet, "/organizations/", nil, regionOpts, &orgs); err != nil {
				return err
			}
			perRegion[i] = orgs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []Organization
	for _, orgs := range perRegion {
		all = append(all, orgs...)
	}
	return all, nil
}

func (c *Client) ListTeams(ctx context.Context, organizationSlug string, opts RequestOptions) ([]Team, error) {
	var teams Teams
	path := fmt.Sprintf("/organizations/%s/teams/", url.PathEscape(organizationSlug))
	if err := c.request(ctx, http.MethodGet, path, nil, opts, &teams); err != nil {
		return nil, err
	}
	return teams, nil
}

func (c *Client) CreateTeam(ctx context.Context, organizationSlug, name string, opts RequestOptions) (*Team, error) {
	var team Team
	path := fmt.Sprintf("/organizations/%s/teams/", url.PathEscape(organizationSlug))
	body := map[string]string{"name": name}
	if err := c.request(ctx, http.MethodPost, path, body, opts, &team); err != nil {
		return nil, err
	}
	return &team, nil
}

func (c *Client) ListProjects(ctx context.Context, organizationSlug string, opts RequestOptions) ([]Project, error) {
	var projects Projects
	path := fmt.Sprintf("/organizations/%s/projects/", url.PathEscape(organizationSlug))
	if err := c.request(ctx, http.MethodGet, path, nil, opts, &projects); err != nil {
		return nil, err
	}
	return projects, nil
}

type CreateProjectParams struct {
	OrganizationSlug string
	TeamSlug         string
	Name             string
	Platform         string
}

func (c *Client) CreateProject(ctx context.Context, p CreateProjectParams, opts RequestOptions) (*Project, error) {
	body := map[string]string{"name": p.Name}
	if p.Platform != "" {
		body["platform"] = p.Platform
	}
	var project Project
	path := fmt.Sprintf("/teams/%s/%s/projects/", url.PathEscape(p.OrganizationSlug), url.PathEscape(p.TeamSlug))
	if err := c.request(ctx, http.MethodPost, path, body, opts, &project); err != nil {
		return nil, err
	}
	return &project, nil
}

type UpdateProjectParams struct {
	OrganizationSlug string
	ProjectSlug      string
	Name             string
	Slug             string
	Platform         string
}

func (c *Client) UpdateProject(ctx context.Context, p UpdateProjectParams, opts RequestOptions) (*Project, error) {
	body := map[string]string{}
	if p.Name != "" {
		body["name"] = p.Name
	}
	if p.Slug != "" {
		body["slug"] = p.Slug
	}
	if p.Platform != "" {
		body["platform"] = p.Platform
	}
	var project Project
	path := fmt.Sprintf("/projects/%s/%s/", url.PathEscape(p.OrganizationSlug), url.PathEscape(p.ProjectSlug))
	if err := c.request(ctx, http.MethodPut, path, body, opts, &project); err != nil {
		return nil, err
	}
	return &project, nil
}

func (c *Client) AddTeamToProject(ctx context.Context, organizationSlug, projectSlug, teamSlug string, opts RequestOptions) error {
	path := fmt.Sprintf("/projects/%s/%s/teams/%s/",
		url.PathEscape(organizationSlug), url.PathEscape(projectSlug), url.PathEscape(teamSlug))
	return c.request(ctx, http.MethodPost, path, map[string]string{}, opts, nil)
}

func (c *Client) CreateClientKey(ctx context.Context, organizationSlug, projectSlug, name string, opts RequestOptions) (*ClientKey, error) {
	body := map[string]string{}
	if name != "" {
		body["name"] = name
	}
	var key ClientKey
	path := fmt.Sprintf("/projects/%s/%s/keys/", url.PathEscape(organizationSlug), url.PathEscape(projectSlug))
	if err := c.request(ctx, http.MethodPost, path, body, opts, &key); err != nil {
		return nil, err
	}
	return &key, nil
}

func (c *Client) ListClientKeys(ctx context.Context, organizationSlug, projectSlug string, opts RequestOptions) ([]ClientKey, error) {
	var keys ClientKeys
	path := fmt.Sprintf("/projects/%s/%s/keys/", url.PathEscape(organizationSlug), url.PathEscape(projectSlug))
	if err := c.request(ctx, http.MethodGet, path, nil, opts, &keys); err != nil {
		return nil, err
	}
	return keys, nil
}
