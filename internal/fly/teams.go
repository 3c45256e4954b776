package fly

import (
	"context"
	"encoding/json"
	"fmt"
)

// Team is the subset of `fly teams --json` output wats needs.
type Team struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Teams lists every team on the ATC using the admin target.
func (c *Client) Teams(ctx context.Context) ([]Team, error) {
	out, err := c.Run(ctx, c.opts.AdminTeam, "teams", "--json")
	if err != nil {
		return nil, err
	}

	var teams []Team
	if err := json.Unmarshal(out, &teams); err != nil {
		return nil, fmt.Errorf("fly: decoding teams: %w", err)
	}
	return teams, nil
}

// SetTeam creates a team. With credentials configured the team is bound to
// that local user; otherwise it is created without auth.
func (c *Client) SetTeam(ctx context.Context, name string) error {
	args := []string{"set-team", "-n", name, "--non-interactive"}
	if c.opts.Username != "" {
		args = append(args, "--local-user", c.opts.Username)
	} else {
		args = append(args, "--no-really-i-dont-want-any-auth")
	}
	_, err := c.Run(ctx, c.opts.AdminTeam, args...)
	return err
}

// DestroyTeam destroys a team and everything in it.
func (c *Client) DestroyTeam(ctx context.Context, name string) error {
	_, err := c.Run(ctx, c.opts.AdminTeam, "destroy-team", "-n", name, "--non-interactive")
	return err
}
