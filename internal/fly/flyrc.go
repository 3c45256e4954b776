package fly

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Token is the auth token fly stored for a target.
type Token struct {
	Type  string `yaml:"type"`
	Value string `yaml:"value"`
}

// Header returns the token as an Authorization header value, e.g. "Bearer abc".
func (t Token) Header() string {
	if t.Type == "" {
		return "Bearer " + t.Value
	}
	return t.Type + " " + t.Value
}

type flyrc struct {
	Targets map[string]struct {
		API   string `yaml:"api"`
		Team  string `yaml:"team"`
		Token *Token `yaml:"token"`
	} `yaml:"targets"`
}

// Token returns the token fly saved for the team's target after LoginAs.
func (c *Client) Token(team string) (Token, error) {
	path, err := c.FlyrcPath()
	if err != nil {
		return Token{}, err
	}
	return ReadToken(path, c.Target(team))
}

// ReadToken reads target's token from the flyrc at path.
func ReadToken(path, target string) (Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Token{}, fmt.Errorf("reading flyrc: %w", err)
	}

	var rc flyrc
	if err := yaml.Unmarshal(data, &rc); err != nil {
		return Token{}, fmt.Errorf("parsing flyrc %s: %w", path, err)
	}

	t, ok := rc.Targets[target]
	if !ok {
		return Token{}, fmt.Errorf("flyrc %s: no target %q", path, target)
	}
	if t.Token == nil || t.Token.Value == "" {
		return Token{}, fmt.Errorf("flyrc %s: target %q has no token", path, target)
	}
	return *t.Token, nil
}
