// Package team provisions isolated test teams on the ATC and keeps the
// ledger of which teams wats created.
package team

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/Dicklesworthstone/wats/internal/db"
	"github.com/Dicklesworthstone/wats/internal/fly"
)

// FlyTeams is the team management subset of the fly client.
type FlyTeams interface {
	Teams(ctx context.Context) ([]fly.Team, error)
	SetTeam(ctx context.Context, name string) error
	DestroyTeam(ctx context.Context, name string) error
}

// Options configures a Provisioner.
type Options struct {
	// Prefix marks teams owned by wats. Only teams with it are destroyed.
	Prefix string
	// AdminTeam is never destroyed, whatever its name.
	AdminTeam string
	ATCURL    string
	// Ledger records provisioned teams. Optional.
	Ledger *db.DB
	// RunID ties recorded teams to a suite run. Optional.
	RunID  string
	Logger *log.Logger
}

// Provisioner creates uniquely named test teams and destroys leftovers.
// It is safe for concurrent use.
type Provisioner struct {
	fly    FlyTeams
	opts   Options
	logger *log.Logger
}

// New returns a Provisioner.
func New(client FlyTeams, opts Options) (*Provisioner, error) {
	if client == nil {
		return nil, errors.New("team: fly client is required")
	}
	if opts.Prefix == "" {
		return nil, errors.New("team: prefix is required")
	}
	if opts.AdminTeam != "" && strings.HasPrefix(opts.AdminTeam, opts.Prefix) {
		return nil, fmt.Errorf("team: prefix %q matches admin team %q", opts.Prefix, opts.AdminTeam)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Provisioner{fly: client, opts: opts, logger: logger}, nil
}

// IsTestTeam reports whether name is a team wats may destroy.
func (p *Provisioner) IsTestTeam(name string) bool {
	return strings.HasPrefix(name, p.opts.Prefix) && name != p.opts.AdminTeam
}

// NewTeamName returns a fresh team name.
func (p *Provisioner) NewTeamName() string {
	return p.opts.Prefix + uuid.New().String()
}

// GrabANewTeam creates a new, uniquely named team and records it.
func (p *Provisioner) GrabANewTeam(ctx context.Context) (string, error) {
	name := p.NewTeamName()

	// Record first so a team is never created without a ledger entry.
	if p.opts.Ledger != nil {
		err := p.opts.Ledger.RecordTeam(&db.Team{Name: name, RunID: p.opts.RunID, ATCURL: p.opts.ATCURL})
		if err != nil {
			return "", fmt.Errorf("recording team %s: %w", name, err)
		}
	}

	if err := p.fly.SetTeam(ctx, name); err != nil {
		return "", fmt.Errorf("creating team %s: %w", name, err)
	}

	p.logger.Info("created team", "team", name)
	return name, nil
}

// DestroyTeam destroys a single test team.
func (p *Provisioner) DestroyTeam(ctx context.Context, name string) error {
	if !p.IsTestTeam(name) {
		return fmt.Errorf("refusing to destroy %q: not a test team", name)
	}
	if err := p.fly.DestroyTeam(ctx, name); err != nil {
		return fmt.Errorf("destroying team %s: %w", name, err)
	}
	p.markDestroyed(name)
	p.logger.Info("destroyed team", "team", name)
	return nil
}

// CleanUpTestTeams destroys every test team on the ATC. Ledger entries for
// teams that no longer exist remotely are closed as well.
func (p *Provisioner) CleanUpTestTeams(ctx context.Context) error {
	teams, err := p.fly.Teams(ctx)
	if err != nil {
		return fmt.Errorf("listing teams: %w", err)
	}

	remote := make(map[string]bool, len(teams))
	var errs []error
	for _, t := range teams {
		remote[t.Name] = true
		if !p.IsTestTeam(t.Name) {
			continue
		}
		if err := p.DestroyTeam(ctx, t.Name); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	p.reconcile(remote)
	return nil
}

// Leaked returns ledger teams on this ATC that were never destroyed, other
// than those of the current run.
func (p *Provisioner) Leaked() ([]*db.Team, error) {
	if p.opts.Ledger == nil {
		return nil, nil
	}
	return p.opts.Ledger.ListLeakedTeams(p.opts.ATCURL, p.opts.RunID)
}

func (p *Provisioner) reconcile(remote map[string]bool) {
	leaked, err := p.Leaked()
	if err != nil {
		p.logger.Warn("listing leaked teams", "err", err)
		return
	}
	for _, t := range leaked {
		if !remote[t.Name] {
			p.logger.Debug("team already gone", "team", t.Name)
			p.markDestroyed(t.Name)
		}
	}
}

func (p *Provisioner) markDestroyed(name string) {
	if p.opts.Ledger == nil {
		return
	}
	if err := p.opts.Ledger.MarkTeamDestroyed(name); err != nil && !errors.Is(err, db.ErrTeamNotFound) {
		p.logger.Warn("updating ledger", "team", name, "err", err)
	}
}
