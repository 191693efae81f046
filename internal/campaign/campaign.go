// Package campaign holds the campaign-orchestration boundary the control
// plane publishes assignments through. The control plane only depends on the
// Orchestrator contract; Local is the workspace-backed implementation.
package campaign

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"evalline/internal/assign"
	"evalline/internal/domain"
	"evalline/internal/repo"
)

// Command describes one dynamic assignment generation run.
type Command struct {
	AudienceSourceType   string
	AudienceSourceConfig map[string]any
	RuleType             string
	RuleConfig           map[string]any
	ReplaceExisting      bool
	DryRun               bool
}

// Result is what a generation run produced. When DryRun is set nothing was
// persisted.
type Result struct {
	Campaign        domain.Campaign
	Generated       []domain.GeneratedAssignment
	AudienceType    string
	RuleType        string
	ReplaceExisting bool
	DryRun          bool
}

// Orchestrator materializes generated pairs as campaign assignments. It owns
// fetching the campaign's existing assignments, running the generation
// engine against them, and persisting the outcome.
type Orchestrator interface {
	CreateCampaign(ctx context.Context, c domain.Campaign) (domain.Campaign, error)
	GenerateDynamicAssignments(ctx context.Context, tenantID, campaignID string, cmd Command) (Result, error)
}

// Local runs campaigns against the workspace database.
type Local struct {
	DB   *sql.DB
	Repo repo.Repo
	Now  func() time.Time
}

func NewLocal(db *sql.DB) Local {
	return Local{DB: db, Repo: repo.Repo{DB: db}, Now: time.Now}
}

func (l Local) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

// CreateCampaign registers a campaign shell that assignments can be
// published into.
func (l Local) CreateCampaign(ctx context.Context, c domain.Campaign) (domain.Campaign, error) {
	if c.Name == "" {
		return domain.Campaign{}, fmt.Errorf("campaign name is required")
	}
	now := l.now().UTC().Format(time.RFC3339)
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Status == "" {
		c.Status = "ACTIVE"
	}
	c.CreatedAt = now
	c.UpdatedAt = now
	if err := l.Repo.InsertCampaign(ctx, c); err != nil {
		return domain.Campaign{}, fmt.Errorf("insert campaign: %w", err)
	}
	return c, nil
}

// GenerateDynamicAssignments fetches the campaign, runs the generation
// engine over its existing assignments, and persists the result unless the
// run is a dry run.
func (l Local) GenerateDynamicAssignments(ctx context.Context, tenantID, campaignID string, cmd Command) (Result, error) {
	c, err := l.Repo.GetCampaign(ctx, tenantID, campaignID)
	if err != nil {
		return Result{}, err
	}
	existing, err := l.Repo.ListAssignments(ctx, c.ID)
	if err != nil {
		return Result{}, err
	}
	generated, err := assign.Generate(
		c.ID,
		cmd.AudienceSourceType,
		cmd.AudienceSourceConfig,
		cmd.RuleType,
		cmd.RuleConfig,
		existing,
		cmd.ReplaceExisting,
	)
	if err != nil {
		return Result{}, err
	}

	if !cmd.DryRun {
		tx, err := l.DB.BeginTx(ctx, nil)
		if err != nil {
			return Result{}, err
		}
		defer tx.Rollback()
		if cmd.ReplaceExisting {
			if err := l.Repo.DeleteAssignmentsTx(ctx, tx, c.ID); err != nil {
				return Result{}, err
			}
		}
		if len(generated) > 0 {
			if err := l.Repo.InsertAssignmentsTx(ctx, tx, generated); err != nil {
				return Result{}, err
			}
		}
		if err := l.Repo.TouchCampaignTx(ctx, tx, c.ID, l.now().UTC().Format(time.RFC3339)); err != nil {
			return Result{}, err
		}
		if err := tx.Commit(); err != nil {
			return Result{}, err
		}
	}

	return Result{
		Campaign:        c,
		Generated:       generated,
		AudienceType:    cmd.AudienceSourceType,
		RuleType:        cmd.RuleType,
		ReplaceExisting: cmd.ReplaceExisting,
		DryRun:          cmd.DryRun,
	}, nil
}
