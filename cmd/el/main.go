package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"evalline/internal/app"
	"evalline/internal/config"
	"evalline/internal/db"
	"evalline/internal/domain"
	"evalline/internal/engine"
	"evalline/internal/migrate"
	"evalline/internal/repo"
	"evalline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "el",
	Short: "Evalline CLI",
	Long: `Evalline governs how evaluation assignments are generated for campaigns.
Core concepts:
- Workspace: your .evalline directory holding the local database; evalline.yml carries admin policy.
- Tenant: every rule, request, and campaign belongs to exactly one tenant.
- Rule definition: a versioned recipe (ALL_TO_ALL, ROUND_ROBIN, MANAGER_HIERARCHY, ATTRIBUTE_MATCH)
  for pairing evaluators with evaluatees; starts as DRAFT.
- Publish approval: a second administrator must approve a rule before it goes live (4-eyes).
- Simulation: run a rule against a candidate audience without touching any campaign.
- Publication: run an approved rule against a live audience and persist the assignments
  into a campaign; re-runs are idempotent unless --replace is given.
- Audit log: every admin action is recorded and mirrored into the integration outbox,
  view with 'el log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("EVALLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-admin", "acting administrator identifier")
	rootCmd.PersistentFlags().StringP("tenant", "t", "", "tenant id (overrides config default)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("tenant", rootCmd.PersistentFlags().Lookup("tenant"))
}

func registerCommands() {
	rootCmd.AddCommand(tenantCmd())
	rootCmd.AddCommand(ruleCmd())
	rootCmd.AddCommand(publishRequestCmd())
	rootCmd.AddCommand(campaignCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(outboxCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(configCmds())
	rootCmd.AddCommand(capabilitiesCmd())
	rootCmd.AddCommand(serveCmd())
}

// --- tenants ---

func tenantCmd() *cobra.Command {
	tenant := &cobra.Command{Use: "tenant", Short: "Manage tenants"}
	tenant.AddCommand(tenantCreateCmd())
	tenant.AddCommand(tenantListCmd())
	return tenant
}

func tenantCreateCmd() *cobra.Command {
	var id, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			t, err := e.CreateTenant(cmd.Context(), id, name)
			if err != nil {
				return err
			}
			return printJSONOrTable(t)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "tenant id")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func tenantListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tenants",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListTenants(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Created"})
				for _, t := range items {
					tw.AppendRow(table.Row{t.ID, t.Name, t.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

// --- rules ---

func ruleCmd() *cobra.Command {
	rule := &cobra.Command{Use: "rule", Short: "Manage assignment rule definitions"}
	rule.AddCommand(ruleCreateCmd())
	rule.AddCommand(ruleUpdateCmd())
	rule.AddCommand(ruleListCmd())
	rule.AddCommand(ruleShowCmd())
	rule.AddCommand(ruleDeprecateCmd())
	rule.AddCommand(ruleSimulateCmd())
	return rule
}

func draftFlags(cmd *cobra.Command, name, desc, version, ruleType, ruleConfig, ruleConfigFile *string) {
	cmd.Flags().StringVar(name, "name", "", "rule name")
	cmd.Flags().StringVar(desc, "description", "", "description")
	cmd.Flags().StringVar(version, "version", "", "semantic version (x.y.z)")
	cmd.Flags().StringVar(ruleType, "type", "", "rule type (ALL_TO_ALL, ROUND_ROBIN, MANAGER_HIERARCHY, ATTRIBUTE_MATCH)")
	cmd.Flags().StringVar(ruleConfig, "config", "", "rule config as inline JSON")
	cmd.Flags().StringVar(ruleConfigFile, "config-file", "", "rule config as a JSON file")
}

func ruleCreateCmd() *cobra.Command {
	var name, desc, version, ruleType, ruleConfig, ruleConfigFile string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create DRAFT rule definition",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgMap, err := readJSONObject(ruleConfig, ruleConfigFile)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, tenantID string, e engine.Engine) error {
				d, err := e.CreateDraft(ctx, engine.DraftOptions{
					TenantID:        tenantID,
					Name:            name,
					Description:     desc,
					SemanticVersion: version,
					RuleType:        ruleType,
					RuleConfig:      cfgMap,
					Actor:           viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	draftFlags(cmd, &name, &desc, &version, &ruleType, &ruleConfig, &ruleConfigFile)
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("version")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func ruleUpdateCmd() *cobra.Command {
	var id, name, desc, version, ruleType, ruleConfig, ruleConfigFile string
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update DRAFT rule definition",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgMap, err := readJSONObject(ruleConfig, ruleConfigFile)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, tenantID string, e engine.Engine) error {
				d, err := e.UpdateDraft(ctx, id, engine.DraftOptions{
					TenantID:        tenantID,
					Name:            name,
					Description:     desc,
					SemanticVersion: version,
					RuleType:        ruleType,
					RuleConfig:      cfgMap,
					Actor:           viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "rule id")
	draftFlags(cmd, &name, &desc, &version, &ruleType, &ruleConfig, &ruleConfigFile)
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func ruleListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List rule definitions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, tenantID string, e engine.Engine) error {
				items, err := e.ListRules(ctx, tenantID, status)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Version", "Type", "Status", "Updated"})
				for _, d := range items {
					tw.AppendRow(table.Row{d.ID, d.Name, d.SemanticVersion, d.RuleType, d.Status, d.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter (DRAFT, PUBLISHED, DEPRECATED)")
	return cmd
}

func ruleShowCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a rule definition",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, tenantID string, e engine.Engine) error {
				d, err := e.GetRule(ctx, tenantID, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "rule id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func ruleDeprecateCmd() *cobra.Command {
	var id, comment string
	cmd := &cobra.Command{
		Use:   "deprecate",
		Short: "Deprecate a rule definition",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, tenantID string, e engine.Engine) error {
				d, err := e.DeprecateRule(ctx, tenantID, id, comment, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "rule id")
	cmd.Flags().StringVar(&comment, "comment", "", "reason for deprecation")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func ruleSimulateCmd() *cobra.Command {
	var id, audienceType, audience, audienceFile string
	var diagnostic bool
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Simulate a rule against a candidate audience",
		RunE: func(cmd *cobra.Command, args []string) error {
			audienceMap, err := readJSONObject(audience, audienceFile)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, tenantID string, e engine.Engine) error {
				res, err := e.Simulate(ctx, tenantID, id, audienceType, audienceMap, diagnostic)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Evaluator", "Evaluatee", "Role", "Rationale"})
				for _, m := range res.Matches {
					tw.AppendRow(table.Row{m.EvaluatorID, m.EvaluateeID, m.EvaluatorRole, m.Rationale})
				}
				tw.Render()
				fmt.Printf("%d matched, %d excluded\n", res.MatchCount, len(res.Exclusions))
				if diagnostic {
					for _, ex := range res.Exclusions {
						fmt.Printf("  excluded %s -> %s: %s\n", ex.EvaluatorID, ex.EvaluateeID, ex.Rationale)
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "rule id")
	cmd.Flags().StringVar(&audienceType, "audience-type", "INLINE", "audience source type (INLINE, DIRECTORY_SNAPSHOT)")
	cmd.Flags().StringVar(&audience, "audience", "", "audience source config as inline JSON")
	cmd.Flags().StringVar(&audienceFile, "audience-file", "", "audience source config as a JSON file")
	cmd.Flags().BoolVar(&diagnostic, "diagnostic", false, "also list pairs the rule did not select")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

// --- publish requests ---

func publishRequestCmd() *cobra.Command {
	pr := &cobra.Command{Use: "publish-request", Short: "Manage publish approval requests"}
	pr.AddCommand(publishRequestCreateCmd())
	pr.AddCommand(publishRequestListCmd())
	pr.AddCommand(publishRequestApproveCmd())
	pr.AddCommand(publishRequestRejectCmd())
	return pr
}

func publishRequestCreateCmd() *cobra.Command {
	var ruleID, reason, comment string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Submit a DRAFT rule for publish approval",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, tenantID string, e engine.Engine) error {
				p, err := e.RequestPublish(ctx, tenantID, ruleID, reason, comment, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&ruleID, "rule", "", "rule id")
	cmd.Flags().StringVar(&reason, "reason", "", "reason code")
	cmd.Flags().StringVar(&comment, "comment", "", "comment")
	_ = cmd.MarkFlagRequired("rule")
	return cmd
}

func publishRequestListCmd() *cobra.Command {
	var ruleID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List publish requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, tenantID string, e engine.Engine) error {
				items, err := e.ListPublishRequests(ctx, tenantID, ruleID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Rule", "Status", "Requested By", "Decided By"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.RuleDefinitionID, p.Status, p.RequestedBy, p.DecidedBy})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&ruleID, "rule", "", "filter by rule id")
	return cmd
}

func publishRequestApproveCmd() *cobra.Command {
	var id, comment string
	cmd := &cobra.Command{
		Use:   "approve",
		Short: "Approve a pending publish request",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, tenantID string, e engine.Engine) error {
				p, err := e.ApprovePublish(ctx, tenantID, id, comment, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "publish request id")
	cmd.Flags().StringVar(&comment, "comment", "", "decision comment")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func publishRequestRejectCmd() *cobra.Command {
	var id, comment string
	cmd := &cobra.Command{
		Use:   "reject",
		Short: "Reject a pending publish request",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, tenantID string, e engine.Engine) error {
				p, err := e.RejectPublish(ctx, tenantID, id, comment, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "publish request id")
	cmd.Flags().StringVar(&comment, "comment", "", "decision comment")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

// --- campaigns ---

func campaignCmd() *cobra.Command {
	camp := &cobra.Command{Use: "campaign", Short: "Manage campaigns and their assignments"}
	camp.AddCommand(campaignCreateCmd())
	camp.AddCommand(campaignShowCmd())
	camp.AddCommand(campaignAssignmentsCmd())
	camp.AddCommand(campaignPublishCmd())
	return camp
}

func campaignCreateCmd() *cobra.Command {
	var id, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create campaign",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, tenantID string, e engine.Engine) error {
				c, err := e.Campaigns.CreateCampaign(ctx, domain.Campaign{
					ID:       id,
					TenantID: tenantID,
					Name:     name,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "campaign id (generated when omitted)")
	cmd.Flags().StringVar(&name, "name", "", "campaign name")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func campaignShowCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a campaign",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, tenantID string, e engine.Engine) error {
				c, err := e.Repo.GetCampaign(ctx, tenantID, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "campaign id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func campaignAssignmentsCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "assignments",
		Short: "List a campaign's assignments",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, tenantID string, e engine.Engine) error {
				c, err := e.Repo.GetCampaign(ctx, tenantID, id)
				if err != nil {
					return err
				}
				items, err := e.Repo.ListAssignments(ctx, c.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Evaluator", "Evaluatee", "Role", "Completed"})
				for _, a := range items {
					tw.AppendRow(table.Row{a.EvaluatorID, a.EvaluateeID, a.EvaluatorRole, a.Completed})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "campaign id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func campaignPublishCmd() *cobra.Command {
	var id, ruleID, audienceType, audience, audienceFile string
	var replace, dryRun bool
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish rule-generated assignments into a campaign",
		RunE: func(cmd *cobra.Command, args []string) error {
			audienceMap, err := readJSONObject(audience, audienceFile)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, tenantID string, e engine.Engine) error {
				res, err := e.PublishAssignments(ctx, engine.PublishAssignmentsOptions{
					TenantID:             tenantID,
					RuleID:               ruleID,
					CampaignID:           id,
					AudienceSourceType:   audienceType,
					AudienceSourceConfig: audienceMap,
					ReplaceExisting:      replace,
					DryRun:               dryRun,
					Actor:                viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				mode := "published"
				if dryRun {
					mode = "dry run, nothing persisted"
				}
				fmt.Printf("%d assignments generated for campaign %s (%s)\n", len(res.Generated), res.Campaign.ID, mode)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "campaign id")
	cmd.Flags().StringVar(&ruleID, "rule", "", "rule id")
	cmd.Flags().StringVar(&audienceType, "audience-type", "INLINE", "audience source type (INLINE, DIRECTORY_SNAPSHOT)")
	cmd.Flags().StringVar(&audience, "audience", "", "audience source config as inline JSON")
	cmd.Flags().StringVar(&audienceFile, "audience-file", "", "audience source config as a JSON file")
	cmd.Flags().BoolVar(&replace, "replace", false, "replace existing assignments instead of appending")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "generate without persisting")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("rule")
	return cmd
}

// --- audit log / outbox ---

func logCmd() *cobra.Command {
	lg := &cobra.Command{Use: "log", Short: "Inspect the admin action audit log"}
	lg.AddCommand(logTailCmd())
	return lg
}

func logTailCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail audit records",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, tenantID string, e engine.Engine) error {
				records, err := e.Repo.ListAuditRecords(ctx, tenantID, n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(records)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Time", "Actor", "Action", "Aggregate", "ID"})
				for _, r := range records {
					tw.AppendRow(table.Row{r.CreatedAt, r.Actor, r.Action, r.AggregateType, r.AggregateID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of records")
	return cmd
}

func outboxCmd() *cobra.Command {
	var status string
	var n int
	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "List integration outbox events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.ListOutboxEvents(ctx, status, n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Event Type", "Status", "Attempts", "Created"})
				for _, ev := range events {
					tw.AppendRow(table.Row{ev.ID, ev.EventType, ev.Status, ev.AttemptCount, ev.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "PENDING", "status filter (PENDING, PUBLISHED, FAILED)")
	cmd.Flags().IntVar(&n, "n", 50, "number of events")
	return cmd
}

// --- api keys ---

func apikeyCmd() *cobra.Command {
	ak := &cobra.Command{Use: "apikey", Short: "Manage API keys for the HTTP API"}
	ak.AddCommand(apikeyCreateCmd())
	ak.AddCommand(apikeyListCmd())
	ak.AddCommand(apikeyDeleteCmd())
	return ak
}

func apikeyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for the acting administrator",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				raw := uuid.New().String() + uuid.New().String()
				key := domain.APIKey{
					ID:        uuid.New().String(),
					ActorID:   viper.GetString("actor-id"),
					Name:      name,
					KeyHash:   repo.HashAPIKey(raw),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := r.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				// the raw key is only shown once
				fmt.Printf("API key created (id=%s): %s\n", key.ID, raw)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys for the acting administrator",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListAPIKeys(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Created"})
				for _, k := range items {
					tw.AppendRow(table.Row{k.ID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete an API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, id)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "key id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

// --- config ---

func configCmds() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage workspace config"}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default evalline.yml to the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective workspace config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
	return cmd
}

func capabilitiesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "capabilities",
		Short: "List supported rule and audience types",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printJSONOrTable(engine.Engine{}.Capabilities())
		},
	}
	return cmd
}

// --- serve ---

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowLegacyActor bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("EVALLINE_JWT_SECRET"),
				AllowLegacyActorHeader: allowLegacyActor,
			}
			if authCfg.JWTSecret == "" && !allowLegacyActor {
				return fmt.Errorf("EVALLINE_JWT_SECRET is required for bearer auth (or pass --allow-legacy-actor for local use)")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Evalline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowLegacyActor, "allow-legacy-actor", false, "accept X-Actor-Id header without credentials (local development only)")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, string, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	tenantID, cfg, err := app.ResolveTenantAndConfig(ctx, workspace, viper.GetString("tenant"), r)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, tenantID, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func readJSONObject(inline, file string) (map[string]any, error) {
	if inline != "" && file != "" {
		return nil, fmt.Errorf("pass inline JSON or a file, not both")
	}
	var data []byte
	switch {
	case inline != "":
		data = []byte(inline)
	case file != "":
		b, err := os.ReadFile(file)
		if err != nil {
			return nil, err
		}
		data = b
	default:
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse JSON object: %w", err)
	}
	return out, nil
}
