package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"sourceline/internal/app"
	"sourceline/internal/config"
	"sourceline/internal/domain"
	"sourceline/internal/engine"
	"sourceline/internal/repo"
)

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default sourceline.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectDeleteCmd())
	prj.AddCommand(projectUseCmd())
	return prj
}

func projectListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.ListProjects(ctx)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, p := range items {
					rows = append(rows, table.Row{p.ID, p.ProductName(), len(p.Suppliers), p.UpdatedAt})
				}
				return printRows(items, table.Row{"ID", "Product", "Suppliers", "Updated"}, rows)
			})
		},
	}
}

func projectCreateCmd() *cobra.Command {
	var name, idea string
	var c domain.Constraints
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a project from an idea",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Engine.CreateProject(ctx, engine.CreateProjectInput{
					Name:        name,
					Idea:        idea,
					Constraints: c,
					ActorID:     actorID(),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "project name")
	cmd.Flags().StringVar(&idea, "idea", "", "product idea")
	cmd.Flags().StringVar(&c.Country, "country", "", "target country")
	cmd.Flags().StringVar(&c.BudgetRange, "budget", "", "budget range")
	cmd.Flags().StringVar(&c.MOQTolerance, "moq-tolerance", "", "MOQ tolerance")
	cmd.Flags().StringVar(&c.MaterialsPreferences, "materials", "", "materials preferences")
	cmd.Flags().StringVar(&c.ComplianceRequirements, "compliance", "", "compliance requirements")
	_ = cmd.MarkFlagRequired("idea")
	return cmd
}

func projectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, a *app.App, projectID string) error {
				p, err := a.Engine.GetProject(ctx, projectID)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func projectDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete",
		Short: "Delete a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, a *app.App, projectID string) error {
				if err := a.Engine.DeleteProject(ctx, projectID, actorID()); err != nil {
					return err
				}
				fmt.Printf("Deleted %s\n", projectID)
				return nil
			})
		},
	}
}

func projectUseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use <id>",
		Short: "Set the current project for this workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID := strings.TrimSpace(args[0])
			if projectID == "" {
				return fmt.Errorf("project id is required")
			}
			workspace := viper.GetString("workspace")
			if err := withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				_, err := a.Engine.GetProject(ctx, projectID)
				return err
			}); err != nil {
				return err
			}
			if err := setEnvValue(app.EnvPath(workspace), "SOURCELINE_PROJECT", projectID); err != nil {
				return err
			}
			fmt.Printf("Set SOURCELINE_PROJECT=%s in %s\n", projectID, app.EnvPath(workspace))
			return nil
		},
	}
}

func checklistCmd() *cobra.Command {
	cl := &cobra.Command{Use: "checklist", Short: "Update checklist items"}
	cl.AddCommand(checklistSetCmd())
	cl.AddCommand(checklistValidateCmd())
	return cl
}

func checklistSetCmd() *cobra.Command {
	var status, evidence, nextAction string
	cmd := &cobra.Command{
		Use:   "set <key>",
		Short: "Set a checklist item's status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, a *app.App, projectID string) error {
				p, err := a.Engine.SetChecklistItem(ctx, projectID, args[0], status, evidence, nextAction, actorID())
				if err != nil {
					return err
				}
				return printChecklist(p)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "pending, in_progress, validated or blocked")
	cmd.Flags().StringVar(&evidence, "evidence", "", "evidence")
	cmd.Flags().StringVar(&nextAction, "next-action", "", "next action")
	return cmd
}

func checklistValidateCmd() *cobra.Command {
	var evidence string
	cmd := &cobra.Command{
		Use:   "validate <key>",
		Short: "Validate a checklist item against its evidence",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, a *app.App, projectID string) error {
				p, status, err := a.Engine.ValidateChecklistItem(ctx, projectID, args[0], evidence, actorID())
				if err != nil {
					return err
				}
				if jsonOutput() {
					return printJSON(map[string]any{"status": status, "project": p})
				}
				fmt.Printf("%s: %s\n", args[0], status)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&evidence, "evidence", "", "evidence")
	return cmd
}

func printChecklist(p domain.Project) error {
	rows := make([]table.Row, 0, len(p.Checklist))
	for _, item := range p.Checklist {
		rows = append(rows, table.Row{item.Key, item.Title, item.Status})
	}
	return printRows(p, table.Row{"Key", "Title", "Status"}, rows)
}

func moduleCmd() *cobra.Command {
	var lifecycle string
	cmd := &cobra.Command{
		Use:   "module <module> <status>",
		Short: "Set a lifecycle module status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, a *app.App, projectID string) error {
				p, err := a.Engine.SetModuleStatus(ctx, projectID, lifecycle, args[0], args[1], actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(p.ModuleStatus)
			})
		},
	}
	cmd.Flags().StringVar(&lifecycle, "lifecycle", domain.LifecycleManufacturing, "manufacturing or sourcing")
	return cmd
}

func autopilotCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "autopilot",
		Short: "Draft, send, simulate replies and open negotiation in one run",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, a *app.App, projectID string) error {
				res, err := a.Engine.RunAutopilot(ctx, projectID, actorID())
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(res.Steps))
				for _, s := range res.Steps {
					rows = append(rows, table.Row{s.Step, s.Status, s.Message})
				}
				return printRows(res, table.Row{"Step", "Status", "Message"}, rows)
			})
		},
	}
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{Use: "log", Short: "Event log"}
	lg.AddCommand(logTailCmd())
	return lg
}

func logTailCmd() *cobra.Command {
	var n int
	var all bool
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				f := repo.EventFilters{Type: evtType, EntityKind: entityKind, EntityID: entityID, Limit: n}
				if !all {
					projectID, err := app.ResolveProject(ctx, a.Engine.Repo, viper.GetString("project"))
					if err != nil {
						return err
					}
					f.ProjectID = projectID
				}
				events, err := a.Engine.ListEvents(ctx, f)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(events))
				for _, evt := range events {
					rows = append(rows, table.Row{evt.ID, evt.TS, evt.Type, evt.EntityKind, evt.EntityID, evt.ActorID})
				}
				return printRows(events, table.Row{"ID", "TS", "Type", "Entity", "Entity ID", "Actor"}, rows)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().BoolVar(&all, "all", false, "events of every project")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}
