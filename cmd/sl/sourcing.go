package main

import (
	"context"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"sourceline/internal/app"
	"sourceline/internal/domain"
	"sourceline/internal/engine"
)

func sourcingCmd() *cobra.Command {
	sc := &cobra.Command{Use: "sourcing", Short: "Ingredient sourcing over WhatsApp and email"}
	sc.AddCommand(sourcingBriefCmd())
	sc.AddCommand(sourcingOutreachCmd())
	sc.AddCommand(sourcingReplyCmd())
	sc.AddCommand(sourcingSyncCmd())
	sc.AddCommand(sourcingMetricsCmd())
	return sc
}

func sourcingBriefCmd() *cobra.Command {
	var in engine.SourcingBriefInput
	cmd := &cobra.Command{
		Use:   "brief",
		Short: "Set the ingredient brief and restart the sourcing lifecycle",
		RunE: func(cmd *cobra.Command, args []string) error {
			in.QuantityTargetKg = floatFlag(cmd, "quantity-kg")
			in.MaxBudgetINRKg = floatFlag(cmd, "max-budget-inr-kg")
			return withProject(cmd.Context(), func(ctx context.Context, a *app.App, projectID string) error {
				p, err := a.Engine.UpdateSourcingBrief(ctx, projectID, in, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(p.Sourcing)
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&in.SearchTerm, "term", "", "ingredient search term")
	f.StringVar(&in.Spec, "spec", "", "grade or specification")
	f.StringVar(&in.Location, "location", "", "preferred supplier location")
	f.StringVar(&in.Country, "country", "", "country")
	f.StringVar(&in.Currency, "currency", "", "quote currency")
	f.Float64("quantity-kg", 0, "target quantity in kg")
	f.Float64("max-budget-inr-kg", 0, "maximum budget in INR per kg")
	_ = cmd.MarkFlagRequired("term")
	return cmd
}

func sourcingOutreachCmd() *cobra.Command {
	o := &cobra.Command{Use: "outreach", Short: "Draft and send quote requests"}
	var ids, channels []string
	prepare := &cobra.Command{
		Use:   "prepare",
		Short: "Draft WhatsApp and email quote requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, a *app.App, projectID string) error {
				p, err := a.Engine.PrepareSourcingOutreach(ctx, projectID, ids, channels, actorID())
				if err != nil {
					return err
				}
				return printDrafts(p.Sourcing.OutreachDrafts)
			})
		},
	}
	prepare.Flags().StringSliceVar(&ids, "supplier", nil, "supplier ids (default all)")
	prepare.Flags().StringSliceVar(&channels, "channel", nil, "whatsapp, email (default both)")
	send := &cobra.Command{
		Use:   "send",
		Short: "Send every drafted quote request",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, a *app.App, projectID string) error {
				res, err := a.Engine.SendSourcingOutreach(ctx, projectID, actorID())
				if err != nil {
					return err
				}
				return printOutreach(res)
			})
		},
	}
	o.AddCommand(prepare, send)
	return o
}

func sourcingReplyCmd() *cobra.Command {
	var supplierID, channel, file string
	cmd := &cobra.Command{
		Use:   "reply [text]",
		Short: "Parse and record an ingredient quote",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := replyText(args, file)
			if err != nil {
				return err
			}
			return withProject(cmd.Context(), func(ctx context.Context, a *app.App, projectID string) error {
				res, err := a.Engine.IngestSourcingReply(ctx, projectID, supplierID, text, channel, actorID())
				if err != nil {
					return err
				}
				return printIngested(res.Ingested, res)
			})
		},
	}
	cmd.Flags().StringVar(&supplierID, "supplier", "", "supplier id")
	cmd.Flags().StringVar(&channel, "channel", domain.ChannelWhatsApp, "whatsapp or email")
	cmd.Flags().StringVar(&file, "file", "", "read the reply from a file")
	_ = cmd.MarkFlagRequired("supplier")
	return cmd
}

func sourcingSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Ingest queued WhatsApp messages and mailbox quotes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, a *app.App, projectID string) error {
				res, err := a.Engine.SyncSourcingReplies(ctx, projectID, actorID())
				if err != nil {
					return err
				}
				return printSync(res)
			})
		},
	}
}

func sourcingMetricsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "Ingredient sourcing funnel and price spread",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, a *app.App, projectID string) error {
				m, err := a.Engine.ComputeSourcingMetrics(ctx, projectID, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
}

func apiKeyCmd() *cobra.Command {
	k := &cobra.Command{Use: "apikey", Short: "Manage API keys for the HTTP API"}
	var name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for the current actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				secret, key, err := a.Engine.CreateAPIKey(ctx, actorID(), name)
				if err != nil {
					return err
				}
				if jsonOutput() {
					return printJSON(map[string]any{"id": key.ID, "actor_id": key.ActorID, "name": key.Name, "key": secret})
				}
				fmt.Printf("Created %s for %s\nKey (shown once): %s\n", key.ID, key.ActorID, secret)
				return nil
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "key label")
	list := &cobra.Command{
		Use:   "list",
		Short: "List the current actor's API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				keys, err := a.Engine.ListAPIKeys(ctx, actorID())
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(keys))
				for _, key := range keys {
					rows = append(rows, table.Row{key.ID, key.Name, key.CreatedAt})
				}
				return printRows(keys, table.Row{"ID", "Name", "Created"}, rows)
			})
		},
	}
	revoke := &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Engine.RevokeAPIKey(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("Revoked %s\n", args[0])
				return nil
			})
		},
	}
	k.AddCommand(create, list, revoke)
	return k
}
