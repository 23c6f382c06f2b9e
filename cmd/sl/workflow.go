package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"sourceline/internal/app"
	"sourceline/internal/award"
	"sourceline/internal/domain"
	"sourceline/internal/engine"
	"sourceline/internal/negotiation"
)

func supplierCmd() *cobra.Command {
	s := &cobra.Command{Use: "supplier", Short: "Manage suppliers"}
	s.AddCommand(supplierAddCmd())
	s.AddCommand(supplierListCmd())
	s.AddCommand(supplierSelectCmd())
	s.AddCommand(supplierFinalizeCmd())
	return s
}

func supplierAddCmd() *cobra.Command {
	var in engine.SupplierInput
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a supplier",
		RunE: func(cmd *cobra.Command, args []string) error {
			in.ConfidenceScore = floatFlag(cmd, "confidence")
			in.UnitPrice = floatFlag(cmd, "unit-price")
			in.MOQ = floatFlag(cmd, "moq")
			in.LeadTimeDays = floatFlag(cmd, "lead-time-days")
			in.ToolingCost = floatFlag(cmd, "tooling-cost")
			return withProject(cmd.Context(), func(ctx context.Context, a *app.App, projectID string) error {
				s, _, err := a.Engine.AddSupplier(ctx, projectID, in, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&in.Lifecycle, "lifecycle", domain.LifecycleManufacturing, "manufacturing or sourcing")
	f.StringVar(&in.Name, "name", "", "supplier name")
	f.StringVar(&in.Email, "email", "", "contact email")
	f.StringVar(&in.ContactPerson, "contact", "", "contact person")
	f.StringVar(&in.Location, "location", "", "location")
	f.StringVar(&in.Country, "country", "", "country")
	f.StringVar(&in.Website, "website", "", "website")
	f.StringVar(&in.Phone, "phone", "", "phone")
	f.StringVar(&in.WhatsAppNumber, "whatsapp", "", "WhatsApp number")
	f.StringVar(&in.DistanceComplexity, "distance", "", "low, medium or high")
	f.StringVar(&in.Currency, "currency", "", "quote currency")
	f.Float64("confidence", 0, "confidence score 0..1")
	f.Float64("unit-price", 0, "quoted unit price")
	f.Float64("moq", 0, "minimum order quantity")
	f.Float64("lead-time-days", 0, "lead time in days")
	f.Float64("tooling-cost", 0, "tooling cost")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func supplierListCmd() *cobra.Command {
	var lifecycle string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List suppliers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, a *app.App, projectID string) error {
				p, err := a.Engine.GetProject(ctx, projectID)
				if err != nil {
					return err
				}
				l, ok := p.LifecycleFor(lifecycle)
				if !ok {
					return fmt.Errorf("unknown lifecycle %q", lifecycle)
				}
				rows := make([]table.Row, 0, len(l.Suppliers))
				for _, s := range l.Suppliers {
					rows = append(rows, table.Row{s.ID, s.Name, s.Status, formatFloat(s.CurrentPrice()), formatFloat(s.CurrentMOQ()), formatFloat(s.LeadTimeDays), s.Selected})
				}
				return printRows(l.Suppliers, table.Row{"ID", "Name", "Status", "Price", "MOQ", "Lead days", "Selected"}, rows)
			})
		},
	}
	cmd.Flags().StringVar(&lifecycle, "lifecycle", domain.LifecycleManufacturing, "manufacturing or sourcing")
	return cmd
}

func supplierSelectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "select <supplier-id>",
		Short: "Mark a supplier as selected",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, a *app.App, projectID string) error {
				if _, err := a.Engine.SelectSupplier(ctx, projectID, args[0], actorID()); err != nil {
					return err
				}
				fmt.Printf("Selected %s\n", args[0])
				return nil
			})
		},
	}
}

func supplierFinalizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "finalize <supplier-id>",
		Short: "Finalize a supplier and close the sourcing checklist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, a *app.App, projectID string) error {
				p, err := a.Engine.FinalizeSupplier(ctx, projectID, args[0], actorID())
				if err != nil {
					return err
				}
				return printChecklist(p)
			})
		},
	}
}

func outreachCmd() *cobra.Command {
	o := &cobra.Command{Use: "outreach", Short: "Draft and send RFQ emails"}
	var ids []string
	prepare := &cobra.Command{
		Use:   "prepare",
		Short: "Draft RFQ emails",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, a *app.App, projectID string) error {
				p, err := a.Engine.PrepareOutreach(ctx, projectID, ids, actorID())
				if err != nil {
					return err
				}
				return printDrafts(p.OutreachDrafts)
			})
		},
	}
	prepare.Flags().StringSliceVar(&ids, "supplier", nil, "supplier ids (default all)")
	send := &cobra.Command{
		Use:   "send",
		Short: "Send every drafted RFQ email",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, a *app.App, projectID string) error {
				res, err := a.Engine.SendOutreach(ctx, projectID, actorID())
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

func printDrafts(drafts []domain.OutreachDraft) error {
	rows := make([]table.Row, 0, len(drafts))
	for _, d := range drafts {
		rows = append(rows, table.Row{d.ID, d.SupplierID, d.Channel, d.Subject})
	}
	return printRows(drafts, table.Row{"ID", "Supplier", "Channel", "Subject"}, rows)
}

func printOutreach(res engine.OutreachResult) error {
	rows := make([]table.Row, 0, len(res.Sent)+len(res.Failures))
	for _, c := range res.Sent {
		rows = append(rows, table.Row{c.SupplierID, c.Channel, "sent", ""})
	}
	for _, f := range res.Failures {
		rows = append(rows, table.Row{f.SupplierID, "", "failed", f.Reason})
	}
	return printRows(res, table.Row{"Supplier", "Channel", "Result", "Reason"}, rows)
}

func replyCmd() *cobra.Command {
	r := &cobra.Command{Use: "reply", Short: "Record supplier replies"}
	var supplierID, subject, channel, file string
	ingest := &cobra.Command{
		Use:   "ingest [text]",
		Short: "Parse a pasted reply (from an argument, --file or stdin)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := replyText(args, file)
			if err != nil {
				return err
			}
			return withProject(cmd.Context(), func(ctx context.Context, a *app.App, projectID string) error {
				res, err := a.Engine.IngestReply(ctx, engine.IngestReplyInput{
					ProjectID:  projectID,
					SupplierID: supplierID,
					Text:       text,
					Subject:    subject,
					Channel:    channel,
					ActorID:    actorID(),
				})
				if err != nil {
					return err
				}
				return printIngested(res.Ingested, res)
			})
		},
	}
	ingest.Flags().StringVar(&supplierID, "supplier", "", "supplier id")
	ingest.Flags().StringVar(&subject, "subject", "", "email subject")
	ingest.Flags().StringVar(&channel, "channel", domain.ChannelEmail, "email or whatsapp")
	ingest.Flags().StringVar(&file, "file", "", "read the reply from a file")
	_ = ingest.MarkFlagRequired("supplier")

	var ids []string
	simulate := &cobra.Command{
		Use:   "simulate",
		Short: "Generate deterministic mock replies",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, a *app.App, projectID string) error {
				res, err := a.Engine.SimulateReplies(ctx, projectID, ids, actorID())
				if err != nil {
					return err
				}
				return printIngested(res.Ingested, res)
			})
		},
	}
	simulate.Flags().StringSliceVar(&ids, "supplier", nil, "supplier ids (default all)")

	sync := &cobra.Command{
		Use:   "sync",
		Short: "Fetch replies from the mailbox",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, a *app.App, projectID string) error {
				res, err := a.Engine.SyncInbox(ctx, projectID, actorID())
				if err != nil {
					return err
				}
				return printSync(res)
			})
		},
	}
	r.AddCommand(ingest, simulate, sync)
	return r
}

func replyText(args []string, file string) (string, error) {
	switch {
	case len(args) == 1:
		return args[0], nil
	case file != "":
		b, err := os.ReadFile(file)
		return string(b), err
	}
	b, err := io.ReadAll(os.Stdin)
	return string(b), err
}

func printIngested(items []engine.IngestedReply, v any) error {
	rows := make([]table.Row, 0, len(items))
	for _, in := range items {
		rows = append(rows, table.Row{
			in.SupplierID,
			formatFloat(in.Parsed.UnitPrice),
			formatFloat(in.Parsed.MOQ),
			formatFloat(in.Parsed.LeadTimeDays),
			in.Intervention.Reason,
		})
	}
	return printRows(v, table.Row{"Supplier", "Price", "MOQ", "Lead days", "Intervention"}, rows)
}

func printSync(res engine.SyncResult) error {
	if err := printIngested(res.Ingested, res); err != nil {
		return err
	}
	if !jsonOutput() {
		fmt.Printf("fetched %d, matched %d, skipped %d\n", res.Fetched, res.Matched, res.Skipped)
	}
	return nil
}

func negotiateCmd() *cobra.Command {
	var in engine.NegotiateInput
	cmd := &cobra.Command{
		Use:   "negotiate <supplier-id>",
		Short: "Run one automated negotiation round",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.SupplierID = args[0]
			in.ActorID = actorID()
			in.Target = negotiation.Target{
				UnitPrice:    floatFlag(cmd, "target-price"),
				MOQ:          floatFlag(cmd, "target-moq"),
				LeadTimeDays: floatFlag(cmd, "target-lead-time"),
			}
			return withProject(cmd.Context(), func(ctx context.Context, a *app.App, projectID string) error {
				in.ProjectID = projectID
				res, err := a.Engine.Negotiate(ctx, in)
				if err != nil {
					return err
				}
				if jsonOutput() {
					return printJSON(res)
				}
				fmt.Printf("Round %d (%s)\nSubject: %s\n\n%s\n", res.Round, res.Delivery.Status, res.Subject, res.Body)
				if res.StopDecision.Stop {
					fmt.Printf("\nStop: %s\n", res.StopDecision.Reason)
				}
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&in.Lifecycle, "lifecycle", domain.LifecycleManufacturing, "manufacturing or sourcing")
	f.StringVar(&in.Channel, "channel", "", "email or whatsapp (default from config)")
	f.BoolVar(&in.SendMessage, "send", false, "deliver the counter-offer")
	f.Float64("target-price", 0, "target unit price")
	f.Float64("target-moq", 0, "target MOQ")
	f.Float64("target-lead-time", 0, "target lead time in days")
	return cmd
}

func followUpCmd() *cobra.Command {
	fu := &cobra.Command{Use: "followup", Short: "Supplier follow-up reminders"}
	policyFlags := func(cmd *cobra.Command) {
		cmd.Flags().Float64("sla-hours", 0, "response SLA in hours")
		cmd.Flags().Float64("cadence-hours", 0, "hours between reminders")
		cmd.Flags().Int("max", 0, "maximum reminders per supplier")
	}
	policyInput := func(cmd *cobra.Command) engine.FollowUpPolicyInput {
		return engine.FollowUpPolicyInput{
			ResponseSLAHours: floatFlag(cmd, "sla-hours"),
			CadenceHours:     floatFlag(cmd, "cadence-hours"),
			MaxFollowUps:     intFlag(cmd, "max"),
		}
	}

	policy := &cobra.Command{
		Use:   "policy",
		Short: "Store the project's follow-up policy",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, a *app.App, projectID string) error {
				p, err := a.Engine.UpdateFollowUpPolicy(ctx, projectID, policyInput(cmd), actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(p.Outcome.FollowUpPolicy)
			})
		},
	}
	policyFlags(policy)

	run := &cobra.Command{
		Use:   "run",
		Short: "Email reminders to suppliers past their response window",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, a *app.App, projectID string) error {
				res, err := a.Engine.RunFollowUps(ctx, projectID, policyInput(cmd), actorID())
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(res.Sent)+len(res.Failures))
				for _, c := range res.Sent {
					rows = append(rows, table.Row{c.SupplierID, "sent", ""})
				}
				for _, f := range res.Failures {
					rows = append(rows, table.Row{f.SupplierID, "failed", f.Reason})
				}
				return printRows(res, table.Row{"Supplier", "Result", "Reason"}, rows)
			})
		},
	}
	policyFlags(run)

	sweep := &cobra.Command{
		Use:   "sweep",
		Short: "Run follow-ups for every project once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Engine.SweepFollowUps(ctx, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	fu.AddCommand(policy, run, sweep)
	return fu
}

func outcomeCmd() *cobra.Command {
	oc := &cobra.Command{Use: "outcome", Short: "Should-cost, variants and structured RFQ"}
	var variant string
	plan := &cobra.Command{
		Use:   "plan",
		Short: "Build should-cost, variants and RFQ in one pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, a *app.App, projectID string) error {
				p, err := a.Engine.GenerateOutcomePlan(ctx, projectID, variant, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(p.Outcome)
			})
		},
	}
	plan.Flags().StringVar(&variant, "variant", "", "variant key for the RFQ")

	shouldCost := &cobra.Command{
		Use:   "should-cost",
		Short: "Estimate the landed should-cost",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, a *app.App, projectID string) error {
				sc, err := a.Engine.BuildShouldCost(ctx, projectID, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(sc)
			})
		},
	}
	variants := &cobra.Command{
		Use:   "variants",
		Short: "Build prototype, pilot and scale variants",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, a *app.App, projectID string) error {
				vs, err := a.Engine.BuildVariants(ctx, projectID, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(vs)
			})
		},
	}
	var rfqVariant string
	rfq := &cobra.Command{
		Use:   "rfq",
		Short: "Build the structured RFQ for a variant",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, a *app.App, projectID string) error {
				out, err := a.Engine.BuildStructuredRFQ(ctx, projectID, rfqVariant, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(out)
			})
		},
	}
	rfq.Flags().StringVar(&rfqVariant, "variant", "", "variant key")
	oc.AddCommand(plan, shouldCost, variants, rfq)
	return oc
}

func metricsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "Compute and store a KPI snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, a *app.App, projectID string) error {
				m, err := a.Engine.ComputeMetrics(ctx, projectID, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
}

func awardCmd() *cobra.Command {
	aw := &cobra.Command{Use: "award", Short: "Award gate and exports"}
	var autoSelect bool
	run := &cobra.Command{
		Use:   "run",
		Short: "Rank suppliers and recommend an award",
		RunE: func(cmd *cobra.Command, args []string) error {
			in := engine.AwardInput{
				AutoSelect: autoSelect,
				Weights: award.WeightOverrides{
					Cost:       floatFlag(cmd, "weight-cost"),
					Lead:       floatFlag(cmd, "weight-lead"),
					MOQ:        floatFlag(cmd, "weight-moq"),
					Confidence: floatFlag(cmd, "weight-confidence"),
					Risk:       floatFlag(cmd, "weight-risk"),
				},
			}
			return withProject(cmd.Context(), func(ctx context.Context, a *app.App, projectID string) error {
				d, _, err := a.Engine.RunAwardGate(ctx, projectID, in, actorID())
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(d.Ranking))
				for i, r := range d.Ranking {
					rows = append(rows, table.Row{i + 1, r.SupplierID, r.SupplierName, fmt.Sprintf("%.2f", r.LandedUnitCostUSD), fmt.Sprintf("%.3f", r.TotalScore)})
				}
				return printRows(d, table.Row{"#", "ID", "Supplier", "Landed USD", "Score"}, rows)
			})
		},
	}
	run.Flags().BoolVar(&autoSelect, "auto-select", false, "select the recommended supplier")
	for _, name := range []string{"cost", "lead", "moq", "confidence", "risk"} {
		run.Flags().Float64("weight-"+name, 0, name+" weight override")
	}

	export := func(use, short, def string, render func(*app.App) func(context.Context, string, io.Writer) error) *cobra.Command {
		var out string
		cmd := &cobra.Command{
			Use:   use,
			Short: short,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withProject(cmd.Context(), func(ctx context.Context, a *app.App, projectID string) error {
					path := out
					if path == "" {
						path = projectID + "-" + def
					}
					f, err := os.Create(path)
					if err != nil {
						return err
					}
					if err := render(a)(ctx, projectID, f); err != nil {
						f.Close()
						os.Remove(path)
						return err
					}
					if err := f.Close(); err != nil {
						return err
					}
					fmt.Printf("Wrote %s\n", path)
					return nil
				})
			},
		}
		cmd.Flags().StringVarP(&out, "out", "o", "", "output file")
		return cmd
	}
	packet := export("packet", "Write the award packet PDF", "award-packet.pdf", func(a *app.App) func(context.Context, string, io.Writer) error {
		return a.Engine.AwardPacketPDF
	})
	ranking := export("ranking", "Write the supplier ranking XLSX", "award-ranking.xlsx", func(a *app.App) func(context.Context, string, io.Writer) error {
		return a.Engine.AwardRankingXLSX
	})
	aw.AddCommand(run, packet, ranking)
	return aw
}
