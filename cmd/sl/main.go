package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"sourceline/internal/app"
	"sourceline/internal/db"
)

var rootCmd = &cobra.Command{
	Use:   "sl",
	Short: "Sourceline CLI",
	Long: `Sourceline takes a product idea to an awarded supplier.
Core concepts:
- Workspace: a directory holding .sourceline/ (the SQLite database), sourceline.yml and an optional .env with secrets.
- Project: an idea plus its product definition, checklist, suppliers, conversations and outcome plan.
- Checklist: the gates from idea to supplier finalization; items move pending -> in_progress -> validated (or blocked).
- Outreach: RFQ emails (manufacturing) and WhatsApp/email quote requests (ingredient sourcing), drafted first and sent explicitly.
- Replies: pasted, simulated or synced supplier answers, parsed into price, MOQ and lead time.
- Negotiation: automated counter-offer rounds against a target, stopping when the target is met or rounds run out.
- Award gate: weighted supplier ranking with a PDF packet and an XLSX export.
- Event log: every change, view with 'sl log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return app.LoadEnv(workspace)
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("SOURCELINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("project", "", "project id (defaults to SOURCELINE_PROJECT or the only project)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "debug logging")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("project", rootCmd.PersistentFlags().Lookup("project"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(checklistCmd())
	rootCmd.AddCommand(moduleCmd())
	rootCmd.AddCommand(supplierCmd())
	rootCmd.AddCommand(outreachCmd())
	rootCmd.AddCommand(replyCmd())
	rootCmd.AddCommand(negotiateCmd())
	rootCmd.AddCommand(followUpCmd())
	rootCmd.AddCommand(outcomeCmd())
	rootCmd.AddCommand(metricsCmd())
	rootCmd.AddCommand(awardCmd())
	rootCmd.AddCommand(sourcingCmd())
	rootCmd.AddCommand(autopilotCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(serveCmd())
}

// --- helpers ---

func openApp(ctx context.Context) (*app.App, error) {
	return app.Open(ctx, app.Options{
		Workspace: viper.GetString("workspace"),
		Verbose:   viper.GetBool("verbose"),
		Secrets: app.Secrets{
			SMTPPassword:      viper.GetString("smtp-password"),
			TwilioAuthToken:   viper.GetString("twilio-auth-token"),
			TwilioVerifyToken: viper.GetString("twilio-verify-token"),
			IMAPPassword:      viper.GetString("imap-password"),
			LLMAPIKey:         viper.GetString("llm-api-key"),
		},
	})
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

// withProject resolves the active project before calling fn.
func withProject(ctx context.Context, fn func(ctx context.Context, a *app.App, projectID string) error) error {
	return withApp(ctx, func(ctx context.Context, a *app.App) error {
		projectID, err := app.ResolveProject(ctx, a.Engine.Repo, viper.GetString("project"))
		if err != nil {
			return err
		}
		return fn(ctx, a, projectID)
	})
}

func actorID() string {
	return viper.GetString("actor-id")
}

func jsonOutput() bool {
	return viper.GetBool("json")
}

func printJSONOrTable(v any) error {
	if jsonOutput() {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

// printRows renders a table, or v as JSON with --json.
func printRows(v any, header table.Row, rows []table.Row) error {
	if jsonOutput() {
		return printJSON(v)
	}
	if len(rows) == 0 {
		fmt.Println("(none)")
		return nil
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(header)
	tw.AppendRows(rows)
	tw.SetStyle(table.StyleLight)
	tw.Render()
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func setEnvValue(path, key, value string) error {
	var lines []string
	seen := false
	f, err := os.Open(path)
	if err == nil {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, key+"=") {
				lines = append(lines, fmt.Sprintf("%s=%s", key, value))
				seen = true
			} else {
				lines = append(lines, line)
			}
		}
		if err := scanner.Err(); err != nil {
			f.Close()
			return err
		}
		f.Close()
	} else if !os.IsNotExist(err) {
		return err
	}
	if !seen {
		lines = append(lines, fmt.Sprintf("%s=%s", key, value))
	}
	content := strings.Join(lines, "\n")
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return os.WriteFile(path, []byte(content), 0o600)
}

// floatFlag returns the flag's value only when it was set.
func floatFlag(cmd *cobra.Command, name string) *float64 {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	v, err := cmd.Flags().GetFloat64(name)
	if err != nil {
		return nil
	}
	return &v
}

func intFlag(cmd *cobra.Command, name string) *int {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	v, err := cmd.Flags().GetInt(name)
	if err != nil {
		return nil
	}
	return &v
}

func formatFloat(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%g", *v)
}
