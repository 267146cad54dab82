package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kalambet/promoai/internal/api"
	"github.com/kalambet/promoai/internal/config"
	"github.com/kalambet/promoai/internal/document"
	"github.com/kalambet/promoai/internal/engine"
	"github.com/kalambet/promoai/internal/modelgen"
	"github.com/kalambet/promoai/internal/ollama"
)

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

func addModelFlags(cmd *cobra.Command) {
	cmd.Flags().String("provider", "", "AI provider: Ollama or Together (default from config)")
	cmd.Flags().String("model", "", "model name for the provider")
	cmd.Flags().String("api-key", "", "API key for providers that need one")
	cmd.Flags().Int("max-iterations", 0, "primary attempt budget (default from config)")
	cmd.Flags().Int("additional-iterations", 0, "tolerant attempts after the primary budget (default from config)")
	cmd.Flags().Bool("json", false, "print the session as JSON")
}

// modelOptions reads the flags registered by addModelFlags.
func modelOptions(cmd *cobra.Command) api.ModelOptions {
	var opts api.ModelOptions
	opts.Provider, _ = cmd.Flags().GetString("provider")
	opts.Model, _ = cmd.Flags().GetString("model")
	opts.APIKey, _ = cmd.Flags().GetString("api-key")
	if cmd.Flags().Changed("max-iterations") {
		n, _ := cmd.Flags().GetInt("max-iterations")
		opts.MaxIterations = &n
	}
	if cmd.Flags().Changed("additional-iterations") {
		n, _ := cmd.Flags().GetInt("additional-iterations")
		opts.AdditionalIterations = &n
	}
	return opts
}

// --- generate ---

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a process model from a description",
	Long: `Generate a process model from a natural-language description.

The description is read from --text or from --file (.txt, .md, .html or .pdf).

Examples:
  promoai generate --text "The clerk checks the order, then ships it."
  promoai generate --file process.md --provider Together --model mistralai/Mixtral-8x7B-Instruct-v0.1`,
	RunE: func(cmd *cobra.Command, args []string) error {
		text, _ := cmd.Flags().GetString("text")
		file, _ := cmd.Flags().GetString("file")
		asJSON, _ := cmd.Flags().GetBool("json")

		if (text == "") == (file == "") {
			return fmt.Errorf("exactly one of --text or --file is required")
		}
		description := text
		if file != "" {
			var err error
			description, err = document.ReadFile(file)
			if err != nil {
				return err
			}
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		set, err := modelOptions(cmd).Settings(a.budget)
		if err != nil {
			return err
		}

		ctx, stop := signalContext(cmd)
		defer stop()

		printStep("Generating process model...")
		sess, err := a.svc.Generate(ctx, description, set)
		if err != nil {
			reportRunFailure(sess, err)
			return err
		}
		return printResult(cmd.OutOrStdout(), sess, asJSON)
	},
}

func init() {
	generateCmd.Flags().String("text", "", "process description")
	generateCmd.Flags().String("file", "", "file containing the process description")
	addModelFlags(generateCmd)
}

// --- refine ---

var refineCmd = &cobra.Command{
	Use:   "refine <session-id>",
	Short: "Refine a stored process model with feedback",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		feedback, _ := cmd.Flags().GetString("feedback")
		asJSON, _ := cmd.Flags().GetBool("json")
		if strings.TrimSpace(feedback) == "" {
			return fmt.Errorf("--feedback is required")
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		set, err := modelOptions(cmd).Settings(a.budget)
		if err != nil {
			return err
		}

		ctx, stop := signalContext(cmd)
		defer stop()

		printStep("Refining session %s...", args[0])
		sess, err := a.svc.Refine(ctx, args[0], feedback, set)
		if err != nil {
			reportRunFailure(sess, err)
			return err
		}
		return printResult(cmd.OutOrStdout(), sess, asJSON)
	},
}

func init() {
	refineCmd.Flags().String("feedback", "", "what should change in the model")
	addModelFlags(refineCmd)
}

// --- import ---

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import an existing process model (YAML) so it can be refined",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			data []byte
			err  error
		)
		if args[0] == "-" {
			data, err = io.ReadAll(io.LimitReader(cmd.InOrStdin(), document.MaxSize))
		} else {
			data, err = os.ReadFile(args[0])
		}
		if err != nil {
			return fmt.Errorf("reading model: %w", err)
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		sess, err := a.svc.Import(cmd.Context(), string(data))
		if err != nil {
			return err
		}
		printSuccess("Imported session %s (%d activities)", sess.ID, sess.Stats.Activities)
		return nil
	},
}

// --- show ---

var showCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show a stored session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		codeOnly, _ := cmd.Flags().GetBool("code")
		withConversation, _ := cmd.Flags().GetBool("conversation")
		withRuns, _ := cmd.Flags().GetBool("runs")
		asJSON, _ := cmd.Flags().GetBool("json")

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		sess, err := a.svc.Get(args[0])
		if err != nil {
			return fmt.Errorf("session %s: %w", args[0], err)
		}

		out := cmd.OutOrStdout()
		switch {
		case codeOnly:
			fmt.Fprint(out, sess.Code)
			return nil
		case asJSON:
			return writeJSON(out, sess)
		}

		printSession(out, sess)
		if withConversation {
			printConversation(out, sess.Conversation)
		}
		if withRuns {
			runs, err := a.svc.Runs(sess.ID)
			if err != nil {
				return err
			}
			printRuns(out, runs)
		}
		return nil
	},
}

func init() {
	showCmd.Flags().Bool("code", false, "print only the model code")
	showCmd.Flags().Bool("conversation", false, "include the LLM conversation")
	showCmd.Flags().Bool("runs", false, "include generation attempts")
	showCmd.Flags().Bool("json", false, "print the session as JSON")
}

// --- list ---

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		sessions, err := a.svc.List(limit)
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No sessions found.")
			return nil
		}
		for _, s := range sessions {
			printSessionLine(cmd.OutOrStdout(), s)
		}
		return nil
	},
}

func init() {
	listCmd.Flags().Int("limit", 20, "maximum number of sessions to list")
}

// --- providers ---

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List supported AI providers and suggested models",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		for _, p := range engine.Providers() {
			info, ok := engine.Catalog(p)
			if !ok {
				continue
			}
			key := "no API key"
			if info.RequiresAPIKey {
				key = "API key required"
			}
			fmt.Fprintf(out, "%s (%s)\n", colorize(colorBold, p.String()), key)
			fmt.Fprintf(out, "  %s\n", info.Help)
			for _, m := range info.Models {
				marker := " "
				if m.ID == info.DefaultModel {
					marker = "*"
				}
				fmt.Fprintf(out, "  %s %s  %s\n", marker, colorize(colorCyan, m.ID), m.Description)
			}
		}
	},
}

// --- models ---

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List or pull provider models",
}

var modelsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List models available from a provider",
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("provider")
		apiKey, _ := cmd.Flags().GetString("api-key")

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		p, err := a.cfg.Provider()
		if name != "" {
			p, err = engine.ParseProvider(name)
		}
		if err != nil {
			return err
		}
		if apiKey == "" {
			apiKey = a.cfg.APIKeyFor(p)
		}

		t, err := a.registry.Resolve(p, engine.Credentials{APIKey: apiKey})
		if err != nil {
			return err
		}
		lister, ok := t.(engine.ModelLister)
		if !ok {
			return fmt.Errorf("%s cannot list models", p)
		}

		ctx, stop := signalContext(cmd)
		defer stop()
		models, err := lister.ListModels(ctx)
		if err != nil {
			return err
		}
		if len(models) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No models found.")
			return nil
		}
		current := a.cfg.ModelFor(p)
		for _, m := range models {
			if m == current {
				fmt.Fprintf(cmd.OutOrStdout(), "%s (configured)\n", colorize(colorGreen, m))
				continue
			}
			fmt.Fprintln(cmd.OutOrStdout(), m)
		}
		return nil
	},
}

var modelsPullCmd = &cobra.Command{
	Use:   "pull [model]",
	Short: "Pull an Ollama model (default: the configured one)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		model := cfg.Ollama.Model
		if len(args) == 1 {
			model = args[0]
		}

		ctx, stop := signalContext(cmd)
		defer stop()

		client := ollama.New(cfg.Ollama.BaseURL)
		if !client.IsRunning(ctx) {
			return fmt.Errorf("Ollama is not running at %s. Start it with: ollama serve", client.BaseURL())
		}
		printStep("Pulling %s...", model)
		err = client.PullModel(ctx, model, func(p ollama.PullProgress) {
			if p.Total > 0 {
				fmt.Fprintf(os.Stderr, "\r  %s %3.0f%%", p.Status, float64(p.Completed)/float64(p.Total)*100)
			}
		})
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return err
		}
		printSuccess("Model %s ready", model)
		return nil
	},
}

func init() {
	modelsListCmd.Flags().String("provider", "", "AI provider: Ollama or Together (default from config)")
	modelsListCmd.Flags().String("api-key", "", "API key for providers that need one")
	modelsCmd.AddCommand(modelsListCmd)
	modelsCmd.AddCommand(modelsPullCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value.\n\nValid keys: " + strings.Join(config.ValidKeys(), ", "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configSetSecretCmd = &cobra.Command{
	Use:   "set-secret <key> [value]",
	Short: "Store a secret in the platform secret store",
	Long: "Store a secret in the platform secret store. The value is read from\n" +
		"stdin when omitted.\n\nSecret keys: " + strings.Join(config.SecretKeys(), ", "),
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]
		var value string
		if len(args) == 2 {
			value = args[1]
		} else {
			data, err := io.ReadAll(io.LimitReader(cmd.InOrStdin(), 64<<10))
			if err != nil {
				return fmt.Errorf("reading secret: %w", err)
			}
			value = strings.TrimSpace(string(data))
		}
		if value == "" {
			return errors.New("secret value is empty")
		}

		if err := config.SetSecret(key, value); err != nil {
			return err
		}

		printSuccess("Stored %s", key)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configSetSecretCmd)
}

func printResult(w io.Writer, sess *modelgen.Session, asJSON bool) error {
	if asJSON {
		return writeJSON(w, sess)
	}
	printSuccess("Session %s: %d activities (%s %s)", sess.ID, sess.Stats.Activities, sess.Provider, sess.ModelName)
	fmt.Fprint(w, sess.Code)
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
