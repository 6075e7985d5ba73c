package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"threadify/internal/api"
	"threadify/internal/cmdlog"
	"threadify/internal/config"
	"threadify/internal/metrics"
	"threadify/internal/model"
	"threadify/internal/pipeline"
	"threadify/internal/secrets"
	"threadify/internal/theme"
	"threadify/internal/util"
)

var version = "dev"

var cfgPath string

func main() {
	rootCmd := &cobra.Command{
		Use:           "threadify",
		Short:         "Turn articles into X threads",
		Long:          "Threadify scrapes an article, drafts a thread or single post with an LLM, and posts it to X after review or automatically.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "./threadify.yaml", "config path")

	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newSubmitCommand())
	rootCmd.AddCommand(newApproveCommand())
	rootCmd.AddCommand(newResumeCommand())
	rootCmd.AddCommand(newShowCommand())
	rootCmd.AddCommand(newAccountCommand())
	rootCmd.AddCommand(newTokenCommand())
	rootCmd.AddCommand(newVersionCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newInitCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmdlog.Run("init", func() error {
				if err := config.Save(cfgPath, config.Default()); err != nil {
					return err
				}
				abs, _ := filepath.Abs(cfgPath)
				theme.PrintBanner(os.Stdout)
				fmt.Println("Config written to:", abs)
				return nil
			})
		},
	}
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmdlog.Run("serve", func() error {
				a, err := openApp(cfgPath)
				if err != nil {
					return err
				}
				defer a.Close()
				orch, err := a.orchestrator()
				if err != nil {
					return err
				}
				ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
				defer stop()

				metrics.StartServer(a.cfg.Server.MetricsAddr)
				srv := api.New(api.Config{Service: orch, Tokens: a.db, PublicURL: a.cfg.Server.PublicURL})
				return srv.ListenAndServe(ctx, a.cfg.Server.Addr)
			})
		},
	}
}

func newSubmitCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit <url>",
		Short: "Generate content for a URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmdlog.Run("submit", func() error {
				f := cmd.Flags()
				auto, _ := f.GetBool("auto")
				single, _ := f.GetBool("single")
				force, _ := f.GetBool("force")
				account, _ := f.GetString("account")
				var s model.Settings
				s.Style, _ = f.GetString("style")
				s.Hook, _ = f.GetBool("hook")
				s.Extractive, _ = f.GetBool("extractive")
				s.Image, _ = f.GetBool("image")
				s.Reference, _ = f.GetString("reference")
				s.UTM, _ = f.GetString("utm")
				s.ThreadCap, _ = f.GetInt("thread-cap")
				s.SingleCap, _ = f.GetInt("single-cap")

				req := pipeline.SubmitRequest{URL: args[0], Account: account, Mode: model.ModeReview,
					Type: model.TypeThread, Settings: s, Force: force}
				if auto {
					req.Mode = model.ModeAuto
				}
				if single {
					req.Type = model.TypeSingle
				}

				a, err := openApp(cfgPath)
				if err != nil {
					return err
				}
				defer a.Close()
				orch, err := a.orchestrator()
				if err != nil {
					return err
				}
				res, err := orch.Submit(cmd.Context(), req)
				if err != nil {
					return err
				}
				printSubmit(res)
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.Bool("auto", false, "post immediately when within budget")
	f.Bool("single", false, "generate a single post instead of a thread")
	f.Bool("force", false, "submit even if the URL was already posted")
	f.String("account", "", "account handle (default: first account)")
	f.String("style", "", "writing style (conversational, analytical, casual, enthusiastic, ...)")
	f.Bool("hook", false, "open with a hook")
	f.Bool("extractive", false, "quote the article rather than summarize it")
	f.Bool("image", false, "attach the article's hero image")
	f.String("reference", "", `citation reply text, or "auto" to generate one`)
	f.String("utm", "", "utm_campaign for the reference link")
	f.Int("thread-cap", 0, "maximum tweets in a thread")
	f.Int("single-cap", 0, "maximum characters in a single post")
	return cmd
}

func printSubmit(res pipeline.SubmitResult) {
	if res.Duplicate.IsDuplicate {
		fmt.Printf("warning: already posted as run #%d\n", res.Duplicate.PreviousRunID)
	}
	if res.Downgraded {
		fmt.Println("cost over budget: moved to review")
	}
	fmt.Printf("Run #%d status=%s mode=%s cost=$%.4f\n", res.RunID, res.Status, res.Mode, res.CostUSD)
	printTweets(res.Tweets)
	if res.Posting != nil && res.Posting.Error != "" {
		fmt.Println("error:", res.Posting.Error)
	}
}

func printTweets(tweets []model.Tweet) {
	for _, t := range tweets {
		label := strconv.Itoa(t.Idx + 1)
		if t.Role == model.RoleReference {
			label = "ref"
		}
		fmt.Printf("[%s] %s\n", label, t.Text)
		if t.Permalink != "" {
			fmt.Printf("      %s\n", t.Permalink)
		}
	}
}

func runIDArg(args []string) (int64, error) {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid run id %q", args[0])
	}
	return id, nil
}

func newPostCommand(name, short string, post func(*pipeline.Orchestrator, context.Context, int64) (pipeline.PostOutcome, error)) *cobra.Command {
	return &cobra.Command{
		Use:   name + " <run-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmdlog.Run(name, func() error {
				id, err := runIDArg(args)
				if err != nil {
					return err
				}
				a, err := openApp(cfgPath)
				if err != nil {
					return err
				}
				defer a.Close()
				orch, err := a.orchestrator()
				if err != nil {
					return err
				}
				out, err := post(orch, cmd.Context(), id)
				if err != nil {
					return err
				}
				fmt.Printf("Run #%d status=%s posted=%d\n", id, out.Status, len(out.TweetIDs))
				if out.Error != "" {
					return fmt.Errorf("%s", out.Error)
				}
				return nil
			})
		},
	}
}

func newApproveCommand() *cobra.Command {
	return newPostCommand("approve", "Approve a run in review and post it", (*pipeline.Orchestrator).Approve)
}

func newResumeCommand() *cobra.Command {
	return newPostCommand("resume", "Continue posting a failed run", (*pipeline.Orchestrator).Resume)
}

func newShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a run and its tweets",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmdlog.Run("show", func() error {
				id, err := runIDArg(args)
				if err != nil {
					return err
				}
				a, err := openApp(cfgPath)
				if err != nil {
					return err
				}
				defer a.Close()
				orch, err := a.orchestrator()
				if err != nil {
					return err
				}
				run, err := orch.Get(cmd.Context(), id)
				if err != nil {
					return err
				}
				fmt.Printf("Run #%d %s\n", run.ID, run.CanonicalURL)
				fmt.Printf("status=%s mode=%s type=%s cost=$%.4f words=%d\n", run.Status, run.Mode, run.Type, run.CostEstimate, run.WordCount)
				if run.ErrorMessage != "" {
					fmt.Println("error:", run.ErrorMessage)
				}
				printTweets(run.Tweets)
				return nil
			})
		},
	}
}

func newAccountCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "account", Short: "Manage connected X accounts"}

	add := &cobra.Command{
		Use:   "add",
		Short: "Store an account access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmdlog.Run("account_add", func() error {
				handle, _ := cmd.Flags().GetString("handle")
				token, _ := cmd.Flags().GetString("token")
				if token == "" {
					return fmt.Errorf("--token is required")
				}
				a, err := openApp(cfgPath)
				if err != nil {
					return err
				}
				defer a.Close()
				key, err := a.key()
				if err != nil {
					return err
				}
				handle = util.StripHandle(handle)
				if handle == "" {
					if handle, err = a.x.Me(cmd.Context(), token); err != nil {
						return fmt.Errorf("look up handle: %w", err)
					}
				}
				sealed, err := secrets.Seal([]byte(token), key)
				if err != nil {
					return err
				}
				acct, err := a.db.CreateAccount(cmd.Context(), model.Account{Handle: handle, TokenSealed: sealed})
				if err != nil {
					return err
				}
				fmt.Printf("Account @%s added (id %d)\n", acct.Handle, acct.ID)
				return nil
			})
		},
	}
	add.Flags().String("handle", "", "account handle (looked up from the token when empty)")
	add.Flags().String("token", "", "OAuth 2.0 user access token")

	list := &cobra.Command{
		Use:   "list",
		Short: "List accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmdlog.Run("account_list", func() error {
				a, err := openApp(cfgPath)
				if err != nil {
					return err
				}
				defer a.Close()
				accts, err := a.db.ListAccounts(cmd.Context())
				if err != nil {
					return err
				}
				for _, acct := range accts {
					fmt.Printf("%d @%s provider=%s added=%s\n", acct.ID, acct.Handle, acct.Provider, acct.CreatedAt.Format("2006-01-02"))
				}
				return nil
			})
		},
	}

	remove := &cobra.Command{
		Use:   "remove <handle>",
		Short: "Remove an account and its runs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmdlog.Run("account_remove", func() error {
				a, err := openApp(cfgPath)
				if err != nil {
					return err
				}
				defer a.Close()
				acct, err := a.db.GetAccountByHandle(cmd.Context(), util.StripHandle(args[0]))
				if err != nil {
					return fmt.Errorf("account @%s: %w", util.StripHandle(args[0]), err)
				}
				if err := a.db.DeleteAccount(cmd.Context(), acct.ID); err != nil {
					return err
				}
				fmt.Printf("Account @%s removed\n", acct.Handle)
				return nil
			})
		},
	}

	rotate := &cobra.Command{
		Use:   "set-token <handle>",
		Short: "Replace an account's access token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmdlog.Run("account_set_token", func() error {
				token, _ := cmd.Flags().GetString("token")
				a, err := openApp(cfgPath)
				if err != nil {
					return err
				}
				defer a.Close()
				key, err := a.key()
				if err != nil {
					return err
				}
				acct, err := a.db.GetAccountByHandle(cmd.Context(), util.StripHandle(args[0]))
				if err != nil {
					return fmt.Errorf("account @%s: %w", util.StripHandle(args[0]), err)
				}
				sealed, err := secrets.Seal([]byte(token), key)
				if err != nil {
					return err
				}
				if err := a.db.UpdateAccountTokens(cmd.Context(), acct.ID, sealed, acct.RefreshSealed); err != nil {
					return err
				}
				fmt.Printf("Token for @%s updated\n", acct.Handle)
				return nil
			})
		},
	}
	rotate.Flags().String("token", "", "new OAuth 2.0 user access token")
	_ = rotate.MarkFlagRequired("token")

	cmd.AddCommand(add, list, remove, rotate)
	return cmd
}

func newTokenCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "token", Short: "Manage API tokens"}

	create := &cobra.Command{
		Use:   "create",
		Short: "Create an API token and print it once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmdlog.Run("token_create", func() error {
				label, _ := cmd.Flags().GetString("label")
				a, err := openApp(cfgPath)
				if err != nil {
					return err
				}
				defer a.Close()
				token := secrets.NewAPIToken()
				hash, err := secrets.HashToken(token)
				if err != nil {
					return err
				}
				t, err := a.db.CreateAPIToken(cmd.Context(), label, hash)
				if err != nil {
					return err
				}
				fmt.Printf("Token %d (%s):\n%s\n", t.ID, t.Label, token)
				fmt.Println("Store it now; it cannot be shown again.")
				return nil
			})
		},
	}
	create.Flags().String("label", "", "label for the token")

	revoke := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke an API token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmdlog.Run("token_revoke", func() error {
				id, _ := cmd.Flags().GetInt64("id")
				a, err := openApp(cfgPath)
				if err != nil {
					return err
				}
				defer a.Close()
				if err := a.db.RevokeAPIToken(cmd.Context(), id); err != nil {
					return fmt.Errorf("revoke token %d: %w", id, err)
				}
				fmt.Printf("Token %d revoked\n", id)
				return nil
			})
		},
	}
	revoke.Flags().Int64("id", 0, "token id")
	_ = revoke.MarkFlagRequired("id")

	cmd.AddCommand(create, revoke)
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("threadify", version)
		},
	}
}
