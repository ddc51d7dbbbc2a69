package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/cwygoda/streamwatch/internal/adapter/session"
	"github.com/cwygoda/streamwatch/internal/adapter/strategy"
	"github.com/cwygoda/streamwatch/internal/clock"
	"github.com/cwygoda/streamwatch/internal/config"
	"github.com/cwygoda/streamwatch/internal/domain"
	"github.com/cwygoda/streamwatch/internal/logger"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// rootOptions are the global flags. Flags only override the configuration
// when given explicitly.
type rootOptions struct {
	configPath  string
	debug       bool
	driver      string
	storePath   string
	collections []string
	httpAddr    string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "streamwatch",
		Short:         "Track the live status of stream links",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "config file (default "+config.DefaultPath()+")")
	pf.BoolVar(&opts.debug, "debug", false, "enable debug logging")
	pf.StringVar(&opts.driver, "store", "", "item store driver (sqlite or xlsx)")
	pf.StringVar(&opts.storePath, "store-path", "", "item store path")
	pf.StringSliceVar(&opts.collections, "collections", nil, "collections to sweep")
	pf.StringVar(&opts.httpAddr, "http-addr", "", "status server address, empty to disable")

	root.AddCommand(
		newRunCmd(opts),
		newSweepCmd(opts),
		newAddCmd(opts),
		newClassifyCmd(opts),
		newCookiesCmd(opts),
		newVersionCmd(),
	)
	return root
}

// setup loads the configuration layers and builds the logger.
func setup(flags *pflag.FlagSet, opts *rootOptions) (*config.Config, logger.Logger, error) {
	path, required := opts.configPath, true
	if path == "" {
		path, required = config.DefaultPath(), false
	}
	cfg, err := config.Load(path, required)
	if err != nil {
		return nil, nil, err
	}
	applyFlags(flags, opts, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := logger.New(logger.Config{Level: cfg.Log.Level})
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

func applyFlags(flags *pflag.FlagSet, opts *rootOptions, cfg *config.Config) {
	if flags.Changed("store") {
		cfg.Store.Driver = opts.driver
	}
	if flags.Changed("store-path") {
		cfg.Store.Path = opts.storePath
	}
	if flags.Changed("collections") {
		cfg.Sweep.Collections = opts.collections
	}
	if flags.Changed("http-addr") {
		cfg.HTTP.Addr = opts.httpAddr
	}
	if opts.debug {
		cfg.Log.Level = "debug"
	}
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Sweep the collections forever",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(cmd.Flags(), opts)
			if err != nil {
				return err
			}
			defer log.Sync()

			a, err := newApp(cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			err = a.run(cmd.Context())
			if err != nil && cmd.Context().Err() == nil {
				log.Error("worker stopped", logger.Error(err))
			}
			return err
		},
	}
}

func newSweepCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Sweep the collections once and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(cmd.Flags(), opts)
			if err != nil {
				return err
			}
			defer log.Sync()

			a, err := newApp(cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			sum, err := a.worker.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(sum)
		},
	}
}

func newAddCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "add <collection> <url>...",
		Short: "Append links to a collection",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(cmd.Flags(), opts)
			if err != nil {
				return err
			}
			defer log.Sync()

			store, closeStore, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			collection := args[0]
			for _, link := range args[1:] {
				p, ok := domain.Classify(link)
				if !ok {
					return fmt.Errorf("unsupported link %q", link)
				}
				if err := store.AppendItem(cmd.Context(), collection, domain.Fields{
					Link:     link,
					Platform: string(p),
				}); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "added %s\n", link)
			}
			return nil
		},
	}
}

func newClassifyCmd(opts *rootOptions) *cobra.Command {
	var check bool
	cmd := &cobra.Command{
		Use:   "classify <url>",
		Short: "Show the platform, canonical form and embed link of a URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			link := args[0]
			p, ok := domain.Classify(link)
			if !ok {
				return fmt.Errorf("unsupported link %q", link)
			}

			cfg, log, err := setup(cmd.Flags(), opts)
			if err != nil {
				return err
			}
			defer log.Sync()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "platform:  %s\n", p)
			fmt.Fprintf(out, "canonical: %s\n", domain.Canonicalize(link))
			if info, ok := strategy.ParseLink(link, cfg.Platforms.Twitch.EmbedParent); ok && info.Embed != "" {
				fmt.Fprintf(out, "embed:     %s\n", info.Embed)
			}
			if !check {
				return nil
			}

			sessions, err := session.Open(cfg.Session.Dir, clock.New(), log)
			if err != nil {
				return err
			}
			registry, err := buildRegistry(cfg, sessions)
			if err != nil {
				return err
			}
			s := registry.Dispatch(link)
			if s == nil {
				return fmt.Errorf("%s checks are disabled", p)
			}
			res, err := s.Check(cmd.Context(), domain.TrackedItem{Link: link})
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "status:    %s\n", res.Status())
			if res.Title != "" {
				fmt.Fprintf(out, "title:     %s\n", res.Title)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&check, "check", false, "also check the live status once")
	return cmd
}

func newCookiesCmd(opts *rootOptions) *cobra.Command {
	cookies := &cobra.Command{
		Use:   "cookies",
		Short: "Manage platform session cookies",
	}
	cookies.AddCommand(&cobra.Command{
		Use:   "set <url> <cookie-header>",
		Short: "Store the cookies of a Cookie header for the platform of url",
		Long: "Store the cookies of a Cookie header, as copied from a logged-in browser,\n" +
			"in the session file of the platform the url belongs to. A running engine\n" +
			"waiting on a challenge for that platform picks them up immediately.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(cmd.Flags(), opts)
			if err != nil {
				return err
			}
			defer log.Sync()

			sessions, err := session.Open(cfg.Session.Dir, clock.New(), log)
			if err != nil {
				return err
			}
			s, err := sessions.Set(args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %s cookies to %s\n", s.Platform(), s.Path())
			return nil
		},
	})
	return cookies
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "streamwatch %s\n", version)
		},
	}
}
