// Package main provides the bough CLI.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"bough/config"
	"bough/engine"
	"bough/kinds"
	"bough/policy"
	"bough/store"
	"bough/tree"
	"bough/version"
)

// Version is the current bough CLI version
var Version = "0.3.0"

var (
	configFlag string
	dbFlag     string
	policyFlag string
	debugFlag  bool
)

var rootCmd = &cobra.Command{
	Use:          "bough",
	Short:        "Bough - versioned content trees",
	Long:         `Bough stores ordered trees of typed content in SQLite, checks every edit against the parent/child rules of each kind, and keeps a commit history of whole trees.`,
	Version:      Version,
	SilenceUsage: true,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the database and apply the schema",
	Args:  cobra.NoArgs,
	RunE:  runInit,
}

var kindsCmd = &cobra.Command{
	Use:   "kinds",
	Short: "List registered content kinds",
	Args:  cobra.NoArgs,
	RunE:  runKinds,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "YAML config file (overlays BOUGH_* environment)")
	rootCmd.PersistentFlags().StringVar(&dbFlag, "db", "", "SQLite database file (default $BOUGH_DB or ./bough.db)")
	rootCmd.PersistentFlags().StringVar(&policyFlag, "policy", "", "YAML site policy rules")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(initCmd, kindsCmd, treeCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app bundles everything a command needs.
type app struct {
	cfg     *config.Config
	log     *zap.Logger
	db      *store.DB
	engine  *engine.Engine
	version *version.Manager
}

func (a *app) Close() {
	a.db.Close()
	a.log.Sync()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFlag)
	if err != nil {
		return nil, err
	}
	if dbFlag != "" {
		cfg.DB = dbFlag
	}
	if policyFlag != "" {
		cfg.Policy = policyFlag
	}
	if debugFlag {
		cfg.Debug = true
	}
	return cfg, cfg.Validate()
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func openApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log, err := newLogger(cfg.Debug)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	reg, err := kinds.Registry()
	if err != nil {
		return nil, err
	}
	db, err := store.Open(cfg.DB, reg)
	if err != nil {
		return nil, err
	}
	if err := db.SetBusyTimeout(cfg.BusyTimeout); err != nil {
		db.Close()
		return nil, err
	}

	opts := []engine.Option{engine.WithLogger(log)}
	if cfg.Policy != "" {
		rules, err := policy.LoadRules(cfg.Policy)
		if err != nil {
			db.Close()
			return nil, err
		}
		log.Debug("loaded site policy", zap.String("path", cfg.Policy), zap.Int("rules", len(rules.All())))
		opts = append(opts, engine.WithSite(rules))
	}
	e, err := engine.New(db, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &app{
		cfg:     cfg,
		log:     log,
		db:      db,
		engine:  e,
		version: version.NewManager(e),
	}, nil
}

func runInit(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()
	fmt.Fprintf(cmd.OutOrStdout(), "Initialized %s\n", a.db.Path())
	return nil
}

func runKinds(cmd *cobra.Command, args []string) error {
	reg, err := kinds.Registry()
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tTITLE\tCHILDREN\tDRAGGABLE\tDELETABLE")
	for _, k := range reg.Kinds() {
		fmt.Fprintf(w, "%s\t%s\t%t\t%t\t%t\n", k.Name, k.DisplayName(), k.AcceptingChildren, k.Draggable, k.Deletable)
	}
	return w.Flush()
}

// parseAttrs decodes a JSON object flag value.
func parseAttrs(s string) (tree.Attrs, error) {
	if s == "" {
		return nil, nil
	}
	var attrs tree.Attrs
	if err := json.Unmarshal([]byte(s), &attrs); err != nil {
		return nil, fmt.Errorf("parsing --attrs: %w", err)
	}
	return attrs, nil
}

// shortID safely truncates an ID string to 8 characters.
func shortID(s string) string {
	if len(s) >= 8 {
		return s[:8]
	}
	return s
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
