package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/stellarlinkco/kbyg/internal/config"
	"github.com/stellarlinkco/kbyg/internal/importer"
	"github.com/stellarlinkco/kbyg/internal/mcpserver"
	"github.com/stellarlinkco/kbyg/internal/prompts"
	"github.com/stellarlinkco/kbyg/internal/server"
	"github.com/stellarlinkco/kbyg/internal/session"
	"github.com/stellarlinkco/kbyg/internal/toolclient"
	"github.com/stellarlinkco/kbyg/internal/tools"
	"github.com/stellarlinkco/kbyg/internal/upstream"
)

var version = "dev"

const remoteTimeout = 2 * time.Minute

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "kbyg",
		Short:         "kbyg - GTM intelligence tool server",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server (tools, MCP, websocket, generation proxy, metrics)",
		RunE:  runServe,
	}
	serveCmd.Flags().String("addr", "", "Listen address (default from config)")

	mcpCmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the tools over MCP on stdin/stdout",
		RunE:  runMCP,
	}

	callCmd := &cobra.Command{
		Use:   "call <tool> [json-arguments]",
		Short: "Call one tool and print the result envelope",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  runCall,
	}
	addRemoteFlags(callCmd)

	generateCmd := &cobra.Command{
		Use:   "generate <prompt>",
		Short: "Send one prompt to the configured generation backend",
		Args:  cobra.ExactArgs(1),
		RunE:  runGenerate,
	}
	generateCmd.Flags().String("system", "", "System instruction")

	importCmd := &cobra.Command{
		Use:   "import <attendees.csv>",
		Short: "Import event attendees from CSV as companies",
		Args:  cobra.ExactArgs(1),
		RunE:  runImport,
	}
	addRemoteFlags(importCmd)
	importCmd.Flags().Bool("dry-run", false, "Print the plan without calling tools")
	importCmd.Flags().String("industry", "", "Industry to set on every imported company")
	importCmd.Flags().Duration("delay", -1, "Delay between companies (default from config)")

	authCmd := &cobra.Command{
		Use:   "auth",
		Short: "Session helpers",
	}
	waitCmd := &cobra.Command{
		Use:   "wait",
		Short: "Poll the session endpoint until the token is signed in",
		RunE:  runAuthWait,
	}
	waitCmd.Flags().String("url", "", "Session endpoint (default from config)")
	waitCmd.Flags().String("token", "", "Bearer token to check")
	waitCmd.Flags().Duration("timeout", 0, "Give up after this long (default from config)")
	authCmd.AddCommand(waitCmd)

	onboardCmd := &cobra.Command{
		Use:   "onboard",
		Short: "Initialize config and editable prompt templates",
		RunE:  runOnboard,
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show kbyg status",
		RunE:  runStatus,
	}
	statusCmd.Flags().String("remote", "", "Also check a running kbyg server")

	root.AddCommand(serveCmd, mcpCmd, callCmd, generateCmd, importCmd, authCmd, onboardCmd, statusCmd)
	return root
}

func addRemoteFlags(cmd *cobra.Command) {
	cmd.Flags().String("remote", "", "Base URL of a running kbyg server (default: run tools in-process)")
	cmd.Flags().String("token", "", "Bearer token for --remote (default: server.bearerToken)")
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	app, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	addr, _ := cmd.Flags().GetString("addr")
	if addr == "" {
		addr = cfg.Addr()
	}
	srv, err := server.New(server.Options{
		Addr:        addr,
		BearerToken: cfg.Server.BearerToken,
		Version:     version,
		Dispatcher:  app.Dispatcher,
		Generator:   app.Generator,
		Events:      app.Store,
		Metrics:     app.Metrics,
	})
	if err != nil {
		return err
	}
	return srv.Run(cmd.Context())
}

func runMCP(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	app, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()
	return mcpserver.RunStdio(ctx, mcpserver.New(app.Dispatcher, version))
}

// caller returns a remote tool client when --remote is set, otherwise an
// in-process dispatcher. The returned func releases local resources.
func caller(cmd *cobra.Command, cfg *config.Config) (tools.Caller, func(), error) {
	remote, _ := cmd.Flags().GetString("remote")
	if remote != "" {
		token, _ := cmd.Flags().GetString("token")
		if token == "" {
			token = cfg.Server.BearerToken
		}
		return toolclient.New(remote, token, remoteTimeout), func() {}, nil
	}
	app, err := newApp(cfg)
	if err != nil {
		return nil, nil, err
	}
	return app.Dispatcher, app.Close, nil
}

func runCall(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	var raw json.RawMessage
	if len(args) > 1 {
		raw = json.RawMessage(args[1])
	}
	toolArgs, err := tools.ParseArgs(raw)
	if err != nil {
		return err
	}

	c, done, err := caller(cmd, cfg)
	if err != nil {
		return err
	}
	defer done()

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()
	resp := c.Call(ctx, args[0], toolArgs)
	if err := printJSON(cmd.OutOrStdout(), resp); err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("tool %s failed", args[0])
	}
	return nil
}

func runGenerate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	gen, backend, err := newGenerator(cfg)
	if err != nil {
		return err
	}
	if backend == "none" {
		return fmt.Errorf("no generation backend configured. Set KBYG_UPSTREAM_URL or GEMINI_API_KEY")
	}
	system, _ := cmd.Flags().GetString("system")

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()
	resp, err := gen.Generate(ctx, upstream.Request{Prompt: args[0], SystemInstruction: system})
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), resp.Text)
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("open csv: %w", err)
	}
	rows, err := importer.ParseCSV(f)
	f.Close()
	if err != nil {
		return err
	}
	industry, _ := cmd.Flags().GetString("industry")
	companies := importer.GroupByCompany(rows, industry)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Parsed %d rows into %d companies\n", len(rows), len(companies))

	dryRun, _ := cmd.Flags().GetBool("dry-run")
	if dryRun {
		for _, c := range companies {
			fmt.Fprintf(out, "  %s (%d employees) %s\n", c.Name, len(c.Employees), c.Context)
		}
		return nil
	}

	delay, _ := cmd.Flags().GetDuration("delay")
	if delay < 0 {
		delay = cfg.ImportDelay()
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	if remote, _ := cmd.Flags().GetString("remote"); remote != "" {
		if err := session.Wait(ctx, cfg.SessionTimeout(), cfg.SessionInterval(), session.HealthChecker(remote)); err != nil {
			return fmt.Errorf("wait for %s: %w", remote, err)
		}
	}

	c, done, err := caller(cmd, cfg)
	if err != nil {
		return err
	}
	defer done()

	res, err := importer.New(c, importer.Options{Delay: delay}).Run(ctx, companies)
	fmt.Fprintf(out, "Import complete: %d added, %d failed, %d total\n", res.Added, res.Failed, res.Total)
	for _, e := range res.Errors {
		fmt.Fprintf(out, "  failed: %s\n", e)
	}
	return err
}

func runAuthWait(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	url, _ := cmd.Flags().GetString("url")
	if url == "" {
		url = cfg.Session.URL
	}
	if url == "" {
		return fmt.Errorf("session url not set. Use --url or KBYG_SESSION_URL")
	}
	token, _ := cmd.Flags().GetString("token")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	if timeout <= 0 {
		timeout = cfg.SessionTimeout()
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	checker := session.NewHTTPSessionChecker(url, token)
	fmt.Fprintf(cmd.OutOrStdout(), "Waiting for sign-in at %s...\n", url)
	if err := session.Wait(ctx, timeout, cfg.SessionInterval(), checker.Check); err != nil {
		return err
	}
	u := checker.User()
	fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s (%s)\n", u.Email, u.ID)
	return nil
}

func runOnboard(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	cfgPath := config.ConfigPath()

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		if err := config.SaveConfig(config.DefaultConfig()); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Fprintf(out, "Created config: %s\n", cfgPath)
	} else {
		fmt.Fprintf(out, "Config already exists: %s\n", cfgPath)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	created, err := prompts.Export(cfg.Prompts.Dir)
	if err != nil {
		return err
	}
	for _, p := range created {
		fmt.Fprintf(out, "  Created: %s\n", p)
	}
	fmt.Fprintf(out, "Prompts ready: %s\n", cfg.Prompts.Dir)

	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintf(out, "  1. Set GEMINI_API_KEY (or KBYG_UPSTREAM_URL) in %s or the environment\n", cfgPath)
	fmt.Fprintln(out, "  2. Run 'kbyg serve' to start the tool server")
	fmt.Fprintln(out, "  3. Run 'kbyg call gtm_list_companies' to test")
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(out, "Config: error (%v)\n", err)
		return nil
	}

	fmt.Fprintf(out, "Config: %s\n", config.ConfigPath())
	fmt.Fprintf(out, "Server: %s (auth %s)\n", cfg.Addr(), onOff(cfg.Server.BearerToken != ""))
	switch {
	case cfg.Upstream.EndpointURL != "":
		fmt.Fprintf(out, "Backend: upstream %s (model %s)\n", cfg.Upstream.EndpointURL, cfg.Upstream.Model)
	case cfg.Gemini.APIKey != "":
		fmt.Fprintf(out, "Backend: gemini (model %s, key %s)\n", cfg.Gemini.Model, mask(cfg.Gemini.APIKey))
	default:
		fmt.Fprintln(out, "Backend: not configured")
	}
	if cfg.Store.Driver == "postgres" {
		fmt.Fprintln(out, "Store: postgres")
	} else {
		fmt.Fprintf(out, "Store: sqlite %s\n", cfg.Store.Path)
	}

	if cfg.Cache.RedisURL != "" {
		fmt.Fprintf(out, "Event cache: redis (ttl %s)\n", cfg.EventCacheTTL())
	} else {
		fmt.Fprintln(out, "Event cache: off")
	}

	if set, err := prompts.Load(cfg.Prompts.Dir); err != nil {
		fmt.Fprintf(out, "Prompts: error (%v)\n", err)
	} else {
		fmt.Fprintf(out, "Prompts: %s\n", strings.Join(set.Names(), ", "))
	}

	if cfg.Store.Driver != "postgres" {
		if _, err := os.Stat(cfg.Store.Path); err != nil {
			fmt.Fprintln(out, "Companies: no database yet")
			return remoteStatus(cmd, out)
		}
	}
	app, err := newApp(cfg)
	if err != nil {
		fmt.Fprintf(out, "Companies: error (%v)\n", err)
		return remoteStatus(cmd, out)
	}
	defer app.Close()
	list, err := app.Store.ListCompanies(cmd.Context())
	if err != nil {
		fmt.Fprintf(out, "Companies: error (%v)\n", err)
	} else {
		fmt.Fprintf(out, "Companies: %d\n", len(list))
	}
	return remoteStatus(cmd, out)
}

func remoteStatus(cmd *cobra.Command, out io.Writer) error {
	remote, _ := cmd.Flags().GetString("remote")
	if remote == "" {
		return nil
	}
	h, err := toolclient.New(remote, "", 10*time.Second).Health(cmd.Context())
	if err != nil {
		fmt.Fprintf(out, "Remote: unreachable (%v)\n", err)
		return nil
	}
	fmt.Fprintf(out, "Remote: %s %s v%s (%d tools)\n", h.Status, h.Server, h.Version, h.Tools)
	return nil
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func mask(key string) string {
	if len(key) > 8 {
		return key[:4] + "..." + key[len(key)-4:]
	}
	return "set"
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
