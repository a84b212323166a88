package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/osvaldoandrade/netdemo/internal/tracing"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

type client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

type ui struct {
	title func(a ...any) string
	ok    func(a ...any) string
	info  func(a ...any) string
	warn  func(a ...any) string
	err   func(a ...any) string
	dim   func(a ...any) string
}

func newUI() *ui {
	return &ui{
		title: color.New(color.FgHiCyan, color.Bold).SprintFunc(),
		ok:    color.New(color.FgGreen, color.Bold).SprintFunc(),
		info:  color.New(color.FgCyan).SprintFunc(),
		warn:  color.New(color.FgYellow).SprintFunc(),
		err:   color.New(color.FgRed, color.Bold).SprintFunc(),
		dim:   color.New(color.FgHiBlack).SprintFunc(),
	}
}

func newClient(baseURL, token string) *client {
	return &client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// request sends body as JSON and returns the raw response. The trace context
// in ctx travels as traceparent so the server and worker spans join it.
func (c *client) request(ctx context.Context, method, path string, body any) (int, []byte, error) {
	var rdr io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	tracing.InjectHeaders(ctx, req.Header)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, out, nil
}

func main() {
	baseURL := getenv("NETDEMO_BASE_URL", "http://localhost:8080")
	token := getenv("NETDEMO_TOKEN", "")
	profileName := getenv("NETDEMO_PROFILE", "")
	ui := newUI()

	root := &cobra.Command{
		Use:   "netdemo",
		Short: "netdemo CLI",
		Long:  "netdemo CLI for browsing network demos and running them as sandboxed jobs.",
	}
	root.SetHelpTemplate(helpTemplate(ui))
	root.SilenceUsage = true

	root.PersistentFlags().StringVar(&baseURL, "base-url", baseURL, "Base URL for the netdemo API")
	root.PersistentFlags().StringVar(&token, "token", token, "Bearer token")
	root.PersistentFlags().StringVar(&profileName, "profile", profileName, "Config profile")

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg, _, _ := loadConfig()
		prof := cfg.Profiles[resolveProfileName(profileName, cfg)]
		flags := cmd.Flags()
		if !flags.Changed("base-url") && os.Getenv("NETDEMO_BASE_URL") == "" && prof.BaseURL != "" {
			baseURL = prof.BaseURL
		}
		if !flags.Changed("token") && os.Getenv("NETDEMO_TOKEN") == "" && prof.Token != "" {
			token = prof.Token
		}
		return nil
	}

	clientFn := func() *client { return newClient(baseURL, token) }

	root.AddCommand(
		initCmd(&profileName, ui),
		demosCmd(clientFn, ui),
		jobsCmd(clientFn, ui),
		tokenCmd(ui),
		healthCmd(clientFn, ui),
	)

	ctx := context.Background()
	shutdown, _ := tracing.Setup(ctx, tracing.Config{
		Enabled:     strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")) != "",
		ServiceName: "netdemo-cli",
	}, nil)

	err := root.ExecuteContext(ctx)
	sctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	_ = shutdown(sctx)
	cancel()
	if err != nil {
		fmt.Fprintln(os.Stderr, ui.err("[ERROR]"), err)
		os.Exit(1)
	}
}

func healthCmd(clientFn func() *client, ui *ui) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show service health",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, resp, err := clientFn().request(cmd.Context(), http.MethodGet, "/api/health", nil)
			if err != nil {
				return err
			}
			var out struct {
				Status string `json:"status"`
				Store  struct {
					Backend string `json:"backend"`
					Healthy bool   `json:"healthy"`
				} `json:"store"`
				Sandbox struct {
					Available bool `json:"available"`
				} `json:"sandbox"`
				Demos int `json:"demos"`
			}
			if err := json.Unmarshal(resp, &out); err != nil {
				return fmt.Errorf("error (%d): %s", status, string(resp))
			}
			label := ui.ok(out.Status)
			if out.Status != "healthy" {
				label = ui.warn(out.Status)
			}
			fmt.Printf("%s %s\n", ui.title("netdemo"), label)
			fmt.Printf("  store    %s (healthy=%t)\n", out.Store.Backend, out.Store.Healthy)
			fmt.Printf("  sandbox  available=%t\n", out.Sandbox.Available)
			fmt.Printf("  demos    %d\n", out.Demos)
			return nil
		},
	}
}

func getenv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func helpTemplate(ui *ui) string {
	title := ui.title("netdemo")
	return fmt.Sprintf(`%s: run network protocol demos in a sandbox

Usage:
  {{.UseLine}}

Commands:
{{range .Commands}}{{if (or .IsAvailableCommand .IsAdditionalHelpTopicCommand)}}
  {{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}

Flags:
  {{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}

Global Flags:
  {{.InheritedFlags.FlagUsages | trimTrailingWhitespaces}}

Config:
  %s

Examples:
  netdemo init
  netdemo demos list
  netdemo jobs submit tcp-handshake --param target_ip=8.8.8.8 --param target_port=53 --wait
  netdemo jobs wait <job-id>

`, title, configPath())
}
