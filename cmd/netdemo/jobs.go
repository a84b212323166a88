package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/osvaldoandrade/netdemo/internal/tracing"
	"github.com/osvaldoandrade/netdemo/pkg/domain"

	"github.com/briandowns/spinner"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

const pollInterval = 500 * time.Millisecond

func jobsCmd(clientFn func() *client, ui *ui) *cobra.Command {
	jobs := &cobra.Command{
		Use:   "jobs",
		Short: "Submit and inspect demo jobs",
	}

	var (
		params []string
		wait   bool
	)
	submit := &cobra.Command{
		Use:     "submit <demo-id>",
		Short:   "Submit a demo job",
		Example: "netdemo jobs submit tcp-connect --param target_ip=1.1.1.1 --param target_port=443 --wait",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parameters, err := parseParams(params)
			if err != nil {
				return err
			}
			ctx, span := tracing.Tracer().Start(cmd.Context(), "netdemo.cli.submit")
			defer span.End()

			c := clientFn()
			spin := spinner.New(spinner.CharSets[14], 120*time.Millisecond)
			spin.Suffix = " Submitting job..."
			spin.Start()
			status, resp, err := c.request(ctx, http.MethodPost, "/api/jobs", map[string]any{
				"demo_id":    args[0],
				"parameters": parameters,
			})
			spin.Stop()
			if err != nil {
				return err
			}
			if status == http.StatusUnprocessableEntity {
				printViolations(resp, ui)
				return errors.New("parameters rejected")
			}
			if status >= 300 {
				return fmt.Errorf("error (%d): %s", status, string(resp))
			}
			var job domain.JobResponse
			if err := json.Unmarshal(resp, &job); err != nil {
				return err
			}
			fmt.Printf("%s Job submitted: %s\n", ui.ok("[OK]"), job.JobID)
			if !wait {
				return nil
			}
			return waitJob(ctx, c, job.JobID, ui)
		},
	}
	submit.Flags().StringArrayVarP(&params, "param", "p", nil, "Demo parameter as key=value (repeatable)")
	submit.Flags().BoolVarP(&wait, "wait", "w", false, "Wait for the job to finish")

	get := &cobra.Command{
		Use:   "get <job-id>",
		Short: "Show a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, resp, err := clientFn().request(cmd.Context(), http.MethodGet, "/api/jobs/"+url.PathEscape(args[0]), nil)
			if err != nil {
				return err
			}
			if status >= 300 {
				return fmt.Errorf("error (%d): %s", status, string(resp))
			}
			return printJSON(resp)
		},
	}

	waitC := &cobra.Command{
		Use:   "wait <job-id>",
		Short: "Wait for a job to reach a terminal status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return waitJob(cmd.Context(), clientFn(), args[0], ui)
		},
	}

	jobs.AddCommand(submit, get, waitC)
	return jobs
}

// parseParams turns key=value pairs into a parameter object. Values that
// parse as JSON keep their type, so port=80 is a number.
func parseParams(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --param %q (want key=value)", p)
		}
		var decoded any
		if err := json.Unmarshal([]byte(v), &decoded); err == nil {
			out[k] = decoded
			continue
		}
		out[k] = v
	}
	return out, nil
}

func printViolations(resp []byte, ui *ui) {
	var body struct {
		Error      string                  `json:"error"`
		Violations []domain.FieldViolation `json:"violations"`
	}
	if err := json.Unmarshal(resp, &body); err != nil || len(body.Violations) == 0 {
		fmt.Println(ui.err("[ERROR]"), string(resp))
		return
	}
	for _, v := range body.Violations {
		fmt.Printf("%s %s: %s\n", ui.err("[INVALID]"), v.Field, v.Reason)
	}
}

// waitJob polls until the job is terminal. The bar tracks elapsed time
// against the demo's max runtime.
func waitJob(ctx context.Context, c *client, id string, ui *ui) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	job, err := fetchJob(ctx, c, id)
	if err != nil {
		return err
	}
	limit := demoRuntime(ctx, c, job.DemoID)

	bar := progressbar.NewOptions(limit,
		progressbar.OptionSetDescription(job.DemoID),
		progressbar.OptionSetWidth(24),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
	start := time.Now()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for !job.Status.Terminal() {
		select {
		case <-ctx.Done():
			_ = bar.Clear()
			fmt.Println(ui.warn("[WARN]"), "Stopped waiting; job", id, "is", job.Status)
			return nil
		case <-ticker.C:
		}
		if secs := int(time.Since(start) / time.Second); secs <= limit {
			_ = bar.Set(secs)
		}
		if job, err = fetchJob(ctx, c, id); err != nil {
			return err
		}
	}
	_ = bar.Finish()
	return printOutcome(job, ui)
}

func fetchJob(ctx context.Context, c *client, id string) (*domain.JobResponse, error) {
	status, resp, err := c.request(ctx, http.MethodGet, "/api/jobs/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	if status >= 300 {
		return nil, fmt.Errorf("error (%d): %s", status, string(resp))
	}
	var job domain.JobResponse
	if err := json.Unmarshal(resp, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func demoRuntime(ctx context.Context, c *client, demoID string) int {
	status, resp, err := c.request(ctx, http.MethodGet, "/api/demos/"+url.PathEscape(demoID), nil)
	if err != nil || status >= 300 {
		return domain.MaxRuntimeSeconds
	}
	var recipe domain.DemoRecipe
	if err := json.Unmarshal(resp, &recipe); err != nil || recipe.MaxRuntime <= 0 {
		return domain.MaxRuntimeSeconds
	}
	return recipe.MaxRuntime
}

func printOutcome(job *domain.JobResponse, ui *ui) error {
	label := ui.ok(strings.ToUpper(string(job.Status)))
	if job.Status != domain.StatusCompleted {
		label = ui.err(strings.ToUpper(string(job.Status)))
	}
	fmt.Printf("%s %s %s\n", label, job.JobID, ui.dim(job.DemoID))
	if job.Result == nil {
		return nil
	}
	if job.Result.Error != "" {
		fmt.Printf("  %s %s\n", ui.warn("error:"), job.Result.Error)
	}
	raw, err := json.Marshal(job.Result)
	if err != nil {
		return err
	}
	return printJSON(raw)
}
