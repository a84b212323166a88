package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"text/tabwriter"

	"github.com/osvaldoandrade/netdemo/pkg/domain"

	"github.com/spf13/cobra"
)

func demosCmd(clientFn func() *client, ui *ui) *cobra.Command {
	demos := &cobra.Command{
		Use:   "demos",
		Short: "Browse the demo catalog",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List available demos",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, resp, err := clientFn().request(cmd.Context(), http.MethodGet, "/api/demos", nil)
			if err != nil {
				return err
			}
			if status >= 300 {
				return fmt.Errorf("error (%d): %s", status, string(resp))
			}
			var out struct {
				Demos []domain.DemoRecipe `json:"demos"`
			}
			if err := json.Unmarshal(resp, &out); err != nil {
				return err
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, ui.title("ID")+"\t"+ui.title("CATEGORY")+"\t"+ui.title("ROOT")+"\t"+ui.title("MAX RUNTIME")+"\t"+ui.title("NAME"))
			for _, d := range out.Demos {
				root := ui.dim("no")
				if d.RequiresRoot {
					root = ui.warn("yes")
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%ds\t%s\n", d.ID, d.Category, root, d.MaxRuntime, d.Name)
			}
			return tw.Flush()
		},
	}

	get := &cobra.Command{
		Use:   "get <id>",
		Short: "Show a demo recipe and its parameter schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, resp, err := clientFn().request(cmd.Context(), http.MethodGet, "/api/demos/"+url.PathEscape(args[0]), nil)
			if err != nil {
				return err
			}
			if status >= 300 {
				return fmt.Errorf("error (%d): %s", status, string(resp))
			}
			return printJSON(resp)
		},
	}

	demos.AddCommand(list, get)
	return demos
}

func printJSON(raw []byte) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		fmt.Println(string(raw))
		return nil
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
