package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"livewatch/internal/linkage"
	"livewatch/internal/models"
	"livewatch/internal/observability/metrics"
)

func newResolveCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <channel-id>",
		Short: "Resolve the active input of one channel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := root.cliApp(cmd)
			if err != nil {
				return err
			}
			defer a.close(cmd.Context())
			result, err := a.engine.ResolveActiveInput(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), result)
		},
	}
}

func newLinkageCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "linkage <channel-id>",
		Short: "Print the resources linked to one channel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := root.cliApp(cmd)
			if err != nil {
				return err
			}
			defer a.close(cmd.Context())
			graph, err := a.engine.Linkage(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), graph)
		},
	}
}

func newResourcesCmd(root *rootOptions) *cobra.Command {
	var filter struct {
		service string
		status  string
		keyword string
	}
	cmd := &cobra.Command{
		Use:   "resources",
		Short: "List resources grouped under the channels they feed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			service := models.ServiceType(strings.ToLower(strings.TrimSpace(filter.service)))
			if service != "" && service != "all" && !service.Valid() {
				return fmt.Errorf("unknown service %q", filter.service)
			}
			a, err := root.cliApp(cmd)
			if err != nil {
				return err
			}
			defer a.close(cmd.Context())
			groups, err := a.engine.Resources(cmd.Context(), linkage.Filter{
				Service: service,
				Status:  filter.status,
				Keyword: filter.keyword,
			})
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), groups)
		},
	}
	cmd.Flags().StringVar(&filter.service, "service", "", "Only list one service (flow, channel, package, cdn_stream)")
	cmd.Flags().StringVar(&filter.status, "status", "", "Only list resources in this status")
	cmd.Flags().StringVarP(&filter.keyword, "query", "q", "", "Match resource names or IDs containing this text")
	return cmd
}

func (o *rootOptions) cliApp(cmd *cobra.Command) (*app, error) {
	cfg, err := o.load()
	if err != nil {
		return nil, err
	}
	return newApp(cfg, cliLogger(cfg.Log, cmd.ErrOrStderr()), metrics.New())
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
