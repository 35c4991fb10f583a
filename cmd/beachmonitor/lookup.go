package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Akwatiro/beach-monitor-spain/internal/beach"
	"github.com/Akwatiro/beach-monitor-spain/internal/dashboard"
	"github.com/Akwatiro/beach-monitor-spain/internal/query"
)

func newFindBeachCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "find-beach <beachId>",
		Short: "Find a beach by id across every province",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			c := newComponents(opts.cfg, opts.logger, nil)
			defer c.Close()

			loc, err := c.resolver.Locate(cmd.Context(), id)
			if err != nil {
				return err
			}
			opts.logger.Debug().Int("beach_id", id).Int("province_id", loc.ProvinceID).Msg("beach located")
			return writeJSON(cmd.OutOrStdout(), loc.Beach)
		},
	}
}

func newWeatherCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "weather <beachId>",
		Short: "Fetch the current weather of a beach",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			c := newComponents(opts.cfg, opts.logger, nil)
			defer c.Close()

			sub, err := c.dash.Subscribe(dashboard.BeachWeatherKey(id))
			if err != nil {
				return err
			}
			defer sub.Unsubscribe()

			snap, err := sub.Await(cmd.Context())
			if err != nil {
				return err
			}
			if snap.Status == query.StatusError {
				return snap.Err
			}
			reading, ok := query.DataOf[*beach.WeatherReading](snap)
			if !ok {
				return fmt.Errorf("no weather for beach %d", id)
			}
			return writeJSON(cmd.OutOrStdout(), reading)
		},
	}
}

func parseID(arg string) (int, error) {
	id, err := strconv.Atoi(arg)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q: must be a positive integer", arg)
	}
	return id, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
