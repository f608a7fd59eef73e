// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"errors"

	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

var errListenRequired = errors.New("--listen is required")

func newServeCmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve <playlist.m3u8>...",
		Short: "Loop playlists in real time and expose the engine over HTTP",
		Long: `Serve plays the given HLS media playlists in a loop on the wall clock
until interrupted. The engine snapshot, Prometheus metrics and the health
checks are served on --listen.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := runOptions{
				realtime:   true,
				listenAddr: lo.Must(cmd.Flags().GetString("listen")),
				watch:      lo.Must(cmd.Flags().GetBool("watch")),
			}
			if opts.listenAddr == "" {
				return errListenRequired
			}
			return runSession(cmd.Context(), g, opts, args, true)
		},
	}
	cmd.Flags().String("listen", ":9464", "address for /snapshot, /metrics, /healthz and /readyz")
	cmd.Flags().Bool("watch", true, "reload the config file on change")
	return cmd
}
