// README: serve command; HTTP API plus the expiry sweeper and location feed sync.
package main

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	httptransport "fixit/internal/http"
)

var serveOpts appOptions

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and background loops",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		a, err := newApp(ctx, serveOpts)
		if err != nil {
			return err
		}
		defer a.Close()

		if a.verifier == nil {
			return errors.New("no token verifier: set firebase.project_id or pass --insecure-auth")
		}

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.matching.RunExpirySweeper(ctx)
		}()
		if a.feed != nil {
			interval := time.Duration(a.cfg.Firebase.SyncSeconds) * time.Second
			wg.Add(1)
			go func() {
				defer wg.Done()
				a.location.RunFeedSync(ctx, a.feed, interval)
			}()
		}

		srv := httptransport.NewServer(a.cfg.HTTP.Addr, httptransport.RouterDeps{
			Matching: a.matching,
			Location: a.location,
			Verifier: a.verifier,
			Logger:   a.logger,
		})
		err = srv.Run(ctx)
		cancel()
		wg.Wait()
		if err != nil {
			a.logger.Error("http server stopped", zap.Error(err))
			return err
		}
		a.logger.Info("shutdown complete")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&serveOpts.memory, "memory", false, "use the in-memory store instead of Postgres")
	serveCmd.Flags().BoolVar(&serveOpts.seedDemo, "seed-demo", false, "seed demo technicians and requests (with --memory)")
	serveCmd.Flags().BoolVar(&serveOpts.insecureAuth, "insecure-auth", false, "trust bearer tokens of the form uid|role")
}
