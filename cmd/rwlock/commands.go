package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os/exec"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sillsdev/serval-sub001/errors"
	"github.com/sillsdev/serval-sub001/lock"
	"github.com/sillsdev/serval-sub001/lock/lockhttp"
	"github.com/sillsdev/serval-sub001/lock/lockmetrics"
	"github.com/spf13/cobra"
)

func (a *app) newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status NAME",
		Short: "Print the queue, readers and availability of a lock as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			factory, err := a.factory(ctx)
			if err != nil {
				return err
			}
			defer a.close(ctx)
			doc, err := factory.Store().Get(ctx, args[0])
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(lockhttp.NewLockView(doc, time.Now()))
		},
	}
}

func (a *app) newExecCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exec NAME -- COMMAND [ARG...]",
		Short: "Run a command while holding a lock",
		Long: `Run a command while holding a lock. The lock is shared unless --write is
given. The command is killed when the lease set by --lifetime expires.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			factory, err := a.factory(ctx)
			if err != nil {
				return err
			}
			defer a.close(ctx)
			l, err := factory.Resolve(ctx, args[0])
			if err != nil {
				return err
			}

			run := func(ctx context.Context) error {
				c := exec.CommandContext(ctx, args[1], args[2:]...)
				c.Stdin = cmd.InOrStdin()
				c.Stdout = cmd.OutOrStdout()
				c.Stderr = cmd.ErrOrStderr()
				return c.Run()
			}

			var options []lock.AcquireOption
			if a.viper.IsSet("lifetime") {
				options = append(options, lock.WithLifetime(a.viper.GetDuration("lifetime")))
			}
			if a.viper.GetBool("write") {
				return l.WriterLock(ctx, run, options...)
			}
			return l.ReaderLock(ctx, run, options...)
		},
	}
	cmd.Flags().Bool("write", false, "take the exclusive writer lock")
	cmd.Flags().Duration("lifetime", 0, "lease of the lock, 0 holds it until the command exits")
	a.bind(cmd.Flags())
	return cmd
}

func (a *app) newReleaseHostCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "release-host",
		Short: "Remove every entry recorded by --host-id, e.g. after a crash",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.viper.GetString("host-id") == "" {
				return errors.InvalidArgument("--host-id is required")
			}
			factory, err := a.factory(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close(cmd.Context())
			return factory.Init(cmd.Context())
		},
	}
}

func (a *app) newDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete NAME",
		Short: "Delete a lock document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			factory, err := a.factory(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close(cmd.Context())
			deleted, err := factory.Delete(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !deleted {
				return errors.NotFound("lock '%s' not found", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}
}

func (a *app) newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve lock state over HTTP with prometheus metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector())
			observer, err := lockmetrics.New(reg)
			if err != nil {
				return err
			}

			factory, err := a.factory(ctx, lock.WithObserver(observer))
			if err != nil {
				return err
			}
			defer a.close(ctx)
			api, err := lockhttp.New(factory.Store(), factory)
			if err != nil {
				return err
			}

			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			mux.Handle("/", api)

			ln, err := net.Listen("tcp", a.viper.GetString("listen"))
			if err != nil {
				return err
			}
			srv := &http.Server{
				Handler:           mux,
				ReadHeaderTimeout: 10 * time.Second,
				BaseContext:       func(net.Listener) context.Context { return ctx },
			}

			errc := make(chan error, 1)
			go func() {
				errc <- srv.Serve(ln)
			}()
			a.log.Info("serving", "addr", ln.Addr().String())

			select {
			case err := <-errc:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return err
			}
			if err := <-errc; err != http.ErrServerClosed {
				return err
			}
			return nil
		},
	}
	cmd.Flags().String("listen", ":8080", "address to listen on")
	a.bind(cmd.Flags())
	return cmd
}
