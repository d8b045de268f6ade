package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
	"github.com/sillsdev/serval-sub001/lock"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// app holds the state shared by the subcommands of one invocation.
type app struct {
	log    logr.Logger
	viper  *viper.Viper
	closer closeFunc
}

func newRootCommand(logger logr.Logger) *cobra.Command {
	a := &app{
		log:   logger,
		viper: viper.New(),
	}

	cmd := &cobra.Command{
		Use:           "rwlock",
		Short:         "rwlock manages distributed reader/writer locks shared through a database",
		SilenceErrors: true,
		SilenceUsage:  true,
		Example: `
  # Run a command while holding the write lock of "build"
  rwlock --store sqlite --dsn /var/lib/rwlock.db exec --write build -- make release

  # Show who holds or waits for a lock
  RWLOCK_STORE=postgres RWLOCK_DSN=postgres://localhost/locks rwlock status build

  # Serve lock state and metrics
  rwlock --store redis --dsn redis://localhost:6379/0 serve --listen :8080
`,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.loadConfigFile(); err != nil {
				return err
			}
			stdr.SetVerbosity(a.viper.GetInt("verbosity"))
			cmd.SetContext(logr.NewContext(cmd.Context(), a.log))
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.String("config", "", "config file with flag values (yaml, json or toml)")
	flags.String("store", "sqlite", "lock store backend: memory, sqlite, postgres or redis")
	flags.String("dsn", "rwlock.db", "sqlite file, postgres connection string or redis url")
	flags.String("host-id", "", "id recorded in lock entries of this host, random when empty")
	flags.String("lock-config", "", "yaml file with lock settings")
	flags.IntP("verbosity", "v", 0, "log verbosity")

	a.viper.SetEnvPrefix("RWLOCK")
	a.viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.viper.AutomaticEnv()
	a.bind(flags)

	cmd.AddCommand(
		a.newStatusCommand(),
		a.newExecCommand(),
		a.newReleaseHostCommand(),
		a.newDeleteCommand(),
		a.newServeCommand(),
	)
	return cmd
}

func (a *app) loadConfigFile() error {
	path := a.viper.GetString("config")
	if path == "" {
		return nil
	}
	a.viper.SetConfigFile(path)
	if err := a.viper.ReadInConfig(); err != nil {
		return fmt.Errorf("read config file %q: %w", path, err)
	}
	return nil
}

func (a *app) bind(flags *pflag.FlagSet) {
	if err := a.viper.BindPFlags(flags); err != nil {
		panic(err)
	}
}

// factory opens the configured store and builds a lock factory on it.
// Callers release both with close.
func (a *app) factory(ctx context.Context, options ...lock.Option) (*lock.Factory, error) {
	var config []lock.Option
	if path := a.viper.GetString("lock-config"); path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open lock config: %w", err)
		}
		c, err := lock.LoadConfig(f)
		_ = f.Close()
		if err != nil {
			return nil, err
		}
		config = append(config, lock.WithConfig(c))
	}
	config = append(config, lock.WithHostID(a.viper.GetString("host-id")))
	config = append(config, options...)

	store, closer, err := openStore(ctx, a.viper.GetString("store"), a.viper.GetString("dsn"))
	if err != nil {
		return nil, err
	}
	factory := lock.NewFactory(store, config...)
	a.closer = func(ctx context.Context) error {
		factory.Close()
		return closer(ctx)
	}

	a.log.V(1).Info("opened lock store",
		"store", a.viper.GetString("store"),
		"host", factory.Config().HostID)
	return factory, nil
}

func (a *app) close(ctx context.Context) {
	if a.closer == nil {
		return
	}
	if err := a.closer(context.WithoutCancel(ctx)); err != nil {
		a.log.Error(err, "failed to close lock store")
	}
	a.closer = nil
}
