package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/GoCodeAlone/unitrt"
	"github.com/GoCodeAlone/unitrt/admin"
	"github.com/GoCodeAlone/unitrt/config"
)

// loaderFlags are the configuration flags shared by run and config.
type loaderFlags struct {
	configDirs []string
	profile    string
}

func (f *loaderFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVarP(&f.configDirs, "config-dir", "c", nil, "directories searched for application.* files (default . and conf)")
	cmd.Flags().StringVarP(&f.profile, "profile", "p", "", "configuration profile, overrides UNITRT_PROFILE and application.profile")
}

func (f *loaderFlags) loader() *config.Loader {
	var opts []config.LoaderOption
	if len(f.configDirs) > 0 {
		opts = append(opts, config.WithSearchDirs(f.configDirs...))
	}
	if f.profile != "" {
		opts = append(opts, config.WithProfile(f.profile))
	}
	return config.NewLoader(opts...)
}

// NewRunCommand creates the run command
func NewRunCommand(catalog *unitrt.Catalog) *cobra.Command {
	flags := &loaderFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Deploy the units and run until stopped",
		Long: `Run loads the configuration, deploys every enabled unit and blocks until
SIGINT or SIGTERM arrives or a unit requests shutdown. The admin server starts
when application.admin.enable is set.

The process exits with status 1 when the configuration cannot be loaded or
a unit fails to deploy.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApplication(cmd.Context(), catalog, flags.loader())
		},
	}
	flags.register(cmd)
	return cmd
}

func runApplication(ctx context.Context, catalog *unitrt.Catalog, loader *config.Loader) error {
	if ctx == nil {
		ctx = context.Background()
	}
	app, err := unitrt.NewApplication(
		unitrt.WithCatalog(catalog),
		unitrt.WithConfigLoader(loader),
	)
	if err != nil {
		return err
	}
	if err := app.Init(); err != nil {
		return err
	}

	if cfg := app.AppConfig().Admin; cfg.Enable {
		srv := admin.NewServer(app, cfg, app.Logger())
		if err := srv.Start(ctx); err != nil {
			return err
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := srv.Stop(stopCtx); err != nil {
				app.Logger().Warn("Failed to stop admin server", "error", err)
			}
		}()
	}
	return app.Run(ctx)
}

// NewConfigCommand creates the config command
func NewConfigCommand() *cobra.Command {
	flags := &loaderFlags{}
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the merged configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			loader := flags.loader()
			tree, err := loader.Load()
			if err != nil {
				return err
			}
			if _, err := config.LoadApplicationConfig(tree); err != nil {
				return err
			}
			for _, f := range loader.Files() {
				cmd.PrintErrln("# " + f)
			}
			out, err := yaml.Marshal(tree.Snapshot())
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
	flags.register(cmd)
	return cmd
}
