package main

import (
	"errors"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"craftgate/internal/app"
	"craftgate/internal/config"
)

func serveCmd() *cobra.Command {
	var (
		configPath string
		envFile    string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the proxy",
		Long: `Run the proxy with the given config file.

Without --config the path comes from $` + config.EnvConfigPath + `, then
craftgate.toml > craftgate.yaml > craftgate.yml in the working directory,
then the user config directory. A commented template is written when the
file does not exist yet.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadEnvFile(envFile); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return app.Run(ctx, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "config file or directory (.toml/.yaml/.yml)")
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the config; missing is fine")

	return cmd
}

// loadEnvFile loads KEY=VALUE pairs into the environment without overriding
// variables that are already set.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

