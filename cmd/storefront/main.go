package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vladislavdragonenkov/storefront/internal/app"
	"github.com/vladislavdragonenkov/storefront/internal/version"
)

// runApp подменяется в тестах.
var runApp = app.Run

// setupLogger настраивает формат и уровень логирования для сервиса.
func setupLogger(v *viper.Viper) {
	if v.GetString(keyLogFormat) == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	level, err := log.ParseLevel(v.GetString(keyLogLevel))
	if err != nil {
		log.WithError(err).Warn("unknown log level, using info")
		level = log.InfoLevel
	}
	log.SetLevel(level)
}

func newRootCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:           "storefront",
		Short:         "Storefront order and payment lifecycle service",
		Version:       version.String(),
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := newViper(configFile)
			if err != nil {
				return err
			}
			setupLogger(v)

			cfg, warnings := readConfig(v)
			for _, warning := range warnings {
				log.Warn(warning)
			}

			log.WithFields(log.Fields{
				"http_addr":    cfg.HTTPAddr,
				"grpc_addr":    cfg.GRPCAddr,
				"metrics_addr": cfg.MetricsAddr,
				"storage":      cfg.StorageDriver,
				"gateway":      cfg.GatewayDriver,
			}).Info("запускаем storefront")

			err = runApp(cmd.Context(), cfg)
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			log.Info("storefront остановлен")
			return nil
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "path to config file (yaml, json, toml or env)")

	return cmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}
}
