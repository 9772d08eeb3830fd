package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"CondoParkPlatform/pkg/config"
	"CondoParkPlatform/pkg/logger"
	"CondoParkPlatform/services/booking-service/internal/app"
)

const serviceName = "tenantctl"

// Opener открывает зависимости по конфигурации. В тестах подменяется.
type Opener func(ctx context.Context, cfg *config.Config, log logger.Logger) (*app.Backend, error)

// DefaultOpener подключается к зависимостям, указанным в конфигурации
func DefaultOpener(ctx context.Context, cfg *config.Config, log logger.Logger) (*app.Backend, error) {
	return app.Open(ctx, cfg, log, nil)
}

// runtime состояние, общее для подкоманд одного запуска
type runtime struct {
	v      *viper.Viper
	open   Opener
	cfg    *config.Config
	logger logger.Logger
}

// NewRootCommand создает корневую команду оператора
func NewRootCommand(open Opener) *cobra.Command {
	rt := &runtime{v: viper.New(), open: open}

	root := &cobra.Command{
		Use:   serviceName,
		Short: "tenantctl - операторские команды CondoPark",
		Long: `tenantctl - инструмент оператора CondoPark.

Создает сообщества, выполняет ротацию секретного кода сообщества
и применяет миграции схемы базы данных.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return rt.init(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if rt.logger != nil {
				_ = rt.logger.Sync()
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringP("config", "c", "", "config file (yaml or json)")
	flags.StringP("output", "o", "text", "output format (text, json, yaml)")
	flags.BoolP("verbose", "v", false, "verbose output")

	_ = rt.v.BindPFlag("config", flags.Lookup("config"))
	_ = rt.v.BindPFlag("output", flags.Lookup("output"))
	_ = rt.v.BindPFlag("verbose", flags.Lookup("verbose"))
	rt.v.SetEnvPrefix("CONDOPARK")
	rt.v.AutomaticEnv()

	root.AddCommand(newRotateCommand(rt))
	root.AddCommand(newMigrateCommand(rt))
	root.AddCommand(newTenantCommand(rt))
	return root
}

// init загружает конфигурацию и создает логгер. Логи пишутся в stderr,
// чтобы stdout оставался пригодным для разбора.
func (rt *runtime) init(cmd *cobra.Command) error {
	cfg, err := config.LoadConfig(rt.v.GetString("config"))
	if err != nil {
		return err
	}
	rt.cfg = cfg

	level := cfg.Logger.Level
	if rt.v.GetBool("verbose") {
		level = "debug"
	}
	log, err := logger.NewLoggerWithWriter(cfg.Environment, level, serviceName, cmd.ErrOrStderr())
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	rt.logger = log
	return nil
}

// operator имя оператора для аудита: флаг, затем CONDOPARK_OPERATOR, затем USER
func (rt *runtime) operator(flag string) string {
	if flag != "" {
		return flag
	}
	if op := rt.v.GetString("operator"); op != "" {
		return op
	}
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	return "unknown"
}
