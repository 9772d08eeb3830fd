package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"CondoParkPlatform/services/booking-service/internal/app"
)

func newMigrateCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Применить миграции схемы базы данных",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if rt.cfg.Booking.Store != app.StorePostgres {
				return fmt.Errorf("migrate requires booking.store=%s, got %q", app.StorePostgres, rt.cfg.Booking.Store)
			}

			b, err := rt.open(cmd.Context(), rt.cfg, rt.logger)
			if err != nil {
				return err
			}
			defer b.Close()

			if err := b.Migrate(cmd.Context()); err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return err
		},
	}
}
