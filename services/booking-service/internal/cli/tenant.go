package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"CondoParkPlatform/services/booking-service/internal/pkg/tenantcode"
	"CondoParkPlatform/services/booking-service/internal/service"
)

// createdTenant вывод команды tenant create. Код печатается один раз,
// в логах остается только отпечаток.
type createdTenant struct {
	Code   string `json:"code" yaml:"code"`
	Name   string `json:"name" yaml:"name"`
	Status string `json:"status" yaml:"status"`
}

func newTenantCommand(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Управление сообществами",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "create <name>",
		Short: "Создать сообщество с новым секретным кодом",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			b, err := rt.open(ctx, rt.cfg, rt.logger)
			if err != nil {
				return err
			}
			defer b.Close()

			tenants := service.NewTenantService(b.Store.Tenants, tenantcode.NewGenerator(rt.cfg.Booking.TenantCodePrefix), rt.logger)
			tenant, err := tenants.CreateTenant(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}

			out := createdTenant{Code: tenant.Code, Name: tenant.Name, Status: string(tenant.Status)}
			return render(cmd.OutOrStdout(), rt.v.GetString("output"), out, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "Tenant %q created\n  code: %s\n", out.Name, out.Code)
				return err
			})
		},
	})

	return cmd
}
