// Package probe sends one synthetic trace through the full pipeline, which is
// the quickest way to verify an endpoint and API key are wired correctly.
package probe

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stleox/seetrace/pkg/client"
	"github.com/stleox/seetrace/pkg/config"
	"github.com/stleox/seetrace/pkg/traceable"
)

func New(vp *viper.Viper) *cobra.Command {
	probe := &cobra.Command{
		Use:   "probe",
		Short: "Send one synthetic trace to the configured endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load(vp)
			c := client.New(cfg)
			defer c.Close()

			var failure error
			c.OnDeliveryError(func(err error) {
				logrus.WithError(err).Error("SeeTrace couldn't deliver the probe trace")
				failure = err
			})

			upper := traceable.Trace(traceable.Config{
				Name:    "probe-upper",
				RunType: "tool",
			}, func(ctx context.Context, s string) (string, error) {
				return strings.ToUpper(s), nil
			})

			run := traceable.Trace(traceable.Config{
				Name:    "probe",
				RunType: "chain",
				Tags:    []string{"probe"},
				Project: cfg.Project,
				Client:  c,
			}, func(ctx context.Context, s string) (string, error) {
				return upper(ctx, s)
			})

			out, err := run(cmd.Context(), fmt.Sprintf("probe at %s", time.Now().Format(time.RFC3339)))
			if err != nil {
				return err
			}
			logrus.WithField("output", out).Info("SeeTrace recorded the probe trace")

			c.Close()
			return failure
		},
	}
	return probe
}
