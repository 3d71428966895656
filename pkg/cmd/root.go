package cmd

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/stleox/seetrace/pkg/cmd/probe"
	"github.com/stleox/seetrace/pkg/config"
)

func init() {
	// debug flag
	pflag.BoolVar(&config.Debug, "debug", false, "Enable debug mode")
}

func New(vp *viper.Viper) *cobra.Command {
	root := &cobra.Command{
		Use:   "seetrace",
		Short: "seetrace",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			config.ApplyLogLevel()
			if config.Debug {
				logrus.Info("enabled debug mode")
			}
			return nil
		},
	}
	root.PersistentFlags().AddFlagSet(pflag.CommandLine)
	return root
}

func Execute() {
	vp := config.NewViper()

	root := New(vp)
	root.AddCommand(probe.New(vp))

	err := root.Execute()
	if err != nil {
		os.Exit(1)
	}
}
