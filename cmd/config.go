package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xrsl/skipper/pkg/config"
	"github.com/xrsl/skipper/pkg/style"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or change skipper configuration",
	Long: `Configuration comes from .skipper.yaml, SKIPPER_* variables and the
runner environment (GITHUB_SHA, GITHUB_REF, ...).

  skipper config list
  skipper config get <key>
  skipper config set <key> <value>`,
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		all, err := config.All()
		if err != nil {
			return err
		}
		for _, key := range config.Keys() {
			fmt.Printf("%s = %s\n", style.C(style.Cyan, key), all[key])
		}
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print one configuration value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		value, err := config.Get(args[0])
		if err != nil {
			return err
		}
		fmt.Println(value)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Write a value to " + config.Path(),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Set(args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("%s%s = %s\n", style.Success("Set"), args[0], args[1])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
	rootCmd.AddCommand(configCmd)
}
