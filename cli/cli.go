// Package cli is the command line interface of the scheduler binary.
package cli

import (
	"github.com/spf13/cobra"

	klog "github.com/ldv-klever/klever-scheduler/common/log"
)

type CLI struct {
	rootCmd *cobra.Command

	logLevel       string
	configSelector string
	configPath     string
}

func (c *CLI) Exec() error {
	return c.rootCmd.Execute()
}

func NewCLI() *CLI {
	c := &CLI{}
	c.rootCmd = &cobra.Command{
		Use:           "klever-scheduler",
		Short:         "klever-scheduler runs the verification tasks of a Klever job on a worker pool",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return klog.Configure(c.logLevel)
		},
	}
	flags := c.rootCmd.PersistentFlags()
	flags.StringVar(&c.logLevel, "log_level", "info", "Log everything at this level and above (error|info|debug)")
	flags.StringVar(&c.configSelector, "config", "default", "Named built-in configuration to start from")
	flags.StringVar(&c.configPath, "config_file", "", "JSON or YAML file overriding the named configuration")

	c.addCmd(&runCmd{})
	c.addCmd(&configCmd{})
	return c
}

func (c *CLI) addCmd(cmd command) {
	cobraCmd := cmd.registerFlags()
	cobraCmd.RunE = func(innerCmd *cobra.Command, args []string) error {
		return cmd.run(c, innerCmd, args)
	}
	c.rootCmd.AddCommand(cobraCmd)
}

type command interface {
	registerFlags() *cobra.Command
	run(c *CLI, cmd *cobra.Command, args []string) error
}
