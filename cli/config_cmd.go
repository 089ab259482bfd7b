package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ldv-klever/klever-scheduler/config"
)

type configCmd struct {
	raw bool
}

func (c *configCmd) registerFlags() *cobra.Command {
	r := &cobra.Command{
		Use:   "config",
		Short: "print the resolved configuration",
		Args:  cobra.NoArgs,
	}
	r.Flags().BoolVar(&c.raw, "raw", false, "print the named configuration text instead of the resolved one")
	return r
}

func (c *configCmd) run(cl *CLI, cmd *cobra.Command, args []string) error {
	if c.raw {
		text, err := config.GetConfigText(cl.configSelector)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(text))
		return nil
	}
	cfg, err := config.LoadConfig(cl.configSelector, cl.configPath)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), cfg.String())
	return nil
}
