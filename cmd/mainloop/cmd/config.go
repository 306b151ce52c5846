package cmd

import (
	"fmt"
)

func init() {
	RegisterCommand(&Command{
		Name:  "config",
		Short: "Print the resolved configuration",
		Long: `Print the configuration after defaults have been applied.

Values come from mainloop.yaml in the project root, or from the file
given with --config. Missing values take their defaults.`,
		Usage: "mainloop config [--config FILE]",
		Run:   runConfig,
	})

	RegisterCommand(&Command{
		Name:  "version",
		Short: "Show version information",
		Long:  "Show the mainloop version and build time.",
		Usage: "mainloop version",
		Run: func(args []string) error {
			printVersion()
			return nil
		},
	})
}

func runConfig(args []string) error {
	if len(args) > 0 {
		return fmt.Errorf("config takes no arguments, got %q", args[0])
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	out, err := cfg.Marshal()
	if err != nil {
		return err
	}
	_, err = stdout.Write(out)
	return err
}
