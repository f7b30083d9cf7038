package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const version = "1.0.0"

// Коды выхода процесса
const (
	exitOK          = 0
	exitGateFailed  = 1
	exitConfigError = 2
)

// errGateFailed - запуск завершился, но пороги гейтинга не выполнены
var errGateFailed = errors.New("gating thresholds failed")

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "turbulence",
		Short:         "Workflow simulation and load-testing framework",
		Long:          "Turbulence drives real services under concurrent scripted user scenarios, injects faults and records structured observations for offline analysis and CI gating.",
		SilenceUsage:  true, // не выводить usage на ошибках выполнения
		SilenceErrors: true, // печать ошибок централизована в main()
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the turbulence version",
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "turbulence %s\n", version)
		},
	})

	cmd.AddCommand(newRunCommand())

	return cmd
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		if errors.Is(err, errGateFailed) {
			os.Exit(exitGateFailed)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitConfigError)
	}
	os.Exit(exitOK)
}
