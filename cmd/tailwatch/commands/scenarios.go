package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/moolen/tailwatch/internal/config"
	"github.com/moolen/tailwatch/internal/scenario"
	"github.com/spf13/cobra"
)

var scenariosWrite bool

var scenariosCmd = &cobra.Command{
	Use:   "scenarios",
	Short: "Inspect scenario documents",
}

var scenariosValidateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Parse a scenario document and print it with defaults applied",
	Long: `Validate parses the scenario document (the configured scenario_file when no
argument is given), reports scenarios that were dropped, and prints the
effective document: default thresholds filled in and missing weights
distributed. With --write the file is replaced by the effective document.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		HandleError(err, "Configuration error")

		path := cfg.ScenarioFile
		if len(args) == 1 {
			path = args[0]
		}
		HandleError(validateScenarios(os.Stdout, path, cfg.ScenarioDefaults(), scenariosWrite), "Scenario error")
	},
}

func init() {
	scenariosValidateCmd.Flags().BoolVarP(&scenariosWrite, "write", "w", false, "Rewrite the file with the effective document")
	scenariosCmd.AddCommand(scenariosValidateCmd)
}

func validateScenarios(out io.Writer, path string, defaults config.ScenarioDefaults, write bool) error {
	scenarios, err := config.LoadScenariosFile(path, defaults)
	if err != nil {
		return err
	}
	if write {
		if err := config.WriteScenariosFile(path, scenarios); err != nil {
			return err
		}
	}

	data, err := config.MarshalScenarios(scenarios)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "# %d scenarios, metrics %v\n", len(scenarios), scenario.RequiredMetrics(scenarios))
	_, err = out.Write(data)
	return err
}
