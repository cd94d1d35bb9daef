package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/riverwatch/internal/alarm"
	"github.com/bryanchriswhite/riverwatch/internal/capture"
	"github.com/bryanchriswhite/riverwatch/internal/detector"
)

var scenesCmd = &cobra.Command{
	Use:   "scenes",
	Short: "List scene types and compiled-in backends",
	Long: `List every scene type with its wire code and whether this binary carries
a detector for it, followed by the available decoder backends.`,
	RunE: runScenes,
}

func init() {
	rootCmd.AddCommand(scenesCmd)
}

func runScenes(cmd *cobra.Command, args []string) error {
	available := make(map[alarm.SceneType]bool)
	for _, t := range detector.Registered() {
		available[t] = true
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CODE\tSCENE\tDETECTOR")
	fmt.Fprintln(w, "----\t-----\t--------")
	for _, t := range alarm.SceneTypes() {
		mark := "-"
		if available[t] {
			mark = "yes"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\n", int(t), t, mark)
	}
	w.Flush()

	fmt.Println()
	for _, b := range capture.Backends() {
		fmt.Printf("backend: %s\n", b)
	}
	return nil
}
