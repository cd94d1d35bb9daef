package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/riverwatch/internal/capture"
	"github.com/bryanchriswhite/riverwatch/internal/config"
)

var camerasCmd = &cobra.Command{
	Use:   "cameras",
	Short: "List configured cameras",
	Long: `List every camera in the configuration together with its decoder
backend, alarm sinks and enabled algorithms.

Backends not compiled into this binary are marked as unavailable.`,
	Example: `  # List cameras in table format (default)
  riverwatch cameras

  # List cameras in JSON format
  riverwatch cameras --format json

  # Only cameras that serve will start
  riverwatch cameras --enabled`,
	RunE: runCameras,
}

var (
	camerasFormat  string
	camerasEnabled bool
)

func init() {
	rootCmd.AddCommand(camerasCmd)

	camerasCmd.Flags().StringVarP(&camerasFormat, "format", "f", "table", "output format (table or json)")
	camerasCmd.Flags().BoolVarP(&camerasEnabled, "enabled", "e", false, "show only enabled cameras")
}

func runCameras(cmd *cobra.Command, args []string) error {
	configMgr, err := loadConfig()
	if err != nil {
		return err
	}

	cams := configMgr.Get().Cameras
	if camerasEnabled {
		filtered := make([]config.CameraConfig, 0, len(cams))
		for _, cam := range cams {
			if !cam.Disabled {
				filtered = append(filtered, cam)
			}
		}
		cams = filtered
	}

	switch camerasFormat {
	case "json":
		return outputCamerasJSON(cams)
	case "table":
		return outputCamerasTable(cams)
	default:
		return fmt.Errorf("unsupported format: %s (use 'table' or 'json')", camerasFormat)
	}
}

func outputCamerasJSON(cams []config.CameraConfig) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(cams)
}

func outputCamerasTable(cams []config.CameraConfig) error {
	if len(cams) == 0 {
		fmt.Println("No cameras configured")
		return nil
	}

	available := make(map[string]bool)
	for _, b := range capture.Backends() {
		available[b] = true
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CAMERA\tBACKEND\tSTATE\tSINKS\tALGORITHMS\tINPUT")
	fmt.Fprintln(w, "------\t-------\t-----\t-----\t----------\t-----")

	for _, cam := range cams {
		backend := cam.Backend
		if !available[backend] {
			backend += " (unavailable)"
		}

		state := "enabled"
		if cam.Disabled {
			state = "disabled"
		}

		scenes := make([]string, 0, len(cam.Algorithms))
		for _, a := range cam.Algorithms {
			scenes = append(scenes, a.Type.String())
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			cam.ID,
			backend,
			state,
			strings.Join(cam.Sink.Types, ","),
			strings.Join(scenes, ","),
			cam.InputURL,
		)
	}

	w.Flush()
	fmt.Printf("\nTotal: %d camera(s)\n", len(cams))
	return nil
}
