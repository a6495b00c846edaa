// Command sketchlink runs the two ends of the sketch channel.
//
//	sketchlink display            relay tasks to the generation backend
//	sketchlink send sketch.png    send a task and wait for its result
//
// Both ends meet over NATS when nats.url is set. Without it everything
// stays in process, which is only useful for trying the CLI out.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	envFile    string
)

var rootCmd = &cobra.Command{
	Use:           "sketchlink",
	Short:         "Cross-context sketch to image channel",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default: sketchlink.toml or ~/.config/sketchlink/config.toml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before SKETCHLINK_* overrides")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
