package cmd

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/omniscan/govdp"
)

func init() {
	rootCmd.AddCommand(playCmd)
}

var playCmd = &cobra.Command{
	Use:   "play <file.hex>",
	Short: "replay a hex frame dump through the parser",
	Long:  `Reads a hex dump line by line, feeds each line to the streaming parser as one chunk and prints every outcome. Lines may carry '#' comments.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open file: %w", err)
		}
		defer f.Close()

		chunks, err := govdp.ReadHexDump(f)
		if err != nil {
			return err
		}

		parser := govdp.NewParser()
		for _, chunk := range chunks {
			parser.Feed(chunk)
			for _, r := range parser.Extract() {
				printResult(r)
			}
		}
		return nil
	},
}

func printResult(r govdp.Result) {
	switch r.Status {
	case govdp.Success:
		color.Green("valid frame: % X", r.Raw)
		fmt.Println(r.Frame.ColorString())
	case govdp.Invalid:
		color.Red("%s: %s (% X)", r.Kind, r.Reason, r.Raw)
	case govdp.Incomplete:
		color.Yellow("incomplete frame, %d bytes missing", r.Missing)
	}
	fmt.Println()
}
