package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/omniscan/govdp"
)

func init() {
	rootCmd.AddCommand(adaptersCmd)
}

var adaptersCmd = &cobra.Command{
	Use:   "adapters",
	Short: "list available adapters",
	Run: func(cmd *cobra.Command, args []string) {
		for _, a := range govdp.ListAdapters() {
			fmt.Println(a.String())
		}
	},
}
