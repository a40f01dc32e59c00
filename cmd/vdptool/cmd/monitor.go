package cmd

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/omniscan/govdp"
)

func init() {
	rootCmd.AddCommand(monitorCmd)
}

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "print every frame seen on the bus",
	RunE: func(cmd *cobra.Command, args []string) error {
		adapter, err := newAdapter(cmd)
		if err != nil {
			return err
		}
		engine, err := govdp.NewEngine(adapter,
			govdp.OptOnIncoming(func(f *govdp.Frame) {
				fmt.Println(f.ColorString())
			}),
			govdp.OptUnsolicited(func(f *govdp.Frame) {
				log.Printf("unsolicited: %s", f.String())
			}),
		)
		if err != nil {
			return err
		}
		defer engine.Close()

		log.Printf("monitoring on %s, ctrl-c to stop", adapter.Name())
		if err := engine.Run(cmd.Context()); err != nil && cmd.Context().Err() == nil {
			return err
		}
		return nil
	},
}
