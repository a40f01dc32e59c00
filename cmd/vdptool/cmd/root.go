package cmd

import (
	"context"
	"log"

	"github.com/spf13/cobra"

	"github.com/omniscan/govdp"
)

var rootCmd = &cobra.Command{
	Use:          "vdptool",
	Short:        "VDP swiss army tool",
	Long:         `Talk to ECUs over the Vehicle Diagnostic Protocol: replay frame dumps, fire single requests and monitor the bus.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute(ctx context.Context) {
	rootCmd.ExecuteContext(ctx)
}

const (
	flagPort     = "port"
	flagBaudrate = "baudrate"
	flagDebug    = "debug"
	flagAdapter  = "adapter"
	flagAddress  = "address"
	flagTimeout  = "timeout"
)

func init() {
	log.SetFlags(log.Lshortfile | log.LstdFlags)

	pf := rootCmd.PersistentFlags()
	pf.StringP(flagPort, "p", "*", "com-port, * = print available")
	pf.IntP(flagBaudrate, "b", 115200, "baudrate")
	pf.BoolP(flagDebug, "d", false, "debug mode")
	pf.StringP(flagAdapter, "a", "mock", "what adapter to use")
	pf.String(flagAddress, "", "host:port for the tcp adapter")
	pf.DurationP(flagTimeout, "t", 0, "request timeout (0 = engine default)")
}

func adapterConfig(cmd *cobra.Command) (*govdp.AdapterConfig, error) {
	port, err := cmd.Flags().GetString(flagPort)
	if err != nil {
		return nil, err
	}
	baudrate, err := cmd.Flags().GetInt(flagBaudrate)
	if err != nil {
		return nil, err
	}
	debug, err := cmd.Flags().GetBool(flagDebug)
	if err != nil {
		return nil, err
	}
	address, err := cmd.Flags().GetString(flagAddress)
	if err != nil {
		return nil, err
	}
	return &govdp.AdapterConfig{
		Debug:        debug,
		Port:         port,
		PortBaudrate: baudrate,
		Address:      address,
		OnMessage: func(msg string) {
			log.Println(msg)
		},
	}, nil
}

func newAdapter(cmd *cobra.Command) (govdp.Adapter, error) {
	cfg, err := adapterConfig(cmd)
	if err != nil {
		return nil, err
	}
	name, err := cmd.Flags().GetString(flagAdapter)
	if err != nil {
		return nil, err
	}
	return govdp.NewAdapter(name, cfg)
}
