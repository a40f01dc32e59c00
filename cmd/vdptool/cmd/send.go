package cmd

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/omniscan/govdp"
)

func init() {
	rootCmd.AddCommand(sendCmd)
}

var sendCmd = &cobra.Command{
	Use:   "send <ecu> <command> [data...]",
	Short: "send one frame and wait for the answer",
	Long:  `Builds a frame from hex arguments, sends it through the configured adapter and prints the response. Example: vdptool -a mock send 0x01 0x10 0x21`,
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ecuID, err := parseByte(args[0])
		if err != nil {
			return fmt.Errorf("bad ecu id %q: %w", args[0], err)
		}
		command, err := parseByte(args[1])
		if err != nil {
			return fmt.Errorf("bad command %q: %w", args[1], err)
		}
		data := make([]byte, 0, len(args)-2)
		for _, arg := range args[2:] {
			b, err := parseByte(arg)
			if err != nil {
				return fmt.Errorf("bad data byte %q: %w", arg, err)
			}
			data = append(data, b)
		}

		adapter, err := newAdapter(cmd)
		if err != nil {
			return err
		}
		timeout, err := cmd.Flags().GetDuration(flagTimeout)
		if err != nil {
			return err
		}
		if timeout == 0 {
			timeout = time.Second
		}

		engine, err := govdp.NewEngine(adapter, govdp.OptDefaultTimeout(timeout))
		if err != nil {
			return err
		}
		defer engine.Close()

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error { return engine.Run(ctx) })

		frame := govdp.NewFrame(ecuID, govdp.Command(command), data)
		log.Println(frame.ColorString())

		res, err := engine.SendAndWait(ctx, frame, timeout)
		if err != nil {
			return err
		}
		switch res.Status {
		case govdp.Success:
			log.Println(res.Frame.ColorString())
		case govdp.Nack:
			log.Printf("NAK: %s", res.Reason)
		case govdp.Timeout:
			log.Printf("no answer: %s", res.Reason)
		}

		cancel()
		g.Wait()
		return nil
	},
}

func parseByte(s string) (uint8, error) {
	s = strings.TrimPrefix(strings.ToLower(s), "0x")
	v, err := strconv.ParseUint(s, 16, 8)
	if err != nil {
		return 0, err
	}
	return uint8(v), nil
}
