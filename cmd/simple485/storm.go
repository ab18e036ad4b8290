package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Me-Phew/simple485-remastered/simple485"
)

func newStormCmd() *cobra.Command {
	flags := &masterFlags{}
	var (
		address byte
		count   int
		size    int
	)

	cmd := &cobra.Command{
		Use:   "storm",
		Short: "Flood a slave with requests and report timing statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			if size < 1 || size > simple485.MaxPayloadLen {
				return fmt.Errorf("payload size %d out of range [1, %d]", size, simple485.MaxPayloadLen)
			}

			tm, stop, err := flags.newThreadedMaster()
			if err != nil {
				return err
			}
			defer stop()

			payload := make([]byte, size)
			for i := range payload {
				payload[i] = byte(i)
			}

			var (
				ok       int
				failed   int
				retries  int
				totalRTT time.Duration
				minRTT   time.Duration
				maxRTT   time.Duration
			)

			start := time.Now()
			for i := 0; i < count; i++ {
				resp, err := tm.Call(address, payload)
				if err != nil {
					var reqErr *simple485.RequestError
					if !errors.As(err, &reqErr) {
						return err
					}

					failed++
					retries += reqErr.Response.RetryCount

					continue
				}

				ok++
				retries += resp.RetryCount
				totalRTT += resp.RTT
				if minRTT == 0 || resp.RTT < minRTT {
					minRTT = resp.RTT
				}
				if resp.RTT > maxRTT {
					maxRTT = resp.RTT
				}
			}
			elapsed := time.Since(start)

			fmt.Printf("sent %d requests to %d in %v\n", count, address, elapsed.Round(time.Millisecond))
			fmt.Printf("  ok=%d failed=%d retries=%d\n", ok, failed, retries)
			if ok > 0 {
				fmt.Printf("  rtt min=%v avg=%v max=%v\n",
					minRTT, totalRTT/time.Duration(ok), maxRTT)
			}

			metrics := tm.Metrics()
			fmt.Printf("  bus: sent=%d recv=%d dropped=%d sendErrs=%d\n",
				metrics.MsgSendCount.Load(), metrics.MsgRecvCount.Load(),
				metrics.FrameDropCount.Load(), metrics.SendErrCount.Load())

			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().Uint8VarP(&address, "address", "a", 0, "slave address to flood")
	cmd.Flags().IntVarP(&count, "count", "n", 100, "number of requests")
	cmd.Flags().IntVarP(&size, "size", "s", 32, "request payload size in bytes")
	_ = cmd.MarkFlagRequired("address")

	return cmd
}
