package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Me-Phew/simple485-remastered/simple485"
)

// masterFlags are shared by every subcommand that runs as the bus master.
type masterFlags struct {
	profile string
	device  string
	bitRate int
}

func (f *masterFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.profile, "profile", "p", "", "YAML bus profile file")
	cmd.Flags().StringVarP(&f.device, "device", "d", "", "serial device path (overrides profile)")
	cmd.Flags().IntVarP(&f.bitRate, "bit-rate", "b", 0, "serial bit rate (overrides profile)")
}

func (f *masterFlags) load() (*Profile, error) {
	profile, err := loadProfile(f.profile)
	if err != nil {
		return nil, err
	}

	if f.device != "" {
		profile.Device = f.device
	}
	if f.bitRate > 0 {
		profile.BitRate = f.bitRate
	}

	return profile, nil
}

// newThreadedMaster builds and starts a running ThreadedMaster from flags.
// The returned stop function shuts it down.
func (f *masterFlags) newThreadedMaster(opts ...simple485.ThreadedMasterOption) (*simple485.ThreadedMaster, func(), error) {
	profile, err := f.load()
	if err != nil {
		return nil, nil, err
	}

	cfg, err := profile.busConfig()
	if err != nil {
		return nil, nil, err
	}

	opts = append(opts, simple485.WithMasterOptions(profile.masterOptions()...))

	tm, err := simple485.NewThreadedMaster(cfg, opts...)
	if err != nil {
		return nil, nil, err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- tm.Run() }()

	// Give Run a moment to open the port; a failed open surfaces here
	// instead of as a confusing ErrNotRunning from the first call.
	select {
	case err := <-errCh:
		return nil, nil, err
	case <-time.After(100 * time.Millisecond):
	}

	return tm, tm.Stop, nil
}

func newRequestCmd() *cobra.Command {
	flags := &masterFlags{}
	var (
		address byte
		message string
		repeat  int
	)

	cmd := &cobra.Command{
		Use:   "request",
		Short: "Send a request to a slave and print the response",
		RunE: func(cmd *cobra.Command, args []string) error {
			tm, stop, err := flags.newThreadedMaster()
			if err != nil {
				return err
			}
			defer stop()

			for i := 0; i < repeat; i++ {
				resp, err := tm.Call(address, []byte(message))
				if err != nil {
					return err
				}

				fmt.Printf("reply from %d: %q (rtt=%v retries=%d)\n",
					address, resp.Payload, resp.RTT, resp.RetryCount)
			}

			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().Uint8VarP(&address, "address", "a", 0, "slave address to query")
	cmd.Flags().StringVarP(&message, "message", "m", "ping", "request payload")
	cmd.Flags().IntVarP(&repeat, "repeat", "n", 1, "number of requests to send")
	_ = cmd.MarkFlagRequired("address")

	return cmd
}

func newScanCmd() *cobra.Command {
	flags := &masterFlags{}
	var (
		from byte
		to   byte
	)

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Sweep an address range and report responding slaves",
		RunE: func(cmd *cobra.Command, args []string) error {
			if from > to {
				return fmt.Errorf("invalid range: %d > %d", from, to)
			}

			// Scanning expects most addresses to be silent; a single
			// short attempt per address keeps the sweep fast.
			tm, stop, err := flags.newThreadedMaster(simple485.WithFailureAsResponse())
			if err != nil {
				return err
			}
			defer stop()

			found := 0
			for addr := from; ; addr++ {
				resp, err := tm.Call(addr, []byte("ping"),
					simple485.RequestTimeout(200*time.Millisecond),
					simple485.RequestMaxRetries(0))
				if err != nil {
					return err
				}

				if resp.Success {
					found++
					fmt.Printf("%3d: alive (rtt=%v)\n", addr, resp.RTT)
				}

				if addr == to {
					break
				}
			}

			fmt.Printf("scanned %d addresses, %d alive\n", int(to)-int(from)+1, found)

			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().Uint8Var(&from, "from", simple485.FirstSlaveAddress, "first address to scan")
	cmd.Flags().Uint8Var(&to, "to", simple485.LastSlaveAddress, "last address to scan")

	return cmd
}
