package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Me-Phew/simple485-remastered/simple485"
)

func newEchoSlaveCmd() *cobra.Command {
	flags := &masterFlags{}
	var address byte

	cmd := &cobra.Command{
		Use:   "echo-slave",
		Short: "Run a slave that echoes every request back to the master",
		RunE: func(cmd *cobra.Command, args []string) error {
			profile, err := flags.load()
			if err != nil {
				return err
			}

			cfg, err := profile.busConfig()
			if err != nil {
				return err
			}

			slave, err := simple485.NewSlave(cfg, address,
				simple485.WithUnicastHandler(func(msg *simple485.ReceivedMessage, _ time.Duration, _ bool) {
					fmt.Printf("request from master: %q\n", msg.Payload())
					if err := msg.Respond(msg.Payload()); err != nil {
						fmt.Fprintf(os.Stderr, "failed to queue reply: %v\n", err)
					}
				}),
				simple485.WithBroadcastHandler(func(msg *simple485.ReceivedMessage, _ time.Duration, _ bool) {
					fmt.Printf("broadcast from master: %q\n", msg.Payload())
				}),
			)
			if err != nil {
				return err
			}

			if err := slave.Open(); err != nil {
				return err
			}
			defer func() { _ = slave.Close() }()

			fmt.Printf("echo slave listening on address %d (ctrl-c to stop)\n", address)

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

			for {
				select {
				case <-sigCh:
					fmt.Println("stopping")
					return nil
				default:
				}

				slave.Poll()
				time.Sleep(100 * time.Microsecond)
			}
		},
	}

	flags.register(cmd)
	cmd.Flags().Uint8VarP(&address, "address", "a", 0, "address to listen on")
	_ = cmd.MarkFlagRequired("address")

	return cmd
}
