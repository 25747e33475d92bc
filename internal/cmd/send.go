package cmd

import (
	"errors"
	"net"
	"net/netip"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"github.com/squadracorsepolito/seda/can"
	"github.com/squadracorsepolito/seda/cannelloni"
	"github.com/squadracorsepolito/seda/internal"
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send synthetic cannelloni frames to a running pipeline",
	RunE:  runSend,
}

func init() {
	sendCmd.Flags().String("address", "127.0.0.1:20000", "address of the pipeline")
	sendCmd.Flags().Int("frames", 10_000, "number of frames to send")
	sendCmd.Flags().Int("messages", 10, "CAN messages per frame")
	sendCmd.Flags().Duration("interval", 0, "pause between two frames")
}

func runSend(cmd *cobra.Command, _ []string) error {
	ctx, cancelCtx := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer cancelCtx()

	address, _ := cmd.Flags().GetString("address")
	frames, _ := cmd.Flags().GetInt("frames")
	msgCount, _ := cmd.Flags().GetInt("messages")
	interval, _ := cmd.Flags().GetDuration("interval")

	addrPort, err := netip.ParseAddrPort(address)
	if err != nil {
		return err
	}

	conn, err := net.DialUDP("udp", nil, net.UDPAddrFromAddrPort(addrPort))
	if err != nil {
		return err
	}
	defer conn.Close()

	f, err := newSyntheticFrame(msgCount)
	if err != nil {
		return err
	}

	l := internal.NewLogger("cmd", "send")
	l.Info("sending frames", "address", address, "frames", frames, "messages", msgCount)

	start := time.Now()
	sent := 0
	for ; sent < frames && ctx.Err() == nil; sent++ {
		if _, err := conn.Write(f.Encode()); err != nil {
			return err
		}

		f.SequenceNumber++

		if interval > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(interval):
			}
		}
	}

	l.Info("frames sent", "sent", sent, "elapsed", time.Since(start))

	return nil
}

// newSyntheticFrame returns a frame carrying the first msgCount
// synthetic messages, so that the pipeline can decode them.
func newSyntheticFrame(msgCount int) (*cannelloni.Frame, error) {
	messages, err := can.SyntheticMessages(msgCount)
	if err != nil {
		return nil, err
	}

	f := cannelloni.NewFrame(0, 0)
	for idx, msg := range messages {
		data := make([]byte, 8)
		for i := range data {
			data[i] = byte(idx + i)
		}

		f.AddMessage(cannelloni.NewFrameMessage(uint32(msg.GetCANID()), data))
	}

	if len(f.Messages) == 0 {
		return nil, errors.New("no messages in frame")
	}

	return f, nil
}
