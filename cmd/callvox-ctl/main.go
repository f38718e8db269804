package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	cli "github.com/spf13/pflag"

	"callvox/internal/call"
	"callvox/internal/config"
	"callvox/internal/ipc"
	"callvox/pkg/audioconv"
	"callvox/pkg/protocol"
)

const usage = `usage: callvox-ctl [flags] <command>

commands:
  sessions                  list live calls
  cancel-transfer <call>    withdraw a pending representative transfer
  dial                      play the phone side of a call against the daemon;
                            type digits and press enter, "hangup" to stop
`

func main() {
	socket := cli.StringP("socket", "s", config.DefaultSocket, "Control socket path")
	url := cli.StringP("url", "u", "ws://localhost:8080/media", "Media stream url (dial)")
	caller := cli.String("caller", "", "Caller number (dial)")
	timeout := cli.Duration("timeout", 10*time.Second, "Command timeout")
	cli.Usage = func() { fmt.Fprint(os.Stderr, usage); cli.PrintDefaults() }
	cli.Parse()

	args := cli.Args()
	if len(args) == 0 {
		cli.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var err error
	switch args[0] {
	case ipc.CmdSessions:
		err = sessions(ctx, *socket, *timeout)
	case ipc.CmdCancelTransfer:
		if len(args) != 2 {
			cli.Usage()
			os.Exit(2)
		}
		err = cancelTransfer(ctx, *socket, args[1], *timeout)
	case "dial":
		err = dial(ctx, *url, *caller)
	default:
		cli.Usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Println("callvox-ctl:", err)
		os.Exit(1)
	}
}

func sessions(ctx context.Context, socket string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	reply, err := ipc.SendCommand(ctx, socket, ipc.ControlMessage{Cmd: ipc.CmdSessions})
	if err != nil {
		return fmt.Errorf("callvox not running: %w", err)
	}
	var infos []call.Info
	if err := json.Unmarshal(reply.Data, &infos); err != nil {
		return fmt.Errorf("decode reply: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CALL\tCALLER\tPHASE\tLISTENING\tTRANSFER\tAGE")
	for _, i := range infos {
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%t\t%s\n",
			i.CallID, i.Caller, i.Phase, i.Listening, i.PendingTransfer, time.Since(i.Started).Round(time.Second))
	}
	return w.Flush()
}

func cancelTransfer(ctx context.Context, socket, callID string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if _, err := ipc.SendCommand(ctx, socket, ipc.ControlMessage{Cmd: ipc.CmdCancelTransfer, CallID: callID}); err != nil {
		return err
	}
	fmt.Println("transfer cancelled:", callID)
	return nil
}

func dial(ctx context.Context, url, caller string) error {
	conn, err := protocol.Dial(ctx, url)
	if err != nil {
		return err
	}
	defer conn.Close()

	streamID := "MZ" + uuid.NewString()
	callID := "CA" + uuid.NewString()
	msg, err := protocol.EncodeStart(protocol.Start{StreamID: streamID, CallID: callID, Caller: caller})
	if err != nil {
		return err
	}
	if err := conn.Write(msg); err != nil {
		return err
	}
	fmt.Println("call", callID, "started")

	go func() {
		var frames int
		for {
			in := conn.Read()
			switch in.Kind {
			case protocol.CONN_CLOSE:
				fmt.Printf("stream closed after %d frames (%s of audio)\n", frames, audioconv.Duration(frames*audioconv.FrameSize))
				os.Exit(0)
			case protocol.READ_OK:
				if _, ok := in.Event.(protocol.Media); ok {
					frames++
				}
			}
		}
	}()

	// A silent line, the way a phone sends audio while nobody speaks.
	go func() {
		silence := bytes.Repeat([]byte{0xFF}, audioconv.FrameSize)
		t := time.NewTicker(audioconv.FrameDuration)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				msg, _ := protocol.EncodeInbound(streamID, silence)
				if conn.Write(msg) != nil {
					return
				}
			}
		}
	}()

	lines := bufio.NewScanner(os.Stdin)
	for lines.Scan() {
		line := strings.TrimSpace(lines.Text())
		if line == "hangup" {
			break
		}
		for i := 0; i < len(line); i++ {
			msg, err := protocol.EncodeDTMF(streamID, line[i])
			if err != nil {
				return err
			}
			if err := conn.Write(msg); err != nil {
				return err
			}
		}
	}

	msg, err = protocol.EncodeStop(streamID, callID)
	if err != nil {
		return err
	}
	return conn.Write(msg)
}
