package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	one "github.com/frobware/go-one"
	"github.com/frobware/go-one/config"
	"github.com/frobware/go-one/queue"
	"github.com/frobware/go-one/session"
)

// SendCmd dispatches one packet, optionally waiting for a reply.
type SendCmd struct {
	QID     QID           `arg:"" name:"qid" help:"Destination queue."`
	Data    string        `arg:"" optional:"" name:"data" help:"Payload; read from --file or standard input when omitted."`
	File    string        `name:"file" short:"f" type:"existingfile" help:"Read the payload from a file."`
	Reply   []QID         `name:"reply" help:"Receive a reply from these queues in the same device call (repeatable)."`
	Timeout time.Duration `name:"timeout" help:"How long to wait for a reply; 0 waits forever." default:"0s"`
	Strip   bool          `name:"strip" help:"Print the reply payload without its header."`
	Size    int           `name:"size" help:"Reply buffer size in bytes." default:"65536"`
	OutputFlags
}

func (c *SendCmd) payload(in io.Reader) ([]byte, error) {
	switch {
	case c.Data != "" && c.File != "":
		return nil, errors.New("give the payload as an argument or with --file, not both")
	case c.Data != "":
		return []byte(c.Data), nil
	case c.File != "":
		return os.ReadFile(c.File)
	default:
		return io.ReadAll(in)
	}
}

func (c *SendCmd) Run(cli *CLI) error {
	payload, err := c.payload(cli.In)
	if err != nil {
		return fmt.Errorf("read payload: %w", err)
	}
	return cli.withSession(func(s *session.Session, _ config.Config, logger *slog.Logger) error {
		if len(c.Reply) == 0 {
			if err := queue.Dispatch(s, c.QID.Value, payload); err != nil {
				return err
			}
			logger.Debug("dispatched", "qid", c.QID.Value, "size", len(payload))
			return nil
		}

		buf := make([]byte, c.Size)
		n, err := queue.DispatchAndReceive(s, c.QID.Value, payload, qidValues(c.Reply), buf, timeoutMs(c.Timeout), c.Strip)
		if err != nil {
			return err
		}
		_, err = printBatch(cli, &c.OutputFlags, buf[:n], c.Strip)
		return err
	})
}

// RecvCmd receives packets and prints them.
type RecvCmd struct {
	QIDs    []QID         `arg:"" name:"qid" help:"Queues to receive from."`
	Timeout time.Duration `name:"timeout" help:"Per-receive timeout; 0 waits forever." default:"0s"`
	Strip   bool          `name:"strip" help:"Write raw payload bytes without headers. Empty payloads are not counted."`
	Count   int           `name:"count" short:"n" help:"Stop after at least this many packets; 0 never stops." default:"1"`
	Size    int           `name:"size" help:"Receive buffer size in bytes." default:"65536"`
	OutputFlags
}

func (c *RecvCmd) Run(cli *CLI) error {
	if c.Size < one.HeaderSize {
		return fmt.Errorf("--size must be at least %d", one.HeaderSize)
	}
	return cli.withSession(func(s *session.Session, _ config.Config, logger *slog.Logger) error {
		qids := qidValues(c.QIDs)
		buf := make([]byte, c.Size)
		for seen := 0; c.Count == 0 || seen < c.Count; {
			n, err := queue.Receive(s, qids, buf, timeoutMs(c.Timeout), c.Strip)
			if err != nil {
				return err
			}
			// Under --strip a wakeup and a zero-length payload both
			// report 0 bytes; either way nothing is written or counted.
			if n == 0 {
				logger.Debug("woken without data", "qids", qids, "strip", c.Strip)
				continue
			}
			printed, err := printBatch(cli, &c.OutputFlags, buf[:n], c.Strip)
			if err != nil {
				return err
			}
			seen += printed
		}
		return nil
	})
}

// WakeupCmd wakes receivers blocked on the given queues.
type WakeupCmd struct {
	QIDs []QID `arg:"" name:"qid" help:"Queues whose blocked receivers are woken."`
}

func (c *WakeupCmd) Run(cli *CLI) error {
	return cli.withSession(func(s *session.Session, _ config.Config, _ *slog.Logger) error {
		return queue.WakeUp(s, qidValues(c.QIDs))
	})
}

type packetView struct {
	QID     uint32 `json:"qid" yaml:"qid"`
	Flags   uint32 `json:"flags" yaml:"flags"`
	Size    uint32 `json:"size" yaml:"size"`
	Payload string `json:"payload" yaml:"payload"`
}

// printBatch writes one received batch and returns how many packets it
// held. A stripped batch is written raw and counts as one packet;
// otherwise each packet is printed as a line, a JSON object per line or
// a YAML document.
func printBatch(cli *CLI, f *OutputFlags, batch []byte, strip bool) (int, error) {
	if strip {
		return 1, cli.WriteOut(batch)
	}
	var werr error
	n, err := one.Walk(batch, func(hdr one.Header, payload []byte) {
		if werr != nil {
			return
		}
		v := packetView{QID: uint32(hdr.QID), Flags: uint32(hdr.Flags), Size: hdr.Size, Payload: string(payload)}
		switch f.Output {
		case OutputFormatJSON:
			var b []byte
			if b, werr = json.Marshal(v); werr == nil {
				werr = cli.WriteOut(append(b, '\n'))
			}
		case OutputFormatYAML:
			var b []byte
			if b, werr = yaml.Marshal(v); werr == nil {
				werr = cli.WriteOut(append([]byte("---\n"), b...))
			}
		default:
			werr = cli.PrintOutf("qid=%d flags=%d size=%d payload=%q\n", v.QID, v.Flags, v.Size, v.Payload)
		}
	})
	if werr != nil {
		return n, werr
	}
	return n, err
}

// timeoutMs converts d to whole milliseconds, rounding up so a short
// non-zero timeout never becomes "wait forever".
func timeoutMs(d time.Duration) uint32 {
	if d <= 0 {
		return 0
	}
	ms := (d + time.Millisecond - 1) / time.Millisecond
	return uint32(min(int64(ms), math.MaxUint32))
}
