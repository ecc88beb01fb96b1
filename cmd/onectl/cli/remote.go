package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	one "github.com/frobware/go-one"
	"github.com/frobware/go-one/monitor"
)

// StatsCmd shows a running monitor's stats.
type StatsCmd struct {
	OutputFlags
}

func (c *StatsCmd) Run(cli *CLI) error {
	client, err := cli.adminClient()
	if err != nil {
		return err
	}
	defer client.Close()

	stats, err := client.Stats(context.Background())
	if err != nil {
		return err
	}
	out, err := c.render(stats, func(b *strings.Builder) { formatStatsTable(b, stats) })
	if err != nil {
		return err
	}
	return cli.PrintOut(out)
}

func formatStatsTable(b *strings.Builder, s monitor.Stats) {
	d := s.Dispatcher
	fmt.Fprintf(b, "RUN      %s\n", s.RunID)
	fmt.Fprintf(b, "  started   %s (%s ago)\n", s.StartedAt.Format(time.RFC3339), time.Since(s.StartedAt).Round(time.Second))
	fmt.Fprintf(b, "  captured  %d\n", s.Captured)
	fmt.Fprintf(b, "  dropped   %d (tap capacity %d)\n", s.Dropped, s.TapCapacity)
	fmt.Fprintf(b, "  store errors %d\n", s.StoreErrors)
	fmt.Fprintf(b, "\n  DISPATCHER %d (control queue %d, generation %d)\n", d.Serial, d.ControlQID, d.Generation)
	fmt.Fprintf(b, "  batches %d  packets %d  unrouted %d  corrupt %d  wakeups %d  receive errors %d\n",
		d.Batches, d.Packets, d.Dropped, d.Corrupt, d.Wakeups, d.ReceiveErrors)
	if d.Oversized > 0 {
		fmt.Fprintf(b, "  oversized %d (last on queue %d)\n", d.Oversized, d.OversizedQID)
	}

	b.WriteString("\n  SUBSCRIPTIONS\n")
	if len(s.Subscriptions) == 0 {
		b.WriteString("  (none)\n")
		return
	}
	w := newTable(b)
	fmt.Fprintln(w, "  QID\tNAME\tMANAGED\tATTACHED")
	for _, sub := range s.Subscriptions {
		fmt.Fprintf(w, "  %d\t%s\t%t\t%s\n", sub.QID, dash(sub.Name), sub.Managed, joinQIDs(sub.Attach))
	}
	w.Flush()
}

// SubscribeCmd asks a running monitor to capture a queue.
type SubscribeCmd struct {
	QID    uint32 `name:"qid" help:"Existing queue to adopt; omit to have the monitor create one."`
	Name   string `name:"name" help:"Diagnostic name for the queue."`
	Attach []QID  `name:"attach" help:"Source queue whose packets are forwarded to this one (repeatable)."`
}

func (c *SubscribeCmd) Run(cli *CLI) error {
	client, err := cli.adminClient()
	if err != nil {
		return err
	}
	defer client.Close()

	qid, err := client.Subscribe(context.Background(), monitor.QueueSpec{
		Name:   c.Name,
		QID:    one.QID(c.QID),
		Attach: qidValues(c.Attach),
	})
	if err != nil {
		return err
	}
	return cli.PrintOutf("%d\n", qid)
}

// UnsubscribeCmd asks a running monitor to stop capturing a queue.
type UnsubscribeCmd struct {
	QID QID `arg:"" name:"qid" help:"Queue to stop capturing."`
}

func (c *UnsubscribeCmd) Run(cli *CLI) error {
	client, err := cli.adminClient()
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Unsubscribe(context.Background(), c.QID.Value); err != nil {
		return err
	}
	return cli.PrintOutf("Unsubscribed queue %d\n", c.QID.Value)
}
