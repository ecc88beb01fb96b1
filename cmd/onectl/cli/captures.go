package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	one "github.com/frobware/go-one"
	"github.com/frobware/go-one/registry"
)

// CapturesCmd lists packets recorded by monitor runs.
type CapturesCmd struct {
	RunID string `name:"run" help:"Only captures from this monitor run."`
	QID   uint32 `name:"qid" help:"Only captures addressed to this queue."`
	Limit int    `name:"limit" help:"Return at most this many captures; 0 returns all." default:"100"`
	OutputFlags
}

type captureView struct {
	ID         int64     `json:"id" yaml:"id"`
	RunID      string    `json:"run_id" yaml:"run_id"`
	QID        uint32    `json:"qid" yaml:"qid"`
	Flags      uint32    `json:"flags" yaml:"flags"`
	Size       uint32    `json:"size" yaml:"size"`
	Payload    []byte    `json:"payload,omitempty" yaml:"payload,omitempty"`
	CapturedAt time.Time `json:"captured_at" yaml:"captured_at"`
}

func (c *CapturesCmd) Run(cli *CLI) error {
	ctx := context.Background()
	cfg, err := cli.LoadConfig()
	if err != nil {
		return err
	}
	logger, err := cli.Logger()
	if err != nil {
		return err
	}
	store, err := cli.OpenStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	caps, err := store.ListCaptures(ctx, registry.CaptureFilter{RunID: c.RunID, QID: one.QID(c.QID), Limit: c.Limit})
	if err != nil {
		return err
	}
	views := make([]captureView, len(caps))
	for i, cp := range caps {
		views[i] = captureView{
			ID:         cp.ID,
			RunID:      cp.RunID,
			QID:        uint32(cp.QID),
			Flags:      cp.Flags,
			Size:       cp.Size,
			Payload:    cp.Payload,
			CapturedAt: cp.CapturedAt,
		}
	}

	out, err := c.render(views, func(b *strings.Builder) {
		if len(views) == 0 {
			b.WriteString("No captures found\n")
			return
		}
		w := newTable(b)
		fmt.Fprintln(w, "ID\tRUN\tQID\tSIZE\tCAPTURED\tPAYLOAD")
		for _, v := range views {
			fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%s\t%s\n", v.ID, shortRun(v.RunID), v.QID, v.Size,
				v.CapturedAt.Format(time.RFC3339Nano), preview(v.Payload, 32))
		}
		w.Flush()
	})
	if err != nil {
		return err
	}
	return cli.PrintOut(out)
}

func shortRun(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// preview quotes up to n bytes of p.
func preview(p []byte, n int) string {
	if p == nil {
		return "-"
	}
	if len(p) > n {
		return fmt.Sprintf("%q...", p[:n])
	}
	return fmt.Sprintf("%q", p)
}
