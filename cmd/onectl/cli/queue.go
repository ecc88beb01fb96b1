package cli

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	one "github.com/frobware/go-one"
	"github.com/frobware/go-one/config"
	"github.com/frobware/go-one/device"
	"github.com/frobware/go-one/queue"
	"github.com/frobware/go-one/registry"
	"github.com/frobware/go-one/session"
)

// QueueCmd groups the queue lifecycle commands.
type QueueCmd struct {
	Create  QueueCreateCmd  `cmd:"" help:"Create a queue and print its QID."`
	Destroy QueueDestroyCmd `cmd:"" help:"Destroy a queue."`
	Attach  QueueAttachCmd  `cmd:"" help:"Forward packets dispatched on a queue to a target queue."`
	Detach  QueueDetachCmd  `cmd:"" help:"Remove a forwarding relationship."`
	Name    QueueNameCmd    `cmd:"" help:"Label a queue for diagnostics."`
	List    QueueListCmd    `cmd:"" help:"List queues known to the registry."`
}

// QueueCreateCmd creates a queue.
type QueueCreateCmd struct {
	QID  uint32 `name:"qid" help:"Request a specific QID instead of letting the device choose."`
	Name string `name:"name" help:"Diagnostic name to give the queue."`
}

func (c *QueueCreateCmd) Run(cli *CLI) error {
	ctx := context.Background()
	var created one.QID
	err := cli.withSession(func(s *session.Session, cfg config.Config, logger *slog.Logger) error {
		qid, err := queue.Create(s, device.QueueFlagNone, one.QID(c.QID))
		if err != nil {
			return err
		}
		created = qid
		if c.Name != "" {
			if err := queue.SetName(s, qid, c.Name); err != nil {
				return fmt.Errorf("queue %d created but not named: %w", qid, err)
			}
		}
		cli.record(ctx, cfg, logger, func(ctx context.Context, store registry.Store) error {
			return store.SaveQueue(ctx, registry.QueueRecord{QID: qid, Name: c.Name})
		})
		return nil
	})
	if err != nil {
		return err
	}
	return cli.PrintOutf("%d\n", created)
}

// QueueDestroyCmd destroys a queue.
type QueueDestroyCmd struct {
	QID QID `arg:"" name:"qid" help:"Queue to destroy."`
}

func (c *QueueDestroyCmd) Run(cli *CLI) error {
	ctx := context.Background()
	err := cli.withSession(func(s *session.Session, cfg config.Config, logger *slog.Logger) error {
		if err := queue.Destroy(s, c.QID.Value); err != nil {
			return err
		}
		cli.record(ctx, cfg, logger, func(ctx context.Context, store registry.Store) error {
			return ignoreNotFound(store.DeleteQueue(ctx, c.QID.Value))
		})
		return nil
	})
	if err != nil {
		return err
	}
	return cli.PrintOutf("Destroyed queue %d\n", c.QID.Value)
}

// QueueAttachCmd attaches a queue to a target.
type QueueAttachCmd struct {
	QID    QID `arg:"" name:"qid" help:"Source queue."`
	Target QID `arg:"" name:"target" help:"Queue that also receives the source's packets."`
}

func (c *QueueAttachCmd) Run(cli *CLI) error {
	ctx := context.Background()
	err := cli.withSession(func(s *session.Session, cfg config.Config, logger *slog.Logger) error {
		if err := queue.Attach(s, c.QID.Value, c.Target.Value); err != nil {
			return err
		}
		cli.record(ctx, cfg, logger, func(ctx context.Context, store registry.Store) error {
			for _, qid := range []one.QID{c.QID.Value, c.Target.Value} {
				if err := ensureQueue(ctx, store, qid); err != nil {
					return err
				}
			}
			return store.SaveAttachment(ctx, registry.Attachment{QID: c.QID.Value, Target: c.Target.Value})
		})
		return nil
	})
	if err != nil {
		return err
	}
	return cli.PrintOutf("Attached queue %d to %d\n", c.QID.Value, c.Target.Value)
}

// QueueDetachCmd detaches a queue from a target.
type QueueDetachCmd struct {
	QID    QID `arg:"" name:"qid" help:"Source queue."`
	Target QID `arg:"" name:"target" help:"Target queue."`
}

func (c *QueueDetachCmd) Run(cli *CLI) error {
	ctx := context.Background()
	err := cli.withSession(func(s *session.Session, cfg config.Config, logger *slog.Logger) error {
		if err := queue.Detach(s, c.QID.Value, c.Target.Value); err != nil {
			return err
		}
		cli.record(ctx, cfg, logger, func(ctx context.Context, store registry.Store) error {
			return ignoreNotFound(store.DeleteAttachment(ctx, c.QID.Value, c.Target.Value))
		})
		return nil
	})
	if err != nil {
		return err
	}
	return cli.PrintOutf("Detached queue %d from %d\n", c.QID.Value, c.Target.Value)
}

// QueueNameCmd sets a queue's diagnostic name.
type QueueNameCmd struct {
	QID  QID    `arg:"" name:"qid" help:"Queue to name."`
	Name string `arg:"" name:"name" help:"Diagnostic name."`
}

func (c *QueueNameCmd) Run(cli *CLI) error {
	ctx := context.Background()
	return cli.withSession(func(s *session.Session, cfg config.Config, logger *slog.Logger) error {
		if err := queue.SetName(s, c.QID.Value, c.Name); err != nil {
			return err
		}
		cli.record(ctx, cfg, logger, func(ctx context.Context, store registry.Store) error {
			rec, err := store.GetQueue(ctx, c.QID.Value)
			if ignoreNotFound(err) != nil {
				return err
			}
			rec.QID = c.QID.Value
			rec.Name = c.Name
			return store.SaveQueue(ctx, rec)
		})
		return nil
	})
}

// QueueListCmd lists recorded queues with their attachments.
type QueueListCmd struct {
	OutputFlags
}

type queueView struct {
	QID       uint32    `json:"qid" yaml:"qid"`
	Name      string    `json:"name,omitempty" yaml:"name,omitempty"`
	Managed   bool      `json:"managed" yaml:"managed"`
	Targets   []uint32  `json:"targets,omitempty" yaml:"targets,omitempty"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

func (c *QueueListCmd) Run(cli *CLI) error {
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

	queues, err := store.ListQueues(ctx)
	if err != nil {
		return err
	}
	atts, err := store.ListAttachments(ctx, one.QIDNone)
	if err != nil {
		return err
	}
	targets := make(map[one.QID][]uint32)
	for _, a := range atts {
		targets[a.QID] = append(targets[a.QID], uint32(a.Target))
	}

	views := make([]queueView, len(queues))
	for i, q := range queues {
		views[i] = queueView{
			QID:       uint32(q.QID),
			Name:      q.Name,
			Managed:   q.Managed,
			Targets:   targets[q.QID],
			CreatedAt: q.CreatedAt,
		}
	}

	out, err := c.render(views, func(b *strings.Builder) {
		if len(views) == 0 {
			b.WriteString("No queues recorded\n")
			return
		}
		w := newTable(b)
		fmt.Fprintln(w, "QID\tNAME\tMANAGED\tTARGETS\tCREATED")
		for _, v := range views {
			fmt.Fprintf(w, "%d\t%s\t%t\t%s\t%s\n", v.QID, dash(v.Name), v.Managed, joinQIDs(v.Targets), v.CreatedAt.Format(time.RFC3339))
		}
		w.Flush()
	})
	if err != nil {
		return err
	}
	return cli.PrintOut(out)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func joinQIDs(qids []uint32) string {
	if len(qids) == 0 {
		return "-"
	}
	parts := make([]string, len(qids))
	for i, q := range qids {
		parts[i] = fmt.Sprint(q)
	}
	return strings.Join(parts, ",")
}
