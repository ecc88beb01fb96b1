package admin

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	one "github.com/frobware/go-one"
	"github.com/frobware/go-one/monitor"
)

var (
	// ErrNotFound is returned when the monitor does not know a queue.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument is returned for a request the server rejected
	// as malformed.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrUnavailable is returned when no monitor is running behind the
	// socket.
	ErrUnavailable = errors.New("monitor unavailable")
)

// Client talks to a monitor's admin socket.
type Client struct {
	conn *grpc.ClientConn
}

// Dial returns a client for address, which is a socket path, a
// unix:// target or host:port. No connection is made until the first
// call.
func Dial(address string) (*Client, error) {
	target := parseAddress(address)
	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", target, err)
	}
	return &Client{conn: conn}, nil
}

func parseAddress(address string) string {
	if strings.HasPrefix(address, "unix://") {
		return address
	}
	if strings.HasPrefix(address, "/") {
		return "unix://" + address
	}
	return address
}

// Close releases the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Stats returns the monitor's current stats.
func (c *Client) Stats(ctx context.Context) (monitor.Stats, error) {
	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, methodStats, &emptypb.Empty{}, resp); err != nil {
		return monitor.Stats{}, translateError(err)
	}
	return protoToStats(resp)
}

// Subscribe asks the monitor to capture spec's queue and returns its
// QID.
func (c *Client) Subscribe(ctx context.Context, spec monitor.QueueSpec) (one.QID, error) {
	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, methodSubscribe, specToProto(spec), resp); err != nil {
		if status.Code(err) == codes.AlreadyExists && spec.QID != one.QIDNone {
			return one.QIDNone, one.ErrQueueBusy{QID: spec.QID}
		}
		return one.QIDNone, translateError(err)
	}
	return qidFromProto(resp)
}

// Unsubscribe asks the monitor to stop capturing qid.
func (c *Client) Unsubscribe(ctx context.Context, qid one.QID) error {
	req := &structpb.Struct{Fields: map[string]*structpb.Value{
		"qid": structpb.NewNumberValue(float64(qid)),
	}}
	if err := c.conn.Invoke(ctx, methodUnsubscribe, req, new(emptypb.Empty)); err != nil {
		if status.Code(err) == codes.NotFound {
			return one.ErrQueueNotFound{QID: qid}
		}
		return translateError(err)
	}
	return nil
}

// translateError converts gRPC status errors to the package's errors.
func translateError(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.NotFound:
		return fmt.Errorf("%s: %w", st.Message(), ErrNotFound)
	case codes.InvalidArgument:
		return fmt.Errorf("%s: %w", st.Message(), ErrInvalidArgument)
	case codes.Unavailable:
		return fmt.Errorf("%s: %w", st.Message(), ErrUnavailable)
	default:
		return err
	}
}
