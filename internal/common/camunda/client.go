package camunda

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"admissions-workers/internal/common/errors"

	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Client owns the gateway connection shared by every job worker.
type Client struct {
	zbc            zbc.Client
	requestTimeout time.Duration
	retry          retryPolicy
}

type retryPolicy struct {
	attempts int
	base     time.Duration
	max      time.Duration
}

var defaultRetry = retryPolicy{attempts: 4, base: time.Second, max: 10 * time.Second}

// NewClient dials the gateway in plaintext and checks the broker topology
// before returning.
func NewClient(address string, requestTimeout time.Duration) (*Client, error) {
	zc, err := zbc.NewClient(&zbc.ClientConfig{
		GatewayAddress:         address,
		UsePlaintextConnection: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Zeebe client: %w", err)
	}

	c := &Client{zbc: zc, requestTimeout: requestTimeout, retry: defaultRetry}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := c.Ping(ctx); err != nil {
		zc.Close()
		return nil, fmt.Errorf("zeebe gateway %s: %w", address, err)
	}
	return c, nil
}

func (c *Client) GetClient() zbc.Client {
	return c.zbc
}

// Ping requests the cluster topology.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, "topology", func(ctx context.Context) error {
		_, err := c.zbc.NewTopologyCommand().Send(ctx)
		return err
	})
}

func (c *Client) Close() error {
	return c.zbc.Close()
}

// do runs fn with a per-attempt timeout, retrying transient gRPC failures
// with capped exponential backoff.
func (c *Client) do(ctx context.Context, op string, fn func(context.Context) error) error {
	delay := c.retry.base
	var err error
	for attempt := 1; ; attempt++ {
		attemptCtx, cancel := ctx, context.CancelFunc(func() {})
		if c.requestTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, c.requestTimeout)
		}
		err = fn(attemptCtx)
		cancel()
		if err == nil {
			return nil
		}
		if !transient(err) || attempt >= c.retry.attempts {
			return classify(op, err)
		}

		select {
		case <-ctx.Done():
			return errors.NewTransportError("zeebe", fmt.Errorf("%s cancelled after %d attempts: %w", op, attempt, ctx.Err()))
		case <-time.After(delay):
		}
		if delay *= 2; delay > c.retry.max {
			delay = c.retry.max
		}
	}
}

func transient(err error) bool {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted, codes.ResourceExhausted:
		return true
	}
	return false
}

func classify(op string, err error) error {
	switch status.Code(err) {
	case codes.NotFound:
		return errors.NewNotFoundError(op, status.Convert(err).Message())
	case codes.ResourceExhausted:
		return errors.NewRateLimitedError("zeebe")
	case codes.InvalidArgument, codes.FailedPrecondition:
		return errors.NewInvalidInputError(fmt.Sprintf("zeebe %s: %s", op, status.Convert(err).Message()))
	}
	return errors.NewTransportError("zeebe", fmt.Errorf("%s: %w", op, err))
}
