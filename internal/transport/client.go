// Package transport connects a thread to the session daemon. Requests go
// over gRPC; history pages are replayed from a local cache first and the
// daemon's event stream is forwarded to a local bus.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/matheus3301/threadline/internal/api"
	"github.com/matheus3301/threadline/internal/bus"
	"github.com/matheus3301/threadline/internal/chatsdk"
	"github.com/matheus3301/threadline/internal/store"
)

const (
	minRetry = 250 * time.Millisecond
	maxRetry = 10 * time.Second
)

// Dial connects to the daemon's Unix domain socket.
func Dial(socketPath string) (*grpc.ClientConn, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		api.CallOptions(),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return conn, nil
}

// Client implements chatsdk.Transport and chatsdk.Events against the daemon.
type Client struct {
	rpc    *api.HistoryClient
	cache  *store.DB
	events *bus.Bus[chatsdk.Event]
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a client. cache may be nil, in which case no replay happens.
func New(cc grpc.ClientConnInterface, cache *store.DB, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		rpc:    api.NewHistoryClient(cc),
		cache:  cache,
		events: bus.New[chatsdk.Event](),
		logger: logger.Named("transport"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// RPC exposes the underlying history client.
func (c *Client) RPC() *api.HistoryClient { return c.rpc }

// Start forwards the daemon's events for conversationID, or for every
// conversation when empty, until Close. Broken streams are reopened.
func (c *Client) Start(conversationID string) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.watch(conversationID)
	}()
}

// Close stops the event stream and in-flight fetches.
func (c *Client) Close() {
	c.cancel()
	c.wg.Wait()
}

// Subscribe implements chatsdk.Events.
func (c *Client) Subscribe(conversationID string, buf int) (<-chan chatsdk.Event, func()) {
	return c.events.Subscribe(conversationID, buf)
}

// Dropped returns how many events were dropped on full subscriber buffers.
func (c *Client) Dropped() uint64 { return c.events.Dropped() }

// FetchHistory implements chatsdk.Transport. The cached page, if any, is
// published before the daemon's page under the same key. A failed daemon
// call publishes nothing; the request expires on the caller's side.
func (c *Client) FetchHistory(_ context.Context, req chatsdk.FetchRequest) error {
	if req.ConversationID == "" {
		return errors.New("fetch history: conversation id is required")
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.fetch(c.ctx, req); err != nil && c.ctx.Err() == nil {
			c.logger.Warn("history fetch failed", zap.String("key", req.Key), zap.String("conversation", req.ConversationID), zap.Error(err))
		}
	}()
	return nil
}

func (c *Client) fetch(ctx context.Context, req chatsdk.FetchRequest) error {
	var resp *api.FetchPageResponse
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c.replay(req)
		return nil
	})
	g.Go(func() error {
		var err error
		resp, err = c.rpc.FetchPage(gctx, &api.FetchPageRequest{
			ConversationID: req.ConversationID,
			Window:         req.Window,
			Query:          req.Query,
		})
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	if req.Query == "" {
		c.persist(resp)
	}
	c.events.Publish(chatsdk.HistoryPage{
		Key:            req.Key,
		ConversationID: req.ConversationID,
		Records:        resp.Records,
		HasMore:        resp.HasMore,
	})
	return nil
}

// replay publishes the cached copy of the requested window. Searches are
// not replayed.
func (c *Client) replay(req chatsdk.FetchRequest) {
	if c.cache == nil || req.Query != "" {
		return
	}
	page, err := c.cache.ListWindow(req.ConversationID, req.Window)
	if err != nil {
		c.logger.Debug("cache replay failed", zap.Error(err))
		return
	}
	if len(page.Records) == 0 {
		return
	}
	c.events.Publish(chatsdk.HistoryPage{
		Key:            req.Key,
		ConversationID: req.ConversationID,
		Cached:         true,
		Records:        page.Records,
		HasMore:        page.HasMore,
	})
}

func (c *Client) persist(resp *api.FetchPageResponse) {
	if c.cache == nil || len(resp.Records) == 0 {
		return
	}
	err := c.cache.InTx(func(t *store.Tx) error {
		for _, r := range resp.Records {
			if _, err := t.UpsertMessage(r, ""); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		c.logger.Warn("cache write failed", zap.Error(err))
	}
}

// Send implements chatsdk.Transport.
func (c *Client) Send(ctx context.Context, req chatsdk.SendRequest) error {
	return ack(c.rpc.Send(ctx, &req))
}

// Edit implements chatsdk.Transport.
func (c *Client) Edit(ctx context.Context, req chatsdk.EditRequest) error {
	return ack(c.rpc.Edit(ctx, &req))
}

// Delete implements chatsdk.Transport.
func (c *Client) Delete(ctx context.Context, req chatsdk.RefRequest) error {
	return ack(c.rpc.Delete(ctx, &req))
}

// Pin implements chatsdk.Transport.
func (c *Client) Pin(ctx context.Context, req chatsdk.RefRequest) error {
	return ack(c.rpc.Pin(ctx, &req))
}

// Unpin implements chatsdk.Transport.
func (c *Client) Unpin(ctx context.Context, req chatsdk.RefRequest) error {
	return ack(c.rpc.Unpin(ctx, &req))
}

// MarkSeen implements chatsdk.Transport.
func (c *Client) MarkSeen(ctx context.Context, req chatsdk.RefRequest) error {
	return ack(c.rpc.MarkSeen(ctx, &req))
}

// RejectedError is returned when the daemon answers a request with a
// negative acknowledgement.
type RejectedError struct {
	Message string
}

func (e *RejectedError) Error() string { return "request rejected: " + e.Message }

func ack(a *api.Ack, err error) error {
	if err != nil {
		return err
	}
	if a != nil && !a.Accepted {
		return &RejectedError{Message: a.Message}
	}
	return nil
}

func (c *Client) watch(conversationID string) {
	retry := minRetry
	for {
		err := c.stream(conversationID, func() { retry = minRetry })
		if c.ctx.Err() != nil {
			return
		}
		c.logger.Warn("event stream ended, reconnecting", zap.Duration("in", retry), zap.Error(err))
		select {
		case <-c.ctx.Done():
			return
		case <-time.After(retry):
		}
		retry = min(retry*2, maxRetry)
	}
}

// stream forwards one Watch stream until it breaks. connected is called on
// the first received event.
func (c *Client) stream(conversationID string, connected func()) error {
	s, err := c.rpc.Watch(c.ctx, &api.WatchRequest{ConversationID: conversationID})
	if err != nil {
		return err
	}
	first := true
	for {
		env, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return io.ErrUnexpectedEOF
		}
		if err != nil {
			return err
		}
		if first {
			connected()
			first = false
		}
		evt, err := chatsdk.Decode(*env)
		if err != nil {
			c.logger.Debug("skipping undecodable event", zap.String("kind", env.Kind), zap.Error(err))
			continue
		}
		c.mirror(evt)
		c.events.Publish(evt)
	}
}

// mirror keeps the cache in step with live events.
func (c *Client) mirror(evt chatsdk.Event) {
	if c.cache == nil {
		return
	}
	var err error
	switch e := evt.(type) {
	case chatsdk.NewMessage:
		_, err = c.cache.UpsertMessage(e.Record, "")
	case chatsdk.Edited:
		if e.Ref.ServerID != 0 {
			err = c.cache.ApplyEdit(e.Ref.ServerID, e.Text)
		}
	case chatsdk.Deleted:
		if e.Ref.ServerID != 0 {
			_, err = c.cache.DeleteMessage(e.Ref.ServerID)
		}
	case chatsdk.PinChanged:
		if e.Ref.ServerID != 0 {
			err = c.cache.SetPinned(e.Ref.ServerID, e.Pinned, e.Time)
		}
	}
	if err != nil {
		c.logger.Debug("cache mirror failed", zap.String("kind", evt.Kind()), zap.Error(err))
	}
}
