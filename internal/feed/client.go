// Package feed maintains the subscription to the upstream streaming
// feed of BGP UPDATE messages, classifies each message against a
// watch-list, and emits typed events to a Sink.
package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/sudorandom/hijackwatch/internal/watch"
)

// pongQuirkPrefix is the raw byte prefix of the non-JSON pong frame
// ris-live.ripe.net sends: `{"type": "pong", "data":undefined}`. The
// trailing "undefined" is not valid JSON, so it must be recognized by
// prefix rather than decoded.
var pongQuirkPrefix = []byte(`{"type": "pong",`)

const (
	keepaliveInterval = 5 * time.Second
	connectTimeout    = 3 * time.Second
	connectRetries    = 10
)

// ErrRetryBudgetExhausted is returned by Run when connectRetries
// consecutive connect attempts have all failed. The caller should
// treat this as fatal and exit with a temporary-failure code.
var ErrRetryBudgetExhausted = errors.New("feed: connect retry budget exhausted")

// Config configures a Client.
type Config struct {
	URL       string
	ProxyHost string
	ProxyPort int
}

// Client holds the logical connection to the upstream feed: dial,
// subscribe, classify, and re-dial on failure.
type Client struct {
	cfg        Config
	index      *watch.Index
	classifier *classifier
	sink       Sink
	log        *zap.Logger

	dialer  *websocket.Dialer
	closing atomic.Bool
}

// New constructs a Client bound to a fixed watch-list snapshot. The
// index must not be mutated for the lifetime of the Client.
func New(cfg Config, index *watch.Index, sink Sink, log *zap.Logger) *Client {
	dialer := &websocket.Dialer{HandshakeTimeout: connectTimeout}
	if cfg.ProxyHost != "" && cfg.ProxyPort != 0 {
		proxyURL := &url.URL{Scheme: "http", Host: fmt.Sprintf("%s:%d", cfg.ProxyHost, cfg.ProxyPort)}
		dialer.Proxy = http.ProxyURL(proxyURL)
	}
	return &Client{
		cfg:        cfg,
		index:      index,
		classifier: newClassifier(index, log),
		sink:       sink,
		log:        log,
		dialer:     dialer,
	}
}

// Close signals the client to stop reconnecting and return from Run
// at the next opportunity.
func (c *Client) Close() {
	c.closing.Store(true)
}

// Run dials the upstream feed and processes frames until ctx is
// canceled, Close is called, or the connect retry budget is
// exhausted. It blocks.
func (c *Client) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if c.closing.Load() {
			return nil
		}

		conn, err := c.connectWithRetry(ctx)
		if err != nil {
			return err
		}

		err = c.readUntilBroken(ctx, conn)
		closeErr := conn.Close()
		if closeErr != nil {
			c.log.Warn("error closing feed connection", zap.Error(closeErr))
		}
		if err != nil {
			c.log.Warn("feed connection broken, reconnecting", zap.Error(err))
		}
		if c.closing.Load() || ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// connectWithRetry dials the upstream endpoint, making at most
// connectRetries attempts with a connectTimeout per attempt. It
// re-subscribes to every watched prefix before returning.
func (c *Client) connectWithRetry(ctx context.Context) (*websocket.Conn, error) {
	for attempt := 1; attempt <= connectRetries; attempt++ {
		dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		conn, _, err := c.dialer.DialContext(dialCtx, c.cfg.URL, nil)
		cancel()
		if err == nil {
			if subErr := c.subscribeAll(conn); subErr != nil {
				c.log.Warn("subscribe failed", zap.Error(subErr))
				_ = conn.Close()
			} else {
				return conn, nil
			}
		} else {
			c.log.Warn("dial failed", zap.Int("attempt", attempt), zap.Int("max", connectRetries), zap.Error(err))
		}
		if attempt < connectRetries {
			time.Sleep(connectTimeout)
		}
	}
	return nil, ErrRetryBudgetExhausted
}

type subscribeMessage struct {
	Type string `json:"type"`
	Data struct {
		Prefix        string        `json:"prefix"`
		MoreSpecific  bool          `json:"moreSpecific"`
		Type          string        `json:"type"`
		SocketOptions socketOptions `json:"socketOptions"`
	} `json:"data"`
}

type socketOptions struct {
	IncludeRaw bool `json:"includeRaw"`
}

func (c *Client) subscribeAll(conn *websocket.Conn) error {
	all := make([]watch.Prefix, 0, len(c.index.Snapshot4())+len(c.index.Snapshot6()))
	all = append(all, c.index.Snapshot4()...)
	all = append(all, c.index.Snapshot6()...)
	for _, p := range all {
		msg := subscribeMessage{Type: "ris_subscribe"}
		msg.Data.Prefix = p.CIDR
		msg.Data.MoreSpecific = true
		msg.Data.Type = "UPDATE"
		msg.Data.SocketOptions = socketOptions{IncludeRaw: false}
		b, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
			return err
		}
	}
	return nil
}

type risFrame struct {
	Type string      `json:"type"`
	Data risFrameData `json:"data"`
}

type risFrameData struct {
	Peer          string   `json:"peer"`
	Path          []uint32 `json:"path"`
	Announcements []struct {
		NextHop  string   `json:"next_hop"`
		Prefixes []string `json:"prefixes"`
	} `json:"announcements"`
	Withdrawals []string `json:"withdrawals"`
}

// readUntilBroken runs the ping ticker and the blocking read loop
// until either fails, returning the error that ended it. A nil error
// return never happens; the loop only exits via error or the outer
// context.
func (c *Client) readUntilBroken(ctx context.Context, conn *websocket.Conn) error {
	pingErrCh := make(chan error, 1)
	stopPing := make(chan struct{})
	go c.pingLoop(conn, pingErrCh, stopPing)
	defer close(stopPing)

	readErrCh := make(chan error, 1)
	frameCh := make(chan []byte)
	go func() {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				readErrCh <- err
				return
			}
			frameCh <- msg
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-pingErrCh:
			return err
		case err := <-readErrCh:
			return err
		case msg := <-frameCh:
			if err := c.handleFrame(msg); err != nil {
				return err
			}
		}
	}
}

func (c *Client) pingLoop(conn *websocket.Conn, errCh chan<- error, stop <-chan struct{}) {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)); err != nil {
				errCh <- err
				return
			}
		}
	}
}

// handleFrame decodes one inbound frame and dispatches it. A decode
// failure matching the pong quirk is swallowed; any other decode
// failure is treated as a transport error that triggers reconnect.
func (c *Client) handleFrame(msg []byte) error {
	var frame risFrame
	if err := json.Unmarshal(msg, &frame); err != nil {
		if bytes.HasPrefix(msg, pongQuirkPrefix) {
			return nil
		}
		c.log.Error("decode error on inbound frame", zap.Error(err))
		return fmt.Errorf("feed: decode error: %w", err)
	}

	switch frame.Type {
	case "pong":
		return nil
	case "ris_error":
		c.sink.OnError(ErrorEvent{Raw: string(msg)})
		return nil
	case "ris_message":
		c.handleRISMessage(frame.Data)
		return nil
	default:
		return nil
	}
}

// handleRISMessage expands one ris_message frame into normalized
// announcements and withdrawals, preserving array order, and
// classifies each.
func (c *Client) handleRISMessage(data risFrameData) {
	for _, ann := range data.Announcements {
		for _, prefix := range ann.Prefixes {
			c.classifier.classifyAnnouncement(announcement{
				prefix:  prefix,
				peer:    data.Peer,
				path:    data.Path,
				nextHop: ann.NextHop,
			}, c.sink)
		}
	}
	for _, prefix := range data.Withdrawals {
		c.classifier.classifyWithdrawal(withdrawal{prefix: prefix, peer: data.Peer}, c.sink)
	}
}
