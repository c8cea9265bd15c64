package wa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"trocswap-bot/internal/convo"
	"trocswap-bot/internal/metrics"

	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
	_ "modernc.org/sqlite"
)

// Config holds configuration to initialise the WhatsApp client.
type Config struct {
	StorePath string
	LogLevel  string
	Metrics   *metrics.Metrics
}

// Router receives translated inbound events. Implemented by the
// conversation engine.
type Router interface {
	Route(ctx context.Context, msg convo.Inbound)
	GroupJoin(ctx context.Context, groupID string, names []string)
}

// Client wraps the WhatsMeow client and translates its events into
// channel-agnostic inbound messages for the router.
type Client struct {
	client  *whatsmeow.Client
	logger  *slog.Logger
	metrics *metrics.Metrics
	router  Router
}

// New creates a new WhatsApp client instance backed by an SQLite store.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.StorePath == "" {
		return nil, errors.New("store path is required")
	}

	if err := ensureDir(filepath.Dir(cfg.StorePath)); err != nil {
		return nil, fmt.Errorf("ensure store dir: %w", err)
	}

	storeLogger := waLog.Stdout("whatsmeow/sqlstore", cfg.LogLevel, true)
	container, err := sqlstore.New(ctx, "sqlite", fmt.Sprintf("file:%s?_pragma=busy_timeout=10000&_pragma=foreign_keys(ON)", cfg.StorePath), storeLogger)
	if err != nil {
		return nil, fmt.Errorf("create sqlstore: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("get device: %w", err)
	}

	waLogger := waLog.Stdout("whatsmeow/client", cfg.LogLevel, true)
	client := whatsmeow.NewClient(deviceStore, waLogger)

	wc := &Client{
		client:  client,
		logger:  logger.With("component", "wa"),
		metrics: cfg.Metrics,
	}
	client.AddEventHandler(wc.handleEvent)

	return wc, nil
}

// SetRouter registers the inbound message router.
func (c *Client) SetRouter(router Router) {
	c.router = router
}

// Start connects the client and handles login/QR pairing flow.
func (c *Client) Start(ctx context.Context) error {
	if c.client.Store.ID == nil {
		c.logger.Info("pairing required, waiting for QR scan")
		qrChan, err := c.client.GetQRChannel(ctx)
		if err != nil {
			return fmt.Errorf("get qr channel: %w", err)
		}

		go func() {
			for evt := range qrChan {
				if evt.Event == "code" {
					c.logger.Info("scan the QR code with WhatsApp", "qr", evt.Code)
				} else {
					c.logger.Info("pairing event received", "event", evt.Event)
				}
			}
		}()
	}

	if err := c.client.Connect(); err != nil {
		return fmt.Errorf("connect wa client: %w", err)
	}

	c.logger.Info("whatsapp client connected")
	return nil
}

// Close disconnects the WhatsApp client.
func (c *Client) Close() {
	if c.client != nil {
		c.client.Disconnect()
	}
}

func (c *Client) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.Message:
		c.handleMessage(v)
	case *events.GroupInfo:
		c.handleGroupInfo(v)
	case *events.Connected:
		c.logger.Info("device connected")
	case *events.Disconnected:
		c.logger.Warn("device disconnected")
	}
}

func (c *Client) handleMessage(evt *events.Message) {
	msg := evt.Message
	if msg == nil || evt.Info.IsFromMe {
		return
	}
	// Trading conversations are one-on-one; group chatter is ignored.
	if evt.Info.IsGroup {
		return
	}

	inbound, ok := translateMessage(evt)
	if !ok {
		c.logger.Info("ignoring unsupported message type", "from", evt.Info.Sender.String())
		return
	}

	c.logger.Info("received message", "from", inbound.Sender, "kind", inbound.Kind)
	if c.router != nil {
		go c.router.Route(context.Background(), inbound)
	}
}

func translateMessage(evt *events.Message) (convo.Inbound, bool) {
	msg := evt.Message
	inbound := convo.Inbound{
		Sender:      evt.Info.Sender.ToNonAD().String(),
		ProfileName: evt.Info.PushName,
		Timestamp:   evt.Info.Timestamp,
	}

	switch {
	case msg.GetConversation() != "":
		inbound.Kind = convo.KindText
		inbound.Text = msg.GetConversation()
	case msg.ExtendedTextMessage != nil:
		inbound.Kind = convo.KindText
		inbound.Text = msg.GetExtendedTextMessage().GetText()
	case msg.ImageMessage != nil:
		inbound.Kind = convo.KindImage
		inbound.Text = msg.GetImageMessage().GetCaption()
		inbound.ImageRef = msg.GetImageMessage().GetDirectPath()
	default:
		return convo.Inbound{}, false
	}
	return inbound, true
}

func (c *Client) handleGroupInfo(evt *events.GroupInfo) {
	if len(evt.Join) == 0 || c.router == nil {
		return
	}
	names := make([]string, 0, len(evt.Join))
	for _, jid := range evt.Join {
		names = append(names, jid.User)
	}
	go c.router.GroupJoin(context.Background(), evt.JID.String(), names)
}

// SendText sends a text message to the given JID string.
func (c *Client) SendText(ctx context.Context, to, text string) error {
	jid, err := types.ParseJID(to)
	if err != nil {
		return fmt.Errorf("parse recipient jid %q: %w", to, err)
	}

	message := &waProto.Message{
		Conversation: proto.String(text),
	}
	if _, err := c.client.SendMessage(ctx, jid, message); err != nil {
		return fmt.Errorf("send text: %w", err)
	}
	if c.metrics != nil {
		c.metrics.WAOutgoingMessages.WithLabelValues("text").Inc()
	}
	return nil
}

func ensureDir(dir string) error {
	if dir == "." || dir == "" {
		return nil
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return os.MkdirAll(dir, 0o755)
	}
	return nil
}
