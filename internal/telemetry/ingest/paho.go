package ingest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/packets"
	"github.com/eclipse/paho.golang/paho"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"kaldor-iiot/backend/internal/platform/logging"
)

const defaultMQTTPort = "1883"

// PahoConfig configures PahoDialer.
type PahoConfig struct {
	BrokerURL      string
	ClientID       string
	Username       string
	Password       string
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
}

// PahoDialer dials an MQTT v5 broker over TCP with eclipse/paho.golang.
type PahoDialer struct {
	cfg  PahoConfig
	addr string
	log  *zap.Logger
}

// NewPahoDialer validates cfg and returns a dialer. An empty ClientID gets a
// random "kaldor-backend-" prefixed one.
func NewPahoDialer(cfg PahoConfig, log *zap.Logger) (*PahoDialer, error) {
	addr, err := brokerAddress(cfg.BrokerURL)
	if err != nil {
		return nil, err
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "kaldor-backend-" + uuid.NewString()[:8]
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 60 * time.Second
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	return &PahoDialer{cfg: cfg, addr: addr, log: logging.OrNop(log)}, nil
}

// brokerAddress turns tcp://host:port, mqtt://host:port or host:port into host:port.
func brokerAddress(raw string) (string, error) {
	if raw == "" {
		return "", errors.New("ingest: broker url is required")
	}
	if !strings.Contains(raw, "://") {
		raw = "tcp://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("ingest: parse broker url: %w", err)
	}
	switch u.Scheme {
	case "tcp", "mqtt":
	default:
		return "", fmt.Errorf("ingest: unsupported broker scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("ingest: broker url %q has no host", raw)
	}
	port := u.Port()
	if port == "" {
		port = defaultMQTTPort
	}
	return net.JoinHostPort(u.Hostname(), port), nil
}

// Dial opens a TCP connection, sends CONNECT with a clean session and routes
// every received PUBLISH to onMessage.
func (d *PahoDialer) Dial(ctx context.Context, onMessage MessageFunc) (Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.ConnectTimeout)
	defer cancel()

	var nd net.Dialer
	nc, err := nd.DialContext(ctx, "tcp", d.addr)
	if err != nil {
		return nil, fmt.Errorf("ingest: dial %s: %w", d.addr, err)
	}

	c := &pahoConn{done: make(chan struct{})}
	c.client = paho.NewClient(paho.ClientConfig{
		Conn:     packets.NewThreadSafeConn(nc),
		ClientID: d.cfg.ClientID,
		OnClientError: func(err error) {
			c.lost(err)
		},
		OnServerDisconnect: func(p *paho.Disconnect) {
			c.lost(fmt.Errorf("server disconnect, reason code %d", p.ReasonCode))
		},
	})
	c.client.AddOnPublishReceived(func(pr paho.PublishReceived) (bool, error) {
		onMessage(pr.Packet.Topic, pr.Packet.Payload)
		return true, nil
	})

	cp := &paho.Connect{
		ClientID:   d.cfg.ClientID,
		CleanStart: true,
		KeepAlive:  uint16(d.cfg.KeepAlive / time.Second),
	}
	if d.cfg.Username != "" {
		cp.Username = d.cfg.Username
		cp.UsernameFlag = true
	}
	if d.cfg.Password != "" {
		cp.Password = []byte(d.cfg.Password)
		cp.PasswordFlag = true
	}
	ca, err := c.client.Connect(ctx, cp)
	if err != nil {
		_ = nc.Close()
		return nil, fmt.Errorf("ingest: connect: %w", err)
	}
	if ca.ReasonCode >= 0x80 {
		_ = nc.Close()
		return nil, fmt.Errorf("ingest: connect refused, reason code %d", ca.ReasonCode)
	}
	d.log.Info("mqtt: connected", zap.String("broker", d.addr), zap.String("client_id", d.cfg.ClientID))
	return c, nil
}

type pahoConn struct {
	client *paho.Client

	mu      sync.Mutex
	err     error
	closed  bool
	done    chan struct{}
	endOnce sync.Once
}

func (c *pahoConn) lost(err error) {
	c.mu.Lock()
	if c.err == nil && !c.closed {
		c.err = err
	}
	c.mu.Unlock()
	c.endOnce.Do(func() { close(c.done) })
}

func (c *pahoConn) Subscribe(ctx context.Context, filters []string) error {
	if len(filters) == 0 {
		return nil
	}
	sub := &paho.Subscribe{Subscriptions: make([]paho.SubscribeOptions, len(filters))}
	for i, f := range filters {
		sub.Subscriptions[i] = paho.SubscribeOptions{Topic: f, QoS: 1}
	}
	sa, err := c.client.Subscribe(ctx, sub)
	if err != nil {
		return fmt.Errorf("ingest: subscribe: %w", err)
	}
	for i, code := range sa.Reasons {
		if code >= 0x80 {
			return fmt.Errorf("ingest: subscribe %q refused, reason code %d", filters[i], code)
		}
	}
	return nil
}

func (c *pahoConn) Publish(ctx context.Context, topic string, payload []byte, qos byte, retain bool) error {
	_, err := c.client.Publish(ctx, &paho.Publish{
		Topic:   topic,
		QoS:     qos,
		Retain:  retain,
		Payload: payload,
	})
	if err != nil {
		return fmt.Errorf("ingest: publish %s: %w", topic, err)
	}
	return nil
}

func (c *pahoConn) Done() <-chan struct{} { return c.done }

func (c *pahoConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *pahoConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	err := c.client.Disconnect(&paho.Disconnect{ReasonCode: 0})
	c.endOnce.Do(func() { close(c.done) })
	return err
}
