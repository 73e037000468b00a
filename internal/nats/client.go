// Package nats connects the scanner to a NATS server: scan reports and
// heartbeats go out over JetStream, commands arrive as core request/reply.
package nats

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stone-age-io/hostscan/internal/config"
	"github.com/stone-age-io/hostscan/internal/report"
	"github.com/stone-age-io/hostscan/internal/stats"
	"go.uber.org/zap"
)

// publishTimeout bounds waiting for a JetStream ack on reports
const publishTimeout = 10 * time.Second

// Client publishes scan results for one device and serves its command
// subscriptions
type Client struct {
	conn          *nats.Conn
	js            nats.JetStreamContext
	logger        *zap.Logger
	subjectPrefix string
	deviceID      string

	// closed is closed by the connection's ClosedHandler
	closed chan struct{}
}

// Subject builds a device subject: <prefix>.<device>.<suffix...>
func Subject(prefix, deviceID string, suffix ...string) string {
	parts := append([]string{prefix, deviceID}, suffix...)
	return strings.Join(parts, ".")
}

// NewClient connects to the servers in cfg.NATS, checks that JetStream is
// available and returns a client publishing under cfg's subject prefix and
// device ID
func NewClient(cfg *config.Config, logger *zap.Logger) (*Client, error) {
	closed := make(chan struct{})
	var once sync.Once
	onClosed := func() { once.Do(func() { close(closed) }) }

	opts, err := connectionOptions(&cfg.NATS, logger, onClosed)
	if err != nil {
		return nil, err
	}

	logger.Info("Connecting to NATS", zap.Strings("urls", cfg.NATS.URLs))
	// All URLs go in one string so the client fails over between them
	conn, err := nats.Connect(strings.Join(cfg.NATS.URLs, ","), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	logger.Info("Connected to NATS",
		zap.String("url", conn.ConnectedUrl()),
		zap.String("server_id", conn.ConnectedServerId()),
		zap.Bool("tls", conn.TLSRequired()))

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}
	// Reports need JetStream; find out now, not on the first scan
	if _, err := js.AccountInfo(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("JetStream not available on NATS server (is JetStream enabled?): %w", err)
	}
	logger.Info("JetStream validated successfully")

	return &Client{
		conn:          conn,
		js:            js,
		logger:        logger,
		subjectPrefix: cfg.SubjectPrefix,
		deviceID:      cfg.DeviceID,
		closed:        closed,
	}, nil
}

// connectionOptions assembles reconnect behaviour, connection event
// logging, TLS and authentication. onClosed runs once the connection is
// closed for good.
func connectionOptions(cfg *config.NATSConfig, logger *zap.Logger, onClosed func()) ([]nats.Option, error) {
	opts := []nats.Option{
		nats.Name("hostscan"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", zap.Error(err))
				return
			}
			logger.Info("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			logger.Info("NATS connection closed")
			if onClosed != nil {
				onClosed()
			}
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			fields := []zap.Field{zap.Error(err)}
			if sub != nil {
				fields = append(fields, zap.String("subject", sub.Subject))
			}
			logger.Error("NATS error", fields...)
		}),
	}

	if cfg.TLS.Enabled {
		tlsConfig, err := createTLSConfig(&cfg.TLS, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}
		opts = append(opts, nats.Secure(tlsConfig))

		if cfg.TLS.InsecureSkipVerify {
			logger.Warn("TLS certificate verification is DISABLED - this is insecure and should only be used in development")
		}
	}

	auth, err := authOption(&cfg.Auth)
	if err != nil {
		return nil, err
	}
	logger.Info("NATS authentication", zap.String("type", cfg.Auth.Type))
	if auth != nil {
		opts = append(opts, auth)
	}
	return opts, nil
}

// authOption maps the configured auth type to a connect option; "none"
// needs no option and returns nil
func authOption(cfg *config.AuthConfig) (nats.Option, error) {
	switch cfg.Type {
	case "creds":
		return nats.UserCredentials(cfg.CredsFile), nil
	case "token":
		return nats.Token(cfg.Token), nil
	case "userpass":
		return nats.UserInfo(cfg.Username, cfg.Password), nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("invalid auth type: %s", cfg.Type)
	}
}

// createTLSConfig builds a TLS 1.2+ client config with an optional private
// CA and an optional client certificate for mutual TLS
func createTLSConfig(cfg *config.TLSConfig, logger *zap.Logger) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}

	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("failed to parse CA certificate %s", cfg.CAFile)
		}
		tlsConfig.RootCAs = pool
	}

	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	logger.Info("TLS enabled for NATS connection",
		zap.Bool("client_cert", len(tlsConfig.Certificates) > 0),
		zap.Bool("ca_cert", tlsConfig.RootCAs != nil),
		zap.Bool("skip_verify", cfg.InsecureSkipVerify))
	return tlsConfig, nil
}

// publish sends data to JetStream. With wait set it blocks until the ack,
// an error or publishTimeout; otherwise the outcome is only logged.
func (c *Client) publish(subject string, data []byte, wait bool) error {
	future, err := c.js.PublishAsync(subject, data)
	if err != nil {
		return fmt.Errorf("failed to queue publish to %s: %w", subject, err)
	}

	if !wait {
		go func() {
			select {
			case <-future.Ok():
				c.logger.Debug("Published", zap.String("subject", subject), zap.Int("bytes", len(data)))
			case err := <-future.Err():
				c.logger.Warn("Failed to publish after retries", zap.String("subject", subject), zap.Error(err))
			}
		}()
		return nil
	}

	select {
	case <-future.Ok():
		c.logger.Debug("Published", zap.String("subject", subject), zap.Int("bytes", len(data)))
		return nil
	case err := <-future.Err():
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	case <-time.After(publishTimeout):
		return fmt.Errorf("publish to %s timed out after %v", subject, publishTimeout)
	}
}

func (c *Client) publishJSON(suffix string, v any, wait bool) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s message: %w", suffix, err)
	}
	return c.publish(Subject(c.subjectPrefix, c.deviceID, suffix), data, wait)
}

// PublishReport publishes a scan document to <prefix>.<device>.report and
// waits for the ack so a lost report surfaces as a delivery error
func (c *Client) PublishReport(doc *report.Document) error {
	return c.publishJSON("report", doc, true)
}

// PublishHeartbeat publishes to <prefix>.<device>.heartbeat without waiting
func (c *Client) PublishHeartbeat(hb *stats.Heartbeat) error {
	return c.publishJSON("heartbeat", hb, false)
}

// Subscribe creates a core NATS subscription for request/reply commands
func (c *Client) Subscribe(subject string, handler nats.MsgHandler) (*nats.Subscription, error) {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	c.logger.Info("Subscribed to subject", zap.String("subject", subject))
	return sub, nil
}

// Drain stops the command subscriptions, flushes pending publishes and
// closes the connection. Drain itself is asynchronous, so completion is
// observed through the closed handler; after timeout the connection is
// closed forcibly.
func (c *Client) Drain(timeout time.Duration) error {
	if c.conn.IsClosed() {
		return nil
	}
	c.logger.Info("Draining NATS connection", zap.Duration("timeout", timeout))
	if err := c.conn.Drain(); err != nil {
		c.conn.Close()
		return fmt.Errorf("failed to drain NATS connection: %w", err)
	}

	select {
	case <-c.closed:
		c.logger.Info("NATS drain completed")
		return nil
	case <-time.After(timeout):
		c.logger.Warn("NATS drain timeout, forcing close")
		c.conn.Close()
		return fmt.Errorf("drain timeout after %v", timeout)
	}
}
