// Package ws implements the event channel over a websocket connection.
//
// Every frame is a JSON text message. Outbound events look like
// {"type":"event","event":"join-room","data":{...},"id":"..."}, where id is
// only set when an acknowledgement is expected. The server answers with
// {"type":"ack","id":"...","data":{...}} and pushes events in the same
// envelope as outbound ones.
package ws

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/SvelteTick/Impostr/internal/dependencies/random"
	"github.com/SvelteTick/Impostr/internal/transport"
)

// Dialer opens websocket channels
type Dialer struct {
	cfg        Config
	httpClient *http.Client
	random     random.Random
	logger     *slog.Logger
}

var _ transport.Dialer = (*Dialer)(nil)

// NewDialer creates a Dialer. httpClient may be nil.
func NewDialer(cfg Config, rnd random.Random, logger *slog.Logger, httpClient *http.Client) *Dialer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dialer{
		cfg:        cfg.withDefaults(),
		httpClient: httpClient,
		random:     rnd,
		logger:     logger,
	}
}

// Dial connects with token as bearer credential. The returned channel
// reconnects on its own after transient failures.
func (d *Dialer) Dial(ctx context.Context, token string) (transport.Channel, error) {
	clientID := uuid.NewString()
	conn, err := d.connect(ctx, token, clientID)
	if err != nil {
		return nil, err
	}

	logger := d.logger.With(slog.String("client_id", clientID))
	logger.Debug("channel connected", slog.String("url", d.cfg.URL))

	return newChannel(d, conn, token, clientID, logger), nil
}

func (d *Dialer) connect(ctx context.Context, token, clientID string) (*websocket.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.HandshakeTimeout)
	defer cancel()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	header.Set("X-Client-Id", clientID)

	conn, resp, err := websocket.Dial(ctx, d.cfg.URL, &websocket.DialOptions{
		HTTPClient: d.httpClient,
		HTTPHeader: header,
	})
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: status %d", transport.ErrUnauthorized, resp.StatusCode)
		}
		return nil, fmt.Errorf("failed to connect to %s: %w", d.cfg.URL, err)
	}
	return conn, nil
}
