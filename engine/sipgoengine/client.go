package sipgoengine

import (
	"context"

	"braces.dev/errtrace"
	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
)

// Transaction is a client transaction as used by the engine.
// [sip.ClientTransaction] implements it.
type Transaction interface {
	Responses() <-chan *sip.Response
	Done() <-chan struct{}
	Err() error
	Terminate()
}

// Client sends SIP requests on behalf of the engine.
type Client interface {
	// Request starts a client transaction for req.
	Request(ctx context.Context, req *sip.Request) (Transaction, error)
	// DigestRequest repeats req with credentials answering the challenge in res.
	DigestRequest(ctx context.Context, req *sip.Request, res *sip.Response, auth sipgo.DigestAuth) (Transaction, error)
	// Ack sends an ACK outside of any transaction.
	Ack(ack *sip.Request) error
	// Close releases the client transports.
	Close() error
}

type sipgoClient struct {
	ua     *sipgo.UserAgent
	client *sipgo.Client
}

func newSipgoClient(name, host string, port int) (*sipgoClient, error) {
	ua, err := sipgo.NewUA(
		sipgo.WithUserAgent(name),
		sipgo.WithUserAgentHostname(host),
	)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}

	opts := []sipgo.ClientOption{sipgo.WithClientHostname(host)}
	if port > 0 {
		opts = append(opts, sipgo.WithClientPort(port))
	}
	client, err := sipgo.NewClient(ua, opts...)
	if err != nil {
		_ = ua.Close()
		return nil, errtrace.Wrap(err)
	}
	return &sipgoClient{ua: ua, client: client}, nil
}

func (c *sipgoClient) Request(ctx context.Context, req *sip.Request) (Transaction, error) {
	tx, err := c.client.TransactionRequest(ctx, req)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	return tx, nil
}

func (c *sipgoClient) DigestRequest(ctx context.Context, req *sip.Request, res *sip.Response, auth sipgo.DigestAuth) (Transaction, error) {
	tx, err := c.client.TransactionDigestAuth(ctx, req, res, auth)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	return tx, nil
}

func (c *sipgoClient) Ack(ack *sip.Request) error {
	return errtrace.Wrap(c.client.WriteRequest(ack))
}

func (c *sipgoClient) Close() error {
	err := c.client.Close()
	if e := c.ua.Close(); err == nil {
		err = e
	}
	return errtrace.Wrap(err)
}
