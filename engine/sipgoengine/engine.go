// Package sipgoengine implements [engine.Engine] on top of the sipgo SIP stack.
//
// Registrations and calls run on background workers. Their progress is queued
// and delivered to event handlers from [Engine.Poll] only, as the engine
// contract requires.
package sipgoengine

//go:generate go tool errtrace -w .

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"braces.dev/errtrace"
	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"

	"github.com/ghettovoice/multisip/account"
	"github.com/ghettovoice/multisip/dns"
	"github.com/ghettovoice/multisip/engine"
	"github.com/ghettovoice/multisip/internal/errorutil"
	"github.com/ghettovoice/multisip/internal/types"
	"github.com/ghettovoice/multisip/log"
)

// Defaults.
const (
	DefaultUserAgent      = "multisip"
	DefaultTransport      = "udp"
	DefaultRegisterExpiry = time.Hour
	unregisterTimeout     = 5 * time.Second
)

// ErrTransactionTerminated is returned when a transaction ends without a final response.
const ErrTransactionTerminated errorutil.Error = "transaction terminated"

// Options are options of an [Engine].
type Options struct {
	// UserAgent is the User-Agent header value. If empty, [DefaultUserAgent] is used.
	UserAgent string
	// Host is the local hostname or IP used in Via and Contact headers.
	Host string
	// Port is the local port used in Contact headers. If zero, 5060 is advertised.
	Port int
	// Transport is one of udp, tcp, tls, ws, wss. If empty, [DefaultTransport] is used.
	Transport string
	// RegisterExpiry is the requested registration lifetime.
	// If zero, [DefaultRegisterExpiry] is used.
	RegisterExpiry time.Duration
	// Resolver discovers registrars of account domains.
	// If nil, the [dns.DefaultResolver] is used.
	Resolver dns.Lookuper
	// Client sends the requests. If nil, a sipgo client is created.
	Client Client
	// Log is the logger used by the engine.
	// If nil, the [log.Default] is used.
	Log *slog.Logger
}

func (o *Options) userAgent() string {
	if o == nil || o.UserAgent == "" {
		return DefaultUserAgent
	}
	return o.UserAgent
}

func (o *Options) host() string {
	if o == nil || o.Host == "" {
		return "127.0.0.1"
	}
	return o.Host
}

func (o *Options) port() int {
	if o == nil || o.Port <= 0 {
		return 5060
	}
	return o.Port
}

func (o *Options) transport() string {
	if o == nil || o.Transport == "" {
		return DefaultTransport
	}
	return strings.ToLower(o.Transport)
}

func (o *Options) registerExpiry() time.Duration {
	if o == nil || o.RegisterExpiry <= 0 {
		return DefaultRegisterExpiry
	}
	return o.RegisterExpiry
}

func (o *Options) resolver() dns.Lookuper {
	if o == nil || o.Resolver == nil {
		return dns.DefaultResolver()
	}
	return o.Resolver
}

func (o *Options) log() *slog.Logger {
	if o == nil || o.Log == nil {
		return log.Default()
	}
	return o.Log
}

// Engine is a SIP engine backed by sipgo.
type Engine struct {
	client    Client
	host      string
	port      int
	transport string
	expiry    time.Duration
	resolver  dns.Lookuper
	instance  string
	log       *slog.Logger

	ctx    context.Context //nolint:containedctx
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	proxies  map[engine.ProxyHandle]*proxy
	calls    map[engine.CallHandle]*call
	defProxy engine.ProxyHandle
	micOn    bool
	closed   bool

	events    types.Queue[engine.Event]
	callbacks types.Callbacks[engine.EventHandler]
}

var _ engine.Engine = (*Engine)(nil)

type proxy struct {
	handle engine.ProxyHandle
	id     account.Identity
	callID string
	cseq   atomic.Uint32

	// guarded by Engine.mu
	cancel context.CancelFunc
	done   chan struct{}
}

type call struct {
	handle engine.CallHandle
	from   *proxy
	to     sip.Uri
}

// New creates an engine.
func New(opts *Options) (*Engine, error) {
	client := opts.clientOrNil()
	if client == nil {
		c, err := newSipgoClient(opts.userAgent(), opts.host(), opts.listenPort())
		if err != nil {
			return nil, errtrace.Wrap(fmt.Errorf("create sip client: %w", err))
		}
		client = c
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		client:    client,
		host:      opts.host(),
		port:      opts.port(),
		transport: opts.transport(),
		expiry:    opts.registerExpiry(),
		resolver:  opts.resolver(),
		instance:  uuid.NewString(),
		log:       opts.log(),
		ctx:       ctx,
		cancel:    cancel,
		proxies:   make(map[engine.ProxyHandle]*proxy),
		calls:     make(map[engine.CallHandle]*call),
		micOn:     true,
	}, nil
}

func (o *Options) listenPort() int {
	if o == nil {
		return 0
	}
	return o.Port
}

func (o *Options) clientOrNil() Client {
	if o == nil {
		return nil
	}
	return o.Client
}

// CreateProxy creates a proxy config for the identity and starts registering it.
func (e *Engine) CreateProxy(_ context.Context, id account.Identity) (engine.ProxyHandle, error) {
	if !id.IsValid() {
		return engine.ProxyHandle{}, errtrace.Wrap(errorutil.NewInvalidArgumentError("invalid identity"))
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return engine.ProxyHandle{}, errtrace.Wrap(engine.ErrEngineClosed)
	}

	p := &proxy{
		handle: engine.NewProxyHandle(),
		id:     id,
		callID: uuid.NewString(),
	}
	e.proxies[p.handle] = p
	e.startRegistration(p)
	return p.handle, nil
}

// EnableProxy restarts the registration of the proxy config.
func (e *Engine) EnableProxy(_ context.Context, h engine.ProxyHandle) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.proxy(h)
	if err != nil {
		return errtrace.Wrap(err)
	}
	e.startRegistration(p)
	return nil
}

// DisableProxy stops refreshing the registration and unregisters the contact.
// Cleared is reported once the registrar answered.
func (e *Engine) DisableProxy(_ context.Context, h engine.ProxyHandle) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.proxy(h)
	if err != nil {
		return errtrace.Wrap(err)
	}

	prev := e.stopRegistration(p)
	e.wg.Add(1)
	go e.unregister(p, prev)
	return nil
}

// SetDefaultProxy selects the proxy config used by [Engine.Invite].
func (e *Engine) SetDefaultProxy(h engine.ProxyHandle) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.proxy(h); err != nil {
		return errtrace.Wrap(err)
	}
	e.defProxy = h
	return nil
}

// Invite places a call to addr from the default proxy config.
func (e *Engine) Invite(_ context.Context, addr string) (engine.CallHandle, error) {
	var to sip.Uri
	if err := sip.ParseUri(addr, &to); err != nil {
		return engine.CallHandle{}, errtrace.Wrap(errorutil.NewInvalidArgumentError("parse %q: %w", addr, err))
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return engine.CallHandle{}, errtrace.Wrap(engine.ErrEngineClosed)
	}
	from, ok := e.proxies[e.defProxy]
	if !ok {
		return engine.CallHandle{}, errtrace.Wrap(engine.ErrNoDefaultProxy)
	}

	c := &call{
		handle: engine.NewCallHandle(),
		from:   from,
		to:     to,
	}
	e.calls[c.handle] = c
	e.events.Push(engine.CallEvent{Call: c.handle, State: engine.CallOutgoingInit, Message: "Starting outgoing call"})

	e.wg.Add(1)
	go e.invite(e.ctx, c)
	return c.handle, nil
}

// Poll delivers the queued events to the handlers.
func (e *Engine) Poll(ctx context.Context) {
	for _, evt := range e.events.Drain() {
		for fn := range e.callbacks.All() {
			fn(ctx, evt)
		}
	}
}

// OnEvent registers an event handler.
func (e *Engine) OnEvent(fn engine.EventHandler) (cancel func()) {
	return e.callbacks.Add(fn)
}

// CallsCount returns the number of calls not yet released.
func (e *Engine) CallsCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

// SetMicEnabled stores the microphone flag. Media is not handled by the engine.
func (e *Engine) SetMicEnabled(enabled bool) {
	e.mu.Lock()
	e.micOn = enabled
	e.mu.Unlock()
}

// MicEnabled reports the microphone flag.
func (e *Engine) MicEnabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.micOn
}

// Close stops every worker and releases the SIP client.
// Registrations are not cleared; unregistrations already in flight are awaited.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	for _, p := range e.proxies {
		e.stopRegistration(p)
	}
	e.mu.Unlock()

	e.cancel()
	e.wg.Wait()
	return errtrace.Wrap(e.client.Close())
}

func (e *Engine) proxy(h engine.ProxyHandle) (*proxy, error) {
	if e.closed {
		return nil, errtrace.Wrap(engine.ErrEngineClosed)
	}
	p, ok := e.proxies[h]
	if !ok {
		return nil, errtrace.Wrap(engine.ErrUnknownHandle)
	}
	return p, nil
}

// startRegistration replaces the registration worker of p. Called under e.mu.
func (e *Engine) startRegistration(p *proxy) {
	prev := e.stopRegistration(p)

	ctx, cancel := context.WithCancel(e.ctx)
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done

	e.events.Push(engine.RegistrationEvent{Proxy: p.handle, State: engine.RegistrationProgress, Message: "Registration in progress"})

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer close(done)
		defer cancel()

		if prev != nil {
			<-prev
		}
		e.register(ctx, p)
	}()
}

// stopRegistration cancels the registration worker of p and returns its done channel.
// Called under e.mu.
func (e *Engine) stopRegistration(p *proxy) <-chan struct{} {
	if p.cancel == nil {
		return nil
	}
	p.cancel()
	done := p.done
	p.cancel = nil
	p.done = nil
	return done
}

func (e *Engine) pushRegistration(p *proxy, state engine.RegistrationState, msg string) {
	e.events.Push(engine.RegistrationEvent{Proxy: p.handle, State: state, Message: msg})
}

func (e *Engine) pushCall(c *call, state engine.CallState, msg, reason string) {
	e.events.Push(engine.CallEvent{Call: c.handle, State: state, Message: msg, Reason: reason})
}

// register keeps the registration of p alive until ctx is done.
func (e *Engine) register(ctx context.Context, p *proxy) {
	logger := e.log.With(slog.Any("proxy", p.handle), slog.Any("identity", p.id))

	for {
		res, err := e.sendRegister(ctx, p, e.expiry)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			logger.LogAttrs(ctx, slog.LevelDebug, "register failed", slog.Any("error", err))
			e.pushRegistration(p, engine.RegistrationFailed, err.Error())
			return
		}
		if !res.IsSuccess() {
			e.pushRegistration(p, engine.RegistrationFailed, statusMessage(res))
			return
		}

		expiry := grantedExpiry(res, e.expiry)
		e.pushRegistration(p, engine.RegistrationOk, "Registration successful")
		logger.LogAttrs(ctx, slog.LevelDebug, "registered", slog.Duration("expiry", expiry))

		select {
		case <-ctx.Done():
			return
		case <-time.After(refreshDelay(expiry)):
		}
		e.pushRegistration(p, engine.RegistrationProgress, "Refreshing registration")
	}
}

func (e *Engine) unregister(p *proxy, prev <-chan struct{}) {
	defer e.wg.Done()

	if prev != nil {
		<-prev
	}

	ctx, cancel := context.WithTimeout(context.Background(), unregisterTimeout)
	defer cancel()

	res, err := e.sendRegister(ctx, p, 0)
	switch {
	case err != nil:
		e.log.LogAttrs(ctx, slog.LevelDebug, "unregister failed",
			slog.Any("proxy", p.handle),
			slog.Any("error", err),
		)
		e.pushRegistration(p, engine.RegistrationCleared, "Unregistration failed: "+err.Error())
	case !res.IsSuccess():
		e.pushRegistration(p, engine.RegistrationCleared, "Unregistration failed: "+statusMessage(res))
	default:
		e.pushRegistration(p, engine.RegistrationCleared, "Unregistration done")
	}
}

func (e *Engine) sendRegister(ctx context.Context, p *proxy, expiry time.Duration) (*sip.Response, error) {
	target := dns.ResolveRegistrar(ctx, e.resolver, p.id.Domain(), e.transport)[0]
	e.log.LogAttrs(ctx, slog.LevelDebug, "sending REGISTER",
		slog.Any("proxy", p.handle),
		slog.Any("target", log.StringerValue(target)),
		slog.Duration("expiry", expiry),
	)

	var recipient sip.Uri
	if err := sip.ParseUri("sip:"+p.id.Domain(), &recipient); err != nil {
		return nil, errtrace.Wrap(err)
	}

	req := sip.NewRequest(sip.REGISTER, recipient)
	req.SetTransport(strings.ToUpper(e.transport))
	req.SetDestination(target.String())
	e.setDialogHeaders(req, p, p.id.URI(), sip.REGISTER)
	req.AppendHeader(e.contact(p.id))
	exp := sip.ExpiresHeader(uint32(expiry / time.Second))
	req.AppendHeader(&exp)

	return errtrace.Wrap2(e.transact(ctx, req, p.id, nil))
}

func (e *Engine) invite(ctx context.Context, c *call) {
	defer e.wg.Done()

	req := sip.NewRequest(sip.INVITE, c.to)
	req.SetTransport(strings.ToUpper(e.transport))
	if c.to.Port == 0 {
		target := dns.ResolveRegistrar(ctx, e.resolver, c.to.Host, e.transport)[0]
		req.SetDestination(target.String())
	}
	e.setDialogHeaders(req, c.from, c.to, sip.INVITE)
	req.AppendHeader(e.contact(c.from.id))

	var ringing bool
	res, err := e.transact(ctx, req, c.from.id, func(res *sip.Response) {
		switch {
		case res.StatusCode == sip.StatusTrying:
			e.pushCall(c, engine.CallOutgoingProgress, "Outgoing call in progress", "")
		case !ringing:
			ringing = true
			e.pushCall(c, engine.CallOutgoingRinging, "Remote ringing", "")
		}
	})
	switch {
	case err != nil:
		e.releaseCall(c, "Call failed", err.Error())
	case res.IsSuccess():
		if err := e.client.Ack(sip.NewAckRequest(req, res, nil)); err != nil {
			e.log.LogAttrs(ctx, slog.LevelWarn, "failed to send ACK",
				slog.Any("call", c.handle),
				slog.Any("error", err),
			)
		}
		e.pushCall(c, engine.CallConnected, "Connected", "")
	default:
		e.releaseCall(c, "Call failed", statusMessage(res))
	}
}

func (e *Engine) releaseCall(c *call, msg, reason string) {
	e.mu.Lock()
	delete(e.calls, c.handle)
	e.mu.Unlock()

	e.pushCall(c, engine.CallError, msg, reason)
	e.pushCall(c, engine.CallReleased, "Call released", reason)
}

// transact runs a client transaction for req, answering one digest challenge
// with the identity credentials. It returns the final response.
func (e *Engine) transact(ctx context.Context, req *sip.Request, id account.Identity, onProvisional func(res *sip.Response)) (*sip.Response, error) {
	tx, err := e.client.Request(ctx, req)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	res, err := waitFinal(ctx, tx, onProvisional)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	e.log.LogAttrs(ctx, slog.LevelDebug, "final response received",
		slog.Any("request", req),
		slog.Any("response", res),
	)
	if res.StatusCode != sip.StatusUnauthorized && res.StatusCode != sip.StatusProxyAuthRequired {
		return res, nil
	}

	tx, err = e.client.DigestRequest(ctx, req, res, sipgo.DigestAuth{
		Username: id.Username(),
		Password: id.Password(),
	})
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	return errtrace.Wrap2(waitFinal(ctx, tx, onProvisional))
}

func waitFinal(ctx context.Context, tx Transaction, onProvisional func(res *sip.Response)) (*sip.Response, error) {
	defer tx.Terminate()

	for {
		select {
		case res := <-tx.Responses():
			if res.IsProvisional() {
				if onProvisional != nil {
					onProvisional(res)
				}
				continue
			}
			return res, nil
		case <-tx.Done():
			if err := tx.Err(); err != nil {
				return nil, errtrace.Wrap(err)
			}
			return nil, errtrace.Wrap(ErrTransactionTerminated)
		case <-ctx.Done():
			return nil, errtrace.Wrap(ctx.Err())
		}
	}
}

func (e *Engine) setDialogHeaders(req *sip.Request, p *proxy, to sip.Uri, method sip.RequestMethod) {
	from := &sip.FromHeader{
		Address: p.id.URI(),
		Params:  sip.NewParams(),
	}
	from.Params.Add("tag", sip.GenerateTagN(16))
	req.AppendHeader(from)
	req.AppendHeader(&sip.ToHeader{
		Address: to,
		Params:  sip.NewParams(),
	})

	callID := sip.CallIDHeader(p.callID)
	if method != sip.REGISTER {
		callID = sip.CallIDHeader(uuid.NewString())
	}
	req.AppendHeader(&callID)
	req.AppendHeader(&sip.CSeqHeader{SeqNo: p.cseq.Add(1), MethodName: method})
	maxFwd := sip.MaxForwardsHeader(70)
	req.AppendHeader(&maxFwd)
}

func (e *Engine) contact(id account.Identity) *sip.ContactHeader {
	var u sip.Uri
	addr := fmt.Sprintf("sip:%s@%s:%d;transport=%s", id.Username(), e.host, e.port, e.transport)
	if err := sip.ParseUri(addr, &u); err != nil {
		u = id.URI()
	}
	hdr := &sip.ContactHeader{
		Address: u,
		Params:  sip.NewParams(),
	}
	hdr.Params.Add("+sip.instance", fmt.Sprintf(`"<urn:uuid:%s>"`, e.instance))
	return hdr
}

func statusMessage(res *sip.Response) string {
	return fmt.Sprintf("%d %s", res.StatusCode, res.Reason)
}

// grantedExpiry returns the expiry granted by the registrar in the Expires header,
// or def when the header is absent.
func grantedExpiry(res *sip.Response, def time.Duration) time.Duration {
	hdr := res.GetHeader("Expires")
	if hdr == nil {
		return def
	}
	var secs uint32
	if _, err := fmt.Sscanf(hdr.Value(), "%d", &secs); err != nil || secs == 0 {
		return def
	}
	return time.Duration(secs) * time.Second
}

// refreshDelay schedules a refresh before the registration expires.
func refreshDelay(expiry time.Duration) time.Duration {
	if expiry <= 2*time.Minute {
		return expiry / 2
	}
	return expiry - time.Minute
}

