package app

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/embedble/centrald"
	"github.com/embedble/centrald/att"
	"github.com/embedble/centrald/cache"
	"github.com/embedble/centrald/gatt"
	"github.com/embedble/centrald/l2cap"
	"github.com/embedble/centrald/ll"
	"github.com/embedble/centrald/radio"
	"github.com/embedble/centrald/timing"
)

// errorCoolDown is the fixed pause in StateError before returning to Idle
// (§4.10: "on Error, a fixed 3 s cool-down then return to Idle").
const errorCoolDown = 3 * time.Second

// Device is the application-facing state machine (§4.10). It owns one
// ll.Engine and the att/gatt clients layered on it, and sequences
// scan/connect/send/disconnect through an explicit state enum.
type Device struct {
	localAddr [6]byte
	peerAddr  [6]byte
	driver    radio.Driver
	clock     timing.Clock
	log       ble.Logger
	recorder  *cache.Recorder

	scanFilter ll.AdvFilter
	connParams ll.ConnParams
	maxRetries int
	retryDelay time.Duration
	autoReconn bool
	forcedProf *gatt.Profile
	authHook   gatt.AuthHook

	engine  *ll.Engine
	mux     *l2cap.Mux
	attCli  *att.Client
	gattCli *gatt.Client

	mu    sync.Mutex
	state State

	runDone chan struct{}

	// connectAttempt performs one scan+connect attempt; defaults to
	// d.connectOnce. Tests substitute a stub to exercise the retry/backoff
	// loop without a real radio.
	connectAttempt func(ctx context.Context) error
}

// New constructs a Device in StateInit. Unset options take the defaults
// (ll.DefaultConnParams, 3 retries 500 ms apart) and a radio.Loopback pair
// if OptRadio is never supplied.
func New(localAddr [6]byte, opts ...Option) (*Device, error) {
	d := &Device{
		localAddr:  localAddr,
		clock:      timing.NewSystem(),
		connParams: ll.DefaultConnParams,
		maxRetries: 3,
		retryDelay: 500 * time.Millisecond,
		recorder:   cache.NewRecorder(),
		state:      StateInit,
	}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, errors.Wrap(err, "app: apply option")
		}
	}
	if d.log == nil {
		d.log = ble.GetLogger()
	}
	if d.driver == nil {
		a, b := radio.NewLoopback(), radio.NewLoopback()
		radio.Pair(a, b)
		d.driver = a
	}
	d.connectAttempt = d.connectOnce

	d.setState(StateIdle)
	return d, nil
}

// State returns the current application state.
func (d *Device) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Device) setState(s State) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
	d.log.Debugf("app: state -> %s", s)
}

// --- DeviceOption ---

func (d *Device) SetScanParams(filter ll.AdvFilter) error {
	d.scanFilter = filter
	return nil
}

func (d *Device) SetConnParams(params ll.ConnParams) error {
	d.connParams = params
	return nil
}

func (d *Device) SetRetryPolicy(maxRetries int, retryDelay time.Duration) error {
	if maxRetries < 0 {
		return ble.NewError("app.SetRetryPolicy", ble.KindParam, errors.New("maxRetries must be >= 0"))
	}
	d.maxRetries = maxRetries
	d.retryDelay = retryDelay
	return nil
}

func (d *Device) SetAutoReconnect(enabled bool) error {
	d.autoReconn = enabled
	return nil
}

func (d *Device) SetProfile(p gatt.Profile) error {
	d.forcedProf = &p
	return nil
}

func (d *Device) SetAuthHook(hook gatt.AuthHook) error {
	d.authHook = hook
	return nil
}

func (d *Device) SetRadio(drv radio.Driver) error {
	d.driver = drv
	return nil
}

func (d *Device) SetLogger(l ble.Logger) error {
	d.log = l
	return nil
}

// --- lifecycle ---

// Connect scans for a peer accepted by the configured filter, establishes
// a connection, and runs the connection-event loop in the background. It
// retries up to the configured retry policy on scan/connect failure
// (§4.10).
func (d *Device) Connect(ctx context.Context) error {
	if d.State() != StateIdle {
		return ble.NewError("app.Connect", ble.KindBusy, nil)
	}

	var lastErr error
	for attempt := 0; attempt <= d.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d.retryDelay):
			}
		}

		if err := d.connectAttempt(ctx); err != nil {
			lastErr = err
			d.log.Warnf("app: connect attempt %d failed: %v", attempt+1, err)
			continue
		}
		return nil
	}

	d.enterError(lastErr)
	return lastErr
}

func (d *Device) connectOnce(ctx context.Context) error {
	d.setState(StateScanning)

	cb := ll.Callbacks{
		OnDisconnected: d.onDisconnected,
	}
	d.engine = ll.New(d.driver, d.clock, d.log, cb)

	match, err := d.engine.Scan(ctx, d.scanFilter)
	if err != nil {
		d.setState(StateIdle)
		return errors.Wrap(err, "app: scan")
	}
	d.peerAddr = match.PeerAddr

	d.setState(StateConnecting)
	if err := d.engine.Connect(d.localAddr, match, d.connParams); err != nil {
		d.setState(StateIdle)
		return errors.Wrap(err, "app: connect")
	}

	return d.wirePostConnect()
}

// wirePostConnect layers l2cap/att/gatt onto an already-connected engine
// and starts its event loop. Split out of connectOnce so tests can drive
// it directly against a hand-seeded Engine, skipping the scan/CONNECT_REQ
// handshake the way ll/engine_test.go's newConnectedEngine does.
func (d *Device) wirePostConnect() error {
	d.mux = l2cap.New(d.engine, d.log)
	d.mux.Attach(&d.engine.Callbacks)
	d.attCli = att.New(d.mux, d.log)
	d.mux.OnSDU = d.attCli.Deliver

	prevIdle := d.engine.Callbacks.OnTxIdle
	d.engine.Callbacks.OnTxIdle = func() {
		d.recordSnapshot()
		if prevIdle != nil {
			prevIdle()
		}
	}

	// The engine's foreground loop must already be pumping connection
	// events before any ATT request is issued: QueueTX'd fragments only
	// go on the air from OnTxIdle, which fires from inside
	// runConnectionEvent. Starting Run here, then immediately exchanging
	// MTU and selecting the profile, mirrors the real device bring-up
	// sequence instead of deadlocking on the first request.
	d.runDone = make(chan struct{})
	go func() {
		defer close(d.runDone)
		if err := d.engine.Run(context.Background()); err != nil {
			d.log.Warnf("app: connection event loop exited: %v", err)
		}
	}()

	if _, err := d.attCli.ExchangeMTU(att.MaxMTU); err != nil {
		d.log.Warnf("app: MTU exchange failed, staying at default: %v", err)
	}

	d.gattCli = gatt.New(d.attCli, d.log)
	d.gattCli.AuthHook = d.authHook
	if d.forcedProf != nil {
		if err := d.gattCli.SetProfile(*d.forcedProf); err != nil {
			d.abortRun()
			return errors.Wrap(err, "app: profile selection")
		}
	} else if err := d.gattCli.SelectProfile(); err != nil {
		d.abortRun()
		return errors.Wrap(err, "app: profile selection")
	}
	if err := d.gattCli.EnableNotifications(); err != nil {
		d.log.Warnf("app: enable notifications failed: %v", err)
	}

	d.setState(StateConnected)
	return nil
}

// abortRun tears down an event loop started by wirePostConnect when a
// post-connect step (profile selection) fails, so the
// goroutine doesn't leak past the failed attempt.
func (d *Device) abortRun() {
	d.setState(StateIdle)
	d.engine.Disconnect()
	<-d.runDone
}

// SendText writes s to the connected peripheral's TX characteristic,
// fragmenting at MTU-3 with the mandated inter-chunk spacing (§4.9).
func (d *Device) SendText(s string) error {
	if d.State() != StateConnected {
		return ble.NewError("app.SendText", ble.KindNotConnected, nil)
	}
	d.setState(StateSending)
	defer d.setState(StateConnected)
	return d.gattCli.WriteText(s)
}

// Disconnect tears down the connection with a local-initiated reason
// (§7: 0x13).
func (d *Device) Disconnect() {
	if d.State() != StateConnected && d.State() != StateSending {
		return
	}
	d.setState(StateDisconnecting)
	d.engine.Disconnect()
	<-d.runDone
}

// recordSnapshot captures the live connection context into the cache
// Recorder for diagnostic logging (§6: in-memory only, never persisted).
func (d *Device) recordSnapshot() {
	ctx := d.engine.Context()
	profile := ""
	if d.gattCli != nil {
		profile = d.gattCli.Profile().String()
	}
	d.recorder.Put(ble.NewAddrFromBytes(d.peerAddr), cache.Snapshot{
		ProfileTag:         profile,
		MTU:                d.attCli.MTU(),
		EventCounter:       ctx.EventCounter,
		ConsecutiveCRCErrs: ctx.ConsecutiveCRCErrors,
		TotalCRCErrs:       ctx.TotalCRCErrors,
		LastRSSI:           ctx.LastRSSI,
	})
}

func (d *Device) onDisconnected(reason uint8) {
	d.recorder.Remove(ble.NewAddrFromBytes(d.peerAddr))
	if d.attCli != nil {
		d.attCli.Close()
	}
	wasConnected := d.State() == StateConnected || d.State() == StateSending
	d.setState(StateIdle)

	if wasConnected && d.autoReconn && reason == ll.ReasonSupervisionTimeout {
		go func() {
			if err := d.Connect(context.Background()); err != nil {
				d.log.Warnf("app: auto-reconnect failed: %v", err)
			}
		}()
	}
}

func (d *Device) enterError(cause error) {
	d.setState(StateError)
	d.log.Errorf("app: entering Error state: %v", cause)
	time.AfterFunc(errorCoolDown, func() { d.setState(StateIdle) })
}
