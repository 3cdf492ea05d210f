package tor

import (
	"context"
	"fmt"
	"time"

	"github.com/nao1215/tornago"
)

// defaultStartupTimeout covers a cold bootstrap.
const defaultStartupTimeout = 3 * time.Minute

// Daemon is a private Tor process used when no external proxy is
// configured for fetching .onion pages.
type Daemon struct {
	proc    *tornago.TorProcess
	socks   string
	timeout time.Duration
}

// DaemonOption configures a Daemon.
type DaemonOption func(*Daemon)

// WithStartupTimeout bounds the bootstrap wait in Start. Non-positive
// values keep the default.
func WithStartupTimeout(timeout time.Duration) DaemonOption {
	return func(d *Daemon) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// NewDaemon returns a stopped Daemon.
func NewDaemon(opts ...DaemonOption) *Daemon {
	d := &Daemon{timeout: defaultStartupTimeout}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start launches tor with OS-assigned SOCKS and control ports and returns
// once it has bootstrapped.
func (d *Daemon) Start(ctx context.Context) error {
	cfg, err := tornago.NewTorLaunchConfig(
		tornago.WithTorSocksAddr(":0"),
		tornago.WithTorControlAddr(":0"),
		tornago.WithTorStartupTimeout(d.timeout),
	)
	if err != nil {
		return fmt.Errorf("failed to create Tor launch config: %w", err)
	}

	proc, err := tornago.StartTorDaemon(cfg)
	if err != nil {
		return fmt.Errorf("failed to start embedded Tor daemon: %w", err)
	}
	// The bootstrap cannot be interrupted; honor cancellation afterwards.
	if err := ctx.Err(); err != nil {
		_ = proc.Stop() //nolint:errcheck // already failing
		return err
	}

	d.proc, d.socks = proc, proc.SocksAddr()
	return nil
}

// Stop terminates the process. Stopping a stopped Daemon is a no-op.
func (d *Daemon) Stop() error {
	if d.proc == nil {
		return nil
	}
	proc := d.proc
	d.proc, d.socks = nil, ""
	return proc.Stop()
}

// SocksAddr is the SOCKS5 listener of the running process.
func (d *Daemon) SocksAddr() string { return d.socks }

// Running reports whether Start succeeded and Stop has not been called.
func (d *Daemon) Running() bool { return d.proc != nil }

// NewClient returns a proxy client bound to the daemon.
func (d *Daemon) NewClient(timeout time.Duration) (*Client, error) {
	if !d.Running() {
		return nil, ErrNotRunning
	}
	return NewClient(d.socks, timeout)
}
