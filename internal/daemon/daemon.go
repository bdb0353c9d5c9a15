// Package daemon runs the touchgrass session daemon: the HTTP control
// server, chat channel loops, and the periodic reaper, reconcile, and
// auto-stop timers. Exactly one daemon runs per data dir, enforced with
// a file lock.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"touchgrass/internal/boards"
	"touchgrass/internal/channel"
	"touchgrass/internal/config"
	"touchgrass/internal/manager"
)

var (
	// autoStopAfter is how long the daemon lingers after its last
	// session ends.
	autoStopAfter = 30 * time.Second

	staleAfter        = 30 * time.Second
	reapInterval      = 60 * time.Second
	reconcileInterval = 30 * time.Second
	autoStopPoll      = 5 * time.Second
)

// Daemon wires the control server to its collaborators and owns the
// daemon process lifecycle.
type Daemon struct {
	Manager  *manager.Manager
	Store    *config.Store
	Camp     *Camp
	Events   Events
	Tracker  *boards.Tracker
	Channels []channel.Channel
	Handlers channel.Handlers

	// UseTCP switches the listener from the unix socket to localhost
	// TCP with the port written to the port file.
	UseTCP bool
}

// Run blocks until ctx is cancelled, a shutdown is requested over HTTP,
// or auto-stop fires.
func (d *Daemon) Run(ctx context.Context) error {
	if err := config.EnsureDataDir(); err != nil {
		return err
	}

	fl := flock.New(config.LockFile())
	locked, err := fl.TryLock()
	if err != nil {
		return fmt.Errorf("acquire daemon lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another daemon is already running (lock held)")
	}
	defer fl.Unlock()

	token, err := EnsureAuthToken()
	if err != nil {
		return err
	}

	pidPath := config.PIDFile()
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o600); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	ln, cleanup, err := d.listen()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	srv := NewServer(d.Manager, d.Store, d.Camp, d.Events, token, cancel)
	httpServer := &http.Server{Handler: srv.Handler()}

	log.Printf("daemon: pid %d listening on %s", os.Getpid(), ln.Addr())

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("control server: %w", err)
		}
		return nil
	})

	for _, ch := range d.Channels {
		ch := ch
		g.Go(func() error {
			if err := ch.Start(gctx, d.Handlers); err != nil {
				return fmt.Errorf("start channel %s: %w", ch.Name(), err)
			}
			<-gctx.Done()
			ch.Stop()
			return nil
		})
	}

	g.Go(func() error { return d.reapLoop(gctx) })
	g.Go(func() error { return d.reconcileLoop(gctx) })
	g.Go(func() error { return d.autoStopLoop(gctx, cancel) })

	g.Go(func() error {
		<-gctx.Done()
		d.killAll()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)
		return nil
	})

	err = g.Wait()

	if d.Tracker != nil {
		d.Tracker.Flush()
	}
	os.Remove(config.AuthTokenPath())
	log.Printf("daemon: stopped")
	return err
}

// listen binds the control listener: a unix socket by default, or
// localhost TCP when UseTCP is set. The returned cleanup removes the
// socket or port file.
func (d *Daemon) listen() (net.Listener, func(), error) {
	if d.UseTCP {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return nil, nil, fmt.Errorf("listen on localhost: %w", err)
		}
		port := ln.Addr().(*net.TCPAddr).Port
		portPath := config.PortFile()
		if err := os.WriteFile(portPath, []byte(strconv.Itoa(port)+"\n"), 0o600); err != nil {
			ln.Close()
			return nil, nil, fmt.Errorf("write port file: %w", err)
		}
		return ln, func() {
			ln.Close()
			os.Remove(portPath)
		}, nil
	}

	sockPath := config.SocketPath()
	if _, err := os.Stat(sockPath); err == nil {
		// Probe whether a live daemon still owns the socket.
		conn, err := net.DialTimeout("unix", sockPath, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return nil, nil, fmt.Errorf("daemon already listening on %s", sockPath)
		}
		os.Remove(sockPath)
	}
	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		return nil, nil, fmt.Errorf("listen on socket: %w", err)
	}
	if err := os.Chmod(sockPath, 0o600); err != nil {
		ln.Close()
		os.Remove(sockPath)
		return nil, nil, fmt.Errorf("chmod socket: %w", err)
	}
	return ln, func() {
		ln.Close()
		os.Remove(sockPath)
	}, nil
}

// reapLoop drops sessions whose CLI stopped checking in and tells their
// chats about it.
func (d *Daemon) reapLoop(ctx context.Context) error {
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, info := range d.Manager.StaleRemotes(staleAfter) {
				log.Printf("daemon: reaping stale session %s (%s)", info.ID, info.Command)
				// Notify first: removal detaches the chats the notice goes to.
				d.Events.RemoteDisconnected(ctx, info)
				d.Manager.RemoveRemote(info.ID)
				if d.Tracker != nil {
					d.Tracker.RemoveSession(ctx, info.ID)
				}
			}
		}
	}
}

func (d *Daemon) reconcileLoop(ctx context.Context) error {
	if d.Tracker == nil {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(reconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.Tracker.Reconcile(ctx)
		}
	}
}

// autoStopLoop shuts the daemon down once the last session has been gone
// for autoStopAfter. A daemon that never saw a session stays up, as does
// one serving an active camp controller.
func (d *Daemon) autoStopLoop(ctx context.Context, cancel context.CancelFunc) error {
	ticker := time.NewTicker(autoStopPoll)
	defer ticker.Stop()
	hadSessions := false
	var emptySince time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if d.Manager.Count() > 0 {
				hadSessions = true
				emptySince = time.Time{}
				continue
			}
			if !hadSessions || d.Camp.Active() {
				emptySince = time.Time{}
				continue
			}
			if emptySince.IsZero() {
				emptySince = time.Now()
				continue
			}
			if time.Since(emptySince) >= autoStopAfter {
				log.Printf("daemon: no sessions for %s, stopping", autoStopAfter)
				cancel()
				return nil
			}
		}
	}
}

// killAll queues a kill for every live session so CLIs still polling can
// tear their children down before the daemon goes away.
func (d *Daemon) killAll() {
	sessions := d.Manager.ListSessions()
	if len(sessions) == 0 {
		return
	}
	for _, info := range sessions {
		d.Manager.RequestRemoteKill(info.ID)
	}
	// One input-poll cycle for the CLIs to pick the kills up.
	time.Sleep(500 * time.Millisecond)
}
