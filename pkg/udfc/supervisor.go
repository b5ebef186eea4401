package udfc

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jrepp/prism-udf/pkg/procmgr"
	"github.com/jrepp/prism-udf/pkg/transport"
)

// reloadDebounce coalesces the burst of events an editor or installer
// produces when replacing the worker binary
const reloadDebounce = 200 * time.Millisecond

var errWorkerExitedEarly = errors.New("worker exited before accepting connections")

// spawn starts a new worker generation along with its exit observer and
// readiness probe
func (r *reactor) spawn() error {
	path, err := procmgr.ResolveExecutable(r.cfg.WorkerPath)
	if err != nil {
		return err
	}
	r.workerPath = path

	env := append(r.cfg.Endpoint.Env(), r.cfg.WorkerEnv...)
	p, err := procmgr.Start(path,
		procmgr.WithEnv(env...),
		procmgr.WithLogger(r.logger.With("component", "worker")),
	)
	if err != nil {
		return err
	}

	r.generation++
	r.worker = p
	r.workerPID.Store(int64(p.Pid()))
	r.metrics.WorkerSpawned()

	gen := r.generation
	probeCtx, cancel := context.WithCancel(r.ctx)
	r.probeCancel = cancel

	go r.observe(p, gen)
	go r.probe(probeCtx, p, gen)

	r.logger.Info("worker spawned", "pid", p.Pid(), "generation", gen, "path", path)
	return nil
}

func (r *reactor) observe(p *procmgr.Process, gen uint64) {
	<-p.Done()
	r.post(workerExitEvent{gen: gen, status: p.ExitStatus()})
}

// probe dials the endpoint until the worker accepts a connection
func (r *reactor) probe(ctx context.Context, p *procmgr.Process, gen uint64) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.StartTimeout)
	defer cancel()

	ticker := time.NewTicker(r.cfg.ProbeInterval)
	defer ticker.Stop()

	var lastErr error
	for {
		nc, err := transport.Dial(ctx, r.cfg.Endpoint)
		if err == nil {
			nc.Close()
			r.post(workerReadyEvent{gen: gen})
			return
		}
		lastErr = err

		select {
		case <-ticker.C:
		case <-p.Done():
			r.post(workerReadyEvent{gen: gen, err: errWorkerExitedEarly})
			return
		case <-ctx.Done():
			r.post(workerReadyEvent{gen: gen, err: fmt.Errorf("readiness probe: %w (last dial error: %v)", ctx.Err(), lastErr)})
			return
		}
	}
}

func (r *reactor) onWorkerExit(ev workerExitEvent) {
	if ev.gen != r.generation || r.worker == nil {
		return
	}

	pid := r.worker.Pid()
	r.worker = nil
	r.workerPID.Store(0)
	r.cancelProbe()

	expected := r.reloading && ev.status.Clean(r.stopSignal)
	r.reloading = false
	r.metrics.WorkerExited(expected)

	if expected {
		r.logger.Info("worker exited for reload", "pid", pid, "status", ev.status.String())
	} else {
		r.logger.Warn("worker exited", "pid", pid, "status", ev.status.String(), "state", r.state.Load().String())
	}

	switch r.state.Load() {
	case StateStarting:
		r.startupFailed(fmt.Errorf("%w: %s", errWorkerExitedEarly, ev.status.String()))

	case StateReady:
		if !r.state.TransitionFrom(StateRestarting, StateReady) {
			return
		}
		r.failAll(errRestarting)
		r.respawn()

	case StateRestarting:
		r.failAll(errRestarting)
		r.scheduleRespawn()
	}
}

func (r *reactor) onWorkerReady(ev workerReadyEvent) {
	if ev.gen != r.generation || r.worker == nil {
		return
	}
	r.cancelProbe()

	if ev.err != nil {
		switch r.state.Load() {
		case StateStarting:
			r.startupFailed(ev.err)
		case StateRestarting:
			// The exit event schedules the next attempt
			r.logger.Warn("restarted worker never became ready", "pid", r.worker.Pid(), "error", ev.err)
			if err := r.worker.Kill(); err != nil {
				r.logger.Debug("failed to kill worker", "pid", r.worker.Pid(), "error", err)
			}
		}
		return
	}

	switch r.state.Load() {
	case StateStarting:
		if err := r.state.Transition(StateReady); err != nil {
			r.startupFailed(err)
			return
		}
		r.logger.Info("worker ready", "pid", r.worker.Pid())
		r.started <- nil

	case StateRestarting:
		if r.state.TransitionFrom(StateReady, StateRestarting) {
			r.logger.Info("worker ready after restart", "pid", r.worker.Pid(), "attempts", r.backoff.Attempts())
			r.backoff.Reset()
		}
	}
}

func (r *reactor) respawn() {
	if err := r.spawn(); err != nil {
		r.logger.Error("failed to respawn worker", "path", r.cfg.WorkerPath, "error", err)
		r.scheduleRespawn()
	}
}

func (r *reactor) scheduleRespawn() {
	delay := r.backoff.Next()
	r.metrics.WorkerRestartBackoff(delay)
	r.logger.Info("scheduling worker respawn", "delay", delay, "attempt", r.backoff.Attempts())

	time.AfterFunc(delay, func() {
		r.post(respawnEvent{})
	})
}

func (r *reactor) cancelProbe() {
	if r.probeCancel != nil {
		r.probeCancel()
		r.probeCancel = nil
	}
}

// startupFailed releases the startup barrier with a spawn failure and ends
// the reactor loop
func (r *reactor) startupFailed(cause error) {
	if r.exit {
		return
	}
	r.exit = true
	r.cancelProbe()

	if r.worker != nil {
		p := r.worker
		r.worker = nil
		r.workerPID.Store(0)
		if err := p.Terminate(r.stopSignal, r.cfg.StopGracePeriod); err != nil {
			r.logger.Error("failed to terminate worker", "pid", p.Pid(), "error", err)
		}
	}

	for _, e := range r.submit.close() {
		if e.op != opCancel {
			r.resolve(e, nil, errStopping())
		}
	}

	r.logger.Error("worker startup failed", "path", r.cfg.WorkerPath, "error", cause)
	r.started <- errSpawnFailed(r.cfg.WorkerPath, cause)
}

func (r *reactor) onReload() {
	if r.state.Load() != StateReady || r.worker == nil {
		return
	}

	r.logger.Info("worker executable changed, restarting worker", "pid", r.worker.Pid(), "path", r.workerPath)
	r.reloading = true
	if err := r.worker.Signal(r.stopSignal); err != nil {
		r.logger.Warn("failed to signal worker for reload", "pid", r.worker.Pid(), "error", err)
		r.reloading = false
	}
}

// watchWorker posts a reloadEvent when the executable at path is written or
// replaced. The returned func stops the watch.
func (r *reactor) watchWorker(path string) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}

	go func() {
		var debounce *time.Timer
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != path {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(reloadDebounce, func() {
					r.post(reloadEvent{})
				})

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.logger.Warn("worker watch error", "error", err)
			}
		}
	}()

	return func() { watcher.Close() }, nil
}
