package recognize

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrEngineClosed is returned by Recognize after Close.
var ErrEngineClosed = errors.New("recognition engine closed")

// WorkerConfig describes how to launch recognition worker processes.
type WorkerConfig struct {
	// Command is the worker executable and its leading arguments, e.g.
	// ["python3", "/app/scripts/ocr_worker.py"]. The engine appends
	// "--socket <path> --langs <codes>".
	Command []string
	// Env is appended to the current environment.
	Env []string
	// SocketDir holds the workers' unix sockets.
	SocketDir string
	// Workers is the number of processes per engine.
	Workers int
	// StartTimeout bounds how long a worker may take to open its socket.
	StartTimeout time.Duration
	// RequestTimeout bounds a single recognition exchange.
	RequestTimeout time.Duration
	// RestartDelay is the pause before a crashed worker is restarted.
	RestartDelay time.Duration
}

// DefaultWorkerConfig returns the settings used when fields are left zero.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		Command:        []string{"python3", "/app/scripts/ocr_worker.py"},
		SocketDir:      filepath.Join(os.TempDir(), "fukidashi-workers"),
		Workers:        1,
		StartTimeout:   2 * time.Minute,
		RequestTimeout: 5 * time.Minute,
		RestartDelay:   time.Second,
	}
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	d := DefaultWorkerConfig()
	if len(c.Command) == 0 {
		c.Command = d.Command
	}
	if c.SocketDir == "" {
		c.SocketDir = d.SocketDir
	}
	if c.Workers < 1 {
		c.Workers = d.Workers
	}
	if c.StartTimeout <= 0 {
		c.StartTimeout = d.StartTimeout
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.RestartDelay <= 0 {
		c.RestartDelay = d.RestartDelay
	}
	return c
}

// workerRequest is sent to a worker, one JSON object per connection.
// Image is base64-encoded by encoding/json.
type workerRequest struct {
	Image []byte `json:"image"`
}

// workerResponse is the worker's reply.
type workerResponse struct {
	Success    bool        `json:"success"`
	Detections []Detection `json:"detections,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// WorkerEngine runs recognition in external worker processes that load the
// model for one pass and serve requests over unix domain sockets.
type WorkerEngine struct {
	pass   Pass
	cfg    WorkerConfig
	logger *logrus.Entry

	workers  []*worker
	idle     []*worker
	workerMu sync.RWMutex
	slots    chan struct{}

	shutdown chan struct{}
	stop     context.CancelFunc
	runCtx   context.Context
	once     sync.Once
	wg       sync.WaitGroup
}

// worker is one recognition subprocess.
type worker struct {
	id         int
	process    *exec.Cmd
	socketPath string
	exited     chan struct{}
	logger     *logrus.Entry
}

// NewWorkerFactory returns an EngineFactory that starts WorkerEngines.
func NewWorkerFactory(cfg WorkerConfig, logger *logrus.Logger) EngineFactory {
	return func(ctx context.Context, pass Pass) (Engine, error) {
		return NewWorkerEngine(ctx, pass, cfg, logger)
	}
}

// NewWorkerEngine starts cfg.Workers processes for pass and waits until
// each has opened its socket.
func NewWorkerEngine(ctx context.Context, pass Pass, cfg WorkerConfig, logger *logrus.Logger) (*WorkerEngine, error) {
	if logger == nil {
		logger = logrus.New()
	}
	cfg = cfg.withDefaults()

	if err := os.MkdirAll(cfg.SocketDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create socket directory: %w", err)
	}

	runCtx, stop := context.WithCancel(context.Background())
	e := &WorkerEngine{
		pass:     pass,
		cfg:      cfg,
		logger:   logger.WithField("pass", pass.Key()),
		slots:    make(chan struct{}, cfg.Workers),
		shutdown: make(chan struct{}),
		runCtx:   runCtx,
		stop:     stop,
	}

	for i := 0; i < cfg.Workers; i++ {
		if err := e.startWorker(ctx, i); err != nil {
			e.Close()
			return nil, err
		}
	}

	e.wg.Add(1)
	go e.updateMetricsLoop()

	return e, nil
}

// startWorker launches worker id and blocks until its socket accepts
// connections.
func (e *WorkerEngine) startWorker(ctx context.Context, id int) error {
	socketPath := filepath.Join(e.cfg.SocketDir, fmt.Sprintf("w-%s.sock", uuid.NewString()[:8]))
	os.Remove(socketPath)

	args := append([]string{}, e.cfg.Command[1:]...)
	args = append(args, "--socket", socketPath, "--langs", strings.Join(e.pass.Languages(), ","))

	cmd := exec.Command(e.cfg.Command[0], args...)
	cmd.Env = append(os.Environ(), e.cfg.Env...)
	cmd.Stderr = os.Stderr

	w := &worker{
		id:         id,
		process:    cmd,
		socketPath: socketPath,
		exited:     make(chan struct{}),
		logger:     e.logger.WithField("worker_id", id),
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start worker %d: %w", id, err)
	}
	go func() {
		cmd.Wait()
		close(w.exited)
	}()

	if err := waitForSocket(ctx, w, e.cfg.StartTimeout); err != nil {
		cmd.Process.Kill()
		os.Remove(socketPath)
		return fmt.Errorf("worker %d socket not ready: %w", id, err)
	}

	e.workerMu.Lock()
	select {
	case <-e.shutdown:
		e.workerMu.Unlock()
		cmd.Process.Kill()
		os.Remove(socketPath)
		return ErrEngineClosed
	default:
	}
	e.workers = append(e.workers, w)
	e.idle = append(e.idle, w)
	e.workerMu.Unlock()

	w.logger.Info("Worker started")

	e.wg.Add(1)
	go e.monitor(w)

	return nil
}

func waitForSocket(ctx context.Context, w *worker, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()

	for {
		conn, err := net.Dial("unix", w.socketPath)
		if err == nil {
			conn.Close()
			return nil
		}

		select {
		case <-w.exited:
			return fmt.Errorf("process exited during startup")
		case <-deadline.C:
			return fmt.Errorf("timed out after %s", timeout)
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
		}
	}
}

// monitor restarts a worker whose process dies while the engine is open.
func (e *WorkerEngine) monitor(w *worker) {
	defer e.wg.Done()

	select {
	case <-e.shutdown:
		return
	case <-w.exited:
	}

	w.logger.Warn("Worker process exited")
	workerRestarts.WithLabelValues(e.pass.Key(), strconv.Itoa(w.id)).Inc()

	e.workerMu.Lock()
	e.workers = remove(e.workers, w)
	e.idle = remove(e.idle, w)
	e.workerMu.Unlock()
	os.Remove(w.socketPath)

	select {
	case <-e.shutdown:
		return
	case <-time.After(e.cfg.RestartDelay):
	}

	if err := e.startWorker(e.runCtx, w.id); err != nil {
		w.logger.WithError(err).Error("Failed to restart worker")
	}
}

func remove(list []*worker, w *worker) []*worker {
	for i, cur := range list {
		if cur == w {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// updateMetricsLoop periodically publishes worker memory usage.
func (e *WorkerEngine) updateMetricsLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-e.shutdown:
			return
		case <-ticker.C:
			e.updateWorkerMemory()
		}
	}
}

func (e *WorkerEngine) updateWorkerMemory() {
	e.workerMu.RLock()
	defer e.workerMu.RUnlock()

	for _, w := range e.workers {
		if w.process.Process == nil {
			continue
		}
		if bytes := processMemory(w.process.Process.Pid); bytes > 0 {
			workerMemoryBytes.WithLabelValues(e.pass.Key(), strconv.Itoa(w.id)).Set(float64(bytes))
		}
	}
}

// processMemory reads VmRSS from /proc/[pid]/status. It returns 0 where
// /proc is unavailable.
func processMemory(pid int) int64 {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/status", pid))
	if err != nil {
		return 0
	}

	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, "VmRSS:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) >= 2 {
			if kb, err := strconv.ParseInt(fields[1], 10, 64); err == nil {
				return kb * 1024
			}
		}
	}
	return 0
}

// Recognize sends image to an idle worker and returns its detections. At
// most cfg.Workers requests are in flight per engine.
func (e *WorkerEngine) Recognize(ctx context.Context, image []byte) ([]Detection, error) {
	select {
	case e.slots <- struct{}{}:
	case <-e.shutdown:
		return nil, ErrEngineClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-e.slots }()

	w := e.acquire()
	if w == nil {
		return nil, fmt.Errorf("no live recognition worker for %s", e.pass)
	}

	detections, err := e.exchange(ctx, w, image)
	e.release(w)

	return detections, err
}

func (e *WorkerEngine) acquire() *worker {
	e.workerMu.Lock()
	defer e.workerMu.Unlock()

	for len(e.idle) > 0 {
		w := e.idle[0]
		e.idle = e.idle[1:]
		select {
		case <-w.exited:
			continue
		default:
			return w
		}
	}
	return nil
}

func (e *WorkerEngine) release(w *worker) {
	select {
	case <-w.exited:
		// monitor replaces it
		return
	default:
	}

	e.workerMu.Lock()
	e.idle = append(e.idle, w)
	e.workerMu.Unlock()
}

func (e *WorkerEngine) exchange(ctx context.Context, w *worker, image []byte) ([]Detection, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", w.socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to worker socket: %w", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(e.cfg.RequestTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	conn.SetDeadline(deadline)

	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Now()) })
	defer stop()

	if err := json.NewEncoder(conn).Encode(&workerRequest{Image: image}); err != nil {
		return nil, e.ioError(ctx, "failed to send request", err)
	}

	var resp workerResponse
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("worker %d closed the connection", w.id)
		}
		return nil, e.ioError(ctx, "failed to read response", err)
	}

	if !resp.Success {
		return nil, fmt.Errorf("recognition failed: %s", resp.Error)
	}

	return resp.Detections, nil
}

func (e *WorkerEngine) ioError(ctx context.Context, msg string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Close stops every worker process and removes their sockets.
func (e *WorkerEngine) Close() error {
	e.once.Do(func() {
		close(e.shutdown)
		e.stop()

		e.workerMu.Lock()
		for _, w := range e.workers {
			if w.process.Process != nil {
				w.process.Process.Kill()
			}
			os.Remove(w.socketPath)
		}
		e.workerMu.Unlock()

		e.wg.Wait()
		e.logger.Info("Recognition engine stopped")
	})
	return nil
}
