//go:build linux
// +build linux

package memory

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/ringbuf"
	"github.com/prometheus/procfs"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/srodi/allocscope/pkg/config"
	"github.com/srodi/allocscope/pkg/types"
)

// Collector attaches uprobes to the runtime's event emitters in one target
// process and streams the decoded records.
type Collector struct {
	cfg    config.EventsConfig
	logger zerolog.Logger
	filter *recordFilter

	mu       sync.Mutex
	objs     *alloc_eventsObjects
	links    []link.Link
	reader   recordReader
	done     chan struct{}
	quit     chan struct{}
	stopOnce sync.Once
	stopErr  error
}

// NewCollector prepares a collector; nothing is loaded until Subscribe.
func NewCollector(cfg config.EventsConfig, logger zerolog.Logger) *Collector {
	return &Collector{
		cfg:    cfg,
		logger: logger.With().Str("component", "event_source").Logger(),
	}
}

// Subscribe loads the probe programs, attaches to pid's runtime library and
// starts delivering events for pid. The channel closes when delivery ends.
func (c *Collector) Subscribe(ctx context.Context, pid int) (<-chan types.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.objs != nil {
		return nil, fmt.Errorf("%w: already subscribed", ErrSubscription)
	}

	// Raise rlimit for locked memory to allow eBPF programs to load.
	if err := unix.Setrlimit(unix.RLIMIT_MEMLOCK, &unix.Rlimit{
		Cur: unix.RLIM_INFINITY,
		Max: unix.RLIM_INFINITY,
	}); err != nil {
		return nil, fmt.Errorf("%w: raising rlimit memlock: %w", ErrSubscription, err)
	}

	libPath, err := resolveLibrary(pid, c.cfg.Library)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSubscription, err)
	}

	objs, err := c.loadObjects()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSubscription, err)
	}
	c.objs = objs

	if err := c.attach(libPath, pid); err != nil {
		c.closeLocked()
		return nil, fmt.Errorf("%w: %w", ErrSubscription, err)
	}

	reader, err := ringbuf.NewReader(objs.Events)
	if err != nil {
		c.closeLocked()
		return nil, fmt.Errorf("%w: creating ringbuf reader: %w", ErrSubscription, err)
	}

	out := c.startReading(ctx, pid, reader)
	c.logger.Info().
		Int("pid", pid).
		Str("library", libPath).
		Str("object", c.objectName()).
		Msg("Subscribed to allocation events")
	return out, nil
}

// loadObjects loads the embedded programs, or the override object when configured.
func (c *Collector) loadObjects() (*alloc_eventsObjects, error) {
	var objs alloc_eventsObjects
	if c.cfg.Object == "" {
		if err := loadAlloc_eventsObjects(&objs, nil); err != nil {
			return nil, fmt.Errorf("loading bpf objects: %w", err)
		}
		return &objs, nil
	}

	spec, err := ebpf.LoadCollectionSpec(c.cfg.Object)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", c.cfg.Object, err)
	}
	if err := spec.LoadAndAssign(&objs, nil); err != nil {
		return nil, fmt.Errorf("loading bpf objects from %s: %w", c.cfg.Object, err)
	}
	return &objs, nil
}

func (c *Collector) objectName() string {
	if c.cfg.Object == "" {
		return "embedded"
	}
	return c.cfg.Object
}

// startReading must be called with c.mu held.
func (c *Collector) startReading(ctx context.Context, pid int, reader recordReader) <-chan types.Event {
	c.reader = reader
	c.filter = &recordFilter{pid: pid}
	c.done = make(chan struct{})
	c.quit = make(chan struct{})

	loop := &eventLoop{
		pid:    pid,
		reader: reader,
		filter: c.filter,
		poll:   livenessPoll,
		logger: c.logger,
	}
	out := make(chan types.Event, c.cfg.Buffer)
	go func(done chan struct{}, quit <-chan struct{}) {
		defer close(done)
		loop.run(ctx, quit, out)
	}(c.done, c.quit)
	return out
}

func (c *Collector) attach(libPath string, pid int) error {
	exe, err := link.OpenExecutable(libPath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", libPath, err)
	}

	probes := []struct {
		symbol string
		prog   *ebpf.Program
	}{
		{c.cfg.AllocSymbol, c.objs.OnAllocationTick},
		{c.cfg.HeapStatSymbol, c.objs.OnHeapStats},
	}
	for _, probe := range probes {
		up, err := exe.Uprobe(probe.symbol, probe.prog, &link.UprobeOptions{PID: pid})
		if err != nil {
			return fmt.Errorf("attaching uprobe %s: %w", probe.symbol, err)
		}
		c.links = append(c.links, up)
	}
	return nil
}

// Stats reports delivery counters since Subscribe.
func (c *Collector) Stats() Stats {
	c.mu.Lock()
	f := c.filter
	c.mu.Unlock()
	if f == nil {
		return Stats{}
	}
	return f.stats()
}

// Stop ends delivery and releases the BPF resources. Safe to call repeatedly.
func (c *Collector) Stop() error {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.stopErr = c.closeLocked()
	})
	return c.stopErr
}

// closeLocked unblocks the reader, waits for it, then detaches and unloads.
func (c *Collector) closeLocked() error {
	var err error
	if c.reader != nil {
		close(c.quit)
		err = errors.Join(err, c.reader.Close())
		<-c.done
		c.reader = nil
	}
	for i := len(c.links) - 1; i >= 0; i-- {
		err = errors.Join(err, c.links[i].Close())
	}
	c.links = nil
	if c.objs != nil {
		err = errors.Join(err, c.objs.Close())
		c.objs = nil
	}
	return err
}

// resolveLibrary finds the runtime tracing library mapped into pid. Absolute
// paths are used as given; otherwise the first mapping whose base name
// matches is opened through /proc/PID/root so container paths resolve.
func resolveLibrary(pid int, library string) (string, error) {
	if filepath.IsAbs(library) {
		return library, nil
	}
	proc, err := procfs.NewProc(pid)
	if err != nil {
		return "", fmt.Errorf("opening /proc/%d: %w", pid, err)
	}
	maps, err := proc.ProcMaps()
	if err != nil {
		return "", fmt.Errorf("reading /proc/%d/maps: %w", pid, err)
	}
	for _, m := range maps {
		if m.Pathname == "" || !strings.HasPrefix(m.Pathname, "/") {
			continue
		}
		if filepath.Base(m.Pathname) == library {
			return filepath.Join("/proc", fmt.Sprint(pid), "root", m.Pathname), nil
		}
	}
	return "", fmt.Errorf("%s is not loaded by pid %d (is runtime tracing enabled?)", library, pid)
}
