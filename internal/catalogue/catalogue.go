package catalogue

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"station-check/internal/m3u"
	"station-check/internal/metrics"
	"station-check/internal/models"
	"station-check/internal/validator"
)

// Checker validates the stations directory before it is read.
type Checker interface {
	Run(ctx context.Context, dir string) (validator.Summary, error)
}

// Catalogue watches the stations directory and keeps the parsed stations in
// memory. When a Checker is configured, every refresh validates new files
// first, so files dropped into the directory get a verdict on their own.
type Catalogue struct {
	root    string
	allowed map[string]struct{}
	checker Checker
	watcher *fsnotify.Watcher
	logger  *log.Logger

	mu       sync.RWMutex
	stations []models.Station

	// scanMu serialises refreshes so two timers never validate at once.
	scanMu sync.Mutex

	refreshMu    sync.Mutex
	refreshTimer *time.Timer
	refreshDelay time.Duration

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// New creates a Catalogue and starts watching root. checker may be nil. The
// first refresh runs before New returns; validation runs under ctx, and New
// fails with ctx's error if ctx ends during it.
func New(ctx context.Context, root string, allowed []string, debounce time.Duration, checker Checker, logger *log.Logger) (*Catalogue, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if logger == nil {
		logger = log.Default()
	}

	ctx, cancel := context.WithCancel(ctx)
	c := &Catalogue{
		root:         root,
		allowed:      make(map[string]struct{}, len(allowed)),
		checker:      checker,
		watcher:      watcher,
		logger:       logger,
		refreshDelay: debounce,
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
	}

	for _, ext := range allowed {
		c.allowed[strings.ToLower(ext)] = struct{}{}
	}

	if err := watcher.Add(root); err != nil {
		cancel()
		watcher.Close()
		return nil, err
	}

	if err := c.refresh(); err != nil {
		cancel()
		watcher.Close()
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		cancel()
		watcher.Close()
		return nil, err
	}

	c.wg.Add(1)
	go c.run()

	return c, nil
}

// Close stops the watcher, interrupts a running validation and cleans up.
func (c *Catalogue) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.cancel()

		c.refreshMu.Lock()
		if c.refreshTimer != nil {
			c.refreshTimer.Stop()
			c.refreshTimer = nil
		}
		c.refreshMu.Unlock()

		c.closeErr = c.watcher.Close()
		c.wg.Wait()

		// Wait for a refresh that was already running.
		c.scanMu.Lock()
		c.scanMu.Unlock()
	})
	return c.closeErr
}

// ListStations returns a snapshot of the catalogue sorted by file name.
func (c *Catalogue) ListStations() []models.Station {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]models.Station, len(c.stations))
	copy(result, c.stations)
	return result
}

// Station looks a station up by name or file name.
func (c *Catalogue) Station(name string) (models.Station, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, st := range c.stations {
		if st.Name == name || st.Filename == name {
			return st, true
		}
	}
	return models.Station{}, false
}

// Playable returns the stations confirmed to work.
func (c *Catalogue) Playable() []models.Station {
	var result []models.Station
	for _, st := range c.ListStations() {
		if st.Playable() {
			result = append(result, st)
		}
	}
	return result
}

// Refresh re-reads the directory immediately.
func (c *Catalogue) Refresh() error {
	return c.refresh()
}

func (c *Catalogue) run() {
	defer c.wg.Done()

	for {
		select {
		case event, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			c.handleEvent(event)
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			c.logger.Printf("watcher error: %v", err)
		case <-c.done:
			return
		}
	}
}

func (c *Catalogue) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	if c.isAllowed(event.Name) {
		c.scheduleRefresh()
	}
}

func (c *Catalogue) refresh() error {
	c.scanMu.Lock()
	defer c.scanMu.Unlock()

	select {
	case <-c.done:
		return nil
	default:
	}

	if c.checker != nil {
		if _, err := c.checker.Run(c.ctx, c.root); err != nil {
			c.logger.Printf("validation error: %v", err)
		}
	}

	entries, err := os.ReadDir(c.root)
	if err != nil {
		return err
	}

	var stations []models.Station
	for _, entry := range entries {
		if entry.IsDir() || !c.isAllowed(entry.Name()) {
			continue
		}

		st, err := c.readStation(filepath.Join(c.root, entry.Name()))
		if err != nil {
			c.logger.Printf("station error for %s: %v", entry.Name(), err)
			continue
		}
		stations = append(stations, st)
	}

	sort.SliceStable(stations, func(i, j int) bool {
		return stations[i].Filename < stations[j].Filename
	})

	c.mu.Lock()
	c.stations = stations
	c.mu.Unlock()

	updateGauge(stations)
	c.logger.Printf("catalogue refreshed with %d stations", len(stations))
	return nil
}

func (c *Catalogue) readStation(path string) (models.Station, error) {
	f, err := os.Open(path)
	if err != nil {
		return models.Station{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return models.Station{}, err
	}

	doc, err := m3u.Parse(f, filepath.Base(path))
	if err != nil {
		return models.Station{}, err
	}

	st := doc.Station(filepath.Base(path))
	st.ModifiedAt = info.ModTime().UTC().Round(time.Second)
	return st, nil
}

func (c *Catalogue) scheduleRefresh() {
	select {
	case <-c.done:
		return
	default:
	}

	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	if c.refreshTimer != nil {
		c.refreshTimer.Stop()
	}

	var timer *time.Timer
	timer = time.AfterFunc(c.refreshDelay, func() {
		if err := c.refresh(); err != nil {
			c.logger.Printf("refresh error: %v", err)
		}

		c.refreshMu.Lock()
		if c.refreshTimer == timer {
			c.refreshTimer = nil
		}
		c.refreshMu.Unlock()
	})

	c.refreshTimer = timer
}

func (c *Catalogue) isAllowed(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	_, ok := c.allowed[ext]
	return ok
}

func updateGauge(stations []models.Station) {
	metrics.CatalogueStations.Reset()
	for _, st := range stations {
		metrics.CatalogueStations.WithLabelValues(st.Verdict.String()).Inc()
	}
}
