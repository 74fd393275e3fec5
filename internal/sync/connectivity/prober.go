package connectivity

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/kimhsiao/tasksync/internal/logging"
)

// DefaultProbeInterval is the interval between health probes.
const DefaultProbeInterval = 10 * time.Second

// Prober periodically checks the remote health endpoint and feeds the
// result to a Monitor.
type Prober struct {
	monitor  *Monitor
	client   *http.Client
	url      string
	interval time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewProber creates a prober for {baseURL}/health.
func NewProber(monitor *Monitor, baseURL string, interval, timeout time.Duration) *Prober {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Prober{
		monitor:  monitor,
		client:   &http.Client{Timeout: timeout},
		url:      strings.TrimRight(baseURL, "/") + "/health",
		interval: interval,
	}
}

// Probe performs one check and updates the monitor. It returns the
// observed state.
func (p *Prober) Probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		logging.Error("Failed to build health probe", err, map[string]interface{}{"url": p.url})
		return p.monitor.Online()
	}

	resp, err := p.client.Do(req)
	if err != nil {
		logging.Debug("Health probe failed", map[string]interface{}{"url": p.url, "error": err.Error()})
		p.monitor.Set(false)
		return false
	}
	resp.Body.Close()

	p.monitor.Set(true)
	return true
}

// Start begins probing in the background.
func (p *Prober) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})

	p.wg.Add(1)
	go p.run(p.stopCh)
}

// Stop halts probing and waits for the loop to exit.
func (p *Prober) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *Prober) run(stopCh <-chan struct{}) {
	defer p.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stopCh
		cancel()
	}()

	p.Probe(ctx)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			p.Probe(ctx)
		}
	}
}
