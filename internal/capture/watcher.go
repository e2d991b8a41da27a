package capture

import (
	"sync"
	"time"
)

const (
	DefaultSettleDelay = 100 * time.Millisecond
	DefaultMaxPerHost  = 500
	DefaultMaxHosts    = 256
)

// Candidate is an eligible image with its rewritten URL.
type Candidate struct {
	Src        string `json:"src"`
	HighResURL string `json:"highResUrl"`
}

type WatcherOptions struct {
	Delay      time.Duration
	OnEligible func(host string, c Candidate)
	// MaxPerHost caps both the pending and the marked images kept for one
	// host. The oldest entry is evicted first.
	MaxPerHost int
	// MaxHosts caps the hosts tracked at once. The least recently active
	// host is dropped first.
	MaxHosts int
}

// Watcher re-evaluates newly inserted images after a short settle delay.
// Repeated inserts of the same image inside the delay collapse into one
// evaluation, and an image is marked at most once while it is remembered.
type Watcher struct {
	mu         sync.Mutex
	delay      time.Duration
	onEligible func(host string, c Candidate)
	maxPerHost int
	maxHosts   int
	hosts      map[string]*hostState
	clock      uint64
}

type hostState struct {
	pending     map[string]*pendingCheck
	marked      map[string]Candidate
	markedOrder []string
	lastActive  uint64
}

type pendingCheck struct {
	el    Element
	seq   uint64
	timer *time.Timer
}

func NewWatcher(opts WatcherOptions) *Watcher {
	delay := opts.Delay
	if delay <= 0 {
		delay = DefaultSettleDelay
	}
	maxPerHost := opts.MaxPerHost
	if maxPerHost <= 0 {
		maxPerHost = DefaultMaxPerHost
	}
	maxHosts := opts.MaxHosts
	if maxHosts <= 0 {
		maxHosts = DefaultMaxHosts
	}
	return &Watcher{
		delay:      delay,
		onEligible: opts.OnEligible,
		maxPerHost: maxPerHost,
		maxHosts:   maxHosts,
		hosts:      make(map[string]*hostState),
	}
}

// Inserted schedules el for evaluation. Rendered size often settles after
// insertion, so the latest report for a source wins.
func (w *Watcher) Inserted(host string, el Element) {
	if el.Src == "" {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	hs := w.host(host)
	if _, done := hs.marked[el.Src]; done {
		return
	}

	pc, ok := hs.pending[el.Src]
	if !ok {
		if len(hs.pending) >= w.maxPerHost {
			hs.dropOldestPending()
		}
		pc = &pendingCheck{}
		hs.pending[el.Src] = pc
	}
	pc.el = el
	pc.seq = w.clock

	if pc.timer != nil {
		pc.timer.Stop()
	}
	src := el.Src
	pc.timer = time.AfterFunc(w.delay, func() {
		w.evaluate(host, src)
	})
}

// host returns the state for name, creating it and evicting the least
// recently active host when full. Callers hold w.mu.
func (w *Watcher) host(name string) *hostState {
	w.clock++
	hs, ok := w.hosts[name]
	if !ok {
		if len(w.hosts) >= w.maxHosts {
			w.evictHost()
		}
		hs = &hostState{
			pending: make(map[string]*pendingCheck),
			marked:  make(map[string]Candidate),
		}
		w.hosts[name] = hs
	}
	hs.lastActive = w.clock
	return hs
}

func (w *Watcher) evictHost() {
	var oldest string
	var oldestSeen uint64
	first := true
	for name, hs := range w.hosts {
		if first || hs.lastActive < oldestSeen {
			oldest, oldestSeen, first = name, hs.lastActive, false
		}
	}
	if hs, ok := w.hosts[oldest]; ok {
		hs.stopAll()
		delete(w.hosts, oldest)
	}
}

func (w *Watcher) evaluate(host, src string) {
	w.mu.Lock()
	hs, ok := w.hosts[host]
	if !ok {
		w.mu.Unlock()
		return
	}
	pc, ok := hs.pending[src]
	if !ok {
		w.mu.Unlock()
		return
	}
	delete(hs.pending, src)

	eligible, _ := Eligible(pc.el, host)
	if !eligible {
		w.mu.Unlock()
		return
	}
	c := Candidate{Src: src, HighResURL: HighResURL(src, host)}
	hs.mark(c, w.maxPerHost)
	onEligible := w.onEligible
	w.mu.Unlock()

	if onEligible != nil {
		onEligible(host, c)
	}
}

// Marked returns the eligible images seen for host, oldest first.
func (w *Watcher) Marked(host string) []Candidate {
	w.mu.Lock()
	defer w.mu.Unlock()

	hs, ok := w.hosts[host]
	if !ok {
		return []Candidate{}
	}
	out := make([]Candidate, 0, len(hs.markedOrder))
	for _, src := range hs.markedOrder {
		out = append(out, hs.marked[src])
	}
	return out
}

// Stop cancels evaluations that have not fired yet.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, hs := range w.hosts {
		hs.stopAll()
	}
}

func (hs *hostState) mark(c Candidate, limit int) {
	if len(hs.markedOrder) >= limit {
		delete(hs.marked, hs.markedOrder[0])
		hs.markedOrder = hs.markedOrder[1:]
	}
	hs.marked[c.Src] = c
	hs.markedOrder = append(hs.markedOrder, c.Src)
}

func (hs *hostState) dropOldestPending() {
	var oldest string
	var oldestSeq uint64
	first := true
	for src, pc := range hs.pending {
		if first || pc.seq < oldestSeq {
			oldest, oldestSeq, first = src, pc.seq, false
		}
	}
	if pc, ok := hs.pending[oldest]; ok {
		if pc.timer != nil {
			pc.timer.Stop()
		}
		delete(hs.pending, oldest)
	}
}

func (hs *hostState) stopAll() {
	for src, pc := range hs.pending {
		if pc.timer != nil {
			pc.timer.Stop()
		}
		delete(hs.pending, src)
	}
}
