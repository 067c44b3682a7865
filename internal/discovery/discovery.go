// Package discovery implements EIP-6963 style multi-wallet discovery on an
// in-process event bus: the registry broadcasts a request and upserts every
// announcement it hears, keyed by the provider's reverse-DNS id.
package discovery

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/agnivade/levenshtein"
	evbus "github.com/asaskevich/EventBus"
	"github.com/google/uuid"

	"github.com/craftclass/jury/internal/provider"
)

// Bus topics.
const (
	TopicRequest  = "eip6963:requestProvider"
	TopicAnnounce = "eip6963:announceProvider"
)

// MaxSuggestDistance is the largest edit distance Suggest will report.
const MaxSuggestDistance = 3

var (
	// ErrAlreadyStarted is returned by Start on an active registry.
	ErrAlreadyStarted = errors.New("discovery already started")

	// ErrInvalidDetail is returned when an announcement lacks an id or provider.
	ErrInvalidDetail = errors.New("provider detail requires rdns and provider")
)

// ProviderInfo is the metadata a wallet announces.
type ProviderInfo struct {
	UUID string `json:"uuid"`
	Name string `json:"name"`
	Icon string `json:"icon"`
	RDNS string `json:"rdns"`
}

// ProviderDetail pairs announced metadata with the provider handle.
type ProviderDetail struct {
	Info     ProviderInfo
	Provider provider.Provider
}

// ID returns the stable provider identifier.
func (d ProviderDetail) ID() string {
	return d.Info.RDNS
}

// Bus carries discovery requests and announcements. It holds exactly one
// subscription per topic on the underlying event bus and fans out to the
// registries and announcers attached to it, so each can detach on its own.
type Bus struct {
	bus evbus.Bus

	mu         sync.RWMutex
	nextID     int
	listeners  map[int]func(ProviderDetail)
	announcers map[int]ProviderDetail
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	b := &Bus{
		bus:        evbus.New(),
		listeners:  make(map[int]func(ProviderDetail)),
		announcers: make(map[int]ProviderDetail),
	}
	mustSubscribe(b.bus.Subscribe(TopicAnnounce, b.dispatch))
	// Requests are answered asynchronously because the bus does not allow
	// publishing from inside a handler.
	mustSubscribe(b.bus.SubscribeAsync(TopicRequest, b.answer, false))
	return b
}

// mustSubscribe panics on a subscription error. A bus without its handlers
// would never hear an announcement.
func mustSubscribe(err error) {
	if err != nil {
		panic(fmt.Sprintf("discovery: subscribing bus handler: %v", err))
	}
}

// RequestProviders asks every announcer to announce.
func (b *Bus) RequestProviders() {
	b.bus.Publish(TopicRequest)
}

// Announce publishes detail to every listening registry.
func (b *Bus) Announce(detail ProviderDetail) {
	b.bus.Publish(TopicAnnounce, detail)
}

// WaitAsync blocks until announcers have answered outstanding requests.
func (b *Bus) WaitAsync() {
	b.bus.WaitAsync()
}

// Listeners returns the number of attached announcement listeners.
func (b *Bus) Listeners() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

func (b *Bus) dispatch(d ProviderDetail) {
	b.mu.RLock()
	fns := make([]func(ProviderDetail), 0, len(b.listeners))
	for _, fn := range b.listeners {
		fns = append(fns, fn)
	}
	b.mu.RUnlock()
	for _, fn := range fns {
		fn(d)
	}
}

func (b *Bus) answer() {
	b.mu.RLock()
	details := make([]ProviderDetail, 0, len(b.announcers))
	for _, d := range b.announcers {
		details = append(details, d)
	}
	b.mu.RUnlock()
	for _, d := range details {
		b.Announce(d)
	}
}

func (b *Bus) listen(fn func(ProviderDetail)) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.listeners[b.nextID] = fn
	return b.nextID
}

func (b *Bus) unlisten(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.listeners, id)
}

func (b *Bus) register(d ProviderDetail) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.announcers[b.nextID] = d
	return b.nextID
}

func (b *Bus) unregister(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.announcers, id)
}

// Registry collects announced providers. Records are upserted and never
// removed while the registry lives.
type Registry struct {
	bus *Bus

	mu        sync.RWMutex
	providers map[string]ProviderDetail
	order     []string
	listener  int
	active    bool
}

// NewRegistry creates a registry listening on bus.
func NewRegistry(bus *Bus) *Registry {
	return &Registry{bus: bus, providers: make(map[string]ProviderDetail)}
}

// Start installs the single announcement listener and broadcasts a request.
func (r *Registry) Start() error {
	r.mu.Lock()
	if r.active {
		r.mu.Unlock()
		return ErrAlreadyStarted
	}
	r.listener = r.bus.listen(r.upsert)
	r.active = true
	r.mu.Unlock()

	r.bus.RequestProviders()
	return nil
}

// Stop removes the listener. Collected records remain readable.
func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active {
		return
	}
	r.active = false
	r.bus.unlisten(r.listener)
}

func (r *Registry) upsert(d ProviderDetail) {
	if d.Info.RDNS == "" || d.Provider == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active {
		return
	}
	if _, ok := r.providers[d.Info.RDNS]; !ok {
		r.order = append(r.order, d.Info.RDNS)
	}
	r.providers[d.Info.RDNS] = d
}

// ListProviders returns a snapshot sorted by id.
func (r *Registry) ListProviders() []ProviderDetail {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ProviderDetail, 0, len(r.providers))
	for _, d := range r.providers {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Info.RDNS < out[j].Info.RDNS })
	return out
}

// Len returns the number of distinct providers seen.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}

// First returns the earliest discovered provider.
func (r *Registry) First() (ProviderDetail, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.order) == 0 {
		return ProviderDetail{}, false
	}
	return r.providers[r.order[0]], true
}

// FindProvider looks up a provider by id.
func (r *Registry) FindProvider(id string) (ProviderDetail, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.providers[id]
	return d, ok
}

// Suggest returns the known id closest to id, or "" if none is close.
func (r *Registry) Suggest(id string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	best, bestDist := "", math.MaxInt
	for known := range r.providers {
		d := levenshtein.ComputeDistance(id, known)
		if d < bestDist || (d == bestDist && known < best) {
			best, bestDist = known, d
		}
	}
	if bestDist > MaxSuggestDistance {
		return ""
	}
	return best
}

// Announcer answers discovery requests on behalf of one wallet.
type Announcer struct {
	bus    *Bus
	detail ProviderDetail

	mu  sync.Mutex
	reg int
}

// NewAnnouncer creates an announcer. A missing UUID is generated.
func NewAnnouncer(bus *Bus, info ProviderInfo, p provider.Provider) (*Announcer, error) {
	if info.RDNS == "" || p == nil {
		return nil, ErrInvalidDetail
	}
	if info.UUID == "" {
		info.UUID = uuid.NewString()
	}
	return &Announcer{bus: bus, detail: ProviderDetail{Info: info, Provider: p}}, nil
}

// Detail returns what the announcer publishes.
func (a *Announcer) Detail() ProviderDetail {
	return a.detail
}

// Start announces once and then answers every request.
func (a *Announcer) Start() {
	a.mu.Lock()
	if a.reg == 0 {
		a.reg = a.bus.register(a.detail)
	}
	a.mu.Unlock()
	a.bus.Announce(a.detail)
}

// Stop stops answering requests.
func (a *Announcer) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.reg != 0 {
		a.bus.unregister(a.reg)
		a.reg = 0
	}
}
