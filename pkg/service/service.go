package service

import (
	"container/list"
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"bournemouth-hq/relay/pkg/openrouter"
	"bournemouth-hq/relay/pkg/telemetry/metrics"
)

// DefaultModel is used when a request does not name a model.
const DefaultModel = "deepseek/deepseek-chat-v3-0324:free"

// DefaultMaxClients bounds the pool when not configured.
const DefaultMaxClients = 10

// Config configures the client pool.
type Config struct {
	// DefaultModel is the model used when a call omits one.
	// Default: DefaultModel
	DefaultModel string

	// BaseURL is the upstream API endpoint for every client.
	BaseURL string

	// Timeout is the per-request timeout applied to every client.
	Timeout time.Duration

	// MaxClients bounds the number of concurrently open clients.
	// Default: DefaultMaxClients
	MaxClients int

	// StrictDecoding rejects unknown fields in upstream payloads.
	StrictDecoding bool

	// Transport overrides the HTTP transport of constructed clients,
	// used by tests.
	Transport http.RoundTripper

	// Metrics receives pool gauges and counters when non-nil.
	Metrics *metrics.PoolMetrics
}

// entry is one pooled client. refs counts callers currently using the
// client; an entry removed from the pool while in use is closed when
// the last caller releases it, never mid-call.
type entry struct {
	apiKey  string
	client  *openrouter.Client
	elem    *list.Element
	refs    int
	removed bool
}

// Service is a bounded, LRU-evicting pool of openrouter clients keyed
// by API key. The zero value is not usable; call New.
//
// All mutation of the key->client map, the LRU order, and the
// per-key construction guards happens under the pool's internal lock.
type Service struct {
	config Config
	logger *slog.Logger

	mu      sync.Mutex
	clients map[string]*entry
	lru     *list.List // front is least recently used
	guards  map[string]*keyGuard

	draining     bool
	inflight     int
	drained      chan struct{} // non-nil while draining with calls in flight
	shutdownDone chan struct{} // non-nil while a shutdown is in progress
}

// New creates a pool with the given configuration.
func New(config Config) *Service {
	if config.DefaultModel == "" {
		config.DefaultModel = DefaultModel
	}
	if config.BaseURL == "" {
		config.BaseURL = openrouter.DefaultBaseURL
	}
	if config.MaxClients <= 0 {
		config.MaxClients = DefaultMaxClients
	}
	return &Service{
		config:  config,
		logger:  slog.Default().With("component", "service"),
		clients: make(map[string]*entry),
		lru:     list.New(),
		guards:  make(map[string]*keyGuard),
	}
}

// keyGuard serializes client construction for one key. holders counts
// goroutines that have taken a reference; the last one to let go
// removes the guard from the map, so guards only live while a
// construction for their key is in progress.
type keyGuard struct {
	mu      sync.Mutex
	holders int
}

// guardFor returns the construction guard for apiKey, creating it on
// first use. Caller holds s.mu.
func (s *Service) guardFor(apiKey string) *keyGuard {
	g, ok := s.guards[apiKey]
	if !ok {
		g = &keyGuard{}
		s.guards[apiKey] = g
	}
	g.holders++
	return g
}

// releaseGuard drops a reference on the guard, deleting it from the
// map when no goroutine holds it anymore.
func (s *Service) releaseGuard(apiKey string, g *keyGuard) {
	s.mu.Lock()
	g.holders--
	if g.holders == 0 {
		delete(s.guards, apiKey)
	}
	s.mu.Unlock()
}

// Len returns the number of pooled clients.
func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// beginCall registers an in-flight call, failing fast while draining.
func (s *Service) beginCall() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draining {
		return ErrDraining
	}
	s.inflight++
	if s.config.Metrics != nil {
		s.config.Metrics.InFlight.Inc()
	}
	return nil
}

// endCall unregisters an in-flight call and signals the drain waiter
// when the last one finishes.
func (s *Service) endCall() {
	s.mu.Lock()
	s.inflight--
	if s.config.Metrics != nil {
		s.config.Metrics.InFlight.Dec()
	}
	if s.draining && s.inflight == 0 && s.drained != nil {
		close(s.drained)
		s.drained = nil
	}
	s.mu.Unlock()
}

// acquire returns the pooled entry for apiKey, constructing it at most
// once under a per-key guard. The entry's refcount is incremented; the
// caller must pair it with release.
func (s *Service) acquire(apiKey string) (*entry, error) {
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		return nil, ErrDraining
	}
	if e, ok := s.clients[apiKey]; ok {
		e.refs++
		s.lru.MoveToBack(e.elem)
		s.mu.Unlock()
		return e, nil
	}
	guard := s.guardFor(apiKey)
	s.mu.Unlock()
	defer s.releaseGuard(apiKey, guard)

	// Serialize construction for this key; other keys proceed
	// independently.
	guard.mu.Lock()
	defer guard.mu.Unlock()

	s.mu.Lock()
	if e, ok := s.clients[apiKey]; ok {
		e.refs++
		s.lru.MoveToBack(e.elem)
		s.mu.Unlock()
		return e, nil
	}
	s.mu.Unlock()

	client, err := openrouter.NewClient(openrouter.ClientConfig{
		APIKey:         apiKey,
		BaseURL:        s.config.BaseURL,
		Timeout:        s.config.Timeout,
		StrictDecoding: s.config.StrictDecoding,
		Transport:      s.config.Transport,
	})
	if err != nil {
		return nil, err
	}
	if err := client.Open(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		client.Close()
		return nil, ErrDraining
	}
	var stale *entry
	if len(s.clients) >= s.config.MaxClients {
		stale = s.evictOldestLocked()
	}
	e := &entry{apiKey: apiKey, client: client, refs: 1}
	e.elem = s.lru.PushBack(e)
	s.clients[apiKey] = e
	if s.config.Metrics != nil {
		s.config.Metrics.ActiveClients.Set(float64(len(s.clients)))
	}
	s.mu.Unlock()

	if stale != nil {
		s.closeIfIdle(stale)
	}
	s.logger.Debug("constructed upstream client", "pool_size", s.Len())
	return e, nil
}

// evictOldestLocked detaches the least-recently-used entry.
// Caller holds s.mu and must closeIfIdle the returned entry after
// releasing the lock.
func (s *Service) evictOldestLocked() *entry {
	front := s.lru.Front()
	if front == nil {
		return nil
	}
	stale := front.Value.(*entry)
	s.lru.Remove(front)
	delete(s.clients, stale.apiKey)
	stale.removed = true
	if s.config.Metrics != nil {
		s.config.Metrics.Evictions.Inc()
	}
	return stale
}

// release drops one reference on e, closing the client when the entry
// has been removed from the pool and is no longer in use.
func (s *Service) release(e *entry) {
	s.mu.Lock()
	e.refs--
	closeNow := e.removed && e.refs == 0
	s.mu.Unlock()
	if closeNow {
		if err := e.client.Close(); err != nil {
			s.logger.Warn("failed to close evicted client", "error", err)
		}
	}
}

// closeIfIdle closes a detached entry unless callers still hold it, in
// which case the last release closes it.
func (s *Service) closeIfIdle(e *entry) {
	s.mu.Lock()
	idle := e.refs == 0
	s.mu.Unlock()
	if idle {
		if err := e.client.Close(); err != nil {
			s.logger.Warn("failed to close evicted client", "error", err)
		}
	}
}

// Remove closes and removes the pooled client for apiKey immediately,
// independent of LRU order. Unknown keys are a no-op.
func (s *Service) Remove(apiKey string) {
	s.mu.Lock()
	e, ok := s.clients[apiKey]
	if ok {
		s.lru.Remove(e.elem)
		delete(s.clients, apiKey)
		e.removed = true
		if s.config.Metrics != nil {
			s.config.Metrics.ActiveClients.Set(float64(len(s.clients)))
		}
	}
	s.mu.Unlock()
	if ok {
		s.closeIfIdle(e)
	}
}

// Shutdown drains the pool: new calls fail fast with ErrDraining, and
// once the in-flight count reaches zero every remaining client is
// closed and the pool is emptied. The pool is reusable afterwards.
//
// Shutdown blocks until the drain completes or ctx expires. A
// concurrent Shutdown waits on the first rather than repeating the
// work. On ctx expiry the drain continues in the background.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.draining {
		done := s.shutdownDone
		s.mu.Unlock()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.draining = true
	done := make(chan struct{})
	s.shutdownDone = done
	drained := make(chan struct{})
	if s.inflight == 0 {
		close(drained)
	} else {
		s.drained = drained
	}
	s.mu.Unlock()

	select {
	case <-drained:
		s.finishShutdown(done)
		return nil
	case <-ctx.Done():
		go func() {
			<-drained
			s.finishShutdown(done)
		}()
		return ctx.Err()
	}
}

// finishShutdown closes every remaining client and resets the pool for
// reuse.
func (s *Service) finishShutdown(done chan struct{}) {
	s.mu.Lock()
	stale := make([]*entry, 0, len(s.clients))
	for _, e := range s.clients {
		e.removed = true
		stale = append(stale, e)
	}
	s.clients = make(map[string]*entry)
	s.lru.Init()
	s.guards = make(map[string]*keyGuard)
	s.draining = false
	s.shutdownDone = nil
	if s.config.Metrics != nil {
		s.config.Metrics.ActiveClients.Set(0)
	}
	s.mu.Unlock()

	for _, e := range stale {
		if err := e.client.Close(); err != nil {
			s.logger.Warn("failed to close client during shutdown", "error", err)
		}
	}
	s.logger.Info("pool drained", "closed_clients", len(stale))
	close(done)
}

// buildRequest assembles the upstream request for a call.
func (s *Service) buildRequest(messages []openrouter.ChatMessage, model string, stream bool) *openrouter.ChatCompletionRequest {
	if model == "" {
		model = s.config.DefaultModel
	}
	return &openrouter.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
		Stream:   stream,
	}
}

// ChatCompletion requests a one-shot chat completion for apiKey's
// client. Errors are collapsed to TimeoutError or BadGatewayError.
func (s *Service) ChatCompletion(ctx context.Context, apiKey string, messages []openrouter.ChatMessage, model string) (*openrouter.ChatCompletionResponse, error) {
	if err := s.beginCall(); err != nil {
		return nil, err
	}
	defer s.endCall()

	e, err := s.acquire(apiKey)
	if err != nil {
		return nil, mapClientError(err)
	}
	defer s.release(e)

	if s.config.Metrics != nil {
		s.config.Metrics.Requests.WithLabelValues("complete").Inc()
	}
	resp, err := e.client.Complete(ctx, s.buildRequest(messages, model, false))
	if err != nil {
		return nil, mapClientError(err)
	}
	return resp, nil
}

// StreamChatCompletion starts a streamed chat completion for apiKey's
// client. The call stays in flight, and the client stays referenced,
// until the returned stream is exhausted or closed. Errors from the
// stream are collapsed the same way as one-shot errors.
func (s *Service) StreamChatCompletion(ctx context.Context, apiKey string, messages []openrouter.ChatMessage, model string) (*ChunkStream, error) {
	if err := s.beginCall(); err != nil {
		return nil, err
	}

	e, err := s.acquire(apiKey)
	if err != nil {
		s.endCall()
		return nil, mapClientError(err)
	}

	if s.config.Metrics != nil {
		s.config.Metrics.Requests.WithLabelValues("stream").Inc()
	}
	stream, err := e.client.Stream(ctx, s.buildRequest(messages, model, true))
	if err != nil {
		s.release(e)
		s.endCall()
		return nil, mapClientError(err)
	}

	cs := &ChunkStream{inner: stream}
	cs.release = func() {
		s.release(e)
		s.endCall()
	}
	return cs, nil
}
