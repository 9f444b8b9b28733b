package upstream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ChamsBouzaiene/dodo/internal/admission"
	"github.com/ChamsBouzaiene/dodo/internal/breaker"
	"github.com/ChamsBouzaiene/dodo/internal/model"
	"github.com/ChamsBouzaiene/dodo/internal/schemacache"
	"github.com/ChamsBouzaiene/dodo/internal/validate"
)

// newReconnectBackoff paces repeated reconnect attempts against a backend
// that keeps failing to dial, independently of the breaker's open/half-open
// state machine: the breaker only trips after FailureThreshold consecutive
// failures, so without this a backend failing below that threshold would be
// redialed on every single call.
func newReconnectBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// backend bundles one configured backend's static descriptor with its live
// transport and breaker.
type backend struct {
	descriptor model.BackendDescriptor
	transport  Transport
	breaker    *breaker.Breaker

	mu               sync.Mutex
	status           model.BackendStatus
	reconnectBackoff backoff.BackOff
	nextReconnectAt  time.Time
}

// Pool is the process-wide upstream client pool (C5), managing every
// configured backend and integrating the circuit breaker (C1), admission
// pool (C2), schema cache (C4), and validator (C6) around every call.
type Pool struct {
	log       *slog.Logger
	admission *admission.Pool
	cache     *schemacache.Cache
	breakers  *breaker.Registry

	mu       sync.RWMutex
	backends map[string]*backend
}

// New constructs an empty Pool. Backends are added with AddBackend.
func New(admissionPool *admission.Pool, cache *schemacache.Cache, breakers *breaker.Registry, log *slog.Logger) *Pool {
	if log == nil {
		log = slog.Default()
	}
	return &Pool{
		log:       log,
		admission: admissionPool,
		cache:     cache,
		breakers:  breakers,
		backends:  make(map[string]*backend),
	}
}

// AddBackend registers a backend descriptor and constructs its transport,
// without connecting yet (connection happens on demand).
func (p *Pool) AddBackend(desc model.BackendDescriptor) error {
	var t Transport
	switch desc.Transport {
	case model.TransportLocalProcess:
		t = NewLocalProcess(desc.Command, desc.Args)
	case model.TransportHTTPStream:
		t = NewHTTPStream(desc.URL, desc.Headers)
	default:
		return fmt.Errorf("upstream: unknown transport %q for backend %q", desc.Transport, desc.Name)
	}

	desc.Status = model.BackendUnconnected
	b := &backend{
		descriptor:       desc,
		transport:        t,
		breaker:          p.breakers.Get(desc.Name),
		status:           model.BackendUnconnected,
		reconnectBackoff: newReconnectBackoff(),
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.backends[desc.Name] = b
	return nil
}

// ensureConnected connects a backend's transport if it is not already
// connected, under the per-backend circuit breaker so a backend that keeps
// failing to connect trips the circuit like any other call failure.
func (p *Pool) ensureConnected(ctx context.Context, b *backend) error {
	b.mu.Lock()
	status := b.status
	if status != model.BackendConnected {
		if now := time.Now(); now.Before(b.nextReconnectAt) {
			wait := b.nextReconnectAt.Sub(now)
			b.mu.Unlock()
			return model.New(model.KindUpstreamUnavailable, "backend %q is backing off reconnect attempts for %s", b.descriptor.Name, wait.Round(time.Millisecond))
		}
	}
	b.mu.Unlock()
	if status == model.BackendConnected {
		return nil
	}

	err := b.breaker.Execute(ctx, func(ctx context.Context) error {
		return b.transport.Connect(ctx)
	})
	b.mu.Lock()
	if err != nil {
		b.status = model.BackendFailed
		b.descriptor.LastError = err.Error()
		b.nextReconnectAt = time.Now().Add(b.reconnectBackoff.NextBackOff())
	} else {
		b.status = model.BackendConnected
		b.reconnectBackoff.Reset()
		b.nextReconnectAt = time.Time{}
	}
	b.mu.Unlock()
	return err
}

// ListTools fetches the tool catalog for one backend, coalesced and
// TTL-cached per tool through the schema cache (C4). The cache key is the
// fully-qualified "prefix__server__tool" identifier.
func (p *Pool) ListTools(ctx context.Context, backendName string) ([]model.ToolSchema, error) {
	p.mu.RLock()
	b, ok := p.backends[backendName]
	p.mu.RUnlock()
	if !ok {
		return nil, model.New(model.KindBadArguments, "unknown backend %q", backendName)
	}

	if err := p.ensureConnected(ctx, b); err != nil {
		return nil, model.Wrap(model.KindUpstreamUnavailable, err, "backend %q unreachable", backendName)
	}

	var descriptors []ToolDescriptor
	err := b.breaker.Execute(ctx, func(ctx context.Context) error {
		var derr error
		descriptors, derr = b.transport.ListTools(ctx)
		return derr
	})
	if err != nil {
		return nil, model.Wrap(classifyErr(ctx, err), err, "backend %q: list tools", backendName)
	}

	out := make([]model.ToolSchema, 0, len(descriptors))
	for _, d := range descriptors {
		qualified := fmt.Sprintf("%s__%s__%s", model.ToolPrefix, backendName, d.Name)
		schema, ferr := p.cache.GetOrFetch(qualified, func() (model.ToolSchema, error) {
			return model.ToolSchema{
				Name:        qualified,
				Description: d.Description,
				InputSchema: d.InputSchema,
			}, nil
		})
		if ferr != nil {
			continue
		}
		out = append(out, schema)
	}
	return out, nil
}

// ListAllToolSchemas fans out ListTools to every configured backend in
// parallel and concatenates the successes; one backend's failure degrades
// gracefully, per spec §4.5 — its tools are omitted and the failure only
// logged.
func (p *Pool) ListAllToolSchemas(ctx context.Context) []model.ToolSchema {
	p.mu.RLock()
	names := make([]string, 0, len(p.backends))
	for name := range p.backends {
		names = append(names, name)
	}
	p.mu.RUnlock()

	type result struct {
		schemas []model.ToolSchema
	}
	results := make(chan result, len(names))
	var wg sync.WaitGroup
	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			schemas, err := p.ListTools(ctx, name)
			if err != nil {
				p.log.Warn("upstream: backend tool listing failed, omitting from catalog", "backend", name, "error", err)
				results <- result{}
				return
			}
			results <- result{schemas: schemas}
		}(name)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	var all []model.ToolSchema
	for r := range results {
		all = append(all, r.schemas...)
	}
	return all
}

// qualifiedParts splits a "prefix__server__tool" identifier into its
// backend name and backend-local tool name.
func qualifiedParts(qualified string) (backendName, toolName string, ok bool) {
	if !model.ValidToolIdentifier(qualified) {
		return "", "", false
	}
	first := indexOfSep(qualified, 0)
	if first < 0 {
		return "", "", false
	}
	second := indexOfSep(qualified, first+2)
	if second < 0 {
		return "", "", false
	}
	return qualified[first+2 : second], qualified[second+2:], true
}

func indexOfSep(s string, from int) int {
	for i := from; i+1 < len(s); i++ {
		if s[i] == '_' && s[i+1] == '_' {
			return i
		}
	}
	return -1
}

// CallTool validates arguments against the cached schema, then dispatches
// the call to the owning backend behind an admission permit and the
// backend's circuit breaker, per spec §4.5.
func (p *Pool) CallTool(ctx context.Context, qualified string, args map[string]any) (model.ToolSchema, []byte, error) {
	backendName, toolName, ok := qualifiedParts(qualified)
	if !ok {
		return model.ToolSchema{}, nil, model.New(model.KindBadArguments, "malformed tool identifier %q", qualified)
	}

	p.mu.RLock()
	b, ok := p.backends[backendName]
	p.mu.RUnlock()
	if !ok {
		return model.ToolSchema{}, nil, model.New(model.KindBadArguments, "unknown backend %q", backendName)
	}

	if schema, cached := p.cache.Get(qualified); cached {
		if res, verr := validate.Args(qualified, args, schema.InputSchema); verr == nil && !res.Valid {
			return schema, nil, res.AsModelError(qualified)
		}
	}

	permit, err := p.admission.Acquire()
	if err != nil {
		return model.ToolSchema{}, nil, err
	}
	defer permit.Release()

	if err := p.ensureConnected(ctx, b); err != nil {
		return model.ToolSchema{}, nil, model.Wrap(model.KindUpstreamUnavailable, err, "backend %q unreachable", backendName)
	}

	var raw []byte
	err = b.breaker.Execute(ctx, func(ctx context.Context) error {
		result, cerr := b.transport.Call(ctx, toolName, args)
		if cerr != nil {
			return cerr
		}
		raw = result
		return nil
	})
	if err != nil {
		return model.ToolSchema{}, nil, model.Wrap(classifyErr(ctx, err), err, "backend %q: call %q", backendName, toolName)
	}

	schema, _ := p.cache.Get(qualified)
	return schema, raw, nil
}

// Shutdown closes every backend's transport, honoring spec §4.5's
// "terminate, wait briefly, then force-kill" contract (implemented per
// transport in Close).
func (p *Pool) Shutdown(ctx context.Context) {
	p.mu.RLock()
	backends := make([]*backend, 0, len(p.backends))
	for _, b := range p.backends {
		backends = append(backends, b)
	}
	p.mu.RUnlock()

	var wg sync.WaitGroup
	for _, b := range backends {
		wg.Add(1)
		go func(b *backend) {
			defer wg.Done()
			closeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := b.transport.Close(closeCtx); err != nil {
				p.log.Warn("upstream: backend shutdown error", "backend", b.descriptor.Name, "error", err)
			}
		}(b)
	}
	wg.Wait()
}

// Descriptors returns a snapshot of every backend's descriptor, including
// its current status, for diagnostics/health reporting.
func (p *Pool) Descriptors() []model.BackendDescriptor {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]model.BackendDescriptor, 0, len(p.backends))
	for _, b := range p.backends {
		b.mu.Lock()
		d := b.descriptor
		d.Status = b.status
		b.mu.Unlock()
		out = append(out, d)
	}
	return out
}
