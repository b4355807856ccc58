package vendors

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"kycflow/internal/vendors/metrics"
	id "kycflow/pkg/domain"
	"kycflow/pkg/platform/circuit"
	"kycflow/pkg/requestcontext"
)

const defaultCallTimeout = 15 * time.Second

var tracer = otel.Tracer("kycflow/vendor")

// TimeoutPolicy bounds each vendor call.
type TimeoutPolicy interface {
	Timeout(api API) time.Duration
}

// Gateway is the single path from the workflow core to vendor clients. It
// bounds every call with a timeout, guards each API with a circuit breaker,
// and appends an immutable Call record for every attempt.
type Gateway struct {
	registry *Registry
	calls    CallStore
	timeouts TimeoutPolicy
	logger   *slog.Logger
	metrics  *metrics.Metrics

	breakerOpts []circuit.Option
	mu          sync.Mutex
	breakers    map[API]*circuit.Breaker
}

type GatewayOption func(*Gateway)

func WithLogger(logger *slog.Logger) GatewayOption {
	return func(g *Gateway) { g.logger = logger }
}

func WithMetrics(m *metrics.Metrics) GatewayOption {
	return func(g *Gateway) { g.metrics = m }
}

func WithTimeouts(p TimeoutPolicy) GatewayOption {
	return func(g *Gateway) { g.timeouts = p }
}

func WithBreakerOptions(opts ...circuit.Option) GatewayOption {
	return func(g *Gateway) { g.breakerOpts = opts }
}

func NewGateway(registry *Registry, calls CallStore, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		registry: registry,
		calls:    calls,
		logger:   slog.Default(),
		breakers: make(map[API]*circuit.Breaker),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Call performs req and records it. Vendor failures come back as data in
// CallResult.Err; the gateway never fails the caller for them.
func (g *Gateway) Call(ctx context.Context, caseID id.CaseID, req Request) CallResult {
	ctx, span := tracer.Start(ctx, "vendor.call",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("vendor.api", string(req.API)),
			attribute.String("case.id", caseID.String()),
		),
	)
	defer span.End()

	req.CaseID = caseID
	start := time.Now()
	resp, verr := g.invoke(ctx, req)
	elapsed := time.Since(start)

	call := Call{
		ID:         id.NewVendorCallID(),
		CaseID:     caseID,
		API:        req.API,
		RequestRef: digest(req.Payload),
		Duration:   elapsed,
		CreatedAt:  requestcontext.Now(ctx),
	}
	outcome := string(CallSucceeded)
	if verr != nil {
		call.Status = CallFailed
		call.ErrorCategory = verr.Category
		call.ErrorReason = verr.Reason
		call.ErrorMessage = verr.Message
		outcome = string(verr.Category)
		span.SetStatus(codes.Error, verr.Error())
	} else {
		call.Status = CallSucceeded
		call.Response = resp.Body
		call.Signals = resp.Signals
	}
	g.metrics.ObserveCall(string(req.API), outcome, elapsed)

	if err := g.calls.Append(ctx, call); err != nil {
		g.logger.ErrorContext(ctx, "failed to record vendor call",
			"case_id", caseID,
			"api", req.API,
			"error", err,
		)
		return CallResult{Call: call, Err: NewError(ErrorInternal, req.API, "record vendor call", err)}
	}

	if verr != nil {
		g.logger.WarnContext(ctx, "vendor call failed",
			"case_id", caseID,
			"api", req.API,
			"category", verr.Category,
			"reason", verr.Reason,
		)
		return CallResult{Call: call, Err: verr}
	}
	return CallResult{Call: call, Response: resp}
}

func (g *Gateway) invoke(ctx context.Context, req Request) (*Response, *Error) {
	client, err := g.registry.Client(req.API)
	if err != nil {
		return nil, NewError(ErrorInternal, req.API, "no client", err)
	}

	breaker := g.breaker(req.API)
	if !breaker.Allow() {
		return nil, NewError(ErrorProviderOutage, req.API, "circuit open", nil)
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout(req.API))
	defer cancel()

	resp, err := client.MakeRequest(callCtx, req)
	if err == nil && resp == nil {
		err = NewError(ErrorContractMismatch, req.API, "empty response", nil)
	}
	if err != nil {
		verr := AsError(req.API, err)
		// the caller gave up; says nothing about vendor health
		if ctx.Err() != nil || verr.Category == ErrorCanceled {
			return nil, verr
		}
		if verr.Retryable {
			if _, change := breaker.RecordFailure(); change.Opened {
				g.metrics.IncrementCircuitTransition(string(req.API), string(circuit.StateOpen))
				g.logger.WarnContext(ctx, "vendor circuit opened", "api", req.API)
			}
		} else {
			g.recordSuccess(ctx, breaker, req.API)
		}
		return nil, verr
	}

	g.recordSuccess(ctx, breaker, req.API)
	if resp.API == "" {
		resp.API = req.API
	}
	return resp, nil
}

func (g *Gateway) recordSuccess(ctx context.Context, b *circuit.Breaker, api API) {
	if _, change := b.RecordSuccess(); change.Closed {
		g.metrics.IncrementCircuitTransition(string(api), string(circuit.StateClosed))
		g.logger.InfoContext(ctx, "vendor circuit closed", "api", api)
	}
}

func (g *Gateway) breaker(api API) *circuit.Breaker {
	g.mu.Lock()
	defer g.mu.Unlock()
	b, ok := g.breakers[api]
	if !ok {
		b = circuit.New(string(api), g.breakerOpts...)
		g.breakers[api] = b
	}
	return b
}

func (g *Gateway) timeout(api API) time.Duration {
	if g.timeouts != nil {
		if d := g.timeouts.Timeout(api); d > 0 {
			return d
		}
	}
	return defaultCallTimeout
}

func digest(payload []byte) string {
	if len(payload) == 0 {
		return ""
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
