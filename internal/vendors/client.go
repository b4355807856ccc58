package vendors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	id "kycflow/pkg/domain"
)

// Request is the typed envelope handed to a vendor client. Payload is
// API-specific and opaque to the workflow core.
type Request struct {
	API           API
	CaseID        id.CaseID
	VendorSession string // vendor-side session token, when the API needs one
	Payload       json.RawMessage
}

// Response is a successful vendor answer. Signals are normalized risk codes
// extracted by the client for rule evaluation.
type Response struct {
	API     API
	Body    json.RawMessage
	Signals []string
}

// Client performs one request against one vendor API.
//
//go:generate mockgen -source=client.go -destination=mocks/client_mock.go -package=mocks Client
type Client interface {
	MakeRequest(ctx context.Context, req Request) (*Response, error)
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, req Request) (*Response, error)

func (f ClientFunc) MakeRequest(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}

// Registry maps vendor APIs to their clients.
type Registry struct {
	mu      sync.RWMutex
	clients map[API]Client
}

func NewRegistry() *Registry {
	return &Registry{clients: make(map[API]Client)}
}

// Register installs c for api, replacing any previous client.
func (r *Registry) Register(api API, c Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[api] = c
}

// Client returns the client for api.
func (r *Registry) Client(api API) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[api]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrClientNotRegistered, api)
	}
	return c, nil
}

// ErrClientNotRegistered is returned when no client serves an API.
var ErrClientNotRegistered = errors.New("vendor client not registered")
