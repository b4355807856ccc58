// Package vendortest provides a scriptable in-process vendor for tests.
package vendortest

import (
	"context"
	"encoding/json"
	"sync"

	"kycflow/internal/vendors"
)

// Fake answers every vendor API with a canned success unless scripted
// otherwise. It records the order of calls.
type Fake struct {
	mu        sync.Mutex
	calls     []vendors.API
	failures  map[vendors.API][]error
	responses map[vendors.API]*vendors.Response
	hooks     map[vendors.API]func(ctx context.Context, req vendors.Request)
}

func NewFake() *Fake {
	return &Fake{
		failures:  make(map[vendors.API][]error),
		responses: make(map[vendors.API]*vendors.Response),
		hooks:     make(map[vendors.API]func(context.Context, vendors.Request)),
	}
}

// Register installs the fake as the client of every known API.
func (f *Fake) Register(reg *vendors.Registry) {
	for _, api := range vendors.AllAPIs() {
		api := api
		reg.Register(api, vendors.ClientFunc(func(ctx context.Context, req vendors.Request) (*vendors.Response, error) {
			return f.handle(ctx, api, req)
		}))
	}
}

// FailNext makes the next call to api fail with err. Calls queue up.
func (f *Fake) FailNext(api vendors.API, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[api] = append(f.failures[api], err)
}

// Respond replaces the canned response for api.
func (f *Fake) Respond(api vendors.API, resp *vendors.Response) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[api] = resp
}

// OnCall runs hook before the fake answers a call to api.
func (f *Fake) OnCall(api vendors.API, hook func(ctx context.Context, req vendors.Request)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hooks[api] = hook
}

// Calls returns the APIs called so far, in order.
func (f *Fake) Calls() []vendors.API {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]vendors.API(nil), f.calls...)
}

// Count returns how many times api was called.
func (f *Fake) Count(api vendors.API) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == api {
			n++
		}
	}
	return n
}

func (f *Fake) handle(ctx context.Context, api vendors.API, req vendors.Request) (*vendors.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, api)
	hook := f.hooks[api]
	var err error
	if queued := f.failures[api]; len(queued) > 0 {
		err = queued[0]
		f.failures[api] = queued[1:]
	}
	resp, scripted := f.responses[api]
	f.mu.Unlock()

	if hook != nil {
		hook(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	if scripted {
		cp := *resp
		return &cp, nil
	}
	return defaultResponse(api), nil
}

func defaultResponse(api vendors.API) *vendors.Response {
	body := map[string]any{}
	var signals []string
	switch api {
	case vendors.IncodeStartOnboarding:
		body["token"] = "incode-session-token"
	case vendors.IncodeFetchScores:
		body["overall"] = "ok"
		signals = []string{"document_authentic"}
	case vendors.IncodeFetchOCR:
		body["full_name"] = "Ada Lovelace"
		body["dob"] = "1815-12-10"
		body["document_number"] = "D1234567"
	}
	raw, _ := json.Marshal(body)
	return &vendors.Response{API: api, Body: raw, Signals: signals}
}
