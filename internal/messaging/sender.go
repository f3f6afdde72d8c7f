package messaging

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/RealZimboGuy/reguaflow/pkg/reguaflow/domain"
)

// Sender delivers a text message through one messaging provider.
type Sender interface {
	// Provider returns the channel provider this sender handles, e.g. "evolution".
	Provider() string
	SendText(ctx context.Context, channel *domain.MessagingChannel, phone string, message string) error
}

// Registry maps channel providers to their senders. It satisfies the engine's Dispatcher.
type Registry struct {
	mu      sync.RWMutex
	senders map[string]Sender
}

func NewRegistry(senders ...Sender) *Registry {
	r := &Registry{senders: make(map[string]Sender)}
	for _, s := range senders {
		r.Register(s)
	}
	return r
}

// NewDefaultRegistry registers the Evolution and WuzAPI senders sharing one client with the given timeout.
func NewDefaultRegistry(timeout time.Duration) *Registry {
	client := &http.Client{Timeout: timeout}
	return NewRegistry(&EvolutionSender{Client: client}, &WuzAPISender{Client: client})
}

func (r *Registry) Register(s Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.senders[s.Provider()] = s
}

func (r *Registry) Get(provider string) (Sender, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.senders[provider]
	if !ok {
		return nil, fmt.Errorf("no sender registered for provider %q", provider)
	}
	return s, nil
}

func (r *Registry) SendText(ctx context.Context, channel *domain.MessagingChannel, phone string, message string) error {
	s, err := r.Get(channel.Provider)
	if err != nil {
		return err
	}
	return s.SendText(ctx, channel, phone, message)
}

func do(client *http.Client, req *http.Request, provider string) error {
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s send: %w", provider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s API returned %d: %s", provider, resp.StatusCode, body)
	}
	return nil
}
