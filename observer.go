package modubot

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
)

// Observer is notified of host events.
type Observer interface {
	// OnEvent is called synchronously; observers should return quickly.
	OnEvent(ctx context.Context, event cloudevents.Event) error

	// ObserverID returns a unique identifier for this observer.
	ObserverID() string
}

// Subject is implemented by event emitters.
type Subject interface {
	// RegisterObserver adds an observer. With no eventTypes the observer
	// receives every event.
	RegisterObserver(observer Observer, eventTypes ...string) error

	// UnregisterObserver removes an observer. It is idempotent.
	UnregisterObserver(observer Observer) error

	// NotifyObservers delivers event to every interested observer.
	NotifyObservers(ctx context.Context, event cloudevents.Event) error

	// GetObservers describes the registered observers.
	GetObservers() []ObserverInfo
}

// ObserverInfo describes a registered observer.
type ObserverInfo struct {
	ID           string    `json:"id"`
	EventTypes   []string  `json:"eventTypes"`
	RegisteredAt time.Time `json:"registeredAt"`
}

// Event types emitted by the host.
const (
	EventTypeModuleLoaded    = "com.modubot.module.loaded"
	EventTypeModuleFailed    = "com.modubot.module.failed"
	EventTypeModuleUnloaded  = "com.modubot.module.unloaded"
	EventTypeModuleReloading = "com.modubot.module.reloading"

	EventTypeBatchCompleted = "com.modubot.batch.completed"
	EventTypeBatchFailed    = "com.modubot.batch.failed"

	EventTypeCapabilityPublished = "com.modubot.capability.published"
)

// FunctionalObserver adapts a function to the Observer interface.
type FunctionalObserver struct {
	id      string
	handler func(ctx context.Context, event cloudevents.Event) error
}

// NewFunctionalObserver creates an observer backed by handler.
func NewFunctionalObserver(id string, handler func(ctx context.Context, event cloudevents.Event) error) Observer {
	return &FunctionalObserver{id: id, handler: handler}
}

// OnEvent calls the handler function.
func (f *FunctionalObserver) OnEvent(ctx context.Context, event cloudevents.Event) error {
	return f.handler(ctx, event)
}

// ObserverID returns the observer ID.
func (f *FunctionalObserver) ObserverID() string {
	return f.id
}

// NewCloudEvent creates a CloudEvent with a time-ordered UUIDv7 id.
func NewCloudEvent(eventType, source string, data any, metadata map[string]any) cloudevents.Event {
	event := cloudevents.NewEvent()
	event.SetID(generateEventID())
	event.SetSource(source)
	event.SetType(eventType)
	event.SetTime(time.Now())
	event.SetSpecVersion(cloudevents.VersionV1)

	if data != nil {
		_ = event.SetData(cloudevents.ApplicationJSON, data)
	}
	for key, value := range metadata {
		event.SetExtension(key, value)
	}
	return event
}

func generateEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return id.String()
}

type observerRegistration struct {
	observer     Observer
	eventTypes   []string
	registeredAt time.Time
}

func (r observerRegistration) wants(eventType string) bool {
	return len(r.eventTypes) == 0 || slices.Contains(r.eventTypes, eventType)
}

// eventHub is the Subject implementation shared by the host.
type eventHub struct {
	mu            sync.RWMutex
	registrations []observerRegistration
}

func (h *eventHub) RegisterObserver(observer Observer, eventTypes ...string) error {
	if observer == nil {
		return ErrObserverNil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	reg := observerRegistration{
		observer:     observer,
		eventTypes:   slices.Clone(eventTypes),
		registeredAt: time.Now(),
	}
	for i, existing := range h.registrations {
		if existing.observer.ObserverID() == observer.ObserverID() {
			h.registrations[i] = reg
			return nil
		}
	}
	h.registrations = append(h.registrations, reg)
	return nil
}

func (h *eventHub) UnregisterObserver(observer Observer) error {
	if observer == nil {
		return ErrObserverNil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.registrations = slices.DeleteFunc(h.registrations, func(r observerRegistration) bool {
		return r.observer.ObserverID() == observer.ObserverID()
	})
	return nil
}

func (h *eventHub) NotifyObservers(ctx context.Context, event cloudevents.Event) error {
	h.mu.RLock()
	targets := make([]Observer, 0, len(h.registrations))
	for _, reg := range h.registrations {
		if reg.wants(event.Type()) {
			targets = append(targets, reg.observer)
		}
	}
	h.mu.RUnlock()

	var errs []error
	for _, observer := range targets {
		if err := observer.OnEvent(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("observer %s: %w", observer.ObserverID(), err))
		}
	}
	return errors.Join(errs...)
}

func (h *eventHub) GetObservers() []ObserverInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]ObserverInfo, 0, len(h.registrations))
	for _, reg := range h.registrations {
		out = append(out, ObserverInfo{
			ID:           reg.observer.ObserverID(),
			EventTypes:   slices.Clone(reg.eventTypes),
			RegisteredAt: reg.registeredAt,
		})
	}
	return out
}
