package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/immxrtalbeast/buzzer/internal/domain"
	"github.com/immxrtalbeast/buzzer/internal/repository"
)

type roomValidator interface {
	ValidateRoomCode(ctx context.Context, code string) (bool, error)
}

// Validator is the join gate: IDLE -> LOADING -> SUCCESS|FAILURE -> IDLE.
// Not-found and store errors both end in FAILURE; LastError keeps them apart.
type Validator struct {
	rooms roomValidator

	mu       sync.Mutex
	status   domain.ValidationStatus
	lastErr  error
	watchers []chan domain.ValidationStatus
}

func NewValidator(rooms roomValidator) *Validator {
	return &Validator{rooms: rooms, status: domain.ValidationIdle}
}

// Validate normalises code, checks it exists and returns the final state.
func (v *Validator) Validate(ctx context.Context, code string) domain.ValidationStatus {
	v.set(domain.ValidationLoading, nil)

	code = domain.NormalizeRoomCode(code)
	if err := domain.ValidateRoomCode(code); err != nil {
		v.set(domain.ValidationFailure, err)
		return domain.ValidationFailure
	}

	ok, err := v.rooms.ValidateRoomCode(ctx, code)
	switch {
	case err != nil:
		v.set(domain.ValidationFailure, err)
		return domain.ValidationFailure
	case !ok:
		v.set(domain.ValidationFailure, repository.ErrRoomNotFound)
		return domain.ValidationFailure
	}

	v.set(domain.ValidationSuccess, nil)
	return domain.ValidationSuccess
}

func (v *Validator) Reset() {
	v.set(domain.ValidationIdle, nil)
}

// InputEdited clears a FAILURE so the error does not outlive the input.
func (v *Validator) InputEdited() {
	v.mu.Lock()
	failed := v.status == domain.ValidationFailure
	v.mu.Unlock()

	if failed {
		v.Reset()
	}
}

func (v *Validator) Status() domain.ValidationStatus {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.status
}

func (v *Validator) LastError() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lastErr
}

// IsNotFound reports whether the last failure was a missing room.
func (v *Validator) IsNotFound() bool {
	return errors.Is(v.LastError(), repository.ErrRoomNotFound)
}

// Watch streams status changes until ctx ends. Slow readers miss
// intermediate states but always see the latest.
func (v *Validator) Watch(ctx context.Context) <-chan domain.ValidationStatus {
	ch := make(chan domain.ValidationStatus, 1)

	v.mu.Lock()
	ch <- v.status
	v.watchers = append(v.watchers, ch)
	v.mu.Unlock()

	go func() {
		<-ctx.Done()
		v.mu.Lock()
		defer v.mu.Unlock()
		for i, w := range v.watchers {
			if w == ch {
				v.watchers = append(v.watchers[:i], v.watchers[i+1:]...)
				break
			}
		}
		close(ch)
	}()

	return ch
}

func (v *Validator) set(status domain.ValidationStatus, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.status = status
	v.lastErr = err
	for _, w := range v.watchers {
		select {
		case <-w:
		default:
		}
		w <- status
	}
}

// idle reports whether nobody is watching the validator.
func (v *Validator) idle() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.watchers) == 0
}

const defaultValidatorIdleTTL = 30 * time.Minute

type registryEntry struct {
	validator *Validator
	lastUsed  time.Time
}

// ValidatorRegistry keeps one Validator per device. Entries nobody touched
// for idleTTL are dropped by DeleteExpired unless a watcher is attached.
type ValidatorRegistry struct {
	rooms   roomValidator
	idleTTL time.Duration
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]*registryEntry
}

func NewValidatorRegistry(rooms roomValidator, idleTTL time.Duration) *ValidatorRegistry {
	if idleTTL <= 0 {
		idleTTL = defaultValidatorIdleTTL
	}
	return &ValidatorRegistry{
		rooms:   rooms,
		idleTTL: idleTTL,
		now:     time.Now,
		entries: make(map[string]*registryEntry),
	}
}

func (r *ValidatorRegistry) For(device string) *Validator {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[device]
	if !ok {
		e = &registryEntry{validator: NewValidator(r.rooms)}
		r.entries[device] = e
	}
	e.lastUsed = r.now()
	return e.validator
}

// Forget drops a device's validator once nothing watches it.
func (r *ValidatorRegistry) Forget(device string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[device]; ok && e.validator.idle() {
		delete(r.entries, device)
	}
}

func (r *ValidatorRegistry) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// DeleteExpired evicts validators unused since now-idleTTL.
func (r *ValidatorRegistry) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := now.Add(-r.idleTTL)
	removed := 0
	for device, e := range r.entries {
		if e.lastUsed.Before(cutoff) && e.validator.idle() {
			delete(r.entries, device)
			removed++
		}
	}
	return removed, nil
}
