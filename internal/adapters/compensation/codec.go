package compensation

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/eleven-am/sagaflow/internal/domain"
	"github.com/eleven-am/sagaflow/internal/ports"
)

// Decoder maps an intent of one action kind to the capability call that
// performs it.
type Decoder func(intent domain.CompensationIntent) (capabilityID string, params map[string]interface{}, err error)

// Codec is the interpreter between persisted compensation intents and the
// capability executor. The "invoke" kind is always registered.
type Codec struct {
	mu       sync.RWMutex
	decoders map[string]Decoder
	logger   *slog.Logger
}

var _ ports.CompensationCodec = (*Codec)(nil)

func NewCodec(logger *slog.Logger) *Codec {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Codec{
		decoders: make(map[string]Decoder),
		logger:   logger.With("component", "compensation-codec"),
	}
	c.decoders[domain.IntentInvoke] = decodeInvoke
	return c
}

func decodeInvoke(intent domain.CompensationIntent) (string, map[string]interface{}, error) {
	if !domain.ValidCapabilityID(intent.CapabilityID) {
		return "", nil, fmt.Errorf("%w: invoke intent has malformed capability id %q", domain.ErrInvalidInput, intent.CapabilityID)
	}
	return intent.CapabilityID, intent.Params, nil
}

func (c *Codec) Register(action string, decoder Decoder) error {
	if action == "" || decoder == nil {
		return fmt.Errorf("%w: action and decoder are required", domain.ErrInvalidInput)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.decoders[action]; exists {
		return fmt.Errorf("%w: compensation action %q already registered", domain.ErrInvalidInput, action)
	}
	c.decoders[action] = decoder
	c.logger.Debug("registered compensation action", "action", action)
	return nil
}

// RegisterCapability binds an action kind to a fixed capability; the
// intent's params are passed through unchanged.
func (c *Codec) RegisterCapability(action, capabilityID string) error {
	if !domain.ValidCapabilityID(capabilityID) {
		return fmt.Errorf("%w: malformed capability id %q", domain.ErrInvalidInput, capabilityID)
	}
	return c.Register(action, func(intent domain.CompensationIntent) (string, map[string]interface{}, error) {
		return capabilityID, intent.Params, nil
	})
}

func (c *Codec) Actions() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	actions := make([]string, 0, len(c.decoders))
	for action := range c.decoders {
		actions = append(actions, action)
	}
	sort.Strings(actions)
	return actions
}

// Encode normalizes a capability's undo value into an intent this codec can
// later execute.
func (c *Codec) Encode(undo interface{}) (domain.CompensationIntent, bool, error) {
	intent, ok, err := domain.IntentFromUndo(undo)
	if err != nil || !ok {
		return intent, ok, err
	}
	if _, _, err := c.Decode(intent); err != nil {
		return domain.CompensationIntent{}, false, err
	}
	return intent, true, nil
}

// FromDefinition renders the declarative compensation of a step into an
// invoke intent.
func FromDefinition(def *domain.CompensationDefinition, params map[string]interface{}) domain.CompensationIntent {
	return domain.CompensationIntent{
		Action:       domain.IntentInvoke,
		CapabilityID: def.CapabilityID,
		Params:       params,
		Metadata:     map[string]string{"source": "declarative"},
	}
}

func (c *Codec) Decode(intent domain.CompensationIntent) (string, map[string]interface{}, error) {
	c.mu.RLock()
	decoder, ok := c.decoders[intent.Action]
	c.mu.RUnlock()
	if !ok {
		return "", nil, fmt.Errorf("%w: %q", domain.ErrUnknownIntent, intent.Action)
	}
	return decoder(intent)
}

func (c *Codec) Execute(ctx context.Context, intent domain.CompensationIntent, executor ports.CapabilityExecutor, info domain.ExecutionInfo) (*domain.ExecutionResult, error) {
	capabilityID, params, err := c.Decode(intent)
	if err != nil {
		return nil, err
	}

	info.Compensating = true
	result, err := executor.Execute(ctx, capabilityID, params, info)
	if err != nil {
		return result, fmt.Errorf("compensation %s via %s: %w", intent.Action, capabilityID, err)
	}
	if result == nil {
		return nil, fmt.Errorf("compensation %s via %s returned no result", intent.Action, capabilityID)
	}
	if !result.Success {
		return result, fmt.Errorf("compensation %s via %s: %s", intent.Action, capabilityID, result.ErrorMessage)
	}
	return result, nil
}
