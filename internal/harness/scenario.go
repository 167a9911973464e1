package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/roach88/dropcart/internal/driver/drivertest"
	"github.com/roach88/dropcart/internal/events"
	"github.com/roach88/dropcart/internal/purchase"
	"github.com/roach88/dropcart/internal/storefront"
)

// Scenario is one purchase against a scripted storefront.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Locators is an optional CUE locator file, relative to the scenario
	// file. The page is built with, and the flow resolves, these
	// selectors instead of the defaults.
	Locators string `yaml:"locators,omitempty"`

	// Product is the listing the storefront serves.
	Product storefront.Product `yaml:"product"`

	// Request is the purchase request.
	Request RequestSpec `yaml:"request"`

	// Config overrides worker settings.
	Config Overrides `yaml:"config,omitempty"`

	// Confirmation decides the final-order gate: "deliver" confirms as
	// soon as the flow waits, "withhold" lets it time out.
	Confirmation string `yaml:"confirmation,omitempty"`

	// Expect checks the outcome.
	Expect Expectation `yaml:"expect"`

	// Assertions validate the trace, driver calls and stored activity.
	Assertions []Assertion `yaml:"assertions,omitempty"`

	// RequestID is the fixed request id. Defaults to "req-scenario".
	RequestID string `yaml:"request_id,omitempty"`
}

// RequestSpec is the inbound request of a scenario. Price is a decimal
// string so YAML never rounds it.
type RequestSpec struct {
	URL       string `yaml:"url,omitempty"`
	Price     string `yaml:"price,omitempty"`
	Product   string `yaml:"product,omitempty"`
	MessageID string `yaml:"message_id,omitempty"`
}

// Overrides replace worker settings. Unset fields keep the defaults.
type Overrides struct {
	MaxRetries        *int  `yaml:"max_retries,omitempty"`
	FastCheckout      *bool `yaml:"fast_checkout,omitempty"`
	ConfirmFinalOrder *bool `yaml:"confirm_final_order,omitempty"`
	DryRun            *bool `yaml:"dry_run,omitempty"`
}

// Expectation is checked against the outcome. Empty fields are skipped.
type Expectation struct {
	Status    string   `yaml:"status"`
	Reason    string   `yaml:"reason,omitempty"`
	Message   string   `yaml:"message,omitempty"`
	States    []string `yaml:"states,omitempty"`
	Orders    *int     `yaml:"orders,omitempty"`
	Simulated *bool    `yaml:"simulated,omitempty"`
	OrderRef  string   `yaml:"order_ref,omitempty"`
	Artifact  *bool    `yaml:"artifact,omitempty"`
}

// Assertion validates the trace, the driver calls or the stored activity.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Kind, State, Outcome and Detail select events (trace_contains,
	// trace_count).
	Kind    string `yaml:"kind,omitempty"`
	State   string `yaml:"state,omitempty"`
	Outcome string `yaml:"outcome,omitempty"`
	Detail  string `yaml:"detail,omitempty"`

	// States is the expected order of entered states (trace_order).
	States []string `yaml:"states,omitempty"`

	// Op and Field select driver calls (driver_calls). URL replaces Field
	// for navigations.
	Op    string `yaml:"op,omitempty"`
	Field string `yaml:"field,omitempty"`
	URL   string `yaml:"url,omitempty"`

	// Count is the exact number of matches (trace_count, driver_calls).
	Count int `yaml:"count,omitempty"`

	// Expect holds activity column values (activity).
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertDriverCalls   = "driver_calls"
	AssertActivity      = "activity"
)

// Confirmation modes.
const (
	ConfirmDeliver  = "deliver"
	ConfirmWithhold = "withhold"
)

// DefaultRequestID is used when a scenario has no request_id.
const DefaultRequestID = "req-scenario"

// LoadScenario reads and parses a scenario YAML file. The locators path is
// resolved relative to the file. Unknown fields are rejected.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving the locators path relative to basePath.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	if scenario.Locators != "" && !filepath.IsAbs(scenario.Locators) && basePath != "" {
		scenario.Locators = filepath.Join(basePath, scenario.Locators)
	}
	if scenario.Locators != "" {
		if _, err := os.Stat(scenario.Locators); err != nil {
			return nil, fmt.Errorf("invalid scenario: locators file not found: %s", scenario.Locators)
		}
	}
	return scenario, nil
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	if scenario.RequestID == "" {
		scenario.RequestID = DefaultRequestID
	}
	return &scenario, nil
}

// Inbound converts the request spec, filling the storefront's product URL
// when none is given.
func (s *Scenario) Inbound() (purchase.Inbound, error) {
	in := purchase.Inbound{
		URL:       s.Request.URL,
		Product:   s.Request.Product,
		MessageID: s.Request.MessageID,
	}
	if in.URL == "" {
		in.URL = s.Product.URL
	}
	if in.URL == "" {
		in.URL = storefront.DefaultProductURL
	}
	if s.Request.Price != "" {
		p, err := decimal.NewFromString(s.Request.Price)
		if err != nil {
			return purchase.Inbound{}, fmt.Errorf("request.price: %w", err)
		}
		in.Price = &p
	}
	return in, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Expect.Status == "" {
		return fmt.Errorf("expect.status is required")
	}
	switch purchase.Status(s.Expect.Status) {
	case purchase.StatusCompleted, purchase.StatusFailed:
	default:
		return fmt.Errorf("expect.status must be COMPLETED or FAILED, got %q", s.Expect.Status)
	}
	for i, name := range s.Expect.States {
		if _, ok := purchase.ParseState(name); !ok {
			return fmt.Errorf("expect.states[%d]: unknown state %q", i, name)
		}
	}

	switch s.Confirmation {
	case "", ConfirmDeliver, ConfirmWithhold:
	default:
		return fmt.Errorf("confirmation must be %q or %q, got %q", ConfirmDeliver, ConfirmWithhold, s.Confirmation)
	}

	if s.Request.Price != "" {
		if _, err := decimal.NewFromString(s.Request.Price); err != nil {
			return fmt.Errorf("request.price: %w", err)
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	if a.Kind != "" && !knownKind(a.Kind) {
		return fmt.Errorf("assertions[%d]: unknown event kind %q", index, a.Kind)
	}
	if a.State != "" {
		if _, ok := purchase.ParseState(a.State); !ok {
			return fmt.Errorf("assertions[%d]: unknown state %q", index, a.State)
		}
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: kind is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.States) == 0 {
			return fmt.Errorf("assertions[%d]: states list is required for trace_order", index)
		}
		for _, name := range a.States {
			if _, ok := purchase.ParseState(name); !ok {
				return fmt.Errorf("assertions[%d]: unknown state %q", index, name)
			}
		}
	case AssertTraceCount:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: kind is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertDriverCalls:
		switch a.Op {
		case drivertest.OpNavigate:
		case drivertest.OpClick, drivertest.OpRead, drivertest.OpLocate,
			drivertest.OpWaitVisible, drivertest.OpWaitHidden:
			if a.Field == "" {
				return fmt.Errorf("assertions[%d]: field is required for driver_calls %s", index, a.Op)
			}
		default:
			return fmt.Errorf("assertions[%d]: unsupported op %q for driver_calls", index, a.Op)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for driver_calls", index)
		}
	case AssertActivity:
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for activity", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

// knownKind reports whether k names an event kind.
func knownKind(k string) bool {
	switch events.Kind(k) {
	case events.KindRequestQueued, events.KindRequestStarted, events.KindStateChange,
		events.KindAttempt, events.KindConfirmationRequired, events.KindOrderPlaced,
		events.KindRequestFinished, events.KindWorkerPaused, events.KindWorkerResumed,
		events.KindWorkerError:
		return true
	}
	return false
}
