// Package chatbot implements the conversational step script the booking
// widget walks a visitor through. It is pure branching over a static script;
// the collected answers become a lead suitable for insertion into the
// datastore.
package chatbot

import (
	"fmt"
	"strings"

	"github.com/harborpoint/bookingbridge/pkg/booking"
)

// Option is one selectable branch out of a step.
type Option struct {
	Label string
	Next  string
}

// Step is one prompt in the script. Steps without options capture free text
// and continue to Next; a step with neither options nor a next id is terminal.
type Step struct {
	ID      string
	Prompt  string
	Options []Option
	Next    string
}

// Terminal reports whether the script ends at this step.
func (step Step) Terminal() bool {
	return len(step.Options) == 0 && step.Next == ""
}

// State carries the answers collected so far, keyed by step id.
type State map[string]string

// Script is a validated set of steps with a designated start.
type Script struct {
	steps map[string]Step
	start string
}

// NewScript wires a Script and validates every branch target.
func NewScript(start string, steps []Step) (*Script, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("%w: script has no steps", booking.ErrInvalidServiceConfig)
	}
	indexed := make(map[string]Step, len(steps))
	for _, step := range steps {
		if strings.TrimSpace(step.ID) == "" {
			return nil, fmt.Errorf("%w: step id is required", booking.ErrInvalidServiceConfig)
		}
		if _, exists := indexed[step.ID]; exists {
			return nil, fmt.Errorf("%w: duplicate step id %q", booking.ErrInvalidServiceConfig, step.ID)
		}
		indexed[step.ID] = step
	}
	if _, exists := indexed[start]; !exists {
		return nil, fmt.Errorf("%w: unknown start step %q", booking.ErrInvalidServiceConfig, start)
	}
	for _, step := range steps {
		if step.Next != "" {
			if _, exists := indexed[step.Next]; !exists {
				return nil, fmt.Errorf("%w: step %q continues to unknown step %q", booking.ErrInvalidServiceConfig, step.ID, step.Next)
			}
		}
		for _, option := range step.Options {
			if _, exists := indexed[option.Next]; !exists {
				return nil, fmt.Errorf("%w: option %q of step %q targets unknown step %q", booking.ErrInvalidServiceConfig, option.Label, step.ID, option.Next)
			}
		}
	}
	return &Script{steps: indexed, start: start}, nil
}

// Start returns the first step of the script.
func (script *Script) Start() Step {
	return script.steps[script.start]
}

// Advance records the answer for the current step and returns the next one.
// Option steps branch on a case-insensitive label match; free-text steps
// store the answer verbatim.
func (script *Script) Advance(state State, stepID string, answer string) (Step, State, error) {
	step, exists := script.steps[stepID]
	if !exists {
		return Step{}, nil, fmt.Errorf("%w: unknown step %q", booking.ErrNotFound, stepID)
	}
	updated := make(State, len(state)+1)
	for key, value := range state {
		updated[key] = value
	}
	updated[stepID] = answer

	if len(step.Options) == 0 {
		if step.Next == "" {
			return step, updated, nil
		}
		return script.steps[step.Next], updated, nil
	}
	for _, option := range step.Options {
		if strings.EqualFold(strings.TrimSpace(answer), option.Label) {
			return script.steps[option.Next], updated, nil
		}
	}
	return Step{}, nil, fmt.Errorf("%w: answer %q does not match an option of step %q", booking.ErrValidation, answer, stepID)
}

// Default step ids referenced by the lead summary.
const (
	StepGreeting  = "greeting"
	StepUnit      = "unit"
	StepDate      = "date"
	StepPartySize = "party_size"
	StepEmail     = "email"
	StepDone      = "done"
)

// DefaultScript is the booking-lead script served by the chatbot endpoint.
func DefaultScript() *Script {
	script, err := NewScript(StepGreeting, []Step{
		{
			ID:     StepGreeting,
			Prompt: "Hi! Would you like to check availability or ask about pricing?",
			Options: []Option{
				{Label: "availability", Next: StepUnit},
				{Label: "pricing", Next: StepUnit},
			},
		},
		{ID: StepUnit, Prompt: "Which location are you interested in?", Next: StepDate},
		{ID: StepDate, Prompt: "What date are you looking at? (YYYY-MM-DD)", Next: StepPartySize},
		{ID: StepPartySize, Prompt: "How many guests?", Next: StepEmail},
		{ID: StepEmail, Prompt: "Where can we send your quote?", Next: StepDone},
		{ID: StepDone, Prompt: "Thanks! We'll follow up shortly."},
	})
	if err != nil {
		panic(err)
	}
	return script
}

// Lead is the summary a completed conversation produces.
type Lead struct {
	Unit      string
	Date      string
	PartySize string
	Email     string
}

// LeadFromState extracts the lead fields collected by the default script.
func LeadFromState(state State) Lead {
	return Lead{
		Unit:      state[StepUnit],
		Date:      state[StepDate],
		PartySize: state[StepPartySize],
		Email:     state[StepEmail],
	}
}
