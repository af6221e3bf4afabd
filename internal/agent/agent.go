// ABOUTME: Agent contract shared by all journey specialists
// ABOUTME: Agents are pure workers, the gateway owns persistence and dispatch

package agent

import (
	"context"
	"errors"

	"github.com/medforce/intake-gateway/internal/diary"
	"github.com/medforce/intake-gateway/internal/event"
)

// ErrUnhandledEvent means the agent has no handler for the event
// type it was given. The gateway dead-letters these.
var ErrUnhandledEvent = errors.New("agent cannot handle event")

// Response is one patient-facing message produced by an agent. The
// gateway dispatches it on the originating channel.
type Response struct {
	Text    string
	Channel string
}

// Result is everything an agent produced for one event: the mutated
// diary, follow-up events to loop back through the gateway, and
// patient-facing responses.
type Result struct {
	Diary     *diary.Diary
	Events    []*event.Envelope
	Responses []Response
}

// Agent processes one event against one diary. Implementations must
// not persist or dispatch anything themselves; they mutate the diary
// they are given and describe the rest in the Result.
type Agent interface {
	Name() string
	Process(ctx context.Context, env *event.Envelope, d *diary.Diary) (*Result, error)
}

// Reasoner is the pluggable reasoning capability. Agents consult it
// for free-text judgment calls; every safety-relevant decision has a
// deterministic rule that takes precedence.
type Reasoner interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// respond builds a Result echoing the event's channel.
func respond(env *event.Envelope, d *diary.Diary, texts ...string) *Result {
	r := &Result{Diary: d}
	for _, t := range texts {
		r.Responses = append(r.Responses, Response{Text: t, Channel: env.Channel()})
	}
	return r
}
