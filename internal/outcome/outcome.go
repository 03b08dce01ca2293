// Package outcome defines the typed result of a run and the two things that
// produce it at the end of the pipeline: the block latch, which watches every
// response for the whole browser lifetime, and the post-submit classifier.
package outcome

import "fmt"

// Kind is the outcome category reported to callers.
type Kind string

const (
	Success            Kind = "Success"
	AlreadyDone        Kind = "AlreadyDone"
	NotFound           Kind = "NotFound"
	Blocked            Kind = "Blocked"
	TransientError     Kind = "TransientError"
	UnexpectedError    Kind = "UnexpectedError"
	SessionInvalid     Kind = "SessionInvalid"
	ConfigurationError Kind = "ConfigurationError"
)

// Stages a NotFound outcome can name.
const (
	StageAction = "action"
	StageSubmit = "submit"
)

// Outcome is exactly one classified result.
type Outcome struct {
	Kind    Kind
	Message string
	// Stage is set for NotFound and for failures tied to a pipeline stage.
	Stage string
	// Indicator is the URL or status that raised a block.
	Indicator string
	// Detail is operator-facing diagnostic text.
	Detail string
}

// Succeeded reports whether the run ended in a state the caller wanted:
// the invitation went out, or it already existed.
func (o Outcome) Succeeded() bool {
	return o.Kind == Success || o.Kind == AlreadyDone
}

func (o Outcome) String() string {
	switch {
	case o.Stage != "":
		return fmt.Sprintf("%s{%s}: %s", o.Kind, o.Stage, o.Message)
	case o.Indicator != "":
		return fmt.Sprintf("%s{%s}: %s", o.Kind, o.Indicator, o.Message)
	}
	return fmt.Sprintf("%s: %s", o.Kind, o.Message)
}

// Sent is a successful submission. unconfirmed marks a submission where no
// confirmation surface was seen.
func Sent(unconfirmed bool) Outcome {
	if unconfirmed {
		return Outcome{Kind: Success, Message: "Connection request sent (unconfirmed)"}
	}
	return Outcome{Kind: Success, Message: "Connection request sent"}
}

// Already is the benign already-related terminal state.
func Already() Outcome {
	return Outcome{Kind: AlreadyDone, Message: "Already connected to this profile"}
}

// Missing reports an unresolved control at stage.
func Missing(stage string) Outcome {
	msg := "Connect button not found"
	if stage == StageSubmit {
		msg = "Send button not found"
	}
	return Outcome{Kind: NotFound, Message: msg, Stage: stage}
}

// BlockedBy reports a challenge observed at indicator.
func BlockedBy(indicator string) Outcome {
	return Outcome{Kind: Blocked, Message: "Blocked by a platform security checkpoint", Indicator: indicator}
}

// Transient is a rejection the platform reported on the page.
func Transient(text string) Outcome {
	if text == "" {
		text = "Platform reported an error"
	}
	return Outcome{Kind: TransientError, Message: text}
}

// Unexpected wraps an uncaught failure.
func Unexpected(stage string, err error) Outcome {
	o := Outcome{Kind: UnexpectedError, Message: "Unexpected error during automation", Stage: stage}
	if err != nil {
		o.Detail = err.Error()
	}
	return o
}

// InvalidSession reports an unusable session.
func InvalidSession(detail string) Outcome {
	return Outcome{Kind: SessionInvalid, Message: "Session is invalid or expired", Detail: detail}
}

// Misconfigured reports invalid key or proxy material.
func Misconfigured(detail string) Outcome {
	return Outcome{Kind: ConfigurationError, Message: "Invalid engine configuration", Detail: detail}
}
