package scrape

import (
	"errors"
	"fmt"
)

// OutcomeKind tags the variant held by an Outcome.
type OutcomeKind int

// Outcome variants returned by an Agent run.
const (
	OutcomeStructured OutcomeKind = iota + 1
	OutcomeText
	OutcomeParseFailure
	OutcomeNoOutput
	OutcomeProviderError
	OutcomeUnknownError
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeStructured:
		return "structured"
	case OutcomeText:
		return "text"
	case OutcomeParseFailure:
		return "parse_failure"
	case OutcomeNoOutput:
		return "no_output"
	case OutcomeProviderError:
		return "provider_error"
	case OutcomeUnknownError:
		return "unknown_error"
	default:
		return "invalid"
	}
}

// ProviderClass sub-classifies provider errors.
type ProviderClass int

// Provider error classes.
const (
	ProviderOther ProviderClass = iota
	ProviderRateLimited
)

func (c ProviderClass) String() string {
	if c == ProviderRateLimited {
		return "rate_limited"
	}
	return "other"
}

// Outcome is the normalized result of one agent invocation. Exactly one
// variant is set, identified by Kind.
type Outcome struct {
	Kind     OutcomeKind
	Artifact Artifact
	Text     string
	Provider ProviderClass
	Err      error
	Usage    Usage
}

// Structured builds a StructuredSuccess outcome.
func Structured(a Artifact, usage Usage) Outcome {
	return Outcome{Kind: OutcomeStructured, Artifact: a, Usage: usage}
}

// Text builds a TextSuccess outcome for text that parsed and validated.
func Text(a Artifact, text string, usage Usage) Outcome {
	return Outcome{Kind: OutcomeText, Artifact: a, Text: text, Usage: usage}
}

// ParseFailure builds a ParseFailure outcome.
func ParseFailure(text string, err error, usage Usage) Outcome {
	return Outcome{Kind: OutcomeParseFailure, Text: text, Err: err, Usage: usage}
}

// NoOutput builds a NoOutput outcome.
func NoOutput(usage Usage) Outcome {
	return Outcome{Kind: OutcomeNoOutput, Err: ErrNoOutput, Usage: usage}
}

// ProviderFailure builds a ProviderError outcome.
func ProviderFailure(class ProviderClass, err error, usage Usage) Outcome {
	sentinel := ErrProvider
	if class == ProviderRateLimited {
		sentinel = ErrRateLimited
	}
	if err == nil {
		err = sentinel
	} else if !errors.Is(err, sentinel) {
		err = fmt.Errorf("%w: %w", sentinel, err)
	}
	return Outcome{Kind: OutcomeProviderError, Provider: class, Err: err, Usage: usage}
}

// Unknown builds an UnknownError outcome.
func Unknown(err error) Outcome {
	if err == nil {
		err = ErrUnknown
	} else if !errors.Is(err, ErrUnknown) {
		err = fmt.Errorf("%w: %w", ErrUnknown, err)
	}
	return Outcome{Kind: OutcomeUnknownError, Err: err}
}

// Succeeded reports whether the outcome carries a validated artifact.
func (o Outcome) Succeeded() bool {
	return o.Kind == OutcomeStructured || o.Kind == OutcomeText
}
