package models

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// StepKind discriminates the members of the Step union
type StepKind string

const (
	StepText     StepKind = "text"
	StepImage    StepKind = "image"
	StepVideo    StepKind = "video"
	StepAudio    StepKind = "audio"
	StepDocument StepKind = "document"
	StepAI       StepKind = "ai"
	StepWait     StepKind = "wait"
)

const (
	MaxMediaVariations = 4
	MaxWaitSeconds     = 3600
)

// IsMedia reports whether the kind carries a media asset
func (k StepKind) IsMedia() bool {
	return k == StepImage || k == StepVideo || k == StepAudio || k == StepDocument
}

// Step is one element of a message sequence. The set of implementations is closed:
// TextStep, MediaStep, AIStep and WaitStep.
type Step interface {
	Kind() StepKind
	validate() error
}

// TextStep sends a text body, or one of Variations chosen per recipient
type TextStep struct {
	Body       string   `json:"body"`
	Variations []string `json:"variations,omitempty"`
}

// MediaContent is one media asset with its own caption
type MediaContent struct {
	URL      string `json:"url"`
	Caption  string `json:"caption,omitempty"`
	FileName string `json:"file_name,omitempty"`
}

// MediaStep sends an image, video, audio clip or document
type MediaStep struct {
	Type       StepKind       `json:"-"`
	Media      MediaContent   `json:"media"`
	Variations []MediaContent `json:"variations,omitempty"`
}

// AIStep asks a text generator for the body
type AIStep struct {
	SystemPrompt string `json:"system_prompt"`
	UserPrompt   string `json:"user_prompt"`
}

// WaitStep pauses between two sends to the same recipient
type WaitStep struct {
	Seconds int `json:"seconds"`
}

func (TextStep) Kind() StepKind    { return StepText }
func (s MediaStep) Kind() StepKind { return s.Type }
func (AIStep) Kind() StepKind      { return StepAI }
func (WaitStep) Kind() StepKind    { return StepWait }

func (s TextStep) validate() error {
	if strings.TrimSpace(s.Body) == "" && len(s.Variations) == 0 {
		return errors.New("text step needs a body or variations")
	}
	for i, v := range s.Variations {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("text variation %d is empty", i)
		}
	}
	return nil
}

func (s MediaStep) validate() error {
	if !s.Type.IsMedia() {
		return fmt.Errorf("invalid media kind %q", s.Type)
	}
	if len(s.Variations) > MaxMediaVariations {
		return fmt.Errorf("at most %d media variations allowed", MaxMediaVariations)
	}
	if len(s.Variations) == 0 && s.Media.URL == "" {
		return errors.New("media step needs a url")
	}
	for i, v := range s.Variations {
		if v.URL == "" {
			return fmt.Errorf("media variation %d has no url", i)
		}
	}
	return nil
}

func (s AIStep) validate() error {
	if strings.TrimSpace(s.UserPrompt) == "" {
		return errors.New("ai step needs a user prompt")
	}
	return nil
}

func (s WaitStep) validate() error {
	if s.Seconds <= 0 || s.Seconds > MaxWaitSeconds {
		return fmt.Errorf("wait must be between 1 and %d seconds", MaxWaitSeconds)
	}
	return nil
}

// MessageSpec is the ordered sequence of steps sent to every recipient
type MessageSpec struct {
	Steps []Step
}

// Validate checks every step and that at least one of them sends something
func (m MessageSpec) Validate() error {
	if len(m.Steps) == 0 {
		return errors.New("message spec has no steps")
	}
	sends := 0
	for i, step := range m.Steps {
		if step == nil {
			return fmt.Errorf("step %d is empty", i)
		}
		if err := step.validate(); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
		if step.Kind() != StepWait {
			sends++
		}
	}
	if sends == 0 {
		return errors.New("message spec only contains wait steps")
	}
	return nil
}

type stepEnvelope struct {
	Kind StepKind `json:"kind"`
}

func marshalStep(step Step) ([]byte, error) {
	body, err := json.Marshal(step)
	if err != nil {
		return nil, err
	}
	kind, _ := json.Marshal(step.Kind())
	if bytes.Equal(body, []byte("{}")) {
		return []byte(`{"kind":` + string(kind) + `}`), nil
	}
	out := make([]byte, 0, len(body)+len(kind)+9)
	out = append(out, `{"kind":`...)
	out = append(out, kind...)
	out = append(out, ',')
	out = append(out, body[1:]...)
	return out, nil
}

func unmarshalStep(data []byte) (Step, error) {
	var env stepEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	switch {
	case env.Kind == StepText:
		var s TextStep
		err := json.Unmarshal(data, &s)
		return s, err
	case env.Kind.IsMedia():
		s := MediaStep{Type: env.Kind}
		err := json.Unmarshal(data, &s)
		return s, err
	case env.Kind == StepAI:
		var s AIStep
		err := json.Unmarshal(data, &s)
		return s, err
	case env.Kind == StepWait:
		var s WaitStep
		err := json.Unmarshal(data, &s)
		return s, err
	case env.Kind == "":
		return nil, errors.New("step is missing kind")
	default:
		return nil, fmt.Errorf("unknown step kind %q", env.Kind)
	}
}

// MarshalJSON always emits the sequence form {"steps":[...]}
func (m MessageSpec) MarshalJSON() ([]byte, error) {
	steps := make([]json.RawMessage, 0, len(m.Steps))
	for _, step := range m.Steps {
		raw, err := marshalStep(step)
		if err != nil {
			return nil, err
		}
		steps = append(steps, raw)
	}
	return json.Marshal(struct {
		Steps []json.RawMessage `json:"steps"`
	}{steps})
}

// UnmarshalJSON accepts a single step object, a bare array of steps,
// or the {"steps":[...]} sequence form.
func (m *MessageSpec) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		m.Steps = nil
		return nil
	}

	var raws []json.RawMessage
	if data[0] == '[' {
		if err := json.Unmarshal(data, &raws); err != nil {
			return err
		}
	} else {
		var head struct {
			Kind  StepKind          `json:"kind"`
			Steps []json.RawMessage `json:"steps"`
		}
		if err := json.Unmarshal(data, &head); err != nil {
			return err
		}
		if head.Kind != "" {
			raws = []json.RawMessage{data}
		} else {
			raws = head.Steps
		}
	}

	steps := make([]Step, 0, len(raws))
	for i, raw := range raws {
		step, err := unmarshalStep(raw)
		if err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
		steps = append(steps, step)
	}
	m.Steps = steps
	return nil
}

// Value implements driver.Valuer so the message spec is stored as JSONB
func (m MessageSpec) Value() (driver.Value, error) {
	data, err := m.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner
func (m *MessageSpec) Scan(src interface{}) error {
	switch v := src.(type) {
	case []byte:
		return m.UnmarshalJSON(v)
	case string:
		return m.UnmarshalJSON([]byte(v))
	case nil:
		m.Steps = nil
		return nil
	default:
		return fmt.Errorf("cannot scan %T into MessageSpec", src)
	}
}
