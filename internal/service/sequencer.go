package service

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"wacampaign/internal/models"
	"wacampaign/internal/provider"
)

// TextGenerator produces the body of an ai step
type TextGenerator interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// MediaResolver turns a stored media reference into a URL the provider can fetch
type MediaResolver interface {
	Resolve(ctx context.Context, raw string) (string, error)
}

// RenderedStep is either one payload to send or a pause before the next one
type RenderedStep struct {
	Kind    models.StepKind
	Payload provider.Payload
	Wait    time.Duration
}

// IsWait reports whether the step only pauses
func (r RenderedStep) IsWait() bool {
	return r.Kind == models.StepWait
}

// RenderedMessage is a message spec resolved for one recipient
type RenderedMessage struct {
	Steps []RenderedStep
	// Variation lists the chosen variation per step as "step:index", comma separated
	Variation string
}

// Sequencer renders message specs into concrete payloads
type Sequencer struct {
	templates *TemplateService
	media     MediaResolver
	generator TextGenerator
	intn      func(n int) int
}

// NewSequencer creates a sequencer. generator may be nil, in which case ai steps fail.
func NewSequencer(templates *TemplateService, media MediaResolver, generator TextGenerator) *Sequencer {
	return &Sequencer{
		templates: templates,
		media:     media,
		generator: generator,
		intn:      rand.Intn,
	}
}

// Render resolves every step of spec for contact. Failures are returned as *provider.SendError
// so the dispatcher can record them with a category.
func (s *Sequencer) Render(ctx context.Context, spec models.MessageSpec, contact *models.Contact) (*RenderedMessage, error) {
	out := &RenderedMessage{Steps: make([]RenderedStep, 0, len(spec.Steps))}
	var chosen []string

	for i, step := range spec.Steps {
		switch st := step.(type) {
		case models.TextStep:
			body, idx := s.pickText(st)
			if idx >= 0 {
				chosen = append(chosen, variationTag(i, idx))
			}
			out.Steps = append(out.Steps, RenderedStep{
				Kind:    models.StepText,
				Payload: provider.Payload{Kind: provider.PayloadText, Text: s.templates.Render(body, contact)},
			})

		case models.MediaStep:
			content, idx := s.pickMedia(st)
			if idx >= 0 {
				chosen = append(chosen, variationTag(i, idx))
			}
			url, err := s.media.Resolve(ctx, content.URL)
			if err != nil {
				return nil, provider.NewSendError(models.ErrorCategoryMedia, fmt.Sprintf("step %d: %v", i, err))
			}
			out.Steps = append(out.Steps, RenderedStep{
				Kind: st.Type,
				Payload: provider.Payload{
					Kind:     provider.PayloadKind(st.Type),
					MediaURL: url,
					Caption:  s.templates.Render(content.Caption, contact),
					FileName: content.FileName,
				},
			})

		case models.AIStep:
			if s.generator == nil {
				return nil, provider.NewSendError(models.ErrorCategoryOther, fmt.Sprintf("step %d: no text generator configured", i))
			}
			text, err := s.generator.Generate(ctx,
				s.templates.Render(st.SystemPrompt, contact),
				s.templates.Render(st.UserPrompt, contact),
			)
			if err != nil {
				return nil, provider.NewSendError(models.ErrorCategoryOther, fmt.Sprintf("step %d: ai generation failed: %v", i, err))
			}
			out.Steps = append(out.Steps, RenderedStep{
				Kind:    models.StepAI,
				Payload: provider.Payload{Kind: provider.PayloadText, Text: text},
			})

		case models.WaitStep:
			out.Steps = append(out.Steps, RenderedStep{
				Kind: models.StepWait,
				Wait: time.Duration(st.Seconds) * time.Second,
			})

		default:
			return nil, provider.NewSendError(models.ErrorCategoryOther, fmt.Sprintf("step %d: unsupported step %T", i, step))
		}
	}

	out.Variation = strings.Join(chosen, ",")
	return out, nil
}

// pickText returns the body to send and the chosen variation index, or -1 when there are none
func (s *Sequencer) pickText(st models.TextStep) (string, int) {
	if len(st.Variations) == 0 {
		return st.Body, -1
	}
	idx := s.intn(len(st.Variations))
	return st.Variations[idx], idx
}

func (s *Sequencer) pickMedia(st models.MediaStep) (models.MediaContent, int) {
	if len(st.Variations) == 0 {
		return st.Media, -1
	}
	idx := s.intn(len(st.Variations))
	return st.Variations[idx], idx
}

func variationTag(step, idx int) string {
	return strconv.Itoa(step) + ":" + strconv.Itoa(idx)
}
