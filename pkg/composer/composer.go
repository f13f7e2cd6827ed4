// Package composer writes the user-facing reply: a brief dataset summary, a
// contextual explanation, or both, plus relaxation acknowledgements, cloud
// warnings, and empty-result guidance.
package composer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"geoquery/pkg/llm"
	"geoquery/pkg/model"
	"geoquery/pkg/tracker"
)

// Composer renders responses, preferring the LLM and falling back to
// deterministic templates.
type Composer struct {
	llm     llm.Provider
	tracker *tracker.Tracker
}

// New creates a Composer.
func New(provider llm.Provider, t *tracker.Tracker) *Composer {
	return &Composer{llm: provider, tracker: t}
}

// Input is everything one reply may draw on.
type Input struct {
	Query       string
	Intent      model.Intent
	Features    []model.StacFeature
	Collections []string
	Location    string
	Datetime    *model.DatetimeRange
	CloudFilter *model.CloudFilter

	// CloudWarning is included verbatim when set.
	CloudWarning string

	Relaxation  *model.RelaxationRecord
	Diagnostics model.Diagnostics
	History     string

	// Metrics are externally-supplied analysis numbers (elevation stats,
	// mobility zones) the narrative should inline.
	Metrics map[string]any
}

// Compose renders the reply for a turn that produced data (or a contextual
// answer). The template follows the intent.
func (c *Composer) Compose(ctx context.Context, in Input) string {
	var body string
	var err error

	switch in.Intent.Type {
	case model.IntentContextual:
		body, err = c.detailed(ctx, in)
	case model.IntentHybrid:
		body, err = c.hybrid(ctx, in)
	case model.IntentVision:
		body, err = c.vision(ctx, in)
	default:
		body, err = c.brief(ctx, in)
	}
	if err != nil {
		slog.Warn("Composer LLM failed, using template fallback", "error", err)
		c.tracker.TrackFallback("compose")
		body = c.fallback(in)
	}

	return c.decorate(in, body)
}

// decorate prepends the relaxation acknowledgement and appends the verbatim
// cloud warning.
func (c *Composer) decorate(in Input, body string) string {
	var parts []string
	if in.Relaxation != nil {
		parts = append(parts, relaxationNote(*in.Relaxation))
	}
	parts = append(parts, body)
	if in.CloudWarning != "" {
		parts = append(parts, in.CloudWarning)
	}
	return strings.Join(parts, "\n\n")
}

// relaxationNote states plainly what was asked, what was missing, and what
// is shown instead.
func relaxationNote(r model.RelaxationRecord) string {
	var asked []string
	if r.Original.CloudThreshold != nil {
		asked = append(asked, fmt.Sprintf("cloud cover under %.0f%%", *r.Original.CloudThreshold))
	}
	if r.Original.Datetime != nil {
		asked = append(asked, "the "+r.Original.Datetime.String()+" window")
	}
	if len(asked) == 0 {
		asked = append(asked, "your original filters")
	}

	return fmt.Sprintf("No imagery matched %s. %s Showing the closest available results instead.",
		strings.Join(asked, " and "), r.Explanation)
}

const briefPrompt = `Write one or two sentences describing a satellite dataset that was just rendered on a map.

Facts:
%s

Rules:
- State the feature count, collection, data type, location, and date range; mention cloud cover only if a filter was applied.
- No quotes around the output. No subjective quality adjectives ("beautiful", "stunning").
- Plain text only.`

func (c *Composer) brief(ctx context.Context, in Input) (string, error) {
	return c.llm.GenerateText(ctx, "compose", fmt.Sprintf(briefPrompt, facts(in)))
}

const detailedPrompt = `Answer this Earth-science question in one to three paragraphs.

QUESTION: %s

CONVERSATION CONTEXT:
%s
%s
Rules:
- Factual, specific, and readable. Inline any provided metric numbers.
- Do not mention "the map" — no map was rendered for this answer.
- Plain text only.`

func (c *Composer) detailed(ctx context.Context, in Input) (string, error) {
	history := in.History
	if history == "" {
		history = "(none)"
	}
	return c.llm.GenerateText(ctx, "compose", fmt.Sprintf(detailedPrompt, in.Query, history, metricsBlock(in.Metrics)))
}

const hybridPrompt = `A satellite dataset was rendered on a map for this question. Write a short data
description (one or two sentences: count, collection, location, dates), then one or two
paragraphs of analysis answering the question.

QUESTION: %s

Facts:
%s
%s
Rules:
- No subjective quality adjectives. Inline any provided metric numbers.
- Plain text only.`

func (c *Composer) hybrid(ctx context.Context, in Input) (string, error) {
	return c.llm.GenerateText(ctx, "compose", fmt.Sprintf(hybridPrompt, in.Query, facts(in), metricsBlock(in.Metrics)))
}

const visionPrompt = `The user is asking about what is visible in the satellite image currently on
their screen. An external analysis supplied the metrics below.

QUESTION: %s
%s
Rules:
- Answer about the visible scene directly, inlining any metric numbers.
- If no metrics are provided, describe what such imagery typically shows for
  the question asked, and say the image itself was not analyzed.
- Plain text only, one or two paragraphs.`

func (c *Composer) vision(ctx context.Context, in Input) (string, error) {
	return c.llm.GenerateText(ctx, "compose", fmt.Sprintf(visionPrompt, in.Query, metricsBlock(in.Metrics)))
}

// facts renders the structured reply inputs as prompt context.
func facts(in Input) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "- features: %d\n", len(in.Features))
	if len(in.Collections) > 0 {
		fmt.Fprintf(&sb, "- collections: %s\n", strings.Join(in.Collections, ", "))
	}
	if in.Location != "" {
		fmt.Fprintf(&sb, "- location: %s\n", in.Location)
	}
	if in.Datetime != nil {
		fmt.Fprintf(&sb, "- date range: %s\n", in.Datetime.String())
	}
	if in.CloudFilter != nil {
		fmt.Fprintf(&sb, "- cloud filter: %s < %.0f%%\n", in.CloudFilter.Property, in.CloudFilter.Threshold)
	}
	return sb.String()
}

func metricsBlock(metrics map[string]any) string {
	if len(metrics) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("\nAnalysis metrics:\n")
	for k, v := range metrics {
		fmt.Fprintf(&sb, "- %s: %v\n", k, v)
	}
	return sb.String()
}

// fallback renders a deterministic reply when the LLM is down.
func (c *Composer) fallback(in Input) string {
	switch in.Intent.Type {
	case model.IntentContextual:
		return "I could not generate a full explanation right now. Please try again, or rephrase the question."
	case model.IntentVision:
		return "I could not analyze the current image right now. Please try again."
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Loaded %d tiles", len(in.Features))
	if len(in.Collections) > 0 {
		fmt.Fprintf(&sb, " from %s", strings.Join(in.Collections, " and "))
	}
	if in.Location != "" {
		fmt.Fprintf(&sb, " over %s", in.Location)
	}
	if in.Datetime != nil {
		fmt.Fprintf(&sb, " (%s)", in.Datetime.String())
	}
	sb.WriteString(".")
	return sb.String()
}

const emptyPrompt = `A satellite-imagery search returned no usable results. Explain why and suggest
what to try next.

QUESTION: %s

Search diagnostics:
- tiles returned by the catalog: %d
- tiles after spatial filtering: %d
- tiles after selection: %d
- stage that emptied the results: %s
%s
Write two or three short paragraphs, then 2-4 bulleted suggestions (widen the
date range, relax the cloud limit, try a nearby or better-known location).
Plain text with "-" bullets.`

// ComposeEmpty explains an empty result after negotiation was exhausted.
func (c *Composer) ComposeEmpty(ctx context.Context, in Input) string {
	stage := in.Diagnostics.FailureStage
	if stage == "" {
		stage = "selection"
	}
	prompt := fmt.Sprintf(emptyPrompt, in.Query,
		in.Diagnostics.RawCount, in.Diagnostics.SpatialFilteredCount, in.Diagnostics.FinalCount, stage, facts(in))

	text, err := c.llm.GenerateText(ctx, "compose", prompt)
	if err != nil {
		slog.Warn("Empty-result composer failed, using template fallback", "error", err)
		c.tracker.TrackFallback("compose")
		return c.emptyFallback(in)
	}
	return c.decorate(in, text)
}

func (c *Composer) emptyFallback(in Input) string {
	var sb strings.Builder
	sb.WriteString("No imagery matched the search")
	if in.Location != "" {
		sb.WriteString(" over " + in.Location)
	}
	sb.WriteString(".")
	if in.Diagnostics.RawCount > 0 {
		fmt.Fprintf(&sb, " The catalog returned %d tiles, but none survived the filters.", in.Diagnostics.RawCount)
	}
	sb.WriteString("\n\nSuggestions:\n")
	sb.WriteString("- Widen the date range.\n")
	if in.CloudFilter != nil {
		sb.WriteString("- Relax the cloud-cover limit.\n")
	}
	sb.WriteString("- Try a nearby or better-known location.")
	return c.decorate(in, sb.String())
}

// ComposeError renders the short message for a hard failure.
func (c *Composer) ComposeError(stage string, err error) string {
	switch stage {
	case "location":
		return "I could not find that location. Try a better-known place name, or drop a pin on the map."
	case "timeout":
		return "The request took too long and was cancelled. Please try again."
	case "search":
		return "The imagery catalog is not responding right now. Please try again in a moment."
	default:
		return fmt.Sprintf("Something went wrong while processing the request (%v). Please try again.", err)
	}
}
