// Package orchestrator runs one conversational turn end to end: classify,
// fan out the extraction agents, build and execute the STAC search, select
// tiles, negotiate alternatives, and compose the reply.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"geoquery/pkg/agents"
	"geoquery/pkg/composer"
	"geoquery/pkg/config"
	"geoquery/pkg/model"
	"geoquery/pkg/negotiator"
	"geoquery/pkg/selector"
	"geoquery/pkg/session"
	"geoquery/pkg/stac"
	"geoquery/pkg/tracker"
)

// Orchestrator wires the pipeline stages together.
type Orchestrator struct {
	agents     *agents.Agents
	builder    *stac.Builder
	client     *stac.Client
	selector   *selector.Selector
	negotiator *negotiator.Negotiator
	composer   *composer.Composer
	sessions   *session.Store
	tracker    *tracker.Tracker

	turnDeadline time.Duration
	minOverlap   float64
	maxExchanges int
}

// New creates an Orchestrator.
func New(
	ag *agents.Agents,
	builder *stac.Builder,
	client *stac.Client,
	sel *selector.Selector,
	neg *negotiator.Negotiator,
	comp *composer.Composer,
	sessions *session.Store,
	t *tracker.Tracker,
	pipeline config.PipelineConfig,
	sessionCfg config.SessionConfig,
) *Orchestrator {
	return &Orchestrator{
		agents:       ag,
		builder:      builder,
		client:       client,
		selector:     sel,
		negotiator:   neg,
		composer:     comp,
		sessions:     sessions,
		tracker:      t,
		turnDeadline: pipeline.TurnDeadline.Std(),
		minOverlap:   pipeline.MinOverlap,
		maxExchanges: sessionCfg.MaxExchanges,
	}
}

// Reset clears a session's conversation context.
func (o *Orchestrator) Reset(sessionID string) {
	o.sessions.Reset(sessionID)
}

// SessionCount returns the number of live sessions, for the stats endpoint.
func (o *Orchestrator) SessionCount() int {
	return o.sessions.Len()
}

// TranslateQuery processes one turn. Queries within a session are serialized
// by the session lock; sessions run fully in parallel.
func (o *Orchestrator) TranslateQuery(ctx context.Context, sessionID, query string, pin *model.Pin) model.Response {
	query = strings.TrimSpace(query)
	if query == "" {
		return model.Response{
			Success:   false,
			QueryType: model.QueryTypeError,
			Message:   "Please enter a question about satellite or geospatial data.",
		}
	}

	requestID := uuid.NewString()
	log := slog.With("request_id", requestID, "session", sessionID)
	log.Info("Query received", "query", query)

	if o.turnDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.turnDeadline)
		defer cancel()
	}

	sctx := o.sessions.Get(sessionID)
	sctx.Lock()
	defer sctx.Unlock()

	resp := o.runTurn(ctx, log, sctx, query, pin)
	o.tracker.TrackQuery(string(resp.QueryType))

	// Hard errors and cancelled turns leave the conversation context alone.
	if resp.Success && ctx.Err() == nil {
		sctx.Record(query, resp.Message, dataBBox(resp.Data), resp.Translation.Collections, resp.Data != nil)
	}
	return resp
}

func (o *Orchestrator) runTurn(ctx context.Context, log *slog.Logger, sctx *session.Context, query string, pin *model.Pin) model.Response {
	history := sctx.RecentHistory(o.maxExchanges)
	if topics := sctx.ContextTopics; len(topics) > 0 {
		history = "Topics discussed: " + strings.Join(topics, ", ") + "\n" + history
	}
	intent := o.agents.ClassifyIntent(ctx, query, history)
	log.Info("Intent classified", "type", intent.Type, "confidence", intent.Confidence)

	switch intent.Type {
	case model.IntentContextual:
		msg := o.composer.Compose(ctx, composer.Input{Query: query, Intent: intent, History: history})
		return model.Response{Success: true, Message: msg, QueryType: model.QueryTypeContextual, Classification: intent}
	case model.IntentVision:
		msg := o.composer.Compose(ctx, composer.Input{Query: query, Intent: intent, History: history})
		return model.Response{Success: true, Message: msg, QueryType: model.QueryTypeVision, Classification: intent}
	}

	// Stac / Hybrid: fan out the four extraction agents. Each handles its
	// own timeout and fallback, so the join is a plain await-all.
	var (
		wg          sync.WaitGroup
		collections []string
		loc         agents.LocationResult
		datetime    agents.DatetimeResult
		clouds      agents.CloudResult
	)
	wg.Add(4)
	go func() { defer wg.Done(); collections = o.agents.MapCollections(ctx, query) }()
	go func() { defer wg.Done(); loc = o.agents.ExtractLocation(ctx, query) }()
	go func() { defer wg.Done(); datetime = o.agents.ExtractDatetime(ctx, query) }()
	go func() { defer wg.Done(); clouds = o.agents.ExtractClouds(ctx, query) }()
	wg.Wait()

	if ctx.Err() != nil {
		return o.errorResponse(intent, "timeout", ctx.Err())
	}
	log.Info("Agents merged", "collections", collections, "location", loc.Name, "datetime_mode", datetime.Mode, "cloud_intent", clouds.Intent)

	if datetime.Mode == agents.DatetimeComparison && datetime.Comparison != nil {
		resp := o.runComparison(ctx, log, sctx, query, intent, collections, loc, *datetime.Comparison, clouds, pin)
		if resp.Success && loc.Name != "" {
			sctx.AddTopic(loc.Name)
		}
		return resp
	}

	var dtRange *model.DatetimeRange
	if datetime.Mode == agents.DatetimeSingle {
		r := datetime.Range
		dtRange = &r
	}

	build, err := o.builder.Build(ctx, stac.BuildInput{
		Collections: collections,
		Datetime:    dtRange,
		Clouds:      clouds,
		Location:    loc,
		Pin:         pin,
		LastBBox:    sctx.LastBBox,
	})
	if err != nil {
		return o.buildError(log, intent, err)
	}

	resp := o.searchAndCompose(ctx, log, query, intent, build, loc.Name)
	if resp.Success && loc.Name != "" {
		sctx.AddTopic(loc.Name)
	}
	return resp
}

// searchAndCompose runs search -> spatial filter -> select -> negotiate ->
// compose for one assembled query.
func (o *Orchestrator) searchAndCompose(ctx context.Context, log *slog.Logger, query string, intent model.Intent, build stac.BuildOutput, locationName string) model.Response {
	diag := model.Diagnostics{}

	raw, err := o.client.Search(ctx, build.Query)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return o.errorResponse(intent, "timeout", err)
		}
		return o.errorResponse(intent, "search", err)
	}
	diag.RawCount = len(raw)

	filtered := stac.FilterSpatial(raw, build.BBox, o.minOverlap)
	diag.SpatialFilteredCount = len(filtered)

	selected := o.selector.Select(ctx, query, filtered, build.BBox)
	diag.FinalCount = len(selected)
	log.Info("Selection done", "raw", diag.RawCount, "spatial", diag.SpatialFilteredCount, "selected", diag.FinalCount)

	base := composer.Input{
		Query:        query,
		Intent:       intent,
		Collections:  build.Query.Collections,
		Location:     locationName,
		Datetime:     build.Datetime,
		CloudFilter:  build.CloudFilter,
		CloudWarning: build.CloudWarning,
	}

	if len(selected) == 0 {
		result, err := o.negotiator.Negotiate(ctx, query, build)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				return o.errorResponse(intent, "timeout", err)
			}
			return o.errorResponse(intent, "search", err)
		}
		if result != nil {
			in := base
			in.Features = result.Features
			in.Relaxation = &result.Record
			msg := o.composer.Compose(ctx, in)
			return model.Response{
				Success:             true,
				Message:             msg,
				QueryType:           model.QueryTypeAlternatives,
				Data:                mapData(result.Features, build.BBox),
				Classification:      intent,
				ShowingAlternatives: true,
				OriginalFilters:     &result.Record.Original,
				AlternativeFilters:  &result.Record.Alternative,
				Translation:         translation(build),
			}
		}

		switch {
		case diag.RawCount == 0:
			diag.FailureStage = "search"
		case diag.SpatialFilteredCount == 0:
			diag.FailureStage = "spatial_filter"
		default:
			diag.FailureStage = "selection"
		}
		in := base
		in.Diagnostics = diag
		msg := o.composer.ComposeEmpty(ctx, in)
		return model.Response{
			Success:        true,
			Message:        msg,
			QueryType:      queryType(intent),
			Classification: intent,
			Translation:    translation(build),
		}
	}

	in := base
	in.Features = selected
	msg := o.composer.Compose(ctx, in)
	return model.Response{
		Success:        true,
		Message:        msg,
		QueryType:      queryType(intent),
		Data:           mapData(selected, build.BBox),
		Classification: intent,
		Translation:    translation(build),
	}
}

// runComparison executes one search per period and merges the selections, so
// the reply can contrast the two windows.
func (o *Orchestrator) runComparison(ctx context.Context, log *slog.Logger, sctx *session.Context, query string, intent model.Intent, collections []string, loc agents.LocationResult, cmp model.ComparisonRange, clouds agents.CloudResult, pin *model.Pin) model.Response {
	var merged []model.StacFeature
	var lastBuild stac.BuildOutput

	for _, period := range []model.DatetimeRange{cmp.Before, cmp.After} {
		r := period
		build, err := o.builder.Build(ctx, stac.BuildInput{
			Collections: collections,
			Datetime:    &r,
			Clouds:      clouds,
			Location:    loc,
			Pin:         pin,
			LastBBox:    sctx.LastBBox,
		})
		if err != nil {
			return o.buildError(log, intent, err)
		}
		lastBuild = build

		raw, err := o.client.Search(ctx, build.Query)
		if err != nil {
			return o.errorResponse(intent, "search", err)
		}
		filtered := stac.FilterSpatial(raw, build.BBox, o.minOverlap)
		merged = append(merged, o.selector.Select(ctx, query, filtered, build.BBox)...)
	}

	span := model.DatetimeRange{Start: cmp.Before.Start, End: cmp.After.End}
	in := composer.Input{
		Query:        query,
		Intent:       intent,
		Features:     merged,
		Collections:  lastBuild.Query.Collections,
		Location:     loc.Name,
		Datetime:     &span,
		CloudFilter:  lastBuild.CloudFilter,
		CloudWarning: lastBuild.CloudWarning,
	}
	if len(merged) == 0 {
		in.Diagnostics = model.Diagnostics{FailureStage: "search"}
		msg := o.composer.ComposeEmpty(ctx, in)
		return model.Response{Success: true, Message: msg, QueryType: queryType(intent), Classification: intent, Translation: translation(lastBuild)}
	}

	msg := o.composer.Compose(ctx, in)
	return model.Response{
		Success:        true,
		Message:        msg,
		QueryType:      queryType(intent),
		Data:           mapData(merged, lastBuild.BBox),
		Classification: intent,
		Translation:    translation(lastBuild),
	}
}

func (o *Orchestrator) buildError(log *slog.Logger, intent model.Intent, err error) model.Response {
	switch {
	case errors.Is(err, stac.ErrUnresolvedLocation):
		return o.errorResponse(intent, "location", err)
	case errors.Is(err, stac.ErrMalformedQuery):
		log.Error("Assembled query violated capability rules", "error", err)
		return o.errorResponse(intent, "internal", err)
	default:
		return o.errorResponse(intent, "internal", err)
	}
}

func (o *Orchestrator) errorResponse(intent model.Intent, stage string, err error) model.Response {
	return model.Response{
		Success:        false,
		Message:        o.composer.ComposeError(stage, err),
		QueryType:      model.QueryTypeError,
		Classification: intent,
	}
}

func queryType(intent model.Intent) model.QueryType {
	if intent.Type == model.IntentHybrid {
		return model.QueryTypeHybrid
	}
	return model.QueryTypeStac
}

func translation(build stac.BuildOutput) model.TranslationMetadata {
	return model.TranslationMetadata{
		StacQuery:   build.Query,
		Collections: build.Query.Collections,
		Datetime:    build.Query.Datetime,
		CloudFilter: build.CloudFilter,
	}
}

// mapData assembles the renderable payload. The viewport is the requested
// bbox when one exists, else the union of the selected tiles.
func mapData(features []model.StacFeature, requested *model.BBox) *model.MapData {
	if len(features) == 0 {
		return nil
	}

	var bbox model.BBox
	if requested != nil {
		bbox = *requested
	} else {
		bbox = features[0].BBox
		for _, f := range features[1:] {
			if f.BBox[0] < bbox[0] {
				bbox[0] = f.BBox[0]
			}
			if f.BBox[1] < bbox[1] {
				bbox[1] = f.BBox[1]
			}
			if f.BBox[2] > bbox[2] {
				bbox[2] = f.BBox[2]
			}
			if f.BBox[3] > bbox[3] {
				bbox[3] = f.BBox[3]
			}
		}
	}

	return &model.MapData{
		Features: features,
		BBox:     bbox,
		Center:   bbox.Center(),
		Zoom:     zoomFor(bbox),
	}
}

// zoomFor estimates a web-map zoom level from the bbox width.
func zoomFor(b model.BBox) int {
	width := b.WidthDegrees()
	if width <= 0 {
		return 12
	}
	zoom := int(math.Floor(math.Log2(360 / width)))
	if zoom < 1 {
		zoom = 1
	}
	if zoom > 12 {
		zoom = 12
	}
	return zoom
}

func dataBBox(d *model.MapData) *model.BBox {
	if d == nil {
		return nil
	}
	b := d.BBox
	return &b
}
