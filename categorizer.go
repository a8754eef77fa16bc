// Package lincat turns a submitted URL or note into a categorized, stored link.
//
// The pipeline runs strictly in order: optional metadata extraction, heuristic
// classification, model classification when the heuristics defer, category
// resolution and finally persistence.
package lincat

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/docutag/lincat/heuristic"
	"github.com/docutag/lincat/lock"
	"github.com/docutag/lincat/logger"
	"github.com/docutag/lincat/metrics"
	"github.com/docutag/lincat/models"
)

// ErrInvalidInput is returned for an empty submission.
var ErrInvalidInput = errors.New("input is required and must be a non-empty string")

var urlPattern = regexp.MustCompile(`https?://[^\s]+`)

// Store is the persistence the pipeline needs.
type Store interface {
	ListCategoryNames(ctx context.Context, owner string) ([]string, error)
	FindCategoryID(ctx context.Context, name, owner string) (id string, found bool, err error)
	// InsertCategory stores a category and returns the id of the row that holds
	// (name, owner) afterwards, which is not id if the pair already existed.
	InsertCategory(ctx context.Context, id, name, owner string) (string, error)
	InsertLink(ctx context.Context, link *models.Link) error
}

// MetadataExtractor reads page metadata. Implementations must not fail.
type MetadataExtractor interface {
	Extract(ctx context.Context, url string) models.PageMetadata
}

// ModelClassifier produces a verdict when no heuristic applies. Implementations must not fail.
type ModelClassifier interface {
	Classify(ctx context.Context, in models.ClassifyInput) models.Verdict
}

// Deps are the collaborators of a Categorizer.
type Deps struct {
	Store      Store
	Extractor  MetadataExtractor
	Classifier ModelClassifier
	Locker     lock.Locker
	Logger     logger.Logger
	Metrics    *metrics.Metrics
}

// Categorizer runs the categorization pipeline.
type Categorizer struct {
	store      Store
	extractor  MetadataExtractor
	classifier ModelClassifier
	resolver   *Resolver
	log        logger.Logger
	metrics    *metrics.Metrics
	tracer     trace.Tracer
}

// New wires a Categorizer. Store and Classifier are required.
func New(deps Deps) (*Categorizer, error) {
	if deps.Store == nil {
		return nil, errors.New("store is required")
	}
	if deps.Classifier == nil {
		return nil, errors.New("classifier is required")
	}
	if deps.Logger == nil {
		deps.Logger = logger.NewNop()
	}
	if deps.Extractor == nil {
		deps.Extractor = NewExtractor(ExtractorConfig{}, deps.Logger, deps.Metrics)
	}
	return &Categorizer{
		store:      deps.Store,
		extractor:  deps.Extractor,
		classifier: deps.Classifier,
		resolver:   NewResolver(deps.Store, deps.Locker, deps.Logger, deps.Metrics),
		log:        deps.Logger,
		metrics:    deps.Metrics,
		tracer:     otel.Tracer("github.com/docutag/lincat"),
	}, nil
}

// Categorize classifies input for owner, stores it and returns the stored link.
// Extraction and classification problems degrade the result; storage errors abort.
func (c *Categorizer) Categorize(ctx context.Context, owner, input string) (*models.LinkView, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, ErrInvalidInput
	}

	ctx, span := c.tracer.Start(ctx, "lincat.Categorize", trace.WithAttributes(attribute.String("owner", owner)))
	defer span.End()

	link := &models.Link{
		ID:            uuid.NewString(),
		OriginalInput: input,
		Owner:         owner,
	}

	if match := urlPattern.FindString(input); match != "" {
		link.URL = match
		meta := c.extract(ctx, match)
		link.Title = meta.Title
		if link.Title == "" {
			link.Title = urlTitle(match)
		}
		link.Description = meta.Description
	} else {
		link.Title = noteTitle(input)
		link.Description = input
	}

	existing, err := c.store.ListCategoryNames(ctx, owner)
	if err != nil {
		return nil, c.fail(span, fmt.Errorf("failed to list categories: %w", err))
	}

	verdict := c.classify(ctx, models.ClassifyInput{
		Input:       input,
		Title:       link.Title,
		Description: link.Description,
		Existing:    existing,
	})
	span.SetAttributes(attribute.String("category", verdict.Category), attribute.Bool("category.new", verdict.IsNew))

	link.CategoryID, err = c.resolver.Resolve(ctx, verdict, owner)
	if err != nil {
		return nil, c.fail(span, err)
	}
	link.AIDescription = verdict.Description

	if err := c.store.InsertLink(ctx, link); err != nil {
		return nil, c.fail(span, fmt.Errorf("failed to save link: %w", err))
	}

	c.log.Info("link categorized",
		logger.String("id", link.ID),
		logger.String("owner", owner),
		logger.String("category", verdict.Category),
		logger.Bool("url", link.URL != ""))

	return &models.LinkView{
		ID:            link.ID,
		OriginalInput: link.OriginalInput,
		Title:         link.Title,
		Description:   link.Description,
		URL:           link.URL,
		Category:      verdict.Category,
		AIDescription: link.AIDescription,
	}, nil
}

func (c *Categorizer) extract(ctx context.Context, url string) models.PageMetadata {
	ctx, span := c.tracer.Start(ctx, "lincat.Extract")
	defer span.End()
	return c.extractor.Extract(ctx, url)
}

func (c *Categorizer) classify(ctx context.Context, in models.ClassifyInput) models.Verdict {
	ctx, span := c.tracer.Start(ctx, "lincat.Classify")
	defer span.End()

	if v := heuristic.Classify(in); v != nil {
		span.SetAttributes(attribute.String("source", metrics.SourceHeuristic))
		c.metrics.Categorized(metrics.SourceHeuristic)
		return *v
	}
	return c.classifier.Classify(ctx, in)
}

func (c *Categorizer) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	c.log.Error("categorization failed", logger.Error(err))
	return err
}
