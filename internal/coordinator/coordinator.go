package coordinator

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cataloghq/mailroom/internal/archive"
	"github.com/cataloghq/mailroom/internal/classify"
	"github.com/cataloghq/mailroom/internal/events"
	"github.com/cataloghq/mailroom/internal/fulfillment"
	"github.com/cataloghq/mailroom/internal/models"
	"github.com/cataloghq/mailroom/internal/workflow"
)

// Stage names of the per-email graph.
const (
	StageAnalyze = "analyze"
	StageOrder   = "order"
	StageInquiry = "inquiry"
	StageCompose = "compose"
)

// Coordinator instantiates one workflow run per email, injecting the
// external collaborators as opaque stage functions, and collects the final
// per-email result. Completed runs are kept in memory for the life of the
// process only.
type Coordinator struct {
	engine     *fulfillment.Engine
	classifier classify.Classifier
	answerer   classify.InquiryAnswerer
	composer   classify.Composer

	// Optional sinks; nil disables them.
	publisher events.Publisher
	archiver  archive.Archiver

	mu   sync.RWMutex
	runs map[uuid.UUID]models.RunResult
}

type Options struct {
	Publisher events.Publisher
	Archiver  archive.Archiver
}

func New(engine *fulfillment.Engine, classifier classify.Classifier, answerer classify.InquiryAnswerer, composer classify.Composer, opts Options) *Coordinator {
	return &Coordinator{
		engine:     engine,
		classifier: classifier,
		answerer:   answerer,
		composer:   composer,
		publisher:  opts.Publisher,
		archiver:   opts.Archiver,
		runs:       map[uuid.UUID]models.RunResult{},
	}
}

// Submit routes one email through the stage graph and returns the collected
// result. When classification itself fails, the returned error is that
// failure and the result carries only the analyze stage error; otherwise
// branch failures are reported in RunResult.StageErrors, never as an error.
func (c *Coordinator) Submit(ctx context.Context, email models.Email) (models.RunResult, error) {
	wf := workflow.NewEngine()

	// ANALYZE: the external classifier.
	if err := wf.AddStage(StageAnalyze, func(ctx context.Context, run *workflow.Run) (interface{}, error) {
		cls, err := c.classifier.Classify(ctx, email)
		if err != nil {
			return nil, fmt.Errorf("classify: %w", err)
		}
		return cls, nil
	}); err != nil {
		return models.RunResult{}, err
	}

	// ORDER: fulfillment against live inventory.
	if err := wf.AddStage(StageOrder, func(ctx context.Context, run *workflow.Run) (interface{}, error) {
		cls, _ := analyzeOutput(run)
		result := c.engine.ProcessOrder(cls.ProductReferences)
		return &result, nil
	}); err != nil {
		return models.RunResult{}, err
	}

	// INQUIRY: the external answerer.
	if err := wf.AddStage(StageInquiry, func(ctx context.Context, run *workflow.Run) (interface{}, error) {
		cls, _ := analyzeOutput(run)
		result, err := c.answerer.Answer(ctx, cls.ProductReferences)
		if err != nil {
			return nil, fmt.Errorf("answer inquiry: %w", err)
		}
		return &result, nil
	}); err != nil {
		return models.RunResult{}, err
	}

	// COMPOSE: consumes whatever the branches produced.
	if err := wf.AddStage(StageCompose, func(ctx context.Context, run *workflow.Run) (interface{}, error) {
		cls, _ := analyzeOutput(run)
		in := classify.ComposeInput{Email: email, Classification: cls}
		if out, ok := run.Output(StageOrder); ok {
			in.OrderResult = out.(*models.OrderResult)
		}
		if out, ok := run.Output(StageInquiry); ok {
			in.InquiryResult = out.(*models.InquiryResult)
		}
		text, err := c.composer.Compose(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("compose: %w", err)
		}
		return text, nil
	}); err != nil {
		return models.RunResult{}, err
	}

	wf.SetStart(StageAnalyze, func(run *workflow.Run) []string {
		cls, _ := analyzeOutput(run)
		var next []string
		if cls.HasOrder {
			next = append(next, StageOrder)
		}
		if cls.HasInquiry {
			next = append(next, StageInquiry)
		}
		return next
	})
	wf.SetJoin(StageCompose)

	run, err := wf.Execute(ctx)
	if err != nil {
		return models.RunResult{}, err
	}

	result := models.RunResult{
		RunID:       run.ID,
		EmailID:     email.ID,
		StageErrors: run.StageErrors(),
		CompletedAt: time.Now().UTC(),
	}

	if analyzeErr := run.Err(StageAnalyze); analyzeErr != nil {
		// No classification means nothing to respond to; surface only this error.
		c.record(result)
		return result, analyzeErr
	}

	if cls, ok := analyzeOutput(run); ok {
		clsCopy := cls
		result.Classification = &clsCopy
	}
	if out, ok := run.Output(StageOrder); ok {
		result.OrderResult = out.(*models.OrderResult)
	}
	if out, ok := run.Output(StageInquiry); ok {
		result.InquiryResult = out.(*models.InquiryResult)
	}
	if out, ok := run.Output(StageCompose); ok {
		result.ComposedText = out.(string)
	}

	c.record(result)
	c.flushSinks(ctx, result)
	return result, nil
}

// ProcessBatch runs many emails concurrently with bounded parallelism.
// Results come back in input order; there is no cross-run ordering guarantee
// for inventory allocation.
func (c *Coordinator) ProcessBatch(ctx context.Context, emails []models.Email, concurrency int) []models.RunResult {
	if concurrency <= 0 {
		concurrency = 4
	}
	sem := make(chan struct{}, concurrency)
	results := make([]models.RunResult, len(emails))

	var wg sync.WaitGroup
	for i, email := range emails {
		sem <- struct{}{}
		wg.Add(1)
		go func(i int, email models.Email) {
			defer func() {
				<-sem
				wg.Done()
			}()
			result, err := c.Submit(ctx, email)
			if err != nil {
				log.Printf("[coordinator] run for email %s failed: %v", email.ID, err)
			}
			results[i] = result
		}(i, email)
	}
	wg.Wait()
	return results
}

// GetRun returns a collected result by run id.
func (c *Coordinator) GetRun(id uuid.UUID) (models.RunResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result, ok := c.runs[id]
	return result, ok
}

func (c *Coordinator) record(result models.RunResult) {
	c.mu.Lock()
	c.runs[result.RunID] = result
	c.mu.Unlock()
}

// flushSinks pushes the completed run to the optional Kafka and S3 sinks.
// Sink failures are logged, never surfaced to the caller.
func (c *Coordinator) flushSinks(ctx context.Context, result models.RunResult) {
	if c.publisher != nil {
		if err := c.publisher.PublishRunCompleted(ctx, result); err != nil {
			log.Printf("[coordinator] publish run %s: %v", result.RunID, err)
		}
	}
	if c.archiver != nil {
		if err := c.archiver.ArchiveRun(ctx, result); err != nil {
			log.Printf("[coordinator] archive run %s: %v", result.RunID, err)
		}
	}
}

func analyzeOutput(run *workflow.Run) (models.Classification, bool) {
	out, ok := run.Output(StageAnalyze)
	if !ok {
		return models.Classification{}, false
	}
	cls, ok := out.(models.Classification)
	return cls, ok
}
