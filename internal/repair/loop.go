package repair

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kalambet/promoai/internal/conversation"
	"github.com/kalambet/promoai/internal/engine"
)

// Budget splits the attempt allowance into a strict phase and a tolerant
// phase. Attempt i is tolerant when i >= Primary.
type Budget struct {
	Primary   int `json:"primary"`
	Tolerance int `json:"tolerance"`
}

// DefaultBudget returns five strict and five tolerant attempts.
func DefaultBudget() Budget {
	return Budget{Primary: 5, Tolerance: 5}
}

// Total is the maximum number of transport calls.
func (b Budget) Total() int {
	return b.Primary + b.Tolerance
}

func (b Budget) validate() error {
	if b.Primary < 0 || b.Tolerance < 0 {
		return &engine.ConfigError{Provider: "budget", Reason: fmt.Sprintf("iteration limits must be non-negative, got %d/%d", b.Primary, b.Tolerance)}
	}
	return nil
}

// Controller holds what is shared between runs. It is safe for concurrent
// use as long as each run gets its own Conversation.
type Controller struct {
	Resolver      engine.Resolver
	Budget        Budget
	ErrorTemplate string
	Logger        *slog.Logger
	Tracer        trace.Tracer
}

// Request describes one run.
type Request struct {
	Provider engine.Provider
	Model    string
	APIKey   string
	// Budget overrides the controller budget when non-nil.
	Budget *Budget
}

// Correction builds the user turn sent back after a failed extraction.
func Correction(template, description string) string {
	var b strings.Builder
	b.WriteString("Executing your code led to an error! ")
	if template != "" {
		b.WriteString(template)
		b.WriteString(" ")
	}
	b.WriteString("This is the error message: ")
	b.WriteString(description)
	return b.String()
}

func (c *Controller) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (c *Controller) tracer() trace.Tracer {
	if c.Tracer != nil {
		return c.Tracer
	}
	return otel.Tracer("promoai/repair")
}

// Run sends conv to the model selected by req and feeds each reply to
// extract until it succeeds, the extractor gives up, or the budget runs out.
// Every reply and correction is appended to conv, which the caller keeps
// on both success and failure.
//
// Transport failures are returned as is and never retried.
func Run[T any](ctx context.Context, c *Controller, req Request, conv *conversation.Conversation, extract ExtractFunc[T]) (Artifact[T], error) {
	var zero Artifact[T]

	budget := c.Budget
	if req.Budget != nil {
		budget = *req.Budget
	}
	if err := budget.validate(); err != nil {
		return zero, err
	}
	if c.Resolver == nil {
		return zero, &engine.ConfigError{Provider: req.Provider.String(), Reason: "no resolver configured"}
	}
	transport, err := c.Resolver.Resolve(req.Provider, engine.Credentials{APIKey: req.APIKey})
	if err != nil {
		return zero, err
	}

	log := c.logger().With("provider", req.Provider.String(), "model", req.Model)
	ctx, span := c.tracer().Start(ctx, "repair.run",
		trace.WithAttributes(
			attribute.String("llm.provider", req.Provider.String()),
			attribute.String("llm.model", req.Model),
			attribute.Int("repair.budget.primary", budget.Primary),
			attribute.Int("repair.budget.tolerance", budget.Tolerance),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	defer func() {
		conversation.Log(ctx, log, conv)
	}()

	var history []string
	for i := 0; i < budget.Total(); i++ {
		tolerant := i >= budget.Primary

		response, err := transport.Send(ctx, req.Model, conv.Turns())
		if err != nil {
			endSpan(span, err)
			return zero, err
		}
		conv.Append(conversation.RoleAssistant, response)

		res := extract(response, tolerant)
		span.AddEvent("repair.attempt", trace.WithAttributes(
			attribute.Int("attempt", i+1),
			attribute.Bool("tolerant", tolerant),
			attribute.String("outcome", res.Outcome.String()),
		))

		switch res.Outcome {
		case OutcomeSuccess:
			log.Debug("extraction succeeded", "attempt", i+1, "tolerant", tolerant)
			span.SetAttributes(attribute.Int("repair.attempts", i+1))
			endSpan(span, nil)
			return Artifact[T]{Code: res.Code, Value: res.Value, Attempts: i + 1}, nil
		case OutcomeRetry:
			history = append(history, res.Description)
			log.Info("error detected", "attempt", i+1, "tolerant", tolerant, "error", res.Description)
			conv.Append(conversation.RoleUser, Correction(c.ErrorTemplate, res.Description))
		default:
			aerr := &AbortError{Attempt: i + 1, Err: res.Err}
			if res.Err == nil {
				aerr.Err = fmt.Errorf("extractor returned outcome %s", res.Outcome)
			}
			endSpan(span, aerr)
			return zero, aerr
		}
	}

	xerr := &ExhaustionError{
		Provider: req.Provider,
		Model:    req.Model,
		Attempts: budget.Total(),
		History:  history,
	}
	span.SetAttributes(attribute.Int("repair.attempts", budget.Total()))
	endSpan(span, xerr)
	return zero, xerr
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
