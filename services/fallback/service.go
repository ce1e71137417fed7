// Package fallback orchestrates provider selection for one logical request:
// admission check, provider call, failure classification, and priority-ordered
// fallback with liveness probes under a bounded time budget. The terminal stub
// responder guarantees the caller always receives some response.
package fallback

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/opswatch/llm-orchestrator/models"
	"github.com/opswatch/llm-orchestrator/observability"
	"github.com/opswatch/llm-orchestrator/services/cost"
	"github.com/opswatch/llm-orchestrator/services/health"
	"github.com/opswatch/llm-orchestrator/services/providers"
	"github.com/opswatch/llm-orchestrator/services/ratelimit"
)

// Service walks the candidate chain for each request
type Service struct {
	registry *providers.Registry
	limiter  *ratelimit.Service
	monitor  *health.Monitor
	sink     Sink // nil when persistence is disabled
	events   *EventLog
	cfg      Config
	logger   *zap.Logger

	totalRequests atomic.Int64
}

// NewService creates an orchestrator. sink may be nil.
func NewService(
	registry *providers.Registry,
	limiter *ratelimit.Service,
	monitor *health.Monitor,
	sink Sink,
	cfg Config,
	logger *zap.Logger,
) *Service {
	if cfg.Budget <= 0 {
		cfg.Budget = DefaultConfig().Budget
	}
	return &Service{
		registry: registry,
		limiter:  limiter,
		monitor:  monitor,
		sink:     sink,
		events:   NewEventLog(cfg.EventLogSize),
		cfg:      cfg,
		logger:   logger,
	}
}

// Events exposes the fallback event log for diagnostics
func (s *Service) Events() *EventLog {
	return s.events
}

// TotalRequests returns the number of orchestrated requests since start
func (s *Service) TotalRequests() int64 {
	return s.totalRequests.Load()
}

// Execute runs one buffered generate call through the candidate chain.
// A *ClientError from any provider returns immediately: the request itself
// is bad and no other provider can fix it. Every other failure moves to the
// next candidate, and the stub answers when the chain is exhausted.
func (s *Service) Execute(ctx context.Context, req *providers.GenerateRequest) (*Result, error) {
	requestID := uuid.New().String()
	s.totalRequests.Add(1)

	candidates := s.candidates()
	estPromptTokens := cost.EstimateRequestTokens(req)

	s.logger.Info("starting orchestration",
		zap.String("request_id", requestID),
		zap.Int("candidates", len(candidates)),
		zap.Int("estimated_prompt_tokens", estPromptTokens))

	var (
		attempts       []Attempt
		budgetDeadline time.Time // zero until the first failure
		probeNeeded    bool
	)

	for i, cand := range candidates {
		name := cand.Spec.Name
		isStub := cand.Spec.Kind == models.ProviderKindStub

		if !isStub && !budgetDeadline.IsZero() && time.Now().After(budgetDeadline) {
			s.logger.Warn("fallback budget exhausted, skipping to stub",
				zap.String("request_id", requestID),
				zap.String("skipped", name))
			continue
		}

		// Step 1: admission check. The stub is exempt: it costs nothing and
		// must stay reachable.
		if !isStub {
			decision := s.checkAdmission(cand.Spec, estPromptTokens, req.MaxTokens)
			if !decision.Allowed {
				s.logger.Info("step 1: admission denied",
					zap.String("request_id", requestID),
					zap.String("provider", name),
					zap.String("reason", decision.Reason),
					zap.Int64("wait_seconds", decision.WaitSeconds))
				observability.RecordRateLimitDenial(name, string(decision.Window), string(decision.Dimension))

				attempts = append(attempts, Attempt{
					Provider:  name,
					ErrorKind: providers.KindRateLimit,
					Detail:    decision.Reason,
				})
				s.emit(requestID, name, nextName(candidates, i), models.TriggerRateLimited, decision.Reason)
				s.noteFailure(&budgetDeadline)
				probeNeeded = true
				continue
			}
			s.logger.Debug("step 1: admission allowed",
				zap.String("request_id", requestID),
				zap.String("provider", name))
		}

		// Step 2: liveness probe for candidates entered after a failure.
		// The first candidate and the stub are committed without probing.
		if probeNeeded && !isStub {
			if !s.probe(ctx, cand.Provider) {
				s.logger.Warn("step 2: liveness probe failed",
					zap.String("request_id", requestID),
					zap.String("provider", name))

				attempts = append(attempts, Attempt{
					Provider:  name,
					ErrorKind: providers.KindTimeout,
					Detail:    "liveness probe failed",
				})
				s.emit(requestID, name, nextName(candidates, i), models.TriggerProbeFailed, "liveness probe failed")
				continue
			}
			s.logger.Debug("step 2: liveness probe passed",
				zap.String("request_id", requestID),
				zap.String("provider", name))
		}

		// Step 3: the provider call
		s.logger.Debug("step 3: invoking provider",
			zap.String("request_id", requestID),
			zap.String("provider", name))
		start := time.Now()
		resp, err := cand.Provider.Generate(ctx, req)
		elapsed := time.Since(start)

		// Step 4: health telemetry records the outcome before any fallback
		// decision, so monitoring reflects ground truth even when the caller
		// never observes the failure.
		s.monitor.Observe(name, float64(elapsed.Milliseconds()), err, time.Now())
		observability.RecordRequestDuration(name, elapsed.Seconds())

		if err != nil {
			kind := providers.KindOf(err)
			observability.RecordRequest(name, string(kind))
			s.recordUsage(requestID, cand.Spec, nil, elapsed, kind)

			attempts = append(attempts, Attempt{
				Provider:  name,
				ErrorKind: kind,
				Detail:    err.Error(),
				LatencyMs: elapsed.Milliseconds(),
			})

			if !providers.ShouldFallback(err) {
				s.logger.Warn("step 4: request rejected by provider, not falling back",
					zap.String("request_id", requestID),
					zap.String("provider", name),
					zap.Error(err))
				return nil, err
			}

			// Credential failures get operator-level severity; another key
			// or provider may still succeed, so the chain continues.
			switch kind {
			case providers.KindAuth, providers.KindQuota:
				s.logger.Error("step 4: provider credential failure",
					zap.String("request_id", requestID),
					zap.String("provider", name),
					zap.Error(err))
			default:
				s.logger.Warn("step 4: provider call failed",
					zap.String("request_id", requestID),
					zap.String("provider", name),
					zap.Error(err))
			}

			s.emit(requestID, name, nextName(candidates, i), triggerFor(err), err.Error())
			s.noteFailure(&budgetDeadline)
			probeNeeded = true
			continue
		}

		// Step 5: record actuals and return
		callCost := cost.Estimate(resp.Usage, cand.Spec.Pricing)
		if !isStub {
			s.limiter.Record(name, resp.Usage.Total(), callCost, time.Now())
		}
		observability.RecordRequest(name, "success")
		observability.RecordTokens(name, resp.Usage.InputTokens, resp.Usage.OutputTokens)
		observability.RecordCost(name, callCost)
		s.recordUsage(requestID, cand.Spec, &resp.Usage, elapsed, "")

		attempts = append(attempts, Attempt{
			Provider:  name,
			LatencyMs: elapsed.Milliseconds(),
		})

		s.logger.Info("orchestration completed",
			zap.String("request_id", requestID),
			zap.String("provider", name),
			zap.Int64("latency_ms", elapsed.Milliseconds()),
			zap.Float64("cost", callCost),
			zap.Int("tokens", resp.Usage.Total()),
			zap.Int("attempts", len(attempts)))

		return &Result{
			RequestID: requestID,
			Provider:  name,
			Response:  resp,
			Cost:      callCost,
			Attempts:  attempts,
		}, nil
	}

	err := &ExhaustedError{RequestID: requestID, Attempts: attempts}
	s.logger.Error("every provider exhausted",
		zap.String("request_id", requestID),
		zap.Int("attempts", len(attempts)),
		zap.Error(err))
	return nil, err
}

// ExecuteStream selects a provider through the same chain and returns its
// chunk stream. Once streaming begins a mid-stream failure terminates the
// stream with an error chunk and is recorded, but no new fallback starts.
func (s *Service) ExecuteStream(ctx context.Context, req *providers.GenerateRequest) (<-chan providers.StreamChunk, *Selection, error) {
	requestID := uuid.New().String()
	s.totalRequests.Add(1)

	candidates := s.candidates()
	estPromptTokens := cost.EstimateRequestTokens(req)

	var (
		attempts       []Attempt
		budgetDeadline time.Time
		probeNeeded    bool
	)

	for i, cand := range candidates {
		name := cand.Spec.Name
		isStub := cand.Spec.Kind == models.ProviderKindStub

		if !isStub && !budgetDeadline.IsZero() && time.Now().After(budgetDeadline) {
			continue
		}

		if !isStub {
			decision := s.checkAdmission(cand.Spec, estPromptTokens, req.MaxTokens)
			if !decision.Allowed {
				observability.RecordRateLimitDenial(name, string(decision.Window), string(decision.Dimension))
				attempts = append(attempts, Attempt{Provider: name, ErrorKind: providers.KindRateLimit, Detail: decision.Reason})
				s.emit(requestID, name, nextName(candidates, i), models.TriggerRateLimited, decision.Reason)
				s.noteFailure(&budgetDeadline)
				probeNeeded = true
				continue
			}
		}

		if probeNeeded && !isStub {
			if !s.probe(ctx, cand.Provider) {
				attempts = append(attempts, Attempt{Provider: name, ErrorKind: providers.KindTimeout, Detail: "liveness probe failed"})
				s.emit(requestID, name, nextName(candidates, i), models.TriggerProbeFailed, "liveness probe failed")
				continue
			}
		}

		start := time.Now()
		upstream, err := cand.Provider.GenerateStream(ctx, req)
		if err != nil {
			elapsed := time.Since(start)
			s.monitor.Observe(name, float64(elapsed.Milliseconds()), err, time.Now())
			kind := providers.KindOf(err)
			observability.RecordRequest(name, string(kind))
			s.recordUsage(requestID, cand.Spec, nil, elapsed, kind)

			attempts = append(attempts, Attempt{
				Provider:  name,
				ErrorKind: kind,
				Detail:    err.Error(),
				LatencyMs: elapsed.Milliseconds(),
			})

			if !providers.ShouldFallback(err) {
				return nil, nil, err
			}

			s.emit(requestID, name, nextName(candidates, i), triggerFor(err), err.Error())
			s.noteFailure(&budgetDeadline)
			probeNeeded = true
			continue
		}

		attempts = append(attempts, Attempt{Provider: name})

		s.logger.Info("streaming from provider",
			zap.String("request_id", requestID),
			zap.String("provider", name),
			zap.Int("attempts", len(attempts)))

		out := make(chan providers.StreamChunk, 16)
		go s.relayStream(ctx, requestID, cand, upstream, out, start, isStub)

		return out, &Selection{
			RequestID: requestID,
			Provider:  name,
			Model:     cand.Spec.Model,
			Attempts:  attempts,
		}, nil
	}

	return nil, nil, &ExhaustedError{RequestID: requestID, Attempts: attempts}
}

// relayStream forwards upstream chunks and folds the terminal outcome into
// the limiter, health telemetry, metrics and ledger. When ctx is cancelled
// (the client went away) forwarding stops, but the upstream is still drained
// so the terminal chunk's usage gets recorded.
func (s *Service) relayStream(ctx context.Context, requestID string, cand providers.Registered, upstream <-chan providers.StreamChunk, out chan<- providers.StreamChunk, start time.Time, isStub bool) {
	defer close(out)

	name := cand.Spec.Name
	delivering := true
	for chunk := range upstream {
		switch {
		case chunk.Err != nil:
			elapsed := time.Since(start)
			s.monitor.Observe(name, float64(elapsed.Milliseconds()), chunk.Err, time.Now())
			kind := providers.KindOf(chunk.Err)
			observability.RecordRequest(name, string(kind))
			s.recordUsage(requestID, cand.Spec, nil, elapsed, kind)
			s.logger.Warn("stream aborted",
				zap.String("request_id", requestID),
				zap.String("provider", name),
				zap.Error(chunk.Err))

		case chunk.Done:
			elapsed := time.Since(start)
			s.monitor.Observe(name, float64(elapsed.Milliseconds()), nil, time.Now())
			observability.RecordRequestDuration(name, elapsed.Seconds())
			observability.RecordRequest(name, "success")

			var usage providers.TokenUsage
			if chunk.Usage != nil {
				usage = *chunk.Usage
			}
			callCost := cost.Estimate(usage, cand.Spec.Pricing)
			if !isStub {
				s.limiter.Record(name, usage.Total(), callCost, time.Now())
			}
			observability.RecordTokens(name, usage.InputTokens, usage.OutputTokens)
			observability.RecordCost(name, callCost)
			s.recordUsage(requestID, cand.Spec, &usage, elapsed, "")

			s.logger.Info("stream completed",
				zap.String("request_id", requestID),
				zap.String("provider", name),
				zap.Int64("latency_ms", elapsed.Milliseconds()),
				zap.Float64("cost", callCost))
		}

		if !delivering {
			continue
		}
		select {
		case out <- chunk:
		case <-ctx.Done():
			delivering = false
			s.logger.Debug("stream consumer gone, draining upstream",
				zap.String("request_id", requestID),
				zap.String("provider", name))
		}
	}
}

// candidates returns the active provider set in priority order with every
// stub moved to the end as the terminal responder.
func (s *Service) candidates() []providers.Registered {
	all := s.registry.All()

	ordered := make([]providers.Registered, 0, len(all))
	var stubs []providers.Registered
	for _, entry := range all {
		if entry.Spec.Kind == models.ProviderKindStub {
			stubs = append(stubs, entry)
			continue
		}
		ordered = append(ordered, entry)
	}
	return append(ordered, stubs...)
}

// checkAdmission runs the rate-limit check with conservative estimates:
// the full prompt estimate plus the caller's output cap.
func (s *Service) checkAdmission(spec models.ProviderSpec, estPromptTokens, maxTokens int) ratelimit.Decision {
	estTokens := estPromptTokens + maxTokens
	estCost := cost.Estimate(providers.TokenUsage{
		InputTokens:  estPromptTokens,
		OutputTokens: maxTokens,
	}, spec.Pricing)
	return s.limiter.Check(spec.Name, estTokens, estCost, time.Now())
}

// probe runs a bounded liveness check against a candidate
func (s *Service) probe(ctx context.Context, p providers.Provider) bool {
	probeCtx, cancel := context.WithTimeout(ctx, providers.ProbeTimeout)
	defer cancel()
	return p.IsAvailable(probeCtx)
}

// noteFailure starts the fallback budget clock on the first failure
func (s *Service) noteFailure(deadline *time.Time) {
	if deadline.IsZero() {
		*deadline = time.Now().Add(s.cfg.Budget)
	}
}

// emit appends a fallback event to the ring, metrics and the ledger
func (s *Service) emit(requestID, from, to string, trigger models.FallbackTrigger, detail string) {
	event := models.NewFallbackEvent(requestID, from, trigger)
	event.ToProvider = to
	event.Detail = detail

	s.events.Append(*event)
	observability.RecordFallback(from, string(trigger))
	if s.sink != nil {
		s.sink.RecordFallback(event)
	}
}

// recordUsage forwards one completed call to the ledger. usage nil means the
// call failed before any tokens were reported.
func (s *Service) recordUsage(requestID string, spec models.ProviderSpec, usage *providers.TokenUsage, elapsed time.Duration, kind providers.ErrorKind) {
	if s.sink == nil {
		return
	}

	record := models.NewUsageRecord(requestID, spec.Name, spec.Model)
	record.LatencyMs = elapsed.Milliseconds()
	if usage != nil {
		record.InputTokens = usage.InputTokens
		record.OutputTokens = usage.OutputTokens
		record.CacheReadTokens = usage.CacheReadTokens
		record.Cost = cost.Estimate(*usage, spec.Pricing)
	}
	record.Success = kind == ""
	record.ErrorKind = string(kind)

	s.sink.RecordUsage(record)
}

// nextName returns the name of the candidate after index i, empty at the end
func nextName(candidates []providers.Registered, i int) string {
	if i+1 < len(candidates) {
		return candidates[i+1].Spec.Name
	}
	return ""
}
