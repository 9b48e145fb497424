package worker

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/bloodlift/bloodlift/internal/delivery"
	"github.com/bloodlift/bloodlift/internal/dispatch"
	"github.com/bloodlift/bloodlift/internal/mission"
)

// Dispatcher is the part of the dispatch coordinator the job drives.
type Dispatcher interface {
	Queue(ctx context.Context, carrierID string, includeUnassigned bool) ([]*delivery.Request, error)
	Assign(ctx context.Context, deliveryID, carrierID string) (*dispatch.Assignment, error)
}

// Carrier outcomes for one run.
const (
	OutcomeAssigned = "assigned"
	OutcomeBusy     = "busy"
	OutcomeIdle     = "idle"
	OutcomeGrounded = "grounded"
	OutcomeFailed   = "failed"
)

// AutoDispatchJob assigns the head of each idle carrier's queue.
type AutoDispatchJob struct {
	config     AutoDispatchConfig
	dispatcher Dispatcher
	logger     zerolog.Logger

	mu    sync.RWMutex
	stats JobStats
}

// JobStats tracks auto-dispatch statistics.
type JobStats struct {
	Runs        int64
	Assigned    int64
	Grounded    int64
	Failed      int64
	LastRunAt   time.Time
	LastRunTook time.Duration
}

// AutoDispatchJobConfig holds configuration for creating an AutoDispatchJob.
type AutoDispatchJobConfig struct {
	Config     AutoDispatchConfig
	Dispatcher Dispatcher
	Logger     zerolog.Logger
}

// NewAutoDispatchJob creates a new auto-dispatch job.
func NewAutoDispatchJob(cfg AutoDispatchJobConfig) *AutoDispatchJob {
	return &AutoDispatchJob{
		config:     cfg.Config.withDefaults(),
		dispatcher: cfg.Dispatcher,
		logger:     cfg.Logger,
	}
}

// RunResult contains the result of one auto-dispatch run.
type RunResult struct {
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
	Carriers  int
	Outcomes  map[string]string
	Assigned  map[string]string
}

// Count returns how many carriers ended with outcome.
func (r *RunResult) Count(outcome string) int {
	n := 0
	for _, o := range r.Outcomes {
		if o == outcome {
			n++
		}
	}
	return n
}

type carrierResult struct {
	carrierID  string
	outcome    string
	deliveryID string
}

// Run makes one pass over the fleet.
func (j *AutoDispatchJob) Run(ctx context.Context) *RunResult {
	startTime := time.Now()
	result := &RunResult{
		StartTime: startTime,
		Carriers:  len(j.config.Carriers),
		Outcomes:  make(map[string]string, len(j.config.Carriers)),
		Assigned:  make(map[string]string),
	}

	j.logger.Debug().
		Int("carriers", result.Carriers).
		Int("workers", j.config.Workers).
		Msg("starting auto-dispatch run")

	shards := make([]chan string, j.config.Workers)
	for i := range shards {
		shards[i] = make(chan string, len(j.config.Carriers))
	}
	for _, id := range j.config.Carriers {
		shards[shardIndex(id, len(shards))] <- id
	}

	results := make(chan carrierResult, len(j.config.Carriers))
	var wg sync.WaitGroup
	for i, ch := range shards {
		close(ch)
		wg.Add(1)
		go func(workerID int, carriers <-chan string) {
			defer wg.Done()
			j.worker(ctx, workerID, carriers, results)
		}(i, ch)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	for cr := range results {
		result.Outcomes[cr.carrierID] = cr.outcome
		if cr.outcome == OutcomeAssigned {
			result.Assigned[cr.carrierID] = cr.deliveryID
		}
	}

	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(startTime)
	j.record(result)

	j.logger.Info().
		Dur("duration", result.Duration).
		Int("assigned", result.Count(OutcomeAssigned)).
		Int("grounded", result.Count(OutcomeGrounded)).
		Int("failed", result.Count(OutcomeFailed)).
		Msg("auto-dispatch run completed")

	return result
}

// Loop runs the job every configured interval until ctx is done.
func (j *AutoDispatchJob) Loop(ctx context.Context) {
	ticker := time.NewTicker(j.config.Interval)
	defer ticker.Stop()

	for {
		j.Run(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (j *AutoDispatchJob) worker(ctx context.Context, id int, carriers <-chan string, results chan<- carrierResult) {
	for carrierID := range carriers {
		select {
		case <-ctx.Done():
			return
		default:
			results <- j.dispatchCarrier(ctx, id, carrierID)
		}
	}
}

func (j *AutoDispatchJob) dispatchCarrier(ctx context.Context, workerID int, carrierID string) carrierResult {
	ctx, cancel := context.WithTimeout(ctx, j.config.Timeout)
	defer cancel()

	logger := j.logger.With().Str("carrier_id", carrierID).Int("worker_id", workerID).Logger()
	res := carrierResult{carrierID: carrierID}

	queue, err := j.dispatcher.Queue(ctx, carrierID, true)
	if err != nil {
		logger.Error().Err(err).Msg("failed to load queue")
		res.outcome = OutcomeFailed
		return res
	}

	candidates := make([]*delivery.Request, 0, len(queue))
	for _, r := range queue {
		if r.Status == delivery.StatusAssigned {
			res.outcome = OutcomeBusy
			return res
		}
		if r.Status == delivery.StatusPending {
			candidates = append(candidates, r)
		}
	}
	if len(candidates) == 0 {
		res.outcome = OutcomeIdle
		return res
	}

	res.outcome = OutcomeGrounded
	for i, r := range candidates {
		if i == j.config.MaxCandidates {
			break
		}

		_, err := j.dispatcher.Assign(ctx, r.ID, carrierID)
		switch {
		case err == nil:
			res.outcome = OutcomeAssigned
			res.deliveryID = r.ID
			return res
		case errors.Is(err, delivery.ErrCarrierBusy):
			res.outcome = OutcomeBusy
			return res
		case errors.Is(err, mission.ErrUnsafeConditions),
			errors.Is(err, mission.ErrMissingDestination),
			errors.Is(err, delivery.ErrReserved),
			errors.Is(err, delivery.ErrInvalidTransition):
			logger.Debug().Err(err).Str("delivery_id", r.ID).Msg("candidate skipped")
			continue
		default:
			logger.Warn().Err(err).Str("delivery_id", r.ID).Msg("auto-dispatch attempt failed")
			res.outcome = OutcomeFailed
			return res
		}
	}
	return res
}

func (j *AutoDispatchJob) record(result *RunResult) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.stats.Runs++
	j.stats.Assigned += int64(result.Count(OutcomeAssigned))
	j.stats.Grounded += int64(result.Count(OutcomeGrounded))
	j.stats.Failed += int64(result.Count(OutcomeFailed))
	j.stats.LastRunAt = result.EndTime
	j.stats.LastRunTook = result.Duration
}

// Stats returns a copy of the job statistics.
func (j *AutoDispatchJob) Stats() JobStats {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.stats
}

// StatsSnapshot returns the statistics as a map for ops endpoints.
func (j *AutoDispatchJob) StatsSnapshot() map[string]interface{} {
	s := j.Stats()
	return map[string]interface{}{
		"runs":          s.Runs,
		"assigned":      s.Assigned,
		"grounded":      s.Grounded,
		"failed":        s.Failed,
		"last_run_at":   s.LastRunAt,
		"last_run_took": s.LastRunTook.String(),
	}
}

// shardIndex maps a carrier id deterministically to a worker index.
func shardIndex(carrierID string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(carrierID))
	return int(h.Sum32() % uint32(n))
}
