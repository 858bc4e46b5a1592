// Package runner orchestrates one task invocation: load state, fetch a
// snapshot, diff and classify, filter duplicates, dispatch, persist. Each
// invocation is stateless; correctness is reconstructed from persisted state.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/blockcaptain/jackwatch/internal/config"
	"github.com/blockcaptain/jackwatch/internal/dedup"
	"github.com/blockcaptain/jackwatch/internal/differ"
	"github.com/blockcaptain/jackwatch/internal/dispatch"
	"github.com/blockcaptain/jackwatch/internal/logger"
	"github.com/blockcaptain/jackwatch/internal/models"
)

// SnapshotFunc fetches the current upstream snapshot for a task.
type SnapshotFunc func(ctx context.Context) ([]models.Observation, error)

// StateStore is the durable per-task state backend.
type StateStore interface {
	Load(task string) (*models.TaskState, error)
	Save(state *models.TaskState) error
}

// Locker serializes runs of the same task on one host. The store's revision
// check still guards against overlap the lock cannot see (two hosts).
type Locker interface {
	Lock(task string) (release func(), err error)
}

// NopLocker performs no locking.
type NopLocker struct{}

func (NopLocker) Lock(string) (func(), error) { return func() {}, nil }

// Runner executes configured tasks.
type Runner struct {
	cfg        *config.Config
	store      StateStore
	dispatcher *dispatch.Dispatcher
	providers  map[string]SnapshotFunc
	locker     Locker
	now        func() time.Time
}

// New builds a runner over the given collaborators. providers maps the
// provider names referenced by task configs to their snapshot functions.
func New(cfg *config.Config, store StateStore, dispatcher *dispatch.Dispatcher, providers map[string]SnapshotFunc, locker Locker) *Runner {
	if locker == nil {
		locker = NopLocker{}
	}
	return &Runner{
		cfg:        cfg,
		store:      store,
		dispatcher: dispatcher,
		providers:  providers,
		locker:     locker,
		now:        time.Now,
	}
}

// RunTask executes one task end to end and reports what happened. The
// returned error is non-nil only for fatal conditions (fetch failure, state
// failure, expired budget); per-event delivery failures degrade the status
// instead.
func (r *Runner) RunTask(ctx context.Context, name string) (models.RunReport, error) {
	start := r.now()
	report := models.RunReport{
		RunID:     uuid.New().String(),
		Task:      name,
		StartedAt: start,
	}

	taskCfg, ok := r.cfg.Tasks[name]
	if !ok {
		report.Status = models.RunFailed
		report.Err = "unknown task"
		return report, fmt.Errorf("unknown task: %s", name)
	}
	fetch, ok := r.providers[taskCfg.Provider]
	if !ok {
		report.Status = models.RunFailed
		report.Err = "unknown provider"
		return report, fmt.Errorf("unknown provider for task %s: %s", name, taskCfg.Provider)
	}

	if r.cfg.Run.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Run.Timeout)
		defer cancel()
	}

	release, err := r.locker.Lock(name)
	if err != nil {
		report.Status = models.RunFailed
		report.Err = err.Error()
		return report, fmt.Errorf("failed to lock task %s: %w", name, err)
	}
	defer release()

	logger.Info("Run %s started for task %s", report.RunID, name)

	err = r.run(ctx, taskCfg, fetch, &report)
	report.Duration = r.now().Sub(start)
	if err != nil {
		report.Status = models.RunFailed
		report.Err = err.Error()
		return report, err
	}
	return report, nil
}

func (r *Runner) run(ctx context.Context, taskCfg config.TaskConfig, fetch SnapshotFunc, report *models.RunReport) error {
	state, err := r.store.Load(report.Task)
	if err != nil {
		return &models.StateError{Op: "load", Task: report.Task, Err: err}
	}

	// Fetch before any state mutation: a fetch failure must leave the
	// previous snapshot and dedup records untouched.
	observations, err := fetch(ctx)
	if err != nil {
		return &models.FetchError{Task: report.Task, Err: err}
	}

	var candidates []models.CandidateEvent
	var snapshot map[string]models.Observation

	switch taskCfg.Mode {
	case "delta":
		snapshot = make(map[string]models.Observation, len(observations))
		for _, obs := range observations {
			if err := obs.Validate(); err != nil {
				report.ObservationsMalformed++
				logger.Warn("%v", &models.ClassificationError{Symbol: obs.Symbol, Err: err})
				continue
			}
			snapshot[obs.Symbol] = obs
		}

		deltas, stats := differ.Diff(state.Snapshot, snapshot, differ.Config{
			Field:     taskCfg.Field,
			Epsilon:   taskCfg.Epsilon,
			Threshold: taskCfg.Threshold,
			Rules:     differ.RuleSet(taskCfg.Rules),
		})
		report.DeltasSubThreshold = stats.SubThreshold
		report.ObservationsMalformed += stats.Malformed
		if stats.Unclassified > 0 {
			logger.Warn("Task %s: %d delta(s) matched no classification rule", report.Task, stats.Unclassified)
		}

		for i := range deltas {
			d := &deltas[i]
			candidates = append(candidates, models.CandidateEvent{
				ID:       models.DeltaEventID(d.Symbol, d.Label, r.now(), taskCfg.TimeBucket),
				Category: taskCfg.Category,
				Label:    d.Label,
				Symbol:   d.Symbol,
				Delta:    d,
			})
		}

	case "items":
		for i := range observations {
			obs := &observations[i]
			if err := obs.Validate(); err != nil || obs.ID == "" {
				if err == nil {
					err = errors.New("missing provider id")
				}
				report.ObservationsMalformed++
				logger.Warn("%v", &models.ClassificationError{Symbol: obs.Symbol, Err: err})
				continue
			}
			candidates = append(candidates, models.CandidateEvent{
				ID:       obs.ID,
				Category: taskCfg.Category,
				Symbol:   obs.Symbol,
				Item:     obs,
			})
		}

	default:
		return fmt.Errorf("unsupported task mode: %s", taskCfg.Mode)
	}

	report.EventsDetected = len(candidates)

	ds := dedup.New(state)
	fresh := candidates[:0]
	var results []models.DeliveryResult
	for _, ev := range candidates {
		if !ds.IsNew(ev.Category, ev.ID) {
			results = append(results, models.DeliveryResult{EventID: ev.ID, Status: models.DeliverySkipped})
			continue
		}
		fresh = append(fresh, ev)
	}

	var msgs []dispatch.Message
	format := dispatch.Format{
		Headline: taskCfg.Headline,
		TopK:     taskCfg.TopK,
		AuxField: taskCfg.AuxField,
		AuxLabel: taskCfg.AuxLabel,
	}
	if taskCfg.Mode == "delta" {
		msgs = dispatch.BatchGroups(taskCfg.Category, taskCfg.ThreadID, format, fresh)
	} else {
		msgs = dispatch.BatchItems(taskCfg.Category, taskCfg.ThreadID, format, fresh)
	}

	// Events cut by per-group truncation never reach a message; account for
	// them so detected always equals the sum of the per-event outcomes. They
	// stay uncommitted and may surface again on a later run.
	batched := make(map[string]bool)
	for _, msg := range msgs {
		for _, id := range msg.EventIDs {
			batched[id] = true
		}
	}
	for _, ev := range fresh {
		if !batched[ev.ID] {
			results = append(results, models.DeliveryResult{EventID: ev.ID, Status: models.DeliveryTruncated})
		}
	}

	policy := dedup.Policy{MaxIDs: taskCfg.Retention.MaxIDs, MaxAge: taskCfg.Retention.MaxAge}
	commit := func(category string, ids []string) error {
		ds.Commit(category, ids)
		ds.Prune(category, policy, r.now())
		if err := r.store.Save(state); err != nil {
			return &models.StateError{Op: "save", Task: report.Task, Err: err}
		}
		return nil
	}

	sent, dispatchErr := r.dispatcher.Dispatch(ctx, msgs, commit)
	results = append(results, sent...)
	tallyResults(report, results)
	if dispatchErr != nil {
		return dispatchErr
	}

	if taskCfg.Mode == "delta" {
		state.Snapshot = snapshot
	}
	ds.Prune(taskCfg.Category, policy, r.now())
	if err := r.store.Save(state); err != nil {
		return &models.StateError{Op: "save", Task: report.Task, Err: err}
	}

	switch {
	case report.EventsFailed == 0:
		report.Status = models.RunSucceeded
	case report.EventsDelivered > 0:
		report.Status = models.RunPartiallyFailed
	default:
		report.Status = models.RunFailed
	}
	return nil
}

func tallyResults(report *models.RunReport, results []models.DeliveryResult) {
	for _, res := range results {
		switch res.Status {
		case models.DeliveryDelivered:
			report.EventsDelivered++
		case models.DeliveryFailed:
			report.EventsFailed++
		case models.DeliverySkipped:
			report.EventsSkippedDuplicate++
		case models.DeliveryTruncated:
			report.EventsTruncated++
		}
	}
}
