// internal/testrun/orchestrator.go
package testrun

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tamzrod/ring-tester/internal/storage"
	"github.com/tamzrod/ring-tester/internal/telemetry"
)

// Telemetry is the part of telemetry.Reader the orchestrator uses.
type Telemetry interface {
	Snapshot() telemetry.Snapshot
	WriteParameters(u telemetry.ParameterUpdate) error
	ReadResult() (telemetry.Result, bool)
}

// Commands is the part of command.Dispatcher the orchestrator uses.
type Commands interface {
	StartTest() error
	Stop() error
}

type Config struct {
	SamplePeriod     time.Duration
	CompletionStatus int16
	PersistTimeout   time.Duration
}

// run is the in-flight run. samples and result are guarded by
// Orchestrator.mu.
type run struct {
	rec     storage.Run
	started time.Time
	samples []storage.Sample
	result  *storage.Result // set once finalization computed it

	cancel context.CancelFunc
	done   chan struct{}
}

// Orchestrator drives one test run at a time.
type Orchestrator struct {
	tel   Telemetry
	cmd   Commands
	store storage.Store
	cfg   Config
	now   func() time.Time

	mu    sync.Mutex
	state State
	cur   *run
	last  Status
}

func New(tel Telemetry, cmd Commands, store storage.Store, cfg Config) *Orchestrator {
	if cfg.SamplePeriod <= 0 {
		cfg.SamplePeriod = 100 * time.Millisecond
	}
	if cfg.CompletionStatus == 0 {
		cfg.CompletionStatus = 5
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 10 * time.Second
	}
	return &Orchestrator{
		tel:   tel,
		cmd:   cmd,
		store: store,
		cfg:   cfg,
		now:   time.Now,
		state: Idle,
	}
}

// ---- start ----

// Start creates the run record, arms the parameters, starts sampling and
// pulses start, in that order: the record exists before motion begins.
// A second Start while a run is recording or pending persistence is
// rejected with ErrRunActive.
func (o *Orchestrator) Start(ctx context.Context, req Request) (string, error) {
	o.mu.Lock()
	if o.state.Busy() {
		st := o.state
		o.mu.Unlock()
		log.Printf("testrun: start rejected: a run is %s", st)
		return "", ErrRunActive
	}

	started := o.now()
	p := req.Parameters
	loopCtx, cancel := context.WithCancel(context.Background())
	r := &run{
		rec: storage.Run{
			ID:                uuid.NewString(),
			SampleID:          req.SampleID,
			Operator:          req.Operator,
			Notes:             req.Notes,
			StartedAt:         started.UTC(),
			Status:            storage.RunRecording,
			PipeDiameter:      p.PipeDiameter,
			PipeLength:        p.PipeLength,
			DeflectionPercent: p.DeflectionPercent,
			TestSpeed:         p.TestSpeed,
		},
		started: started,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	// Reserve the slot before any I/O so concurrent starts are rejected.
	prev := o.state
	o.state = Recording
	o.cur = r
	o.mu.Unlock()

	launched := false
	fail := func(err error, recorded bool) (string, error) {
		cancel()
		if launched {
			<-r.done
		} else {
			close(r.done)
		}
		o.mu.Lock()
		if o.cur == r {
			o.cur = nil
			o.state = prev
		}
		o.mu.Unlock()
		if recorded {
			o.abortRecord(r.rec.ID)
		}
		return "", err
	}

	// ---- persist record ----
	if err := o.store.CreateRun(ctx, r.rec); err != nil {
		return fail(fmt.Errorf("testrun: create run: %w", err), false)
	}

	// ---- arm parameters ----
	if err := o.tel.WriteParameters(paramUpdate(p)); err != nil {
		return fail(fmt.Errorf("testrun: write parameters: %w", err), true)
	}

	// ---- sample ----
	if !o.owns(r) {
		return fail(fmt.Errorf("testrun: run %s stopped while starting", r.rec.ID), true)
	}
	launched = true
	go o.sample(loopCtx, r)

	// ---- go ----
	if !o.owns(r) {
		return fail(fmt.Errorf("testrun: run %s stopped while starting", r.rec.ID), true)
	}
	if err := o.cmd.StartTest(); err != nil {
		return fail(fmt.Errorf("testrun: start pulse: %w", err), true)
	}

	log.Printf("testrun: run %s started (sample=%s operator=%s)", r.rec.ID, req.SampleID, req.Operator)
	return r.rec.ID, nil
}

// owns reports whether r is still the current recording run.
func (o *Orchestrator) owns(r *run) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cur == r && o.state == Recording
}

// paramUpdate writes the mandatory parameters and the optional limits only
// when given.
func paramUpdate(p telemetry.Parameters) telemetry.ParameterUpdate {
	u := telemetry.ParameterUpdate{
		PipeDiameter:      &p.PipeDiameter,
		PipeLength:        &p.PipeLength,
		DeflectionPercent: &p.DeflectionPercent,
		TestSpeed:         &p.TestSpeed,
	}
	if p.MaxStroke > 0 {
		u.MaxStroke = &p.MaxStroke
	}
	if p.MaxForce > 0 {
		u.MaxForce = &p.MaxForce
	}
	return u
}

// ---- sampling ----

func (o *Orchestrator) sample(ctx context.Context, r *run) {
	defer close(r.done)

	ticker := time.NewTicker(o.cfg.SamplePeriod)
	defer ticker.Stop()

	offline := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		snap := o.tel.Snapshot()
		if ctx.Err() != nil {
			return
		}
		if !snap.Connected {
			if !offline {
				log.Printf("testrun: run %s: controller offline, skipping samples", r.rec.ID)
				offline = true
			}
			continue
		}
		if offline {
			log.Printf("testrun: run %s: controller back, sampling resumed", r.rec.ID)
			offline = false
		}

		o.mu.Lock()
		if o.cur != r || o.state != Recording {
			o.mu.Unlock()
			return
		}
		r.samples = append(r.samples, storage.Sample{
			Elapsed:    o.now().Sub(r.started).Seconds(),
			Force:      snap.ActualForce,
			Deflection: snap.ActualDeflection,
			Position:   snap.ActualPosition,
		})
		o.mu.Unlock()

		if snap.TestStatus == o.cfg.CompletionStatus {
			o.finalize(r, snap)
			return
		}
	}
}

// ---- finalization ----

func (o *Orchestrator) finalize(r *run, snap telemetry.Snapshot) {
	o.mu.Lock()
	if o.cur != r || o.state != Recording {
		o.mu.Unlock()
		return
	}
	o.state = Finalizing
	o.mu.Unlock()

	res, ok := o.tel.ReadResult()
	if !ok {
		log.Printf("testrun: run %s: result read failed, using completion snapshot", r.rec.ID)
		res = snap.Result()
	}
	if res.SNClass == 0 {
		res.SNClass, res.Passed = Classify(res.RingStiffness)
	}

	end := o.now()

	o.mu.Lock()
	maxForce := 0.0
	for i, s := range r.samples {
		if i == 0 || s.Force > maxForce {
			maxForce = s.Force
		}
	}
	r.result = &storage.Result{
		ForceAtTarget: res.ForceAtTarget,
		MaxForce:      maxForce,
		RingStiffness: res.RingStiffness,
		SNClass:       res.SNClass,
		Passed:        res.Passed,
		Duration:      end.Sub(r.started).Seconds(),
		FinishedAt:    end.UTC(),
	}
	o.mu.Unlock()

	if err := o.persist(r); err != nil {
		log.Printf("testrun: run %s: persist failed, %d samples held for retry: %v", r.rec.ID, len(r.samples), err)
	}
}

// persist stores the result and every sample. On success the run is
// Completed and its buffer released; on failure it stays Finalizing.
func (o *Orchestrator) persist(r *run) error {
	o.mu.Lock()
	res := *r.result
	samples := append([]storage.Sample(nil), r.samples...)
	o.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.PersistTimeout)
	defer cancel()

	if err := o.store.FinalizeRun(ctx, r.rec.ID, res, samples); err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cur == r {
		o.last = o.statusLocked()
		o.last.State = Completed
		o.last.Name = Completed.String()
		o.state = Completed
		o.cur = nil
	}

	verdict := "FAIL"
	if res.Passed {
		verdict = "PASS"
	}
	log.Printf("testrun: run %s completed: SN%d %s (stiffness=%.1f max_force=%.2f samples=%d)",
		r.rec.ID, res.SNClass, verdict, res.RingStiffness, res.MaxForce, len(samples))
	return nil
}

// RetryFinalize retries persisting a run whose finalization failed.
func (o *Orchestrator) RetryFinalize() error {
	o.mu.Lock()
	r := o.cur
	pending := o.state == Finalizing && r != nil && r.result != nil
	o.mu.Unlock()

	if !pending {
		return ErrNoRun
	}
	if err := o.persist(r); err != nil {
		return fmt.Errorf("testrun: retry finalize %s: %w", r.rec.ID, err)
	}
	return nil
}

// Abandon drops a run whose finalization could not be persisted. Every
// sample is written to the log first so the run can be rebuilt by hand.
func (o *Orchestrator) Abandon() error {
	o.mu.Lock()
	r := o.cur
	if o.state != Finalizing || r == nil || r.result == nil {
		o.mu.Unlock()
		return ErrNoRun
	}
	o.last = o.statusLocked()
	o.last.State = Aborted
	o.last.Name = Aborted.String()
	o.state = Aborted
	o.cur = nil
	o.mu.Unlock()

	res := r.result
	log.Printf("testrun: run %s abandoned: started=%s diameter=%.1f length=%.1f deflection=%.2f speed=%.1f",
		r.rec.ID, r.rec.StartedAt.Format(time.RFC3339), r.rec.PipeDiameter, r.rec.PipeLength,
		r.rec.DeflectionPercent, r.rec.TestSpeed)
	log.Printf("testrun: run %s abandoned result: force_at_target=%.3f max_force=%.3f stiffness=%.1f sn=%d passed=%t duration=%.2f",
		r.rec.ID, res.ForceAtTarget, res.MaxForce, res.RingStiffness, res.SNClass, res.Passed, res.Duration)
	for i, s := range r.samples {
		log.Printf("testrun: run %s sample %d: t=%.3f force=%.4f deflection=%.4f position=%.4f",
			r.rec.ID, i, s.Elapsed, s.Force, s.Deflection, s.Position)
	}

	o.abortRecord(r.rec.ID)
	return nil
}

// ---- stop ----

// Stop interrupts a recording run: sampling is cancelled, the stop
// sequence is issued and the run ends Aborted without a result. The stop
// sequence is issued even when no run is recording.
func (o *Orchestrator) Stop() error {
	o.mu.Lock()
	r := o.cur
	aborting := o.state == Recording && r != nil
	if aborting {
		o.last = o.statusLocked()
		o.last.State = Aborted
		o.last.Name = Aborted.String()
		o.state = Aborted
		o.cur = nil
	}
	o.mu.Unlock()

	if aborting {
		r.cancel()
	}

	err := o.cmd.Stop()
	if err != nil {
		log.Printf("SAFETY: testrun: stop sequence failed: %v", err)
	}

	if aborting {
		<-r.done
		o.abortRecord(r.rec.ID)
		log.Printf("testrun: run %s stopped by operator (%d samples discarded)", r.rec.ID, len(r.samples))
	}
	return err
}

func (o *Orchestrator) abortRecord(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.PersistTimeout)
	defer cancel()
	if err := o.store.AbortRun(ctx, id); err != nil {
		log.Printf("testrun: run %s: mark aborted failed: %v", id, err)
	}
}

// ---- status ----

// State returns the lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Status describes the current run, or the last one when idle.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cur == nil {
		st := o.last
		st.State = o.state
		st.Name = o.state.String()
		return st
	}
	return o.statusLocked()
}

// Samples returns a copy of the current run's buffer.
func (o *Orchestrator) Samples() []storage.Sample {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cur == nil {
		return nil
	}
	return append([]storage.Sample(nil), o.cur.samples...)
}

func (o *Orchestrator) statusLocked() Status {
	st := Status{State: o.state, Name: o.state.String()}
	if o.cur == nil {
		return st
	}
	st.RunID = o.cur.rec.ID
	st.Started = o.cur.started
	st.Samples = len(o.cur.samples)
	if n := len(o.cur.samples); n > 0 {
		st.Elapsed = o.cur.samples[n-1].Elapsed
	}
	return st
}
