// internal/testrun/orchestrator_test.go
package testrun

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"gotest.tools/v3/assert"
	"gotest.tools/v3/poll"

	"github.com/tamzrod/ring-tester/internal/command"
	"github.com/tamzrod/ring-tester/internal/device"
	"github.com/tamzrod/ring-tester/internal/device/devicetest"
	"github.com/tamzrod/ring-tester/internal/storage"
	"github.com/tamzrod/ring-tester/internal/telemetry"
)

type rig struct {
	tr    *devicetest.Transport
	s     *device.Session
	m     telemetry.Map
	cm    command.Map
	store *flakyStore
	o     *Orchestrator
}

func newRig(t *testing.T) *rig {
	t.Helper()
	tr := devicetest.New()
	s := device.NewSession("test", tr)
	assert.NilError(t, s.Connect())

	m := telemetry.DefaultMap()
	reader := telemetry.NewReader(s, m, telemetry.Limits{MaxForce: 200, MaxStroke: 500})

	ccfg := command.DefaultConfig()
	ccfg.Pulses = command.Pulses{
		Start:      time.Millisecond,
		Stop:       time.Millisecond,
		Home:       time.Millisecond,
		AlarmReset: time.Millisecond,
	}
	disp := command.New(s, ccfg)

	store := &flakyStore{Memory: storage.NewMemory()}
	o := New(reader, disp, store, Config{SamplePeriod: 5 * time.Millisecond, CompletionStatus: 5})

	r := &rig{tr: tr, s: s, m: m, cm: ccfg.Map, store: store, o: o}
	t.Cleanup(func() { _ = o.Stop() })
	return r
}

func stdRequest() Request {
	return Request{
		Parameters: telemetry.Parameters{
			PipeDiameter:      200,
			PipeLength:        300,
			DeflectionPercent: 3.0,
			TestSpeed:         10.0,
		},
		SampleID: "P-200",
		Operator: "qa",
	}
}

func (r *rig) waitSamples(t *testing.T, n int) {
	t.Helper()
	poll.WaitOn(t, func(poll.LogT) poll.Result {
		if got := r.o.Status().Samples; got < n {
			return poll.Continue("have %d samples, want %d", got, n)
		}
		return poll.Success()
	}, poll.WithTimeout(3*time.Second), poll.WithDelay(2*time.Millisecond))
}

func (r *rig) waitState(t *testing.T, want State) {
	t.Helper()
	poll.WaitOn(t, func(poll.LogT) poll.Result {
		if got := r.o.State(); got != want {
			return poll.Continue("state %s, want %s", got, want)
		}
		return poll.Success()
	}, poll.WithTimeout(3*time.Second), poll.WithDelay(2*time.Millisecond))
}

// flakyStore fails FinalizeRun while failFinalize is set. With
// commitFirst the write lands before the error is returned, like an
// acknowledgement lost to a deadline.
type flakyStore struct {
	*storage.Memory
	mu           sync.Mutex
	failFinalize bool
	commitFirst  bool
	finalizes    int
}

func (f *flakyStore) setFail(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failFinalize = v
}

func (f *flakyStore) FinalizeRun(ctx context.Context, id string, res storage.Result, samples []storage.Sample) error {
	f.mu.Lock()
	f.finalizes++
	fail := f.failFinalize
	commit := f.commitFirst
	f.mu.Unlock()
	if fail {
		if commit {
			if err := f.Memory.FinalizeRun(ctx, id, res, samples); err != nil {
				return err
			}
			return context.DeadlineExceeded
		}
		return errors.New("database unavailable")
	}
	return f.Memory.FinalizeRun(ctx, id, res, samples)
}

// ---- classification ----

func TestClassify(t *testing.T) {
	cases := []struct {
		stiffness float64
		class     int
		passed    bool
	}{
		{3000, SN2500, true},
		{2000, SN2500, false},
		{3750, SN5000, false},
		{5000, SN5000, true},
		{4499, SN5000, false},
		{7499, SN5000, true},
		{7500, SN10000, false},
		{8000, SN10000, false},
		{9000, SN10000, true},
	}
	for _, tc := range cases {
		class, passed := Classify(tc.stiffness)
		assert.Equal(t, class, tc.class, "stiffness %v", tc.stiffness)
		assert.Equal(t, passed, tc.passed, "stiffness %v", tc.stiffness)
	}
}

// ---- lifecycle ----

func TestRun_FullLifecycle(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	id, err := r.o.Start(ctx, stdRequest())
	assert.NilError(t, err)
	assert.Assert(t, id != "")
	assert.Equal(t, r.o.State(), Recording)

	// parameters reached the controller and start was pulsed
	assert.Equal(t, r.tr.Float32(r.m.PipeDiameter), float32(200))
	assert.Equal(t, r.tr.Float32(r.m.DeflectionPercent), float32(3))
	assert.Assert(t, !r.tr.Bool(r.cm.StartTest))

	// the record exists while recording
	rec, err := r.store.GetRun(ctx, id)
	assert.NilError(t, err)
	assert.Equal(t, rec.Status, storage.RunRecording)
	assert.Equal(t, rec.SampleID, "P-200")

	r.tr.SetFloat32(r.m.ActualForce, 5)
	r.waitSamples(t, 2)
	r.tr.SetFloat32(r.m.ActualForce, 9.5)
	r.waitSamples(t, r.o.Status().Samples+2)
	r.tr.SetFloat32(r.m.ActualForce, 3)
	r.waitSamples(t, r.o.Status().Samples+2)

	r.tr.SetFloat32(r.m.RingStiffness, 5200)
	r.tr.SetFloat32(r.m.ForceAtTarget, 4.25)
	r.tr.SetInt16(r.m.SNClass, 5000)
	r.tr.SetBool(r.m.TestPassed, true)
	r.tr.SetInt16(r.m.TestStatus, 5)

	r.waitState(t, Completed)

	got, err := r.store.GetRun(ctx, id)
	assert.NilError(t, err)
	assert.Equal(t, got.Status, storage.RunCompleted)
	assert.Assert(t, got.Result != nil)
	assert.Assert(t, len(got.Samples) >= 6)

	maxForce := 0.0
	for i, s := range got.Samples {
		if i > 0 {
			assert.Assert(t, s.Elapsed > got.Samples[i-1].Elapsed, "elapsed not increasing at %d", i)
		}
		maxForce = math.Max(maxForce, s.Force)
	}
	assert.Equal(t, got.Result.MaxForce, maxForce)
	assert.Equal(t, got.Result.MaxForce, 9.5)
	assert.Equal(t, got.Result.RingStiffness, 5200.0)
	assert.Equal(t, got.Result.ForceAtTarget, 4.25)
	assert.Equal(t, got.Result.SNClass, 5000)
	assert.Equal(t, got.Result.Passed, true)

	last := got.Samples[len(got.Samples)-1].Elapsed
	assert.Assert(t, got.Result.Duration >= last)
	assert.Assert(t, got.Result.Duration < last+1)

	// buffer released, next run allowed
	assert.Assert(t, r.o.Samples() == nil)
	st := r.o.Status()
	assert.Equal(t, st.State, Completed)
	assert.Equal(t, st.RunID, id)
}

func TestRun_ClassDerivedWhenControllerReportsNone(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	id, err := r.o.Start(ctx, stdRequest())
	assert.NilError(t, err)

	r.tr.SetFloat32(r.m.RingStiffness, 8000)
	r.tr.SetInt16(r.m.TestStatus, 5)
	r.waitState(t, Completed)

	got, err := r.store.GetRun(ctx, id)
	assert.NilError(t, err)
	assert.Equal(t, got.Result.SNClass, SN10000)
	assert.Equal(t, got.Result.Passed, false)
}

func TestStart_RejectedWhileRecording(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	first, err := r.o.Start(ctx, stdRequest())
	assert.NilError(t, err)
	r.waitSamples(t, 2)

	second, err := r.o.Start(ctx, stdRequest())
	assert.Assert(t, errors.Is(err, ErrRunActive))
	assert.Equal(t, second, "")

	st := r.o.Status()
	assert.Equal(t, st.RunID, first)
	assert.Equal(t, st.State, Recording)

	runs, err := r.store.ListRuns(ctx, storage.RunFilter{})
	assert.NilError(t, err)
	assert.Equal(t, len(runs), 1)
}

func TestStart_ConcurrentOnlyOneWins(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	const n = 8
	var wg sync.WaitGroup
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.o.Start(ctx, stdRequest())
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	ok, rejected := 0, 0
	for err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrRunActive):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, ok, 1)
	assert.Equal(t, rejected, n-1)
}

func TestStart_Disconnected(t *testing.T) {
	r := newRig(t)
	r.s.Disconnect()

	_, err := r.o.Start(context.Background(), stdRequest())
	assert.ErrorContains(t, err, "write parameters")
	assert.Equal(t, r.o.State(), Idle)

	runs, err := r.store.ListRuns(context.Background(), storage.RunFilter{})
	assert.NilError(t, err)
	assert.Equal(t, len(runs), 1)
	assert.Equal(t, runs[0].Status, storage.RunAborted)
}

// ---- disconnect mid-run ----

func TestRun_SurvivesDisconnect(t *testing.T) {
	r := newRig(t)

	_, err := r.o.Start(context.Background(), stdRequest())
	assert.NilError(t, err)
	r.waitSamples(t, 2)

	r.tr.Break()
	poll.WaitOn(t, func(poll.LogT) poll.Result {
		if r.s.Connected() {
			return poll.Continue("session still up")
		}
		return poll.Success()
	}, poll.WithTimeout(3*time.Second), poll.WithDelay(2*time.Millisecond))

	frozen := r.o.Status().Samples
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, r.o.Status().Samples, frozen, "no samples while offline")
	assert.Equal(t, r.o.State(), Recording)

	r.tr.Heal()
	assert.NilError(t, r.s.Connect())
	r.waitSamples(t, frozen+2)
	assert.Equal(t, r.o.State(), Recording)

	samples := r.o.Samples()
	for i := 1; i < len(samples); i++ {
		assert.Assert(t, samples[i].Elapsed > samples[i-1].Elapsed)
	}
}

// ---- stop ----

func TestStop_AbortsWithoutResult(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	assert.NilError(t, r.s.WriteBool(r.cm.JogForward, true))
	id, err := r.o.Start(ctx, stdRequest())
	assert.NilError(t, err)
	r.waitSamples(t, 2)
	r.tr.ResetWrites()

	assert.NilError(t, r.o.Stop())
	assert.Equal(t, r.o.State(), Aborted)

	// stop pulsed and jog cleared
	stopSet := false
	for _, w := range r.tr.Writes() {
		if w.Area == r.cm.Stop.Area && w.DB == r.cm.Stop.DB && w.Offset == r.cm.Stop.Offset &&
			w.Data[0]&(1<<uint(r.cm.Stop.Bit)) != 0 {
			stopSet = true
		}
	}
	assert.Assert(t, stopSet)
	assert.Assert(t, !r.tr.Bool(r.cm.Stop))
	assert.Assert(t, !r.tr.Bool(r.cm.JogForward))

	got, err := r.store.GetRun(ctx, id)
	assert.NilError(t, err)
	assert.Equal(t, got.Status, storage.RunAborted)
	assert.Assert(t, got.Result == nil)
	assert.Equal(t, len(got.Samples), 0)

	// completion after stop changes nothing
	r.tr.SetInt16(r.m.TestStatus, 5)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, r.o.State(), Aborted)

	// a new run may start
	_, err = r.o.Start(ctx, stdRequest())
	assert.NilError(t, err)
}

func TestStop_WithoutRunStillStops(t *testing.T) {
	r := newRig(t)
	assert.NilError(t, r.s.WriteBool(r.cm.JogBackward, true))

	assert.NilError(t, r.o.Stop())
	assert.Equal(t, r.o.State(), Idle)
	assert.Assert(t, !r.tr.Bool(r.cm.JogBackward))
}

// ---- persistence failure ----

func TestFinalize_PersistFailureKeepsBuffer(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	r.store.setFail(true)

	id, err := r.o.Start(ctx, stdRequest())
	assert.NilError(t, err)
	r.tr.SetFloat32(r.m.ActualForce, 7)
	r.waitSamples(t, 3)
	r.tr.SetInt16(r.m.TestStatus, 5)

	r.waitState(t, Finalizing)
	held := len(r.o.Samples())
	assert.Assert(t, held >= 3)

	_, err = r.o.Start(ctx, stdRequest())
	assert.Assert(t, errors.Is(err, ErrRunActive))

	assert.ErrorContains(t, r.o.RetryFinalize(), "database unavailable")
	assert.Equal(t, r.o.State(), Finalizing)

	r.store.setFail(false)
	assert.NilError(t, r.o.RetryFinalize())
	assert.Equal(t, r.o.State(), Completed)

	got, err := r.store.GetRun(ctx, id)
	assert.NilError(t, err)
	assert.Equal(t, len(got.Samples), held)
	assert.Equal(t, got.Result.MaxForce, 7.0)

	assert.Assert(t, errors.Is(r.o.RetryFinalize(), ErrNoRun))
}

func TestFinalize_RetryAfterLostAcknowledgement(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	r.store.mu.Lock()
	r.store.failFinalize = true
	r.store.commitFirst = true
	r.store.mu.Unlock()

	id, err := r.o.Start(ctx, stdRequest())
	assert.NilError(t, err)
	r.tr.SetFloat32(r.m.ActualForce, 4)
	r.waitSamples(t, 2)
	r.tr.SetInt16(r.m.TestStatus, 5)
	r.waitState(t, Finalizing)

	got, err := r.store.GetRun(ctx, id)
	assert.NilError(t, err)
	assert.Equal(t, got.Status, storage.RunCompleted)

	r.store.setFail(false)
	assert.NilError(t, r.o.RetryFinalize())
	assert.Equal(t, r.o.State(), Completed)

	got, err = r.store.GetRun(ctx, id)
	assert.NilError(t, err)
	assert.Equal(t, got.Status, storage.RunCompleted)
	assert.Equal(t, got.Result.MaxForce, 4.0)

	r.tr.SetInt16(r.m.TestStatus, 0)
	_, err = r.o.Start(ctx, stdRequest())
	assert.NilError(t, err)
}

func TestFinalize_AbandonKeepsCommittedRun(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	r.store.mu.Lock()
	r.store.failFinalize = true
	r.store.commitFirst = true
	r.store.mu.Unlock()

	id, err := r.o.Start(ctx, stdRequest())
	assert.NilError(t, err)
	r.waitSamples(t, 1)
	r.tr.SetInt16(r.m.TestStatus, 5)
	r.waitState(t, Finalizing)

	assert.NilError(t, r.o.Abandon())
	assert.Equal(t, r.o.State(), Aborted)

	got, err := r.store.GetRun(ctx, id)
	assert.NilError(t, err)
	assert.Equal(t, got.Status, storage.RunCompleted)
	assert.Assert(t, got.Result != nil)
}

func TestFinalize_Abandon(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	r.store.setFail(true)

	id, err := r.o.Start(ctx, stdRequest())
	assert.NilError(t, err)
	r.waitSamples(t, 1)
	r.tr.SetInt16(r.m.TestStatus, 5)
	r.waitState(t, Finalizing)

	assert.NilError(t, r.o.Abandon())
	assert.Equal(t, r.o.State(), Aborted)
	assert.Assert(t, r.o.Samples() == nil)

	got, err := r.store.GetRun(ctx, id)
	assert.NilError(t, err)
	assert.Equal(t, got.Status, storage.RunAborted)

	assert.Assert(t, errors.Is(r.o.Abandon(), ErrNoRun))
}

func TestStateNames(t *testing.T) {
	assert.Equal(t, Idle.String(), "idle")
	assert.Equal(t, Finalizing.String(), "finalizing")
	assert.Assert(t, Recording.Busy())
	assert.Assert(t, Finalizing.Busy())
	assert.Assert(t, !Completed.Busy())
}
