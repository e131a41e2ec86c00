package cloud

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/fako1024/lpgmon/pkg/clock"
	"github.com/fako1024/lpgmon/pkg/logging"
	"github.com/fako1024/lpgmon/pkg/scale"
)

// Outcome denotes the result of a single cadence step
type Outcome int

const (

	// OutcomeSkipped denotes that the step was not due
	OutcomeSkipped Outcome = iota

	// OutcomeSent denotes a successful write
	OutcomeSent

	// OutcomeFailed denotes a failed read or write attempt
	OutcomeFailed
)

// String returns the name of the outcome (used as metric label)
func (o Outcome) String() string {
	switch o {
	case OutcomeSkipped:
		return "skipped"
	case OutcomeSent:
		return "sent"
	case OutcomeFailed:
		return "failed"
	}
	return "unknown"
}

// Cadence names, as passed to observers
const (
	CadenceFast    = "fast"
	CadenceHistory = "history"
)

// Trigger denotes the reason for a history append
type Trigger int

const (

	// TriggerNone denotes that no history append is due
	TriggerNone Trigger = iota

	// TriggerChange denotes that the weight changed by at least the threshold
	TriggerChange

	// TriggerCeiling denotes that the time ceiling since the last append was reached
	TriggerCeiling
)

func (t Trigger) String() string {
	switch t {
	case TriggerChange:
		return "change"
	case TriggerCeiling:
		return "ceiling"
	}
	return "none"
}

// Policy denotes the timing / threshold parameters of both cadences
type Policy struct {
	FastInterval     time.Duration
	FastSamples      int
	HistorySamples   int
	HistoryThreshold float64
	HistoryCeiling   time.Duration
	WriteTimeout     time.Duration
}

// DefaultPolicy returns the default sync policy
func DefaultPolicy() Policy {
	return Policy{
		FastInterval:     10 * time.Second,
		FastSamples:      5,
		HistorySamples:   10,
		HistoryThreshold: 250.,
		HistoryCeiling:   300 * time.Second,
		WriteTimeout:     5 * time.Second,
	}
}

// Cadence denotes the bookkeeping of the display / fast / history timers
type Cadence struct {
	LastDisplayUpdate time.Time
	LastFastUpdate    time.Time
	LastHistorySend   time.Time
	LastHistoryWeight float64
}

// Seed initializes the history bookkeeping from an initial reading so that
// the first evaluation does not trigger a spurious append
func (c *Cadence) Seed(weight float64, now time.Time) {
	c.LastHistoryWeight = weight
	c.LastHistorySend = now
}

// ShouldSendHistory decides whether a history append is due for the given
// weight at time now (reaching either bound triggers)
func ShouldSendHistory(c Cadence, weight float64, now time.Time, p Policy) Trigger {
	if math.Abs(weight-c.LastHistoryWeight) >= p.HistoryThreshold {
		return TriggerChange
	}
	if now.Sub(c.LastHistorySend) >= p.HistoryCeiling {
		return TriggerCeiling
	}
	return TriggerNone
}

// Reader denotes a source of averaged weight readings
type Reader interface {
	Read(n int) (scale.DataPoint, error)
}

// Alerter denotes a local audible signal
type Alerter interface {
	Buzz(n int) error
}

// Engine decides when and what to push to the remote document store
type Engine struct {
	store    DocumentStore
	reader   Reader
	deviceID string
	policy   Policy

	deviceName   string
	announceName bool
	sessionLost  bool

	clock    clock.Clock
	alerter  Alerter
	observer func(cadence string, o Outcome, weight float64)
	logger   logging.Logger
}

// NewEngine instantiates a new sync engine for a device, executing functional
// options, if any
func NewEngine(store DocumentStore, reader Reader, deviceID string, options ...func(*Engine)) *Engine {
	e := &Engine{
		store:    store,
		reader:   reader,
		deviceID: deviceID,
		policy:   DefaultPolicy(),
		clock:    clock.Real{},
		logger:   &logging.NullLogger{},
	}

	for _, option := range options {
		option(e)
	}

	return e
}

// Policy returns the active policy
func (e *Engine) Policy() Policy {
	return e.policy
}

// NewSession marks the start of a new authenticated session: the next current
// state patch carries the friendly device name
func (e *Engine) NewSession(deviceName string) {
	e.deviceName = deviceName
	e.announceName = deviceName != ""
	e.sessionLost = false
}

// SessionLost returns if a write was rejected for lack of an authenticated
// session since the last call to NewSession
func (e *Engine) SessionLost() bool {
	return e.sessionLost
}

// FastUpdate writes the current weight to the current state document if the
// fast interval has elapsed since the last attempt
func (e *Engine) FastUpdate(ctx context.Context, c *Cadence) Outcome {
	now := e.clock.Now()
	if !c.LastFastUpdate.IsZero() && now.Sub(c.LastFastUpdate) < e.policy.FastInterval {
		return OutcomeSkipped
	}

	// The attempt time counts, independent of the outcome
	c.LastFastUpdate = now

	dp, err := e.reader.Read(e.policy.FastSamples)
	if err != nil {
		e.logger.Warnf("failed to read weight for current state update: %s", err)
		return e.done(CadenceFast, OutcomeFailed, 0)
	}

	doc := CurrentState{
		CurrentWeightGrams: round(dp.Weight),
		Timestamp:          Timestamp(now),
	}
	if e.announceName {
		doc.DeviceName = e.deviceName
	}

	wctx, cancel := context.WithTimeout(ctx, e.policy.WriteTimeout)
	defer cancel()
	if err := e.store.PatchCurrent(wctx, e.deviceID, doc); err != nil {
		e.logger.Errorf("failed to update current state of device `%s`: %s", e.deviceID, err)
		e.writeFailed(err)
		return e.done(CadenceFast, OutcomeFailed, dp.Weight)
	}
	e.announceName = false

	e.logger.Debugf("updated current state of device `%s`: %.1fg", e.deviceID, doc.CurrentWeightGrams)
	return e.done(CadenceFast, OutcomeSent, dp.Weight)
}

// EvaluateHistory reads the weight and appends it to the history collection if
// it changed significantly or the last append is older than the ceiling
func (e *Engine) EvaluateHistory(ctx context.Context, c *Cadence) Outcome {
	dp, err := e.reader.Read(e.policy.HistorySamples)
	if err != nil {
		e.logger.Warnf("failed to read weight for history evaluation: %s", err)
		return e.done(CadenceHistory, OutcomeFailed, 0)
	}

	now := e.clock.Now()

	// Without a prior reading the first successful one becomes the baseline
	if c.LastHistorySend.IsZero() {
		c.Seed(dp.Weight, now)
		e.logger.Debugf("seeded history bookkeeping with %.1fg", dp.Weight)
		return OutcomeSkipped
	}

	trigger := ShouldSendHistory(*c, dp.Weight, now, e.policy)
	if trigger == TriggerNone {
		return OutcomeSkipped
	}

	entry := HistoryEntry{
		WeightGrams: round(dp.Weight),
		Timestamp:   Timestamp(now),
	}

	// Bookkeeping is updated regardless of the write result, a failed append is
	// re-attempted on the next significant change or ceiling
	c.LastHistoryWeight = dp.Weight
	c.LastHistorySend = now

	wctx, cancel := context.WithTimeout(ctx, e.policy.WriteTimeout)
	defer cancel()
	id, err := e.store.AppendHistory(wctx, e.deviceID, entry)
	if err != nil {
		e.logger.Errorf("failed to append history of device `%s` (trigger: %s): %s", e.deviceID, trigger, err)
		e.writeFailed(err)
		return e.done(CadenceHistory, OutcomeFailed, dp.Weight)
	}

	e.logger.Infof("appended history entry `%s` for device `%s`: %.1fg (trigger: %s)", id, e.deviceID, entry.WeightGrams, trigger)
	return e.done(CadenceHistory, OutcomeSent, dp.Weight)
}

////////////////////////////////////////////////////////////////////////////////

func (e *Engine) done(cadence string, o Outcome, weight float64) Outcome {
	if e.observer != nil {
		e.observer(cadence, o, weight)
	}
	return o
}

func (e *Engine) writeFailed(err error) {
	if errors.Is(err, ErrNoSession) {
		e.sessionLost = true
	}
	e.alert()
}

func (e *Engine) alert() {
	if e.alerter == nil {
		return
	}
	if err := e.alerter.Buzz(1); err != nil {
		e.logger.Warnf("failed to signal sync failure: %s", err)
	}
}

func round(v float64) float64 {
	return math.Round(v*10.) / 10.
}
