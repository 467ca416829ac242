// Package session drives the lifecycle of one practice session: load the
// passage, connect the realtime channel, accumulate the conversation, and on
// an accepted end request run the grade-then-persist pipeline exactly once.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lingora/lingora/internal/grader"
	"github.com/lingora/lingora/internal/model"
	"github.com/lingora/lingora/internal/realtime"
	"github.com/lingora/lingora/internal/transcript"
)

var (
	// ErrAlreadyStarted is returned by Start on a non-idle orchestrator.
	ErrAlreadyStarted = errors.New("session already started")
	// ErrNotInConversation is returned by End when the session is not live.
	ErrNotInConversation = errors.New("session is not in conversation")
	// ErrSessionTooShort is returned by End before the minimum connected
	// duration has elapsed.
	ErrSessionTooShort = errors.New("session too short to end")
	// ErrEndInFlight is returned by End while a previous end request is still
	// being processed.
	ErrEndInFlight = errors.New("end request already in progress")
	// ErrNothingToRetry is returned by RetryPersist unless the session failed
	// after grading succeeded.
	ErrNothingToRetry = errors.New("no graded record awaiting persistence")
)

// PassageSource looks up the passage a session is about.
type PassageSource interface {
	GetPassage(id string) (model.Passage, error)
}

// Grader scores a completed transcript.
type Grader interface {
	Grade(ctx context.Context, in grader.Input) (model.Evaluation, error)
}

// Recorder durably stores the graded session record.
type Recorder interface {
	CreateSessionRecord(rec model.SessionRecord) error
}

// Deps are the orchestrator's external collaborators.
type Deps struct {
	Passages PassageSource
	Tokens   realtime.TokenSource
	Dialer   realtime.Dialer
	Grader   Grader
	Recorder Recorder
}

// Option is a functional option for configuring an Orchestrator.
type Option func(*Orchestrator)

// WithTickInterval sets the wall-clock interval backing one elapsed second.
// Tests shorten it to step the timer quickly.
func WithTickInterval(d time.Duration) Option {
	return func(o *Orchestrator) { o.tickInterval = d }
}

// WithGreetingDelay sets the delay before the synthetic greeting turn that
// prompts the tutor to speak first.
func WithGreetingDelay(d time.Duration) Option {
	return func(o *Orchestrator) { o.greetingDelay = d }
}

// WithConnectTimeout bounds credential fetch plus channel dial.
func WithConnectTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.connectTimeout = d }
}

// WithGradeTimeout bounds the grading request.
func WithGradeTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.gradeTimeout = d }
}

// Orchestrator owns one session from start through grading and persistence.
// All state transitions are serialized behind mu; the event loop goroutine
// handles turn arrival, timer ticks and the greeting.
type Orchestrator struct {
	deps Deps
	cfg  model.PracticeConfig
	log  *slog.Logger

	tickInterval   time.Duration
	greetingDelay  time.Duration
	connectTimeout time.Duration
	gradeTimeout   time.Duration

	mu         sync.Mutex
	state      model.State
	passage    model.Passage
	channel    realtime.Channel
	turns      *transcript.Accumulator
	elapsed    int
	processing bool
	lastErr    error

	// Retained after an end request is accepted so a persistence retry never
	// re-reads the accumulator or re-invokes grading.
	flattened     string
	finalDuration int
	pending       *model.SessionRecord
	recordID      string

	done     chan struct{}
	stopOnce sync.Once
}

// New creates an idle orchestrator for a single session.
func New(deps Deps, cfg model.PracticeConfig, log *slog.Logger, opts ...Option) *Orchestrator {
	if cfg.MinDuration <= 0 {
		cfg.MinDuration = 30
	}
	o := &Orchestrator{
		deps:           deps,
		cfg:            cfg,
		log:            log,
		tickInterval:   time.Second,
		greetingDelay:  time.Second,
		connectTimeout: 15 * time.Second,
		gradeTimeout:   60 * time.Second,
		state:          model.StateIdle,
		turns:          transcript.New(),
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Start loads the passage, connects the realtime channel and enters the
// conversation. It is synchronous up to the connected state; the event loop
// runs in the background afterwards. A failed Start leaves the orchestrator
// in the error state and the session must be restarted from scratch.
func (o *Orchestrator) Start(ctx context.Context, passageID string) error {
	o.mu.Lock()
	if o.state != model.StateIdle {
		o.mu.Unlock()
		return ErrAlreadyStarted
	}
	o.state = model.StateLoadingPassage
	o.mu.Unlock()

	passage, err := o.deps.Passages.GetPassage(passageID)
	if err != nil {
		err = fmt.Errorf("load passage %q: %w", passageID, err)
		o.fail(err)
		return err
	}

	o.setState(model.StateConnecting)

	connectCtx, cancel := context.WithTimeout(ctx, o.connectTimeout)
	defer cancel()

	token, err := o.deps.Tokens.Token(connectCtx)
	if err != nil {
		err = fmt.Errorf("fetch realtime credential: %w", err)
		o.fail(err)
		return err
	}

	channel, err := o.deps.Dialer.Connect(connectCtx, realtime.Config{
		Token:        token,
		Instructions: tutorInstructions(&passage),
		Voice:        o.cfg.Voice,
	})
	if err != nil {
		err = fmt.Errorf("connect realtime channel: %w", err)
		o.fail(err)
		return err
	}

	o.mu.Lock()
	o.passage = passage
	o.channel = channel
	o.state = model.StateInConversation
	o.mu.Unlock()

	o.log.Info("session connected", "passage_id", passage.ID, "passage_title", passage.Title)

	go o.run(channel)
	return nil
}

// run is the event loop: greeting, timer ticks and turn arrival. It exits
// when the session ends or fails.
func (o *Orchestrator) run(channel realtime.Channel) {
	ticker := time.NewTicker(o.tickInterval)
	defer ticker.Stop()
	greeting := time.NewTimer(o.greetingDelay)
	defer greeting.Stop()

	turns := channel.Turns()

	for {
		select {
		case <-o.done:
			return

		case <-greeting.C:
			o.sendGreeting(channel)

		case <-ticker.C:
			o.mu.Lock()
			if o.state == model.StateInConversation {
				o.elapsed++
			}
			o.mu.Unlock()

		case turn, ok := <-turns:
			if !ok {
				// The stream died underneath a live conversation. The
				// transcript so far is kept and End stays available.
				if err := channel.Err(); err != nil {
					o.log.Warn("realtime channel terminated", "error", err)
				}
				turns = nil
				continue
			}
			o.appendTurn(turn)
		}
	}
}

// sendGreeting injects a short synthetic learner turn so the tutor speaks
// first. Failures are logged, not fatal; the learner can still open the
// conversation themselves.
func (o *Orchestrator) sendGreeting(channel realtime.Channel) {
	o.mu.Lock()
	live := o.state == model.StateInConversation
	o.mu.Unlock()
	if !live {
		return
	}
	if err := channel.SendUserText("hi"); err != nil {
		o.log.Warn("send greeting", "error", err)
		return
	}
	if err := channel.RequestResponse(); err != nil {
		o.log.Warn("request greeting response", "error", err)
	}
}

// appendTurn records a turn while the conversation is live. Turns arriving
// after an end request is accepted are dropped.
func (o *Orchestrator) appendTurn(turn model.Turn) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != model.StateInConversation {
		return
	}
	if o.turns.Append(turn.Role, turn.Content) {
		o.log.Debug("turn captured", "role", turn.Role, "length", len(turn.Content))
	}
}

// End requests the end of the conversation and, if accepted, runs the
// grade-then-persist pipeline. The gate is atomic: the minimum-duration and
// re-entrancy checks and the transition to ending happen under one lock
// acquisition. On success the new session record id is returned.
func (o *Orchestrator) End(ctx context.Context) (string, error) {
	o.mu.Lock()
	if o.state != model.StateInConversation {
		st := o.state
		o.mu.Unlock()
		return "", fmt.Errorf("%w (state %s)", ErrNotInConversation, st)
	}
	if o.processing {
		o.mu.Unlock()
		return "", ErrEndInFlight
	}
	if o.elapsed < o.cfg.MinDuration {
		elapsed := o.elapsed
		o.mu.Unlock()
		return "", fmt.Errorf("%w: %ds elapsed, %ds required", ErrSessionTooShort, elapsed, o.cfg.MinDuration)
	}
	o.processing = true
	o.state = model.StateEnding
	o.finalDuration = o.elapsed
	channel := o.channel
	o.mu.Unlock()

	// Tear the channel down before the slow grading pipeline so the learner
	// is never left connected while grading is in flight.
	o.stop()
	if err := channel.Close(); err != nil {
		o.log.Warn("close realtime channel", "error", err)
	}

	o.mu.Lock()
	o.flattened = o.turns.Flatten()
	flattened := o.flattened
	passage := o.passage
	o.state = model.StateGrading
	o.mu.Unlock()

	o.log.Info("grading session", "passage_id", passage.ID, "duration_s", o.finalDuration)

	questions := questionTexts(&passage)
	gradeCtx, cancel := context.WithTimeout(ctx, o.gradeTimeout)
	defer cancel()

	eval, err := o.deps.Grader.Grade(gradeCtx, grader.Input{
		Transcript:     flattened,
		PassageContent: passage.Content,
		Questions:      questions,
	})
	if err != nil {
		err = fmt.Errorf("grade session: %w", err)
		o.fail(err)
		return "", err
	}

	record := o.buildRecord(passage, flattened, eval)

	o.mu.Lock()
	o.pending = &record
	o.state = model.StatePersisting
	o.mu.Unlock()

	if err := o.deps.Recorder.CreateSessionRecord(record); err != nil {
		err = fmt.Errorf("persist session record: %w", err)
		o.fail(err)
		return "", err
	}

	o.mu.Lock()
	o.recordID = record.ID
	o.state = model.StateComplete
	o.processing = false
	o.mu.Unlock()

	o.log.Info("session complete", "record_id", record.ID, "overall_score", eval.OverallScore)
	return record.ID, nil
}

// RetryPersist re-attempts only the persistence step after a failure that
// happened post-grading. The record, including its id, is the one built by
// End, so a store that already accepted it simply reports the conflict.
func (o *Orchestrator) RetryPersist() (string, error) {
	o.mu.Lock()
	if o.state != model.StateError || o.pending == nil {
		o.mu.Unlock()
		return "", ErrNothingToRetry
	}
	record := *o.pending
	o.state = model.StatePersisting
	o.mu.Unlock()

	if err := o.deps.Recorder.CreateSessionRecord(record); err != nil {
		err = fmt.Errorf("persist session record: %w", err)
		o.fail(err)
		return "", err
	}

	o.mu.Lock()
	o.recordID = record.ID
	o.state = model.StateComplete
	o.processing = false
	o.lastErr = nil
	o.mu.Unlock()

	o.log.Info("session record persisted on retry", "record_id", record.ID)
	return record.ID, nil
}

// Close tears the session down without grading. Safe in any state.
func (o *Orchestrator) Close() error {
	o.stop()
	o.mu.Lock()
	channel := o.channel
	o.mu.Unlock()
	if channel != nil {
		return channel.Close()
	}
	return nil
}

// buildRecord assembles the durable record for one graded session.
func (o *Orchestrator) buildRecord(passage model.Passage, flattened string, eval model.Evaluation) model.SessionRecord {
	questions := make([]string, len(passage.Questions))
	answers := make([]string, len(passage.Questions))
	for i, q := range passage.Questions {
		questions[i] = q.Text
		answers[i] = q.RecommendedAnswer
	}

	return model.SessionRecord{
		ID:                 newRecordID(),
		UserID:             o.cfg.UserID,
		PassageID:          passage.ID,
		FullTranscript:     flattened,
		Duration:           o.finalDuration,
		Evaluation:         eval,
		QuestionsAsked:     strings.Join(questions, model.AnswerDelimiter),
		RecommendedAnswers: strings.Join(answers, model.AnswerDelimiter),
		CreatedAt:          time.Now().UTC(),
	}
}

// newRecordID generates a globally unique session record id: creation time
// in unix milliseconds plus a random suffix.
func newRecordID() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("session_%d_%s", time.Now().UnixMilli(), suffix)
}

// fail moves the orchestrator to the error state. The transcript, and the
// graded record if grading already succeeded, are retained for inspection
// and persistence retry.
func (o *Orchestrator) fail(err error) {
	o.stop()
	o.mu.Lock()
	channel := o.channel
	o.state = model.StateError
	o.lastErr = err
	o.processing = false
	o.mu.Unlock()

	if channel != nil {
		if cerr := channel.Close(); cerr != nil {
			o.log.Warn("close realtime channel", "error", cerr)
		}
	}
	o.log.Error("session failed", "error", err)
}

func (o *Orchestrator) stop() {
	o.stopOnce.Do(func() { close(o.done) })
}

func (o *Orchestrator) setState(s model.State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// Status is a point-in-time view of the session for callers.
type Status struct {
	State    model.State  `json:"state"`
	Elapsed  int          `json:"elapsed"`
	Turns    []model.Turn `json:"turns"`
	RecordID string       `json:"recordId,omitempty"`
	Error    string       `json:"error,omitempty"`
}

// Status reports the current state, elapsed connected seconds and a snapshot
// of the transcript.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	st := Status{
		State:    o.state,
		Elapsed:  o.elapsed,
		Turns:    o.turns.Snapshot(),
		RecordID: o.recordID,
	}
	if o.lastErr != nil {
		st.Error = o.lastErr.Error()
	}
	return st
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() model.State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Elapsed returns the connected duration in whole seconds. The value freezes
// when the session leaves the conversation.
func (o *Orchestrator) Elapsed() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.elapsed
}

// Err returns the error that moved the session to the error state, if any.
func (o *Orchestrator) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastErr
}

// Transcript returns a snapshot of the accepted turns.
func (o *Orchestrator) Transcript() []model.Turn {
	return o.turns.Snapshot()
}
