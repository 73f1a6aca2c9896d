// Package agent runs one onboarding turn: classify, decide, act, remember.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/antoniostano/onboarding/internal/decision"
	"github.com/antoniostano/onboarding/internal/enrich"
	"github.com/antoniostano/onboarding/internal/intent"
	"github.com/antoniostano/onboarding/internal/memory"
	"github.com/antoniostano/onboarding/internal/observability"
	"github.com/antoniostano/onboarding/internal/policy"
	"github.com/antoniostano/onboarding/internal/profile"
	"github.com/antoniostano/onboarding/internal/session"
	"github.com/antoniostano/onboarding/internal/tenantcsv"
)

// ErrInternal wraps faults the agent could not turn into a reply.
var ErrInternal = errors.New("internal error")

// Replies are matched verbatim by clients.
const (
	ReplyUploadPrompt  = "Please upload your tenant CSV file."
	ReplyFileReceived  = "File received. Validating..."
	ReplyNoFile        = "No file uploaded. Please provide a CSV."
	ReplyValidated     = "File validated and enriched successfully. Proceeding to import."
	ReplyMalformedFile = "The uploaded file could not be read as a CSV. Please check the file and upload it again."
	ReplyFallback      = "I'm having trouble understanding. Let's go step-by-step. What would you like to do?"
	ReplyUnsupported   = "Unable to process your request. Please contact support."

	replyMissingPrefix  = "Missing fields: "
	replyRedirectPrefix = "Redirecting to: "
)

const (
	stepValidateCSV = "validate_csv"
	anonymousUser   = "anonymous"
	logInputRunes   = 160
)

// Agent is the per-request entry point. It is safe for concurrent use;
// turns for the same user are serialized.
type Agent struct {
	sessions   *session.Store
	classifier intent.Classifier
	log        memory.Store
	directory  profile.Directory
	metrics    *observability.Metrics
	logger     zerolog.Logger
	now        func() time.Time
	decide     func(intent.Intent, session.Memory) decision.Action
}

type Option func(*Agent)

func WithLogger(l zerolog.Logger) Option {
	return func(a *Agent) { a.logger = l }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(a *Agent) { a.metrics = m }
}

// WithDirectory enables user_type lookup for users whose memory has none yet.
func WithDirectory(d profile.Directory) Option {
	return func(a *Agent) { a.directory = d }
}

// WithClock overrides the clock used for log timestamps and tag enrichment.
func WithClock(now func() time.Time) Option {
	return func(a *Agent) { a.now = now }
}

// WithDecider replaces the decision table.
func WithDecider(fn func(intent.Intent, session.Memory) decision.Action) Option {
	return func(a *Agent) { a.decide = fn }
}

func New(sessions *session.Store, classifier intent.Classifier, log memory.Store, opts ...Option) *Agent {
	a := &Agent{
		sessions:   sessions,
		classifier: classifier,
		log:        log,
		logger:     zerolog.Nop(),
		now:        func() time.Time { return time.Now().UTC() },
		decide:     decision.Decide,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run handles one user message and an optional uploaded file. Expected conditions
// always produce a reply; only unexpected faults return an error wrapping ErrInternal.
func (a *Agent) Run(ctx context.Context, userInput, userID string, file []byte) (reply string, err error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		userID = anonymousUser
	}

	unlock := a.sessions.Lock(userID)
	defer unlock()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error().Str("user_id", userID).Interface("panic", r).Msg("agent_turn_panicked")
			reply, err = "", fmt.Errorf("%w: %v", ErrInternal, r)
		}
		if a.metrics != nil {
			a.metrics.ObserveStage(observability.StageTurn, time.Since(start))
		}
	}()

	hasFile := len(file) > 0
	if hasFile {
		a.sessions.MarkUploaded(userID)
	}
	a.ensureProfile(ctx, userID)

	in := a.classify(ctx, userInput)
	action := a.decide(in, a.sessions.GetOrCreate(userID))

	a.appendLog(ctx, userID, in, action)
	if a.metrics != nil {
		a.metrics.Turns.WithLabelValues(string(in), string(action.Kind)).Inc()
	}

	reply, outcome := a.execute(userID, in, action, file)
	if a.metrics != nil {
		a.metrics.CountOutcome(outcome)
	}
	a.logger.Info().
		Str("user_id", userID).
		Str("user_input", policy.ForLog(userInput, logInputRunes)).
		Str("intent", string(in)).
		Str("action", action.String()).
		Bool("file", hasFile).
		Str("outcome", outcome).
		Msg("agent_turn_completed")
	return reply, nil
}

func (a *Agent) classify(ctx context.Context, userInput string) intent.Intent {
	if a.classifier == nil {
		return intent.Unknown
	}
	in, err := a.classifier.Classify(ctx, userInput, "")
	if err != nil || !in.Valid() {
		a.logger.Warn().Err(err).Str("intent", string(in)).Msg("intent_classification_failed")
		return intent.Unknown
	}
	return in
}

func (a *Agent) execute(userID string, in intent.Intent, action decision.Action, file []byte) (reply, outcome string) {
	switch action.Kind {
	case decision.PromptUpload:
		if len(file) > 0 {
			a.sessions.MarkUploaded(userID)
			return ReplyFileReceived, "file_received"
		}
		return ReplyUploadPrompt, "upload_prompted"

	case decision.ValidateCSV:
		if len(file) == 0 {
			a.countValidation("no_file")
			return ReplyNoFile, "no_file"
		}
		return a.validate(userID, file)

	case decision.RouteToModule:
		a.sessions.RecordStep(userID, string(in))
		return replyRedirectPrefix + decision.ResolveRoute(action.Target), "routed"

	case decision.Fallback:
		return ReplyFallback, "fallback"

	default:
		a.logger.Error().Str("user_id", userID).Str("action", action.String()).Msg("unsupported_action")
		return ReplyUnsupported, "unsupported_action"
	}
}

func (a *Agent) validate(userID string, file []byte) (reply, outcome string) {
	started := time.Now()
	res := tenantcsv.Validate(file)
	a.observe(observability.StageValidate, time.Since(started))

	switch {
	case res.Malformed():
		a.sessions.SetError(userID, nil)
		a.sessions.SetValidated(userID, false)
		a.sessions.RecordFailure(userID, stepValidateCSV)
		a.countValidation("malformed")
		a.logger.Warn().Err(res.Err).Str("user_id", userID).Msg("csv_malformed")
		return ReplyMalformedFile, "malformed"

	case !res.Valid:
		a.sessions.SetError(userID, res.Missing)
		a.sessions.SetValidated(userID, false)
		a.sessions.RecordFailure(userID, stepValidateCSV)
		a.countValidation("missing_fields")
		a.logger.Info().Str("user_id", userID).Strs("missing_fields", res.Missing).Msg("csv_missing_fields")
		return replyMissingPrefix + tenantcsv.FormatMissing(res.Missing), "missing_fields"
	}

	a.sessions.SetValidated(userID, true)
	a.sessions.RecordStep(userID, stepValidateCSV)

	started = time.Now()
	tags := enrich.Enrich(res.Dataset, a.now())
	a.observe(observability.StageEnrich, time.Since(started))
	a.sessions.AppendTags(userID, tags.Sorted())

	a.countValidation("valid")
	a.logger.Info().
		Str("user_id", userID).
		Int("rows", res.Dataset.Len()).
		Strs("tags", tags.Sorted()).
		Msg("csv_validated")
	return ReplyValidated, "validated"
}

func (a *Agent) appendLog(ctx context.Context, userID string, in intent.Intent, action decision.Action) {
	if a.log == nil {
		return
	}
	_, err := a.log.Append(ctx, memory.Entry{
		UserID:    userID,
		Timestamp: a.now(),
		Intent:    string(in),
		Action:    string(action.Kind),
		Target:    action.Target,
	})
	if err != nil {
		a.logger.Error().Err(err).Str("user_id", userID).Msg("conversation_log_append_failed")
	}
}

func (a *Agent) ensureProfile(ctx context.Context, userID string) {
	if a.directory == nil || userID == anonymousUser {
		return
	}
	if mem := a.sessions.GetOrCreate(userID); mem.UserType != "" {
		return
	}
	p, err := a.directory.Lookup(ctx, userID)
	if err != nil {
		a.countProfile("error")
		a.logger.Warn().Err(err).Str("user_id", userID).Msg("profile_lookup_failed")
		return
	}
	a.countProfile("ok")
	if p.UserType != "" {
		a.sessions.SetUserType(userID, p.UserType)
	}
}

func (a *Agent) observe(stage string, d time.Duration) {
	if a.metrics != nil {
		a.metrics.ObserveStage(stage, d)
	}
}

func (a *Agent) countValidation(outcome string) {
	if a.metrics != nil {
		a.metrics.Validations.WithLabelValues(outcome).Inc()
	}
}

func (a *Agent) countProfile(result string) {
	if a.metrics != nil {
		a.metrics.ProfileLookups.WithLabelValues(result).Inc()
	}
}
