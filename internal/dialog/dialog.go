// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package internal_dialog is the conversation state machine. Transitions
// are a declarative rule table evaluated in declaration order; predicates
// are pure functions over the conversation record and the classified
// intent, and only the dialog goroutine ever mutates the record.
package internal_dialog

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	internal_callcontext "github.com/rapidaai/sav-voicebot/internal/callcontext"
	internal_config "github.com/rapidaai/sav-voicebot/internal/config"
	internal_intent "github.com/rapidaai/sav-voicebot/internal/intent"
	internal_transformer_deepgram "github.com/rapidaai/sav-voicebot/internal/transformer/deepgram"
	internal_transformer_groq "github.com/rapidaai/sav-voicebot/internal/transformer/groq"
	"github.com/rapidaai/sav-voicebot/pkg/commons"
	"github.com/rapidaai/sav-voicebot/pkg/utils"
)

// =============================================================================
// States
// =============================================================================

// State of the conversation.
type State string

const (
	StateInit               State = "INIT"
	StateWelcome            State = "WELCOME"
	StateTicketVerification State = "TICKET_VERIFICATION"
	StateIdentification     State = "IDENTIFICATION"
	StateAwaitingIdentity   State = "AWAITING_IDENTITY"
	StateDiagnostic         State = "DIAGNOSTIC"
	StateSolution           State = "SOLUTION"
	StateVerification       State = "VERIFICATION"
	StateTransfer           State = "TRANSFER"
	StateGoodbye            State = "GOODBYE"
	StateError              State = "ERROR"
)

// StateAny marks a rule that applies from every non-terminal state.
const StateAny State = "*"

// Terminal reports whether the conversation has ended.
func (s State) Terminal() bool {
	return s == StateTransfer || s == StateGoodbye || s == StateError
}

// ListenModeFor maps a state to its recognition profile: short
// endpointing where a one-word answer is expected, open everywhere else.
func ListenModeFor(s State) internal_transformer_deepgram.Mode {
	switch s {
	case StateTicketVerification, StateVerification, StateSolution:
		return internal_transformer_deepgram.ModeYesNo
	default:
		return internal_transformer_deepgram.ModeOpen
	}
}

// providerFailureLimit forces a transfer once this many STT/TTS/LLM
// failures pile up inside one call.
const providerFailureLimit = 3

// solutionPause separates the instruction from the did-it-work question.
const solutionPause = 2 * time.Second

// Spoken copy that depends on runtime values and therefore cannot live in
// the static phrase cache.
const (
	textSafetyQuestion = "Avant toute chose, une question importante : êtes-vous " +
		"actuellement sur votre téléphone mobile, et non sur une ligne qui passe par votre box ?"
	textInternetSteps = "Très bien. Débranchez électriquement votre box, patientez " +
		"dix secondes, puis rebranchez-la. La synchronisation prend environ deux minutes."
	textInternetStepsSameLine = "Dans ce cas, attention : redémarrer la box coupera " +
		"cet appel. Débranchez-la dix secondes puis rebranchez-la, et rappelez-nous si " +
		"le problème persiste. Je vous laisse le faire après cet appel."
	textMobileSteps = "Je vous propose une première solution simple : éteignez " +
		"complètement votre téléphone, attendez dix secondes, puis rallumez-le."
	textDidItWork = "Est-ce que cela a résolu votre problème ?"
	textCallback  = "Tous nos techniciens sont occupés pour le moment. Votre dossier " +
		"est enregistré et un technicien vous rappellera dans les plus brefs délais."
)

// =============================================================================
// Conversation record
// =============================================================================

// Conversation is the single mutable record of one call.
type Conversation struct {
	CallID       string
	CallerNumber string

	Profile *internal_callcontext.ClientProfile
	History []internal_callcontext.Ticket
	Pending []internal_callcontext.Ticket

	ClientName    string
	ClientCompany string
	ClientEmail   string

	ProblemType        string
	ProblemDescription string
	SafetyConfirmed    bool

	ClarificationAttempts int
	ConfirmationAttempts  int
	ProviderFailures      int
	AngerScore            int

	ForceTransfer bool
	FatalError    bool

	// Outcome becomes the ticket status; empty means the call dropped.
	Outcome   string
	StartedAt time.Time

	Messages []internal_transformer_groq.Message
}

// DisplayName prefers the CRM name over the spoken one.
func (c *Conversation) DisplayName() string {
	if c.Profile != nil {
		if name := c.Profile.FullName(); name != "" {
			return name
		}
	}
	return c.ClientName
}

// Email prefers the CRM address over the spoken one.
func (c *Conversation) Email() string {
	if c.Profile != nil && c.Profile.Email != "" {
		return c.Profile.Email
	}
	return c.ClientEmail
}

// =============================================================================
// Collaborator interfaces
// =============================================================================

// Call is the slice of the call session the dialog drives.
type Call interface {
	SayStatic(ctx context.Context, key string) error
	SayDynamic(ctx context.Context, text string) error
	SayHybrid(ctx context.Context, key, text string) error
	SetListenMode(ctx context.Context, mode internal_transformer_deepgram.Mode) error
	End(reason string)
}

// LanguageModel generates replies and classifies intents.
type LanguageModel interface {
	Complete(ctx context.Context, system string, history []internal_transformer_groq.Message, userText string) (string, error)
	Classify(ctx context.Context, template, userText string) (internal_intent.Intent, error)
}

// =============================================================================
// Transition rules
// =============================================================================

// Predicate decides whether a rule fires. Pure over the record and the
// classified intent.
type Predicate func(c *Conversation, it internal_intent.Intent, text string) bool

// Action performs the rule's side effects and returns the next state.
type Action func(ctx context.Context, m *Machine, it internal_intent.Intent, text string) State

// TransitionRule binds one source state to a guarded action. The first
// matching rule in declaration order wins.
type TransitionRule struct {
	From State
	When Predicate
	Do   Action
}

func isYes(_ *Conversation, it internal_intent.Intent, _ string) bool { return it.IsYes() }
func isNo(_ *Conversation, it internal_intent.Intent, _ string) bool  { return it.IsNo() }

func hasEmail(_ *Conversation, _ internal_intent.Intent, text string) bool {
	return utils.LooksLikeEmail(utils.NormalizeEmail(text))
}

func isIdentity(_ *Conversation, it internal_intent.Intent, _ string) bool {
	return it.Kind == internal_intent.KindIdentityProvided && it.Confidence > 0.5
}

func isInternet(_ *Conversation, it internal_intent.Intent, _ string) bool {
	return it.Kind == internal_intent.KindInternetIssue
}

func isMobile(_ *Conversation, it internal_intent.Intent, _ string) bool {
	return it.Kind == internal_intent.KindMobileIssue
}

func transitionTable() []TransitionRule {
	return []TransitionRule{
		{From: StateTicketVerification, When: isYes, Do: actTicketYes},
		{From: StateTicketVerification, When: isNo, Do: actTicketNo},
		{From: StateTicketVerification, Do: actClarifyYesNo},

		{From: StateAwaitingIdentity, When: hasEmail, Do: actEarlyEmail},
		{From: StateAwaitingIdentity, When: isIdentity, Do: actIdentity},
		{From: StateAwaitingIdentity, Do: actClarifyIdentity},

		{From: StateIdentification, When: hasEmail, Do: actEmail},
		{From: StateIdentification, Do: actEmailRetry},

		{From: StateDiagnostic, When: isInternet, Do: actInternet},
		{From: StateDiagnostic, When: isMobile, Do: actMobile},
		{From: StateDiagnostic, Do: actClarifyProblem},

		{From: StateSolution, When: isYes, Do: actSafetyYes},
		{From: StateSolution, When: isNo, Do: actSafetyNo},
		{From: StateSolution, Do: actClarifyYesNo},

		{From: StateVerification, When: isYes, Do: actResolved},
		{From: StateVerification, When: isNo, Do: actTechnician},
		{From: StateVerification, Do: actReAskVerification},
	}
}

// =============================================================================
// Machine
// =============================================================================

// Machine drives one conversation.
type Machine struct {
	logger  commons.Logger
	cfg     *internal_config.Config
	prompts Prompts
	call    Call
	llm     LanguageModel
	clients internal_callcontext.ClientStore
	tickets internal_callcontext.TicketStore

	clock func() time.Time
	sleep func(ctx context.Context, d time.Duration)
	pick  func(n int) int

	mu    sync.Mutex
	state State
	conv  Conversation
}

// Option customizes a machine, mainly for tests.
type Option func(*Machine)

// WithClock substitutes the time source.
func WithClock(clock func() time.Time) Option {
	return func(m *Machine) { m.clock = clock }
}

// WithSleep substitutes the pacing sleep.
func WithSleep(sleep func(ctx context.Context, d time.Duration)) Option {
	return func(m *Machine) { m.sleep = sleep }
}

// WithPicker substitutes the filler-phrase picker.
func WithPicker(pick func(n int) int) Option {
	return func(m *Machine) { m.pick = pick }
}

// NewMachine wires a dialog machine for one call.
func NewMachine(
	logger commons.Logger,
	cfg *internal_config.Config,
	prompts Prompts,
	call Call,
	llm LanguageModel,
	clients internal_callcontext.ClientStore,
	tickets internal_callcontext.TicketStore,
	opts ...Option,
) *Machine {
	m := &Machine{
		logger:  logger,
		cfg:     cfg,
		prompts: prompts,
		call:    call,
		llm:     llm,
		clients: clients,
		tickets: tickets,
		clock:   time.Now,
		pick:    rand.Intn,
		sleep: func(ctx context.Context, d time.Duration) {
			select {
			case <-ctx.Done():
			case <-time.After(d):
			}
		},
		state: StateInit,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current state. Safe for concurrent use by the
// timeout monitor.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Conversation exposes the record for teardown. Call only after the
// dialog goroutine has stopped.
func (m *Machine) Conversation() *Conversation { return &m.conv }

// Fail flags a fatal error; the next transcript routes to ERROR.
func (m *Machine) Fail() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conv.FatalError = true
}

func (m *Machine) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// transition moves to the next state and retunes the recognizer when the
// expected answer shape changes.
func (m *Machine) transition(ctx context.Context, to State) {
	from := m.State()
	if from == to {
		return
	}
	m.setState(to)
	m.logger.Infow("dialog transition", "call", m.conv.CallID, "from", from, "to", to)

	if to.Terminal() {
		return
	}
	if ListenModeFor(from) != ListenModeFor(to) {
		if err := m.call.SetListenMode(ctx, ListenModeFor(to)); err != nil {
			m.logger.Warnf("dialog: listen mode change failed: %v", err)
		}
	}
}

// =============================================================================
// Call start
// =============================================================================

// Begin runs the INIT sequence: business-hours gate, caller resolution
// and the welcome branch. No user input is consumed.
func (m *Machine) Begin(ctx context.Context, callID, callerNumber string) {
	m.conv.CallID = callID
	m.conv.CallerNumber = callerNumber
	m.conv.StartedAt = m.clock()

	if !m.cfg.Schedule().IsOpenAt(m.clock()) {
		m.sayStatic(ctx, internal_config.PhraseClosedHours)
		m.sayStatic(ctx, internal_config.PhraseGoodbye)
		m.setState(StateGoodbye)
		m.call.End("closed_hours")
		return
	}

	m.setState(StateWelcome)
	m.resolveCaller(ctx, callerNumber)

	switch {
	case m.conv.Profile != nil && len(m.conv.Pending) > 0:
		m.sayHybrid(ctx, internal_config.PhraseGreet, fmt.Sprintf(
			"Bonjour %s ! Je vois que vous avez un ticket en cours concernant : %s. Est-ce la raison de votre appel ?",
			m.conv.Profile.FirstName, m.conv.Pending[0].Summary))
		m.transition(ctx, StateTicketVerification)

	case m.conv.Profile != nil:
		m.sayHybrid(ctx, internal_config.PhraseGreet, fmt.Sprintf(
			"Bonjour %s, ravi de vous entendre. Comment puis-je vous aider aujourd'hui ?",
			m.conv.Profile.FirstName))
		m.transition(ctx, StateDiagnostic)

	case len(m.conv.History) > 0 && len(m.conv.Pending) > 0:
		m.sayHybrid(ctx, internal_config.PhraseGreet, fmt.Sprintf(
			"Content de vous retrouver. Je vois un ticket en cours concernant : %s. Est-ce la raison de votre appel ?",
			m.conv.Pending[0].Summary))
		m.transition(ctx, StateTicketVerification)

	case len(m.conv.History) > 0:
		m.sayHybrid(ctx, internal_config.PhraseGreet,
			"Content de vous retrouver. Quel est votre problème aujourd'hui ?")
		m.transition(ctx, StateDiagnostic)

	default:
		m.sayStatic(ctx, internal_config.PhraseGreet)
		m.sayStatic(ctx, internal_config.PhraseWelcome)
		m.sayStatic(ctx, internal_config.PhraseAskIdentity)
		m.transition(ctx, StateAwaitingIdentity)
	}
}

func (m *Machine) resolveCaller(ctx context.Context, number string) {
	if number == "" || number == "unknown" {
		return
	}
	profile, err := m.clients.LookupCaller(ctx, number)
	if err != nil {
		m.logger.Warnf("dialog: caller lookup failed: %v", err)
	}
	m.conv.Profile = profile

	history, err := m.tickets.History(ctx, number)
	if err != nil {
		m.logger.Warnf("dialog: ticket history failed: %v", err)
	}
	m.conv.History = history

	pending, err := m.tickets.Pending(ctx, number)
	if err != nil {
		m.logger.Warnf("dialog: pending tickets failed: %v", err)
	}
	m.conv.Pending = pending
}

// =============================================================================
// Turn handling
// =============================================================================

// HandleTranscript consumes one final user transcript and advances the
// machine. Runs on the dialog goroutine only.
func (m *Machine) HandleTranscript(ctx context.Context, text string) {
	text = strings.TrimSpace(strings.ReplaceAll(text, "\x00", ""))
	if text == "" || m.State().Terminal() {
		return
	}

	// Sentiment guard runs before any model call.
	m.conv.AngerScore += ScoreNegativity(text)
	if m.conv.AngerScore >= m.cfg.SentimentAngerThreshold {
		m.logger.Warnw("anger threshold crossed", "call", m.conv.CallID, "score", m.conv.AngerScore)
		m.sayStatic(ctx, internal_config.PhraseEmpathyTransfer)
		m.conv.Outcome = internal_callcontext.StatusTransferred
		m.transition(ctx, StateTransfer)
		m.call.End("angry_caller")
		return
	}

	if m.conv.FatalError {
		m.sayStatic(ctx, internal_config.PhraseError)
		m.transition(ctx, StateError)
		m.call.End("fatal_error")
		return
	}
	if m.conv.ForceTransfer {
		m.transferNow(ctx, "force_transfer")
		return
	}

	it := m.classify(ctx, text)
	state := m.State()
	for _, rule := range transitionTable() {
		if rule.From != StateAny && rule.From != state {
			continue
		}
		if rule.When != nil && !rule.When(&m.conv, it, text) {
			continue
		}
		next := rule.Do(ctx, m, it, text)
		m.transition(ctx, next)
		return
	}
	// No rule claimed the turn (WELCOME chatter before the branch, or a
	// transcript raced the transition). Answer conversationally in place.
	m.reply(ctx, text)
}

// classify produces the intent for the current state. Keyword shortcuts
// come first so obvious answers never wait on the LLM.
func (m *Machine) classify(ctx context.Context, text string) internal_intent.Intent {
	switch m.State() {
	case StateTicketVerification, StateVerification, StateSolution:
		if it, ok := keywordYesNo(text); ok {
			return it
		}
		return m.classifyLLM(ctx, internal_intent.PromptYesNo, text)

	case StateAwaitingIdentity:
		if hasEmail(&m.conv, internal_intent.Intent{}, text) {
			return internal_intent.Intent{Kind: internal_intent.KindEmailProvided, Confidence: 1}
		}
		return m.classifyLLM(ctx, internal_intent.PromptIdentity, text)

	case StateIdentification:
		if hasEmail(&m.conv, internal_intent.Intent{}, text) {
			return internal_intent.Intent{Kind: internal_intent.KindEmailProvided, Confidence: 1}
		}
		return m.classifyLLM(ctx, internal_intent.PromptEmail, text)

	case StateDiagnostic:
		switch DetectProblemType(text) {
		case ProblemInternet:
			return internal_intent.Intent{Kind: internal_intent.KindInternetIssue, Confidence: 1}
		case ProblemMobile:
			return internal_intent.Intent{Kind: internal_intent.KindMobileIssue, Confidence: 1}
		}
		return internal_intent.Unclear()

	default:
		return internal_intent.Unclear()
	}
}

func (m *Machine) classifyLLM(ctx context.Context, template, text string) internal_intent.Intent {
	it, err := m.llm.Classify(ctx, template, text)
	if err != nil {
		m.providerFailure("llm classify", err)
	}
	return it
}

var yesWords = []string{"oui", "ouais", "exactement", "tout à fait", "d'accord", "bien sûr"}
var noWords = []string{"non", "pas du tout", "jamais"}

// keywordYesNo short-circuits unambiguous confirmations.
func keywordYesNo(text string) (internal_intent.Intent, bool) {
	lower := " " + strings.ToLower(text) + " "
	matches := func(words []string) bool {
		for _, w := range words {
			if strings.Contains(lower, " "+w+" ") || strings.Contains(lower, " "+w+",") ||
				strings.Contains(lower, " "+w+".") {
				return true
			}
		}
		return false
	}
	yes, no := matches(yesWords), matches(noWords)
	switch {
	case yes && !no:
		return internal_intent.Intent{Kind: internal_intent.KindYes, Confidence: 0.95}, true
	case no && !yes:
		return internal_intent.Intent{Kind: internal_intent.KindNo, Confidence: 0.95}, true
	default:
		return internal_intent.Intent{}, false
	}
}

// =============================================================================
// Actions
// =============================================================================

func actTicketYes(ctx context.Context, m *Machine, _ internal_intent.Intent, _ string) State {
	m.sayStatic(ctx, internal_config.PhraseTicketTransferOK)
	m.conv.Outcome = internal_callcontext.StatusTransferred
	m.call.End("ticket_transfer")
	return StateTransfer
}

func actTicketNo(ctx context.Context, m *Machine, _ internal_intent.Intent, _ string) State {
	m.sayStatic(ctx, internal_config.PhraseTicketNotRelated)
	return StateDiagnostic
}

func actClarifyYesNo(ctx context.Context, m *Machine, _ internal_intent.Intent, _ string) State {
	m.conv.ClarificationAttempts++
	if m.conv.ClarificationAttempts > m.cfg.ClarificationAttemptsMax {
		return m.transferNow(ctx, "clarification_exhausted")
	}
	m.sayStatic(ctx, internal_config.PhraseClarifyYesNo)
	return m.State()
}

func actEarlyEmail(ctx context.Context, m *Machine, _ internal_intent.Intent, text string) State {
	m.conv.ClientEmail = utils.NormalizeEmail(text)
	m.sayStatic(ctx, internal_config.PhraseOK)
	return StateIdentification
}

func actIdentity(ctx context.Context, m *Machine, it internal_intent.Intent, _ string) State {
	var identity struct {
		Name    string `json:"name"`
		Company string `json:"company"`
	}
	if err := it.ExtractedInto(&identity); err == nil {
		m.conv.ClientName = utils.SanitizeString(identity.Name)
		m.conv.ClientCompany = utils.SanitizeString(identity.Company)
	}
	m.sayStatic(ctx, internal_config.PhraseAskEmail)
	return StateIdentification
}

func actClarifyIdentity(ctx context.Context, m *Machine, _ internal_intent.Intent, _ string) State {
	m.conv.ClarificationAttempts++
	if m.conv.ClarificationAttempts > m.cfg.ClarificationAttemptsMax {
		return m.transferNow(ctx, "clarification_exhausted")
	}
	m.sayStatic(ctx, internal_config.PhraseClarifyUnclear)
	return StateAwaitingIdentity
}

func actEmail(ctx context.Context, m *Machine, _ internal_intent.Intent, text string) State {
	m.conv.ClientEmail = utils.NormalizeEmail(text)
	m.reply(ctx, text)
	return StateDiagnostic
}

func actEmailRetry(ctx context.Context, m *Machine, it internal_intent.Intent, text string) State {
	if email := utils.NormalizeEmail(it.ExtractedString()); utils.LooksLikeEmail(email) {
		m.conv.ClientEmail = email
		m.reply(ctx, text)
		return StateDiagnostic
	}
	m.conv.ClarificationAttempts++
	if m.conv.ClarificationAttempts > m.cfg.ClarificationAttemptsMax {
		return m.transferNow(ctx, "clarification_exhausted")
	}
	m.sayStatic(ctx, "email_invalid")
	return StateIdentification
}

var fillerKeys = []string{
	internal_config.PhraseFillerChecking,
	internal_config.PhraseFillerProcessing,
	internal_config.PhraseWait,
}

func actInternet(ctx context.Context, m *Machine, _ internal_intent.Intent, text string) State {
	m.conv.ProblemType = ProblemInternet
	m.conv.ProblemDescription = text
	m.sayStatic(ctx, fillerKeys[m.pick(len(fillerKeys))])
	// the power-cycle suggestion is gated on this answer, always
	m.sayDynamic(ctx, textSafetyQuestion)
	return StateSolution
}

func actMobile(ctx context.Context, m *Machine, _ internal_intent.Intent, text string) State {
	m.conv.ProblemType = ProblemMobile
	m.conv.ProblemDescription = text
	m.sayStatic(ctx, fillerKeys[m.pick(len(fillerKeys))])
	m.sayDynamic(ctx, textMobileSteps)
	m.sleep(ctx, solutionPause)
	m.sayDynamic(ctx, textDidItWork)
	return StateVerification
}

func actClarifyProblem(ctx context.Context, m *Machine, _ internal_intent.Intent, _ string) State {
	m.conv.ClarificationAttempts++
	if m.conv.ClarificationAttempts > m.cfg.ClarificationAttemptsMax {
		return m.transferNow(ctx, "clarification_exhausted")
	}
	m.sayStatic(ctx, internal_config.PhraseClarifyUnclear)
	return StateDiagnostic
}

func actSafetyYes(ctx context.Context, m *Machine, _ internal_intent.Intent, _ string) State {
	m.conv.SafetyConfirmed = true
	m.sayDynamic(ctx, textInternetSteps)
	m.sleep(ctx, solutionPause)
	m.sayDynamic(ctx, textDidItWork)
	return StateVerification
}

func actSafetyNo(ctx context.Context, m *Machine, _ internal_intent.Intent, _ string) State {
	m.sayDynamic(ctx, textInternetStepsSameLine)
	m.sleep(ctx, solutionPause)
	m.sayDynamic(ctx, textDidItWork)
	return StateVerification
}

func actResolved(ctx context.Context, m *Machine, _ internal_intent.Intent, _ string) State {
	name := m.conv.DisplayName()
	if name != "" {
		m.sayDynamic(ctx, fmt.Sprintf("Parfait %s, ravi d'avoir pu vous aider !", name))
	} else {
		m.sayDynamic(ctx, "Parfait, ravi d'avoir pu vous aider !")
	}
	m.sayStatic(ctx, internal_config.PhraseGoodbye)
	m.conv.Outcome = internal_callcontext.StatusResolved
	m.call.End("resolved")
	return StateGoodbye
}

func actTechnician(ctx context.Context, m *Machine, _ internal_intent.Intent, _ string) State {
	window := time.Duration(m.cfg.TechnicianLoadWindowMin) * time.Minute
	if m.tickets.TechnicianAvailable(ctx, window, m.cfg.TechnicianMaxActiveTransfers) {
		return m.transferNow(ctx, "unresolved")
	}
	m.sayDynamic(ctx, textCallback)
	m.sayStatic(ctx, internal_config.PhraseGoodbye)
	m.conv.Outcome = internal_callcontext.StatusOpen
	m.call.End("callback")
	return StateGoodbye
}

func actReAskVerification(ctx context.Context, m *Machine, _ internal_intent.Intent, _ string) State {
	m.conv.ConfirmationAttempts++
	if m.conv.ConfirmationAttempts > m.cfg.ConfirmationAttemptsMax {
		return m.transferNow(ctx, "confirmation_exhausted")
	}
	m.sayStatic(ctx, internal_config.PhraseClarifyYesNo)
	return StateVerification
}

func (m *Machine) transferNow(ctx context.Context, reason string) State {
	m.sayStatic(ctx, internal_config.PhraseTransfer)
	m.conv.Outcome = internal_callcontext.StatusTransferred
	m.setState(StateTransfer)
	m.call.End(reason)
	return StateTransfer
}

// =============================================================================
// Speech helpers
// =============================================================================

func (m *Machine) sayStatic(ctx context.Context, key string) {
	if err := m.call.SayStatic(ctx, key); err != nil {
		m.providerFailure("say static "+key, err)
	}
}

func (m *Machine) sayDynamic(ctx context.Context, text string) {
	if err := m.call.SayDynamic(ctx, text); err != nil {
		m.providerFailure("say dynamic", err)
	}
}

func (m *Machine) sayHybrid(ctx context.Context, key, text string) {
	if err := m.call.SayHybrid(ctx, key, text); err != nil {
		m.providerFailure("say hybrid "+key, err)
	}
}

// reply generates a conversational answer and records both turns.
func (m *Machine) reply(ctx context.Context, userText string) {
	system := m.prompts.SystemFor(m.conv.DisplayName(), m.boxModel(), m.conv.Pending)
	out, err := m.llm.Complete(ctx, system, m.conv.Messages, userText)
	if err != nil {
		m.providerFailure("llm complete", err)
		out = internal_transformer_groq.FallbackReply
	}
	m.conv.Messages = append(m.conv.Messages,
		internal_transformer_groq.Message{Role: internal_transformer_groq.RoleUser, Content: userText},
		internal_transformer_groq.Message{Role: internal_transformer_groq.RoleAssistant, Content: out},
	)
	m.sayDynamic(ctx, out)
}

func (m *Machine) boxModel() string {
	if m.conv.Profile != nil {
		return m.conv.Profile.BoxModel
	}
	return ""
}

func (m *Machine) providerFailure(what string, err error) {
	m.conv.ProviderFailures++
	m.logger.Warnw("provider failure", "call", m.conv.CallID, "what", what,
		"count", m.conv.ProviderFailures, "error", err)
	if m.conv.ProviderFailures >= providerFailureLimit {
		m.conv.ForceTransfer = true
	}
}

// =============================================================================
// Teardown
// =============================================================================

// BuildTicket assembles the end-of-call ticket. Summary, sentiment and
// problem classification each come from the LLM when reachable, with a
// local fallback per field so the ticket is written either way.
func (m *Machine) BuildTicket(ctx context.Context) *internal_callcontext.Ticket {
	transcript := m.transcript()
	summary := m.summarize(ctx, transcript)

	problemType := m.conv.ProblemType
	if problemType == ProblemUnknown {
		problemType = DetectProblemType(m.userTranscript())
	}

	status := m.conv.Outcome
	if status == "" {
		// the call dropped; past DIAGNOSTIC it is a live case, before
		// that there is nothing actionable
		switch m.State() {
		case StateSolution, StateVerification:
			status = internal_callcontext.StatusOpen
		default:
			status = internal_callcontext.StatusFailed
		}
	}

	classification := m.classifyProblem(ctx)

	return &internal_callcontext.Ticket{
		CallID:          m.conv.CallID,
		CallerNumber:    m.conv.CallerNumber,
		ClientName:      m.conv.DisplayName(),
		ClientEmail:     m.conv.Email(),
		ProblemType:     problemType,
		Status:          status,
		Sentiment:       m.analyzeSentiment(ctx, transcript),
		Summary:         summary,
		DurationSeconds: int(m.clock().Sub(m.conv.StartedAt).Seconds()),
		Tag:             classification.Tag,
		Severity:        classification.Severity,
	}
}

const sentimentPrompt = "Tu es un expert en analyse de sentiment. " +
	"Analyse le sentiment du client dans cette conversation SAV.\n" +
	"Réponds UNIQUEMENT par un seul mot : positive, neutral, ou negative."

// analyzeSentiment grades the caller's mood for the ticket. An anger
// score past the threshold is already a verdict and skips the LLM;
// otherwise the model reads the transcript, strictly validated against
// the three allowed values with the keyword counter as fallback.
func (m *Machine) analyzeSentiment(ctx context.Context, transcript string) string {
	if m.conv.AngerScore >= m.cfg.SentimentAngerThreshold {
		return SentimentNegative
	}
	if transcript == "" {
		return SentimentLabel(m.conv.AngerScore)
	}
	out, err := m.llm.Complete(ctx, sentimentPrompt, nil, transcript)
	if err != nil {
		m.logger.Warnw("sentiment analysis failed", "call", m.conv.CallID, "error", err)
		return SentimentLabel(m.conv.AngerScore)
	}
	switch strings.ToLower(strings.TrimSpace(out)) {
	case SentimentPositive:
		return SentimentPositive
	case SentimentNegative:
		return SentimentNegative
	case SentimentNeutral:
		return SentimentNeutral
	default:
		m.logger.Warnw("sentiment analysis returned an unknown label",
			"call", m.conv.CallID, "label", out)
		return SentimentNeutral
	}
}

const classifyPrompt = "Tu es un expert en classification de problèmes SAV.\n" +
	"Classifie le problème avec un tag strict.\n\n" +
	"TAGS INTERNET : FIBRE_SYNCHRO, FIBRE_DEBIT, WIFI_FAIBLE, BOX_ETEINTE, CONNEXION_INSTABLE, DNS_PROBLEME\n" +
	"TAGS MOBILE : MOBILE_RESEAU, MOBILE_DATA, MOBILE_APPELS, MOBILE_SMS, CARTE_SIM\n\n" +
	"Réponds au format JSON strict : {\"tag\": \"XXX\", \"severity\": \"LOW|MEDIUM|HIGH\"}\n" +
	"Exemple: {\"tag\": \"FIBRE_SYNCHRO\", \"severity\": \"MEDIUM\"}"

type problemClassification struct {
	Tag      string `json:"tag"`
	Severity string `json:"severity"`
}

// classifyProblem asks the LLM for a strict tag and severity on the
// recorded problem statement. Every failure mode degrades to
// UNKNOWN/MEDIUM.
func (m *Machine) classifyProblem(ctx context.Context) problemClassification {
	fallback := problemClassification{Tag: "UNKNOWN", Severity: internal_callcontext.SeverityMedium}
	if m.conv.ProblemDescription == "" {
		return fallback
	}
	out, err := m.llm.Complete(ctx, classifyPrompt, nil, m.conv.ProblemDescription)
	if err != nil {
		m.logger.Warnw("problem classification failed", "call", m.conv.CallID, "error", err)
		return fallback
	}
	var c problemClassification
	if err := json.Unmarshal([]byte(out), &c); err != nil {
		m.logger.Warnw("problem classification returned invalid JSON",
			"call", m.conv.CallID, "raw", out)
		return fallback
	}
	c.Tag = strings.ToUpper(strings.TrimSpace(c.Tag))
	if c.Tag == "" {
		c.Tag = "UNKNOWN"
	}
	switch strings.ToUpper(strings.TrimSpace(c.Severity)) {
	case internal_callcontext.SeverityLow:
		c.Severity = internal_callcontext.SeverityLow
	case internal_callcontext.SeverityHigh:
		c.Severity = internal_callcontext.SeverityHigh
	default:
		c.Severity = internal_callcontext.SeverityMedium
	}
	return c
}

func (m *Machine) summarize(ctx context.Context, transcript string) string {
	if transcript == "" {
		return "Appel interrompu avant le diagnostic."
	}
	summary, err := m.llm.Complete(ctx,
		"Tu rédiges des résumés de tickets de support, en français, factuels et brefs.",
		nil, m.prompts.SummaryFor(transcript))
	if err != nil || summary == "" {
		if m.conv.ProblemDescription != "" {
			return m.conv.ProblemDescription
		}
		return "Résumé indisponible."
	}
	return summary
}

func (m *Machine) transcript() string {
	var b strings.Builder
	for _, msg := range m.conv.Messages {
		fmt.Fprintf(&b, "%s: %s\n", msg.Role, msg.Content)
	}
	if m.conv.ProblemDescription != "" {
		fmt.Fprintf(&b, "user: %s\n", m.conv.ProblemDescription)
	}
	return strings.TrimSpace(b.String())
}

func (m *Machine) userTranscript() string {
	var b strings.Builder
	for _, msg := range m.conv.Messages {
		if msg.Role == internal_transformer_groq.RoleUser {
			b.WriteString(msg.Content)
			b.WriteString(" ")
		}
	}
	b.WriteString(m.conv.ProblemDescription)
	return b.String()
}
