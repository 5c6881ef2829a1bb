package internal_dialog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internal_callcontext "github.com/rapidaai/sav-voicebot/internal/callcontext"
	internal_config "github.com/rapidaai/sav-voicebot/internal/config"
	internal_intent "github.com/rapidaai/sav-voicebot/internal/intent"
	internal_transformer_deepgram "github.com/rapidaai/sav-voicebot/internal/transformer/deepgram"
	internal_transformer_groq "github.com/rapidaai/sav-voicebot/internal/transformer/groq"
	"github.com/rapidaai/sav-voicebot/pkg/commons"
)

// --- Fakes ---

type fakeCall struct {
	statics   []string
	dynamics  []string
	hybrids   [][2]string
	modes     []internal_transformer_deepgram.Mode
	endReason string
	sayErr    error
}

func (f *fakeCall) SayStatic(_ context.Context, key string) error {
	f.statics = append(f.statics, key)
	return f.sayErr
}
func (f *fakeCall) SayDynamic(_ context.Context, text string) error {
	f.dynamics = append(f.dynamics, text)
	return f.sayErr
}
func (f *fakeCall) SayHybrid(_ context.Context, key, text string) error {
	f.hybrids = append(f.hybrids, [2]string{key, text})
	return f.sayErr
}
func (f *fakeCall) SetListenMode(_ context.Context, mode internal_transformer_deepgram.Mode) error {
	f.modes = append(f.modes, mode)
	return nil
}
func (f *fakeCall) End(reason string) { f.endReason = reason }

type fakeLLM struct {
	completion     string
	sentiment      string
	classification string
	completeErr    error
	completeCalls  int
	lastSystem     string

	classifyIntent internal_intent.Intent
	classifyErr    error
	classifyCalls  int
	lastTemplate   string
}

func (f *fakeLLM) Complete(_ context.Context, system string, _ []internal_transformer_groq.Message, _ string) (string, error) {
	f.completeCalls++
	f.lastSystem = system
	if f.completeErr != nil {
		return "", f.completeErr
	}
	switch system {
	case sentimentPrompt:
		if f.sentiment != "" {
			return f.sentiment, nil
		}
	case classifyPrompt:
		if f.classification != "" {
			return f.classification, nil
		}
	}
	if f.completion == "" {
		return "réponse générée", nil
	}
	return f.completion, nil
}

func (f *fakeLLM) Classify(_ context.Context, template, _ string) (internal_intent.Intent, error) {
	f.classifyCalls++
	f.lastTemplate = template
	if f.classifyErr != nil {
		return internal_intent.Unclear(), f.classifyErr
	}
	return f.classifyIntent, nil
}

type fakeClients struct {
	profile *internal_callcontext.ClientProfile
}

func (f *fakeClients) LookupCaller(context.Context, string) (*internal_callcontext.ClientProfile, error) {
	return f.profile, nil
}

type fakeTickets struct {
	history       []internal_callcontext.Ticket
	pending       []internal_callcontext.Ticket
	techAvailable bool
}

func (f *fakeTickets) History(context.Context, string) ([]internal_callcontext.Ticket, error) {
	return f.history, nil
}
func (f *fakeTickets) Pending(context.Context, string) ([]internal_callcontext.Ticket, error) {
	return f.pending, nil
}
func (f *fakeTickets) Create(context.Context, *internal_callcontext.Ticket) error { return nil }
func (f *fakeTickets) TechnicianAvailable(context.Context, time.Duration, int) bool {
	return f.techAvailable
}
func (f *fakeTickets) TodayStats(context.Context) (internal_callcontext.TodayStats, error) {
	return internal_callcontext.TodayStats{}, nil
}

// --- Harness ---

// mondayMorning falls inside the default opening hours.
var mondayMorning = time.Date(2025, 3, 17, 10, 0, 0, 0, time.UTC)

// sundayAfternoon falls outside them.
var sundayAfternoon = time.Date(2025, 3, 16, 15, 0, 0, 0, time.UTC)

func testDialogConfig() *internal_config.Config {
	return &internal_config.Config{
		SentimentAngerThreshold:      3,
		ClarificationAttemptsMax:     2,
		ConfirmationAttemptsMax:      3,
		TechnicianMaxActiveTransfers: 5,
		TechnicianLoadWindowMin:      10,
	}
}

type harness struct {
	m       *Machine
	call    *fakeCall
	llm     *fakeLLM
	clients *fakeClients
	tickets *fakeTickets
}

func newHarness(t *testing.T, at time.Time) *harness {
	t.Helper()
	h := &harness{
		call:    &fakeCall{},
		llm:     &fakeLLM{},
		clients: &fakeClients{},
		tickets: &fakeTickets{techAvailable: true},
	}
	h.m = NewMachine(commons.NewNopLogger(), testDialogConfig(), defaultPrompts,
		h.call, h.llm, h.clients, h.tickets,
		WithClock(func() time.Time { return at }),
		WithSleep(func(context.Context, time.Duration) {}),
		WithPicker(func(int) int { return 0 }),
	)
	return h
}

// at places the machine mid-call in the given state.
func (h *harness) at(state State) *harness {
	h.m.conv.CallID = "call-1"
	h.m.conv.CallerNumber = "+33612345678"
	h.m.conv.StartedAt = mondayMorning
	h.m.setState(state)
	return h
}

// --- Call start ---

func TestBeginOutsideBusinessHours(t *testing.T) {
	h := newHarness(t, sundayAfternoon)
	h.m.Begin(context.Background(), "call-1", "+33612345678")

	assert.Equal(t, []string{internal_config.PhraseClosedHours, internal_config.PhraseGoodbye}, h.call.statics)
	assert.Equal(t, StateGoodbye, h.m.State())
	assert.Equal(t, "closed_hours", h.call.endReason)
}

func TestBeginKnownCallerWithPending(t *testing.T) {
	h := newHarness(t, mondayMorning)
	h.clients.profile = &internal_callcontext.ClientProfile{ID: 1, FirstName: "Jean", LastName: "Dupont"}
	h.tickets.pending = []internal_callcontext.Ticket{{ID: 9, Summary: "box en panne", Status: internal_callcontext.StatusOpen}}

	h.m.Begin(context.Background(), "call-1", "+33612345678")

	require.Len(t, h.call.hybrids, 1)
	assert.Equal(t, internal_config.PhraseGreet, h.call.hybrids[0][0])
	assert.Contains(t, h.call.hybrids[0][1], "Jean")
	assert.Contains(t, h.call.hybrids[0][1], "box en panne")
	assert.Equal(t, StateTicketVerification, h.m.State())
	// yes/no answers expected now
	assert.Equal(t, []internal_transformer_deepgram.Mode{internal_transformer_deepgram.ModeYesNo}, h.call.modes)
}

func TestBeginKnownCallerNoPending(t *testing.T) {
	h := newHarness(t, mondayMorning)
	h.clients.profile = &internal_callcontext.ClientProfile{ID: 1, FirstName: "Jean"}

	h.m.Begin(context.Background(), "call-1", "+33612345678")
	assert.Equal(t, StateDiagnostic, h.m.State())
	require.Len(t, h.call.hybrids, 1)
}

func TestBeginNewCaller(t *testing.T) {
	h := newHarness(t, mondayMorning)
	h.m.Begin(context.Background(), "call-1", "unknown")

	assert.Equal(t, []string{
		internal_config.PhraseGreet,
		internal_config.PhraseWelcome,
		internal_config.PhraseAskIdentity,
	}, h.call.statics)
	assert.Equal(t, StateAwaitingIdentity, h.m.State())
}

// --- Sentiment guard ---

func TestSentimentGuardBypassesLLM(t *testing.T) {
	h := newHarness(t, mondayMorning).at(StateDiagnostic)

	h.m.HandleTranscript(context.Background(), "c'est une arnaque, j'en ai marre, c'est inadmissible")

	assert.Equal(t, StateTransfer, h.m.State())
	assert.Equal(t, "angry_caller", h.call.endReason)
	assert.Contains(t, h.call.statics, internal_config.PhraseEmpathyTransfer)
	assert.Zero(t, h.llm.completeCalls)
	assert.Zero(t, h.llm.classifyCalls)
	assert.Equal(t, internal_callcontext.StatusTransferred, h.m.conv.Outcome)
}

func TestSentimentAccumulatesAcrossTurns(t *testing.T) {
	h := newHarness(t, mondayMorning).at(StateDiagnostic)

	h.m.HandleTranscript(context.Background(), "c'est nul, ma box est morte")
	assert.Equal(t, 1, h.m.conv.AngerScore)
	assert.NotEqual(t, StateTransfer, h.m.State())

	h.m.HandleTranscript(context.Background(), "vraiment la honte, je suis furieux")
	assert.Equal(t, 3, h.m.conv.AngerScore)
	assert.Equal(t, StateTransfer, h.m.State())
}

// --- Ticket verification ---

func TestTicketVerificationYesKeyword(t *testing.T) {
	h := newHarness(t, mondayMorning).at(StateTicketVerification)

	h.m.HandleTranscript(context.Background(), "oui c'est ça")

	assert.Equal(t, StateTransfer, h.m.State())
	assert.Equal(t, "ticket_transfer", h.call.endReason)
	assert.Contains(t, h.call.statics, internal_config.PhraseTicketTransferOK)
	assert.Zero(t, h.llm.classifyCalls, "keyword shortcut must not call the LLM")
}

func TestTicketVerificationNo(t *testing.T) {
	h := newHarness(t, mondayMorning).at(StateTicketVerification)

	h.m.HandleTranscript(context.Background(), "non pas du tout")

	assert.Equal(t, StateDiagnostic, h.m.State())
	assert.Contains(t, h.call.statics, internal_config.PhraseTicketNotRelated)
	// back to open listening
	assert.Equal(t, []internal_transformer_deepgram.Mode{internal_transformer_deepgram.ModeOpen}, h.call.modes)
}

func TestTicketVerificationUnclearThenCap(t *testing.T) {
	h := newHarness(t, mondayMorning).at(StateTicketVerification)
	h.llm.classifyIntent = internal_intent.Unclear()

	h.m.HandleTranscript(context.Background(), "euh je sais pas trop")
	assert.Equal(t, StateTicketVerification, h.m.State())
	h.m.HandleTranscript(context.Background(), "comment dire")
	assert.Equal(t, StateTicketVerification, h.m.State())

	// third unclear answer exceeds the cap of two clarifications
	h.m.HandleTranscript(context.Background(), "hmm")
	assert.Equal(t, StateTransfer, h.m.State())
	assert.Equal(t, "clarification_exhausted", h.call.endReason)
}

// --- Identity and email ---

func TestIdentityFlow(t *testing.T) {
	h := newHarness(t, mondayMorning).at(StateAwaitingIdentity)
	h.llm.classifyIntent = internal_intent.FromJSON(
		`{"intent": "identity_provided", "confidence": 0.9,
		  "extracted_value": {"name": "marie curie", "company": "acme"}}`)

	h.m.HandleTranscript(context.Background(), "je suis marie curie de la société acme")
	assert.Equal(t, StateIdentification, h.m.State())
	assert.Equal(t, "marie curie", h.m.conv.ClientName)
	assert.Equal(t, "acme", h.m.conv.ClientCompany)
	assert.Contains(t, h.call.statics, internal_config.PhraseAskEmail)

	h.m.HandleTranscript(context.Background(), "marie point curie arobase acme point fr")
	assert.Equal(t, StateDiagnostic, h.m.State())
	assert.Equal(t, "marie.curie@acme.fr", h.m.conv.ClientEmail)
	assert.Equal(t, 1, h.llm.completeCalls, "bridge reply is LLM generated")
}

func TestEmailInvalidRetry(t *testing.T) {
	h := newHarness(t, mondayMorning).at(StateIdentification)
	h.llm.classifyIntent = internal_intent.FromJSON(
		`{"intent": "email_provided", "confidence": 0.3, "requires_clarification": true}`)

	h.m.HandleTranscript(context.Background(), "c'est mon adresse habituelle")
	assert.Equal(t, StateIdentification, h.m.State())
	assert.Contains(t, h.call.statics, "email_invalid")
}

// --- Diagnostic and solution ---

func TestDiagnosticInternetAsksSafetyQuestion(t *testing.T) {
	h := newHarness(t, mondayMorning).at(StateDiagnostic)

	h.m.HandleTranscript(context.Background(), "ma box internet ne fonctionne plus depuis ce matin")

	assert.Equal(t, StateSolution, h.m.State())
	assert.Equal(t, ProblemInternet, h.m.conv.ProblemType)
	require.NotEmpty(t, h.call.dynamics)
	assert.Equal(t, textSafetyQuestion, h.call.dynamics[0])
	assert.Contains(t, h.call.modes, internal_transformer_deepgram.ModeYesNo)
	assert.Zero(t, h.llm.classifyCalls, "problem detection is keyword based")
}

func TestDiagnosticMobileGoesStraightToVerification(t *testing.T) {
	h := newHarness(t, mondayMorning).at(StateDiagnostic)

	h.m.HandleTranscript(context.Background(), "mon portable ne passe plus d'appels")

	assert.Equal(t, StateVerification, h.m.State())
	assert.Equal(t, ProblemMobile, h.m.conv.ProblemType)
	assert.Equal(t, []string{textMobileSteps, textDidItWork}, h.call.dynamics)
}

func TestSolutionSafetyConfirmed(t *testing.T) {
	h := newHarness(t, mondayMorning).at(StateSolution)
	h.m.conv.ProblemType = ProblemInternet

	h.m.HandleTranscript(context.Background(), "oui je suis sur mon portable")

	assert.Equal(t, StateVerification, h.m.State())
	assert.True(t, h.m.conv.SafetyConfirmed)
	assert.Equal(t, []string{textInternetSteps, textDidItWork}, h.call.dynamics)
}

func TestSolutionSafetyDeclined(t *testing.T) {
	h := newHarness(t, mondayMorning).at(StateSolution)

	h.m.HandleTranscript(context.Background(), "non je vous appelle avec la ligne de la box")

	assert.Equal(t, StateVerification, h.m.State())
	assert.False(t, h.m.conv.SafetyConfirmed)
	assert.Equal(t, []string{textInternetStepsSameLine, textDidItWork}, h.call.dynamics)
}

// --- Verification ---

func TestVerificationResolved(t *testing.T) {
	h := newHarness(t, mondayMorning).at(StateVerification)
	h.m.conv.ClientName = "Marie"

	h.m.HandleTranscript(context.Background(), "oui tout remarche")

	assert.Equal(t, StateGoodbye, h.m.State())
	assert.Equal(t, internal_callcontext.StatusResolved, h.m.conv.Outcome)
	assert.Equal(t, "resolved", h.call.endReason)
	assert.Contains(t, h.call.dynamics[0], "Marie")
	assert.Contains(t, h.call.statics, internal_config.PhraseGoodbye)
}

func TestVerificationUnresolvedTechnicianFree(t *testing.T) {
	h := newHarness(t, mondayMorning).at(StateVerification)
	h.tickets.techAvailable = true

	h.m.HandleTranscript(context.Background(), "non toujours rien")

	assert.Equal(t, StateTransfer, h.m.State())
	assert.Equal(t, internal_callcontext.StatusTransferred, h.m.conv.Outcome)
	assert.Contains(t, h.call.statics, internal_config.PhraseTransfer)
}

func TestVerificationUnresolvedTechniciansBusy(t *testing.T) {
	h := newHarness(t, mondayMorning).at(StateVerification)
	h.tickets.techAvailable = false

	h.m.HandleTranscript(context.Background(), "non ça ne marche pas")

	assert.Equal(t, StateGoodbye, h.m.State())
	assert.Equal(t, internal_callcontext.StatusOpen, h.m.conv.Outcome)
	assert.Equal(t, "callback", h.call.endReason)
	assert.Contains(t, h.call.dynamics, textCallback)
}

func TestVerificationUnclearCap(t *testing.T) {
	h := newHarness(t, mondayMorning).at(StateVerification)
	h.llm.classifyIntent = internal_intent.Unclear()

	for i := 0; i < 3; i++ {
		h.m.HandleTranscript(context.Background(), "peut-être")
		assert.Equal(t, StateVerification, h.m.State())
	}
	h.m.HandleTranscript(context.Background(), "je ne sais pas")
	assert.Equal(t, StateTransfer, h.m.State())
	assert.Equal(t, "confirmation_exhausted", h.call.endReason)
}

// --- Degradation ---

func TestRepeatedProviderFailuresForceTransfer(t *testing.T) {
	h := newHarness(t, mondayMorning).at(StateAwaitingIdentity)
	h.llm.classifyErr = errors.New("deadline exceeded")

	// each unclear turn burns one classify failure
	h.m.HandleTranscript(context.Background(), "bonjour je m'appelle jean")
	h.m.HandleTranscript(context.Background(), "jean dupont")
	assert.Equal(t, 2, h.m.conv.ProviderFailures)
	assert.Equal(t, StateAwaitingIdentity, h.m.State())

	h.m.HandleTranscript(context.Background(), "jean")
	assert.True(t, h.m.conv.ForceTransfer)
	assert.Equal(t, StateTransfer, h.m.State())
}

func TestFatalErrorRoutesToError(t *testing.T) {
	h := newHarness(t, mondayMorning).at(StateDiagnostic)
	h.m.Fail()

	h.m.HandleTranscript(context.Background(), "allô ?")

	assert.Equal(t, StateError, h.m.State())
	assert.Equal(t, "fatal_error", h.call.endReason)
	assert.Contains(t, h.call.statics, internal_config.PhraseError)
}

func TestTerminalStateIgnoresTranscripts(t *testing.T) {
	h := newHarness(t, mondayMorning).at(StateGoodbye)
	h.m.HandleTranscript(context.Background(), "attendez !")
	assert.Empty(t, h.call.statics)
	assert.Empty(t, h.call.dynamics)
}

// --- Teardown ---

func TestBuildTicketResolved(t *testing.T) {
	h := newHarness(t, mondayMorning).at(StateGoodbye)
	h.llm.completion = "Le client a redémarré sa box, problème résolu."
	h.llm.sentiment = "positive"
	h.llm.classification = `{"tag": "BOX_ETEINTE", "severity": "LOW"}`
	h.m.conv.ProblemType = ProblemInternet
	h.m.conv.ProblemDescription = "box hors service"
	h.m.conv.Outcome = internal_callcontext.StatusResolved
	h.m.conv.ClientName = "Jean Dupont"
	h.m.conv.ClientEmail = "jean@orange.fr"

	ticket := h.m.BuildTicket(context.Background())

	assert.Equal(t, "call-1", ticket.CallID)
	assert.Equal(t, internal_callcontext.StatusResolved, ticket.Status)
	assert.Equal(t, ProblemInternet, ticket.ProblemType)
	assert.Equal(t, "BOX_ETEINTE", ticket.Tag)
	assert.Equal(t, internal_callcontext.SeverityLow, ticket.Severity)
	assert.Equal(t, SentimentPositive, ticket.Sentiment)
	assert.Equal(t, "Le client a redémarré sa box, problème résolu.", ticket.Summary)
	assert.Equal(t, "Jean Dupont", ticket.ClientName)
}

func TestBuildTicketAngryCallerIsNegative(t *testing.T) {
	h := newHarness(t, mondayMorning).at(StateTransfer)
	h.llm.sentiment = "positive" // must not be consulted
	h.m.conv.AngerScore = 3
	h.m.conv.Outcome = internal_callcontext.StatusTransferred

	ticket := h.m.BuildTicket(context.Background())
	assert.Equal(t, SentimentNegative, ticket.Sentiment)
}

func TestBuildTicketSentimentStaysInEnum(t *testing.T) {
	h := newHarness(t, mondayMorning).at(StateGoodbye)
	h.m.conv.ProblemDescription = "plus de wifi"
	h.llm.sentiment = "le client semble plutôt content"

	ticket := h.m.BuildTicket(context.Background())
	assert.Equal(t, SentimentNeutral, ticket.Sentiment)
}

func TestBuildTicketClassificationFallback(t *testing.T) {
	h := newHarness(t, mondayMorning).at(StateVerification)
	h.llm.completeErr = errors.New("timeout")
	h.m.conv.ProblemDescription = "plus de wifi"

	ticket := h.m.BuildTicket(context.Background())
	assert.Equal(t, "UNKNOWN", ticket.Tag)
	assert.Equal(t, internal_callcontext.SeverityMedium, ticket.Severity)
	assert.Equal(t, SentimentNeutral, ticket.Sentiment)
}

func TestBuildTicketClampsUnknownSeverity(t *testing.T) {
	h := newHarness(t, mondayMorning).at(StateVerification)
	h.m.conv.ProblemDescription = "la fibre est coupée"
	h.llm.classification = `{"tag": "fibre_synchro", "severity": "CRITICAL"}`

	ticket := h.m.BuildTicket(context.Background())
	assert.Equal(t, "FIBRE_SYNCHRO", ticket.Tag)
	assert.Equal(t, internal_callcontext.SeverityMedium, ticket.Severity)
}

func TestBuildTicketDroppedEarlyIsFailed(t *testing.T) {
	h := newHarness(t, mondayMorning).at(StateDiagnostic)
	ticket := h.m.BuildTicket(context.Background())
	assert.Equal(t, internal_callcontext.StatusFailed, ticket.Status)
}

func TestBuildTicketDroppedDuringSolutionIsOpen(t *testing.T) {
	h := newHarness(t, mondayMorning).at(StateSolution)
	h.m.conv.ProblemDescription = "plus de wifi"
	ticket := h.m.BuildTicket(context.Background())
	assert.Equal(t, internal_callcontext.StatusOpen, ticket.Status)
	assert.Equal(t, ProblemInternet, ticket.ProblemType)
}

func TestBuildTicketSummaryFallback(t *testing.T) {
	h := newHarness(t, mondayMorning).at(StateVerification)
	h.llm.completeErr = errors.New("timeout")
	h.m.conv.ProblemDescription = "la box clignote rouge"

	ticket := h.m.BuildTicket(context.Background())
	assert.Equal(t, "la box clignote rouge", ticket.Summary)
}
