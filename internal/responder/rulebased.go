package responder

import (
	"context"
	"strings"

	"github.com/akrin/handoff-backend/internal/types"
	"github.com/rs/zerolog"
)

// intent is a coarse classification of a customer message
type intent string

const (
	intentGreeting      intent = "greeting"
	intentPasswordReset intent = "password_reset"
	intentTechSupport   intent = "tech_support"
	intentBilling       intent = "billing_inquiry"
	intentServiceStatus intent = "service_status"
	intentFarewell      intent = "farewell"
	intentHumanHandoff  intent = "human_handoff"
	intentUnknown       intent = "unknown"
)

// unknownStreakLimit is how many consecutive unresolved customer turns the
// responder tolerates before it gives up and asks for a human.
const unknownStreakLimit = 3

var intentKeywords = []struct {
	intent   intent
	keywords []string
}{
	{intentHumanHandoff, []string{"human", "agent", "speak to someone", "real person", "representative"}},
	{intentPasswordReset, []string{"password", "reset", "locked out", "can't log in", "cannot log in"}},
	{intentBilling, []string{"bill", "invoice", "charge", "pricing", "payment", "refund"}},
	{intentServiceStatus, []string{"status", "outage", "down", "is the service"}},
	{intentTechSupport, []string{"error", "broken", "not working", "crash", "slow", "bug", "issue", "problem"}},
	{intentGreeting, []string{"hello", "hi ", "hey", "good morning", "good afternoon"}},
	{intentFarewell, []string{"bye", "goodbye", "thanks, that's all", "thank you, that"}},
}

var cannedResponses = map[intent]string{
	intentGreeting:      "Hello! I'm the support assistant. I can help with passwords, billing, service status and technical issues. What can I do for you?",
	intentPasswordReset: "I can help with that. You can reset your password from the sign-in page via \"Forgot password\", or I can send a reset link to the email on file. Which would you prefer?",
	intentBilling:       "For billing questions I can show your latest invoice or explain a charge. Could you tell me the invoice number or the charge you're asking about?",
	intentServiceStatus: "All services are currently operational. If you're seeing a problem anyway, tell me what's failing and I'll look into it.",
	intentTechSupport:   "Sorry you're running into trouble. Could you describe what you were doing when the problem appeared, and any error message you saw?",
	intentFarewell:      "Glad I could help. If anything else comes up, just start a new chat. Have a great day!",
	intentUnknown:       "I want to make sure I understand. Could you rephrase that, or tell me whether this is about your account, billing, or a technical problem?",
}

// RuleBased is a keyword-intent responder. It answers what it can from a
// canned response table, escalates immediately on an explicit request for
// a human, and gives up after too many turns it could not classify.
type RuleBased struct {
	logger zerolog.Logger
}

// NewRuleBased creates a rule-based responder
func NewRuleBased(logger zerolog.Logger) *RuleBased {
	return &RuleBased{logger: logger}
}

// Respond classifies the last customer turn and produces a reply or a
// cannot-resolve signal
func (r *RuleBased) Respond(ctx context.Context, history []types.Message) (Reply, error) {
	if err := ctx.Err(); err != nil {
		return Reply{}, err
	}

	last := lastCustomerMessage(history)
	if last == "" {
		return Reply{Text: cannedResponses[intentUnknown]}, nil
	}

	in := classify(last)
	r.logger.Debug().Str("intent", string(in)).Msg("classified customer message")

	if in == intentHumanHandoff {
		return Reply{CannotResolve: true, Reason: "customer request"}, nil
	}

	if in == intentUnknown && unknownStreak(history) >= unknownStreakLimit {
		return Reply{CannotResolve: true, Reason: "repeated unresolved questions"}, nil
	}

	return Reply{Text: cannedResponses[in]}, nil
}

func classify(text string) intent {
	lowered := strings.ToLower(text)
	for _, entry := range intentKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(lowered, kw) {
				return entry.intent
			}
		}
	}
	return intentUnknown
}

// unknownStreak counts trailing customer turns that classify as unknown
func unknownStreak(history []types.Message) int {
	streak := 0
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Sender != types.SenderCustomer {
			continue
		}
		if classify(history[i].Body) != intentUnknown {
			break
		}
		streak++
	}
	return streak
}

func lastCustomerMessage(history []types.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Sender == types.SenderCustomer {
			return history[i].Body
		}
	}
	return ""
}
