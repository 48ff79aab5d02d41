package flow

// Fixed user-facing fallback texts. Every failure path resolves to one of
// these; the user never sees a raw error.
const (
	// CrisisMessage is returned on the crisis path. It must carry
	// emergency contact numbers.
	CrisisMessage = "I'm really concerned about what you've shared. You don't have to face this alone.\n\n" +
		"If you are in immediate danger, please call 999.\n" +
		"You can talk to the Samaritans any time, day or night, on 116 123.\n" +
		"For urgent medical advice, call NHS 111.\n\n" +
		"Would you like me to put you in touch with a specialist nurse?"

	// SafetyUnavailableMessage is returned when no safety verdict could be
	// obtained. The engine never proceeds unchecked.
	SafetyUnavailableMessage = "I'm sorry, I can't continue our conversation safely right now.\n\n" +
		"If you need urgent help, please call 999, or speak to the Samaritans on 116 123.\n" +
		"For medical advice, call NHS 111."

	// TechnicalDifficultyMessage is the conversion target for any
	// unhandled failure below the engine.
	TechnicalDifficultyMessage = "I'm sorry, I'm having technical difficulties at the moment.\n\n" +
		"If you need urgent help, please call 999, or the Samaritans on 116 123.\n" +
		"For medical advice, call NHS 111. Please try again in a few minutes."

	// NotFoundMessage is returned when the content responder finds nothing
	// usable. It must not claim any source.
	NotFoundMessage = "I'm sorry, I don't have reliable information on that. " +
		"It would be best to speak to your GP, or call NHS 111 for medical advice."

	// ChooseTopicMessage prompts the user to disambiguate between close
	// topic candidates.
	ChooseTopicMessage = "I want to make sure I understand. Which of these is closest to what you need?"

	// GoodbyeMessage closes a conversation.
	GoodbyeMessage = "Thank you for talking with me today. Take care, and remember you can come back any time."
)

// EmergencyTierText is the canned safe response served by the
// always-available provider tier.
const EmergencyTierText = "I'm sorry, I can't generate a full answer right now. " +
	"If you need urgent help, please call 999, or the Samaritans on 116 123. " +
	"For medical advice, call NHS 111."
