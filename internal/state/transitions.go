package state

import (
	"github.com/simonlevelai/askeve-core/internal/model"
)

// allowedTransitions is the directed topic transition graph. A transition is
// legal when the target appears in the source's list, when source and target
// are equal (stage-only change), or when the target is an always-allowed
// safety topic.
var allowedTransitions = map[model.Topic][]model.Topic{
	model.TopicConversationStart: {
		model.TopicHealthInformation,
		model.TopicSymptomChecker,
		model.TopicScreeningInfo,
		model.TopicSupportService,
		model.TopicMultipleTopics,
		model.TopicEndOfConversation,
	},
	model.TopicHealthInformation: {
		model.TopicSymptomChecker,
		model.TopicScreeningInfo,
		model.TopicSupportService,
		model.TopicMultipleTopics,
		model.TopicEndOfConversation,
	},
	model.TopicSymptomChecker: {
		model.TopicHealthInformation,
		model.TopicScreeningInfo,
		model.TopicSupportService,
		model.TopicEndOfConversation,
	},
	model.TopicScreeningInfo: {
		model.TopicHealthInformation,
		model.TopicSymptomChecker,
		model.TopicSupportService,
		model.TopicEndOfConversation,
	},
	model.TopicSupportService: {
		model.TopicHealthInformation,
		model.TopicEndOfConversation,
	},
	model.TopicMultipleTopics: {
		model.TopicHealthInformation,
		model.TopicSymptomChecker,
		model.TopicScreeningInfo,
		model.TopicSupportService,
		model.TopicEndOfConversation,
	},
	model.TopicCrisisSupport: {
		model.TopicSupportService,
		model.TopicEndOfConversation,
	},
	model.TopicOnError: {
		model.TopicHealthInformation,
		model.TopicSymptomChecker,
		model.TopicScreeningInfo,
		model.TopicSupportService,
		model.TopicEndOfConversation,
	},
	model.TopicEndOfConversation: {},
}

// alwaysAllowed are reachable from any topic. Crisis handling and error
// recovery must never be blocked by the graph.
var alwaysAllowed = map[model.Topic]bool{
	model.TopicCrisisSupport:  true,
	model.TopicOnError:        true,
	model.TopicMultipleTopics: true,
}

// TransitionAllowed reports whether from → to is in the allow-list.
func TransitionAllowed(from, to model.Topic) bool {
	if from == to {
		return true
	}
	if alwaysAllowed[to] {
		return true
	}
	for _, t := range allowedTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}
