package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/simonlevelai/askeve-core/internal/model"
	"github.com/simonlevelai/askeve-core/internal/protocol"
)

// ContentSearcher looks up vetted health content for a query. A result with
// Found but no SourceURL must be treated as not usable.
type ContentSearcher interface {
	Search(ctx context.Context, query string) (*model.ContentResult, error)
}

// ContentAgent wraps a ContentSearcher as a registered responder.
type ContentAgent struct {
	id       string
	searcher ContentSearcher
}

// NewContentAgent creates the content responder.
func NewContentAgent(id string, searcher ContentSearcher) *ContentAgent {
	return &ContentAgent{id: id, searcher: searcher}
}

func (a *ContentAgent) ID() string            { return a.id }
func (a *ContentAgent) Role() model.AgentRole { return model.RoleContent }

// Handle answers content handoffs.
func (a *ContentAgent) Handle(ctx context.Context, msg *model.AgentMessage) (*model.AgentResult, error) {
	switch p := msg.Payload.(type) {
	case protocol.ContentHandoffPayload:
		result, err := a.searcher.Search(ctx, p.Query)
		if err != nil {
			return nil, err
		}
		res := &model.AgentResult{Content: result}
		if result.Usable() {
			res.Text = result.Content
		}
		return res, nil
	case protocol.CrisisAlertPayload:
		return &model.AgentResult{Text: "crisis alert acknowledged"}, nil
	case protocol.StatusUpdatePayload, protocol.DirectMessagePayload:
		return &model.AgentResult{Text: "ok"}, nil
	default:
		return nil, fmt.Errorf("unsupported payload for content agent: %T", msg.Payload)
	}
}

// LibraryEntry is one vetted content item.
type LibraryEntry struct {
	Keywords  []string
	Content   string
	Source    string
	SourceURL string
	Category  string
}

// LibrarySearcher is a keyword-matched content library used as the default
// content collaborator.
type LibrarySearcher struct {
	entries []LibraryEntry
}

// NewLibrarySearcher creates a searcher over the given entries.
func NewLibrarySearcher(entries []LibraryEntry) *LibrarySearcher {
	return &LibrarySearcher{entries: entries}
}

// Search implements ContentSearcher.
func (s *LibrarySearcher) Search(ctx context.Context, query string) (*model.ContentResult, error) {
	lowered := strings.ToLower(query)

	var best *LibraryEntry
	bestScore := 0
	for i := range s.entries {
		score := 0
		for _, kw := range s.entries[i].Keywords {
			if strings.Contains(lowered, kw) {
				score++
			}
		}
		if score > bestScore {
			bestScore = score
			best = &s.entries[i]
		}
	}

	if best == nil {
		return &model.ContentResult{Found: false}, nil
	}

	return &model.ContentResult{
		Found:           true,
		Content:         best.Content,
		Source:          best.Source,
		SourceURL:       best.SourceURL,
		RelevanceScore:  float64(bestScore) / float64(len(best.Keywords)),
		MedicalCategory: best.Category,
	}, nil
}
