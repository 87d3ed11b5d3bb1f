package dm

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/taleforge/dungeonmaster/pkg/dm/model"
	"github.com/taleforge/dungeonmaster/pkg/llms"
	"github.com/taleforge/dungeonmaster/pkg/storage"
)

// EntityResolver looks entities up by kind and surface name, the
// narrow slice of storage.GraphStore the extractor needs.
type EntityResolver interface {
	Match(ctx context.Context, filter storage.MatchFilter) ([]storage.Entity, error)
}

// Extractor proposes entity mentions via the LLM and resolves each
// against an entity repository. Unresolved mentions are kept with
// IsNew=true; they are never auto-created (§4.10).
type Extractor struct {
	llm      Chatter
	resolver EntityResolver
}

// NewExtractor builds an Extractor over llm and resolver.
func NewExtractor(llm Chatter, resolver EntityResolver) *Extractor {
	return &Extractor{llm: llm, resolver: resolver}
}

type mentionJSON struct {
	SurfaceName string `json:"surface_name"`
	Kind        string `json:"kind"`
}

type mentionsJSON struct {
	Mentions []mentionJSON `json:"mentions"`
}

// Extract proposes mentions for one classified input and resolves each
// against the entity repository by (kind, surface_name). On LLM
// failure it returns an empty entity list so the turn still progresses
// (§4.9 step 2).
func (e *Extractor) Extract(ctx context.Context, input model.ClassifiedInput) model.ExtractedEntity {
	prompt := fmt.Sprintf(`List every game entity mentioned in this text (characters, NPCs, items, spells, skills, places).
Respond with strict JSON only: {"mentions": [{"surface_name": "...", "kind": "CHARACTER|NPC|ITEM|SPELL|SKILL|PLACE"}, ...]}.
If nothing is mentioned, return {"mentions": []}.

Text: %q`, input.Content)

	resp, err := e.llm.Chat(ctx, []llms.Message{{Role: "user", Content: prompt}}, nil, llms.PriorityLow)
	if err != nil {
		return model.ExtractedEntity{}
	}

	var parsed mentionsJSON
	if err := extractJSON(resp.Text, &parsed); err != nil {
		return model.ExtractedEntity{}
	}

	mentions := make([]model.EntityMention, 0, len(parsed.Mentions))
	for _, m := range parsed.Mentions {
		kind := model.EntityKind(strings.ToUpper(strings.TrimSpace(m.Kind)))
		mentions = append(mentions, e.resolveMention(ctx, m.SurfaceName, kind))
	}
	return model.ExtractedEntity{Mentions: mentions}
}

func (e *Extractor) resolveMention(ctx context.Context, surfaceName string, kind model.EntityKind) model.EntityMention {
	mention := model.EntityMention{SurfaceName: surfaceName, EntityKind: kind, IsNew: true}
	if e.resolver == nil {
		return mention
	}
	matched, err := e.resolver.Match(ctx, storage.MatchFilter{Kind: string(kind), Name: surfaceName, Limit: 1})
	if err != nil || len(matched) == 0 {
		return mention
	}
	mention.MatchedEntityID = matched[0].ID
	mention.IsNew = false
	return mention
}

// ExtractBatch extracts entities for N classified inputs concurrently,
// preserving order.
func (e *Extractor) ExtractBatch(ctx context.Context, inputs []model.ClassifiedInput) []model.ExtractedEntity {
	out := make([]model.ExtractedEntity, len(inputs))
	var wg sync.WaitGroup
	for i, in := range inputs {
		wg.Add(1)
		go func(i int, in model.ClassifiedInput) {
			defer wg.Done()
			out[i] = e.Extract(ctx, in)
		}(i, in)
	}
	wg.Wait()
	return out
}
