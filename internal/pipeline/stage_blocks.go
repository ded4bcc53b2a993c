package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/vet-analytics/internal/fingerprint"
	"github.com/sells-group/vet-analytics/internal/locale"
	"github.com/sells-group/vet-analytics/internal/model"
	"github.com/sells-group/vet-analytics/internal/store"
	"github.com/sells-group/vet-analytics/internal/textnorm"
)

// blockBatch is how many blocks are buffered before an upsert.
const blockBatch = 500

// blocksStage chunks every selected document into evidence blocks.
type blocksStage struct{}

func (blocksStage) Index() int            { return 3 }
func (blocksStage) Name() string          { return "evidence-blocks" }
func (blocksStage) Collections() []string { return []string{model.CollBlocks} }

// BlockID is the content-addressed id of one chunk of a source document.
func BlockID(collection, docID string, index int, chunk string) string {
	return fingerprint.Join(collection, docID, strconv.Itoa(index), fingerprint.Text(chunk))
}

func (s blocksStage) Run(ctx context.Context, env *Env, st *State) (*StageResult, error) {
	log := zap.L().With(zap.String("component", "pipeline."+s.Name()))
	if err := ensureSelection(ctx, env, st); err != nil {
		return nil, err
	}

	now := env.createdAt()
	locales := newCountBy()
	var batch []model.EvidenceBlock
	var total, totalLen, docs, filtered int
	flush := func() error {
		if _, err := upsertAll(ctx, env, model.CollBlocks, "block_id", batch); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}

	for _, sel := range st.Selected {
		field := contentField(sel)
		err := env.Read.Each(ctx, sel.Collection, nil, sourceFindOptions(env, field), func(doc store.Doc) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			text, ok := docText(doc, field)
			if !ok {
				log.Debug("pipeline: document without text skipped",
					zap.String("collection", sel.Collection),
					zap.String("doc_id", store.IDString(doc["_id"])),
				)
				return nil
			}
			loc := env.Locales.Resolve(doc, text)
			if !locale.MatchesAny(loc, env.Opts.IncludeLocales) {
				filtered++
				return nil
			}
			docs++

			docID := store.IDString(doc["_id"])
			title := docTitle(doc)
			i := 0
			for chunk := range textnorm.Chunks(text, env.Opts.ChunkSize, env.Opts.Overlap) {
				n := utf8.RuneCountInString(chunk)
				batch = append(batch, model.EvidenceBlock{
					BlockID:          BlockID(sel.Collection, docID, i, chunk),
					RunID:            env.Opts.RunID,
					SourceCollection: sel.Collection,
					SourceDocID:      docID,
					Title:            title,
					SourceLocale:     loc,
					Text:             chunk,
					TextHash:         fingerprint.Text(chunk),
					CharLen:          n,
					BlockIndex:       i,
					CreatedAt:        now,
				})
				locales.add(loc, 1)
				total++
				totalLen += n
				i++
			}
			if len(batch) >= blockBatch {
				return flush()
			}
			return nil
		})
		if err != nil {
			return nil, eris.Wrapf(err, "pipeline: evidence-blocks: scan %s", sel.Collection)
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}

	if err := env.Artifacts.WriteJSON("evidence_blocks", map[string]any{
		"count":               total,
		"locale_distribution": locales.counts,
	}); err != nil {
		return nil, err
	}
	if err := env.Artifacts.WriteMarkdown("evidence_blocks", blocksMarkdown(total, totalLen, locales)); err != nil {
		return nil, err
	}

	return &StageResult{Metadata: map[string]any{
		"documents":           docs,
		"filtered_by_locale":  filtered,
		"blocks":              total,
		"locale_distribution": locales.counts,
	}}, nil
}

func blocksMarkdown(total, totalLen int, locales *countBy) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Evidence Blocks\n\nblocks: %d\n\nLocales:\n", total)
	for _, k := range locales.order {
		fmt.Fprintf(&b, "- %s: %d\n", k, locales.counts[k])
	}
	if total > 0 {
		fmt.Fprintf(&b, "\nAverage length: %.1f\n", float64(totalLen)/float64(total))
	}
	return b.String()
}
