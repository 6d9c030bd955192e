package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/yungbote/bilirag-backend/internal/platform/logger"
	"github.com/yungbote/bilirag-backend/internal/platform/qdrant"
	"github.com/yungbote/bilirag-backend/internal/utils"
)

const (
	defaultChunkSize    = 1000
	defaultChunkOverlap = 200
	embedBatchSize      = 64
)

// IndexerService writes a video's chunked embeddings into the folder's
// vector namespace. Writes are idempotent: existing chunks for the video
// are dropped before the new ones go in, so a re-run never duplicates.
type IndexerService interface {
	// IndexVideo chunks, embeds and upserts the content. Returns the number
	// of chunks written.
	IndexVideo(ctx context.Context, mediaID int64, content VideoContent) (int, error)
	// RemoveVideo deletes every chunk belonging to bvid from the folder
	// namespace.
	RemoveVideo(ctx context.Context, mediaID int64, bvid string) error
	// FolderChunkCount reports how many chunks the folder namespace holds.
	FolderChunkCount(ctx context.Context, mediaID int64) (int64, error)
	// ClearFolder wipes the folder namespace entirely.
	ClearFolder(ctx context.Context, mediaID int64) error
}

type indexerService struct {
	log          *logger.Logger
	ai           AIClient
	store        qdrant.VectorStore
	chunkSize    int
	chunkOverlap int
}

func NewIndexerService(log *logger.Logger, ai AIClient, store qdrant.VectorStore) (IndexerService, error) {
	chunkSize := utils.GetEnvAsInt("CHUNK_SIZE", defaultChunkSize, log)
	chunkOverlap := utils.GetEnvAsInt("CHUNK_OVERLAP", defaultChunkOverlap, log)
	if chunkOverlap >= chunkSize {
		return nil, fmt.Errorf("chunk overlap %d must be smaller than chunk size %d", chunkOverlap, chunkSize)
	}
	return &indexerService{
		log:          log.With("service", "IndexerService"),
		ai:           ai,
		store:        store,
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
	}, nil
}

func folderNamespace(mediaID int64) string {
	return fmt.Sprintf("folder-%d", mediaID)
}

func (s *indexerService) IndexVideo(ctx context.Context, mediaID int64, content VideoContent) (int, error) {
	ns := folderNamespace(mediaID)
	chunks := chunkText(content.Content, s.chunkSize, s.chunkOverlap)
	if len(chunks) == 0 {
		s.log.Warn("No chunks produced, skipping index", "bvid", content.Bvid)
		return 0, nil
	}

	// Drop any chunks from a previous run of this video first so a changed
	// transcript cannot leave stale tail chunks behind.
	if err := s.store.DeleteByFilter(ctx, ns, map[string]any{"bvid": content.Bvid}); err != nil {
		return 0, fmt.Errorf("purge existing chunks for %s: %w", content.Bvid, err)
	}

	vectors := make([]qdrant.Vector, 0, len(chunks))
	for start := 0; start < len(chunks); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]
		embeddings, err := s.ai.Embed(ctx, batch)
		if err != nil {
			return 0, fmt.Errorf("embed chunks [%d:%d] for %s: %w", start, end, content.Bvid, err)
		}
		if len(embeddings) != len(batch) {
			return 0, fmt.Errorf("embedding count mismatch for %s: want=%d got=%d", content.Bvid, len(batch), len(embeddings))
		}
		for i, emb := range embeddings {
			idx := start + i
			vectors = append(vectors, qdrant.Vector{
				ID:     fmt.Sprintf("%s:%d", content.Bvid, idx),
				Values: emb,
				Metadata: map[string]any{
					"bvid":        content.Bvid,
					"title":       content.Title,
					"chunk_index": idx,
					"source":      string(content.Source),
					"degraded":    content.Degraded,
					"text":        batch[i],
				},
			})
		}
	}

	if err := s.store.Upsert(ctx, ns, vectors); err != nil {
		return 0, fmt.Errorf("upsert %d chunks for %s: %w", len(vectors), content.Bvid, err)
	}
	s.log.Info("Video indexed", "bvid", content.Bvid, "namespace", ns, "chunks", len(vectors), "source", content.Source)
	return len(vectors), nil
}

func (s *indexerService) RemoveVideo(ctx context.Context, mediaID int64, bvid string) error {
	ns := folderNamespace(mediaID)
	if err := s.store.DeleteByFilter(ctx, ns, map[string]any{"bvid": bvid}); err != nil {
		return fmt.Errorf("remove chunks for %s: %w", bvid, err)
	}
	s.log.Info("Video chunks removed", "bvid", bvid, "namespace", ns)
	return nil
}

func (s *indexerService) FolderChunkCount(ctx context.Context, mediaID int64) (int64, error) {
	return s.store.Count(ctx, folderNamespace(mediaID), nil)
}

func (s *indexerService) ClearFolder(ctx context.Context, mediaID int64) error {
	return s.store.ClearNamespace(ctx, folderNamespace(mediaID))
}

// chunkText splits text into overlapping chunks, sized in runes so multibyte
// characters never get cut mid-sequence.
func chunkText(text string, size, overlap int) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	runes := []rune(trimmed)
	if len(runes) <= size {
		return []string{trimmed}
	}

	step := size - overlap
	var chunks []string
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunk := strings.TrimSpace(string(runes[start:end]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end == len(runes) {
			break
		}
	}
	return chunks
}
