package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/yungbote/bilirag-backend/internal/clients/bilibili"
	"github.com/yungbote/bilirag-backend/internal/platform/logger"
	"github.com/yungbote/bilirag-backend/internal/platform/qdrant"
	"github.com/yungbote/bilirag-backend/internal/types"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	t.Cleanup(func() {
		log.Sync()
	})
	return log
}

// fakeAIClient returns fixed-dimension embeddings and a canned chat answer.
type fakeAIClient struct {
	mu         sync.Mutex
	embedCalls [][]string
	chatSystem string
	chatUser   string
	chatAnswer string
	embedErr   error
	chatErr    error
}

func (f *fakeAIClient) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	f.embedCalls = append(f.embedCalls, append([]string(nil), texts...))
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = []float32{float32(len([]rune(text))), 1, 0}
	}
	return out, nil
}

func (f *fakeAIClient) ChatComplete(_ context.Context, system, user string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.chatErr != nil {
		return "", f.chatErr
	}
	f.chatSystem, f.chatUser = system, user
	if f.chatAnswer == "" {
		return "canned answer", nil
	}
	return f.chatAnswer, nil
}

type upsertCall struct {
	ns      string
	vectors []qdrant.Vector
}

type filterCall struct {
	ns     string
	filter map[string]any
}

// fakeVectorStore records every mutation in order so tests can assert the
// delete-then-insert discipline.
type fakeVectorStore struct {
	mu         sync.Mutex
	calls      []string
	upserts    []upsertCall
	deletes    []filterCall
	cleared    []string
	matches    []qdrant.VectorMatch
	countValue int64
	upsertErr  error
	queryErr   error
	deleteErr  error
}

func (f *fakeVectorStore) Upsert(_ context.Context, ns string, vectors []qdrant.Vector) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.calls = append(f.calls, "upsert")
	f.upserts = append(f.upserts, upsertCall{ns: ns, vectors: vectors})
	return nil
}

func (f *fakeVectorStore) QueryMatches(_ context.Context, ns string, _ []float32, _ int, _ map[string]any) ([]qdrant.VectorMatch, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return f.matches, nil
}

func (f *fakeVectorStore) QueryIDs(ctx context.Context, ns string, q []float32, topK int, filter map[string]any) ([]string, error) {
	matches, err := f.QueryMatches(ctx, ns, q, topK, filter)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.ID
	}
	return ids, nil
}

func (f *fakeVectorStore) DeleteIDs(_ context.Context, ns string, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "delete_ids")
	return nil
}

func (f *fakeVectorStore) DeleteByFilter(_ context.Context, ns string, filter map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.calls = append(f.calls, "delete_by_filter")
	f.deletes = append(f.deletes, filterCall{ns: ns, filter: filter})
	return nil
}

func (f *fakeVectorStore) Count(_ context.Context, ns string, _ map[string]any) (int64, error) {
	return f.countValue, nil
}

func (f *fakeVectorStore) ClearNamespace(_ context.Context, ns string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "clear")
	f.cleared = append(f.cleared, ns)
	return nil
}

// fakeVideoRepo keeps folder membership rows in a map keyed by bvid.
type fakeVideoRepo struct {
	mu        sync.Mutex
	rows      map[int64]map[string]*types.FavoriteVideo
	otherRefs map[string]int64
	listErr   error
}

func newFakeVideoRepo() *fakeVideoRepo {
	return &fakeVideoRepo{
		rows:      make(map[int64]map[string]*types.FavoriteVideo),
		otherRefs: make(map[string]int64),
	}
}

func (f *fakeVideoRepo) Upsert(_ context.Context, _ *gorm.DB, videos []*types.FavoriteVideo) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range videos {
		if f.rows[v.MediaID] == nil {
			f.rows[v.MediaID] = make(map[string]*types.FavoriteVideo)
		}
		f.rows[v.MediaID][v.Bvid] = v
	}
	return nil
}

func (f *fakeVideoRepo) ListByMediaID(_ context.Context, _ *gorm.DB, mediaID int64) ([]*types.FavoriteVideo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []*types.FavoriteVideo
	for _, row := range f.rows[mediaID] {
		out = append(out, row)
	}
	return out, nil
}

func (f *fakeVideoRepo) DeleteByMediaIDAndBvids(_ context.Context, _ *gorm.DB, mediaID int64, bvids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, bvid := range bvids {
		delete(f.rows[mediaID], bvid)
	}
	return nil
}

func (f *fakeVideoRepo) DeleteByMediaID(_ context.Context, _ *gorm.DB, mediaID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rows, mediaID)
	return nil
}

func (f *fakeVideoRepo) DeleteAll(_ context.Context, _ *gorm.DB) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = make(map[int64]map[string]*types.FavoriteVideo)
	return nil
}

func (f *fakeVideoRepo) CountInOtherFolders(_ context.Context, _ *gorm.DB, _ int64, bvid string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.otherRefs[bvid], nil
}

type fakeFolderRepo struct {
	mu      sync.Mutex
	folders map[int64]*types.FavoriteFolder
}

func newFakeFolderRepo() *fakeFolderRepo {
	return &fakeFolderRepo{folders: make(map[int64]*types.FavoriteFolder)}
}

func (f *fakeFolderRepo) Upsert(_ context.Context, _ *gorm.DB, folders []*types.FavoriteFolder) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, folder := range folders {
		f.folders[folder.MediaID] = folder
	}
	return nil
}

func (f *fakeFolderRepo) GetByMediaID(_ context.Context, _ *gorm.DB, mediaID int64) (*types.FavoriteFolder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.folders[mediaID], nil
}

func (f *fakeFolderRepo) ListByMid(_ context.Context, _ *gorm.DB, mid int64) ([]*types.FavoriteFolder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.FavoriteFolder
	for _, folder := range f.folders {
		if folder.Mid == mid {
			out = append(out, folder)
		}
	}
	return out, nil
}

func (f *fakeFolderRepo) ListAll(_ context.Context, _ *gorm.DB) ([]*types.FavoriteFolder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*types.FavoriteFolder, 0, len(f.folders))
	for _, folder := range f.folders {
		out = append(out, folder)
	}
	return out, nil
}

func (f *fakeFolderRepo) TouchLastSync(_ context.Context, _ *gorm.DB, mediaID int64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if folder, ok := f.folders[mediaID]; ok {
		folder.LastSyncAt = &at
	}
	return nil
}

func (f *fakeFolderRepo) Delete(_ context.Context, _ *gorm.DB, mediaID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.folders, mediaID)
	return nil
}

type fakeCacheRepo struct {
	mu      sync.Mutex
	entries map[string]*types.VideoCache
	deleted []string
}

func newFakeCacheRepo() *fakeCacheRepo {
	return &fakeCacheRepo{entries: make(map[string]*types.VideoCache)}
}

func (f *fakeCacheRepo) GetByBvid(_ context.Context, _ *gorm.DB, bvid string) (*types.VideoCache, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.entries[bvid], nil
}

func (f *fakeCacheRepo) Upsert(_ context.Context, _ *gorm.DB, entry *types.VideoCache) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[entry.Bvid] = entry
	return nil
}

func (f *fakeCacheRepo) Delete(_ context.Context, _ *gorm.DB, bvid string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, bvid)
	f.deleted = append(f.deleted, bvid)
	return nil
}

func (f *fakeCacheRepo) DeleteAll(_ context.Context, _ *gorm.DB) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = make(map[string]*types.VideoCache)
	return nil
}

// fakeFavoritesAPI serves a scripted folder listing. A non-nil gate blocks
// the listing call until the channel is closed, to hold a build mid-flight.
type fakeFavoritesAPI struct {
	folders       []bilibili.FolderMeta
	medias        []bilibili.Media
	reportedCount int
	listErr       error
	gate          chan struct{}
}

func (f *fakeFavoritesAPI) ListFolders(_ context.Context, _ int64, _ bilibili.Cookies) ([]bilibili.FolderMeta, error) {
	return f.folders, nil
}

func (f *fakeFavoritesAPI) GetFolderPage(_ context.Context, mediaID int64, _, _ int, _ bilibili.Cookies) (*bilibili.FolderPage, error) {
	page := &bilibili.FolderPage{Medias: f.medias}
	page.Info.ID = mediaID
	page.Info.Title = "test folder"
	page.Info.MediaCount = len(f.medias)
	if f.reportedCount != 0 {
		page.Info.MediaCount = f.reportedCount
	}
	return page, nil
}

func (f *fakeFavoritesAPI) ListAllFolderVideos(_ context.Context, _ int64, _ bilibili.Cookies) ([]bilibili.Media, error) {
	if f.gate != nil {
		<-f.gate
	}
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.medias, nil
}

// fakeFetcher returns scripted content per bvid, defaulting to a healthy
// transcript.
type fakeFetcher struct {
	mu      sync.Mutex
	byBvid  map[string]VideoContent
	fetched []string
}

func (f *fakeFetcher) FetchContent(_ context.Context, bvid string, _ int64, title string, _ bilibili.Cookies) VideoContent {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, bvid)
	if content, ok := f.byBvid[bvid]; ok {
		return content
	}
	return VideoContent{
		Bvid:    bvid,
		Title:   title,
		Content: fmt.Sprintf("transcript for %s with enough characters to pass the reuse threshold easily", bvid),
		Source:  types.SourceASR,
	}
}

// fakeIndexer counts per-video index and remove calls.
type fakeIndexer struct {
	mu       sync.Mutex
	indexed  []string
	removed  []string
	cleared  []int64
	indexErr error
	chunks   int64
}

func (f *fakeIndexer) IndexVideo(_ context.Context, _ int64, content VideoContent) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.indexErr != nil {
		return 0, f.indexErr
	}
	f.indexed = append(f.indexed, content.Bvid)
	return 1, nil
}

func (f *fakeIndexer) RemoveVideo(_ context.Context, _ int64, bvid string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, bvid)
	return nil
}

func (f *fakeIndexer) FolderChunkCount(_ context.Context, _ int64) (int64, error) {
	return f.chunks, nil
}

func (f *fakeIndexer) ClearFolder(_ context.Context, mediaID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared = append(f.cleared, mediaID)
	return nil
}
