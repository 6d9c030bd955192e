package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yungbote/bilirag-backend/internal/clients/bilibili"
	"github.com/yungbote/bilirag-backend/internal/platform/logger"
	"github.com/yungbote/bilirag-backend/internal/repos"
	"github.com/yungbote/bilirag-backend/internal/types"
	"github.com/yungbote/bilirag-backend/internal/utils"
)

// FavoritesAPI is the slice of the platform client the build needs.
type FavoritesAPI interface {
	ListFolders(ctx context.Context, mid int64, cookies bilibili.Cookies) ([]bilibili.FolderMeta, error)
	GetFolderPage(ctx context.Context, mediaID int64, pn, ps int, cookies bilibili.Cookies) (*bilibili.FolderPage, error)
	ListAllFolderVideos(ctx context.Context, mediaID int64, cookies bilibili.Cookies) ([]bilibili.Media, error)
}

// FolderStatus is the index-side view of one folder.
type FolderStatus struct {
	MediaID      int64      `json:"media_id"`
	Title        string     `json:"title,omitempty"`
	MediaCount   int        `json:"media_count"`
	IndexedCount int        `json:"indexed_count"`
	ChunkCount   int64      `json:"chunk_count"`
	LastSyncAt   *time.Time `json:"last_sync_at,omitempty"`
}

// FolderSyncResult reports the outcome of one folder in a synchronous sync.
type FolderSyncResult struct {
	MediaID  int64             `json:"media_id"`
	Title    string            `json:"title,omitempty"`
	Status   types.BuildStatus `json:"status"`
	Added    int               `json:"added"`
	Removed  int               `json:"removed"`
	Degraded int               `json:"degraded"`
	Error    string            `json:"error,omitempty"`
}

// KnowledgeStats aggregates the index across all folders.
type KnowledgeStats struct {
	Folders     []FolderStatus `json:"folders"`
	TotalVideos int            `json:"total_videos"`
	TotalChunks int64          `json:"total_chunks"`
}

// KnowledgeBuildService turns favorites folders into an indexed knowledge
// base. Builds run asynchronously: StartBuild returns a task covering the
// requested folders and the pipeline reports progress through the task
// store. At most one build is active at a time, since every build mutates
// the shared vector store. SyncAllFolders is the blocking variant that
// walks every folder in turn.
type KnowledgeBuildService interface {
	ListRemoteFolders(ctx context.Context, session *types.UserSession) ([]bilibili.FolderMeta, error)
	ListFolderVideos(ctx context.Context, session *types.UserSession, mediaID int64, page, pageSize int) (*bilibili.FolderPage, error)
	StartBuild(ctx context.Context, session *types.UserSession, folderIDs []int64, excludeBVIDs []string) (types.BuildTask, error)
	SyncAllFolders(ctx context.Context, session *types.UserSession) ([]FolderSyncResult, error)
	GetTask(taskID string) (types.BuildTask, bool)
	GetFolderStatus(ctx context.Context, mediaID int64) (*FolderStatus, error)
	Stats(ctx context.Context) (*KnowledgeStats, error)
	ClearFolder(ctx context.Context, mediaID int64) error
	ClearIndex(ctx context.Context) error
	DeleteVideo(ctx context.Context, mediaID int64, bvid string) error
}

type knowledgeBuildService struct {
	log          *logger.Logger
	bili         FavoritesAPI
	fetcher      ContentFetcherService
	indexer      IndexerService
	tasks        *TaskStore
	folderRepo   repos.FavoriteFolderRepo
	videoRepo    repos.FavoriteVideoRepo
	cacheRepo    repos.VideoCacheRepo
	concurrency  int
	buildTimeout time.Duration
}

func NewKnowledgeBuildService(
	log *logger.Logger,
	bili FavoritesAPI,
	fetcher ContentFetcherService,
	indexer IndexerService,
	tasks *TaskStore,
	folderRepo repos.FavoriteFolderRepo,
	videoRepo repos.FavoriteVideoRepo,
	cacheRepo repos.VideoCacheRepo,
) (KnowledgeBuildService, error) {
	concurrency := utils.GetEnvAsInt("BUILD_CONCURRENCY", 3, log)
	if concurrency < 1 {
		concurrency = 1
	}
	timeout := utils.GetEnvAsDuration("BUILD_TIMEOUT", 2*time.Hour, log)
	return &knowledgeBuildService{
		log:          log.With("service", "KnowledgeBuildService"),
		bili:         bili,
		fetcher:      fetcher,
		indexer:      indexer,
		tasks:        tasks,
		folderRepo:   folderRepo,
		videoRepo:    videoRepo,
		cacheRepo:    cacheRepo,
		concurrency:  concurrency,
		buildTimeout: timeout,
	}, nil
}

// sessionCookies decodes the stored cookie jar back into the client's form.
func sessionCookies(session *types.UserSession) (bilibili.Cookies, error) {
	if session == nil || len(session.Cookies) == 0 {
		return nil, fmt.Errorf("session has no cookies")
	}
	var cookies bilibili.Cookies
	if err := json.Unmarshal(session.Cookies, &cookies); err != nil {
		return nil, fmt.Errorf("decode session cookies: %w", err)
	}
	return cookies, nil
}

func excludeSet(bvids []string) map[string]struct{} {
	if len(bvids) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(bvids))
	for _, bvid := range bvids {
		if bvid != "" {
			set[bvid] = struct{}{}
		}
	}
	return set
}

// ListRemoteFolders returns the user's folders from upstream and refreshes
// the local folder metadata along the way.
func (s *knowledgeBuildService) ListRemoteFolders(ctx context.Context, session *types.UserSession) ([]bilibili.FolderMeta, error) {
	cookies, err := sessionCookies(session)
	if err != nil {
		return nil, err
	}
	folders, err := s.bili.ListFolders(ctx, session.Mid, cookies)
	if err != nil {
		return nil, err
	}
	rows := make([]*types.FavoriteFolder, 0, len(folders))
	for _, f := range folders {
		rows = append(rows, &types.FavoriteFolder{
			MediaID:    f.ID,
			Fid:        f.Fid,
			Mid:        f.Mid,
			Title:      f.Title,
			MediaCount: f.MediaCount,
		})
	}
	if len(rows) > 0 {
		if err := s.folderRepo.Upsert(ctx, nil, rows); err != nil {
			s.log.Warn("Folder metadata upsert failed", "error", err.Error())
		}
	}
	return folders, nil
}

// ListFolderVideos returns one page of a folder straight from upstream.
func (s *knowledgeBuildService) ListFolderVideos(ctx context.Context, session *types.UserSession, mediaID int64, page, pageSize int) (*bilibili.FolderPage, error) {
	cookies, err := sessionCookies(session)
	if err != nil {
		return nil, err
	}
	if page < 1 {
		page = 1
	}
	return s.bili.GetFolderPage(ctx, mediaID, page, pageSize, cookies)
}

func (s *knowledgeBuildService) StartBuild(ctx context.Context, session *types.UserSession, folderIDs []int64, excludeBVIDs []string) (types.BuildTask, error) {
	if len(folderIDs) == 0 {
		return types.BuildTask{}, fmt.Errorf("no folders requested")
	}
	cookies, err := sessionCookies(session)
	if err != nil {
		return types.BuildTask{}, err
	}
	task, err := s.tasks.Create(folderIDs)
	if err != nil {
		return types.BuildTask{}, err
	}

	exclude := excludeSet(excludeBVIDs)
	go func() {
		buildCtx, cancel := context.WithTimeout(context.Background(), s.buildTimeout)
		defer cancel()
		s.runBuild(buildCtx, task.TaskID, folderIDs, exclude, cookies)
	}()

	s.log.Info("Build started", "task_id", task.TaskID, "folders", len(folderIDs))
	return task, nil
}

// SyncAllFolders runs the build pipeline over every remote folder, one at a
// time, and blocks until all of them reach a terminal state. When a build
// is already in flight every folder is reported as failed rather than raced.
func (s *knowledgeBuildService) SyncAllFolders(ctx context.Context, session *types.UserSession) ([]FolderSyncResult, error) {
	cookies, err := sessionCookies(session)
	if err != nil {
		return nil, err
	}
	folders, err := s.ListRemoteFolders(ctx, session)
	if err != nil {
		return nil, err
	}

	results := make([]FolderSyncResult, 0, len(folders))
	for _, folder := range folders {
		result := FolderSyncResult{MediaID: folder.ID, Title: folder.Title}
		task, cErr := s.tasks.Create([]int64{folder.ID})
		if cErr != nil {
			result.Status = types.BuildFailed
			result.Error = cErr.Error()
			results = append(results, result)
			continue
		}
		s.runBuild(ctx, task.TaskID, []int64{folder.ID}, nil, cookies)
		if final, ok := s.tasks.Get(task.TaskID); ok {
			result.Status = final.Status
			result.Added = final.Added
			result.Removed = final.Removed
			result.Degraded = final.Degraded
			result.Error = final.Error
		}
		results = append(results, result)
	}
	return results, nil
}

func (s *knowledgeBuildService) GetTask(taskID string) (types.BuildTask, bool) {
	return s.tasks.Get(taskID)
}

func (s *knowledgeBuildService) failTask(taskID string, err error) {
	s.tasks.Update(taskID, func(t *types.BuildTask) {
		t.Status = types.BuildFailed
		t.Error = err.Error()
		t.Message = "build failed"
	})
}

func (s *knowledgeBuildService) progress(taskID, message string) {
	s.tasks.Update(taskID, func(t *types.BuildTask) {
		t.Message = message
		if t.Total > 0 {
			t.Progress = (t.Processed*100 + t.Total/2) / t.Total
		}
	})
}

func (s *knowledgeBuildService) runBuild(ctx context.Context, taskID string, folderIDs []int64, exclude map[string]struct{}, cookies bilibili.Cookies) {
	log := s.log.With("task_id", taskID)
	s.tasks.Update(taskID, func(t *types.BuildTask) {
		t.Status = types.BuildRunning
		t.Message = "build started"
	})

	for _, mediaID := range folderIDs {
		if err := s.syncFolder(ctx, taskID, mediaID, exclude, cookies); err != nil {
			log.Error("Folder sync failed", "media_id", mediaID, "error", err.Error())
			s.failTask(taskID, err)
			return
		}
	}

	s.tasks.Update(taskID, func(t *types.BuildTask) {
		t.Status = types.BuildCompleted
		t.Progress = 100
		t.Message = "build completed"
	})
	log.Info("Build completed", "folders", len(folderIDs))
}

// syncFolder brings one folder's slice of the index in line with the remote
// listing. Excluded videos are invisible to the diff: they are neither
// indexed nor removed.
func (s *knowledgeBuildService) syncFolder(ctx context.Context, taskID string, mediaID int64, exclude map[string]struct{}, cookies bilibili.Cookies) error {
	log := s.log.With("task_id", taskID, "media_id", mediaID)
	s.progress(taskID, fmt.Sprintf("fetching listing for folder %d", mediaID))

	remote, err := s.bili.ListAllFolderVideos(ctx, mediaID, cookies)
	if err != nil {
		return fmt.Errorf("list folder %d videos: %w", mediaID, err)
	}

	// The first page carries the folder metadata and the upstream's own
	// media_count, which the empty-listing guard below relies on.
	reportedCount := -1
	if page, pErr := s.bili.GetFolderPage(ctx, mediaID, 1, 1, cookies); pErr == nil && page.Info.ID != 0 {
		reportedCount = page.Info.MediaCount
		folder := &types.FavoriteFolder{
			MediaID:    page.Info.ID,
			Fid:        page.Info.Fid,
			Mid:        page.Info.Mid,
			Title:      page.Info.Title,
			MediaCount: page.Info.MediaCount,
		}
		if uErr := s.folderRepo.Upsert(ctx, nil, []*types.FavoriteFolder{folder}); uErr != nil {
			log.Warn("Folder metadata upsert failed", "error", uErr.Error())
		}
	}

	valid := make([]bilibili.Media, 0, len(remote))
	skippedInvalid := 0
	for i := range remote {
		if remote[i].Invalid() {
			skippedInvalid++
			continue
		}
		if _, skip := exclude[remote[i].Bvid]; skip {
			continue
		}
		valid = append(valid, remote[i])
	}
	if skippedInvalid > 0 {
		log.Info("Skipping invalid folder entries", "count", skippedInvalid)
	}

	indexedRows, err := s.videoRepo.ListByMediaID(ctx, nil, mediaID)
	if err != nil {
		return fmt.Errorf("load indexed videos: %w", err)
	}
	indexedIDs := make([]string, 0, len(indexedRows))
	for _, row := range indexedRows {
		if _, skip := exclude[row.Bvid]; skip {
			continue
		}
		indexedIDs = append(indexedIDs, row.Bvid)
	}

	// An empty listing while upstream still reports content (or the count
	// is unknown) is an upstream hiccup, not an emptied folder. Skip the
	// removal pass and leave the folder as it was. A reported count of
	// zero means the folder was genuinely emptied and the diff below
	// removes everything.
	if len(valid) == 0 && len(indexedIDs) > 0 && reportedCount != 0 {
		log.Warn("Empty listing for indexed folder, skipping removal pass", "reported_count", reportedCount)
		return nil
	}

	remoteIDs := make([]string, 0, len(valid))
	mediaByBvid := make(map[string]bilibili.Media, len(valid))
	for _, m := range valid {
		remoteIDs = append(remoteIDs, m.Bvid)
		mediaByBvid[m.Bvid] = m
	}

	diff := DiffVideoIDs(remoteIDs, indexedIDs)
	log.Info("Folder diff computed",
		"added", len(diff.Added),
		"removed", len(diff.Removed),
		"unchanged", len(diff.Unchanged),
	)
	s.tasks.Update(taskID, func(t *types.BuildTask) {
		t.Total += len(diff.Added) + len(diff.Removed)
		t.Added += len(diff.Added)
		t.Removed += len(diff.Removed)
	})

	if err := s.removeVideos(ctx, taskID, mediaID, diff.Removed); err != nil {
		return err
	}
	if err := s.indexAdded(ctx, taskID, mediaID, diff.Added, mediaByBvid, cookies); err != nil {
		return err
	}

	// last_sync_at only advances once the folder's removals and additions
	// have both landed.
	if err := s.folderRepo.TouchLastSync(ctx, nil, mediaID, time.Now().UTC()); err != nil {
		log.Warn("Folder sync timestamp update failed", "error", err.Error())
	}
	return nil
}

func (s *knowledgeBuildService) removeVideos(ctx context.Context, taskID string, mediaID int64, removed []string) error {
	if len(removed) == 0 {
		return nil
	}
	s.progress(taskID, fmt.Sprintf("removing %d videos", len(removed)))
	for _, bvid := range removed {
		if err := s.indexer.RemoveVideo(ctx, mediaID, bvid); err != nil {
			return fmt.Errorf("remove vectors for %s: %w", bvid, err)
		}
		s.tasks.Update(taskID, func(t *types.BuildTask) {
			t.Processed++
			if t.Total > 0 {
				t.Progress = (t.Processed*100 + t.Total/2) / t.Total
			}
			t.Message = fmt.Sprintf("processed %d/%d videos", t.Processed, t.Total)
		})
	}
	if err := s.videoRepo.DeleteByMediaIDAndBvids(ctx, nil, mediaID, removed); err != nil {
		return fmt.Errorf("delete video rows: %w", err)
	}
	// Cached content is shared across folders, so only drop it once the
	// last referencing folder lets go of the video.
	for _, bvid := range removed {
		refs, err := s.videoRepo.CountInOtherFolders(ctx, nil, mediaID, bvid)
		if err != nil {
			s.log.Warn("Cache reference check failed", "bvid", bvid, "error", err.Error())
			continue
		}
		if refs == 0 {
			if err := s.cacheRepo.Delete(ctx, nil, bvid); err != nil {
				s.log.Warn("Cache delete failed", "bvid", bvid, "error", err.Error())
			}
		}
	}
	return nil
}

func (s *knowledgeBuildService) indexAdded(ctx context.Context, taskID string, mediaID int64, added []string, mediaByBvid map[string]bilibili.Media, cookies bilibili.Cookies) error {
	if len(added) == 0 {
		return nil
	}
	s.progress(taskID, fmt.Sprintf("indexing %d videos", len(added)))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, bvid := range added {
		media := mediaByBvid[bvid]
		g.Go(func() error {
			if err := s.processVideo(gctx, taskID, mediaID, media, cookies); err != nil {
				return err
			}
			s.tasks.Update(taskID, func(t *types.BuildTask) {
				t.Processed++
				if t.Total > 0 {
					t.Progress = (t.Processed*100 + t.Total/2) / t.Total
				}
				t.Message = fmt.Sprintf("processed %d/%d videos", t.Processed, t.Total)
			})
			return nil
		})
	}
	return g.Wait()
}

func (s *knowledgeBuildService) processVideo(ctx context.Context, taskID string, mediaID int64, media bilibili.Media, cookies bilibili.Cookies) error {
	content, fromCache := s.resolveContent(ctx, media, cookies)
	if content.Degraded {
		s.tasks.Update(taskID, func(t *types.BuildTask) {
			t.Degraded++
		})
	}

	if _, err := s.indexer.IndexVideo(ctx, mediaID, content); err != nil {
		return fmt.Errorf("index %s: %w", media.Bvid, err)
	}

	row := &types.FavoriteVideo{
		MediaID: mediaID,
		Bvid:    media.Bvid,
		Title:   content.Title,
		Author:  media.Upper.Name,
		Attr:    media.Attr,
	}
	if err := s.videoRepo.Upsert(ctx, nil, []*types.FavoriteVideo{row}); err != nil {
		return fmt.Errorf("record video row for %s: %w", media.Bvid, err)
	}
	if !fromCache {
		s.upsertCache(ctx, media, content)
	}
	return nil
}

// resolveContent reuses cached text when it is still useful, otherwise runs
// the full fetch pipeline. The bool reports whether the cache was used.
func (s *knowledgeBuildService) resolveContent(ctx context.Context, media bilibili.Media, cookies bilibili.Cookies) (VideoContent, bool) {
	cached, err := s.cacheRepo.GetByBvid(ctx, nil, media.Bvid)
	if err != nil {
		s.log.Warn("Cache lookup failed", "bvid", media.Bvid, "error", err.Error())
	}
	if cached != nil && len([]rune(cached.Content)) >= types.MinUsefulContentLen {
		s.log.Info("Reusing cached content", "bvid", media.Bvid, "source", cached.Source)
		return VideoContent{
			Bvid:    cached.Bvid,
			Title:   cached.Title,
			Content: cached.Content,
			Source:  cached.Source,
		}, true
	}
	return s.fetcher.FetchContent(ctx, media.Bvid, 0, media.Title, cookies), false
}

func (s *knowledgeBuildService) upsertCache(ctx context.Context, media bilibili.Media, content VideoContent) {
	existing, err := s.cacheRepo.GetByBvid(ctx, nil, content.Bvid)
	if err == nil && existing != nil &&
		types.SourcePriority(existing.Source) > types.SourcePriority(content.Source) &&
		len([]rune(existing.Content)) >= types.MinUsefulContentLen {
		return
	}
	entry := &types.VideoCache{
		Bvid:     content.Bvid,
		Title:    content.Title,
		Author:   media.Upper.Name,
		Cover:    media.Cover,
		Duration: media.Duration,
		Content:  content.Content,
		Source:   content.Source,
	}
	if err := s.cacheRepo.Upsert(ctx, nil, entry); err != nil {
		s.log.Warn("Cache upsert failed", "bvid", content.Bvid, "error", err.Error())
	}
}

func (s *knowledgeBuildService) GetFolderStatus(ctx context.Context, mediaID int64) (*FolderStatus, error) {
	rows, err := s.videoRepo.ListByMediaID(ctx, nil, mediaID)
	if err != nil {
		return nil, err
	}
	chunks, err := s.indexer.FolderChunkCount(ctx, mediaID)
	if err != nil {
		return nil, err
	}
	status := &FolderStatus{
		MediaID:      mediaID,
		IndexedCount: len(rows),
		ChunkCount:   chunks,
	}
	if folder, fErr := s.folderRepo.GetByMediaID(ctx, nil, mediaID); fErr == nil && folder != nil {
		status.Title = folder.Title
		status.MediaCount = folder.MediaCount
		status.LastSyncAt = folder.LastSyncAt
	}
	return status, nil
}

// Stats rolls up the per-folder view for every folder the index knows about.
func (s *knowledgeBuildService) Stats(ctx context.Context) (*KnowledgeStats, error) {
	folders, err := s.folderRepo.ListAll(ctx, nil)
	if err != nil {
		return nil, err
	}
	stats := &KnowledgeStats{Folders: make([]FolderStatus, 0, len(folders))}
	for _, folder := range folders {
		status, sErr := s.GetFolderStatus(ctx, folder.MediaID)
		if sErr != nil {
			return nil, sErr
		}
		stats.Folders = append(stats.Folders, *status)
		stats.TotalVideos += status.IndexedCount
		stats.TotalChunks += status.ChunkCount
	}
	return stats, nil
}

func (s *knowledgeBuildService) ClearFolder(ctx context.Context, mediaID int64) error {
	if _, ok := s.tasks.Active(); ok {
		return ErrBuildInFlight
	}
	if err := s.indexer.ClearFolder(ctx, mediaID); err != nil {
		return err
	}
	rows, err := s.videoRepo.ListByMediaID(ctx, nil, mediaID)
	if err != nil {
		return err
	}
	if err := s.videoRepo.DeleteByMediaID(ctx, nil, mediaID); err != nil {
		return err
	}
	for _, row := range rows {
		refs, rErr := s.videoRepo.CountInOtherFolders(ctx, nil, mediaID, row.Bvid)
		if rErr == nil && refs == 0 {
			if dErr := s.cacheRepo.Delete(ctx, nil, row.Bvid); dErr != nil {
				s.log.Warn("Cache delete failed", "bvid", row.Bvid, "error", dErr.Error())
			}
		}
	}
	s.log.Info("Folder cleared", "media_id", mediaID)
	return nil
}

// ClearIndex wipes every folder's vectors along with all membership rows
// and cached content.
func (s *knowledgeBuildService) ClearIndex(ctx context.Context) error {
	if _, ok := s.tasks.Active(); ok {
		return ErrBuildInFlight
	}
	folders, err := s.folderRepo.ListAll(ctx, nil)
	if err != nil {
		return err
	}
	for _, folder := range folders {
		if err := s.indexer.ClearFolder(ctx, folder.MediaID); err != nil {
			return fmt.Errorf("clear folder %d: %w", folder.MediaID, err)
		}
	}
	if err := s.videoRepo.DeleteAll(ctx, nil); err != nil {
		return err
	}
	if err := s.cacheRepo.DeleteAll(ctx, nil); err != nil {
		return err
	}
	s.log.Info("Index cleared", "folders", len(folders))
	return nil
}

func (s *knowledgeBuildService) DeleteVideo(ctx context.Context, mediaID int64, bvid string) error {
	if err := s.indexer.RemoveVideo(ctx, mediaID, bvid); err != nil {
		return err
	}
	if err := s.videoRepo.DeleteByMediaIDAndBvids(ctx, nil, mediaID, []string{bvid}); err != nil {
		return err
	}
	refs, err := s.videoRepo.CountInOtherFolders(ctx, nil, mediaID, bvid)
	if err == nil && refs == 0 {
		if dErr := s.cacheRepo.Delete(ctx, nil, bvid); dErr != nil {
			s.log.Warn("Cache delete failed", "bvid", bvid, "error", dErr.Error())
		}
	}
	return nil
}
