package services

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"gorm.io/datatypes"

	"github.com/yungbote/bilirag-backend/internal/clients/bilibili"
	"github.com/yungbote/bilirag-backend/internal/types"
)

func validMedia(bvid, title string) bilibili.Media {
	var m bilibili.Media
	m.Bvid = bvid
	m.Title = title
	m.Upper.Name = "up主"
	return m
}

func testSession() *types.UserSession {
	return &types.UserSession{
		SessionID: "sess-1",
		Mid:       12345,
		Cookies:   datatypes.JSON([]byte(`{"SESSDATA":"secret","bili_jct":"csrf"}`)),
		Active:    true,
	}
}

type buildFixture struct {
	svc        KnowledgeBuildService
	bili       *fakeFavoritesAPI
	fetcher    *fakeFetcher
	indexer    *fakeIndexer
	tasks      *TaskStore
	folderRepo *fakeFolderRepo
	videoRepo  *fakeVideoRepo
	cacheRepo  *fakeCacheRepo
}

func newBuildFixture(t *testing.T, bili *fakeFavoritesAPI) *buildFixture {
	t.Helper()
	fx := &buildFixture{
		bili:       bili,
		fetcher:    &fakeFetcher{byBvid: make(map[string]VideoContent)},
		indexer:    &fakeIndexer{},
		tasks:      NewTaskStore(newTestLogger(t)),
		folderRepo: newFakeFolderRepo(),
		videoRepo:  newFakeVideoRepo(),
		cacheRepo:  newFakeCacheRepo(),
	}
	svc, err := NewKnowledgeBuildService(
		newTestLogger(t), bili, fx.fetcher, fx.indexer, fx.tasks,
		fx.folderRepo, fx.videoRepo, fx.cacheRepo,
	)
	if err != nil {
		t.Fatalf("NewKnowledgeBuildService: %v", err)
	}
	fx.svc = svc
	return fx
}

func waitForTask(t *testing.T, svc KnowledgeBuildService, taskID string) types.BuildTask {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if task, ok := svc.GetTask(taskID); ok && task.Status.Terminal() {
			return task
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("task %s did not finish", taskID)
	return types.BuildTask{}
}

func TestBuildFirstRunIndexesEverything(t *testing.T) {
	invalid := bilibili.Media{Attr: 9, Bvid: "BV1dead", Title: "已失效视频"}
	bili := &fakeFavoritesAPI{medias: []bilibili.Media{
		validMedia("BV1a", "视频A"),
		validMedia("BV1b", "视频B"),
		invalid,
	}}
	fx := newBuildFixture(t, bili)

	task, err := fx.svc.StartBuild(context.Background(), testSession(), []int64{42}, nil)
	if err != nil {
		t.Fatalf("StartBuild: %v", err)
	}
	done := waitForTask(t, fx.svc, task.TaskID)

	if done.Status != types.BuildCompleted {
		t.Fatalf("status: want=%s got=%s (err=%s)", types.BuildCompleted, done.Status, done.Error)
	}
	if done.Progress != 100 {
		t.Fatalf("progress: want=100 got=%d", done.Progress)
	}
	if done.Added != 2 || done.Processed != 2 || done.Removed != 0 {
		t.Fatalf("counters: got=%+v", done)
	}

	sort.Strings(fx.indexer.indexed)
	if len(fx.indexer.indexed) != 2 || fx.indexer.indexed[0] != "BV1a" || fx.indexer.indexed[1] != "BV1b" {
		t.Fatalf("indexed: got=%v", fx.indexer.indexed)
	}
	rows, _ := fx.videoRepo.ListByMediaID(context.Background(), nil, 42)
	if len(rows) != 2 {
		t.Fatalf("video rows: want=2 got=%d", len(rows))
	}
	// Fetched content lands in the cache for the next build.
	if entry, _ := fx.cacheRepo.GetByBvid(context.Background(), nil, "BV1a"); entry == nil {
		t.Fatalf("cache entry for BV1a missing")
	}
}

func TestBuildIncrementalDiff(t *testing.T) {
	bili := &fakeFavoritesAPI{medias: []bilibili.Media{
		validMedia("BV1keep", "保留"),
		validMedia("BV1new", "新增"),
	}}
	fx := newBuildFixture(t, bili)

	seedRows := []*types.FavoriteVideo{
		{MediaID: 42, Bvid: "BV1keep", Title: "保留"},
		{MediaID: 42, Bvid: "BV1old", Title: "移除"},
	}
	if err := fx.videoRepo.Upsert(context.Background(), nil, seedRows); err != nil {
		t.Fatalf("seed rows: %v", err)
	}
	fx.cacheRepo.entries["BV1old"] = &types.VideoCache{Bvid: "BV1old", Content: longTranscript, Source: types.SourceASR}

	task, err := fx.svc.StartBuild(context.Background(), testSession(), []int64{42}, nil)
	if err != nil {
		t.Fatalf("StartBuild: %v", err)
	}
	done := waitForTask(t, fx.svc, task.TaskID)

	if done.Status != types.BuildCompleted {
		t.Fatalf("status: got=%s err=%s", done.Status, done.Error)
	}
	if done.Added != 1 || done.Removed != 1 {
		t.Fatalf("diff counters: added=%d removed=%d", done.Added, done.Removed)
	}
	if len(fx.indexer.indexed) != 1 || fx.indexer.indexed[0] != "BV1new" {
		t.Fatalf("indexed: got=%v", fx.indexer.indexed)
	}
	if len(fx.indexer.removed) != 1 || fx.indexer.removed[0] != "BV1old" {
		t.Fatalf("removed: got=%v", fx.indexer.removed)
	}
	// BV1old is referenced nowhere else, so its cache entry goes too.
	if entry, _ := fx.cacheRepo.GetByBvid(context.Background(), nil, "BV1old"); entry != nil {
		t.Fatalf("cache entry for removed video survived")
	}
}

func TestBuildKeepsSharedCacheOnRemoval(t *testing.T) {
	bili := &fakeFavoritesAPI{medias: []bilibili.Media{validMedia("BV1keep", "保留")}}
	fx := newBuildFixture(t, bili)

	seed := []*types.FavoriteVideo{
		{MediaID: 42, Bvid: "BV1keep"},
		{MediaID: 42, Bvid: "BV1shared"},
	}
	if err := fx.videoRepo.Upsert(context.Background(), nil, seed); err != nil {
		t.Fatalf("seed rows: %v", err)
	}
	fx.cacheRepo.entries["BV1shared"] = &types.VideoCache{Bvid: "BV1shared", Content: longTranscript, Source: types.SourceASR}
	fx.videoRepo.otherRefs["BV1shared"] = 1

	task, _ := fx.svc.StartBuild(context.Background(), testSession(), []int64{42}, nil)
	done := waitForTask(t, fx.svc, task.TaskID)
	if done.Status != types.BuildCompleted {
		t.Fatalf("status: got=%s err=%s", done.Status, done.Error)
	}
	if entry, _ := fx.cacheRepo.GetByBvid(context.Background(), nil, "BV1shared"); entry == nil {
		t.Fatalf("shared cache entry was deleted")
	}
}

func TestBuildEmptyListingProtection(t *testing.T) {
	// The listing comes back empty while upstream still reports one video:
	// an upstream hiccup, so the removal pass is skipped and the build
	// still succeeds.
	bili := &fakeFavoritesAPI{reportedCount: 1}
	fx := newBuildFixture(t, bili)

	seed := []*types.FavoriteVideo{{MediaID: 42, Bvid: "BV1a"}}
	if err := fx.videoRepo.Upsert(context.Background(), nil, seed); err != nil {
		t.Fatalf("seed rows: %v", err)
	}

	task, err := fx.svc.StartBuild(context.Background(), testSession(), []int64{42}, nil)
	if err != nil {
		t.Fatalf("StartBuild: %v", err)
	}
	done := waitForTask(t, fx.svc, task.TaskID)

	if done.Status != types.BuildCompleted {
		t.Fatalf("status: want=%s got=%s (err=%s)", types.BuildCompleted, done.Status, done.Error)
	}
	if len(fx.indexer.removed) != 0 {
		t.Fatalf("vectors removed despite protection: %v", fx.indexer.removed)
	}
	rows, _ := fx.videoRepo.ListByMediaID(context.Background(), nil, 42)
	if len(rows) != 1 {
		t.Fatalf("rows deleted despite protection: %d left", len(rows))
	}
}

func TestBuildPurgesGenuinelyEmptiedFolder(t *testing.T) {
	// Upstream reports zero videos, so the empty listing is real and every
	// previously indexed video is removed.
	bili := &fakeFavoritesAPI{}
	fx := newBuildFixture(t, bili)

	seed := []*types.FavoriteVideo{
		{MediaID: 42, Bvid: "BV1a"},
		{MediaID: 42, Bvid: "BV1b"},
	}
	if err := fx.videoRepo.Upsert(context.Background(), nil, seed); err != nil {
		t.Fatalf("seed rows: %v", err)
	}

	task, err := fx.svc.StartBuild(context.Background(), testSession(), []int64{42}, nil)
	if err != nil {
		t.Fatalf("StartBuild: %v", err)
	}
	done := waitForTask(t, fx.svc, task.TaskID)

	if done.Status != types.BuildCompleted {
		t.Fatalf("status: want=%s got=%s (err=%s)", types.BuildCompleted, done.Status, done.Error)
	}
	if done.Removed != 2 || done.Processed != 2 || done.Total != 2 {
		t.Fatalf("counters: got=%+v", done)
	}
	if len(fx.indexer.removed) != 2 {
		t.Fatalf("removed vectors: want=2 got=%v", fx.indexer.removed)
	}
	rows, _ := fx.videoRepo.ListByMediaID(context.Background(), nil, 42)
	if len(rows) != 0 {
		t.Fatalf("rows survived purge: %d", len(rows))
	}
	if folder, _ := fx.folderRepo.GetByMediaID(context.Background(), nil, 42); folder == nil || folder.MediaCount != 0 {
		t.Fatalf("folder count not refreshed: %+v", folder)
	}
}

func TestBuildListingFailureFailsTask(t *testing.T) {
	bili := &fakeFavoritesAPI{listErr: errors.New("upstream 504")}
	fx := newBuildFixture(t, bili)

	task, err := fx.svc.StartBuild(context.Background(), testSession(), []int64{42}, nil)
	if err != nil {
		t.Fatalf("StartBuild: %v", err)
	}
	done := waitForTask(t, fx.svc, task.TaskID)
	if done.Status != types.BuildFailed || done.Error == "" {
		t.Fatalf("task: got=%+v", done)
	}
}

func TestBuildSingleFlight(t *testing.T) {
	gate := make(chan struct{})
	bili := &fakeFavoritesAPI{medias: []bilibili.Media{validMedia("BV1a", "A")}, gate: gate}
	fx := newBuildFixture(t, bili)

	task, err := fx.svc.StartBuild(context.Background(), testSession(), []int64{42}, nil)
	if err != nil {
		t.Fatalf("StartBuild: %v", err)
	}
	if _, err := fx.svc.StartBuild(context.Background(), testSession(), []int64{42}, nil); !errors.Is(err, ErrBuildInFlight) {
		t.Fatalf("second StartBuild: want=ErrBuildInFlight got=%v", err)
	}
	// The guard spans folders: the vector store is shared, so another
	// folder may not build either.
	if _, err := fx.svc.StartBuild(context.Background(), testSession(), []int64{43}, nil); !errors.Is(err, ErrBuildInFlight) {
		t.Fatalf("other folder StartBuild: want=ErrBuildInFlight got=%v", err)
	}
	close(gate)
	waitForTask(t, fx.svc, task.TaskID)
}

func TestBuildReusesCachedContent(t *testing.T) {
	bili := &fakeFavoritesAPI{medias: []bilibili.Media{validMedia("BV1cached", "缓存")}}
	fx := newBuildFixture(t, bili)
	fx.cacheRepo.entries["BV1cached"] = &types.VideoCache{
		Bvid:    "BV1cached",
		Title:   "缓存",
		Content: longTranscript,
		Source:  types.SourceASR,
	}

	task, _ := fx.svc.StartBuild(context.Background(), testSession(), []int64{42}, nil)
	done := waitForTask(t, fx.svc, task.TaskID)
	if done.Status != types.BuildCompleted {
		t.Fatalf("status: got=%s err=%s", done.Status, done.Error)
	}
	if len(fx.fetcher.fetched) != 0 {
		t.Fatalf("fetcher called despite usable cache: %v", fx.fetcher.fetched)
	}
	if len(fx.indexer.indexed) != 1 {
		t.Fatalf("indexed: got=%v", fx.indexer.indexed)
	}
}

func TestBuildCountsDegradedVideos(t *testing.T) {
	bili := &fakeFavoritesAPI{medias: []bilibili.Media{validMedia("BV1deg", "降级")}}
	fx := newBuildFixture(t, bili)
	fx.fetcher.byBvid["BV1deg"] = VideoContent{
		Bvid:     "BV1deg",
		Title:    "降级",
		Content:  "视频标题：降级",
		Source:   types.SourceBasicInfo,
		Degraded: true,
	}

	task, _ := fx.svc.StartBuild(context.Background(), testSession(), []int64{42}, nil)
	done := waitForTask(t, fx.svc, task.TaskID)
	if done.Status != types.BuildCompleted {
		t.Fatalf("status: got=%s err=%s", done.Status, done.Error)
	}
	if done.Degraded != 1 {
		t.Fatalf("degraded counter: want=1 got=%d", done.Degraded)
	}
}

func TestBuildRejectsSessionWithoutCookies(t *testing.T) {
	fx := newBuildFixture(t, &fakeFavoritesAPI{})
	if _, err := fx.svc.StartBuild(context.Background(), &types.UserSession{SessionID: "s"}, []int64{42}, nil); err == nil {
		t.Fatalf("StartBuild accepted session without cookies")
	}
}

func TestClearFolder(t *testing.T) {
	fx := newBuildFixture(t, &fakeFavoritesAPI{})
	seed := []*types.FavoriteVideo{{MediaID: 42, Bvid: "BV1a"}}
	if err := fx.videoRepo.Upsert(context.Background(), nil, seed); err != nil {
		t.Fatalf("seed rows: %v", err)
	}
	fx.cacheRepo.entries["BV1a"] = &types.VideoCache{Bvid: "BV1a", Content: longTranscript}

	if err := fx.svc.ClearFolder(context.Background(), 42); err != nil {
		t.Fatalf("ClearFolder: %v", err)
	}
	if len(fx.indexer.cleared) != 1 || fx.indexer.cleared[0] != 42 {
		t.Fatalf("namespace not cleared: %v", fx.indexer.cleared)
	}
	rows, _ := fx.videoRepo.ListByMediaID(context.Background(), nil, 42)
	if len(rows) != 0 {
		t.Fatalf("rows survived clear: %d", len(rows))
	}
	if entry, _ := fx.cacheRepo.GetByBvid(context.Background(), nil, "BV1a"); entry != nil {
		t.Fatalf("cache survived clear")
	}
}

func TestClearFolderBlockedWhileBuilding(t *testing.T) {
	gate := make(chan struct{})
	bili := &fakeFavoritesAPI{gate: gate}
	fx := newBuildFixture(t, bili)

	task, err := fx.svc.StartBuild(context.Background(), testSession(), []int64{42}, nil)
	if err != nil {
		t.Fatalf("StartBuild: %v", err)
	}
	if err := fx.svc.ClearFolder(context.Background(), 42); !errors.Is(err, ErrBuildInFlight) {
		t.Fatalf("ClearFolder: want=ErrBuildInFlight got=%v", err)
	}
	close(gate)
	waitForTask(t, fx.svc, task.TaskID)
}

func TestGetFolderStatus(t *testing.T) {
	fx := newBuildFixture(t, &fakeFavoritesAPI{})
	fx.indexer.chunks = 17
	seed := []*types.FavoriteVideo{{MediaID: 42, Bvid: "BV1a"}}
	if err := fx.videoRepo.Upsert(context.Background(), nil, seed); err != nil {
		t.Fatalf("seed rows: %v", err)
	}
	fx.folderRepo.folders[42] = &types.FavoriteFolder{MediaID: 42, Title: "我的收藏"}

	status, err := fx.svc.GetFolderStatus(context.Background(), 42)
	if err != nil {
		t.Fatalf("GetFolderStatus: %v", err)
	}
	if status.IndexedCount != 1 || status.ChunkCount != 17 || status.Title != "我的收藏" {
		t.Fatalf("status: got=%+v", status)
	}
}

func TestDeleteVideo(t *testing.T) {
	fx := newBuildFixture(t, &fakeFavoritesAPI{})
	seed := []*types.FavoriteVideo{{MediaID: 42, Bvid: "BV1a"}}
	if err := fx.videoRepo.Upsert(context.Background(), nil, seed); err != nil {
		t.Fatalf("seed rows: %v", err)
	}
	fx.cacheRepo.entries["BV1a"] = &types.VideoCache{Bvid: "BV1a"}

	if err := fx.svc.DeleteVideo(context.Background(), 42, "BV1a"); err != nil {
		t.Fatalf("DeleteVideo: %v", err)
	}
	if len(fx.indexer.removed) != 1 || fx.indexer.removed[0] != "BV1a" {
		t.Fatalf("vectors not removed: %v", fx.indexer.removed)
	}
	rows, _ := fx.videoRepo.ListByMediaID(context.Background(), nil, 42)
	if len(rows) != 0 {
		t.Fatalf("row survived delete")
	}
}

func TestSyncAllFoldersWalksEveryFolder(t *testing.T) {
	bili := &fakeFavoritesAPI{
		folders: []bilibili.FolderMeta{
			{ID: 42, Title: "默认收藏夹"},
			{ID: 43, Title: "学习"},
		},
		medias: []bilibili.Media{validMedia("BV1a", "视频A"), validMedia("BV1b", "视频B")},
	}
	fx := newBuildFixture(t, bili)

	results, err := fx.svc.SyncAllFolders(context.Background(), testSession())
	if err != nil {
		t.Fatalf("SyncAllFolders: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results: want=2 got=%d", len(results))
	}
	for _, r := range results {
		if r.Status != types.BuildCompleted {
			t.Fatalf("folder %d status: want=%s got=%s (err=%s)", r.MediaID, types.BuildCompleted, r.Status, r.Error)
		}
		if r.Added != 2 {
			t.Fatalf("folder %d added: want=2 got=%d", r.MediaID, r.Added)
		}
	}
	// Both folders index both videos.
	if len(fx.indexer.indexed) != 4 {
		t.Fatalf("indexed calls: want=4 got=%d", len(fx.indexer.indexed))
	}
}

func TestSyncAllFoldersReportsInFlightFolder(t *testing.T) {
	bili := &fakeFavoritesAPI{
		folders: []bilibili.FolderMeta{{ID: 42, Title: "默认收藏夹"}},
		medias:  []bilibili.Media{validMedia("BV1a", "视频A")},
	}
	fx := newBuildFixture(t, bili)
	if _, err := fx.tasks.Create([]int64{42}); err != nil {
		t.Fatalf("seed in-flight task: %v", err)
	}

	results, err := fx.svc.SyncAllFolders(context.Background(), testSession())
	if err != nil {
		t.Fatalf("SyncAllFolders: %v", err)
	}
	if len(results) != 1 || results[0].Status != types.BuildFailed {
		t.Fatalf("in-flight folder should be reported failed: %+v", results)
	}
	if len(fx.indexer.indexed) != 0 {
		t.Fatalf("in-flight folder must not be rebuilt")
	}
}

func TestStatsAggregatesFolders(t *testing.T) {
	fx := newBuildFixture(t, &fakeFavoritesAPI{})
	fx.indexer.chunks = 7
	folders := []*types.FavoriteFolder{
		{MediaID: 42, Title: "默认收藏夹"},
		{MediaID: 43, Title: "学习"},
	}
	if err := fx.folderRepo.Upsert(context.Background(), nil, folders); err != nil {
		t.Fatalf("seed folders: %v", err)
	}
	rows := []*types.FavoriteVideo{
		{MediaID: 42, Bvid: "BV1a"},
		{MediaID: 42, Bvid: "BV1b"},
		{MediaID: 43, Bvid: "BV1c"},
	}
	if err := fx.videoRepo.Upsert(context.Background(), nil, rows); err != nil {
		t.Fatalf("seed rows: %v", err)
	}

	stats, err := fx.svc.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if len(stats.Folders) != 2 {
		t.Fatalf("folders: want=2 got=%d", len(stats.Folders))
	}
	if stats.TotalVideos != 3 {
		t.Fatalf("total videos: want=3 got=%d", stats.TotalVideos)
	}
	if stats.TotalChunks != 14 {
		t.Fatalf("total chunks: want=14 got=%d", stats.TotalChunks)
	}
}

func TestListFolderVideosRequiresCookies(t *testing.T) {
	fx := newBuildFixture(t, &fakeFavoritesAPI{medias: []bilibili.Media{validMedia("BV1a", "视频A")}})

	if _, err := fx.svc.ListFolderVideos(context.Background(), &types.UserSession{}, 42, 1, 20); err == nil {
		t.Fatalf("expected error for session without cookies")
	}
	page, err := fx.svc.ListFolderVideos(context.Background(), testSession(), 42, 0, 20)
	if err != nil {
		t.Fatalf("ListFolderVideos: %v", err)
	}
	if page.Info.ID != 42 || len(page.Medias) != 1 {
		t.Fatalf("page: info=%d medias=%d", page.Info.ID, len(page.Medias))
	}
}

func TestBuildCoversMultipleFolders(t *testing.T) {
	bili := &fakeFavoritesAPI{medias: []bilibili.Media{
		validMedia("BV1a", "视频A"),
		validMedia("BV1b", "视频B"),
	}}
	fx := newBuildFixture(t, bili)

	task, err := fx.svc.StartBuild(context.Background(), testSession(), []int64{42, 43}, nil)
	if err != nil {
		t.Fatalf("StartBuild: %v", err)
	}
	if len(task.MediaIDs) != 2 {
		t.Fatalf("task folders: want=2 got=%v", task.MediaIDs)
	}
	done := waitForTask(t, fx.svc, task.TaskID)

	if done.Status != types.BuildCompleted {
		t.Fatalf("status: got=%s err=%s", done.Status, done.Error)
	}
	if done.Added != 4 || done.Processed != 4 || done.Total != 4 {
		t.Fatalf("counters: got=%+v", done)
	}
	for _, mediaID := range []int64{42, 43} {
		rows, _ := fx.videoRepo.ListByMediaID(context.Background(), nil, mediaID)
		if len(rows) != 2 {
			t.Fatalf("folder %d rows: want=2 got=%d", mediaID, len(rows))
		}
	}
}

func TestBuildExcludedVideosAreUntouched(t *testing.T) {
	bili := &fakeFavoritesAPI{medias: []bilibili.Media{
		validMedia("BV1a", "视频A"),
		validMedia("BV1skip", "跳过"),
	}}
	fx := newBuildFixture(t, bili)

	// BV1skip is already indexed. Excluding it must neither re-index nor
	// remove it.
	seed := []*types.FavoriteVideo{{MediaID: 42, Bvid: "BV1skip"}}
	if err := fx.videoRepo.Upsert(context.Background(), nil, seed); err != nil {
		t.Fatalf("seed rows: %v", err)
	}

	task, err := fx.svc.StartBuild(context.Background(), testSession(), []int64{42}, []string{"BV1skip"})
	if err != nil {
		t.Fatalf("StartBuild: %v", err)
	}
	done := waitForTask(t, fx.svc, task.TaskID)

	if done.Status != types.BuildCompleted {
		t.Fatalf("status: got=%s err=%s", done.Status, done.Error)
	}
	if len(fx.indexer.indexed) != 1 || fx.indexer.indexed[0] != "BV1a" {
		t.Fatalf("indexed: got=%v", fx.indexer.indexed)
	}
	if len(fx.indexer.removed) != 0 {
		t.Fatalf("excluded video was removed: %v", fx.indexer.removed)
	}
	rows, _ := fx.videoRepo.ListByMediaID(context.Background(), nil, 42)
	if len(rows) != 2 {
		t.Fatalf("rows: want=2 got=%d", len(rows))
	}
}

func TestBuildAdvancesLastSyncAt(t *testing.T) {
	bili := &fakeFavoritesAPI{medias: []bilibili.Media{validMedia("BV1a", "视频A")}}
	fx := newBuildFixture(t, bili)

	task, err := fx.svc.StartBuild(context.Background(), testSession(), []int64{42}, nil)
	if err != nil {
		t.Fatalf("StartBuild: %v", err)
	}
	done := waitForTask(t, fx.svc, task.TaskID)
	if done.Status != types.BuildCompleted {
		t.Fatalf("status: got=%s err=%s", done.Status, done.Error)
	}

	folder, _ := fx.folderRepo.GetByMediaID(context.Background(), nil, 42)
	if folder == nil || folder.LastSyncAt == nil {
		t.Fatalf("last sync timestamp not set: %+v", folder)
	}
	status, err := fx.svc.GetFolderStatus(context.Background(), 42)
	if err != nil {
		t.Fatalf("GetFolderStatus: %v", err)
	}
	if status.LastSyncAt == nil || status.MediaCount != 1 {
		t.Fatalf("status: got=%+v", status)
	}
}

func TestClearIndex(t *testing.T) {
	fx := newBuildFixture(t, &fakeFavoritesAPI{})
	folders := []*types.FavoriteFolder{
		{MediaID: 42, Title: "默认收藏夹"},
		{MediaID: 43, Title: "学习"},
	}
	if err := fx.folderRepo.Upsert(context.Background(), nil, folders); err != nil {
		t.Fatalf("seed folders: %v", err)
	}
	rows := []*types.FavoriteVideo{
		{MediaID: 42, Bvid: "BV1a"},
		{MediaID: 43, Bvid: "BV1b"},
	}
	if err := fx.videoRepo.Upsert(context.Background(), nil, rows); err != nil {
		t.Fatalf("seed rows: %v", err)
	}
	fx.cacheRepo.entries["BV1a"] = &types.VideoCache{Bvid: "BV1a"}

	if err := fx.svc.ClearIndex(context.Background()); err != nil {
		t.Fatalf("ClearIndex: %v", err)
	}
	sort.Slice(fx.indexer.cleared, func(i, j int) bool { return fx.indexer.cleared[i] < fx.indexer.cleared[j] })
	if len(fx.indexer.cleared) != 2 || fx.indexer.cleared[0] != 42 || fx.indexer.cleared[1] != 43 {
		t.Fatalf("cleared namespaces: got=%v", fx.indexer.cleared)
	}
	for _, mediaID := range []int64{42, 43} {
		if rows, _ := fx.videoRepo.ListByMediaID(context.Background(), nil, mediaID); len(rows) != 0 {
			t.Fatalf("folder %d rows survived clear", mediaID)
		}
	}
	if entry, _ := fx.cacheRepo.GetByBvid(context.Background(), nil, "BV1a"); entry != nil {
		t.Fatalf("cache survived clear")
	}
}

func TestClearIndexBlockedWhileBuilding(t *testing.T) {
	gate := make(chan struct{})
	fx := newBuildFixture(t, &fakeFavoritesAPI{gate: gate})

	task, err := fx.svc.StartBuild(context.Background(), testSession(), []int64{42}, nil)
	if err != nil {
		t.Fatalf("StartBuild: %v", err)
	}
	if err := fx.svc.ClearIndex(context.Background()); !errors.Is(err, ErrBuildInFlight) {
		t.Fatalf("ClearIndex: want=ErrBuildInFlight got=%v", err)
	}
	close(gate)
	waitForTask(t, fx.svc, task.TaskID)
}
