package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/bilirag-backend/internal/middleware"
	"github.com/yungbote/bilirag-backend/internal/services"
	"github.com/yungbote/bilirag-backend/internal/types"
)

type KnowledgeHandler struct {
	buildService services.KnowledgeBuildService
}

func NewKnowledgeHandler(buildService services.KnowledgeBuildService) *KnowledgeHandler {
	return &KnowledgeHandler{buildService: buildService}
}

func mediaIDParam(c *gin.Context) (int64, bool) {
	mediaID, err := strconv.ParseInt(c.Param("media_id"), 10, 64)
	if err != nil || mediaID <= 0 {
		RespondError(c, http.StatusBadRequest, "invalid_media_id", errors.New("media_id must be a positive integer"))
		return 0, false
	}
	return mediaID, true
}

// BuildRequest selects the folders to build and any videos to leave alone.
type BuildRequest struct {
	FolderIDs    []int64  `json:"folder_ids" binding:"required,min=1"`
	ExcludeBVIDs []string `json:"exclude_bvids"`
}

// StartBuild kicks off one asynchronous build covering the requested
// folders and returns the task.
func (kh *KnowledgeHandler) StartBuild(c *gin.Context) {
	session := middleware.SessionFromContext(c)
	if session == nil {
		RespondError(c, http.StatusUnauthorized, "no_session", errMissing("session"))
		return
	}
	var req BuildRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	kh.startBuild(c, session, req.FolderIDs, req.ExcludeBVIDs)
}

// StartFolderBuild is the single-folder form of StartBuild.
func (kh *KnowledgeHandler) StartFolderBuild(c *gin.Context) {
	session := middleware.SessionFromContext(c)
	if session == nil {
		RespondError(c, http.StatusUnauthorized, "no_session", errMissing("session"))
		return
	}
	mediaID, ok := mediaIDParam(c)
	if !ok {
		return
	}
	kh.startBuild(c, session, []int64{mediaID}, nil)
}

func (kh *KnowledgeHandler) startBuild(c *gin.Context, session *types.UserSession, folderIDs []int64, excludeBVIDs []string) {
	task, err := kh.buildService.StartBuild(c.Request.Context(), session, folderIDs, excludeBVIDs)
	if err != nil {
		if errors.Is(err, services.ErrBuildInFlight) {
			RespondError(c, http.StatusConflict, "build_in_flight", err)
			return
		}
		RespondError(c, http.StatusBadRequest, "build_start_failed", err)
		return
	}
	c.JSON(http.StatusAccepted, task)
}

// SyncAll walks every remote folder and blocks until each sync finishes.
func (kh *KnowledgeHandler) SyncAll(c *gin.Context) {
	session := middleware.SessionFromContext(c)
	if session == nil {
		RespondError(c, http.StatusUnauthorized, "no_session", errMissing("session"))
		return
	}
	results, err := kh.buildService.SyncAllFolders(c.Request.Context(), session)
	if err != nil {
		RespondError(c, http.StatusBadGateway, "sync_failed", err)
		return
	}
	RespondOK(c, gin.H{"results": results})
}

// Stats aggregates the index across all known folders.
func (kh *KnowledgeHandler) Stats(c *gin.Context) {
	stats, err := kh.buildService.Stats(c.Request.Context())
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "stats_failed", err)
		return
	}
	RespondOK(c, stats)
}

// GetTask reports build progress.
func (kh *KnowledgeHandler) GetTask(c *gin.Context) {
	taskID := c.Param("task_id")
	task, ok := kh.buildService.GetTask(taskID)
	if !ok {
		RespondError(c, http.StatusNotFound, "task_not_found", errors.New("unknown task id"))
		return
	}
	RespondOK(c, task)
}

// FolderStatus returns the indexed view of a folder.
func (kh *KnowledgeHandler) FolderStatus(c *gin.Context) {
	mediaID, ok := mediaIDParam(c)
	if !ok {
		return
	}
	status, err := kh.buildService.GetFolderStatus(c.Request.Context(), mediaID)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "folder_status_failed", err)
		return
	}
	RespondOK(c, status)
}

// ClearFolder wipes a folder's index and membership rows.
func (kh *KnowledgeHandler) ClearFolder(c *gin.Context) {
	mediaID, ok := mediaIDParam(c)
	if !ok {
		return
	}
	if err := kh.buildService.ClearFolder(c.Request.Context(), mediaID); err != nil {
		if errors.Is(err, services.ErrBuildInFlight) {
			RespondError(c, http.StatusConflict, "build_in_flight", err)
			return
		}
		RespondError(c, http.StatusInternalServerError, "folder_clear_failed", err)
		return
	}
	RespondOK(c, gin.H{"message": "folder cleared"})
}

// ClearIndex wipes the whole knowledge base.
func (kh *KnowledgeHandler) ClearIndex(c *gin.Context) {
	if err := kh.buildService.ClearIndex(c.Request.Context()); err != nil {
		if errors.Is(err, services.ErrBuildInFlight) {
			RespondError(c, http.StatusConflict, "build_in_flight", err)
			return
		}
		RespondError(c, http.StatusInternalServerError, "index_clear_failed", err)
		return
	}
	RespondOK(c, gin.H{"message": "index cleared"})
}

// DeleteVideo removes one video from a folder's index.
func (kh *KnowledgeHandler) DeleteVideo(c *gin.Context) {
	mediaID, ok := mediaIDParam(c)
	if !ok {
		return
	}
	bvid := c.Param("bvid")
	if bvid == "" {
		RespondError(c, http.StatusBadRequest, "missing_bvid", errMissing("bvid"))
		return
	}
	if err := kh.buildService.DeleteVideo(c.Request.Context(), mediaID, bvid); err != nil {
		RespondError(c, http.StatusInternalServerError, "video_delete_failed", err)
		return
	}
	RespondOK(c, gin.H{"message": "video removed"})
}
