package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/bilirag-backend/internal/middleware"
	"github.com/yungbote/bilirag-backend/internal/services"
)

type FavoritesHandler struct {
	buildService services.KnowledgeBuildService
}

func NewFavoritesHandler(buildService services.KnowledgeBuildService) *FavoritesHandler {
	return &FavoritesHandler{buildService: buildService}
}

// ListFolders returns the caller's favorites folders from upstream.
func (fh *FavoritesHandler) ListFolders(c *gin.Context) {
	session := middleware.SessionFromContext(c)
	if session == nil {
		RespondError(c, http.StatusUnauthorized, "no_session", errMissing("session"))
		return
	}
	folders, err := fh.buildService.ListRemoteFolders(c.Request.Context(), session)
	if err != nil {
		RespondError(c, http.StatusBadGateway, "folder_list_failed", err)
		return
	}
	RespondOK(c, gin.H{"folders": folders})
}

// ListFolderVideos returns one page of a folder's videos from upstream.
func (fh *FavoritesHandler) ListFolderVideos(c *gin.Context) {
	session := middleware.SessionFromContext(c)
	if session == nil {
		RespondError(c, http.StatusUnauthorized, "no_session", errMissing("session"))
		return
	}
	mediaID, ok := mediaIDParam(c)
	if !ok {
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	folderPage, err := fh.buildService.ListFolderVideos(c.Request.Context(), session, mediaID, page, pageSize)
	if err != nil {
		RespondError(c, http.StatusBadGateway, "folder_videos_failed", err)
		return
	}
	RespondOK(c, gin.H{
		"info":     folderPage.Info,
		"videos":   folderPage.Medias,
		"has_more": folderPage.HasMore,
	})
}
