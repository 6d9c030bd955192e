package services

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/yungbote/bilirag-backend/internal/clients/bilibili"
	"github.com/yungbote/bilirag-backend/internal/platform/logger"
	"github.com/yungbote/bilirag-backend/internal/types"
)

// VideoContent is the text extracted for one video, tagged with the tier it
// came from. Degraded means every transcription path failed and only the
// title and description survived.
type VideoContent struct {
	Bvid     string
	Title    string
	Content  string
	Source   types.ContentSource
	Degraded bool
}

// VideoAPI is the slice of the platform client the fetcher needs. Narrowed
// so tests can substitute a fake without an HTTP transport.
type VideoAPI interface {
	GetVideoInfo(ctx context.Context, bvid string, cookies bilibili.Cookies) (*bilibili.VideoView, error)
	GetVideoSummary(ctx context.Context, bvid string, cid int64, upMid int64, cookies bilibili.Cookies) (*bilibili.VideoSummary, error)
	GetPlayerInfo(ctx context.Context, bvid string, cid int64, aid int64, cookies bilibili.Cookies) (*bilibili.PlayerInfo, error)
	DownloadSubtitle(ctx context.Context, subtitleURL string) (string, error)
	GetAudioURL(ctx context.Context, bvid string, cid int64, cookies bilibili.Cookies) (string, error)
	DownloadAudio(ctx context.Context, audioURL, filePath string, cookies bilibili.Cookies) error
}

// ContentFetcherService resolves the best available text for a video,
// degrading tier by tier. It never returns an error: the worst case is a
// metadata-only record built from the title and description.
type ContentFetcherService interface {
	FetchContent(ctx context.Context, bvid string, cid int64, title string, cookies bilibili.Cookies) VideoContent
}

type contentFetcherService struct {
	log    *logger.Logger
	bili   VideoAPI
	asr    ASRService
	media  MediaToolsService
	prober *http.Client
}

func NewContentFetcherService(log *logger.Logger, bili VideoAPI, asr ASRService, media MediaToolsService) (ContentFetcherService, error) {
	return &contentFetcherService{
		log:    log.With("service", "ContentFetcherService"),
		bili:   bili,
		asr:    asr,
		media:  media,
		prober: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func (s *contentFetcherService) FetchContent(ctx context.Context, bvid string, cid int64, title string, cookies bilibili.Cookies) VideoContent {
	var view *bilibili.VideoView
	if cid == 0 || title == "" {
		var err error
		view, err = s.bili.GetVideoInfo(ctx, bvid, cookies)
		if err != nil {
			s.log.Error("Video info unavailable", "bvid", bvid, "error", err.Error())
			if title == "" {
				title = "未知标题"
			}
			return VideoContent{
				Bvid:     bvid,
				Title:    title,
				Content:  "无法获取视频信息",
				Source:   types.SourceBasicInfo,
				Degraded: true,
			}
		}
		if cid == 0 {
			cid = view.Cid
		}
		if title == "" {
			title = view.Title
		}
	}

	if text := s.tryASR(ctx, bvid, cid, cookies); text != "" {
		return VideoContent{Bvid: bvid, Title: title, Content: text, Source: types.SourceASR}
	}

	var aid, upMid int64
	if view != nil {
		aid, upMid = view.Aid, view.Owner.Mid
	}
	if text := s.trySubtitle(ctx, bvid, cid, aid, cookies); text != "" {
		return VideoContent{Bvid: bvid, Title: title, Content: text, Source: types.SourceSubtitle}
	}

	if text := s.tryAISummary(ctx, bvid, cid, upMid, cookies); text != "" {
		return VideoContent{Bvid: bvid, Title: title, Content: text, Source: types.SourceAISummary}
	}

	if view == nil {
		if fetched, err := s.bili.GetVideoInfo(ctx, bvid, cookies); err == nil {
			view = fetched
		}
	}
	content := "视频标题：" + title
	if view != nil && view.Desc != "" {
		content += "\n\n视频简介：" + view.Desc
	}
	s.log.Info("Falling back to basic video info", "bvid", bvid)
	return VideoContent{
		Bvid:     bvid,
		Title:    title,
		Content:  content,
		Source:   types.SourceBasicInfo,
		Degraded: true,
	}
}

// tryASR transcribes the audio track. The transcription service downloads
// the URL itself, without the referer or cookies the CDN wants, so the URL
// is probed the same way first. When the CDN refuses, the track is pulled
// locally with the session cookies, transcoded, pushed to the temporary
// upload bucket and transcribed from there.
func (s *contentFetcherService) tryASR(ctx context.Context, bvid string, cid int64, cookies bilibili.Cookies) string {
	audioURL, err := s.bili.GetAudioURL(ctx, bvid, cid, cookies)
	if err != nil || audioURL == "" {
		s.log.Info("No audio URL for video", "bvid", bvid)
		return ""
	}

	if s.audioPubliclyReachable(ctx, audioURL) {
		text, err := s.asr.TranscribeURL(ctx, audioURL)
		if err == nil {
			if usable := usableTranscript(text); usable != "" {
				s.log.Info("ASR succeeded from direct URL", "bvid", bvid, "chars", len(usable))
				return usable
			}
			s.log.Info("ASR transcript too short", "bvid", bvid)
			return ""
		}
		s.log.Warn("Direct ASR failed, trying local download", "bvid", bvid, "error", err.Error())
	} else {
		s.log.Info("Audio URL not reachable without cookies, downloading locally", "bvid", bvid)
	}

	text, err := s.transcribeViaDownload(ctx, bvid, audioURL, cookies)
	if err != nil {
		s.log.Warn("ASR via local download failed", "bvid", bvid, "error", err.Error())
		return ""
	}
	if usable := usableTranscript(text); usable != "" {
		s.log.Info("ASR succeeded via local download", "bvid", bvid, "chars", len(usable))
		return usable
	}
	s.log.Info("ASR transcript too short", "bvid", bvid)
	return ""
}

func (s *contentFetcherService) transcribeViaDownload(ctx context.Context, bvid, audioURL string, cookies bilibili.Cookies) (string, error) {
	tmpDir, err := os.MkdirTemp("", "bilirag-audio-*")
	if err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	rawPath := filepath.Join(tmpDir, bvid+".m4s")
	if err := s.bili.DownloadAudio(ctx, audioURL, rawPath, cookies); err != nil {
		return "", fmt.Errorf("download audio: %w", err)
	}
	wavPath, err := s.media.TranscodeToWAV(ctx, rawPath)
	if err != nil {
		return "", err
	}
	ossURL, err := s.asr.UploadTempFile(ctx, wavPath)
	if err != nil {
		return "", err
	}
	return s.asr.TranscribeURL(ctx, ossURL)
}

// audioPubliclyReachable issues a one-byte range request without cookies or
// referer, the same view the transcription service has of the URL.
func (s *contentFetcherService) audioPubliclyReachable(ctx context.Context, audioURL string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, audioURL, nil)
	if err != nil {
		return false
	}
	req.Header.Set("Range", "bytes=0-0")

	resp, err := s.prober.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 400
}

func (s *contentFetcherService) trySubtitle(ctx context.Context, bvid string, cid, aid int64, cookies bilibili.Cookies) string {
	info, err := s.bili.GetPlayerInfo(ctx, bvid, cid, aid, cookies)
	if err != nil {
		s.log.Warn("Player info failed", "bvid", bvid, "error", err.Error())
		return ""
	}
	subs := info.Subtitle.Subtitles
	if len(subs) == 0 {
		s.log.Info("No subtitles listed", "bvid", bvid)
		return ""
	}

	// Prefer a Chinese track, fall back to whatever is first.
	pick := subs[0]
	for _, sub := range subs {
		lan := strings.ToLower(sub.Lan)
		if strings.Contains(lan, "zh") || strings.Contains(lan, "cn") {
			pick = sub
			break
		}
	}
	if pick.SubtitleURL == "" {
		s.log.Info("Subtitle entry has no URL", "bvid", bvid)
		return ""
	}

	text, err := s.bili.DownloadSubtitle(ctx, pick.SubtitleURL)
	if err != nil {
		s.log.Warn("Subtitle download failed", "bvid", bvid, "error", err.Error())
		return ""
	}
	if usable := usableTranscript(text); usable != "" {
		s.log.Info("Subtitle fetched", "bvid", bvid, "lan", pick.Lan, "chars", len(usable))
		return usable
	}
	s.log.Info("Subtitle too short, ignoring", "bvid", bvid)
	return ""
}

func (s *contentFetcherService) tryAISummary(ctx context.Context, bvid string, cid, upMid int64, cookies bilibili.Cookies) string {
	summary, err := s.bili.GetVideoSummary(ctx, bvid, cid, upMid, cookies)
	if err != nil {
		s.log.Warn("Video summary failed", "bvid", bvid, "error", err.Error())
		return ""
	}
	text := strings.TrimSpace(summary.Text())
	if text == "" {
		return ""
	}
	s.log.Info("Using platform AI summary", "bvid", bvid, "chars", len(text))
	return text
}

func usableTranscript(text string) string {
	trimmed := strings.TrimSpace(text)
	if len([]rune(trimmed)) < types.MinUsefulContentLen {
		return ""
	}
	return trimmed
}
