package bilibili

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
)

// VideoView is the detail record from the view endpoint.
type VideoView struct {
	Bvid     string `json:"bvid"`
	Aid      int64  `json:"aid"`
	Cid      int64  `json:"cid"`
	Title    string `json:"title"`
	Desc     string `json:"desc"`
	Pic      string `json:"pic"`
	Duration int64  `json:"duration"`
	Owner    struct {
		Mid  int64  `json:"mid"`
		Name string `json:"name"`
	} `json:"owner"`
	Pages []struct {
		Cid  int64  `json:"cid"`
		Page int    `json:"page"`
		Part string `json:"part"`
	} `json:"pages"`
}

func (c *Client) GetVideoInfo(ctx context.Context, bvid string, cookies Cookies) (*VideoView, error) {
	params := url.Values{}
	params.Set("bvid", bvid)

	var view VideoView
	endpoint := c.baseURL + "/x/web-interface/view"
	if err := c.doJSON(ctx, "web-interface/view", endpoint, params, cookies, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// VideoSummary is the AI conclusion attached to some videos.
type VideoSummary struct {
	ModelResult struct {
		ResultType int    `json:"result_type"`
		Summary    string `json:"summary"`
		Outline    []struct {
			Title       string `json:"title"`
			PartOutline []struct {
				Timestamp int64  `json:"timestamp"`
				Content   string `json:"content"`
			} `json:"part_outline"`
		} `json:"outline"`
	} `json:"model_result"`
}

// Text flattens the summary and outline into a single block, empty when the
// video has no conclusion.
func (s *VideoSummary) Text() string {
	if s == nil {
		return ""
	}
	var parts []string
	if s.ModelResult.Summary != "" {
		parts = append(parts, s.ModelResult.Summary)
	}
	for _, section := range s.ModelResult.Outline {
		if section.Title != "" {
			parts = append(parts, section.Title)
		}
		for _, p := range section.PartOutline {
			if p.Content != "" {
				parts = append(parts, p.Content)
			}
		}
	}
	return strings.Join(parts, "\n")
}

// GetVideoSummary fetches the AI conclusion. The endpoint requires a wbi
// signature. A nil summary with nil error means the video has none.
func (c *Client) GetVideoSummary(ctx context.Context, bvid string, cid int64, upMid int64, cookies Cookies) (*VideoSummary, error) {
	params := url.Values{}
	params.Set("bvid", bvid)
	params.Set("cid", strconv.FormatInt(cid, 10))
	if upMid != 0 {
		params.Set("up_mid", strconv.FormatInt(upMid, 10))
	}

	var summary VideoSummary
	endpoint := c.baseURL + "/x/web-interface/view/conclusion/get"
	if err := c.doSignedJSON(ctx, "view/conclusion/get", endpoint, params, cookies, &summary); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			c.log.Warn("Video summary unavailable", "bvid", bvid, "code", apiErr.Code)
			return nil, nil
		}
		return nil, err
	}
	return &summary, nil
}

// PlayerInfo carries the subtitle list for a video page.
type PlayerInfo struct {
	Subtitle struct {
		Subtitles []struct {
			Lan         string `json:"lan"`
			LanDoc      string `json:"lan_doc"`
			SubtitleURL string `json:"subtitle_url"`
		} `json:"subtitles"`
	} `json:"subtitle"`
}

// GetPlayerInfo prefers the signed endpoint, which returns subtitles more
// reliably, and falls back to the plain one.
func (c *Client) GetPlayerInfo(ctx context.Context, bvid string, cid int64, aid int64, cookies Cookies) (*PlayerInfo, error) {
	params := url.Values{}
	params.Set("bvid", bvid)
	params.Set("cid", strconv.FormatInt(cid, 10))
	if aid != 0 {
		params.Set("aid", strconv.FormatInt(aid, 10))
	}

	var info PlayerInfo
	signedEndpoint := c.baseURL + "/x/player/wbi/v2"
	err := c.doSignedJSON(ctx, "player/wbi/v2", signedEndpoint, params, cookies, &info)
	if err == nil {
		return &info, nil
	}
	c.log.Warn("Signed player info failed, falling back", "bvid", bvid, "error", err.Error())

	endpoint := c.baseURL + "/x/player/v2"
	if err := c.doJSON(ctx, "player/v2", endpoint, params, cookies, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// DownloadSubtitle fetches a subtitle JSON document and joins its lines.
func (c *Client) DownloadSubtitle(ctx context.Context, subtitleURL string) (string, error) {
	if strings.HasPrefix(subtitleURL, "//") {
		subtitleURL = "https:" + subtitleURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, subtitleURL, nil)
	if err != nil {
		return "", err
	}
	applyBrowserHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var doc struct {
		Body []struct {
			Content string `json:"content"`
		} `json:"body"`
	}
	if err := decodeJSON(resp, &doc); err != nil {
		return "", fmt.Errorf("decode subtitle: %w", err)
	}
	lines := make([]string, 0, len(doc.Body))
	for _, item := range doc.Body {
		if item.Content != "" {
			lines = append(lines, item.Content)
		}
	}
	return strings.Join(lines, "\n"), nil
}

type playURLData struct {
	Dash struct {
		Audio []struct {
			BaseURL   string `json:"baseUrl"`
			BaseURL2  string `json:"base_url"`
			Bandwidth int64  `json:"bandwidth"`
		} `json:"audio"`
	} `json:"dash"`
	Durl []struct {
		URL string `json:"url"`
	} `json:"durl"`
}

func (d *playURLData) bestAudioURL() string {
	var best string
	var bestBW int64 = -1
	for _, a := range d.Dash.Audio {
		if a.Bandwidth > bestBW {
			bestBW = a.Bandwidth
			if a.BaseURL != "" {
				best = a.BaseURL
			} else {
				best = a.BaseURL2
			}
		}
	}
	if best != "" {
		return best
	}
	if len(d.Durl) > 0 {
		return d.Durl[0].URL
	}
	return ""
}

// GetAudioURL resolves the best audio stream for a video page. fnval 16
// requests the DASH format that carries separate audio tracks.
func (c *Client) GetAudioURL(ctx context.Context, bvid string, cid int64, cookies Cookies) (string, error) {
	params := url.Values{}
	params.Set("bvid", bvid)
	params.Set("cid", strconv.FormatInt(cid, 10))
	params.Set("fnval", "16")
	params.Set("fnver", "0")
	params.Set("fourk", "1")

	var data playURLData
	signedEndpoint := c.baseURL + "/x/player/wbi/playurl"
	err := c.doSignedJSON(ctx, "player/wbi/playurl", signedEndpoint, params, cookies, &data)
	if err != nil {
		c.log.Warn("Signed playurl failed, falling back", "bvid", bvid, "error", err.Error())
		endpoint := c.baseURL + "/x/player/playurl"
		if err := c.doJSON(ctx, "player/playurl", endpoint, params, cookies, &data); err != nil {
			return "", err
		}
	}
	audioURL := data.bestAudioURL()
	if audioURL == "" {
		return "", fmt.Errorf("no audio stream for %s cid=%d", bvid, cid)
	}
	return audioURL, nil
}

// DownloadAudio streams an audio URL to a local file. CDN hosts reject
// requests without the browser referer, and member-only streams also need
// the login cookies.
func (c *Client) DownloadAudio(ctx context.Context, audioURL, filePath string, cookies Cookies) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, audioURL, nil)
	if err != nil {
		return err
	}
	applyBrowserHeaders(req)
	applyCookies(req, cookies)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("download audio: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return &httpStatusError{StatusCode: resp.StatusCode, Body: "audio download rejected"}
	}

	f, err := os.Create(filePath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		_ = f.Close()
		_ = os.Remove(filePath)
		return fmt.Errorf("write audio file: %w", err)
	}
	return f.Close()
}
