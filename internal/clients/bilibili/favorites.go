package bilibili

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// FolderMeta describes one favorites folder as listed by the created
// folders endpoint.
type FolderMeta struct {
	ID         int64  `json:"id"`
	Fid        int64  `json:"fid"`
	Mid        int64  `json:"mid"`
	Title      string `json:"title"`
	MediaCount int    `json:"media_count"`
}

// Media is one entry of a folder listing. Attr 9 marks an entry whose video
// has been taken down.
type Media struct {
	ID       int64  `json:"id"`
	Bvid     string `json:"bvid"`
	Title    string `json:"title"`
	Cover    string `json:"cover"`
	Intro    string `json:"intro"`
	Duration int64  `json:"duration"`
	Attr     int    `json:"attr"`
	Upper    struct {
		Mid  int64  `json:"mid"`
		Name string `json:"name"`
	} `json:"upper"`
}

const invalidMediaAttr = 9

// Invalid reports whether the entry points at a video that no longer
// resolves and must be skipped by builds.
func (m *Media) Invalid() bool {
	if m.Attr == invalidMediaAttr {
		return true
	}
	switch m.Title {
	case "已失效视频", "已删除视频":
		return true
	}
	return m.Bvid == ""
}

type folderListData struct {
	Count int          `json:"count"`
	List  []FolderMeta `json:"list"`
}

// ListFolders returns every favorites folder created by mid.
func (c *Client) ListFolders(ctx context.Context, mid int64, cookies Cookies) ([]FolderMeta, error) {
	params := url.Values{}
	params.Set("up_mid", strconv.FormatInt(mid, 10))

	var data folderListData
	endpoint := c.baseURL + "/x/v3/fav/folder/created/list-all"
	if err := c.doJSON(ctx, "fav/folder/created/list-all", endpoint, params, cookies, &data); err != nil {
		return nil, err
	}
	return data.List, nil
}

type folderPageData struct {
	Info    FolderMeta `json:"info"`
	Medias  []Media    `json:"medias"`
	HasMore bool       `json:"has_more"`
}

// FolderPage is one page of a folder listing.
type FolderPage struct {
	Info    FolderMeta
	Medias  []Media
	HasMore bool
}

const maxPageSize = 20

// GetFolderPage fetches one page of a folder. Page size is capped upstream
// at 20.
func (c *Client) GetFolderPage(ctx context.Context, mediaID int64, pn, ps int, cookies Cookies) (*FolderPage, error) {
	if ps <= 0 || ps > maxPageSize {
		ps = maxPageSize
	}
	params := url.Values{}
	params.Set("media_id", strconv.FormatInt(mediaID, 10))
	params.Set("pn", strconv.Itoa(pn))
	params.Set("ps", strconv.Itoa(ps))
	params.Set("platform", "web")

	var data folderPageData
	endpoint := c.baseURL + "/x/v3/fav/resource/list"
	if err := c.doJSON(ctx, "fav/resource/list", endpoint, params, cookies, &data); err != nil {
		return nil, err
	}
	return &FolderPage{Info: data.Info, Medias: data.Medias, HasMore: data.HasMore}, nil
}

// ListAllFolderVideos drains every page of a folder, pacing requests to stay
// under the rate limit.
func (c *Client) ListAllFolderVideos(ctx context.Context, mediaID int64, cookies Cookies) ([]Media, error) {
	var all []Media
	for pn := 1; ; pn++ {
		page, err := c.GetFolderPage(ctx, mediaID, pn, maxPageSize, cookies)
		if err != nil {
			return nil, fmt.Errorf("folder %d page %d: %w", mediaID, pn, err)
		}
		all = append(all, page.Medias...)
		if !page.HasMore {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.pageDelay):
		}
	}
	return all, nil
}
