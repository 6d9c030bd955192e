package bilibili

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/yungbote/bilirag-backend/internal/platform/logger"
)

// mixinKeyEncTab is the permutation table for deriving the wbi mixin key
// from the concatenated img and sub keys.
var mixinKeyEncTab = [64]int{
	46, 47, 18, 2, 53, 8, 23, 32, 15, 50, 10, 31, 58, 3, 45, 35,
	27, 43, 5, 49, 33, 9, 42, 19, 29, 28, 14, 39, 12, 38, 41, 13,
	37, 48, 7, 16, 24, 55, 40, 61, 26, 17, 0, 1, 60, 51, 30, 4,
	22, 25, 54, 21, 56, 59, 6, 63, 57, 62, 11, 36, 20, 34, 44, 52,
}

// WbiSigner signs request parameters with the w_rid scheme some endpoints
// require. Keys rotate upstream, so they are refetched hourly, or eagerly
// whenever a signed call carries login cookies.
type WbiSigner struct {
	log        *logger.Logger
	httpClient *http.Client
	navURL     string

	mu             sync.Mutex
	mixinKey       string
	lastUpdate     time.Time
	updateInterval time.Duration
}

func NewWbiSigner(log *logger.Logger, httpClient *http.Client, navURL string) *WbiSigner {
	return &WbiSigner{
		log:            log.With("component", "WbiSigner"),
		httpClient:     httpClient,
		navURL:         navURL,
		updateInterval: time.Hour,
	}
}

func deriveMixinKey(orig string) string {
	var b strings.Builder
	b.Grow(32)
	for _, idx := range mixinKeyEncTab {
		if idx < len(orig) {
			b.WriteByte(orig[idx])
		}
	}
	key := b.String()
	if len(key) > 32 {
		key = key[:32]
	}
	return key
}

// signQuery filters the reserved characters out of every value, appends the
// wts timestamp, then computes w_rid as md5 of the sorted query plus the
// mixin key.
func signQuery(params url.Values, mixinKey string, wts int64) url.Values {
	signed := url.Values{}
	for k, vs := range params {
		for _, v := range vs {
			signed.Add(k, stripReserved(v))
		}
	}
	signed.Set("wts", strconv.FormatInt(wts, 10))
	// url.Values.Encode sorts by key, matching the signing contract.
	sum := md5.Sum([]byte(signed.Encode() + mixinKey))
	signed.Set("w_rid", hex.EncodeToString(sum[:]))
	return signed
}

func stripReserved(v string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '!', '\'', '(', ')', '*':
			return -1
		}
		return r
	}, v)
}

type navResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		WbiImg struct {
			ImgURL string `json:"img_url"`
			SubURL string `json:"sub_url"`
		} `json:"wbi_img"`
	} `json:"data"`
}

func (s *WbiSigner) fetchKeys(ctx context.Context, cookies map[string]string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.navURL, nil)
	if err != nil {
		return err
	}
	applyBrowserHeaders(req)
	applyCookies(req, cookies)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch wbi keys: %w", err)
	}
	defer resp.Body.Close()

	var nav navResponse
	if err := decodeJSON(resp, &nav); err != nil {
		return fmt.Errorf("decode wbi keys: %w", err)
	}
	if nav.Code != 0 {
		return &APIError{Code: nav.Code, Message: nav.Message, Endpoint: "nav"}
	}

	imgKey := keyFromBfsURL(nav.Data.WbiImg.ImgURL)
	subKey := keyFromBfsURL(nav.Data.WbiImg.SubURL)
	if imgKey == "" || subKey == "" {
		return fmt.Errorf("wbi keys missing in nav response")
	}

	s.mu.Lock()
	s.mixinKey = deriveMixinKey(imgKey + subKey)
	s.lastUpdate = time.Now()
	s.mu.Unlock()
	return nil
}

// keyFromBfsURL extracts the bare key from URLs shaped like
// https://i0.hdslb.com/bfs/wbi/<key>.png
func keyFromBfsURL(raw string) string {
	idx := strings.LastIndex(raw, "/")
	if idx < 0 || idx == len(raw)-1 {
		return ""
	}
	name := raw[idx+1:]
	if dot := strings.Index(name, "."); dot >= 0 {
		name = name[:dot]
	}
	return name
}

func (s *WbiSigner) ensureKeys(ctx context.Context, cookies map[string]string) error {
	s.mu.Lock()
	stale := s.mixinKey == "" || time.Since(s.lastUpdate) > s.updateInterval
	s.mu.Unlock()
	// Cookies change which keys the account sees, so refresh eagerly.
	if len(cookies) > 0 || stale {
		return s.fetchKeys(ctx, cookies)
	}
	return nil
}

// Sign returns a copy of params with wts and w_rid added.
func (s *WbiSigner) Sign(ctx context.Context, params url.Values, cookies map[string]string) (url.Values, error) {
	if err := s.ensureKeys(ctx, cookies); err != nil {
		return nil, err
	}
	s.mu.Lock()
	key := s.mixinKey
	s.mu.Unlock()
	return signQuery(params, key, time.Now().Unix()), nil
}
