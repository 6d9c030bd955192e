package bilibili

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"

	qrcode "github.com/skip2/go-qrcode"
)

// QRLoginStatus is the scan state reported by the passport poll endpoint.
type QRLoginStatus string

const (
	QRWaiting   QRLoginStatus = "waiting"
	QRScanned   QRLoginStatus = "scanned"
	QRConfirmed QRLoginStatus = "confirmed"
	QRExpired   QRLoginStatus = "expired"
)

type QRCode struct {
	QRCodeKey   string `json:"qrcode_key"`
	URL         string `json:"qrcode_url"`
	ImageBase64 string `json:"qrcode_image_base64"`
}

type QRPollResult struct {
	Status       QRLoginStatus `json:"status"`
	Message      string        `json:"message"`
	Cookies      Cookies       `json:"-"`
	RefreshToken string        `json:"-"`
}

type qrGenerateData struct {
	QRCodeKey string `json:"qrcode_key"`
	URL       string `json:"url"`
}

// GenerateQRCode requests a login QR code and renders it to a PNG data URI
// so the frontend can show it directly.
func (c *Client) GenerateQRCode(ctx context.Context) (*QRCode, error) {
	var data qrGenerateData
	endpoint := c.passportURL + "/x/passport-login/web/qrcode/generate"
	if err := c.doJSON(ctx, "qrcode/generate", endpoint, nil, nil, &data); err != nil {
		return nil, err
	}
	png, err := qrcode.Encode(data.URL, qrcode.Medium, 256)
	if err != nil {
		return nil, fmt.Errorf("render qr code: %w", err)
	}
	return &QRCode{
		QRCodeKey:   data.QRCodeKey,
		URL:         data.URL,
		ImageBase64: "data:image/png;base64," + base64.StdEncoding.EncodeToString(png),
	}, nil
}

type qrPollData struct {
	Code         int    `json:"code"`
	Message      string `json:"message"`
	URL          string `json:"url"`
	RefreshToken string `json:"refresh_token"`
}

// PollQRCode checks the scan state once. On confirmation the login cookies
// are collected from the response's Set-Cookie headers, with the redirect
// URL's query as fallback.
func (c *Client) PollQRCode(ctx context.Context, qrcodeKey string) (*QRPollResult, error) {
	endpoint := c.passportURL + "/x/passport-login/web/qrcode/poll"
	params := url.Values{}
	params.Set("qrcode_key", qrcodeKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	applyBrowserHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var env struct {
		Code    int        `json:"code"`
		Message string     `json:"message"`
		Data    qrPollData `json:"data"`
	}
	if err := decodeJSON(resp, &env); err != nil {
		return nil, fmt.Errorf("decode qr poll: %w", err)
	}
	if env.Code != 0 {
		return nil, &APIError{Code: env.Code, Message: env.Message, Endpoint: "qrcode/poll"}
	}

	result := &QRPollResult{}
	switch env.Data.Code {
	case 86101:
		result.Status, result.Message = QRWaiting, "waiting for scan"
	case 86090:
		result.Status, result.Message = QRScanned, "scanned, waiting for confirmation"
	case 86038:
		result.Status, result.Message = QRExpired, "qr code expired"
	case 0:
		result.Status, result.Message = QRConfirmed, "login confirmed"
	default:
		result.Status, result.Message = "unknown", env.Data.Message
	}

	if result.Status == QRConfirmed {
		cookies := Cookies{}
		for _, ck := range resp.Cookies() {
			cookies[ck.Name] = ck.Value
		}
		// Some gateways return the cookies only in the redirect URL.
		if u, parseErr := url.Parse(env.Data.URL); parseErr == nil {
			q := u.Query()
			for _, name := range []string{"SESSDATA", "bili_jct", "DedeUserID"} {
				if v := q.Get(name); v != "" && cookies[name] == "" {
					cookies[name] = v
				}
			}
		}
		result.Cookies = cookies
		result.RefreshToken = env.Data.RefreshToken
	}
	return result, nil
}

// NavInfo is the logged-in account profile from the nav endpoint.
type NavInfo struct {
	IsLogin bool   `json:"isLogin"`
	Mid     int64  `json:"mid"`
	Uname   string `json:"uname"`
	Face    string `json:"face"`
}

func (c *Client) GetUserInfo(ctx context.Context, cookies Cookies) (*NavInfo, error) {
	var info NavInfo
	endpoint := c.baseURL + "/x/web-interface/nav"
	if err := c.doJSON(ctx, "nav", endpoint, nil, cookies, &info); err != nil {
		return nil, err
	}
	return &info, nil
}
