package parser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"PageHarvester/internal/domain"
	"PageHarvester/internal/ports"
	"PageHarvester/internal/textutil"
)

// WeChat listing modes.
const (
	ModeAppMsg     = "appmsg"
	ModeThirdParty = "thirdparty"
)

var (
	// ErrListRejected is returned when a listing API answers with a failure code.
	ErrListRejected = errors.New("listing rejected")
	// ErrMissingCredentials is returned when a wechat source lacks what its mode needs.
	ErrMissingCredentials = errors.New("missing credentials")
)

// WeChatConfig carries the credentials and endpoints of both listing modes.
type WeChatConfig struct {
	Mode               string
	AppMsgEndpoint     string
	ThirdPartyEndpoint string
	Cookie             string
	Token              string
	Key                string
	Secret             string
	PageSize           int
}

// WeChatAdapter lists one official account and extracts its article pages.
type WeChatAdapter struct {
	http     *HTTPClient
	cfg      WeChatConfig
	biz      string
	location *time.Location
	logger   *slog.Logger
}

var _ ports.SourceAdapter = (*WeChatAdapter)(nil)

type appMsgResponse struct {
	BaseResp struct {
		Ret    int    `json:"ret"`
		ErrMsg string `json:"err_msg"`
	} `json:"base_resp"`
	AppMsgList []struct {
		Link       string          `json:"link"`
		Title      string          `json:"title"`
		CreateTime json.RawMessage `json:"create_time"`
	} `json:"app_msg_list"`
}

type thirdPartyResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data []struct {
		URL      string          `json:"url"`
		Title    string          `json:"title"`
		PostTime json.RawMessage `json:"post_time"`
	} `json:"data"`
}

// NewWeChatAdapter validates that the configured mode has its credentials.
func NewWeChatAdapter(client *HTTPClient, cfg WeChatConfig, biz string, loc *time.Location, logger *slog.Logger) (*WeChatAdapter, error) {
	if strings.TrimSpace(biz) == "" {
		return nil, fmt.Errorf("%w: wechat source requires biz", ErrMissingCredentials)
	}
	switch cfg.Mode {
	case ModeAppMsg:
		if cfg.Cookie == "" || cfg.Token == "" {
			return nil, fmt.Errorf("%w: appmsg mode requires cookie and token", ErrMissingCredentials)
		}
	case ModeThirdParty:
		if cfg.Key == "" || cfg.Secret == "" {
			return nil, fmt.Errorf("%w: thirdparty mode requires key and secret", ErrMissingCredentials)
		}
	default:
		return nil, fmt.Errorf("unknown wechat mode %q", cfg.Mode)
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 5
	}
	if loc == nil {
		loc = time.Local
	}

	return &WeChatAdapter{http: client, cfg: cfg, biz: biz, location: loc, logger: logger}, nil
}

// ListCandidates returns the latest articles of the account.
func (w *WeChatAdapter) ListCandidates(ctx context.Context) ([]domain.Candidate, error) {
	if w.cfg.Mode == ModeThirdParty {
		return w.listThirdParty(ctx)
	}
	return w.listAppMsg(ctx)
}

func (w *WeChatAdapter) listAppMsg(ctx context.Context) ([]domain.Candidate, error) {
	params := url.Values{}
	params.Set("action", "list_ex")
	params.Set("begin", "0")
	params.Set("count", strconv.Itoa(w.cfg.PageSize))
	params.Set("fakeid", w.biz)
	params.Set("type", "9")
	params.Set("query", "")
	params.Set("token", w.cfg.Token)
	params.Set("lang", "zh_CN")
	params.Set("f", "json")
	params.Set("ajax", "1")

	header := http.Header{}
	header.Set("Cookie", w.cfg.Cookie)
	header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, err := w.http.List(ctx, withQuery(w.cfg.AppMsgEndpoint, params), header)
	if err != nil {
		return nil, fmt.Errorf("appmsg list: %w", err)
	}

	var resp appMsgResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode appmsg list: %w", err)
	}
	if resp.BaseResp.Ret != 0 {
		return nil, fmt.Errorf("%w: appmsg ret=%d %s", ErrListRejected, resp.BaseResp.Ret, resp.BaseResp.ErrMsg)
	}

	candidates := make([]domain.Candidate, 0, len(resp.AppMsgList))
	for _, item := range resp.AppMsgList {
		candidates = append(candidates, domain.Candidate{
			URL:         strings.TrimSpace(item.Link),
			Title:       strings.TrimSpace(item.Title),
			PublishedAt: listTime(item.CreateTime, w.location),
		})
	}
	w.debug("appmsg listed", "biz", w.biz, "count", len(candidates))
	return candidates, nil
}

func (w *WeChatAdapter) listThirdParty(ctx context.Context) ([]domain.Candidate, error) {
	params := url.Values{}
	params.Set("biz", w.biz)
	params.Set("key", w.cfg.Key)
	params.Set("verifycode", w.cfg.Secret)

	header := http.Header{}
	header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, err := w.http.List(ctx, withQuery(w.cfg.ThirdPartyEndpoint, params), header)
	if err != nil {
		return nil, fmt.Errorf("thirdparty list: %w", err)
	}

	var resp thirdPartyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode thirdparty list: %w", err)
	}
	if resp.Code != 0 {
		return nil, fmt.Errorf("%w: thirdparty code=%d %s", ErrListRejected, resp.Code, resp.Msg)
	}

	candidates := make([]domain.Candidate, 0, len(resp.Data))
	for _, item := range resp.Data {
		candidates = append(candidates, domain.Candidate{
			URL:         strings.TrimSpace(item.URL),
			Title:       strings.TrimSpace(item.Title),
			PublishedAt: listTime(item.PostTime, w.location),
		})
	}
	w.debug("thirdparty listed", "biz", w.biz, "count", len(candidates))
	return candidates, nil
}

// FetchDetail downloads an article page.
func (w *WeChatAdapter) FetchDetail(ctx context.Context, pageURL string) (domain.RawPage, error) {
	return w.http.Detail(ctx, pageURL)
}

// Extract pulls title, account name, flattened content and inline images.
func (w *WeChatAdapter) Extract(_ context.Context, page domain.RawPage) (domain.Extraction, error) {
	doc, err := newDocument(page.Body)
	if err != nil {
		return domain.Extraction{}, err
	}

	content := doc.Find("#js_content").First()
	ext := domain.Extraction{
		Title:           cleanText(doc.Find("#activity-name").First().Text()),
		Source:          cleanText(doc.Find("#js_name").First().Text()),
		Content:         textutil.Flatten(content.Text()),
		ReleaseDateText: cleanText(doc.Find("#publish_time").First().Text()),
	}
	if ext.Title == "" && ext.Content == "" {
		return domain.Extraction{}, ErrEmptyExtraction
	}

	content.Find("img[data-src]").Each(func(_ int, img *goquery.Selection) {
		src := strings.TrimSpace(img.AttrOr("data-src", ""))
		if src == "" {
			return
		}
		extension := domain.NormalizeExtension(img.AttrOr("data-type", ""))
		if extension == "" {
			extension = extensionOf(src)
		}
		ext.Attachments = append(ext.Attachments, domain.AttachmentRef{
			URL:       resolveURL(page.URL, src),
			Extension: extension,
			Naming:    domain.NameSequential,
		})
	})
	return ext, nil
}

func (w *WeChatAdapter) debug(msg string, args ...any) {
	if w.logger != nil {
		w.logger.Debug(msg, args...)
	}
}

// listTime accepts unix seconds as a number or string, or a formatted date.
func listTime(raw json.RawMessage, loc *time.Location) time.Time {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" || s == "null" {
		return time.Time{}
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil && secs > 0 {
		return time.Unix(secs, 0).In(loc)
	}
	if parsed, ok := textutil.ParseDate(s, loc); ok {
		return parsed
	}
	return time.Time{}
}

func withQuery(endpoint string, params url.Values) string {
	if strings.Contains(endpoint, "?") {
		return endpoint + "&" + params.Encode()
	}
	return endpoint + "?" + params.Encode()
}
