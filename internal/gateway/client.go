package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"sharemirror/internal/config"
	"sharemirror/internal/models"
)

const (
	defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/98.0.4758.102 Safari/537.36 MicroMessenger/6.8.0 NetType/WIFI MiniProgramEnv/Mac"
	defaultReferer   = "https://servicewechat.com/wx2c744c010a61b0fa/94/page-frame.html"
	defaultUserName  = "115 user"
	untitledShare    = "Untitled"
)

// Client talks to the 115 web API. It never retries: one call, one request.
type Client struct {
	http     *resty.Client
	limiter  *rate.Limiter
	pageSize int
	logger   *zerolog.Logger
}

func New(cfg config.GatewayConfig, logger *zerolog.Logger) *Client {
	ua := cfg.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	referer := cfg.Referer
	if referer == "" {
		referer = defaultReferer
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	limit := rate.Limit(cfg.RPS)
	if cfg.RPS <= 0 {
		limit = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	hc := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.RequestTimeout).
		SetHeader("User-Agent", ua).
		SetHeader("Referer", referer).
		SetHeader("Accept", "*/*")

	return &Client{
		http:     hc,
		limiter:  rate.NewLimiter(limit, burst),
		pageSize: pageSize,
		logger:   logger,
	}
}

// envelope is the common response wrapper of the web API.
type envelope struct {
	State bool            `json:"state"`
	Error string          `json:"error"`
	Msg   string          `json:"msg"`
	Errno flexString      `json:"errno"`
	Data  json.RawMessage `json:"data"`
}

func (e *envelope) reason(fallback string) string {
	switch {
	case e.Error != "":
		return e.Error
	case e.Msg != "":
		return e.Msg
	default:
		return fallback
	}
}

// flexString accepts both JSON strings and numbers; the API mixes them for ids.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

func (c *Client) request(ctx context.Context, credential string) (*resty.Request, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}
	return c.http.R().
		SetContext(ctx).
		SetHeader("Cookie", credential), nil
}

// decode classifies transport and HTTP failures and unwraps the envelope.
func decode(resp *resty.Response, err error) (*envelope, error) {
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}
	switch code := resp.StatusCode(); {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return nil, fmt.Errorf("%w: http %d", ErrAuthExpired, code)
	case code >= http.StatusInternalServerError || code == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: http %d", ErrRemoteUnavailable, code)
	case code >= http.StatusBadRequest:
		return nil, fmt.Errorf("%w: unexpected http %d", ErrRemoteUnavailable, code)
	}

	var env envelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrRemoteUnavailable, err)
	}
	if !env.State && string(env.Errno) == errnoLoginRequired {
		return nil, fmt.Errorf("%w: %s", ErrAuthExpired, env.reason("login required"))
	}
	return &env, nil
}

type snapItem struct {
	CID  flexString `json:"cid"`
	FID  flexString `json:"fid"`
	Name string     `json:"n"`
}

type snapData struct {
	Count      int        `json:"count"`
	ShareTitle string     `json:"share_title"`
	ShareInfo  *shareInfo `json:"shareinfo"`
	List       []snapItem `json:"list"`
}

type shareInfo struct {
	ShareTitle string `json:"share_title"`
}

// ListShare returns the top-level entries of a share. Folders report their cid, files their fid.
func (c *Client) ListShare(ctx context.Context, credential string, ref models.ShareRef) (*models.ShareListing, error) {
	listing := &models.ShareListing{}
	firstName := ""

	for offset := 0; ; {
		req, err := c.request(ctx, credential)
		if err != nil {
			return nil, err
		}
		resp, err := req.
			SetQueryParams(map[string]string{
				"share_code":   ref.Code,
				"receive_code": ref.Secret,
				"offset":       strconv.Itoa(offset),
				"limit":        strconv.Itoa(c.pageSize),
				"cid":          "",
			}).
			Get("/share/snap")
		env, err := decode(resp, err)
		if err != nil {
			return nil, err
		}
		if !env.State {
			return nil, fmt.Errorf("%w: %s", ErrInvalidShare, env.reason("share unavailable"))
		}

		var data snapData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return nil, fmt.Errorf("%w: decode share listing: %v", ErrRemoteUnavailable, err)
		}
		if listing.Title == "" {
			listing.Title = data.ShareTitle
			if listing.Title == "" && data.ShareInfo != nil {
				listing.Title = data.ShareInfo.ShareTitle
			}
		}
		for _, item := range data.List {
			id := string(item.CID)
			if id == "" {
				id = string(item.FID)
			}
			if id == "" {
				continue
			}
			if firstName == "" {
				firstName = item.Name
			}
			listing.FileIDs = append(listing.FileIDs, id)
		}

		offset += len(data.List)
		if len(data.List) == 0 || len(data.List) < c.pageSize || offset >= data.Count {
			break
		}
	}

	if listing.Title == "" {
		listing.Title = firstName
	}
	if listing.Title == "" {
		listing.Title = untitledShare
	}

	c.logger.Debug().
		Str("share_code", ref.Code).
		Int("entries", len(listing.FileIDs)).
		Msg("share listed")
	return listing, nil
}

// Transfer copies the given entries of a share into the destination folder.
func (c *Client) Transfer(ctx context.Context, credential string, dest models.Destination, ref models.ShareRef, fileIDs []string) (*models.TransferResult, error) {
	if len(fileIDs) == 0 {
		return &models.TransferResult{Count: 0}, nil
	}

	req, err := c.request(ctx, credential)
	if err != nil {
		return nil, err
	}
	resp, err := req.
		SetFormData(map[string]string{
			"cid":          dest.ID,
			"share_code":   ref.Code,
			"receive_code": ref.Secret,
			"file_id":      strings.Join(fileIDs, ","),
		}).
		Post("/share/receive")
	env, err := decode(resp, err)
	if err != nil {
		return nil, err
	}
	if !env.State {
		return nil, fmt.Errorf("%w: %s", ErrTransferRejected, env.reason("rejected by remote"))
	}

	c.logger.Info().
		Str("share_code", ref.Code).
		Str("destination", dest.ID).
		Int("count", len(fileIDs)).
		Msg("share transferred")
	return &models.TransferResult{Count: len(fileIDs)}, nil
}

type indexInfo struct {
	UserName string `json:"user_name"`
}

// VerifyCredential checks the cookie and returns the remote account name.
func (c *Client) VerifyCredential(ctx context.Context, credential string) (string, error) {
	if strings.TrimSpace(credential) == "" {
		return "", fmt.Errorf("%w: empty credential", ErrAuthExpired)
	}
	req, err := c.request(ctx, credential)
	if err != nil {
		return "", err
	}
	env, err := decode(req.Get("/files/index_info"))
	if err != nil {
		return "", err
	}
	if !env.State {
		return "", fmt.Errorf("%w: %s", ErrAuthExpired, env.reason("cookie rejected"))
	}

	var info indexInfo
	if len(env.Data) > 0 {
		_ = json.Unmarshal(env.Data, &info)
	}
	if info.UserName == "" {
		return defaultUserName, nil
	}
	return info.UserName, nil
}

type folderItem struct {
	CID  flexString `json:"cid"`
	FID  flexString `json:"fid"`
	Name string     `json:"n"`
}

// ListFolders lists the sub-folders of parentID in the account's own drive.
func (c *Client) ListFolders(ctx context.Context, credential, parentID string) ([]models.Folder, error) {
	if parentID == "" {
		parentID = "0"
	}
	req, err := c.request(ctx, credential)
	if err != nil {
		return nil, err
	}
	resp, err := req.
		SetQueryParams(map[string]string{
			"aid":      "1",
			"cid":      parentID,
			"o":        "user_ptime",
			"asc":      "0",
			"offset":   "0",
			"show_dir": "1",
			"limit":    strconv.Itoa(c.pageSize),
			"type":     "0",
			"format":   "json",
		}).
		Get("/files")
	env, err := decode(resp, err)
	if err != nil {
		return nil, err
	}
	if !env.State {
		return nil, fmt.Errorf("%w: %s", ErrRemoteUnavailable, env.reason("folder listing failed"))
	}

	var items []folderItem
	if err := json.Unmarshal(env.Data, &items); err != nil {
		return nil, fmt.Errorf("%w: decode folders: %v", ErrRemoteUnavailable, err)
	}
	folders := make([]models.Folder, 0, len(items))
	for _, it := range items {
		// files carry a fid and their parent's cid
		if it.FID != "" || it.CID == "" {
			continue
		}
		folders = append(folders, models.Folder{ID: string(it.CID), Name: it.Name})
	}
	return folders, nil
}
