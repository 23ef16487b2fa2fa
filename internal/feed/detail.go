package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/wesm/noticevault/internal/notice"
)

// Detail is the basic information of an apartment complex from the K-APT
// secondary source.
type Detail struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	Phone       string `json:"phone"`
	Fax         string `json:"fax"`
	Address     string `json:"address"`
	Buildings   int64  `json:"buildings"`
	Households  int64  `json:"households"`
	ApprovedOn  string `json:"approved_on"`
	Heating     string `json:"heating"`
	ManagerType string `json:"manager_type"`
}

// DetailClient fetches complex details by kapt code.
type DetailClient struct {
	client *Client
	url    string
}

// NewDetailClient creates a client for the detail endpoint at baseURL.
func NewDetailClient(client *Client, baseURL string) *DetailClient {
	return &DetailClient{client: client, url: baseURL}
}

// detailItem is the upstream field layout.
type detailItem struct {
	KaptCode    string  `json:"kaptCode"`
	KaptName    string  `json:"kaptName"`
	KaptTel     string  `json:"kaptTel"`
	KaptFax     string  `json:"kaptFax"`
	DoroJuso    string  `json:"doroJuso"`
	KaptAddr    string  `json:"kaptAddr"`
	KaptDongCnt flexInt `json:"kaptDongCnt"`
	KaptdaCnt   flexInt `json:"kaptdaCnt"`
	KaptUsedate string  `json:"kaptUsedate"`
	CodeHeatNm  string  `json:"codeHeatNm"`
	CodeMgrNm   string  `json:"codeMgrNm"`
}

// detailEnvelope accepts the data portal envelope or a bare item.
type detailEnvelope struct {
	Response *struct {
		Body struct {
			Item *detailItem `json:"item"`
		} `json:"body"`
	} `json:"response"`
	detailItem
}

// FetchDetail returns the detail of the complex with code. A missing
// complex is notice.ErrNotFound.
func (d *DetailClient) FetchDetail(ctx context.Context, code string) (*Detail, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, notice.Invalid("kapt_code", "must not be empty")
	}
	if d.url == "" {
		return nil, fmt.Errorf("no secondary detail url configured")
	}

	body, err := d.client.get(ctx, d.url, url.Values{"kaptCode": {code}})
	if err != nil {
		return nil, err
	}
	return decodeDetail(body, code)
}

func decodeDetail(body []byte, code string) (*Detail, error) {
	var env detailEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode detail %s: %w", code, err)
	}

	item := env.detailItem
	if env.Response != nil {
		if env.Response.Body.Item == nil {
			return nil, notice.ErrNotFound
		}
		item = *env.Response.Body.Item
	}
	if item.KaptName == "" && item.KaptTel == "" && item.KaptCode == "" {
		return nil, notice.ErrNotFound
	}

	addr := item.DoroJuso
	if addr == "" {
		addr = item.KaptAddr
	}
	if item.KaptCode != "" {
		code = item.KaptCode
	}
	return &Detail{
		Code:        code,
		Name:        strings.TrimSpace(item.KaptName),
		Phone:       strings.TrimSpace(item.KaptTel),
		Fax:         strings.TrimSpace(item.KaptFax),
		Address:     strings.TrimSpace(addr),
		Buildings:   int64(item.KaptDongCnt),
		Households:  int64(item.KaptdaCnt),
		ApprovedOn:  item.KaptUsedate,
		Heating:     item.CodeHeatNm,
		ManagerType: item.CodeMgrNm,
	}, nil
}
