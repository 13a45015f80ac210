package wechat

import (
	"context"
	"fmt"
)

const materialCachePrefix = "wechat_material_cache_page_"

// Material is one image in the account's permanent media library.
type Material struct {
	MediaID    string `json:"media_id"`
	Name       string `json:"name"`
	URL        string `json:"url"`
	UpdateTime int64  `json:"update_time"`
}

// MaterialPage is one page of the media library.
type MaterialPage struct {
	Items      []Material `json:"items"`
	TotalCount int        `json:"totalCount"`
	LastUpdate int64      `json:"lastUpdate"`
}

type batchGetRequest struct {
	Type   string `json:"type"`
	Offset int    `json:"offset"`
	Count  int    `json:"count"`
}

type batchGetResponse struct {
	Item       []Material `json:"item"`
	TotalCount int        `json:"total_count"`
	ItemCount  int        `json:"item_count"`
}

// GetMaterials lists image materials for a zero-based page. A business error is
// reported to the user and yields an empty page.
func (c *Client) GetMaterials(ctx context.Context, page, pageSize int) (MaterialPage, error) {
	if page < 0 {
		page = 0
	}
	if pageSize <= 0 {
		pageSize = 20
	}

	resp, err := c.RequestWithTokenRetry(ctx, func(ctx context.Context, token string) (*Response, error) {
		return c.postJSON(ctx, batchGetMaterial, token, nil, batchGetRequest{
			Type:   "image",
			Offset: page * pageSize,
			Count:  pageSize,
		})
	})
	if err != nil {
		c.notifier.Notify("获取微信素材库时出错，请检查网络或配置")
		return MaterialPage{Items: []Material{}}, err
	}
	if !resp.OK() {
		c.HandleError(resp)
		return MaterialPage{Items: []Material{}}, nil
	}

	var body batchGetResponse
	if err := resp.Decode(&body); err != nil {
		return MaterialPage{Items: []Material{}}, err
	}
	out := MaterialPage{
		Items:      body.Item,
		TotalCount: body.TotalCount,
		LastUpdate: c.now().UnixMilli(),
	}
	if out.Items == nil {
		out.Items = []Material{}
	}
	if err := c.store.Set(ctx, fmt.Sprintf("%s%d", materialCachePrefix, page), out); err != nil {
		c.logger.Warn("cache material page failed", "page", page, "error", err)
	}
	return out, nil
}

// CachedMaterials returns the last fetched copy of a page.
func (c *Client) CachedMaterials(page int) (MaterialPage, bool) {
	var out MaterialPage
	ok, err := c.store.Get(fmt.Sprintf("%s%d", materialCachePrefix, page), &out)
	if err != nil {
		return MaterialPage{}, false
	}
	return out, ok
}
