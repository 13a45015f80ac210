package wechat

import (
	"context"
)

// Article is the draft article payload.
type Article struct {
	Title              string `json:"title"`
	Author             string `json:"author"`
	Digest             string `json:"digest"`
	Content            string `json:"content"`
	ContentSourceURL   string `json:"content_source_url"`
	ThumbMediaID       string `json:"thumb_media_id"`
	ShowCoverPic       int    `json:"show_cover_pic"`
	NeedOpenComment    int    `json:"need_open_comment"`
	OnlyFansCanComment int    `json:"only_fans_can_comment"`
}

// DraftItem is an entry of the item list returned with a draft.
type DraftItem struct {
	Index   int `json:"index"`
	AdCount int `json:"ad_count"`
}

// DraftResult is the decoded success body of draft/add and draft/update.
type DraftResult struct {
	MediaID string      `json:"media_id"`
	Item    []DraftItem `json:"item"`
}

type addDraftPayload struct {
	Articles []Article `json:"articles"`
}

type updateDraftPayload struct {
	MediaID  string  `json:"media_id"`
	Index    int     `json:"index"`
	Articles Article `json:"articles"`
}

// AddDraft creates a new draft holding art. The response envelope is returned
// as is so callers can branch on the errcode.
func (c *Client) AddDraft(ctx context.Context, art Article) (*Response, *DraftResult, error) {
	resp, err := c.RequestWithTokenRetry(ctx, func(ctx context.Context, token string) (*Response, error) {
		return c.postJSON(ctx, addDraftPath, token, nil, addDraftPayload{Articles: []Article{art}})
	})
	return decodeDraft(resp, err)
}

// UpdateDraft replaces article index of an existing draft.
func (c *Client) UpdateDraft(ctx context.Context, mediaID string, index int, art Article) (*Response, *DraftResult, error) {
	resp, err := c.RequestWithTokenRetry(ctx, func(ctx context.Context, token string) (*Response, error) {
		return c.postJSON(ctx, updateDraftPath, token, nil, updateDraftPayload{
			MediaID:  mediaID,
			Index:    index,
			Articles: art,
		})
	})
	res, draft, err := decodeDraft(resp, err)
	if draft != nil && draft.MediaID == "" {
		draft.MediaID = mediaID
	}
	return res, draft, err
}

func decodeDraft(resp *Response, err error) (*Response, *DraftResult, error) {
	if err != nil {
		return nil, nil, err
	}
	if !resp.OK() {
		return resp, nil, nil
	}
	var out DraftResult
	if err := resp.Decode(&out); err != nil {
		return resp, nil, err
	}
	return resp, &out, nil
}
