// Package pagination implements opaque cursor paging over time-ordered rows.
package pagination

import (
	"encoding/base64"
	"encoding/json"
	"time"
)

type Pagination struct {
	PageToken string `form:"page_token"`
	PageSize  int    `form:"page_size,default=50" validate:"gte=1,lte=250"`
}

// Limit clamps the requested page size to a sane window.
func (p Pagination) Limit() int {
	switch {
	case p.PageSize <= 0:
		return 50
	case p.PageSize > 250:
		return 250
	default:
		return p.PageSize
	}
}

// Cursor points just past the last row of the previous page. Rows are
// ordered by (publish_time, id), so both are needed to restart mid-tie.
type Cursor struct {
	ID          int64     `json:"id"`
	PublishTime time.Time `json:"publish_time"`
}

type PageInfo struct {
	NextPageToken string `json:"next_page_token,omitempty"`
	HasMore       bool   `json:"has_more"`
}

func EncodeCursor(c Cursor) (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func DecodeCursor(token string) (*Cursor, error) {
	b, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return nil, err
	}
	var c Cursor
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	return &c, nil
}
