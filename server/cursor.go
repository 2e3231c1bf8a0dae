package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidCursor 游标无法解码或不属于本服务实例
var ErrInvalidCursor = errors.New("server: invalid pagination cursor")

// cursorPayload 游标内载荷。salt 绑定服务实例，
// 外来或跨重启的游标在解码时即被拒绝。
type cursorPayload struct {
	Offset int    `json:"o"`
	Salt   string `json:"s"`
}

// cursorCodec 不透明游标编解码器，base64url 包裹 JSON 载荷
type cursorCodec struct {
	salt string
}

func newCursorCodec(salt string) *cursorCodec {
	return &cursorCodec{salt: salt}
}

// encode 将偏移量编成游标字符串
func (c *cursorCodec) encode(offset int) string {
	raw, _ := json.Marshal(cursorPayload{Offset: offset, Salt: c.salt})
	return base64.RawURLEncoding.EncodeToString(raw)
}

// decode 解析游标并校验实例盐，空游标表示首页偏移 0
func (c *cursorCodec) decode(cursor string) (int, error) {
	if cursor == "" {
		return 0, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	var payload cursorPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	if payload.Salt != c.salt {
		return 0, fmt.Errorf("%w: cursor from another server instance", ErrInvalidCursor)
	}
	if payload.Offset < 0 {
		return 0, fmt.Errorf("%w: negative offset", ErrInvalidCursor)
	}
	return payload.Offset, nil
}

// paginate 对总量 total 应用 offset/limit，返回区间与下一页游标
func (c *cursorCodec) paginate(total, offset, limit int) (start, end int, next string) {
	if offset > total {
		offset = total
	}
	end = total
	if limit > 0 && offset+limit < total {
		end = offset + limit
		next = c.encode(end)
	}
	return offset, end, next
}
