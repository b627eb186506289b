package services

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"strconv"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	// RoleInit marks the synthetic greeting returned for an empty transcript. It is never stored.
	RoleInit Role = "init"
)

// Identity is the (group, member) unit a conversation is scoped to.
type Identity struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	StudentID   string `json:"student_id"`
	GroupNumber string `json:"group_number"`
	Member      string `json:"member"`
	Consent     string `json:"consent"`
}

// Turn is one transcript entry. Exactly one of Content and Image is set.
type Turn struct {
	ID         int64     `json:"-"`
	IdentityID int64     `json:"-"`
	Role       Role      `json:"role"`
	Image      Image     `json:"image"`
	Content    *string   `json:"content"`
	Timestamp  time.Time `json:"-"`
}

func TextTurn(role Role, content string) Turn {
	return Turn{Role: role, Content: &content}
}

// MockImage is one entry of the stock image pool. Ordinals start at 1.
type MockImage struct {
	Ordinal int
	Image   Image
}

// Image is raw image bytes. On the wire it uses the Node.js Buffer JSON shape
// {"type":"Buffer","data":[...]} that the browser client decodes; nil encodes as null.
type Image []byte

func (img Image) MarshalJSON() ([]byte, error) {
	if img == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.Grow(len(img)*4 + 32)
	buf.WriteString(`{"type":"Buffer","data":[`)
	for i, b := range img {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(strconv.Itoa(int(b)))
	}
	buf.WriteString(`]}`)
	return buf.Bytes(), nil
}

// UnmarshalJSON accepts the Buffer shape or a base64 string.
func (img *Image) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*img = nil
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return err
		}
		*img = b
		return nil
	}
	var buf struct {
		Data []int `json:"data"`
	}
	if err := json.Unmarshal(data, &buf); err != nil {
		return err
	}
	out := make([]byte, len(buf.Data))
	for i, v := range buf.Data {
		out[i] = byte(v)
	}
	*img = out
	return nil
}
