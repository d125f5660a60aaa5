package weread

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// The platform returns the same logical field as a string, a number, a bool
// or null depending on the endpoint. The types below accept all of those and
// never fail to decode, so one odd field cannot discard a whole record.

// FlexString decodes strings, numbers and string arrays (joined with ", ").
type FlexString string

func (s *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	*s = ""
	if len(data) == 0 {
		return nil
	}
	switch data[0] {
	case '"':
		var v string
		if json.Unmarshal(data, &v) == nil {
			*s = FlexString(v)
		}
	case '[':
		var items []FlexString
		if json.Unmarshal(data, &items) == nil {
			parts := make([]string, 0, len(items))
			for _, item := range items {
				if item != "" {
					parts = append(parts, string(item))
				}
			}
			*s = FlexString(strings.Join(parts, ", "))
		}
	case '{', 'n', 't', 'f':
	default:
		var n json.Number
		if json.Unmarshal(data, &n) == nil {
			*s = FlexString(n.String())
		}
	}
	return nil
}

func (s FlexString) String() string {
	return strings.TrimSpace(string(s))
}

// FlexInt decodes numbers, numeric strings and bools (1/0). Anything else is 0.
type FlexInt int64

func (n *FlexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	*n = 0
	if len(data) == 0 {
		return nil
	}
	switch data[0] {
	case 't':
		*n = 1
	case 'f', 'n', '{', '[':
	case '"':
		var v string
		if json.Unmarshal(data, &v) == nil {
			*n = FlexInt(parseInt(v))
		}
	default:
		*n = FlexInt(parseInt(string(data)))
	}
	return nil
}

func parseInt(s string) int64 {
	s = strings.TrimSpace(s)
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int64(f)
	}
	if b, err := strconv.ParseBool(s); err == nil && b {
		return 1
	}
	return 0
}

// FlexFloat decodes numbers and numeric strings.
type FlexFloat float64

func (f *FlexFloat) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	*f = 0
	if len(data) == 0 {
		return nil
	}
	raw := string(data)
	if data[0] == '"' {
		if json.Unmarshal(data, &raw) != nil {
			return nil
		}
	}
	if v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64); err == nil {
		*f = FlexFloat(v)
	}
	return nil
}

// FlexBool decodes bools, numbers (non-zero is true) and "true"/"1" strings.
type FlexBool bool

func (b *FlexBool) UnmarshalJSON(data []byte) error {
	var n FlexInt
	_ = n.UnmarshalJSON(data)
	*b = n != 0
	return nil
}

// RatingDetail is newRatingDetail, which is either {"title": "..."} or a bare
// string.
type RatingDetail struct {
	Title string
}

func (r *RatingDetail) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	r.Title = ""
	if len(data) == 0 {
		return nil
	}
	switch data[0] {
	case '{':
		var obj struct {
			Title FlexString `json:"title"`
		}
		if json.Unmarshal(data, &obj) == nil {
			r.Title = obj.Title.String()
		}
	case '"':
		var s FlexString
		_ = s.UnmarshalJSON(data)
		r.Title = s.String()
	}
	return nil
}

// Categories tolerates a non-array value and non-object entries.
type Categories []Category

type Category struct {
	Title FlexString `json:"title"`
}

func (c *Categories) UnmarshalJSON(data []byte) error {
	*c = nil
	var items []json.RawMessage
	if json.Unmarshal(data, &items) != nil {
		return nil
	}
	for _, item := range items {
		var cat Category
		if json.Unmarshal(item, &cat) == nil {
			*c = append(*c, cat)
		} else {
			*c = append(*c, Category{})
		}
	}
	return nil
}
