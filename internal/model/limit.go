package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Limit 表示一个可选的上限: 要么无限制, 要么有一个具体的数值上限。
// 数据库中 NULL 表示无限制, JSON 中 null 表示无限制。
// 不使用 0 或负数等哨兵值, 避免算术和比较出现歧义。
type Limit struct {
	bounded bool
	value   float64
}

func Unlimited() Limit {
	return Limit{}
}

func Bounded(v float64) Limit {
	return Limit{bounded: true, value: v}
}

// IsBounded reports whether the limit has a concrete cap.
func (l Limit) IsBounded() bool {
	return l.bounded
}

// Cap returns the cap value and whether one is set.
func (l Limit) Cap() (float64, bool) {
	return l.value, l.bounded
}

// Exceeded reports whether used has reached or passed the cap.
// An unlimited limit is never exceeded.
func (l Limit) Exceeded(used float64) bool {
	return l.bounded && used >= l.value
}

func (l Limit) String() string {
	if !l.bounded {
		return "unlimited"
	}
	return fmt.Sprintf("%g", l.value)
}

func (l Limit) MarshalJSON() ([]byte, error) {
	if !l.bounded {
		return []byte("null"), nil
	}
	return json.Marshal(l.value)
}

func (l *Limit) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*l = Limit{}
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*l = Bounded(v)
	return nil
}

func (l Limit) GormDataType() string {
	return "real"
}

// Value implements driver.Valuer. NULL means unlimited.
func (l Limit) Value() (driver.Value, error) {
	if !l.bounded {
		return nil, nil
	}
	return l.value, nil
}

// Scan implements sql.Scanner.
func (l *Limit) Scan(src any) error {
	if src == nil {
		*l = Limit{}
		return nil
	}
	switch v := src.(type) {
	case float64:
		*l = Bounded(v)
	case int64:
		*l = Bounded(float64(v))
	case []byte:
		var f float64
		if _, err := fmt.Sscanf(string(v), "%g", &f); err != nil {
			return fmt.Errorf("cannot scan %q into Limit: %w", v, err)
		}
		*l = Bounded(f)
	default:
		return fmt.Errorf("cannot scan %T into Limit", src)
	}
	return nil
}
