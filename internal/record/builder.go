// Package record builds comma-separated log records with positional fields.
package record

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	// MaxFieldLen is the longest value kept verbatim. Longer values are cut
	// to MaxFieldLen-2 runes followed by "..".
	MaxFieldLen = 64
	// CommaReplacement replaces ',' inside values.
	CommaReplacement = '`'
	// TimeLayout is the layout of timestamp fields.
	TimeLayout = "2006-01-02 15:04:05"
)

// ErrFieldOrder is returned when fields are not set in strictly increasing order.
var ErrFieldOrder = errors.New("field index must increase")

// Builder assembles a record of a fixed number of positional fields.
// Fields are 1-based and must be set in increasing order; skipped fields
// are left empty.
type Builder struct {
	fields int
	index  int
	sb     strings.Builder
	err    error
}

// NewBuilder returns a builder for records with the given number of fields.
func NewBuilder(fields int) *Builder {
	b := &Builder{fields: fields}
	b.sb.Grow(512)
	return b
}

// Set writes value into field index.
func (b *Builder) Set(index int, value string) *Builder {
	if b.err != nil {
		return b
	}
	if index <= b.index || index > b.fields {
		b.err = fmt.Errorf("%w: field %d after %d (max %d)", ErrFieldOrder, index, b.index, b.fields)
		return b
	}
	b.catchUp(index)
	writeField(&b.sb, value)
	return b
}

// SetInt writes an integer into field index.
func (b *Builder) SetInt(index int, value int64) *Builder {
	return b.Set(index, strconv.FormatInt(value, 10))
}

// SetTime writes t formatted with TimeLayout into field index.
func (b *Builder) SetTime(index int, t time.Time) *Builder {
	return b.Set(index, t.Format(TimeLayout))
}

// catchUp writes the separators up to the start of field index.
func (b *Builder) catchUp(index int) {
	for ; b.index < index; b.index++ {
		if b.index > 0 {
			b.sb.WriteByte(',')
		}
	}
}

// Build returns the record with all remaining fields left empty.
func (b *Builder) Build() (string, error) {
	if b.err != nil {
		return "", b.err
	}
	b.catchUp(b.fields)
	return b.sb.String(), nil
}

// writeField appends v with commas replaced and long values truncated.
// Blank values are written as empty fields.
func writeField(sb *strings.Builder, v string) {
	if strings.TrimSpace(v) == "" {
		return
	}
	runes := []rune(v)
	cut := len(runes) > MaxFieldLen
	if cut {
		runes = runes[:MaxFieldLen-2]
	}
	for _, r := range runes {
		if r == ',' {
			r = CommaReplacement
		}
		sb.WriteRune(r)
	}
	if cut {
		sb.WriteString("..")
	}
}

// Sanitize returns v as it would be written into a field.
func Sanitize(v string) string {
	var sb strings.Builder
	writeField(&sb, v)
	return sb.String()
}

var (
	localHostOnce sync.Once
	localHost     string
)

// LocalHost returns the host name of this machine, or "bad-host" when it
// cannot be determined. The value is resolved once.
func LocalHost() string {
	localHostOnce.Do(func() {
		h, err := os.Hostname()
		if err != nil || h == "" {
			h = "bad-host"
		}
		localHost = h
	})
	return localHost
}
