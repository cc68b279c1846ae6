package vocab

import (
	"errors"
	"fmt"
	"strings"

	"github.com/emirpasic/gods/maps/treemap"
)

var ErrEmptyVocabulary = errors.New("vocab: empty vocabulary")

// Index maps every token id to its decoded text fragment and answers prefix
// queries over those fragments. An Index is read-only once built and can be
// shared between generations and goroutines.
type Index struct {
	values []string
	eos    int32

	// byText orders token fragments lexically. Values are []int32 since
	// distinct ids may decode to the same fragment.
	byText *treemap.Map
	maxLen int
}

// New builds an Index from the per-token fragments, where values[i] is the
// text of token i.
func New(values []string, eos int32) (*Index, error) {
	if len(values) == 0 {
		return nil, ErrEmptyVocabulary
	}

	if eos < 0 || int(eos) >= len(values) {
		return nil, fmt.Errorf("vocab: eos token %d out of range [0, %d)", eos, len(values))
	}

	idx := &Index{
		values: values,
		eos:    eos,
		byText: treemap.NewWithStringComparator(),
	}

	for i, value := range values {
		if int32(i) == eos || value == "" {
			continue
		}

		var ids []int32
		if v, ok := idx.byText.Get(value); ok {
			ids = v.([]int32)
		}
		idx.byText.Put(value, append(ids, int32(i)))
		idx.maxLen = max(idx.maxLen, len(value))
	}

	return idx, nil
}

func (v *Index) Len() int {
	return len(v.values)
}

func (v *Index) EOS() int32 {
	return v.eos
}

func (v *Index) Decode(id int32) string {
	if id < 0 || int(id) >= len(v.values) {
		return ""
	}
	return v.values[id]
}

// DecodeAll returns the text of a token sequence. The end of sequence token
// contributes nothing.
func (v *Index) DecodeAll(ids []int32) string {
	var sb strings.Builder
	for _, id := range ids {
		if id == v.eos {
			continue
		}
		sb.WriteString(v.Decode(id))
	}
	return sb.String()
}

// PrefixesOf returns the ids of tokens whose text is a non-empty prefix of s.
func (v *Index) PrefixesOf(s string) []int32 {
	var ids []int32
	for i := 1; i <= min(len(s), v.maxLen); i++ {
		if found, ok := v.byText.Get(s[:i]); ok {
			ids = append(ids, found.([]int32)...)
		}
	}
	return ids
}

// Extending returns the ids of tokens whose text starts with s.
func (v *Index) Extending(s string) []int32 {
	if s == "" {
		return nil
	}

	var ids []int32
	key, value := v.byText.Ceiling(s)
	for key != nil {
		text := key.(string)
		if !strings.HasPrefix(text, s) {
			break
		}
		ids = append(ids, value.([]int32)...)
		// the smallest string sorting after text
		key, value = v.byText.Ceiling(text + "\x00")
	}
	return ids
}
