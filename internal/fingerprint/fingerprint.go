// Package fingerprint builds lookup indexes for matching local artifacts to
// remote issues by normalized content when no mapping exists yet.
package fingerprint

import "strings"

// NormalizeTitle trims surrounding whitespace and collapses internal
// whitespace runs to a single space. The result keeps its original case;
// callers use TitleKey for case-insensitive comparison.
func NormalizeTitle(title string) string {
	return strings.Join(strings.Fields(title), " ")
}

// NormalizeBody trims surrounding whitespace and normalizes line endings to
// LF. Body comparison stays case-sensitive.
func NormalizeBody(body string) string {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	body = strings.ReplaceAll(body, "\r", "\n")
	return strings.TrimSpace(body)
}

// TitleKey returns the case-folded lookup key for a title.
func TitleKey(title string) string {
	return strings.ToLower(NormalizeTitle(title))
}

// ContentKey returns the composite lookup key for a (title, body) pair.
// The separator cannot appear in a normalized title, so distinct pairs
// produce distinct keys.
func ContentKey(title, body string) string {
	return TitleKey(title) + "\n\x00\n" + NormalizeBody(body)
}

// Item is one indexed entry. ID carries whatever identifier the caller
// matches on (artifact id or issue id).
type Item struct {
	ID    string
	Title string
	Body  string
}

// Index holds two lookup structures over a batch of items: by content key
// and by title key. Slices preserve encounter order so callers get
// first-unclaimed-match semantics.
type Index struct {
	byContent map[string][]Item
	byTitle   map[string][]Item
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{
		byContent: make(map[string][]Item),
		byTitle:   make(map[string][]Item),
	}
}

// Add indexes one item under both its content and title keys.
func (ix *Index) Add(item Item) {
	ck := ContentKey(item.Title, item.Body)
	tk := TitleKey(item.Title)
	ix.byContent[ck] = append(ix.byContent[ck], item)
	ix.byTitle[tk] = append(ix.byTitle[tk], item)
}

// ByContent returns the items indexed under the content key for (title, body),
// in encounter order.
func (ix *Index) ByContent(title, body string) []Item {
	return ix.byContent[ContentKey(title, body)]
}

// ByTitle returns the items indexed under the title key, in encounter order.
func (ix *Index) ByTitle(title string) []Item {
	return ix.byTitle[TitleKey(title)]
}
