package urlbar

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"unicode/utf8"
)

// Options configures how a hash or query string is split and decoded.
//
// Separators are the characters that split pairs; the default is '&'.
// StrictDecode makes malformed percent-escapes an error. Otherwise the
// undecodable key or value is kept as written.
type Options struct {
	Separators   []rune
	StrictDecode bool
}

// DefaultOptions is used by Parse.
var DefaultOptions = Options{
	Separators:   []rune{'&'},
	StrictDecode: false,
}

// URL is a key/value view of a hash or query string. Repeated keys keep all
// of their values in order. Changes made through Set and friends live only
// in memory.
//
// A URL is not safe for concurrent mutation.
type URL struct {
	values map[string][]string
}

// Parse parses a hash ("#a=1&b=2") or query string ("?a=1&b=2") with
// DefaultOptions. It never fails: malformed input yields fewer pairs.
func Parse(s string) *URL {
	u, _ := ParseWithOptions(s, DefaultOptions)
	return u
}

// ParseWithOptions is like Parse but allows configuration via Options.
// An error is only possible when opts.StrictDecode is set.
func ParseWithOptions(s string, opts Options) (*URL, error) {
	if len(opts.Separators) == 0 {
		opts.Separators = DefaultOptions.Separators
	}

	u := &URL{values: make(map[string][]string)}
	for _, pair := range splitBySeparators(StripMarker(s), opts.Separators) {
		if pair == "" {
			continue
		}
		k, v, _ := strings.Cut(pair, "=")

		dk, err := decodeComponent(k, opts.StrictDecode)
		if err != nil {
			return nil, fmt.Errorf("decode key %q: %w", k, err)
		}
		dv, err := decodeComponent(v, opts.StrictDecode)
		if err != nil {
			return nil, fmt.Errorf("decode value of %q: %w", dk, err)
		}
		if dk == "" {
			continue
		}
		u.values[dk] = append(u.values[dk], dv)
	}
	return u, nil
}

// StripMarker removes a leading '#' or '?' from s.
func StripMarker(s string) string {
	if s != "" && (s[0] == '#' || s[0] == '?') {
		return s[1:]
	}
	return s
}

func splitBySeparators(s string, seps []rune) []string {
	if s == "" {
		return nil
	}
	return strings.FieldsFunc(s, func(r rune) bool {
		for _, sep := range seps {
			if r == sep {
				return true
			}
		}
		return false
	})
}

// ErrInvalidUTF8 is returned in strict mode when a percent-escape decodes to
// bytes that are not valid UTF-8, such as "%FF".
var ErrInvalidUTF8 = errors.New("urlbar: escape decodes to invalid UTF-8")

// decodeComponent decodes like the browser's decodeURIComponent: '+' stays
// a plus sign, and escapes must decode to valid UTF-8.
func decodeComponent(s string, strict bool) (string, error) {
	if !strings.Contains(s, "%") {
		return s, nil
	}
	d, err := url.PathUnescape(s)
	if err == nil && !utf8.ValidString(d) {
		err = ErrInvalidUTF8
	}
	if err != nil {
		if strict {
			return "", err
		}
		return s, nil
	}
	return d, nil
}

func encodeComponent(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// Get returns the value stored for key, or "" if there is none. For
// repeated keys it returns the first value.
func (u *URL) Get(key string) string {
	v, _ := u.Lookup(key)
	return v
}

// Lookup returns the value stored for key and whether the key is present.
func (u *URL) Lookup(key string) (string, bool) {
	if u == nil {
		return "", false
	}
	vs, ok := u.values[key]
	if !ok || len(vs) == 0 {
		return "", false
	}
	return vs[0], true
}

// Has reports whether key is present.
func (u *URL) Has(key string) bool {
	_, ok := u.Lookup(key)
	return ok
}

// Values returns a copy of every value stored for key.
func (u *URL) Values(key string) []string {
	if u == nil {
		return nil
	}
	vs := u.values[key]
	if vs == nil {
		return nil
	}
	return append([]string(nil), vs...)
}

// Set stores value under key, replacing any existing values.
func (u *URL) Set(key, value string) {
	u.ensure()
	u.values[key] = []string{value}
}

// Add appends value to the values stored under key.
func (u *URL) Add(key, value string) {
	u.ensure()
	u.values[key] = append(u.values[key], value)
}

// Del removes key.
func (u *URL) Del(key string) {
	if u == nil {
		return
	}
	delete(u.values, key)
}

// Len returns the number of distinct keys.
func (u *URL) Len() int {
	if u == nil {
		return 0
	}
	return len(u.values)
}

// Keys returns the keys in sorted order.
func (u *URL) Keys() []string {
	if u == nil {
		return nil
	}
	keys := make([]string, 0, len(u.values))
	for k := range u.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Map returns the first value of every key.
func (u *URL) Map() map[string]string {
	m := make(map[string]string, u.Len())
	for _, k := range u.Keys() {
		m[k] = u.values[k][0]
	}
	return m
}

// Clone returns a deep copy of u.
func (u *URL) Clone() *URL {
	c := &URL{values: make(map[string][]string, u.Len())}
	if u == nil {
		return c
	}
	for k, vs := range u.values {
		c.values[k] = append([]string(nil), vs...)
	}
	return c
}

// Encode returns the pairs as "k=v&k2=v2", sorted by key, with keys and
// values percent-encoded.
func (u *URL) Encode() string {
	var b strings.Builder
	for _, k := range u.Keys() {
		ek := encodeComponent(k)
		for _, v := range u.values[k] {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(ek)
			b.WriteByte('=')
			b.WriteString(encodeComponent(v))
		}
	}
	return b.String()
}

// String returns the URL as a hash, e.g. "#a=1&b=2".
func (u *URL) String() string {
	return "#" + u.Encode()
}

func (u *URL) ensure() {
	if u.values == nil {
		u.values = make(map[string][]string)
	}
}
