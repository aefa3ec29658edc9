// Package metadata provides the ordered, multi-valued key/value container
// carried by every call as request headers, response headers and trailers.
//
// Keys are case-insensitive and stored in lower case. Keys ending in
// [BinarySuffix] hold binary values; every other key holds printable ASCII
// text. Multiple text values for one key are always collapsed into a single
// comma-joined string, while binary values are kept as a sequence. The rules
// are enforced here so the transport never has to re-validate them.
package metadata

import (
	"bytes"
	"iter"
	"slices"
	"strings"

	"github.com/Keksclan/rawrpipe/rpcerror"
	grpcmd "google.golang.org/grpc/metadata"
)

// BinarySuffix marks keys whose values are binary.
const BinarySuffix = "-bin"

// textSeparator joins multiple text values for a single key.
const textSeparator = ", "

// Metadata is an ordered multi-map. The zero value is not usable; create one
// with [New], [Pairs] or [FromMD]. A Metadata is not safe for concurrent
// mutation.
type Metadata struct {
	keys   []string
	values map[string][]string
}

// Seed initializes a Metadata. Use [From], [FromMap] or [FromPairs].
type Seed func(*Metadata) error

// New creates a Metadata populated from the given seeds, applied in order.
func New(seeds ...Seed) (*Metadata, error) {
	md := &Metadata{values: make(map[string][]string)}
	for _, s := range seeds {
		if err := s(md); err != nil {
			return nil, err
		}
	}
	return md, nil
}

// Empty returns a new empty Metadata.
func Empty() *Metadata {
	return &Metadata{values: make(map[string][]string)}
}

// From seeds entries from another Metadata.
func From(other *Metadata) Seed {
	return func(md *Metadata) error {
		if other == nil {
			return nil
		}
		for k, vs := range other.All() {
			md.put(k, slices.Clone(vs))
		}
		return nil
	}
}

// FromMap seeds entries from a plain map. Text values are validated and
// joined; binary keys take their values verbatim.
func FromMap(m map[string][]string) Seed {
	return func(md *Metadata) error {
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			if err := md.setRaw(k, m[k]); err != nil {
				return err
			}
		}
		return nil
	}
}

// FromPairs seeds entries from alternating key/value strings.
func FromPairs(kv ...string) Seed {
	return func(md *Metadata) error {
		if len(kv)%2 == 1 {
			return rpcerror.Validationf("metadata: odd number of pair elements (%d)", len(kv))
		}
		for i := 0; i < len(kv); i += 2 {
			key := normalizeKey(kv[i])
			var err error
			if isBinaryKey(key) {
				err = md.AppendBin(key, []byte(kv[i+1]))
			} else {
				err = md.Append(key, kv[i+1])
			}
			if err != nil {
				return err
			}
		}
		return nil
	}
}

// Pairs is shorthand for New(FromPairs(kv...)).
func Pairs(kv ...string) (*Metadata, error) {
	return New(FromPairs(kv...))
}

// FromMD converts grpc metadata. Keys from the transport are already lower
// case; values of binary keys are the decoded bytes. HTTP/2 pseudo-headers
// such as ":authority" are dropped.
func FromMD(in grpcmd.MD) (*Metadata, error) {
	m := make(map[string][]string, len(in))
	for k, vs := range in {
		if strings.HasPrefix(k, ":") {
			continue
		}
		m[k] = vs
	}
	return New(FromMap(m))
}

// errNilWrite is returned by writes to a nil *Metadata. Reads treat nil as
// empty.
var errNilWrite = rpcerror.Validationf("metadata: write to nil metadata")

// Set replaces all values of a text key.
func (md *Metadata) Set(key string, values ...string) error {
	if md == nil {
		return errNilWrite
	}
	key = normalizeKey(key)
	if err := validateKey(key); err != nil {
		return err
	}
	if isBinaryKey(key) {
		return rpcerror.Validationf("metadata: text value set on binary key %q", key)
	}
	for _, v := range values {
		if err := validateText(key, v); err != nil {
			return err
		}
	}
	if len(values) == 0 {
		md.Delete(key)
		return nil
	}
	md.put(key, []string{strings.Join(values, textSeparator)})
	return nil
}

// SetBin replaces all values of a binary key.
func (md *Metadata) SetBin(key string, values ...[]byte) error {
	if md == nil {
		return errNilWrite
	}
	key = normalizeKey(key)
	if err := validateKey(key); err != nil {
		return err
	}
	if !isBinaryKey(key) {
		return rpcerror.Validationf("metadata: binary value set on text key %q", key)
	}
	if len(values) == 0 {
		md.Delete(key)
		return nil
	}
	vs := make([]string, len(values))
	for i, v := range values {
		vs[i] = string(v)
	}
	md.put(key, vs)
	return nil
}

// Append adds one text value, re-collapsing the key to a single joined value.
func (md *Metadata) Append(key, value string) error {
	if md == nil {
		return errNilWrite
	}
	key = normalizeKey(key)
	if err := validateKey(key); err != nil {
		return err
	}
	if isBinaryKey(key) {
		return rpcerror.Validationf("metadata: text value appended to binary key %q", key)
	}
	if err := validateText(key, value); err != nil {
		return err
	}
	if cur, ok := md.values[key]; ok {
		md.values[key] = []string{cur[0] + textSeparator + value}
		return nil
	}
	md.put(key, []string{value})
	return nil
}

// AppendBin adds one binary value.
func (md *Metadata) AppendBin(key string, value []byte) error {
	if md == nil {
		return errNilWrite
	}
	key = normalizeKey(key)
	if err := validateKey(key); err != nil {
		return err
	}
	if !isBinaryKey(key) {
		return rpcerror.Validationf("metadata: binary value appended to text key %q", key)
	}
	if _, ok := md.values[key]; ok {
		md.values[key] = append(md.values[key], string(value))
		return nil
	}
	md.put(key, []string{string(value)})
	return nil
}

// Delete removes all values for key. It is a no-op when key is absent or md
// is nil.
func (md *Metadata) Delete(key string) {
	if md == nil {
		return
	}
	key = normalizeKey(key)
	if _, ok := md.values[key]; !ok {
		return
	}
	delete(md.values, key)
	md.keys = slices.DeleteFunc(md.keys, func(k string) bool { return k == key })
}

// Get returns the first value for key: the joined string for text keys, the
// first raw value for binary keys.
func (md *Metadata) Get(key string) (string, bool) {
	if md == nil {
		return "", false
	}
	vs := md.values[normalizeKey(key)]
	if len(vs) == 0 {
		return "", false
	}
	return vs[0], true
}

// GetBin returns a copy of the first binary value for key.
func (md *Metadata) GetBin(key string) ([]byte, bool) {
	v, ok := md.Get(key)
	if !ok {
		return nil, false
	}
	return []byte(v), true
}

// GetAll returns every value for key, or an empty slice.
func (md *Metadata) GetAll(key string) []string {
	if md == nil {
		return []string{}
	}
	vs := md.values[normalizeKey(key)]
	if vs == nil {
		return []string{}
	}
	return slices.Clone(vs)
}

// GetAllBin returns copies of every binary value for key.
func (md *Metadata) GetAllBin(key string) [][]byte {
	if md == nil {
		return [][]byte{}
	}
	vs := md.values[normalizeKey(key)]
	out := make([][]byte, len(vs))
	for i, v := range vs {
		out[i] = []byte(v)
	}
	return out
}

// Has reports whether key is present.
func (md *Metadata) Has(key string) bool {
	if md == nil {
		return false
	}
	_, ok := md.values[normalizeKey(key)]
	return ok
}

// Len returns the number of distinct keys.
func (md *Metadata) Len() int {
	if md == nil {
		return 0
	}
	return len(md.keys)
}

// Keys returns the keys in order of first insertion.
func (md *Metadata) Keys() []string {
	if md == nil {
		return []string{}
	}
	return slices.Clone(md.keys)
}

// All iterates key/values pairs in order of first insertion.
func (md *Metadata) All() iter.Seq2[string, []string] {
	return func(yield func(string, []string) bool) {
		if md == nil {
			return
		}
		for _, k := range md.keys {
			if !yield(k, slices.Clone(md.values[k])) {
				return
			}
		}
	}
}

// Clone returns an independent copy. Layers that want to add entries without
// affecting their caller work on a clone.
func (md *Metadata) Clone() *Metadata {
	out := Empty()
	if md == nil {
		return out
	}
	for _, k := range md.keys {
		out.put(k, slices.Clone(md.values[k]))
	}
	return out
}

// Equal reports whether md and other hold the same keys, values and order.
func (md *Metadata) Equal(other *Metadata) bool {
	if md.Len() != other.Len() {
		return false
	}
	if md.Len() == 0 {
		return true
	}
	if !slices.Equal(md.keys, other.keys) {
		return false
	}
	for _, k := range md.keys {
		if !slices.Equal(md.values[k], other.values[k]) {
			return false
		}
	}
	return true
}

// MD converts to grpc metadata for the transport. Binary values are passed
// raw; grpc encodes them on the wire.
func (md *Metadata) MD() grpcmd.MD {
	out := grpcmd.MD{}
	if md == nil {
		return out
	}
	for _, k := range md.keys {
		out[k] = slices.Clone(md.values[k])
	}
	return out
}

// Merge appends every entry of other into md, in other's order.
func (md *Metadata) Merge(other *Metadata) error {
	for k, vs := range other.All() {
		for _, v := range vs {
			var err error
			if isBinaryKey(k) {
				err = md.AppendBin(k, []byte(v))
			} else {
				err = md.Append(k, v)
			}
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// setRaw stores values for key according to its kind, used by seeds.
func (md *Metadata) setRaw(key string, values []string) error {
	key = normalizeKey(key)
	if isBinaryKey(key) {
		bs := make([][]byte, len(values))
		for i, v := range values {
			bs[i] = []byte(v)
		}
		return md.SetBin(key, bs...)
	}
	return md.Set(key, values...)
}

// put stores values under an already normalized, validated key, tracking
// first-insertion order.
func (md *Metadata) put(key string, values []string) {
	if _, ok := md.values[key]; !ok {
		md.keys = append(md.keys, key)
	}
	md.values[key] = values
}

func normalizeKey(key string) string {
	return strings.ToLower(key)
}

func isBinaryKey(key string) bool {
	return strings.HasSuffix(key, BinarySuffix)
}

func validateKey(key string) error {
	if key == "" {
		return rpcerror.Validationf("metadata: empty key")
	}
	for i := 0; i < len(key); i++ {
		c := key[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '_', c == '.', c == '-':
		default:
			return rpcerror.Validationf("metadata: invalid character %q in key %q", c, key)
		}
	}
	return nil
}

func validateText(key, value string) error {
	if bytes.IndexFunc([]byte(value), func(r rune) bool { return r < 0x20 || r > 0x7e }) >= 0 {
		return rpcerror.Validationf("metadata: invalid character in value %q for key %q", value, key)
	}
	return nil
}
