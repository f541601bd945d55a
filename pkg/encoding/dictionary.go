package encoding

import (
	"sort"

	"github.com/ZentaChain/obvengine/pkg/obverr"
)

// EncodeDictionary encodes string-keyed values as a list of [key, value] pairs.
// Pairs are sorted by key so equal dictionaries have equal encodings.
func EncodeDictionary(dict map[string]Encoded) Encoded {
	keys := make([]string, 0, len(dict))
	for k := range dict {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	size := 0
	pairs := make([]Encoded, 0, len(keys))
	for _, k := range keys {
		pair := EncodeList(EncodeString(k), dict[k])
		size += pair.Len()
		pairs = append(pairs, pair)
	}

	payload := make([]byte, 0, size)
	for _, pair := range pairs {
		payload = append(payload, pair.raw...)
	}
	return newEncoded(ByteIDDictionary, payload)
}

// DecodeDictionary returns the entries of a dictionary. Duplicate keys are rejected.
func (e Encoded) DecodeDictionary() (map[string]Encoded, error) {
	payload, err := e.expect("decode_dictionary", ByteIDDictionary)
	if err != nil {
		return nil, err
	}

	pairs, err := splitChildren(payload)
	if err != nil {
		return nil, err
	}

	dict := make(map[string]Encoded, len(pairs))
	for _, pair := range pairs {
		kv, err := pair.DecodeListOf(2)
		if err != nil {
			return nil, err
		}
		key, err := kv[0].DecodeString()
		if err != nil {
			return nil, err
		}
		if _, dup := dict[key]; dup {
			return nil, obverr.Malformedf("decode_dictionary", "%w: duplicate key %q", ErrBadPayload, key)
		}
		dict[key] = kv[1]
	}

	return dict, nil
}
