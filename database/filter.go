/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package database

import (
	"encoding/json"
	"reflect"
	"strings"
)

// containment turns a dotted-path filter into the nested document used with the
// JSONB @> operator.
func containment(filter Filter) map[string]interface{} {
	doc := map[string]interface{}{}
	for path, value := range filter {
		parts := strings.Split(path, ".")
		node := doc
		for _, part := range parts[:len(parts)-1] {
			next, ok := node[part].(map[string]interface{})
			if !ok {
				next = map[string]interface{}{}
				node[part] = next
			}
			node = next
		}
		node[parts[len(parts)-1]] = value
	}
	return doc
}

// normalize passes a value through JSON so that filter values compare equal to
// decoded document values (numbers become float64).
func normalize(value interface{}) (interface{}, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var out interface{}
	err = json.Unmarshal(raw, &out)
	return out, err
}

func lookup(doc map[string]interface{}, path string) (interface{}, bool) {
	var current interface{} = doc
	for _, part := range strings.Split(path, ".") {
		node, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = node[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// matches reports whether a raw JSON document satisfies every filter entry.
func matches(raw []byte, filter Filter) (bool, error) {
	if len(filter) == 0 {
		return true, nil
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return false, err
	}
	for path, want := range filter {
		expected, err := normalize(want)
		if err != nil {
			return false, err
		}
		got, ok := lookup(doc, path)
		if !ok || !reflect.DeepEqual(got, expected) {
			return false, nil
		}
	}
	return true, nil
}

// decodeAll unmarshals raw documents into dest, a pointer to a slice.
func decodeAll(docs [][]byte, dest interface{}) error {
	raws := make([]json.RawMessage, len(docs))
	for i, doc := range docs {
		raws[i] = doc
	}
	array, err := json.Marshal(raws)
	if err != nil {
		return err
	}
	return json.Unmarshal(array, dest)
}
