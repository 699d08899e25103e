package store

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/reminator329/trainingbook/internal/entity"
	"github.com/reminator329/trainingbook/internal/graph"
)

// BackfillIDs assigns a fresh id to every tagged record in raw that has none,
// at any depth, and returns how many ids were assigned. Existing ids are kept.
// A new id key on a *graph.Document is placed right after the type tag.
func BackfillIDs(raw any) int {
	switch node := raw.(type) {
	case *graph.Document:
		if node == nil {
			return 0
		}
		assigned := 0
		if _, tagged := node.Get(graph.ClassKey); tagged {
			current, present := node.Get("id")
			if missingID(current) {
				node.Set("id", entity.NewID().String())
				if !present {
					placeID(node)
				}
				assigned++
			}
		}
		for pair := node.Oldest(); pair != nil; pair = pair.Next() {
			if pair.Key == graph.ClassKey || pair.Key == graph.ModuleKey {
				continue
			}
			assigned += BackfillIDs(pair.Value)
		}
		return assigned
	case map[string]any:
		assigned := 0
		if _, tagged := node[graph.ClassKey]; tagged && missingID(node["id"]) {
			node["id"] = entity.NewID().String()
			assigned++
		}
		for key, value := range node {
			if key == graph.ClassKey || key == graph.ModuleKey {
				continue
			}
			assigned += BackfillIDs(value)
		}
		return assigned
	case []any:
		assigned := 0
		for _, item := range node {
			assigned += BackfillIDs(item)
		}
		return assigned
	default:
		return 0
	}
}

func placeID(doc *graph.Document) {
	mark := graph.ClassKey
	if _, ok := doc.Get(graph.ModuleKey); ok {
		mark = graph.ModuleKey
	}
	_ = doc.MoveAfter("id", mark)
}

func missingID(v any) bool {
	switch id := v.(type) {
	case nil:
		return true
	case string:
		return entity.ID(id).IsZero()
	default:
		return false
	}
}

// BackfillDocument parses a JSON document, backfills missing ids and returns
// the rewritten document with the number of ids assigned. Keys keep their
// order in the input.
func BackfillDocument(data []byte) ([]byte, int, error) {
	doc, err := graph.ReadDocument(bytes.NewReader(data))
	if err != nil {
		return nil, 0, err
	}
	assigned := BackfillIDs(doc)
	out, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return nil, 0, fmt.Errorf("store: marshal document: %w", err)
	}
	return append(out, '\n'), assigned, nil
}
