package parser

import "github.com/zsiec/bitlens/internal/model"

// Item is one node of the stream info tree.
type Item struct {
	Name     string `json:"name"`
	Value    string `json:"value,omitempty"`
	Children []Item `json:"children,omitempty"`
}

// Info describes the streams found so far. A new Info replaces the previous
// one wholesale; published values are never modified.
type Info []Item

// KV builds a leaf item.
func KV(name string, value any) Item {
	return Item{Name: name, Value: model.F(name, value).Value}
}

// Group builds an item with children.
func Group(name, value string, children ...Item) Item {
	return Item{Name: name, Value: value, Children: children}
}

// Find returns the first top-level item named name.
func (in Info) Find(name string) (Item, bool) {
	for _, it := range in {
		if it.Name == name {
			return it, true
		}
	}
	return Item{}, false
}

// Lookup returns the value of the child named name.
func (it Item) Lookup(name string) (string, bool) {
	for _, c := range it.Children {
		if c.Name == name {
			return c.Value, true
		}
	}
	return "", false
}
