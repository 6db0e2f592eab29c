package dom

import (
	"encoding/xml"
	"sort"
	"time"
)

// CustomItem is one custom data value. KDBX 4.1 writers record when the
// item last changed; older files leave LastModificationTime zero.
type CustomItem struct {
	Value                string
	LastModificationTime time.Time
}

// CustomData is a plugin key/value store attached to the metadata, a group
// or an entry. Items are written sorted by key.
type CustomData map[string]CustomItem

// Get returns the value stored under key.
func (c CustomData) Get(key string) string { return c[key].Value }

// Set stores value under key, stamping the item with now.
func (c CustomData) Set(key, value string, now time.Time) {
	c[key] = CustomItem{Value: value, LastModificationTime: Timestamp(now)}
}

// Keys returns the keys in sorted order.
func (c CustomData) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (c CustomData) Clone() CustomData {
	if c == nil {
		return nil
	}
	out := make(CustomData, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

func (c CustomData) Equal(other CustomData) bool {
	if (c == nil) != (other == nil) || len(c) != len(other) {
		return false
	}
	for k, v := range c {
		w, ok := other[k]
		if !ok || w.Value != v.Value || !w.LastModificationTime.Equal(v.LastModificationTime) {
			return false
		}
	}
	return true
}

func (d *decoder) customData() (CustomData, error) {
	data := make(CustomData)
	err := d.children(func(item xml.StartElement) error {
		if item.Name.Local != "Item" {
			return d.d.Skip()
		}
		var (
			key     string
			value   CustomItem
			haveKey bool
		)
		err := d.children(func(child xml.StartElement) error {
			switch child.Name.Local {
			case "Key":
				s, err := d.text()
				key, haveKey = s, true
				return err
			case "Value":
				s, err := d.text()
				value.Value = s
				return err
			case "LastModificationTime":
				var err error
				value.LastModificationTime, err = d.date(child)
				return err
			default:
				return d.d.Skip()
			}
		})
		if err != nil {
			return err
		}
		if !haveKey {
			return &ValueError{Element: "Item", Err: missing("Item", "Key")}
		}
		data[key] = value
		return nil
	})
	return data, err
}

// customData writes nothing for a nil store.
func (e *encoder) customData(c CustomData) {
	if c == nil {
		return
	}
	e.start("CustomData")
	for _, k := range c.Keys() {
		e.start("Item")
		e.text("Key", k)
		e.text("Value", c[k].Value)
		e.date("LastModificationTime", c[k].LastModificationTime)
		e.end("Item")
	}
	e.end("CustomData")
}
