package main

import (
	"context"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/hoelzro/go-kdbx/dom"
)

type dumpGroup struct {
	Name    string      `yaml:"name"`
	UUID    string      `yaml:"uuid"`
	Notes   string      `yaml:"notes,omitempty"`
	Entries []dumpEntry `yaml:"entries,omitempty"`
	Groups  []dumpGroup `yaml:"groups,omitempty"`
}

type dumpEntry struct {
	Title       string            `yaml:"title"`
	UUID        string            `yaml:"uuid"`
	UserName    string            `yaml:"username,omitempty"`
	Password    string            `yaml:"password,omitempty"`
	URL         string            `yaml:"url,omitempty"`
	Notes       string            `yaml:"notes,omitempty"`
	Tags        string            `yaml:"tags,omitempty"`
	Fields      map[string]string `yaml:"fields,omitempty"`
	Attachments []string          `yaml:"attachments,omitempty"`
	Modified    string            `yaml:"modified,omitempty"`
	History     int               `yaml:"history,omitempty"`
}

const redacted = "********"

func dumpTree(t *dom.Tree, id dom.NodeID, showPasswords bool) dumpGroup {
	n := t.Node(id)
	g := dumpGroup{
		Name:  n.Title.Value,
		UUID:  n.UUID.String(),
		Notes: n.Notes.Value,
	}
	for _, eid := range t.Entries(id) {
		g.Entries = append(g.Entries, dumpNode(t.Node(eid), showPasswords))
	}
	for _, gid := range t.Groups(id) {
		g.Groups = append(g.Groups, dumpTree(t, gid, showPasswords))
	}
	return g
}

func dumpNode(n *dom.Node, showPasswords bool) dumpEntry {
	reveal := func(s dom.ProtectedString) string {
		if s.Protected && s.Value != "" && !showPasswords {
			return redacted
		}
		return s.Value
	}
	e := dumpEntry{
		Title:    n.Title.Value,
		UUID:     n.UUID.String(),
		UserName: reveal(n.Entry.UserName),
		Password: reveal(n.Entry.Password),
		URL:      n.Entry.URL.Value,
		Notes:    reveal(n.Notes),
		Tags:     n.Entry.Tags,
		History:  len(n.Entry.History),
	}
	if !n.Times.LastModificationTime.IsZero() {
		e.Modified = n.Times.LastModificationTime.UTC().Format(time.RFC3339)
	}
	for _, f := range n.Entry.Fields {
		if e.Fields == nil {
			e.Fields = make(map[string]string)
		}
		e.Fields[f.Key] = reveal(f)
	}
	for _, b := range n.Entry.Binaries {
		e.Attachments = append(e.Attachments, b.Key)
	}
	return e
}

func (a *app) dump(ctx context.Context, filename string) error {
	doc, _, err := a.open(ctx, filename)
	if err != nil {
		return err
	}
	out, err := yaml.Marshal(dumpTree(doc.Tree, doc.Tree.Root(), a.cfg.ShowPasswords))
	if err != nil {
		return err
	}
	_, err = a.stdout.Write(out)
	return err
}
