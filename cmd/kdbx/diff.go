package main

import (
	"context"
	"fmt"
	"io"
	"path"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	kdbx "github.com/hoelzro/go-kdbx"
	"github.com/hoelzro/go-kdbx/dom"
)

type entry struct {
	name             string
	username         string
	notes            string
	password         string
	fields           map[string]string
	modificationTime time.Time
}

// groupPath names the group holding id relative to the root, like /Email/Work.
func groupPath(t *dom.Tree, id dom.NodeID) string {
	p := t.Path(id)
	if len(p) > 0 {
		p = p[1:]
	}
	return "/" + strings.Join(p, "/")
}

func entriesOf(t *dom.Tree, group dom.NodeID) []entry {
	ids := t.Entries(group)
	entries := make([]entry, 0, len(ids))
	for _, id := range ids {
		n := t.Node(id)
		var fields map[string]string
		for _, f := range n.Entry.Fields {
			if fields == nil {
				fields = make(map[string]string)
			}
			fields[f.Key] = f.Value
		}
		entries = append(entries, entry{
			name:             n.Title.Value,
			username:         n.Entry.UserName.Value,
			password:         n.Entry.Password.Value,
			notes:            n.Notes.Value,
			fields:           fields,
			modificationTime: n.Times.LastModificationTime,
		})
	}
	return entries
}

func flattenGroupsHelper(t *dom.Tree, group dom.NodeID, groupMap map[string][]entry, name string) {
	for _, child := range t.Groups(group) {
		flattenGroupsHelper(t, child, groupMap, path.Join(name, t.Node(child).Title.Value))
	}
	groupMap[name] = entriesOf(t, group)
}

// flattenGroups maps each group path to its entries. Top-level groups named
// in ignore are skipped along with their subgroups.
func flattenGroups(doc *dom.Document, ignore []string) map[string][]entry {
	t := doc.Tree
	groups := map[string][]entry{"/": entriesOf(t, t.Root())}
	for _, g := range t.Groups(t.Root()) {
		name := t.Node(g).Title.Value
		if slices.Contains(ignore, name) {
			continue
		}
		flattenGroupsHelper(t, g, groups, "/"+name)
	}
	return groups
}

func (a *app) diff(ctx context.Context, firstFilename, secondFilename string) error {
	// both databases are assumed to share credentials
	tokens, err := a.credentials(firstFilename)
	if err != nil {
		return err
	}

	var (
		dbOne, dbTwo   *dom.Document
		errOne, errTwo error
		wg             sync.WaitGroup
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		dbOne, errOne = a.decrypt(ctx, kdbx.NewReader(a.options()), firstFilename, tokens)
	}()
	go func() {
		defer wg.Done()
		dbTwo, errTwo = a.decrypt(ctx, kdbx.NewReader(a.options()), secondFilename, tokens)
	}()
	wg.Wait()
	if errOne != nil {
		return errOne
	}
	if errTwo != nil {
		return errTwo
	}

	writeDiff(a.stdout, dbOne, dbTwo, firstFilename, secondFilename, a.cfg.IgnoreGroups)
	return nil
}

var equateEmpty = cmpopts.EquateEmpty()

func writeDiff(out io.Writer, dbOne, dbTwo *dom.Document, firstFilename, secondFilename string, ignore []string) {
	oneGroups := flattenGroups(dbOne, ignore)
	twoGroups := flattenGroups(dbTwo, ignore)

	groupNames := make([]string, 0, len(oneGroups))
	for groupName := range oneGroups {
		groupNames = append(groupNames, groupName)
	}
	sort.Strings(groupNames)
	onlyTwo := make([]string, 0)
	for groupName := range twoGroups {
		if _, present := oneGroups[groupName]; !present {
			onlyTwo = append(onlyTwo, groupName)
		}
	}
	sort.Strings(onlyTwo)

	for _, groupName := range groupNames {
		if _, present := twoGroups[groupName]; !present {
			fmt.Fprintf(out, "Group %s exists in %s, but not %s\n", groupName, firstFilename, secondFilename)
		}
	}
	for _, groupName := range onlyTwo {
		fmt.Fprintf(out, "Group %s exists in %s, but not %s\n", groupName, secondFilename, firstFilename)
	}

	for _, groupName := range groupNames {
		twoGroupEntries, present := twoGroups[groupName]
		if !present {
			continue
		}

		oneEntriesByName := make(map[string]entry)
		twoEntriesByName := make(map[string]entry)
		var names []string
		for _, e := range oneGroups[groupName] {
			oneEntriesByName[e.name] = e
			names = append(names, e.name)
		}
		for _, e := range twoGroupEntries {
			twoEntriesByName[e.name] = e
			if _, present := oneEntriesByName[e.name]; !present {
				names = append(names, e.name)
			}
		}
		sort.Strings(names)
		names = slices.Compact(names)

		groupPrinted := false
		for _, name := range names {
			entryOne, presentOne := oneEntriesByName[name]
			entryTwo, presentTwo := twoEntriesByName[name]

			newer := secondFilename
			if entryOne.modificationTime.After(entryTwo.modificationTime) {
				newer = firstFilename
			}

			var msg string
			switch {
			case presentOne && !presentTwo:
				msg = fmt.Sprintf("Entry '%s' exists in %s, but not %s", name, firstFilename, secondFilename)
			case presentTwo && !presentOne:
				msg = fmt.Sprintf("Entry '%s' exists in %s, but not %s", name, secondFilename, firstFilename)
			case entryOne.username != entryTwo.username:
				msg = fmt.Sprintf("Entry '%s' has two different usernames (%s is newer)", name, newer)
			case entryOne.password != entryTwo.password:
				msg = fmt.Sprintf("Entry '%s' has two different passwords (%s is newer)", name, newer)
			case entryOne.notes != entryTwo.notes:
				msg = fmt.Sprintf("Entry '%s' has two different notes (%s is newer)", name, newer)
			case !cmp.Equal(entryOne.fields, entryTwo.fields, equateEmpty):
				msg = fmt.Sprintf("Entry '%s' has different custom fields (%s is newer)", name, newer)
			}

			if msg != "" {
				if !groupPrinted {
					fmt.Fprintln(out, groupName)
					groupPrinted = true
				}
				fmt.Fprintln(out, "  "+msg)
			}
		}
	}
}
