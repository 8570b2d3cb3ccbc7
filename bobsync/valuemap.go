package bobsync

import (
	"context"
	"strings"

	"github.com/mmdatafocus/bobsync_backend/config"
	"github.com/mmdatafocus/bobsync_backend/sheet"
)

// listItemCreator is the single upstream call the mapper may make.
type listItemCreator interface {
	CreateListItem(ctx context.Context, listName string, label string) (string, error)
}

// ValueMapper resolves free-text labels to list value ids. Exact match
// first, then case-insensitive. With creation enabled an unknown label is
// created upstream once per run and appended to the Lists sheet so later
// rows of the same run resolve locally.
type ValueMapper struct {
	Index       *LookupIndex
	Sheets      sheet.Store
	Creator     listItemCreator
	AllowCreate bool

	created map[string]string // label -> id, per run
}

func (m *ValueMapper) Resolve(ctx context.Context, label string, listName string) (string, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return "", &LookupNotFoundError{Kind: "list value", Key: label, ListName: listName}
	}

	if id, ok := m.created[label]; ok {
		return id, nil
	}

	labels, err := m.Index.ListLabelToId(listName)
	if err != nil {
		return "", err
	}
	if id, ok := labels[label]; ok {
		return id, nil
	}
	if id, ok := labels[strings.ToLower(label)]; ok {
		return id, nil
	}

	if m.AllowCreate && m.Creator != nil {
		id, err := m.Creator.CreateListItem(ctx, listName, label)
		if err != nil {
			return "", err
		}
		// Persist for the rest of the run and for future runs. Creation is a
		// mutating call; the per-run cache keeps it to once per unique label.
		if m.created == nil {
			m.created = map[string]string{}
		}
		m.created[label] = id
		// A lost append means the next chunk's mapper rebuilds without this
		// entry and creates the item upstream a second time.
		if err := m.Sheets.AppendRow(SheetLists, []string{listName, id, label}); err != nil {
			config.GetLogger().WithError(err).WithField("list", listName).
				Warn("bobsync: created list item not persisted to Lists sheet")
		}
		return id, nil
	}

	return "", &LookupNotFoundError{
		Kind:        "list value",
		Key:         label,
		ListName:    listName,
		Suggestions: m.suggestions(listName),
	}
}

// suggestions returns up to five known labels for the failure message.
func (m *ValueMapper) suggestions(listName string) []string {
	labels, err := m.Index.ListLabels(listName)
	if err != nil || len(labels) == 0 {
		return nil
	}
	if len(labels) > 5 {
		labels = labels[:5]
	}
	return labels
}
