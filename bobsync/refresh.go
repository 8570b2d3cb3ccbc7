package bobsync

import (
	"context"
	"os"
	"sort"
	"strconv"

	"github.com/mmdatafocus/bobsync_backend/config"
	"github.com/mmdatafocus/bobsync_backend/sheet"
	"github.com/mmdatafocus/bobsync_backend/utils"
)

// metadataAPI is the slice of the HiBob client the refreshers need.
type metadataAPI interface {
	FetchFields(ctx context.Context) ([]FieldDescriptor, error)
	FetchNamedList(ctx context.Context, listName string) ([]ListEntry, error)
	FetchRoster(ctx context.Context) ([]EmployeeRecord, error)
}

// Refresher rebuilds the reference sheets from the live API. Each refresh
// replaces the whole sheet; partial merges would leave deleted remote
// entries behind as stale lookup keys.
type Refresher struct {
	API    metadataAPI
	Sheets sheet.Store
}

// RefreshFields rewrites the Fields sheet from the field metadata
// catalogue and returns the number of fields written.
func (r *Refresher) RefreshFields(ctx context.Context) (int, error) {
	fields, err := r.API.FetchFields(ctx)
	if err != nil {
		return 0, err
	}

	rows := make([][]string, 0, len(fields)+1)
	rows = append(rows, []string{"Id", "Name", "Path", "Category", "Type", "Calculated", "ListName"})
	for _, f := range fields {
		rows = append(rows, []string{
			f.ID, f.Name, f.Path, f.Category, f.Type,
			strconv.FormatBool(f.Calculated), f.ListName,
		})
	}
	if err := r.Sheets.ReplaceRows(SheetFields, rows); err != nil {
		return 0, err
	}
	return len(fields), nil
}

// RefreshLists rewrites the Lists sheet. The set of lists to pull comes
// from the list-typed fields in the catalogue plus BOB_EXTRA_LISTS, so a
// fields refresh should run first.
func (r *Refresher) RefreshLists(ctx context.Context) (int, error) {
	fields, err := r.API.FetchFields(ctx)
	if err != nil {
		return 0, err
	}

	names := map[string]bool{}
	for _, f := range fields {
		if !isListField(f) {
			continue
		}
		name, err := ResolveListName(f, DefaultListResolvers())
		if err != nil {
			config.GetLogger().WithField("field", f.Path).Warn("bobsync: no list name resolvable, skipping")
			continue
		}
		names[name] = true
	}
	for _, extra := range utils.SplitAndTrim(os.Getenv("BOB_EXTRA_LISTS")) {
		names[extra] = true
	}

	ordered := make([]string, 0, len(names))
	for name := range names {
		ordered = append(ordered, name)
	}
	sort.Strings(ordered)

	rows := [][]string{{"ListName", "ValueId", "ValueLabel"}}
	total := 0
	for _, name := range ordered {
		entries, err := r.API.FetchNamedList(ctx, name)
		if err != nil {
			// One unreadable list must not wipe the rest of the snapshot.
			config.GetLogger().WithError(err).WithField("list", name).Warn("bobsync: list fetch failed, skipping")
			continue
		}
		for _, e := range entries {
			rows = append(rows, []string{e.ListName, e.ValueId, e.ValueLabel})
			total++
		}
	}
	if err := r.Sheets.ReplaceRows(SheetLists, rows); err != nil {
		return 0, err
	}
	return total, nil
}

// RefreshRoster rewrites the Roster sheet from a people search.
func (r *Refresher) RefreshRoster(ctx context.Context) (int, error) {
	records, err := r.API.FetchRoster(ctx)
	if err != nil {
		return 0, err
	}

	rows := make([][]string, 0, len(records)+1)
	rows = append(rows, []string{
		"InternalId", "ExternalId", "DisplayName", "Site", "Location",
		"Status", "EmploymentType", "HireDate",
	})
	for _, rec := range records {
		rows = append(rows, []string{
			rec.InternalId, rec.ExternalId, rec.DisplayName, rec.Site,
			rec.Location, rec.Status, rec.EmploymentType, rec.HireDate,
		})
	}
	if err := r.Sheets.ReplaceRows(SheetRoster, rows); err != nil {
		return 0, err
	}
	return len(records), nil
}
