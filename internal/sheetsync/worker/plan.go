// Package worker runs sync jobs: it reads the table snapshot, diffs it
// against the persisted row mappings into a minimal batch of spreadsheet
// operations, applies the batch through the remote writer, and commits
// the fingerprint and mappings once the writes are confirmed.
package worker

import (
	"sort"

	"github.com/EQXai/AutoTrainX-sub000/internal/sheetsync/remote"
	"github.com/EQXai/AutoTrainX-sub000/internal/sheetsync/source"
	"github.com/EQXai/AutoTrainX-sub000/internal/sheetsync/state"
)

// BuildPlan diffs rows against the persisted mappings and returns the
// ordered operations to converge the spreadsheet: deletes for mapped
// records no longer present, then upserts for new or changed records.
//
// rows is the full snapshot for a full sync or the changed subset for an
// incremental one. currentKeys is the table's complete current key set;
// pass nil on a full sync to derive it from rows. Records keep their
// mapped row; new records append after the highest mapped index, so
// deletes clear rows rather than shifting them.
func BuildPlan(table source.Table, rows []source.Row, currentKeys []string, mappings map[string]state.Mapping) []remote.Op {
	width := len(table.Columns) + 1 // key cell plus value columns

	present := make(map[string]bool, len(rows))
	if currentKeys != nil {
		for _, k := range currentKeys {
			present[k] = true
		}
	} else {
		for _, r := range rows {
			present[r.Key] = true
		}
	}

	next := 1
	for _, m := range mappings {
		if m.RowIndex >= next {
			next = m.RowIndex + 1
		}
	}

	var deletes []remote.Op
	for key, m := range mappings {
		if !present[key] {
			deletes = append(deletes, remote.Op{
				Kind:     remote.OpDelete,
				Key:      key,
				RowIndex: m.RowIndex,
				Values:   make([]string, width),
			})
		}
	}
	sort.Slice(deletes, func(i, j int) bool { return deletes[i].Key < deletes[j].Key })

	var upserts []remote.Op
	for _, row := range rows {
		digest := row.Digest()
		if m, ok := mappings[row.Key]; ok {
			if m.ContentHash == digest {
				continue
			}
			upserts = append(upserts, upsertOp(row, m.RowIndex))
			continue
		}
		upserts = append(upserts, upsertOp(row, next))
		next++
	}

	return append(deletes, upserts...)
}

func upsertOp(row source.Row, rowIndex int) remote.Op {
	values := make([]string, 0, len(row.Values)+1)
	values = append(values, row.Key)
	values = append(values, row.Values...)
	return remote.Op{
		Kind:     remote.OpUpsert,
		Key:      row.Key,
		RowIndex: rowIndex,
		Values:   values,
	}
}

// mappingChanges converts confirmed operations back into the row-mapping
// mutations they imply.
func mappingChanges(ops []remote.Op) (upserts []state.MappingUpdate, deletes []string) {
	for _, op := range ops {
		switch op.Kind {
		case remote.OpUpsert:
			row := source.Row{Key: op.Key, Values: op.Values[1:]}
			upserts = append(upserts, state.MappingUpdate{
				Key:         op.Key,
				RowIndex:    op.RowIndex,
				ContentHash: row.Digest(),
			})
		case remote.OpDelete:
			deletes = append(deletes, op.Key)
		}
	}
	return upserts, deletes
}
