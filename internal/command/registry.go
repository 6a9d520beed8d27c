package command

import (
	"tableforge/internal/domain"
)

// Factory builds a command instance from its recorded parameters.
type Factory func(id string, params map[string]any) (domain.Command, error)

// Registry maps command types to factories. The executor uses it to
// recreate commands for redo from the parameters captured at first
// execution, and the API layer uses it to build commands from requests.
type Registry struct {
	factories map[domain.CommandType]Factory
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[domain.CommandType]Factory)}
}

// Register binds a factory to a command type, replacing any previous one.
func (r *Registry) Register(t domain.CommandType, f Factory) {
	r.factories[t] = f
}

// Create builds a command of the given type from parameters.
func (r *Registry) Create(t domain.CommandType, id string, params map[string]any) (domain.Command, error) {
	f, ok := r.factories[t]
	if !ok {
		return nil, domain.ErrValidation("unknown command type %q", t)
	}
	return f(id, params)
}

// Types returns the registered command types.
func (r *Registry) Types() []domain.CommandType {
	out := make([]domain.CommandType, 0, len(r.factories))
	for t := range r.factories {
		out = append(out, t)
	}
	return out
}

// NewDefaultRegistry returns a Registry with every built-in command type.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()

	r.Register(domain.CmdTrimColumn, func(id string, p map[string]any) (domain.Command, error) {
		col, err := stringParam(p, "column")
		if err != nil {
			return nil, err
		}
		return NewTrimColumn(id, col), nil
	})
	r.Register(domain.CmdLowercaseColumn, func(id string, p map[string]any) (domain.Command, error) {
		col, err := stringParam(p, "column")
		if err != nil {
			return nil, err
		}
		return NewLowercaseColumn(id, col), nil
	})
	r.Register(domain.CmdUppercaseColumn, func(id string, p map[string]any) (domain.Command, error) {
		col, err := stringParam(p, "column")
		if err != nil {
			return nil, err
		}
		return NewUppercaseColumn(id, col), nil
	})
	r.Register(domain.CmdReplaceText, func(id string, p map[string]any) (domain.Command, error) {
		col, err := stringParam(p, "column")
		if err != nil {
			return nil, err
		}
		search, err := stringParam(p, "search")
		if err != nil {
			return nil, err
		}
		replacement, err := optionalStringParam(p, "replacement", "")
		if err != nil {
			return nil, err
		}
		return NewReplaceText(id, col, search, replacement)
	})
	r.Register(domain.CmdPadColumn, func(id string, p map[string]any) (domain.Command, error) {
		col, err := stringParam(p, "column")
		if err != nil {
			return nil, err
		}
		side, err := optionalStringParam(p, "side", "left")
		if err != nil {
			return nil, err
		}
		width, err := intParam(p, "width")
		if err != nil {
			return nil, err
		}
		fill, err := optionalStringParam(p, "fill", " ")
		if err != nil {
			return nil, err
		}
		return NewPadColumn(id, col, side, width, fill)
	})
	r.Register(domain.CmdNumberFormat, func(id string, p map[string]any) (domain.Command, error) {
		col, err := stringParam(p, "column")
		if err != nil {
			return nil, err
		}
		decimals, err := intParam(p, "decimals")
		if err != nil {
			return nil, err
		}
		return NewNumberFormat(id, col, decimals)
	})

	r.Register(domain.CmdUpdateCells, func(id string, p map[string]any) (domain.Command, error) {
		col, err := stringParam(p, "column")
		if err != nil {
			return nil, err
		}
		edits, err := cellEditsParam(p, "edits")
		if err != nil {
			return nil, err
		}
		return NewUpdateCells(id, col, edits)
	})
	r.Register(domain.CmdDeleteRows, func(id string, p map[string]any) (domain.Command, error) {
		ids, err := int64SliceParam(p, "row_ids")
		if err != nil {
			return nil, err
		}
		return NewDeleteRows(id, ids)
	})
	r.Register(domain.CmdInsertRow, func(id string, p map[string]any) (domain.Command, error) {
		values, ok := p["values"].(map[string]any)
		if !ok || len(values) == 0 {
			return nil, domain.ErrValidation("parameter %q must be a non-empty object", "values")
		}
		after, hasAfter, err := optionalInt64Param(p, "insert_after")
		if err != nil {
			return nil, err
		}
		var afterPtr *int64
		if hasAfter {
			afterPtr = &after
		}
		cmd, err := NewInsertRow(id, values, afterPtr)
		if err != nil {
			return nil, err
		}
		// A redo reuses the id generated at first execution.
		if rowID, has, err := optionalInt64Param(p, "row_id"); err != nil {
			return nil, err
		} else if has {
			cmd.(*insertRowCommand).withCapturedRowID(rowID)
		}
		return cmd, nil
	})
	r.Register(domain.CmdRenameColumn, func(id string, p map[string]any) (domain.Command, error) {
		from, err := stringParam(p, "from")
		if err != nil {
			return nil, err
		}
		to, err := stringParam(p, "to")
		if err != nil {
			return nil, err
		}
		return NewRenameColumn(id, from, to)
	})

	r.Register(domain.CmdDropColumn, func(id string, p map[string]any) (domain.Command, error) {
		col, err := stringParam(p, "column")
		if err != nil {
			return nil, err
		}
		return NewDropColumn(id, col)
	})
	r.Register(domain.CmdSplitColumn, func(id string, p map[string]any) (domain.Command, error) {
		col, err := stringParam(p, "column")
		if err != nil {
			return nil, err
		}
		delimiter, err := stringParam(p, "delimiter")
		if err != nil {
			return nil, err
		}
		into, err := stringSliceParam(p, "into")
		if err != nil {
			return nil, err
		}
		return NewSplitColumn(id, col, delimiter, into)
	})
	r.Register(domain.CmdMergeColumns, func(id string, p map[string]any) (domain.Command, error) {
		cols, err := stringSliceParam(p, "columns")
		if err != nil {
			return nil, err
		}
		delimiter, err := optionalStringParam(p, "delimiter", " ")
		if err != nil {
			return nil, err
		}
		target, err := stringParam(p, "target")
		if err != nil {
			return nil, err
		}
		return NewMergeColumns(id, cols, delimiter, target)
	})
	r.Register(domain.CmdDeduplicateRows, func(id string, p map[string]any) (domain.Command, error) {
		return NewDeduplicateRows(id), nil
	})
	r.Register(domain.CmdFillDown, func(id string, p map[string]any) (domain.Command, error) {
		col, err := stringParam(p, "column")
		if err != nil {
			return nil, err
		}
		return NewFillDown(id, col)
	})
	r.Register(domain.CmdSortTable, func(id string, p map[string]any) (domain.Command, error) {
		keys, err := sortKeysParam(p, "keys")
		if err != nil {
			return nil, err
		}
		return NewSortTable(id, keys)
	})

	return r
}

func cellEditsParam(params map[string]any, key string) (map[int64]any, error) {
	v, ok := params[key]
	if !ok {
		return nil, domain.ErrValidation("parameter %q is required", key)
	}
	var items []map[string]any
	switch s := v.(type) {
	case []map[string]any:
		items = s
	case []any:
		for _, e := range s {
			m, ok := e.(map[string]any)
			if !ok {
				return nil, domain.ErrValidation("parameter %q must be a list of edits", key)
			}
			items = append(items, m)
		}
	default:
		return nil, domain.ErrValidation("parameter %q must be a list of edits", key)
	}
	edits := make(map[int64]any, len(items))
	for _, item := range items {
		rowID, ok := toInt(item["row_id"])
		if !ok {
			return nil, domain.ErrValidation("each edit needs an integer %q", "row_id")
		}
		edits[rowID] = item["value"]
	}
	return edits, nil
}

func int64SliceParam(params map[string]any, key string) ([]int64, error) {
	v, ok := params[key]
	if !ok {
		return nil, domain.ErrValidation("parameter %q is required", key)
	}
	var raw []any
	switch s := v.(type) {
	case []int64:
		return s, nil
	case []any:
		raw = s
	default:
		return nil, domain.ErrValidation("parameter %q must be a list of integers", key)
	}
	out := make([]int64, len(raw))
	for i, e := range raw {
		n, ok := toInt(e)
		if !ok {
			return nil, domain.ErrValidation("parameter %q must be a list of integers", key)
		}
		out[i] = n
	}
	return out, nil
}

func sortKeysParam(params map[string]any, key string) ([]SortKey, error) {
	v, ok := params[key]
	if !ok {
		return nil, domain.ErrValidation("parameter %q is required", key)
	}
	var items []map[string]any
	switch s := v.(type) {
	case []map[string]any:
		items = s
	case []any:
		for _, e := range s {
			m, ok := e.(map[string]any)
			if !ok {
				return nil, domain.ErrValidation("parameter %q must be a list of sort keys", key)
			}
			items = append(items, m)
		}
	default:
		return nil, domain.ErrValidation("parameter %q must be a list of sort keys", key)
	}
	keys := make([]SortKey, len(items))
	for i, item := range items {
		col, ok := item["column"].(string)
		if !ok || col == "" {
			return nil, domain.ErrValidation("each sort key needs a %q", "column")
		}
		desc, _ := item["descending"].(bool)
		keys[i] = SortKey{Column: col, Descending: desc}
	}
	return keys, nil
}
