// Package command defines the built-in command set: Tier-1 column
// expression transforms, Tier-2 row edits with exact inverse statements,
// and Tier-3 whole-table select transforms, plus the registry that
// recreates commands from their recorded parameters for redo.
package command

import (
	"tableforge/internal/domain"
)

// TierOf returns the undo tier of a command type. Tier is a fixed
// property of the type; the switch is exhaustive over the built-in set
// and unknown types are rejected.
func TierOf(t domain.CommandType) (domain.Tier, error) {
	switch t {
	case domain.CmdTrimColumn, domain.CmdLowercaseColumn, domain.CmdUppercaseColumn,
		domain.CmdReplaceText, domain.CmdPadColumn, domain.CmdNumberFormat:
		return domain.Tier1, nil
	case domain.CmdUpdateCells, domain.CmdDeleteRows, domain.CmdInsertRow,
		domain.CmdRenameColumn:
		return domain.Tier2, nil
	case domain.CmdDropColumn, domain.CmdSplitColumn, domain.CmdMergeColumns,
		domain.CmdDeduplicateRows, domain.CmdFillDown, domain.CmdSortTable:
		return domain.Tier3, nil
	default:
		return 0, domain.ErrValidation("unknown command type %q", t)
	}
}

// RequiresSnapshot reports whether executing the type must be preceded by
// a full-table snapshot. Only Tier-3 commands snapshot; sorting is exempt
// because it moves rows without changing any value, so its undo is a
// re-sort rather than a restore.
func RequiresSnapshot(t domain.CommandType) bool {
	tier, err := TierOf(t)
	if err != nil || tier != domain.Tier3 {
		return false
	}
	return t != domain.CmdSortTable
}

// ShardEligible reports whether the type's select transform may run on
// the shard streaming path. Transforms whose result depends on rows
// outside the current shard (global dedup, fill-down carry, total order)
// must run in-engine.
func ShardEligible(t domain.CommandType) bool {
	switch t {
	case domain.CmdDropColumn, domain.CmdSplitColumn, domain.CmdMergeColumns:
		return true
	default:
		return false
	}
}
