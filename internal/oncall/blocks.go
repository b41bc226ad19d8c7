// Package oncall computes who is on call from rotation layers and overrides.
package oncall

import (
	"sort"
	"time"

	"github.com/bissquit/oncall-garden/internal/domain"
)

// Block is a contiguous span of time owned by one user.
type Block struct {
	UserID string
	Start  time.Time
	End    time.Time
}

// Covers reports whether the block contains the instant.
func (b Block) Covers(at time.Time) bool {
	return !at.Before(b.Start) && at.Before(b.End)
}

// LayerBlocks expands one rotation layer into blocks within the window.
// Shifts are aligned to the layer's rotation start, so the window can begin
// mid-shift and still land on the right user.
func LayerBlocks(layer domain.RotationLayer, windowStart, windowEnd time.Time) []Block {
	if len(layer.UserIDs) == 0 || layer.RotationLengthHours <= 0 {
		return nil
	}

	start := windowStart
	if start.Before(layer.RotationStart) {
		start = layer.RotationStart
	}
	end := windowEnd
	if layer.EndsAt != nil && layer.EndsAt.Before(end) {
		end = *layer.EndsAt
	}
	if !start.Before(end) {
		return nil
	}

	shift := layer.ShiftLength()
	idx := int(start.Sub(layer.RotationStart) / shift)
	blockStart := layer.RotationStart.Add(time.Duration(idx) * shift)

	var blocks []Block
	for blockStart.Before(end) {
		blockEnd := blockStart.Add(shift)

		s, e := blockStart, blockEnd
		if s.Before(start) {
			s = start
		}
		if e.After(end) {
			e = end
		}
		if s.Before(e) {
			blocks = append(blocks, Block{
				UserID: layer.UserIDs[idx%len(layer.UserIDs)],
				Start:  s,
				End:    e,
			})
		}

		idx++
		blockStart = blockEnd
	}
	return blocks
}

// ScheduleBlocks expands a whole schedule into blocks within the window.
// Later layers shadow earlier ones where they overlap, then overrides are
// applied on top.
func ScheduleBlocks(schedule domain.Schedule, windowStart, windowEnd time.Time) []Block {
	var merged []Block
	for _, layer := range schedule.Layers {
		layerBlocks := LayerBlocks(layer, windowStart, windowEnd)
		if len(layerBlocks) == 0 {
			continue
		}
		merged = append(subtract(merged, layerBlocks), layerBlocks...)
	}

	merged = ApplyOverrides(merged, schedule.Overrides)
	sort.Slice(merged, func(i, j int) bool { return merged[i].Start.Before(merged[j].Start) })
	return merged
}

// subtract removes from blocks every span covered by any of cuts.
func subtract(blocks, cuts []Block) []Block {
	for _, cut := range cuts {
		var next []Block
		for _, b := range blocks {
			next = append(next, carve(b, cut.Start, cut.End)...)
		}
		blocks = next
	}
	return blocks
}

// carve returns the parts of b outside [from, to).
func carve(b Block, from, to time.Time) []Block {
	if !from.Before(b.End) || !b.Start.Before(to) {
		return []Block{b}
	}
	var parts []Block
	if b.Start.Before(from) {
		parts = append(parts, Block{UserID: b.UserID, Start: b.Start, End: from})
	}
	if to.Before(b.End) {
		parts = append(parts, Block{UserID: b.UserID, Start: to, End: b.End})
	}
	return parts
}

// ApplyOverrides substitutes override users into the block list. A targeted
// override (ReplacesUserID set) only rewrites blocks owned by that user; an
// untargeted one rewrites everything inside its window.
func ApplyOverrides(blocks []Block, overrides []domain.ScheduleOverride) []Block {
	for _, o := range overrides {
		var next []Block
		for _, b := range blocks {
			if o.ReplacesUserID != nil && *o.ReplacesUserID != b.UserID {
				next = append(next, b)
				continue
			}
			overlapStart, overlapEnd := b.Start, b.End
			if overlapStart.Before(o.StartsAt) {
				overlapStart = o.StartsAt
			}
			if o.EndsAt.Before(overlapEnd) {
				overlapEnd = o.EndsAt
			}
			if !overlapStart.Before(overlapEnd) {
				next = append(next, b)
				continue
			}
			next = append(next, carve(b, overlapStart, overlapEnd)...)
			next = append(next, Block{UserID: o.UserID, Start: overlapStart, End: overlapEnd})
		}
		blocks = next
	}
	return blocks
}
