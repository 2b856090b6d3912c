package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tis24dev/pgsave/internal/config"
	"github.com/tis24dev/pgsave/internal/logging"
	"github.com/tis24dev/pgsave/internal/types"
)

// Plan is the complete eligibility computation of one expire run. Nothing
// is deleted until the whole plan exists, so a partial computation can never
// remove part of a still-needed backup chain.
type Plan struct {
	Keep   []*Manifest
	Remove []*Manifest

	// ArchiveFloor is the earliest WAL segment name that must be kept;
	// every archived segment sorting strictly below it is removable.
	// Empty means keep all segments.
	ArchiveFloor string
}

// ExpireResult summarizes what an expire run deleted.
type ExpireResult struct {
	BackupsRemoved  []string
	BackupsKept     int
	SegmentsRemoved int
}

// BuildPlan classifies every backup as kept or removable under the policy.
//
// Age-ordered, newest first: the newest `full` count of full backups is
// kept, and every older full together with the diff/incr chain rooted at it
// becomes removable. Independently the newest `diff` count of differentials
// is kept regardless of its root full's retention; the root full of such a
// diff is kept too, since the diff is unusable without its base. A zero
// count disables expiration for that dimension.
func BuildPlan(backups []*Manifest, policy config.RetentionConfig) *Plan {
	ordered := make([]*Manifest, len(backups))
	copy(ordered, backups)
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].Timestamp.Equal(ordered[j].Timestamp) {
			return ordered[i].Label > ordered[j].Label
		}
		return ordered[i].Timestamp.After(ordered[j].Timestamp)
	})

	keptRoots := make(map[string]bool)
	fullSeen := 0
	for _, m := range ordered {
		if m.Type != types.BackupFull {
			continue
		}
		if policy.Full == 0 || fullSeen < policy.Full {
			keptRoots[m.Label] = true
		}
		fullSeen++
	}

	// A zero diff count means differentials simply follow their root full;
	// a positive count keeps the newest N independently of full retention.
	keptDiffs := make(map[string]bool)
	if policy.Diff > 0 {
		diffSeen := 0
		for _, m := range ordered {
			if m.Type != types.BackupDiff {
				continue
			}
			if diffSeen < policy.Diff {
				keptDiffs[m.Label] = true
				// A differential cannot be restored without its base full.
				keptRoots[m.RootLabel()] = true
			}
			diffSeen++
		}
	}

	plan := &Plan{}
	kept := make(map[string]bool)
	for _, m := range ordered {
		switch {
		case keptRoots[m.RootLabel()] && m.Type != types.BackupDiff:
			plan.Keep = append(plan.Keep, m)
			kept[m.Label] = true
		case m.Type == types.BackupDiff && (keptDiffs[m.Label] || keptRoots[m.RootLabel()]):
			plan.Keep = append(plan.Keep, m)
			kept[m.Label] = true
		default:
			plan.Remove = append(plan.Remove, m)
		}
	}

	plan.ArchiveFloor = archiveFloor(plan.Keep, policy)
	return plan
}

// archiveFloor computes the oldest WAL segment any retained backup still
// needs. The archive retention policy may raise the floor further (fewer
// segments kept), but never above what a kept backup requires for replay.
func archiveFloor(keep []*Manifest, policy config.RetentionConfig) string {
	if len(keep) == 0 {
		return ""
	}

	// Hard floor: every kept backup needs its own WAL range.
	required := ""
	for _, m := range keep {
		if m.WALStart == "" {
			// A backup without a recorded start position pins the archive.
			return ""
		}
		if required == "" || m.WALStart < required {
			required = m.WALStart
		}
	}

	// Policy floor: the newest `archive` count of backups of the retention
	// type define how far back segments are kept at all.
	var selected []*Manifest
	for _, m := range keep {
		if m.Type == types.BackupFull || (policy.ArchiveType == types.BackupDiff && m.Type == types.BackupDiff) {
			selected = append(selected, m)
		}
	}
	if len(selected) == 0 || policy.Archive == 0 {
		return required
	}
	// keep is newest-first already; clamp to the newest N.
	if len(selected) > policy.Archive {
		selected = selected[:policy.Archive]
	}
	policyFloor := ""
	for _, m := range selected {
		if policyFloor == "" || m.WALStart < policyFloor {
			policyFloor = m.WALStart
		}
	}

	// Never raise the floor above a kept backup's needs.
	if policyFloor > required {
		policyFloor = required
	}
	return policyFloor
}

// Expire applies the retention policy: compute the full plan, then delete
// removable backup directories and archive segments below the floor.
func Expire(st *config.Stanza, logger *logging.Logger) (*ExpireResult, error) {
	backups, err := ListBackups(st.BackupDir())
	if err != nil {
		return nil, err
	}

	plan := BuildPlan(backups, st.Retention)
	result := &ExpireResult{BackupsKept: len(plan.Keep)}

	for _, m := range plan.Remove {
		dir := filepath.Join(st.BackupDir(), m.Label)
		logger.Info("Expiring backup %s (%s)", m.Label, m.Type)
		if err := os.RemoveAll(dir); err != nil {
			return result, fmt.Errorf("remove backup %s: %w", dir, err)
		}
		result.BackupsRemoved = append(result.BackupsRemoved, m.Label)
	}

	removed, err := expireArchive(st.ArchiveRepoDir(), plan.ArchiveFloor, logger)
	if err != nil {
		return result, err
	}
	result.SegmentsRemoved = removed

	logger.Info("Retention: %d backups kept, %d removed, %d archive segments removed",
		result.BackupsKept, len(result.BackupsRemoved), result.SegmentsRemoved)
	return result, nil
}

// expireArchive removes archived segments sorting strictly below the floor.
// Non-segment files (history files, partial transfers) are left alone.
func expireArchive(archiveDir, floor string, logger *logging.Logger) (int, error) {
	if floor == "" {
		return 0, nil
	}

	entries, err := os.ReadDir(archiveDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read archive directory %s: %w", archiveDir, err)
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		segment, ok := segmentName(entry.Name())
		if !ok {
			continue
		}
		if segment >= floor {
			continue
		}
		path := filepath.Join(archiveDir, entry.Name())
		if err := os.Remove(path); err != nil {
			return removed, fmt.Errorf("remove segment %s: %w", path, err)
		}
		logger.Debug("Expired archive segment %s", entry.Name())
		removed++
	}
	return removed, nil
}

// segmentName extracts the 24-hex-character WAL segment name from an
// archive file name, tolerating encoding suffixes.
func segmentName(name string) (string, bool) {
	if strings.HasSuffix(name, ".tmp") {
		return "", false
	}
	name = strings.TrimSuffix(name, ".age")
	name = strings.TrimSuffix(name, ".gz")
	if len(name) != 24 {
		return "", false
	}
	for _, r := range name {
		if (r < '0' || r > '9') && (r < 'A' || r > 'F') {
			return "", false
		}
	}
	return name, true
}
