package matcher

import (
	"fmt"
	"sort"

	"ticket-reconciliation-service/internal/fuzzy"
	"ticket-reconciliation-service/internal/models"
)

// DuplicateKind says which side of the batch a duplicate group came from
type DuplicateKind string

const (
	DuplicateTickets DuplicateKind = "ledger"
	DuplicateImages  DuplicateKind = "images"
)

// DuplicateGroup is a set of tickets or images sharing one identifier.
// Duplicate ledger rows compete for the same image and duplicate images
// usually mean a ticket was scanned twice.
type DuplicateGroup struct {
	Kind       DuplicateKind `json:"kind"`
	Identifier string        `json:"identifier"`
	IDs        []string      `json:"ids"`
	Reason     string        `json:"reason"`
}

// DetectDuplicateTickets groups ledger tickets with the same normalized
// identifier. Tickets without an identifier are ignored.
func DetectDuplicateTickets(tickets []*models.LedgerTicket) []DuplicateGroup {
	groups := make(map[string][]string)
	for _, t := range tickets {
		if id, ok := t.Identifier.Get(); ok {
			key := fuzzy.NormalizeIdentifier(id)
			if key != "" {
				groups[key] = append(groups[key], t.ID)
			}
		}
	}
	return collectGroups(groups, DuplicateTickets, "ledger tickets")
}

// DetectDuplicateImages groups valid images whose recognized identifiers
// normalize to the same value. A group is only reported when its images
// come from at least two pages.
func DetectDuplicateImages(images []*models.CandidateImage) []DuplicateGroup {
	groups := make(map[string][]string)
	pages := make(map[string]map[int]bool)
	for _, img := range images {
		id, ok := img.Identifier.Get()
		if !ok || !img.Valid {
			continue
		}
		key := fuzzy.NormalizeIdentifier(id)
		if key == "" {
			continue
		}
		if pages[key] == nil {
			pages[key] = make(map[int]bool)
		}
		pages[key][img.PageIndex] = true
		groups[key] = append(groups[key], img.ID)
	}
	for key := range groups {
		if len(pages[key]) < 2 {
			delete(groups, key)
		}
	}
	return collectGroups(groups, DuplicateImages, "images")
}

func collectGroups(groups map[string][]string, kind DuplicateKind, noun string) []DuplicateGroup {
	keys := make([]string, 0, len(groups))
	for k, ids := range groups {
		if len(ids) > 1 {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	out := make([]DuplicateGroup, 0, len(keys))
	for _, k := range keys {
		out = append(out, DuplicateGroup{
			Kind:       kind,
			Identifier: k,
			IDs:        groups[k],
			Reason:     fmt.Sprintf("Found %d %s with identifier %s", len(groups[k]), noun, k),
		})
	}
	return out
}
