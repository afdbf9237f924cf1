// Copyright (c) 2026, the arrbiter contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package engine

import "strings"

// ExemptionClass is the safety category governing which actions may ever be
// applied to an item.
type ExemptionClass string

const (
	ExemptionProtected ExemptionClass = "protected"
	ExemptionPrivate   ExemptionClass = "private"
	ExemptionPublic    ExemptionClass = "public"
)

// ExemptionRules holds the configured tag lists, lowercased.
type ExemptionRules struct {
	protected map[string]struct{}
	private   map[string]struct{}
}

func NewExemptionRules(protectedTags, privateTags []string) ExemptionRules {
	return ExemptionRules{
		protected: toTagSet(protectedTags),
		private:   toTagSet(privateTags),
	}
}

// Classify maps item tags to an exemption class. Protected wins over private
// when both tags are present. Pure function.
func (r ExemptionRules) Classify(tags []string) ExemptionClass {
	private := false
	for _, tag := range tags {
		normalized := strings.ToLower(strings.TrimSpace(tag))
		if _, ok := r.protected[normalized]; ok {
			return ExemptionProtected
		}
		if _, ok := r.private[normalized]; ok {
			private = true
		}
	}
	if private {
		return ExemptionPrivate
	}
	return ExemptionPublic
}

func toTagSet(tags []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		if normalized := strings.ToLower(strings.TrimSpace(tag)); normalized != "" {
			set[normalized] = struct{}{}
		}
	}
	return set
}
