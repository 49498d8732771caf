// Package tagsync pushes each supporter's canonical tag set to the external
// audiences they belong to.
package tagsync

import (
	"strconv"
	"strings"
	"time"

	eventmodels "supporterhub/internal/events/models"
	"supporterhub/internal/settings"
	"supporterhub/internal/supporter/models"
	platformstrings "supporterhub/pkg/platform/strings"
)

// Facts is what tag rules look at.
type Facts struct {
	Now        time.Time
	Config     settings.RunConfig
	Supporter  *models.Supporter
	Membership *models.Membership
	Events     []*eventmodels.Event
}

// TagRule contributes zero or more tags.
type TagRule struct {
	Name string
	Tags func(Facts) []string
}

// Managed tag prefixes. Tags outside these namespaces belong to whoever
// added them in the audience tool and are never removed.
var managedPrefixes = []string{"membership:", "tier:", "active:", "type:"}

func isManaged(tag string) bool {
	for _, p := range managedPrefixes {
		if strings.HasPrefix(tag, p) {
			return true
		}
	}
	return false
}

// activityWindows are the rolling windows behind the active:<n>d tags.
var activityWindows = []int{30, 90, 365}

// DefaultRules is the ordered tag rule list.
func DefaultRules() []TagRule {
	return []TagRule{
		{Name: "membership_status", Tags: membershipStatus},
		{Name: "membership_tier", Tags: membershipTier},
		{Name: "activity", Tags: activity},
		{Name: "supporter_type", Tags: supporterType},
	}
}

// CanonicalTags applies rules in order and returns the sorted tag set.
func CanonicalTags(rules []TagRule, facts Facts) []string {
	var tags []string
	for _, rule := range rules {
		tags = append(tags, rule.Tags(facts)...)
	}
	return platformstrings.SortedSet(tags)
}

func membershipStatus(f Facts) []string {
	m := f.Membership
	if m == nil {
		return nil
	}
	if m.IsActive(f.Now, f.Config.GraceDays) {
		return []string{"membership:active"}
	}
	return []string{"membership:" + slug(string(m.Status))}
}

func membershipTier(f Facts) []string {
	m := f.Membership
	if m == nil || m.Tier == "" || !m.IsActive(f.Now, f.Config.GraceDays) {
		return nil
	}
	return []string{"tier:" + slug(m.Tier)}
}

func activity(f Facts) []string {
	var tags []string
	for _, days := range activityWindows {
		window := time.Duration(days) * 24 * time.Hour
		for _, e := range f.Events {
			if e.Within(f.Now, window) {
				tags = append(tags, "active:"+strconv.Itoa(days)+"d")
				break
			}
		}
	}
	return tags
}

func supporterType(f Facts) []string {
	if f.Supporter == nil || f.Supporter.Type == "" || f.Supporter.Type == models.TypeUnknown {
		return nil
	}
	return []string{"type:" + slug(string(f.Supporter.Type))}
}

// slug lowercases and replaces runs of non-alphanumerics with a hyphen:
// "Season Ticket Holder" becomes "season-ticket-holder".
func slug(s string) string {
	var b strings.Builder
	hyphen := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			hyphen = false
			continue
		}
		if !hyphen && b.Len() > 0 {
			b.WriteByte('-')
			hyphen = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
