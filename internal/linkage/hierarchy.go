package linkage

import (
	"sort"
	"strings"

	"golang.org/x/text/cases"

	"livewatch/internal/models"
)

// Group is a parent resource with the resources that feed it.
type Group struct {
	Parent   models.Resource   `json:"parent"`
	Children []models.Resource `json:"children"`
}

// Filter narrows a hierarchy. Empty fields (or "all") match everything.
type Filter struct {
	Service models.ServiceType
	Status  string
	Keyword string
}

// BuildHierarchy groups every channel with the flows linked to it. Each flow
// is assigned to the first channel it feeds; flows feeding nothing become
// parents of their own group.
func (b *Builder) BuildHierarchy(channels []models.Channel, flows []models.FlowRecord) []Group {
	assigned := make(map[string]struct{}, len(flows))
	groups := make([]Group, 0, len(channels)+len(flows))

	for _, channel := range channels {
		endpoints := inputEndpoints(channel)
		children := []models.Resource{}
		for _, flow := range flows {
			if _, taken := assigned[flow.ID]; taken {
				continue
			}
			if _, ok := b.matcher.MatchAny(flow.OutputURLs, endpoints); !ok {
				continue
			}
			assigned[flow.ID] = struct{}{}
			children = append(children, flow.Resource)
		}
		groups = append(groups, Group{Parent: channel.Resource, Children: children})
	}

	for _, flow := range flows {
		if _, taken := assigned[flow.ID]; taken {
			continue
		}
		groups = append(groups, Group{Parent: flow.Resource, Children: []models.Resource{}})
	}
	return groups
}

// FilterHierarchy applies f to groups. A parent matching the keyword keeps
// its children that match status and service; a parent that does not match
// survives only through children matching every criterion. Results are
// sorted by parent name.
func FilterHierarchy(groups []Group, f Filter) []Group {
	fold := cases.Fold()
	keyword := fold.String(strings.TrimSpace(f.Keyword))

	matchesKeyword := func(r models.Resource) bool {
		if keyword == "" {
			return true
		}
		return strings.Contains(fold.String(r.Name), keyword) || strings.Contains(fold.String(r.ID), keyword)
	}

	var filtered []Group
	for _, group := range groups {
		parentKeyword := matchesKeyword(group.Parent)
		children := []models.Resource{}
		for _, child := range group.Children {
			if !parentKeyword && !matchesKeyword(child) {
				continue
			}
			if matchesStatus(child, f.Status) && matchesService(child, f.Service) {
				children = append(children, child)
			}
		}

		switch {
		case parentKeyword && matchesStatus(group.Parent, f.Status) && matchesService(group.Parent, f.Service):
			filtered = append(filtered, Group{Parent: group.Parent, Children: children})
		case len(children) > 0:
			filtered = append(filtered, Group{Parent: group.Parent, Children: children})
		}
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].Parent.Name < filtered[j].Parent.Name
	})
	return filtered
}

func matchesStatus(r models.Resource, status string) bool {
	status = strings.ToLower(strings.TrimSpace(status))
	switch status {
	case "", "all":
		return true
	case string(models.StatusStopped):
		return r.Status == models.StatusStopped || r.Status == models.StatusIdle
	default:
		return string(r.Status) == status
	}
}

func matchesService(r models.Resource, service models.ServiceType) bool {
	if service == "" || service == "all" {
		return true
	}
	return r.Service == service
}

func inputEndpoints(channel models.Channel) []string {
	var endpoints []string
	for _, input := range channel.Inputs {
		endpoints = append(endpoints, input.SourceAddresses...)
	}
	return append(endpoints, channel.Endpoints...)
}
