package linkage

import (
	"livewatch/internal/models"
)

// FlowLink is an edge from an ingest flow into one of the channel's inputs.
type FlowLink struct {
	FlowID    string        `json:"flow_id"`
	FlowName  string        `json:"flow_name"`
	Status    models.Status `json:"status"`
	InputID   string        `json:"input_id"`
	OutputURL string        `json:"output_url"`
	// Address is the channel input address the flow output matched.
	Address string `json:"address"`
}

// PackageLink is the packaging channel fed by the channel.
type PackageLink struct {
	PackageID   string        `json:"package_id"`
	PackageName string        `json:"package_name"`
	Status      models.Status `json:"status"`
	// Inputs are the packaging ingest addresses in configured order.
	Inputs []string `json:"inputs"`
}

// CdnLink is a CDN stream reached through the packaging channel or directly
// from the channel outputs.
type CdnLink struct {
	StreamName string        `json:"stream_name"`
	Status     models.Status `json:"status"`
}

// Graph is the per-channel dependency map
// channel -> flows -> package -> CDN streams.
//
// A Graph is built wholesale and never modified afterwards.
type Graph struct {
	ChannelID   string       `json:"channel_id"`
	ChannelName string       `json:"channel_name"`
	Flows       []FlowLink   `json:"flows"`
	Package     *PackageLink `json:"package,omitempty"`
	CdnStreams  []CdnLink    `json:"cdn_streams"`
}

// FlowsForInput returns the flow links attached to inputID.
func (g Graph) FlowsForInput(inputID string) []FlowLink {
	var out []FlowLink
	for _, link := range g.Flows {
		if link.InputID == inputID {
			out = append(out, link)
		}
	}
	return out
}

// Builder links resources by address.
type Builder struct {
	matcher Matcher
}

// NewBuilder returns a Builder using matcher.
func NewBuilder(matcher Matcher) *Builder {
	return &Builder{matcher: matcher}
}

// BuildGraph links channel with the given inventory using the default
// matcher.
func BuildGraph(channel models.Channel, flows []models.FlowRecord, packages []models.PackageRecord, cdnStreams []models.Resource) Graph {
	return NewBuilder(NewMatcher(DefaultMinStreamKeyLength)).Build(channel, flows, packages, cdnStreams)
}

// Build links channel with the given inventory. A flow may feed several
// channels and a channel may have no flows; neither is an error. The first
// packaging channel whose inputs match the channel outputs is taken.
func (b *Builder) Build(channel models.Channel, flows []models.FlowRecord, packages []models.PackageRecord, cdnStreams []models.Resource) Graph {
	graph := Graph{
		ChannelID:   channel.ID,
		ChannelName: channel.Name,
		Flows:       []FlowLink{},
		CdnStreams:  []CdnLink{},
	}

	for _, flow := range flows {
		for _, input := range channel.Inputs {
			if link, ok := b.linkFlow(flow, input); ok {
				graph.Flows = append(graph.Flows, link)
			}
		}
	}

	downstream := channel.OutputURLs
	for _, pkg := range packages {
		if _, ok := b.matcher.MatchAny(channel.OutputURLs, pkg.Endpoints); !ok {
			continue
		}
		graph.Package = &PackageLink{
			PackageID:   pkg.ID,
			PackageName: pkg.Name,
			Status:      pkg.Status,
			Inputs:      append([]string(nil), pkg.Endpoints...),
		}
		downstream = pkg.OutputURLs
		break
	}

	for _, stream := range cdnStreams {
		if b.linksCdn(downstream, stream) {
			graph.CdnStreams = append(graph.CdnStreams, CdnLink{StreamName: stream.Name, Status: stream.Status})
		}
	}
	return graph
}

func (b *Builder) linkFlow(flow models.FlowRecord, input models.InputAttachment) (FlowLink, bool) {
	for _, out := range flow.OutputURLs {
		for _, address := range input.SourceAddresses {
			if !b.matcher.Match(out, address) {
				continue
			}
			return FlowLink{
				FlowID:    flow.ID,
				FlowName:  flow.Name,
				Status:    flow.Status,
				InputID:   input.InputID,
				OutputURL: out,
				Address:   address,
			}, true
		}
	}
	return FlowLink{}, false
}

func (b *Builder) linksCdn(outputs []string, stream models.Resource) bool {
	if _, ok := b.matcher.MatchAny(outputs, stream.Endpoints); ok {
		return true
	}
	if stream.Name == "" {
		return false
	}
	for _, out := range outputs {
		if StreamKey(out) == NormalizeURL(stream.Name) {
			return true
		}
	}
	return false
}
