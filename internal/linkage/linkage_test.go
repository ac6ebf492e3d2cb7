package linkage

import (
	"testing"

	"livewatch/internal/models"
)

func TestMatcherMatch(t *testing.T) {
	m := NewMatcher(0)
	tests := []struct {
		name     string
		output   string
		endpoint string
		want     bool
	}{
		{name: "equal ignoring case and slashes", output: "RTMP://ingest-1.example.com//live/ChannelKey01/", endpoint: "rtmp://ingest-1.example.com/live/channelkey01", want: true},
		{name: "endpoint contained in output with path", output: "rtmp://ingest-1.example.com/live/channelkey01/extra", endpoint: "rtmp://ingest-1.example.com/live/channelkey01", want: true},
		{name: "bare host does not match", output: "rtmp://ingest-1.example.com/live/channelkey01", endpoint: "rtmp://ingest-1.example.com", want: false},
		{name: "prefix inside a longer key does not match", output: "rtmp://h.example.com/app/short99", endpoint: "rtmp://h.example.com/app/short", want: false},
		{name: "long stream key across hosts", output: "rtmp://a.example.com/live/abcdefghijkl", endpoint: "srt://b.example.com:57716/abcdefghijkl", want: true},
		{name: "short stream key across hosts", output: "rtmp://a.example.com/live/key1", endpoint: "rtmp://b.example.com/live/key1", want: false},
		{name: "empty", output: "", endpoint: "rtmp://a", want: false},
		{name: "full case folding", output: "rtmp://ingest-1.example.com/live/STRAßENFEED01", endpoint: "rtmp://ingest-1.example.com/live/strassenfeed01", want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := m.Match(tt.output, tt.endpoint); got != tt.want {
				t.Fatalf("Match(%q, %q) = %v, want %v", tt.output, tt.endpoint, got, tt.want)
			}
		})
	}
}

func TestStreamKeyAndRegion(t *testing.T) {
	if got := StreamKey("rtmp://host:1935/live/abc123"); got != "abc123" {
		t.Fatalf("StreamKey = %q", got)
	}
	if got := StreamKey("srt://host:57716"); got != "host" {
		t.Fatalf("StreamKey without path = %q", got)
	}
	if got := StreamKey("RTMP://Host:1935/LIVE/Abc123"); got != "abc123" {
		t.Fatalf("StreamKey with mixed case = %q", got)
	}
	if got := NormalizeURL("  RTMP://Ingest-1.Example.com//Live/Key/ "); got != "rtmp://ingest-1.example.com/live/key" {
		t.Fatalf("NormalizeURL = %q", got)
	}
	if got := RegionIndex("rtmp://ap-seoul-2.ingest.example.com/live/x"); got != 2 {
		t.Fatalf("RegionIndex = %d, want 2", got)
	}
	if got := RegionIndex("rtmp://ingest.example.com/live/x"); got != 0 {
		t.Fatalf("RegionIndex without token = %d, want 0", got)
	}
}

func testChannel() models.Channel {
	return models.Channel{
		Resource: models.Resource{ID: "ch-1", Name: "News", Service: models.ServiceChannel, Status: models.StatusRunning},
		Inputs: []models.InputAttachment{
			{InputID: "in-1", SourceAddresses: []string{"rtmp://in-1.example.com/live/newsmainfeed"}},
			{InputID: "in-2", SourceAddresses: []string{"rtmp://in-2.example.com/live/newsbackupfeed"}},
		},
		OutputURLs: []string{"rtmp://pkg.example.com/ingest/news-package-01"},
	}
}

func TestBuildGraph(t *testing.T) {
	flows := []models.FlowRecord{
		{Resource: models.Resource{ID: "f-main", Name: "news-main", Status: models.StatusRunning}, OutputURLs: []string{"rtmp://in-1.example.com/live/newsmainfeed"}},
		{Resource: models.Resource{ID: "f-backup", Name: "news-backup", Status: models.StatusIdle}, OutputURLs: []string{"rtmp://in-2.example.com/live/newsbackupfeed"}},
		{Resource: models.Resource{ID: "f-other", Name: "sports"}, OutputURLs: []string{"rtmp://in-1.example.com/live/sportsfeed"}},
	}
	packages := []models.PackageRecord{
		{Resource: models.Resource{ID: "p-0", Name: "unrelated", Endpoints: []string{"rtmp://pkg.example.com/ingest/other"}}},
		{Resource: models.Resource{ID: "p-1", Name: "news-pkg", Endpoints: []string{"rtmp://pkg.example.com/ingest/news-package-01", "rtmp://pkg.example.com/ingest/news-package-02"}}, OutputURLs: []string{"rtmp://push.cdn.example.com/live/newscdnstream"}},
	}
	cdn := []models.Resource{
		{ID: "newscdnstream", Name: "newscdnstream", Status: models.StatusRunning},
		{ID: "other", Name: "otherstream"},
	}

	graph := BuildGraph(testChannel(), flows, packages, cdn)
	if graph.ChannelID != "ch-1" {
		t.Fatalf("unexpected channel id %q", graph.ChannelID)
	}
	if len(graph.Flows) != 2 {
		t.Fatalf("expected 2 flow links, got %+v", graph.Flows)
	}
	if graph.Flows[0].InputID != "in-1" || graph.Flows[1].InputID != "in-2" {
		t.Fatalf("unexpected flow inputs %+v", graph.Flows)
	}
	if graph.Package == nil || graph.Package.PackageID != "p-1" {
		t.Fatalf("expected package p-1, got %+v", graph.Package)
	}
	if len(graph.Package.Inputs) != 2 {
		t.Fatalf("expected package inputs, got %+v", graph.Package.Inputs)
	}
	if len(graph.CdnStreams) != 1 || graph.CdnStreams[0].StreamName != "newscdnstream" {
		t.Fatalf("unexpected cdn links %+v", graph.CdnStreams)
	}
	if got := graph.FlowsForInput("in-2"); len(got) != 1 || got[0].FlowID != "f-backup" {
		t.Fatalf("FlowsForInput(in-2) = %+v", got)
	}
}

func TestBuildGraphWithoutMatches(t *testing.T) {
	graph := BuildGraph(testChannel(), nil, nil, nil)
	if graph.Flows == nil || len(graph.Flows) != 0 {
		t.Fatalf("expected empty flow list, got %#v", graph.Flows)
	}
	if graph.Package != nil {
		t.Fatalf("expected no package, got %+v", graph.Package)
	}
}

func TestFlowFeedingTwoChannels(t *testing.T) {
	shared := models.FlowRecord{Resource: models.Resource{ID: "f-1"}, OutputURLs: []string{"rtmp://in-1.example.com/live/newsmainfeed"}}
	first := BuildGraph(testChannel(), []models.FlowRecord{shared}, nil, nil)
	second := testChannel()
	second.ID = "ch-2"
	other := BuildGraph(second, []models.FlowRecord{shared}, nil, nil)
	if len(first.Flows) != 1 || len(other.Flows) != 1 {
		t.Fatalf("expected the flow to link both channels: %+v %+v", first.Flows, other.Flows)
	}
}

func TestBuildHierarchyAndFilter(t *testing.T) {
	b := NewBuilder(NewMatcher(DefaultMinStreamKeyLength))
	ch := testChannel()
	ch.Name = "b-news"
	flows := []models.FlowRecord{
		{Resource: models.Resource{ID: "f-main", Name: "news-main", Service: models.ServiceFlow, Status: models.StatusRunning}, OutputURLs: []string{"rtmp://in-1.example.com/live/newsmainfeed"}},
		{Resource: models.Resource{ID: "f-lone", Name: "a-lonely", Service: models.ServiceFlow, Status: models.StatusIdle}, OutputURLs: []string{"rtmp://elsewhere.example.com/live/unlinkedfeed"}},
	}
	groups := b.BuildHierarchy([]models.Channel{ch}, flows)
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}
	if len(groups[0].Children) != 1 || groups[0].Children[0].ID != "f-main" {
		t.Fatalf("unexpected children %+v", groups[0].Children)
	}

	all := FilterHierarchy(groups, Filter{})
	if len(all) != 2 || all[0].Parent.Name != "a-lonely" {
		t.Fatalf("expected groups sorted by parent name, got %+v", all)
	}

	stopped := FilterHierarchy(groups, Filter{Status: "stopped"})
	if len(stopped) != 1 || stopped[0].Parent.ID != "f-lone" {
		t.Fatalf("stopped filter should match idle flows, got %+v", stopped)
	}

	byChild := FilterHierarchy(groups, Filter{Keyword: "NEWS-MAIN"})
	if len(byChild) != 1 || byChild[0].Parent.ID != "ch-1" || len(byChild[0].Children) != 1 {
		t.Fatalf("keyword on child should keep parent, got %+v", byChild)
	}

	flowsOnly := FilterHierarchy(groups, Filter{Service: models.ServiceFlow, Keyword: "news"})
	if len(flowsOnly) != 1 || len(flowsOnly[0].Children) != 1 {
		t.Fatalf("service filter should keep matching children, got %+v", flowsOnly)
	}
}
