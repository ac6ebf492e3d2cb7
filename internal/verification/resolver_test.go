package verification

import (
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"livewatch/internal/linkage"
	"livewatch/internal/models"
)

var fixedNow = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

func newTestResolver(policy RedundancyPolicy) *Resolver {
	return NewResolver(ResolverConfig{
		Policy: policy,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:    fixedNow,
	})
}

func failoverChannel() models.Channel {
	return models.Channel{
		Resource: models.Resource{ID: "ch-1", Name: "News"},
		Inputs: []models.InputAttachment{
			{InputID: "in-main", Name: "news-main", FailoverSecondaryID: "in-backup", SourceAddresses: []string{"rtmp://in-1.example.com/live/a"}},
			{InputID: "in-backup", Name: "news-backup", SourceAddresses: []string{"rtmp://in-2.example.com/live/b"}},
		},
	}
}

func redundantChannel() models.Channel {
	return models.Channel{
		Resource: models.Resource{ID: "ch-2", Name: "Sports"},
		Inputs: []models.InputAttachment{
			{InputID: "in-1", Name: "sports", SourceAddresses: []string{
				"rtmp://ap-seoul-1.example.com/live/s",
				"rtmp://ap-seoul-2.example.com/live/s",
			}},
		},
	}
}

func TestResolvePrecedence(t *testing.T) {
	r := newTestResolver(nil)
	opinions := []Opinion{
		{Source: SourceNamePattern, ActiveType: ActiveMain},
		{Source: SourceFlowStatus, ActiveType: ActiveMain, InputID: "in-main"},
		{Source: SourceDirectInputQuery, ActiveType: ActiveBackup, InputID: "in-backup", Address: "rtmp://in-2.example.com/live/b"},
		{Source: SourceFailoverSettings, ActiveType: ActiveBackup, InputID: "in-backup"},
	}
	result := r.Resolve(failoverChannel(), linkage.Graph{}, opinions)

	if result.ActiveInput != ActiveBackup {
		t.Fatalf("expected backup verdict, got %q", result.ActiveInput)
	}
	want := []Source{SourceDirectInputQuery, SourceFailoverSettings}
	if len(result.VerificationSources) != len(want) {
		t.Fatalf("verification sources = %v, want %v", result.VerificationSources, want)
	}
	for i := range want {
		if result.VerificationSources[i] != want[i] {
			t.Fatalf("verification sources = %v, want %v", result.VerificationSources, want)
		}
	}
	if result.VerificationLevel != 2 {
		t.Fatalf("verification level = %d", result.VerificationLevel)
	}
	if result.ActiveInputID == nil || *result.ActiveInputID != "in-backup" {
		t.Fatalf("unexpected input id %v", result.ActiveInputID)
	}
	if result.ActiveInputName == nil || *result.ActiveInputName != "news-backup" {
		t.Fatalf("unexpected input name %v", result.ActiveInputName)
	}
	if result.Confidence != ConfidenceHigh {
		t.Fatalf("confidence = %q", result.Confidence)
	}
	if result.FailoverMode != ModeChannelFailover {
		t.Fatalf("failover mode = %q", result.FailoverMode)
	}
}

func TestResolveOrderIndependent(t *testing.T) {
	r := newTestResolver(nil)
	a := []Opinion{
		{Source: SourceStatistics, ActiveType: ActiveMain, InputID: "in-main"},
		{Source: SourceFlowStatus, ActiveType: ActiveBackup, InputID: "in-backup"},
	}
	b := []Opinion{a[1], a[0]}
	first, _ := json.Marshal(r.Resolve(failoverChannel(), linkage.Graph{}, a))
	second, _ := json.Marshal(r.Resolve(failoverChannel(), linkage.Graph{}, b))
	if string(first) != string(second) {
		t.Fatalf("results differ by arrival order:\n%s\n%s", first, second)
	}
}

func TestResolveScenarioFlowStatusOnly(t *testing.T) {
	r := newTestResolver(nil)
	result := r.Resolve(failoverChannel(), linkage.Graph{}, []Opinion{
		{Source: SourceFlowStatus, ActiveType: ActiveBackup, InputID: "in-backup"},
	})
	if result.ActiveInput != ActiveBackup {
		t.Fatalf("expected backup, got %q", result.ActiveInput)
	}
	if len(result.VerificationSources) != 1 || result.VerificationSources[0] != SourceFlowStatus {
		t.Fatalf("unexpected sources %v", result.VerificationSources)
	}
	if result.IsInputSourceRedundancy {
		t.Fatal("flow status on a failover pair is not source redundancy")
	}
}

func TestResolveScenarioSourceRedundancy(t *testing.T) {
	r := newTestResolver(nil)
	channel := redundantChannel()
	result := r.Resolve(channel, linkage.Graph{}, []Opinion{
		{Source: SourceDirectInputQuery, ActiveType: ActiveMain, InputID: "in-1", Address: channel.Inputs[0].SourceAddresses[0], Redundant: true},
		{Source: SourceDirectInputQuery, ActiveType: ActiveBackup, InputID: "in-1", Address: channel.Inputs[0].SourceAddresses[1], Redundant: true},
	})
	if !result.IsInputSourceRedundancy {
		t.Fatal("expected input source redundancy")
	}
	if result.ActiveInput != ActiveMain {
		t.Fatalf("expected main, got %q", result.ActiveInput)
	}
	if result.ActiveSourceAddress == nil || !strings.Contains(*result.ActiveSourceAddress, "-1.") {
		t.Fatalf("expected region-1 address, got %v", result.ActiveSourceAddress)
	}
	if len(result.CandidateAddresses) != 2 {
		t.Fatalf("expected both addresses in the trail, got %v", result.CandidateAddresses)
	}
	if result.FailoverMode != ModeInputSourceRedundancy {
		t.Fatalf("failover mode = %q", result.FailoverMode)
	}
}

func TestResolveCustomPolicy(t *testing.T) {
	lastActive := func(candidates []Opinion) Opinion { return candidates[len(candidates)-1] }
	r := newTestResolver(lastActive)
	channel := redundantChannel()
	result := r.Resolve(channel, linkage.Graph{}, []Opinion{
		{Source: SourceDirectInputQuery, ActiveType: ActiveMain, InputID: "in-1", Address: channel.Inputs[0].SourceAddresses[0], Redundant: true},
		{Source: SourceDirectInputQuery, ActiveType: ActiveBackup, InputID: "in-1", Address: channel.Inputs[0].SourceAddresses[1], Redundant: true},
	})
	if result.ActiveInput != ActiveBackup {
		t.Fatalf("expected policy to pick backup, got %q", result.ActiveInput)
	}
}

func TestResolveScenarioNoOpinions(t *testing.T) {
	r := newTestResolver(nil)
	result := r.Resolve(failoverChannel(), linkage.Graph{}, []Opinion{
		{Source: SourceFlowStatus, ActiveType: ActiveUnknown},
	})
	if result.ActiveInput != ActiveUnknown || result.ActiveInputID != nil {
		t.Fatalf("expected unknown verdict, got %+v", result)
	}
	if result.Message != MessageUndetermined {
		t.Fatalf("message = %q", result.Message)
	}
	payload, err := json.Marshal(result)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, fragment := range []string{`"active_input":null`, `"verification_sources":[]`, `"active_input_id":null`, `"verification_level":0`} {
		if !strings.Contains(string(payload), fragment) {
			t.Fatalf("expected %s in %s", fragment, payload)
		}
	}
}

func TestResolvePackageVerification(t *testing.T) {
	r := newTestResolver(nil)
	graph := linkage.Graph{Package: &linkage.PackageLink{PackageID: "pkg-1", PackageName: "news-pkg"}}
	result := r.Resolve(failoverChannel(), graph, []Opinion{
		{Source: SourceFlowStatus, ActiveType: ActiveBackup, InputID: "in-backup"},
		{Source: SourcePackageInputOrder, ActiveType: ActiveMain},
		{Source: SourceCdnStreamState, Address: "newsstream", Live: true},
	})
	if result.ActiveInput != ActiveBackup {
		t.Fatalf("package order must not override the verdict, got %q", result.ActiveInput)
	}
	pv := result.PackageVerification
	if pv == nil {
		t.Fatal("expected package verification")
	}
	if pv.PackageID != "pkg-1" || pv.ActiveInput != ActiveMain {
		t.Fatalf("unexpected package verification %+v", pv)
	}
	if pv.AgreesWithPrimary == nil || *pv.AgreesWithPrimary {
		t.Fatalf("expected disagreement, got %v", pv.AgreesWithPrimary)
	}
	if len(pv.CdnStreams) != 1 || !pv.CdnStreams[0].Active {
		t.Fatalf("unexpected cdn streams %+v", pv.CdnStreams)
	}
	if !strings.Contains(result.Message, "packaging order suggests main") {
		t.Fatalf("message = %q", result.Message)
	}
}

func TestResolveFillsInputFromType(t *testing.T) {
	r := newTestResolver(nil)
	result := r.Resolve(failoverChannel(), linkage.Graph{}, []Opinion{
		{Source: SourceNamePattern, ActiveType: ActiveMain},
	})
	if result.ActiveInputID == nil || *result.ActiveInputID != "in-main" {
		t.Fatalf("expected failover primary, got %v", result.ActiveInputID)
	}
	if result.Confidence != ConfidenceLow {
		t.Fatalf("confidence = %q", result.Confidence)
	}
}

func TestResolveWithoutNameableInputIsUndetermined(t *testing.T) {
	r := newTestResolver(nil)
	channel := models.Channel{Resource: models.Resource{ID: "ch-bare", Name: "Bare"}}
	graph := linkage.Graph{Package: &linkage.PackageLink{PackageID: "pkg-1"}}
	result := r.Resolve(channel, graph, []Opinion{
		{Source: SourcePackageInputOrder, ActiveType: ActiveMain, Address: "rtmp://pkg/a"},
	})
	if result.ActiveInput != ActiveUnknown || result.ActiveInputID != nil {
		t.Fatalf("expected unknown verdict without an input id, got %+v", result)
	}
	if len(result.VerificationSources) != 0 || result.Message != MessageUndetermined {
		t.Fatalf("expected empty sources and undetermined message, got %+v", result)
	}
}

func TestActiveTypeJSON(t *testing.T) {
	var got struct {
		A ActiveType `json:"a"`
		B ActiveType `json:"b"`
	}
	if err := json.Unmarshal([]byte(`{"a":"backup","b":null}`), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.A != ActiveBackup || got.B != ActiveUnknown {
		t.Fatalf("unexpected decode %+v", got)
	}
}
