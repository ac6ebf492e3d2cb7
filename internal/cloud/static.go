package cloud

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"livewatch/internal/models"
)

// Fixture is the YAML document served by StaticProvider.
type Fixture struct {
	Channels    []fixtureChannel            `yaml:"channels"`
	Flows       []fixtureFlow               `yaml:"flows"`
	Packages    []fixturePackage            `yaml:"packages"`
	CdnStreams  []fixtureResource           `yaml:"cdn_streams"`
	InputStates map[string][]AddressState   `yaml:"input_states"`
	Statistics  map[string][]InputStatistic `yaml:"statistics"`
	CdnStates   map[string]bool             `yaml:"cdn_states"`
	Unsupported []string                    `yaml:"unsupported"`
}

type fixtureResource struct {
	ID        string   `yaml:"id"`
	Name      string   `yaml:"name"`
	Status    string   `yaml:"status"`
	Endpoints []string `yaml:"endpoints"`
}

type fixtureChannel struct {
	fixtureResource `yaml:",inline"`
	Inputs []struct {
		InputID             string   `yaml:"input_id"`
		Name                string   `yaml:"name"`
		Protocol            string   `yaml:"protocol"`
		FailoverSecondaryID string   `yaml:"failover_secondary_id"`
		SourceAddresses     []string `yaml:"source_addresses"`
	} `yaml:"inputs"`
	OutputURLs []string `yaml:"output_urls"`
}

type fixtureFlow struct {
	fixtureResource `yaml:",inline"`
	OutputURLs []string `yaml:"output_urls"`
}

type fixturePackage struct {
	fixtureResource `yaml:",inline"`
	OutputURLs []string `yaml:"output_urls"`
}

func (r fixtureResource) resource(service models.ServiceType, normalize func(string) models.Status) models.Resource {
	return models.Resource{
		ID:        r.ID,
		Name:      r.Name,
		Service:   service,
		Status:    normalize(r.Status),
		Endpoints: append([]string(nil), r.Endpoints...),
	}
}

// StaticProvider serves a fixed inventory. It backs offline runs and tests.
type StaticProvider struct {
	mu      sync.RWMutex
	fixture Fixture
	caps    Capabilities
}

// LoadStaticProvider reads a YAML fixture from path.
func LoadStaticProvider(path string) (*StaticProvider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read fixture: %v", ErrConfiguration, err)
	}
	return ParseStaticProvider(data)
}

// ParseStaticProvider decodes a YAML fixture.
func ParseStaticProvider(data []byte) (*StaticProvider, error) {
	var fixture Fixture
	if err := yaml.Unmarshal(data, &fixture); err != nil {
		return nil, fmt.Errorf("%w: decode fixture: %v", ErrConfiguration, err)
	}
	return NewStaticProvider(fixture), nil
}

// NewStaticProvider serves fixture. Services named in fixture.Unsupported
// ("input_state", "flows", "statistics", "packages", "cdn_streams") are
// reported as missing capabilities.
func NewStaticProvider(fixture Fixture) *StaticProvider {
	caps := AllCapabilities()
	for _, name := range fixture.Unsupported {
		switch name {
		case "input_state":
			caps.InputState = false
		case "flows":
			caps.Flows = false
		case "statistics":
			caps.Statistics = false
		case "packages":
			caps.Packages = false
		case "cdn_streams":
			caps.CdnStreams = false
		}
	}
	return &StaticProvider{fixture: fixture, caps: caps}
}

// Replace swaps the served inventory.
func (p *StaticProvider) Replace(fixture Fixture) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fixture = fixture
}

// Capabilities reports the services the fixture declares.
func (p *StaticProvider) Capabilities() Capabilities {
	return p.caps
}

func (p *StaticProvider) snapshot() Fixture {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.fixture
}

func (p *StaticProvider) ListChannels(ctx context.Context) ([]models.Channel, error) {
	fixture := p.snapshot()
	out := make([]models.Channel, 0, len(fixture.Channels))
	for _, fc := range fixture.Channels {
		channel := models.Channel{
			Resource:   fc.resource(models.ServiceChannel, models.NormalizeChannelStatus),
			OutputURLs: append([]string(nil), fc.OutputURLs...),
		}
		for _, in := range fc.Inputs {
			channel.Inputs = append(channel.Inputs, models.InputAttachment{
				InputID:             in.InputID,
				Name:                in.Name,
				Protocol:            in.Protocol,
				FailoverSecondaryID: in.FailoverSecondaryID,
				SourceAddresses:     append([]string(nil), in.SourceAddresses...),
			})
		}
		out = append(out, channel)
	}
	return out, nil
}

func (p *StaticProvider) ListFlows(ctx context.Context) ([]models.FlowRecord, error) {
	if !p.caps.Flows {
		return nil, ErrMissingCapability
	}
	fixture := p.snapshot()
	out := make([]models.FlowRecord, 0, len(fixture.Flows))
	for _, ff := range fixture.Flows {
		out = append(out, models.FlowRecord{
			Resource:   ff.resource(models.ServiceFlow, models.NormalizeFlowStatus),
			OutputURLs: append([]string(nil), ff.OutputURLs...),
		})
	}
	return out, nil
}

func (p *StaticProvider) ListPackages(ctx context.Context) ([]models.PackageRecord, error) {
	if !p.caps.Packages {
		return nil, ErrMissingCapability
	}
	fixture := p.snapshot()
	out := make([]models.PackageRecord, 0, len(fixture.Packages))
	for _, fp := range fixture.Packages {
		out = append(out, models.PackageRecord{
			Resource:   fp.resource(models.ServicePackage, models.NormalizeChannelStatus),
			OutputURLs: append([]string(nil), fp.OutputURLs...),
		})
	}
	return out, nil
}

func (p *StaticProvider) ListCdnStreams(ctx context.Context) ([]models.Resource, error) {
	if !p.caps.CdnStreams {
		return nil, ErrMissingCapability
	}
	fixture := p.snapshot()
	out := make([]models.Resource, 0, len(fixture.CdnStreams))
	for _, fr := range fixture.CdnStreams {
		out = append(out, fr.resource(models.ServiceCdnStream, models.NormalizeChannelStatus))
	}
	return out, nil
}

func (p *StaticProvider) GetInputStreamState(ctx context.Context, inputID string) ([]AddressState, error) {
	if !p.caps.InputState {
		return nil, ErrMissingCapability
	}
	states, ok := p.snapshot().InputStates[inputID]
	if !ok {
		return nil, nil
	}
	return append([]AddressState(nil), states...), nil
}

func (p *StaticProvider) GetInputStatistics(ctx context.Context, channelID string) ([]InputStatistic, error) {
	if !p.caps.Statistics {
		return nil, ErrMissingCapability
	}
	return append([]InputStatistic(nil), p.snapshot().Statistics[channelID]...), nil
}

func (p *StaticProvider) GetPackageInputs(ctx context.Context, packageID string) ([]PackageInput, error) {
	if !p.caps.Packages {
		return nil, ErrMissingCapability
	}
	for _, fp := range p.snapshot().Packages {
		if fp.ID != packageID {
			continue
		}
		out := make([]PackageInput, 0, len(fp.Endpoints))
		for i, address := range fp.Endpoints {
			out = append(out, PackageInput{Address: address, Order: i})
		}
		return out, nil
	}
	return nil, &APIError{Kind: ErrResourceNotFound, Action: "GetPackageInputs", Message: "package " + packageID}
}

func (p *StaticProvider) GetCdnStreamState(ctx context.Context, streamName string) (CdnStreamState, error) {
	if !p.caps.CdnStreams {
		return CdnStreamState{}, ErrMissingCapability
	}
	return CdnStreamState{Active: p.snapshot().CdnStates[streamName]}, nil
}
