package cloud

import (
	"context"

	"livewatch/internal/models"
)

// AddressState is the live flag of one source address of an input.
type AddressState struct {
	Address string `json:"address" yaml:"address"`
	Active  bool   `json:"active" yaml:"active"`
}

// InputStatistic is the validated inbound traffic of one channel input.
type InputStatistic struct {
	InputID    string `json:"input_id" yaml:"input_id"`
	ValidBytes int64  `json:"valid_bytes" yaml:"valid_bytes"`
}

// PackageInput is one configured ingest address of a packaging channel.
type PackageInput struct {
	Address string `json:"address" yaml:"address"`
	Order   int    `json:"order" yaml:"order"`
}

// CdnStreamState reports whether a CDN stream is publishing.
type CdnStreamState struct {
	Active bool `json:"active" yaml:"active"`
}

// Inventory lists resources across the provider's services.
type Inventory interface {
	ListFlows(ctx context.Context) ([]models.FlowRecord, error)
	ListChannels(ctx context.Context) ([]models.Channel, error)
	ListPackages(ctx context.Context) ([]models.PackageRecord, error)
	ListCdnStreams(ctx context.Context) ([]models.Resource, error)
}

// InputStateReader returns per-address live flags of an input in the order
// reported by the provider.
type InputStateReader interface {
	GetInputStreamState(ctx context.Context, inputID string) ([]AddressState, error)
}

// StatisticsReader returns per-input traffic counters of a channel.
type StatisticsReader interface {
	GetInputStatistics(ctx context.Context, channelID string) ([]InputStatistic, error)
}

// PackageReader returns the configured inputs of a packaging channel.
type PackageReader interface {
	GetPackageInputs(ctx context.Context, packageID string) ([]PackageInput, error)
}

// CdnReader returns the live state of a CDN stream.
type CdnReader interface {
	GetCdnStreamState(ctx context.Context, streamName string) (CdnStreamState, error)
}

// Provider is the full set of collaborator calls the engine relies on.
type Provider interface {
	Inventory
	InputStateReader
	StatisticsReader
	PackageReader
	CdnReader
	Capabilities() Capabilities
}

// Capabilities records which optional services a provider can answer for.
// It is computed once at startup and never changes.
type Capabilities struct {
	InputState bool `json:"input_state"`
	Flows      bool `json:"flows"`
	Statistics bool `json:"statistics"`
	Packages   bool `json:"packages"`
	CdnStreams bool `json:"cdn_streams"`
}

// Restrict disables every capability that other does not allow.
func (c Capabilities) Restrict(other Capabilities) Capabilities {
	return Capabilities{
		InputState: c.InputState && other.InputState,
		Flows:      c.Flows && other.Flows,
		Statistics: c.Statistics && other.Statistics,
		Packages:   c.Packages && other.Packages,
		CdnStreams: c.CdnStreams && other.CdnStreams,
	}
}

// AllCapabilities enables every optional service.
func AllCapabilities() Capabilities {
	return Capabilities{InputState: true, Flows: true, Statistics: true, Packages: true, CdnStreams: true}
}
