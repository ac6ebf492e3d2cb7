package models

import (
	"strings"
)

// ServiceType identifies which provider service owns a resource.
type ServiceType string

const (
	// ServiceFlow is an ingest flow (StreamLink).
	ServiceFlow ServiceType = "flow"
	// ServiceChannel is a live channel (StreamLive).
	ServiceChannel ServiceType = "channel"
	// ServicePackage is a packaging channel (StreamPackage).
	ServicePackage ServiceType = "package"
	// ServiceCdnStream is a CDN stream (CSS).
	ServiceCdnStream ServiceType = "cdn_stream"
)

// Valid reports whether the service type is one of the known values.
func (s ServiceType) Valid() bool {
	switch s {
	case ServiceFlow, ServiceChannel, ServicePackage, ServiceCdnStream:
		return true
	default:
		return false
	}
}

// Status is the normalised runtime state of a resource.
type Status string

const (
	StatusRunning Status = "running"
	StatusIdle    Status = "idle"
	StatusStopped Status = "stopped"
	StatusError   Status = "error"
	StatusUnknown Status = "unknown"
)

// Resource is a read-only view over a provider-managed entity. It is refreshed
// on every listing call and never owned by this process.
type Resource struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Service   ServiceType `json:"service"`
	Status    Status      `json:"status"`
	Endpoints []string    `json:"endpoints,omitempty"`
}

// InputAttachment is one input slot of a channel.
type InputAttachment struct {
	InputID  string `json:"input_id"`
	Name     string `json:"name,omitempty"`
	Protocol string `json:"protocol,omitempty"`
	// FailoverSecondaryID names the secondary input when this input is the
	// primary side of a channel-level failover pair.
	FailoverSecondaryID string `json:"failover_secondary_id,omitempty"`
	// SourceAddresses is ordered as reported by the provider. More than one
	// entry means the input runs in input-source-redundancy mode.
	SourceAddresses []string `json:"source_addresses"`
}

// SourceRedundancy reports whether the input carries several physical
// source addresses.
func (a InputAttachment) SourceRedundancy() bool {
	return len(a.SourceAddresses) > 1
}

// Channel is a live channel together with its attached inputs.
type Channel struct {
	Resource
	Inputs []InputAttachment `json:"inputs"`
	// OutputURLs are the channel's push destinations, used to link the
	// packaging channel and CDN streams downstream.
	OutputURLs []string `json:"output_urls,omitempty"`
}

// Input returns the attachment with the given id.
func (c Channel) Input(id string) (InputAttachment, bool) {
	for _, input := range c.Inputs {
		if input.InputID == id {
			return input, true
		}
	}
	return InputAttachment{}, false
}

// FailoverPair returns the primary and secondary inputs when the channel uses
// channel-level failover.
func (c Channel) FailoverPair() (primary, secondary InputAttachment, ok bool) {
	for _, input := range c.Inputs {
		if input.FailoverSecondaryID == "" {
			continue
		}
		if second, found := c.Input(input.FailoverSecondaryID); found {
			return input, second, true
		}
	}
	return InputAttachment{}, InputAttachment{}, false
}

// FlowRecord is an ingest flow. Endpoints hold the flow's own input
// addresses; OutputURLs are the destinations it pushes to.
type FlowRecord struct {
	Resource
	OutputURLs []string `json:"output_urls,omitempty"`
}

// PackageRecord is a packaging channel. Endpoints hold its ingest addresses
// in configured order; OutputURLs are its origin/playback addresses.
type PackageRecord struct {
	Resource
	OutputURLs []string `json:"output_urls,omitempty"`
}

// NormalizeChannelStatus maps a StreamLive channel state to a Status.
func NormalizeChannelStatus(raw string) Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "running", "start":
		return StatusRunning
	case "idle":
		return StatusIdle
	case "stop", "stopped":
		return StatusStopped
	case "error", "alert":
		return StatusError
	default:
		return StatusUnknown
	}
}

// NormalizeFlowStatus maps a StreamLink flow state to a Status. StreamLink
// reports a wider vocabulary than StreamLive.
func NormalizeFlowStatus(raw string) Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "running", "start", "active", "online":
		return StatusRunning
	case "idle", "wait":
		return StatusIdle
	case "stop", "stopped", "off":
		return StatusStopped
	case "error", "alert", "failed", "fail":
		return StatusError
	default:
		return StatusUnknown
	}
}
