package verification

import (
	"encoding/json"
	"strings"
	"time"
)

// Source names the collector that produced an opinion.
type Source string

const (
	SourceDirectInputQuery  Source = "DirectInputQuery"
	SourceFlowStatus        Source = "FlowStatus"
	SourceStatistics        Source = "Statistics"
	SourcePackageInputOrder Source = "PackageInputOrder"
	SourceFailoverSettings  Source = "FailoverSettings"
	SourceNamePattern       Source = "NamePattern"
	// SourceCdnStreamState only annotates the package verification block; it
	// never takes part in the verdict.
	SourceCdnStreamState Source = "CdnStreamState"
)

// Precedence lists verdict sources from most to least authoritative.
var Precedence = []Source{
	SourceDirectInputQuery,
	SourceFlowStatus,
	SourceStatistics,
	SourcePackageInputOrder,
	SourceFailoverSettings,
	SourceNamePattern,
}

// Rank returns the position of s in Precedence, or -1 for annotation-only
// sources.
func (s Source) Rank() int {
	for i, candidate := range Precedence {
		if candidate == s {
			return i
		}
	}
	return -1
}

// Confidence is derived from the source rank.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
	ConfidenceNone   Confidence = "none"
)

// Confidence reports how much weight an opinion from s carries.
func (s Source) Confidence() Confidence {
	switch s {
	case SourceDirectInputQuery, SourceFlowStatus:
		return ConfidenceHigh
	case SourceStatistics:
		return ConfidenceMedium
	case SourcePackageInputOrder, SourceFailoverSettings, SourceNamePattern:
		return ConfidenceLow
	default:
		return ConfidenceNone
	}
}

// ActiveType is the verdict about which redundant input is serving.
type ActiveType string

const (
	ActiveMain    ActiveType = "main"
	ActiveBackup  ActiveType = "backup"
	ActiveUnknown ActiveType = "unknown"
)

// Known reports whether t is main or backup.
func (t ActiveType) Known() bool {
	return t == ActiveMain || t == ActiveBackup
}

// MarshalJSON encodes unknown as null.
func (t ActiveType) MarshalJSON() ([]byte, error) {
	if !t.Known() {
		return []byte("null"), nil
	}
	return json.Marshal(string(t))
}

// UnmarshalJSON accepts "main", "backup" or null.
func (t *ActiveType) UnmarshalJSON(data []byte) error {
	var value *string
	if err := json.Unmarshal(data, &value); err != nil {
		return err
	}
	if value == nil {
		*t = ActiveUnknown
		return nil
	}
	switch ActiveType(strings.ToLower(*value)) {
	case ActiveMain:
		*t = ActiveMain
	case ActiveBackup:
		*t = ActiveBackup
	default:
		*t = ActiveUnknown
	}
	return nil
}

// TypeForIndex maps a zero-based position to main (0) or backup.
func TypeForIndex(i int) ActiveType {
	if i == 0 {
		return ActiveMain
	}
	return ActiveBackup
}

// Opinion is one collector's claim about which input is live. Opinions are
// never persisted.
type Opinion struct {
	Source     Source
	ActiveType ActiveType
	InputID    string
	Address    string
	// Redundant marks an opinion taken from one input reporting several
	// simultaneously active source addresses.
	Redundant bool
	// Live carries the stream state for CdnStreamState annotations.
	Live bool
}

// Confidence is derived from the opinion's source.
func (o Opinion) Confidence() Confidence {
	return o.Source.Confidence()
}

// FailoverMode describes how a channel achieves redundancy.
type FailoverMode string

const (
	ModeInputSourceRedundancy FailoverMode = "input_source_redundancy"
	ModeChannelFailover       FailoverMode = "channel_failover"
	ModeSingleInput           FailoverMode = "single_input"
)

// CdnStreamState is the live state of one linked CDN stream.
type CdnStreamState struct {
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// PackageVerification annotates the verdict with what the packaging and CDN
// side reports. It never changes the verdict.
type PackageVerification struct {
	PackageID         string           `json:"package_id,omitempty"`
	PackageName       string           `json:"package_name,omitempty"`
	ActiveInput       ActiveType       `json:"active_input"`
	AgreesWithPrimary *bool            `json:"agrees_with_primary,omitempty"`
	CdnStreams        []CdnStreamState `json:"cdn_streams,omitempty"`
}

// Result is the engine's answer for one channel. It is constructed once per
// resolution and never modified afterwards.
type Result struct {
	ChannelID               string               `json:"channel_id"`
	ChannelName             string               `json:"channel_name"`
	ActiveInput             ActiveType           `json:"active_input"`
	ActiveInputID           *string              `json:"active_input_id"`
	ActiveInputName         *string              `json:"active_input_name"`
	VerificationSources     []Source             `json:"verification_sources"`
	VerificationLevel       int                  `json:"verification_level"`
	IsInputSourceRedundancy bool                 `json:"is_input_source_redundancy"`
	ActiveSourceAddress     *string              `json:"active_source_address"`
	CandidateAddresses      []string             `json:"candidate_addresses,omitempty"`
	Message                 string               `json:"message"`
	PackageVerification     *PackageVerification `json:"package_verification,omitempty"`
	FailoverMode            FailoverMode         `json:"failover_mode"`
	Confidence              Confidence           `json:"confidence"`
	CheckedAt               time.Time            `json:"checked_at"`
}

// MessageUndetermined is the message of every unknown verdict.
const MessageUndetermined = "active input cannot be determined"
