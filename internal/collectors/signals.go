package collectors

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"livewatch/internal/cloud"
	"livewatch/internal/linkage"
	"livewatch/internal/models"
	"livewatch/internal/verification"
)

// DirectInputQuery reads the provider's per-input stream state.
type DirectInputQuery struct {
	reader cloud.InputStateReader
	retry  retrier
}

func (c *DirectInputQuery) Source() verification.Source {
	return verification.SourceDirectInputQuery
}

// Collect returns one opinion per live source address, inputs in attachment
// order and addresses in provider order. Several live addresses under one
// input are flagged Redundant and labelled by region token, falling back to
// position.
func (c *DirectInputQuery) Collect(ctx context.Context, channel models.Channel, _ linkage.Graph) ([]verification.Opinion, error) {
	var opinions []verification.Opinion
	var errs []error
	budget := c.retry.budget()
	for _, input := range channel.Inputs {
		states, err := callWithRetry(ctx, budget, func(ctx context.Context) ([]cloud.AddressState, error) {
			return c.reader.GetInputStreamState(ctx, input.InputID)
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("input %s: %w", input.InputID, err))
			continue
		}

		var active []int
		for i, state := range states {
			if state.Active {
				active = append(active, i)
			}
		}
		sourceRedundant := len(states) > 1 || input.SourceRedundancy()
		role, hasRole := inputRole(channel, input.InputID)

		for _, i := range active {
			address := states[i].Address
			if address == "" && i < len(input.SourceAddresses) {
				address = input.SourceAddresses[i]
			}
			activeType := role
			if sourceRedundant || !hasRole {
				activeType = typeFromRegion(address)
				if activeType == verification.ActiveUnknown {
					activeType = verification.TypeForIndex(i)
				}
			}
			opinions = append(opinions, verification.Opinion{
				Source:     c.Source(),
				ActiveType: activeType,
				InputID:    input.InputID,
				Address:    address,
				Redundant:  len(active) > 1,
			})
		}
	}
	return opinions, errors.Join(errs...)
}

// FlowStatus labels running ingest flows linked to the channel.
type FlowStatus struct{}

func (c *FlowStatus) Source() verification.Source {
	return verification.SourceFlowStatus
}

// Collect returns an opinion per running linked flow. The flow name decides
// main or backup; the region token of the matched address or the role of the
// fed input are fallbacks. Flows that cannot be labelled are skipped.
func (c *FlowStatus) Collect(_ context.Context, channel models.Channel, graph linkage.Graph) ([]verification.Opinion, error) {
	var opinions []verification.Opinion
	seen := make(map[string]struct{}, len(graph.Flows))
	for _, link := range graph.Flows {
		if link.Status != models.StatusRunning {
			continue
		}
		if _, dup := seen[link.FlowID]; dup {
			continue
		}
		seen[link.FlowID] = struct{}{}

		activeType := typeFromName(link.FlowName)
		if activeType == verification.ActiveUnknown {
			activeType = typeFromRegion(link.Address)
		}
		if activeType == verification.ActiveUnknown {
			if role, ok := inputRole(channel, link.InputID); ok && len(channel.Inputs) > 1 {
				activeType = role
			}
		}
		if activeType == verification.ActiveUnknown {
			continue
		}
		opinions = append(opinions, verification.Opinion{
			Source:     c.Source(),
			ActiveType: activeType,
			InputID:    link.InputID,
			Address:    link.Address,
		})
	}
	return opinions, nil
}

// Statistics reads per-input traffic counters. The provider's statistics
// lag, so an empty answer is expected and is not a sign the channel is down.
type Statistics struct {
	reader cloud.StatisticsReader
	retry  retrier
}

func (c *Statistics) Source() verification.Source {
	return verification.SourceStatistics
}

// Collect returns an opinion per input with non-zero validated traffic.
// Counters are per input, so a single input carrying redundant sources gives
// no opinion.
func (c *Statistics) Collect(ctx context.Context, channel models.Channel, _ linkage.Graph) ([]verification.Opinion, error) {
	if len(channel.Inputs) == 1 && channel.Inputs[0].SourceRedundancy() {
		return nil, nil
	}
	stats, err := callWithRetry(ctx, c.retry.budget(), func(ctx context.Context) ([]cloud.InputStatistic, error) {
		return c.reader.GetInputStatistics(ctx, channel.ID)
	})
	if err != nil {
		return nil, err
	}
	traffic := make(map[string]int64, len(stats))
	for _, stat := range stats {
		traffic[stat.InputID] += stat.ValidBytes
	}

	var opinions []verification.Opinion
	for _, input := range channel.Inputs {
		if traffic[input.InputID] <= 0 {
			continue
		}
		role, ok := inputRole(channel, input.InputID)
		if !ok {
			continue
		}
		opinions = append(opinions, verification.Opinion{
			Source:     c.Source(),
			ActiveType: role,
			InputID:    input.InputID,
			Address:    firstAddress(input),
		})
	}
	return opinions, nil
}

// PackageInputOrder reads the packaging channel's configured inputs. The
// packaging API does not say which input receives data, so the first input
// is assumed to be main.
type PackageInputOrder struct {
	reader cloud.PackageReader
	retry  retrier
}

func (c *PackageInputOrder) Source() verification.Source {
	return verification.SourcePackageInputOrder
}

func (c *PackageInputOrder) Collect(ctx context.Context, channel models.Channel, graph linkage.Graph) ([]verification.Opinion, error) {
	if graph.Package == nil {
		return nil, nil
	}
	inputs, err := callWithRetry(ctx, c.retry.budget(), func(ctx context.Context) ([]cloud.PackageInput, error) {
		return c.reader.GetPackageInputs(ctx, graph.Package.PackageID)
	})
	if err != nil {
		return nil, err
	}
	if len(inputs) == 0 {
		return nil, nil
	}
	sort.SliceStable(inputs, func(i, j int) bool { return inputs[i].Order < inputs[j].Order })

	opinion := verification.Opinion{
		Source:     c.Source(),
		ActiveType: verification.ActiveMain,
		Address:    inputs[0].Address,
	}
	if input, ok := inputForRole(channel, verification.ActiveMain); ok {
		opinion.InputID = input.InputID
	}
	return []verification.Opinion{opinion}, nil
}

// FailoverSettings turns the configured primary/secondary relationship into
// a structural hint that the primary input is serving.
type FailoverSettings struct{}

func (c *FailoverSettings) Source() verification.Source {
	return verification.SourceFailoverSettings
}

func (c *FailoverSettings) Collect(_ context.Context, channel models.Channel, _ linkage.Graph) ([]verification.Opinion, error) {
	primary, _, ok := channel.FailoverPair()
	if !ok {
		return nil, nil
	}
	return []verification.Opinion{{
		Source:     c.Source(),
		ActiveType: verification.ActiveMain,
		InputID:    primary.InputID,
		Address:    firstAddress(primary),
	}}, nil
}

// NamePattern labels inputs by their display names.
type NamePattern struct{}

func (c *NamePattern) Source() verification.Source {
	return verification.SourceNamePattern
}

func (c *NamePattern) Collect(_ context.Context, channel models.Channel, _ linkage.Graph) ([]verification.Opinion, error) {
	var opinions []verification.Opinion
	for _, input := range channel.Inputs {
		name := input.Name
		if name == "" {
			name = input.InputID
		}
		activeType := typeFromName(name)
		if activeType == verification.ActiveUnknown {
			continue
		}
		opinions = append(opinions, verification.Opinion{
			Source:     c.Source(),
			ActiveType: activeType,
			InputID:    input.InputID,
			Address:    firstAddress(input),
		})
	}
	return opinions, nil
}

// CdnStreamState reads the live state of linked CDN streams. Its opinions
// only annotate the package verification block.
type CdnStreamState struct {
	reader cloud.CdnReader
	retry  retrier
}

func (c *CdnStreamState) Source() verification.Source {
	return verification.SourceCdnStreamState
}

func (c *CdnStreamState) Collect(ctx context.Context, _ models.Channel, graph linkage.Graph) ([]verification.Opinion, error) {
	var opinions []verification.Opinion
	var errs []error
	budget := c.retry.budget()
	for _, stream := range graph.CdnStreams {
		state, err := callWithRetry(ctx, budget, func(ctx context.Context) (cloud.CdnStreamState, error) {
			return c.reader.GetCdnStreamState(ctx, stream.StreamName)
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("stream %s: %w", stream.StreamName, err))
			continue
		}
		opinions = append(opinions, verification.Opinion{
			Source:     c.Source(),
			ActiveType: verification.ActiveUnknown,
			Address:    stream.StreamName,
			Live:       state.Active,
		})
	}
	return opinions, errors.Join(errs...)
}
