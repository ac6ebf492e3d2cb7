package verification

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"livewatch/internal/linkage"
	"livewatch/internal/models"
)

// RedundancyPolicy picks the serving opinion when the winning source reports
// several simultaneously active opinions. candidates is never empty and keeps
// the order reported by the source.
type RedundancyPolicy func(candidates []Opinion) Opinion

// FirstActive treats the first-listed active opinion as the one being served.
// The provider does not say which of several active addresses is forwarded
// downstream, so this is a heuristic and can be replaced through
// ResolverConfig.Policy.
func FirstActive(candidates []Opinion) Opinion {
	return candidates[0]
}

// ResolverConfig configures a Resolver.
type ResolverConfig struct {
	Policy RedundancyPolicy
	Logger *slog.Logger
	Now    func() time.Time
}

// Resolver turns collected opinions into a single Result. It is pure apart
// from logging and never blocks.
type Resolver struct {
	policy RedundancyPolicy
	logger *slog.Logger
	now    func() time.Time
}

// NewResolver constructs a Resolver, defaulting to the FirstActive policy.
func NewResolver(cfg ResolverConfig) *Resolver {
	r := &Resolver{policy: cfg.Policy, logger: cfg.Logger, now: cfg.Now}
	if r.policy == nil {
		r.policy = FirstActive
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// Resolve evaluates opinions in precedence order regardless of the order in
// which they arrived. The first source holding any opinion decides the
// verdict; lower sources only confirm it.
func (r *Resolver) Resolve(channel models.Channel, graph linkage.Graph, opinions []Opinion) Result {
	bySource := make(map[Source][]Opinion, len(Precedence))
	var cdn []CdnStreamState
	for _, op := range opinions {
		if op.Source == SourceCdnStreamState {
			cdn = append(cdn, CdnStreamState{Name: op.Address, Active: op.Live})
			continue
		}
		if op.Source.Rank() < 0 || !op.ActiveType.Known() {
			continue
		}
		bySource[op.Source] = append(bySource[op.Source], op)
	}

	result := Result{
		ChannelID:           channel.ID,
		ChannelName:         channel.Name,
		ActiveInput:         ActiveUnknown,
		VerificationSources: []Source{},
		Confidence:          ConfidenceNone,
		FailoverMode:        failoverMode(channel, false),
		CheckedAt:           r.now().UTC(),
	}

	var winner Source
	var candidates []Opinion
	for _, source := range Precedence {
		if ops := bySource[source]; len(ops) > 0 {
			winner, candidates = source, ops
			break
		}
	}
	if len(candidates) == 0 {
		result.Message = MessageUndetermined
		return result
	}

	serving := r.policy(candidates)
	inputID := serving.InputID
	if inputID == "" {
		inputID = inputForType(channel, serving.ActiveType)
	}
	if inputID == "" {
		// A verdict that names no attached input is not an answer.
		r.logger.Debug("verdict names no input",
			"channel_id", channel.ID,
			"source", string(winner),
			"verdict", string(serving.ActiveType),
		)
		result.Message = MessageUndetermined
		return result
	}
	addresses := distinctAddresses(candidates)
	if len(candidates) > 1 {
		r.logger.Warn("ambiguous signal",
			"channel_id", channel.ID,
			"source", string(winner),
			"candidates", len(candidates),
			"serving", string(serving.ActiveType),
			"addresses", addresses,
		)
	}
	redundant := serving.Redundant || sharesInput(candidates, serving)

	sources := []Source{winner}
	for _, source := range Precedence[winner.Rank()+1:] {
		if agrees(bySource[source], serving.ActiveType) {
			sources = append(sources, source)
		}
	}

	result.ActiveInput = serving.ActiveType
	result.VerificationSources = sources
	result.VerificationLevel = len(sources)
	result.IsInputSourceRedundancy = redundant
	result.FailoverMode = failoverMode(channel, redundant)
	result.Confidence = winner.Confidence()
	if len(addresses) > 1 {
		result.CandidateAddresses = addresses
	}
	if serving.Address != "" {
		address := serving.Address
		result.ActiveSourceAddress = &address
	}

	id := inputID
	result.ActiveInputID = &id
	name := inputID
	if input, ok := channel.Input(inputID); ok && input.Name != "" {
		name = input.Name
	}
	result.ActiveInputName = &name

	result.PackageVerification = packageVerification(graph, bySource[SourcePackageInputOrder], cdn, serving.ActiveType)
	result.Message = message(result, len(addresses))
	return result
}

func packageVerification(graph linkage.Graph, pkgOpinions []Opinion, cdn []CdnStreamState, verdict ActiveType) *PackageVerification {
	if graph.Package == nil && len(pkgOpinions) == 0 && len(cdn) == 0 {
		return nil
	}
	pv := &PackageVerification{ActiveInput: ActiveUnknown, CdnStreams: cdn}
	if graph.Package != nil {
		pv.PackageID = graph.Package.PackageID
		pv.PackageName = graph.Package.PackageName
	}
	if len(pkgOpinions) > 0 {
		pv.ActiveInput = pkgOpinions[0].ActiveType
		agree := pv.ActiveInput == verdict
		pv.AgreesWithPrimary = &agree
	}
	return pv
}

func message(result Result, activeAddresses int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s input active per %s", result.ActiveInput, result.VerificationSources[0])
	if len(result.VerificationSources) > 1 {
		confirmed := make([]string, 0, len(result.VerificationSources)-1)
		for _, source := range result.VerificationSources[1:] {
			confirmed = append(confirmed, string(source))
		}
		fmt.Fprintf(&b, ", confirmed by %s", strings.Join(confirmed, ", "))
	}
	if result.IsInputSourceRedundancy && activeAddresses > 1 {
		fmt.Fprintf(&b, "; %d source addresses active, first-listed assumed serving", activeAddresses)
	}
	if pv := result.PackageVerification; pv != nil && pv.AgreesWithPrimary != nil && !*pv.AgreesWithPrimary {
		fmt.Fprintf(&b, "; packaging order suggests %s", pv.ActiveInput)
	}
	return b.String()
}

func agrees(opinions []Opinion, verdict ActiveType) bool {
	for _, op := range opinions {
		if op.ActiveType == verdict {
			return true
		}
	}
	return false
}

func sharesInput(candidates []Opinion, serving Opinion) bool {
	if serving.InputID == "" {
		return false
	}
	for _, op := range candidates {
		if op.InputID == serving.InputID && op.Address != serving.Address {
			return true
		}
	}
	return false
}

func distinctAddresses(opinions []Opinion) []string {
	seen := make(map[string]struct{}, len(opinions))
	var out []string
	for _, op := range opinions {
		if op.Address == "" {
			continue
		}
		if _, dup := seen[op.Address]; dup {
			continue
		}
		seen[op.Address] = struct{}{}
		out = append(out, op.Address)
	}
	return out
}

func failoverMode(channel models.Channel, redundant bool) FailoverMode {
	if redundant {
		return ModeInputSourceRedundancy
	}
	for _, input := range channel.Inputs {
		if input.SourceRedundancy() {
			return ModeInputSourceRedundancy
		}
	}
	if _, _, ok := channel.FailoverPair(); ok || len(channel.Inputs) > 1 {
		return ModeChannelFailover
	}
	return ModeSingleInput
}

// inputForType maps a verdict onto an attached input when the opinion did not
// name one.
func inputForType(channel models.Channel, t ActiveType) string {
	if primary, secondary, ok := channel.FailoverPair(); ok {
		if t == ActiveBackup {
			return secondary.InputID
		}
		return primary.InputID
	}
	switch {
	case len(channel.Inputs) == 1:
		return channel.Inputs[0].InputID
	case t == ActiveMain && len(channel.Inputs) > 0:
		return channel.Inputs[0].InputID
	case t == ActiveBackup && len(channel.Inputs) > 1:
		return channel.Inputs[1].InputID
	}
	return ""
}
