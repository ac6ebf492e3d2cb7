package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common"
	tcerr "github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common/errors"
	tchttp "github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common/http"
	"github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common/profile"
	"golang.org/x/sync/errgroup"

	"livewatch/internal/models"
)

// Service names and API versions of the Tencent Cloud products involved.
const (
	serviceStreamLive    = "mdl"
	serviceStreamLink    = "mdc"
	serviceStreamPackage = "mdp"
	serviceCSS           = "live"

	versionStreamLive    = "2020-03-26"
	versionStreamLink    = "2020-08-28"
	versionStreamPackage = "2020-05-27"
	versionCSS           = "2018-08-01"

	pageSize         = 100
	statisticsWindow = 5 * time.Minute
)

// apiCaller performs one Tencent Cloud API action and decodes the body of
// the "Response" envelope into out.
type apiCaller interface {
	call(ctx context.Context, service, version, action string, params map[string]any, out any) error
}

// TencentProvider answers collaborator calls from StreamLive, StreamLink,
// StreamPackage and CSS.
type TencentProvider struct {
	api         apiCaller
	logger      *slog.Logger
	cdnDomain   string
	cdnApp      string
	concurrency int
	caps        Capabilities
	now         func() time.Time
}

// NewTencentProvider constructs a provider signing requests with the
// configured credentials.
func NewTencentProvider(cfg TencentConfig, logger *slog.Logger) (*TencentProvider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	caller := &sdkCaller{
		credential: common.NewCredential(cfg.SecretID, cfg.SecretKey),
		region:     cfg.Region,
		timeout:    cfg.RequestTimeout,
		clients:    make(map[string]*common.Client),
	}
	return newTencentProvider(caller, cfg, logger), nil
}

func newTencentProvider(api apiCaller, cfg TencentConfig, logger *slog.Logger) *TencentProvider {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	caps := AllCapabilities()
	caps.CdnStreams = strings.TrimSpace(cfg.CdnDomain) != ""
	return &TencentProvider{
		api:         api,
		logger:      logger,
		cdnDomain:   strings.TrimSpace(cfg.CdnDomain),
		cdnApp:      cfg.CdnAppName,
		concurrency: cfg.ListConcurrency,
		caps:        caps,
		now:         time.Now,
	}
}

// Capabilities reports the services this provider was configured for.
func (p *TencentProvider) Capabilities() Capabilities {
	return p.caps
}

type sdkCaller struct {
	credential *common.Credential
	region     string
	timeout    time.Duration

	mu      sync.Mutex
	clients map[string]*common.Client
}

func (c *sdkCaller) client(service string) *common.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if client, ok := c.clients[service]; ok {
		return client
	}
	prof := profile.NewClientProfile()
	prof.HttpProfile.Endpoint = service + ".tencentcloudapi.com"
	if seconds := int(c.timeout / time.Second); seconds > 0 {
		prof.HttpProfile.ReqTimeout = seconds
	}
	client := common.NewCommonClient(c.credential, c.region, prof)
	c.clients[service] = client
	return client
}

func (c *sdkCaller) call(ctx context.Context, service, version, action string, params map[string]any, out any) error {
	request := tchttp.NewCommonRequest(service, version, action)
	request.SetContext(ctx)
	if params == nil {
		params = map[string]any{}
	}
	if err := request.SetActionParameters(params); err != nil {
		return &APIError{Kind: ErrConfiguration, Action: action, Err: err}
	}
	response := tchttp.NewCommonResponse()
	if err := c.client(service).Send(request, response); err != nil {
		return wrapSDKError(ctx, action, err)
	}
	return decodeEnvelope(action, response.GetBody(), out)
}

func wrapSDKError(ctx context.Context, action string, err error) error {
	var sdkErr *tcerr.TencentCloudSDKError
	if errors.As(err, &sdkErr) {
		return &APIError{
			Kind:      classifyCode(sdkErr.GetCode()),
			Action:    action,
			Code:      sdkErr.GetCode(),
			Message:   sdkErr.GetMessage(),
			RequestID: sdkErr.GetRequestId(),
			Err:       err,
		}
	}
	if ctx.Err() != nil || IsTransient(err) {
		return &APIError{Kind: ErrTransient, Action: action, Err: err}
	}
	return &APIError{Action: action, Err: err}
}

type responseEnvelope struct {
	Response json.RawMessage `json:"Response"`
}

type responseError struct {
	Error *struct {
		Code    string `json:"Code"`
		Message string `json:"Message"`
	} `json:"Error"`
	RequestID string `json:"RequestId"`
}

func decodeEnvelope(action string, body []byte, out any) error {
	var envelope responseEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return &APIError{Action: action, Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(envelope.Response) == 0 {
		return &APIError{Action: action, Err: errors.New("empty response")}
	}
	var apiErr responseError
	if err := json.Unmarshal(envelope.Response, &apiErr); err == nil && apiErr.Error != nil {
		return &APIError{
			Kind:      classifyCode(apiErr.Error.Code),
			Action:    action,
			Code:      apiErr.Error.Code,
			Message:   apiErr.Error.Message,
			RequestID: apiErr.RequestID,
		}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(envelope.Response, out); err != nil {
		return &APIError{Action: action, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

type mdlInputSettings struct {
	AppName      string `json:"AppName"`
	StreamName   string `json:"StreamName"`
	SourceURL    string `json:"SourceUrl"`
	InputAddress string `json:"InputAddress"`
}

type mdlInput struct {
	ID            string             `json:"Id"`
	Name          string             `json:"Name"`
	Type          string             `json:"Type"`
	InputSettings []mdlInputSettings `json:"InputSettings"`
}

type mdlChannel struct {
	ID             string `json:"Id"`
	Name           string `json:"Name"`
	State          string `json:"State"`
	AttachedInputs []struct {
		ID               string `json:"Id"`
		FailOverSettings *struct {
			SecondaryInputID string `json:"SecondaryInputId"`
		} `json:"FailOverSettings"`
	} `json:"AttachedInputs"`
	OutputGroups []struct {
		Destinations []struct {
			OutputURL string `json:"OutputUrl"`
		} `json:"Destinations"`
	} `json:"OutputGroups"`
}

func settingAddress(s mdlInputSettings) string {
	if url := strings.TrimSpace(s.SourceURL); url != "" {
		return url
	}
	address := strings.TrimRight(strings.TrimSpace(s.InputAddress), "/")
	if address == "" {
		return ""
	}
	for _, part := range []string{s.AppName, s.StreamName} {
		part = strings.Trim(part, "/")
		if part != "" && !strings.HasSuffix(address, "/"+part) {
			address += "/" + part
		}
	}
	return address
}

// ListChannels joins StreamLive channels with their attached inputs.
func (p *TencentProvider) ListChannels(ctx context.Context) ([]models.Channel, error) {
	var inputs struct {
		Infos []mdlInput `json:"Infos"`
	}
	if err := p.api.call(ctx, serviceStreamLive, versionStreamLive, "DescribeStreamLiveInputs", nil, &inputs); err != nil {
		return nil, err
	}
	byID := make(map[string]mdlInput, len(inputs.Infos))
	for _, input := range inputs.Infos {
		byID[input.ID] = input
	}

	var channels struct {
		Infos []mdlChannel `json:"Infos"`
	}
	if err := p.api.call(ctx, serviceStreamLive, versionStreamLive, "DescribeStreamLiveChannels", nil, &channels); err != nil {
		return nil, err
	}

	out := make([]models.Channel, 0, len(channels.Infos))
	for _, info := range channels.Infos {
		channel := models.Channel{
			Resource: models.Resource{
				ID:      info.ID,
				Name:    info.Name,
				Service: models.ServiceChannel,
				Status:  models.NormalizeChannelStatus(info.State),
			},
		}
		for _, attached := range info.AttachedInputs {
			input := byID[attached.ID]
			attachment := models.InputAttachment{
				InputID:  attached.ID,
				Name:     input.Name,
				Protocol: input.Type,
			}
			if attached.FailOverSettings != nil {
				attachment.FailoverSecondaryID = attached.FailOverSettings.SecondaryInputID
			}
			for _, setting := range input.InputSettings {
				if address := settingAddress(setting); address != "" {
					attachment.SourceAddresses = append(attachment.SourceAddresses, address)
				}
			}
			channel.Endpoints = append(channel.Endpoints, attachment.SourceAddresses...)
			channel.Inputs = append(channel.Inputs, attachment)
		}
		for _, group := range info.OutputGroups {
			for _, dest := range group.Destinations {
				if dest.OutputURL != "" {
					channel.OutputURLs = append(channel.OutputURLs, dest.OutputURL)
				}
			}
		}
		out = append(out, channel)
	}
	return out, nil
}

type mdcFlow struct {
	FlowID     string `json:"FlowId"`
	FlowName   string `json:"FlowName"`
	State      string `json:"State"`
	InputGroup []struct {
		Protocol         string `json:"Protocol"`
		InputAddressList []struct {
			IP   string `json:"Ip"`
			Port int    `json:"Port"`
		} `json:"InputAddressList"`
	} `json:"InputGroup"`
	OutputGroup []struct {
		Protocol     string `json:"Protocol"`
		RTMPSettings *struct {
			Destinations []struct {
				URL       string `json:"Url"`
				StreamKey string `json:"StreamKey"`
			} `json:"Destinations"`
		} `json:"RTMPSettings"`
		SRTSettings *struct {
			Destinations []struct {
				IP   string `json:"Ip"`
				Port int    `json:"Port"`
			} `json:"Destinations"`
		} `json:"SRTSettings"`
	} `json:"OutputGroup"`
}

func (f mdcFlow) record() models.FlowRecord {
	record := models.FlowRecord{Resource: models.Resource{
		ID:      f.FlowID,
		Name:    f.FlowName,
		Service: models.ServiceFlow,
		Status:  models.NormalizeFlowStatus(f.State),
	}}
	for _, input := range f.InputGroup {
		scheme := strings.ToLower(strings.TrimSuffix(input.Protocol, "_PUSH"))
		for _, addr := range input.InputAddressList {
			record.Endpoints = append(record.Endpoints, fmt.Sprintf("%s://%s:%d", scheme, addr.IP, addr.Port))
		}
	}
	for _, output := range f.OutputGroup {
		if strings.EqualFold(output.Protocol, "RTMP_PULL") {
			continue
		}
		if output.RTMPSettings != nil {
			for _, dest := range output.RTMPSettings.Destinations {
				if dest.URL == "" {
					continue
				}
				url := strings.TrimRight(dest.URL, "/")
				if dest.StreamKey != "" {
					url += "/" + dest.StreamKey
				}
				record.OutputURLs = append(record.OutputURLs, url)
			}
		}
		if output.SRTSettings != nil {
			for _, dest := range output.SRTSettings.Destinations {
				record.OutputURLs = append(record.OutputURLs, "srt://"+dest.IP+":"+strconv.Itoa(dest.Port))
			}
		}
	}
	return record
}

// ListFlows pages through StreamLink flows and fetches each flow's outputs.
// A flow whose detail call fails is kept without outputs.
func (p *TencentProvider) ListFlows(ctx context.Context) ([]models.FlowRecord, error) {
	var summaries []mdcFlow
	for page := 1; ; page++ {
		var resp struct {
			Infos    []mdcFlow `json:"Infos"`
			TotalNum int       `json:"TotalNum"`
		}
		params := map[string]any{"PageNum": page, "PageSize": pageSize}
		if err := p.api.call(ctx, serviceStreamLink, versionStreamLink, "DescribeStreamLinkFlows", params, &resp); err != nil {
			return nil, err
		}
		summaries = append(summaries, resp.Infos...)
		if len(resp.Infos) < pageSize || len(summaries) >= resp.TotalNum {
			break
		}
	}

	records := make([]models.FlowRecord, len(summaries))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(p.concurrency)
	for i, summary := range summaries {
		group.Go(func() error {
			var detail struct {
				Info *mdcFlow `json:"Info"`
			}
			params := map[string]any{"FlowId": summary.FlowID}
			if err := p.api.call(groupCtx, serviceStreamLink, versionStreamLink, "DescribeStreamLinkFlow", params, &detail); err != nil || detail.Info == nil {
				p.logger.Warn("flow detail unavailable", "flow_id", summary.FlowID, "error", err)
				records[i] = summary.record()
				return nil
			}
			records[i] = detail.Info.record()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return records, nil
}

type mdpChannel struct {
	ID     string `json:"Id"`
	Name   string `json:"Name"`
	State  string `json:"State"`
	Points *struct {
		Inputs []struct {
			URL string `json:"Url"`
		} `json:"Inputs"`
		Endpoints []struct {
			URL string `json:"Url"`
		} `json:"Endpoints"`
	} `json:"Points"`
}

func (c mdpChannel) record() models.PackageRecord {
	status := models.StatusUnknown
	if c.State != "" {
		status = models.NormalizeChannelStatus(c.State)
	}
	record := models.PackageRecord{Resource: models.Resource{
		ID:      c.ID,
		Name:    c.Name,
		Service: models.ServicePackage,
		Status:  status,
	}}
	if c.Points != nil {
		for _, input := range c.Points.Inputs {
			if input.URL != "" {
				record.Endpoints = append(record.Endpoints, input.URL)
			}
		}
		for _, endpoint := range c.Points.Endpoints {
			if endpoint.URL != "" {
				record.OutputURLs = append(record.OutputURLs, endpoint.URL)
			}
		}
	}
	return record
}

// ListPackages pages through StreamPackage channels.
func (p *TencentProvider) ListPackages(ctx context.Context) ([]models.PackageRecord, error) {
	var out []models.PackageRecord
	for page := 1; ; page++ {
		var resp struct {
			Infos    []mdpChannel `json:"Infos"`
			TotalNum int          `json:"TotalNum"`
		}
		params := map[string]any{"PageNum": page, "PageSize": pageSize}
		if err := p.api.call(ctx, serviceStreamPackage, versionStreamPackage, "DescribeStreamPackageChannels", params, &resp); err != nil {
			return nil, err
		}
		for _, info := range resp.Infos {
			out = append(out, info.record())
		}
		if len(resp.Infos) < pageSize || len(out) >= resp.TotalNum {
			break
		}
	}
	return out, nil
}

// ListCdnStreams lists streams currently publishing on the configured CSS
// domain.
func (p *TencentProvider) ListCdnStreams(ctx context.Context) ([]models.Resource, error) {
	if !p.caps.CdnStreams {
		return nil, ErrMissingCapability
	}
	var out []models.Resource
	for page := 1; ; page++ {
		var resp struct {
			OnlineInfo []struct {
				StreamName string `json:"StreamName"`
				AppName    string `json:"AppName"`
			} `json:"OnlineInfo"`
			TotalNum int `json:"TotalNum"`
		}
		params := map[string]any{"DomainName": p.cdnDomain, "PageNum": page, "PageSize": pageSize}
		if err := p.api.call(ctx, serviceCSS, versionCSS, "DescribeLiveStreamOnlineList", params, &resp); err != nil {
			return nil, err
		}
		for _, info := range resp.OnlineInfo {
			app := info.AppName
			if app == "" {
				app = p.cdnApp
			}
			out = append(out, models.Resource{
				ID:        info.StreamName,
				Name:      info.StreamName,
				Service:   models.ServiceCdnStream,
				Status:    models.StatusRunning,
				Endpoints: []string{fmt.Sprintf("rtmp://%s/%s/%s", p.cdnDomain, app, info.StreamName)},
			})
		}
		if len(resp.OnlineInfo) < pageSize || len(out) >= resp.TotalNum {
			break
		}
	}
	return out, nil
}

// GetInputStreamState reports which source addresses of an input are live.
func (p *TencentProvider) GetInputStreamState(ctx context.Context, inputID string) ([]AddressState, error) {
	var resp struct {
		Info *struct {
			InputStreamInfoList []struct {
				mdlInputSettings
				Status int `json:"Status"`
			} `json:"InputStreamInfoList"`
		} `json:"Info"`
	}
	params := map[string]any{"Id": inputID}
	if err := p.api.call(ctx, serviceStreamLive, versionStreamLive, "QueryInputStreamState", params, &resp); err != nil {
		return nil, err
	}
	if resp.Info == nil {
		return nil, nil
	}
	out := make([]AddressState, 0, len(resp.Info.InputStreamInfoList))
	for _, info := range resp.Info.InputStreamInfoList {
		out = append(out, AddressState{Address: settingAddress(info.mdlInputSettings), Active: info.Status == 1})
	}
	return out, nil
}

// GetInputStatistics returns the most recent validated inbound bytes per
// input, summed over both pipelines.
func (p *TencentProvider) GetInputStatistics(ctx context.Context, channelID string) ([]InputStatistic, error) {
	type sample struct {
		Time         int64 `json:"Time"`
		NetworkIn    int64 `json:"NetworkIn"`
		NetworkValid int64 `json:"NetworkValid"`
	}
	var resp struct {
		Infos []struct {
			InputID    string `json:"InputId"`
			Statistics *struct {
				Pipeline0 []sample `json:"Pipeline0"`
				Pipeline1 []sample `json:"Pipeline1"`
			} `json:"Statistics"`
		} `json:"Infos"`
	}
	end := p.now().UTC()
	params := map[string]any{
		"ChannelId": channelID,
		"StartTime": end.Add(-statisticsWindow).Format(time.RFC3339),
		"EndTime":   end.Format(time.RFC3339),
		"Period":    "1min",
	}
	if err := p.api.call(ctx, serviceStreamLive, versionStreamLive, "DescribeStreamLiveChannelInputStatistics", params, &resp); err != nil {
		return nil, err
	}
	latest := func(samples []sample) int64 {
		var best sample
		for _, s := range samples {
			if s.Time >= best.Time {
				best = s
			}
		}
		if best.NetworkValid > 0 {
			return best.NetworkValid
		}
		return best.NetworkIn
	}
	out := make([]InputStatistic, 0, len(resp.Infos))
	for _, info := range resp.Infos {
		stat := InputStatistic{InputID: info.InputID}
		if info.Statistics != nil {
			stat.ValidBytes = latest(info.Statistics.Pipeline0) + latest(info.Statistics.Pipeline1)
		}
		out = append(out, stat)
	}
	return out, nil
}

// GetPackageInputs returns the configured ingest addresses of a packaging
// channel in order.
func (p *TencentProvider) GetPackageInputs(ctx context.Context, packageID string) ([]PackageInput, error) {
	var resp struct {
		Info *mdpChannel `json:"Info"`
	}
	if err := p.api.call(ctx, serviceStreamPackage, versionStreamPackage, "DescribeStreamPackageChannel", map[string]any{"Id": packageID}, &resp); err != nil {
		return nil, err
	}
	if resp.Info == nil {
		return nil, &APIError{Kind: ErrResourceNotFound, Action: "DescribeStreamPackageChannel", Message: "package " + packageID}
	}
	record := resp.Info.record()
	out := make([]PackageInput, 0, len(record.Endpoints))
	for i, address := range record.Endpoints {
		out = append(out, PackageInput{Address: address, Order: i})
	}
	return out, nil
}

// GetCdnStreamState reports whether a stream is publishing on the CSS domain.
func (p *TencentProvider) GetCdnStreamState(ctx context.Context, streamName string) (CdnStreamState, error) {
	if !p.caps.CdnStreams {
		return CdnStreamState{}, ErrMissingCapability
	}
	var resp struct {
		StreamState string `json:"StreamState"`
	}
	params := map[string]any{"DomainName": p.cdnDomain, "AppName": p.cdnApp, "StreamName": streamName}
	if err := p.api.call(ctx, serviceCSS, versionCSS, "DescribeLiveStreamState", params, &resp); err != nil {
		return CdnStreamState{}, err
	}
	return CdnStreamState{Active: strings.EqualFold(resp.StreamState, "active")}, nil
}
