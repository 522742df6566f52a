// Package cloud is the thin, uniform wrapper over per-region EC2 APIs
// described in spec §2.1. It owns nothing but API calls: no caching, no
// retries beyond what the AWS SDK itself does, no business logic. Every
// method is region-parameterized and every multi-region method fans out in
// parallel, bounded per spec §5 ("one outstanding request per region per
// API" by default).
package cloud

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/petemoore/aws-provisioner/internal/fleet"
)

// deadLookback bounds how far back the resolved-spot-request query searches
// (by request create time), so a process that's been running a long time
// doesn't keep re-scanning every request EC2 still reports for this
// account. The dead-instance query is not bounded by it.
const deadLookback = 2 * time.Hour

// Adapter wraps a per-region map of EC2 clients. Construction (building
// *ec2.Client per allowed_region from aws-sdk-go-v2/config) is the caller's
// responsibility; Adapter itself is stateless and safe for concurrent use.
type Adapter struct {
	clients     map[string]EC2API
	regionOrder []string
	// PerCallTimeout bounds every individual cloud-API call (spec §5,
	// default 30s). Zero means no adapter-level timeout is applied.
	PerCallTimeout time.Duration
}

// NewAdapter builds an Adapter over clients, one EC2API per allowed region.
func NewAdapter(clients map[string]EC2API) *Adapter {
	regions := make([]string, 0, len(clients))
	for r := range clients {
		regions = append(regions, r)
	}
	return &Adapter{clients: clients, regionOrder: regions, PerCallTimeout: 30 * time.Second}
}

// Regions returns the allowed regions this adapter was built with.
func (a *Adapter) Regions() []string { return append([]string(nil), a.regionOrder...) }

func (a *Adapter) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.PerCallTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, a.PerCallTimeout)
}

// fanOutRegions runs fn once per region in parallel and merges the partial
// results. A non-retryable (permission/malformed) error from any region
// fails the whole call; a transient error from one region is recorded but
// does not suppress results from the others, matching spec §4.1: "The core
// fails the iteration if any individual region call fails in a
// non-retryable way, but a retryable error causes the iteration to be
// skipped (not aborted)".
func fanOutRegions[T any](ctx context.Context, regions []string, fn func(ctx context.Context, region string) (T, error)) (map[string]T, error) {
	results := make(map[string]T, len(regions))
	var mu sync.Mutex
	var transient error
	g, gctx := errgroup.WithContext(ctx)
	for _, region := range regions {
		region := region
		g.Go(func() error {
			out, err := fn(gctx, region)
			classified := Classify(err)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				results[region] = out
				return nil
			}
			if errors.Is(classified, ErrPermission) {
				return errors.Wrapf(classified, "region %s", region)
			}
			if errors.Is(classified, ErrMalformed) {
				return errors.Wrapf(classified, "region %s", region)
			}
			// transient: record it without cancelling the other regions;
			// caller decides whether the whole iteration should be skipped
			// based on the combined error.
			transient = multierr.Append(transient, errors.Wrapf(classified, "region %s", region))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, transient
}

// DescribeLiveInstances returns non-terminal instances per region: the
// "live instances" feed of spec §4.1.
func (a *Adapter) DescribeLiveInstances(ctx context.Context) (map[string][]fleet.RawInstance, error) {
	return a.describeInstances(ctx, []string{
		string(types.InstanceStateNamePending),
		string(types.InstanceStateNameRunning),
		string(types.InstanceStateNameShuttingDown),
		string(types.InstanceStateNameStopping),
	}, nil)
}

// DescribeDeadInstances returns recently terminated instances per region,
// the "dead instances" feed of spec §4.1 that carries state_reason.
func (a *Adapter) DescribeDeadInstances(ctx context.Context) (map[string][]fleet.RawInstance, error) {
	return a.describeInstances(ctx, []string{
		string(types.InstanceStateNameTerminated),
		string(types.InstanceStateNameShuttingDown),
	}, nil)
}

func (a *Adapter) describeInstances(ctx context.Context, states []string, since *time.Time) (map[string][]fleet.RawInstance, error) {
	out, err := fanOutRegions(ctx, a.regionOrder, func(ctx context.Context, region string) ([]fleet.RawInstance, error) {
		client, ok := a.clients[region]
		if !ok {
			return nil, errors.Errorf("no client configured for region %s", region)
		}
		callCtx, cancel := a.withTimeout(ctx)
		defer cancel()
		filters := []types.Filter{{
			Name:   lo.ToPtr("instance-state-name"),
			Values: states,
		}}
		var result []fleet.RawInstance
		var nextToken *string
		for {
			resp, err := client.DescribeInstances(callCtx, &ec2.DescribeInstancesInput{
				Filters:   filters,
				NextToken: nextToken,
			})
			if err != nil {
				return nil, err
			}
			for _, reservation := range resp.Reservations {
				for _, inst := range reservation.Instances {
					ri, ok := fromEC2Instance(region, inst)
					if !ok {
						continue
					}
					if since != nil && inst.LaunchTime != nil && inst.LaunchTime.Before(*since) {
						continue
					}
					result = append(result, ri)
				}
			}
			if resp.NextToken == nil || *resp.NextToken == "" {
				break
			}
			nextToken = resp.NextToken
		}
		return result, nil
	})
	return flattenInstances(out), err
}

func flattenInstances(byRegion map[string][]fleet.RawInstance) map[string][]fleet.RawInstance {
	if byRegion == nil {
		return map[string][]fleet.RawInstance{}
	}
	return byRegion
}

func fromEC2Instance(region string, inst types.Instance) (fleet.RawInstance, bool) {
	if inst.InstanceId == nil {
		return fleet.RawInstance{}, false
	}
	ri := fleet.RawInstance{Instance: fleet.Instance{
		InstanceID:   aws(inst.InstanceId),
		Region:       region,
		InstanceType: string(inst.InstanceType),
		ImageID:      aws(inst.ImageId),
		KeyName:      aws(inst.KeyName),
	}}
	if inst.Placement != nil {
		ri.Zone = aws(inst.Placement.AvailabilityZone)
	}
	if inst.LaunchTime != nil {
		ri.LaunchTime = *inst.LaunchTime
	}
	if inst.State != nil {
		ri.State = fleet.InstanceState(inst.State.Name)
	}
	if inst.SpotInstanceRequestId != nil {
		ri.SpotRequestID = *inst.SpotInstanceRequestId
	}
	if inst.StateTransitionReason != nil && *inst.StateTransitionReason != "" {
		ri.StateReason = parseStateReason(*inst.StateTransitionReason)
	}
	return ri, true
}

// parseStateReason extracts a best-effort code from EC2's free-text
// state-transition-reason field. EC2 does not always expose a separate
// reason code for instances (only for spot requests), so this module
// recovers the code from the leading "Server.<Code>: ..." convention EC2
// uses for spot interruption reasons, and otherwise reports the raw message
// with an empty code. Spot requests get an authoritative status_code
// instead (see spot request parsing below); this is instance-side
// best-effort metadata only.
func parseStateReason(raw string) *fleet.StateReason {
	for i := 0; i < len(raw); i++ {
		if raw[i] == ' ' {
			break
		}
		if raw[i] == ':' {
			return &fleet.StateReason{Code: raw[:i], Message: raw}
		}
	}
	return &fleet.StateReason{Code: "", Message: raw}
}

// DescribeOpenSpotRequests returns open spot requests per region.
func (a *Adapter) DescribeOpenSpotRequests(ctx context.Context) (map[string][]fleet.RawRequest, error) {
	return a.describeSpotRequests(ctx, []string{string(types.SpotInstanceStateOpen)}, nil)
}

// DescribeResolvedSpotRequests returns non-open (active/cancelled/failed/
// closed) spot requests per region, the "resolved (non-open) spot requests"
// feed of spec §4.1.
func (a *Adapter) DescribeResolvedSpotRequests(ctx context.Context) (map[string][]fleet.RawRequest, error) {
	since := time.Now().Add(-deadLookback)
	return a.describeSpotRequests(ctx, []string{
		string(types.SpotInstanceStateActive),
		string(types.SpotInstanceStateCancelled),
		string(types.SpotInstanceStateFailed),
		string(types.SpotInstanceStateClosed),
	}, &since)
}

func (a *Adapter) describeSpotRequests(ctx context.Context, states []string, since *time.Time) (map[string][]fleet.RawRequest, error) {
	out, err := fanOutRegions(ctx, a.regionOrder, func(ctx context.Context, region string) ([]fleet.RawRequest, error) {
		client, ok := a.clients[region]
		if !ok {
			return nil, errors.Errorf("no client configured for region %s", region)
		}
		callCtx, cancel := a.withTimeout(ctx)
		defer cancel()
		filters := []types.Filter{{
			Name:   lo.ToPtr("state"),
			Values: states,
		}}
		var result []fleet.RawRequest
		var nextToken *string
		for {
			resp, err := client.DescribeSpotInstanceRequests(callCtx, &ec2.DescribeSpotInstanceRequestsInput{
				Filters:   filters,
				NextToken: nextToken,
			})
			if err != nil {
				return nil, err
			}
			for _, sr := range resp.SpotInstanceRequests {
				rr, ok := fromEC2SpotRequest(region, sr)
				if !ok {
					continue
				}
				if since != nil && sr.CreateTime != nil && sr.CreateTime.Before(*since) {
					continue
				}
				result = append(result, rr)
			}
			if resp.NextToken == nil || *resp.NextToken == "" {
				break
			}
			nextToken = resp.NextToken
		}
		return result, nil
	})
	if out == nil {
		out = map[string][]fleet.RawRequest{}
	}
	return out, err
}

// fromEC2SpotRequest normalizes the EC2 wire shape into the module's flat
// Request record at the adapter boundary, per spec §9's "duck-typed dead
// spot request shape" note: every downstream consumer sees one shape
// regardless of which of the two describe-calls produced it.
func fromEC2SpotRequest(region string, sr types.SpotInstanceRequest) (fleet.RawRequest, bool) {
	if sr.SpotInstanceRequestId == nil {
		return fleet.RawRequest{}, false
	}
	rr := fleet.RawRequest{Request: fleet.Request{
		RequestID:    aws(sr.SpotInstanceRequestId),
		Region:       region,
		InstanceType: string(sr.LaunchSpecification.InstanceType),
		KeyName:      aws(sr.LaunchSpecification.KeyName),
	}}
	if sr.LaunchSpecification.ImageId != nil {
		rr.ImageID = *sr.LaunchSpecification.ImageId
	}
	if sr.LaunchedAvailabilityZone != nil {
		rr.Zone = *sr.LaunchedAvailabilityZone
	} else if sr.LaunchSpecification.Placement != nil {
		rr.Zone = aws(sr.LaunchSpecification.Placement.AvailabilityZone)
	}
	if sr.CreateTime != nil {
		rr.CreateTime = *sr.CreateTime
	}
	if sr.State != "" {
		rr.State = fleet.RequestState(sr.State)
	}
	if sr.Status != nil {
		rr.StatusCode = fleet.StatusCode(aws(sr.Status.Code))
		rr.StatusMessage = aws(sr.Status.Message)
		if sr.Status.UpdateTime != nil {
			rr.StatusUpdateTime = *sr.Status.UpdateTime
		}
	}
	if sr.SpotPrice != nil {
		if p, err := parsePrice(*sr.SpotPrice); err == nil {
			rr.BidPrice = p
		}
	}
	if sr.InstanceId != nil {
		rr.InstanceID = *sr.InstanceId
	}
	return rr, true
}

func aws(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func parsePrice(s string) (float64, error) {
	var f float64
	_, err := fmt.Sscanf(s, "%f", &f)
	return f, err
}

// RequestSpot submits one one-time spot bid (spec §6: "Bids are always
// submitted with InstanceCount=1, Type=one-time") and returns the new
// request ID.
func (a *Adapter) RequestSpot(ctx context.Context, region, zone, instanceType, imageID, keyName string, bidPrice float64) (string, error) {
	client, ok := a.clients[region]
	if !ok {
		return "", errors.Errorf("no client configured for region %s", region)
	}
	callCtx, cancel := a.withTimeout(ctx)
	defer cancel()
	input := &ec2.RequestSpotInstancesInput{
		InstanceCount: lo.ToPtr[int32](1),
		Type:          types.SpotInstanceTypeOneTime,
		SpotPrice:     lo.ToPtr(fmt.Sprintf("%.4f", bidPrice)),
		LaunchSpecification: &types.RequestSpotLaunchSpecification{
			ImageId:      lo.ToPtr(imageID),
			InstanceType: types.InstanceType(instanceType),
			KeyName:      lo.ToPtr(keyName),
			Placement:    &types.SpotPlacement{AvailabilityZone: lo.ToPtr(zone)},
		},
	}
	resp, err := client.RequestSpotInstances(callCtx, input)
	if err != nil {
		return "", Classify(err)
	}
	if len(resp.SpotInstanceRequests) != 1 || resp.SpotInstanceRequests[0].SpotInstanceRequestId == nil {
		return "", errors.Wrap(ErrMalformed, "RequestSpotInstances returned no request id")
	}
	return *resp.SpotInstanceRequests[0].SpotInstanceRequestId, nil
}

// TerminateInstances terminates all ids in one region with one batch call,
// falling back to one call per instance when the batch call fails with a
// transient error — the aggregate-then-retry
// pattern of the teacher's pkg/batcher/terminateinstances.go, adapted to
// one-shot use instead of a time-windowed batch.
func (a *Adapter) TerminateInstances(ctx context.Context, region string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	client, ok := a.clients[region]
	if !ok {
		return errors.Errorf("no client configured for region %s", region)
	}
	callCtx, cancel := a.withTimeout(ctx)
	defer cancel()
	_, err := client.TerminateInstances(callCtx, &ec2.TerminateInstancesInput{InstanceIds: ids})
	if err == nil {
		return nil
	}
	classified := Classify(err)
	if !errors.Is(classified, ErrTransient) {
		return classified
	}
	// Some or all instances may have failed as part of the aggregate call
	// (a single protected instance can fail an entire AZ's request); retry
	// individually, matching the teacher's batcher fallback.
	var combined error
	for _, id := range ids {
		callCtx, cancel := a.withTimeout(ctx)
		_, err := client.TerminateInstances(callCtx, &ec2.TerminateInstancesInput{InstanceIds: []string{id}})
		cancel()
		if err != nil {
			combined = multierr.Append(combined, errors.Wrapf(Classify(err), "instance %s", id))
		}
	}
	return combined
}

// CancelSpotRequests cancels all ids in one region, with the same
// aggregate-then-retry fallback as TerminateInstances.
func (a *Adapter) CancelSpotRequests(ctx context.Context, region string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	client, ok := a.clients[region]
	if !ok {
		return errors.Errorf("no client configured for region %s", region)
	}
	callCtx, cancel := a.withTimeout(ctx)
	defer cancel()
	_, err := client.CancelSpotInstanceRequests(callCtx, &ec2.CancelSpotInstanceRequestsInput{SpotInstanceRequestIds: ids})
	if err == nil {
		return nil
	}
	classified := Classify(err)
	if !errors.Is(classified, ErrTransient) {
		return classified
	}
	var combined error
	for _, id := range ids {
		callCtx, cancel := a.withTimeout(ctx)
		_, err := client.CancelSpotInstanceRequests(callCtx, &ec2.CancelSpotInstanceRequestsInput{SpotInstanceRequestIds: []string{id}})
		cancel()
		if err != nil {
			combined = multierr.Append(combined, errors.Wrapf(Classify(err), "request %s", id))
		}
	}
	return combined
}

// ImportKeyPair imports a public key under keyName in region.
func (a *Adapter) ImportKeyPair(ctx context.Context, region, keyName, publicKeyBody string) error {
	client, ok := a.clients[region]
	if !ok {
		return errors.Errorf("no client configured for region %s", region)
	}
	callCtx, cancel := a.withTimeout(ctx)
	defer cancel()
	_, err := client.ImportKeyPair(callCtx, &ec2.ImportKeyPairInput{
		KeyName:           lo.ToPtr(keyName),
		PublicKeyMaterial: []byte(publicKeyBody),
	})
	return Classify(err)
}

// DescribeKeyPairs returns the set of key-pair names that already exist in
// region.
func (a *Adapter) DescribeKeyPairs(ctx context.Context, region string) (map[string]bool, error) {
	client, ok := a.clients[region]
	if !ok {
		return nil, errors.Errorf("no client configured for region %s", region)
	}
	callCtx, cancel := a.withTimeout(ctx)
	defer cancel()
	resp, err := client.DescribeKeyPairs(callCtx, &ec2.DescribeKeyPairsInput{})
	if err != nil {
		return nil, Classify(err)
	}
	out := make(map[string]bool, len(resp.KeyPairs))
	for _, kp := range resp.KeyPairs {
		if kp.KeyName != nil {
			out[*kp.KeyName] = true
		}
	}
	return out, nil
}

// DeleteKeyPair deletes a key pair by name in region. Deleting a key pair
// that doesn't exist is not an error (EC2 is idempotent here), matching
// the rogue killer's use of this call as a best-effort cleanup step.
func (a *Adapter) DeleteKeyPair(ctx context.Context, region, keyName string) error {
	client, ok := a.clients[region]
	if !ok {
		return errors.Errorf("no client configured for region %s", region)
	}
	callCtx, cancel := a.withTimeout(ctx)
	defer cancel()
	_, err := client.DeleteKeyPair(callCtx, &ec2.DeleteKeyPairInput{KeyName: lo.ToPtr(keyName)})
	return Classify(err)
}

// CreateTags applies tags to resourceIDs in region. Callers treat failures
// here as always-swallowed per spec §7.
func (a *Adapter) CreateTags(ctx context.Context, region string, resourceIDs []string, tags map[string]string) error {
	if len(resourceIDs) == 0 {
		return nil
	}
	client, ok := a.clients[region]
	if !ok {
		return errors.Errorf("no client configured for region %s", region)
	}
	callCtx, cancel := a.withTimeout(ctx)
	defer cancel()
	ec2Tags := make([]types.Tag, 0, len(tags))
	for k, v := range tags {
		ec2Tags = append(ec2Tags, types.Tag{Key: lo.ToPtr(k), Value: lo.ToPtr(v)})
	}
	_, err := client.CreateTags(callCtx, &ec2.CreateTagsInput{Resources: resourceIDs, Tags: ec2Tags})
	return Classify(err)
}
