// Package keypair implements the Key-Pair Manager of spec §4.5: for each
// worker type, ensures its SSH key pair exists in every allowed region
// before any bid is placed. The "known good" cache is process-local and
// never persisted, so a restart always re-verifies against the current
// allowed-regions configuration (spec §4.5's correctness argument).
package keypair

import (
	"context"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// CloudKeyPairs is the narrow cloud-facing capability this manager needs.
type CloudKeyPairs interface {
	DescribeKeyPairs(ctx context.Context, region string) (map[string]bool, error)
	ImportKeyPair(ctx context.Context, region, keyName, publicKeyBody string) error
	DeleteKeyPair(ctx context.Context, region, keyName string) error
}

// knownGoodTTL bounds how long a worker-type/region pair is trusted without
// re-checking. At the default iteration interval (75s) it spans several
// iterations — the cache exists to avoid a DescribeKeyPairs call on
// every tick for steady-state worker types, not to survive a restart
// (spec §4.5: "the cache is never persisted").
const knownGoodTTL = 10 * time.Minute

// Manager ensures per-worker-type key pairs exist across allowed regions.
type Manager struct {
	cloud     CloudKeyPairs
	keyPrefix string
	publicKey string
	known     *gocache.Cache // key: workerType+"/"+region -> struct{}
}

// New constructs a Manager. keyPrefix and publicKeyBody come from
// config.Config (spec §6).
func New(cloud CloudKeyPairs, keyPrefix, publicKeyBody string) *Manager {
	return &Manager{
		cloud:     cloud,
		keyPrefix: keyPrefix,
		publicKey: publicKeyBody,
		known:     gocache.New(knownGoodTTL, knownGoodTTL/2),
	}
}

// KeyName returns the cloud key-pair name for workerType.
func (m *Manager) KeyName(workerType string) string {
	return m.keyPrefix + workerType
}

func (m *Manager) cacheKey(workerType, region string) string {
	return workerType + "/" + region
}

// Ensure verifies (and imports if missing) workerType's key pair in every
// region in regions. Regions already confirmed within knownGoodTTL are
// skipped without a cloud call.
func (m *Manager) Ensure(ctx context.Context, workerType string, regions []string) error {
	keyName := m.KeyName(workerType)

	var toCheck []string
	for _, region := range regions {
		if _, found := m.known.Get(m.cacheKey(workerType, region)); !found {
			toCheck = append(toCheck, region)
		}
	}
	if len(toCheck) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, region := range toCheck {
		region := region
		g.Go(func() error {
			existing, err := m.cloud.DescribeKeyPairs(gctx, region)
			if err != nil {
				return fmt.Errorf("describing key pairs in %s: %w", region, err)
			}
			if !existing[keyName] {
				if err := m.cloud.ImportKeyPair(gctx, region, keyName, m.publicKey); err != nil {
					return fmt.Errorf("importing key pair %s in %s: %w", keyName, region, err)
				}
			}
			m.known.Set(m.cacheKey(workerType, region), struct{}{}, gocache.DefaultExpiration)
			return nil
		})
	}
	return g.Wait()
}

// Forget drops the known-good cache entries for workerType in regions. Used
// by the rogue killer after it deletes a key pair, so a worker type that
// reappears later is re-verified rather than trusted on stale cache state.
func (m *Manager) Forget(workerType string, regions []string) {
	for _, region := range regions {
		m.known.Delete(m.cacheKey(workerType, region))
	}
}

// DeleteAll deletes workerType's key pair from every region in regions,
// used by the rogue killer (spec §4.6). Best-effort: all regions are
// attempted even if one fails, and failures are combined and returned.
func (m *Manager) DeleteAll(ctx context.Context, workerType string, regions []string) error {
	keyName := m.KeyName(workerType)
	var combined error
	for _, region := range regions {
		if err := m.cloud.DeleteKeyPair(ctx, region, keyName); err != nil {
			combined = multierr.Append(combined, fmt.Errorf("deleting key pair %s in %s: %w", keyName, region, err))
		}
	}
	m.Forget(workerType, regions)
	return combined
}
