package cloud

import (
	"context"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/pkg/errors"
)

// BuildClients constructs one *ec2.Client per region, using the default AWS
// credential chain (environment, shared config, instance role) the way any
// long-running EC2-calling process in this corpus bootstraps its SDK
// clients — there is no per-region secret material beyond the shared AWS
// credentials, so a single LoadDefaultConfig call is re-targeted per region
// via WithRegion.
func BuildClients(ctx context.Context, regions []string) (map[string]EC2API, error) {
	clients := make(map[string]EC2API, len(regions))
	for _, region := range regions {
		cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
		if err != nil {
			return nil, errors.Wrapf(err, "loading AWS config for region %s", region)
		}
		clients[region] = ec2.NewFromConfig(cfg)
	}
	return clients, nil
}
