/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package cloudapi defines the narrow slice of the cloud SDK this
// provisioner depends on, mirroring the interface-per-service pattern the
// teacher uses to keep its cloud provider swappable and testable.
package cloudapi

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/ec2"
)

// EC2API is the EC2 operation surface required by the Requester and Price
// View: run_instances, request_spot_instances, create_tags and
// get_spot_price_history from spec.md §6, nothing more.
type EC2API interface {
	RunInstances(ctx context.Context, params *ec2.RunInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error)
	RequestSpotInstances(ctx context.Context, params *ec2.RequestSpotInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RequestSpotInstancesOutput, error)
	CreateTags(ctx context.Context, params *ec2.CreateTagsInput, optFns ...func(*ec2.Options)) (*ec2.CreateTagsOutput, error)
	DescribeSpotPriceHistory(ctx context.Context, params *ec2.DescribeSpotPriceHistoryInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSpotPriceHistoryOutput, error)
}

// NewFromCredentials builds a per-tenant EC2 client scoped to the tenant's
// own access key and secret key, since each tenant in this multi-tenant
// provisioner owns distinct cloud credentials (spec.md §3).
func NewFromCredentials(ctx context.Context, accessKey, secretKey, region string) (*ec2.Client, error) {
	cfg, err := newAWSConfig(ctx, accessKey, secretKey, region)
	if err != nil {
		return nil, err
	}
	return ec2.NewFromConfig(cfg), nil
}
