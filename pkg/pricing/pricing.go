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

// Package pricing refreshes the per-zone spot price of every cataloged
// instance type once per tick. Unlike the long-lived, continuously
// refreshed Provider this was adapted from, there is no background cache
// here: the provisioner wants a point-in-time snapshot synchronized with
// the rest of the tick, not a rolling window.
package pricing

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/ggprovisioner/provisioner/pkg/cloudapi"
	"github.com/ggprovisioner/provisioner/pkg/logging"
	"github.com/ggprovisioner/provisioner/pkg/model"
)

// View refreshes InstanceType.Spot from a single EC2 client.
type View struct {
	EC2 cloudapi.EC2API
}

// New builds a View over client.
func New(client cloudapi.EC2API) *View {
	return &View{EC2: client}
}

// Refresh queries the spot price history for every instance in instances
// with StartTime == EndTime == now, a point-in-time snapshot, and writes
// the result into each InstanceType.Spot map keyed by availability zone.
// Errors are returned to the caller (the Loop logs and continues the tick
// with catalog instances left at their prior Spot snapshot).
func (v *View) Refresh(ctx context.Context, instances []*model.InstanceType) error {
	if len(instances) == 0 {
		return nil
	}
	log := logging.FromContext(ctx)

	byType := make(map[string]*model.InstanceType, len(instances))
	fresh := make(map[string]map[string]float64, len(instances))
	instanceTypes := make([]string, 0, len(instances))
	for _, i := range instances {
		byType[i.Type] = i
		fresh[i.Type] = map[string]float64{}
		instanceTypes = append(instanceTypes, i.Type)
	}

	now := time.Now()
	paginator := ec2.NewDescribeSpotPriceHistoryPaginator(v.EC2, &ec2.DescribeSpotPriceHistoryInput{
		InstanceTypes:       stringsToInstanceTypes(instanceTypes),
		ProductDescriptions: []string{"Linux/UNIX"},
		StartTime:           aws.Time(now),
		EndTime:             aws.Time(now),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("describing spot price history: %w", err)
		}
		for _, entry := range page.SpotPriceHistory {
			price, err := strconv.ParseFloat(aws.ToString(entry.SpotPrice), 64)
			if err != nil {
				log.V(1).Info("skipping unparseable spot price", "raw", aws.ToString(entry.SpotPrice))
				continue
			}
			spot, ok := fresh[string(entry.InstanceType)]
			if !ok {
				continue
			}
			spot[aws.ToString(entry.AvailabilityZone)] = price
		}
	}
	for t, spot := range fresh {
		byType[t].Spot = spot
	}
	return nil
}

func stringsToInstanceTypes(types_ []string) []types.InstanceType {
	out := make([]types.InstanceType, len(types_))
	for i, t := range types_ {
		out[i] = types.InstanceType(t)
	}
	return out
}
