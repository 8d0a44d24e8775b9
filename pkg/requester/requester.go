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

// Package requester issues the cloud request the Selector chose, tags it,
// and durably records it in the Ledger. Grounded on
// launch_ondemand_request, launch_spot_request, tag_requests and
// customise_cloudinit.
package requester

import (
	"bytes"
	"context"
	"fmt"
	"text/template"
	"time"

	"github.com/avast/retry-go"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/ggprovisioner/provisioner/pkg/cloudapi"
	"github.com/ggprovisioner/provisioner/pkg/logging"
	"github.com/ggprovisioner/provisioner/pkg/model"
)

// LedgerAppender is the slice of the Ledger the Requester needs: durably
// recording a placed cloud request. Declared here, at the consumer, so
// tests can fake it without a database.
type LedgerAppender interface {
	Append(ctx context.Context, e *model.LedgerEntry) error
}

// cloudInitData is the substitution set the on-disk user-data template
// fills in, the Go-native form of the original's {ip_addr, cpus, domain}
// string.Template dict.
type cloudInitData struct {
	IPAddr string
	CPUs   int
	Domain string
}

// Requester issues cloud instance requests for every job a tenant selected
// this tick, tags them, and appends one Ledger entry per returned instance
// id.
type Requester struct {
	Ledger        LedgerAppender
	UserDataTmpl  *template.Template
	TagRetryCount uint
	TagRetryDelay time.Duration
}

// New builds a Requester. tmpl is the parsed user-data template (rendered
// fresh per job, since cpus/ip/domain vary per tenant and instance).
func New(l LedgerAppender, tmpl *template.Template) *Requester {
	return &Requester{
		Ledger:        l,
		UserDataTmpl:  tmpl,
		TagRetryCount: 3,
		TagRetryDelay: 2 * time.Second,
	}
}

// RequestAll issues the chosen request for every job in tenant.IdleJobs
// that has a non-nil Launch, using client (scoped to tenant's own
// credentials). A per-job error is logged and does not stop the tenant's
// remaining jobs.
func (r *Requester) RequestAll(ctx context.Context, client cloudapi.EC2API, tenant *model.Tenant) {
	log := logging.FromContext(ctx)

	reqCPUs, reqInstances := 0, 0
	for _, job := range tenant.IdleJobs {
		if job.Fulfilled || job.Launch == nil {
			continue
		}
		userData, err := r.renderUserData(tenant, job)
		if err != nil {
			log.Error(err, "rendering user-data failed, skipping job", "job", job.ID, "tenant", tenant.Name)
			continue
		}

		var ids []string
		if job.Launch.OnDemand {
			ids, err = r.launchOnDemand(ctx, client, tenant, job, userData)
		} else {
			ids, err = r.launchSpot(ctx, client, tenant, job, userData)
		}
		if err != nil {
			log.Error(err, "cloud request failed, skipping job for this tick", "job", job.ID, "tenant", tenant.Name)
			continue
		}

		reqInstances += len(ids)
		reqCPUs += job.ReqCPUs
		for _, id := range ids {
			r.tagAndLedger(ctx, client, tenant, job, id)
		}
	}

	log.V(1).Info("tenant requesting summary", "tenant", tenant.Name, "cpus_requested", reqCPUs, "instances_requested", reqInstances)
}

func (r *Requester) renderUserData(tenant *model.Tenant, job *model.Job) (string, error) {
	var buf bytes.Buffer
	data := cloudInitData{
		IPAddr: tenant.PublicIP,
		CPUs:   job.Launch.Instance.CPUs,
		Domain: tenant.Domain,
	}
	if err := r.UserDataTmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("executing user-data template: %w", err)
	}
	return buf.String(), nil
}

func blockDeviceMapping() []types.BlockDeviceMapping {
	return []types.BlockDeviceMapping{
		{
			DeviceName: aws.String("/dev/sda1"),
			Ebs:        &types.EbsBlockDevice{VolumeSize: aws.Int32(10)},
		},
		{DeviceName: aws.String("/dev/sdb"), VirtualName: aws.String("ephemeral0")},
		{DeviceName: aws.String("/dev/sdc"), VirtualName: aws.String("ephemeral1")},
		{DeviceName: aws.String("/dev/sdd"), VirtualName: aws.String("ephemeral2")},
		{DeviceName: aws.String("/dev/sde"), VirtualName: aws.String("ephemeral3")},
	}
}

// launchOnDemand issues run_instances for job.Launch, returning every
// returned instance id. Per Design Notes §9 item (i), every id is tagged
// and ledgered, not just the first.
func (r *Requester) launchOnDemand(ctx context.Context, client cloudapi.EC2API, tenant *model.Tenant, job *model.Job, userData string) ([]string, error) {
	req := job.Launch
	out, err := client.RunInstances(ctx, &ec2.RunInstancesInput{
		MinCount:            aws.Int32(int32(req.Count)),
		MaxCount:            aws.Int32(int32(req.Count)),
		ImageId:             aws.String(req.AMI),
		InstanceType:        types.InstanceType(req.InstanceType),
		KeyName:             aws.String(tenant.KeyPair),
		SecurityGroupIds:    []string{tenant.SecurityGroup},
		SubnetId:            aws.String(tenant.Subnet),
		UserData:            aws.String(userData),
		BlockDeviceMappings: blockDeviceMapping(),
	})
	if err != nil {
		return nil, fmt.Errorf("run_instances for job %s: %w", job.ID, err)
	}

	ids := make([]string, 0, len(out.Instances))
	for _, i := range out.Instances {
		ids = append(ids, aws.ToString(i.InstanceId))
	}
	return ids, nil
}

// launchSpot issues request_spot_instances for job.Launch, returning every
// returned request id.
func (r *Requester) launchSpot(ctx context.Context, client cloudapi.EC2API, tenant *model.Tenant, job *model.Job, userData string) ([]string, error) {
	req := job.Launch
	out, err := client.RequestSpotInstances(ctx, &ec2.RequestSpotInstancesInput{
		SpotPrice:     aws.String(fmt.Sprintf("%.4f", req.Bid)),
		InstanceCount: aws.Int32(int32(req.Count)),
		LaunchSpecification: &types.RequestSpotLaunchSpecification{
			ImageId:             aws.String(req.AMI),
			InstanceType:        types.InstanceType(req.InstanceType),
			KeyName:             aws.String(tenant.KeyPair),
			SecurityGroupIds:    []string{tenant.SecurityGroup},
			SubnetId:            aws.String(tenant.Subnets[req.Zone]),
			UserData:            aws.String(userData),
			BlockDeviceMappings: blockDeviceMapping(),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("request_spot_instances for job %s: %w", job.ID, err)
	}

	ids := make([]string, 0, len(out.SpotInstanceRequests))
	for _, i := range out.SpotInstanceRequests {
		ids = append(ids, aws.ToString(i.SpotInstanceRequestId))
	}
	return ids, nil
}

// tagAndLedger tags one returned cloud id with the tenant name and worker
// name (retrying transient errors 3x with a fixed 2s delay), then appends
// the corresponding Ledger entry regardless of whether tagging ultimately
// succeeded — a tagging failure is cosmetic, not a reason to lose the
// record of a request that was actually placed.
func (r *Requester) tagAndLedger(ctx context.Context, client cloudapi.EC2API, tenant *model.Tenant, job *model.Job, cloudID string) {
	log := logging.FromContext(ctx)

	err := retry.Do(
		func() error {
			_, err := client.CreateTags(ctx, &ec2.CreateTagsInput{
				Resources: []string{cloudID},
				Tags: []types.Tag{
					{Key: aws.String("tenant"), Value: aws.String(tenant.Name)},
					{Key: aws.String("Name"), Value: aws.String(fmt.Sprintf("worker@%s", tenant.Name))},
				},
			})
			return err
		},
		retry.Attempts(r.TagRetryCount),
		retry.Delay(r.TagRetryDelay),
		retry.DelayType(retry.FixedDelay),
	)
	if err != nil {
		log.Error(err, "tagging cloud request failed after retries", "request_id", cloudID, "tenant", tenant.Name)
	}

	entry := &model.LedgerEntry{
		Tenant:       tenant.DBID,
		InstanceType: job.Launch.Instance.DBID,
		JobRunnerID:  job.ID,
		RequestID:    cloudID,
	}
	if job.Launch.OnDemand {
		entry.Price = job.Launch.ODP
		entry.RequestType = model.RequestTypeOnDemand
		entry.Subnet = tenant.SubnetID
	} else {
		entry.Price = job.Launch.Bid
		entry.RequestType = model.RequestTypeSpot
		entry.Subnet = tenant.SubnetsDBID[job.Launch.Zone]
	}

	if err := r.Ledger.Append(ctx, entry); err != nil {
		log.Error(err, "ledger append failed after cloud request was placed; request exists in cloud but not recorded", "request_id", cloudID, "job", job.ID, "tenant", tenant.Name)
	}
}
