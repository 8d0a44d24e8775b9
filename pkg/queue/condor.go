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

package queue

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strconv"
	"strings"

	"github.com/ggprovisioner/provisioner/pkg/logging"
	"github.com/ggprovisioner/provisioner/pkg/model"
)

var errShortLine = errors.New("queue line has fewer than 9 colon-delimited fields")

// emptyQueueSentinel is the line the scheduler prints in place of any job
// rows when the global queue has nothing queued.
const emptyQueueSentinel = "All queues are empty"

// defaultArgs is condor_q's own field list, one -format pair per column,
// matching the colon/newline layout get_global_queue parses.
var defaultArgs = []string{
	"-global",
	"-format", "%s:", "GlobalJobId",
	"-format", "%s:", "ClusterId",
	"-format", "%s:", "JobStatus",
	"-format", "%s:", "QDate",
	"-format", "%s:", "RequestCpus",
	"-format", "%s:", "RequestMemory",
	"-format", "%s:", "RequestDisk",
	"-format", "%s:", "JobDescription",
	"-format", "%s\n", "ExitStatus",
}

// CondorProber implements Prober by shelling out to condor_q -global (or an
// operator-configured equivalent command) and parsing its colon-delimited
// output, one job per line.
type CondorProber struct {
	Command string
	Args    []string
}

// NewCondorProber builds a CondorProber. An empty command defaults to
// "condor_q"; an empty args slice defaults to the field-list args baked in
// above, whichever command is used.
func NewCondorProber(command string, args []string) *CondorProber {
	if command == "" {
		command = "condor_q"
	}
	if len(args) == 0 {
		args = defaultArgs
	}
	return &CondorProber{Command: command, Args: args}
}

// GetGlobalQueue runs the configured probe command and parses its stdout.
func (p *CondorProber) GetGlobalQueue(ctx context.Context) ([]*model.Job, error) {
	log := logging.FromContext(ctx)

	cmd := exec.CommandContext(ctx, p.Command, p.Args...)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return nil, err
	}

	var jobs []*model.Job
	scanner := bufio.NewScanner(&stdout)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if strings.Contains(line, emptyQueueSentinel) {
			break
		}
		job, err := parseJobLine(line)
		if err != nil {
			log.V(1).Info("skipping unparseable queue line", "line", line, "error", err.Error())
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, scanner.Err()
}

// parseJobLine turns one colon-delimited line into a Job. Field order is
// GlobalJobId:ClusterId:JobStatus:QDate:RequestCpus:RequestMemory:RequestDisk:JobDescription:ExitStatus.
func parseJobLine(line string) (*model.Job, error) {
	fields := strings.Split(line, ":")
	if len(fields) < 9 {
		return nil, errShortLine
	}

	tenantAddr := fields[0]
	if idx := strings.Index(tenantAddr, "#"); idx >= 0 {
		tenantAddr = tenantAddr[:idx]
	}

	status, err := strconv.Atoi(fields[2])
	if err != nil {
		return nil, err
	}
	reqTime, err := strconv.ParseInt(fields[3], 10, 64)
	if err != nil {
		return nil, err
	}
	reqCPUs, err := strconv.Atoi(fields[4])
	if err != nil {
		return nil, err
	}
	// RequestMemory/RequestDisk may be a plain number or a free-form string
	// some schedulers substitute when the value is expression-derived; a
	// parse failure there is not fatal, it just yields 0.
	reqMem, _ := strconv.ParseFloat(fields[5], 64)
	reqDisk, _ := strconv.ParseFloat(fields[6], 64)

	return model.NewJob(tenantAddr, fields[1], status, reqTime, reqCPUs, reqMem, reqDisk, fields[7]), nil
}
