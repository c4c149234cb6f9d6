// Copyright (c) 2026 labctld contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package workflow

import (
	"fmt"
	"net"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"laas.dev/core/labctld/internal/ipmi"
	"laas.dev/core/labctld/internal/model"
	"laas.dev/core/labctld/internal/netconfig"
	"laas.dev/core/labctld/internal/render"
	"laas.dev/core/labctld/internal/task"
)

// collaboratorUserID is the ipmitool user slot reserved for the
// per-booking collaborator account (slot 1 is the BMC's own factory
// admin and is never touched).
const collaboratorUserID = "2"

// DeployHost drives one instance through provisioning (spec §4.10 steps
// 1-7): management network, render+push install artifacts, power
// cycle, wait for the installer and the finished-install mailbox acks,
// cut over to the production network, issue the collaborator IPMI
// account, and confirm OS-level reachability. Each step is its own
// child task with its own timeout and retry policy, so a flaky BMC call
// retries in isolation instead of re-running the whole host.
type DeployHost struct {
	AggregateID string `json:"aggregate_id"`
	InstanceID  string `json:"instance_id"`

	deps *Deps
}

func (t DeployHost) Identifier() task.Identifier { return task.Named("DeployHost").Versioned(1) }
func (t DeployHost) Timeout() time.Duration       { return 25 * time.Minute }
func (t DeployHost) RetryCount() int              { return 0 }

func (t DeployHost) Run(ctx task.Context) (any, *task.Error) {
	_, span := t.deps.tracer().Start(ctx.Context(), "DeployHost", trace.WithAttributes(
		attribute.String("aggregate_id", t.AggregateID),
		attribute.String("instance_id", t.InstanceID),
	))
	defer span.End()

	if _, _, _, terr := t.load(ctx); terr != nil {
		return nil, terr
	}

	preToken, preURL := t.deps.Mailbox.Issue()
	postToken, postURL := t.deps.Mailbox.Issue()

	steps := []task.Runnable{
		applyNetwork{AggregateID: t.AggregateID, InstanceID: t.InstanceID, Stage: stageEmpty, deps: t.deps},
		renderAndPush{AggregateID: t.AggregateID, InstanceID: t.InstanceID, PreImageURL: preURL, PostImageURL: postURL, deps: t.deps},
		powerCycle{AggregateID: t.AggregateID, InstanceID: t.InstanceID, deps: t.deps},
		waitMailbox{AggregateID: t.AggregateID, InstanceID: t.InstanceID, Stage: stagePreImage, Token: preToken, deps: t.deps},
		waitMailbox{AggregateID: t.AggregateID, InstanceID: t.InstanceID, Stage: stagePostImage, Token: postToken, deps: t.deps},
		applyNetwork{AggregateID: t.AggregateID, InstanceID: t.InstanceID, Stage: stageProduction, deps: t.deps},
		issueCollaboratorAccount{AggregateID: t.AggregateID, InstanceID: t.InstanceID, deps: t.deps},
		verifyReachability{AggregateID: t.AggregateID, InstanceID: t.InstanceID, deps: t.deps},
	}

	for _, step := range steps {
		h, err := ctx.Spawn(step)
		if err != nil {
			return nil, task.Reason("spawn %s for instance %s: %s", step.Identifier().Name, t.InstanceID, err)
		}

		if _, cerr := h.Join(); cerr != nil {
			t.deps.Store.AppendLogEvent(ctx.Context(), model.ProvisionLogEvent{ //nolint:errcheck
				InstanceID: t.InstanceID,
				Sentiment:  model.SentimentFailed,
				Headline:   step.Identifier().Name,
				Detail:     cerr.Error(),
				OccurredAt: now(),
			})

			return nil, task.ChildFailed(h.ID, cerr)
		}
	}

	if err := t.deps.Store.SetInstanceState(ctx.Context(), t.InstanceID, "running"); err != nil {
		return nil, task.Storage(err.Error())
	}

	t.deps.Store.AppendLogEvent(ctx.Context(), model.ProvisionLogEvent{ //nolint:errcheck
		InstanceID: t.InstanceID,
		Sentiment:  model.SentimentSucceeded,
		Headline:   "instance deployed",
		OccurredAt: now(),
	})

	return t.InstanceID, nil
}

func (t DeployHost) load(ctx task.Context) (model.Instance, model.Host, *model.Aggregate, *task.Error) {
	agg, err := t.deps.Store.GetAggregate(ctx.Context(), t.AggregateID)
	if err != nil {
		return model.Instance{}, model.Host{}, nil, task.Storage(err.Error())
	}

	instances, err := t.deps.Store.ListInstances(ctx.Context(), agg.ID)
	if err != nil {
		return model.Instance{}, model.Host{}, nil, task.Storage(err.Error())
	}

	for _, inst := range instances {
		if inst.ID != t.InstanceID {
			continue
		}

		if inst.LinkedHostID == "" {
			return model.Instance{}, model.Host{}, nil, task.Reason("instance %s has no linked host", inst.ID)
		}

		host, err := t.deps.Inventory.Host(inst.LinkedHostID)
		if err != nil {
			return model.Instance{}, model.Host{}, nil, task.Driver(err.Error())
		}

		return inst, host, agg, nil
	}

	return model.Instance{}, model.Host{}, nil, task.Reason("instance %s not found in aggregate %s", t.InstanceID, t.AggregateID)
}

// networkStage names which netconfig.NetworkConfig an applyNetwork step
// builds.
type networkStage string

const (
	stageEmpty      networkStage = "empty"
	stageManagement networkStage = "management"
	stageProduction networkStage = "production"
)

// applyNetwork pushes one netconfig.NetworkConfig to the host's switch
// under the switch's serialized lock (spec §8 property 9).
type applyNetwork struct {
	AggregateID string       `json:"aggregate_id"`
	InstanceID  string       `json:"instance_id"`
	Stage       networkStage `json:"stage"`

	deps *Deps
}

func (t applyNetwork) Identifier() task.Identifier { return task.Named("ApplyNetwork").Versioned(1) }
func (t applyNetwork) Timeout() time.Duration { return 2 * time.Minute }
func (t applyNetwork) RetryCount() int        { return 2 }

func (t applyNetwork) Run(ctx task.Context) (any, *task.Error) {
	_, host, agg, terr := (DeployHost{AggregateID: t.AggregateID, InstanceID: t.InstanceID, deps: t.deps}).load(ctx)
	if terr != nil {
		return nil, terr
	}

	bmcVlan := t.deps.Inventory.BMCVlan(host.ID)
	managementVlan := t.deps.Inventory.ManagementVlan(agg.LabID)

	var cfg netconfig.NetworkConfig
	switch t.Stage {
	case stageEmpty:
		cfg = netconfig.Empty(host, managementVlan)
	case stageManagement:
		cfg = netconfig.Management(host, bmcVlan, managementVlan)
	case stageProduction:
		bonds := t.deps.Inventory.ProductionBonds(host.ID)
		var err error
		cfg, err = netconfig.Production(host, bonds, agg.Networks, bmcVlan)
		if err != nil {
			return nil, task.Reason("build production network config for %s: %s", host.ID, err)
		}
	default:
		return nil, task.Reason("unknown network stage %q", t.Stage)
	}

	if len(host.Ports) == 0 {
		return nil, task.Reason("host %s has no switch ports", host.ID)
	}

	sw, err := t.deps.Inventory.SwitchForPort(host.Ports[0].ID)
	if err != nil {
		return nil, task.Driver(err.Error())
	}

	if err := t.deps.Switches.Apply(ctx.Context(), sw.ID, cfg, t.deps.Driver); err != nil {
		return nil, task.Driver(err.Error())
	}

	return nil, nil
}

// renderAndPush renders the cloud-init/kickstart/GRUB artifacts for an
// instance, pushes them to the TFTP/HTTP root over SFTP, and points
// Cobbler's system record at the rendered profile (spec §4.10 step 1).
type renderAndPush struct {
	AggregateID  string `json:"aggregate_id"`
	InstanceID   string `json:"instance_id"`
	PreImageURL  string `json:"pre_image_url"`
	PostImageURL string `json:"post_image_url"`

	deps *Deps
}

func (t renderAndPush) Identifier() task.Identifier { return task.Named("RenderAndPush").Versioned(1) }
func (t renderAndPush) Timeout() time.Duration       { return 3 * time.Minute }
func (t renderAndPush) RetryCount() int              { return 1 }

func (t renderAndPush) Run(ctx task.Context) (any, *task.Error) {
	inst, host, agg, terr := (DeployHost{AggregateID: t.AggregateID, InstanceID: t.InstanceID, deps: t.deps}).load(ctx)
	if terr != nil {
		return nil, terr
	}

	hctx := render.HostContext{
		Host:         host,
		Instance:     inst,
		IPMIUsername: agg.Config.IPMIUsername,
		IPMIPassword: agg.Config.IPMIPassword,
		PreImageURL:  t.PreImageURL,
		PostImageURL: t.PostImageURL,
		Assignment:   agg.Networks,
	}

	metaData, vendorData, netCfg, err := render.CloudInit(hctx)
	if err != nil {
		return nil, task.Reason("render cloud-init for %s: %s", inst.ID, err)
	}

	userData, err := render.UserData(hctx)
	if err != nil {
		return nil, task.Reason("render user-data for %s: %s", inst.ID, err)
	}

	kickstart, err := render.Kickstart(hctx)
	if err != nil {
		return nil, task.Reason("render kickstart for %s: %s", inst.ID, err)
	}

	grubArgs, err := render.GRUBArgs(hctx)
	if err != nil {
		return nil, task.Reason("render grub args for %s: %s", inst.ID, err)
	}

	if err := t.deps.Pusher.WriteCloudInit(inst.ID, "meta-data", metaData); err != nil {
		return nil, task.Driver(err.Error())
	}
	if err := t.deps.Pusher.WriteCloudInit(inst.ID, "vendor-data", vendorData); err != nil {
		return nil, task.Driver(err.Error())
	}
	if err := t.deps.Pusher.WriteCloudInit(inst.ID, "network-config", netCfg); err != nil {
		return nil, task.Driver(err.Error())
	}
	if err := t.deps.Pusher.WriteCloudInit(inst.ID, "user-data", userData); err != nil {
		return nil, task.Driver(err.Error())
	}
	if err := t.deps.Pusher.WriteKickstart(inst.Template.Hostname, kickstart); err != nil {
		return nil, task.Driver(err.Error())
	}

	var g errgroup.Group
	for _, p := range host.Ports {
		p := p
		g.Go(func() error { return t.deps.Pusher.WriteGRUBFragment(p.MAC, grubArgs) })
	}
	if err := g.Wait(); err != nil {
		return nil, task.Driver(err.Error())
	}

	profile := "kickstart-" + inst.Template.ImageID
	ok, err := t.deps.Cobbler.ProfileExists(ctx.Context(), profile)
	if err != nil {
		return nil, task.Driver(err.Error())
	}
	if !ok {
		return nil, task.Reason("cobbler profile %q does not exist", profile)
	}

	if err := t.deps.Cobbler.SetSystemProfile(ctx.Context(), host.Name, profile); err != nil {
		return nil, task.Driver(err.Error())
	}
	if err := t.deps.Cobbler.SetSystemArgs(ctx.Context(), host.Name, grubArgs); err != nil {
		return nil, task.Driver(err.Error())
	}
	if err := t.deps.Cobbler.SetNetboot(ctx.Context(), host.Name, true); err != nil {
		return nil, task.Driver(err.Error())
	}

	return nil, nil
}

// powerCycle forces a host through off -> on so it picks up the fresh
// netboot configuration.
type powerCycle struct {
	AggregateID string `json:"aggregate_id"`
	InstanceID  string `json:"instance_id"`

	deps *Deps
}

func (t powerCycle) Identifier() task.Identifier { return task.Named("PowerCycle").Versioned(1) }
func (t powerCycle) Timeout() time.Duration       { return 2 * time.Minute }
func (t powerCycle) RetryCount() int              { return 2 }

func (t powerCycle) Run(ctx task.Context) (any, *task.Error) {
	_, host, _, terr := (DeployHost{AggregateID: t.AggregateID, InstanceID: t.InstanceID, deps: t.deps}).load(ctx)
	if terr != nil {
		return nil, terr
	}

	if err := t.deps.IPMI.SetPower(ctx.Context(), host, ipmi.PowerOff); err != nil {
		return nil, task.Driver(err.Error())
	}
	if err := t.deps.IPMI.SetPower(ctx.Context(), host, ipmi.PowerOn); err != nil {
		return nil, task.Driver(err.Error())
	}

	return nil, nil
}

// mailboxStage names which rendezvous ack a waitMailbox step blocks on.
type mailboxStage string

const (
	stagePreImage  mailboxStage = "pre-image"
	stagePostImage mailboxStage = "post-image"
)

// waitMailbox blocks until the host phones home at the named stage
// (spec §4.10 steps 3-4). It is its own task so the retry policy around
// a missed ack (re-push artifacts, re-cycle power) can differ from the
// steps that produced the callback URL in the first place.
type waitMailbox struct {
	AggregateID string       `json:"aggregate_id"`
	InstanceID  string       `json:"instance_id"`
	Stage       mailboxStage `json:"stage"`
	Token       string       `json:"token"`

	deps *Deps
}

func (t waitMailbox) Identifier() task.Identifier { return task.Named("WaitMailbox").Versioned(1) }
func (t waitMailbox) Timeout() time.Duration { return 15 * time.Minute }
func (t waitMailbox) RetryCount() int        { return 0 }

func (t waitMailbox) Run(ctx task.Context) (any, *task.Error) {
	if _, err := t.deps.Mailbox.Wait(ctx.Context(), t.Token, task.TimeoutOf(t)); err != nil {
		return nil, task.Reason("waiting for %s ack on instance %s: %s", t.Stage, t.InstanceID, err)
	}

	detail := ""
	if t.Stage == stagePreImage && t.deps.Leases != nil {
		detail = t.leaseCorroboration(ctx)
	}

	t.deps.Store.AppendLogEvent(ctx.Context(), model.ProvisionLogEvent{ //nolint:errcheck
		InstanceID: t.InstanceID,
		Sentiment:  model.SentimentInProgress,
		Headline:   string(t.Stage) + " ack received",
		Detail:     detail,
		OccurredAt: now(),
	})

	return nil, nil
}

// leaseCorroboration cross-checks the host's port MACs against observed
// DHCP leases, returning a log detail string naming the first MAC with
// a corroborating lease (spec §4.10 steps 3-4: "alongside, never
// instead of" the mailbox ack). A miss here is not an error: the
// observer may simply not share a broadcast domain with every
// provisioning network.
func (t waitMailbox) leaseCorroboration(ctx task.Context) string {
	_, host, _, terr := (DeployHost{AggregateID: t.AggregateID, InstanceID: t.InstanceID, deps: t.deps}).load(ctx)
	if terr != nil {
		return ""
	}

	for _, p := range host.Ports {
		mac, err := net.ParseMAC(p.MAC)
		if err != nil {
			continue
		}

		if ip, ok := t.deps.Leases.Lease(mac); ok {
			return fmt.Sprintf("corroborated by dhcp lease: %s -> %s", mac, ip)
		}
	}

	return "no corroborating dhcp lease observed"
}

// issueCollaboratorAccount creates the per-booking IPMI account so
// collaborators can reach their host's BMC directly (spec §4.10 step 7).
type issueCollaboratorAccount struct {
	AggregateID string `json:"aggregate_id"`
	InstanceID  string `json:"instance_id"`

	deps *Deps
}

func (t issueCollaboratorAccount) Identifier() task.Identifier {
	return task.Named("IssueCollaboratorAccount").Versioned(1)
}
func (t issueCollaboratorAccount) Timeout() time.Duration { return time.Minute }
func (t issueCollaboratorAccount) RetryCount() int        { return 2 }

func (t issueCollaboratorAccount) Run(ctx task.Context) (any, *task.Error) {
	_, host, agg, terr := (DeployHost{AggregateID: t.AggregateID, InstanceID: t.InstanceID, deps: t.deps}).load(ctx)
	if terr != nil {
		return nil, terr
	}

	if err := t.deps.IPMI.CreateIPMIAccount(ctx.Context(), host, collaboratorUserID, agg.Config.IPMIUsername, agg.Config.IPMIPassword); err != nil {
		return nil, task.Driver(err.Error())
	}

	return nil, nil
}

// verifyReachability confirms the OS itself is up, not just the BMC
// (spec §4.10 step 7, final check).
type verifyReachability struct {
	AggregateID string `json:"aggregate_id"`
	InstanceID  string `json:"instance_id"`

	deps *Deps
}

func (t verifyReachability) Identifier() task.Identifier { return task.Named("VerifyReachability").Versioned(1) }
func (t verifyReachability) Timeout() time.Duration       { return 5 * time.Minute }
func (t verifyReachability) RetryCount() int              { return 3 }

func (t verifyReachability) Run(ctx task.Context) (any, *task.Error) {
	_, host, _, terr := (DeployHost{AggregateID: t.AggregateID, InstanceID: t.InstanceID, deps: t.deps}).load(ctx)
	if terr != nil {
		return nil, terr
	}

	addr, err := t.deps.Inventory.ManagementAddress(host.ID)
	if err != nil {
		return nil, task.Driver(err.Error())
	}

	if err := t.deps.Pinger.Ping(addr); err != nil {
		return nil, task.Unreachable(fmt.Sprintf("host %s not reachable: %s", host.ID, err))
	}

	return nil, nil
}
