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
	"time"

	"laas.dev/core/labctld/internal/model"
	"laas.dev/core/labctld/internal/task"
)

// Reimage re-runs an already-owned instance's install without touching
// allocation or network assignment (spec §6 Dispatcher Action set): a
// collaborator asking for a fresh OS keeps their host and VLANs, so it
// reuses DeployHost's render/push/power/wait steps directly rather than
// the full DeployBooking allocation path.
type Reimage struct {
	AggregateID string `json:"aggregate_id"`
	InstanceID  string `json:"instance_id"`
	ImageID     string `json:"image_id"`

	deps *Deps
}

func (t Reimage) Identifier() task.Identifier { return task.Named("Reimage").Versioned(1) }
func (t Reimage) Timeout() time.Duration       { return 20 * time.Minute }
func (t Reimage) RetryCount() int              { return 0 }

func (t Reimage) Run(ctx task.Context) (any, *task.Error) {
	_, _, agg, terr := (DeployHost{AggregateID: t.AggregateID, InstanceID: t.InstanceID, deps: t.deps}).load(ctx)
	if terr != nil {
		return nil, terr
	}

	if agg.State != model.AggregateActive {
		return nil, task.Reason("aggregate %s is in state %s, not Active", agg.ID, agg.State)
	}

	if err := t.deps.Store.UpdateInstanceImage(ctx.Context(), t.InstanceID, t.ImageID); err != nil {
		return nil, task.Storage(err.Error())
	}

	if err := t.deps.Store.SetInstanceState(ctx.Context(), t.InstanceID, "reimaging"); err != nil {
		return nil, task.Storage(err.Error())
	}

	preToken, preURL := t.deps.Mailbox.Issue()
	postToken, postURL := t.deps.Mailbox.Issue()

	steps := []task.Runnable{
		renderAndPush{AggregateID: t.AggregateID, InstanceID: t.InstanceID, PreImageURL: preURL, PostImageURL: postURL, deps: t.deps},
		powerCycle{AggregateID: t.AggregateID, InstanceID: t.InstanceID, deps: t.deps},
		waitMailbox{AggregateID: t.AggregateID, InstanceID: t.InstanceID, Stage: stagePreImage, Token: preToken, deps: t.deps},
		waitMailbox{AggregateID: t.AggregateID, InstanceID: t.InstanceID, Stage: stagePostImage, Token: postToken, deps: t.deps},
	}

	for _, step := range steps {
		h, err := ctx.Spawn(step)
		if err != nil {
			return nil, task.Reason("spawn %s for instance %s: %s", step.Identifier().Name, t.InstanceID, err)
		}

		if _, cerr := h.Join(); cerr != nil {
			return nil, task.ChildFailed(h.ID, cerr)
		}
	}

	if err := t.deps.Store.SetInstanceState(ctx.Context(), t.InstanceID, "running"); err != nil {
		return nil, task.Storage(err.Error())
	}

	return t.InstanceID, nil
}
