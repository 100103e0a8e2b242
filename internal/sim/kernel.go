package sim

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/thrasher-corp/wowlab-fleet/internal/rotation"
	"github.com/thrasher-corp/wowlab-fleet/internal/sim/damage"
	"github.com/thrasher-corp/wowlab-fleet/internal/sim/event"
	"github.com/thrasher-corp/wowlab-fleet/internal/sim/rng"
	"github.com/thrasher-corp/wowlab-fleet/internal/sim/stats"
)

// gcdWake is the sentinel SpellIdx pushed alongside a KindCooldownReady
// event solely to wake the decision loop at GCD expiry, as opposed to a
// genuine cooldown-recovered notification.
const gcdWake SpellIdx = -1

// DefaultResourceTickMS is the cadence of the passive resource regen
// event.
const DefaultResourceTickMS = 1000

// RunIteration runs one full deterministic encounter of length
// durationMS, seeded from (seed, iterationIndex) via the two-stage
// splitmix64 -> xoshiro256++ RNG chain, so each iteration gets its own
// independent stream, seeded deterministically from the chunk seed and
// iteration index. It returns the iteration's DPS sample.
func RunIteration(cap *Capability, seed uint64, iterationIndex uint64, durationMS uint32) float64 {
	r := rng.NewXoshiro256pp(rng.SplitMix64(seed, iterationIndex))

	ps := cap.InitPlayer()
	if cap.InitSim != nil {
		cap.InitSim(ps)
	}

	// Each iteration evaluates against its own script clone: gate
	// annotations are clock-relative and the VM's globals are mutable, so
	// neither may be shared across iterations or goroutines.
	var script *rotation.Script
	if cap.Rotation != nil {
		script = cap.Rotation.Clone()
	}

	q := event.NewQueue()
	q.Push(durationMS, event.KindSimEnd, nil)
	if cap.ResourceRegenPerSec > 0 {
		q.Push(DefaultResourceTickMS, event.KindResourceTick, nil)
	}
	if cap.AutoAttackSpeedMS > 0 {
		q.Push(cap.AutoAttackSpeedMS, event.KindAutoAttack, nil)
	}

	decide(ps, cap, script, q)

	for {
		e, ok := q.Pop()
		if !ok || e.Kind == event.KindSimEnd {
			break
		}
		ps.Clock = e.DueTime
		handleEvent(ps, cap, script, q, r, e)
	}

	return (ps.TotalDamage / float64(durationMS)) * 1000
}

// RunChunk runs n independent iterations concurrently, fanning them out
// across goroutines with an order-independent merge, and folds their
// per-iteration DPS samples into one Welford/Chan summary. Concurrency
// is capped at workers to bound CPU use on a single worker-node
// process.
func RunChunk(ctx context.Context, cap *Capability, seed uint64, startIteration uint64, n int, durationMS uint32, workers int) (*stats.Accumulator, error) {
	if workers < 1 {
		workers = 1
	}
	if workers > n {
		workers = n
	}
	if workers < 1 {
		return stats.NewAccumulator(), nil
	}

	results := make([]*stats.Accumulator, workers)
	g, gctx := errgroup.WithContext(ctx)
	per := (n + workers - 1) / workers

	for w := 0; w < workers; w++ {
		w := w
		lo := w * per
		hi := lo + per
		if hi > n {
			hi = n
		}
		if lo >= hi {
			continue
		}
		g.Go(func() error {
			acc := stats.NewAccumulator()
			for i := lo; i < hi; i++ {
				select {
				case <-gctx.Done():
					return gctx.Err()
				default:
				}
				dps := RunIteration(cap, seed, startIteration+uint64(i), durationMS)
				acc.Add(dps)
			}
			results[w] = acc
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	nonNil := results[:0]
	for _, r := range results {
		if r != nil {
			nonNil = append(nonNil, r)
		}
	}
	return stats.MergeAll(nonNil), nil
}

// decide is the rotation's single entry point: it evaluates the
// compiled script against the live state and, on a cast decision,
// commits the cast (cost, cooldown, cast-time event) and schedules the
// GCD wake event. Called after every event the loop handles, since any
// state change may open a new decision window.
func decide(ps *PlayerState, cap *Capability, script *rotation.Script, q *event.Queue) {
	if script == nil {
		return
	}
	if ps.Clock < ps.GCDReadyAt || ps.Clock < ps.CastingUntil {
		return
	}

	ctx := newPlayerContext(ps, cap)
	action := script.Evaluate(ctx)

	switch action.Kind {
	case rotation.ActionCast:
		idx, ok := cap.SpellByName(action.Spell)
		if !ok {
			return
		}
		spell := cap.Spells[idx]
		if ps.Resource < spell.ResourceCost {
			return
		}
		if !ps.Cooldowns[idx].IsReady(ps.Clock) {
			return
		}

		ps.Resource -= spell.ResourceCost
		prev := ps.Cooldowns[idx]
		ps.Cooldowns[idx] = ps.Cooldowns[idx].OnCast(ps.Clock, spell.CooldownMS, true, ps.Haste)
		// A charge spent while no recharge cycle was running starts one;
		// the recovery event drives OnTick (and schedules the next cycle
		// itself while charges remain missing).
		if prev.MaxCharges > 1 && (prev.ReadyAt == 0 || ps.Clock >= prev.ReadyAt) {
			q.Push(ps.Cooldowns[idx].ReadyAt, event.KindCooldownReady, idx)
		}

		castTime := uint32(0)
		if spell.CastTimeMS > 0 {
			castTime = damage.HastedDuration(spell.CastTimeMS, ps.Haste)
		}
		ps.CastingUntil = ps.Clock + castTime
		q.Push(ps.Clock+castTime, event.KindCastComplete, idx)

		gcd := damage.GCD(ps.Haste)
		ps.GCDReadyAt = ps.Clock + gcd
		q.Push(ps.GCDReadyAt, event.KindCooldownReady, gcdWake)

	case rotation.ActionWait:
		q.Push(ps.Clock+action.Wait, event.KindCooldownReady, gcdWake)

	default: // ActionWaitGCD / ActionNoOp: rely on the next natural event
	}
}

func handleEvent(ps *PlayerState, cap *Capability, script *rotation.Script, q *event.Queue, r *rng.Xoshiro256pp, e event.Event) {
	switch e.Kind {
	case event.KindCastComplete:
		handleCastComplete(ps, cap, script, q, r, e.Payload.(SpellIdx))
		decide(ps, cap, script, q)

	case event.KindAuraExpire:
		idx := e.Payload.(AuraIdx)
		if ps.Auras[idx].ExpiresAt <= ps.Clock {
			ps.Auras[idx] = ps.Auras[idx].Fade()
			decide(ps, cap, script, q)
		}

	case event.KindAuraTick:
		handleAuraTick(ps, cap, q, r, e.Payload.(AuraIdx))

	case event.KindCooldownReady:
		idx := e.Payload.(SpellIdx)
		if idx != gcdWake {
			ps.Cooldowns[idx] = ps.Cooldowns[idx].OnTick(ps.Clock)
			if cd := ps.Cooldowns[idx]; cd.MaxCharges > 1 && cd.Charges < cd.MaxCharges {
				q.Push(cd.ReadyAt, event.KindCooldownReady, idx)
			}
		}
		decide(ps, cap, script, q)

	case event.KindResourceTick:
		ps.Resource += cap.ResourceRegenPerSec
		if ps.ResourceCap > 0 && ps.Resource > ps.ResourceCap {
			ps.Resource = ps.ResourceCap
		}
		q.Push(ps.Clock+DefaultResourceTickMS, event.KindResourceTick, nil)
		decide(ps, cap, script, q)

	case event.KindAutoAttack:
		in := cap.AutoAttackDamage
		in.AttackPower = ps.AttackPower
		in.SpellPower = ps.SpellPower
		in.CritChance = ps.CritChance
		out := damage.Compute(in, r)
		ps.TotalDamage += out.Final
		q.Push(ps.Clock+cap.AutoAttackSpeedMS, event.KindAutoAttack, nil)

	case event.KindProcICDEnd:
		idx := e.Payload.(ProcIdx)
		if int(idx) < len(ps.ProcReady) {
			ps.ProcReady[idx] = true
		}
	}
}

func handleCastComplete(ps *PlayerState, cap *Capability, script *rotation.Script, q *event.Queue, r *rng.Xoshiro256pp, idx SpellIdx) {
	spell := cap.Spells[idx]

	in := spell.Damage
	in.AttackPower = ps.AttackPower
	in.SpellPower = ps.SpellPower
	in.CritChance = ps.CritChance
	out := damage.Compute(in, r)
	ps.TotalDamage += out.Final

	if spell.HasAura {
		applyAura(ps, cap, q, spell.GrantsAura)
	}

	for pi, proc := range cap.Procs {
		if proc.Apply == nil || !ps.ProcReady[pi] {
			continue
		}
		if proc.OnCrit && out.Hit != damage.HitCrit {
			continue
		}
		if r.Float64() >= proc.Chance {
			continue
		}
		proc.Apply(ps, cap)
		if proc.ResetsCooldown && script != nil {
			script.InvalidateCooldown(int(proc.ResetSpell))
		}
		if proc.ICDMs > 0 {
			ps.ProcReady[pi] = false
			q.Push(ps.Clock+proc.ICDMs, event.KindProcICDEnd, ProcIdx(pi))
		}
	}
}

// applyAura reapplies/refreshes an aura per its refresh policy and
// schedules an AuraExpire at the post-Apply ExpiresAt, so a
// pandemic-extended refresh expires correctly. A periodic effect gets
// its first AuraTick (now + TickMS) only on a fresh application; on a
// refresh the running tick chain continues against the new expiry.
func applyAura(ps *PlayerState, cap *Capability, q *event.Queue, idx AuraIdx) {
	def := cap.Auras[idx]
	snap := SnapshottedStats{
		AttackPower: ps.AttackPower,
		SpellPower:  ps.SpellPower,
		CritChance:  ps.CritChance,
		Haste:       ps.Haste,
		Versatility: ps.Versatility,
		Mastery:     ps.Mastery,
	}
	flags := def.Snapshot
	if flags.IsZero() {
		flags = NewSnapshotFlags().Set(SnapAttackPower).Set(SnapSpellPower).Set(SnapCrit).Set(SnapHaste)
	}

	wasPresent := ps.Auras[idx].Present
	ps.Auras[idx] = ps.Auras[idx].Apply(ps.Clock, def.DurationMS, def.MaxStacks, def.RefreshPolicy, snap, flags)

	q.Push(ps.Auras[idx].ExpiresAt, event.KindAuraExpire, idx)
	if def.TickMS > 0 && !wasPresent {
		q.Push(ps.Clock+def.TickMS, event.KindAuraTick, idx)
	}
}

// handleAuraTick applies one periodic-damage tick, using the aura's
// snapshotted stats where flagged and live stats otherwise, then
// reschedules the next tick if the aura is still up.
func handleAuraTick(ps *PlayerState, cap *Capability, q *event.Queue, r *rng.Xoshiro256pp, idx AuraIdx) {
	aura := ps.Auras[idx]
	if !aura.Present || ps.Clock >= aura.ExpiresAt {
		return
	}
	def := cap.Auras[idx]

	in := def.Damage
	in.AttackPower = aura.Snapshot.Resolve(aura.Flags, SnapAttackPower, ps.AttackPower)
	in.SpellPower = aura.Snapshot.Resolve(aura.Flags, SnapSpellPower, ps.SpellPower)
	in.CritChance = aura.Snapshot.Resolve(aura.Flags, SnapCrit, ps.CritChance)
	out := damage.Compute(in, r)
	ps.TotalDamage += out.Final

	next := ps.Clock + def.TickMS
	if next < aura.ExpiresAt {
		q.Push(next, event.KindAuraTick, idx)
	}
}
