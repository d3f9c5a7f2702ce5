package actions

import (
	"container/heap"
	"sync"
	"time"

	"playerbots/internal/sim/clock"
	"playerbots/internal/sim/host"
	"playerbots/internal/sim/monitor"
)

type actionHeap []Action

func (h actionHeap) Len() int            { return len(h) }
func (h actionHeap) Less(i, j int) bool  { return h[i].before(h[j]) }
func (h actionHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *actionHeap) Push(x any)         { *h = append(*h, x.(Action)) }
func (h *actionHeap) Pop() any {
	old := *h
	n := len(old)
	a := old[n-1]
	*h = old[:n-1]
	return a
}

// Queue is the MPSC staging queue. Enqueue is safe from any thread behind
// one short-held mutex; Drain runs on the sim thread only.
type Queue struct {
	mu        sync.Mutex
	h         actionHeap
	seq       uint64
	cancelled map[host.BotID]bool

	softCap int
	clk     clock.Clock
	mon     *monitor.Monitor
}

func NewQueue(softCap int, clk clock.Clock, mon *monitor.Monitor) *Queue {
	if softCap < 1 {
		softCap = 4096
	}
	return &Queue{
		h:         make(actionHeap, 0, 64),
		cancelled: map[host.BotID]bool{},
		softCap:   softCap,
		clk:       clk,
		mon:       mon,
	}
}

// Enqueue stages an action. A zero EnqueuedAt is stamped from the queue
// clock. When the soft cap is exceeded, the worst-ordered backlog entry is
// dropped and a Warning alert is raised. Returns false only for malformed
// input (zero actor or kind).
func (q *Queue) Enqueue(a Action) bool {
	if a.Actor == 0 || a.Kind == 0 {
		return false
	}
	if a.EnqueuedAt == 0 {
		a.EnqueuedAt = q.clk.Now()
	}

	q.mu.Lock()
	q.seq++
	a.seq = q.seq
	heap.Push(&q.h, a)
	var dropped bool
	if len(q.h) > q.softCap {
		q.dropWorstLocked()
		dropped = true
	}
	q.mu.Unlock()

	q.mon.Increment(monitor.CounterActionsEnqueued)
	if dropped {
		q.mon.Increment(monitor.CounterActionsDropped)
		q.mon.Emit(monitor.Alert{
			Level:    monitor.LevelWarning,
			Category: "action_queue",
			Message:  "action queue over soft cap; lowest-priority backlog dropped",
			Current:  float64(q.Len()),
			Threshold: float64(q.softCap),
		})
	}
	return true
}

// dropWorstLocked removes the entry that would drain last.
func (q *Queue) dropWorstLocked() {
	worst := 0
	for i := 1; i < len(q.h); i++ {
		if q.h[worst].before(q.h[i]) {
			worst = i
		}
	}
	heap.Remove(&q.h, worst)
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.h)
}

// CancelBot marks a despawned bot; its queued and future actions are
// filtered out at drain.
func (q *Queue) CancelBot(id host.BotID) {
	q.mu.Lock()
	q.cancelled[id] = true
	q.mu.Unlock()
}

// ReinstateBot clears a cancellation after respawn.
func (q *Queue) ReinstateBot(id host.BotID) {
	q.mu.Lock()
	delete(q.cancelled, id)
	q.mu.Unlock()
}

func (q *Queue) pop() (Action, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.h) > 0 {
		a := heap.Pop(&q.h).(Action)
		if q.cancelled[a.Actor] {
			continue
		}
		return a, true
	}
	return Action{}, false
}

// DrainStats reports the outcome of one drain pass.
type DrainStats struct {
	Executed int
	Dropped  int
	Failed   int
}

// Drain pops actions in order and executes them against the host until the
// queue is empty or budget elapses. Unexecuted actions keep their original
// timestamps. Sim thread only.
func (q *Queue) Drain(w host.World, budget time.Duration) DrainStats {
	var st DrainStats
	deadline := q.clk.Now().Add(budget)
	for q.clk.Now() < deadline {
		a, ok := q.pop()
		if !ok {
			break
		}
		switch exec(w, a) {
		case execOK:
			st.Executed++
			q.mon.Increment(monitor.CounterActionsExecuted)
		case execDrop:
			st.Dropped++
			q.mon.Increment(monitor.CounterActionsDropped)
		case execFail:
			st.Failed++
			q.mon.Increment(monitor.CounterErrors)
		}
	}
	return st
}

type execResult int

const (
	execOK execResult = iota
	execDrop
	execFail
)

// exec validates then applies one action. Invalid actors or targets drop
// the action; host errors count as failures but never stop the drain.
func exec(w host.World, a Action) execResult {
	actor, ok := w.ResolveEntity(a.Actor.Entity())
	if !ok {
		return execDrop
	}
	if a.Kind.requiresAliveActor() && !actor.Alive {
		return execDrop
	}
	if a.Target != 0 {
		if _, ok := w.ResolveEntity(a.Target); !ok {
			return execDrop
		}
	}

	var err error
	switch a.Kind {
	case KindMoveToPosition:
		err = w.MoveTo(a.Actor, a.Pos)
	case KindMoveToEntity:
		target, _ := w.ResolveEntity(a.Target)
		err = w.MoveTo(a.Actor, target.Pos)
	case KindAttackEntity:
		err = w.AttackStart(a.Actor, a.Target)
	case KindCastSpell:
		err = w.CastSpell(a.Actor, a.SpellID, a.Target)
	case KindUseObject:
		err = w.UseObject(a.Actor, a.Target)
	case KindInteractNPC:
		err = w.SendInteractPacket(a.Actor, a.Target, a.Args, nil)
	case KindLootEntity:
		err = w.Loot(a.Actor, a.Target)
	case KindDepositItem:
		err = w.BankDeposit(a.Actor, a.ItemID, a.Count, a.Gold)
	case KindWithdrawItem:
		err = w.BankWithdraw(a.Actor, a.ItemID, a.Count, a.Gold)
	case KindListAuction:
		err = w.AuctionList(a.Actor, a.ItemID, a.Count, a.Buyout, a.Duration)
	case KindBuyAuction:
		err = w.AuctionBuy(a.Actor, a.Listing)
	case KindAcceptQuest:
		err = w.QuestAccept(a.Actor, a.QuestID, a.Target)
	case KindCompleteQuest, KindTurnInQuest:
		err = w.QuestComplete(a.Actor, a.QuestID, a.Target)
	case KindAbandonQuest:
		err = w.QuestAbandon(a.Actor, a.QuestID)
	default:
		return execDrop
	}
	if err != nil {
		return execFail
	}
	return execOK
}
