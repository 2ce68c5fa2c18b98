// Package vm implements the page-fault path, address-space fork, and
// sbrk: the glue between page tables, the coremap, swap, and the TLB
// (spec.md §4.2-§4.4).
//
// Grounded on original_source kern/vm/paging.c's vm_fault/page_swapin,
// kern/vm/addrspace.c's as_copy, and kern/vm/daemon.c's sbrk bookkeeping.
// The teacher's Vm_t kept a hardware x86 page directory (Pmap_t) plus a
// region list (Vmregion_t) built for real COW forking and a direct-map
// window; none of that exists here since the frame backing store is
// simulated. What survives from the teacher is the shape: Vm_t embeds
// sync.Mutex, Lock_pmap/Unlock_pmap/Lockassert_pmap bracket every
// operation that walks the page table, and pgfltaken still guards
// against double-locking the same way.
package vm

import (
	"math/rand"
	"sync"

	"coremap"
	"defs"
	"mem"
	"pagetable"
	"swap"
	"tlb"
)

// / FaultKind distinguishes the three fault shapes vm_fault handles.
type FaultKind int

const (
	FaultRead FaultKind = iota
	FaultWrite
	FaultReadOnly
)

// / NumTLBSlots is the size of the simulated per-address-space TLB.
// / Real hardware TLBs are small and direct-mapped or set-associative;
// / this keeps the same "fixed small table, random replacement" shape
// / described in spec.md §4.2 without modeling a specific architecture.
const NumTLBSlots = 64

type tlbSlot struct {
	valid bool
	va    mem.VA
	ppn   int
}

// / Vm_t represents one process's virtual memory: a sparse two-level
// / directory, heap bounds, and a simulated TLB, all guarded by one
// / sleepable lock (spec.md §3).
type Vm_t struct {
	sync.Mutex

	pgfltaken bool

	ID int

	dir pagetable.Directory

	HeapStart mem.VA
	HeapPages int

	// StackMin is the lowest VA the stack region may reach; it grows
	// down from some architecture-defined top. GapStart/GapEnd bound
	// the forbidden hole between the heap and the stack.
	StackMin mem.VA
	GapStart mem.VA
	GapEnd   mem.VA

	cm     *coremap.Coremap
	sw     *swap.Tracker
	tlbReg *tlb.Registry

	tlbSlots [NumTLBSlots]tlbSlot
}

// / New creates an address space with an initially empty heap and a
// / stack region starting at stackMin.
func New(id int, heapStart, stackMin mem.VA, cm *coremap.Coremap, sw *swap.Tracker, tlbReg *tlb.Registry) *Vm_t {
	return &Vm_t{
		ID:        id,
		HeapStart: heapStart,
		GapStart:  heapStart,
		GapEnd:    stackMin,
		StackMin:  stackMin,
		cm:        cm,
		sw:        sw,
		tlbReg:    tlbReg,
	}
}

// / Lock_pmap acquires the address-space mutex and marks that page-table
// / manipulation is underway.
func (as *Vm_t) Lock_pmap() {
	as.Lock()
	as.pgfltaken = true
}

// / Unlock_pmap releases the address-space mutex.
func (as *Vm_t) Unlock_pmap() {
	as.pgfltaken = false
	as.Unlock()
}

// / Lockassert_pmap panics if the address-space mutex is not held.
func (as *Vm_t) Lockassert_pmap() {
	if !as.pgfltaken {
		panic("pgfl lock must be held")
	}
}

func (as *Vm_t) heapEnd() mem.VA {
	return mem.VA(uintptr(as.HeapStart) + uintptr(as.HeapPages*mem.PGSIZE))
}

func (as *Vm_t) inStack(va mem.VA) bool {
	return va >= as.StackMin
}

func (as *Vm_t) inHeap(va mem.VA) bool {
	return va >= as.HeapStart && va < as.heapEnd()
}

// validRegion rejects the gap between heap end and stack minimum
// (spec.md §4.2 step 2).
func (as *Vm_t) validRegion(va mem.VA) bool {
	if as.inHeap(va) {
		return true
	}
	if as.inStack(va) {
		return true
	}
	return false
}

// / MarkEvicted implements coremap.Owner: the coremap calls this during
// / eviction to flip a present PTE to absent-with-swap-slot. It runs
// / with the coremap spinlock held and the target frame already marked
// / busy, which is what makes it safe to mutate the PTE without taking
// / the address-space lock -- any concurrent pte_acquire on this VA
// / will observe present && busy and sleep on the core wait channel
// / until this finishes (spec.md §5's "logically guarded by
// / (address-space-lock, coremap-spinlock, busy)" protocol), and taking
// / the address-space lock here would invert the documented
// / address-space -> coremap lock order.
func (as *Vm_t) MarkEvicted(va uintptr, swapSlot int) {
	v := mem.VA(va)
	old, ok := as.dir.Lookup(v)
	writeable := ok && old.Writeable()
	as.dir.Set(v, pagetable.MakeSwapped(swapSlot, writeable))
}

// swapinLocked implements page_swapin: given a PTE that is absent, zeroed,
// or newly stack-grown, produces a present frame for it. cm's lock must
// be held throughout; it returns the frame number and the PTE now
// installed. cpu identifies the caller for TLB/coremap bookkeeping.
func swapinLocked(as *Vm_t, cm *coremap.Coremap, sw *swap.Tracker, va mem.VA, pte pagetable.PTE, fromFault bool, cpu int) (int, pagetable.PTE, defs.Err_t) {
	ppn, err := cm.PageGetLocked(fromFault, cpu)
	if err != 0 {
		return 0, 0, err
	}

	if pte.Zeroed() || !pte.Valid() {
		*cm.Frame(ppn) = mem.Bytepg_t{}
	} else {
		slot := pte.PPN()
		cm.Unlock()
		rerr := sw.Read(slot, cm.Frame(ppn))
		cm.Lock()
		if rerr != nil {
			return 0, 0, defs.EIO
		}
		sw.Free(slot)
	}

	newpte := pagetable.MakePresent(ppn, true)
	as.dir.Set(va, newpte)

	e := cm.EntryPtr(ppn)
	e.Owner = as
	e.VA = uintptr(va)
	e.OwnerCPU = cpu

	return ppn, newpte, 0
}

// probeTLB looks for va already resident in as's simulated TLB.
func (as *Vm_t) probeTLB(va mem.VA) (int, bool) {
	for i := range as.tlbSlots {
		if as.tlbSlots[i].valid && as.tlbSlots[i].va == va {
			return i, true
		}
	}
	return 0, false
}

// installTLB picks a slot for (va, ppn), evicting and shooting down a
// random occupant on a miss, per spec.md §4.2 step 6.
func (as *Vm_t) installTLB(cm *coremap.Coremap, va mem.VA, ppn, cpu int) {
	if slot, ok := as.probeTLB(va); ok {
		as.tlbSlots[slot].ppn = ppn
		return
	}

	slot := rand.Intn(NumTLBSlots)
	occ := &as.tlbSlots[slot]
	if occ.valid {
		as.tlbReg.Shootdown(cpu, tlb.Shootdown{CPU: cpu, VA: occ.va, FlushAll: false})
		cm.EntryPtr(occ.ppn).TLBResident = false
	}

	*occ = tlbSlot{valid: true, va: va, ppn: ppn}
	as.tlbReg.Insert(cpu, va)
	e := cm.EntryPtr(ppn)
	e.TLBResident = true
	e.OwnerCPU = cpu
}

// / Fault implements vm_fault: resolves a page fault at va of the given
// / kind, installing a TLB entry on success.
func (as *Vm_t) Fault(kind FaultKind, va mem.VA, cpu int) defs.Err_t {
	va = va.Trunc()
	if !as.validRegion(va) {
		return defs.EFAULT
	}

	if as.cm.Stats != nil {
		as.cm.Stats.VMFaults.Add(1)
	}

	as.Lock_pmap()

	if !as.dir.HasTable(va) {
		if !as.inStack(va) {
			as.Unlock_pmap()
			return defs.EFAULT
		}
		as.dir.EnsureTable(va)
	}

	as.cm.Lock()

	var pte pagetable.PTE
	for {
		p, _ := as.dir.Lookup(va)
		pte = p
		if pte.Present() && as.cm.EntryPtr(pte.PPN()).Busy {
			as.cm.WaitCore()
			continue
		}
		break
	}

	var ppn int
	if !pte.Present() || (as.inStack(va) && !pte.Valid()) || pte.Zeroed() {
		var err defs.Err_t
		ppn, pte, err = swapinLocked(as, as.cm, as.sw, va, pte, true, cpu)
		if err != 0 {
			as.cm.Unlock()
			as.Unlock_pmap()
			return err
		}
		if as.cm.Stats != nil {
			as.cm.Stats.PageFaults.Add(1)
		}
	} else {
		ppn = pte.PPN()
	}

	if kind == FaultWrite || kind == FaultReadOnly {
		if !pte.Writeable() {
			as.cm.EntryPtr(ppn).Busy = false
			as.cm.WakeCore()
			as.cm.Unlock()
			as.Unlock_pmap()
			return defs.EFAULT
		}
	}

	as.installTLB(as.cm, va, ppn, cpu)
	if kind == FaultWrite {
		as.cm.MarkDirty(ppn)
	}

	as.cm.EntryPtr(ppn).Busy = false
	as.cm.WakeCore()
	as.cm.Unlock()
	as.Unlock_pmap()
	return 0
}

// / ForkCopy produces a fully independent child address space, per
// / spec.md §4.3. The parent's lock is held for the whole walk.
func (as *Vm_t) ForkCopy(childID int, cpu int) (*Vm_t, defs.Err_t) {
	as.Lock_pmap()
	defer as.Unlock_pmap()

	child := New(childID, as.HeapStart, as.StackMin, as.cm, as.sw, as.tlbReg)
	child.HeapPages = as.HeapPages
	child.GapStart = as.GapStart
	child.GapEnd = as.GapEnd

	var childFrames []int

	as.cm.Lock()
	for di := range as.dir.Tables {
		pt := as.dir.Tables[di]
		if pt == nil {
			continue
		}
		for pi := range pt.Entries {
			pte := pt.Entries[pi]
			if !pte.Valid() {
				continue
			}
			va := pagetable.Join(di, pi)

			if pte.Zeroed() {
				child.dir.Set(va, pagetable.MakeZeroed(pte.Writeable()))
				continue
			}

			if !pte.Present() {
				var err defs.Err_t
				_, pte, err = swapinLocked(as, as.cm, as.sw, va, pte, false, cpu)
				if err != 0 {
					as.cm.Unlock()
					return nil, err
				}
			}

			parentPPN := pte.PPN()
			childPPN, err := as.cm.PageGetLocked(false, cpu)
			if err != 0 {
				as.cm.Unlock()
				return nil, err
			}
			*as.cm.Frame(childPPN) = *as.cm.Frame(parentPPN)

			ce := as.cm.EntryPtr(childPPN)
			ce.Owner = child
			ce.VA = uintptr(va)
			ce.OwnerCPU = cpu

			child.dir.Set(va, pagetable.MakePresent(childPPN, true))
			childFrames = append(childFrames, childPPN)
		}
	}

	for _, ppn := range childFrames {
		as.cm.EntryPtr(ppn).Busy = false
	}
	as.cm.WakeCore()
	as.cm.Unlock()

	return child, 0
}

// / Sbrk grows or shrinks the heap by delta bytes, which must be a
// / multiple of the page size, per spec.md §4.4.
func (as *Vm_t) Sbrk(delta int, cpu int) (mem.VA, defs.Err_t) {
	if delta%mem.PGSIZE != 0 {
		return 0, defs.EINVAL
	}
	pages := delta / mem.PGSIZE

	as.Lock_pmap()
	defer as.Unlock_pmap()

	old := as.heapEnd()

	if pages > 0 {
		for i := 0; i < pages; i++ {
			va := mem.VA(uintptr(old) + uintptr(i*mem.PGSIZE))
			as.dir.Set(va, pagetable.MakeZeroed(true))
		}
		as.HeapPages += pages
		as.GapStart = as.heapEnd()
		return old, 0
	}

	shrink := -pages
	if shrink > as.HeapPages {
		return 0, defs.EINVAL
	}

	as.cm.Lock()
	for i := 1; i <= shrink; i++ {
		va := mem.VA(uintptr(old) - uintptr(i*mem.PGSIZE))
		pte, ok := as.dir.Lookup(va)
		if !ok || !pte.Valid() {
			continue
		}
		if pte.Present() {
			e := as.cm.EntryPtr(pte.PPN())
			if e.TLBResident {
				as.tlbReg.Shootdown(cpu, tlb.Shootdown{CPU: e.OwnerCPU, VA: va, FlushAll: false})
			}
			if e.SwapSlot != 0 {
				as.sw.Free(e.SwapSlot)
			}
			*e = coremap.CmEntry{Exists: true}
		} else if !pte.Zeroed() && pte.PPN() != 0 {
			as.sw.Free(pte.PPN())
		}
		as.dir.Clear(va)
	}
	as.cm.Unlock()

	as.HeapPages -= shrink
	as.GapStart = as.heapEnd()
	return as.heapEnd(), 0
}
