package task

import (
	"rvos/kernel/mm/vmm"
	ksync "rvos/kernel/sync"
	"rvos/kernel/timer"

	log "github.com/sirupsen/logrus"
)

// passLess reports whether pass a is behind pass b. The difference is
// interpreted as signed so the order survives wraparound as long as no two
// passes drift more than half the counter range apart, which holds because
// every stride is at most BigStride/2.
func passLess(a, b uint64) bool {
	return int64(a-b) < 0
}

// Manager owns the ready set and the running task. Its state sits behind a
// single exclusive gate. Methods acquire task gates while holding it, so
// callers must not hold any task gate when calling into the manager.
type Manager struct {
	gate  *ksync.Exclusive[managerState]
	clock timer.Clock
}

type managerState struct {
	ready    []*TaskControlBlock
	current  *TaskControlBlock
	initProc *TaskControlBlock

	halted   bool
	haltCode int
}

// NewManager returns an empty manager that timestamps first runs with clock.
func NewManager(clock timer.Clock) *Manager {
	return &Manager{
		gate:  ksync.NewExclusive(managerState{}),
		clock: clock,
	}
}

// Clock returns the time source of the manager.
func (m *Manager) Clock() timer.Clock { return m.clock }

// Boot installs initProc as the root of the task tree and runs it.
func (m *Manager) Boot(initProc *TaskControlBlock) {
	st := m.gate.Acquire()
	st.initProc = initProc
	m.gate.Release()

	m.Add(initProc)
	m.RunNext()
}

// InitProc returns the root task.
func (m *Manager) InitProc() *TaskControlBlock {
	st := m.gate.Acquire()
	defer m.gate.Release()
	return st.initProc
}

// Current returns the running task or nil if the hart is idle.
func (m *Manager) Current() *TaskControlBlock {
	st := m.gate.Acquire()
	defer m.gate.Release()
	return st.current
}

// Halted reports whether the init process has exited, and its exit code.
func (m *Manager) Halted() (bool, int) {
	st := m.gate.Acquire()
	defer m.gate.Release()
	return st.halted, st.haltCode
}

// minPass returns the smallest pass among the ready and running tasks.
func (st *managerState) minPass() (uint64, bool) {
	var (
		min   uint64
		found bool
	)

	visit := func(t *TaskControlBlock) {
		in := t.Acquire()
		if !found || passLess(in.Pass, min) {
			min, found = in.Pass, true
		}
		t.Release()
	}

	for _, t := range st.ready {
		visit(t)
	}
	if st.current != nil {
		visit(st.current)
	}
	return min, found
}

// Add appends t to the ready set. A task that has never run starts at the
// smallest pass currently in the system so it neither starves the others
// nor gets starved by them.
func (m *Manager) Add(t *TaskControlBlock) {
	st := m.gate.Acquire()
	defer m.gate.Release()

	min, found := st.minPass()

	in := t.Acquire()
	if !in.HasRun && found {
		in.Pass = min
	}
	in.Status = StatusReady
	t.Release()

	st.ready = append(st.ready, t)
}

// RunNext makes the ready task with the smallest pass current, unless a task
// is already running. Ties go to the task that was added first. It returns
// the running task or nil when nothing is runnable.
func (m *Manager) RunNext() *TaskControlBlock {
	st := m.gate.Acquire()
	defer m.gate.Release()

	if st.current != nil || st.halted {
		return st.current
	}

	var (
		index = -1
		best  uint64
	)
	for i, t := range st.ready {
		in := t.Acquire()
		if index < 0 || passLess(in.Pass, best) {
			index, best = i, in.Pass
		}
		t.Release()
	}

	if index < 0 {
		log.Debug("task: no runnable task")
		return nil
	}

	next := st.ready[index]
	st.ready = append(st.ready[:index], st.ready[index+1:]...)

	in := next.Acquire()
	in.Status = StatusRunning
	in.Pass += in.Stride()
	if !in.HasRun {
		in.HasRun = true
		in.FirstRunMs = m.clock.Milliseconds()
	}
	token := in.Token()
	pass := in.Pass
	next.Release()

	st.current = next
	vmm.Activate(token)

	log.WithFields(log.Fields{"pid": next.pid, "pass": pass}).Debug("task: switched")
	return next
}

// SuspendCurrentAndRunNext moves the running task back to the ready set and
// picks the next one.
func (m *Manager) SuspendCurrentAndRunNext() {
	st := m.gate.Acquire()
	cur := st.current
	st.current = nil
	m.gate.Release()

	if cur == nil {
		return
	}

	m.Add(cur)
	m.RunNext()
}

// ExitCurrentAndRunNext turns the running task into a zombie with the given
// exit code, hands its children to the init process and picks the next
// task. When the init process itself exits the machine halts.
func (m *Manager) ExitCurrentAndRunNext(code int) {
	st := m.gate.Acquire()
	cur := st.current
	st.current = nil
	initProc := st.initProc
	m.gate.Release()

	if cur == nil {
		return
	}

	in := cur.Acquire()
	in.Status = StatusZombie
	in.ExitCode = code
	children := in.Children
	in.Children = nil
	in.Space.RecycleDataPages()
	cur.Release()

	log.WithFields(log.Fields{"pid": cur.pid, "code": code}).Info("task: exited")

	if cur == initProc {
		st = m.gate.Acquire()
		st.halted, st.haltCode = true, code
		m.gate.Release()

		log.WithFields(log.Fields{"code": code}).Info("task: init process exited; halting")
		return
	}

	for _, child := range children {
		ci := child.Acquire()
		ci.Parent = initProc
		child.Release()
	}

	ii := initProc.Acquire()
	ii.Children = append(ii.Children, children...)
	initProc.Release()

	m.RunNext()
}

// Info is a snapshot of one task for diagnostics.
type Info struct {
	Pid       uintptr
	ParentPid uintptr
	HasParent bool
	Status    Status
	Priority  uint64
	Pass      uint64
	ExitCode  int
	Children  int
}

// Tasks returns a snapshot of every task reachable from the init process in
// depth-first order.
func (m *Manager) Tasks() []Info {
	root := m.InitProc()
	if root == nil {
		return nil
	}

	var (
		infos []Info
		stack = []*TaskControlBlock{root}
	)

	for len(stack) > 0 {
		t := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		in := t.Acquire()
		info := Info{
			Pid:      t.pid,
			Status:   in.Status,
			Priority: in.Priority,
			Pass:     in.Pass,
			ExitCode: in.ExitCode,
			Children: len(in.Children),
		}
		if in.Parent != nil {
			info.ParentPid, info.HasParent = in.Parent.pid, true
		}
		for i := len(in.Children) - 1; i >= 0; i-- {
			stack = append(stack, in.Children[i])
		}
		t.Release()

		infos = append(infos, info)
	}
	return infos
}
