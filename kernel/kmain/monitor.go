package kmain

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"rvos/kernel"
	"rvos/kernel/mm/pmm"
	"rvos/kernel/mm/vmm"
	"rvos/kernel/task"
	"rvos/kernel/trap"
)

// Monitor executes console commands against a machine. Each command stands
// in for what the hart would do next: take a trap or touch user memory on
// behalf of the running task.
type Monitor struct {
	machine  *Machine
	out      io.Writer
	lastTick uint64
}

// NewMonitor returns a monitor writing its replies to out.
func NewMonitor(machine *Machine, out io.Writer) *Monitor {
	return &Monitor{machine: machine, out: out, lastTick: machine.Clock.Milliseconds()}
}

// Run executes the commands read from in until quit, end of input or halt.
func (mon *Monitor) Run(in io.Reader) {
	scanner := bufio.NewScanner(in)
	for mon.Prompt(); scanner.Scan(); mon.Prompt() {
		if !mon.Execute(scanner.Text()) {
			return
		}
	}
}

// Prompt prints the command prompt.
func (mon *Monitor) Prompt() {
	fmt.Fprint(mon.out, "rvos> ")
}

// Execute runs one command line and returns false once the monitor should
// stop. A kernel panic raised by the command halts the machine.
func (mon *Monitor) Execute(line string) (running bool) {
	defer func() {
		if r := recover(); r != nil {
			kerr, ok := r.(*kernel.Error)
			if !ok {
				panic(r)
			}
			fmt.Fprintf(mon.out, "kernel halted: %v\n", kerr)
			running = false
		}
	}()

	fields := strings.Fields(line)
	if len(fields) == 0 {
		return true
	}

	mon.preempt()

	var err error
	switch cmd, args := fields[0], fields[1:]; cmd {
	case "quit", "exit":
		return false
	case "help":
		mon.help()
	case "ps":
		mon.ps()
	case "apps":
		mon.apps()
	case "xp":
		err = mon.examinePhys(args)
	case "mem":
		alloc := pmm.Allocator()
		fmt.Fprintf(mon.out, "frames: %d free / %d total\n", alloc.FreeCount(), alloc.TotalCount())
	case "regs":
		err = mon.regs()
	case "tick":
		trap.Timer(mon.machine.Manager)
		mon.lastTick = mon.machine.Clock.Milliseconds()
	case "syscall":
		err = mon.syscall(args)
	case "peek":
		err = mon.peek(args)
	case "poke":
		err = mon.poke(args)
	default:
		err = fmt.Errorf("unknown command %q; try help", cmd)
	}

	if err != nil {
		fmt.Fprintf(mon.out, "error: %v\n", err)
	}

	if halted, code := mon.machine.Manager.Halted(); halted {
		fmt.Fprintf(mon.out, "init process exited with code %d; machine halted\n", code)
		return false
	}
	return true
}

// preempt delivers a timer trap once the timeslice has elapsed.
func (mon *Monitor) preempt() {
	now := mon.machine.Clock.Milliseconds()
	if now-mon.lastTick < uint64(mon.machine.Config.TimesliceMs) {
		return
	}
	mon.lastTick = now
	trap.Timer(mon.machine.Manager)
}

func (mon *Monitor) help() {
	fmt.Fprint(mon.out, `ps                         list tasks
mem                        show frame usage
apps                       list loadable applications
xp <va> <len>              dump the physical bytes behind <va> (one page at most)
regs                       dump the trap context of the running task
tick                       deliver a timer interrupt
syscall <id> [a0 [a1 [a2]]] issue a syscall from the running task
peek <va> <len>            user load from the running task
poke <va> <hex bytes>      user store from the running task
quit                       stop the machine
`)
}

func (mon *Monitor) ps() {
	var (
		cur = mon.machine.Manager.Current()
		tw  = tabwriter.NewWriter(mon.out, 0, 4, 2, ' ', 0)
	)

	fmt.Fprintln(tw, "PID\tPPID\tSTATUS\tPRIO\tPASS\tCHILDREN\t")
	for _, info := range mon.machine.Manager.Tasks() {
		ppid := "-"
		if info.HasParent {
			ppid = strconv.FormatUint(uint64(info.ParentPid), 10)
		}
		marker := ""
		if cur != nil && cur.Pid() == info.Pid {
			marker = "*"
		}
		fmt.Fprintf(tw, "%d%s\t%s\t%s\t%d\t%d\t%d\t\n", info.Pid, marker, ppid, info.Status, info.Priority, info.Pass, info.Children)
	}
	tw.Flush()
}

// apps lists the images of loaders that can enumerate them.
func (mon *Monitor) apps() {
	lister, ok := mon.machine.Loader.(interface{ Names() []string })
	if !ok {
		fmt.Fprintln(mon.out, "loader cannot list applications")
		return
	}
	for _, name := range lister.Names() {
		fmt.Fprintln(mon.out, name)
	}
}

// examinePhys translates va through the running task's page table and dumps
// the bytes through the kernel direct map, ignoring user permissions.
func (mon *Monitor) examinePhys(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: xp <va> <len>")
	}

	va, err := parseWord(args[0])
	if err != nil {
		return err
	}
	length, err := parseWord(args[1])
	if err != nil {
		return err
	}

	cur, err := mon.current()
	if err != nil {
		return err
	}

	in := cur.Acquire()
	physAddr, kerr := in.Space.TranslateVA(va)
	cur.Release()
	if kerr != nil {
		return kerr
	}

	data, kerr := pmm.PhysicalMemory().Bytes(physAddr, length)
	if kerr != nil {
		return kerr
	}

	fmt.Fprintf(mon.out, "%#x -> %#x\n", va, physAddr)
	fmt.Fprint(mon.out, hex.Dump(data))
	return nil
}

func (mon *Monitor) current() (*task.TaskControlBlock, error) {
	cur := mon.machine.Manager.Current()
	if cur == nil {
		return nil, fmt.Errorf("no task is running")
	}
	return cur, nil
}

func (mon *Monitor) regs() error {
	cur, err := mon.current()
	if err != nil {
		return err
	}

	in := cur.Acquire()
	ctx := in.TrapContext()
	cur.Release()

	fmt.Fprintf(mon.out, "pid %d\n", cur.Pid())
	ctx.Print(mon.out)
	return nil
}

func parseWord(s string) (uintptr, error) {
	if strings.HasPrefix(s, "-") {
		v, err := strconv.ParseInt(s, 0, 64)
		return uintptr(v), err
	}
	v, err := strconv.ParseUint(s, 0, 64)
	return uintptr(v), err
}

// syscall loads a7 and a0..a2 of the running task and takes an ecall trap.
func (mon *Monitor) syscall(args []string) error {
	if len(args) == 0 || len(args) > 4 {
		return fmt.Errorf("usage: syscall <id> [a0 [a1 [a2]]]")
	}

	var words [4]uintptr
	for i, arg := range args {
		v, err := parseWord(arg)
		if err != nil {
			return err
		}
		words[i] = v
	}

	cur, err := mon.current()
	if err != nil {
		return err
	}

	in := cur.Acquire()
	ctx := in.TrapContext()
	ctx.X[task.RegA7] = uint64(words[0])
	ctx.X[task.RegA0] = uint64(words[1])
	ctx.X[task.RegA1] = uint64(words[2])
	ctx.X[task.RegA2] = uint64(words[3])
	in.SetTrapContext(ctx)
	cur.Release()

	result := trap.Syscall(mon.machine.Manager, mon.machine.Dispatcher)
	fmt.Fprintf(mon.out, "pid %d: syscall %d = %d\n", cur.Pid(), words[0], result)
	return nil
}

// access checks a user access of the running task and raises a page fault
// on behalf of the hart if it is not allowed.
func (mon *Monitor) access(va, length uintptr, perm vmm.MapPermission) (uintptr, bool, error) {
	cur, err := mon.current()
	if err != nil {
		return 0, false, err
	}

	in := cur.Acquire()
	token := in.Token()
	kerr := in.Space.CheckAccess(va, length, perm)
	cur.Release()

	if kerr != nil {
		fmt.Fprintf(mon.out, "pid %d: page fault at %#x\n", cur.Pid(), va)
		trap.PageFault(mon.machine.Manager, va)
		return 0, false, nil
	}
	return token, true, nil
}

func (mon *Monitor) peek(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: peek <va> <len>")
	}

	va, err := parseWord(args[0])
	if err != nil {
		return err
	}
	length, err := parseWord(args[1])
	if err != nil {
		return err
	}

	token, ok, err := mon.access(va, length, vmm.PermRead)
	if !ok {
		return err
	}

	data, kerr := vmm.CopyFromUser(token, va, length)
	if kerr != nil {
		return kerr
	}
	fmt.Fprint(mon.out, hex.Dump(data))
	return nil
}

func (mon *Monitor) poke(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: poke <va> <hex bytes>")
	}

	va, err := parseWord(args[0])
	if err != nil {
		return err
	}
	data, err := hex.DecodeString(args[1])
	if err != nil {
		return err
	}

	token, ok, err := mon.access(va, uintptr(len(data)), vmm.PermWrite)
	if !ok {
		return err
	}

	if kerr := vmm.CopyToUser(token, va, data); kerr != nil {
		return kerr
	}
	return nil
}
