// Command vmtrace drives the virtual memory subsystem end to end from a
// text trace of page touches, the way wechicken456's Go-Page-Replacement
// driver replays an access trace against a chosen replacement algorithm.
// Unlike that driver, vmtrace doesn't implement its own replacement policy —
// it exercises the real frame table, eviction engine, supplemental page
// table, loader, and stack grower in this module, one simulated process at
// a time, and prints the same kind of summary at the end.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"vmkernel/internal/addrspace"
	"vmkernel/internal/config"
	"vmkernel/internal/eviction"
	"vmkernel/internal/evictionprof"
	"vmkernel/internal/frametable"
	"vmkernel/internal/mem"
	"vmkernel/internal/metrics"
	"vmkernel/internal/pagedir"
	"vmkernel/internal/pagepool"
	"vmkernel/internal/swapdev"
	"vmkernel/internal/threadreg"
	"vmkernel/internal/vmerr"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s [-frames N] [-swap N] [-profile FILE] <tracefile>\n", os.Args[0])
	os.Exit(1)
}

// trace line grammar, one operation per line:
//
//	r <page>      read page <page> (decimal user page index)
//	w <page>      write page <page>
//	print         print a running summary
//	# comment     ignored
func main() {
	frames := flag.Int("frames", 8, "number of physical frames in the user pool")
	swapSlots := flag.Int("swap", 16, "number of swap slots")
	profilePath := flag.String("profile", "", "write an eviction-scan pprof profile here on exit")
	flag.Parse()

	if flag.NArg() != 1 {
		usage()
	}
	f, err := os.Open(flag.Arg(0))
	if err != nil {
		log.Fatalf("vmtrace: %v", err)
	}
	defer f.Close()

	cfg := config.Default()
	cfg.UserFrames = *frames
	cfg.SwapSlots = *swapSlots

	pool, err := pagepool.New(cfg.UserFrames)
	if err != nil {
		log.Fatalf("vmtrace: pagepool.New: %v", err)
	}
	defer pool.Close()

	ft := frametable.New()
	swap := swapdev.New(cfg.SwapSlots)
	reg := prometheus.NewRegistry()
	stats := metrics.New(reg)
	ft.SetMetrics(stats)
	prof := evictionprof.NewRecorder()

	threads := threadreg.New()
	spaces := addrspace.NewRegistry(threads)
	ev := eviction.New(ft, spaces, swap, pool, stats, prof)

	const caller vmerr.Tid = 1
	dir := pagedir.New()
	growthCeiling := mem.UserPage(cfg.StackCeilingPages)
	heuristic := func(upage mem.UserPage) bool { return upage < growthCeiling }
	space := addrspace.New(caller, dir, pool, pool, ft, ev, swap, heuristic)
	spaces.Put(space)

	runTrace(f, ft, dir, space, stats)

	fmt.Printf("frames in use: %d\n", ft.Len())
	fmt.Printf("eviction samples recorded: %d\n", prof.Len())

	if *profilePath != "" {
		out, err := os.Create(*profilePath)
		if err != nil {
			log.Fatalf("vmtrace: %v", err)
		}
		defer out.Close()
		if err := prof.WriteTo(out); err != nil {
			log.Fatalf("vmtrace: writing profile: %v", err)
		}
	}
}

func runTrace(f *os.File, ft *frametable.Table, dir pagedir.Directory, space *addrspace.Space, stats *metrics.Collectors) {
	ctx := context.Background()
	sc := bufio.NewScanner(f)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		switch fields[0] {
		case "print":
			fmt.Printf("[line %d] frames in use so far: %d\n", lineNo, ft.Len())
			continue
		case "r", "w":
			if len(fields) != 2 {
				log.Fatalf("vmtrace: line %d: expected <op> <page>", lineNo)
			}
		default:
			log.Fatalf("vmtrace: line %d: unknown op %q", lineNo, fields[0])
		}

		n, err := strconv.Atoi(fields[1])
		if err != nil {
			log.Fatalf("vmtrace: line %d: bad page number %q", lineNo, fields[1])
		}
		page := mem.UserPage(n)
		isWrite := fields[0] == "w"

		touch(ctx, dir, space, stats, page, isWrite, lineNo)
	}
	if err := sc.Err(); err != nil {
		log.Fatalf("vmtrace: reading trace: %v", err)
	}
}

// touch models what a real fault handler does: check whether the page is
// already mapped, and only call into the address space if it isn't — the
// address space itself has no business deciding that a PTE-present access
// isn't a fault (§4.D/§4.E only fire on an actual fault).
func touch(ctx context.Context, dir pagedir.Directory, space *addrspace.Space, stats *metrics.Collectors, page mem.UserPage, isWrite bool, lineNo int) {
	if _, present := dir.Lookup(page); present {
		dir.SetAccessed(page, true)
		if isWrite {
			dir.SetDirty(page, true)
		}
		return
	}

	if err := space.HandleFault(ctx, page); err != nil {
		log.Fatalf("vmtrace: line %d: fault on page %d unresolved: %v", lineNo, page, err)
	}
	kind := "stack"
	if entry, ok := space.SPT.Lookup(page); ok {
		kind = fmt.Sprintf("spte-kind-%d", entry.Kind)
	}
	if stats != nil {
		stats.PageFaults.WithLabelValues(kind).Inc()
	}
	if isWrite {
		dir.SetDirty(page, true)
	}
}
