// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

// Package goroutine_leak_check fails a test binary that leaves goroutines
// behind, typically output copiers of a child process that was never
// waited for.
package goroutine_leak_check

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"
)

var (
	headerRegex   = regexp.MustCompile(`^goroutine (\d+) (?:.* )?\[(.*)\]:$`)
	fileLineRegex = regexp.MustCompile(`^\s*(\S+):(\d+)`)
)

// Stragglers get this long to exit before they count as leaked.
var (
	GracePeriod  = 500 * time.Millisecond
	pollInterval = 20 * time.Millisecond
)

type frame struct {
	Func string
	File string
	Line int
}

type goroutine struct {
	ID        int
	State     string
	Frames    []frame
	CreatedBy string
}

// culprit is the innermost frame outside the standard library, if any.
func (g *goroutine) culprit() *frame {
	for i := range g.Frames {
		if !isStdlib(g.Frames[i].Func) {
			return &g.Frames[i]
		}
	}
	return nil
}

func (g *goroutine) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "goroutine %d [%s]", g.ID, g.State)
	if f := g.culprit(); f != nil {
		fmt.Fprintf(&b, " %s:%d %s", f.File, f.Line, f.Func)
	}
	for _, f := range g.Frames {
		fmt.Fprintf(&b, "\n    %s\n        %s:%d", f.Func, f.File, f.Line)
	}
	if g.CreatedBy != "" {
		fmt.Fprintf(&b, "\n    created by %s", g.CreatedBy)
	}
	return b.String()
}

// isStdlib tells standard library functions apart by their import path: the
// first element of a third-party path is a domain name.
func isStdlib(fn string) bool {
	return !strings.Contains(fn, "/") || !strings.Contains(path.Dir(fn), ".")
}

// funcName strips the argument list from a stack frame line.
func funcName(line string) string {
	if idx := strings.LastIndex(line, "("); idx > 0 {
		return line[:idx]
	}
	return line
}

// parseStacks parses the output of runtime.Stack with all goroutines.
func parseStacks(dump string) ([]goroutine, error) {
	var routines []goroutine
	for _, block := range strings.Split(strings.TrimSpace(dump), "\n\n") {
		lines := strings.Split(block, "\n")
		m := headerRegex.FindStringSubmatch(lines[0])
		if m == nil {
			return nil, fmt.Errorf("cannot parse goroutine header %q", lines[0])
		}
		id, err := strconv.Atoi(m[1])
		if err != nil {
			return nil, fmt.Errorf("cannot parse goroutine id %q: %w", m[1], err)
		}
		g := goroutine{ID: id, State: m[2]}

		for i := 1; i < len(lines); i++ {
			line := lines[i]
			switch {
			case strings.HasPrefix(line, "created by "):
				g.CreatedBy = strings.TrimPrefix(line, "created by ")
				if idx := strings.Index(g.CreatedBy, " in goroutine "); idx >= 0 {
					g.CreatedBy = g.CreatedBy[:idx]
				}
				i++
			case strings.HasPrefix(line, "..."):
				// elided frames
			case i+1 < len(lines):
				f := frame{Func: funcName(line)}
				if fl := fileLineRegex.FindStringSubmatch(lines[i+1]); fl != nil {
					f.File = filepath.Base(fl[1])
					f.Line, _ = strconv.Atoi(fl[2])
					i++
				}
				g.Frames = append(g.Frames, f)
			}
		}
		routines = append(routines, g)
	}
	return routines, nil
}

func whitelisted(fn string, funcWhitelist []string) bool {
	for _, pattern := range funcWhitelist {
		if matched, _ := path.Match(pattern, fn); matched {
			return true
		}
	}
	return false
}

// CheckLeakedGoRoutines reports every goroutine, other than the calling one,
// that runs code outside the standard library. Functions matching one of the
// funcWhitelist patterns (path.Match syntax) are not reported.
func CheckLeakedGoRoutines(funcWhitelist ...string) error {
	_, err := checkLeakedGoRoutines(funcWhitelist...)
	return err
}

func checkLeakedGoRoutines(funcWhitelist ...string) (string, error) {
	buf := make([]byte, 1<<20)
	for {
		n := runtime.Stack(buf, true)
		if n < len(buf) {
			buf = buf[:n]
			break
		}
		buf = make([]byte, 2*len(buf))
	}
	dump := string(buf)

	routines, err := parseStacks(dump)
	if err != nil {
		return dump, err
	}

	var leaked []string
	// the first goroutine is the one running this check
	for i := 1; i < len(routines); i++ {
		f := routines[i].culprit()
		if f == nil || whitelisted(f.Func, funcWhitelist) {
			continue
		}
		leaked = append(leaked, routines[i].String())
	}
	if len(leaked) > 0 {
		sort.Strings(leaked)
		return dump, fmt.Errorf("leaked goroutines:\n  %s", strings.Join(leaked, "\n  "))
	}
	return dump, nil
}

// LeakCheckingTestMain runs the tests and then fails the binary if
// goroutines are still running once GracePeriod has passed.
func LeakCheckingTestMain(m *testing.M, funcWhitelist ...string) {
	ret := m.Run()
	if ret == 0 {
		var err error
		for deadline := time.Now().Add(GracePeriod); ; {
			if err = CheckLeakedGoRoutines(funcWhitelist...); err == nil || time.Now().After(deadline) {
				break
			}
			time.Sleep(pollInterval)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s\n", err)
			ret = 1
		}
	}
	os.Exit(ret)
}
