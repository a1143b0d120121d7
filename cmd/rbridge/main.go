// rbridge CLI - starts a bridge engine from rbridge.toml and runs self-checks
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/tliron/commonlog"

	"github.com/chazu/rbridge/bridge"
	"github.com/chazu/rbridge/config"

	_ "github.com/tliron/commonlog/simple"
)

var log = commonlog.GetLogger("rbridge.cmd")

type check struct {
	name string
	fn   func(s *bridge.Session) error
}

func main() {
	configDir := flag.String("config", "", "Directory holding rbridge.toml (default: search upward from the working directory)")
	verbose := flag.Bool("v", false, "Verbose output")
	torture := flag.Bool("torture", false, "Collect before every allocation")
	entries := flag.Int("n", 100, "Number of bindings in the environment check")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: rbridge [options]\n\n")
		fmt.Fprintf(os.Stderr, "Starts a bridge engine and runs the materialize/extract self-checks.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := loadConfig(*configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	verbosity := cfg.Log.Verbosity
	if *verbose {
		verbosity = max(verbosity, 2)
	}
	commonlog.Configure(verbosity, cfg.LogPath())

	heapCfg := cfg.HeapConfig()
	if *torture {
		heapCfg.Torture = true
	}
	heapCfg.OnFatal = func(msg string) {
		log.Criticalf("fatal heap error: %s", msg)
		os.Exit(2)
	}

	eng, err := bridge.Start(bridge.Options{Heap: heapCfg, EnvHashSize: cfg.Env.HashSize})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer eng.Stop()

	if *verbose {
		if cfg.Dir != "" {
			fmt.Printf("Config: %s\n", cfg.Dir)
		}
		fmt.Printf("Engine %s (torture=%v)\n", eng.ID(), heapCfg.Torture)
	}

	failed := 0
	for _, c := range checks(*entries) {
		start := time.Now()
		err := eng.RunExclusively(func(s *bridge.Session) {
			if err := c.fn(s); err != nil {
				panic(err)
			}
		})
		if err != nil {
			failed++
			fmt.Printf("FAIL %-24s %v\n", c.name, err)
			continue
		}
		fmt.Printf("ok   %-24s %v\n", c.name, time.Since(start).Round(time.Microsecond))
	}
	if err := storeCheck(eng); err != nil {
		failed++
		fmt.Printf("FAIL %-24s %v\n", "promoted handle", err)
	} else {
		fmt.Printf("ok   %-24s\n", "promoted handle")
	}

	if _, err := eng.CollectGarbage(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	st, err := eng.Stats()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("\nallocations %d, collections %d, freed %d, live %d\n",
		st.Allocations, st.Collections, st.Freed, st.Live)
	fmt.Printf("protects %d, unprotects %d, max depth %d, depth %d, precious %d\n",
		st.Protects, st.Unprotects, st.MaxProtectDepth, st.ProtectDepth, st.Precious)

	if st.ProtectDepth != 0 {
		failed++
		fmt.Println("FAIL protection stack is unbalanced")
	}
	if failed > 0 {
		fmt.Printf("%d check(s) failed\n", failed)
		eng.Stop()
		os.Exit(1)
	}
}

func loadConfig(dir string) (*config.Config, error) {
	if dir != "" {
		return config.Load(dir)
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	return config.FindAndLoad(wd)
}

func checks(n int) []check {
	return []check{
		{"call expression", checkCall},
		{"pairlist", checkPairlist},
		{"environment of " + strconv.Itoa(n), func(s *bridge.Session) error { return checkEnv(s, n) }},
		{"symbol interning", checkSymbols},
		{"primitive fallback", checkPrimitive},
		{"empty sequences", checkEmpty},
	}
}

func checkCall(s *bridge.Session) error {
	want := bridge.Call("xyz", bridge.Integers{1}, bridge.Integers{2})
	h := s.Materialize(want)
	defer s.Release(h)

	if !h.IsLanguage() {
		return fmt.Errorf("materialized a %s, want language", h.Type())
	}
	if n := s.Len(h); n != 3 {
		return fmt.Errorf("length %d, want 3", n)
	}
	got, ok := s.AsLang(h)
	if !ok {
		return errors.New("AsLang did not match")
	}
	defer got.Release()
	for i := range want {
		if !s.Identical(want[i], got[i]) {
			return fmt.Errorf("element %d differs", i)
		}
	}
	return nil
}

func checkPairlist(s *bridge.Session) error {
	want := bridge.Pairlist{
		{Name: "x", Value: bridge.Doubles{1.5}},
		{Value: bridge.Strings{"untagged"}},
		{Name: "y", Value: bridge.Sym("z")},
	}
	h := s.Materialize(want)
	defer s.Release(h)

	got, ok := s.AsPairlist(h)
	if !ok {
		return fmt.Errorf("AsPairlist did not match a %s", h.Type())
	}
	defer got.Release()
	if len(got) != len(want) {
		return fmt.Errorf("extracted %d entries, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Name != want[i].Name || !s.Identical(want[i].Value, got[i].Value) {
			return fmt.Errorf("entry %d differs", i)
		}
	}
	return nil
}

func checkEnv(s *bridge.Session, n int) error {
	bindings := make(map[string]bridge.Value, n)
	for i := 0; i < n; i++ {
		bindings["v"+strconv.Itoa(i)] = bridge.Integers{int32(i)}
	}
	h := s.Materialize(bridge.Env{NamesAndValues: bindings})
	defer s.Release(h)

	env, ok := s.AsEnvironment(h)
	if !ok {
		return fmt.Errorf("AsEnvironment did not match a %s", h.Type())
	}
	defer env.Release()
	if len(env.NamesAndValues) != n {
		return fmt.Errorf("extracted %d bindings, want %d", len(env.NamesAndValues), n)
	}
	for name, want := range bindings {
		got, ok := env.NamesAndValues[name]
		if !ok {
			return fmt.Errorf("binding %s missing", name)
		}
		if !s.Identical(want, got) {
			return fmt.Errorf("binding %s differs", name)
		}
	}
	return nil
}

func checkSymbols(s *bridge.Session) error {
	a := s.Materialize(bridge.Sym("interned"))
	b := s.Materialize(bridge.Sym("interned"))
	defer s.Release(a)
	defer s.Release(b)
	if !a.IsSymbol() || a.Object() != b.Object() {
		return errors.New("the same text produced two symbols")
	}
	return nil
}

func checkPrimitive(s *bridge.Session) error {
	h := s.Materialize(bridge.Primitive("no_such_builtin"))
	defer s.Release(h)
	if !h.IsNull() {
		return fmt.Errorf("unknown builtin materialized a %s, want NULL", h.Type())
	}
	p := s.Materialize(bridge.Primitive("length"))
	defer s.Release(p)
	if !p.IsPrimitive() {
		return fmt.Errorf("length materialized a %s, want a builtin", p.Type())
	}
	return nil
}

func checkEmpty(s *bridge.Session) error {
	for _, v := range []bridge.Value{bridge.Lang{}, bridge.Pairlist{}, bridge.List{}, bridge.Expr{}} {
		h := s.Materialize(v)
		n := s.Len(h)
		s.Release(h)
		if n != 0 {
			return fmt.Errorf("empty %T has length %d", v, n)
		}
	}
	return nil
}

func storeCheck(eng *bridge.Engine) error {
	store := bridge.NewHandleStore(eng)
	stop := store.StartSweeper(time.Minute, 10*time.Minute)
	defer stop()

	h, err := eng.Materialize(bridge.List{bridge.Strings{"kept"}})
	if err != nil {
		return err
	}
	id, err := store.Promote(h, "self-check")
	h.Release()
	if err != nil {
		return err
	}
	defer store.ReleaseOwner("self-check")

	if _, err := eng.CollectGarbage(); err != nil {
		return err
	}
	got, ok := store.Lookup(id)
	if !ok {
		return fmt.Errorf("%s not found", id)
	}
	if !got.Equal(bridge.List{bridge.Strings{"kept"}}) {
		return errors.New("promoted object changed across a collection")
	}
	return nil
}
