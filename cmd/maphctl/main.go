// maphctl is a command-line front end for maph.DB: create a new
// store, get/set/remove individual keys, rebuild its perfect-hash
// region, and report occupancy stats.
package main

import (
	"fmt"
	"os"
	"strconv"

	flag "github.com/opencoff/pflag"

	"github.com/opencoff/maph"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "create":
		cmdCreate(args)
	case "get":
		cmdGet(args)
	case "set":
		cmdSet(args)
	case "rm":
		cmdRemove(args)
	case "optimize":
		cmdOptimize(args)
	case "stats":
		cmdStats(args)
	default:
		warn("unknown command %q", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `maphctl - manage a maph key/value store

Usage:
  maphctl create  [options] FILE
  maphctl get     FILE KEY
  maphctl set     FILE KEY VALUE
  maphctl rm      FILE KEY
  maphctl optimize FILE
  maphctl stats   FILE
`)
}

func cmdCreate(args []string) {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	slots := fs.Uint64P("slots", "n", 1024, "Initial open-addressing slot `count`")
	maxProbes := fs.IntP("max-probes", "p", 10, "Maximum probe sequence `length`")
	noJournal := fs.BoolP("no-journal", "J", false, "Disable key journaling (Optimize will be unavailable)")
	algo := fs.StringP("algo", "a", "chd", "Perfect-hash `algorithm` used by Optimize: chd, recsplit, bbhash, pthash, fch")
	fs.Parse(args)

	rest := fs.Args()
	if len(rest) != 1 {
		die("create: expected FILE argument\n")
	}

	cfg := maph.DefaultConfig()
	cfg.SlotCount = *slots
	cfg.MaxProbes = *maxProbes
	cfg.EnableJournal = !*noJournal

	a, err := parseAlgo(*algo)
	if err != nil {
		die("create: %s", err)
	}
	cfg.Algorithm = a

	db, err := maph.Create(rest[0], cfg)
	if err != nil {
		die("create: %s", err)
	}
	defer db.Close()

	fmt.Printf("created %s: %d slots\n", rest[0], cfg.SlotCount)
}

func cmdGet(args []string) {
	if len(args) != 2 {
		die("get: usage: maphctl get FILE KEY\n")
	}
	db, err := maph.Open(args[0], true)
	if err != nil {
		die("get: %s", err)
	}
	defer db.Close()

	v, err := db.Get([]byte(args[1]))
	if err != nil {
		die("get: %s", err)
	}
	os.Stdout.Write(v)
	os.Stdout.WriteString("\n")
}

func cmdSet(args []string) {
	if len(args) != 3 {
		die("set: usage: maphctl set FILE KEY VALUE\n")
	}
	db, err := maph.Open(args[0], false)
	if err != nil {
		die("set: %s", err)
	}
	defer db.Close()

	if err := db.Set([]byte(args[1]), []byte(args[2])); err != nil {
		die("set: %s", err)
	}
}

func cmdRemove(args []string) {
	if len(args) != 2 {
		die("rm: usage: maphctl rm FILE KEY\n")
	}
	db, err := maph.Open(args[0], false)
	if err != nil {
		die("rm: %s", err)
	}
	defer db.Close()

	if err := db.Remove([]byte(args[1])); err != nil {
		die("rm: %s", err)
	}
}

func cmdOptimize(args []string) {
	if len(args) != 1 {
		die("optimize: usage: maphctl optimize FILE\n")
	}
	db, err := maph.Open(args[0], false)
	if err != nil {
		die("optimize: %s", err)
	}
	defer db.Close()

	if err := db.Optimize(); err != nil {
		die("optimize: %s", err)
	}
	fmt.Printf("%s: optimized, %d keys, load factor %.4f\n", args[0], db.Size(), db.LoadFactor())
}

func cmdStats(args []string) {
	if len(args) != 1 {
		die("stats: usage: maphctl stats FILE\n")
	}
	db, err := maph.Open(args[0], true)
	if err != nil {
		die("stats: %s", err)
	}
	defer db.Close()

	fmt.Printf("%s: %d keys, load factor %s\n", args[0], db.Size(), strconv.FormatFloat(db.LoadFactor(), 'f', 4, 64))
}

func parseAlgo(s string) (maph.Algorithm, error) {
	switch s {
	case "chd":
		return maph.AlgoCHD, nil
	case "recsplit":
		return maph.AlgoRecSplit, nil
	case "bbhash":
		return maph.AlgoBBHash, nil
	case "pthash":
		return maph.AlgoPTHash, nil
	case "fch":
		return maph.AlgoFCH, nil
	default:
		return 0, fmt.Errorf("unknown algorithm %q", s)
	}
}

func die(f string, v ...interface{}) {
	warn(f, v...)
	os.Exit(1)
}

func warn(f string, v ...interface{}) {
	z := fmt.Sprintf("maphctl: %s", f)
	s := fmt.Sprintf(z, v...)
	if n := len(s); n == 0 || s[n-1] != '\n' {
		s += "\n"
	}
	os.Stderr.WriteString(s)
}
