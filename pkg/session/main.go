package session

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/fusekit/fusekit/pkg/logging"
)

// Version is stamped by the build; --version prints it.
var Version = "dev"

// Configurer is implemented by filesystems that need a setup step between
// mount and run, typically to finish wiring against the now-live session.
// A failure aborts startup with exit code 3.
type Configurer interface {
	Configure(s *Session) error
}

// stringList collects repeated flag occurrences.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// Main is the whole CLI surface of a filesystem binary: it parses flags,
// mounts fs at the named mountpoint, and serves until unmounted.
//
//	func main() { os.Exit(session.Main(os.Args, myFS)) }
//
// Exit codes: 0 on success or after --help/--version, 2 on argument or
// mount failure, 3 when the filesystem's Configure hook fails.
func Main(args []string, fs interface{}) int {
	if len(args) == 0 {
		args = []string{"fusekit"}
	}
	fl := flag.NewFlagSet(args[0], flag.ContinueOnError)

	var mountArgs stringList
	fl.Var(&mountArgs, "o", "mount options, comma separated (repeatable)")
	var (
		foreground = fl.Bool("f", false, "stay in the foreground (always on; accepted for mount compatibility)")
		single     = fl.Bool("s", false, "serve single-threaded")
		debug      = fl.Bool("d", false, "log every operation")
		bridgeName = fl.String("bridge", "", "bridge backend (default: $FUSEKIT_BRIDGE, then the platform default)")
		version    = fl.Bool("version", false, "print the version and exit")
	)
	fl.Usage = func() {
		fmt.Fprintf(fl.Output(), "usage: %s [flags] mountpoint\n", fl.Name())
		fl.PrintDefaults()
	}

	if err := fl.Parse(args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *version {
		fmt.Printf("%s %s\n", fl.Name(), Version)
		return 0
	}
	if fl.NArg() != 1 {
		fl.Usage()
		return 2
	}
	_ = *foreground // never daemonizes; the flag exists for mount(8) compatibility

	logCfg := logging.DefaultConfig()
	if *debug {
		logCfg.Level = logging.DEBUG
	}

	opts := []Option{
		WithLogger(logging.New(logCfg)),
		WithBridge(*bridgeName),
		WithSingleThread(*single),
		WithDebug(*debug),
	}
	for _, arg := range mountArgs {
		opts = append(opts, WithOptions(arg))
	}

	s, err := New(fs, opts...)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	ctx := context.Background()
	if err := s.Mount(ctx, fl.Arg(0)); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	if c, ok := fs.(Configurer); ok {
		if err := c.Configure(s); err != nil {
			fmt.Fprintf(os.Stderr, "configure: %v\n", err)
			_ = s.Close()
			return 3
		}
	}

	if err := s.Run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	return 0
}
