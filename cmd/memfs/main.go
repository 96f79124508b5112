// Command memfs serves an in-memory filesystem.
//
// The tree starts empty apart from a small sample, or is bulk-loaded
// from a YAML manifest where mappings become directories and scalars
// become file contents. When the configuration names an S3 bucket, the
// bucket is grafted into the tree under /s3.
//
// Configuration comes from the usual fusekit sources: the file named by
// -config (default ~/.config/fusekit/config.yaml), FUSEKIT_* environment
// variables, and flags, later sources winning.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/fusekit/fusekit/internal/cache"
	"github.com/fusekit/fusekit/internal/circuit"
	"github.com/fusekit/fusekit/internal/config"
	"github.com/fusekit/fusekit/internal/retry"
	"github.com/fusekit/fusekit/internal/storage/s3"
	"github.com/fusekit/fusekit/pkg/logging"
	"github.com/fusekit/fusekit/pkg/ops"
	"github.com/fusekit/fusekit/pkg/session"
	"github.com/fusekit/fusekit/pkg/vfs"
)

func main() { os.Exit(run(os.Args)) }

type optList []string

func (l *optList) String() string { return strings.Join(*l, ",") }

func (l *optList) Set(v string) error {
	*l = append(*l, v)
	return nil
}

func run(args []string) int {
	fl := flag.NewFlagSet(args[0], flag.ContinueOnError)
	var mountArgs optList
	fl.Var(&mountArgs, "o", "mount options, comma separated (repeatable)")
	var (
		configPath = fl.String("config", "", "configuration file (default: the fusekit config location)")
		manifest   = fl.String("manifest", "", "YAML manifest to load the tree from")
		maxBytes   = fl.Int64("max-bytes", 0, "cap on file bytes held (0 = unlimited)")
		maxNodes   = fl.Int64("max-nodes", 0, "cap on node count (0 = unlimited)")
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
		if err == flag.ErrHelp {
			return 0
		}
		return 2
	}
	if *version {
		fmt.Printf("memfs %s\n", session.Version)
		return 0
	}
	if fl.NArg() != 1 {
		fl.Usage()
		return 2
	}
	mountpoint := fl.Arg(0)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	if *debug {
		cfg.Logging.Level = "DEBUG"
	}
	if *single {
		cfg.Session.SingleThread = true
	}
	if *bridgeName != "" {
		cfg.Session.Bridge = *bridgeName
	}
	if len(mountArgs) > 0 {
		merged := append(optList{}, mountArgs...)
		if cfg.Session.Options != "" {
			merged = append(optList{cfg.Session.Options}, merged...)
		}
		cfg.Session.Options = merged.String()
	}

	log, err := cfg.Logger()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	fsys := vfs.NewMemFS(*maxBytes, *maxNodes, vfs.WithLogger(log))
	if *manifest != "" {
		data, err := os.ReadFile(*manifest)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 2
		}
		if err := fsys.BuildYAML(data); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 2
		}
	} else {
		_ = fsys.Build(map[string]interface{}{
			"README": "in-memory filesystem served by fusekit\n",
			"tmp":    map[string]interface{}{},
		})
	}

	ctx := context.Background()
	if cfg.StoreEnabled() {
		store, err := s3.New(ctx, storeConfig(&cfg.Store, log))
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 2
		}
		defer store.Close()
		if err := fsys.Build(map[string]interface{}{
			"s3": vfs.NewObjectDir(ops.Background(), store, ""),
		}); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 2
		}
	}

	s, err := session.New(fsys,
		session.WithConfig(cfg),
		session.WithLogger(log),
		session.WithDebug(*debug),
	)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	if err := s.Mount(ctx, mountpoint); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	if err := s.Run(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	return 0
}

// storeConfig renders the store section into the s3 package's
// configuration. The prefix is normalized to end in a slash.
func storeConfig(sc *config.StoreConfig, log *logging.Logger) s3.Config {
	prefix := sc.Prefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	out := s3.Config{
		Bucket:          sc.Bucket,
		Prefix:          prefix,
		Region:          sc.Region,
		Endpoint:        sc.Endpoint,
		Profile:         sc.Profile,
		Anonymous:       sc.Anonymous,
		PathStyle:       sc.PathStyle,
		AccessKeyID:     sc.AccessKeyID,
		SecretAccessKey: sc.SecretAccessKey,
		SessionToken:    sc.SessionToken,
		Retry: retry.Config{
			MaxAttempts:  sc.Retry.MaxAttempts,
			InitialDelay: sc.Retry.InitialDelay,
			MaxDelay:     sc.Retry.MaxDelay,
			Multiplier:   sc.Retry.Multiplier,
			Jitter:       sc.Retry.Jitter,
		},
		Logger: log,
	}
	if sc.Cache.Enabled {
		out.Cache = &cache.Config{
			MaxSize:    sc.Cache.MaxSize,
			MaxEntries: sc.Cache.MaxEntries,
			TTL:        sc.Cache.TTL,
		}
	}
	if sc.Breaker.Enabled {
		out.Breaker = &circuit.Config{
			FailureThreshold: sc.Breaker.FailureThreshold,
			MaxRequests:      sc.Breaker.MaxRequests,
			Interval:         sc.Breaker.Interval,
			Timeout:          sc.Breaker.Timeout,
		}
	}
	return out
}
