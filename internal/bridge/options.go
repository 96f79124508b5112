package bridge

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fusekit/fusekit/pkg/ops"
)

// MountOptions is the typed form of the mount option surface shared by all
// backends. Options a backend cannot express are ignored by it; options
// nobody recognizes ride along in Extra.
type MountOptions struct {
	FSName  string
	Subtype string
	VolName string

	ReadOnly           bool
	AllowOther         bool
	AllowRoot          bool
	DefaultPermissions bool
	Debug              bool

	DirectIO    bool
	KernelCache bool

	MaxWrite     int
	MaxReadahead int

	AttrTimeout     time.Duration
	EntryTimeout    time.Duration
	NegativeTimeout time.Duration

	Extra []string
}

// NewMountOptions returns the defaults backends assume when the caller
// passes nothing.
func NewMountOptions() *MountOptions {
	return &MountOptions{
		FSName:       "fusekit",
		MaxWrite:     128 << 10,
		AttrTimeout:  time.Second,
		EntryTimeout: time.Second,
	}
}

// Parse applies one -o argument, a comma-separated list of flags and
// key=value pairs in the mount(8) grammar, onto o.
func (o *MountOptions) Parse(arg string) error {
	for _, opt := range strings.Split(arg, ",") {
		opt = strings.TrimSpace(opt)
		if opt == "" {
			continue
		}
		key, val, hasVal := strings.Cut(opt, "=")
		var err error
		switch key {
		case "ro":
			o.ReadOnly = true
		case "rw":
			o.ReadOnly = false
		case "allow_other":
			o.AllowOther = true
		case "allow_root":
			o.AllowRoot = true
		case "default_permissions":
			o.DefaultPermissions = true
		case "debug":
			o.Debug = true
		case "direct_io":
			o.DirectIO = true
		case "kernel_cache":
			o.KernelCache = true
		case "fsname":
			o.FSName, err = needValue(key, val, hasVal)
		case "subtype":
			o.Subtype, err = needValue(key, val, hasVal)
		case "volname":
			o.VolName, err = needValue(key, val, hasVal)
		case "max_write":
			o.MaxWrite, err = intValue(key, val, hasVal)
		case "max_readahead":
			o.MaxReadahead, err = intValue(key, val, hasVal)
		case "attr_timeout":
			o.AttrTimeout, err = timeoutValue(key, val, hasVal)
		case "entry_timeout":
			o.EntryTimeout, err = timeoutValue(key, val, hasVal)
		case "negative_timeout":
			o.NegativeTimeout, err = timeoutValue(key, val, hasVal)
		default:
			o.Extra = append(o.Extra, opt)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func needValue(key, val string, hasVal bool) (string, error) {
	if !hasVal || val == "" {
		return "", fmt.Errorf("bridge: option %s requires a value", key)
	}
	return val, nil
}

func intValue(key, val string, hasVal bool) (int, error) {
	s, err := needValue(key, val, hasVal)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("bridge: option %s: bad value %q", key, val)
	}
	return n, nil
}

// timeoutValue accepts the FUSE convention of (possibly fractional)
// seconds, or a Go duration string.
func timeoutValue(key, val string, hasVal bool) (time.Duration, error) {
	s, err := needValue(key, val, hasVal)
	if err != nil {
		return 0, err
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		if secs < 0 {
			return 0, fmt.Errorf("bridge: option %s: bad value %q", key, val)
		}
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("bridge: option %s: bad value %q", key, val)
	}
	return d, nil
}

// Args renders the options back into -o form, mainly for debug logging and
// for backends driven by argv.
func (o *MountOptions) Args() []string {
	var opts []string
	add := func(s string) { opts = append(opts, s) }

	if o.FSName != "" {
		add("fsname=" + o.FSName)
	}
	if o.Subtype != "" {
		add("subtype=" + o.Subtype)
	}
	if o.VolName != "" {
		add("volname=" + o.VolName)
	}
	if o.ReadOnly {
		add("ro")
	}
	if o.AllowOther {
		add("allow_other")
	}
	if o.AllowRoot {
		add("allow_root")
	}
	if o.DefaultPermissions {
		add("default_permissions")
	}
	if o.Debug {
		add("debug")
	}
	if o.DirectIO {
		add("direct_io")
	}
	if o.KernelCache {
		add("kernel_cache")
	}
	if o.MaxWrite > 0 {
		add("max_write=" + strconv.Itoa(o.MaxWrite))
	}
	if o.MaxReadahead > 0 {
		add("max_readahead=" + strconv.Itoa(o.MaxReadahead))
	}
	if o.AttrTimeout > 0 {
		add(fmt.Sprintf("attr_timeout=%g", o.AttrTimeout.Seconds()))
	}
	if o.EntryTimeout > 0 {
		add(fmt.Sprintf("entry_timeout=%g", o.EntryTimeout.Seconds()))
	}
	if o.NegativeTimeout > 0 {
		add(fmt.Sprintf("negative_timeout=%g", o.NegativeTimeout.Seconds()))
	}
	opts = append(opts, o.Extra...)

	var args []string
	for _, opt := range opts {
		args = append(args, "-o", opt)
	}
	return args
}

// InitConn builds the negotiated-connection description announced to the
// filesystem during init.
func (o *MountOptions) InitConn() *ops.ConnInfo {
	return &ops.ConnInfo{
		ProtoMajor:   7,
		ProtoMinor:   31,
		MaxWrite:     uint32(o.MaxWrite),
		MaxReadahead: uint32(o.MaxReadahead),
	}
}

// InitConfig builds the init configuration the filesystem may adjust.
func (o *MountOptions) InitConfig() *ops.InitConfig {
	return &ops.InitConfig{
		DirectIO:        o.DirectIO,
		KernelCache:     o.KernelCache,
		AttrTimeout:     o.AttrTimeout.Seconds(),
		EntryTimeout:    o.EntryTimeout.Seconds(),
		NegativeTimeout: o.NegativeTimeout.Seconds(),
	}
}
